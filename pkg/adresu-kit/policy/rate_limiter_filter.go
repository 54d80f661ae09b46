package policy

import (
	"context"
	"fmt"
	"strconv"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/nbd-wtf/go-nostr"
	"golang.org/x/time/rate"

	"github.com/lessucettes/adresu-authz/pkg/adresu-kit/config"
)

const (
	RateLimiterFilterName = "RateLimiterFilter"

	defaultLimiterCacheSize = 65536
	defaultLimiterTTL       = 10 * time.Minute
)

type processedRateRule struct {
	rule *config.RateLimitRule
	id   string
}

type RateLimiterFilter struct {
	cfg        *config.RateLimiterConfig
	limiters   *lru.LRU[string, *rate.Limiter]
	kindToRule map[uint64]processedRateRule
}

func NewRateLimiterFilter(cfg *config.RateLimiterConfig) (*RateLimiterFilter, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}

	size := cfg.CacheSize
	if size <= 0 {
		size = defaultLimiterCacheSize
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultLimiterTTL
	}

	kindMap := make(map[uint64]processedRateRule, len(cfg.Rules))
	for i := range cfg.Rules {
		rule := &cfg.Rules[i]
		processed := processedRateRule{rule: rule, id: "rule-" + strconv.Itoa(i)}
		for _, kind := range rule.Kinds {
			kindMap[kind] = processed
		}
	}

	return &RateLimiterFilter{
		cfg:        cfg,
		limiters:   lru.NewLRU[string, *rate.Limiter](size, nil, ttl),
		kindToRule: kindMap,
	}, nil
}

func (f *RateLimiterFilter) Match(_ context.Context, event *nostr.Event, meta map[string]any) (FilterResult, error) {
	newResult := NewResultFunc(RateLimiterFilterName)

	currentRate, currentBurst := f.cfg.DefaultRate, f.cfg.DefaultBurst
	ruleID, ruleDescription := "default", "default"
	if processed, exists := f.kindToRule[uint64(event.Kind)]; exists {
		currentRate, currentBurst = processed.rule.Rate, processed.rule.Burst
		ruleID, ruleDescription = processed.id, processed.rule.Description
	}

	if currentRate <= 0 {
		return newResult(true, "rate_unlimited_for_kind", nil)
	}

	remoteIP, _ := meta[MetaRemoteIP].(string)
	userKeys := make([]string, 0, 2)
	if f.cfg.By != config.RateByPubKey && remoteIP != "" {
		userKeys = append(userKeys, "ip:"+remoteIP)
	}
	if f.cfg.By != config.RateByIP && event.PubKey != "" {
		userKeys = append(userKeys, "pk:"+event.PubKey)
	}

	for _, userKey := range userKeys {
		limiter := f.getLimiter(ruleID+":"+userKey, currentRate, currentBurst)
		if !limiter.Allow() {
			return newResult(false, fmt.Sprintf("rate-limited: rule '%s' exceeded", ruleDescription), nil)
		}
	}
	return newResult(true, "rate_limit_ok", nil)
}

func (f *RateLimiterFilter) getLimiter(key string, r float64, b int) *rate.Limiter {
	if limiter, ok := f.limiters.Get(key); ok {
		return limiter
	}
	limiter := rate.NewLimiter(rate.Limit(r), b)
	f.limiters.Add(key, limiter)
	return limiter
}
