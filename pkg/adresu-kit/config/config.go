// config/config.go
package config

import (
	"fmt"
	"time"
)

type RateLimiterBy string

const (
	RateByIP     RateLimiterBy = "ip"
	RateByPubKey RateLimiterBy = "pubkey"
	RateByBoth   RateLimiterBy = "both"
)

func (m *RateLimiterBy) UnmarshalText(text []byte) error {
	v := string(text)
	switch RateLimiterBy(v) {
	case RateByIP, RateByPubKey, RateByBoth, "":
		*m = RateLimiterBy(v)
		return nil
	default:
		return fmt.Errorf("invalid rate_limiter.by: %q (must be ip, pubkey, both)", v)
	}
}

type RateLimitRule struct {
	Description string   `toml:"description"`
	Kinds       []uint64 `toml:"kinds"`
	Rate        float64  `toml:"rate"`
	Burst       int      `toml:"burst"`
}

type RateLimiterConfig struct {
	Enabled      bool            `toml:"enabled"`
	By           RateLimiterBy   `toml:"by"`
	CacheSize    int             `toml:"cache_size"`
	TTL          time.Duration   `toml:"ttl"`
	DefaultRate  float64         `toml:"default_rate"`
	DefaultBurst int             `toml:"default_burst"`
	Rules        []RateLimitRule `toml:"rule"`
}

type LanguageFilterConfig struct {
	Enabled           bool          `toml:"enabled"`
	AllowedLanguages  []string      `toml:"allowed_languages"`
	KindsToCheck      []uint64      `toml:"kinds_to_check"`
	MinLengthForCheck int           `toml:"min_length_for_check"`
	ApprovedCacheTTL  time.Duration `toml:"approved_cache_ttl"`
	ApprovedCacheSize int           `toml:"approved_cache_size"`
}
