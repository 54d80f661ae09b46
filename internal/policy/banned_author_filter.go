package policy

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/nbd-wtf/go-nostr"
	"golang.org/x/sync/singleflight"

	"github.com/lessucettes/adresu-authz/internal/config"
	"github.com/lessucettes/adresu-authz/internal/store"
	"github.com/lessucettes/adresu-authz/pkg/adresu-kit/nip"
	kitpolicy "github.com/lessucettes/adresu-authz/pkg/adresu-kit/policy"
)

const (
	defaultBanCacheSize    = 8192
	defaultBanCacheTTL     = time.Minute
	BannedAuthorFilterName = "BannedAuthorFilter"
)

// BannedAuthorFilter rejects authors on the ban list. Lookups are cached and
// concurrent lookups for the same author share one store read.
type BannedAuthorFilter struct {
	store store.Store
	cache *lru.LRU[string, bool]
	sf    singleflight.Group
}

func NewBannedAuthorFilter(s store.Store, cfg *config.BannedAuthorFilterConfig) (*BannedAuthorFilter, error) {
	size, ttl := defaultBanCacheSize, defaultBanCacheTTL
	if cfg != nil && cfg.CacheSize > 0 {
		size = cfg.CacheSize
	}
	if cfg != nil && cfg.CacheTTL > 0 {
		ttl = cfg.CacheTTL
	}
	return &BannedAuthorFilter{
		store: s,
		cache: lru.NewLRU[string, bool](size, nil, ttl),
	}, nil
}

// Forget drops the cached state of author so the next lookup hits the store.
func (f *BannedAuthorFilter) Forget(author string) {
	f.cache.Remove(author)
}

func (f *BannedAuthorFilter) isBanned(ctx context.Context, author string) (bool, error) {
	if banned, ok := f.cache.Get(author); ok {
		return banned, nil
	}

	v, err, _ := f.sf.Do(author, func() (any, error) {
		if banned, ok := f.cache.Get(author); ok {
			return banned, nil
		}
		banned, err := f.store.IsAuthorBanned(ctx, author)
		if err != nil {
			return false, err
		}
		f.cache.Add(author, banned)
		return banned, nil
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

func (f *BannedAuthorFilter) Match(ctx context.Context, event *nostr.Event, meta map[string]any) (kitpolicy.FilterResult, error) {
	newResult := kitpolicy.NewResultFunc(BannedAuthorFilterName)

	author, err := authorOf(event, meta)
	if err != nil {
		return newResult(false, "invalid author key", nil)
	}

	banned, err := f.isBanned(ctx, author)
	if err != nil {
		return newResult(false, "internal_author_check_failed", err)
	}
	if banned {
		return newResult(false, "author "+author+" is banned", nil)
	}
	return newResult(true, "author_not_banned", nil)
}

// authorOf prefers the canonical author the service already computed.
func authorOf(event *nostr.Event, meta map[string]any) (string, error) {
	if author, ok := meta[kitpolicy.MetaAuthor].(string); ok && author != "" {
		return author, nil
	}
	return nip.NormalizePublicKey(event.PubKey)
}
