package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/nbd-wtf/go-nostr"
	"github.com/pemistahl/lingua-go"

	"github.com/lessucettes/adresu-authz/pkg/adresu-kit/config"
)

const LanguageFilterName = "LanguageFilter"

var (
	globalDetectorOnce sync.Once
	globalDetector     lingua.LanguageDetector
	lookupOnce         sync.Once
	languageLookup     map[string]lingua.Language

	// Links, mentions, hashtags and alphanumeric tokens carry no language signal.
	contentCleaner = regexp.MustCompile(`((https?|wss?)://|www\.)\S+|[a-zA-Z0-9.!$%&+_\x60\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,64}|nostr:[a-z0-9]+|#\S+|[a-zA-Z]*[0-9]+[a-zA-Z0-9]*`)
)

type LanguageFilter struct {
	cfg           *config.LanguageFilterConfig
	detector      lingua.LanguageDetector
	allowedLangs  map[lingua.Language]struct{}
	kindsToCheck  map[uint64]struct{}
	approvedCache *lru.LRU[string, struct{}]
}

func NewLanguageFilter(cfg *config.LanguageFilterConfig, detector lingua.LanguageDetector) (*LanguageFilter, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}
	if detector == nil {
		return nil, errors.New("language filter enabled but detector is nil")
	}

	allowed := make(map[lingua.Language]struct{}, len(cfg.AllowedLanguages))
	for _, name := range cfg.AllowedLanguages {
		lang, ok := LookupLanguage(name)
		if !ok {
			return nil, fmt.Errorf("unsupported language %q", name)
		}
		allowed[lang] = struct{}{}
	}

	kinds := make(map[uint64]struct{}, len(cfg.KindsToCheck))
	for _, k := range cfg.KindsToCheck {
		kinds[k] = struct{}{}
	}

	var cache *lru.LRU[string, struct{}]
	if cfg.ApprovedCacheTTL > 0 && cfg.ApprovedCacheSize > 0 {
		cache = lru.NewLRU[string, struct{}](cfg.ApprovedCacheSize, nil, cfg.ApprovedCacheTTL)
	}

	return &LanguageFilter{
		cfg:           cfg,
		detector:      detector,
		allowedLangs:  allowed,
		kindsToCheck:  kinds,
		approvedCache: cache,
	}, nil
}

func (f *LanguageFilter) Match(_ context.Context, event *nostr.Event, meta map[string]any) (FilterResult, error) {
	newResult := NewResultFunc(LanguageFilterName)

	if _, ok := f.kindsToCheck[uint64(event.Kind)]; !ok {
		return newResult(true, "kind_not_checked", nil)
	}
	if f.approvedCache != nil {
		if _, ok := f.approvedCache.Get(event.PubKey); ok {
			return newResult(true, "pubkey_in_cache", nil)
		}
	}

	cleaned := strings.TrimSpace(contentCleaner.ReplaceAllString(event.Content, ""))
	if len(cleaned) < f.cfg.MinLengthForCheck {
		return newResult(true, "content_too_short", nil)
	}

	lang, detected := f.detector.DetectLanguageOf(cleaned)
	if !detected {
		return newResult(false, "language undetectable", nil)
	}

	code := strings.ToLower(lang.IsoCode639_1().String())
	if _, ok := f.allowedLangs[lang]; !ok {
		return newResult(false, fmt.Sprintf("language '%s' not allowed", code), nil)
	}

	if f.approvedCache != nil {
		f.approvedCache.Add(event.PubKey, struct{}{})
	}
	if meta != nil {
		meta[MetaLanguage] = code
	}
	return newResult(true, "language_allowed", nil)
}

// LookupLanguage resolves an English language name or an ISO 639-1/639-3 code.
func LookupLanguage(name string) (lingua.Language, bool) {
	lookupOnce.Do(func() {
		all := lingua.AllLanguages()
		languageLookup = make(map[string]lingua.Language, len(all)*3)
		for _, lang := range all {
			languageLookup[strings.ToLower(lang.String())] = lang
			languageLookup[strings.ToLower(lang.IsoCode639_1().String())] = lang
			languageLookup[strings.ToLower(lang.IsoCode639_3().String())] = lang
		}
	})
	lang, ok := languageLookup[strings.ToLower(strings.TrimSpace(name))]
	return lang, ok
}

// GetGlobalDetector builds the shared detector on first use.
func GetGlobalDetector() lingua.LanguageDetector {
	globalDetectorOnce.Do(func() {
		globalDetector = lingua.NewLanguageDetectorBuilder().
			FromAllLanguages().
			WithLowAccuracyMode().
			Build()
		slog.Debug("Language detector initialized")
	})
	return globalDetector
}
