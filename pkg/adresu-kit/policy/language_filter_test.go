package policy_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lessucettes/adresu-authz/pkg/adresu-kit/config"
	"github.com/lessucettes/adresu-authz/pkg/adresu-kit/policy"
	"github.com/lessucettes/adresu-authz/testutils"
)

func TestLanguageFilter(t *testing.T) {
	if testing.Short() {
		t.Skip("language models are slow to load")
	}
	ctx := context.Background()
	detector := policy.GetGlobalDetector()

	cfg := &config.LanguageFilterConfig{
		Enabled:           true,
		AllowedLanguages:  []string{"russian", "ja"},
		KindsToCheck:      []uint64{1},
		MinLengthForCheck: 10,
	}
	f, err := policy.NewLanguageFilter(cfg, detector)
	require.NoError(t, err)

	testCases := []struct {
		name    string
		kind    uint64
		content string
		allowed bool
		reason  string
	}{
		{name: "russian is allowed", kind: 1, content: "Привет, мир! Это сообщение на русском языке.", allowed: true},
		{name: "japanese is allowed", kind: 1, content: "こんにちは世界！これは日本語のメッセージです。", allowed: true},
		{name: "english is rejected", kind: 1, content: "Hello world, this is a message written in plain English.", reason: "language 'en' not allowed"},
		{name: "unchecked kind passes", kind: 30023, content: "Hello world, this is a long form article in English.", allowed: true},
		{name: "short content passes", kind: 1, content: "gm https://example.com/abc", allowed: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			key, _ := testutils.GenerateKey()
			meta := map[string]any{}
			res, err := f.Match(ctx, testutils.MakeEvent(tc.kind, tc.content, key).Nostr(), meta)
			require.NoError(t, err)
			require.Equal(t, tc.allowed, res.Allowed, res.Reason)
			if tc.reason != "" {
				require.Equal(t, tc.reason, res.Reason)
			}
		})
	}
}

func TestLanguageFilter_Config(t *testing.T) {
	f, err := policy.NewLanguageFilter(&config.LanguageFilterConfig{Enabled: false}, nil)
	require.NoError(t, err)
	require.Nil(t, f)

	_, err = policy.NewLanguageFilter(&config.LanguageFilterConfig{Enabled: true, AllowedLanguages: []string{"en"}}, nil)
	require.Error(t, err)

	_, ok := policy.LookupLanguage("klingon")
	require.False(t, ok)
	_, ok = policy.LookupLanguage("EN")
	require.True(t, ok)
}
