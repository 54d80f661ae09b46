package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/nbd-wtf/go-nostr"

	kitconfig "github.com/lessucettes/adresu-authz/pkg/adresu-kit/config"
	"github.com/lessucettes/adresu-authz/pkg/adresu-kit/nip"
	"github.com/lessucettes/adresu-authz/pkg/adresu-kit/policy"
)

type Config struct {
	Rules      RulesConfig      `toml:"config"`
	Network    NetworkConfig    `toml:"network"`
	Log        LogConfig        `toml:"log"`
	DB         DBConfig         `toml:"database"`
	Moderation ModerationConfig `toml:"moderation"`
	Filters    FiltersConfig    `toml:"filters"`
}

type LogLevel string

const (
	DebugLevel LogLevel = "debug"
	InfoLevel  LogLevel = "info"
	WarnLevel  LogLevel = "warn"
	ErrorLevel LogLevel = "error"
)

func (l *LogLevel) UnmarshalText(text []byte) error {
	v := strings.ToLower(string(text))
	switch LogLevel(v) {
	case DebugLevel, InfoLevel, WarnLevel, ErrorLevel:
		*l = LogLevel(v)
		return nil
	default:
		return fmt.Errorf("invalid log.level: %q (must be debug, info, warn, error)", string(text))
	}
}

func (l LogLevel) String() string { return string(l) }

func (l LogLevel) ToSlogLevel() slog.Level {
	switch l {
	case DebugLevel:
		return slog.LevelDebug
	case WarnLevel:
		return slog.LevelWarn
	case ErrorLevel:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// RulesConfig is the admission policy. Authors may be given as npub or hex and
// are normalized to npub by Load.
type RulesConfig struct {
	AllowedKinds   []uint64 `toml:"allowed-kinds"`
	AllowedAuthors []string `toml:"allowed-authors"`
}

type NetworkConfig struct {
	Address string `toml:"address"`
	Port    int    `toml:"port"`
}

type LogConfig struct {
	Level           LogLevel            `toml:"level"`
	RejectionLevels map[string]LogLevel `toml:"rejection_levels"`
}

type DBConfig struct {
	Path string `toml:"path"`
}

type ModerationConfig struct {
	ModeratorPubKey string        `toml:"moderator_pubkey"`
	BanEmoji        string        `toml:"ban_emoji"`
	UnbanEmoji      string        `toml:"unban_emoji"`
	BanDuration     time.Duration `toml:"ban_duration"`
}

type FiltersConfig struct {
	BannedAuthor BannedAuthorFilterConfig       `toml:"banned_author"`
	RateLimiter  kitconfig.RateLimiterConfig    `toml:"rate_limiter"`
	Language     kitconfig.LanguageFilterConfig `toml:"language"`
}

type BannedAuthorFilterConfig struct {
	Enabled   bool          `toml:"enabled"`
	CacheSize int           `toml:"cache_size"`
	CacheTTL  time.Duration `toml:"cache_ttl"`
}

// envOverrides are applied on top of the file.
type envOverrides struct {
	Address  string   `env:"ADRESU_AUTHZ_ADDRESS"`
	Port     int      `env:"ADRESU_AUTHZ_PORT"`
	LogLevel LogLevel `env:"ADRESU_AUTHZ_LOG_LEVEL"`
	DBPath   string   `env:"ADRESU_AUTHZ_DB_PATH"`
}

const (
	DefaultAddress = "[::1]"
	DefaultPort    = 50051
)

func defaultConfig() *Config {
	return &Config{
		Rules: RulesConfig{
			AllowedKinds:   slices.Clone(policy.DefaultAllowedKinds),
			AllowedAuthors: []string{},
		},
		Network: NetworkConfig{
			Address: DefaultAddress,
			Port:    DefaultPort,
		},
		Log: LogConfig{
			Level: InfoLevel,
		},
		DB: DBConfig{
			Path: "./authz-db",
		},
		Moderation: ModerationConfig{
			BanEmoji:    "🔨",
			UnbanEmoji:  "🔓",
			BanDuration: 30 * 24 * time.Hour,
		},
	}
}

// ListenAddr is the host:port the gRPC server binds to.
func (c *Config) ListenAddr() string {
	host := strings.TrimSuffix(strings.TrimPrefix(c.Network.Address, "["), "]")
	return net.JoinHostPort(host, strconv.Itoa(c.Network.Port))
}

// Policy builds the immutable admission policy from the rules section.
func (c *Config) Policy() *policy.Policy {
	return policy.NewPolicy(c.Rules.AllowedKinds, c.Rules.AllowedAuthors)
}

// NeedsStore reports whether any enabled component reads or writes the ban list.
func (c *Config) NeedsStore() bool {
	return c.Filters.BannedAuthor.Enabled || c.Moderation.ModeratorPubKey != ""
}

func (c *Config) applyEnv() error {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	if o.Address != "" {
		c.Network.Address = o.Address
	}
	if o.Port != 0 {
		c.Network.Port = o.Port
	}
	if o.LogLevel != "" {
		c.Log.Level = o.LogLevel
	}
	if o.DBPath != "" {
		c.DB.Path = o.DBPath
	}
	return nil
}

func (c *Config) validate() error {
	// --- [config] ---
	for i, author := range c.Rules.AllowedAuthors {
		npub, err := nip.NormalizePublicKey(author)
		if err != nil {
			return fmt.Errorf("config.allowed-authors[%d] (%q): %w", i, author, err)
		}
		c.Rules.AllowedAuthors[i] = npub
	}

	// --- [network] ---
	if strings.TrimSpace(c.Network.Address) == "" {
		return errors.New("network.address must not be empty")
	}
	if c.Network.Port <= 0 || c.Network.Port > 65535 {
		return fmt.Errorf("network.port must be in [1..65535], got %d", c.Network.Port)
	}

	// --- [database] ---
	if c.NeedsStore() && strings.TrimSpace(c.DB.Path) == "" {
		return errors.New("database.path must be set when the ban list is in use")
	}

	// --- [moderation] ---
	if c.Moderation.ModeratorPubKey != "" {
		npub, err := nip.NormalizePublicKey(c.Moderation.ModeratorPubKey)
		if err != nil {
			return fmt.Errorf("moderation.moderator_pubkey: %w", err)
		}
		c.Moderation.ModeratorPubKey = npub
		if c.Moderation.BanDuration <= 0 {
			return errors.New("moderation.ban_duration must be a positive duration (e.g., '24h')")
		}
		if c.Moderation.BanEmoji == "" || c.Moderation.UnbanEmoji == "" {
			return errors.New("moderation.ban_emoji and moderation.unban_emoji must not be empty")
		}
		if c.Moderation.BanEmoji == c.Moderation.UnbanEmoji {
			return errors.New("moderation.ban_emoji and moderation.unban_emoji must differ")
		}
		// Reactions pass the admission policy before moderation sees them.
		if !slices.Contains(c.Rules.AllowedKinds, uint64(nostr.KindReaction)) {
			return fmt.Errorf("moderation.moderator_pubkey is set but config.allowed-kinds does not include %d (reaction)", nostr.KindReaction)
		}
		if !slices.Contains(c.Rules.AllowedAuthors, npub) {
			return errors.New("moderation.moderator_pubkey is set but the moderator is not in config.allowed-authors")
		}
	}

	// --- [filters] ---

	// [filters.banned_author]
	if ba := c.Filters.BannedAuthor; ba.Enabled {
		if ba.CacheSize < 0 {
			return errors.New("filters.banned_author.cache_size must not be negative")
		}
		if ba.CacheTTL < 0 {
			return errors.New("filters.banned_author.cache_ttl must not be a negative duration")
		}
	}

	// [filters.rate_limiter]
	if rl := c.Filters.RateLimiter; rl.Enabled {
		if rl.DefaultRate < 0 || rl.DefaultBurst <= 0 {
			return errors.New("filters.rate_limiter: default_rate must be >= 0 and default_burst must be > 0")
		}
		for i, rule := range rl.Rules {
			if len(rule.Kinds) == 0 {
				return fmt.Errorf("filters.rate_limiter.rule[%d] ('%s'): must specify kinds", i, rule.Description)
			}
			if rule.Rate < 0 || rule.Burst <= 0 {
				return fmt.Errorf("filters.rate_limiter.rule[%d] ('%s'): rate must be >= 0 and burst must be > 0", i, rule.Description)
			}
		}
	}

	// [filters.language]
	if lang := c.Filters.Language; lang.Enabled {
		if len(lang.AllowedLanguages) == 0 {
			return errors.New("filters.language.allowed_languages must not be empty when enabled")
		}
		if len(lang.KindsToCheck) == 0 {
			return errors.New("filters.language.kinds_to_check must not be empty when enabled")
		}
		if lang.MinLengthForCheck < 0 {
			return errors.New("filters.language.min_length_for_check must not be negative")
		}
		if lang.ApprovedCacheTTL < 0 || lang.ApprovedCacheSize < 0 {
			return errors.New("filters.language: approved_cache_ttl and approved_cache_size must not be negative")
		}
		for _, name := range lang.AllowedLanguages {
			if _, ok := policy.LookupLanguage(name); !ok {
				return fmt.Errorf("filters.language.allowed_languages: unsupported language %q", name)
			}
		}
	}

	return nil
}

// Load reads the TOML file at path, applies environment overrides and
// validates the result. A missing file falls back to the built-in defaults;
// the second return value reports whether that happened. A file that exists
// but cannot be decoded is an error.
func Load(path string) (*Config, bool, error) {
	cfg := defaultConfig()
	defaultsUsed := false

	md, err := toml.DecodeFile(path, cfg)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		slog.Warn("Config file not found, using built-in defaults", "path", path)
		cfg = defaultConfig()
		defaultsUsed = true
	case err != nil:
		return nil, false, fmt.Errorf("failed to load config file %s: %w", path, err)
	default:
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, false, fmt.Errorf("unknown keys in config file %s: %s", path, strings.Join(keys, ", "))
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, defaultsUsed, err
	}
	if err := cfg.validate(); err != nil {
		return nil, defaultsUsed, err
	}
	return cfg, defaultsUsed, nil
}
