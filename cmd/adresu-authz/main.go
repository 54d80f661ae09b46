package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"sync"
	"syscall"
	"time"

	kitconfig "github.com/lessucettes/adresu-authz/pkg/adresu-kit/config"
	kitpolicy "github.com/lessucettes/adresu-authz/pkg/adresu-kit/policy"

	"github.com/lessucettes/adresu-authz/internal/authz"
	"github.com/lessucettes/adresu-authz/internal/config"
	"github.com/lessucettes/adresu-authz/internal/otel"
	"github.com/lessucettes/adresu-authz/internal/policy"
	"github.com/lessucettes/adresu-authz/internal/store"
)

var version = "dev"

const serviceName = "adresu-authz"

// filterCache keeps stateful filters, and so their rate buckets and ban
// lookups, across reloads while their settings are unchanged. Each one owns
// an expirable LRU whose cleanup goroutine never exits.
type filterCache struct {
	db        store.Store
	banned    *policy.BannedAuthorFilter
	bannedCfg config.BannedAuthorFilterConfig

	rate    *kitpolicy.RateLimiterFilter
	rateCfg kitconfig.RateLimiterConfig

	lang    *kitpolicy.LanguageFilter
	langCfg kitconfig.LanguageFilterConfig
}

func (c *filterCache) bannedAuthorFilter(db store.Store, cfg *config.BannedAuthorFilterConfig) (*policy.BannedAuthorFilter, error) {
	if c.banned != nil && c.db == db && c.bannedCfg == *cfg {
		return c.banned, nil
	}
	f, err := policy.NewBannedAuthorFilter(db, cfg)
	if err != nil {
		return nil, err
	}
	c.db, c.banned, c.bannedCfg = db, f, *cfg
	return f, nil
}

func (c *filterCache) rateLimiterFilter(cfg *kitconfig.RateLimiterConfig) (*kitpolicy.RateLimiterFilter, error) {
	if c.rate != nil && reflect.DeepEqual(c.rateCfg, *cfg) {
		return c.rate, nil
	}
	f, err := kitpolicy.NewRateLimiterFilter(cfg)
	if err != nil || f == nil {
		return f, err
	}
	c.rate, c.rateCfg = f, *cfg
	return f, nil
}

func (c *filterCache) languageFilter(cfg *kitconfig.LanguageFilterConfig) (*kitpolicy.LanguageFilter, error) {
	if c.lang != nil && reflect.DeepEqual(c.langCfg, *cfg) {
		return c.lang, nil
	}
	f, err := kitpolicy.NewLanguageFilter(cfg, kitpolicy.GetGlobalDetector())
	if err != nil || f == nil {
		return f, err
	}
	c.lang, c.langCfg = f, *cfg
	return f, nil
}

func buildPipeline(cfg *config.Config, db store.Store, dryRun bool) (*policy.Pipeline, error) {
	return new(filterCache).pipeline(cfg, db, dryRun)
}

func (c *filterCache) pipeline(cfg *config.Config, db store.Store, dryRun bool) (*policy.Pipeline, error) {
	var stages []policy.PipelineStage

	if db != nil {
		// Built even when disabled so moderation keeps its cache coherent.
		bannedAuthorFilter, err := c.bannedAuthorFilter(db, &cfg.Filters.BannedAuthor)
		if err != nil {
			return nil, fmt.Errorf("failed to create BannedAuthorFilter: %w", err)
		}
		moderationFilter, err := policy.NewModerationFilter(&cfg.Moderation, db, bannedAuthorFilter.Forget)
		if err != nil {
			return nil, fmt.Errorf("failed to create ModerationFilter: %w", err)
		}
		// Moderation must see a reaction before the ban check does.
		if moderationFilter != nil {
			stages = append(stages, policy.PipelineStage{Filter: moderationFilter})
		}
		if cfg.Filters.BannedAuthor.Enabled {
			stages = append(stages, policy.PipelineStage{Filter: bannedAuthorFilter})
		}
	}

	rateLimiterFilter, err := c.rateLimiterFilter(&cfg.Filters.RateLimiter)
	if err != nil {
		return nil, fmt.Errorf("failed to create kit filter '%s': %w", kitpolicy.RateLimiterFilterName, err)
	}
	if rateLimiterFilter != nil {
		stages = append(stages, policy.PipelineStage{Filter: rateLimiterFilter})
	}

	languageFilter, err := c.languageFilter(&cfg.Filters.Language)
	if err != nil {
		return nil, fmt.Errorf("failed to create kit filter '%s': %w", kitpolicy.LanguageFilterName, err)
	}
	if languageFilter != nil {
		stages = append(stages, policy.PipelineStage{Filter: languageFilter})
	}

	return policy.NewPipeline(cfg, cfg.Policy(), stages, dryRun), nil
}

func main() {
	showVersion := flag.Bool("version", false, "Show server version and exit")
	configPath := flag.String("config", "./config.toml", "Path to the configuration file.")
	validateConfig := flag.Bool("validate", false, "Validate the configuration file and exit.")
	dryRun := flag.Bool("dry-run", false, "Log what would be rejected without actually rejecting it.")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}
	if *validateConfig {
		if err := validateConfiguration(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Configuration is INVALID: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Configuration is VALID.")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := runApp(ctx, *configPath, *dryRun); err != nil {
		fmt.Fprintf(os.Stderr, "Application run failed: %v\n", err)
		os.Exit(1)
	}
}

// app owns the resources shared by successive pipelines.
type app struct {
	dryRun     bool
	listenAddr string
	level      *slog.LevelVar

	mu      sync.Mutex
	db      *store.BadgerStore
	filters filterCache
	closed  bool
}

// storeFor opens the ban store the first time a configuration needs it.
func (a *app) storeFor(cfg *config.Config) (store.Store, error) {
	if !cfg.NeedsStore() {
		return nil, nil
	}
	if a.db == nil {
		db, err := store.NewBadgerStore(&cfg.DB)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		a.db = db
	}
	return a.db, nil
}

func (a *app) build(cfg *config.Config) (*policy.Pipeline, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	db, err := a.storeFor(cfg)
	if err != nil {
		return nil, err
	}
	return a.filters.pipeline(cfg, db, a.dryRun)
}

func (a *app) reload(svc *authz.Service, newCfg *config.Config) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}

	slog.Info("Reloading pipeline with new configuration...")
	if addr := newCfg.ListenAddr(); addr != a.listenAddr {
		slog.Warn("Listen address change requires a restart", "current", a.listenAddr, "configured", addr)
	}

	db, err := a.storeFor(newCfg)
	if err != nil {
		slog.Error("Failed to build new pipeline on config reload, keeping old one", "error", err)
		return
	}
	newPipeline, err := a.filters.pipeline(newCfg, db, a.dryRun)
	if err != nil {
		slog.Error("Failed to build new pipeline on config reload, keeping old one", "error", err)
		return
	}

	if oldPipeline := svc.Swap(newPipeline); oldPipeline != nil {
		go oldPipeline.Close()
	}
	if a.level != nil {
		a.level.Set(newCfg.Log.Level.ToSlogLevel())
	}
	slog.Info("Pipeline reloaded successfully.",
		"allowed_kinds", len(newCfg.Rules.AllowedKinds), "allowed_authors", len(newCfg.Rules.AllowedAuthors))
}

func (a *app) close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			slog.Error("Failed to close database", "error", err)
		}
		a.db = nil
	}
}

func runApp(ctx context.Context, configPath string, dryRun bool) error {
	cfg, defaultsUsed, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	level := new(slog.LevelVar)
	level.Set(cfg.Log.Level.ToSlogLevel())
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	if dryRun {
		slog.Warn("Server is running in DRY-RUN mode.")
	}
	slog.Info("Authorization server starting up", "version", version, "config_path", configPath, "using_defaults", defaultsUsed)

	shutdownTracing, err := otel.Setup(ctx, serviceName, version)
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			slog.Error("Failed to flush traces", "error", err)
		}
	}()

	a := &app{dryRun: dryRun, listenAddr: cfg.ListenAddr(), level: level}
	defer a.close()

	p, err := a.build(cfg)
	if err != nil {
		return err
	}
	svc := authz.NewService(p)
	defer func() {
		if last := svc.Swap(nil); last != nil {
			_ = last.Close()
		}
	}()

	srv, err := authz.NewWithAddr(cfg.ListenAddr(), svc)
	if err != nil {
		return err
	}

	watchCtx, stopWatching := context.WithCancel(ctx)
	var watchDone sync.WaitGroup
	defer func() {
		stopWatching()
		watchDone.Wait()
	}()
	if w, err := config.NewWatcher(configPath); err != nil {
		slog.Warn("Configuration hot reload disabled", "error", err)
	} else {
		watchDone.Add(1)
		go func() {
			defer watchDone.Done()
			w.Run(watchCtx, func(newCfg *config.Config) { a.reload(svc, newCfg) }, 0)
		}()
	}

	if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	slog.Info("Authorization server stopped")
	return nil
}

func validateConfiguration(configPath string) error {
	slog.SetDefault(slog.New(slog.NewJSONHandler(io.Discard, nil)))
	fmt.Printf("Validating configuration file: %s\n", configPath)
	cfg, defaultsUsed, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if defaultsUsed {
		return fmt.Errorf("config file not found at %s", configPath)
	}

	// Validation never opens the configured database.
	var db store.Store
	if cfg.NeedsStore() {
		mem, err := store.NewBadgerStore(&config.DBConfig{})
		if err != nil {
			return fmt.Errorf("failed to open database for validation: %w", err)
		}
		defer mem.Close()
		db = mem
	}

	p, err := buildPipeline(cfg, db, false)
	if err != nil {
		return err
	}
	return p.Close()
}
