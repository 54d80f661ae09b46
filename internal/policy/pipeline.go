package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	kitpolicy "github.com/lessucettes/adresu-authz/pkg/adresu-kit/policy"

	"github.com/lessucettes/adresu-authz/internal/config"
)

// ErrPipelineClosed is returned by Admit once Close has been called.
var ErrPipelineClosed = errors.New("pipeline closed")

type PipelineStage struct {
	Filter kitpolicy.Filter
}

// Pipeline evaluates the admission policy and then every configured stage.
// It is immutable once built; a configuration reload builds a new one.
type Pipeline struct {
	policy          *kitpolicy.Policy
	stages          []PipelineStage
	rejectionLevels map[string]config.LogLevel
	dryRun          bool

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewPipeline(cfg *config.Config, pol *kitpolicy.Policy, stages []PipelineStage, dryRun bool) *Pipeline {
	return &Pipeline{
		policy:          pol,
		stages:          stages,
		rejectionLevels: cfg.Log.RejectionLevels,
		dryRun:          dryRun,
	}
}

// Policy returns the admission policy the pipeline evaluates.
func (p *Pipeline) Policy() *kitpolicy.Policy { return p.policy }

// Admit decides on ev. The first denial wins and the policy engine always
// runs first. A non-nil error means a stage failed; the decision is then a
// denial and the error is for logging. After Close, Admit denies and
// returns ErrPipelineClosed without running any stage.
func (p *Pipeline) Admit(ctx context.Context, ev *kitpolicy.Event, meta map[string]any) (decision kitpolicy.Decision, err error) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return kitpolicy.Deny("error: pipeline closed"), ErrPipelineClosed
	}
	p.wg.Add(1)
	p.mu.RUnlock()
	defer p.wg.Done()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("Panic recovered in admission pipeline", "panic", r, "stack", string(debug.Stack()))
			decision = kitpolicy.Deny("error: internal error")
			err = fmt.Errorf("panic in admission pipeline: %v", r)
		}
	}()

	if d := kitpolicy.Evaluate(ev, p.policy); !d.Permitted() {
		return p.reject(ctx, kitpolicy.EngineName, d.Message(), ev, meta), nil
	}
	if len(p.stages) == 0 {
		return kitpolicy.Permit(), nil
	}

	nev := ev.Nostr()
	for _, stage := range p.stages {
		res, filterErr := stage.Filter.Match(ctx, nev, meta)
		if filterErr != nil {
			slog.Error("Filter execution failed", "error", filterErr, "filter_name", res.Filter, "kind", ev.Kind)
			return kitpolicy.Deny("error: internal error in " + res.Filter), fmt.Errorf("filter %s: %w", res.Filter, filterErr)
		}
		if !res.Allowed {
			return p.reject(ctx, res.Filter, "blocked: "+res.Reason, ev, meta), nil
		}
	}

	slog.Debug("Event accepted by all stages", "kind", ev.Kind, "author", meta[kitpolicy.MetaAuthor])
	return kitpolicy.Permit(), nil
}

func (p *Pipeline) reject(ctx context.Context, stage, message string, ev *kitpolicy.Event, meta map[string]any) kitpolicy.Decision {
	var kind uint64
	if ev != nil {
		kind = ev.Kind
	}
	logAttrs := []slog.Attr{
		slog.String("filter_name", stage),
		slog.Uint64("kind", kind),
		slog.Any("author", meta[kitpolicy.MetaAuthor]),
		slog.Any("remote_ip", meta[kitpolicy.MetaRemoteIP]),
		slog.String("reason", message),
	}
	level := slog.LevelWarn
	if l, ok := p.rejectionLevels[stage]; ok {
		level = l.ToSlogLevel()
	}
	slog.LogAttrs(ctx, level, "Event rejected", logAttrs...)

	if p.dryRun {
		slog.LogAttrs(ctx, slog.LevelInfo, "Dry-run: Event would be rejected", logAttrs...)
		return kitpolicy.Permit()
	}
	return kitpolicy.Deny(message)
}

// Close refuses new admissions, waits for in-flight ones and then closes
// stages that hold resources. Only the first call does anything.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.wg.Wait()

	for _, stage := range p.stages {
		if closer, ok := stage.Filter.(interface{ Close() error }); ok {
			if err := closer.Close(); err != nil {
				slog.Error("Failed to close a filter component", "filter", fmt.Sprintf("%T", stage.Filter), "error", err)
			}
		}
	}
	return nil
}
