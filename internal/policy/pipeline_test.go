package policy

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/require"

	"github.com/lessucettes/adresu-authz/internal/config"
	kitpolicy "github.com/lessucettes/adresu-authz/pkg/adresu-kit/policy"
	"github.com/lessucettes/adresu-authz/testutils"
)

type stubFilter struct {
	name    string
	allowed bool
	err     error
	panics  bool
	calls   atomic.Int32
	closed  atomic.Bool
}

func (f *stubFilter) Match(_ context.Context, _ *nostr.Event, _ map[string]any) (kitpolicy.FilterResult, error) {
	f.calls.Add(1)
	if f.panics {
		panic("boom")
	}
	return kitpolicy.FilterResult{Allowed: f.allowed, Filter: f.name, Reason: f.name + "_reason"}, f.err
}

func (f *stubFilter) Close() error {
	f.closed.Store(true)
	return nil
}

func testPolicy() *kitpolicy.Policy {
	return kitpolicy.NewPolicy([]uint64{1}, []string{testutils.TestPubKeyNpub})
}

func TestPipeline_EngineRunsFirst(t *testing.T) {
	stage := &stubFilter{name: "Stage", allowed: true}
	p := NewPipeline(&config.Config{}, testPolicy(), []PipelineStage{{Filter: stage}}, false)

	d, err := p.Admit(context.Background(), testutils.MakeEvent(2, "x", testutils.TestPubKey()), map[string]any{})
	require.NoError(t, err)
	require.False(t, d.Permitted())
	require.Equal(t, "Kind 2 not permitted", d.Message())
	require.Zero(t, stage.calls.Load(), "stages must not run after the engine denied")
}

func TestPipeline_StagesInOrder(t *testing.T) {
	first := &stubFilter{name: "First", allowed: true}
	second := &stubFilter{name: "Second", allowed: false}
	third := &stubFilter{name: "Third", allowed: false}
	p := NewPipeline(&config.Config{}, testPolicy(), []PipelineStage{{first}, {second}, {third}}, false)

	d, err := p.Admit(context.Background(), testutils.MakeTextNote(testutils.TestPubKey(), "x"), map[string]any{})
	require.NoError(t, err)
	require.False(t, d.Permitted())
	require.Equal(t, "blocked: Second_reason", d.Message())
	require.EqualValues(t, 1, first.calls.Load())
	require.EqualValues(t, 1, second.calls.Load())
	require.Zero(t, third.calls.Load())
}

func TestPipeline_PermitWithoutStages(t *testing.T) {
	p := NewPipeline(&config.Config{}, testPolicy(), nil, false)
	d, err := p.Admit(context.Background(), testutils.MakeTextNote(testutils.TestPubKey(), ""), nil)
	require.NoError(t, err)
	require.True(t, d.Permitted())
	require.Empty(t, d.Message())
}

func TestPipeline_DryRun(t *testing.T) {
	p := NewPipeline(&config.Config{}, testPolicy(), []PipelineStage{{&stubFilter{name: "Deny"}}}, true)

	d, err := p.Admit(context.Background(), testutils.MakeEvent(5, "x", testutils.TestPubKey()), nil)
	require.NoError(t, err)
	require.True(t, d.Permitted(), "dry-run never rejects")

	d, err = p.Admit(context.Background(), testutils.MakeTextNote(testutils.TestPubKey(), "x"), nil)
	require.NoError(t, err)
	require.True(t, d.Permitted())
}

func TestPipeline_FilterError(t *testing.T) {
	stage := &stubFilter{name: "Broken", allowed: true, err: errors.New("db is down")}
	p := NewPipeline(&config.Config{}, testPolicy(), []PipelineStage{{stage}}, false)

	d, err := p.Admit(context.Background(), testutils.MakeTextNote(testutils.TestPubKey(), "x"), nil)
	require.Error(t, err)
	require.False(t, d.Permitted())
	require.Equal(t, "error: internal error in Broken", d.Message())
}

func TestPipeline_RecoversPanics(t *testing.T) {
	p := NewPipeline(&config.Config{}, testPolicy(), []PipelineStage{{&stubFilter{name: "Panics", panics: true}}}, false)

	d, err := p.Admit(context.Background(), testutils.MakeTextNote(testutils.TestPubKey(), "x"), nil)
	require.Error(t, err)
	require.False(t, d.Permitted())
}

func TestPipeline_RejectionLevels(t *testing.T) {
	cfg := &config.Config{Log: config.LogConfig{RejectionLevels: map[string]config.LogLevel{
		kitpolicy.EngineName: config.DebugLevel,
	}}}
	p := NewPipeline(cfg, testPolicy(), nil, false)

	d, err := p.Admit(context.Background(), testutils.MakeEvent(9, "x", testutils.TestPubKey()), nil)
	require.NoError(t, err)
	require.False(t, d.Permitted())
}

func TestPipeline_Close(t *testing.T) {
	stage := &stubFilter{name: "Closable", allowed: true}
	p := NewPipeline(&config.Config{}, testPolicy(), []PipelineStage{{stage}}, false)
	require.NoError(t, p.Close())
	require.True(t, stage.closed.Load())
	require.NoError(t, p.Close(), "second close is a no-op")
}

func TestPipeline_AdmitAfterClose(t *testing.T) {
	stage := &stubFilter{name: "Closable", allowed: true}
	p := NewPipeline(&config.Config{}, testPolicy(), []PipelineStage{{stage}}, false)
	require.NoError(t, p.Close())

	d, err := p.Admit(context.Background(), testutils.MakeTextNote(testutils.TestPubKey(), "late"), map[string]any{})
	require.ErrorIs(t, err, ErrPipelineClosed)
	require.False(t, d.Permitted())
	require.Zero(t, stage.calls.Load(), "a closed pipeline must not reach its stages")
}

// blockingFilter holds Match until release is closed.
type blockingFilter struct {
	entered chan struct{}
	release chan struct{}
}

func (f *blockingFilter) Match(_ context.Context, _ *nostr.Event, _ map[string]any) (kitpolicy.FilterResult, error) {
	close(f.entered)
	<-f.release
	return kitpolicy.FilterResult{Allowed: true, Filter: "Blocking"}, nil
}

func TestPipeline_CloseWaitsForInFlight(t *testing.T) {
	stage := &blockingFilter{entered: make(chan struct{}), release: make(chan struct{})}
	p := NewPipeline(&config.Config{}, testPolicy(), []PipelineStage{{stage}}, false)

	admitted := make(chan error, 1)
	go func() {
		_, err := p.Admit(context.Background(), testutils.MakeTextNote(testutils.TestPubKey(), "slow"), map[string]any{})
		admitted <- err
	}()
	<-stage.entered

	closed := make(chan struct{})
	go func() {
		_ = p.Close()
		close(closed)
	}()

	// New admissions are refused while the slow one is still running.
	require.Eventually(t, func() bool {
		_, err := p.Admit(context.Background(), testutils.MakeEvent(2, "x", testutils.TestPubKey()), nil)
		return errors.Is(err, ErrPipelineClosed)
	}, time.Second, 5*time.Millisecond)

	select {
	case <-closed:
		t.Fatal("Close returned before the in-flight admission finished")
	default:
	}

	close(stage.release)
	require.NoError(t, <-admitted)
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close did not return")
	}
}

func TestPipeline_ModerationThenBan(t *testing.T) {
	ctx := context.Background()
	s := testutils.NewInMemoryStore()

	moderatorRaw, moderatorHex := testutils.GenerateKey()
	userRaw, userHex := testutils.GenerateKey()
	pol := kitpolicy.NewPolicy([]uint64{1, 7}, []string{npubOf(t, moderatorRaw), npubOf(t, userRaw)})

	banned, err := NewBannedAuthorFilter(s, nil)
	require.NoError(t, err)
	moderation, err := NewModerationFilter(&config.ModerationConfig{
		ModeratorPubKey: moderatorHex, BanEmoji: "🔨", UnbanEmoji: "🔓", BanDuration: time.Hour,
	}, s, banned.Forget)
	require.NoError(t, err)

	p := NewPipeline(&config.Config{}, pol, []PipelineStage{{moderation}, {banned}}, false)

	d, err := p.Admit(ctx, testutils.MakeTextNote(userRaw, "before"), map[string]any{})
	require.NoError(t, err)
	require.True(t, d.Permitted())

	d, err = p.Admit(ctx, testutils.MakeEvent(kindReaction, "🔨", moderatorRaw, nostr.Tag{"p", userHex}), map[string]any{})
	require.NoError(t, err)
	require.True(t, d.Permitted())

	d, err = p.Admit(ctx, testutils.MakeTextNote(userRaw, "after"), map[string]any{})
	require.NoError(t, err)
	require.False(t, d.Permitted())
	require.Contains(t, d.Message(), "is banned")

	d, err = p.Admit(ctx, testutils.MakeEvent(kindReaction, "🔓", moderatorRaw, nostr.Tag{"p", userHex}), map[string]any{})
	require.NoError(t, err)
	require.True(t, d.Permitted())

	d, err = p.Admit(ctx, testutils.MakeTextNote(userRaw, "again"), map[string]any{})
	require.NoError(t, err)
	require.True(t, d.Permitted())
}
