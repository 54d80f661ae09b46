package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatcher_ReloadsValidRevision(t *testing.T) {
	path := writeConfig(t, "[config]\nallowed-kinds = [1]\n")

	w, err := NewWatcher(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	reloaded := make(chan *Config, 4)
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx, func(c *Config) { reloaded <- c }, 20*time.Millisecond)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// A broken revision is ignored.
	require.NoError(t, os.WriteFile(path, []byte("[config\n"), 0o600))
	select {
	case c := <-reloaded:
		t.Fatalf("unexpected reload with kinds %v", c.Rules.AllowedKinds)
	case <-time.After(200 * time.Millisecond):
	}

	require.NoError(t, os.WriteFile(path, []byte("[config]\nallowed-kinds = [1, 7]\n"), 0o600))
	select {
	case c := <-reloaded:
		require.Equal(t, []uint64{1, 7}, c.Rules.AllowedKinds)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for config reload")
	}
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	path := writeConfig(t, "[config]\nallowed-kinds = [1]\n")

	w, err := NewWatcher(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reloaded := make(chan *Config, 1)
	go w.Run(ctx, func(c *Config) { reloaded <- c }, 10*time.Millisecond)

	other := filepath.Join(filepath.Dir(path), "other.toml")
	require.NoError(t, os.WriteFile(other, []byte("x = 1\n"), 0o600))

	select {
	case <-reloaded:
		t.Fatal("reload triggered by an unrelated file")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestNewWatcher_MissingDirectory(t *testing.T) {
	_, err := NewWatcher(filepath.Join(t.TempDir(), "missing", "config.toml"))
	require.Error(t, err)
}

func TestWatcher_KeepsConfigWhenFileDisappears(t *testing.T) {
	path := writeConfig(t, "[config]\nallowed-kinds = [1]\n")

	w, err := NewWatcher(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	reloaded := make(chan *Config, 4)
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx, func(c *Config) { reloaded <- c }, 20*time.Millisecond)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	require.NoError(t, os.Rename(path, path+".bak"))
	select {
	case c := <-reloaded:
		t.Fatalf("unexpected reload to defaults with kinds %v", c.Rules.AllowedKinds)
	case <-time.After(200 * time.Millisecond):
	}

	require.NoError(t, os.WriteFile(path, []byte("[config]\nallowed-kinds = [42]\n"), 0o600))
	select {
	case c := <-reloaded:
		require.Equal(t, []uint64{42}, c.Rules.AllowedKinds)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for config reload")
	}
}
