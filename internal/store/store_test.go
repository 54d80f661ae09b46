package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lessucettes/adresu-authz/internal/config"
)

const author = "npub10elfcs4fr0l0r8af98jlmgdh9c8tcxjvz9qkw038js35mp4dma8qzvjptg"

func newTestStore(t *testing.T, path string) *BadgerStore {
	t.Helper()
	s, err := NewBadgerStore(&config.DBConfig{Path: path})
	require.NoError(t, err)
	return s
}

func TestBadgerStore_BanUnban(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "")
	defer s.Close()

	banned, err := s.IsAuthorBanned(ctx, author)
	require.NoError(t, err)
	require.False(t, banned)

	require.NoError(t, s.BanAuthor(ctx, author, time.Hour))
	banned, err = s.IsAuthorBanned(ctx, author)
	require.NoError(t, err)
	require.True(t, banned)

	require.NoError(t, s.UnbanAuthor(ctx, author))
	banned, err = s.IsAuthorBanned(ctx, author)
	require.NoError(t, err)
	require.False(t, banned)
}

func TestBadgerStore_Expiry(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "")
	defer s.Close()

	// Badger TTLs have one-second resolution.
	require.NoError(t, s.BanAuthor(ctx, author, time.Second))
	require.Eventually(t, func() bool {
		banned, err := s.IsAuthorBanned(ctx, author)
		return err == nil && !banned
	}, 5*time.Second, 100*time.Millisecond)
}

func TestBadgerStore_Persistence(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "db")

	s := newTestStore(t, path)
	require.NoError(t, s.BanAuthor(ctx, author, time.Hour))
	require.NoError(t, s.Close())

	s = newTestStore(t, path)
	defer s.Close()
	banned, err := s.IsAuthorBanned(ctx, author)
	require.NoError(t, err)
	require.True(t, banned)
}

func TestBadgerStore_RejectsBadInput(t *testing.T) {
	s := newTestStore(t, "")
	defer s.Close()

	require.Error(t, s.BanAuthor(context.Background(), author, 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.IsAuthorBanned(ctx, author)
	require.ErrorIs(t, err, context.Canceled)
}
