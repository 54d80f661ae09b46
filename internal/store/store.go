package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/lessucettes/adresu-authz/internal/config"
)

const banPrefix = "ban:"

// Store is the ban list shared by the moderation and banned-author stages.
// Authors are canonical npub strings.
type Store interface {
	IsAuthorBanned(ctx context.Context, author string) (bool, error)
	BanAuthor(ctx context.Context, author string, duration time.Duration) error
	UnbanAuthor(ctx context.Context, author string) error
	Close() error
}

// BadgerStore keeps bans in BadgerDB; expiry is the entry TTL.
type BadgerStore struct {
	db *badger.DB
}

var _ Store = (*BadgerStore)(nil)

// badgerLogger adapts slog.Logger to be used as a logger for BadgerDB.
type badgerLogger struct {
	*slog.Logger
}

func (l *badgerLogger) Warningf(f string, v ...any) { l.Warn(fmt.Sprintf(f, v...)) }
func (l *badgerLogger) Errorf(f string, v ...any)   { l.Error(fmt.Sprintf(f, v...)) }
func (l *badgerLogger) Infof(f string, v ...any)    {}
func (l *badgerLogger) Debugf(f string, v ...any)   {}

// NewBadgerStore opens the database at cfg.Path. An empty path opens an
// in-memory database.
func NewBadgerStore(cfg *config.DBConfig) (*BadgerStore, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.Path == "" {
		opts = opts.WithInMemory(true)
	}
	opts.ValueThreshold = 1024
	opts.Logger = &badgerLogger{slog.Default()}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func (s *BadgerStore) IsAuthorBanned(ctx context.Context, author string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(banKey(author))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ban lookup for %s: %w", author, err)
	}
	return true, nil
}

func (s *BadgerStore) BanAuthor(ctx context.Context, author string, duration time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if duration <= 0 {
		return fmt.Errorf("ban duration must be positive, got %s", duration)
	}
	slog.Info("Banning author", "author", author, "duration", duration.String())
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry(banKey(author), nil).WithTTL(duration))
	})
}

func (s *BadgerStore) UnbanAuthor(ctx context.Context, author string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	slog.Info("Unbanning author", "author", author)
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(banKey(author))
	})
}

func banKey(author string) []byte {
	return []byte(banPrefix + author)
}
