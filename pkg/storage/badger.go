package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Key layout inside the Badger keyspace. The separator cannot appear in
// namespaces or room names.
const (
	badgerPropertyPrefix = "prop\x00"
	badgerSnapshotPrefix = "snap\x00"
	badgerSeparator      = "\x00"
)

// BadgerConfig holds configuration for an embedded Badger store
type BadgerConfig struct {
	// Path is the database directory. Ignored when InMemory is true.
	Path string

	// InMemory keeps everything in RAM, used by tests.
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// GCInterval is how often value log GC runs. Zero disables it.
	GCInterval time.Duration
}

// BadgerStore implements Backend on an embedded BadgerDB database
type BadgerStore struct {
	db     *badger.DB
	logger *slog.Logger

	stopGC chan struct{}
	gcDone chan struct{}
}

var _ Backend = (*BadgerStore)(nil)

// badgerLogger adapts slog.Logger to Badger's Logger interface
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

// NewBadgerStore opens (or creates) a Badger database
func NewBadgerStore(cfg BadgerConfig, logger *slog.Logger) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("badger path is required for persistent storage")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create badger directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(&badgerLogger{logger: logger})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	store := &BadgerStore{db: db, logger: logger}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		store.stopGC = make(chan struct{})
		store.gcDone = make(chan struct{})
		go store.runGC(cfg.GCInterval)
	}

	logger.Info("badger store initialized",
		slog.String("path", cfg.Path),
		slog.Bool("inMemory", cfg.InMemory))

	return store, nil
}

func (b *BadgerStore) runGC(interval time.Duration) {
	defer close(b.gcDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopGC:
			return
		case <-ticker.C:
			err := b.db.RunValueLogGC(0.5)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				b.logger.Warn("badger value log GC failed", slog.String("error", err.Error()))
			}
		}
	}
}

func propertyKey(namespace, key string) []byte {
	return []byte(badgerPropertyPrefix + namespace + badgerSeparator + key)
}

func snapshotKey(room string) []byte {
	return []byte(badgerSnapshotPrefix + room)
}

// Property returns the value stored under key in namespace
func (b *BadgerStore) Property(ctx context.Context, namespace, key string) (string, bool, error) {
	data, err := b.get(ctx, propertyKey(namespace, key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read property %s: %w", key, err)
	}
	return string(data), true, nil
}

// SetProperty stores a value under key in namespace
func (b *BadgerStore) SetProperty(ctx context.Context, namespace, key, value string) error {
	if err := b.set(ctx, propertyKey(namespace, key), []byte(value)); err != nil {
		return fmt.Errorf("failed to write property %s: %w", key, err)
	}
	return nil
}

// DeleteProperty removes a property
func (b *BadgerStore) DeleteProperty(ctx context.Context, namespace, key string) error {
	if err := b.delete(ctx, propertyKey(namespace, key)); err != nil {
		return fmt.Errorf("failed to delete property %s: %w", key, err)
	}
	return nil
}

// Properties returns every property in namespace
func (b *BadgerStore) Properties(ctx context.Context, namespace string) (map[string]string, error) {
	prefix := badgerPropertyPrefix + namespace + badgerSeparator
	result := make(map[string]string)

	err := b.scan(ctx, []byte(prefix), func(key string, value []byte) {
		result[strings.TrimPrefix(key, prefix)] = string(value)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list properties: %w", err)
	}
	return result, nil
}

// SaveSnapshot stores the snapshot for room
func (b *BadgerStore) SaveSnapshot(ctx context.Context, room string, data []byte) error {
	if err := b.set(ctx, snapshotKey(room), data); err != nil {
		return fmt.Errorf("failed to save snapshot for room %s: %w", room, err)
	}
	return nil
}

// LoadSnapshot returns the snapshot for room
func (b *BadgerStore) LoadSnapshot(ctx context.Context, room string) ([]byte, error) {
	data, err := b.get(ctx, snapshotKey(room))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot for room %s: %w", room, err)
	}
	return data, nil
}

// DeleteSnapshot removes the snapshot for room
func (b *BadgerStore) DeleteSnapshot(ctx context.Context, room string) error {
	if err := b.delete(ctx, snapshotKey(room)); err != nil {
		return fmt.Errorf("failed to delete snapshot for room %s: %w", room, err)
	}
	return nil
}

// ListSnapshots returns the rooms that have a snapshot
func (b *BadgerStore) ListSnapshots(ctx context.Context) ([]string, error) {
	var rooms []string
	err := b.scan(ctx, []byte(badgerSnapshotPrefix), func(key string, _ []byte) {
		rooms = append(rooms, strings.TrimPrefix(key, badgerSnapshotPrefix))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	return rooms, nil
}

// HealthCheck verifies the database is open
func (b *BadgerStore) HealthCheck(ctx context.Context) error {
	if b.db.IsClosed() {
		return errors.New("badger database is closed")
	}
	return ctx.Err()
}

// Close stops value log GC and closes the database
func (b *BadgerStore) Close() error {
	if b.stopGC != nil {
		close(b.stopGC)
		<-b.gcDone
		b.stopGC = nil
	}
	if err := b.db.Close(); err != nil {
		return fmt.Errorf("failed to close badger database: %w", err)
	}
	b.logger.Info("badger store closed")
	return nil
}

func (b *BadgerStore) get(ctx context.Context, key []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var data []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	return data, err
}

func (b *BadgerStore) set(ctx context.Context, key, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

func (b *BadgerStore) delete(ctx context.Context, key []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

func (b *BadgerStore) scan(ctx context.Context, prefix []byte, fn func(key string, value []byte)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			fn(string(item.KeyCopy(nil)), value)
		}
		return nil
	})
}
