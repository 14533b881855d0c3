package kv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
)

// Badger is the default embedded backend. Badger holds an exclusive lock on
// its directory, so every change it reports comes from this instance.
type Badger struct {
	db     *badger.DB
	logger *slog.Logger
	hub    *hub
	origin string
}

// NewBadger opens a badger database at path. An empty path opens an in-memory database.
func NewBadger(path string, logger *slog.Logger) (*Badger, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil
	opts.SyncWrites = true       // A highlight must survive a crash right after commit
	opts.CompactL0OnClose = true // Faster next startup

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	if logger != nil {
		logger.Info("badger store opened", "path", path)
	}

	return &Badger{
		db:     db,
		logger: logger,
		hub:    newHub(),
		origin: newOrigin(),
	}, nil
}

// Get implements Store.
func (b *Badger) Get(_ context.Context, key string) ([]byte, error) {
	var value []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if errors.Is(err, badger.ErrDBClosed) {
		return nil, ErrClosed
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return value, nil
}

// Set implements Store.
func (b *Badger) Set(_ context.Context, key string, value []byte) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	b.hub.publish(Change{Key: key, Origin: b.origin})
	return nil
}

// Delete implements Store.
func (b *Badger) Delete(_ context.Context, key string) error {
	existed := false
	err := b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(key)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		existed = true
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	if existed {
		b.hub.publish(Change{Key: key, Origin: b.origin})
	}
	return nil
}

// Keys implements Store.
func (b *Badger) Keys(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list keys %q: %w", prefix, err)
	}
	return keys, nil
}

// Watch implements Store.
func (b *Badger) Watch(ctx context.Context) (<-chan Change, error) {
	return b.hub.subscribe(ctx)
}

// Origin implements Store.
func (b *Badger) Origin() string {
	return b.origin
}

// Close implements Store.
func (b *Badger) Close() error {
	if b.logger != nil {
		b.logger.Info("closing badger store")
	}
	b.hub.close()
	return b.db.Close()
}
