// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package badger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/absmach/fluxpub/codec"
	"github.com/absmach/fluxpub/core"
	"github.com/absmach/fluxpub/keyexpr"
	"github.com/absmach/fluxpub/storage"
	"github.com/dgraph-io/badger/v4"
)

var _ storage.Store = (*Store)(nil)

// Key format: kv:{key expression}
const keyPrefix = "kv:"

// Store is a BadgerDB-backed storage.Store. Values are stored as codec
// frames.
type Store struct {
	db          *badger.DB
	compression codec.Compression

	gcStopCh chan struct{}
	gcDone   chan struct{}
	closed   bool
	mu       sync.Mutex
}

// Config holds BadgerDB configuration.
type Config struct {
	Dir string
	// InMemory runs without touching disk; Dir is ignored.
	InMemory    bool
	Compression codec.Compression
	GCInterval  time.Duration
}

// New opens the store.
func New(cfg Config) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Dir)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil
	opts.SyncWrites = false
	opts.NumVersionsToKeep = 1

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger store: %w", err)
	}

	if cfg.GCInterval <= 0 {
		cfg.GCInterval = 5 * time.Minute
	}
	s := &Store{
		db:          db,
		compression: cfg.Compression,
		gcStopCh:    make(chan struct{}),
		gcDone:      make(chan struct{}),
	}
	go s.runGC(cfg.GCInterval)

	return s, nil
}

// Put stores e unless a newer entry exists.
func (s *Store) Put(_ context.Context, e storage.Entry) error {
	data, err := s.encode(e)
	if err != nil {
		return err
	}
	key := []byte(keyPrefix + e.KeyExpr)

	return s.db.Update(func(txn *badger.Txn) error {
		cur, err := get(txn, key)
		switch {
		case errors.Is(err, storage.ErrNotFound):
		case err != nil:
			return err
		case !storage.Supersedes(cur.Timestamp, e.Timestamp):
			return nil
		}
		return txn.Set(key, data)
	})
}

// Delete removes key unless the stored entry is newer than ts.
func (s *Store) Delete(_ context.Context, key string, ts *core.Timestamp) error {
	k := []byte(keyPrefix + key)

	return s.db.Update(func(txn *badger.Txn) error {
		cur, err := get(txn, k)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			return nil
		case err != nil:
			return err
		case !storage.Supersedes(cur.Timestamp, ts):
			return nil
		}
		return txn.Delete(k)
	})
}

// Get retrieves the entry stored under key.
func (s *Store) Get(_ context.Context, key string) (storage.Entry, error) {
	var e storage.Entry
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		e, err = get(txn, []byte(keyPrefix+key))
		return err
	})
	return e, err
}

// Match returns the entries intersecting filter, in key order. Stored keys
// may themselves be wildcards, so every entry is checked.
func (s *Store) Match(_ context.Context, filter keyexpr.KeyExpr) ([]storage.Entry, error) {
	var matched []storage.Entry

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := string(item.Key()[len(keyPrefix):])
			if !keyexpr.Intersects(filter.String(), key) {
				continue
			}

			err := item.Value(func(val []byte) error {
				e, err := decode(val)
				if err != nil {
					return err
				}
				matched = append(matched, e)
				return nil
			})
			if err != nil {
				return fmt.Errorf("failed to decode entry %s: %w", key, err)
			}
		}
		return nil
	})

	return matched, err
}

func get(txn *badger.Txn, key []byte) (storage.Entry, error) {
	item, err := txn.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return storage.Entry{}, storage.ErrNotFound
		}
		return storage.Entry{}, err
	}

	var e storage.Entry
	err = item.Value(func(val []byte) error {
		e, err = decode(val)
		return err
	})
	return e, err
}

func (s *Store) encode(e storage.Entry) ([]byte, error) {
	info := &core.DataInfo{Timestamp: e.Timestamp}
	if !e.Encoding.IsDefault() {
		enc := e.Encoding
		info.Encoding = &enc
	}
	return codec.Encode(codec.Frame{
		KeyExpr: e.KeyExpr,
		Payload: e.Payload,
		Channel: core.Channel{Priority: core.DefaultPriority},
		Info:    info.Emit(),
	}, s.compression)
}

// decode copies everything it keeps; val is only valid inside the transaction.
func decode(val []byte) (storage.Entry, error) {
	f, err := codec.Decode(val)
	if err != nil {
		return storage.Entry{}, err
	}
	e := storage.Entry{
		KeyExpr:   f.KeyExpr,
		Payload:   f.Payload,
		Encoding:  f.Info.ValueEncoding(),
		Timestamp: f.Info.GetTimestamp(),
	}
	return storage.CopyEntry(e), nil
}

// Close stops value log GC and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.gcStopCh)
	<-s.gcDone

	return s.db.Close()
}

func (s *Store) runGC(interval time.Duration) {
	defer close(s.gcDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// ErrNoRewrite just means there was nothing to collect.
			_ = s.db.RunValueLogGC(0.5)
		case <-s.gcStopCh:
			return
		}
	}
}
