// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/absmach/fluxpub/core"
	"github.com/absmach/fluxpub/keyexpr"
	"github.com/absmach/fluxpub/storage"
)

var _ storage.Store = (*Store)(nil)

// Store is an in-memory storage.Store.
type Store struct {
	mu     sync.RWMutex
	data   map[string]storage.Entry
	closed bool
}

// New creates an empty store.
func New() *Store {
	return &Store{
		data: make(map[string]storage.Entry),
	}
}

// Put stores a copy of e.
func (s *Store) Put(_ context.Context, e storage.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrClosed
	}
	if cur, ok := s.data[e.KeyExpr]; ok && !storage.Supersedes(cur.Timestamp, e.Timestamp) {
		return nil
	}
	s.data[e.KeyExpr] = storage.CopyEntry(e)
	return nil
}

// Delete removes key.
func (s *Store) Delete(_ context.Context, key string, ts *core.Timestamp) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrClosed
	}
	if cur, ok := s.data[key]; ok && !storage.Supersedes(cur.Timestamp, ts) {
		return nil
	}
	delete(s.data, key)
	return nil
}

// Get retrieves the entry stored under key.
func (s *Store) Get(_ context.Context, key string) (storage.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return storage.Entry{}, storage.ErrClosed
	}
	e, ok := s.data[key]
	if !ok {
		return storage.Entry{}, storage.ErrNotFound
	}
	return storage.CopyEntry(e), nil
}

// Match returns the entries intersecting filter, sorted by key.
func (s *Store) Match(_ context.Context, filter keyexpr.KeyExpr) ([]storage.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, storage.ErrClosed
	}

	var result []storage.Entry
	for key, e := range s.data {
		if keyexpr.Intersects(filter.String(), key) {
			result = append(result, storage.CopyEntry(e))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].KeyExpr < result[j].KeyExpr
	})
	return result, nil
}

// Close drops all entries.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.data = nil
	return nil
}
