// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package storage keeps the latest value of every key it is fed. Stores are
// fed by a session subscription (see Attach); puts replace the stored value
// and deletes remove it.
package storage

import (
	"context"
	"errors"

	"github.com/absmach/fluxpub/core"
	"github.com/absmach/fluxpub/keyexpr"
)

// Common errors.
var (
	ErrNotFound = errors.New("not found")
	ErrClosed   = errors.New("store closed")
)

// Entry is the stored value of one key.
type Entry struct {
	KeyExpr   string
	Payload   []byte
	Encoding  core.Encoding
	Timestamp *core.Timestamp
}

// Store is a last-value store. Writes carrying a timestamp older than the
// stored one are ignored, so out-of-order remote samples cannot roll a key
// back. Writes without a timestamp always apply.
type Store interface {
	// Put stores e unless a newer entry exists.
	Put(ctx context.Context, e Entry) error
	// Delete removes key unless the stored entry is newer than ts.
	Delete(ctx context.Context, key string, ts *core.Timestamp) error
	// Get returns the entry stored under a concrete key.
	Get(ctx context.Context, key string) (Entry, error)
	// Match returns every entry whose key intersects filter.
	Match(ctx context.Context, filter keyexpr.KeyExpr) ([]Entry, error)
	Close() error
}

// Supersedes reports whether a write stamped next may replace an entry
// stamped stored.
func Supersedes(stored, next *core.Timestamp) bool {
	if stored == nil || next == nil {
		return true
	}
	return next.Compare(*stored) >= 0
}

// CopyEntry returns a deep copy of e.
func CopyEntry(e Entry) Entry {
	cp := e
	if e.Payload != nil {
		cp.Payload = append([]byte(nil), e.Payload...)
	}
	if e.Timestamp != nil {
		ts := *e.Timestamp
		cp.Timestamp = &ts
	}
	return cp
}
