// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/absmach/fluxpub/core"
	"github.com/absmach/fluxpub/keyexpr"
	"github.com/google/uuid"
)

var (
	// ErrSessionNotReady is returned when the session has no routing primitives.
	ErrSessionNotReady = errors.New("session routing primitives not initialized")
	// ErrClosed is returned by operations on a closed session.
	ErrClosed = errors.New("session closed")
)

// Primitives is the session's handle to the routing layer.
//
// SendData is fire-and-forget: it reports nothing back, and with
// core.Block congestion control it may block until the routing layer has room.
type Primitives interface {
	SendData(key keyexpr.KeyExpr, payload *core.Buffer, channel core.Channel,
		cc core.CongestionControl, info *core.DataInfo, attachment *core.Buffer)
}

// Config holds session settings.
type Config struct {
	// ID identifies the session; a random one is generated when zero.
	ID uuid.UUID
	// LocalRouting is the session-wide default for delivering locally
	// published samples to local subscribers.
	LocalRouting bool
	// Timestamping enables stamping every published sample.
	Timestamping bool
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	return Config{
		LocalRouting: true,
		Timestamping: true,
	}
}

// Session is the state shared by every publisher and subscriber of one
// process-level session. It is safe for concurrent use.
type Session struct {
	id     uuid.UUID
	clock  *core.Clock
	logger *slog.Logger

	// mu guards primitives, localRouting and closed. It is never held across
	// a send or a subscriber callback.
	mu           sync.RWMutex
	primitives   Primitives
	localRouting bool
	closed       bool

	subs   *registry
	nextID atomic.Uint64
}

// New creates a session. Routing primitives are attached later with
// SetPrimitives; until then publication fails with ErrSessionNotReady.
func New(cfg Config, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ID == uuid.Nil {
		cfg.ID = uuid.New()
	}

	s := &Session{
		id:           cfg.ID,
		logger:       logger,
		localRouting: cfg.LocalRouting,
		subs:         newRegistry(),
	}
	if cfg.Timestamping {
		s.clock = core.NewClock(cfg.ID)
	}
	return s
}

// ID returns the session identifier.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// SetPrimitives attaches the routing layer.
func (s *Session) SetPrimitives(p Primitives) {
	s.mu.Lock()
	s.primitives = p
	s.mu.Unlock()
}

// SetLocalRouting changes the session-wide local routing default.
func (s *Session) SetLocalRouting(enabled bool) {
	s.mu.Lock()
	s.localRouting = enabled
	s.mu.Unlock()
}

// RoutingHandle returns the routing primitives. The read lock is held only
// long enough to copy the handle.
func (s *Session) RoutingHandle() (Primitives, error) {
	s.mu.RLock()
	p, closed := s.primitives, s.closed
	s.mu.RUnlock()

	switch {
	case closed:
		return nil, ErrClosed
	case p == nil:
		return nil, ErrSessionNotReady
	}
	return p, nil
}

// NewTimestamp returns a fresh timestamp, or nil when timestamping is off.
func (s *Session) NewTimestamp() *core.Timestamp {
	if s.clock == nil {
		return nil
	}
	ts := s.clock.Now()
	return &ts
}

// DeliverLocal hands a sample to matching local subscribers.
//
// For locally published data (isLocal) delivery happens only if local routing
// is enabled: localRouting overrides the session default when non-nil.
// Data received from the network is always delivered.
func (s *Session) DeliverLocal(isLocal bool, key keyexpr.KeyExpr, info *core.DataInfo, payload *core.Buffer, localRouting *bool) error {
	s.mu.RLock()
	closed, enabled := s.closed, s.localRouting
	s.mu.RUnlock()

	if closed {
		return ErrClosed
	}
	if isLocal {
		if localRouting != nil {
			enabled = *localRouting
		}
		if !enabled {
			return nil
		}
	} else if ts := info.GetTimestamp(); ts != nil && s.clock != nil {
		s.clock.Update(*ts)
	}

	matched := s.subs.match(key)
	if len(matched) == 0 {
		return nil
	}

	sample := core.NewSample(key.String(), info, payload, isLocal)
	for _, sub := range matched {
		sub.handler(sample)
	}
	return nil
}

// HandleRemote delivers data received from a peer to local subscribers.
func (s *Session) HandleRemote(key keyexpr.KeyExpr, info *core.DataInfo, payload *core.Buffer) error {
	return s.DeliverLocal(false, key, info, payload, nil)
}

// Subscribe registers handler for samples whose key intersects key.
func (s *Session) Subscribe(key keyexpr.KeyExpr, handler Handler) (uint64, error) {
	if key.IsZero() {
		return 0, fmt.Errorf("subscribe: %w", keyexpr.ErrInvalid)
	}
	if handler == nil {
		return 0, errors.New("subscribe: nil handler")
	}

	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return 0, ErrClosed
	}

	id := s.nextID.Add(1)
	s.subs.add(&subscription{id: id, key: key, handler: handler})
	s.logger.Debug("subscription_declared", slog.String("key_expr", key.String()), slog.Uint64("id", id))
	return id, nil
}

// Unsubscribe removes a subscription. Unknown IDs are ignored.
func (s *Session) Unsubscribe(id uint64) {
	if s.subs.remove(id) {
		s.logger.Debug("subscription_undeclared", slog.Uint64("id", id))
	}
}

// Subscriptions returns the number of active local subscriptions.
func (s *Session) Subscriptions() int {
	return s.subs.len()
}

// Close detaches the routing layer and drops all subscriptions.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.primitives = nil
	s.mu.Unlock()

	s.subs.clear()
	s.logger.Info("session_closed", slog.String("id", s.id.String()))
	return nil
}
