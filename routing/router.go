// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package routing hands published samples to egress faces. Each face owns
// one bounded queue per priority and a worker that writes frames to its
// link, higher priorities first.
package routing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/absmach/fluxpub/core"
	"github.com/absmach/fluxpub/keyexpr"
	"github.com/absmach/fluxpub/session"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

var (
	// ErrClosed is returned when the router has been closed.
	ErrClosed = errors.New("router closed")
	// ErrFaceExists is returned when adding a face under a name in use.
	ErrFaceExists = errors.New("face already exists")
	// ErrFaceNotFound is returned when removing an unknown face.
	ErrFaceNotFound = errors.New("face not found")
)

var _ session.Primitives = (*Router)(nil)

// Config holds router settings. Limits apply per face.
type Config struct {
	// QueueSize is the capacity of each per-priority queue.
	QueueSize int
	// RateLimit caps frames per second; zero disables shaping.
	RateLimit float64
	RateBurst int
	// BreakerFailures is the number of consecutive write failures that opens
	// a face's circuit breaker.
	BreakerFailures uint32
	BreakerTimeout  time.Duration
	WriteTimeout    time.Duration
}

// DefaultConfig returns the default router configuration.
func DefaultConfig() Config {
	return Config{
		QueueSize:       256,
		RateBurst:       100,
		BreakerFailures: 5,
		BreakerTimeout:  10 * time.Second,
		WriteTimeout:    5 * time.Second,
	}
}

// Metrics records routing outcomes. A nil Metrics is valid.
type Metrics interface {
	RecordDrop(face string, priority core.Priority)
	RecordFrame(face string, err error)
}

// Stats are frame counters.
type Stats struct {
	Sent    uint64
	Dropped uint64
	Failed  uint64
}

// Router implements session.Primitives over a set of faces.
type Router struct {
	cfg     Config
	metrics Metrics
	logger  *slog.Logger

	mu     sync.RWMutex
	faces  map[string]*face
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a router with no faces.
func New(cfg Config, metrics Metrics, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = def.BreakerFailures
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.RateLimit > 0 && cfg.RateBurst <= 0 {
		cfg.RateBurst = def.RateBurst
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Router{
		cfg:     cfg,
		metrics: metrics,
		logger:  logger,
		faces:   make(map[string]*face),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// AddFace starts routing to link. When filters are given only samples whose
// key intersects one of them are sent to the face.
func (r *Router) AddFace(name string, link Link, filters ...keyexpr.KeyExpr) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	if _, ok := r.faces[name]; ok {
		return fmt.Errorf("%w: %s", ErrFaceExists, name)
	}

	ctx, cancel := context.WithCancel(r.ctx)
	f := &face{
		name:    name,
		link:    link,
		filters: filters,
		wake:    make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
		stopped: make(chan struct{}),
	}
	for i := range f.queues {
		f.queues[i] = make(chan item, r.cfg.QueueSize)
	}
	if r.cfg.RateLimit > 0 {
		f.limiter = rate.NewLimiter(rate.Limit(r.cfg.RateLimit), r.cfg.RateBurst)
	}
	f.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     r.cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= r.cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.logger.Warn("face_circuit_breaker_state_changed",
				slog.String("face", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})

	r.faces[name] = f
	r.wg.Add(1)
	go r.run(f)

	r.logger.Info("face_added",
		slog.String("face", name),
		slog.Int("queue_size", r.cfg.QueueSize),
		slog.Int("filters", len(filters)))
	return nil
}

// RemoveFace stops the face, drops what it still has queued and closes its link.
func (r *Router) RemoveFace(name string) error {
	r.mu.Lock()
	f, ok := r.faces[name]
	delete(r.faces, name)
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrFaceNotFound, name)
	}

	f.cancel()
	<-f.stopped
	r.logger.Info("face_removed", slog.String("face", name))
	return f.link.Close()
}

// Faces returns the names of the active faces.
func (r *Router) Faces() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.faces))
	for name := range r.faces {
		names = append(names, name)
	}
	return names
}

// SendData queues the sample on every face that accepts its key.
//
// With core.Drop a full queue drops the sample for that face. With core.Block
// the call waits for room, which stalls the publisher until the face worker
// catches up or the face is removed.
func (r *Router) SendData(key keyexpr.KeyExpr, payload *core.Buffer, channel core.Channel, cc core.CongestionControl, info *core.DataInfo, _ *core.Buffer) {
	if !channel.Priority.Valid() {
		channel.Priority = core.DefaultPriority
	}

	r.mu.RLock()
	targets := make([]*face, 0, len(r.faces))
	for _, f := range r.faces {
		if f.accepts(key) {
			targets = append(targets, f)
		}
	}
	r.mu.RUnlock()

	for _, f := range targets {
		r.queue(f, item{key: key, payload: payload, channel: channel, info: info, cc: cc})
	}
}

// queue hands it to f, retaining the payload for as long as it is queued.
func (r *Router) queue(f *face, it item) {
	it.payload.Retain()
	if !f.enqueue(it) {
		it.payload.Release()
		r.drop(f, it)
		r.logger.Debug("face_queue_full",
			slog.String("face", f.name),
			slog.String("key_expr", it.key.String()),
			slog.String("priority", it.channel.Priority.String()))
		return
	}
	// The face may have stopped while the item was being queued. Its worker
	// has then already drained, so nothing else will release the item.
	if f.ctx.Err() != nil {
		r.drain(f)
	}
}

// Stats sums the counters of all active faces.
func (r *Router) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var s Stats
	for _, f := range r.faces {
		s.Sent += f.sent.Load()
		s.Dropped += f.dropped.Load()
		s.Failed += f.failed.Load()
	}
	return s
}

// FaceStats returns the counters of one face.
func (r *Router) FaceStats(name string) (Stats, bool) {
	r.mu.RLock()
	f, ok := r.faces[name]
	r.mu.RUnlock()
	if !ok {
		return Stats{}, false
	}
	return Stats{
		Sent:    f.sent.Load(),
		Dropped: f.dropped.Load(),
		Failed:  f.failed.Load(),
	}, true
}

// Close stops every face worker and closes the links.
func (r *Router) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	faces := r.faces
	r.faces = make(map[string]*face)
	r.mu.Unlock()

	r.cancel()
	r.wg.Wait()

	var errs []error
	for name, f := range faces {
		if err := f.link.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close face %s: %w", name, err))
		}
	}
	r.logger.Info("router_closed", slog.Int("faces", len(faces)))
	return errors.Join(errs...)
}
