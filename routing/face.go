// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package routing

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/absmach/fluxpub/codec"
	"github.com/absmach/fluxpub/core"
	"github.com/absmach/fluxpub/keyexpr"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// Link carries frames to one peer, broker or bridge.
type Link interface {
	WriteFrame(ctx context.Context, f codec.Frame) error
	Close() error
}

type item struct {
	key     keyexpr.KeyExpr
	payload *core.Buffer
	channel core.Channel
	info    *core.DataInfo
	cc      core.CongestionControl
}

// face is one egress: a queue per priority drained by a single worker.
type face struct {
	name    string
	link    Link
	filters []keyexpr.KeyExpr

	queues  [core.NumPriorities]chan item
	wake    chan struct{}
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker

	ctx     context.Context
	cancel  context.CancelFunc
	stopped chan struct{}

	sent    atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

func (f *face) accepts(key keyexpr.KeyExpr) bool {
	if len(f.filters) == 0 {
		return true
	}
	for _, filter := range f.filters {
		if filter.Intersects(key) {
			return true
		}
	}
	return false
}

// enqueue applies congestion control. It reports whether the item was queued.
func (f *face) enqueue(it item) bool {
	q := f.queues[it.channel.Priority-1]

	switch it.cc {
	case core.Block:
		select {
		case q <- it:
		case <-f.ctx.Done():
			return false
		}
	default:
		select {
		case q <- it:
		default:
			return false
		}
	}

	select {
	case f.wake <- struct{}{}:
	default:
	}
	return true
}

// next returns the queued item with the highest priority.
func (f *face) next() (item, bool) {
	for _, q := range f.queues {
		select {
		case it := <-q:
			return it, true
		default:
		}
	}
	return item{}, false
}

func (r *Router) run(f *face) {
	defer r.wg.Done()
	defer close(f.stopped)

	for {
		it, ok := f.next()
		if !ok {
			select {
			case <-f.ctx.Done():
				r.drain(f)
				return
			case <-f.wake:
				continue
			}
		}
		r.deliver(f, it)
	}
}

func (r *Router) deliver(f *face, it item) {
	defer it.payload.Release()

	if f.limiter != nil {
		if err := f.limiter.Wait(f.ctx); err != nil {
			r.drop(f, it)
			return
		}
	}

	frame := codec.Frame{
		KeyExpr:    it.key.String(),
		Payload:    it.payload.Bytes(),
		Channel:    it.channel,
		Congestion: it.cc,
		Info:       it.info,
	}

	_, err := f.breaker.Execute(func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(f.ctx, r.cfg.WriteTimeout)
		defer cancel()
		return nil, f.link.WriteFrame(ctx, frame)
	})
	if r.metrics != nil {
		r.metrics.RecordFrame(f.name, err)
	}
	if err != nil {
		f.failed.Add(1)
		level := slog.LevelWarn
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			level = slog.LevelDebug
		}
		r.logger.Log(f.ctx, level, "face_write_failed",
			slog.String("face", f.name),
			slog.String("key_expr", frame.KeyExpr),
			slog.String("error", err.Error()))
		return
	}
	f.sent.Add(1)
}

// drain releases whatever is still queued when a face stops.
func (r *Router) drain(f *face) {
	for {
		it, ok := f.next()
		if !ok {
			return
		}
		it.payload.Release()
		r.drop(f, it)
	}
}

func (r *Router) drop(f *face, it item) {
	f.dropped.Add(1)
	if r.metrics != nil {
		r.metrics.RecordDrop(f.name, it.channel.Priority)
	}
}
