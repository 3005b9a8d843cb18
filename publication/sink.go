// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package publication

import (
	"context"
	"fmt"

	"github.com/absmach/fluxpub/core"
)

// SinkError wraps a failure to push a value through a Sink.
type SinkError struct {
	Key string
	Err error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("sink %s: %v", e.Key, e.Err)
}

func (e *SinkError) Unwrap() error {
	return e.Err
}

// Sink lets a producer push a continuous sequence of values through a
// Publisher. Every Send is a synchronous Put, so a Sink never buffers: it is
// always ready, and Flush and Close have nothing to do.
//
// This only holds while Publisher.Write is synchronous. A Sink in front of an
// asynchronous write path would need a bounded queue and real readiness.
type Sink struct {
	publisher *Publisher
}

// NewSink wraps p.
func NewSink(p *Publisher) *Sink {
	return &Sink{publisher: p}
}

// Ready reports whether the sink accepts the next value. Always true.
func (s *Sink) Ready() bool {
	return true
}

// Send publishes v.
func (s *Sink) Send(v core.Value) error {
	if err := s.publisher.Put(v); err != nil {
		return &SinkError{Key: s.publisher.KeyExpr().String(), Err: err}
	}
	return nil
}

// Flush is a no-op.
func (s *Sink) Flush() error {
	return nil
}

// Close is a no-op; the underlying Publisher stays usable.
func (s *Sink) Close() error {
	return nil
}

// Forward sends every value received on values until the channel is closed,
// ctx is done, or a send fails. It returns the number of values sent.
func (s *Sink) Forward(ctx context.Context, values <-chan core.Value) (int, error) {
	sent := 0
	for {
		select {
		case <-ctx.Done():
			return sent, ctx.Err()
		case v, ok := <-values:
			if !ok {
				return sent, s.Flush()
			}
			if err := s.Send(v); err != nil {
				return sent, err
			}
			sent++
		}
	}
}
