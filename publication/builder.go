// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package publication

import (
	"fmt"
	"log/slog"

	"github.com/absmach/fluxpub/core"
	"github.com/absmach/fluxpub/keyexpr"
)

var (
	_ Resolvable[*Publisher] = (*PublishBuilder)(nil)
	_ Resolvable[struct{}]   = (*PutBuilder)(nil)
)

// PublishBuilder accumulates publisher settings. Nothing happens until it is
// resolved, and it can be resolved once.
type PublishBuilder struct {
	publisher Publisher
	rawKey    string
	resolved  bool
}

// Publish starts building a Publisher for key on sess.
func Publish(sess Session, key string) *PublishBuilder {
	return &PublishBuilder{
		publisher: newPublisher(sess, keyexpr.KeyExpr{}),
		rawKey:    key,
	}
}

// CongestionControl sets the congestion control applied by the routing layer.
func (b *PublishBuilder) CongestionControl(cc core.CongestionControl) *PublishBuilder {
	b.publisher.congestionControl = cc
	return b
}

// Priority sets the priority of written samples.
func (b *PublishBuilder) Priority(p core.Priority) *PublishBuilder {
	b.publisher.priority = p
	return b
}

// LocalRouting forces delivery to local subscribers on or off instead of
// following the session default.
func (b *PublishBuilder) LocalRouting(enabled bool) *PublishBuilder {
	b.publisher.localRouting = &enabled
	return b
}

// ReliabilityPolicy sets how channel reliability is chosen.
func (b *PublishBuilder) ReliabilityPolicy(policy ReliabilityPolicy) *PublishBuilder {
	if policy == nil {
		policy = AlwaysReliable{}
	}
	b.publisher.reliability = policy
	return b
}

// Metrics sets the metrics recorder.
func (b *PublishBuilder) Metrics(m Metrics) *PublishBuilder {
	b.publisher.metrics = m
	return b
}

// Logger sets the logger.
func (b *PublishBuilder) Logger(l *slog.Logger) *PublishBuilder {
	if l != nil {
		b.publisher.logger = l
	}
	return b
}

// Res validates the settings and returns the Publisher. It performs no
// network action.
func (b *PublishBuilder) Res() (*Publisher, error) {
	if b.resolved {
		return nil, ErrResolved
	}
	b.resolved = true

	key, err := keyexpr.New(b.rawKey)
	if err != nil {
		return nil, fmt.Errorf("publish: %w", err)
	}
	if !b.publisher.priority.Valid() {
		return nil, fmt.Errorf("publish %s: %w: %d", key, ErrInvalidPriority, b.publisher.priority)
	}

	p := b.publisher
	p.key = key
	p.logger.Debug("publisher_declared",
		slog.String("key_expr", key.String()),
		slog.String("congestion_control", p.congestionControl.String()),
		slog.String("priority", p.priority.String()))
	return &p, nil
}

// ResAsync resolves like Res and returns an already completed Future.
func (b *PublishBuilder) ResAsync() *Future[*Publisher] {
	p, err := b.Res()
	return Ready(p, err)
}

// PutBuilder accumulates the settings of a single put or delete. Resolving it
// writes the sample.
type PutBuilder struct {
	publish *PublishBuilder
	value   core.Value
	kind    core.SampleKind
}

// DeleteBuilder is a PutBuilder whose kind is Delete.
type DeleteBuilder = PutBuilder

// Put starts building a put of value on key.
func Put(sess Session, key string, value core.Value) *PutBuilder {
	return &PutBuilder{
		publish: Publish(sess, key),
		value:   value,
		kind:    core.Put,
	}
}

// Delete starts building a delete on key.
func Delete(sess Session, key string) *DeleteBuilder {
	return &PutBuilder{
		publish: Publish(sess, key),
		value:   core.EmptyValue(),
		kind:    core.Delete,
	}
}

// Encoding changes the encoding of the written value.
func (b *PutBuilder) Encoding(e core.Encoding) *PutBuilder {
	b.value = b.value.WithEncoding(e)
	return b
}

// Kind changes the sample kind.
func (b *PutBuilder) Kind(kind core.SampleKind) *PutBuilder {
	b.kind = kind
	return b
}

// CongestionControl sets the congestion control applied by the routing layer.
func (b *PutBuilder) CongestionControl(cc core.CongestionControl) *PutBuilder {
	b.publish.CongestionControl(cc)
	return b
}

// Priority sets the priority of the sample.
func (b *PutBuilder) Priority(p core.Priority) *PutBuilder {
	b.publish.Priority(p)
	return b
}

// LocalRouting forces delivery to local subscribers on or off.
func (b *PutBuilder) LocalRouting(enabled bool) *PutBuilder {
	b.publish.LocalRouting(enabled)
	return b
}

// ReliabilityPolicy sets how channel reliability is chosen.
func (b *PutBuilder) ReliabilityPolicy(policy ReliabilityPolicy) *PutBuilder {
	b.publish.ReliabilityPolicy(policy)
	return b
}

// Metrics sets the metrics recorder.
func (b *PutBuilder) Metrics(m Metrics) *PutBuilder {
	b.publish.Metrics(m)
	return b
}

// Logger sets the logger.
func (b *PutBuilder) Logger(l *slog.Logger) *PutBuilder {
	b.publish.Logger(l)
	return b
}

// Res writes the sample synchronously.
func (b *PutBuilder) Res() (struct{}, error) {
	p, err := b.publish.Res()
	if err != nil {
		return struct{}{}, err
	}
	return struct{}{}, p.Write(b.kind, b.value)
}

// ResAsync writes the sample synchronously and returns an already completed
// Future with the outcome.
func (b *PutBuilder) ResAsync() *Future[struct{}] {
	v, err := b.Res()
	return Ready(v, err)
}
