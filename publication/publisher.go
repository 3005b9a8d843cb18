// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package publication

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/absmach/fluxpub/core"
	"github.com/absmach/fluxpub/keyexpr"
	"github.com/absmach/fluxpub/session"
)

// ErrInvalidPriority is returned when a publisher is configured with an
// undefined priority class.
var ErrInvalidPriority = errors.New("invalid priority")

var _ Session = (*session.Session)(nil)

// Session is what a Publisher needs from the owning session.
type Session interface {
	// RoutingHandle returns the routing primitives without holding any
	// session lock after it returns.
	RoutingHandle() (session.Primitives, error)
	// NewTimestamp returns a fresh timestamp or nil.
	NewTimestamp() *core.Timestamp
	// DeliverLocal hands a sample to same-process subscribers.
	DeliverLocal(isLocal bool, key keyexpr.KeyExpr, info *core.DataInfo, payload *core.Buffer, localRouting *bool) error
}

// Metrics records publication outcomes. A nil Metrics is valid.
type Metrics interface {
	RecordWrite(kind core.SampleKind, payloadSize int, cc core.CongestionControl, err error)
}

// Publisher writes samples on one key expression with fixed QoS settings.
// A Publisher is immutable and safe for concurrent use; the With* methods
// return modified copies.
type Publisher struct {
	session           Session
	key               keyexpr.KeyExpr
	congestionControl core.CongestionControl
	priority          core.Priority
	localRouting      *bool
	reliability       ReliabilityPolicy
	metrics           Metrics
	logger            *slog.Logger
}

func newPublisher(sess Session, key keyexpr.KeyExpr) Publisher {
	return Publisher{
		session:           sess,
		key:               key,
		congestionControl: core.DefaultCongestionControl,
		priority:          core.DefaultPriority,
		reliability:       AlwaysReliable{},
		logger:            slog.Default(),
	}
}

// KeyExpr returns the key expression the publisher writes on.
func (p *Publisher) KeyExpr() keyexpr.KeyExpr {
	return p.key
}

// CongestionControl returns the congestion control applied by the routing layer.
func (p *Publisher) CongestionControl() core.CongestionControl {
	return p.congestionControl
}

// Priority returns the priority of written samples.
func (p *Publisher) Priority() core.Priority {
	return p.priority
}

// LocalRouting returns the local routing override and whether one is set.
func (p *Publisher) LocalRouting() (enabled, set bool) {
	if p.localRouting == nil {
		return false, false
	}
	return *p.localRouting, true
}

// WithCongestionControl returns a copy of p using cc.
func (p *Publisher) WithCongestionControl(cc core.CongestionControl) *Publisher {
	cp := *p
	cp.congestionControl = cc
	return &cp
}

// WithPriority returns a copy of p using priority.
func (p *Publisher) WithPriority(priority core.Priority) (*Publisher, error) {
	if !priority.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPriority, priority)
	}
	cp := *p
	cp.priority = priority
	return &cp, nil
}

// WithLocalRouting returns a copy of p that forces local delivery on or off.
func (p *Publisher) WithLocalRouting(enabled bool) *Publisher {
	cp := *p
	cp.localRouting = &enabled
	return &cp
}

// Write publishes a sample of the given kind.
//
// The sample is handed to the routing layer and then, independently, to
// local subscribers. A nil error means both hand-offs happened; it does not
// mean any remote peer received the sample. Routing errors are not observable
// here. With core.Block congestion control the routing layer may block this
// call until it has room; Write neither times out nor can be cancelled.
func (p *Publisher) Write(kind core.SampleKind, value core.Value) error {
	p.logger.Debug("publisher_write",
		slog.String("key_expr", p.key.String()),
		slog.String("kind", kind.String()))

	err := p.write(kind, value)
	if p.metrics != nil {
		p.metrics.RecordWrite(kind, value.Payload.Len(), p.congestionControl, err)
	}
	return err
}

func (p *Publisher) write(kind core.SampleKind, value core.Value) error {
	primitives, err := p.session.RoutingHandle()
	if err != nil {
		return fmt.Errorf("write %s: %w", p.key, err)
	}

	info := core.NewDataInfo(kind, value.Encoding, p.session.NewTimestamp()).Emit()
	channel := core.Channel{
		Priority:    p.priority,
		Reliability: p.reliability.Reliability(p.key),
	}

	primitives.SendData(p.key, value.Payload, channel, p.congestionControl, info, nil)

	if err := p.session.DeliverLocal(true, p.key, info, value.Payload, p.localRouting); err != nil {
		return fmt.Errorf("write %s: local delivery: %w", p.key, err)
	}
	return nil
}

// Put publishes value.
func (p *Publisher) Put(value core.Value) error {
	return p.Write(core.Put, value)
}

// Delete publishes a deletion of the key.
func (p *Publisher) Delete() error {
	return p.Write(core.Delete, core.EmptyValue())
}
