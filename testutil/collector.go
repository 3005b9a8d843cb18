// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"sync"

	"github.com/absmach/fluxpub/core"
	"github.com/absmach/fluxpub/keyexpr"
)

// Collector gathers samples delivered to a subscription.
type Collector struct {
	mu      sync.Mutex
	samples []core.Sample
}

// Handle is a session.Handler. It retains the sample payload.
func (c *Collector) Handle(s core.Sample) {
	s.Value.Payload.Retain()
	c.mu.Lock()
	c.samples = append(c.samples, s)
	c.mu.Unlock()
}

// Samples returns a snapshot of the collected samples.
func (c *Collector) Samples() []core.Sample {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]core.Sample(nil), c.samples...)
}

// Len returns the number of collected samples.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.samples)
}

// SentData is one SendData call.
type SentData struct {
	Key        string
	Payload    *core.Buffer
	Channel    core.Channel
	Congestion core.CongestionControl
	Info       *core.DataInfo
}

// Primitives records SendData calls.
type Primitives struct {
	mu   sync.Mutex
	sent []SentData
}

// SendData implements session.Primitives.
func (p *Primitives) SendData(key keyexpr.KeyExpr, payload *core.Buffer, ch core.Channel, cc core.CongestionControl, info *core.DataInfo, _ *core.Buffer) {
	p.mu.Lock()
	p.sent = append(p.sent, SentData{key.String(), payload, ch, cc, info})
	p.mu.Unlock()
}

// Sent returns a snapshot of the recorded calls.
func (p *Primitives) Sent() []SentData {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]SentData(nil), p.sent...)
}
