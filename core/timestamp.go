// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// NTP64 is a 64-bit time: seconds since the Unix epoch in the upper 32 bits,
// fraction of a second in the lower 32 bits.
type NTP64 uint64

const fracPerSecond = 1 << 32

// NTP64FromTime converts t to NTP64.
func NTP64FromTime(t time.Time) NTP64 {
	secs := uint64(t.Unix())
	frac := uint64(t.Nanosecond()) * fracPerSecond / uint64(time.Second)
	return NTP64(secs<<32 | frac)
}

// Time converts n back to a time.Time (nanosecond precision is lossy).
func (n NTP64) Time() time.Time {
	secs := int64(n >> 32)
	nanos := int64((uint64(n) & (fracPerSecond - 1)) * uint64(time.Second) / fracPerSecond)
	return time.Unix(secs, nanos)
}

// Timestamp is a time plus the ID of the clock that produced it. Timestamps
// from one Clock are strictly increasing.
type Timestamp struct {
	Time NTP64
	ID   uuid.UUID
}

// Compare orders timestamps by time, then by ID.
func (t Timestamp) Compare(o Timestamp) int {
	switch {
	case t.Time < o.Time:
		return -1
	case t.Time > o.Time:
		return 1
	default:
		return bytes.Compare(t.ID[:], o.ID[:])
	}
}

func (t Timestamp) String() string {
	return fmt.Sprintf("%s/%s", t.Time.Time().UTC().Format(time.RFC3339Nano), t.ID)
}

// Clock is a hybrid logical clock: it follows physical time but never returns
// the same or an earlier value twice.
type Clock struct {
	id  uuid.UUID
	now func() time.Time

	mu   sync.Mutex
	last NTP64
}

// NewClock creates a clock identified by id.
func NewClock(id uuid.UUID) *Clock {
	return &Clock{id: id, now: time.Now}
}

// ID returns the clock identifier stamped on every timestamp.
func (c *Clock) ID() uuid.UUID {
	return c.id
}

// Now returns a new timestamp, strictly greater than any previous one.
func (c *Clock) Now() Timestamp {
	t := NTP64FromTime(c.now())

	c.mu.Lock()
	if t <= c.last {
		t = c.last + 1
	}
	c.last = t
	c.mu.Unlock()

	return Timestamp{Time: t, ID: c.id}
}

// Update folds a remote timestamp into the clock so later local timestamps
// order after it.
func (c *Clock) Update(ts Timestamp) {
	c.mu.Lock()
	if ts.Time > c.last {
		c.last = ts.Time
	}
	c.mu.Unlock()
}
