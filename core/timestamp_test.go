// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNTP64_RoundTrip(t *testing.T) {
	now := time.Unix(1700000000, 500_000_000)
	got := NTP64FromTime(now).Time()
	assert.WithinDuration(t, now, got, time.Microsecond)
}

func TestClock_Monotonic(t *testing.T) {
	c := NewClock(uuid.New())
	frozen := time.Unix(1700000000, 0)
	c.now = func() time.Time { return frozen }

	a := c.Now()
	b := c.Now()
	assert.Equal(t, -1, a.Compare(b))
	assert.Equal(t, c.ID(), a.ID)
}

func TestClock_Update(t *testing.T) {
	c := NewClock(uuid.New())
	remote := Timestamp{Time: NTP64FromTime(time.Now().Add(time.Hour)), ID: uuid.New()}

	c.Update(remote)
	assert.Greater(t, c.Now().Time, remote.Time)
}

func TestClock_ConcurrentUnique(t *testing.T) {
	c := NewClock(uuid.New())

	const n = 1000
	var (
		mu   sync.Mutex
		seen = make(map[NTP64]struct{}, n)
		wg   sync.WaitGroup
	)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range n / 10 {
				ts := c.Now()
				mu.Lock()
				seen[ts.Time] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Len(t, seen, n)
}
