// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package ratelimit

import (
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// PeerLimiter limits connection attempts per remote host.
type PeerLimiter struct {
	mu       sync.Mutex
	limiters map[string]*peerEntry
	rate     rate.Limit
	burst    int
	cleanup  time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

type peerEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewPeerLimiter creates a limiter allowing r attempts per second per host
// with the given burst. Hosts idle for two cleanup intervals are forgotten.
func NewPeerLimiter(r float64, burst int, cleanupInterval time.Duration) *PeerLimiter {
	if burst < 1 {
		burst = 1
	}
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}
	l := &PeerLimiter{
		limiters: make(map[string]*peerEntry),
		rate:     rate.Limit(r),
		burst:    burst,
		cleanup:  cleanupInterval,
		stopCh:   make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

// Allow reports whether a connection from remoteAddr, in host:port or bare
// host form, may proceed.
func (l *PeerLimiter) Allow(remoteAddr string) bool {
	host := Host(remoteAddr)
	if host == "" {
		return true
	}

	l.mu.Lock()
	entry, ok := l.limiters[host]
	if !ok {
		entry = &peerEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[host] = entry
	}
	entry.lastSeen = time.Now()
	limiter := entry.limiter
	l.mu.Unlock()

	return limiter.Allow()
}

// Len returns the number of tracked hosts.
func (l *PeerLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

func (l *PeerLimiter) cleanupLoop() {
	ticker := time.NewTicker(l.cleanup)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.removeStale(time.Now().Add(-2 * l.cleanup))
		case <-l.stopCh:
			return
		}
	}
}

func (l *PeerLimiter) removeStale(threshold time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for host, entry := range l.limiters {
		if entry.lastSeen.Before(threshold) {
			delete(l.limiters, host)
		}
	}
}

// Stop stops the cleanup goroutine. It is safe to call more than once.
func (l *PeerLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

// Host strips the port from addr.
func Host(addr string) string {
	if addr == "" {
		return ""
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
