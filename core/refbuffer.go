// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"sync/atomic"
)

// Buffer is a reference-counted, read-only payload. A sample payload is handed
// to the routing layer and to local subscribers at the same time; both sides
// share the same Buffer instead of copying the bytes.
//
// A new buffer has a reference count of 1. Holders that keep the buffer beyond
// the call that handed it to them must Retain it and Release it when done.
type Buffer struct {
	data     []byte
	refCount atomic.Int32
	pool     *BufferPool
}

// NewBuffer wraps data without copying it. The caller must not modify data
// afterwards.
func NewBuffer(data []byte) *Buffer {
	return newBuffer(data, nil)
}

func newBuffer(data []byte, pool *BufferPool) *Buffer {
	buf := &Buffer{
		data: data,
		pool: pool,
	}
	buf.refCount.Store(1)
	return buf
}

// Bytes returns the underlying byte slice.
// The slice must not be modified.
func (b *Buffer) Bytes() []byte {
	if b == nil {
		return nil
	}
	return b.data
}

// Len returns the payload length.
func (b *Buffer) Len() int {
	if b == nil {
		return 0
	}
	return len(b.data)
}

// Retain increments the reference count.
func (b *Buffer) Retain() {
	if b == nil {
		return
	}
	b.refCount.Add(1)
}

// Release decrements the reference count. Pooled buffers go back to their pool
// when the count reaches 0.
func (b *Buffer) Release() {
	if b == nil {
		return
	}

	n := b.refCount.Add(-1)
	switch {
	case n == 0:
		if b.pool != nil {
			b.pool.put(b)
		}
	case n < 0:
		panic("core.Buffer: negative reference count")
	}
}

// RefCount returns the current reference count (for testing/debugging).
func (b *Buffer) RefCount() int32 {
	if b == nil {
		return 0
	}
	return b.refCount.Load()
}

// BufferPool recycles payload buffers by size class.
type BufferPool struct {
	small  chan *Buffer // <=1KB
	medium chan *Buffer // <=64KB
	large  chan *Buffer // <=1MB

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewBufferPool creates a pool with the given capacity per size class.
func NewBufferPool(smallCap, mediumCap, largeCap int) *BufferPool {
	return &BufferPool{
		small:  make(chan *Buffer, smallCap),
		medium: make(chan *Buffer, mediumCap),
		large:  make(chan *Buffer, largeCap),
	}
}

func (p *BufferPool) class(size int) (chan *Buffer, int) {
	switch {
	case size <= 1024:
		return p.small, 1024
	case size <= 65536:
		return p.medium, 65536
	case size <= 1048576:
		return p.large, 1048576
	default:
		return nil, size
	}
}

// Copy returns a buffer holding a copy of data. The copy goes back to p when
// its last reference is released. A nil pool allocates a plain copy, and
// empty data yields a buffer with a nil payload.
func (p *BufferPool) Copy(data []byte) *Buffer {
	if len(data) == 0 {
		return NewBuffer(nil)
	}
	if p == nil {
		return NewBuffer(append([]byte(nil), data...))
	}

	pool, capacity := p.class(len(data))
	if pool != nil {
		select {
		case buf := <-pool:
			p.hits.Add(1)
			buf.data = buf.data[:len(data)]
			copy(buf.data, data)
			buf.refCount.Store(1)
			return buf
		default:
		}
	}
	p.misses.Add(1)
	b := make([]byte, len(data), capacity)
	copy(b, data)
	return newBuffer(b, p)
}

func (p *BufferPool) put(buf *Buffer) {
	pool, _ := p.class(cap(buf.data))
	if pool == nil {
		return
	}
	select {
	case pool <- buf:
	default:
	}
}

// Stats returns pool hit and miss counts.
func (p *BufferPool) Stats() (hits, misses uint64) {
	return p.hits.Load(), p.misses.Load()
}
