// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"sync"

	"github.com/absmach/fluxpub/core"
	"github.com/absmach/fluxpub/keyexpr"
)

// Handler receives samples for a local subscription. It runs on the
// publisher's goroutine and must not block for long.
type Handler func(core.Sample)

type subscription struct {
	id      uint64
	key     keyexpr.KeyExpr
	handler Handler
}

// registry indexes local subscriptions by key expression chunks.
type registry struct {
	mu   sync.RWMutex
	root *node
	byID map[uint64]*subscription
}

type node struct {
	children map[string]*node
	subs     []*subscription
}

func newRegistry() *registry {
	return &registry{
		root: newNode(),
		byID: make(map[uint64]*subscription),
	}
}

func newNode() *node {
	return &node{children: make(map[string]*node)}
}

func (r *registry) add(sub *subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.root
	for _, chunk := range sub.key.Chunks() {
		child, ok := n.children[chunk]
		if !ok {
			child = newNode()
			n.children[chunk] = child
		}
		n = child
	}
	n.subs = append(n.subs, sub)
	r.byID[sub.id] = sub
}

func (r *registry) remove(id uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.byID[id]
	if !ok {
		return false
	}
	delete(r.byID, id)

	n := r.root
	for _, chunk := range sub.key.Chunks() {
		child, ok := n.children[chunk]
		if !ok {
			return true
		}
		n = child
	}
	filtered := n.subs[:0]
	for _, s := range n.subs {
		if s.id != id {
			filtered = append(filtered, s)
		}
	}
	n.subs = filtered
	return true
}

func (r *registry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

func (r *registry) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.root = newNode()
	r.byID = make(map[uint64]*subscription)
}

// match returns every subscription whose key expression intersects key.
// The returned slice is a snapshot; handlers are invoked outside the lock.
func (r *registry) match(key keyexpr.KeyExpr) []*subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.byID) == 0 {
		return nil
	}

	seen := make(map[uint64]struct{})
	var matched []*subscription
	collect := func(subs []*subscription) {
		for _, s := range subs {
			if _, ok := seen[s.id]; ok {
				continue
			}
			seen[s.id] = struct{}{}
			matched = append(matched, s)
		}
	}
	matchLevel(r.root, key.Chunks(), 0, collect)
	return matched
}

func matchLevel(n *node, chunks []string, i int, collect func([]*subscription)) {
	// A "**" subscription chunk consumes zero or more key chunks.
	if wild, ok := n.children[keyexpr.Multi]; ok {
		for j := i; j <= len(chunks); j++ {
			matchLevel(wild, chunks, j, collect)
		}
	}

	if i == len(chunks) {
		collect(n.subs)
		return
	}

	chunk := chunks[i]
	if chunk == keyexpr.Multi {
		// A "**" key chunk consumes zero or more subscription chunks.
		matchLevel(n, chunks, i+1, collect)
		for label, child := range n.children {
			if label != keyexpr.Multi {
				matchLevel(child, chunks, i, collect)
			}
		}
		return
	}

	if chunk != keyexpr.Single {
		if child, ok := n.children[chunk]; ok {
			matchLevel(child, chunks, i+1, collect)
		}
		if child, ok := n.children[keyexpr.Single]; ok {
			matchLevel(child, chunks, i+1, collect)
		}
		return
	}

	for label, child := range n.children {
		if label != keyexpr.Multi {
			matchLevel(child, chunks, i+1, collect)
		}
	}
}
