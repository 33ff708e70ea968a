// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package cfmb implements the Cancel-safe Frame mechanism: a polled
// list of deferred-cleanup entries, each holding a resource whose
// lifetime outlives a device kill (the canonical example being a
// worker goroutine that has not yet been joined). The reactor loop
// drains this list once per iteration; it never blocks on a join from
// within a device's kill, generalizing `internal/session/cancel.go`'s
// single-session cancellation-channel idiom to an arbitrary polled
// resource.
package cfmb

import "sync"

// Node holds one deferred resource plus its readiness probe.
type Node struct {
	Resource any
	IsReady  func() bool

	prev, next *Node
	linked     bool
}

// List is the reactor's CFMB list: a doubly linked list of pending
// frames, walked once per loop iteration.
type List struct {
	mu         sync.Mutex
	head, tail *Node
}

// Add appends a new node to the list and returns it.
func (l *List) Add(resource any, isReady func() bool) *Node {
	n := &Node{Resource: resource, IsReady: isReady}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.linkLocked(n)
	return n
}

func (l *List) linkLocked(n *Node) {
	n.linked = true
	if l.tail == nil {
		l.head, l.tail = n, n
		return
	}
	n.prev = l.tail
	l.tail.next = n
	l.tail = n
}

func (l *List) unlinkLocked(n *Node) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		l.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		l.tail = n.prev
	}
	n.prev, n.next = nil, nil
	n.linked = false
}

// Drain walks the list once, unlinking and returning every node whose
// IsReady reports true so the caller can free the underlying resource.
// Nodes not yet ready remain linked for the next iteration.
func (l *List) Drain() []*Node {
	l.mu.Lock()
	defer l.mu.Unlock()

	var ready []*Node
	cur := l.head
	for cur != nil {
		next := cur.next
		if cur.IsReady() {
			l.unlinkLocked(cur)
			ready = append(ready, cur)
		}
		cur = next
	}
	return ready
}

// Len reports how many frames are still pending.
func (l *List) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for cur := l.head; cur != nil; cur = cur.next {
		n++
	}
	return n
}
