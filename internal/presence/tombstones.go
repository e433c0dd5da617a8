// ABOUTME: TTL and size bounded set of closed connection ids
// ABOUTME: Lets the registry refuse a bind that arrives after its connection's unbind

package presence

import (
	"container/list"
	"sync"
	"time"
)

// tombstone records when a connection id was closed.
type tombstone struct {
	closedAt time.Time
	element  *list.Element
}

// Tombstones is a thread-safe, TTL-based, size-limited set of connection ids
// that have been unbound. The oldest entry is evicted first when full.
type Tombstones struct {
	mu      sync.Mutex
	entries map[string]*tombstone
	order   *list.List // connection ids, oldest at front
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// NewTombstones creates a tombstone set. A background goroutine periodically
// drops expired entries until Close is called.
func NewTombstones(ttl time.Duration, maxSize int) *Tombstones {
	t := &Tombstones{
		entries: make(map[string]*tombstone),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go t.cleanup()
	return t
}

// Contains returns true if connID was closed within the TTL.
func (t *Tombstones) Contains(connID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[connID]
	if !ok {
		return false
	}
	return time.Since(entry.closedAt) < t.ttl
}

// Add records connID as closed, evicting the oldest entry at capacity.
func (t *Tombstones) Add(connID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	if entry, exists := t.entries[connID]; exists {
		entry.closedAt = now
		t.order.MoveToBack(entry.element)
		return
	}

	if len(t.entries) >= t.maxSize {
		if front := t.order.Front(); front != nil {
			id, _ := front.Value.(string)
			t.order.Remove(front)
			delete(t.entries, id)
		}
	}

	t.entries[connID] = &tombstone{
		closedAt: now,
		element:  t.order.PushBack(connID),
	}
}

// Len returns the number of tracked ids, expired or not.
func (t *Tombstones) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func (t *Tombstones) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.expire()
		case <-t.done:
			return
		}
	}
}

// expire drops entries older than the TTL. Entries are ordered by close
// time, so the walk stops at the first live one.
func (t *Tombstones) expire() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	for e := t.order.Front(); e != nil; {
		id, _ := e.Value.(string)
		entry := t.entries[id]
		if now.Sub(entry.closedAt) < t.ttl {
			return
		}
		next := e.Next()
		t.order.Remove(e)
		delete(t.entries, id)
		e = next
	}
}

// Close stops the background cleanup goroutine. It is safe to call multiple times.
func (t *Tombstones) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.closed {
		close(t.done)
		t.closed = true
	}
}
