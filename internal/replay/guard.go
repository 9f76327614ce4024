// ABOUTME: Thread-safe TTL cache guarding one-time OAuth values against replay
// ABOUTME: Used by the broker callback to reject reused authorization codes

package replay

import (
	"container/list"
	"sync"
	"time"
)

// guardEntry stores the timestamp and list element for a cached key.
type guardEntry struct {
	timestamp time.Time
	element   *list.Element
}

// Guard provides a thread-safe, TTL-based, size-limited seen-set for one-time
// values such as authorization codes and state nonces. Uses a doubly-linked
// list to maintain insertion order for O(1) eviction.
type Guard struct {
	mu      sync.RWMutex
	seen    map[string]*guardEntry
	order   *list.List // keys in insertion order (oldest at front)
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// New creates a new replay guard with the specified TTL and maximum size.
// A background goroutine periodically cleans up expired entries.
func New(ttl time.Duration, maxSize int) *Guard {
	g := &Guard{
		seen:    make(map[string]*guardEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go g.cleanup()
	return g
}

// CheckAndMark atomically checks whether a key has been seen and marks it
// if not. Returns true if the key was already seen (a replay), false if it
// is new and now marked. The single operation prevents the TOCTOU race that
// separate check and mark calls would allow.
func (g *Guard) CheckAndMark(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	entry, ok := g.seen[key]
	if ok && time.Since(entry.timestamp) < g.ttl {
		return true // replayed
	}

	g.markLocked(key)
	return false
}

// Seen reports whether the key has been marked and is not expired.
func (g *Guard) Seen(key string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	entry, ok := g.seen[key]
	if !ok {
		return false
	}
	return time.Since(entry.timestamp) < g.ttl
}

// markLocked is the internal mark implementation. Must be called with mu held.
func (g *Guard) markLocked(key string) {
	now := time.Now()

	// If key already exists (expired), refresh and move to back
	if entry, exists := g.seen[key]; exists {
		entry.timestamp = now
		g.order.MoveToBack(entry.element)
		return
	}

	if len(g.seen) >= g.maxSize {
		g.evictOldest()
	}

	elem := g.order.PushBack(key)
	g.seen[key] = &guardEntry{
		timestamp: now,
		element:   elem,
	}
}

// evictOldest removes the oldest entry. Must be called with mu held.
func (g *Guard) evictOldest() {
	front := g.order.Front()
	if front == nil {
		return
	}

	key, _ := front.Value.(string)
	g.order.Remove(front)
	delete(g.seen, key)
}

// cleanup runs in a background goroutine, periodically removing expired entries.
func (g *Guard) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.runCleanup()
		case <-g.done:
			return
		}
	}
}

// runCleanup removes all expired entries.
func (g *Guard) runCleanup() {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	for key, entry := range g.seen {
		if now.Sub(entry.timestamp) > g.ttl {
			g.order.Remove(entry.element)
			delete(g.seen, key)
		}
	}
}

// Close stops the background cleanup goroutine. It is safe to call multiple times.
func (g *Guard) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.closed {
		close(g.done)
		g.closed = true
	}
}
