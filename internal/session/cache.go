// ABOUTME: Size-limited TTL cache in front of a session Store
// ABOUTME: Reads may be served from memory unless the caller asks for a refresh

package session

import (
	"container/list"
	"context"
	"sync"
	"time"
)

type cachedEntry struct {
	session  *Session
	loadedAt time.Time
	element  *list.Element
}

// pendingLoad tracks one backing-store read in flight. Invalidate marks it
// stale so a value read before a write is never cached after it.
type pendingLoad struct {
	stale bool
}

// CachedStore wraps a Store with an in-process LRU cache. Writes go through to
// the backing store and invalidate the cached copy. A Get with refresh=true
// always reloads from the backing store, which is how a reader sees writes made
// by another process or another CachedStore over the same database.
type CachedStore struct {
	inner Store

	mu      sync.Mutex
	entries map[string]*cachedEntry
	order   *list.List // keys, least recently used at front
	loads   map[string]map[*pendingLoad]struct{}
	ttl     time.Duration
	maxSize int
}

// NewCachedStore wraps inner with a cache of at most maxSize sessions, each
// valid for ttl after it was loaded.
func NewCachedStore(inner Store, ttl time.Duration, maxSize int) *CachedStore {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &CachedStore{
		inner:   inner,
		entries: make(map[string]*cachedEntry),
		order:   list.New(),
		loads:   make(map[string]map[*pendingLoad]struct{}),
		ttl:     ttl,
		maxSize: maxSize,
	}
}

// Get returns a copy of the session, from cache when fresh and refresh is false.
func (c *CachedStore) Get(ctx context.Context, key string, refresh bool) (*Session, error) {
	if !refresh {
		c.mu.Lock()
		if e, ok := c.entries[key]; ok && time.Since(e.loadedAt) < c.ttl {
			c.order.MoveToBack(e.element)
			sess := e.session.clone()
			c.mu.Unlock()
			return sess, nil
		}
		c.mu.Unlock()
	}

	load := &pendingLoad{}
	c.mu.Lock()
	if c.loads[key] == nil {
		c.loads[key] = make(map[*pendingLoad]struct{})
	}
	c.loads[key][load] = struct{}{}
	c.mu.Unlock()

	sess, err := c.inner.Get(ctx, key, true)

	c.mu.Lock()
	delete(c.loads[key], load)
	if len(c.loads[key]) == 0 {
		delete(c.loads, key)
	}
	if err == nil && !load.stale {
		c.putLocked(key, sess.clone())
	}
	c.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return sess, nil
}

// Append writes through and drops the cached copy.
func (c *CachedStore) Append(ctx context.Context, key string, msgs ...Message) error {
	err := c.inner.Append(ctx, key, msgs...)
	c.Invalidate(key)
	return err
}

// Delete removes the session from the backing store and the cache.
func (c *CachedStore) Delete(ctx context.Context, key string) error {
	err := c.inner.Delete(ctx, key)
	c.Invalidate(key)
	return err
}

// Invalidate drops key from the cache without touching the backing store.
// Reads of key still in flight are not cached when they complete.
func (c *CachedStore) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		c.order.Remove(e.element)
		delete(c.entries, key)
	}
	for load := range c.loads[key] {
		load.stale = true
	}
}

// Len returns the number of cached sessions.
func (c *CachedStore) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close closes the backing store.
func (c *CachedStore) Close() error {
	return c.inner.Close()
}

// putLocked stores sess under key, evicting the least recently used entry at
// capacity. Must be called with mu held.
func (c *CachedStore) putLocked(key string, sess *Session) {
	now := time.Now()
	if e, ok := c.entries[key]; ok {
		e.session = sess
		e.loadedAt = now
		c.order.MoveToBack(e.element)
		return
	}

	if len(c.entries) >= c.maxSize {
		if front := c.order.Front(); front != nil {
			oldest, _ := front.Value.(string)
			c.order.Remove(front)
			delete(c.entries, oldest)
		}
	}

	c.entries[key] = &cachedEntry{
		session:  sess,
		loadedAt: now,
		element:  c.order.PushBack(key),
	}
}
