package cache

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	v   []byte
	exp time.Time
}

// TTLCache is an in-process BytesCache with lazy expiry and an optional size cap.
type TTLCache struct {
	mu      sync.RWMutex
	m       map[string]entry
	maxSize int
	now     func() time.Time
}

type TTLOption func(*TTLCache)

// WithMaxEntries bounds the number of live keys; 0 means unbounded.
func WithMaxEntries(n int) TTLOption {
	return func(c *TTLCache) { c.maxSize = n }
}

func withClock(now func() time.Time) TTLOption {
	return func(c *TTLCache) { c.now = now }
}

func NewTTLCache(opts ...TTLOption) *TTLCache {
	c := &TTLCache{m: make(map[string]entry), now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *TTLCache) GetBytes(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	e, ok := c.m[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !e.exp.IsZero() && c.now().After(e.exp) {
		c.mu.Lock()
		// A concurrent SetBytes may have replaced the entry since RUnlock.
		if cur, ok := c.m[key]; ok && !cur.exp.IsZero() && c.now().After(cur.exp) {
			delete(c.m, key)
		}
		c.mu.Unlock()
		return nil, false, nil
	}
	return e.v, true, nil
}

func (c *TTLCache) SetBytes(_ context.Context, key string, value []byte, ttl time.Duration) error {
	var exp time.Time
	if ttl > 0 {
		exp = c.now().Add(ttl)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.m[key]; !exists && c.maxSize > 0 && len(c.m) >= c.maxSize {
		c.evictLocked()
	}
	c.m[key] = entry{v: value, exp: exp}
	return nil
}

// Delete removes key if present.
func (c *TTLCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.m, key)
	c.mu.Unlock()
	return nil
}

// Len reports the number of stored keys, expired ones included.
func (c *TTLCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.m)
}

// evictLocked drops expired entries, then the entry closest to expiry if still full.
func (c *TTLCache) evictLocked() {
	now := c.now()
	for k, e := range c.m {
		if !e.exp.IsZero() && now.After(e.exp) {
			delete(c.m, k)
		}
	}
	if len(c.m) < c.maxSize {
		return
	}
	var victim string
	var soonest time.Time
	for k, e := range c.m {
		if victim == "" || (!e.exp.IsZero() && (soonest.IsZero() || e.exp.Before(soonest))) {
			victim, soonest = k, e.exp
		}
	}
	delete(c.m, victim)
}
