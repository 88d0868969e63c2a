package ratelimit

import (
	"sync"
	"time"
)

type bucket struct {
	tokens     float64
	capacity   float64
	refillRate float64 // tokens per second
	last       time.Time
}

// Limiter is a keyed token bucket. The calibration feed uses it to cap outbound fetches per sector.
type Limiter struct {
	mu  sync.Mutex
	m   map[string]*bucket
	now func() time.Time
}

func New() *Limiter { return &Limiter{m: make(map[string]*bucket), now: time.Now} }

// Allow returns true if one token can be consumed for key.
// A non-positive capacity disables limiting.
func (l *Limiter) Allow(key string, capacity, refillPerSec float64) bool {
	if capacity <= 0 {
		return true
	}
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.m[key]
	if !ok {
		b = &bucket{tokens: capacity, capacity: capacity, refillRate: refillPerSec, last: now}
		l.m[key] = b
	}
	elapsed := now.Sub(b.last).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * b.refillRate
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
		b.last = now
	}
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// Budget binds a Limiter to fixed bucket parameters.
type Budget struct {
	l            *Limiter
	capacity     float64
	refillPerSec float64
}

func NewBudget(l *Limiter, capacity, refillPerSec float64) *Budget {
	if l == nil {
		l = New()
	}
	return &Budget{l: l, capacity: capacity, refillPerSec: refillPerSec}
}

// Take consumes one token for key. A nil Budget always allows.
func (b *Budget) Take(key string) bool {
	if b == nil {
		return true
	}
	return b.l.Allow(key, b.capacity, b.refillPerSec)
}
