package cache

import (
	"context"
	"time"
)

// BytesCache is a minimal cache API storing raw bytes with TTL.
type BytesCache interface {
	GetBytes(ctx context.Context, key string) (b []byte, ok bool, err error)
	SetBytes(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Layered reads L1 first, then L2, promoting L2 hits into L1.
// Writes go to L2 first; an L2 write failure still leaves L1 populated.
type Layered struct {
	l1    BytesCache
	l2    BytesCache
	l1TTL time.Duration
}

func NewLayered(l1, l2 BytesCache, l1TTL time.Duration) *Layered {
	return &Layered{l1: l1, l2: l2, l1TTL: l1TTL}
}

func (c *Layered) GetBytes(ctx context.Context, key string) ([]byte, bool, error) {
	if b, ok, err := c.l1.GetBytes(ctx, key); err == nil && ok {
		return b, true, nil
	}
	b, ok, err := c.l2.GetBytes(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	_ = c.l1.SetBytes(ctx, key, b, c.l1TTL)
	return b, true, nil
}

func (c *Layered) SetBytes(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	err := c.l2.SetBytes(ctx, key, value, ttl)
	l1TTL := c.l1TTL
	if ttl > 0 && (l1TTL <= 0 || ttl < l1TTL) {
		l1TTL = ttl
	}
	_ = c.l1.SetBytes(ctx, key, value, l1TTL)
	return err
}
