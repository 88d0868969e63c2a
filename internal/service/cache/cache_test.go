package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time { return f.t }

func TestTTLCacheExpiry(t *testing.T) {
	ctx := context.Background()
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	c := NewTTLCache(withClock(clk.now))

	require.NoError(t, c.SetBytes(ctx, "k", []byte("v"), time.Minute))
	b, ok, err := c.GetBytes(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v", string(b))

	clk.t = clk.t.Add(2 * time.Minute)
	_, ok, err = c.GetBytes(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, c.Len())
}

func TestTTLCacheExpiryKeepsConcurrentWrite(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	var onRead func()
	c := NewTTLCache(withClock(func() time.Time {
		if f := onRead; f != nil {
			onRead = nil
			f()
		}
		return now
	}))

	require.NoError(t, c.SetBytes(ctx, "k", []byte("stale"), time.Minute))
	now = now.Add(2 * time.Minute)
	// Lands between the read of the expired entry and its removal.
	onRead = func() { require.NoError(t, c.SetBytes(ctx, "k", []byte("fresh"), time.Hour)) }

	_, ok, err := c.GetBytes(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	b, ok, err := c.GetBytes(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "fresh", string(b))
}

func TestTTLCacheDelete(t *testing.T) {
	ctx := context.Background()
	c := NewTTLCache()
	require.NoError(t, c.SetBytes(ctx, "k", []byte("v"), 0))
	require.NoError(t, c.Delete(ctx, "k"))
	_, ok, _ := c.GetBytes(ctx, "k")
	assert.False(t, ok)
	assert.Zero(t, c.Len())
}

func TestTTLCacheZeroTTLNeverExpires(t *testing.T) {
	ctx := context.Background()
	clk := &fakeClock{t: time.Unix(0, 0)}
	c := NewTTLCache(withClock(clk.now))
	require.NoError(t, c.SetBytes(ctx, "k", []byte("v"), 0))
	clk.t = clk.t.Add(24 * 365 * time.Hour)
	_, ok, _ := c.GetBytes(ctx, "k")
	assert.True(t, ok)
}

func TestTTLCacheMaxEntries(t *testing.T) {
	ctx := context.Background()
	clk := &fakeClock{t: time.Unix(0, 0)}
	c := NewTTLCache(WithMaxEntries(2), withClock(clk.now))

	require.NoError(t, c.SetBytes(ctx, "a", []byte("1"), time.Second))
	require.NoError(t, c.SetBytes(ctx, "b", []byte("2"), time.Hour))
	require.NoError(t, c.SetBytes(ctx, "c", []byte("3"), time.Hour))

	assert.Equal(t, 2, c.Len())
	_, ok, _ := c.GetBytes(ctx, "a")
	assert.False(t, ok, "entry closest to expiry is evicted")
	_, ok, _ = c.GetBytes(ctx, "c")
	assert.True(t, ok)
}

type failingCache struct{ err error }

func (f failingCache) GetBytes(context.Context, string) ([]byte, bool, error) {
	return nil, false, f.err
}

func (f failingCache) SetBytes(context.Context, string, []byte, time.Duration) error { return f.err }

func TestLayeredPromotesL2Hits(t *testing.T) {
	ctx := context.Background()
	l1, l2 := NewTTLCache(), NewTTLCache()
	c := NewLayered(l1, l2, time.Minute)

	require.NoError(t, l2.SetBytes(ctx, "k", []byte("v"), time.Hour))
	b, ok, err := c.GetBytes(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v", string(b))

	_, ok, _ = l1.GetBytes(ctx, "k")
	assert.True(t, ok)
}

func TestLayeredKeepsL1WhenL2Fails(t *testing.T) {
	ctx := context.Background()
	l1 := NewTTLCache()
	c := NewLayered(l1, failingCache{err: errors.New("redis down")}, time.Minute)

	require.Error(t, c.SetBytes(ctx, "k", []byte("v"), time.Hour))
	b, ok, err := c.GetBytes(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v", string(b))

	_, ok, err = c.GetBytes(ctx, "missing")
	assert.Error(t, err)
	assert.False(t, ok)
}
