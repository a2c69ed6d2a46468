package cacher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type entry struct {
	ID   uint32
	Name string
}

func TestMemoryCacher_AddSetGet(t *testing.T) {
	c := NewMemoryCacher[entry](cache.NoExpiration, time.Minute)
	ctx := context.Background()

	t.Run("missing key", func(t *testing.T) {
		v, ok, err := c.Get(ctx, "k")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Zero(t, v)
	})

	t.Run("add stores a new key", func(t *testing.T) {
		require.NoError(t, c.Add(ctx, "k", entry{ID: 1, Name: "a"}, 0))
		v, ok, err := c.Get(ctx, "k")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, entry{ID: 1, Name: "a"}, v)
	})

	t.Run("add refuses an existing key", func(t *testing.T) {
		err := c.Add(ctx, "k", entry{ID: 2}, 0)
		assert.ErrorIs(t, err, ErrKeyExists)

		v, _, _ := c.Get(ctx, "k")
		assert.Equal(t, uint32(1), v.ID)
	})

	t.Run("set overwrites", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, "k", entry{ID: 3}, 0))
		v, ok, _ := c.Get(ctx, "k")
		assert.True(t, ok)
		assert.Equal(t, uint32(3), v.ID)
	})

	t.Run("delete and count", func(t *testing.T) {
		n, err := c.ItemCount(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		require.NoError(t, c.Delete(ctx, "k"))
		require.NoError(t, c.Delete(ctx, "k"))

		n, _ = c.ItemCount(ctx)
		assert.Equal(t, 0, n)
	})
}

func TestMemoryCacher_Expiry(t *testing.T) {
	c := NewMemoryCacher[entry](cache.NoExpiration, time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Add(ctx, "k", entry{ID: 1}, 20*time.Millisecond))
	assert.Eventually(t, func() bool {
		_, ok, _ := c.Get(ctx, "k")
		return !ok
	}, time.Second, 5*time.Millisecond)

	// an expired key can be added again
	assert.NoError(t, c.Add(ctx, "k", entry{ID: 2}, 0))
}

func TestMemoryCacher_CancelledContext(t *testing.T) {
	c := NewMemoryCacher[entry](cache.NoExpiration, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, c.Add(ctx, "k", entry{}, 0), context.Canceled)
	assert.ErrorIs(t, c.Set(ctx, "k", entry{}, 0), context.Canceled)
	assert.ErrorIs(t, c.Delete(ctx, "k"), context.Canceled)
	_, err = c.ItemCount(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryCacher_GetOrFetch(t *testing.T) {
	ctx := context.Background()

	t.Run("miss fetches then hit does not", func(t *testing.T) {
		c := NewMemoryCacher[entry](cache.NoExpiration, time.Minute)
		calls := 0
		fetch := func(context.Context) (entry, error) {
			calls++
			return entry{ID: 9}, nil
		}

		v, err := c.GetOrFetch(ctx, "k", time.Minute, fetch)
		require.NoError(t, err)
		assert.Equal(t, uint32(9), v.ID)

		v, err = c.GetOrFetch(ctx, "k", time.Minute, fetch)
		require.NoError(t, err)
		assert.Equal(t, uint32(9), v.ID)
		assert.Equal(t, 1, calls)
	})

	t.Run("fetch errors are not cached", func(t *testing.T) {
		c := NewMemoryCacher[entry](cache.NoExpiration, time.Minute)
		boom := errors.New("boom")
		calls := 0
		fetch := func(context.Context) (entry, error) {
			calls++
			return entry{}, boom
		}

		_, err := c.GetOrFetch(ctx, "k", time.Minute, fetch)
		assert.ErrorIs(t, err, boom)
		_, err = c.GetOrFetch(ctx, "k", time.Minute, fetch)
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 2, calls)

		n, _ := c.ItemCount(ctx)
		assert.Equal(t, 0, n)
	})

	t.Run("concurrent misses share one fetch", func(t *testing.T) {
		c := NewMemoryCacher[entry](cache.NoExpiration, time.Minute)
		var calls atomic.Int32
		release := make(chan struct{})
		fetch := func(context.Context) (entry, error) {
			calls.Add(1)
			<-release
			return entry{ID: 5}, nil
		}

		const callers = 10
		var wg sync.WaitGroup
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				v, err := c.GetOrFetch(ctx, "k", time.Minute, fetch)
				assert.NoError(t, err)
				assert.Equal(t, uint32(5), v.ID)
			}()
		}

		time.Sleep(50 * time.Millisecond)
		close(release)
		wg.Wait()

		assert.Equal(t, int32(1), calls.Load())
	})
}
