package safemap

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafeMap_ZeroValue(t *testing.T) {
	var m SafeMap[uint16, string]

	assert.Equal(t, 0, m.Len())
	v, ok := m.Load(1)
	assert.False(t, ok)
	assert.Empty(t, v)
}

func TestSafeMap_StoreLoadDelete(t *testing.T) {
	m := New[uint32, *int]()
	require.NotNil(t, m)

	one, two := 1, 2

	t.Run("store then load", func(t *testing.T) {
		m.Store(7, &one)
		v, ok := m.Load(7)
		require.True(t, ok)
		assert.Same(t, &one, v)
	})

	t.Run("store overwrites", func(t *testing.T) {
		m.Store(7, &two)
		v, ok := m.Load(7)
		require.True(t, ok)
		assert.Same(t, &two, v)
		assert.Equal(t, 1, m.Len())
	})

	t.Run("missing key yields zero value", func(t *testing.T) {
		v, ok := m.Load(8)
		assert.False(t, ok)
		assert.Nil(t, v)
	})

	t.Run("load and delete", func(t *testing.T) {
		v, ok := m.LoadAndDelete(7)
		require.True(t, ok)
		assert.Same(t, &two, v)

		_, ok = m.LoadAndDelete(7)
		assert.False(t, ok)
		assert.Equal(t, 0, m.Len())
	})

	t.Run("delete absent key is a no-op", func(t *testing.T) {
		m.Delete(99)
		assert.Equal(t, 0, m.Len())
	})
}

func TestSafeMap_Range(t *testing.T) {
	var m SafeMap[string, int]
	m.Store("a", 1)
	m.Store("b", 2)
	m.Store("c", 3)

	t.Run("visits every entry", func(t *testing.T) {
		sum := 0
		m.Range(func(_ string, v int) bool {
			sum += v
			return true
		})
		assert.Equal(t, 6, sum)
	})

	t.Run("stops when f returns false", func(t *testing.T) {
		visits := 0
		m.Range(func(string, int) bool {
			visits++
			return false
		})
		assert.Equal(t, 1, visits)
	})
}

func TestSortedKeys(t *testing.T) {
	var m SafeMap[uint16, struct{}]
	for _, k := range []uint16{2, 0, 1} {
		m.Store(k, struct{}{})
	}

	assert.Equal(t, []uint16{0, 1, 2}, SortedKeys(&m))

	var empty SafeMap[uint16, struct{}]
	assert.Empty(t, SortedKeys(&empty))
}

func TestSafeMap_Concurrent(t *testing.T) {
	var m SafeMap[int, int]
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m.Store(i, i*i)
			v, ok := m.Load(i)
			assert.True(t, ok)
			assert.Equal(t, i*i, v)
		}(i)
	}

	wg.Wait()
	assert.Equal(t, 50, m.Len())
}
