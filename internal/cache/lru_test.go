package cache

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLRU_NegativeCapacity(t *testing.T) {
	_, err := NewLRU(-1)
	require.ErrorIs(t, err, ErrBadCapacity)
}

func TestLRU_PutGet(t *testing.T) {
	c, err := NewLRU(10)
	require.NoError(t, err)

	c.Put("a", 1)
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestLRU_EvictsOldestAtCapacity(t *testing.T) {
	c, err := NewLRU(3)
	require.NoError(t, err)

	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("c", 3)
	c.Put("d", 4)

	_, ok := c.Get("a")
	assert.False(t, ok, "oldest entry should be evicted")
	for _, k := range []string{"b", "c", "d"} {
		_, ok := c.Get(k)
		assert.True(t, ok, "entry %q should survive", k)
	}
	assert.Equal(t, 3, c.Len())
}

func TestLRU_GetRefreshesRecency(t *testing.T) {
	c, err := NewLRU(3)
	require.NoError(t, err)

	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("c", 3)

	// Touch "a" so "b" becomes the eviction candidate.
	_, ok := c.Get("a")
	require.True(t, ok)

	c.Put("d", 4)

	_, ok = c.Get("a")
	assert.True(t, ok, "recently read entry must not be evicted")
	_, ok = c.Get("b")
	assert.False(t, ok)
}

func TestLRU_PutExistingUpdatesValue(t *testing.T) {
	c, err := NewLRU(2)
	require.NoError(t, err)

	c.Put("a", 1)
	c.Put("a", 2)
	require.Equal(t, 1, c.Len())

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestLRU_ZeroCapacityDisabled(t *testing.T) {
	c, err := NewLRU(0)
	require.NoError(t, err)

	c.Put("a", 1)
	_, ok := c.Get("a")
	assert.False(t, ok)

	st := c.Stats()
	assert.Equal(t, 0, st.Size)
	assert.Equal(t, uint64(1), st.Misses, "disabled cache still counts misses")
}

func TestLRU_Stats(t *testing.T) {
	c, err := NewLRU(5)
	require.NoError(t, err)

	c.Put("a", 1)
	c.Get("a")
	c.Get("a")
	c.Get("x")

	st := c.Stats()
	assert.Equal(t, uint64(2), st.Hits)
	assert.Equal(t, uint64(1), st.Misses)
	assert.Equal(t, 1, st.Size)
	assert.Equal(t, 5, st.Capacity)
	assert.InDelta(t, 66.67, st.HitRatePercent(), 0.01)
}

func TestStats_HitRateNeverConsulted(t *testing.T) {
	assert.Zero(t, Stats{}.HitRatePercent())
}

func TestLRU_ConcurrentAccess(t *testing.T) {
	c, err := NewLRU(100)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				key := fmt.Sprintf("k%d", (n*200+j)%150)
				c.Put(key, j)
				c.Get(key)
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Len(), 100, "capacity invariant must hold under concurrency")
}
