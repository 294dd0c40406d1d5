package cache

import (
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/NodLabs/xviz/errors"
	"github.com/NodLabs/xviz/metric"
)

func TestLRU_EvictsLeastRecentlyUsed(t *testing.T) {
	var evicted []int
	c, err := New[int, string](2, WithEvictionCallback(func(k int, _ string) {
		evicted = append(evicted, k)
	}))
	require.NoError(t, err)

	assert.False(t, c.Add(1, "a"))
	assert.False(t, c.Add(2, "b"))

	v, ok := c.Get(1)
	require.True(t, ok)
	assert.Equal(t, "a", v)

	assert.True(t, c.Add(3, "c"))
	assert.Equal(t, []int{2}, evicted)
	assert.Equal(t, []int{3, 1}, c.Keys())

	_, ok = c.Get(2)
	assert.False(t, ok)
	assert.Equal(t, 2, c.Len())
}

func TestLRU_AddUpdatesInPlace(t *testing.T) {
	c, err := New[string, int](2)
	require.NoError(t, err)

	c.Add("a", 1)
	c.Add("b", 2)
	assert.False(t, c.Add("a", 10))

	v, _ := c.Get("a")
	assert.Equal(t, 10, v)
	assert.Equal(t, []string{"a", "b"}, c.Keys())
}

func TestLRU_InvalidSize(t *testing.T) {
	_, err := New[int, int](0)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsInvalid(err))
}

func TestLRU_GetOrLoad(t *testing.T) {
	c, err := New[int, int](4)
	require.NoError(t, err)

	calls := 0
	load := func(k int) (int, error) {
		calls++
		return k * k, nil
	}

	for range 3 {
		v, err := c.GetOrLoad(3, load)
		require.NoError(t, err)
		assert.Equal(t, 9, v)
	}
	assert.Equal(t, 1, calls)

	boom := errors.New("boom")
	_, err = c.GetOrLoad(5, func(int) (int, error) { return 0, boom })
	require.ErrorIs(t, err, boom)
	_, ok := c.Get(5)
	assert.False(t, ok, "failed loads are not cached")
}

func TestLRU_RemoveAndPurge(t *testing.T) {
	var dropped []int
	c, err := New[int, int](4, WithEvictionCallback(func(k, _ int) { dropped = append(dropped, k) }))
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		c.Add(i, i)
	}
	assert.True(t, c.Remove(2))
	assert.False(t, c.Remove(2))

	c.Purge()
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, []int{2, 1, 3}, dropped)
	assert.Equal(t, int64(0), c.Stats().CurrentSize())
	assert.Equal(t, int64(3), c.Stats().MaxSize())
}

func TestLRU_ContainsIsPassive(t *testing.T) {
	c, err := New[int, int](2)
	require.NoError(t, err)

	c.Add(1, 1)
	c.Add(2, 2)
	assert.True(t, c.Contains(1))
	assert.False(t, c.Contains(3))

	// 1 stays least recent, so it is evicted next.
	c.Add(3, 3)
	assert.False(t, c.Contains(1))
	assert.Zero(t, c.Stats().Hits()+c.Stats().Misses())
}

func TestLRU_Statistics(t *testing.T) {
	c, err := New[int, int](1)
	require.NoError(t, err)

	c.Add(1, 1)
	c.Get(1)
	c.Get(2)
	c.Add(2, 2)

	s := c.Stats()
	assert.Equal(t, int64(1), s.Hits())
	assert.Equal(t, int64(1), s.Misses())
	assert.Equal(t, int64(1), s.Evictions())
	assert.InDelta(t, 0.5, s.HitRatio(), 1e-9)
	assert.Zero(t, NewStatistics().HitRatio())
}

func TestLRU_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	c, err := New[int, int](1, WithMetrics[int, int](registry, "frames"))
	require.NoError(t, err)

	c.Add(1, 1)
	c.Get(1)
	c.Get(7)
	c.Add(2, 2)

	require.NotNil(t, c.metrics)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.hits))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.misses))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.evictions))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.size))

	_, err = New[int, int](1, WithMetrics[int, int](registry, "frames"))
	require.Error(t, err, "duplicate registration")
	assert.True(t, pkgerrors.IsTransient(err))
}

func TestLRU_ConcurrentAccess(t *testing.T) {
	c, err := New[int, int](16)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for g := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 200 {
				k := (g*200 + i) % 32
				_, _ = c.GetOrLoad(k, func(k int) (int, error) { return k, nil })
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Len(), 16)
	for _, k := range c.Keys() {
		v, ok := c.Get(k)
		require.True(t, ok)
		assert.Equal(t, k, v)
	}
}
