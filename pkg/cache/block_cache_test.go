package cache

import (
	"testing"

	"github.com/downfa11-org/readindex/pkg/config"
	"github.com/downfa11-org/readindex/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	_ = c.Write(m)
	return m.GetCounter().GetValue()
}

func TestBlockCache_PutGetRemove(t *testing.T) {
	c, err := NewBlockCache(&config.Config{CacheCapacity: 4})
	require.NoError(t, err)

	data := []byte("hello")
	key, err := c.Put(data)
	require.NoError(t, err)
	data[0] = 'j'

	got, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), got, "cache must keep its own copy")

	c.Remove(key)
	_, ok = c.Get(key)
	assert.False(t, ok)

	_, err = c.Put(nil)
	assert.ErrorIs(t, err, ErrEmptyBlock)
}

func TestBlockCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c, err := NewBlockCache(&config.Config{CacheCapacity: 2})
	require.NoError(t, err)
	evictions := counterValue(metrics.CacheEvictions)

	first, _ := c.Put([]byte("a"))
	second, _ := c.Put([]byte("b"))
	_, ok := c.Get(first)
	require.True(t, ok)
	_, _ = c.Put([]byte("c"))

	_, ok = c.Get(second)
	assert.False(t, ok, "least recently used block should be evicted")
	_, ok = c.Get(first)
	assert.True(t, ok)
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, evictions+1, counterValue(metrics.CacheEvictions))
}

func TestBlockCache_ChecksumMismatchIsAMiss(t *testing.T) {
	c, err := NewBlockCache(&config.Config{CacheCapacity: 2})
	require.NoError(t, err)
	failures := counterValue(metrics.CacheChecksumFailures)

	key, _ := c.Put([]byte("payload"))
	b, _ := c.blocks.Peek(key)
	b.data[0] ^= 0xff

	_, ok := c.Get(key)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, failures+1, counterValue(metrics.CacheChecksumFailures))
}

func TestBlockCache_SkipChecksum(t *testing.T) {
	c, err := NewBlockCache(&config.Config{CacheCapacity: 2, CacheSkipChecksum: true})
	require.NoError(t, err)

	key, _ := c.Put([]byte("payload"))
	b, _ := c.blocks.Peek(key)
	b.data[0] = 'P'

	got, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, []byte("Payload"), got)
}
