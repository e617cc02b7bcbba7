package cache

import (
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/downfa11-org/readindex/pkg/config"
	"github.com/downfa11-org/readindex/pkg/metrics"
	"github.com/downfa11-org/readindex/pkg/types"
	"github.com/downfa11-org/readindex/util"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

var ErrEmptyBlock = errors.New("cannot cache an empty block")

type block struct {
	data []byte
	sum  uint64
}

// BlockCache keeps the most recently used blocks in memory. Blocks are immutable once stored;
// a block whose checksum no longer matches is dropped and reported as a miss.
type BlockCache struct {
	blocks *lru.Cache[types.CacheKey, block]
	verify bool
}

func NewBlockCache(cfg *config.Config) (*BlockCache, error) {
	capacity := cfg.CacheCapacity
	if capacity <= 0 {
		capacity = config.DefaultCacheCapacity
	}
	blocks, err := lru.New[types.CacheKey, block](capacity)
	if err != nil {
		return nil, fmt.Errorf("create block cache: %w", err)
	}
	return &BlockCache{blocks: blocks, verify: !cfg.CacheSkipChecksum}, nil
}

// Put stores a copy of data under a fresh key.
func (c *BlockCache) Put(data []byte) (types.CacheKey, error) {
	if len(data) == 0 {
		return uuid.Nil, ErrEmptyBlock
	}
	b := block{data: append([]byte(nil), data...)}
	if c.verify {
		b.sum = xxhash.Sum64(b.data)
	}
	key := uuid.New()
	if evicted := c.blocks.Add(key, b); evicted {
		metrics.CacheEvictions.Inc()
	}
	return key, nil
}

// Get returns the block stored under key. The returned slice must not be modified.
func (c *BlockCache) Get(key types.CacheKey) ([]byte, bool) {
	b, ok := c.blocks.Get(key)
	if !ok {
		metrics.CacheMisses.Inc()
		return nil, false
	}
	if c.verify && xxhash.Sum64(b.data) != b.sum {
		util.Warn("cache block %s failed checksum verification, dropping it", key)
		metrics.CacheChecksumFailures.Inc()
		metrics.CacheMisses.Inc()
		c.blocks.Remove(key)
		return nil, false
	}
	metrics.CacheHits.Inc()
	return b.data, true
}

func (c *BlockCache) Remove(key types.CacheKey) {
	c.blocks.Remove(key)
}

func (c *BlockCache) Len() int {
	return c.blocks.Len()
}

func (c *BlockCache) Purge() {
	c.blocks.Purge()
}
