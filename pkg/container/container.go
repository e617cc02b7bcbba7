package container

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/downfa11-org/readindex/pkg/config"
	"github.com/downfa11-org/readindex/pkg/readindex"
	"github.com/downfa11-org/readindex/pkg/types"
	"github.com/downfa11-org/readindex/util"
)

var ErrTruncated = errors.New("offset is below the segment's truncation point")

// pendingBlock is appended data that is in the cache but not yet in storage.
type pendingBlock struct {
	offset int64
	data   []byte
}

// Container ties segment metadata, the read index, the cache and storage together. Appends land in
// the cache and are indexed by cache entries; a flush writes them to storage and promotes the
// entries. Mutations are serialised; reads only go through the read index.
type Container struct {
	cfg      *config.Config
	metadata *Metadata
	index    *readindex.Manager
	cache    readindex.Cache
	storage  readindex.Storage
	logger   *util.Logger

	mu sync.Mutex // serialises mutations

	bufMu   sync.RWMutex
	pending map[types.SegmentID][]pendingBlock

	successors map[types.SegmentID]types.StreamSegmentSuccessors // guarded by mu
}

func NewContainer(cfg *config.Config, cache readindex.Cache, storage readindex.Storage) *Container {
	md := NewMetadata()
	return &Container{
		cfg:      cfg,
		metadata: md,
		index:    readindex.NewManager(cfg, md),
		cache:    cache,
		storage:  storage,
		logger:   util.NewLogger("container"),
		pending:  make(map[types.SegmentID][]pendingBlock),

		successors: make(map[types.SegmentID]types.StreamSegmentSuccessors),
	}
}

func (c *Container) Close() {
	c.index.Close()
}

// Create adds an empty segment named after s.
func (c *Container) Create(s types.Segment) (types.SegmentInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.createLocked(s)
}

func (c *Container) createLocked(s types.Segment) (types.SegmentInfo, error) {
	info, err := c.metadata.Create(s.ScopedName())
	if err != nil {
		return types.SegmentInfo{}, err
	}
	if _, err := c.index.Register(info.ID); err != nil {
		c.metadata.Remove(info.ID)
		return types.SegmentInfo{}, err
	}
	c.logger.Infof("created segment %s as %s", info.Name, info.ID)
	return info, nil
}

func (c *Container) Info(id types.SegmentID) (types.SegmentInfo, error) {
	info, ok := c.metadata.GetSegment(id)
	if !ok {
		return types.SegmentInfo{}, fmt.Errorf("%w: %s", ErrSegmentNotFound, id)
	}
	return info, nil
}

// Lookup finds a segment by its scoped name.
func (c *Container) Lookup(name string) (types.SegmentInfo, error) {
	info, ok := c.metadata.Lookup(name)
	if !ok {
		return types.SegmentInfo{}, fmt.Errorf("%w: %s", ErrSegmentNotFound, name)
	}
	return info, nil
}

func (c *Container) Segments() []types.SegmentInfo {
	return c.metadata.Segments()
}

// Entries returns the read index entries of a segment.
func (c *Container) Entries(id types.SegmentID) ([]readindex.Entry, error) {
	return c.index.Entries(id)
}

// Append adds data at the end of the segment and returns the offset it was written at.
func (c *Container) Append(ctx context.Context, id types.SegmentID, data []byte) (int64, error) {
	if len(data) == 0 {
		return 0, fmt.Errorf("%w: empty append", readindex.ErrInvalidArgument)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	info, err := c.Info(id)
	if err != nil {
		return 0, err
	}
	if info.Sealed {
		return 0, fmt.Errorf("%w: %s", readindex.ErrSegmentSealed, info.Name)
	}

	key, err := c.cache.Put(data)
	if err != nil {
		return 0, err
	}
	entry, err := readindex.NewCacheEntry(info.Length, int64(len(data)), key)
	if err != nil {
		c.cache.Remove(key)
		return 0, err
	}
	if _, err := c.metadata.Update(id, func(s *types.SegmentInfo) { s.Length += int64(len(data)) }); err != nil {
		c.cache.Remove(key)
		return 0, err
	}
	if err := c.index.AppendEntry(id, entry); err != nil {
		c.cache.Remove(key)
		_, _ = c.metadata.Update(id, func(s *types.SegmentInfo) { s.Length = info.Length })
		return 0, err
	}

	c.bufMu.Lock()
	c.pending[id] = append(c.pending[id], pendingBlock{offset: info.Length, data: append([]byte(nil), data...)})
	c.bufMu.Unlock()

	if threshold := c.cfg.FlushThresholdBytes; threshold > 0 && info.Length+int64(len(data))-info.StorageLength >= threshold {
		if err := c.flushLocked(ctx, id); err != nil {
			return 0, err
		}
	}
	return info.Length, nil
}

// Flush writes the segment's unflushed data to storage and points its index at the stored copy.
func (c *Container) Flush(ctx context.Context, id types.SegmentID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flushLocked(ctx, id)
}

func (c *Container) flushLocked(ctx context.Context, id types.SegmentID) error {
	info, err := c.Info(id)
	if err != nil {
		return err
	}
	c.bufMu.RLock()
	blocks := c.pending[id]
	c.bufMu.RUnlock()
	if len(blocks) == 0 {
		return nil
	}

	var data []byte
	for _, b := range blocks {
		data = append(data, b.data...)
	}
	if blocks[0].offset != info.StorageLength {
		return fmt.Errorf("%w: segment %s has unflushed data at %d but %d bytes in storage",
			readindex.ErrIndexCorruption, id, blocks[0].offset, info.StorageLength)
	}
	if err := c.storage.Write(ctx, id, info.StorageLength, data); err != nil {
		return err
	}

	// storage keeps every byte of the segment, so storage offsets equal segment offsets
	promoted, err := readindex.NewStorageEntry(info.StorageLength, int64(len(data)), info.StorageLength)
	if err != nil {
		return err
	}
	removed, err := c.index.Replace(id, promoted)
	if err != nil {
		return err
	}
	if _, err := c.metadata.Update(id, func(s *types.SegmentInfo) { s.StorageLength += int64(len(data)) }); err != nil {
		return err
	}

	c.bufMu.Lock()
	delete(c.pending, id)
	c.bufMu.Unlock()
	for _, e := range removed {
		if key, _ := e.CacheKey(); e.Kind() == readindex.KindCache {
			c.cache.Remove(key)
		}
	}
	c.logger.Debugf("flushed %d bytes of segment %s", len(data), id)
	return nil
}

// Seal stops further appends to the segment.
func (c *Container) Seal(id types.SegmentID) (types.SegmentInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	info, err := c.metadata.Update(id, func(s *types.SegmentInfo) { s.Sealed = true })
	if err != nil {
		return types.SegmentInfo{}, err
	}
	c.logger.Infof("sealed segment %s at length %d", info.Name, info.Length)
	return info, nil
}

// Scale seals the segment and hands its stream over to successors, creating the ones that do not
// exist yet. The token is recorded as given for clients reading the successors.
func (c *Container) Scale(id types.SegmentID, successors []types.Segment, token string) (types.StreamSegmentSuccessors, error) {
	if len(successors) == 0 {
		return types.StreamSegmentSuccessors{}, fmt.Errorf("%w: scaling needs at least one successor", readindex.ErrInvalidArgument)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	info, err := c.Info(id)
	if err != nil {
		return types.StreamSegmentSuccessors{}, err
	}
	for _, s := range successors {
		if s.ScopedName() == info.Name {
			return types.StreamSegmentSuccessors{}, fmt.Errorf("%w: %s cannot succeed itself", readindex.ErrInvalidArgument, info.Name)
		}
	}
	if _, err := c.metadata.Update(id, func(s *types.SegmentInfo) { s.Sealed = true }); err != nil {
		return types.StreamSegmentSuccessors{}, err
	}
	for _, s := range successors {
		if _, ok := c.metadata.Lookup(s.ScopedName()); ok {
			continue
		}
		if _, err := c.createLocked(s); err != nil {
			return types.StreamSegmentSuccessors{}, err
		}
	}

	result := types.NewStreamSegmentSuccessors(successors, token)
	c.successors[id] = result
	c.logger.Infof("segment %s sealed and succeeded by %d segments", info.Name, result.Len())
	return result, nil
}

// Successors returns what Scale recorded for the segment.
func (c *Container) Successors(id types.SegmentID) (types.StreamSegmentSuccessors, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.successors[id]
	return s, ok
}

// Merge appends the sealed source segment to target. Reads of the merged range are served through
// redirects to the source index until storage has concatenated both objects, after which the
// source is removed.
func (c *Container) Merge(ctx context.Context, target, source types.SegmentID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.flushLocked(ctx, target); err != nil {
		return err
	}
	if err := c.flushLocked(ctx, source); err != nil {
		return err
	}
	tInfo, err := c.Info(target)
	if err != nil {
		return err
	}
	sInfo, err := c.Info(source)
	if err != nil {
		return err
	}

	if err := c.index.BeginMerge(target, tInfo.Length, source); err != nil {
		return err
	}
	if _, err := c.metadata.Update(target, func(s *types.SegmentInfo) { s.Length += sInfo.Length }); err != nil {
		return err
	}
	if _, err := c.metadata.Update(source, func(s *types.SegmentInfo) { s.Merged = true }); err != nil {
		return err
	}

	if err := c.storage.Concat(ctx, target, tInfo.StorageLength, source); err != nil {
		c.logger.Errorf("merge of %s into %s: storage concat failed, rolling back: %v", source, target, err)
		c.abortMergeLocked(target, source, tInfo.Length)
		return err
	}
	if _, err := c.metadata.Update(target, func(s *types.SegmentInfo) { s.StorageLength += sInfo.Length }); err != nil {
		return err
	}
	if err := c.index.CompleteMerge(target, source); err != nil {
		return err
	}

	c.metadata.Remove(source)
	delete(c.successors, source)
	if err := c.storage.Delete(ctx, source); err != nil {
		c.logger.Warnf("merge of %s into %s: failed to delete source object: %v", source, target, err)
	}
	c.logger.Infof("merged %s (%d bytes) into %s at %d", sInfo.Name, sInfo.Length, tInfo.Name, tInfo.Length)
	return nil
}

// abortMergeLocked restores target and source to their state before BeginMerge so Merge can be retried.
func (c *Container) abortMergeLocked(target, source types.SegmentID, targetLength int64) {
	if _, err := c.metadata.Update(target, func(s *types.SegmentInfo) { s.Length = targetLength }); err != nil {
		c.logger.Errorf("merge of %s into %s: restore target length: %v", source, target, err)
	}
	if _, err := c.metadata.Update(source, func(s *types.SegmentInfo) { s.Merged = false }); err != nil {
		c.logger.Errorf("merge of %s into %s: restore source state: %v", source, target, err)
	}
	if err := c.index.AbortMerge(target, source); err != nil {
		c.logger.Errorf("merge of %s into %s: remove redirects: %v", source, target, err)
	}
}

// Truncate discards the segment's data below offset.
func (c *Container) Truncate(id types.SegmentID, offset int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	info, err := c.Info(id)
	if err != nil {
		return err
	}
	if offset < info.StartOffset {
		return fmt.Errorf("%w: segment %s is already truncated at %d", readindex.ErrInvalidArgument, id, info.StartOffset)
	}
	removed, err := c.index.Truncate(id, offset)
	if err != nil {
		return err
	}
	if _, err := c.metadata.Update(id, func(s *types.SegmentInfo) { s.StartOffset = offset }); err != nil {
		return err
	}
	for _, e := range removed {
		if key, _ := e.CacheKey(); e.Kind() == readindex.KindCache {
			c.cache.Remove(key)
		}
	}
	return nil
}

// Delete removes the segment and everything it stores.
func (c *Container) Delete(ctx context.Context, id types.SegmentID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.Info(id); err != nil {
		return err
	}
	entries, _ := c.index.Entries(id)
	c.index.Unregister(id)
	for _, e := range entries {
		if key, _ := e.CacheKey(); e.Kind() == readindex.KindCache {
			c.cache.Remove(key)
		}
	}
	c.bufMu.Lock()
	delete(c.pending, id)
	c.bufMu.Unlock()

	c.metadata.Remove(id)
	delete(c.successors, id)
	return c.storage.Delete(ctx, id)
}

// Read returns up to length bytes of the segment starting at offset, bounded by the segment's
// length and the configured read limit.
func (c *Container) Read(ctx context.Context, id types.SegmentID, offset, length int64) ([]byte, error) {
	info, err := c.Info(id)
	if err != nil {
		return nil, err
	}
	if offset < info.StartOffset {
		return nil, fmt.Errorf("%w: %s at %d, truncated at %d", ErrTruncated, info.Name, offset, info.StartOffset)
	}
	if c.cfg.MaxReadBytes > 0 {
		length = min(length, c.cfg.MaxReadBytes)
	}
	return c.readWindow(ctx, id, offset, length, false)
}

func (c *Container) readWindow(ctx context.Context, id types.SegmentID, offset, length int64, retried bool) ([]byte, error) {
	seq, err := c.index.Read(id, offset, length)
	if err != nil {
		return nil, err
	}
	var out []byte
	for r, err := range seq {
		if err != nil {
			return nil, err
		}
		data, err := c.fetch(ctx, r)
		if err != nil {
			// the source of a merge may have been removed after its redirect was resolved
			if r.SegmentID != id && !retried {
				data, err = c.readWindow(ctx, id, r.Offset, r.Length, true)
			}
			if err != nil {
				return nil, err
			}
		}
		out = append(out, data...)
	}
	return out, nil
}

func (c *Container) fetch(ctx context.Context, r readindex.ReadResult) ([]byte, error) {
	switch r.Kind {
	case readindex.KindStorage:
		return c.storage.Read(ctx, r.SegmentID, r.StorageOffset, int(r.Length))
	case readindex.KindCache:
		if block, ok := c.cache.Get(r.CacheKey); ok && r.CacheOffset+r.Length <= int64(len(block)) {
			return block[r.CacheOffset : r.CacheOffset+r.Length], nil
		}
		if data, ok := c.fromPending(r.SegmentID, r.SegmentOffset, r.Length); ok {
			return data, nil
		}
	}
	// evicted blocks and gaps are served from storage, where segment offsets are storage offsets
	return c.storage.Read(ctx, r.SegmentID, r.SegmentOffset, int(r.Length))
}

// fromPending serves an evicted cache block from the unflushed buffer.
func (c *Container) fromPending(id types.SegmentID, offset, length int64) ([]byte, bool) {
	c.bufMu.RLock()
	defer c.bufMu.RUnlock()
	for _, b := range c.pending[id] {
		if offset >= b.offset && offset+length <= b.offset+int64(len(b.data)) {
			start := offset - b.offset
			return append([]byte(nil), b.data[start:start+length]...), true
		}
	}
	return nil, false
}
