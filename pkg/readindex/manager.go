package readindex

import (
	"errors"
	"fmt"
	"iter"
	"slices"

	"github.com/downfa11-org/readindex/pkg/config"
	"github.com/downfa11-org/readindex/pkg/metrics"
	"github.com/downfa11-org/readindex/pkg/types"
	"github.com/downfa11-org/readindex/util"
	"github.com/puzpuzpuz/xsync/v3"
)

// Manager owns the index of every active segment in a container and sequences the operations
// that span two segments (merges). The id -> index map has its own synchronisation; it is only
// touched to find, install or drop an index, never while an index lock is held.
type Manager struct {
	indexes  *xsync.MapOf[types.SegmentID, *SegmentIndex]
	metadata ContainerMetadata
	maxDepth int
	logger   *util.Logger
}

func NewManager(cfg *config.Config, metadata ContainerMetadata) *Manager {
	depth := cfg.MaxRedirectDepth
	if depth <= 0 {
		depth = config.DefaultMaxRedirectDepth
	}
	return &Manager{
		indexes:  xsync.NewMapOf[types.SegmentID, *SegmentIndex](),
		metadata: metadata,
		maxDepth: depth,
		logger:   util.NewLogger("read-index"),
	}
}

// Register creates the index for a segment that became active, or returns the existing one.
func (m *Manager) Register(id types.SegmentID) (*SegmentIndex, error) {
	if !id.Valid() {
		return nil, fmt.Errorf("%w: cannot register the no-segment id", ErrInvalidArgument)
	}
	idx, loaded := m.indexes.LoadOrCompute(id, func() *SegmentIndex {
		return NewSegmentIndex(id)
	})
	if !loaded {
		metrics.ActiveSegments.Inc()
		m.logger.Debugf("registered index for segment %s", id)
	}
	return idx, nil
}

// Unregister drops a segment's index. It reports whether there was one.
func (m *Manager) Unregister(id types.SegmentID) bool {
	idx, ok := m.indexes.LoadAndDelete(id)
	if !ok {
		return false
	}
	idx.retire()
	metrics.ActiveSegments.Dec()
	m.logger.Debugf("unregistered index for segment %s", id)
	return true
}

func (m *Manager) Contains(id types.SegmentID) bool {
	_, ok := m.indexes.Load(id)
	return ok
}

// Segments lists the segments that currently have an index, in ascending id order.
func (m *Manager) Segments() []types.SegmentID {
	ids := make([]types.SegmentID, 0, m.indexes.Size())
	m.indexes.Range(func(id types.SegmentID, _ *SegmentIndex) bool {
		ids = append(ids, id)
		return true
	})
	slices.Sort(ids)
	return ids
}

// Close retires every index.
func (m *Manager) Close() {
	m.indexes.Range(func(id types.SegmentID, idx *SegmentIndex) bool {
		if _, ok := m.indexes.LoadAndDelete(id); ok {
			idx.retire()
			metrics.ActiveSegments.Dec()
		}
		return true
	})
}

func (m *Manager) index(id types.SegmentID) (*SegmentIndex, error) {
	idx, ok := m.indexes.Load(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSegment, id)
	}
	return idx, nil
}

func (m *Manager) segmentInfo(id types.SegmentID) (types.SegmentInfo, error) {
	info, ok := m.metadata.GetSegment(id)
	if !ok {
		return types.SegmentInfo{}, fmt.Errorf("%w: no metadata for %s", ErrUnknownSegment, id)
	}
	return info, nil
}

func (m *Manager) signalCorruption(op string, err error) error {
	if errors.Is(err, ErrIndexCorruption) {
		metrics.CorruptionSignals.WithLabelValues(op).Inc()
		m.logger.Errorf("%s: %v", op, err)
	}
	return err
}

// AppendEntry adds a cache or storage entry for newly ingested data.
func (m *Manager) AppendEntry(id types.SegmentID, e Entry) error {
	idx, err := m.index(id)
	if err != nil {
		return err
	}
	info, err := m.segmentInfo(id)
	if err != nil {
		return err
	}
	switch e.kind {
	case KindCache, KindStorage:
	case KindMerged:
		return fmt.Errorf("%w: redirects are only created by a merge", ErrInvalidArgument)
	default:
		return fmt.Errorf("%w: cannot append an empty entry", ErrInvalidArgument)
	}
	if info.Sealed {
		return fmt.Errorf("%w: %s", ErrSegmentSealed, id)
	}
	if e.EndOffset() > info.Length {
		return m.signalCorruption("append", fmt.Errorf("%w: %s ends past the length %d of segment %s",
			ErrIndexCorruption, e, info.Length, id))
	}
	if err := idx.Insert(e); err != nil {
		return m.signalCorruption("append", err)
	}
	metrics.EntriesInserted.WithLabelValues(e.kind.String()).Inc()
	return nil
}

// Replace swaps the entries covered by e for e itself. This is how cache entries are promoted to a
// storage entry once their bytes are durable. The part of e below the segment's truncation point is
// dropped. The removed entries are returned so the caller can release their cache blocks.
func (m *Manager) Replace(id types.SegmentID, e Entry) ([]Entry, error) {
	idx, err := m.index(id)
	if err != nil {
		return nil, err
	}
	info, err := m.segmentInfo(id)
	if err != nil {
		return nil, err
	}
	if e.kind != KindCache && e.kind != KindStorage {
		return nil, fmt.Errorf("%w: only cache and storage entries can replace others, got %s", ErrInvalidArgument, e.kind)
	}
	if e.EndOffset() > info.Length {
		return nil, m.signalCorruption("replace", fmt.Errorf("%w: %s ends past the length %d of segment %s",
			ErrIndexCorruption, e, info.Length, id))
	}
	if e.offset < info.StartOffset {
		if e.EndOffset() <= info.StartOffset {
			return nil, nil
		}
		e = e.slice(info.StartOffset, e.EndOffset()-info.StartOffset)
	}
	removed, err := idx.Replace(e)
	if err != nil {
		return nil, m.signalCorruption("replace", err)
	}
	metrics.EntriesInserted.WithLabelValues(e.kind.String()).Inc()
	return removed, nil
}

// Entries returns a snapshot of a segment's entries, redirects included.
func (m *Manager) Entries(id types.SegmentID) ([]Entry, error) {
	idx, err := m.index(id)
	if err != nil {
		return nil, err
	}
	return idx.Entries(), nil
}

func clipWindow(info types.SegmentInfo, offset, maxLength int64) int64 {
	if offset >= info.Length {
		return 0
	}
	return min(maxLength, info.Length-offset)
}

func validateWindow(offset, maxLength int64) error {
	if offset < 0 {
		return fmt.Errorf("%w: offset must be non-negative, got %d", ErrInvalidArgument, offset)
	}
	if maxLength < 0 {
		return fmt.Errorf("%w: length must be non-negative, got %d", ErrInvalidArgument, maxLength)
	}
	return nil
}

// Lookup returns the raw pieces of a segment inside [offset, offset+maxLength) ∩ [0, length).
// Unlike Read, redirects are returned as they are.
func (m *Manager) Lookup(id types.SegmentID, offset, maxLength int64) (iter.Seq[Piece], error) {
	if err := validateWindow(offset, maxLength); err != nil {
		return nil, err
	}
	idx, err := m.index(id)
	if err != nil {
		return nil, err
	}
	info, err := m.segmentInfo(id)
	if err != nil {
		return nil, err
	}
	metrics.Lookups.Inc()
	return idx.Lookup(offset, clipWindow(info, offset, maxLength)), nil
}

// ReadResult locates one stretch of a read. Kind is KindCache, KindStorage, or KindNone for a gap the
// caller must fetch from storage itself. SegmentID and SegmentOffset name the segment whose index
// resolved the bytes, which differs from the segment that was read when redirects were followed.
type ReadResult struct {
	Offset int64 // offset in the segment that was read
	Length int64
	Kind   EntryKind

	SegmentID     types.SegmentID
	SegmentOffset int64

	CacheKey      types.CacheKey // KindCache
	CacheOffset   int64          // KindCache: position inside the cached block
	StorageOffset int64          // KindStorage

	Hops int // redirects followed
}

func (r ReadResult) IsGap() bool {
	return r.Kind == KindNone
}

func (r ReadResult) EndOffset() int64 {
	return r.Offset + r.Length
}

func (r ReadResult) String() string {
	switch r.Kind {
	case KindCache:
		return fmt.Sprintf("[%d, %d) cache %s+%d (segment %s@%d, hops %d)", r.Offset, r.EndOffset(), r.CacheKey, r.CacheOffset, r.SegmentID, r.SegmentOffset, r.Hops)
	case KindStorage:
		return fmt.Sprintf("[%d, %d) storage @%d (segment %s@%d, hops %d)", r.Offset, r.EndOffset(), r.StorageOffset, r.SegmentID, r.SegmentOffset, r.Hops)
	default:
		return fmt.Sprintf("[%d, %d) gap (segment %s@%d, hops %d)", r.Offset, r.EndOffset(), r.SegmentID, r.SegmentOffset, r.Hops)
	}
}

// Read resolves [offset, offset+maxLength) ∩ [0, length) of a segment into terminal locations.
// Redirects left by merges are followed until a cache entry, storage entry or gap is reached;
// a chain longer than the configured depth yields ErrIndexCorruption. Pieces are produced one at a
// time as the caller consumes the sequence, and no index lock is held between pieces.
func (m *Manager) Read(id types.SegmentID, offset, maxLength int64) (iter.Seq2[ReadResult, error], error) {
	if err := validateWindow(offset, maxLength); err != nil {
		return nil, err
	}
	if _, err := m.index(id); err != nil {
		return nil, err
	}
	info, err := m.segmentInfo(id)
	if err != nil {
		return nil, err
	}
	length := clipWindow(info, offset, maxLength)
	metrics.Lookups.Inc()
	return func(yield func(ReadResult, error) bool) {
		if length > 0 {
			m.resolve(id, offset, length, yield)
		}
	}, nil
}

// readFrame is a window still to be resolved.
type readFrame struct {
	segment    types.SegmentID
	offset     int64
	length     int64
	readOffset int64 // where the window starts in the segment the caller asked for
	depth      int

	// the redirect this frame was produced by, used to re-resolve once if the source has been
	// retired by a CompleteMerge that raced with this read
	parent  *readFrame
	retried bool
}

func (m *Manager) resolve(id types.SegmentID, offset, length int64, yield func(ReadResult, error) bool) {
	stack := []*readFrame{{segment: id, offset: offset, length: length, readOffset: offset}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if f.depth > m.maxDepth {
			yield(ReadResult{}, m.signalCorruption("read", fmt.Errorf(
				"%w: redirect chain for segment %s at offset %d is deeper than %d", ErrIndexCorruption, id, f.readOffset, m.maxDepth)))
			return
		}

		var pieces iter.Seq[Piece]
		idx, ok := m.indexes.Load(f.segment)
		if ok {
			pieces, ok = idx.snapshot(f.offset, f.length)
		}
		if !ok {
			switch {
			case f.parent == nil:
				yield(ReadResult{}, fmt.Errorf("%w: %s", ErrUnknownSegment, f.segment))
			case !f.parent.retried:
				retry := *f.parent
				retry.retried = true
				stack = append(stack, &retry)
				continue
			default:
				yield(ReadResult{}, m.signalCorruption("read", fmt.Errorf(
					"%w: segment %s redirects to %s which has no index", ErrIndexCorruption, f.parent.segment, f.segment)))
			}
			return
		}

		for p := range pieces {
			readOffset := f.readOffset + (p.Offset - f.offset)
			if p.Entry.kind == KindMerged {
				loc := p.Location()
				if rest := f.offset + f.length - p.EndOffset(); rest > 0 {
					stack = append(stack, &readFrame{
						segment:    f.segment,
						offset:     p.EndOffset(),
						length:     rest,
						readOffset: readOffset + p.Length,
						depth:      f.depth,
						parent:     f.parent,
						retried:    f.retried,
					})
				}
				stack = append(stack, &readFrame{
					segment:    loc.sourceSegment,
					offset:     loc.sourceOffset,
					length:     p.Length,
					readOffset: readOffset,
					depth:      f.depth + 1,
					parent: &readFrame{
						segment:    f.segment,
						offset:     p.Offset,
						length:     p.Length,
						readOffset: readOffset,
						depth:      f.depth,
						parent:     f.parent,
						retried:    f.retried,
					},
				})
				break
			}

			r := ReadResult{
				Offset:        readOffset,
				Length:        p.Length,
				Kind:          p.Entry.kind,
				SegmentID:     f.segment,
				SegmentOffset: p.Offset,
				Hops:          f.depth,
			}
			loc := p.Location()
			switch loc.kind {
			case KindCache:
				r.CacheKey, r.CacheOffset = loc.CacheKey()
			case KindStorage:
				r.StorageOffset = loc.storageOffset
			}
			metrics.RecordReadResult(r.Kind.String(), r.Hops)
			if !yield(r, nil) {
				return
			}
		}
	}
}

// BeginMerge appends the sealed source segment to the end of target. Every stretch of the source,
// indexed or not, becomes a redirect in target at targetOffset plus its source offset; no bytes
// move. All redirects become visible together. The source accepts no further appends.
func (m *Manager) BeginMerge(target types.SegmentID, targetOffset int64, source types.SegmentID) error {
	if target == source {
		return fmt.Errorf("%w: cannot merge segment %s into itself", ErrInvalidArgument, target)
	}
	tIdx, err := m.index(target)
	if err != nil {
		return err
	}
	sIdx, err := m.index(source)
	if err != nil {
		return err
	}
	tInfo, err := m.segmentInfo(target)
	if err != nil {
		return err
	}
	sInfo, err := m.segmentInfo(source)
	if err != nil {
		return err
	}
	if !sInfo.Sealed {
		return fmt.Errorf("%w: merge source %s", ErrSegmentNotSealed, source)
	}
	if tInfo.Sealed {
		return fmt.Errorf("%w: merge target %s", ErrSegmentSealed, target)
	}
	if targetOffset != tInfo.Length {
		return fmt.Errorf("%w: merge of %s into %s at %d, but target length is %d",
			ErrInvalidMergeOffset, source, target, targetOffset, tInfo.Length)
	}

	if err := sIdx.markMergeSource(target); err != nil {
		return err
	}
	batch := make([]Entry, 0, sIdx.Len()+1)
	for p := range sIdx.Lookup(0, sInfo.Length) {
		e, err := NewMergedEntry(targetOffset+p.Offset, p.Length, source, p.Offset)
		if err != nil {
			sIdx.clearMergeSource()
			return err
		}
		batch = append(batch, e)
	}
	if err := tIdx.beginMerge(source, targetOffset, batch); err != nil {
		sIdx.clearMergeSource()
		return m.signalCorruption("merge", err)
	}

	metrics.Merges.WithLabelValues("begin").Inc()
	metrics.EntriesInserted.WithLabelValues(KindMerged.String()).Add(float64(len(batch)))
	m.logger.Infof("merge of %s into %s begun at offset %d with %d redirects", source, target, targetOffset, len(batch))
	return nil
}

// CompleteMerge is called once the storage tier has appended the source's bytes to the target's own
// storage object, at the offset the merge began. Each redirect to source becomes a storage entry at
// the same target offset, and the source index is retired.
func (m *Manager) CompleteMerge(target, source types.SegmentID) error {
	tIdx, err := m.index(target)
	if err != nil {
		return err
	}
	sIdx, err := m.index(source)
	if err != nil {
		return err
	}
	if pending := sIdx.PendingMerges(); len(pending) > 0 {
		return fmt.Errorf("%w: %s still has %d merges of its own in flight", ErrInvalidArgument, source, len(pending))
	}

	n, err := tIdx.completeMerge(source, func(e Entry) (Entry, error) {
		return NewStorageEntry(e.offset, e.length, e.offset)
	})
	if err != nil {
		return m.signalCorruption("merge", err)
	}

	if sIdx, ok := m.indexes.LoadAndDelete(source); ok {
		sIdx.retire()
		metrics.ActiveSegments.Dec()
	}
	metrics.Merges.WithLabelValues("complete").Inc()
	m.logger.Infof("merge of %s into %s completed, %d redirects collapsed", source, target, n)
	return nil
}

// AbortMerge undoes a BeginMerge whose storage step failed: the redirects to source are removed from
// target and source is no longer marked as merging, so the merge can be started again.
func (m *Manager) AbortMerge(target, source types.SegmentID) error {
	tIdx, err := m.index(target)
	if err != nil {
		return err
	}
	sIdx, err := m.index(source)
	if err != nil {
		return err
	}
	if _, ok := tIdx.PendingMerges()[source]; !ok {
		return fmt.Errorf("%w: no merge of %s into %s has begun", ErrInvalidArgument, source, target)
	}
	removed := tIdx.RemoveEntriesForMergedSegment(source)
	sIdx.clearMergeSource()

	metrics.Merges.WithLabelValues("abort").Inc()
	m.logger.Warnf("merge of %s into %s aborted, %d redirects removed", source, target, len(removed))
	return nil
}

// Truncate forgets everything below offset. It returns the entries dropped entirely.
func (m *Manager) Truncate(id types.SegmentID, offset int64) ([]Entry, error) {
	if offset < 0 {
		return nil, fmt.Errorf("%w: truncation offset must be non-negative, got %d", ErrInvalidArgument, offset)
	}
	idx, err := m.index(id)
	if err != nil {
		return nil, err
	}
	info, err := m.segmentInfo(id)
	if err != nil {
		return nil, err
	}
	if offset > info.Length {
		return nil, fmt.Errorf("%w: truncation offset %d is past the length %d of segment %s",
			ErrInvalidArgument, offset, info.Length, id)
	}
	removed := idx.RemoveBelow(offset)
	metrics.Truncations.Inc()
	metrics.TruncatedEntries.Add(float64(len(removed)))
	m.logger.Debugf("segment %s truncated at %d, %d entries dropped", id, offset, len(removed))
	return removed, nil
}
