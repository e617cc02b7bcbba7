package readindex

import (
	"cmp"
	"fmt"
	"iter"
	"math"
	"slices"
	"sort"
	"sync"

	"github.com/downfa11-org/readindex/pkg/types"
)

// SegmentIndex holds the non-overlapping entries of one segment ordered by offset.
// Lookups share a read lock; every mutation, including a whole merge batch, holds the write lock.
type SegmentIndex struct {
	id types.SegmentID

	mu      sync.RWMutex
	entries []Entry
	retired bool

	// set while this segment is being merged into another one
	mergeTarget types.SegmentID
	// merges into this segment that have begun but not completed: source -> target offset
	pendingMerges map[types.SegmentID]int64
}

func NewSegmentIndex(id types.SegmentID) *SegmentIndex {
	return &SegmentIndex{
		id:            id,
		mergeTarget:   types.NoSegmentID,
		pendingMerges: make(map[types.SegmentID]int64),
	}
}

func (si *SegmentIndex) Segment() types.SegmentID {
	return si.id
}

func (si *SegmentIndex) Len() int {
	si.mu.RLock()
	defer si.mu.RUnlock()
	return len(si.entries)
}

// Entries returns a copy of all entries in offset order.
func (si *SegmentIndex) Entries() []Entry {
	si.mu.RLock()
	defer si.mu.RUnlock()
	return slices.Clone(si.entries)
}

func byOffset(a, b Entry) int {
	return cmp.Compare(a.offset, b.offset)
}

// upperBound returns the position of the first entry starting after offset.
func (si *SegmentIndex) upperBound(offset int64) int {
	return sort.Search(len(si.entries), func(i int) bool {
		return si.entries[i].offset > offset
	})
}

// insertPosLocked returns where e belongs, or ErrIndexCorruption if it overlaps a neighbour.
func (si *SegmentIndex) insertPosLocked(e Entry) (int, error) {
	i := si.upperBound(e.offset)
	if i > 0 && si.entries[i-1].overlaps(e) {
		return 0, fmt.Errorf("%w: segment %s: %s overlaps %s", ErrIndexCorruption, si.id, e, si.entries[i-1])
	}
	if i < len(si.entries) && si.entries[i].overlaps(e) {
		return 0, fmt.Errorf("%w: segment %s: %s overlaps %s", ErrIndexCorruption, si.id, e, si.entries[i])
	}
	return i, nil
}

func (si *SegmentIndex) checkWritableLocked() error {
	if si.retired {
		return fmt.Errorf("%w: %s has been retired", ErrUnknownSegment, si.id)
	}
	return nil
}

// Insert adds e. An overlap with an existing entry fails with ErrIndexCorruption and leaves the index as it was.
func (si *SegmentIndex) Insert(e Entry) error {
	if e.kind == KindNone {
		return fmt.Errorf("%w: cannot insert an empty entry", ErrInvalidArgument)
	}
	si.mu.Lock()
	defer si.mu.Unlock()
	if err := si.checkWritableLocked(); err != nil {
		return err
	}
	if si.mergeTarget.Valid() {
		return fmt.Errorf("%w: %s is being merged into %s", ErrSegmentSealed, si.id, si.mergeTarget)
	}
	i, err := si.insertPosLocked(e)
	if err != nil {
		return err
	}
	si.entries = slices.Insert(si.entries, i, e)
	return nil
}

// InsertAll adds every entry or none of them.
func (si *SegmentIndex) InsertAll(batch []Entry) error {
	si.mu.Lock()
	defer si.mu.Unlock()
	if err := si.checkWritableLocked(); err != nil {
		return err
	}
	return si.insertAllLocked(batch)
}

func (si *SegmentIndex) insertAllLocked(batch []Entry) error {
	if len(batch) == 0 {
		return nil
	}
	sorted := slices.Clone(batch)
	slices.SortFunc(sorted, byOffset)
	for i, e := range sorted {
		if e.kind == KindNone {
			return fmt.Errorf("%w: cannot insert an empty entry", ErrInvalidArgument)
		}
		if i > 0 && sorted[i-1].overlaps(e) {
			return fmt.Errorf("%w: segment %s: batch entries %s and %s overlap", ErrIndexCorruption, si.id, sorted[i-1], e)
		}
		if _, err := si.insertPosLocked(e); err != nil {
			return err
		}
	}
	merged := make([]Entry, 0, len(si.entries)+len(sorted))
	i, j := 0, 0
	for i < len(si.entries) && j < len(sorted) {
		if si.entries[i].offset < sorted[j].offset {
			merged = append(merged, si.entries[i])
			i++
		} else {
			merged = append(merged, sorted[j])
			j++
		}
	}
	merged = append(merged, si.entries[i:]...)
	merged = append(merged, sorted[j:]...)
	si.entries = merged
	return nil
}

// Replace inserts e after removing the entries it fully covers, and returns those entries.
// Used when cached data is flushed and its cache entries are superseded by one storage entry.
// An entry that is only partially covered fails the call with ErrIndexCorruption.
func (si *SegmentIndex) Replace(e Entry) ([]Entry, error) {
	if e.kind == KindNone {
		return nil, fmt.Errorf("%w: cannot insert an empty entry", ErrInvalidArgument)
	}
	si.mu.Lock()
	defer si.mu.Unlock()
	if err := si.checkWritableLocked(); err != nil {
		return nil, err
	}

	first := si.upperBound(e.offset)
	if first > 0 && si.entries[first-1].overlaps(e) {
		first--
	}
	last := first
	for last < len(si.entries) && si.entries[last].offset <= e.LastOffset() {
		cur := si.entries[last]
		if cur.offset < e.offset || cur.LastOffset() > e.LastOffset() {
			return nil, fmt.Errorf("%w: segment %s: %s only partially covers %s", ErrIndexCorruption, si.id, e, cur)
		}
		last++
	}
	removed := slices.Clone(si.entries[first:last])
	si.entries = slices.Replace(si.entries, first, last, e)
	return removed, nil
}

// intersecting copies the entries that overlap [offset, end). It reports false once the index is retired.
func (si *SegmentIndex) intersecting(offset, end int64) ([]Entry, bool) {
	si.mu.RLock()
	defer si.mu.RUnlock()
	if si.retired {
		return nil, false
	}
	i := si.upperBound(offset)
	if i > 0 && si.entries[i-1].contains(offset) {
		i--
	}
	j := sort.Search(len(si.entries), func(k int) bool {
		return si.entries[k].offset >= end
	})
	if j <= i {
		return nil, true
	}
	return slices.Clone(si.entries[i:j]), true
}

func windowEnd(offset, maxLength int64) int64 {
	return offset + min(maxLength, math.MaxInt64-offset)
}

// tile yields the pieces of [offset, end) given the entries intersecting it.
func tile(entries []Entry, offset, end int64, yield func(Piece) bool) {
	pos := offset
	for _, e := range entries {
		start := max(e.offset, pos)
		if start > pos {
			if !yield(Piece{Offset: pos, Length: start - pos}) {
				return
			}
		}
		stop := min(e.EndOffset(), end)
		if !yield(Piece{Offset: start, Length: stop - start, Entry: e}) {
			return
		}
		pos = stop
	}
	if pos < end {
		yield(Piece{Offset: pos, Length: end - pos})
	}
}

// Lookup walks [offset, offset+maxLength) in ascending order. Every byte of the window belongs to
// exactly one piece: entries are clipped to the window, uncovered stretches come back as gap pieces.
// The entries are captured when iteration starts; no lock is held while the caller consumes pieces.
// A retired index yields nothing.
func (si *SegmentIndex) Lookup(offset, maxLength int64) iter.Seq[Piece] {
	return func(yield func(Piece) bool) {
		if offset < 0 || maxLength <= 0 {
			return
		}
		end := windowEnd(offset, maxLength)
		entries, live := si.intersecting(offset, end)
		if !live {
			return
		}
		tile(entries, offset, end, yield)
	}
}

// snapshot captures the entries of the window immediately and returns their pieces, or false if the
// index has been retired.
func (si *SegmentIndex) snapshot(offset, maxLength int64) (iter.Seq[Piece], bool) {
	if offset < 0 || maxLength <= 0 {
		return func(func(Piece) bool) {}, true
	}
	end := windowEnd(offset, maxLength)
	entries, live := si.intersecting(offset, end)
	if !live {
		return nil, false
	}
	return func(yield func(Piece) bool) {
		tile(entries, offset, end, yield)
	}, true
}

// RemoveBelow drops every entry that ends before offset and clips the one straddling it.
// It returns the entries that were dropped entirely.
func (si *SegmentIndex) RemoveBelow(offset int64) []Entry {
	si.mu.Lock()
	defer si.mu.Unlock()
	k := sort.Search(len(si.entries), func(i int) bool {
		return si.entries[i].LastOffset() >= offset
	})
	removed := slices.Clone(si.entries[:k])
	si.entries = slices.Delete(si.entries, 0, k)
	if len(si.entries) > 0 && si.entries[0].offset < offset {
		head := si.entries[0]
		si.entries[0] = head.slice(offset, head.EndOffset()-offset)
	}
	return removed
}

// RemoveEntriesForMergedSegment removes and returns every redirect to sourceID and forgets
// any merge of sourceID into this segment that was still pending.
func (si *SegmentIndex) RemoveEntriesForMergedSegment(sourceID types.SegmentID) []Entry {
	si.mu.Lock()
	defer si.mu.Unlock()
	delete(si.pendingMerges, sourceID)
	return si.removeMergedLocked(sourceID)
}

func (si *SegmentIndex) removeMergedLocked(sourceID types.SegmentID) []Entry {
	var removed []Entry
	si.entries = slices.DeleteFunc(si.entries, func(e Entry) bool {
		if e.kind == KindMerged && e.sourceSegment == sourceID {
			removed = append(removed, e)
			return true
		}
		return false
	})
	return removed
}

// markMergeSource blocks further inserts into this index until it is retired or the mark is cleared.
func (si *SegmentIndex) markMergeSource(target types.SegmentID) error {
	si.mu.Lock()
	defer si.mu.Unlock()
	if err := si.checkWritableLocked(); err != nil {
		return err
	}
	if si.mergeTarget.Valid() {
		return fmt.Errorf("%w: %s is already being merged into %s", ErrInvalidArgument, si.id, si.mergeTarget)
	}
	si.mergeTarget = target
	return nil
}

func (si *SegmentIndex) clearMergeSource() {
	si.mu.Lock()
	defer si.mu.Unlock()
	si.mergeTarget = types.NoSegmentID
}

// MergeTarget returns the segment this one is being merged into, or NoSegmentID.
func (si *SegmentIndex) MergeTarget() types.SegmentID {
	si.mu.RLock()
	defer si.mu.RUnlock()
	return si.mergeTarget
}

// PendingMerges returns the sources whose merge into this segment has begun but not completed.
func (si *SegmentIndex) PendingMerges() map[types.SegmentID]int64 {
	si.mu.RLock()
	defer si.mu.RUnlock()
	out := make(map[types.SegmentID]int64, len(si.pendingMerges))
	for k, v := range si.pendingMerges {
		out[k] = v
	}
	return out
}

// beginMerge inserts the translated redirects for source in one critical section.
func (si *SegmentIndex) beginMerge(source types.SegmentID, targetOffset int64, batch []Entry) error {
	si.mu.Lock()
	defer si.mu.Unlock()
	if err := si.checkWritableLocked(); err != nil {
		return err
	}
	if _, ok := si.pendingMerges[source]; ok {
		return fmt.Errorf("%w: merge of %s into %s already begun", ErrInvalidArgument, source, si.id)
	}
	if err := si.insertAllLocked(batch); err != nil {
		return err
	}
	si.pendingMerges[source] = targetOffset
	return nil
}

// completeMerge swaps every redirect to source for the entry produced by convert.
func (si *SegmentIndex) completeMerge(source types.SegmentID, convert func(Entry) (Entry, error)) (int, error) {
	si.mu.Lock()
	defer si.mu.Unlock()
	if err := si.checkWritableLocked(); err != nil {
		return 0, err
	}
	if _, ok := si.pendingMerges[source]; !ok {
		return 0, fmt.Errorf("%w: no merge of %s into %s has begun", ErrInvalidArgument, source, si.id)
	}

	replacements := make([]Entry, 0)
	for _, e := range si.entries {
		if e.kind != KindMerged || e.sourceSegment != source {
			continue
		}
		r, err := convert(e)
		if err != nil {
			return 0, err
		}
		if r.offset != e.offset || r.length != e.length || r.kind == KindMerged {
			return 0, fmt.Errorf("%w: %s cannot replace %s", ErrIndexCorruption, r, e)
		}
		replacements = append(replacements, r)
	}

	si.removeMergedLocked(source)
	if err := si.insertAllLocked(replacements); err != nil {
		return 0, err
	}
	delete(si.pendingMerges, source)
	return len(replacements), nil
}

// retire makes every later mutation fail with ErrUnknownSegment.
func (si *SegmentIndex) retire() {
	si.mu.Lock()
	defer si.mu.Unlock()
	si.retired = true
	si.entries = nil
}
