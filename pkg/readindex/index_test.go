package readindex

import (
	"errors"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
)

var entryEqual = cmp.Comparer(func(a, b Entry) bool { return a == b })

func collect(si *SegmentIndex, offset, length int64) []Piece {
	return slices.Collect(si.Lookup(offset, length))
}

func TestSegmentIndex_InsertOverlapLeavesIndexUnchanged(t *testing.T) {
	si := NewSegmentIndex(1)
	first := mustStorage(t, 0, 10, 0)
	if err := si.Insert(first); err != nil {
		t.Fatalf("insert: %v", err)
	}
	before := si.Entries()

	err := si.Insert(mustStorage(t, 5, 10, 5))
	if !errors.Is(err, ErrIndexCorruption) {
		t.Fatalf("expected ErrIndexCorruption, got %v", err)
	}
	if diff := cmp.Diff(before, si.Entries(), entryEqual); diff != "" {
		t.Fatalf("index changed after failed insert (-before +after):\n%s", diff)
	}
}

func TestSegmentIndex_EntriesStayOrdered(t *testing.T) {
	si := NewSegmentIndex(1)
	for _, off := range []int64{40, 0, 20, 10, 30} {
		if err := si.Insert(mustStorage(t, off, 10, off)); err != nil {
			t.Fatalf("insert at %d: %v", off, err)
		}
	}
	entries := si.Entries()
	for i := 1; i < len(entries); i++ {
		if entries[i-1].LastOffset() >= entries[i].StreamSegmentOffset() {
			t.Fatalf("entries out of order or overlapping: %s then %s", entries[i-1], entries[i])
		}
	}
}

func TestSegmentIndex_LookupTilesWindowWithGaps(t *testing.T) {
	si := NewSegmentIndex(1)
	cache := mustCache(t, 0, 10)
	storage := mustStorage(t, 20, 10, 0)
	if err := si.InsertAll([]Entry{storage, cache}); err != nil {
		t.Fatalf("insert all: %v", err)
	}

	got := collect(si, 5, 30)
	want := []Piece{
		{Offset: 5, Length: 5, Entry: cache},
		{Offset: 10, Length: 10},
		{Offset: 20, Length: 10, Entry: storage},
		{Offset: 30, Length: 5},
	}
	if diff := cmp.Diff(want, got, entryEqual); diff != "" {
		t.Fatalf("lookup mismatch (-want +got):\n%s", diff)
	}

	var total int64
	pos := int64(5)
	for _, p := range got {
		if p.Offset != pos {
			t.Fatalf("piece %s does not start at %d", p, pos)
		}
		pos = p.EndOffset()
		total += p.Length
	}
	if total != 30 {
		t.Fatalf("pieces cover %d bytes, expected 30", total)
	}
}

func TestSegmentIndex_LookupEmptyWindow(t *testing.T) {
	si := NewSegmentIndex(1)
	if got := collect(si, 0, 0); len(got) != 0 {
		t.Fatalf("expected no pieces, got %v", got)
	}
	got := collect(si, 0, 8)
	if len(got) != 1 || !got[0].IsGap() || got[0].Length != 8 {
		t.Fatalf("expected a single gap, got %v", got)
	}
}

func TestSegmentIndex_LookupSubrangeOfEntry(t *testing.T) {
	si := NewSegmentIndex(1)
	e := mustStorage(t, 100, 50, 400)
	if err := si.Insert(e); err != nil {
		t.Fatalf("insert: %v", err)
	}
	for d := int64(0); d < e.Length(); d += 7 {
		got := collect(si, e.StreamSegmentOffset()+d, e.Length()-d)
		if len(got) != 1 {
			t.Fatalf("d=%d: expected one piece, got %v", d, got)
		}
		loc := got[0].Location()
		if loc.StreamSegmentOffset() != 100+d || loc.Length() != 50-d || loc.StorageOffset() != 400+d {
			t.Fatalf("d=%d: unexpected location %s", d, loc)
		}
	}
}

func TestSegmentIndex_LookupDoesNotHoldLock(t *testing.T) {
	si := NewSegmentIndex(1)
	if err := si.Insert(mustStorage(t, 0, 10, 0)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	for range si.Lookup(0, 20) {
		if err := si.Insert(mustStorage(t, 100, 10, 100)); err != nil && !errors.Is(err, ErrIndexCorruption) {
			t.Fatalf("insert during iteration: %v", err)
		}
	}
	if si.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", si.Len())
	}
}

func TestSegmentIndex_InsertAllIsAllOrNothing(t *testing.T) {
	si := NewSegmentIndex(1)
	if err := si.Insert(mustStorage(t, 50, 10, 0)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	batch := []Entry{mustStorage(t, 0, 10, 0), mustStorage(t, 55, 10, 0)}
	if err := si.InsertAll(batch); !errors.Is(err, ErrIndexCorruption) {
		t.Fatalf("expected ErrIndexCorruption, got %v", err)
	}
	if si.Len() != 1 {
		t.Fatalf("expected the failed batch to leave 1 entry, got %d", si.Len())
	}

	overlapping := []Entry{mustStorage(t, 0, 10, 0), mustStorage(t, 5, 10, 0)}
	if err := si.InsertAll(overlapping); !errors.Is(err, ErrIndexCorruption) {
		t.Fatalf("expected ErrIndexCorruption for a self-overlapping batch, got %v", err)
	}
}

func TestSegmentIndex_ReplacePromotesCoveredEntries(t *testing.T) {
	si := NewSegmentIndex(1)
	a, b := mustCache(t, 0, 10), mustCache(t, 10, 10)
	tail := mustCache(t, 20, 5)
	if err := si.InsertAll([]Entry{a, b, tail}); err != nil {
		t.Fatalf("insert all: %v", err)
	}

	promoted := mustStorage(t, 0, 20, 0)
	removed, err := si.Replace(promoted)
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	if diff := cmp.Diff([]Entry{a, b}, removed, entryEqual); diff != "" {
		t.Fatalf("removed mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]Entry{promoted, tail}, si.Entries(), entryEqual); diff != "" {
		t.Fatalf("entries mismatch (-want +got):\n%s", diff)
	}
}

func TestSegmentIndex_ReplacePartialOverlapFails(t *testing.T) {
	si := NewSegmentIndex(1)
	if err := si.Insert(mustCache(t, 0, 10)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	before := si.Entries()
	if _, err := si.Replace(mustStorage(t, 5, 10, 0)); !errors.Is(err, ErrIndexCorruption) {
		t.Fatalf("expected ErrIndexCorruption, got %v", err)
	}
	if diff := cmp.Diff(before, si.Entries(), entryEqual); diff != "" {
		t.Fatalf("index changed (-before +after):\n%s", diff)
	}
}

func TestSegmentIndex_RemoveBelow(t *testing.T) {
	si := NewSegmentIndex(1)
	first, second, third := mustStorage(t, 0, 10, 0), mustStorage(t, 10, 10, 10), mustStorage(t, 20, 10, 20)
	if err := si.InsertAll([]Entry{first, second, third}); err != nil {
		t.Fatalf("insert all: %v", err)
	}
	before := collect(si, 15, 100)

	removed := si.RemoveBelow(15)
	if diff := cmp.Diff([]Entry{first}, removed, entryEqual); diff != "" {
		t.Fatalf("removed mismatch (-want +got):\n%s", diff)
	}
	for _, p := range collect(si, 0, 15) {
		if !p.IsGap() {
			t.Fatalf("expected only gaps below the truncation point, got %s", p)
		}
	}
	after := collect(si, 15, 100)
	if diff := cmp.Diff(before, after, cmp.Comparer(func(a, b Piece) bool {
		return a.Offset == b.Offset && a.Length == b.Length && a.Location() == b.Location()
	})); diff != "" {
		t.Fatalf("lookup above truncation changed (-before +after):\n%s", diff)
	}
}

func TestSegmentIndex_RemoveEntriesForMergedSegment(t *testing.T) {
	si := NewSegmentIndex(1)
	own := mustStorage(t, 0, 10, 0)
	fromTwo := mustMerged(t, 10, 5, 2, 0)
	fromThree := mustMerged(t, 15, 5, 3, 0)
	if err := si.InsertAll([]Entry{own, fromTwo, fromThree}); err != nil {
		t.Fatalf("insert all: %v", err)
	}
	removed := si.RemoveEntriesForMergedSegment(2)
	if diff := cmp.Diff([]Entry{fromTwo}, removed, entryEqual); diff != "" {
		t.Fatalf("removed mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]Entry{own, fromThree}, si.Entries(), entryEqual); diff != "" {
		t.Fatalf("entries mismatch (-want +got):\n%s", diff)
	}
}

func TestSegmentIndex_RetiredRejectsMutations(t *testing.T) {
	si := NewSegmentIndex(1)
	si.retire()
	if err := si.Insert(mustStorage(t, 0, 10, 0)); !errors.Is(err, ErrUnknownSegment) {
		t.Fatalf("expected ErrUnknownSegment, got %v", err)
	}
}

func TestSegmentIndex_SnapshotReportsRetirement(t *testing.T) {
	si := NewSegmentIndex(1)
	if err := si.Insert(mustStorage(t, 0, 10, 0)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	pieces, ok := si.snapshot(0, 10)
	if !ok {
		t.Fatalf("live index reported as retired")
	}
	si.retire()

	// pieces captured before retirement still describe the entries
	var got []Piece
	for p := range pieces {
		got = append(got, p)
	}
	if len(got) != 1 || got[0].Entry.Kind() != KindStorage {
		t.Fatalf("expected the captured storage piece, got %v", got)
	}
	if _, ok := si.snapshot(0, 10); ok {
		t.Fatalf("retired index should not hand out pieces")
	}
	if got := collect(si, 0, 10); len(got) != 0 {
		t.Fatalf("Lookup on a retired index should yield nothing, got %v", got)
	}
}

func TestSegmentIndex_MergeSourceRejectsInserts(t *testing.T) {
	si := NewSegmentIndex(2)
	if err := si.markMergeSource(1); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if err := si.Insert(mustStorage(t, 0, 10, 0)); !errors.Is(err, ErrSegmentSealed) {
		t.Fatalf("expected ErrSegmentSealed, got %v", err)
	}
	if si.MergeTarget() != 1 {
		t.Fatalf("expected merge target 1, got %s", si.MergeTarget())
	}
	si.clearMergeSource()
	if err := si.Insert(mustStorage(t, 0, 10, 0)); err != nil {
		t.Fatalf("insert after clearing: %v", err)
	}
}
