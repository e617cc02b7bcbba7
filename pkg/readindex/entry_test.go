package readindex

import (
	"errors"
	"math"
	"testing"

	"github.com/downfa11-org/readindex/pkg/types"
	"github.com/google/uuid"
)

func mustStorage(t *testing.T, offset, length, storageOffset int64) Entry {
	t.Helper()
	e, err := NewStorageEntry(offset, length, storageOffset)
	if err != nil {
		t.Fatalf("NewStorageEntry(%d, %d, %d): %v", offset, length, storageOffset, err)
	}
	return e
}

func mustCache(t *testing.T, offset, length int64) Entry {
	t.Helper()
	e, err := NewCacheEntry(offset, length, uuid.New())
	if err != nil {
		t.Fatalf("NewCacheEntry(%d, %d): %v", offset, length, err)
	}
	return e
}

func mustMerged(t *testing.T, offset, length int64, source types.SegmentID, sourceOffset int64) Entry {
	t.Helper()
	e, err := NewMergedEntry(offset, length, source, sourceOffset)
	if err != nil {
		t.Fatalf("NewMergedEntry(%d, %d, %s, %d): %v", offset, length, source, sourceOffset, err)
	}
	return e
}

func TestEntry_ConstructorsRejectInvalidInput(t *testing.T) {
	tests := []struct {
		name string
		new  func() (Entry, error)
	}{
		{"negative offset", func() (Entry, error) { return NewStorageEntry(-1, 10, 0) }},
		{"zero length", func() (Entry, error) { return NewStorageEntry(0, 0, 0) }},
		{"negative length", func() (Entry, error) { return NewCacheEntry(0, -5, uuid.New()) }},
		{"range overflow", func() (Entry, error) { return NewStorageEntry(math.MaxInt64-1, 10, 0) }},
		{"negative storage offset", func() (Entry, error) { return NewStorageEntry(0, 10, -1) }},
		{"nil cache key", func() (Entry, error) { return NewCacheEntry(0, 10, uuid.Nil) }},
		{"no-segment source", func() (Entry, error) { return NewMergedEntry(0, 10, types.NoSegmentID, 0) }},
		{"negative source offset", func() (Entry, error) { return NewMergedEntry(0, 10, 3, -1) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.new(); !errors.Is(err, ErrInvalidArgument) {
				t.Fatalf("expected ErrInvalidArgument, got %v", err)
			}
		})
	}
}

func TestEntry_LastOffset(t *testing.T) {
	e := mustStorage(t, 10, 5, 0)
	if e.LastOffset() != 14 {
		t.Fatalf("expected last offset 14, got %d", e.LastOffset())
	}
	if e.EndOffset() != 15 {
		t.Fatalf("expected end offset 15, got %d", e.EndOffset())
	}
	if e.LastOffset() < e.StreamSegmentOffset() {
		t.Fatalf("last offset %d precedes start %d", e.LastOffset(), e.StreamSegmentOffset())
	}

	one := mustStorage(t, 7, 1, 0)
	if one.LastOffset() != one.StreamSegmentOffset() {
		t.Fatalf("single byte entry should end where it starts, got %d", one.LastOffset())
	}
}

func TestEntry_StructuralEquality(t *testing.T) {
	key := uuid.New()
	a, _ := NewCacheEntry(0, 10, key)
	b, _ := NewCacheEntry(0, 10, key)
	if a != b {
		t.Fatalf("entries with equal fields should be equal: %s vs %s", a, b)
	}
	c, _ := NewCacheEntry(0, 10, uuid.New())
	if a == c {
		t.Fatalf("entries with different keys should differ")
	}
}

func TestEntry_KindSpecificAccessors(t *testing.T) {
	s := mustStorage(t, 0, 10, 40)
	if s.StorageOffset() != 40 || s.SourceSegmentID() != types.NoSegmentID || s.SourceSegmentOffset() != -1 {
		t.Fatalf("unexpected accessors on %s", s)
	}
	m := mustMerged(t, 100, 10, 9, 3)
	if m.StorageOffset() != -1 || m.SourceSegmentID() != 9 || m.SourceSegmentOffset() != 3 {
		t.Fatalf("unexpected accessors on %s", m)
	}
	c := mustCache(t, 0, 10)
	if key, off := c.CacheKey(); key == uuid.Nil || off != 0 {
		t.Fatalf("unexpected cache key %s+%d", key, off)
	}
	if key, _ := s.CacheKey(); key != uuid.Nil {
		t.Fatalf("storage entry should not report a cache key")
	}
}

func TestEntry_SliceShiftsLocation(t *testing.T) {
	s := mustStorage(t, 100, 50, 400).slice(120, 10)
	if s.StreamSegmentOffset() != 120 || s.Length() != 10 || s.StorageOffset() != 420 {
		t.Fatalf("unexpected storage slice %s", s)
	}
	m := mustMerged(t, 100, 50, 2, 0).slice(130, 5)
	if m.SourceSegmentOffset() != 30 || m.SourceSegmentID() != 2 {
		t.Fatalf("unexpected merged slice %s", m)
	}
	c := mustCache(t, 0, 64).slice(16, 8)
	if _, off := c.CacheKey(); off != 16 {
		t.Fatalf("expected cache offset 16, got %d", off)
	}
}
