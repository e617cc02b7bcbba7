package readindex

import (
	"fmt"
	"math"

	"github.com/downfa11-org/readindex/pkg/types"
	"github.com/google/uuid"
)

// EntryKind tags where the bytes of an entry live.
type EntryKind uint8

const (
	// KindNone marks the absence of an entry (a gap).
	KindNone EntryKind = iota
	KindCache
	KindStorage
	KindMerged
)

func (k EntryKind) String() string {
	switch k {
	case KindNone:
		return "gap"
	case KindCache:
		return "cache"
	case KindStorage:
		return "storage"
	case KindMerged:
		return "merged"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Entry maps the range [StreamSegmentOffset, StreamSegmentOffset+Length) of a segment to a location.
// Entries are values: they are never modified in place and == compares every field.
type Entry struct {
	offset int64
	length int64
	kind   EntryKind

	// KindCache
	cacheKey    types.CacheKey
	cacheOffset int64 // position of offset inside the cached block

	// KindStorage
	storageOffset int64

	// KindMerged
	sourceSegment types.SegmentID
	sourceOffset  int64
}

func validateRange(offset, length int64) error {
	if offset < 0 {
		return fmt.Errorf("%w: offset must be non-negative, got %d", ErrInvalidArgument, offset)
	}
	if length <= 0 {
		return fmt.Errorf("%w: length must be positive, got %d", ErrInvalidArgument, length)
	}
	if offset > math.MaxInt64-length {
		return fmt.Errorf("%w: range [%d, +%d) overflows", ErrInvalidArgument, offset, length)
	}
	return nil
}

// NewCacheEntry records that the bytes are held in the cache block identified by key.
func NewCacheEntry(offset, length int64, key types.CacheKey) (Entry, error) {
	if err := validateRange(offset, length); err != nil {
		return Entry{}, err
	}
	if key == uuid.Nil {
		return Entry{}, fmt.Errorf("%w: cache key must be set", ErrInvalidArgument)
	}
	return Entry{offset: offset, length: length, kind: KindCache, cacheKey: key}, nil
}

// NewStorageEntry records that the bytes are in durable storage at storageOffset.
func NewStorageEntry(offset, length, storageOffset int64) (Entry, error) {
	if err := validateRange(offset, length); err != nil {
		return Entry{}, err
	}
	if storageOffset < 0 {
		return Entry{}, fmt.Errorf("%w: storage offset must be non-negative, got %d", ErrInvalidArgument, storageOffset)
	}
	return Entry{offset: offset, length: length, kind: KindStorage, storageOffset: storageOffset}, nil
}

// NewMergedEntry records that the bytes were merged in from sourceSegment, where they start at sourceOffset.
func NewMergedEntry(offset, length int64, sourceSegment types.SegmentID, sourceOffset int64) (Entry, error) {
	if err := validateRange(offset, length); err != nil {
		return Entry{}, err
	}
	if !sourceSegment.Valid() {
		return Entry{}, fmt.Errorf("%w: source segment id must not be the no-segment sentinel", ErrInvalidArgument)
	}
	if sourceOffset < 0 {
		return Entry{}, fmt.Errorf("%w: source segment offset must be non-negative, got %d", ErrInvalidArgument, sourceOffset)
	}
	return Entry{offset: offset, length: length, kind: KindMerged, sourceSegment: sourceSegment, sourceOffset: sourceOffset}, nil
}

func (e Entry) Kind() EntryKind {
	return e.kind
}

func (e Entry) StreamSegmentOffset() int64 {
	return e.offset
}

func (e Entry) Length() int64 {
	return e.length
}

// LastOffset is the offset of the last byte covered by the entry.
func (e Entry) LastOffset() int64 {
	return e.offset + e.length - 1
}

// EndOffset is the first offset after the entry.
func (e Entry) EndOffset() int64 {
	return e.offset + e.length
}

// CacheKey returns the cache block key and the position of the entry's first byte in that block.
func (e Entry) CacheKey() (types.CacheKey, int64) {
	if e.kind != KindCache {
		return uuid.Nil, 0
	}
	return e.cacheKey, e.cacheOffset
}

// StorageOffset is only meaningful for KindStorage; -1 otherwise.
func (e Entry) StorageOffset() int64 {
	if e.kind != KindStorage {
		return -1
	}
	return e.storageOffset
}

func (e Entry) SourceSegmentID() types.SegmentID {
	if e.kind != KindMerged {
		return types.NoSegmentID
	}
	return e.sourceSegment
}

// SourceSegmentOffset is only meaningful for KindMerged; -1 otherwise.
func (e Entry) SourceSegmentOffset() int64 {
	if e.kind != KindMerged {
		return -1
	}
	return e.sourceOffset
}

func (e Entry) contains(offset int64) bool {
	return offset >= e.offset && offset < e.EndOffset()
}

func (e Entry) overlaps(other Entry) bool {
	return e.offset <= other.LastOffset() && other.offset <= e.LastOffset()
}

// slice returns the part of e covering [start, start+length), with every location shifted by the
// same amount. The caller guarantees the window lies inside e.
func (e Entry) slice(start, length int64) Entry {
	delta := start - e.offset
	out := e
	out.offset = start
	out.length = length
	switch e.kind {
	case KindCache:
		out.cacheOffset += delta
	case KindStorage:
		out.storageOffset += delta
	case KindMerged:
		out.sourceOffset += delta
	}
	return out
}

func (e Entry) String() string {
	switch e.kind {
	case KindCache:
		return fmt.Sprintf("Cache[%d, %d) key=%s+%d", e.offset, e.EndOffset(), e.cacheKey, e.cacheOffset)
	case KindStorage:
		return fmt.Sprintf("Storage[%d, %d) storageOffset=%d", e.offset, e.EndOffset(), e.storageOffset)
	case KindMerged:
		return fmt.Sprintf("Merged[%d, %d) source=%s@%d", e.offset, e.EndOffset(), e.sourceSegment, e.sourceOffset)
	default:
		return fmt.Sprintf("Gap[%d, %d)", e.offset, e.EndOffset())
	}
}

// Piece is one step of a lookup: the window [Offset, Offset+Length) and the entry covering it,
// or the zero Entry when nothing covers it.
type Piece struct {
	Offset int64
	Length int64
	Entry  Entry
}

func (p Piece) IsGap() bool {
	return p.Entry.kind == KindNone
}

func (p Piece) EndOffset() int64 {
	return p.Offset + p.Length
}

// Location returns the entry clipped to the piece's window, with its location shifted to match.
func (p Piece) Location() Entry {
	if p.IsGap() {
		return Entry{offset: p.Offset, length: p.Length}
	}
	return p.Entry.slice(p.Offset, p.Length)
}

func (p Piece) String() string {
	return fmt.Sprintf("[%d, %d) -> %s", p.Offset, p.EndOffset(), p.Location())
}
