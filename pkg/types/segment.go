package types

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// SegmentID identifies a segment within a container.
type SegmentID int64

// NoSegmentID is the reserved "no segment" value. It never names a real segment.
const NoSegmentID SegmentID = math.MinInt64

func (id SegmentID) Valid() bool {
	return id != NoSegmentID
}

func (id SegmentID) String() string {
	if id == NoSegmentID {
		return "none"
	}
	return strconv.FormatInt(int64(id), 10)
}

// CacheKey is the opaque handle the cache hands out for a stored block.
type CacheKey = uuid.UUID

// Segment describes a segment as clients see it: a numbered slice of a scoped stream.
type Segment struct {
	Scope  string
	Stream string
	Number int64
}

func NewSegment(scope, stream string, number int64) Segment {
	return Segment{Scope: scope, Stream: stream, Number: number}
}

// ScopedName returns "scope/stream/number".
func (s Segment) ScopedName() string {
	return fmt.Sprintf("%s/%s/%d", s.Scope, s.Stream, s.Number)
}

func (s Segment) String() string {
	return s.ScopedName()
}

// ParseSegment is the inverse of ScopedName.
func ParseSegment(name string) (Segment, error) {
	parts := strings.Split(name, "/")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return Segment{}, fmt.Errorf("invalid segment name %q: expected scope/stream/number", name)
	}
	n, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return Segment{}, fmt.Errorf("invalid segment number in %q: %w", name, err)
	}
	return Segment{Scope: parts[0], Stream: parts[1], Number: n}, nil
}

// SegmentInfo is a point-in-time view of a segment's container metadata.
type SegmentInfo struct {
	ID            SegmentID
	Name          string
	Length        int64 // logical length, including merged-in data
	StorageLength int64 // bytes durably written to storage
	StartOffset   int64 // truncation point
	Sealed        bool
	Merged        bool // merged into another segment; no longer readable on its own
}
