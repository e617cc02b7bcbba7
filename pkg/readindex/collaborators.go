package readindex

import (
	"context"

	"github.com/downfa11-org/readindex/pkg/types"
)

// ContainerMetadata supplies segment lengths and seal state. The read index never assigns ids itself.
type ContainerMetadata interface {
	GetSegment(id types.SegmentID) (types.SegmentInfo, bool)
}

// Cache holds recently appended blocks. A block may disappear at any time; a miss is not an error.
type Cache interface {
	Get(key types.CacheKey) ([]byte, bool)
	Put(data []byte) (types.CacheKey, error)
	Remove(key types.CacheKey)
}

// Storage is the durable tier. Offsets are positions inside a segment's storage object.
type Storage interface {
	Read(ctx context.Context, id types.SegmentID, offset int64, length int) ([]byte, error)
	Write(ctx context.Context, id types.SegmentID, offset int64, data []byte) error
	// Concat appends source's object to target's, which must currently be targetOffset bytes long.
	Concat(ctx context.Context, target types.SegmentID, targetOffset int64, source types.SegmentID) error
	Length(ctx context.Context, id types.SegmentID) (int64, error)
	Delete(ctx context.Context, id types.SegmentID) error
}
