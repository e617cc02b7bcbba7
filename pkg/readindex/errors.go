package readindex

import "errors"

var (
	// ErrInvalidArgument is returned when an entry or request fails validation. Nothing is modified.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrIndexCorruption signals an overlap, an entry past the segment's length or a redirect chain that
	// does not terminate. It points at an upstream sequencing bug and is not retryable.
	ErrIndexCorruption = errors.New("read index corruption")

	// ErrUnknownSegment is returned for segments that have no index, including retired merge sources.
	ErrUnknownSegment = errors.New("unknown segment")

	// ErrInvalidMergeOffset is returned when a merge does not start at the target's current length.
	ErrInvalidMergeOffset = errors.New("invalid merge offset")

	// ErrSegmentNotSealed is returned when a merge source still accepts appends.
	ErrSegmentNotSealed = errors.New("segment is not sealed")

	// ErrSegmentSealed is returned when appending to a sealed segment or one that is being merged away.
	ErrSegmentSealed = errors.New("segment is sealed")
)
