package types

import "sort"

// StreamSegmentSuccessors is the set of segments that replace a sealed segment,
// together with the delegation token clients present when reading them.
// The token is carried verbatim and never interpreted.
type StreamSegmentSuccessors struct {
	segments        map[Segment]struct{}
	delegationToken string
}

func NewStreamSegmentSuccessors(segments []Segment, delegationToken string) StreamSegmentSuccessors {
	set := make(map[Segment]struct{}, len(segments))
	for _, s := range segments {
		set[s] = struct{}{}
	}
	return StreamSegmentSuccessors{segments: set, delegationToken: delegationToken}
}

// Segments returns a copy of the successor set in no particular order.
func (s StreamSegmentSuccessors) Segments() []Segment {
	out := make([]Segment, 0, len(s.segments))
	for seg := range s.segments {
		out = append(out, seg)
	}
	return out
}

// SortedSegments returns the successors ordered by scoped name, for display.
func (s StreamSegmentSuccessors) SortedSegments() []Segment {
	out := s.Segments()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Scope != out[j].Scope {
			return out[i].Scope < out[j].Scope
		}
		if out[i].Stream != out[j].Stream {
			return out[i].Stream < out[j].Stream
		}
		return out[i].Number < out[j].Number
	})
	return out
}

func (s StreamSegmentSuccessors) Len() int {
	return len(s.segments)
}

func (s StreamSegmentSuccessors) Contains(seg Segment) bool {
	_, ok := s.segments[seg]
	return ok
}

func (s StreamSegmentSuccessors) DelegationToken() string {
	return s.delegationToken
}

// Equal compares both the segment set and the token.
func (s StreamSegmentSuccessors) Equal(other StreamSegmentSuccessors) bool {
	if s.delegationToken != other.delegationToken || len(s.segments) != len(other.segments) {
		return false
	}
	for seg := range s.segments {
		if _, ok := other.segments[seg]; !ok {
			return false
		}
	}
	return true
}
