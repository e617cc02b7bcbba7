package types_test

import (
	"testing"

	"github.com/downfa11-org/readindex/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSegmentIDSentinel(t *testing.T) {
	assert.False(t, types.NoSegmentID.Valid())
	assert.True(t, types.SegmentID(0).Valid())
	assert.Equal(t, "none", types.NoSegmentID.String())
	assert.Equal(t, "42", types.SegmentID(42).String())
}

func TestSegmentScopedNameRoundTrip(t *testing.T) {
	seg := types.NewSegment("scope", "orders", 7)
	assert.Equal(t, "scope/orders/7", seg.ScopedName())

	parsed, err := types.ParseSegment(seg.ScopedName())
	require.NoError(t, err)
	assert.Equal(t, seg, parsed)

	_, err = types.ParseSegment("scope/orders")
	assert.Error(t, err)
	_, err = types.ParseSegment("scope/orders/x")
	assert.Error(t, err)
}

func TestSuccessorsEquality(t *testing.T) {
	a := types.NewSegment("s", "st", 1)
	b := types.NewSegment("s", "st", 2)

	s1 := types.NewStreamSegmentSuccessors([]types.Segment{a, b}, "token")
	s2 := types.NewStreamSegmentSuccessors([]types.Segment{b, a, a}, "token")
	assert.True(t, s1.Equal(s2), "order and duplicates must not matter")
	assert.Equal(t, 2, s2.Len())

	assert.False(t, s1.Equal(types.NewStreamSegmentSuccessors([]types.Segment{a, b}, "other")))
	assert.False(t, s1.Equal(types.NewStreamSegmentSuccessors([]types.Segment{a}, "token")))
	assert.False(t, s1.Equal(types.NewStreamSegmentSuccessors([]types.Segment{a, types.NewSegment("s", "st", 3)}, "token")))
}

func TestSuccessorsImmutable(t *testing.T) {
	a := types.NewSegment("s", "st", 1)
	input := []types.Segment{a}
	succ := types.NewStreamSegmentSuccessors(input, "")

	input[0] = types.NewSegment("s", "st", 99)
	assert.True(t, succ.Contains(a))

	out := succ.Segments()
	out[0] = types.NewSegment("x", "y", 0)
	assert.True(t, succ.Contains(a))
	assert.Equal(t, "", succ.DelegationToken())
}

func TestSuccessorsSorted(t *testing.T) {
	succ := types.NewStreamSegmentSuccessors([]types.Segment{
		types.NewSegment("b", "s", 0),
		types.NewSegment("a", "s", 2),
		types.NewSegment("a", "s", 1),
	}, "t")
	got := succ.SortedSegments()
	require.Len(t, got, 3)
	assert.Equal(t, "a/s/1", got[0].ScopedName())
	assert.Equal(t, "a/s/2", got[1].ScopedName())
	assert.Equal(t, "b/s/0", got[2].ScopedName())
}
