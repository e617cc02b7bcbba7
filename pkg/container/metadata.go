package container

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/downfa11-org/readindex/pkg/types"
)

var (
	ErrSegmentExists   = errors.New("segment already exists")
	ErrSegmentNotFound = errors.New("segment not found")
)

// Metadata tracks every segment of the container: its id, name, lengths and state.
type Metadata struct {
	mu     sync.RWMutex
	nextID types.SegmentID
	byID   map[types.SegmentID]types.SegmentInfo
	byName map[string]types.SegmentID
}

func NewMetadata() *Metadata {
	return &Metadata{
		byID:   make(map[types.SegmentID]types.SegmentInfo),
		byName: make(map[string]types.SegmentID),
	}
}

// Create assigns the next id to a new, empty segment.
func (md *Metadata) Create(name string) (types.SegmentInfo, error) {
	md.mu.Lock()
	defer md.mu.Unlock()

	if _, ok := md.byName[name]; ok {
		return types.SegmentInfo{}, fmt.Errorf("%w: %s", ErrSegmentExists, name)
	}
	info := types.SegmentInfo{ID: md.nextID, Name: name}
	md.nextID++
	md.byID[info.ID] = info
	md.byName[name] = info.ID
	return info, nil
}

func (md *Metadata) GetSegment(id types.SegmentID) (types.SegmentInfo, bool) {
	md.mu.RLock()
	defer md.mu.RUnlock()
	info, ok := md.byID[id]
	return info, ok
}

func (md *Metadata) Lookup(name string) (types.SegmentInfo, bool) {
	md.mu.RLock()
	defer md.mu.RUnlock()
	id, ok := md.byName[name]
	if !ok {
		return types.SegmentInfo{}, false
	}
	return md.byID[id], true
}

// Update applies fn to the segment's metadata and returns the result.
func (md *Metadata) Update(id types.SegmentID, fn func(*types.SegmentInfo)) (types.SegmentInfo, error) {
	md.mu.Lock()
	defer md.mu.Unlock()

	info, ok := md.byID[id]
	if !ok {
		return types.SegmentInfo{}, fmt.Errorf("%w: %s", ErrSegmentNotFound, id)
	}
	fn(&info)
	md.byID[id] = info
	return info, nil
}

func (md *Metadata) Remove(id types.SegmentID) {
	md.mu.Lock()
	defer md.mu.Unlock()
	if info, ok := md.byID[id]; ok {
		delete(md.byName, info.Name)
		delete(md.byID, id)
	}
}

// Segments returns all segments ordered by id.
func (md *Metadata) Segments() []types.SegmentInfo {
	md.mu.RLock()
	defer md.mu.RUnlock()
	out := make([]types.SegmentInfo, 0, len(md.byID))
	for _, info := range md.byID {
		out = append(out, info)
	}
	slices.SortFunc(out, func(a, b types.SegmentInfo) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}
