package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/downfa11-org/readindex/pkg/config"
	"github.com/downfa11-org/readindex/pkg/metrics"
	"github.com/downfa11-org/readindex/pkg/types"
	"github.com/downfa11-org/readindex/util"
	"github.com/natefinch/atomic"
	"golang.org/x/exp/mmap"
)

var (
	ErrSegmentNotFound = errors.New("segment has no storage object")
	ErrOffsetMismatch  = errors.New("write offset does not match storage length")
	ErrOutOfRange      = errors.New("read past the end of the storage object")
)

// FileStorage keeps one append-only file per segment under a data directory.
type FileStorage struct {
	dir string

	mu sync.RWMutex // guards every file in dir; Concat rewrites two of them at once
}

func NewFileStorage(cfg *config.Config) (*FileStorage, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir %s: %w", cfg.DataDir, err)
	}
	return &FileStorage{dir: cfg.DataDir}, nil
}

func (s *FileStorage) path(id types.SegmentID) string {
	return filepath.Join(s.dir, fmt.Sprintf("segment_%d.log", int64(id)))
}

func failed(op string, err error) error {
	metrics.StorageErrors.WithLabelValues(op).Inc()
	return err
}

// Read returns length bytes of the segment's object starting at offset.
func (s *FileStorage) Read(ctx context.Context, id types.SegmentID, offset int64, length int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	reader, err := mmap.Open(s.path(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, failed("read", fmt.Errorf("%w: %s", ErrSegmentNotFound, id))
		}
		return nil, failed("read", fmt.Errorf("mmap open failed: %w", err))
	}
	defer reader.Close()

	if offset < 0 || length < 0 || offset+int64(length) > int64(reader.Len()) {
		return nil, failed("read", fmt.Errorf("%w: segment %s [%d, +%d) of %d bytes", ErrOutOfRange, id, offset, length, reader.Len()))
	}
	buf := make([]byte, length)
	if _, err := reader.ReadAt(buf, offset); err != nil && !errors.Is(err, io.EOF) {
		return nil, failed("read", fmt.Errorf("read segment %s at %d: %w", id, offset, err))
	}
	metrics.StorageBytes.WithLabelValues("read").Add(float64(length))
	return buf, nil
}

// Write appends data to the segment's object, which must currently be offset bytes long.
func (s *FileStorage) Write(ctx context.Context, id types.SegmentID, offset int64, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path(id), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return failed("write", err)
	}
	defer f.Close()
	adviseSequential(f)

	info, err := f.Stat()
	if err != nil {
		return failed("write", err)
	}
	if info.Size() != offset {
		return failed("write", fmt.Errorf("%w: segment %s has %d bytes, write at %d", ErrOffsetMismatch, id, info.Size(), offset))
	}
	if _, err := f.Write(data); err != nil {
		return failed("write", fmt.Errorf("write segment %s: %w", id, err))
	}
	if err := f.Sync(); err != nil {
		return failed("write", fmt.Errorf("sync segment %s: %w", id, err))
	}
	metrics.StorageBytes.WithLabelValues("write").Add(float64(len(data)))
	return nil
}

// Concat appends the source object to the target object. The target is replaced atomically, so a
// crash leaves either the old or the concatenated object. The source object is left in place.
func (s *FileStorage) Concat(ctx context.Context, target types.SegmentID, targetOffset int64, source types.SegmentID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	head, err := os.ReadFile(s.path(target))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return failed("concat", err)
	}
	if int64(len(head)) != targetOffset {
		return failed("concat", fmt.Errorf("%w: segment %s has %d bytes, concat at %d", ErrOffsetMismatch, target, len(head), targetOffset))
	}
	tail, err := os.ReadFile(s.path(source))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			tail = nil
		} else {
			return failed("concat", err)
		}
	}

	if err := atomic.WriteFile(s.path(target), io.MultiReader(bytes.NewReader(head), bytes.NewReader(tail))); err != nil {
		return failed("concat", fmt.Errorf("concat %s onto %s: %w", source, target, err))
	}
	metrics.StorageBytes.WithLabelValues("concat").Add(float64(len(tail)))
	util.Debug("concatenated %s onto %s at %d (%d bytes)", source, target, targetOffset, len(tail))
	return nil
}

// Length returns the size of the segment's object; a segment that was never written has length 0.
func (s *FileStorage) Length(ctx context.Context, id types.SegmentID) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	info, err := os.Stat(s.path(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, failed("stat", err)
	}
	return info.Size(), nil
}

func (s *FileStorage) Delete(ctx context.Context, id types.SegmentID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return failed("delete", err)
	}
	return nil
}
