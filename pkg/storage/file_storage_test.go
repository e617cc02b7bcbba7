package storage

import (
	"context"
	"testing"

	"github.com/downfa11-org/readindex/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T) *FileStorage {
	t.Helper()
	s, err := NewFileStorage(&config.Config{DataDir: t.TempDir()})
	require.NoError(t, err)
	return s
}

func TestFileStorage_WriteAndRead(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	require.NoError(t, s.Write(ctx, 1, 0, []byte("hello ")))
	require.NoError(t, s.Write(ctx, 1, 6, []byte("world")))

	n, err := s.Length(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(11), n)

	got, err := s.Read(ctx, 1, 6, 5)
	require.NoError(t, err)
	assert.Equal(t, "world", string(got))

	_, err = s.Read(ctx, 1, 8, 10)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestFileStorage_WriteRejectsWrongOffset(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	require.NoError(t, s.Write(ctx, 1, 0, []byte("abc")))
	assert.ErrorIs(t, s.Write(ctx, 1, 2, []byte("x")), ErrOffsetMismatch)
	assert.ErrorIs(t, s.Write(ctx, 1, 4, []byte("x")), ErrOffsetMismatch)
}

func TestFileStorage_MissingSegment(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	n, err := s.Length(ctx, 9)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = s.Read(ctx, 9, 0, 1)
	assert.ErrorIs(t, err, ErrSegmentNotFound)
	assert.NoError(t, s.Delete(ctx, 9))
}

func TestFileStorage_Concat(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	require.NoError(t, s.Write(ctx, 1, 0, []byte("target")))
	require.NoError(t, s.Write(ctx, 2, 0, []byte("+source")))

	assert.ErrorIs(t, s.Concat(ctx, 1, 3, 2), ErrOffsetMismatch)
	require.NoError(t, s.Concat(ctx, 1, 6, 2))

	got, err := s.Read(ctx, 1, 0, 13)
	require.NoError(t, err)
	assert.Equal(t, "target+source", string(got))

	n, err := s.Length(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n, "source object is left for the caller to delete")
}

func TestFileStorage_CanceledContext(t *testing.T) {
	s := newTestStorage(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Write(ctx, 1, 0, []byte("x")), context.Canceled)
	_, err := s.Read(ctx, 1, 0, 1)
	assert.ErrorIs(t, err, context.Canceled)
}
