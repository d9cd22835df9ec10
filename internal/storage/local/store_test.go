package local

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pagelens/pagelens/internal/storage"
)

func TestNewCreatesBaseDir(t *testing.T) {
	t.Parallel()

	base := filepath.Join(t.TempDir(), "artifacts")
	s, err := New(base)
	require.NoError(t, err)
	require.NoError(t, s.HealthCheck(context.Background()))
}

func TestNewRejectsEmptyBaseDir(t *testing.T) {
	t.Parallel()

	_, err := New("  ")
	require.Error(t, err)
}

func TestWriteReadRoundTrip(t *testing.T) {
	t.Parallel()

	s, err := New(t.TempDir())
	require.NoError(t, err)

	key := "screenshots/t1/rec-1.png"
	require.NoError(t, s.Write(context.Background(), key, []byte("payload"), storage.WriteOptions{}))

	data, err := s.Read(context.Background(), key)
	require.NoError(t, err)
	require.Equal(t, "payload", string(data))

	exists, err := s.Exists(context.Background(), key)
	require.NoError(t, err)
	require.True(t, exists)

	info, err := s.Stat(context.Background(), key)
	require.NoError(t, err)
	require.Equal(t, int64(7), info.Size)
	require.NotEmpty(t, info.ETag)

	rc, _, err := s.ReadStream(context.Background(), key)
	require.NoError(t, err)
	defer rc.Close()
	streamed, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, data, streamed)
}

func TestReadMissingKey(t *testing.T) {
	t.Parallel()

	s, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = s.Read(context.Background(), "absent.png")
	require.ErrorIs(t, err, storage.ErrObjectNotFound)
	_, err = s.Stat(context.Background(), "absent.png")
	require.ErrorIs(t, err, storage.ErrObjectNotFound)
}

func TestRejectsPathTraversal(t *testing.T) {
	t.Parallel()

	s, err := New(t.TempDir())
	require.NoError(t, err)

	err = s.Write(context.Background(), "../escape.png", []byte("x"), storage.WriteOptions{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "path traversal")

	_, err = s.Read(context.Background(), "a/../../escape.png")
	require.Error(t, err)
}

func TestDeleteManyToleratesMissing(t *testing.T) {
	t.Parallel()

	s, err := New(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Write(context.Background(), "a.png", []byte("a"), storage.WriteOptions{}))
	require.NoError(t, s.Write(context.Background(), "b.png", []byte("b"), storage.WriteOptions{}))

	res, err := s.DeleteMany(context.Background(), []string{"a.png", "b.png", "absent.png"})
	require.NoError(t, err)
	require.Equal(t, 3, res.Deleted)
	require.Empty(t, res.Errors)

	exists, err := s.Exists(context.Background(), "a.png")
	require.NoError(t, err)
	require.False(t, exists)
}
