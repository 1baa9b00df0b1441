package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorage(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Write(ctx, "records/b.json", []byte(`{"uid":"b"}`)))
	require.NoError(t, s.Write(ctx, "records/a.msgpack", []byte{0x98}))

	data, err := s.Read(ctx, "records/b.json")
	require.NoError(t, err)
	assert.Equal(t, `{"uid":"b"}`, string(data))

	ok, err := s.Exists(ctx, "records/a.msgpack")
	require.NoError(t, err)
	assert.True(t, ok)

	paths, err := s.List(ctx, "records")
	require.NoError(t, err)
	assert.Equal(t, []string{"records/a.msgpack", "records/b.json"}, paths)

	require.NoError(t, s.Delete(ctx, "records/a.msgpack"))
	_, err = s.Read(ctx, "records/a.msgpack")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "records/a.msgpack"), ErrNotFound)

	ok, err = s.Exists(ctx, "records/a.msgpack")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLocalStorage_ListSkipsTempFiles(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	s, err := NewLocalStorage(base)
	require.NoError(t, err)

	require.NoError(t, s.Write(ctx, "records/a.json", []byte("{}")))
	require.NoError(t, os.WriteFile(filepath.Join(base, "records", "b.json.tmp"), []byte("{"), 0o644))

	paths, err := s.List(ctx, "records")
	require.NoError(t, err)
	assert.Equal(t, []string{"records/a.json"}, paths)

	paths, err = s.List(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, paths)
}

func TestLocalStorage_ResolveStaysInBase(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	s, err := NewLocalStorage(base)
	require.NoError(t, err)

	require.NoError(t, s.Write(ctx, "../../escape.json", []byte("{}")))
	_, err = os.Stat(filepath.Join(base, "escape.json"))
	assert.NoError(t, err)
}
