package badgerstore

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{InMemory: true}, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_SaveAndLoad(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Save("queue:snapshot", []byte(`{"seq":7}`)))

	data, ok, err := s.Load("queue:snapshot")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"seq":7}`, string(data))
}

func TestStore_LoadMissingKey(t *testing.T) {
	s := newTestStore(t)

	data, ok, err := s.Load("nope")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, data)
}

func TestStore_Overwrite(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Save("k", []byte("one")))
	require.NoError(t, s.Save("k", []byte("two")))

	data, ok, err := s.Load("k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "two", string(data))
}

func TestStore_Delete(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Save("k", []byte("v")))
	require.NoError(t, s.Delete("k"))

	_, ok, err := s.Load("k")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, s.Delete("k"), "deleting an absent key is fine")
}

func TestStore_PersistsOnDisk(t *testing.T) {
	dir := t.TempDir()
	logger := slog.New(slog.DiscardHandler)

	s, err := New(Config{Path: dir}, logger)
	require.NoError(t, err)
	require.NoError(t, s.Save("k", []byte("survives")))
	require.NoError(t, s.Close())

	reopened, err := New(Config{Path: dir}, logger)
	require.NoError(t, err)
	defer reopened.Close()

	data, ok, err := reopened.Load("k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "survives", string(data))
}
