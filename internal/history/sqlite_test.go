package history

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "history.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore_InsertAndContains(t *testing.T) {
	ctx := context.Background()
	s := setupTestDB(t)

	ok, err := s.Contains(ctx, "18c2f0a1b2")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Insert(ctx, "18c2f0a1b2"))
	require.NoError(t, s.Insert(ctx, "18c2f0a1b2"), "duplicate insert is ignored")

	ok, err = s.Contains(ctx, "18c2f0a1b2")
	require.NoError(t, err)
	assert.True(t, ok)

	var count int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM delivered_messages`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.db")

	s, err := NewSQLiteStore(ctx, path, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, s.Insert(ctx, "abc"))
	require.NoError(t, s.Close())

	reopened, err := NewSQLiteStore(ctx, path, zerolog.Nop())
	require.NoError(t, err)
	defer reopened.Close()

	ok, err := reopened.Contains(ctx, "abc")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	fileStore, err := OpenStore(ctx, StoreOptions{Driver: DriverFile, Path: filepath.Join(dir, "db.json")}, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, fileStore)

	sqliteStore, err := OpenStore(ctx, StoreOptions{Driver: DriverSQLite, Path: filepath.Join(dir, "db.sqlite")}, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, sqliteStore)
	sqliteStore.Close()

	_, err = OpenStore(ctx, StoreOptions{Driver: DriverRedis, RedisURL: "not a url"}, zerolog.Nop())
	assert.Error(t, err)

	_, err = OpenStore(ctx, StoreOptions{Driver: "mongo"}, zerolog.Nop())
	assert.Error(t, err)
}
