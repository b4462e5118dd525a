package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_PutGet(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	at := time.Date(2026, 5, 1, 10, 30, 0, 123, time.UTC)

	require.NoError(t, s.Put(ctx, "ada", []byte(`{"v":1}`), 1, at))

	rec, err := s.Get(ctx, "ada")
	require.NoError(t, err)
	assert.Equal(t, "ada", rec.Identity)
	assert.JSONEq(t, `{"v":1}`, string(rec.Payload))
	assert.True(t, at.Equal(rec.SavedAt))
}

func TestStore_PutOverwrites(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "ada", []byte(`{"v":1}`), 1, time.Now()))
	require.NoError(t, s.Put(ctx, "ada", []byte(`{"v":2}`), 1, time.Now()))

	rec, err := s.Get(ctx, "ada")
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":2}`, string(rec.Payload))

	ids, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ada"}, ids)
}

func TestStore_NotFoundAndDelete(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()

	_, err := s.Get(ctx, "nobody")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Put(ctx, "ada", []byte(`{}`), 1, time.Now()))
	require.NoError(t, s.Delete(ctx, "ada"))
	_, err = s.Get(ctx, "ada")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, s.Delete(ctx, "ada"), "deleting twice is fine")
}

func TestStore_ListOrder(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.Put(ctx, "a", []byte(`{}`), 1, base))
	require.NoError(t, s.Put(ctx, "b", []byte(`{}`), 1, base.Add(time.Hour)))
	require.NoError(t, s.Put(ctx, "c", []byte(`{}`), 1, base.Add(30*time.Minute)))

	ids, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c", "a"}, ids)
}

func TestStore_PersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "snapshots.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, "ada", []byte(`{"v":3}`), 1, time.Now()))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	rec, err := s.Get(ctx, "ada")
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":3}`, string(rec.Payload))
}

func TestMigrations_AddFormatToInitialSchema(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	s := &Store{db: db, dbPath: ":memory:"}
	defer s.Close()

	require.NoError(t, s.initialize())
	assert.False(t, columnExists(db, "session_snapshots", "format"))
	_, err = db.Exec(`INSERT INTO session_snapshots (identity, payload, saved_at) VALUES ('ada', '{}', '2026-05-01T10:00:00Z')`)
	require.NoError(t, err)

	require.NoError(t, runMigrations(db))
	assert.True(t, columnExists(db, "session_snapshots", "format"))

	// Idempotent.
	require.NoError(t, runMigrations(db))

	rec, err := s.Get(context.Background(), "ada")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Format)
	assert.Equal(t, time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC), rec.SavedAt)
}

func TestStore_FormatRoundTrip(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "ada", []byte(`{}`), 3, time.Now()))
	rec, err := s.Get(ctx, "ada")
	require.NoError(t, err)
	assert.Equal(t, 3, rec.Format)
}

func TestStore_UnreadableSavedAt(t *testing.T) {
	s := openMemory(t)
	_, err := s.db.Exec(`INSERT INTO session_snapshots (identity, payload, saved_at) VALUES ('ada', '{}', 'yesterday')`)
	require.NoError(t, err)

	rec, err := s.Get(context.Background(), "ada")
	require.NoError(t, err)
	assert.True(t, rec.SavedAt.IsZero())
	assert.Equal(t, 1, rec.Format)
}
