package credstore

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeContract runs the behavior every Store must share.
func storeContract(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	key := LoginKey("acme/chat")

	_, err := s.Get(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Put(ctx, key, []byte(`{"token":"abc"}`)))
	got, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, `{"token":"abc"}`, string(got))

	require.NoError(t, s.Put(ctx, key, []byte(`{"token":"def"}`)))
	got, err = s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, `{"token":"def"}`, string(got))

	require.NoError(t, s.Delete(ctx, key))
	_, err = s.Get(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, s.Delete(ctx, key), "deleting an absent key is fine")

	require.NoError(t, s.Put(ctx, "b/login", []byte("1")))
	require.NoError(t, s.Put(ctx, "a/login", []byte("2")))
	require.NoError(t, s.Put(ctx, "b/login", []byte("3")))
	keys, err := s.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a/login", "b/login"}, keys, "rewritten keys move to the end")
}

func TestLoginKey(t *testing.T) {
	assert.Equal(t, "acme/chat/login", LoginKey("acme/chat"))

	instance, ok := LoginInstance(LoginKey("acme/chat"))
	assert.True(t, ok)
	assert.Equal(t, "acme/chat", instance)

	_, ok = LoginInstance("acme/chat/settings")
	assert.False(t, ok)
}

func TestMemory(t *testing.T) {
	storeContract(t, NewMemory())
}

func TestMemory_ValuesAreCopied(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	value := []byte("abc")
	require.NoError(t, m.Put(ctx, "k", value))
	value[0] = 'x'

	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}

func TestSQLite_InMemory(t *testing.T) {
	s, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	defer s.Close()

	storeContract(t, s)
}

func TestSQLite_PersistsAcrossOpen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "creds.db")

	s1, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, s1.Put(ctx, "a/login", []byte("1")))
	require.NoError(t, s1.Close())

	s2, err := OpenSQLite(path)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.Get(ctx, "a/login")
	require.NoError(t, err)
	assert.Equal(t, "1", string(got))
}

func TestSQLite_KeysInWriteOrder(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Put(ctx, "b/login", []byte("1")))
	require.NoError(t, s.Put(ctx, "a/login", []byte("2")))
	require.NoError(t, s.Put(ctx, "b/login", []byte("3")))

	keys, err := s.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a/login", "b/login"}, keys)
}

func TestSQLite_MigratesLegacySchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.db")

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE credentials (key TEXT PRIMARY KEY, value BLOB NOT NULL)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO credentials (key, value) VALUES ('old/login', 'x')`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	s, err := OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()

	keys, err := s.Keys(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"old/login"}, keys)

	var version int
	require.NoError(t, s.db.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, currentSchemaVersion, version)
}
