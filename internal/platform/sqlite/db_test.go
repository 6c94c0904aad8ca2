package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testMigrations = fstest.MapFS{
	"m/000001_items.up.sql":   {Data: []byte("CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT NOT NULL);")},
	"m/000001_items.down.sql": {Data: []byte("DROP TABLE items;")},
	"m/000002_tags.up.sql":    {Data: []byte("ALTER TABLE items ADD COLUMN tag TEXT;")},
	"m/000002_tags.down.sql":  {Data: []byte("ALTER TABLE items DROP COLUMN tag;")},
}

func TestOpen_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "journal.db")

	db, err := Open(context.Background(), path)
	require.NoError(t, err)
	defer db.Close()

	var mode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var fk int
	require.NoError(t, db.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)
}

func TestMigrate_InMemory(t *testing.T) {
	ctx := context.Background()
	db, err := OpenInMemory(ctx)
	require.NoError(t, err)
	defer db.Close()

	version, err := Migrate(db, testMigrations, "m")
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)

	// Повторный вызов ничего не меняет.
	version, err = Migrate(db, testMigrations, "m")
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)

	_, err = db.ExecContext(ctx, "INSERT INTO items (name, tag) VALUES ('a', 'x')")
	require.NoError(t, err)
}

func TestWithinTx(t *testing.T) {
	ctx := context.Background()
	db, err := OpenInMemory(ctx)
	require.NoError(t, err)
	defer db.Close()
	_, err = Migrate(db, testMigrations, "m")
	require.NoError(t, err)

	count := func() int {
		var n int
		require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM items").Scan(&n))
		return n
	}

	err = WithinTx(ctx, db, func(q Querier) error {
		_, err := q.ExecContext(ctx, "INSERT INTO items (name) VALUES ('committed')")
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 1, count())

	boom := errors.New("boom")
	err = WithinTx(ctx, db, func(q Querier) error {
		if _, err := q.ExecContext(ctx, "INSERT INTO items (name) VALUES ('rolled back')"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, count())

	assert.Panics(t, func() {
		_ = WithinTx(ctx, db, func(q Querier) error {
			_, _ = q.ExecContext(ctx, "INSERT INTO items (name) VALUES ('panicked')")
			panic("boom")
		})
	})
	assert.Equal(t, 1, count())
}
