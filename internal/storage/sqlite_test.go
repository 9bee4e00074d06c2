package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenSQLiteBootstrapsTables(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "nested", "journal.db")
	db, err := OpenSQLite(context.Background(), dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	var name string
	err = db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?;", "dispatch_log").Scan(&name)
	require.NoError(t, err)
	assert.Equal(t, "dispatch_log", name)

	// Bootstrapping twice is harmless.
	require.NoError(t, BootstrapSQLite(context.Background(), db))
}

func TestOpenSQLiteRejectsEmptyPath(t *testing.T) {
	t.Parallel()

	_, err := OpenSQLite(context.Background(), "")
	assert.ErrorContains(t, err, "sqlite path is empty")
}

func TestOpenReadOnly(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "journal.db")
	rw, err := OpenSQLite(context.Background(), dbPath)
	require.NoError(t, err)
	require.NoError(t, rw.Close())

	ro, err := OpenReadOnly(context.Background(), dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ro.Close() })

	var n int
	require.NoError(t, ro.QueryRow("SELECT COUNT(*) FROM dispatch_log").Scan(&n))
	assert.Zero(t, n)

	_, err = OpenReadOnly(context.Background(), filepath.Join(t.TempDir(), "missing.db"))
	assert.Error(t, err)
}
