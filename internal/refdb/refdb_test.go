package refdb

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "main.db")))
	require.NoError(t, err)
	return db
}

func touchSQLiteFile(t *testing.T, path string) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(path))
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())
}

func TestAttach_SkipsMissingFilesWithoutError(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	missing := filepath.Join(t.TempDir(), "does-not-exist.db")

	m := New([]Source{{Alias: AliasIOC, Path: missing}}, nil, nil)
	attached := m.Attach(context.Background(), db)

	assert.False(t, attached.Has(AliasIOC))
}

func TestAttach_AttachesPresentFiles(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	iocPath := filepath.Join(t.TempDir(), "ioc.db")
	touchSQLiteFile(t, iocPath)

	m := New([]Source{{Alias: AliasIOC, Path: iocPath}}, nil, nil)
	attached := m.Attach(context.Background(), db)

	assert.True(t, attached.Has(AliasIOC))
	m.Detach(context.Background(), db, attached)
}

func TestWithAttached_DetachesEvenWhenFnErrors(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	iocPath := filepath.Join(t.TempDir(), "ioc.db")
	touchSQLiteFile(t, iocPath)

	m := New([]Source{{Alias: AliasIOC, Path: iocPath}}, nil, nil)

	err := m.WithAttached(context.Background(), db, func(a *Attached) error {
		assert.True(t, a.Has(AliasIOC))
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	// A second WithAttached succeeding proves the first detached cleanly —
	// attaching the same alias twice without a prior detach would error.
	err = m.WithAttached(context.Background(), db, func(a *Attached) error {
		return nil
	})
	assert.NoError(t, err)
}

func TestDetach_ReverseOrderAndLogsOnError(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	a := &Attached{aliases: []string{AliasIOC, AliasPatLevin}}
	m := New(nil, nil, nil)

	assert.NotPanics(t, func() {
		m.Detach(context.Background(), db, a)
	})
}

func TestNew_DefaultExistsUsesOSStat(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "present.db")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	assert.True(t, defaultExists(path))
	assert.False(t, defaultExists(filepath.Join(dir, "absent.db")))
}
