package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithForeignKeys(t *testing.T) {
	assert.Equal(t, "a.db?_foreign_keys=on", withForeignKeys("a.db"))
	assert.Equal(t, "file:a.db?mode=rwc&_foreign_keys=on", withForeignKeys("file:a.db?mode=rwc"))
	assert.Equal(t, "a.db?_fk=0", withForeignKeys("a.db?_fk=0"))
}

func TestSQLiteEnforcesForeignKeys(t *testing.T) {
	ctx := context.Background()
	db, err := NewDB(ctx, "sqlite", filepath.Join(t.TempDir(), "fk.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	assert.Equal(t, DriverSQLite, db.Driver)
	assert.True(t, db.Healthy(ctx))

	var on int
	require.NoError(t, db.Client.QueryRowContext(ctx, `PRAGMA foreign_keys`).Scan(&on))
	assert.Equal(t, 1, on)

	_, err = NewDB(ctx, "oracle", "x")
	assert.Error(t, err)
}
