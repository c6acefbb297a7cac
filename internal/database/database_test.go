package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ppp-gateway/internal/config"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "history.db")
	db, err := Open(&config.DatabaseConfig{Driver: DriverSQLite}, path, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRebind(t *testing.T) {
	sqlite := &DB{driver: DriverSQLite}
	pg := &DB{driver: DriverPostgres}

	query := "UPDATE sessions SET ended_at = $1 WHERE id = $12 AND note = '$'"
	assert.Equal(t, "UPDATE sessions SET ended_at = ? WHERE id = ? AND note = '$'", sqlite.Rebind(query))
	assert.Equal(t, query, pg.Rebind(query))
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(&config.DatabaseConfig{Driver: "mysql"}, "x", zap.NewNop())
	assert.Error(t, err)
}

func TestMigrateUpDown(t *testing.T) {
	db := openTestDB(t)
	migrator := NewMigrator(db, zap.NewNop())

	require.NoError(t, migrator.Up())
	// Running again is a no-op.
	require.NoError(t, migrator.Up())

	version, dirty, err := migrator.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	_, err = db.Exec(`INSERT INTO sessions (id, device, started_at) VALUES ('a', '/dev/ttyUSB0', 1)`)
	require.NoError(t, err)

	require.NoError(t, migrator.Down())
	_, err = db.Exec(`SELECT COUNT(*) FROM sessions`)
	assert.Error(t, err)
}
