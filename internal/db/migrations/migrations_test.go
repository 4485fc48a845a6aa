package migrations

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func createTestDB(t *testing.T) *sql.DB {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func TestNewMigrationManager(t *testing.T) {
	db := createTestDB(t)
	logger := logrus.New()
	logger.SetOutput(os.Stderr)

	manager := NewMigrationManager(db, logger)
	require.NotNil(t, manager)
	assert.NotNil(t, manager.db)
	assert.NotNil(t, manager.logger)
	assert.Greater(t, len(manager.migrations), 0)
}

func TestMigrationManager_Initialize(t *testing.T) {
	db := createTestDB(t)
	manager := NewMigrationManager(db, nil)

	err := manager.Initialize()
	require.NoError(t, err)

	var tableName string
	err = db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='schema_version'").Scan(&tableName)
	require.NoError(t, err)
	assert.Equal(t, "schema_version", tableName)
}

func TestMigrationManager_GetCurrentVersion_EmptyDB(t *testing.T) {
	db := createTestDB(t)
	manager := NewMigrationManager(db, nil)

	err := manager.Initialize()
	require.NoError(t, err)

	version, err := manager.GetCurrentVersion()
	require.NoError(t, err)
	assert.Equal(t, 0, version)
}

func TestMigrationManager_Migrate_CreatesAllTables(t *testing.T) {
	db := createTestDB(t)
	manager := NewMigrationManager(db, nil)

	require.NoError(t, manager.Migrate())

	tables := []string{
		"settings",
		"users", "user_key", "user_login",
		"lists", "list_permissions",
		"entries", "entry_meaning",
		"share_token",
		"deleted_user", "deleted_list", "deleted_list_shared", "deleted_entry",
	}
	for _, table := range tables {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		require.NoErrorf(t, err, "table %s should exist", table)
		assert.Equal(t, table, name)
	}

	version, err := manager.GetCurrentVersion()
	require.NoError(t, err)
	assert.Equal(t, manager.GetTargetVersion(), version)
}

func TestMigrationManager_Migrate_Idempotent(t *testing.T) {
	db := createTestDB(t)
	manager := NewMigrationManager(db, nil)

	require.NoError(t, manager.Migrate())
	require.NoError(t, manager.Migrate()) // running twice must be a no-op

	history, err := manager.GetMigrationHistory()
	require.NoError(t, err)
	assert.Len(t, history, len(getAllMigrations()))
}

func TestMigrationManager_ForeignKeyInsertWithoutPragma(t *testing.T) {
	db := createTestDB(t)
	manager := NewMigrationManager(db, nil)
	require.NoError(t, manager.Migrate())

	_, err := db.Exec(`INSERT INTO user_key (user_uuid, public_key, key_type) VALUES ('missing', X'00', 'EC_PEM')`)
	// modernc.org/sqlite only enforces FKs when PRAGMA foreign_keys=ON is set
	// on the connection; callers that need enforcement set that pragma in
	// the DSN. Here we only assert the insert doesn't panic/crash.
	_ = err
}
