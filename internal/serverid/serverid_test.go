package serverid

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestLoad_GeneratesOnFirstStart(t *testing.T) {
	db := openTestDB(t)

	id, err := Load(db)
	require.NoError(t, err)
	assert.NotEqual(t, "00000000-0000-0000-0000-000000000000", id.ServerID.String())
	assert.Len(t, id.SessionKey, sessionKeyBytes)
}

func TestLoad_StableAcrossCalls(t *testing.T) {
	db := openTestDB(t)

	first, err := Load(db)
	require.NoError(t, err)

	second, err := Load(db)
	require.NoError(t, err)

	assert.Equal(t, first.ServerID, second.ServerID)
	assert.Equal(t, first.SessionKey, second.SessionKey)
}
