package authz

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/0xpr03/vtasync/internal/db/migrations"
)

func setup(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, migrations.NewMigrationManager(db, nil).Migrate())
	return db
}

func seedList(t *testing.T, db *sql.DB, owner, list string) {
	_, err := db.Exec(`INSERT INTO users (uuid, name, last_seen) VALUES (?, ?, 0)`, owner, owner)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO lists (uuid, owner_uuid, name, name_a, name_b, changed, created) VALUES (?, ?, 'x','a','b',0,0)`, list, owner)
	require.NoError(t, err)
}

func TestHasPermission_Owner(t *testing.T) {
	db := setup(t)
	seedList(t, db, "u1", "l1")

	ctx := context.Background()
	for _, p := range []Permission{Read, Write, Reshare, Owner} {
		ok, err := HasPermission(ctx, db, "u1", "l1", p)
		require.NoError(t, err)
		require.True(t, ok)
	}
}

func TestHasPermission_NotFound(t *testing.T) {
	db := setup(t)
	_, err := HasPermission(context.Background(), db, "u1", "missing", Read)
	require.ErrorIs(t, err, ErrListNotFound)
}

func TestHasPermission_GrantRow(t *testing.T) {
	db := setup(t)
	seedList(t, db, "owner", "l1")
	_, err := db.Exec(`INSERT INTO users (uuid, name, last_seen) VALUES ('u2','u2',0)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO list_permissions (list_uuid, user_uuid, write, reshare, changed) VALUES ('l1','u2',1,0,0)`)
	require.NoError(t, err)

	ctx := context.Background()
	ok, err := HasPermission(ctx, db, "u2", "l1", Read)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = HasPermission(ctx, db, "u2", "l1", Write)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = HasPermission(ctx, db, "u2", "l1", Reshare)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = HasPermission(ctx, db, "u2", "l1", Owner)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestHasPermission_NoGrant(t *testing.T) {
	db := setup(t)
	seedList(t, db, "owner", "l1")
	_, err := db.Exec(`INSERT INTO users (uuid, name, last_seen) VALUES ('u3','u3',0)`)
	require.NoError(t, err)

	ok, err := HasPermission(context.Background(), db, "u3", "l1", Read)
	require.NoError(t, err)
	require.False(t, ok)
}
