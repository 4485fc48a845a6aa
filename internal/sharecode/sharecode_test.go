package sharecode

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/0xpr03/vtasync/internal/db/migrations"
)

func setup(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, migrations.NewMigrationManager(db, nil).Migrate())

	_, err = db.Exec(`INSERT INTO users (uuid, name, last_seen) VALUES ('u1','u1',0),('u2','u2',0)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO lists (uuid, owner_uuid, name, name_a, name_b, changed, created) VALUES ('l1','u1','x','a','b',0,0)`)
	require.NoError(t, err)
	return db
}

func TestGenerateAndUse_SingleUse(t *testing.T) {
	db := setup(t)
	ctx := context.Background()

	a, b, err := Generate(ctx, db, "l1", Params{Write: true, Deadline: time.Now().Add(time.Hour)})
	require.NoError(t, err)

	list, err := Use(ctx, db, "u2", a, b, time.Now())
	require.NoError(t, err)
	require.Equal(t, "l1", list)

	_, err = Use(ctx, db, "u2", a, b, time.Now())
	require.ErrorIs(t, err, ErrInvalid)
}

func TestUse_Reusable(t *testing.T) {
	db := setup(t)
	ctx := context.Background()

	a, b, err := Generate(ctx, db, "l1", Params{Reusable: true, Deadline: time.Now().Add(time.Hour)})
	require.NoError(t, err)

	_, err = db.Exec(`INSERT INTO users (uuid, name, last_seen) VALUES ('u3','u3',0)`)
	require.NoError(t, err)

	_, err = Use(ctx, db, "u2", a, b, time.Now())
	require.NoError(t, err)
	_, err = Use(ctx, db, "u3", a, b, time.Now())
	require.NoError(t, err)
}

func TestUse_Expired(t *testing.T) {
	db := setup(t)
	ctx := context.Background()

	a, b, err := Generate(ctx, db, "l1", Params{Deadline: time.Now().Add(-time.Hour)})
	require.NoError(t, err)

	_, err = Use(ctx, db, "u2", a, b, time.Now())
	require.ErrorIs(t, err, ErrOutdated)
}

func TestUse_WrongSecretHalf(t *testing.T) {
	db := setup(t)
	ctx := context.Background()

	a, _, err := Generate(ctx, db, "l1", Params{Deadline: time.Now().Add(time.Hour)})
	require.NoError(t, err)

	_, err = Use(ctx, db, "u2", a, "wrong-B-value-not-base64url-00", time.Now())
	require.Error(t, err)
}

func TestUse_MalformedBase64(t *testing.T) {
	db := setup(t)
	ctx := context.Background()

	_, err := Use(ctx, db, "u2", "not base64!!", "also bad!!", time.Now())
	require.ErrorIs(t, err, ErrValidation)
}

func TestUse_AlreadyGranted_Absorbed(t *testing.T) {
	db := setup(t)
	ctx := context.Background()

	_, err := db.Exec(`INSERT INTO list_permissions (list_uuid, user_uuid, write, reshare, changed) VALUES ('l1','u2',0,0,0)`)
	require.NoError(t, err)

	a, b, err := Generate(ctx, db, "l1", Params{Reusable: true, Write: true, Deadline: time.Now().Add(time.Hour)})
	require.NoError(t, err)

	list, err := Use(ctx, db, "u2", a, b, time.Now())
	require.NoError(t, err)
	require.Equal(t, "l1", list)
}
