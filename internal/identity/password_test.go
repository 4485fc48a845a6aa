package identity

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/0xpr03/vtasync/internal/cryptowork"
	"github.com/0xpr03/vtasync/internal/db/migrations"
)

func setupWithUser(t *testing.T) (*Registry, string) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, migrations.NewMigrationManager(db, nil).Migrate())

	userUUID := uuid.New().String()
	_, err = db.Exec(`INSERT INTO users (uuid, name, last_seen) VALUES (?, 'alice', 0)`, userUUID)
	require.NoError(t, err)

	return New(db, uuid.New(), cryptowork.New(2)), userUUID
}

func TestRegisterPassword_AndLogin(t *testing.T) {
	r, userUUID := setupWithUser(t)
	ctx := context.Background()

	require.NoError(t, r.RegisterPassword(ctx, userUUID, "alice@example.com", "hunter2"))

	got, err := r.LoginByPassword(ctx, "alice@example.com", "hunter2")
	require.NoError(t, err)
	require.Equal(t, userUUID, got)
}

func TestRegisterPassword_Duplicate(t *testing.T) {
	r, userUUID := setupWithUser(t)
	ctx := context.Background()

	require.NoError(t, r.RegisterPassword(ctx, userUUID, "alice@example.com", "hunter2"))
	err := r.RegisterPassword(ctx, userUUID, "alice@example.com", "other")
	require.ErrorIs(t, err, ErrExistingLogin)
}

func TestLoginByPassword_WrongPassword(t *testing.T) {
	r, userUUID := setupWithUser(t)
	ctx := context.Background()

	require.NoError(t, r.RegisterPassword(ctx, userUUID, "alice@example.com", "hunter2"))
	_, err := r.LoginByPassword(ctx, "alice@example.com", "wrong")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginByPassword_UnknownEmail(t *testing.T) {
	r, _ := setupWithUser(t)
	_, err := r.LoginByPassword(context.Background(), "nobody@example.com", "x")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginByPassword_LockedAccount(t *testing.T) {
	r, userUUID := setupWithUser(t)
	ctx := context.Background()

	require.NoError(t, r.RegisterPassword(ctx, userUUID, "alice@example.com", "hunter2"))
	_, err := r.db.ExecContext(ctx, `UPDATE users SET locked_reason = 'abuse report' WHERE uuid = ?`, userUUID)
	require.NoError(t, err)

	_, err = r.LoginByPassword(ctx, "alice@example.com", "hunter2")
	require.ErrorIs(t, err, ErrLockedAccount)
}

func TestHasPassword(t *testing.T) {
	r, userUUID := setupWithUser(t)
	ctx := context.Background()

	has, err := r.HasPassword(ctx, userUUID)
	require.NoError(t, err)
	require.False(t, has)

	require.NoError(t, r.RegisterPassword(ctx, userUUID, "alice@example.com", "hunter2"))

	has, err = r.HasPassword(ctx, userUUID)
	require.NoError(t, err)
	require.True(t, has)
}
