package identity

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"database/sql"
	"encoding/pem"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/0xpr03/vtasync/internal/cryptowork"
	"github.com/0xpr03/vtasync/internal/db/migrations"
)

func setup(t *testing.T) (*sql.DB, uuid.UUID) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, migrations.NewMigrationManager(db, nil).Migrate())
	return db, uuid.New()
}

func genECKey(t *testing.T) (*ecdsa.PrivateKey, string) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	require.NoError(t, err)
	block := &pem.Block{Type: "PUBLIC KEY", Bytes: der}
	return priv, string(pem.EncodeToMemory(block))
}

func signProof(t *testing.T, priv *ecdsa.PrivateKey, iss, sub, serverID string) string {
	now := time.Now()
	claims := proofClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    iss,
			Subject:   sub,
			Audience:  jwt.ClaimStrings{serverID},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		},
		Name: "alice",
	}
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	signed, err := token.SignedString(priv)
	require.NoError(t, err)
	return signed
}

func TestRegister_Success(t *testing.T) {
	db, serverID := setup(t)
	r := New(db, serverID, cryptowork.New(2))
	priv, pubPEM := genECKey(t)
	userUUID := uuid.New().String()
	proof := signProof(t, priv, userUUID, "register", serverID.String())

	user, err := r.Register(context.Background(), RegisterRequest{PublicKeyPEM: pubPEM, KeyType: KeyTypeEC, Proof: proof})
	require.NoError(t, err)
	require.Equal(t, userUUID, user.UUID)
	require.Equal(t, "alice", user.Name)
}

func TestRegister_Duplicate(t *testing.T) {
	db, serverID := setup(t)
	r := New(db, serverID, cryptowork.New(2))
	priv, pubPEM := genECKey(t)
	userUUID := uuid.New().String()

	proof1 := signProof(t, priv, userUUID, "register", serverID.String())
	_, err := r.Register(context.Background(), RegisterRequest{PublicKeyPEM: pubPEM, KeyType: KeyTypeEC, Proof: proof1})
	require.NoError(t, err)

	proof2 := signProof(t, priv, userUUID, "register", serverID.String())
	_, err = r.Register(context.Background(), RegisterRequest{PublicKeyPEM: pubPEM, KeyType: KeyTypeEC, Proof: proof2})
	require.ErrorIs(t, err, ErrExistingUser)
}

func TestRegister_WrongAudience(t *testing.T) {
	db, serverID := setup(t)
	r := New(db, serverID, cryptowork.New(2))
	priv, pubPEM := genECKey(t)

	proof := signProof(t, priv, uuid.New().String(), "register", "not-the-server")
	_, err := r.Register(context.Background(), RegisterRequest{PublicKeyPEM: pubPEM, KeyType: KeyTypeEC, Proof: proof})
	require.ErrorIs(t, err, ErrValidation)
}

func TestLoginByKey_Success(t *testing.T) {
	db, serverID := setup(t)
	r := New(db, serverID, cryptowork.New(2))
	priv, pubPEM := genECKey(t)
	userUUID := uuid.New().String()

	proof := signProof(t, priv, userUUID, "register", serverID.String())
	_, err := r.Register(context.Background(), RegisterRequest{PublicKeyPEM: pubPEM, KeyType: KeyTypeEC, Proof: proof})
	require.NoError(t, err)

	loginProof := signProof(t, priv, userUUID, "login", serverID.String())
	got, err := r.LoginByKey(context.Background(), userUUID, loginProof)
	require.NoError(t, err)
	require.Equal(t, userUUID, got)
}

func TestLoginByKey_UnknownUser(t *testing.T) {
	db, serverID := setup(t)
	r := New(db, serverID, cryptowork.New(2))
	priv, _ := genECKey(t)
	userUUID := uuid.New().String()

	loginProof := signProof(t, priv, userUUID, "login", serverID.String())
	_, err := r.LoginByKey(context.Background(), userUUID, loginProof)
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginByKey_DeletedUser(t *testing.T) {
	db, serverID := setup(t)
	r := New(db, serverID, cryptowork.New(2))
	priv, pubPEM := genECKey(t)
	userUUID := uuid.New().String()

	proof := signProof(t, priv, userUUID, "register", serverID.String())
	_, err := r.Register(context.Background(), RegisterRequest{PublicKeyPEM: pubPEM, KeyType: KeyTypeEC, Proof: proof})
	require.NoError(t, err)

	require.NoError(t, r.Delete(context.Background(), userUUID))

	loginProof := signProof(t, priv, userUUID, "login", serverID.String())
	_, err = r.LoginByKey(context.Background(), userUUID, loginProof)
	require.ErrorIs(t, err, ErrDeletedUser)
}

func TestLoginByKey_LockedAccount(t *testing.T) {
	db, serverID := setup(t)
	r := New(db, serverID, cryptowork.New(2))
	priv, pubPEM := genECKey(t)
	userUUID := uuid.New().String()

	proof := signProof(t, priv, userUUID, "register", serverID.String())
	_, err := r.Register(context.Background(), RegisterRequest{PublicKeyPEM: pubPEM, KeyType: KeyTypeEC, Proof: proof})
	require.NoError(t, err)

	_, err = db.Exec(`UPDATE users SET locked_reason = 'fraud' WHERE uuid = ?`, userUUID)
	require.NoError(t, err)

	loginProof := signProof(t, priv, userUUID, "login", serverID.String())
	_, err = r.LoginByKey(context.Background(), userUUID, loginProof)
	require.ErrorIs(t, err, ErrLockedAccount)
}

func TestCheckUnlocked(t *testing.T) {
	db, serverID := setup(t)
	r := New(db, serverID, cryptowork.New(2))
	priv, pubPEM := genECKey(t)
	userUUID := uuid.New().String()

	proof := signProof(t, priv, userUUID, "register", serverID.String())
	_, err := r.Register(context.Background(), RegisterRequest{PublicKeyPEM: pubPEM, KeyType: KeyTypeEC, Proof: proof})
	require.NoError(t, err)

	require.NoError(t, r.CheckUnlocked(context.Background(), userUUID))

	_, err = db.Exec(`UPDATE users SET locked_reason = 'fraud' WHERE uuid = ?`, userUUID)
	require.NoError(t, err)
	require.ErrorIs(t, r.CheckUnlocked(context.Background(), userUUID), ErrLockedAccount)
}

func TestCheckUnlocked_UnknownUser(t *testing.T) {
	db, serverID := setup(t)
	r := New(db, serverID, cryptowork.New(2))
	require.ErrorIs(t, r.CheckUnlocked(context.Background(), uuid.New().String()), ErrUnknownUser)
}

func TestDelete_UnknownUser(t *testing.T) {
	db, serverID := setup(t)
	r := New(db, serverID, cryptowork.New(2))
	err := r.Delete(context.Background(), uuid.New().String())
	require.ErrorIs(t, err, ErrUnknownUser)
}
