// Package identity implements the Identity & Key Registry (C5): account
// registration and login by public key, the optional secondary password
// login, and account deletion with its tombstone fan-out.
package identity

import (
	"context"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"database/sql"
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/0xpr03/vtasync/internal/cryptowork"
	"github.com/0xpr03/vtasync/internal/tombstone"
)

// KeyType identifies the format of a registered public key.
type KeyType string

const (
	KeyTypeEC  KeyType = "EC_PEM"
	KeyTypeRSA KeyType = "RSA_PEM"
)

var (
	ErrExistingUser      = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnknownUser       = errors.New("unknown user")
	ErrDeletedUser       = errors.New("user deleted")
	ErrLockedAccount     = errors.New("account locked")
	ErrValidation        = errors.New("validation error")
)

const registerLoginLeeway = 5 * time.Second

// proofClaims is the signed claim set a client presents at register/login
// time, bound to the server identity via aud.
type proofClaims struct {
	jwt.RegisteredClaims
	Name        string `json:"name,omitempty"`
	DeleteAfter *int64 `json:"delete_after,omitempty"`
}

// User is the account record.
type User struct {
	UUID         string
	Name         string
	LockedReason *string
	LastSeen     int64
	DeleteAfter  *int64
}

// RegisterRequest is the /account/register/new payload.
type RegisterRequest struct {
	PublicKeyPEM string
	KeyType      KeyType
	Proof        string // signed JWT
}

// Registry provides account lifecycle operations against db, verifying
// proofs with serverID as the expected audience.
type Registry struct {
	db       *sql.DB
	serverID uuid.UUID
	pool     *cryptowork.Pool
}

// New creates a Registry. pool bounds concurrent signature verification.
func New(db *sql.DB, serverID uuid.UUID, pool *cryptowork.Pool) *Registry {
	return &Registry{db: db, serverID: serverID, pool: pool}
}

// Register verifies req.Proof against the presented public key and, on
// success, creates the user and key rows in one transaction.
func (r *Registry) Register(ctx context.Context, req RegisterRequest) (*User, error) {
	pub, err := parsePublicKey(req.KeyType, req.PublicKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("%w: key", ErrValidation)
	}

	var claims proofClaims
	if err := r.pool.Run(func() error {
		return verifyProof(req.Proof, pub, &claims)
	}); err != nil {
		return nil, fmt.Errorf("%w: proof", ErrValidation)
	}

	if claims.Subject != "register" {
		return nil, fmt.Errorf("%w: proof subject", ErrValidation)
	}
	if !audienceContains(claims.Audience, r.serverID.String()) {
		return nil, fmt.Errorf("%w: proof audience", ErrValidation)
	}
	userUUID := claims.Issuer
	if _, err := uuid.Parse(userUUID); err != nil {
		return nil, fmt.Errorf("%w: proof issuer", ErrValidation)
	}

	now := time.Now().Unix()
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO users (uuid, name, last_seen, delete_after) VALUES (?, ?, ?, ?)`,
		userUUID, claims.Name, now, claims.DeleteAfter)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrExistingUser
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO user_key (user_uuid, public_key, key_type) VALUES (?, ?, ?)`,
		userUUID, []byte(req.PublicKeyPEM), string(req.KeyType))
	if err != nil {
		return nil, fmt.Errorf("insert user_key: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &User{UUID: userUUID, Name: claims.Name, LastSeen: now, DeleteAfter: claims.DeleteAfter}, nil
}

// LoginByKey verifies a login proof against the stored key for iss and
// returns the authenticated user uuid.
func (r *Registry) LoginByKey(ctx context.Context, iss, proof string) (string, error) {
	if _, err := uuid.Parse(iss); err != nil {
		return "", fmt.Errorf("%w: iss", ErrValidation)
	}

	var keyType, keyPEM string
	err := r.db.QueryRowContext(ctx, `SELECT key_type, public_key FROM user_key WHERE user_uuid = ?`, iss).Scan(&keyType, &keyPEM)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		var tombCount int
		_ = r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM deleted_user WHERE user_uuid = ?`, iss).Scan(&tombCount)
		if tombCount > 0 {
			return "", ErrDeletedUser
		}
		return "", ErrInvalidCredentials
	case err != nil:
		return "", fmt.Errorf("lookup user_key: %w", err)
	}

	pub, err := parsePublicKey(KeyType(keyType), keyPEM)
	if err != nil {
		return "", fmt.Errorf("stored key unparsable: %w", err)
	}

	var claims proofClaims
	if err := r.pool.Run(func() error {
		return verifyProof(proof, pub, &claims)
	}); err != nil {
		return "", ErrInvalidCredentials
	}

	if claims.Subject != "login" {
		return "", ErrInvalidCredentials
	}
	if !audienceContains(claims.Audience, r.serverID.String()) {
		return "", ErrInvalidCredentials
	}
	if claims.Issuer != iss {
		return "", ErrInvalidCredentials
	}

	if err := r.CheckUnlocked(ctx, iss); err != nil {
		return "", err
	}

	if _, err := r.db.ExecContext(ctx, `UPDATE users SET last_seen = ? WHERE uuid = ?`, time.Now().Unix(), iss); err != nil {
		return "", fmt.Errorf("touch last_seen: %w", err)
	}

	return iss, nil
}

// Get returns the account for uuid.
func (r *Registry) Get(ctx context.Context, userUUID string) (*User, error) {
	var u User
	var locked sql.NullString
	var deleteAfter sql.NullInt64
	err := r.db.QueryRowContext(ctx, `SELECT uuid, name, locked_reason, last_seen, delete_after FROM users WHERE uuid = ?`, userUUID).
		Scan(&u.UUID, &u.Name, &locked, &u.LastSeen, &deleteAfter)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, ErrUnknownUser
	case err != nil:
		return nil, err
	}
	if locked.Valid {
		u.LockedReason = &locked.String
	}
	if deleteAfter.Valid {
		u.DeleteAfter = &deleteAfter.Int64
	}
	return &u, nil
}

// TouchLastSeen bumps last_seen for every successfully authenticated
// request, per SPEC_FULL §12.
func (r *Registry) TouchLastSeen(ctx context.Context, userUUID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE users SET last_seen = ? WHERE uuid = ?`, time.Now().Unix(), userUUID)
	return err
}

// CheckUnlocked returns ErrLockedAccount if userUUID carries a non-empty
// locked_reason, and ErrUnknownUser if the account doesn't exist. Called on
// every authenticated request per SPEC_FULL §12, so a lock applied mid-session
// takes effect before any sync logic runs rather than only at the next login.
func (r *Registry) CheckUnlocked(ctx context.Context, userUUID string) error {
	var locked sql.NullString
	err := r.db.QueryRowContext(ctx, `SELECT locked_reason FROM users WHERE uuid = ?`, userUUID).Scan(&locked)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return ErrUnknownUser
	case err != nil:
		return fmt.Errorf("lookup locked_reason: %w", err)
	}
	if locked.Valid && locked.String != "" {
		return ErrLockedAccount
	}
	return nil
}

// HasPassword reports whether userUUID has a secondary password login
// attached.
func (r *Registry) HasPassword(ctx context.Context, userUUID string) (bool, error) {
	var exists int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM user_login WHERE user_uuid = ?`, userUUID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("lookup user_login: %w", err)
	}
	return exists > 0, nil
}

// Delete removes the account: tombstones it and every list it shared out,
// deletes the lists it owns, then deletes the user row (cascading to
// keys/grants).
func (r *Registry) Delete(ctx context.Context, userUUID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE uuid = ?`, userUUID).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return ErrUnknownUser
	}

	now := time.Now().Unix()
	if err := tombstone.DeleteUser(ctx, tx, userUUID, now); err != nil {
		return fmt.Errorf("tombstone user: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM lists WHERE owner_uuid = ?`, userUUID); err != nil {
		return fmt.Errorf("delete owned lists: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM users WHERE uuid = ?`, userUUID); err != nil {
		return fmt.Errorf("delete user row: %w", err)
	}

	return tx.Commit()
}

func parsePublicKey(keyType KeyType, pemStr string) (any, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, errors.New("invalid PEM block")
	}

	switch keyType {
	case KeyTypeEC:
		pub, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		ecPub, ok := pub.(*ecdsa.PublicKey)
		if !ok {
			return nil, errors.New("not an EC public key")
		}
		return ecPub, nil
	case KeyTypeRSA:
		pub, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		rsaPub, ok := pub.(*rsa.PublicKey)
		if !ok {
			return nil, errors.New("not an RSA public key")
		}
		return rsaPub, nil
	default:
		return nil, fmt.Errorf("unknown key type %q", keyType)
	}
}

var allowedAlgorithms = []string{"ES256", "ES384", "RS256", "RS384", "RS512"}

func verifyProof(proof string, pub any, claims *proofClaims) error {
	parser := jwt.NewParser(jwt.WithValidMethods(allowedAlgorithms), jwt.WithLeeway(registerLoginLeeway))
	_, err := parser.ParseWithClaims(proof, claims, func(t *jwt.Token) (any, error) {
		return pub, nil
	})
	return err
}

// audienceContains reports whether want is present in aud. Written by hand
// rather than relying on a ClaimStrings method so this keeps compiling
// across golang-jwt/v5 minor versions.
func audienceContains(aud jwt.ClaimStrings, want string) bool {
	for _, a := range aud {
		if a == want {
			return true
		}
	}
	return false
}

func isUniqueViolation(err error) bool {
	return err != nil && contains(err.Error(), "UNIQUE constraint failed")
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
