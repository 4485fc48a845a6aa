package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// PasswordHasher is the swappable adapter for secondary password login.
// §1 Non-goals treats the hashing scheme ("Argon2 adapter") as an
// external collaborator; bcryptHasher below is the concrete default,
// grounded in the teacher's own HashPassword/VerifyPassword
// (internal/auth/sqlite.go), kept behind this interface so a real Argon2
// adapter can be swapped in without touching callers.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, hash string) bool
}

type bcryptHasher struct{}

func (bcryptHasher) Hash(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (bcryptHasher) Verify(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// DefaultPasswordHasher is bcrypt at bcrypt.DefaultCost.
var DefaultPasswordHasher PasswordHasher = bcryptHasher{}

var ErrExistingLogin = errors.New("password login already registered")

// RegisterPassword attaches a secondary password login to an existing,
// authenticated user.
func (r *Registry) RegisterPassword(ctx context.Context, userUUID, email, password string) error {
	hash, err := DefaultPasswordHasher.Hash(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `INSERT INTO user_login (user_uuid, email, password_hash, verified) VALUES (?, ?, ?, 0)`,
		userUUID, email, hash)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrExistingLogin
		}
		return fmt.Errorf("insert user_login: %w", err)
	}
	return nil
}

// LoginByPassword verifies email/password and returns the matching user
// uuid.
func (r *Registry) LoginByPassword(ctx context.Context, email, password string) (string, error) {
	var userUUID, hash string
	err := r.db.QueryRowContext(ctx, `SELECT user_uuid, password_hash FROM user_login WHERE email = ?`, email).Scan(&userUUID, &hash)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return "", ErrInvalidCredentials
	case err != nil:
		return "", fmt.Errorf("lookup user_login: %w", err)
	}

	if !DefaultPasswordHasher.Verify(password, hash) {
		return "", ErrInvalidCredentials
	}

	if err := r.CheckUnlocked(ctx, userUUID); err != nil {
		return "", err
	}

	if _, err := r.db.ExecContext(ctx, `UPDATE users SET last_seen = ? WHERE uuid = ?`, time.Now().Unix(), userUUID); err != nil {
		return "", fmt.Errorf("touch last_seen: %w", err)
	}

	return userUUID, nil
}
