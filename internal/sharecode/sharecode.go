// Package sharecode implements the Share-Code Service (C3): issuing and
// redeeming two-part share codes with constant-time verification of the
// secret half, grounded in the access-key/share-token patterns of the
// teacher's auth and share managers but generalized to list handover.
package sharecode

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/0xpr03/vtasync/internal/authz"
)

var (
	// ErrValidation wraps a malformed token half; the wrapping message names which.
	ErrValidation = errors.New("validation error")
	// ErrInvalid covers unknown token_a and hash mismatch alike, so a
	// timing or existence oracle can't be built from the error type.
	ErrInvalid = errors.New("sharecode invalid")
	// ErrOutdated is returned once the deadline has passed.
	ErrOutdated = errors.New("sharecode outdated")
)

const tokenLen = 16 // bytes, 128 bits of entropy per half

// Params describes the requested grant a redeemed code confers.
type Params struct {
	Write    bool
	Reshare  bool
	Reusable bool
	Deadline time.Time
}

// Querier covers the *sql.DB / *sql.Tx methods used here.
type Querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Generate issues a new share code for list. Requires OWNER on list;
// checked by the caller via authz.HasPermission against the same tx so
// this package stays storage-only.
func Generate(ctx context.Context, tx Querier, list string, params Params) (tokenA, tokenB string, err error) {
	aBytes := make([]byte, tokenLen)
	if _, err := rand.Read(aBytes); err != nil {
		return "", "", fmt.Errorf("generate token_a: %w", err)
	}
	bBytes := make([]byte, tokenLen)
	if _, err := rand.Read(bBytes); err != nil {
		return "", "", fmt.Errorf("generate token_b: %w", err)
	}

	hash := sha256.Sum256(bBytes)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO share_token (token_a, token_b_hash, list_uuid, deadline, write, reshare, reusable)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, base64.RawURLEncoding.EncodeToString(aBytes), hash[:], list, params.Deadline.Unix(), params.Write, params.Reshare, params.Reusable)
	if err != nil {
		return "", "", fmt.Errorf("persist share token: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(aBytes), base64.RawURLEncoding.EncodeToString(bBytes), nil
}

// Use redeems a share code for user, inserting a grant row for the
// encoded list on success. now is injected for testability.
func Use(ctx context.Context, tx Querier, user, tokenAB64, tokenBB64 string, now time.Time) (list string, err error) {
	tokenA, err := base64.RawURLEncoding.DecodeString(tokenAB64)
	if err != nil {
		return "", fmt.Errorf("%w: token_a", ErrValidation)
	}
	tokenB, err := base64.RawURLEncoding.DecodeString(tokenBB64)
	if err != nil {
		return "", fmt.Errorf("%w: token_b", ErrValidation)
	}

	var (
		storedHash []byte
		deadline   int64
		write      bool
		reshare    bool
		reusable   bool
	)
	err = tx.QueryRowContext(ctx, `
		SELECT token_b_hash, list_uuid, deadline, write, reshare, reusable
		FROM share_token WHERE token_a = ?
	`, base64.RawURLEncoding.EncodeToString(tokenA)).Scan(&storedHash, &list, &deadline, &write, &reshare, &reusable)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return "", ErrInvalid
	case err != nil:
		return "", fmt.Errorf("lookup share token: %w", err)
	}

	if now.Unix() > deadline {
		return "", ErrOutdated
	}

	gotHash := sha256.Sum256(tokenB)
	if subtle.ConstantTimeCompare(gotHash[:], storedHash) != 1 {
		return "", ErrInvalid
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO list_permissions (list_uuid, user_uuid, write, reshare, changed)
		VALUES (?, ?, ?, ?, ?)
	`, list, user, write, reshare, now.Unix())
	if err != nil {
		if isUniqueViolation(err) {
			// user already has access to this list; redemption still succeeds
		} else {
			return "", fmt.Errorf("insert grant: %w", err)
		}
	}

	if !reusable {
		if _, err := tx.ExecContext(ctx, `DELETE FROM share_token WHERE token_a = ?`, base64.RawURLEncoding.EncodeToString(tokenA)); err != nil {
			return "", fmt.Errorf("delete single-use token: %w", err)
		}
	}

	return list, nil
}

func isUniqueViolation(err error) bool {
	// modernc.org/sqlite surfaces unique-constraint violations as a
	// *sqlite.Error whose message contains "UNIQUE constraint failed";
	// string-matching avoids importing the driver's internal error type.
	return err != nil && contains(err.Error(), "UNIQUE constraint failed")
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && (func() bool {
		for i := 0; i+len(substr) <= len(s); i++ {
			if s[i:i+len(substr)] == substr {
				return true
			}
		}
		return false
	})()
}

// RequireOwner reports whether user owns list, via authz.HasPermission
// with authz.Owner.
func RequireOwner(ctx context.Context, q authz.Querier, user, list string) (bool, error) {
	return authz.HasPermission(ctx, q, user, list, authz.Owner)
}
