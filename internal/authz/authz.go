// Package authz implements the Authorization Oracle (C1): the
// has_permission check the API consults before issuing a share code.
// The sync engine runs its own owner/grant lookups, and redeeming a code
// checks no permission.
package authz

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Permission is a graded capability on a list.
type Permission int

const (
	Read Permission = iota
	Write
	Reshare
	Owner
)

// ErrListNotFound is returned when the list does not exist.
var ErrListNotFound = errors.New("list not found")

// ErrPermissionDenied is returned by callers (not HasPermission itself,
// which just answers a bool) when a required permission is absent.
var ErrPermissionDenied = errors.New("permission denied")

// Querier is the subset of *sql.Tx / *sql.DB used by the oracle, so it can
// run inside an already-open transaction.
type Querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// HasPermission answers has_permission(user, list, perm) against q, which
// MUST be the same transaction handle the caller uses for any subsequent
// writes, so the check and the write observe one consistent snapshot.
func HasPermission(ctx context.Context, q Querier, user, list string, perm Permission) (bool, error) {
	var owner string
	err := q.QueryRowContext(ctx, `SELECT owner_uuid FROM lists WHERE uuid = ?`, list).Scan(&owner)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, ErrListNotFound
	case err != nil:
		return false, fmt.Errorf("lookup list owner: %w", err)
	}

	if owner == user {
		return true, nil
	}
	if perm == Owner {
		return false, nil
	}

	var write, reshare bool
	err = q.QueryRowContext(ctx,
		`SELECT write, reshare FROM list_permissions WHERE list_uuid = ? AND user_uuid = ?`,
		list, user,
	).Scan(&write, &reshare)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("lookup grant: %w", err)
	}

	switch perm {
	case Read:
		return true, nil
	case Write:
		return write, nil
	case Reshare:
		return reshare, nil
	default:
		return false, nil
	}
}
