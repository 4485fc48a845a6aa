package syncengine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/0xpr03/vtasync/internal/tombstone"
)

// ListsChanged implements §4.4.2: computes the lists visible to user whose
// own or grant row changed since since, then applies incoming mutations
// under last-writer-wins and "insert on first mention" (an unrecognized
// uuid is created owned by the submitting user).
func (e *Engine) ListsChanged(ctx context.Context, user string, since *int64, incoming []ListChange) (*ListsChangedResponse, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	sendBack, err := loadVisibleLists(ctx, tx, user, since)
	if err != nil {
		return nil, fmt.Errorf("load send-back: %w", err)
	}

	deletedLists, err := tombstone.DeletedLists(ctx, tx, user, nil)
	if err != nil {
		return nil, fmt.Errorf("load tombstones: %w", err)
	}

	now := time.Now().Unix()
	resp := &ListsChangedResponse{Delta: sendBack, Failures: []Failure{}}

	for _, r := range incoming {
		if r.Changed > now {
			resp.Failures = append(resp.Failures, Failure{UUID: r.UUID, Error: "Invalid changed date"})
			continue
		}
		if _, tombstoned := deletedLists[r.UUID]; tombstoned {
			continue
		}

		var owner string
		var stored int64
		err := tx.QueryRowContext(ctx, `SELECT owner_uuid, changed FROM lists WHERE uuid = ?`, r.UUID).Scan(&owner, &stored)
		switch {
		case err == sql.ErrNoRows:
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO lists (uuid, owner_uuid, name, name_a, name_b, changed, created)
				VALUES (?, ?, ?, ?, ?, ?, ?)
			`, r.UUID, user, r.Name, r.NameA, r.NameB, r.Changed, r.Created); err != nil {
				return nil, fmt.Errorf("insert list: %w", err)
			}
			delete(sendBack, r.UUID)
			continue
		case err != nil:
			return nil, fmt.Errorf("lookup list: %w", err)
		}

		if owner != user {
			write, err := hasWriteGrant(ctx, tx, r.UUID, user)
			if err != nil {
				return nil, err
			}
			if !write {
				resp.Failures = append(resp.Failures, Failure{UUID: r.UUID, Error: "missing permissions"})
				continue
			}
		}

		if r.Changed <= stored {
			continue // outdated: stored version has an equal or newer timestamp
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE lists SET name = ?, name_a = ?, name_b = ?, changed = ? WHERE uuid = ?
		`, r.Name, r.NameA, r.NameB, r.Changed, r.UUID); err != nil {
			return nil, fmt.Errorf("update list: %w", err)
		}
		delete(sendBack, r.UUID)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return resp, nil
}

// loadVisibleLists returns every list owned by or granted to user whose own
// or grant changed timestamp is >= since, tagged with the user's
// permission.
func loadVisibleLists(ctx context.Context, tx *sql.Tx, user string, since *int64) (map[string]ListSend, error) {
	out := make(map[string]ListSend)

	ownedQuery := `SELECT uuid, name, name_a, name_b, changed, created FROM lists WHERE owner_uuid = ?`
	ownedArgs := []any{user}
	if since != nil {
		ownedQuery += ` AND changed >= ?`
		ownedArgs = append(ownedArgs, *since)
	}
	rows, err := tx.QueryContext(ctx, ownedQuery, ownedArgs...)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var l ListSend
		if err := rows.Scan(&l.UUID, &l.Name, &l.NameA, &l.NameB, &l.Changed, &l.Created); err != nil {
			rows.Close()
			return nil, err
		}
		l.Permissions = PermOwner
		out[l.UUID] = l
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	grantedQuery := `
		SELECT l.uuid, l.name, l.name_a, l.name_b, l.changed, l.created, lp.write
		FROM lists l JOIN list_permissions lp ON lp.list_uuid = l.uuid
		WHERE lp.user_uuid = ?`
	grantedArgs := []any{user}
	if since != nil {
		grantedQuery += ` AND (l.changed >= ? OR lp.changed >= ?)`
		grantedArgs = append(grantedArgs, *since, *since)
	}
	rows, err = tx.QueryContext(ctx, grantedQuery, grantedArgs...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var l ListSend
		var write bool
		if err := rows.Scan(&l.UUID, &l.Name, &l.NameA, &l.NameB, &l.Changed, &l.Created, &write); err != nil {
			return nil, err
		}
		if write {
			l.Permissions = PermWrite
		} else {
			l.Permissions = PermRead
		}
		out[l.UUID] = l
	}
	return out, rows.Err()
}

func hasWriteGrant(ctx context.Context, tx *sql.Tx, list, user string) (bool, error) {
	var write bool
	err := tx.QueryRowContext(ctx, `SELECT write FROM list_permissions WHERE list_uuid = ? AND user_uuid = ?`, list, user).Scan(&write)
	switch {
	case err == sql.ErrNoRows:
		return false, nil
	case err != nil:
		return false, fmt.Errorf("lookup grant: %w", err)
	}
	return write, nil
}
