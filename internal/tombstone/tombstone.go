// Package tombstone implements the Tombstone Store (C2): owner and shadow
// tombstones for deleted lists, entry tombstones, and the user tombstone
// written on account deletion. All writes here are expected to run inside
// the caller's transaction alongside the row deletes they accompany.
package tombstone

import (
	"context"
	"database/sql"
)

// Execer is the subset of *sql.Tx used to record tombstones.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// DeleteList writes the owner tombstone for list plus a shadow tombstone
// for every user currently holding a grant on it. Callers must delete the
// list row (and its grants) in the same transaction.
func DeleteList(ctx context.Context, tx Execer, owner, list string, now int64) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO deleted_list (owner_uuid, list_uuid, created) VALUES (?, ?, ?)`,
		owner, list, now,
	); err != nil {
		return err
	}

	rows, err := tx.QueryContext(ctx, `SELECT user_uuid FROM list_permissions WHERE list_uuid = ?`, list)
	if err != nil {
		return err
	}
	defer rows.Close()

	var recipients []string
	for rows.Next() {
		var recipient string
		if err := rows.Scan(&recipient); err != nil {
			return err
		}
		recipients = append(recipients, recipient)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, recipient := range recipients {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO deleted_list_shared (recipient_uuid, list_uuid, created) VALUES (?, ?, ?)`,
			recipient, list, now,
		); err != nil {
			return err
		}
	}

	return nil
}

// DeleteEntry records a tombstone for an entry that was actually removed
// from the entries table. Callers must not call this for phantom deletes.
func DeleteEntry(ctx context.Context, tx Execer, list, entry string, now int64) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO deleted_entry (list_uuid, entry_uuid, created) VALUES (?, ?, ?)`,
		list, entry, now,
	)
	return err
}

// DeleteUser writes a shadow tombstone for every (list, recipient) pair
// where the user owned the list and had granted access to recipient, then
// records the user tombstone itself. Callers delete the user's lists and
// the user row afterward, in the same transaction.
func DeleteUser(ctx context.Context, tx Execer, user string, now int64) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT lp.list_uuid, lp.user_uuid
		FROM list_permissions lp
		JOIN lists l ON l.uuid = lp.list_uuid
		WHERE l.owner_uuid = ?
	`, user)
	if err != nil {
		return err
	}

	type grant struct{ list, recipient string }
	var grants []grant
	for rows.Next() {
		var g grant
		if err := rows.Scan(&g.list, &g.recipient); err != nil {
			rows.Close()
			return err
		}
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, g := range grants {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO deleted_list_shared (recipient_uuid, list_uuid, created) VALUES (?, ?, ?)`,
			g.recipient, g.list, now,
		); err != nil {
			return err
		}
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO deleted_user (user_uuid, created) VALUES (?, ?)`, user, now)
	return err
}

// DeletedLists returns the UNION of owner and shadow tombstones visible to
// user, optionally filtered to created >= since. since == nil returns full
// history.
func DeletedLists(ctx context.Context, q interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}, user string, since *int64) (map[string]struct{}, error) {
	out := make(map[string]struct{})

	var ownRows, sharedRows *sql.Rows
	var err error
	if since != nil {
		ownRows, err = q.QueryContext(ctx, `SELECT list_uuid FROM deleted_list WHERE owner_uuid = ? AND created >= ?`, user, *since)
	} else {
		ownRows, err = q.QueryContext(ctx, `SELECT list_uuid FROM deleted_list WHERE owner_uuid = ?`, user)
	}
	if err != nil {
		return nil, err
	}
	defer ownRows.Close()
	for ownRows.Next() {
		var list string
		if err := ownRows.Scan(&list); err != nil {
			return nil, err
		}
		out[list] = struct{}{}
	}
	if err := ownRows.Err(); err != nil {
		return nil, err
	}

	if since != nil {
		sharedRows, err = q.QueryContext(ctx, `SELECT list_uuid FROM deleted_list_shared WHERE recipient_uuid = ? AND created >= ?`, user, *since)
	} else {
		sharedRows, err = q.QueryContext(ctx, `SELECT list_uuid FROM deleted_list_shared WHERE recipient_uuid = ?`, user)
	}
	if err != nil {
		return nil, err
	}
	defer sharedRows.Close()
	for sharedRows.Next() {
		var list string
		if err := sharedRows.Scan(&list); err != nil {
			return nil, err
		}
		out[list] = struct{}{}
	}
	return out, sharedRows.Err()
}

// DeletedEntries returns entry tombstones for lists in listUUIDs, filtered
// by created >= since (or full history if since is nil). Keyed by entry
// uuid so callers can index directly into it.
func DeletedEntries(ctx context.Context, q interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}, listUUIDs []string, since *int64) (map[string]EntryTombstone, error) {
	out := make(map[string]EntryTombstone)
	if len(listUUIDs) == 0 {
		return out, nil
	}

	query := `SELECT list_uuid, entry_uuid, created FROM deleted_entry WHERE list_uuid IN (` + placeholders(len(listUUIDs)) + `)`
	args := make([]any, 0, len(listUUIDs)+1)
	for _, l := range listUUIDs {
		args = append(args, l)
	}
	if since != nil {
		query += ` AND created >= ?`
		args = append(args, *since)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var t EntryTombstone
		if err := rows.Scan(&t.ListUUID, &t.EntryUUID, &t.Created); err != nil {
			return nil, err
		}
		out[t.EntryUUID] = t
	}
	return out, rows.Err()
}

// EntryTombstone is a single entry-deletion record.
type EntryTombstone struct {
	ListUUID  string
	EntryUUID string
	Created   int64
}

func placeholders(n int) string {
	b := make([]byte, 0, n*2)
	for i := 0; i < n; i++ {
		if i > 0 {
			b = append(b, ',')
		}
		b = append(b, '?')
	}
	return string(b)
}
