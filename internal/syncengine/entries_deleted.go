package syncengine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/0xpr03/vtasync/internal/tombstone"
)

// EntriesDeleted implements §4.4.3: computes the entry-tombstone delta for
// lists the user can see, then applies incoming deletions under a
// per-transaction permission cache.
func (e *Engine) EntriesDeleted(ctx context.Context, user string, since *int64, incoming []EntryRef) (*EntriesDeletedResponse, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	visibleLists, err := visibleListUUIDs(ctx, tx, user)
	if err != nil {
		return nil, fmt.Errorf("load visible lists: %w", err)
	}

	tombstones, err := tombstone.DeletedEntries(ctx, tx, visibleLists, since)
	if err != nil {
		return nil, fmt.Errorf("load entry tombstones: %w", err)
	}

	deletedLists, err := tombstoneSetAny(ctx, tx, user)
	if err != nil {
		return nil, err
	}

	cache := newPermCache(tx, user)
	now := time.Now().Unix()

	resp := &EntriesDeletedResponse{
		Delta:   make(map[string]EntryRef, len(tombstones)),
		Ignored: []string{},
		Invalid: []string{},
	}
	for entry, t := range tombstones {
		resp.Delta[entry] = EntryRef{List: t.ListUUID, Entry: entry}
	}

	for _, ref := range incoming {
		if _, acked := resp.Delta[ref.Entry]; acked {
			delete(resp.Delta, ref.Entry)
			continue
		}
		if _, gone := deletedLists[ref.List]; gone {
			resp.Ignored = append(resp.Ignored, ref.Entry)
			continue
		}

		found, write, err := cache.canWrite(ctx, ref.List)
		if err != nil {
			return nil, err
		}
		if !found || !write {
			resp.Invalid = append(resp.Invalid, ref.Entry)
			continue
		}

		result, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE uuid = ? AND list_uuid = ?`, ref.Entry, ref.List)
		if err != nil {
			return nil, fmt.Errorf("delete entry: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return nil, err
		}
		if rows == 0 {
			resp.Ignored = append(resp.Ignored, ref.Entry)
			continue
		}

		if err := tombstone.DeleteEntry(ctx, tx, ref.List, ref.Entry, now); err != nil {
			return nil, fmt.Errorf("tombstone entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return resp, nil
}

// visibleListUUIDs returns every list uuid user owns or holds any grant on.
func visibleListUUIDs(ctx context.Context, tx *sql.Tx, user string) ([]string, error) {
	var out []string

	rows, err := tx.QueryContext(ctx, `SELECT uuid FROM lists WHERE owner_uuid = ?`, user)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	rows, err = tx.QueryContext(ctx, `SELECT list_uuid FROM list_permissions WHERE user_uuid = ?`, user)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// tombstoneSetAny returns the set of list uuids tombstoned (owner or
// shadow) for user, full history — used to classify entry deletions
// against an already-gone list.
func tombstoneSetAny(ctx context.Context, tx *sql.Tx, user string) (map[string]struct{}, error) {
	return tombstone.DeletedLists(ctx, tx, user, nil)
}
