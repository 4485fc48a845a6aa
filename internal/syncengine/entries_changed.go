package syncengine

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// EntriesChanged implements §4.4.4: computes the entries-changed delta
// (keyed by the server-assigned updated timestamp rather than the
// client-assigned changed, so concurrent same-second edits stay
// correctly ordered) and applies incoming mutations, rewriting meanings
// wholesale.
func (e *Engine) EntriesChanged(ctx context.Context, user string, since *int64, incoming []EntryChange) (*EntriesChangedResponse, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	visibleLists, err := visibleListUUIDs(ctx, tx, user)
	if err != nil {
		return nil, fmt.Errorf("load visible lists: %w", err)
	}

	sendBack, err := loadVisibleEntries(ctx, tx, visibleLists, since)
	if err != nil {
		return nil, fmt.Errorf("load send-back entries: %w", err)
	}

	cache := newPermCache(tx, user)
	now := time.Now().Unix()

	resp := &EntriesChangedResponse{Ignored: []string{}, Invalid: []string{}}

	for _, r := range incoming {
		if r.Changed > now {
			resp.Invalid = append(resp.Invalid, r.UUID)
			continue
		}

		if existing, ok := sendBack[r.UUID]; ok && existing.Changed > r.Changed {
			continue // locally newer than the incoming write, keep send-back entry
		}
		delete(sendBack, r.UUID)

		found, write, err := cache.canWrite(ctx, r.List)
		if err != nil {
			return nil, err
		}
		if !found {
			resp.Ignored = append(resp.Ignored, r.UUID)
			continue
		}
		if !write {
			resp.Invalid = append(resp.Invalid, r.UUID)
			continue
		}

		var tombCount int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM deleted_entry WHERE entry_uuid = ?`, r.UUID).Scan(&tombCount); err != nil {
			return nil, fmt.Errorf("check entry tombstone: %w", err)
		}
		if tombCount > 0 {
			resp.Ignored = append(resp.Ignored, r.UUID)
			continue
		}

		var stored int64
		err = tx.QueryRowContext(ctx, `SELECT changed FROM entries WHERE uuid = ?`, r.UUID).Scan(&stored)
		switch {
		case err == sql.ErrNoRows:
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO entries (uuid, list_uuid, tip, changed, updated) VALUES (?, ?, ?, ?, ?)
			`, r.UUID, r.List, r.Tip, r.Changed, now); err != nil {
				return nil, fmt.Errorf("insert entry: %w", err)
			}
		case err != nil:
			return nil, fmt.Errorf("lookup entry: %w", err)
		default:
			if stored >= r.Changed {
				resp.Ignored = append(resp.Ignored, r.UUID)
				continue
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE entries SET tip = ?, changed = ?, updated = ? WHERE uuid = ?
			`, r.Tip, r.Changed, now, r.UUID); err != nil {
				return nil, fmt.Errorf("update entry: %w", err)
			}
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM entry_meaning WHERE entry_uuid = ?`, r.UUID); err != nil {
			return nil, fmt.Errorf("clear meanings: %w", err)
		}
		for _, m := range r.Meanings {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO entry_meaning (entry_uuid, value, is_a) VALUES (?, ?, ?)
			`, r.UUID, m.Value, m.IsA); err != nil {
				return nil, fmt.Errorf("insert meaning: %w", err)
			}
		}
	}

	delta, err := finalizeEntries(ctx, tx, sendBack)
	if err != nil {
		return nil, fmt.Errorf("finalize delta: %w", err)
	}
	resp.Delta = delta

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return resp, nil
}

func loadVisibleEntries(ctx context.Context, tx *sql.Tx, listUUIDs []string, since *int64) (map[string]EntryFull, error) {
	out := make(map[string]EntryFull)
	if len(listUUIDs) == 0 {
		return out, nil
	}

	query := `SELECT uuid, list_uuid, tip, changed FROM entries WHERE list_uuid IN (` + placeholders(len(listUUIDs)) + `)`
	args := make([]any, 0, len(listUUIDs)+1)
	for _, l := range listUUIDs {
		args = append(args, l)
	}
	if since != nil {
		query += ` AND updated >= ?`
		args = append(args, *since)
	}

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var e EntryFull
		if err := rows.Scan(&e.UUID, &e.List, &e.Tip, &e.Changed); err != nil {
			return nil, err
		}
		out[e.UUID] = e
	}
	return out, rows.Err()
}

func finalizeEntries(ctx context.Context, tx *sql.Tx, sendBack map[string]EntryFull) (map[string]EntryFull, error) {
	for uuid, e := range sendBack {
		rows, err := tx.QueryContext(ctx, `SELECT value, is_a FROM entry_meaning WHERE entry_uuid = ?`, uuid)
		if err != nil {
			return nil, err
		}
		var meanings []Meaning
		for rows.Next() {
			var m Meaning
			if err := rows.Scan(&m.Value, &m.IsA); err != nil {
				rows.Close()
				return nil, err
			}
			meanings = append(meanings, m)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
		e.Meanings = meanings
		sendBack[uuid] = e
	}
	return sendBack, nil
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
