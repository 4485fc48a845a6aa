package syncengine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/0xpr03/vtasync/internal/tombstone"
)

// ListsDeleted implements §4.4.1: computes the deleted-lists delta since
// since, then applies incoming deletions. Only the owner of a list may
// delete it; deleting fans out a shadow tombstone to every grantee.
func (e *Engine) ListsDeleted(ctx context.Context, user string, since *int64, incoming []string) (*ListsDeletedResponse, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	sendBack, err := tombstone.DeletedLists(ctx, tx, user, since)
	if err != nil {
		return nil, fmt.Errorf("load send-back: %w", err)
	}

	resp := &ListsDeletedResponse{Delta: []string{}, Unknown: []string{}, Unowned: []string{}}
	now := time.Now().Unix()

	for _, list := range incoming {
		if _, acked := sendBack[list]; acked {
			delete(sendBack, list)
			continue
		}

		var owner string
		err := tx.QueryRowContext(ctx, `SELECT owner_uuid FROM lists WHERE uuid = ?`, list).Scan(&owner)
		switch {
		case err == sql.ErrNoRows:
			resp.Unknown = append(resp.Unknown, list)
			continue
		case err != nil:
			return nil, fmt.Errorf("lookup list: %w", err)
		}

		if owner != user {
			resp.Unowned = append(resp.Unowned, list)
			continue
		}

		if err := tombstone.DeleteList(ctx, tx, owner, list, now); err != nil {
			return nil, fmt.Errorf("tombstone list: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM lists WHERE uuid = ?`, list); err != nil {
			return nil, fmt.Errorf("delete list row: %w", err)
		}
	}

	for list := range sendBack {
		resp.Delta = append(resp.Delta, list)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return resp, nil
}
