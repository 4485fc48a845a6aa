package syncengine

import (
	"context"
	"database/sql"
	"fmt"
)

// Engine runs the four sync procedures against db, each in its own
// transaction.
type Engine struct {
	db *sql.DB
}

// New creates an Engine.
func New(db *sql.DB) *Engine {
	return &Engine{db: db}
}

// permLevel is what permCache remembers about a list for the lifetime of
// one transaction: whether the caller owns it, and whether they hold a
// write grant. Scoped to a single call per §9's per-transaction cache
// requirement; never shared across requests.
type permLevel struct {
	found bool
	owner bool
	write bool
}

// permCache memoizes list ownership/write-grant lookups within a single
// sync call. It is local to the call and discarded with it.
type permCache struct {
	tx   *sql.Tx
	user string
	byList map[string]permLevel
}

func newPermCache(tx *sql.Tx, user string) *permCache {
	return &permCache{tx: tx, user: user, byList: make(map[string]permLevel)}
}

// canWrite reports whether the cache's user may write to list: owner, or
// holder of an explicit write grant. found is false if the list does not
// exist.
func (c *permCache) canWrite(ctx context.Context, list string) (found, ok bool, err error) {
	lvl, cached := c.byList[list]
	if !cached {
		lvl, err = c.load(ctx, list)
		if err != nil {
			return false, false, err
		}
		c.byList[list] = lvl
	}
	if !lvl.found {
		return false, false, nil
	}
	return true, lvl.owner || lvl.write, nil
}

func (c *permCache) load(ctx context.Context, list string) (permLevel, error) {
	var owner string
	err := c.tx.QueryRowContext(ctx, `SELECT owner_uuid FROM lists WHERE uuid = ?`, list).Scan(&owner)
	switch {
	case err == sql.ErrNoRows:
		return permLevel{found: false}, nil
	case err != nil:
		return permLevel{}, fmt.Errorf("lookup list owner: %w", err)
	}
	if owner == c.user {
		return permLevel{found: true, owner: true}, nil
	}

	var write bool
	err = c.tx.QueryRowContext(ctx, `SELECT write FROM list_permissions WHERE list_uuid = ? AND user_uuid = ?`, list, c.user).Scan(&write)
	switch {
	case err == sql.ErrNoRows:
		return permLevel{found: true, owner: false, write: false}, nil
	case err != nil:
		return permLevel{}, fmt.Errorf("lookup list grant: %w", err)
	}
	return permLevel{found: true, owner: false, write: write}, nil
}
