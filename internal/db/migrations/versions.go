package migrations

import (
	"database/sql"
)

// getAllMigrations returns all available migrations, in the order they
// must be applied. Each one corresponds to a slice of the sync-backend
// schema: settings, identity, lists/entries, sharing, then tombstones.
func getAllMigrations() []Migration {
	return []Migration{
		migration1_Settings(),
		migration2_Identity(),
		migration3_Lists(),
		migration4_Entries(),
		migration5_ShareTokens(),
		migration6_Tombstones(),
	}
}

// migration1_Settings creates the process-wide key-value settings table
// backing the Server Identity component (server_id, session_key).
func migration1_Settings() Migration {
	return Migration{
		Version:     1,
		Description: "create settings table",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS settings (
					key   TEXT PRIMARY KEY,
					value TEXT NOT NULL
				)
			`)
			return err
		},
	}
}

// migration2_Identity creates users, their registered keys, and the
// optional secondary password login.
func migration2_Identity() Migration {
	return Migration{
		Version:     2,
		Description: "create users, user_key, user_login tables",
		Up: func(tx *sql.Tx) error {
			if _, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS users (
					uuid          TEXT PRIMARY KEY,
					name          TEXT NOT NULL,
					locked_reason TEXT,
					last_seen     INTEGER NOT NULL,
					delete_after  INTEGER
				)
			`); err != nil {
				return err
			}

			if _, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS user_key (
					user_uuid  TEXT PRIMARY KEY REFERENCES users(uuid) ON DELETE CASCADE,
					public_key BLOB NOT NULL,
					key_type   TEXT NOT NULL
				)
			`); err != nil {
				return err
			}

			if _, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS user_login (
					user_uuid     TEXT PRIMARY KEY REFERENCES users(uuid) ON DELETE CASCADE,
					email         TEXT NOT NULL UNIQUE,
					password_hash TEXT NOT NULL,
					verified      INTEGER NOT NULL DEFAULT 0
				)
			`); err != nil {
				return err
			}

			_, err := tx.Exec(`CREATE TABLE IF NOT EXISTS deleted_user (
				user_uuid TEXT NOT NULL,
				created   INTEGER NOT NULL
			)`)
			return err
		},
	}
}

// migration3_Lists creates lists and their non-owner permission grants.
func migration3_Lists() Migration {
	return Migration{
		Version:     3,
		Description: "create lists and list_permissions tables",
		Up: func(tx *sql.Tx) error {
			if _, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS lists (
					uuid       TEXT PRIMARY KEY,
					owner_uuid TEXT NOT NULL REFERENCES users(uuid),
					name       TEXT NOT NULL,
					name_a     TEXT NOT NULL,
					name_b     TEXT NOT NULL,
					changed    INTEGER NOT NULL,
					created    INTEGER NOT NULL
				)
			`); err != nil {
				return err
			}
			if _, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_lists_owner ON lists(owner_uuid)`); err != nil {
				return err
			}

			if _, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS list_permissions (
					list_uuid TEXT NOT NULL REFERENCES lists(uuid) ON DELETE CASCADE,
					user_uuid TEXT NOT NULL REFERENCES users(uuid) ON DELETE CASCADE,
					write     INTEGER NOT NULL DEFAULT 0,
					reshare   INTEGER NOT NULL DEFAULT 0,
					changed   INTEGER NOT NULL,
					PRIMARY KEY (list_uuid, user_uuid)
				)
			`); err != nil {
				return err
			}
			_, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_list_permissions_user ON list_permissions(user_uuid)`)
			return err
		},
	}
}

// migration4_Entries creates entries and their meanings.
func migration4_Entries() Migration {
	return Migration{
		Version:     4,
		Description: "create entries and entry_meaning tables",
		Up: func(tx *sql.Tx) error {
			if _, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS entries (
					uuid      TEXT PRIMARY KEY,
					list_uuid TEXT NOT NULL REFERENCES lists(uuid) ON DELETE CASCADE,
					tip       TEXT NOT NULL,
					changed   INTEGER NOT NULL,
					updated   INTEGER NOT NULL
				)
			`); err != nil {
				return err
			}
			if _, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_entries_list ON entries(list_uuid)`); err != nil {
				return err
			}
			if _, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_entries_updated ON entries(updated)`); err != nil {
				return err
			}

			_, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS entry_meaning (
					entry_uuid TEXT NOT NULL REFERENCES entries(uuid) ON DELETE CASCADE,
					value      TEXT NOT NULL,
					is_a       INTEGER NOT NULL
				)
			`)
			if err != nil {
				return err
			}
			_, err = tx.Exec(`CREATE INDEX IF NOT EXISTS idx_entry_meaning_entry ON entry_meaning(entry_uuid)`)
			return err
		},
	}
}

// migration5_ShareTokens creates the two-part share code table.
func migration5_ShareTokens() Migration {
	return Migration{
		Version:     5,
		Description: "create share_token table",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS share_token (
					token_a      TEXT PRIMARY KEY,
					token_b_hash BLOB NOT NULL,
					list_uuid    TEXT NOT NULL REFERENCES lists(uuid) ON DELETE CASCADE,
					deadline     INTEGER NOT NULL,
					write        INTEGER NOT NULL DEFAULT 0,
					reshare      INTEGER NOT NULL DEFAULT 0,
					reusable     INTEGER NOT NULL DEFAULT 0
				)
			`)
			return err
		},
	}
}

// migration6_Tombstones creates the deletion tombstone tables. deleted_user
// was created alongside users in migration2 since account deletion needs
// it from day one; the remaining three are created here.
func migration6_Tombstones() Migration {
	return Migration{
		Version:     6,
		Description: "create deleted_list, deleted_list_shared, deleted_entry tombstone tables",
		Up: func(tx *sql.Tx) error {
			if _, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS deleted_list (
					owner_uuid TEXT NOT NULL,
					list_uuid  TEXT NOT NULL,
					created    INTEGER NOT NULL
				)
			`); err != nil {
				return err
			}
			if _, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_deleted_list_owner ON deleted_list(owner_uuid)`); err != nil {
				return err
			}

			if _, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS deleted_list_shared (
					recipient_uuid TEXT NOT NULL,
					list_uuid      TEXT NOT NULL,
					created        INTEGER NOT NULL
				)
			`); err != nil {
				return err
			}
			if _, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_deleted_list_shared_recipient ON deleted_list_shared(recipient_uuid)`); err != nil {
				return err
			}

			if _, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS deleted_entry (
					list_uuid  TEXT NOT NULL,
					entry_uuid TEXT NOT NULL,
					created    INTEGER NOT NULL
				)
			`); err != nil {
				return err
			}
			_, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_deleted_entry_list ON deleted_entry(list_uuid)`)
			return err
		},
	}
}
