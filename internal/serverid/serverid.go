// Package serverid manages the process-wide identity settings: a random
// server id (used as the "aud" claim for every auth token) and a session
// signing secret. Both are generated once and persisted in the settings
// table so they survive restarts.
package serverid

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	keyServerID   = "server_id"
	keySessionKey = "session_key"

	sessionKeyBytes = 32
)

// Identity holds the process-wide server id and session signing secret.
type Identity struct {
	ServerID   uuid.UUID
	SessionKey []byte
}

// Load reads the server identity from the settings table, generating and
// persisting it on first start. Both values are stable across restarts.
func Load(db *sql.DB) (*Identity, error) {
	if err := ensureTable(db); err != nil {
		return nil, err
	}

	serverID, err := loadOrCreate(db, keyServerID, func() (string, error) {
		return uuid.New().String(), nil
	})
	if err != nil {
		return nil, fmt.Errorf("load server_id: %w", err)
	}

	sessionKeyHex, err := loadOrCreate(db, keySessionKey, func() (string, error) {
		buf := make([]byte, sessionKeyBytes)
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		return hex.EncodeToString(buf), nil
	})
	if err != nil {
		return nil, fmt.Errorf("load session_key: %w", err)
	}

	id, err := uuid.Parse(serverID)
	if err != nil {
		return nil, fmt.Errorf("stored server_id is not a valid uuid: %w", err)
	}

	sessionKey, err := hex.DecodeString(sessionKeyHex)
	if err != nil {
		return nil, fmt.Errorf("stored session_key is not valid hex: %w", err)
	}

	logrus.WithField("server_id", id).Info("server identity loaded")

	return &Identity{ServerID: id, SessionKey: sessionKey}, nil
}

func ensureTable(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS settings (key TEXT PRIMARY KEY, value TEXT NOT NULL)`)
	return err
}

// loadOrCreate returns the stored value for key, inserting a freshly
// generated one inside a transaction if it is absent. The transaction
// guards against two concurrent first-starts generating divergent values.
func loadOrCreate(db *sql.DB, key string, generate func() (string, error)) (string, error) {
	tx, err := db.Begin()
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	var value string
	err = tx.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	switch {
	case err == nil:
		return value, tx.Commit()
	case err != sql.ErrNoRows:
		return "", err
	}

	value, err = generate()
	if err != nil {
		return "", err
	}

	if _, err := tx.Exec(`INSERT INTO settings (key, value) VALUES (?, ?)`, key, value); err != nil {
		return "", err
	}

	return value, tx.Commit()
}
