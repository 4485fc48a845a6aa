package migrations

import (
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
)

// Migration is a single forward-only schema step.
type Migration struct {
	Version     int
	Description string
	Up          func(*sql.Tx) error
}

// MigrationManager applies the sync backend's schema to a database,
// tracking applied versions in a schema_version table.
type MigrationManager struct {
	db         *sql.DB
	migrations []Migration
	logger     *logrus.Logger
}

// NewMigrationManager creates a manager over the full set of known
// migrations, sorted by version.
func NewMigrationManager(db *sql.DB, logger *logrus.Logger) *MigrationManager {
	if logger == nil {
		logger = logrus.New()
	}

	migrations := getAllMigrations()
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })

	return &MigrationManager{
		db:         db,
		migrations: migrations,
		logger:     logger,
	}
}

// Initialize creates the schema_version bookkeeping table if it doesn't
// exist yet.
func (m *MigrationManager) Initialize() error {
	_, err := m.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version      INTEGER PRIMARY KEY,
			description  TEXT NOT NULL,
			applied_at   INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}
	return nil
}

// GetCurrentVersion returns the highest schema version recorded as applied.
func (m *MigrationManager) GetCurrentVersion() (int, error) {
	var version int
	err := m.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to get current version: %w", err)
	}
	return version, nil
}

// GetTargetVersion returns the highest version among known migrations.
func (m *MigrationManager) GetTargetVersion() int {
	target := 0
	for _, migration := range m.migrations {
		if migration.Version > target {
			target = migration.Version
		}
	}
	return target
}

// Migrate brings the database up to the target schema version, applying
// any migrations newer than the current version in order.
func (m *MigrationManager) Migrate() error {
	if err := m.Initialize(); err != nil {
		return err
	}

	currentVersion, err := m.GetCurrentVersion()
	if err != nil {
		return err
	}
	targetVersion := m.GetTargetVersion()

	if currentVersion == targetVersion {
		m.logger.Infof("database schema is up to date (version %d)", currentVersion)
		return nil
	}
	if currentVersion > targetVersion {
		return fmt.Errorf("database schema version (%d) is newer than vtasyncd understands (%d); update vtasyncd", currentVersion, targetVersion)
	}

	m.logger.Infof("migrating database schema from version %d to %d", currentVersion, targetVersion)

	for _, migration := range m.migrations {
		if migration.Version <= currentVersion {
			continue
		}
		if err := m.runMigration(migration); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", migration.Version, migration.Description, err)
		}
		m.logger.Infof("applied migration %d: %s", migration.Version, migration.Description)
	}

	return nil
}

// runMigration applies a single migration and records it, both inside one
// transaction.
func (m *MigrationManager) runMigration(migration Migration) (err error) {
	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if err = migration.Up(tx); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	if _, err = tx.Exec(
		"INSERT INTO schema_version (version, description, applied_at) VALUES (?, ?, ?)",
		migration.Version, migration.Description, time.Now().Unix(),
	); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetMigrationHistory returns every applied migration, oldest first.
func (m *MigrationManager) GetMigrationHistory() ([]MigrationRecord, error) {
	rows, err := m.db.Query(`
		SELECT version, description, applied_at
		FROM schema_version
		ORDER BY version ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query migration history: %w", err)
	}
	defer rows.Close()

	var history []MigrationRecord
	for rows.Next() {
		var record MigrationRecord
		var appliedAt int64
		if err := rows.Scan(&record.Version, &record.Description, &appliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan migration record: %w", err)
		}
		record.AppliedAt = time.Unix(appliedAt, 0)
		history = append(history, record)
	}
	return history, rows.Err()
}

// MigrationRecord is a migration that has been applied to this database.
type MigrationRecord struct {
	Version     int
	Description string
	AppliedAt   time.Time
}
