package storage

import (
	"database/sql"
	"fmt"
)

// InitSchema creates all required tables and indexes.
// This is idempotent - safe to call multiple times.
func InitSchema(db *sql.DB) error {
	ddlStatements := []string{
		// license_keys table: one row per key code
		`CREATE TABLE IF NOT EXISTS license_keys (
			code TEXT PRIMARY KEY,
			policy TEXT NOT NULL,
			expiry_mode TEXT NOT NULL,
			created_at TEXT NOT NULL,
			expires_at TEXT,
			used INTEGER NOT NULL DEFAULT 0,
			device_id TEXT NOT NULL DEFAULT '',
			activated_at TEXT,
			extended_days INTEGER NOT NULL DEFAULT 0,
			extended_at TEXT,
			notes TEXT NOT NULL DEFAULT '',
			revision INTEGER NOT NULL DEFAULT 1
		)`,

		// Policy filter on the admin listing
		`CREATE INDEX IF NOT EXISTS idx_license_keys_policy ON license_keys(policy)`,

		// Expiry scans for purge and stats
		`CREATE INDEX IF NOT EXISTS idx_license_keys_expires ON license_keys(expires_at)`,
	}

	for _, stmt := range ddlStatements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute DDL: %w", err)
		}
	}

	return nil
}

// MigrateSchema checks current schema version and applies migrations.
// Only v1 exists so far.
func MigrateSchema(db *sql.DB) error {
	return InitSchema(db)
}
