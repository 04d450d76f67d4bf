package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns all schema migrations. The SQL is portable between
// PostgreSQL and SQLite.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create users and organizations tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					id TEXT PRIMARY KEY,
					email TEXT NOT NULL UNIQUE,
					display_name TEXT NOT NULL DEFAULT '',
					password_hash TEXT,
					is_system_admin BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL
				);

				CREATE TABLE IF NOT EXISTS organizations (
					id TEXT PRIMARY KEY,
					slug TEXT NOT NULL UNIQUE,
					seat_limit INTEGER,
					seats_used INTEGER NOT NULL DEFAULT 0,
					created_at TIMESTAMP NOT NULL
				);
			`,
		},
		{
			Version:     2,
			Description: "Create org_memberships table",
			SQL: `
				CREATE TABLE IF NOT EXISTS org_memberships (
					id TEXT PRIMARY KEY,
					user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					org_id TEXT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
					roles TEXT NOT NULL,
					is_disabled BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL,
					UNIQUE(user_id, org_id)
				);

				CREATE INDEX IF NOT EXISTS idx_org_memberships_user_id ON org_memberships(user_id);
			`,
		},
		{
			Version:     3,
			Description: "Create sso_configs table",
			SQL: `
				CREATE TABLE IF NOT EXISTS sso_configs (
					org_id TEXT PRIMARY KEY REFERENCES organizations(id) ON DELETE CASCADE,
					protocol TEXT NOT NULL,
					status TEXT NOT NULL,
					config TEXT NOT NULL,
					updated_at TIMESTAMP NOT NULL
				);
			`,
		},
		{
			Version:     4,
			Description: "Create security_events table",
			SQL: `
				CREATE TABLE IF NOT EXISTS security_events (
					id TEXT PRIMARY KEY,
					event TEXT NOT NULL,
					metadata TEXT NOT NULL,
					created_at TIMESTAMP NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_security_events_created_at ON security_events(created_at);
				CREATE INDEX IF NOT EXISTS idx_security_events_event ON security_events(event);
			`,
		},
	}
}

// Migrate applies pending migrations in version order, each in its own
// transaction, and returns the number applied
func Migrate(ctx context.Context, db *sql.DB) (int, error) {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL
		)
	`); err != nil {
		return 0, fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	applied := make(map[int]bool)
	rows, err := db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return 0, fmt.Errorf("failed to read applied migrations: %w", err)
	}
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("failed to read applied migrations: %w", err)
	}

	count := 0
	for _, m := range GetMigrations() {
		if applied[m.Version] {
			continue
		}
		if err := applyMigration(ctx, db, m); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func applyMigration(ctx context.Context, db *sql.DB, m Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration %d: %w", m.Version, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return fmt.Errorf("migration %d (%s) failed: %w", m.Version, m.Description, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, description, applied_at) VALUES ($1, $2, $3)`,
		m.Version, m.Description, time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
	}
	return tx.Commit()
}
