package storage

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
	Statements  []string
}

// GetMigrations returns all schema migrations in order.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create RBAC tables",
			Statements: []string{
				`CREATE TABLE IF NOT EXISTS roles (
					id TEXT PRIMARY KEY,
					name TEXT NOT NULL UNIQUE,
					description TEXT NOT NULL DEFAULT '',
					is_system BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL
				)`,
				`CREATE TABLE IF NOT EXISTS permissions (
					id TEXT PRIMARY KEY,
					name TEXT NOT NULL UNIQUE,
					description TEXT NOT NULL DEFAULT '',
					category TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMP NOT NULL
				)`,
				`CREATE TABLE IF NOT EXISTS role_permissions (
					role_id TEXT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					permission_id TEXT NOT NULL REFERENCES permissions(id) ON DELETE CASCADE,
					PRIMARY KEY (role_id, permission_id)
				)`,
			},
		},
		{
			Version:     2,
			Description: "Create users and identities",
			Statements: []string{
				`CREATE TABLE IF NOT EXISTS users (
					id TEXT PRIMARY KEY,
					email TEXT NOT NULL UNIQUE,
					password_hash TEXT,
					name TEXT NOT NULL DEFAULT '',
					image TEXT NOT NULL DEFAULT '',
					role TEXT NOT NULL DEFAULT 'user',
					role_id TEXT REFERENCES roles(id) ON DELETE SET NULL,
					user_metadata TEXT NOT NULL DEFAULT '{}',
					app_metadata TEXT NOT NULL DEFAULT '{}',
					email_verified BOOLEAN NOT NULL DEFAULT FALSE,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					is_two_factor_enabled BOOLEAN NOT NULL DEFAULT FALSE,
					terms_accepted_at TIMESTAMP,
					privacy_accepted_at TIMESTAMP,
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL
				)`,
				`CREATE TABLE IF NOT EXISTS identities (
					id TEXT PRIMARY KEY,
					user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					provider TEXT NOT NULL,
					provider_id TEXT NOT NULL,
					profile_data TEXT NOT NULL DEFAULT '{}',
					created_at TIMESTAMP NOT NULL,
					UNIQUE (provider, provider_id)
				)`,
				`CREATE INDEX IF NOT EXISTS idx_identities_user_id ON identities(user_id)`,
				`CREATE TABLE IF NOT EXISTS user_permissions (
					user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					permission_id TEXT NOT NULL REFERENCES permissions(id) ON DELETE CASCADE,
					granted BOOLEAN NOT NULL,
					created_at TIMESTAMP NOT NULL,
					PRIMARY KEY (user_id, permission_id)
				)`,
			},
		},
		{
			Version:     3,
			Description: "Create teams, members and team roles",
			Statements: []string{
				`CREATE TABLE IF NOT EXISTS teams (
					id TEXT PRIMARY KEY,
					name TEXT NOT NULL,
					slug TEXT NOT NULL UNIQUE,
					domain TEXT UNIQUE,
					parent_team_id TEXT REFERENCES teams(id) ON DELETE SET NULL,
					is_suspended BOOLEAN NOT NULL DEFAULT FALSE,
					theme_color TEXT NOT NULL DEFAULT '#000000',
					logo_url TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL
				)`,
				`CREATE INDEX IF NOT EXISTS idx_teams_parent_team_id ON teams(parent_team_id)`,
				`CREATE TABLE IF NOT EXISTS team_members (
					team_id TEXT NOT NULL REFERENCES teams(id) ON DELETE CASCADE,
					user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					role TEXT NOT NULL,
					status TEXT NOT NULL DEFAULT 'active',
					invitation_token TEXT UNIQUE,
					invited_by TEXT,
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL,
					PRIMARY KEY (team_id, user_id)
				)`,
				`CREATE INDEX IF NOT EXISTS idx_team_members_user_id ON team_members(user_id)`,
				`CREATE TABLE IF NOT EXISTS team_roles (
					id TEXT PRIMARY KEY,
					team_id TEXT NOT NULL REFERENCES teams(id) ON DELETE CASCADE,
					name TEXT NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMP NOT NULL,
					UNIQUE (team_id, name)
				)`,
			},
		},
		{
			Version:     4,
			Description: "Create auth tokens and activity logs",
			Statements: []string{
				`CREATE TABLE IF NOT EXISTS auth_tokens (
					token_hash TEXT PRIMARY KEY,
					kind TEXT NOT NULL,
					subject TEXT NOT NULL,
					expires_at TIMESTAMP NOT NULL,
					used_at TIMESTAMP,
					created_at TIMESTAMP NOT NULL
				)`,
				`CREATE INDEX IF NOT EXISTS idx_auth_tokens_kind_subject ON auth_tokens(kind, subject)`,
				`CREATE TABLE IF NOT EXISTS activity_logs (
					id TEXT PRIMARY KEY,
					user_id TEXT,
					tenant_id TEXT,
					action TEXT NOT NULL,
					details TEXT NOT NULL DEFAULT '{}',
					ip_address TEXT NOT NULL DEFAULT '',
					user_agent TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMP NOT NULL
				)`,
				`CREATE INDEX IF NOT EXISTS idx_activity_logs_tenant_id ON activity_logs(tenant_id)`,
				`CREATE INDEX IF NOT EXISTS idx_activity_logs_created_at ON activity_logs(created_at)`,
			},
		},
	}
}

// Migrate applies every migration newer than the recorded schema version.
// Each migration runs in its own transaction.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		description TEXT NOT NULL,
		applied_at TIMESTAMP NOT NULL
	)`); err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	current, err := SchemaVersion(ctx, db)
	if err != nil {
		return err
	}

	for _, m := range GetMigrations() {
		if m.Version <= current {
			continue
		}
		if err := applyMigration(ctx, db, m); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}
	}
	return nil
}

// SchemaVersion returns the highest applied migration version.
func SchemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	var version sql.NullInt64
	if err := db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_migrations`).Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return int(version.Int64), nil
}

func applyMigration(ctx context.Context, db *sql.DB, m Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range m.Statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, description, applied_at) VALUES ($1, $2, $3)`,
		m.Version, m.Description, time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	return tx.Commit()
}
