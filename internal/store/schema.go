package store

import (
	"context"
	"fmt"
)

// Schema statements executed in order at startup. The directory tables
// (organizations, users, memberships, clients) are owned by the
// surrounding application; they are created here so local development has
// something to look up against.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS bulk_operations (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		organization_id TEXT NOT NULL,
		executed_by TEXT NOT NULL,
		client_ids TEXT[] NOT NULL,
		item_ids TEXT[] NOT NULL DEFAULT '{}',
		parameters JSONB NOT NULL DEFAULT '{}',
		status TEXT NOT NULL,
		progress INT NOT NULL DEFAULT 0,
		current_step TEXT NOT NULL DEFAULT '',
		estimated_duration TEXT NOT NULL DEFAULT '',
		scheduled_for TIMESTAMPTZ,
		started_at TIMESTAMPTZ NOT NULL,
		completed_at TIMESTAMPTZ,
		error TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_bulk_operations_org_created
		ON bulk_operations (organization_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_bulk_operations_org_status
		ON bulk_operations (organization_id, status)`,
	`CREATE TABLE IF NOT EXISTS organizations (
		id TEXT PRIMARY KEY,
		external_alias TEXT UNIQUE,
		name TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS memberships (
		organization_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		PRIMARY KEY (organization_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS clients (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL,
		name TEXT NOT NULL,
		type TEXT NOT NULL DEFAULT 'business',
		content_count INT NOT NULL DEFAULT 0,
		contact_email TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_clients_org ON clients (organization_id)`,
}

// RunMigrations executes the schema statements in order.
func (s *Store) RunMigrations(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("exec schema statement %d: %w", i, err)
		}
	}
	return nil
}
