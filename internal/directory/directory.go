// Package directory looks up organizations, users, memberships, and
// clients. These records are owned by the surrounding application; this
// package only reads them.
package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"bulk-operations-engine/internal/models"
)

var (
	ErrOrganizationNotFound = errors.New("organization not found")
	ErrUserNotFound         = errors.New("user not found")
)

// Directory performs read-only lookups against the shared database.
type Directory struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Directory {
	return &Directory{pool: pool}
}

// ResolveOrganization accepts either an internal id or an external alias.
func (d *Directory) ResolveOrganization(ctx context.Context, idOrAlias string) (models.Organization, error) {
	var org models.Organization
	var alias pgtype.Text
	err := d.pool.QueryRow(ctx, `
		SELECT id, external_alias, name FROM organizations
		WHERE id = $1 OR external_alias = $1
	`, idOrAlias).Scan(&org.ID, &alias, &org.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Organization{}, ErrOrganizationNotFound
	}
	if err != nil {
		return models.Organization{}, fmt.Errorf("resolve organization: %w", err)
	}
	if alias.Valid {
		org.ExternalAlias = alias.String
	}
	return org, nil
}

// GetUser fetches one user by id.
func (d *Directory) GetUser(ctx context.Context, id string) (models.User, error) {
	var u models.User
	err := d.pool.QueryRow(ctx, `
		SELECT id, email FROM users WHERE id = $1
	`, id).Scan(&u.ID, &u.Email)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	if err != nil {
		return models.User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// IsMember reports whether the user belongs to the organization.
func (d *Directory) IsMember(ctx context.Context, orgID, userID string) (bool, error) {
	var exists bool
	err := d.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM memberships WHERE organization_id = $1 AND user_id = $2
		)
	`, orgID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return exists, nil
}

// ListClients returns all clients managed under the organization.
func (d *Directory) ListClients(ctx context.Context, orgID string) ([]models.Client, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT id, name, type, content_count, contact_email
		FROM clients WHERE organization_id = $1
		ORDER BY name
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	defer rows.Close()
	return collectClients(rows)
}

// GetClients fetches the given client ids, preserving input order.
// Unknown ids are silently absent from the result.
func (d *Directory) GetClients(ctx context.Context, ids []string) ([]models.Client, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := d.pool.Query(ctx, `
		SELECT id, name, type, content_count, contact_email
		FROM clients WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("get clients: %w", err)
	}
	defer rows.Close()
	clients, err := collectClients(rows)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]models.Client, len(clients))
	for _, c := range clients {
		byID[c.ID] = c
	}
	ordered := make([]models.Client, 0, len(clients))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			ordered = append(ordered, c)
		}
	}
	return ordered, nil
}

func collectClients(rows pgx.Rows) ([]models.Client, error) {
	var clients []models.Client
	for rows.Next() {
		var c models.Client
		var email pgtype.Text
		if err := rows.Scan(&c.ID, &c.Name, &c.Type, &c.ContentCount, &email); err != nil {
			return nil, fmt.Errorf("scan client: %w", err)
		}
		if email.Valid {
			c.ContactEmail = &email.String
		}
		clients = append(clients, c)
	}
	return clients, rows.Err()
}
