package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"bulk-operations-engine/internal/models"
)

// ErrNotFound is returned when no operation row matches the given id.
var ErrNotFound = errors.New("operation not found")

// Store wraps pgxpool for Postgres persistence of operation records.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Pool exposes the underlying pool so sibling lookups (directory) can
// share connections.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// CreateOperationParams collects inputs required to insert an operation.
type CreateOperationParams struct {
	Type           string
	OrganizationID string
	ExecutedBy     string
	ClientIDs      []string
	ItemIDs        []string
	Parameters     map[string]any
	ScheduledFor   *time.Time
}

// CreateOperation inserts an operation row with a generated id. Operations
// with a future ScheduledFor start as scheduled, everything else as
// in_progress. The duration estimate is computed once here and never
// recomputed.
func (s *Store) CreateOperation(ctx context.Context, p CreateOperationParams) (models.BulkOperation, error) {
	if len(p.ClientIDs) == 0 {
		return models.BulkOperation{}, errors.New("clientIds must not be empty")
	}
	if p.Parameters == nil {
		p.Parameters = map[string]any{}
	}
	if p.ItemIDs == nil {
		p.ItemIDs = []string{}
	}

	paramsJSON, err := json.Marshal(p.Parameters)
	if err != nil {
		return models.BulkOperation{}, fmt.Errorf("marshal parameters: %w", err)
	}

	now := time.Now().UTC()
	status := models.StatusInProgress
	if p.ScheduledFor != nil && p.ScheduledFor.After(now) {
		status = models.StatusScheduled
	}

	op := models.BulkOperation{
		ID:                uuid.New().String(),
		Type:              p.Type,
		OrganizationID:    p.OrganizationID,
		ExecutedBy:        p.ExecutedBy,
		ClientIDs:         p.ClientIDs,
		ItemIDs:           p.ItemIDs,
		Parameters:        p.Parameters,
		Status:            status,
		Progress:          0,
		CurrentStep:       models.InitialStep(p.Type),
		EstimatedDuration: models.EstimateDuration(p.Type, len(p.ClientIDs), len(p.ItemIDs)),
		ScheduledFor:      p.ScheduledFor,
		StartedAt:         now,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO bulk_operations
			(id, type, organization_id, executed_by, client_ids, item_ids, parameters,
			 status, progress, current_step, estimated_duration, scheduled_for,
			 started_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14)
	`, op.ID, op.Type, op.OrganizationID, op.ExecutedBy, op.ClientIDs, op.ItemIDs,
		paramsJSON, op.Status, op.Progress, op.CurrentStep, op.EstimatedDuration,
		op.ScheduledFor, op.StartedAt, now)
	if err != nil {
		return models.BulkOperation{}, fmt.Errorf("insert operation: %w", err)
	}
	return op, nil
}

// OperationUpdate is a partial update; only non-nil fields are written.
// Clear flags null a column out (retry clears error and completed_at).
type OperationUpdate struct {
	Status           *string
	Progress         *int
	CurrentStep      *string
	Error            *string
	StartedAt        *time.Time
	CompletedAt      *time.Time
	ClearError       bool
	ClearCompletedAt bool
}

// UpdateOperation applies a field-level merge. Concurrent writers never
// overwrite fields they did not set; per-field last-writer-wins is an
// accepted limitation.
func (s *Store) UpdateOperation(ctx context.Context, id string, u OperationUpdate) error {
	sets := []string{"updated_at = NOW()"}
	args := []any{id}

	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if u.Status != nil {
		add("status", *u.Status)
	}
	if u.Progress != nil {
		add("progress", *u.Progress)
	}
	if u.CurrentStep != nil {
		add("current_step", *u.CurrentStep)
	}
	if u.Error != nil {
		add("error", *u.Error)
	} else if u.ClearError {
		sets = append(sets, "error = NULL")
	}
	if u.StartedAt != nil {
		add("started_at", *u.StartedAt)
	}
	if u.CompletedAt != nil {
		add("completed_at", *u.CompletedAt)
	} else if u.ClearCompletedAt {
		sets = append(sets, "completed_at = NULL")
	}

	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE bulk_operations SET %s WHERE id = $1
	`, strings.Join(sets, ", ")), args...)
	if err != nil {
		return fmt.Errorf("update operation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const operationColumns = `
	id, type, organization_id, executed_by, client_ids, item_ids, parameters,
	status, progress, current_step, estimated_duration, scheduled_for,
	started_at, completed_at, error, created_at, updated_at`

// GetOperation fetches an operation by id.
func (s *Store) GetOperation(ctx context.Context, id string) (models.BulkOperation, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+operationColumns+`
		FROM bulk_operations WHERE id = $1
	`, id)
	op, err := scanOperation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.BulkOperation{}, ErrNotFound
	}
	return op, err
}

// ListRecent returns the organization's newest operations inside the
// retention window used for "recent operations" listings.
func (s *Store) ListRecent(ctx context.Context, orgID string, windowDays, limit int) ([]models.BulkOperation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+operationColumns+`
		FROM bulk_operations
		WHERE organization_id = $1 AND created_at >= NOW() - make_interval(days => $2)
		ORDER BY created_at DESC
		LIMIT $3
	`, orgID, windowDays, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent operations: %w", err)
	}
	defer rows.Close()
	return collectOperations(rows)
}

// CountByStatus aggregates operation counts per status for one organization.
func (s *Store) CountByStatus(ctx context.Context, orgID string) (map[string]int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT status, COUNT(*) FROM bulk_operations
		WHERE organization_id = $1
		GROUP BY status
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("aggregate by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// ListForStats returns every operation row for the organization; records
// are retained indefinitely and the stats aggregator reads them all.
func (s *Store) ListForStats(ctx context.Context, orgID string) ([]models.BulkOperation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+operationColumns+`
		FROM bulk_operations WHERE organization_id = $1
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list operations for stats: %w", err)
	}
	defer rows.Close()
	return collectOperations(rows)
}

func collectOperations(rows pgx.Rows) ([]models.BulkOperation, error) {
	var ops []models.BulkOperation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

func scanOperation(row pgx.Row) (models.BulkOperation, error) {
	var op models.BulkOperation
	var paramsJSON []byte
	var scheduledFor, completedAt pgtype.Timestamptz
	var opErr pgtype.Text

	if err := row.Scan(&op.ID, &op.Type, &op.OrganizationID, &op.ExecutedBy,
		&op.ClientIDs, &op.ItemIDs, &paramsJSON, &op.Status, &op.Progress,
		&op.CurrentStep, &op.EstimatedDuration, &scheduledFor, &op.StartedAt,
		&completedAt, &opErr, &op.CreatedAt, &op.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.BulkOperation{}, err
		}
		return models.BulkOperation{}, fmt.Errorf("scan operation: %w", err)
	}

	if err := json.Unmarshal(paramsJSON, &op.Parameters); err != nil {
		return models.BulkOperation{}, fmt.Errorf("unmarshal parameters: %w", err)
	}
	op.ScheduledFor = timePtr(scheduledFor)
	op.CompletedAt = timePtr(completedAt)
	op.Error = textPtr(opErr)
	return op, nil
}

func timePtr(t pgtype.Timestamptz) *time.Time {
	if t.Valid {
		return &t.Time
	}
	return nil
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}

// Str and Int build pointers for OperationUpdate fields.
func Str(v string) *string { return &v }
func Int(v int) *int       { return &v }
