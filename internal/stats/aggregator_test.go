package stats

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bulk-operations-engine/internal/models"
)

func completedOp(started time.Time, runtime time.Duration, clients, items []string) models.BulkOperation {
	done := started.Add(runtime)
	return models.BulkOperation{
		Status:      models.StatusCompleted,
		ClientIDs:   clients,
		ItemIDs:     items,
		StartedAt:   started,
		CompletedAt: &done,
		CreatedAt:   started,
	}
}

func TestComputeSuccessRate(t *testing.T) {
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	base := now.Add(-48 * time.Hour)

	ops := []models.BulkOperation{
		completedOp(base, 4*time.Minute, []string{"a"}, []string{"i1"}),
		completedOp(base, 6*time.Minute, []string{"a", "b"}, []string{"i2", "i3"}),
		completedOp(base, 5*time.Minute, []string{"c"}, nil),
		{Status: models.StatusFailed, ClientIDs: []string{"d"}, StartedAt: base, CreatedAt: base},
	}

	s := Compute(ops, now)
	assert.Equal(t, 75.0, s.SuccessRate)
	assert.Equal(t, "5.0 minutes", s.AvgExecutionTime)
	assert.Equal(t, 3, s.TotalItemsProcessed)
	// a, b, c from completed operations; d belongs to the failed one.
	assert.Equal(t, 3, s.TotalClientsAffected)
	assert.Equal(t, 0, s.TotalOperationsToday)
}

func TestComputeToday(t *testing.T) {
	now := time.Date(2026, 3, 10, 1, 30, 0, 0, time.UTC)

	ops := []models.BulkOperation{
		{Status: models.StatusInProgress, CreatedAt: now.Add(-time.Hour)},
		{Status: models.StatusScheduled, CreatedAt: now.Add(-30 * time.Minute)},
		// Yesterday 23:30 UTC is outside the current UTC day.
		{Status: models.StatusCompleted, CreatedAt: now.Add(-2 * time.Hour)},
	}

	s := Compute(ops, now)
	assert.Equal(t, 2, s.TotalOperationsToday)
}

func TestComputeEmpty(t *testing.T) {
	s := Compute(nil, time.Now())
	assert.Equal(t, 0.0, s.SuccessRate)
	assert.Equal(t, "0.0 minutes", s.AvgExecutionTime)
	assert.Equal(t, 0, s.TotalItemsProcessed)
	assert.Equal(t, 0, s.TotalClientsAffected)
}

type fakeLister struct {
	ops []models.BulkOperation
}

func (f fakeLister) ListForStats(context.Context, string) ([]models.BulkOperation, error) {
	return f.ops, nil
}

func (f fakeLister) CountByStatus(context.Context, string) (map[string]int, error) {
	counts := make(map[string]int)
	for _, op := range f.ops {
		counts[op.Status]++
	}
	return counts, nil
}

func TestForOrganization(t *testing.T) {
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	base := now.Add(-48 * time.Hour)

	agg := NewAggregator(fakeLister{ops: []models.BulkOperation{
		completedOp(base, 4*time.Minute, []string{"a"}, []string{"i1"}),
		{Status: models.StatusFailed, ClientIDs: []string{"b"}, StartedAt: base, CreatedAt: base},
	}})

	s, err := agg.ForOrganization(context.Background(), "org-1", now)
	require.NoError(t, err)
	assert.Equal(t, 50.0, s.SuccessRate)
	assert.Equal(t, map[string]int{
		models.StatusCompleted: 1,
		models.StatusFailed:    1,
	}, s.OperationsByStatus)
}

func TestComputeRounding(t *testing.T) {
	now := time.Now().UTC()
	base := now.Add(-24 * time.Hour)

	ops := []models.BulkOperation{
		completedOp(base, 6*time.Minute+10*time.Second, []string{"a"}, nil),
		completedOp(base, 6*time.Minute+20*time.Second, []string{"a"}, nil),
		{Status: models.StatusFailed, CreatedAt: base, StartedAt: base},
	}

	s := Compute(ops, now)
	// 2 of 3 completed → 66.666… → 66.7
	assert.Equal(t, 66.7, s.SuccessRate)
	// mean of 6m10s and 6m20s = 6.25 minutes → 6.3
	assert.Equal(t, "6.3 minutes", s.AvgExecutionTime)
}
