// Package stats computes organization-wide operation statistics for the
// dashboard overview.
package stats

import (
	"context"
	"fmt"
	"math"
	"time"

	"bulk-operations-engine/internal/models"
)

// OperationLister fetches the rows and status counts the aggregator
// reduces over.
type OperationLister interface {
	ListForStats(ctx context.Context, orgID string) ([]models.BulkOperation, error)
	CountByStatus(ctx context.Context, orgID string) (map[string]int, error)
}

// Stats matches the operationStats block of the overview response.
type Stats struct {
	TotalOperationsToday int            `json:"totalOperationsToday"`
	SuccessRate          float64        `json:"successRate"`
	AvgExecutionTime     string         `json:"avgExecutionTime"`
	TotalItemsProcessed  int            `json:"totalItemsProcessed"`
	TotalClientsAffected int            `json:"totalClientsAffected"`
	OperationsByStatus   map[string]int `json:"operationsByStatus"`
}

// Aggregator reads operation history and reduces it to Stats.
type Aggregator struct {
	ops OperationLister
}

func NewAggregator(ops OperationLister) *Aggregator {
	return &Aggregator{ops: ops}
}

// ForOrganization computes stats over the organization's full history.
func (a *Aggregator) ForOrganization(ctx context.Context, orgID string, now time.Time) (Stats, error) {
	ops, err := a.ops.ListForStats(ctx, orgID)
	if err != nil {
		return Stats{}, fmt.Errorf("load operations: %w", err)
	}
	s := Compute(ops, now)
	counts, err := a.ops.CountByStatus(ctx, orgID)
	if err != nil {
		return Stats{}, fmt.Errorf("count by status: %w", err)
	}
	s.OperationsByStatus = counts
	return s, nil
}

// Compute reduces operation rows to Stats. Today is bounded by the start
// of the current UTC day; rates and durations are rounded to 1 decimal.
func Compute(ops []models.BulkOperation, now time.Time) Stats {
	dayStart := now.UTC().Truncate(24 * time.Hour)

	var s Stats
	var completedCount int
	var execTotal time.Duration
	var timedCount int
	distinctClients := make(map[string]bool)

	for _, op := range ops {
		if !op.CreatedAt.Before(dayStart) {
			s.TotalOperationsToday++
		}
		if op.Status != models.StatusCompleted {
			continue
		}
		completedCount++
		s.TotalItemsProcessed += len(op.ItemIDs)
		for _, id := range op.ClientIDs {
			distinctClients[id] = true
		}
		if op.CompletedAt != nil {
			execTotal += op.CompletedAt.Sub(op.StartedAt)
			timedCount++
		}
	}

	if len(ops) > 0 {
		s.SuccessRate = round1(float64(completedCount) / float64(len(ops)) * 100)
	}
	avgMinutes := 0.0
	if timedCount > 0 {
		avgMinutes = round1(execTotal.Minutes() / float64(timedCount))
	}
	s.AvgExecutionTime = fmt.Sprintf("%.1f minutes", avgMinutes)
	s.TotalClientsAffected = len(distinctClients)
	return s
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
