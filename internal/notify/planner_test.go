package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bulk-operations-engine/internal/models"
)

type fakeLookup struct {
	clients map[string]models.Client
}

func (f *fakeLookup) GetClients(_ context.Context, ids []string) ([]models.Client, error) {
	var out []models.Client
	for _, id := range ids {
		if c, ok := f.clients[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func email(s string) *string { return &s }

func TestPlanSkipsClientsWithoutEmail(t *testing.T) {
	lookup := &fakeLookup{clients: map[string]models.Client{
		"A": {ID: "A", ContactEmail: email("contact@springfield.gov")},
		"B": {ID: "B"},
	}}
	planner := NewPlanner(lookup, "operations@thrivesenddemo.com")

	plan, err := planner.Plan(context.Background(), []string{"A", "B"})
	require.NoError(t, err)

	assert.True(t, plan.WillNotify)
	assert.Equal(t, []string{"operations@thrivesenddemo.com", "contact@springfield.gov"}, plan.Recipients)
	assert.Equal(t, 4, plan.EstimatedNotifications)
}

func TestPlanDeduplicatesRecipients(t *testing.T) {
	lookup := &fakeLookup{clients: map[string]models.Client{
		"A": {ID: "A", ContactEmail: email("shared@agency.com")},
		"B": {ID: "B", ContactEmail: email("shared@agency.com")},
		"C": {ID: "C", ContactEmail: email("operations@thrivesenddemo.com")},
	}}
	planner := NewPlanner(lookup, "operations@thrivesenddemo.com")

	plan, err := planner.Plan(context.Background(), []string{"A", "B", "C"})
	require.NoError(t, err)

	assert.Equal(t, []string{"operations@thrivesenddemo.com", "shared@agency.com"}, plan.Recipients)
	// The estimate counts clients, not distinct recipients.
	assert.Equal(t, 6, plan.EstimatedNotifications)
}

func TestFallback(t *testing.T) {
	planner := NewPlanner(&fakeLookup{}, "ops@example.com")

	plan := planner.Fallback([]string{"A", "B", "C"})
	assert.True(t, plan.WillNotify)
	assert.Equal(t, []string{"ops@example.com"}, plan.Recipients)
	assert.Equal(t, 6, plan.EstimatedNotifications)
}

func TestPlanUnknownClients(t *testing.T) {
	planner := NewPlanner(&fakeLookup{}, "ops@example.com")

	plan, err := planner.Plan(context.Background(), []string{"ghost"})
	require.NoError(t, err)

	assert.Equal(t, []string{"ops@example.com"}, plan.Recipients)
	assert.Equal(t, 2, plan.EstimatedNotifications)
}
