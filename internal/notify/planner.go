// Package notify computes who would be told about an operation. It
// produces plans only; dispatching messages belongs to the surrounding
// application.
package notify

import (
	"context"
	"fmt"

	"bulk-operations-engine/internal/models"
)

// ClientLookup resolves client records; absent ids are simply missing
// from the result.
type ClientLookup interface {
	GetClients(ctx context.Context, ids []string) ([]models.Client, error)
}

// Plan is the notification summary attached to a POST response.
type Plan struct {
	WillNotify             bool     `json:"willNotify"`
	Recipients             []string `json:"recipients"`
	EstimatedNotifications int      `json:"estimatedNotifications"`
}

// Planner builds plans against a fixed operations address.
type Planner struct {
	clients    ClientLookup
	opsAddress string
}

func NewPlanner(clients ClientLookup, opsAddress string) *Planner {
	return &Planner{clients: clients, opsAddress: opsAddress}
}

// Plan resolves each client's contact email (clients without one are
// skipped), always includes the operations address, and deduplicates.
// Every client gets one start and one completion notification.
func (p *Planner) Plan(ctx context.Context, clientIDs []string) (Plan, error) {
	clients, err := p.clients.GetClients(ctx, clientIDs)
	if err != nil {
		return Plan{}, fmt.Errorf("resolve clients: %w", err)
	}

	recipients := []string{p.opsAddress}
	seen := map[string]bool{p.opsAddress: true}
	for _, c := range clients {
		if c.ContactEmail == nil || *c.ContactEmail == "" {
			continue
		}
		if seen[*c.ContactEmail] {
			continue
		}
		seen[*c.ContactEmail] = true
		recipients = append(recipients, *c.ContactEmail)
	}

	return Plan{
		WillNotify:             true,
		Recipients:             recipients,
		EstimatedNotifications: len(clientIDs) * 2,
	}, nil
}

// Fallback is the plan used when client lookup fails: the operations
// address is still told, client contacts are skipped.
func (p *Planner) Fallback(clientIDs []string) Plan {
	return Plan{
		WillNotify:             true,
		Recipients:             []string{p.opsAddress},
		EstimatedNotifications: len(clientIDs) * 2,
	}
}
