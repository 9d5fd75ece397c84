package models

import (
	"fmt"
	"math"
	"time"
)

// Operation statuses persisted in Postgres.
const (
	StatusScheduled  = "scheduled"
	StatusInProgress = "in_progress"
	StatusPaused     = "paused"
	StatusCancelled  = "cancelled"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Control actions accepted by PATCH /bulk-operations.
const (
	ActionCancel = "cancel"
	ActionPause  = "pause"
	ActionResume = "resume"
	ActionRetry  = "retry"
)

// Operation types. Each is an opaque dispatch target for the worker.
const (
	TypeContentPublish  = "content-publish"
	TypeContentSchedule = "content-schedule"
	TypeApprovalSubmit  = "approval-submit"
	TypeTemplateApply   = "template-apply"
	TypeAnalyticsExport = "analytics-export"
)

// BulkOperation is one bulk-action instance fanning out over a set of
// clients and optionally items. It is the only entity this core owns.
type BulkOperation struct {
	ID                string         `json:"id"`
	Type              string         `json:"type"`
	OrganizationID    string         `json:"organizationId"`
	ExecutedBy        string         `json:"executedBy"`
	ClientIDs         []string       `json:"clientIds"`
	ItemIDs           []string       `json:"itemIds"`
	Parameters        map[string]any `json:"parameters"`
	Status            string         `json:"status"`
	Progress          int            `json:"progress"`
	CurrentStep       string         `json:"currentStep"`
	EstimatedDuration string         `json:"estimatedDuration"`
	ScheduledFor      *time.Time     `json:"scheduledFor,omitempty"`
	StartedAt         time.Time      `json:"startedAt"`
	CompletedAt       *time.Time     `json:"completedAt,omitempty"`
	Error             *string        `json:"error,omitempty"`
	CreatedAt         time.Time      `json:"createdAt"`
	UpdatedAt         time.Time      `json:"updatedAt"`
}

// TotalSteps is the number of units of work in the fan-out: one per
// (client, item) pair, or one per client when there are no items.
func (o BulkOperation) TotalSteps() int {
	items := len(o.ItemIDs)
	if items == 0 {
		items = 1
	}
	return len(o.ClientIDs) * items
}

// Terminal reports whether a status admits no further transitions.
func Terminal(status string) bool {
	switch status {
	case StatusCancelled, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// ValidType reports whether t is one of the known operation types.
func ValidType(t string) bool {
	switch t {
	case TypeContentPublish, TypeContentSchedule, TypeApprovalSubmit,
		TypeTemplateApply, TypeAnalyticsExport:
		return true
	}
	return false
}

// OperationTypeDescriptor describes one operation type for the dashboard.
type OperationTypeDescriptor struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	EstimatedTime string `json:"estimatedTime"`
	AffectedItems string `json:"affectedItems"`
}

// OperationTypes returns the fixed catalogue served by GET /bulk-operations.
func OperationTypes() []OperationTypeDescriptor {
	return []OperationTypeDescriptor{
		{
			ID:            TypeContentPublish,
			Name:          "Bulk Content Publishing",
			Description:   "Publish multiple pieces of content across selected clients",
			EstimatedTime: "5-10 minutes",
			AffectedItems: "Content items in draft status",
		},
		{
			ID:            TypeContentSchedule,
			Name:          "Bulk Content Scheduling",
			Description:   "Schedule content publication across multiple clients",
			EstimatedTime: "3-7 minutes",
			AffectedItems: "Approved content items",
		},
		{
			ID:            TypeApprovalSubmit,
			Name:          "Bulk Approval Submission",
			Description:   "Submit multiple content items for approval workflow",
			EstimatedTime: "2-5 minutes",
			AffectedItems: "Draft content items",
		},
		{
			ID:            TypeTemplateApply,
			Name:          "Bulk Template Application",
			Description:   "Apply templates to create content for multiple clients",
			EstimatedTime: "8-15 minutes",
			AffectedItems: "Selected templates",
		},
		{
			ID:            TypeAnalyticsExport,
			Name:          "Bulk Analytics Export",
			Description:   "Export analytics data for multiple clients",
			EstimatedTime: "2-4 minutes",
			AffectedItems: "Client analytics data",
		},
	}
}

var estimateBaseMinutes = map[string]float64{
	TypeContentPublish:  2,
	TypeContentSchedule: 1,
	TypeApprovalSubmit:  1.5,
	TypeTemplateApply:   3,
	TypeAnalyticsExport: 1,
}

// EstimateDuration computes the human-readable duration estimate fixed at
// creation time: ceil(base + clients*0.5 + items*0.2) minutes.
func EstimateDuration(opType string, clientCount, itemCount int) string {
	base, ok := estimateBaseMinutes[opType]
	if !ok {
		base = 2
	}
	estimated := base + float64(clientCount)*0.5 + float64(itemCount)*0.2
	return fmt.Sprintf("%d minutes", int(math.Ceil(estimated)))
}

// EstimateMinutes returns the same estimate as a duration, used to derive
// the worker's per-operation timeout.
func EstimateMinutes(opType string, clientCount, itemCount int) time.Duration {
	base, ok := estimateBaseMinutes[opType]
	if !ok {
		base = 2
	}
	estimated := base + float64(clientCount)*0.5 + float64(itemCount)*0.2
	return time.Duration(math.Ceil(estimated)) * time.Minute
}

// InitialStep is the kickoff description shown while the operation is
// waiting for its first unit of work.
func InitialStep(opType string) string {
	switch opType {
	case TypeContentPublish:
		return "Publishing content across clients..."
	case TypeTemplateApply:
		return "Applying templates to selected clients..."
	case TypeApprovalSubmit:
		return "Submitting items for approval workflow..."
	case TypeContentSchedule:
		return "Scheduling content for publication..."
	case TypeAnalyticsExport:
		return "Generating analytics reports..."
	}
	return "Initializing..."
}
