package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/render"

	"bulk-operations-engine/internal/fsm"
	"bulk-operations-engine/internal/httperr"
	"bulk-operations-engine/internal/models"
	"bulk-operations-engine/internal/store"
	"bulk-operations-engine/internal/telemetry"
)

type controlRequest struct {
	OperationID    string `json:"operationId" validate:"required"`
	Action         string `json:"action" validate:"required,oneof=cancel pause resume retry"`
	OrganizationID string `json:"organizationId" validate:"required"`
}

type controlResponse struct {
	Success        bool                 `json:"success"`
	OperationID    string               `json:"operationId"`
	Action         string               `json:"action"`
	PreviousStatus string               `json:"previousStatus"`
	NewStatus      string               `json:"newStatus"`
	Message        string               `json:"message"`
	ProcessedAt    time.Time            `json:"processedAt"`
	Operation      models.BulkOperation `json:"operation"`
}

// handleControl applies a user-issued action as a state transition. The
// transition table rejects anything illegal (for example cancelling an
// already-completed operation) with 409 Conflict.
func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	var req controlRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		s.renderErr(w, r, httperr.BadRequest("Invalid JSON body"))
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.renderErr(w, r, httperr.BadRequest("Missing required fields: operationId, action, organizationId"))
		return
	}

	_, org, err := s.caller(r, req.OrganizationID)
	if err != nil {
		s.renderErr(w, r, err)
		return
	}

	op, err := s.store.GetOperation(r.Context(), req.OperationID)
	if err != nil {
		s.renderErr(w, r, err)
		return
	}
	if op.OrganizationID != org.ID {
		s.renderErr(w, r, httperr.NotFound("Operation"))
		return
	}

	newStatus, err := fsm.Next(op.Status, req.Action)
	if err != nil {
		var illegal *fsm.ErrIllegalTransition
		if errors.As(err, &illegal) {
			s.renderErr(w, r, httperr.Conflict(illegal.Error()))
			return
		}
		s.renderErr(w, r, err)
		return
	}
	if req.Action == models.ActionResume && op.ScheduledFor != nil && op.ScheduledFor.After(time.Now()) {
		// The operation was paused before its scheduled start; resuming
		// puts it back to waiting, not running. Its queue entry still
		// fires at the original time.
		newStatus = models.StatusScheduled
	}

	update := store.OperationUpdate{Status: store.Str(newStatus)}
	switch req.Action {
	case models.ActionCancel:
		update.CurrentStep = store.Str("Cancelled by user")
		update.CompletedAt = nowPtr()
	case models.ActionPause:
		update.CurrentStep = store.Str("Paused")
	case models.ActionResume:
		if newStatus == models.StatusScheduled {
			update.CurrentStep = store.Str(models.InitialStep(op.Type))
		}
	case models.ActionRetry:
		update.Progress = store.Int(0)
		update.CurrentStep = store.Str(models.InitialStep(op.Type))
		update.ClearError = true
		update.ClearCompletedAt = true
	}

	if err := s.store.UpdateOperation(r.Context(), op.ID, update); err != nil {
		s.renderErr(w, r, err)
		return
	}

	switch req.Action {
	case models.ActionCancel:
		// Drop queued or scheduled entries; a running worker observes the
		// persisted status at its next suspension point.
		if err := s.queue.Remove(r.Context(), op.ID); err != nil {
			s.log.Error("remove cancelled operation from queue", "operation_id", op.ID, "err", err)
		}
	case models.ActionRetry:
		if err := s.queue.Enqueue(r.Context(), op.ID, time.Now()); err != nil {
			s.renderErr(w, r, err)
			return
		}
	}

	updated, err := s.store.GetOperation(r.Context(), op.ID)
	if err != nil {
		s.renderErr(w, r, err)
		return
	}
	telemetry.ControlActions.WithLabelValues(req.Action).Inc()
	s.log.Info("control action applied", "operation_id", op.ID, "action", req.Action,
		"previous_status", op.Status, "new_status", newStatus)

	render.JSON(w, r, controlResponse{
		Success:        true,
		OperationID:    op.ID,
		Action:         req.Action,
		PreviousStatus: op.Status,
		NewStatus:      newStatus,
		Message:        fsm.ActionMessage(req.Action),
		ProcessedAt:    time.Now().UTC(),
		Operation:      updated,
	})
}
