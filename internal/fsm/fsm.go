// Package fsm encodes the operation lifecycle as an explicit transition
// table. Every control action is checked against the current status;
// anything outside the table is rejected rather than silently applied.
package fsm

import (
	"fmt"

	"bulk-operations-engine/internal/models"
)

// ErrIllegalTransition is returned when an action is not valid for the
// operation's current status. The API maps it to 409 Conflict.
type ErrIllegalTransition struct {
	Status string
	Action string
}

func (e *ErrIllegalTransition) Error() string {
	return fmt.Sprintf("action %q is not allowed while operation is %s", e.Action, e.Status)
}

// transitions maps (current status, action) to the next status. Terminal
// states deliberately have no entries except failed→retry.
var transitions = map[string]map[string]string{
	models.StatusScheduled: {
		models.ActionCancel: models.StatusCancelled,
		models.ActionPause:  models.StatusPaused,
	},
	models.StatusInProgress: {
		models.ActionCancel: models.StatusCancelled,
		models.ActionPause:  models.StatusPaused,
	},
	models.StatusPaused: {
		models.ActionCancel: models.StatusCancelled,
		models.ActionResume: models.StatusInProgress,
	},
	models.StatusFailed: {
		models.ActionRetry: models.StatusInProgress,
	},
}

// Next returns the status an action leads to from the given status, or an
// ErrIllegalTransition if the pair is not in the table.
func Next(status, action string) (string, error) {
	if next, ok := transitions[status][action]; ok {
		return next, nil
	}
	return "", &ErrIllegalTransition{Status: status, Action: action}
}

// ActionMessage is the user-facing confirmation for a successful action.
func ActionMessage(action string) string {
	switch action {
	case models.ActionCancel:
		return "Operation has been cancelled successfully"
	case models.ActionPause:
		return "Operation has been paused and can be resumed later"
	case models.ActionResume:
		return "Operation has been resumed and is continuing"
	case models.ActionRetry:
		return "Operation has been retried and is processing again"
	}
	return "Operation action completed"
}
