package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bulk-operations-engine/internal/models"
)

func asInt(v any) (int, bool) {
	switch t := v.(type) {
	case float64:
		return int(t), true
	case int:
		return t, true
	case int64:
		return int(t), true
	default:
		return 0, false
	}
}

// handleDefault simulates one unit of work for operation types whose real
// execution lives in the surrounding application. Parameters can steer it:
// should_fail forces a failure, fail_on_client fails a specific client,
// unit_duration_ms overrides the simulated delay.
func (o *Orchestrator) handleDefault(ctx context.Context, op models.BulkOperation, clientID, itemID string) error {
	if v, ok := op.Parameters["should_fail"].(bool); ok && v {
		return errors.New("simulated failure requested by parameters.should_fail")
	}
	if v, ok := op.Parameters["fail_on_client"].(string); ok && v == clientID {
		return fmt.Errorf("simulated failure for client %s", clientID)
	}

	delay := o.cfg.UnitDelay
	if ms, ok := asInt(op.Parameters["unit_duration_ms"]); ok && ms > 0 {
		delay = time.Duration(ms) * time.Millisecond
	}
	if delay <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}
