package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"bulk-operations-engine/internal/config"
	"bulk-operations-engine/internal/models"
	"bulk-operations-engine/internal/progress"
	"bulk-operations-engine/internal/store"
	"bulk-operations-engine/internal/telemetry"
)

// OperationStore is the slice of the repository the orchestrator needs.
type OperationStore interface {
	GetOperation(ctx context.Context, id string) (models.BulkOperation, error)
	UpdateOperation(ctx context.Context, id string, u store.OperationUpdate) error
}

// OperationQueue delivers operation ids to the worker.
type OperationQueue interface {
	Enqueue(ctx context.Context, operationID string, runAt time.Time) error
	PromoteScheduled(ctx context.Context, now time.Time, limit int64) (int, error)
	RequeueExpired(ctx context.Context, now time.Time, limit int64) ([]string, error)
	DequeueWithLease(ctx context.Context) (string, error)
	ExtendLease(ctx context.Context, operationID string, extension time.Duration) error
	Ack(ctx context.Context, operationID string) error
	ReadyDepth(ctx context.Context) (int64, error)
}

// UnitHandler performs one unit of work: one item for one client, or one
// client alone when the operation has no items (itemID is empty then).
type UnitHandler func(ctx context.Context, op models.BulkOperation, clientID, itemID string) error

// errCancelled aborts the fan-out when the persisted status was flipped
// to cancelled from outside. The record is left as the control handler
// wrote it.
var errCancelled = errors.New("operation cancelled")

// Orchestrator drives the worker execution loop: it leases operations off
// the queue and fans each one out over clients × items, writing progress
// back to the store after every unit of work.
type Orchestrator struct {
	cfg            config.Config
	queue          OperationQueue
	store          OperationStore
	handlers       map[string]UnitHandler
	defaultHandler UnitHandler
	log            *slog.Logger
}

func NewOrchestrator(cfg config.Config, q OperationQueue, st OperationStore, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	o := &Orchestrator{
		cfg:      cfg,
		queue:    q,
		store:    st,
		handlers: make(map[string]UnitHandler),
		log:      log,
	}
	o.defaultHandler = o.handleDefault
	return o
}

// RegisterHandler binds a unit handler to an operation type.
func (o *Orchestrator) RegisterHandler(opType string, handler UnitHandler) {
	if opType == "" || handler == nil {
		return
	}
	o.handlers[opType] = handler
}

// Run starts the main worker loop until context cancellation.
func (o *Orchestrator) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_, _ = o.queue.PromoteScheduled(ctx, time.Now(), int64(o.cfg.ScheduledBatchSize))
		if reclaimed, _ := o.queue.RequeueExpired(ctx, time.Now(), 100); len(reclaimed) > 0 {
			o.log.Warn("reclaimed expired leases", "count", len(reclaimed))
			telemetry.InFlightGauge.Sub(float64(len(reclaimed)))
		}
		if depth, err := o.queue.ReadyDepth(ctx); err == nil {
			telemetry.QueueDepthGauge.Set(float64(depth))
		}

		operationID, err := o.queue.DequeueWithLease(ctx)
		if err != nil || operationID == "" {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(o.cfg.WorkerPollInterval):
			}
			continue
		}

		op, err := o.store.GetOperation(ctx, operationID)
		if err != nil {
			o.log.Error("load operation", "operation_id", operationID, "err", err)
			_ = o.queue.Ack(ctx, operationID)
			continue
		}
		if models.Terminal(op.Status) {
			_ = o.queue.Ack(ctx, operationID)
			continue
		}
		if op.Status == models.StatusPaused {
			// Paused before it ever started; hand the id back for later.
			_ = o.queue.Ack(ctx, operationID)
			_ = o.queue.Enqueue(ctx, operationID, time.Now().Add(o.cfg.PauseCheckInterval))
			continue
		}

		telemetry.InFlightGauge.Inc()
		err = o.execute(ctx, op)
		telemetry.InFlightGauge.Dec()
		if err != nil {
			// Interrupted mid-operation: keep the inflight lease so
			// RequeueExpired re-delivers it to the next worker.
			continue
		}
		_ = o.queue.Ack(ctx, operationID)
	}
}

// execute runs the fan-out for one operation and persists its outcome.
// A non-nil return means the operation was interrupted rather than
// finished; the caller must keep its lease alive for redelivery.
func (o *Orchestrator) execute(ctx context.Context, op models.BulkOperation) error {
	timeout := time.Duration(float64(models.EstimateMinutes(op.Type, len(op.ClientIDs), len(op.ItemIDs))) * o.cfg.TimeoutFactor)
	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now().UTC()
	if err := o.store.UpdateOperation(opCtx, op.ID, store.OperationUpdate{
		Status:    store.Str(models.StatusInProgress),
		StartedAt: &started,
	}); err != nil {
		o.log.Error("mark in_progress", "operation_id", op.ID, "err", err)
		return err
	}
	o.log.Info("operation started", "operation_id", op.ID, "type", op.Type,
		"clients", len(op.ClientIDs), "items", len(op.ItemIDs))

	err := o.fanOut(opCtx, op)
	switch {
	case err == nil:
		o.finish(op.ID, store.OperationUpdate{
			Status:      store.Str(models.StatusCompleted),
			Progress:    store.Int(100),
			CurrentStep: store.Str("Operation completed successfully"),
			CompletedAt: nowPtr(),
		})
		telemetry.OperationsCompleted.Inc()
		o.log.Info("operation completed", "operation_id", op.ID)
	case errors.Is(err, errCancelled):
		// The control handler already wrote the cancelled record.
		telemetry.OperationsCancelled.Inc()
		o.log.Info("operation cancelled", "operation_id", op.ID)
	case errors.Is(opCtx.Err(), context.Canceled):
		// Worker shutdown, not an operation failure. The record stays
		// in_progress and the lease expires, so another worker picks the
		// operation back up.
		o.log.Info("operation interrupted by shutdown", "operation_id", op.ID)
		return ctx.Err()
	case errors.Is(opCtx.Err(), context.DeadlineExceeded):
		msg := fmt.Sprintf("operation timed out after %s", timeout)
		o.finish(op.ID, store.OperationUpdate{
			Status:      store.Str(models.StatusFailed),
			CurrentStep: store.Str("Operation failed"),
			Error:       store.Str(msg),
			CompletedAt: nowPtr(),
		})
		telemetry.OperationsFailed.Inc()
		o.log.Error("operation timed out", "operation_id", op.ID, "timeout", timeout)
	default:
		o.finish(op.ID, store.OperationUpdate{
			Status:      store.Str(models.StatusFailed),
			CurrentStep: store.Str("Operation failed"),
			Error:       store.Str(err.Error()),
			CompletedAt: nowPtr(),
		})
		telemetry.OperationsFailed.Inc()
		o.log.Error("operation failed", "operation_id", op.ID, "err", err)
	}
	return nil
}

// fanOut iterates clients in request order, and items in request order
// within each client. Exactly one progress write happens per unit of
// work; a unit failure aborts immediately with no partial retry.
func (o *Orchestrator) fanOut(ctx context.Context, op models.BulkOperation) error {
	handler := o.handlers[op.Type]
	if handler == nil {
		handler = o.defaultHandler
	}

	totalSteps := op.TotalSteps()
	completedSteps := 0

	for _, clientID := range op.ClientIDs {
		step := fmt.Sprintf("Processing client %s...", clientID)
		if err := o.store.UpdateOperation(ctx, op.ID, store.OperationUpdate{
			CurrentStep: store.Str(step),
		}); err != nil {
			return fmt.Errorf("update current step: %w", err)
		}

		if len(op.ItemIDs) == 0 {
			if err := handler(ctx, op, clientID, ""); err != nil {
				return fmt.Errorf("client %s: %w", clientID, err)
			}
			completedSteps++
			if err := o.recordUnit(ctx, op, completedSteps, totalSteps, step); err != nil {
				return err
			}
			continue
		}

		for _, itemID := range op.ItemIDs {
			if err := handler(ctx, op, clientID, itemID); err != nil {
				return fmt.Errorf("item %s for client %s: %w", itemID, clientID, err)
			}
			completedSteps++
			step := fmt.Sprintf("Processing item %s for client %s...", itemID, clientID)
			if err := o.recordUnit(ctx, op, completedSteps, totalSteps, step); err != nil {
				return err
			}
		}
	}
	return nil
}

// recordUnit writes one progress update and then sits at the suspension
// point: the place where external cancel/pause takes effect.
func (o *Orchestrator) recordUnit(ctx context.Context, op models.BulkOperation, completedSteps, totalSteps int, step string) error {
	pct := progress.Percentage(completedSteps, totalSteps)
	if err := o.store.UpdateOperation(ctx, op.ID, store.OperationUpdate{
		Progress:    store.Int(pct),
		CurrentStep: store.Str(step),
	}); err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	telemetry.UnitsProcessed.Inc()
	_ = o.queue.ExtendLease(ctx, op.ID, o.cfg.VisibilityTimeout)
	return o.checkpoint(ctx, op.ID)
}

// checkpoint re-reads the persisted status. Cancelled aborts the
// fan-out; paused blocks here, polling until the operation is resumed or
// cancelled. The context deadline still applies while paused.
func (o *Orchestrator) checkpoint(ctx context.Context, operationID string) error {
	for {
		current, err := o.store.GetOperation(ctx, operationID)
		if err != nil {
			return fmt.Errorf("re-read status: %w", err)
		}
		switch current.Status {
		case models.StatusCancelled:
			return errCancelled
		case models.StatusPaused:
			o.log.Info("operation paused, waiting", "operation_id", operationID)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(o.cfg.PauseCheckInterval):
			}
			_ = o.queue.ExtendLease(ctx, operationID, o.cfg.VisibilityTimeout)
		default:
			return ctx.Err()
		}
	}
}

func (o *Orchestrator) finish(operationID string, u store.OperationUpdate) {
	// The operation context may already be expired; terminal writes get
	// their own deadline so the outcome is never lost.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.store.UpdateOperation(ctx, operationID, u); err != nil {
		o.log.Error("persist terminal state", "operation_id", operationID, "err", err)
	}
}

func nowPtr() *time.Time {
	now := time.Now().UTC()
	return &now
}
