package worker

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"bulk-operations-engine/internal/config"
	"bulk-operations-engine/internal/models"
	"bulk-operations-engine/internal/store"
)

type fakeStore struct {
	mu          sync.Mutex
	ops         map[string]*models.BulkOperation
	progressLog []int
}

func newFakeStore(ops ...models.BulkOperation) *fakeStore {
	fs := &fakeStore{ops: make(map[string]*models.BulkOperation)}
	for i := range ops {
		op := ops[i]
		fs.ops[op.ID] = &op
	}
	return fs
}

func (f *fakeStore) GetOperation(_ context.Context, id string) (models.BulkOperation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	op, ok := f.ops[id]
	if !ok {
		return models.BulkOperation{}, store.ErrNotFound
	}
	return *op, nil
}

func (f *fakeStore) UpdateOperation(_ context.Context, id string, u store.OperationUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	op, ok := f.ops[id]
	if !ok {
		return store.ErrNotFound
	}
	if u.Status != nil {
		op.Status = *u.Status
	}
	if u.Progress != nil {
		op.Progress = *u.Progress
		f.progressLog = append(f.progressLog, *u.Progress)
	}
	if u.CurrentStep != nil {
		op.CurrentStep = *u.CurrentStep
	}
	if u.Error != nil {
		op.Error = u.Error
	} else if u.ClearError {
		op.Error = nil
	}
	if u.StartedAt != nil {
		op.StartedAt = *u.StartedAt
	}
	if u.CompletedAt != nil {
		op.CompletedAt = u.CompletedAt
	} else if u.ClearCompletedAt {
		op.CompletedAt = nil
	}
	return nil
}

func (f *fakeStore) setStatus(id, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops[id].Status = status
}

type fakeQueue struct{}

func (fakeQueue) Enqueue(context.Context, string, time.Time) error { return nil }
func (fakeQueue) PromoteScheduled(context.Context, time.Time, int64) (int, error) {
	return 0, nil
}
func (fakeQueue) RequeueExpired(context.Context, time.Time, int64) ([]string, error) {
	return nil, nil
}
func (fakeQueue) DequeueWithLease(context.Context) (string, error)         { return "", nil }
func (fakeQueue) ExtendLease(context.Context, string, time.Duration) error { return nil }
func (fakeQueue) Ack(context.Context, string) error                        { return nil }
func (fakeQueue) ReadyDepth(context.Context) (int64, error)                { return 0, nil }

func testConfig() config.Config {
	return config.Config{
		UnitDelay:          0,
		TimeoutFactor:      3,
		PauseCheckInterval: 10 * time.Millisecond,
		VisibilityTimeout:  time.Minute,
		WorkerPollInterval: 10 * time.Millisecond,
		ScheduledBatchSize: 100,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func testOperation(opType string, clients, items []string) models.BulkOperation {
	return models.BulkOperation{
		ID:         "op-1",
		Type:       opType,
		Status:     models.StatusInProgress,
		ClientIDs:  clients,
		ItemIDs:    items,
		Parameters: map[string]any{},
		StartedAt:  time.Now().UTC(),
		CreatedAt:  time.Now().UTC(),
	}
}

func TestExecuteCompletes(t *testing.T) {
	op := testOperation(models.TypeContentPublish, []string{"c1", "c2"}, []string{"i1", "i2", "i3"})
	fs := newFakeStore(op)
	o := NewOrchestrator(testConfig(), fakeQueue{}, fs, discardLogger())

	o.execute(context.Background(), op)

	got, _ := fs.GetOperation(context.Background(), op.ID)
	if got.Status != models.StatusCompleted {
		t.Fatalf("status = %s, want completed (error: %v)", got.Status, got.Error)
	}
	if got.Progress != 100 {
		t.Fatalf("progress = %d, want 100", got.Progress)
	}
	if got.CurrentStep != "Operation completed successfully" {
		t.Fatalf("currentStep = %q", got.CurrentStep)
	}
	if got.CompletedAt == nil {
		t.Fatal("completedAt not set")
	}

	// One progress write per unit plus the terminal write.
	if len(fs.progressLog) != op.TotalSteps()+1 {
		t.Fatalf("progress writes = %d, want %d", len(fs.progressLog), op.TotalSteps()+1)
	}
	prev := 0
	for _, p := range fs.progressLog {
		if p < prev {
			t.Fatalf("progress regressed: %v", fs.progressLog)
		}
		prev = p
	}
}

func TestExecuteNoItems(t *testing.T) {
	op := testOperation(models.TypeAnalyticsExport, []string{"c1", "c2", "c3"}, nil)
	fs := newFakeStore(op)
	o := NewOrchestrator(testConfig(), fakeQueue{}, fs, discardLogger())

	var units int
	o.RegisterHandler(models.TypeAnalyticsExport, func(context.Context, models.BulkOperation, string, string) error {
		units++
		return nil
	})

	o.execute(context.Background(), op)

	if units != 3 {
		t.Fatalf("units = %d, want one per client", units)
	}
	got, _ := fs.GetOperation(context.Background(), op.ID)
	if got.Status != models.StatusCompleted || got.Progress != 100 {
		t.Fatalf("status=%s progress=%d, want completed/100", got.Status, got.Progress)
	}
}

func TestExecuteFailFast(t *testing.T) {
	op := testOperation(models.TypeContentPublish, []string{"c1", "c2", "c3"}, nil)
	op.Parameters["fail_on_client"] = "c2"
	fs := newFakeStore(op)
	o := NewOrchestrator(testConfig(), fakeQueue{}, fs, discardLogger())

	o.execute(context.Background(), op)

	got, _ := fs.GetOperation(context.Background(), op.ID)
	if got.Status != models.StatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if got.Error == nil || !strings.Contains(*got.Error, "c2") {
		t.Fatalf("error = %v, want failure naming client c2", got.Error)
	}
	if got.CurrentStep != "Operation failed" {
		t.Fatalf("currentStep = %q", got.CurrentStep)
	}
	if got.CompletedAt == nil {
		t.Fatal("completedAt not set on failure")
	}
	// c1 succeeded, c2 aborted the loop: exactly one unit recorded.
	if len(fs.progressLog) != 1 {
		t.Fatalf("progress writes = %d, want 1 (fail fast)", len(fs.progressLog))
	}
}

func TestExecuteCooperativeCancel(t *testing.T) {
	op := testOperation(models.TypeContentPublish, []string{"c1", "c2", "c3"}, nil)
	fs := newFakeStore(op)
	o := NewOrchestrator(testConfig(), fakeQueue{}, fs, discardLogger())

	var units int
	o.RegisterHandler(models.TypeContentPublish, func(context.Context, models.BulkOperation, string, string) error {
		units++
		if units == 1 {
			// External cancel lands between units; the next suspension
			// point must observe it.
			fs.setStatus(op.ID, models.StatusCancelled)
		}
		return nil
	})

	o.execute(context.Background(), op)

	if units != 1 {
		t.Fatalf("units = %d, want 1 (abort at first suspension point)", units)
	}
	got, _ := fs.GetOperation(context.Background(), op.ID)
	if got.Status != models.StatusCancelled {
		t.Fatalf("status = %s, want cancelled left untouched", got.Status)
	}
	if got.Progress == 100 {
		t.Fatal("cancelled operation must not report completion")
	}
}

func TestExecutePauseThenResume(t *testing.T) {
	op := testOperation(models.TypeContentPublish, []string{"c1", "c2"}, nil)
	fs := newFakeStore(op)
	o := NewOrchestrator(testConfig(), fakeQueue{}, fs, discardLogger())

	var units int
	o.RegisterHandler(models.TypeContentPublish, func(context.Context, models.BulkOperation, string, string) error {
		units++
		if units == 1 {
			fs.setStatus(op.ID, models.StatusPaused)
			time.AfterFunc(50*time.Millisecond, func() {
				fs.setStatus(op.ID, models.StatusInProgress)
			})
		}
		return nil
	})

	done := make(chan struct{})
	go func() {
		o.execute(context.Background(), op)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("execute did not resume after pause was lifted")
	}

	got, _ := fs.GetOperation(context.Background(), op.ID)
	if got.Status != models.StatusCompleted {
		t.Fatalf("status = %s, want completed after resume", got.Status)
	}
	if units != 2 {
		t.Fatalf("units = %d, want 2", units)
	}
}

func TestExecuteTimeout(t *testing.T) {
	op := testOperation(models.TypeContentSchedule, []string{"c1"}, nil)
	op.Parameters["unit_duration_ms"] = 500
	fs := newFakeStore(op)

	cfg := testConfig()
	// ceil(1 + 0.5) = 2 minutes estimated; factor shrinks the deadline to
	// 120ms so the 500ms unit trips it.
	cfg.TimeoutFactor = 0.001
	o := NewOrchestrator(cfg, fakeQueue{}, fs, discardLogger())

	o.execute(context.Background(), op)

	got, _ := fs.GetOperation(context.Background(), op.ID)
	if got.Status != models.StatusFailed {
		t.Fatalf("status = %s, want failed on timeout", got.Status)
	}
	if got.Error == nil || !strings.Contains(*got.Error, "timed out") {
		t.Fatalf("error = %v, want timeout message", got.Error)
	}
}
