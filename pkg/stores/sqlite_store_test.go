package stores

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/FranciscoCL13/carga-masiva/pkg/engine"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	t.Cleanup(func() { _ = store.Close() })
	return store
}

// sampleReport builds a two-unit report: one unit completed both stages, the
// other failed to create its instance.
func sampleReport(id string, startedAt time.Time) *engine.BatchReport {
	units := []engine.WorkUnitResult{
		{
			Index:      0,
			Label:      "Hoja1!2",
			Status:     engine.UnitStatusCreated,
			InstanceID: 101,
			Stages: []engine.StageResult{
				{Stage: "registro", Status: engine.StageStatusCompleted, TaskID: 7, Attempts: 1, Candidates: 1},
				{
					Stage:            "sedatu",
					Status:           engine.StageStatusEngineError,
					TaskID:           8,
					Attempts:         3,
					Candidates:       1,
					FailedTransition: engine.TaskStateStarted,
					Error:            engine.NewRejectedError("transition rejected", 409, nil),
				},
			},
			StartedAt:   startedAt,
			CompletedAt: startedAt.Add(2 * time.Second),
			Duration:    2 * time.Second,
		},
		{
			Index:  1,
			Label:  "Hoja1!3",
			Status: engine.UnitStatusCreationFailed,
			Error:  engine.NewTransportError("engine call failed", errors.New("connection refused")),
			Stages: []engine.StageResult{
				{Stage: "registro", Status: engine.StageStatusNotAttempted},
				{Stage: "sedatu", Status: engine.StageStatusNotAttempted},
			},
			StartedAt:   startedAt,
			CompletedAt: startedAt.Add(time.Second),
			Duration:    time.Second,
		},
	}

	return &engine.BatchReport{
		ID:          id,
		StartedAt:   startedAt,
		CompletedAt: startedAt.Add(3 * time.Second),
		Processed:   len(units),
		Units:       units,
		Summary:     engine.Summarize(units),
	}
}

// TestStoreLifecycle tests database initialization and closure
func TestStoreLifecycle(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Fatal("expected error for empty path")
	}

	store, err := NewSQLiteStore(Config{
		Path: filepath.Join(t.TempDir(), "carga.db"),
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Migrate(ctx); err == nil {
		t.Error("expected error when migrating before Init")
	}
	if err := store.HealthCheck(ctx); err == nil {
		t.Error("expected error for health check before Init")
	}

	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}
	// A second migration is a no-op.
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to re-run migrations: %v", err)
	}

	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

// TestStoreMigrations tests database migrations
func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	tables := []string{"batches", "units", "stages", "events"}
	for _, table := range tables {
		query := "SELECT COUNT(*) FROM " + table
		var count int
		err := store.db.QueryRowContext(ctx, query).Scan(&count)
		if err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}
}

// TestSaveReport tests journaling a report and reading it back
func TestSaveReport(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	startedAt := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	report := sampleReport("batch-001", startedAt)
	if err := store.SaveReport(ctx, "carga.xlsx", report); err != nil {
		t.Fatalf("failed to save report: %v", err)
	}

	batch, err := store.GetBatch(ctx, report.ID)
	if err != nil {
		t.Fatalf("failed to get batch: %v", err)
	}
	if batch.Source != "carga.xlsx" {
		t.Errorf("expected source carga.xlsx, got %s", batch.Source)
	}
	if batch.Status != engine.BatchStatusFailed {
		t.Errorf("expected status %s, got %s", engine.BatchStatusFailed, batch.Status)
	}
	if batch.Units != 2 || batch.InstancesCreated != 1 || batch.CreationFailures != 1 {
		t.Errorf("unexpected counters: %+v", batch)
	}
	if !batch.StartedAt.Equal(startedAt) {
		t.Errorf("expected StartedAt %v, got %v", startedAt, batch.StartedAt)
	}

	units, err := store.ListUnits(ctx, report.ID)
	if err != nil {
		t.Fatalf("failed to list units: %v", err)
	}
	if len(units) != 2 {
		t.Fatalf("expected 2 units, got %d", len(units))
	}
	if units[0].InstanceID == nil || *units[0].InstanceID != 101 {
		t.Errorf("expected instance 101, got %v", units[0].InstanceID)
	}
	if units[0].Duration != 2*time.Second {
		t.Errorf("expected duration 2s, got %v", units[0].Duration)
	}
	if units[1].InstanceID != nil {
		t.Errorf("expected no instance for failed unit, got %d", *units[1].InstanceID)
	}
	if units[1].Error == nil {
		t.Error("expected error text for failed unit")
	}

	stages, err := store.ListStages(ctx, report.ID, 0)
	if err != nil {
		t.Fatalf("failed to list stages: %v", err)
	}
	if len(stages) != 2 {
		t.Fatalf("expected 2 stages, got %d", len(stages))
	}
	if stages[0].Stage != "registro" || stages[0].Status != engine.StageStatusCompleted {
		t.Errorf("unexpected first stage: %+v", stages[0])
	}
	if stages[1].FailedTransition == nil || *stages[1].FailedTransition != string(engine.TaskStateStarted) {
		t.Errorf("expected failed transition started, got %v", stages[1].FailedTransition)
	}
	if stages[0].FailedTransition != nil {
		t.Error("completed stage must not record a failed transition")
	}

	full, err := store.GetReport(ctx, report.ID)
	if err != nil {
		t.Fatalf("failed to get report: %v", err)
	}
	if len(full.Units) != 2 || full.Units[0].Stages[1].Error == nil {
		t.Fatalf("report not restored: %+v", full)
	}
	if full.Units[0].Stages[1].Error.StatusCode != 409 {
		t.Errorf("expected status 409, got %d", full.Units[0].Stages[1].Error.StatusCode)
	}

	// The same id cannot be journaled twice, and a failed save leaves nothing behind.
	if err := store.SaveReport(ctx, "again.xlsx", report); err == nil {
		t.Error("expected error for duplicate batch id")
	}
	again, err := store.GetBatch(ctx, report.ID)
	if err != nil || again.Source != "carga.xlsx" {
		t.Errorf("original batch must survive, got %+v, %v", again, err)
	}
}

// TestListAndDeleteBatches tests pagination and cascading deletes
func TestListAndDeleteBatches(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	for i, id := range []string{"batch-a", "batch-b", "batch-c"} {
		if err := store.SaveReport(ctx, id+".xlsx", sampleReport(id, base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatalf("failed to save %s: %v", id, err)
		}
	}

	batches, err := store.ListBatches(ctx, 2, 0)
	if err != nil {
		t.Fatalf("failed to list batches: %v", err)
	}
	if len(batches) != 2 {
		t.Fatalf("expected 2 batches, got %d", len(batches))
	}
	if batches[0].ID != "batch-c" || batches[1].ID != "batch-b" {
		t.Errorf("expected newest first, got %s, %s", batches[0].ID, batches[1].ID)
	}

	rest, err := store.ListBatches(ctx, 10, 2)
	if err != nil {
		t.Fatalf("failed to list batches: %v", err)
	}
	if len(rest) != 1 || rest[0].ID != "batch-a" {
		t.Errorf("unexpected second page: %v", rest)
	}

	if err := store.DeleteBatch(ctx, "batch-b"); err != nil {
		t.Fatalf("failed to delete batch: %v", err)
	}
	if _, err := store.GetBatch(ctx, "batch-b"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	units, err := store.ListUnits(ctx, "batch-b")
	if err != nil {
		t.Fatalf("failed to list units: %v", err)
	}
	if len(units) != 0 {
		t.Errorf("expected units to be deleted with the batch, got %d", len(units))
	}
	stages, err := store.ListStages(ctx, "batch-b", 0)
	if err != nil {
		t.Fatalf("failed to list stages: %v", err)
	}
	if len(stages) != 0 {
		t.Errorf("expected stages to be deleted with the batch, got %d", len(stages))
	}

	if err := store.DeleteBatch(ctx, "batch-b"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound deleting twice, got %v", err)
	}
	if _, err := store.GetReport(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing report, got %v", err)
	}
}

// TestEvents tests the append-only event log
func TestEvents(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	now := time.Now()

	batchID := "batch-001"
	details := `{"violations":1}`
	events := []*Event{
		{Level: EventLevelWarning, Message: "upload rejected by policy", Details: &details, Timestamp: now},
		{BatchID: &batchID, Level: EventLevelInfo, Message: "batch journaled", Timestamp: now.Add(time.Second)},
		{BatchID: &batchID, Level: EventLevelError, Message: "journal retry", Timestamp: now.Add(2 * time.Second)},
	}
	for _, e := range events {
		if err := store.AppendEvent(ctx, e); err != nil {
			t.Fatalf("failed to append event: %v", err)
		}
		if e.ID == 0 {
			t.Error("expected event ID to be set")
		}
	}

	all, err := store.GetEvents(ctx, nil, nil, 10, 0)
	if err != nil {
		t.Fatalf("failed to get events: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 events, got %d", len(all))
	}
	if all[0].Message != "journal retry" {
		t.Errorf("expected newest first, got %s", all[0].Message)
	}

	byBatch, err := store.GetEvents(ctx, &batchID, nil, 10, 0)
	if err != nil {
		t.Fatalf("failed to get events: %v", err)
	}
	if len(byBatch) != 2 {
		t.Errorf("expected 2 events for batch, got %d", len(byBatch))
	}

	level := EventLevelWarning
	warnings, err := store.GetEvents(ctx, nil, &level, 10, 0)
	if err != nil {
		t.Fatalf("failed to get events: %v", err)
	}
	if len(warnings) != 1 || warnings[0].Details == nil || *warnings[0].Details != details {
		t.Errorf("unexpected warning events: %+v", warnings)
	}

	stamped := &Event{Level: EventLevelDebug, Message: "no timestamp"}
	if err := store.AppendEvent(ctx, stamped); err != nil {
		t.Fatalf("failed to append event: %v", err)
	}
	if stamped.Timestamp.IsZero() {
		t.Error("expected timestamp to default to now")
	}
}
