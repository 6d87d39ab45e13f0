package stores_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/FranciscoCL13/carga-masiva/pkg/engine"
	"github.com/FranciscoCL13/carga-masiva/pkg/stores"
)

// ExampleNewSQLiteStore demonstrates creating and initializing a journal.
func ExampleNewSQLiteStore() {
	store, err := stores.NewSQLiteStore(stores.Config{
		Path: ":memory:", // Use in-memory database for example
	})
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		log.Fatal(err)
	}
	if err := store.Migrate(ctx); err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	fmt.Println("Journal initialized successfully")
	// Output: Journal initialized successfully
}

// ExampleSQLiteStore_SaveReport demonstrates journaling a batch report.
func ExampleSQLiteStore_SaveReport() {
	store, _ := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	ctx := context.Background()
	_ = store.Init(ctx)
	_ = store.Migrate(ctx)
	defer store.Close()

	now := time.Now()
	units := []engine.WorkUnitResult{{
		Index:      0,
		Label:      "Hoja1!2",
		Status:     engine.UnitStatusCreated,
		InstanceID: 42,
		Stages: []engine.StageResult{
			{Stage: "complete", Status: engine.StageStatusCompleted, TaskID: 9, Attempts: 1},
		},
		StartedAt:   now,
		CompletedAt: now,
	}}
	report := &engine.BatchReport{
		ID:          "batch-001",
		StartedAt:   now,
		CompletedAt: now,
		Processed:   1,
		Units:       units,
		Summary:     engine.Summarize(units),
	}

	if err := store.SaveReport(ctx, "carga.xlsx", report); err != nil {
		log.Fatal(err)
	}

	batch, _ := store.GetBatch(ctx, "batch-001")
	fmt.Printf("%s: %s, %d/%d units succeeded\n", batch.ID, batch.Status, batch.Succeeded, batch.Units)
	// Output: batch-001: succeeded, 1/1 units succeeded
}
