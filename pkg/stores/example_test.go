package stores_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/TheBearguy/tf-gatekeeper/pkg/stores"
)

// ExampleNewSQLiteStore demonstrates creating and initializing a new SQLite store.
func ExampleNewSQLiteStore() {
	store, err := stores.NewSQLiteStore(stores.Config{
		Path: stores.MemoryPath,
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

	fmt.Println("Store initialized successfully")
	// Output: Store initialized successfully
}

// ExampleSQLiteStore_SaveEvaluation demonstrates recording a gate decision.
func ExampleSQLiteStore_SaveEvaluation() {
	ctx := context.Background()
	store, err := stores.Open(ctx, stores.MemoryPath)
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	completed := time.Now()
	eval := &stores.Evaluation{
		ID:             "run-001",
		PlanPath:       "plans/prod.json",
		Status:         "BLOCKED",
		ExitCode:       1,
		ShouldBlock:    true,
		BlastLevel:     "RED",
		TotalResources: 64,
		OverrideMode:   "NONE",
		StartedAt:      completed.Add(-2 * time.Second),
		CompletedAt:    &completed,
	}
	if err := store.SaveEvaluation(ctx, eval); err != nil {
		log.Fatal(err)
	}

	got, _ := store.GetEvaluation(ctx, "run-001")
	fmt.Println(got.Status, got.BlastLevel, got.ExitCode)
	// Output: BLOCKED RED 1
}

// ExampleSQLiteStore_LastAppliedVersion demonstrates the version-lock lookup.
func ExampleSQLiteStore_LastAppliedVersion() {
	ctx := context.Background()
	store, _ := stores.Open(ctx, stores.MemoryPath)
	defer store.Close()

	_ = store.RecordApply(ctx, &stores.Apply{RunID: "run-1", PlanPath: "a.tfplan", TerraformVersion: "1.5.7", Success: true})
	_ = store.RecordApply(ctx, &stores.Apply{RunID: "run-2", PlanPath: "b.tfplan", TerraformVersion: "1.6.0", Success: false})

	version, _ := store.LastAppliedVersion(ctx)
	fmt.Println(version)
	// Output: 1.5.7
}
