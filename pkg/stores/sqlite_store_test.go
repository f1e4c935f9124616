package stores

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/TheBearguy/tf-gatekeeper/pkg/telemetry"
	"github.com/rs/zerolog"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := Open(context.Background(), MemoryPath)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func strPtr(s string) *string { return &s }

// TestStoreLifecycle tests database initialization and closure
func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{Path: MemoryPath})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.HealthCheck(ctx); err == nil {
		t.Error("expected health check to fail before Init")
	}
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

func TestNewSQLiteStore_RequiresPath(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Error("expected error for empty path")
	}
}

// TestStoreMigrations tests database migrations
func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, table := range []string{"evaluations", "events", "audit", "applies"} {
		var count int
		if err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}

	if err := store.Migrate(ctx); err != nil {
		t.Errorf("second migration should be a no-op, got %v", err)
	}
}

func TestFileStore_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".tf-gate", "audit.db")

	store, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("failed to open file store: %v", err)
	}
	defer store.Close()

	var mode string
	if err := store.db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("failed to read journal mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("expected WAL journal mode, got %s", mode)
	}
}

func TestEvaluationCRUD(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	started := time.Date(2024, 6, 14, 16, 0, 0, 0, time.UTC)
	eval := &Evaluation{
		ID:               "run-1",
		PlanPath:         "plan.json",
		Status:           "PENDING",
		ExitCode:         2,
		BlastLevel:       "YELLOW",
		TotalResources:   7,
		DenyCount:        1,
		RiskLevel:        "HIGH",
		DriftStatus:      "skipped",
		IntentAligned:    true,
		OverrideMode:     "BREAK_GLASS",
		IncidentID:       strPtr("INC-1"),
		TerraformVersion: "1.6.0",
		StartedAt:        started,
	}
	if err := store.SaveEvaluation(ctx, eval); err != nil {
		t.Fatalf("failed to save evaluation: %v", err)
	}

	completed := started.Add(3 * time.Second)
	eval.Status = "OVERRIDDEN"
	eval.ExitCode = 42
	eval.ShouldBlock = true
	eval.Report = `{"decision":{"status":"OVERRIDDEN"}}`
	eval.CompletedAt = &completed
	if err := store.SaveEvaluation(ctx, eval); err != nil {
		t.Fatalf("failed to update evaluation: %v", err)
	}

	got, err := store.GetEvaluation(ctx, "run-1")
	if err != nil {
		t.Fatalf("failed to get evaluation: %v", err)
	}
	if got.Status != "OVERRIDDEN" || got.ExitCode != 42 || !got.ShouldBlock {
		t.Errorf("unexpected evaluation %+v", got)
	}
	if got.IncidentID == nil || *got.IncidentID != "INC-1" {
		t.Errorf("expected incident ID, got %v", got.IncidentID)
	}
	if !got.StartedAt.Equal(started) {
		t.Errorf("expected started %s, got %s", started, got.StartedAt)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(completed) {
		t.Errorf("expected completed %s, got %v", completed, got.CompletedAt)
	}
	if got.GitCommit != nil || got.Error != nil {
		t.Error("expected NULL columns to scan as nil")
	}

	if _, err := store.GetEvaluation(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListEvaluations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)
	statuses := []string{"ALLOWED", "BLOCKED", "ALLOWED", "OVERRIDDEN"}
	for i, status := range statuses {
		eval := &Evaluation{
			ID:        "run-" + string(rune('a'+i)),
			PlanPath:  "plan.json",
			Status:    status,
			StartedAt: base.Add(time.Duration(i) * time.Hour),
		}
		if err := store.SaveEvaluation(ctx, eval); err != nil {
			t.Fatalf("failed to save evaluation: %v", err)
		}
	}

	all, err := store.ListEvaluations(ctx, EvaluationFilter{})
	if err != nil {
		t.Fatalf("failed to list: %v", err)
	}
	if len(all) != 4 || all[0].ID != "run-d" {
		t.Fatalf("expected 4 evaluations newest first, got %d (first %s)", len(all), all[0].ID)
	}

	allowed, _ := store.ListEvaluations(ctx, EvaluationFilter{Status: strPtr("ALLOWED")})
	if len(allowed) != 2 {
		t.Errorf("expected 2 allowed, got %d", len(allowed))
	}

	since := base.Add(90 * time.Minute)
	recent, _ := store.ListEvaluations(ctx, EvaluationFilter{Since: &since})
	if len(recent) != 2 {
		t.Errorf("expected 2 recent evaluations, got %d", len(recent))
	}

	page, _ := store.ListEvaluations(ctx, EvaluationFilter{Limit: 1, Offset: 1})
	if len(page) != 1 || page[0].ID != "run-c" {
		t.Errorf("unexpected page %v", page)
	}
}

func TestEvents(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	events := []*Event{
		{EventID: "e1", RunID: strPtr("run-1"), Type: "evaluation.started", Source: "gate", Level: EventLevelInfo, Message: "start"},
		{EventID: "e2", RunID: strPtr("run-1"), Type: "drift.conflict", Source: "context", Resource: strPtr("aws_instance.web"), Level: EventLevelWarning, Message: "drift"},
		{EventID: "e3", RunID: strPtr("run-2"), Type: "evaluation.started", Source: "gate", Level: EventLevelInfo, Message: "start"},
	}
	for _, e := range events {
		if err := store.AppendEvent(ctx, e); err != nil {
			t.Fatalf("failed to append event: %v", err)
		}
		if e.ID == 0 {
			t.Error("expected event ID to be set")
		}
	}

	dup := &Event{EventID: "e1", Type: "x", Level: EventLevelInfo, Message: "dup"}
	if err := store.AppendEvent(ctx, dup); err != nil {
		t.Fatalf("duplicate event should be ignored, got %v", err)
	}

	run1, err := store.GetEvents(ctx, strPtr("run-1"), 0, 0)
	if err != nil {
		t.Fatalf("failed to get events: %v", err)
	}
	if len(run1) != 2 || run1[1].Resource == nil || *run1[1].Resource != "aws_instance.web" {
		t.Errorf("unexpected run-1 events %+v", run1)
	}

	all, _ := store.GetEvents(ctx, nil, 0, 0)
	if len(all) != 3 {
		t.Errorf("expected 3 events, got %d", len(all))
	}

	bad := &Event{EventID: "e4", Type: "x", Level: "fatal", Message: "bad"}
	if err := store.AppendEvent(ctx, bad); err == nil {
		t.Error("expected CHECK constraint to reject level")
	}
}

func TestAuditEntries(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)
	entries := []*AuditEntry{
		{Action: AuditActionBreakGlass, Actor: "ci", TargetID: strPtr("INC-1"), Timestamp: base},
		{Action: AuditActionApply, Actor: "ci", TargetID: strPtr("run-1"), Timestamp: base.Add(time.Minute)},
		{Action: AuditActionBreakGlass, Actor: "alice", TargetID: strPtr("INC-2"), Timestamp: base.Add(2 * time.Minute)},
	}
	for _, e := range entries {
		if err := store.CreateAuditEntry(ctx, e); err != nil {
			t.Fatalf("failed to create audit entry: %v", err)
		}
	}

	action := AuditActionBreakGlass
	got, err := store.ListAuditEntries(ctx, &action, 10, 0)
	if err != nil {
		t.Fatalf("failed to list audit entries: %v", err)
	}
	if len(got) != 2 || *got[0].TargetID != "INC-2" {
		t.Errorf("expected break-glass entries newest first, got %+v", got)
	}

	all, _ := store.ListAuditEntries(ctx, nil, 0, 0)
	if len(all) != 3 {
		t.Errorf("expected 3 entries, got %d", len(all))
	}
}

func TestLastAppliedVersion(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	version, err := store.LastAppliedVersion(ctx)
	if err != nil || version != "" {
		t.Fatalf("expected empty version, got %q (%v)", version, err)
	}

	base := time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)
	applies := []*Apply{
		{RunID: "r1", PlanPath: "p", TerraformVersion: "1.5.7", Success: true, AppliedAt: base},
		{RunID: "r2", PlanPath: "p", TerraformVersion: "1.6.0", Success: true, AppliedAt: base.Add(time.Hour)},
		{RunID: "r3", PlanPath: "p", TerraformVersion: "1.7.0", Success: false, Error: strPtr("boom"), AppliedAt: base.Add(2 * time.Hour)},
	}
	for _, a := range applies {
		if err := store.RecordApply(ctx, a); err != nil {
			t.Fatalf("failed to record apply: %v", err)
		}
	}

	version, err = store.LastAppliedVersion(ctx)
	if err != nil {
		t.Fatalf("failed to get version: %v", err)
	}
	if version != "1.6.0" {
		t.Errorf("expected 1.6.0, got %s", version)
	}
}

func TestRecorder(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	ep := telemetry.NewEventPublisher(telemetry.EventsConfig{Enabled: true})
	NewRecorder(store, "ci-bot", zerolog.Nop()).Attach(ep)

	ep.PublishEvaluationStarted("run-1", "plan.json")
	ep.PublishBreakGlass("run-1", "INC-9", []string{"blast radius RED"})
	ep.PublishEvaluationCompleted("run-1", "OVERRIDDEN", 42, time.Second, nil)

	events, err := store.GetEvents(ctx, strPtr("run-1"), 0, 0)
	if err != nil {
		t.Fatalf("failed to get events: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 persisted events, got %d", len(events))
	}
	if events[1].Level != EventLevelWarning || events[1].Details == nil {
		t.Errorf("unexpected break-glass event %+v", events[1])
	}

	audit, _ := store.ListAuditEntries(ctx, nil, 0, 0)
	if len(audit) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(audit))
	}
	if audit[0].Action != AuditActionBreakGlass || audit[0].Actor != "ci-bot" || *audit[0].TargetID != "INC-9" {
		t.Errorf("unexpected audit entry %+v", audit[0])
	}
}
