package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

var _ Store = (*SQLiteStore)(nil)

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	BusyTimeout     time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	// Every connection to :memory: is a separate database.
	if cfg.Path == MemoryPath {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Open creates, initializes and migrates a store at path.
func Open(ctx context.Context, path string) (*SQLiteStore, error) {
	store, err := NewSQLiteStore(Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// dsn builds the modernc.org/sqlite connection string. Pragmas are applied
// to every new connection.
func (s *SQLiteStore) dsn() string {
	pragmas := []string{
		"_pragma=foreign_keys(1)",
		fmt.Sprintf("_pragma=busy_timeout(%d)", s.cfg.BusyTimeout.Milliseconds()),
	}
	if s.cfg.Path != MemoryPath {
		pragmas = append(pragmas, "_pragma=journal_mode(WAL)", "_pragma=synchronous(NORMAL)", "_txlock=immediate")
	}
	return s.cfg.Path + "?" + strings.Join(pragmas, "&")
}

// Init opens the database, creating its directory if needed.
func (s *SQLiteStore) Init(ctx context.Context) error {
	if s.cfg.Path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(s.cfg.Path), 0o755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", s.dsn())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// HealthCheck verifies the database is reachable.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// SaveEvaluation inserts or replaces an evaluation record.
func (s *SQLiteStore) SaveEvaluation(ctx context.Context, eval *Evaluation) error {
	query := `
		INSERT INTO evaluations (
			id, plan_path, status, exit_code, should_block, blast_level, total_resources,
			deny_count, warn_count, risk_level, drift_status, intent_aligned, override_mode,
			incident_id, terraform_version, git_commit, report, error, started_at, completed_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			exit_code = excluded.exit_code,
			should_block = excluded.should_block,
			report = excluded.report,
			error = excluded.error,
			completed_at = excluded.completed_at
	`

	report := eval.Report
	if report == "" {
		report = "{}"
	}

	_, err := s.db.ExecContext(ctx, query,
		eval.ID,
		eval.PlanPath,
		eval.Status,
		eval.ExitCode,
		eval.ShouldBlock,
		eval.BlastLevel,
		eval.TotalResources,
		eval.DenyCount,
		eval.WarnCount,
		eval.RiskLevel,
		eval.DriftStatus,
		eval.IntentAligned,
		eval.OverrideMode,
		eval.IncidentID,
		eval.TerraformVersion,
		eval.GitCommit,
		report,
		eval.Error,
		eval.StartedAt.UTC(),
		utcPtr(eval.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save evaluation: %w", err)
	}

	return nil
}

const evaluationColumns = `
	id, plan_path, status, exit_code, should_block, blast_level, total_resources,
	deny_count, warn_count, risk_level, drift_status, intent_aligned, override_mode,
	incident_id, terraform_version, git_commit, report, error, started_at, completed_at
`

func scanEvaluation(row interface{ Scan(...any) error }) (*Evaluation, error) {
	eval := &Evaluation{}
	err := row.Scan(
		&eval.ID,
		&eval.PlanPath,
		&eval.Status,
		&eval.ExitCode,
		&eval.ShouldBlock,
		&eval.BlastLevel,
		&eval.TotalResources,
		&eval.DenyCount,
		&eval.WarnCount,
		&eval.RiskLevel,
		&eval.DriftStatus,
		&eval.IntentAligned,
		&eval.OverrideMode,
		&eval.IncidentID,
		&eval.TerraformVersion,
		&eval.GitCommit,
		&eval.Report,
		&eval.Error,
		&eval.StartedAt,
		&eval.CompletedAt,
	)
	return eval, err
}

// GetEvaluation retrieves an evaluation by run ID
func (s *SQLiteStore) GetEvaluation(ctx context.Context, id string) (*Evaluation, error) {
	query := `SELECT ` + evaluationColumns + ` FROM evaluations WHERE id = ?`

	eval, err := scanEvaluation(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("evaluation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get evaluation: %w", err)
	}

	return eval, nil
}

// ListEvaluations lists evaluations, newest first.
func (s *SQLiteStore) ListEvaluations(ctx context.Context, filter EvaluationFilter) ([]*Evaluation, error) {
	query := `SELECT ` + evaluationColumns + `
		FROM evaluations
		WHERE (? IS NULL OR status = ?)
		  AND (? IS NULL OR started_at >= ?)
		ORDER BY started_at DESC, id DESC
		LIMIT ? OFFSET ?
	`

	var since *time.Time
	if filter.Since != nil {
		t := filter.Since.UTC()
		since = &t
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, query, filter.Status, filter.Status, since, since, limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list evaluations: %w", err)
	}
	defer rows.Close()

	evals := []*Evaluation{}
	for rows.Next() {
		eval, err := scanEvaluation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan evaluation: %w", err)
		}
		evals = append(evals, eval)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating evaluations: %w", err)
	}

	return evals, nil
}

// AppendEvent appends an event to the log. Events are append-only; a
// duplicate event ID is ignored.
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *Event) error {
	query := `
		INSERT INTO events (event_id, run_id, type, source, resource, level, message, details, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(event_id) DO NOTHING
	`

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	result, err := s.db.ExecContext(ctx, query,
		event.EventID,
		event.RunID,
		event.Type,
		event.Source,
		event.Resource,
		event.Level,
		event.Message,
		event.Details,
		event.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return nil
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get event ID: %w", err)
	}

	event.ID = id
	return nil
}

// GetEvents retrieves events in insertion order, optionally for one run.
func (s *SQLiteStore) GetEvents(ctx context.Context, runID *string, limit, offset int) ([]*Event, error) {
	query := `
		SELECT id, event_id, run_id, type, source, resource, level, message, details, timestamp
		FROM events
		WHERE (? IS NULL OR run_id = ?)
		ORDER BY id ASC
		LIMIT ? OFFSET ?
	`

	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, query, runID, runID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		event := &Event{}
		err := rows.Scan(
			&event.ID,
			&event.EventID,
			&event.RunID,
			&event.Type,
			&event.Source,
			&event.Resource,
			&event.Level,
			&event.Message,
			&event.Details,
			&event.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// CreateAuditEntry creates a new audit entry
func (s *SQLiteStore) CreateAuditEntry(ctx context.Context, entry *AuditEntry) error {
	query := `
		INSERT INTO audit (action, actor, target_id, details, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	result, err := s.db.ExecContext(ctx, query,
		entry.Action,
		entry.Actor,
		entry.TargetID,
		entry.Details,
		entry.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create audit entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get audit entry ID: %w", err)
	}

	entry.ID = id
	return nil
}

// ListAuditEntries lists audit entries, newest first, optionally for one action.
func (s *SQLiteStore) ListAuditEntries(ctx context.Context, action *string, limit, offset int) ([]*AuditEntry, error) {
	query := `
		SELECT id, action, actor, target_id, details, timestamp
		FROM audit
		WHERE (? IS NULL OR action = ?)
		ORDER BY timestamp DESC, id DESC
		LIMIT ? OFFSET ?
	`

	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, query, action, action, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	entries := []*AuditEntry{}
	for rows.Next() {
		entry := &AuditEntry{}
		err := rows.Scan(
			&entry.ID,
			&entry.Action,
			&entry.Actor,
			&entry.TargetID,
			&entry.Details,
			&entry.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}

	return entries, nil
}

// RecordApply records a terraform apply.
func (s *SQLiteStore) RecordApply(ctx context.Context, apply *Apply) error {
	query := `
		INSERT INTO applies (run_id, plan_path, terraform_version, success, error, applied_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	if apply.AppliedAt.IsZero() {
		apply.AppliedAt = time.Now()
	}

	result, err := s.db.ExecContext(ctx, query,
		apply.RunID,
		apply.PlanPath,
		apply.TerraformVersion,
		apply.Success,
		apply.Error,
		apply.AppliedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record apply: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get apply ID: %w", err)
	}

	apply.ID = id
	return nil
}

// LastAppliedVersion returns the terraform version of the most recent
// successful apply, or "" when there is none.
func (s *SQLiteStore) LastAppliedVersion(ctx context.Context) (string, error) {
	query := `
		SELECT terraform_version
		FROM applies
		WHERE success = 1
		ORDER BY applied_at DESC, id DESC
		LIMIT 1
	`

	var version string
	err := s.db.QueryRowContext(ctx, query).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get last applied version: %w", err)
	}
	return version, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
