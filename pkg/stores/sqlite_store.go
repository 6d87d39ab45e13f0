package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/FranciscoCL13/carga-masiva/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// memoryPath opens a private in-memory database.
const memoryPath = ":memory:"

var _ Journal = (*SQLiteStore)(nil)

// SQLiteStore implements the Journal interface using SQLite
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
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
	// Every connection to :memory: is a separate database.
	if cfg.Path == memoryPath {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Init opens the database connection and enables WAL mode and foreign keys.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := s.cfg.Path +
		"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate&_time_format=sqlite"

	db, err := sql.Open("sqlite", dsn)
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

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// SaveReport journals a batch report with its units and stages in one
// transaction. The full report is also kept as JSON for GetReport.
func (s *SQLiteStore) SaveReport(ctx context.Context, source string, report *engine.BatchReport) error {
	blob, err := sonic.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO batches (
			id, source, status, units, succeeded, instances_created, creation_failures,
			started_at, completed_at, report, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		report.ID,
		source,
		report.Summary.Status,
		report.Summary.Units,
		report.Summary.Succeeded,
		report.Summary.InstancesCreated,
		report.Summary.CreationFailures,
		report.StartedAt,
		report.CompletedAt,
		string(blob),
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to create batch: %w", err)
	}

	unitStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO units (
			batch_id, unit_index, label, status, instance_id, error, started_at, completed_at, duration_ns
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare unit insert: %w", err)
	}
	defer unitStmt.Close()

	stageStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO stages (
			batch_id, unit_index, position, stage, status, task_id, attempts, candidates, failed_transition, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare stage insert: %w", err)
	}
	defer stageStmt.Close()

	for i := range report.Units {
		u := &report.Units[i]
		_, err := unitStmt.ExecContext(ctx,
			report.ID,
			u.Index,
			u.Label,
			u.Status,
			nullableID(u.InstanceID),
			errorText(u.Error),
			u.StartedAt,
			u.CompletedAt,
			int64(u.Duration),
		)
		if err != nil {
			return fmt.Errorf("failed to create unit %d: %w", u.Index, err)
		}

		for j := range u.Stages {
			st := &u.Stages[j]
			var transition *string
			if st.FailedTransition != "" {
				t := string(st.FailedTransition)
				transition = &t
			}
			_, err := stageStmt.ExecContext(ctx,
				report.ID,
				u.Index,
				j,
				st.Stage,
				st.Status,
				nullableID(st.TaskID),
				st.Attempts,
				st.Candidates,
				transition,
				errorText(st.Error),
			)
			if err != nil {
				return fmt.Errorf("failed to create stage %d of unit %d: %w", j, u.Index, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit report: %w", err)
	}
	return nil
}

// GetBatch retrieves a batch summary by ID
func (s *SQLiteStore) GetBatch(ctx context.Context, id string) (*Batch, error) {
	query := `
		SELECT id, source, status, units, succeeded, instances_created, creation_failures,
		       started_at, completed_at, created_at
		FROM batches
		WHERE id = ?
	`

	batch, err := scanBatch(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("batch %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}

	return batch, nil
}

// GetReport retrieves the full report of a batch.
func (s *SQLiteStore) GetReport(ctx context.Context, id string) (*engine.BatchReport, error) {
	var blob string
	err := s.db.QueryRowContext(ctx, `SELECT report FROM batches WHERE id = ?`, id).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("batch %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get report: %w", err)
	}

	report := &engine.BatchReport{}
	if err := sonic.UnmarshalString(blob, report); err != nil {
		return nil, fmt.Errorf("failed to decode report: %w", err)
	}
	return report, nil
}

// ListBatches lists batches, newest first, with pagination
func (s *SQLiteStore) ListBatches(ctx context.Context, limit, offset int) ([]*Batch, error) {
	query := `
		SELECT id, source, status, units, succeeded, instances_created, creation_failures,
		       started_at, completed_at, created_at
		FROM batches
		ORDER BY started_at DESC, id
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	defer rows.Close()

	batches := []*Batch{}
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan batch: %w", err)
		}
		batches = append(batches, batch)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating batches: %w", err)
	}

	return batches, nil
}

// DeleteBatch deletes a batch and its units and stages.
func (s *SQLiteStore) DeleteBatch(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM batches WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete batch: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("batch %s: %w", id, ErrNotFound)
	}

	return nil
}

// ListUnits lists the units of a batch in input order.
func (s *SQLiteStore) ListUnits(ctx context.Context, batchID string) ([]*Unit, error) {
	query := `
		SELECT batch_id, unit_index, label, status, instance_id, error, started_at, completed_at, duration_ns
		FROM units
		WHERE batch_id = ?
		ORDER BY unit_index
	`

	rows, err := s.db.QueryContext(ctx, query, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list units: %w", err)
	}
	defer rows.Close()

	units := []*Unit{}
	for rows.Next() {
		unit := &Unit{}
		var duration int64
		err := rows.Scan(
			&unit.BatchID,
			&unit.Index,
			&unit.Label,
			&unit.Status,
			&unit.InstanceID,
			&unit.Error,
			&unit.StartedAt,
			&unit.CompletedAt,
			&duration,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan unit: %w", err)
		}
		unit.Duration = time.Duration(duration)
		units = append(units, unit)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating units: %w", err)
	}

	return units, nil
}

// ListStages lists the stages of one unit in stage order.
func (s *SQLiteStore) ListStages(ctx context.Context, batchID string, unitIndex int) ([]*Stage, error) {
	query := `
		SELECT batch_id, unit_index, position, stage, status, task_id, attempts, candidates, failed_transition, error
		FROM stages
		WHERE batch_id = ? AND unit_index = ?
		ORDER BY position
	`

	rows, err := s.db.QueryContext(ctx, query, batchID, unitIndex)
	if err != nil {
		return nil, fmt.Errorf("failed to list stages: %w", err)
	}
	defer rows.Close()

	stages := []*Stage{}
	for rows.Next() {
		stage := &Stage{}
		err := rows.Scan(
			&stage.BatchID,
			&stage.UnitIndex,
			&stage.Position,
			&stage.Stage,
			&stage.Status,
			&stage.TaskID,
			&stage.Attempts,
			&stage.Candidates,
			&stage.FailedTransition,
			&stage.Error,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stage: %w", err)
		}
		stages = append(stages, stage)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stages: %w", err)
	}

	return stages, nil
}

// AppendEvent appends a new event to the log
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *Event) error {
	query := `
		INSERT INTO events (batch_id, level, message, details, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	result, err := s.db.ExecContext(ctx, query,
		event.BatchID,
		event.Level,
		event.Message,
		event.Details,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get event ID: %w", err)
	}

	event.ID = id
	return nil
}

// GetEvents retrieves events with optional filters and pagination
func (s *SQLiteStore) GetEvents(ctx context.Context, batchID *string, level *EventLevel, limit, offset int) ([]*Event, error) {
	query := `
		SELECT id, batch_id, level, message, details, timestamp
		FROM events
		WHERE (? IS NULL OR batch_id = ?)
		  AND (? IS NULL OR level = ?)
		ORDER BY timestamp DESC, id DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, batchID, batchID, level, level, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		event := &Event{}
		err := rows.Scan(
			&event.ID,
			&event.BatchID,
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

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBatch(row rowScanner) (*Batch, error) {
	batch := &Batch{}
	err := row.Scan(
		&batch.ID,
		&batch.Source,
		&batch.Status,
		&batch.Units,
		&batch.Succeeded,
		&batch.InstancesCreated,
		&batch.CreationFailures,
		&batch.StartedAt,
		&batch.CompletedAt,
		&batch.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return batch, nil
}

func nullableID(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}

func errorText(err *engine.EngineError) *string {
	if err == nil {
		return nil
	}
	s := err.Error()
	return &s
}
