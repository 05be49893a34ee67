package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("not found")

// SQLiteStore implements Store on a local SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Config holds SQLite store configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	return &SQLiteStore{path: cfg.Path}, nil
}

// Init opens the database, enables WAL mode, and runs migrations.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return s.migrate()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteStore) migrate() error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}
	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// CreateRun inserts a new run.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, dry_run, status, action_count, started_at)
		VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.DryRun, run.Status, run.ActionCount, run.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}
	return nil
}

// FinishRun records the run's terminal status and counts.
func (s *SQLiteStore) FinishRun(ctx context.Context, run *Run) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs
		SET status = ?, dry_run = ?, applied = ?, satisfied = ?, skipped = ?, failed = ?, finished_at = ?
		WHERE id = ?`,
		run.Status, run.DryRun, run.Applied, run.Satisfied, run.Skipped, run.Failed, run.FinishedAt, run.ID,
	)
	if err != nil {
		return fmt.Errorf("updating run: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetRun returns one run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, dry_run, status, action_count, applied, satisfied, skipped, failed, started_at, finished_at
		FROM runs WHERE id = ?`, id,
	)
	run := &Run{}
	err := row.Scan(&run.ID, &run.DryRun, &run.Status, &run.ActionCount,
		&run.Applied, &run.Satisfied, &run.Skipped, &run.Failed,
		&run.StartedAt, &run.FinishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, dry_run, status, action_count, applied, satisfied, skipped, failed, started_at, finished_at
		FROM runs ORDER BY started_at DESC LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run := &Run{}
		if err := rows.Scan(&run.ID, &run.DryRun, &run.Status, &run.ActionCount,
			&run.Applied, &run.Satisfied, &run.Skipped, &run.Failed,
			&run.StartedAt, &run.FinishedAt); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// AppendActionRecord inserts a terminal action record.
func (s *SQLiteStore) AppendActionRecord(ctx context.Context, record *ActionRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO action_records
			(run_id, position, kind, resource_id, action_type, idempotency_key,
			 status, skip_reason, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.RunID, record.Position, record.Kind, record.ResourceID,
		record.ActionType, record.Key, record.Status,
		nullString(record.SkipReason), nullString(record.Error),
		record.StartedAt, record.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting action record: %w", err)
	}
	return nil
}

// ListActionRecords returns a run's action records in plan order.
func (s *SQLiteStore) ListActionRecords(ctx context.Context, runID string) ([]*ActionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, position, kind, resource_id, action_type, idempotency_key,
		       status, skip_reason, error, started_at, finished_at
		FROM action_records WHERE run_id = ? ORDER BY position`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying action records: %w", err)
	}
	defer rows.Close()

	var records []*ActionRecord
	for rows.Next() {
		rec := &ActionRecord{}
		var skipReason, errMsg sql.NullString
		if err := rows.Scan(&rec.RunID, &rec.Position, &rec.Kind, &rec.ResourceID,
			&rec.ActionType, &rec.Key, &rec.Status,
			&skipReason, &errMsg, &rec.StartedAt, &rec.FinishedAt); err != nil {
			return nil, fmt.Errorf("scanning action record: %w", err)
		}
		rec.SkipReason = skipReason.String
		rec.Error = errMsg.String
		records = append(records, rec)
	}
	return records, rows.Err()
}

// AppendEvent inserts an event.
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *Event) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (run_id, resource, level, message, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		event.RunID, nullString(event.Resource), event.Level, event.Message, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}
	return nil
}

// ListEvents returns a run's events oldest first.
func (s *SQLiteStore) ListEvents(ctx context.Context, runID string, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, resource, level, message, created_at
		FROM events WHERE run_id = ? ORDER BY id LIMIT ?`, runID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		ev := &Event{}
		var resource sql.NullString
		if err := rows.Scan(&ev.ID, &ev.RunID, &resource, &ev.Level, &ev.Message, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		ev.Resource = resource.String
		events = append(events, ev)
	}
	return events, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
