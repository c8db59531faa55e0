package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/stacktake/stacktake/pkg/engine"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string
	cfg  Config
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

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &SQLiteStore{
		path: cfg.Path,
		cfg:  cfg,
	}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

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

	// Foreign keys are a connection-level setting.
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
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

// SaveJob persists a job snapshot. The orchestrator calls this at every
// terminal transition, so the write is an upsert.
func (s *SQLiteStore) SaveJob(ctx context.Context, job *engine.Job) error {
	criteria, err := json.Marshal(job.Criteria)
	if err != nil {
		return fmt.Errorf("failed to encode criteria: %w", err)
	}

	query := `
		INSERT INTO jobs (
			id, provider, criteria, state,
			artifacts_produced, artifacts_delivered, batches_delivered,
			extractor_failures, delivery_failures,
			created_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			artifacts_produced = excluded.artifacts_produced,
			artifacts_delivered = excluded.artifacts_delivered,
			batches_delivered = excluded.batches_delivered,
			extractor_failures = excluded.extractor_failures,
			delivery_failures = excluded.delivery_failures,
			completed_at = excluded.completed_at
	`

	_, err = s.db.ExecContext(ctx, query,
		job.ID,
		job.Criteria.Provider,
		string(criteria),
		string(job.State),
		job.Counters.ArtifactsProduced,
		job.Counters.ArtifactsDelivered,
		job.Counters.BatchesDelivered,
		job.Counters.ExtractorFailures,
		job.Counters.DeliveryFailures,
		job.CreatedAt,
		job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}

	return nil
}

// AppendJobError persists one error record of a job.
func (s *SQLiteStore) AppendJobError(ctx context.Context, jobID string, rec engine.ErrorRecord) error {
	query := `
		INSERT INTO job_errors (job_id, extractor, region, kind, message, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, query,
		jobID,
		rec.Extractor,
		rec.Region,
		string(rec.Kind),
		rec.Message,
		ts,
	)
	if err != nil {
		return fmt.Errorf("failed to append job error: %w", err)
	}

	return nil
}

// RecordDelivery persists one batch delivery attempt.
func (s *SQLiteStore) RecordDelivery(ctx context.Context, d engine.Delivery) error {
	query := `
		INSERT INTO deliveries (job_id, seq, artifacts, delivered, error, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	delivered := 0
	if d.Delivered {
		delivered = 1
	}

	_, err := s.db.ExecContext(ctx, query,
		d.JobID,
		d.Seq,
		d.Artifacts,
		delivered,
		d.Error,
		d.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to record delivery: %w", err)
	}

	return nil
}

// GetJob retrieves a persisted job by ID.
func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*JobRow, error) {
	query := `
		SELECT id, provider, criteria, state,
			   artifacts_produced, artifacts_delivered, batches_delivered,
			   extractor_failures, delivery_failures,
			   created_at, completed_at
		FROM jobs
		WHERE id = ?
	`

	row := &JobRow{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&row.ID,
		&row.Provider,
		&row.Criteria,
		&row.State,
		&row.ArtifactsProduced,
		&row.ArtifactsDelivered,
		&row.BatchesDelivered,
		&row.ExtractorFailures,
		&row.DeliveryFailures,
		&row.CreatedAt,
		&row.CompletedAt,
	)

	if err == sql.ErrNoRows {
		return nil, engine.NewPermanentError("job not found", err).
			WithCode(engine.ErrCodeNotFound).WithJob(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return row, nil
}

// ListJobs lists persisted jobs with pagination, newest first.
func (s *SQLiteStore) ListJobs(ctx context.Context, limit, offset int) ([]*JobRow, error) {
	query := `
		SELECT id, provider, criteria, state,
			   artifacts_produced, artifacts_delivered, batches_delivered,
			   extractor_failures, delivery_failures,
			   created_at, completed_at
		FROM jobs
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []*JobRow{}
	for rows.Next() {
		row := &JobRow{}
		err := rows.Scan(
			&row.ID,
			&row.Provider,
			&row.Criteria,
			&row.State,
			&row.ArtifactsProduced,
			&row.ArtifactsDelivered,
			&row.BatchesDelivered,
			&row.ExtractorFailures,
			&row.DeliveryFailures,
			&row.CreatedAt,
			&row.CompletedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating jobs: %w", err)
	}

	return jobs, nil
}

// ListJobErrors lists the persisted error records of a job, oldest first.
func (s *SQLiteStore) ListJobErrors(ctx context.Context, jobID string) ([]*JobErrorRow, error) {
	query := `
		SELECT id, job_id, extractor, region, kind, message, timestamp
		FROM job_errors
		WHERE job_id = ?
		ORDER BY id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list job errors: %w", err)
	}
	defer rows.Close()

	records := []*JobErrorRow{}
	for rows.Next() {
		rec := &JobErrorRow{}
		err := rows.Scan(
			&rec.ID,
			&rec.JobID,
			&rec.Extractor,
			&rec.Region,
			&rec.Kind,
			&rec.Message,
			&rec.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job error: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating job errors: %w", err)
	}

	return records, nil
}

// ListDeliveries lists the persisted delivery attempts of a job, in send
// order.
func (s *SQLiteStore) ListDeliveries(ctx context.Context, jobID string) ([]*DeliveryRow, error) {
	query := `
		SELECT id, job_id, seq, artifacts, delivered, error, timestamp
		FROM deliveries
		WHERE job_id = ?
		ORDER BY id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list deliveries: %w", err)
	}
	defer rows.Close()

	deliveries := []*DeliveryRow{}
	for rows.Next() {
		d := &DeliveryRow{}
		var delivered int
		err := rows.Scan(
			&d.ID,
			&d.JobID,
			&d.Seq,
			&d.Artifacts,
			&delivered,
			&d.Error,
			&d.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan delivery: %w", err)
		}
		d.Delivered = delivered != 0
		deliveries = append(deliveries, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating deliveries: %w", err)
	}

	return deliveries, nil
}

// HealthCheck verifies the database connection is healthy.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}
