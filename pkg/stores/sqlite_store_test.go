package stores

import (
	"context"
	"testing"
	"time"

	"github.com/stacktake/stacktake/pkg/engine"
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

	return store
}

func TestStoreLifecycle(t *testing.T) {
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

	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	// Check that tables exist by querying them
	tables := []string{"jobs", "job_errors", "deliveries"}
	for _, table := range tables {
		query := "SELECT COUNT(*) FROM " + table
		var count int
		err := store.db.QueryRowContext(ctx, query).Scan(&count)
		if err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}
}

func TestSaveJobUpsert(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	job := &engine.Job{
		ID: "job-001",
		Criteria: engine.Criteria{
			Provider: "aws",
			Services: []string{"ec2"},
		},
		State:     engine.JobStateRunning,
		CreatedAt: time.Now().UTC(),
	}

	if err := store.SaveJob(ctx, job); err != nil {
		t.Fatalf("failed to save job: %v", err)
	}

	// Terminal transition saves the same job again with updated counters.
	job.State = engine.JobStateCompleted
	job.Counters.ArtifactsProduced = 42
	job.Counters.ArtifactsDelivered = 42
	job.Counters.BatchesDelivered = 3
	now := time.Now().UTC()
	job.CompletedAt = &now

	if err := store.SaveJob(ctx, job); err != nil {
		t.Fatalf("failed to upsert job: %v", err)
	}

	row, err := store.GetJob(ctx, "job-001")
	if err != nil {
		t.Fatalf("failed to get job: %v", err)
	}
	if row.State != string(engine.JobStateCompleted) {
		t.Errorf("expected state completed, got %s", row.State)
	}
	if row.ArtifactsProduced != 42 || row.BatchesDelivered != 3 {
		t.Errorf("counters not persisted: produced=%d batches=%d",
			row.ArtifactsProduced, row.BatchesDelivered)
	}
	if row.Provider != "aws" {
		t.Errorf("expected provider aws, got %s", row.Provider)
	}
	if row.CompletedAt == nil {
		t.Error("expected completed_at to be set")
	}
}

func TestGetJobNotFound(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	_, err := store.GetJob(context.Background(), "missing")
	if err == nil {
		t.Fatal("expected error for missing job")
	}
	if !engine.IsNotFound(err) {
		t.Errorf("expected NOT_FOUND error, got %v", err)
	}
}

func TestAppendJobErrorAndList(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	recs := []engine.ErrorRecord{
		{
			Extractor: "aws:ec2",
			Region:    "us-east-1",
			Kind:      engine.ErrorKindExtraction,
			Message:   "throttled by provider",
			Timestamp: time.Now().UTC(),
		},
		{
			Kind:      engine.ErrorKindDelivery,
			Message:   "sink unavailable",
			Timestamp: time.Now().UTC(),
		},
	}
	for _, rec := range recs {
		if err := store.AppendJobError(ctx, "job-001", rec); err != nil {
			t.Fatalf("failed to append error: %v", err)
		}
	}

	rows, err := store.ListJobErrors(ctx, "job-001")
	if err != nil {
		t.Fatalf("failed to list errors: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 error records, got %d", len(rows))
	}
	if rows[0].Extractor != "aws:ec2" || rows[0].Kind != string(engine.ErrorKindExtraction) {
		t.Errorf("unexpected first record: %+v", rows[0])
	}
	if rows[1].Kind != string(engine.ErrorKindDelivery) {
		t.Errorf("unexpected second record: %+v", rows[1])
	}
}

func TestRecordDeliveryAndList(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	deliveries := []engine.Delivery{
		{JobID: "job-001", Seq: 1, Artifacts: 100, Delivered: true, Timestamp: time.Now().UTC()},
		{JobID: "job-001", Seq: 2, Artifacts: 37, Delivered: false, Error: "timeout", Timestamp: time.Now().UTC()},
	}
	for _, d := range deliveries {
		if err := store.RecordDelivery(ctx, d); err != nil {
			t.Fatalf("failed to record delivery: %v", err)
		}
	}

	rows, err := store.ListDeliveries(ctx, "job-001")
	if err != nil {
		t.Fatalf("failed to list deliveries: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(rows))
	}
	if !rows[0].Delivered || rows[0].Seq != 1 {
		t.Errorf("unexpected first delivery: %+v", rows[0])
	}
	if rows[1].Delivered || rows[1].Error != "timeout" {
		t.Errorf("unexpected second delivery: %+v", rows[1])
	}
}

func TestListJobsNewestFirst(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)
	for i, id := range []string{"job-a", "job-b", "job-c"} {
		job := &engine.Job{
			ID:        id,
			Criteria:  engine.Criteria{Provider: "gcp"},
			State:     engine.JobStateCompleted,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := store.SaveJob(ctx, job); err != nil {
			t.Fatalf("failed to save job: %v", err)
		}
	}

	rows, err := store.ListJobs(ctx, 10, 0)
	if err != nil {
		t.Fatalf("failed to list jobs: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 jobs, got %d", len(rows))
	}
	if rows[0].ID != "job-c" || rows[2].ID != "job-a" {
		t.Errorf("unexpected order: %s, %s, %s", rows[0].ID, rows[1].ID, rows[2].ID)
	}
}
