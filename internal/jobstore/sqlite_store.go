// Package jobstore provides persistent storage for refinement job state and
// results using SQLite.
package jobstore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// JobStatus represents the current state of a refinement job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Finished reports whether the status is terminal.
func (s JobStatus) Finished() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// Job represents a refinement job. Params and the stored result are opaque JSON
// owned by the caller.
type Job struct {
	ID         string          `json:"job_id"`
	Status     JobStatus       `json:"status"`
	Params     json.RawMessage `json:"params"`
	Phase      string          `json:"phase,omitempty"`
	Degraded   bool            `json:"degraded"`
	CreatedAt  time.Time       `json:"created_at"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
	Error      string          `json:"error,omitempty"`
}

type jobRow struct {
	ID         string         `db:"job_id"`
	Status     string         `db:"status"`
	Params     string         `db:"params_json"`
	Phase      string         `db:"phase"`
	Degraded   bool           `db:"degraded"`
	Error      string         `db:"error"`
	CreatedAt  string         `db:"created_at"`
	StartedAt  sql.NullString `db:"started_at"`
	FinishedAt sql.NullString `db:"finished_at"`
}

func (r jobRow) job() *Job {
	job := &Job{
		ID:       r.ID,
		Status:   JobStatus(r.Status),
		Params:   json.RawMessage(r.Params),
		Phase:    r.Phase,
		Degraded: r.Degraded,
		Error:    r.Error,
	}
	job.CreatedAt, _ = time.Parse(timeLayout, r.CreatedAt)
	if r.StartedAt.Valid {
		t, _ := time.Parse(timeLayout, r.StartedAt.String)
		job.StartedAt = &t
	}
	if r.FinishedAt.Valid {
		t, _ := time.Parse(timeLayout, r.FinishedAt.String)
		job.FinishedAt = &t
	}
	return job
}

const jobColumns = `job_id, status, params_json, phase, degraded, error, created_at, started_at, finished_at`

// Store provides persistent storage for refinement jobs using SQLite.
type Store struct {
	db *sqlx.DB
	mu sync.Mutex
}

// NewStore creates a new SQLite-based job store.
func NewStore(dbPath string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory for sqlite: %w", err)
	}

	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS refine_jobs (
		job_id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		params_json TEXT NOT NULL,
		phase TEXT NOT NULL DEFAULT '',
		degraded INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		started_at TEXT,
		finished_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_refine_jobs_status ON refine_jobs(status);
	CREATE INDEX IF NOT EXISTS idx_refine_jobs_finished ON refine_jobs(finished_at);

	CREATE TABLE IF NOT EXISTS refine_results (
		job_id TEXT PRIMARY KEY,
		result_json TEXT NOT NULL,
		FOREIGN KEY (job_id) REFERENCES refine_jobs(job_id) ON DELETE CASCADE
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// timeLayout is fixed width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func timestamp(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// CreateJob creates a new job record with status=queued.
func (s *Store) CreateJob(job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job.Status == "" {
		job.Status = JobStatusQueued
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	params := string(job.Params)
	if params == "" {
		params = "{}"
	}

	_, err := s.db.NamedExec(`
		INSERT INTO refine_jobs (job_id, status, params_json, phase, degraded, error, created_at)
		VALUES (:job_id, :status, :params_json, :phase, :degraded, :error, :created_at)
	`, jobRow{
		ID:        job.ID,
		Status:    string(job.Status),
		Params:    params,
		Phase:     job.Phase,
		Degraded:  job.Degraded,
		Error:     job.Error,
		CreatedAt: timestamp(job.CreatedAt),
	})
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID. It returns nil, nil when the job does not exist.
func (s *Store) GetJob(jobID string) (*Job, error) {
	var row jobRow
	err := s.db.Get(&row, `SELECT `+jobColumns+` FROM refine_jobs WHERE job_id = ?`, jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.job(), nil
}

// UpdateJobStatus updates the job status and error message. Terminal statuses
// set finished_at.
func (s *Store) UpdateJobStatus(jobID string, status JobStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var finishedAt *string
	if status.Finished() {
		t := timestamp(time.Now())
		finishedAt = &t
	}

	_, err := s.db.Exec(`
		UPDATE refine_jobs SET status = ?, error = ?, finished_at = COALESCE(?, finished_at)
		WHERE job_id = ?
	`, string(status), errMsg, finishedAt, jobID)
	return err
}

// UpdateJobStarted marks a job as running with start time.
func (s *Store) UpdateJobStarted(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		UPDATE refine_jobs SET status = ?, started_at = ?
		WHERE job_id = ?
	`, string(JobStatusRunning), timestamp(time.Now()), jobID)
	return err
}

// UpdateJobPhase records the step a running job is in.
func (s *Store) UpdateJobPhase(jobID, phase string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE refine_jobs SET phase = ? WHERE job_id = ?`, phase, jobID)
	return err
}

// SaveResult stores the result of a job, replacing any previous one, and
// records whether it is degraded.
func (s *Store) SaveResult(jobID string, result []byte, degraded bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO refine_results (job_id, result_json) VALUES (?, ?)
		ON CONFLICT(job_id) DO UPDATE SET result_json = excluded.result_json
	`, jobID, string(result)); err != nil {
		return fmt.Errorf("failed to save result: %w", err)
	}
	if _, err := tx.Exec(`UPDATE refine_jobs SET degraded = ? WHERE job_id = ?`, degraded, jobID); err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	return tx.Commit()
}

// GetResult returns the stored result of a job, or nil when there is none.
func (s *Store) GetResult(jobID string) ([]byte, error) {
	var result string
	err := s.db.Get(&result, `SELECT result_json FROM refine_results WHERE job_id = ?`, jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []byte(result), nil
}

// ListJobs returns the most recent jobs, newest first.
func (s *Store) ListJobs(limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []jobRow
	err := s.db.Select(&rows, `
		SELECT `+jobColumns+` FROM refine_jobs
		ORDER BY created_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	return toJobs(rows), nil
}

// ListQueuedJobs returns all queued jobs (for restart recovery).
func (s *Store) ListQueuedJobs() ([]*Job, error) {
	var rows []jobRow
	err := s.db.Select(&rows, `
		SELECT `+jobColumns+` FROM refine_jobs
		WHERE status = ?
		ORDER BY created_at ASC
	`, string(JobStatusQueued))
	if err != nil {
		return nil, err
	}
	return toJobs(rows), nil
}

func toJobs(rows []jobRow) []*Job {
	jobs := make([]*Job, 0, len(rows))
	for _, r := range rows {
		jobs = append(jobs, r.job())
	}
	return jobs
}

// MarkRunningAsFailed marks all running jobs as failed (for restart recovery).
func (s *Store) MarkRunningAsFailed(errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		UPDATE refine_jobs SET status = ?, error = ?, finished_at = ?
		WHERE status = ?
	`, string(JobStatusFailed), errMsg, timestamp(time.Now()), string(JobStatusRunning))
	return err
}

// DeleteExpiredJobs deletes finished jobs older than retentionDays.
func (s *Store) DeleteExpiredJobs(retentionDays int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := timestamp(time.Now().AddDate(0, 0, -retentionDays))

	// Delete results first (foreign key)
	_, err := s.db.Exec(`
		DELETE FROM refine_results WHERE job_id IN (
			SELECT job_id FROM refine_jobs WHERE finished_at IS NOT NULL AND finished_at < ?
		)
	`, cutoff)
	if err != nil {
		return 0, err
	}

	result, err := s.db.Exec(`
		DELETE FROM refine_jobs WHERE finished_at IS NOT NULL AND finished_at < ?
	`, cutoff)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}

// DeleteJob deletes a job and its result.
func (s *Store) DeleteJob(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec("DELETE FROM refine_results WHERE job_id = ?", jobID)
	if err != nil {
		return err
	}

	_, err = s.db.Exec("DELETE FROM refine_jobs WHERE job_id = ?", jobID)
	return err
}
