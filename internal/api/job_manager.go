// Package api provides HTTP handlers for the cell taxonomy server.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/celltaxonomy/server/internal/jobstore"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrQueueFull is returned when a job cannot be queued.
var ErrQueueFull = errors.New("job queue is full; try again later")

// JobManagerConfig contains configuration for the job manager.
type JobManagerConfig struct {
	MaxConcurrent int    // Max concurrent refinement jobs (default 1)
	SQLitePath    string // Path to SQLite database
	RetentionDays int    // Days to keep finished jobs (default 7)
	QueueSize     int    // Pending job capacity (default 100)
	CleanupPeriod time.Duration
}

// Executor runs one job. It reads the job's params from store and saves its
// result there.
type Executor func(ctx context.Context, store *jobstore.Store, jobID string) error

// JobManager manages refinement jobs with SQLite persistence.
type JobManager struct {
	cfg      JobManagerConfig
	store    *jobstore.Store
	logger   *zap.Logger
	queue    chan string // job IDs
	running  map[string]context.CancelFunc
	stopped  bool
	mu       sync.Mutex
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}

	// Executor is called to run the actual refinement.
	Executor Executor
}

// NewJobManager creates a new job manager with SQLite persistence.
func NewJobManager(cfg JobManagerConfig, logger *zap.Logger) (*JobManager, error) {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 7
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.CleanupPeriod <= 0 {
		cfg.CleanupPeriod = 1 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	store, err := jobstore.NewStore(cfg.SQLitePath)
	if err != nil {
		return nil, err
	}

	jm := &JobManager{
		cfg:     cfg,
		store:   store,
		logger:  logger.Named("jobs"),
		queue:   make(chan string, cfg.QueueSize),
		running: make(map[string]context.CancelFunc),
		stopCh:  make(chan struct{}),
	}
	return jm, nil
}

// Store returns the underlying store for direct access.
func (jm *JobManager) Store() *jobstore.Store {
	return jm.store
}

// Start starts the worker goroutines and cleanup ticker.
// Also recovers from previous shutdown.
func (jm *JobManager) Start() {
	// Mark any running jobs as failed (server restart)
	if err := jm.store.MarkRunningAsFailed("server restarted"); err != nil {
		jm.logger.Error("failed to mark running jobs as failed", zap.Error(err))
	}

	// Re-queue any queued jobs
	queued, err := jm.store.ListQueuedJobs()
	if err != nil {
		jm.logger.Error("failed to list queued jobs", zap.Error(err))
	} else {
		for _, job := range queued {
			select {
			case jm.queue <- job.ID:
				jm.logger.Info("re-queued job", zap.String("job_id", job.ID))
			default:
				jm.logger.Warn("queue full, cannot re-queue job", zap.String("job_id", job.ID))
			}
		}
	}

	// Start workers
	for i := 0; i < jm.cfg.MaxConcurrent; i++ {
		jm.wg.Add(1)
		go jm.worker()
	}

	// Start cleanup ticker
	jm.wg.Add(1)
	go jm.cleaner()
}

// Stop cancels running jobs, waits for the workers and closes the store.
// Jobs still queued stay queued and are picked up on the next Start.
func (jm *JobManager) Stop() {
	jm.stopOnce.Do(func() {
		jm.mu.Lock()
		jm.stopped = true
		close(jm.stopCh)
		close(jm.queue)
		jm.mu.Unlock()

		jm.wg.Wait()
		jm.store.Close()
	})
}

func (jm *JobManager) worker() {
	defer jm.wg.Done()
	for jobID := range jm.queue {
		select {
		case <-jm.stopCh:
			continue
		default:
		}
		jm.runJob(jobID)
	}
}

func (jm *JobManager) runJob(jobID string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Skip jobs cancelled or deleted while queued
	job, err := jm.store.GetJob(jobID)
	if err != nil || job == nil || job.Status != jobstore.JobStatusQueued {
		return
	}

	jm.mu.Lock()
	jm.running[jobID] = cancel
	jm.mu.Unlock()

	defer func() {
		jm.mu.Lock()
		delete(jm.running, jobID)
		jm.mu.Unlock()
	}()

	// Mark as running
	if err := jm.store.UpdateJobStarted(jobID); err != nil {
		jm.logger.Error("failed to mark job as started", zap.String("job_id", jobID), zap.Error(err))
		return
	}

	// Stop cancels whatever is running
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-jm.stopCh:
			cancel()
		case <-done:
		}
	}()

	start := time.Now()
	var execErr error
	if jm.Executor != nil {
		execErr = jm.Executor(ctx, jm.store, jobID)
	}

	// Update final status
	log := jm.logger.With(zap.String("job_id", jobID), zap.Duration("elapsed", time.Since(start)))
	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		jm.store.UpdateJobStatus(jobID, jobstore.JobStatusCancelled, "cancelled")
		log.Info("job cancelled")
	case execErr != nil:
		jm.store.UpdateJobStatus(jobID, jobstore.JobStatusFailed, execErr.Error())
		log.Warn("job failed", zap.Error(execErr))
	default:
		jm.store.UpdateJobStatus(jobID, jobstore.JobStatusCompleted, "")
		log.Info("job completed")
	}
}

func (jm *JobManager) cleaner() {
	defer jm.wg.Done()
	ticker := time.NewTicker(jm.cfg.CleanupPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-jm.stopCh:
			return
		case <-ticker.C:
			jm.cleanup()
		}
	}
}

func (jm *JobManager) cleanup() {
	deleted, err := jm.store.DeleteExpiredJobs(jm.cfg.RetentionDays)
	if err != nil {
		jm.logger.Error("cleanup error", zap.Error(err))
	} else if deleted > 0 {
		jm.logger.Info("cleaned up expired jobs", zap.Int64("deleted", deleted))
	}
}

// Submit creates a new job for params and enqueues it for execution.
func (jm *JobManager) Submit(params any) (*jobstore.Job, error) {
	data, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}

	job := &jobstore.Job{
		ID:        uuid.NewString(),
		Status:    jobstore.JobStatusQueued,
		Params:    data,
		CreatedAt: time.Now(),
	}
	if err := jm.store.CreateJob(job); err != nil {
		return nil, err
	}

	jm.mu.Lock()
	defer jm.mu.Unlock()
	if jm.stopped {
		return job, nil
	}
	select {
	case jm.queue <- job.ID:
	default:
		// Queue full; mark as failed immediately
		jm.store.UpdateJobStatus(job.ID, jobstore.JobStatusFailed, ErrQueueFull.Error())
		job.Status = jobstore.JobStatusFailed
		job.Error = ErrQueueFull.Error()
	}

	return job, nil
}

// Get returns a job by ID.
func (jm *JobManager) Get(id string) *jobstore.Job {
	job, err := jm.store.GetJob(id)
	if err != nil {
		jm.logger.Error("error getting job", zap.String("job_id", id), zap.Error(err))
		return nil
	}
	return job
}

// Result returns the stored result of a job, or nil.
func (jm *JobManager) Result(id string) ([]byte, error) {
	return jm.store.GetResult(id)
}

// Cancel attempts to cancel a queued or running job.
func (jm *JobManager) Cancel(id string) bool {
	jm.mu.Lock()
	cancel, ok := jm.running[id]
	jm.mu.Unlock()

	if ok && cancel != nil {
		cancel()
		return true
	}

	// If not running, try to mark as cancelled in DB
	job, err := jm.store.GetJob(id)
	if err != nil || job == nil {
		return false
	}
	if job.Status == jobstore.JobStatusQueued {
		jm.store.UpdateJobStatus(id, jobstore.JobStatusCancelled, "cancelled before start")
		return true
	}
	return false
}

// Delete cancels a job if needed and deletes it with its result.
func (jm *JobManager) Delete(id string) error {
	jm.Cancel(id)
	return jm.store.DeleteJob(id)
}

// List returns the most recent jobs, newest first.
func (jm *JobManager) List(limit int) ([]*jobstore.Job, error) {
	return jm.store.ListJobs(limit)
}
