package jobs

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/factweave/factweave/pkg/apperror"
	"github.com/factweave/factweave/pkg/logger"
)

// Store persists jobs in PostgreSQL.
type Store struct {
	db  bun.IDB
	log *slog.Logger
}

// NewStore creates the job store.
func NewStore(db *bun.DB, log *slog.Logger) *Store {
	return &Store{
		db:  db,
		log: log.With(logger.Scope("jobs")),
	}
}

// Create enqueues a new job in queued status. A zero ID is assigned.
func (s *Store) Create(ctx context.Context, job *Job) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.Status = StatusQueued
	if job.Payload == nil {
		job.Payload = map[string]any{}
	}

	if _, err := s.db.NewInsert().Model(job).Exec(ctx); err != nil {
		return apperror.ErrDatabase.WithMessage("create job failed").WithInternal(err)
	}

	s.log.Info("job enqueued",
		slog.String("job_id", job.ID),
		slog.String("type", string(job.Type)),
		slog.String("project_id", job.ProjectID),
	)
	return nil
}

// Get fetches one job by ID.
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	job := &Job{}
	err := s.db.NewSelect().Model(job).Where("j.id = ?", id).Scan(ctx)
	if err == sql.ErrNoRows {
		return nil, apperror.NewNotFound("job")
	}
	if err != nil {
		return nil, apperror.ErrDatabase.WithMessage("get job failed").WithInternal(err)
	}
	return job, nil
}

// ClaimNext atomically claims the next runnable job of the given type.
//
// A job is runnable when it is queued, or when it is running but its
// updated_at heartbeat is older than staleAfter (the previous claimer is
// presumed dead). FOR UPDATE SKIP LOCKED keeps concurrent workers from
// claiming the same row. Returns (nil, nil) when nothing is runnable.
func (s *Store) ClaimNext(ctx context.Context, jobType Type, staleAfter time.Duration) (*Job, error) {
	// Strategic SQL that cannot be expressed with Bun's query builder.
	query := `
		WITH cte AS (
			SELECT id FROM jobs
			WHERE type = $1
				AND (status = 'queued'
					OR (status = 'running' AND updated_at < now() - ($2 || ' seconds')::interval))
			ORDER BY priority DESC, created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE jobs j
		SET status = 'running',
			started_at = COALESCE(j.started_at, now()),
			updated_at = now()
		FROM cte WHERE j.id = cte.id
		RETURNING j.*`

	job := &Job{}
	err := s.db.NewRaw(query, string(jobType), fmt.Sprintf("%d", int(staleAfter.Seconds()))).Scan(ctx, job)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperror.ErrDatabase.WithMessage("claim job failed").WithInternal(err)
	}

	s.log.Debug("job claimed",
		slog.String("job_id", job.ID),
		slog.String("type", string(job.Type)),
	)
	return job, nil
}

// Patch is a partial job update applied by Advance.
type Patch struct {
	Status *Status
	Result map[string]any
	Error  *string
}

// Advance applies a patch to a job. When the patch moves the job to a
// terminal status, completed_at is stamped.
func (s *Store) Advance(ctx context.Context, id string, patch Patch) error {
	q := s.db.NewUpdate().
		Table("jobs").
		Set("updated_at = now()").
		Where("id = ?", id)

	if patch.Status != nil {
		q = q.Set("status = ?", string(*patch.Status))
		if patch.Status.Terminal() {
			q = q.Set("completed_at = now()")
		}
	}
	if patch.Result != nil {
		q = q.Set("result = ?", patch.Result)
	}
	if patch.Error != nil {
		q = q.Set("error = ?", truncateError(*patch.Error))
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return apperror.ErrDatabase.WithMessage("advance job failed").WithInternal(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperror.NewNotFound("job")
	}
	return nil
}

// Complete marks the job completed with an optional result.
func (s *Store) Complete(ctx context.Context, id string, result map[string]any) error {
	status := StatusCompleted
	return s.Advance(ctx, id, Patch{Status: &status, Result: result})
}

// Fail marks the job failed and records the error message.
func (s *Store) Fail(ctx context.Context, id string, errMsg string) error {
	status := StatusFailed
	return s.Advance(ctx, id, Patch{Status: &status, Error: &errMsg})
}

// Touch refreshes the running heartbeat so the job is not reclaimed as stale.
func (s *Store) Touch(ctx context.Context, id string) error {
	query := `UPDATE jobs SET updated_at = now() WHERE id = $1 AND status = 'running'`
	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return apperror.ErrDatabase.WithMessage("touch job failed").WithInternal(err)
	}
	return nil
}

// RequestCancel flips a queued or running job to cancelling. The claiming
// worker acknowledges at its next checkpoint. Cancelling an already
// terminal or cancelling job is a conflict.
func (s *Store) RequestCancel(ctx context.Context, id string) error {
	query := `
		UPDATE jobs
		SET status = 'cancelling',
			cancellation_requested_at = now(),
			updated_at = now()
		WHERE id = $1 AND status IN ('queued', 'running')`

	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return apperror.ErrDatabase.WithMessage("request cancel failed").WithInternal(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, getErr := s.Get(ctx, id); getErr != nil {
			return getErr
		}
		return apperror.ErrConflict.WithMessage("job is not cancellable in its current status")
	}

	s.log.Info("job cancellation requested", slog.String("job_id", id))
	return nil
}

// MarkCancelled is the worker acknowledgement of a cancellation request.
func (s *Store) MarkCancelled(ctx context.Context, id string) error {
	status := StatusCancelled
	return s.Advance(ctx, id, Patch{Status: &status})
}

// IsCancellationRequested reports whether the job has been asked to stop.
// Workers poll this between pages and between chunks.
func (s *Store) IsCancellationRequested(ctx context.Context, id string) (bool, error) {
	var status string
	err := s.db.NewRaw(`SELECT status FROM jobs WHERE id = $1`, id).Scan(ctx, &status)
	if err == sql.ErrNoRows {
		return false, apperror.NewNotFound("job")
	}
	if err != nil {
		return false, apperror.ErrDatabase.WithMessage("cancellation check failed").WithInternal(err)
	}
	return Status(status) == StatusCancelling, nil
}

// AckUnstartedCancellations finalizes cancelling jobs that no worker holds
// (they were cancelled while still queued). Returns the number finalized.
func (s *Store) AckUnstartedCancellations(ctx context.Context) (int, error) {
	query := `
		UPDATE jobs
		SET status = 'cancelled',
			completed_at = now(),
			updated_at = now()
		WHERE status = 'cancelling' AND started_at IS NULL`

	res, err := s.db.ExecContext(ctx, query)
	if err != nil {
		return 0, apperror.ErrDatabase.WithMessage("ack unstarted cancellations failed").WithInternal(err)
	}
	count, _ := res.RowsAffected()
	if count > 0 {
		s.log.Info("cancelled unstarted jobs", slog.Int64("count", count))
	}
	return int(count), nil
}

// FindStale lists running jobs whose heartbeat is older than the threshold.
// Used by the maintenance sweep for visibility; actual re-claim happens
// through ClaimNext.
func (s *Store) FindStale(ctx context.Context, jobType Type, staleAfter time.Duration) ([]Job, error) {
	var stale []Job
	err := s.db.NewSelect().
		Model(&stale).
		Where("j.type = ?", string(jobType)).
		Where("j.status = ?", string(StatusRunning)).
		Where("j.updated_at < now() - (? || ' seconds')::interval", fmt.Sprintf("%d", int(staleAfter.Seconds()))).
		Scan(ctx)
	if err != nil {
		return nil, apperror.ErrDatabase.WithMessage("find stale jobs failed").WithInternal(err)
	}
	return stale, nil
}

// Stats holds per-status queue counts.
type Stats struct {
	Queued     int64 `json:"queued"`
	Running    int64 `json:"running"`
	Cancelling int64 `json:"cancelling"`
	Cancelled  int64 `json:"cancelled"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
}

// Stats returns queue statistics, optionally scoped to one project.
func (s *Store) Stats(ctx context.Context, projectID string) (*Stats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'queued') as queued,
			COUNT(*) FILTER (WHERE status = 'running') as running,
			COUNT(*) FILTER (WHERE status = 'cancelling') as cancelling,
			COUNT(*) FILTER (WHERE status = 'cancelled') as cancelled,
			COUNT(*) FILTER (WHERE status = 'completed') as completed,
			COUNT(*) FILTER (WHERE status = 'failed') as failed
		FROM jobs
		WHERE ($1 = '' OR project_id = $1::uuid)`

	stats := &Stats{}
	err := s.db.QueryRowContext(ctx, query, projectID).Scan(
		&stats.Queued, &stats.Running, &stats.Cancelling,
		&stats.Cancelled, &stats.Completed, &stats.Failed,
	)
	if err != nil {
		return nil, apperror.ErrDatabase.WithMessage("job stats failed").WithInternal(err)
	}
	return stats, nil
}

// DeleteTerminalOlderThan garbage-collects terminal jobs past the retention
// window. Returns the number of jobs deleted.
func (s *Store) DeleteTerminalOlderThan(ctx context.Context, retention time.Duration) (int, error) {
	query := `
		DELETE FROM jobs
		WHERE status IN ('completed', 'failed', 'cancelled')
			AND completed_at < now() - ($1 || ' seconds')::interval`

	res, err := s.db.ExecContext(ctx, query, fmt.Sprintf("%d", int(retention.Seconds())))
	if err != nil {
		return 0, apperror.ErrDatabase.WithMessage("job gc failed").WithInternal(err)
	}
	count, _ := res.RowsAffected()
	if count > 0 {
		s.log.Info("garbage collected terminal jobs", slog.Int64("count", count))
	}
	return int(count), nil
}

// truncateError caps stored error messages at 500 characters.
func truncateError(msg string) string {
	if len(msg) > 500 {
		return msg[:500]
	}
	return msg
}
