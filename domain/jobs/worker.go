package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/factweave/factweave/pkg/apperror"
	"github.com/factweave/factweave/pkg/logger"
)

// Handler executes one claimed job. Returning nil completes the job with
// the returned result; returning an error fails it. Handlers observe ctx
// cancellation and should check the store's cancellation flag at natural
// checkpoints for long jobs.
type Handler func(ctx context.Context, job *Job) (map[string]any, error)

// Alerter is notified when a job reaches terminal failure. Satisfied by
// alerts.Service.
type Alerter interface {
	JobFailed(ctx context.Context, jobType, jobID, projectID string, jobErr error)
}

// WorkerConfig configures one polling worker.
type WorkerConfig struct {
	// Type is the job type this worker claims.
	Type Type
	// PollInterval is how often to poll for runnable jobs (default: 5s).
	PollInterval time.Duration
	// StaleAfter is the heartbeat age past which a running job of this
	// type is considered abandoned and re-claimable (default: 10m).
	StaleAfter time.Duration
	// HeartbeatInterval is how often the worker touches the claimed job
	// (default: PollInterval).
	HeartbeatInterval time.Duration
}

// Worker polls the store for one job type and runs claimed jobs.
//
// Shutdown is graceful: Stop closes the stop channel and waits for the
// in-flight job to finish or the stop context to expire.
type Worker struct {
	config    WorkerConfig
	store     *Store
	handler   Handler
	alerter   Alerter
	log       *slog.Logger
	stopCh    chan struct{}
	stoppedCh chan struct{}
	running   bool
	mu        sync.Mutex

	processedCount int64
	successCount   int64
	failureCount   int64
	metricsMu      sync.RWMutex
}

// NewWorker creates a polling worker for one job type.
func NewWorker(config WorkerConfig, store *Store, log *slog.Logger, handler Handler) *Worker {
	if config.PollInterval == 0 {
		config.PollInterval = 5 * time.Second
	}
	if config.StaleAfter == 0 {
		config.StaleAfter = 10 * time.Minute
	}
	if config.HeartbeatInterval == 0 {
		config.HeartbeatInterval = config.PollInterval
	}

	return &Worker{
		config:    config,
		store:     store,
		handler:   handler,
		log:       log.With(slog.String("worker", string(config.Type))),
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// SetAlerter attaches failure alerting. Must be called before Start.
func (w *Worker) SetAlerter(a Alerter) {
	w.alerter = a
}

// Start begins the polling loop.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.stoppedCh = make(chan struct{})
	w.mu.Unlock()

	w.log.Info("worker starting",
		slog.Duration("poll_interval", w.config.PollInterval),
		slog.Duration("stale_after", w.config.StaleAfter))

	go w.run(ctx)
	return nil
}

// Stop gracefully stops the worker, waiting for the in-flight job.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	close(w.stopCh)
	w.mu.Unlock()

	select {
	case <-w.stoppedCh:
		w.log.Info("worker stopped gracefully")
	case <-ctx.Done():
		w.log.Warn("worker stop timeout, forcing shutdown")
	}
	return nil
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.stoppedCh)

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Drain runnable jobs before sleeping again.
			for {
				claimed, err := w.pollOnce(ctx)
				if err != nil {
					w.log.Warn("poll failed", logger.Error(err))
					break
				}
				if !claimed {
					break
				}
				select {
				case <-w.stopCh:
					return
				case <-ctx.Done():
					return
				default:
				}
			}
		}
	}
}

// pollOnce claims and runs at most one job. Reports whether a job was claimed.
func (w *Worker) pollOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNext(ctx, w.config.Type, w.config.StaleAfter)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	w.runJob(ctx, job)
	return true, nil
}

func (w *Worker) runJob(ctx context.Context, job *Job) {
	log := w.log.With(slog.String("job_id", job.ID))
	started := time.Now()

	heartbeatDone := make(chan struct{})
	go w.heartbeat(ctx, job.ID, heartbeatDone)
	defer close(heartbeatDone)

	result, err := w.handler(ctx, job)
	switch {
	case err == nil:
		if err := w.store.Complete(ctx, job.ID, result); err != nil {
			log.Error("mark completed failed", logger.Error(err))
		}
		w.IncrementSuccess()
		log.Info("job completed", slog.Duration("elapsed", time.Since(started)))

	case errors.Is(err, ErrCancelled):
		if err := w.store.MarkCancelled(ctx, job.ID); err != nil {
			log.Error("mark cancelled failed", logger.Error(err))
		}
		w.IncrementProcessed()
		log.Info("job cancelled", slog.Duration("elapsed", time.Since(started)))

	default:
		if err := w.store.Fail(ctx, job.ID, err.Error()); err != nil {
			log.Error("mark failed failed", logger.Error(err))
		}
		if w.alerter != nil {
			w.alerter.JobFailed(ctx, string(job.Type), job.ID, job.ProjectID, err)
		}
		w.IncrementFailure()
		log.Warn("job failed",
			slog.String("code", string(apperror.CodeOf(err))),
			slog.Duration("elapsed", time.Since(started)),
			logger.Error(err))
	}
}

// ErrCancelled is returned by handlers that observed a cancellation request
// and stopped cleanly.
var ErrCancelled = apperror.ErrCancelled.WithMessage("job cancelled by request")

func (w *Worker) heartbeat(ctx context.Context, jobID string, done <-chan struct{}) {
	ticker := time.NewTicker(w.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.store.Touch(ctx, jobID); err != nil {
				w.log.Warn("heartbeat failed", slog.String("job_id", jobID), logger.Error(err))
			}
		}
	}
}

// WorkerMetrics contains worker counters.
type WorkerMetrics struct {
	Processed int64 `json:"processed"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
}

// Metrics returns current worker metrics.
func (w *Worker) Metrics() WorkerMetrics {
	w.metricsMu.RLock()
	defer w.metricsMu.RUnlock()

	return WorkerMetrics{
		Processed: w.processedCount,
		Succeeded: w.successCount,
		Failed:    w.failureCount,
	}
}

// IncrementProcessed increments the processed counter.
func (w *Worker) IncrementProcessed() {
	w.metricsMu.Lock()
	w.processedCount++
	w.metricsMu.Unlock()
}

// IncrementSuccess increments both processed and success counters.
func (w *Worker) IncrementSuccess() {
	w.metricsMu.Lock()
	w.processedCount++
	w.successCount++
	w.metricsMu.Unlock()
}

// IncrementFailure increments both processed and failure counters.
func (w *Worker) IncrementFailure() {
	w.metricsMu.Lock()
	w.processedCount++
	w.failureCount++
	w.metricsMu.Unlock()
}

// IsRunning reports whether the worker loop is active.
func (w *Worker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}
