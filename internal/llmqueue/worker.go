package llmqueue

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/factweave/factweave/internal/config"
	"github.com/factweave/factweave/pkg/apperror"
	"github.com/factweave/factweave/pkg/llm"
	"github.com/factweave/factweave/pkg/logger"
)

// Worker consumes the request stream and runs completions against the LLM
// backend under an adaptive concurrency cap.
type Worker struct {
	rdb      *redis.Client
	provider llm.Provider
	cfg      config.LLMQueueConfig
	llmCfg   config.LLMConfig
	sem      *AdaptiveSemaphore
	consumer string
	log      *slog.Logger

	stopCh    chan struct{}
	stoppedCh chan struct{}
	running   bool
	mu        sync.Mutex
	wg        sync.WaitGroup

	// outcome sampling window for concurrency adjustment
	sampleMu  sync.Mutex
	samples   int
	successes int
	timeouts  int
}

// NewWorker creates the consumer.
func NewWorker(cfg *config.Config, rdb *redis.Client, provider llm.Provider, log *slog.Logger) *Worker {
	return &Worker{
		rdb:       rdb,
		provider:  provider,
		cfg:       cfg.LLMQueue,
		llmCfg:    cfg.LLM,
		sem:       NewAdaptiveSemaphore(cfg.LLMQueue.Concurrency),
		consumer:  "worker-" + uuid.NewString()[:8],
		log:       log.With(logger.Scope("llm-worker")),
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Start creates the consumer group and begins the read loop.
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

	err := w.rdb.XGroupCreateMkStream(ctx, streamKey, consumerGroup, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return apperror.ErrLLMTransient.WithMessage("create consumer group failed").WithInternal(err)
	}

	w.log.Info("llm worker starting",
		slog.String("consumer", w.consumer),
		slog.Int("concurrency", w.sem.Limit()),
	)

	go w.run(ctx)
	go w.adjustLoop(ctx)
	return nil
}

// Stop waits for in-flight requests to drain or the stop context to expire.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	close(w.stopCh)
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		<-w.stoppedCh
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.log.Info("llm worker stopped gracefully")
	case <-ctx.Done():
		w.log.Warn("llm worker stop timeout, forcing shutdown")
	}
	return nil
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.stoppedCh)

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		streams, err := w.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    consumerGroup,
			Consumer: w.consumer,
			Streams:  []string{streamKey, ">"},
			Count:    int64(w.sem.Limit()),
			Block:    2 * time.Second,
		}).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.log.Warn("stream read failed", logger.Error(err))
			time.Sleep(time.Second)
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				w.wg.Add(1)
				go func(msg redis.XMessage) {
					defer w.wg.Done()
					w.handle(ctx, msg)
				}(msg)
			}
		}
	}
}

func (w *Worker) handle(ctx context.Context, msg redis.XMessage) {
	req, err := decodeRequest(msg)
	if err != nil {
		w.log.Warn("dropping malformed stream entry",
			slog.String("stream_id", msg.ID),
			logger.Error(err),
		)
		w.ack(ctx, msg.ID)
		return
	}
	log := w.log.With(slog.String("request_id", req.ID))

	// Expired before we got to it: answer timeout without touching the
	// backend.
	if !req.TimeoutAt.IsZero() && time.Now().After(req.TimeoutAt) {
		w.finish(ctx, msg.ID, &Response{
			RequestID:   req.ID,
			Status:      StatusTimeout,
			Error:       "request expired before processing",
			CompletedAt: time.Now(),
		})
		log.Debug("request expired in queue")
		return
	}

	if err := w.sem.Acquire(ctx); err != nil {
		return
	}
	defer w.sem.Release()

	started := time.Now()
	resp := w.complete(ctx, req)
	resp.ProcessingTimeMS = time.Since(started).Milliseconds()
	resp.CompletedAt = time.Now()

	w.recordSample(resp.Status)
	w.finish(ctx, msg.ID, resp)

	log.Debug("request processed",
		slog.String("status", resp.Status),
		slog.Int64("elapsed_ms", resp.ProcessingTimeMS),
	)
}

// complete runs the completion with per-attempt timeout, temperature bumps
// and a JSON repair pass before each give-up.
func (w *Worker) complete(ctx context.Context, req *Request) *Response {
	temperature := req.Temperature
	if temperature == 0 {
		temperature = w.llmCfg.BaseTemperature
	}

	backoff := w.llmCfg.RetryBackoffMin
	var lastErr error
	for attempt := 0; attempt <= w.llmCfg.MaxRetries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, w.cfg.RequestTimeout)
		llmResp, err := w.provider.CompleteJSON(attemptCtx, llm.Request{
			SystemPrompt: req.SystemPrompt,
			UserPrompt:   req.UserPrompt,
			Temperature:  temperature,
			MaxTokens:    req.MaxTokens,
		})
		timedOut := attemptCtx.Err() == context.DeadlineExceeded
		cancel()

		if err == nil {
			// The repair ladder runs here so consumers always get
			// parseable JSON or an explicit error.
			_, parseErr := llm.ParseObject(llmResp.Content)
			if parseErr == nil {
				return &Response{
					RequestID:    req.ID,
					Status:       StatusSuccess,
					Result:       llmResp.Content,
					InputTokens:  llmResp.InputTokens,
					OutputTokens: llmResp.OutputTokens,
				}
			}
			err = parseErr
		}
		lastErr = err

		if timedOut || apperror.CodeOf(err) == apperror.CodeTimeout {
			return &Response{RequestID: req.ID, Status: StatusTimeout, Error: err.Error()}
		}
		if !apperror.IsRetryable(err) {
			break
		}

		select {
		case <-ctx.Done():
			return &Response{RequestID: req.ID, Status: StatusError, Error: ctx.Err().Error()}
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > w.llmCfg.RetryBackoffMax {
			backoff = w.llmCfg.RetryBackoffMax
		}
		temperature += w.llmCfg.RetryTemperatureIncrement
	}

	return &Response{
		RequestID: req.ID,
		Status:    StatusError,
		Error:     lastErr.Error(),
	}
}

func (w *Worker) finish(ctx context.Context, streamID string, resp *Response) {
	if err := storeResponse(ctx, w.rdb, resp, w.cfg.ResponseTTL); err != nil {
		w.log.Warn("store response failed",
			slog.String("request_id", resp.RequestID),
			logger.Error(err),
		)
		// Leave the entry unacked; redelivery will retry it.
		return
	}
	w.ack(ctx, streamID)
}

func (w *Worker) ack(ctx context.Context, streamID string) {
	if err := w.rdb.XAck(ctx, streamKey, consumerGroup, streamID).Err(); err != nil {
		w.log.Warn("xack failed", slog.String("stream_id", streamID), logger.Error(err))
	}
}

func (w *Worker) recordSample(status string) {
	w.sampleMu.Lock()
	defer w.sampleMu.Unlock()
	w.samples++
	switch status {
	case StatusSuccess:
		w.successes++
	case StatusTimeout:
		w.timeouts++
	}
}

func (w *Worker) adjustLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.AdjustmentInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.adjust()
		}
	}
}

// adjust applies the concurrency feedback rules over the last sampling
// window: too many timeouts shrink the cap, a clean window grows it.
func (w *Worker) adjust() {
	w.sampleMu.Lock()
	samples, successes, timeouts := w.samples, w.successes, w.timeouts
	w.samples, w.successes, w.timeouts = 0, 0, 0
	w.sampleMu.Unlock()

	if samples < w.cfg.SampleThreshold {
		return
	}

	limit := w.sem.Limit()
	timeoutRate := float64(timeouts) / float64(samples)
	switch {
	case timeoutRate > 0.10:
		next := ShrinkBy(limit, 0.7, w.cfg.MinConcurrency)
		if next != limit {
			w.sem.SetLimit(next)
			w.log.Info("concurrency lowered",
				slog.Int("from", limit),
				slog.Int("to", next),
				slog.Float64("timeout_rate", timeoutRate),
			)
		}
	case timeoutRate < 0.02 && successes > 50:
		next := GrowBy(limit, 1.2, w.cfg.MaxConcurrency)
		if next != limit {
			w.sem.SetLimit(next)
			w.log.Info("concurrency raised",
				slog.Int("from", limit),
				slog.Int("to", next),
			)
		}
	}
}

func decodeRequest(msg redis.XMessage) (*Request, error) {
	raw, ok := msg.Values["payload"].(string)
	if !ok {
		return nil, apperror.NewInternal("stream entry has no payload")
	}
	req := &Request{}
	if err := json.Unmarshal([]byte(raw), req); err != nil {
		return nil, apperror.NewInternal("unmarshal llm request failed").WithInternal(err)
	}
	return req, nil
}
