// Package llmqueue decouples extraction from the LLM backend through a
// Redis stream with a consumer group. Producers enqueue requests and block
// on a pubsub-notified response key; workers consume, call the backend and
// store-then-publish the response.
package llmqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/factweave/factweave/internal/config"
	"github.com/factweave/factweave/pkg/apperror"
	"github.com/factweave/factweave/pkg/logger"
)

const (
	streamKey     = "llm:requests"
	consumerGroup = "llm-workers"
)

func responseKey(requestID string) string {
	return "llm:response:" + requestID
}

func notifyChannel(requestID string) string {
	return "llm:response:notify:" + requestID
}

// Request is one queued completion request.
type Request struct {
	ID           string    `json:"id"`
	RequestType  string    `json:"request_type"`
	Priority     int       `json:"priority"`
	SystemPrompt string    `json:"system_prompt"`
	UserPrompt   string    `json:"user_prompt"`
	Temperature  float64   `json:"temperature,omitempty"`
	MaxTokens    int       `json:"max_tokens,omitempty"`
	RetryCount   int       `json:"retry_count"`
	CreatedAt    time.Time `json:"created_at"`
	TimeoutAt    time.Time `json:"timeout_at"`
}

// Response statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusTimeout = "timeout"
)

// Response is the stored answer for one request.
type Response struct {
	RequestID        string    `json:"request_id"`
	Status           string    `json:"status"`
	Result           string    `json:"result,omitempty"`
	Error            string    `json:"error,omitempty"`
	InputTokens      int       `json:"input_tokens,omitempty"`
	OutputTokens     int       `json:"output_tokens,omitempty"`
	ProcessingTimeMS int64     `json:"processing_time_ms"`
	CompletedAt      time.Time `json:"completed_at"`
}

// Queue is the producer side.
type Queue struct {
	rdb *redis.Client
	cfg config.LLMQueueConfig
	log *slog.Logger
}

// NewQueue creates the producer.
func NewQueue(cfg *config.Config, rdb *redis.Client, log *slog.Logger) *Queue {
	return &Queue{
		rdb: rdb,
		cfg: cfg.LLMQueue,
		log: log.With(logger.Scope("llmqueue")),
	}
}

// Enqueue appends the request to the stream and returns its id.
func (q *Queue) Enqueue(ctx context.Context, req Request) (string, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now()
	}
	if req.TimeoutAt.IsZero() {
		req.TimeoutAt = req.CreatedAt.Add(q.cfg.RequestTimeout)
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return "", apperror.NewInternal("marshal llm request failed").WithInternal(err)
	}

	err = q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey,
		Values: map[string]any{"payload": string(payload)},
	}).Err()
	if err != nil {
		return "", apperror.ErrLLMTransient.WithMessage("enqueue llm request failed").WithInternal(err)
	}

	q.log.Debug("llm request enqueued",
		slog.String("request_id", req.ID),
		slog.String("request_type", req.RequestType),
	)
	return req.ID, nil
}

// WaitForResult blocks until the response for the request lands or the
// timeout expires.
//
// Order matters: check the cache, subscribe, check the cache again, then
// wait. The second read closes the window where the worker stores and
// publishes between our first read and the subscription.
func (q *Queue) WaitForResult(ctx context.Context, requestID string, timeout time.Duration) (*Response, error) {
	if resp, ok, err := q.readResponse(ctx, requestID); err != nil {
		return nil, err
	} else if ok {
		return resp, nil
	}

	sub := q.rdb.Subscribe(ctx, notifyChannel(requestID))
	defer func() { _ = sub.Close() }()

	// Wait for the server's subscription confirmation before the re-check.
	// Subscribe returns before the subscription is live; without this a
	// publish landing between the re-check and activation would be lost.
	if _, err := sub.Receive(ctx); err != nil {
		return nil, apperror.ErrLLMTransient.WithMessage("subscribe llm response failed").WithInternal(err)
	}

	if resp, ok, err := q.readResponse(ctx, requestID); err != nil {
		return nil, err
	} else if ok {
		return resp, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, apperror.ErrTimeout.WithMessage(
			fmt.Sprintf("llm response not received within %s", timeout))
	case <-sub.Channel():
		resp, ok, err := q.readResponse(ctx, requestID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, apperror.NewInternal("llm response notified but missing")
		}
		return resp, nil
	}
}

func (q *Queue) readResponse(ctx context.Context, requestID string) (*Response, bool, error) {
	raw, err := q.rdb.Get(ctx, responseKey(requestID)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperror.ErrLLMTransient.WithMessage("read llm response failed").WithInternal(err)
	}

	resp := &Response{}
	if err := json.Unmarshal([]byte(raw), resp); err != nil {
		return nil, false, apperror.NewInternal("unmarshal llm response failed").WithInternal(err)
	}
	return resp, true, nil
}

// storeResponse writes the response with TTL and publishes the notify signal.
// Used by the worker; store first, publish second.
func storeResponse(ctx context.Context, rdb *redis.Client, resp *Response, ttl time.Duration) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		return apperror.NewInternal("marshal llm response failed").WithInternal(err)
	}
	if err := rdb.Set(ctx, responseKey(resp.RequestID), payload, ttl).Err(); err != nil {
		return apperror.ErrLLMTransient.WithMessage("store llm response failed").WithInternal(err)
	}
	return rdb.Publish(ctx, notifyChannel(resp.RequestID), "ready").Err()
}
