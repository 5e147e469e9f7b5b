package llmqueue

import (
	"context"

	"github.com/factweave/factweave/internal/config"
	"github.com/factweave/factweave/pkg/apperror"
	"github.com/factweave/factweave/pkg/llm"
)

// Client adapts the queue to the completion interface the orchestrator
// consumes: enqueue, then block on the response.
type Client struct {
	queue *Queue
	cfg   config.LLMQueueConfig
}

// NewClient creates the queue-backed completer.
func NewClient(queue *Queue, cfg *config.Config) *Client {
	return &Client{queue: queue, cfg: cfg.LLMQueue}
}

// CompleteJSON enqueues the request and waits for its response.
func (c *Client) CompleteJSON(ctx context.Context, req llm.Request) (*llm.Response, error) {
	id, err := c.queue.Enqueue(ctx, Request{
		RequestType:  "extraction",
		SystemPrompt: req.SystemPrompt,
		UserPrompt:   req.UserPrompt,
		Temperature:  req.Temperature,
		MaxTokens:    req.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	resp, err := c.queue.WaitForResult(ctx, id, c.cfg.RequestTimeout)
	if err != nil {
		return nil, err
	}

	switch resp.Status {
	case StatusSuccess:
		return &llm.Response{
			Content:      resp.Result,
			InputTokens:  resp.InputTokens,
			OutputTokens: resp.OutputTokens,
		}, nil
	case StatusTimeout:
		return nil, apperror.ErrTimeout.WithMessage("llm request timed out")
	default:
		return nil, apperror.ErrLLMTransient.WithMessage(resp.Error)
	}
}
