package llm

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/factweave/factweave/pkg/apperror"
	"github.com/factweave/factweave/pkg/logger"
)

// OpenAIConfig configures the OpenAI-compatible chat client.
type OpenAIConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	HTTPTimeout time.Duration
	MaxTokens   int
	Temperature float64
}

// OpenAIProvider calls an OpenAI-compatible chat completions endpoint.
type OpenAIProvider struct {
	client openai.Client
	cfg    OpenAIConfig
	log    *slog.Logger
}

// NewOpenAIProvider creates a provider against cfg.BaseURL.
func NewOpenAIProvider(cfg OpenAIConfig, log *slog.Logger) *OpenAIProvider {
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 120 * time.Second
	}

	client := openai.NewClient(
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(cfg.BaseURL),
		option.WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout}),
	)

	return &OpenAIProvider{
		client: client,
		cfg:    cfg,
		log:    log.With(logger.Scope("llm")),
	}
}

// IsConfigured returns true if an API key is set.
func (p *OpenAIProvider) IsConfigured() bool {
	return p.cfg.APIKey != ""
}

// CompleteJSON runs a chat completion with response_format=json_object.
func (p *OpenAIProvider) CompleteJSON(ctx context.Context, req Request) (*Response, error) {
	temperature := req.Temperature
	if temperature <= 0 {
		temperature = p.cfg.Temperature
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.cfg.MaxTokens
	}

	var messages []openai.ChatCompletionMessageParamUnion
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}
	messages = append(messages, openai.UserMessage(req.UserPrompt))

	start := time.Now()
	completion, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(p.cfg.Model),
		Messages:    messages,
		Temperature: openai.Float(temperature),
		MaxTokens:   openai.Int(int64(maxTokens)),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	})
	if err != nil {
		return nil, p.classify(err)
	}

	if len(completion.Choices) == 0 {
		return nil, apperror.ErrLLMTransient.WithMessage("empty completion response")
	}

	choice := completion.Choices[0]
	p.log.Debug("completion finished",
		slog.String("model", p.cfg.Model),
		slog.Duration("duration", time.Since(start)),
		slog.Int64("prompt_tokens", completion.Usage.PromptTokens),
		slog.Int64("completion_tokens", completion.Usage.CompletionTokens),
		slog.String("finish_reason", string(choice.FinishReason)),
	)

	return &Response{
		Content:      choice.Message.Content,
		InputTokens:  int(completion.Usage.PromptTokens),
		OutputTokens: int(completion.Usage.CompletionTokens),
		FinishReason: string(choice.FinishReason),
	}, nil
}

// classify maps transport and API errors onto the retryable taxonomy.
func (p *OpenAIProvider) classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500 {
			return apperror.ErrLLMTransient.WithInternal(err)
		}
		return apperror.New(apperror.CodeLLMTransient, "LLM request rejected", false).WithInternal(err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperror.ErrTimeout.WithInternal(err)
	}
	return apperror.ErrLLMTransient.WithInternal(err)
}
