// Package llm provides the chat-completion client used by extraction.
package llm

import (
	"context"
)

// Request is one JSON-mode chat completion.
type Request struct {
	SystemPrompt string
	UserPrompt   string
	// Temperature overrides the configured base temperature when > 0
	Temperature float64
	MaxTokens   int
}

// Response carries the completion text and usage.
type Response struct {
	Content      string
	InputTokens  int
	OutputTokens int
	FinishReason string
}

// Provider is an interface for LLM providers
type Provider interface {
	// CompleteJSON runs a chat completion with response_format=json_object
	CompleteJSON(ctx context.Context, req Request) (*Response, error)

	// IsConfigured returns true if the provider is properly configured
	IsConfigured() bool
}
