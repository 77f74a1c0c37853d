// Package provider adapts upstream LLM APIs to the single contract the
// agent drives: a streaming response of token deltas terminated by a
// final assembled message. Adapters are built on the Eino framework's
// chat models.
package provider

import (
	"context"

	"github.com/cloudwego/eino/schema"

	"github.com/obra/lace-sub014/pkg/types"
)

// Adapter is the provider contract. One Adapter wraps one configured
// model on one upstream; the registry holds them by name.
type Adapter interface {
	// Name returns the adapter identifier (e.g. "anthropic").
	Name() string

	// DefaultModel returns the model used when a request names none.
	DefaultModel() string

	// ContextWindow returns the input token budget of the default model.
	ContextWindow() int

	// MaxCompletionTokens returns the output token ceiling of the
	// default model.
	MaxCompletionTokens() int

	// CreateResponse starts a streaming completion. Token deltas arrive
	// on the stream; the terminal response carries the assembled text,
	// tool-call list, and token usage. Cancelling ctx aborts the stream.
	CreateResponse(ctx context.Context, req *Request) (*Stream, error)

	// EstimateTokens estimates the token count of messages, used by the
	// compaction trigger when actual usage records are unavailable.
	EstimateTokens(messages []*schema.Message) int
}

// Request is a completion request.
type Request struct {
	Model       string             `json:"model,omitempty"`
	Messages    []*schema.Message  `json:"messages"`
	Tools       []*schema.ToolInfo `json:"tools,omitempty"`
	MaxTokens   int                `json:"maxTokens,omitempty"`
	Temperature float64            `json:"temperature,omitempty"`
}

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Response is the terminal result of a completion stream.
type Response struct {
	Text         string           `json:"text"`
	ToolCalls    []ToolCall       `json:"toolCalls,omitempty"`
	Usage        types.TokenUsage `json:"usage"`
	FinishReason string           `json:"finishReason,omitempty"`
}

// EstimateTokens approximates token counts at 1 token per 4 characters
// across message content and tool-call arguments.
func EstimateTokens(messages []*schema.Message) int {
	chars := 0
	for _, msg := range messages {
		chars += len(msg.Content)
		chars += len(msg.ReasoningContent)
		for _, tc := range msg.ToolCalls {
			chars += len(tc.Function.Name) + len(tc.Function.Arguments)
		}
	}
	return chars / 4
}
