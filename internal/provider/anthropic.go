package provider

import (
	"context"
	"fmt"
	"os"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino/schema"
)

// AnthropicAdapter implements Adapter for Anthropic Claude models.
type AnthropicAdapter struct {
	chatModel model.ToolCallingChatModel
	config    *AnthropicConfig
	spec      modelSpec
}

// AnthropicConfig holds configuration for the Anthropic adapter.
type AnthropicConfig struct {
	// ID is the adapter identifier; defaults to "anthropic".
	ID        string
	APIKey    string
	BaseURL   string
	Model     string // e.g. "claude-sonnet-4-20250514", "claude-3-5-haiku-20241022"
	MaxTokens int

	// Extended thinking support
	Thinking *claude.Thinking

	// Bedrock configuration
	UseBedrock bool
	Region     string
	Profile    string
}

// NewAnthropicAdapter creates a new Anthropic adapter.
func NewAnthropicAdapter(ctx context.Context, config *AnthropicConfig) (*AnthropicAdapter, error) {
	apiKey := config.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}

	if apiKey == "" && !config.UseBedrock {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
	}

	modelID := config.Model
	if modelID == "" {
		modelID = "claude-sonnet-4-20250514"
	}
	spec := anthropicModelSpec(modelID)

	maxTokens := config.MaxTokens
	if maxTokens == 0 {
		maxTokens = spec.maxCompletionTokens
	}

	var chatModel model.ToolCallingChatModel
	var err error

	if config.UseBedrock {
		// AWS Bedrock uses a prefixed model id.
		bedrockModel := "anthropic." + modelID + "-v1:0"
		chatModel, err = claude.NewChatModel(ctx, &claude.Config{
			ByBedrock: true,
			Region:    config.Region,
			Profile:   config.Profile,
			Model:     bedrockModel,
			MaxTokens: maxTokens,
			Thinking:  config.Thinking,
		})
	} else {
		cfg := &claude.Config{
			APIKey:    apiKey,
			Model:     modelID,
			MaxTokens: maxTokens,
			Thinking:  config.Thinking,
		}
		if config.BaseURL != "" {
			cfg.BaseURL = &config.BaseURL
		}
		chatModel, err = claude.NewChatModel(ctx, cfg)
	}

	if err != nil {
		return nil, fmt.Errorf("provider: create Claude model: %w", err)
	}

	return &AnthropicAdapter{
		chatModel: chatModel,
		config:    config,
		spec:      spec,
	}, nil
}

// Name returns the adapter identifier.
func (a *AnthropicAdapter) Name() string {
	if a.config.ID != "" {
		return a.config.ID
	}
	return "anthropic"
}

// DefaultModel returns the configured model id.
func (a *AnthropicAdapter) DefaultModel() string { return a.spec.id }

// ContextWindow returns the default model's input token budget.
func (a *AnthropicAdapter) ContextWindow() int { return a.spec.contextWindow }

// MaxCompletionTokens returns the default model's output ceiling.
func (a *AnthropicAdapter) MaxCompletionTokens() int { return a.spec.maxCompletionTokens }

// CreateResponse starts a streaming completion.
func (a *AnthropicAdapter) CreateResponse(ctx context.Context, req *Request) (*Stream, error) {
	return streamCompletion(ctx, a.chatModel, req)
}

// EstimateTokens implements Adapter with the shared character estimate.
func (a *AnthropicAdapter) EstimateTokens(messages []*schema.Message) int {
	return EstimateTokens(messages)
}

// anthropicModelSpec returns the catalog entry for modelID, defaulting
// to the standard 200k window for ids not listed.
func anthropicModelSpec(modelID string) modelSpec {
	switch modelID {
	case "claude-sonnet-4-20250514":
		return modelSpec{id: modelID, contextWindow: 200000, maxCompletionTokens: 64000}
	case "claude-opus-4-20250514":
		return modelSpec{id: modelID, contextWindow: 200000, maxCompletionTokens: 32000}
	case "claude-3-5-sonnet-20241022",
		"claude-3-5-haiku-20241022",
		"claude-3-haiku-20240307",
		"claude-haiku-4-5-20251001",
		"claude-haiku-4-5":
		return modelSpec{id: modelID, contextWindow: 200000, maxCompletionTokens: 8192}
	default:
		return modelSpec{id: modelID, contextWindow: 200000, maxCompletionTokens: 8192}
	}
}
