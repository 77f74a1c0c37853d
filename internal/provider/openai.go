package provider

import (
	"context"
	"fmt"
	"os"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/schema"
)

// OpenAIAdapter implements Adapter for OpenAI and OpenAI-compatible
// upstreams (a custom BaseURL covers local models and proxies).
type OpenAIAdapter struct {
	chatModel model.ToolCallingChatModel
	config    *OpenAIConfig
	spec      modelSpec
}

// OpenAIConfig holds configuration for the OpenAI adapter.
type OpenAIConfig struct {
	// ID is the adapter identifier (e.g. "openai", "qwen", "ollama");
	// defaults to "openai".
	ID        string
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int

	// Azure configuration
	UseAzure   bool
	APIVersion string
}

// NewOpenAIAdapter creates a new OpenAI adapter.
func NewOpenAIAdapter(ctx context.Context, config *OpenAIConfig) (*OpenAIAdapter, error) {
	apiKey := config.APIKey
	if apiKey == "" {
		if config.UseAzure {
			apiKey = os.Getenv("AZURE_OPENAI_API_KEY")
		} else {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
	}

	if apiKey == "" && config.BaseURL == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}

	modelID := config.Model
	if modelID == "" {
		modelID = os.Getenv("OPENAI_MODEL_ID")
	}
	if modelID == "" {
		modelID = "gpt-4o"
	}
	spec := openAIModelSpec(modelID)

	maxTokens := config.MaxTokens
	if maxTokens == 0 {
		maxTokens = spec.maxCompletionTokens
	}

	cfg := &openai.ChatModelConfig{
		APIKey: apiKey,
		Model:  modelID,
		// MaxCompletionTokens rather than MaxTokens for GPT-5 compatibility.
		MaxCompletionTokens: &maxTokens,
	}

	if config.BaseURL != "" {
		cfg.BaseURL = config.BaseURL
	}

	if config.UseAzure {
		cfg.ByAzure = true
		if config.APIVersion != "" {
			cfg.APIVersion = config.APIVersion
		} else {
			cfg.APIVersion = "2024-02-15-preview"
		}
	}

	chatModel, err := openai.NewChatModel(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("provider: create OpenAI model: %w", err)
	}

	return &OpenAIAdapter{
		chatModel: chatModel,
		config:    config,
		spec:      spec,
	}, nil
}

// Name returns the adapter identifier.
func (a *OpenAIAdapter) Name() string {
	if a.config.ID != "" {
		return a.config.ID
	}
	return "openai"
}

// DefaultModel returns the configured model id.
func (a *OpenAIAdapter) DefaultModel() string { return a.spec.id }

// ContextWindow returns the default model's input token budget.
func (a *OpenAIAdapter) ContextWindow() int { return a.spec.contextWindow }

// MaxCompletionTokens returns the default model's output ceiling.
func (a *OpenAIAdapter) MaxCompletionTokens() int { return a.spec.maxCompletionTokens }

// CreateResponse starts a streaming completion.
func (a *OpenAIAdapter) CreateResponse(ctx context.Context, req *Request) (*Stream, error) {
	return streamCompletion(ctx, a.chatModel, req)
}

// EstimateTokens implements Adapter with the shared character estimate.
func (a *OpenAIAdapter) EstimateTokens(messages []*schema.Message) int {
	return EstimateTokens(messages)
}

func openAIModelSpec(modelID string) modelSpec {
	switch modelID {
	case "gpt-4o", "gpt-4o-mini":
		return modelSpec{id: modelID, contextWindow: 128000, maxCompletionTokens: 16384}
	case "gpt-4-turbo":
		return modelSpec{id: modelID, contextWindow: 128000, maxCompletionTokens: 4096}
	case "o3", "o4-mini":
		return modelSpec{id: modelID, contextWindow: 200000, maxCompletionTokens: 100000}
	default:
		return modelSpec{id: modelID, contextWindow: 128000, maxCompletionTokens: 4096}
	}
}
