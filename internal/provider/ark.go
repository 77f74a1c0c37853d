package provider

import (
	"context"
	"fmt"
	"os"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/schema"
)

// ArkAdapter implements Adapter for Volcengine ARK-hosted models.
type ArkAdapter struct {
	chatModel model.ToolCallingChatModel
	config    *ArkConfig
	spec      modelSpec
}

// ArkConfig holds configuration for the ARK adapter. ARK endpoints name
// models by deployment id, so Model is mandatory (no catalog default).
type ArkConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
}

// NewArkAdapter creates a new ARK adapter.
func NewArkAdapter(ctx context.Context, config *ArkConfig) (*ArkAdapter, error) {
	apiKey := config.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ARK_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("ARK_API_KEY not set")
	}

	modelID := config.Model
	if modelID == "" {
		modelID = os.Getenv("ARK_MODEL_ID")
	}
	if modelID == "" {
		return nil, fmt.Errorf("ARK_MODEL_ID not set")
	}

	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = os.Getenv("ARK_BASE_URL")
	}

	maxTokens := config.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	cfg := &ark.ChatModelConfig{
		APIKey:    apiKey,
		Model:     modelID,
		MaxTokens: &maxTokens,
	}
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	chatModel, err := ark.NewChatModel(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("provider: create ARK model: %w", err)
	}

	return &ArkAdapter{
		chatModel: chatModel,
		config:    config,
		spec:      modelSpec{id: modelID, contextWindow: 128000, maxCompletionTokens: maxTokens},
	}, nil
}

// Name returns the adapter identifier.
func (a *ArkAdapter) Name() string { return "ark" }

// DefaultModel returns the configured deployment id.
func (a *ArkAdapter) DefaultModel() string { return a.spec.id }

// ContextWindow returns the default model's input token budget.
func (a *ArkAdapter) ContextWindow() int { return a.spec.contextWindow }

// MaxCompletionTokens returns the default model's output ceiling.
func (a *ArkAdapter) MaxCompletionTokens() int { return a.spec.maxCompletionTokens }

// CreateResponse starts a streaming completion.
func (a *ArkAdapter) CreateResponse(ctx context.Context, req *Request) (*Stream, error) {
	return streamCompletion(ctx, a.chatModel, req)
}

// EstimateTokens implements Adapter with the shared character estimate.
func (a *ArkAdapter) EstimateTokens(messages []*schema.Message) int {
	return EstimateTokens(messages)
}
