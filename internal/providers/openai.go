package providers

import (
	"context"
	"fmt"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"

	"github.com/driftstack/drift-engine/internal/models"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAIProvider diagnoses anomalies through the OpenAI chat completion API.
type OpenAIProvider struct {
	name   string
	client *openai.Client
	model  string
	logger *slog.Logger
}

// NewOpenAIProvider constructs an OpenAI-backed provider. An API key is
// required; BaseURL may point at any OpenAI-compatible endpoint.
func NewOpenAIProvider(opts Options, logger *slog.Logger) (*OpenAIProvider, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("openai provider requires an API key")
	}
	model := opts.Model
	if model == "" {
		model = defaultOpenAIModel
		logger.Warn("openai model not set, using default", slog.String("model", model))
	}

	clientCfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		clientCfg.BaseURL = opts.BaseURL
	}

	return &OpenAIProvider{
		name:   opts.Name,
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
		logger: logger,
	}, nil
}

// Name returns the configured provider name.
func (p *OpenAIProvider) Name() string { return p.name }

// Analyze sends the diagnosis prompt and returns the first completion choice.
func (p *OpenAIProvider) Analyze(ctx context.Context, detection models.DetectionResult) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: BuildPrompt(detection)},
		},
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
