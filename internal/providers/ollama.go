package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/driftstack/drift-engine/internal/models"
)

const defaultOllamaModel = "llama3"

// OllamaProvider diagnoses anomalies through a local Ollama instance.
type OllamaProvider struct {
	name       string
	httpClient *http.Client
	baseURL    string
	model      string
	logger     *slog.Logger
}

type ollamaGenerateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	System string `json:"system,omitempty"`
	Stream bool   `json:"stream"`
}

type ollamaGenerateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// NewOllamaProvider constructs an Ollama-backed provider.
func NewOllamaProvider(opts Options, logger *slog.Logger) (*OllamaProvider, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("ollama provider requires a base URL")
	}
	model := opts.Model
	if model == "" {
		model = defaultOllamaModel
		logger.Warn("ollama model not set, using default", slog.String("model", model))
	}

	return &OllamaProvider{
		name: opts.Name,
		// Per-call deadlines come from the dispatcher's context; the client
		// itself carries no timeout so cancellation stays cooperative.
		httpClient: &http.Client{},
		baseURL:    strings.TrimSuffix(opts.BaseURL, "/"),
		model:      model,
		logger:     logger,
	}, nil
}

// Name returns the configured provider name.
func (p *OllamaProvider) Name() string { return p.name }

// Analyze posts the diagnosis prompt to /api/generate and returns the
// non-streamed response text.
func (p *OllamaProvider) Analyze(ctx context.Context, detection models.DetectionResult) (string, error) {
	payload := ollamaGenerateRequest{
		Model:  p.model,
		Prompt: BuildPrompt(detection),
		System: systemPrompt,
		Stream: false,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal ollama request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var parsed ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode ollama response: %w", err)
	}
	if parsed.Response == "" {
		return "", fmt.Errorf("ollama returned empty response")
	}
	return parsed.Response, nil
}
