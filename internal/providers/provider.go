// Package providers defines the diagnostic provider capability and its
// implementations. Providers turn a confirmed anomaly into a natural-language
// explanation; each call is independently cancellable via its context.
package providers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/driftstack/drift-engine/internal/models"
)

// Provider is the uniform capability every diagnostic backend implements.
// Analyze must honour ctx cancellation and report failures as errors, never
// panic across the boundary.
type Provider interface {
	Name() string
	Analyze(ctx context.Context, detection models.DetectionResult) (string, error)
}

// Options configures one provider instance.
type Options struct {
	Name      string
	Type      string
	Model     string
	BaseURL   string
	APIKey    string
	RulesPath string
}

// Build constructs a provider from its options.
func Build(opts Options, logger *slog.Logger) (Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch strings.ToLower(opts.Type) {
	case "openai":
		return NewOpenAIProvider(opts, logger)
	case "ollama":
		return NewOllamaProvider(opts, logger)
	case "rulepack":
		return NewRulePackProvider(opts, logger)
	default:
		return nil, fmt.Errorf("unknown provider type %q", opts.Type)
	}
}

// BuildAll constructs every configured provider, failing on the first error.
func BuildAll(optsList []Options, logger *slog.Logger) ([]Provider, error) {
	built := make([]Provider, 0, len(optsList))
	seen := make(map[string]struct{}, len(optsList))
	for _, opts := range optsList {
		if opts.Name == "" {
			return nil, fmt.Errorf("provider name is required")
		}
		if _, ok := seen[opts.Name]; ok {
			return nil, fmt.Errorf("duplicate provider name %q", opts.Name)
		}
		seen[opts.Name] = struct{}{}

		provider, err := Build(opts, logger)
		if err != nil {
			return nil, fmt.Errorf("provider %q: %w", opts.Name, err)
		}
		built = append(built, provider)
	}
	return built, nil
}
