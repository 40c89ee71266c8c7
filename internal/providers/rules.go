package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/driftstack/drift-engine/internal/models"
)

// RulePackProvider produces deterministic diagnoses from a YAML rule pack.
// It keeps the pipeline useful when no LLM backend is reachable and gives
// tests a provider with predictable output.
type RulePackProvider struct {
	name   string
	rules  []DiagnosisRule
	logger *slog.Logger
}

// DiagnosisRule maps an anomaly signature to canned diagnosis text.
type DiagnosisRule struct {
	ID        string    `yaml:"id"`
	Match     RuleMatch `yaml:"match"`
	Diagnosis []string  `yaml:"diagnosis"`
}

// RuleMatch defines optional attributes a confirmed anomaly must satisfy.
type RuleMatch struct {
	VariableContains []string `yaml:"variable_contains"`
	MinScore         float64  `yaml:"min_score"`
}

type rulePackFile struct {
	Rules []DiagnosisRule `yaml:"rules"`
}

// NewRulePackProvider loads rules from the configured path. A missing file
// yields a provider with no rules, which reports a generic diagnosis.
func NewRulePackProvider(opts Options, logger *slog.Logger) (*RulePackProvider, error) {
	provider := &RulePackProvider{name: opts.Name, logger: logger}
	if opts.RulesPath == "" {
		return provider, nil
	}

	data, err := os.ReadFile(opts.RulesPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Warn("rule pack not found, continuing without rules", slog.String("path", opts.RulesPath))
			return provider, nil
		}
		return nil, fmt.Errorf("read rule pack: %w", err)
	}

	var pack rulePackFile
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return nil, fmt.Errorf("parse rule pack: %w", err)
	}
	provider.rules = pack.Rules
	return provider, nil
}

// Name returns the configured provider name.
func (p *RulePackProvider) Name() string { return p.name }

// Analyze matches the detection against the rule pack and concatenates the
// diagnosis lines of every matching rule.
func (p *RulePackProvider) Analyze(ctx context.Context, detection models.DetectionResult) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	matched := make([]string, 0, 4)
	for _, rule := range p.rules {
		if rule.Match.MinScore > 0 && detection.Score < rule.Match.MinScore {
			continue
		}
		if len(rule.Match.VariableContains) > 0 && !contributorsContain(rule.Match.VariableContains, detection.Contributors) {
			continue
		}
		matched = appendUnique(matched, rule.Diagnosis...)
	}

	if len(matched) == 0 {
		return p.genericDiagnosis(detection), nil
	}
	return strings.Join(matched, "\n"), nil
}

func (p *RulePackProvider) genericDiagnosis(detection models.DetectionResult) string {
	if len(detection.Contributors) == 0 {
		return fmt.Sprintf("Deviation score %.2f exceeded threshold %.2f with no dominant variable; inspect recent operating changes.",
			detection.Score, detection.Threshold)
	}
	top := detection.Contributors[0]
	return fmt.Sprintf("Deviation score %.2f exceeded threshold %.2f, led by %s (contribution %.2f); verify the instrumentation and control loop for %s.",
		detection.Score, detection.Threshold, top.Variable, top.Score, top.Variable)
}

func contributorsContain(keywords []string, contributors []models.VariableContribution) bool {
	for _, c := range contributors {
		variable := strings.ToLower(c.Variable)
		for _, kw := range keywords {
			if kw != "" && strings.Contains(variable, strings.ToLower(kw)) {
				return true
			}
		}
	}
	return false
}

func appendUnique(existing []string, additions ...string) []string {
	seen := make(map[string]struct{}, len(existing))
	for _, line := range existing {
		seen[line] = struct{}{}
	}
	for _, item := range additions {
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		existing = append(existing, item)
		seen[item] = struct{}{}
	}
	return existing
}
