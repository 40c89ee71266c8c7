package providers

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/driftstack/drift-engine/internal/models"
)

const testRulePack = `
rules:
  - id: temp-high
    match:
      variable_contains: [temp]
      min_score: 10
    diagnosis:
      - "Check the heater duty cycle."
  - id: pressure-high
    match:
      variable_contains: [pressure]
    diagnosis:
      - "Inspect the relief valve."
  - id: severe
    match:
      min_score: 100
    diagnosis:
      - "Correlate with recent setpoint changes."
`

func writeRulePack(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write rule pack: %v", err)
	}
	return path
}

func detectionWith(score float64, variable string) models.DetectionResult {
	return models.DetectionResult{
		Score:     score,
		Threshold: 6.6,
		Anomalous: true,
		Contributors: []models.VariableContribution{
			{Variable: variable, Value: 99, Score: score / 2},
		},
		EvaluatedAt: time.Now().UTC(),
	}
}

func TestRulePackMatchesVariableAndScore(t *testing.T) {
	provider, err := NewRulePackProvider(Options{
		Name:      "rulepack",
		RulesPath: writeRulePack(t, testRulePack),
	}, testLogger())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	text, err := provider.Analyze(context.Background(), detectionWith(25, "reactor_temp"))
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if !strings.Contains(text, "heater duty cycle") {
		t.Fatalf("expected temp rule to match, got %q", text)
	}
	if strings.Contains(text, "relief valve") {
		t.Fatalf("pressure rule must not match, got %q", text)
	}

	// Below the rule's min_score the temp rule stays silent.
	text, err = provider.Analyze(context.Background(), detectionWith(8, "reactor_temp"))
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if strings.Contains(text, "heater duty cycle") {
		t.Fatalf("temp rule must not match below min_score, got %q", text)
	}
}

func TestRulePackConcatenatesAllMatches(t *testing.T) {
	provider, err := NewRulePackProvider(Options{
		Name:      "rulepack",
		RulesPath: writeRulePack(t, testRulePack),
	}, testLogger())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	text, err := provider.Analyze(context.Background(), detectionWith(150, "inlet_pressure"))
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if !strings.Contains(text, "relief valve") || !strings.Contains(text, "setpoint changes") {
		t.Fatalf("expected both matching rules in output, got %q", text)
	}
}

func TestRulePackFallsBackToGenericDiagnosis(t *testing.T) {
	provider, err := NewRulePackProvider(Options{Name: "rulepack"}, testLogger())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	text, err := provider.Analyze(context.Background(), detectionWith(20, "flow_rate"))
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if !strings.Contains(text, "flow_rate") {
		t.Fatalf("generic diagnosis must name the leading variable, got %q", text)
	}
}

func TestRulePackToleratesMissingFile(t *testing.T) {
	provider, err := NewRulePackProvider(Options{
		Name:      "rulepack",
		RulesPath: filepath.Join(t.TempDir(), "absent.yaml"),
	}, testLogger())
	if err != nil {
		t.Fatalf("expected missing file to be tolerated, got %v", err)
	}
	if provider.Name() != "rulepack" {
		t.Fatalf("unexpected name %q", provider.Name())
	}
}

func TestRulePackRejectsMalformedFile(t *testing.T) {
	if _, err := NewRulePackProvider(Options{
		Name:      "rulepack",
		RulesPath: writeRulePack(t, "rules: [not, a, rule"),
	}, testLogger()); err == nil {
		t.Fatal("expected error for malformed rule pack")
	}
}

func TestRulePackHonoursCancelledContext(t *testing.T) {
	provider, err := NewRulePackProvider(Options{Name: "rulepack"}, testLogger())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := provider.Analyze(ctx, detectionWith(20, "flow_rate")); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
