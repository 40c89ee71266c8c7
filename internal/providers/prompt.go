package providers

import (
	"fmt"
	"strings"

	"github.com/driftstack/drift-engine/internal/models"
)

const systemPrompt = "You are a process engineer diagnosing faults in an " +
	"industrial plant from statistical telemetry deviations. Be concise and " +
	"concrete: name the most plausible physical causes and what to check first."

// BuildPrompt renders a confirmed anomaly into the diagnosis prompt shared by
// all text-generating providers.
func BuildPrompt(detection models.DetectionResult) string {
	var b strings.Builder

	fmt.Fprintf(&b, "A monitored process drifted outside its normal operating envelope.\n")
	fmt.Fprintf(&b, "Deviation score: %.2f (threshold %.2f).\n", detection.Score, detection.Threshold)

	if len(detection.Contributors) > 0 {
		b.WriteString("Variables ranked by contribution to the deviation:\n")
		for i, c := range detection.Contributors {
			fmt.Fprintf(&b, "%d. %s = %.4f (contribution %.2f)\n", i+1, c.Variable, c.Value, c.Score)
		}
	}

	if window := detection.Window; window != nil && window.Size() > 0 && len(detection.Contributors) > 0 {
		top := detection.Contributors[0].Variable
		b.WriteString(fmt.Sprintf("Recent trajectory of %s across the window:", top))
		for _, sample := range window.Samples {
			fmt.Fprintf(&b, " %.3f", sample.Values[top])
		}
		b.WriteString("\n")
	}

	b.WriteString("Explain the most likely root cause and suggest immediate checks.")
	return b.String()
}
