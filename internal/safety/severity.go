// Package safety implements the sanitizer, leak detector, and webhook
// signature verification that together police content crossing a trust
// boundary: inbound user content before it reaches the agentic loop,
// outbound tool/LLM content before it reaches a user or transcript, and
// inbound webhook deliveries before their payload is trusted at all.
package safety

// Severity classifies how dangerous a matched pattern is, shared by the
// Sanitizer's injection patterns and the LeakDetector's secret patterns.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// rank orders severities for comparison (e.g. "is this at least High").
func (s Severity) rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// AtLeast reports whether s is at least as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return s.rank() >= other.rank()
}
