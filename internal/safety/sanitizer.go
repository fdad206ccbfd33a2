package safety

import "regexp"

// InjectionPattern is one recognized prompt-injection pattern, with a
// severity that decides how the Sanitizer responds to a match.
type InjectionPattern struct {
	Name     string
	Severity Severity
	Regex    *regexp.Regexp
	// Replacement is substituted for a match when Severity is below
	// Critical, neutralizing the pattern in place rather than rejecting
	// the whole content.
	Replacement string
}

// defaultInjectionPatterns is the built-in pattern table. Critical entries
// cause outright rejection; Low/Medium/High entries are neutralized in
// place and the content is returned modified.
var defaultInjectionPatterns = []InjectionPattern{
	{
		Name:        "ignore_previous_instructions",
		Severity:    SeverityCritical,
		Regex:       regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+instructions`),
		Replacement: "",
	},
	{
		Name:        "system_prompt_override",
		Severity:    SeverityCritical,
		Regex:       regexp.MustCompile(`(?i)you\s+are\s+now\s+(a|an)\s+\w+.{0,40}(with\s+no\s+restrictions|unfiltered|jailbroken)`),
		Replacement: "",
	},
	{
		Name:        "role_reassignment",
		Severity:    SeverityHigh,
		Regex:       regexp.MustCompile(`(?i)\bact\s+as\s+(if\s+you\s+(are|were)|a)\s+(dan|developer\s+mode|unrestricted)\b`),
		Replacement: "[neutralized: role reassignment attempt]",
	},
	{
		Name:        "fake_system_tag",
		Severity:    SeverityHigh,
		Regex:       regexp.MustCompile(`(?i)<\s*/?\s*(system|assistant)\s*>`),
		Replacement: "[neutralized: fake role tag]",
	},
	{
		Name:        "delimiter_escape",
		Severity:    SeverityMedium,
		Regex:       regexp.MustCompile("```+\\s*(system|end\\s*of\\s*prompt)"),
		Replacement: "[neutralized: delimiter escape]",
	},
	{
		Name:        "reveal_instructions",
		Severity:    SeverityLow,
		Regex:       regexp.MustCompile(`(?i)\b(repeat|print|reveal|show)\s+(your\s+)?(system\s+prompt|instructions)\b`),
		Replacement: "[neutralized: instruction disclosure request]",
	},
}

// Sanitizer scans content for injection patterns before it crosses a trust
// boundary (inbound user content before the agentic loop sees it, outbound
// tool output before it reaches a transcript).
type Sanitizer struct {
	patterns []InjectionPattern
}

// NewSanitizer creates a Sanitizer. A nil/empty patterns slice falls back
// to the built-in table.
func NewSanitizer(patterns []InjectionPattern) *Sanitizer {
	if len(patterns) == 0 {
		patterns = defaultInjectionPatterns
	}
	return &Sanitizer{patterns: patterns}
}

// RejectedError is returned when content matches a Critical-severity
// pattern and must not be processed at all.
type RejectedError struct {
	Pattern string
}

func (e *RejectedError) Error() string {
	return "content rejected: matched critical injection pattern " + e.Pattern
}

// ScanResult is the outcome of a Sanitize call.
type ScanResult struct {
	Content      string
	WasModified  bool
	MatchedNames []string
}

// Sanitize scans content against every configured pattern, in table order.
// A Critical match returns (nil, *RejectedError) immediately, content
// unexamined for any remaining patterns. Lower-severity matches neutralize
// the match in place (replacing it with the pattern's Replacement text) and
// continue scanning with the modified content, so a later pattern can still
// match a fragment a replacement introduced only coincidentally — matches
// are found against the content as it stood before this call, not
// recomputed per substitution, so this is a single pass, not a fixed point.
func (s *Sanitizer) Sanitize(content string) (*ScanResult, error) {
	result := &ScanResult{Content: content}

	for _, p := range s.patterns {
		if !p.Regex.MatchString(result.Content) {
			continue
		}
		if p.Severity == SeverityCritical {
			return nil, &RejectedError{Pattern: p.Name}
		}
		replaced := p.Regex.ReplaceAllString(result.Content, p.Replacement)
		if replaced != result.Content {
			result.Content = replaced
			result.WasModified = true
			result.MatchedNames = append(result.MatchedNames, p.Name)
		}
	}

	return result, nil
}
