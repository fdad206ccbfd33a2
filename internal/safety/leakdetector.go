package safety

import (
	"net/http"
	"regexp"
)

// LeakAction decides what a LeakDetector does when a secret pattern
// matches.
type LeakAction string

const (
	ActionBlock  LeakAction = "block"
	ActionRedact LeakAction = "redact"
	ActionWarn   LeakAction = "warn"
)

// SecretPattern is one recognized secret/credential format.
type SecretPattern struct {
	Name     string
	Severity Severity
	Action   LeakAction
	Regex    *regexp.Regexp
}

// defaultSecretPatterns mirrors common provider key formats. Matching here
// is deliberately conservative (narrow, anchored prefixes) to keep false
// positives low in Warn-tier content like logs.
var defaultSecretPatterns = []SecretPattern{
	{
		Name:     "openai_api_key",
		Severity: SeverityCritical,
		Action:   ActionBlock,
		Regex:    regexp.MustCompile(`\bsk-[A-Za-z0-9]{20,}\b`),
	},
	{
		Name:     "anthropic_api_key",
		Severity: SeverityCritical,
		Action:   ActionBlock,
		Regex:    regexp.MustCompile(`\bsk-ant-[A-Za-z0-9_-]{20,}\b`),
	},
	{
		Name:     "aws_access_key_id",
		Severity: SeverityCritical,
		Action:   ActionBlock,
		Regex:    regexp.MustCompile(`\b(AKIA|ASIA)[A-Z0-9]{16}\b`),
	},
	{
		Name:     "github_token",
		Severity: SeverityHigh,
		Action:   ActionRedact,
		Regex:    regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{20,}\b`),
	},
	{
		Name:     "slack_token",
		Severity: SeverityHigh,
		Action:   ActionRedact,
		Regex:    regexp.MustCompile(`\bxox[baprs]-[A-Za-z0-9-]{10,}\b`),
	},
	{
		Name:     "private_key_block",
		Severity: SeverityCritical,
		Action:   ActionBlock,
		Regex:    regexp.MustCompile(`-----BEGIN (RSA |EC |OPENSSH )?PRIVATE KEY-----`),
	},
	{
		Name:     "generic_bearer_token",
		Severity: SeverityMedium,
		Action:   ActionWarn,
		Regex:    regexp.MustCompile(`(?i)\bBearer\s+[A-Za-z0-9._-]{20,}\b`),
	},
}

const redactedPlaceholder = "[REDACTED]"

// LeakDetector scans outbound content and structured HTTP requests for
// secret patterns, acting per-pattern according to its configured Action.
type LeakDetector struct {
	patterns []SecretPattern
}

// NewLeakDetector creates a LeakDetector. A nil/empty patterns slice falls
// back to the built-in table.
func NewLeakDetector(patterns []SecretPattern) *LeakDetector {
	if len(patterns) == 0 {
		patterns = defaultSecretPatterns
	}
	return &LeakDetector{patterns: patterns}
}

// BlockedError is returned when content matches a pattern whose Action is
// Block.
type BlockedError struct {
	Pattern string
}

func (e *BlockedError) Error() string {
	return "content blocked: matched secret pattern " + e.Pattern
}

// ScanStringResult is the outcome of scanning a plain string.
type ScanStringResult struct {
	Content      string
	WasModified  bool
	MatchedNames []string
}

// ScanString scans content against every configured secret pattern, in
// table order. The first Block match aborts with a *BlockedError; Redact
// matches replace the matched text with a placeholder and continue; Warn
// matches are recorded in MatchedNames but leave content untouched.
func (d *LeakDetector) ScanString(content string) (*ScanStringResult, error) {
	result := &ScanStringResult{Content: content}

	for _, p := range d.patterns {
		matches := p.Regex.FindAllString(result.Content, -1)
		if len(matches) == 0 {
			continue
		}
		switch p.Action {
		case ActionBlock:
			return nil, &BlockedError{Pattern: p.Name}
		case ActionRedact:
			result.Content = p.Regex.ReplaceAllString(result.Content, redactedPlaceholder)
			result.WasModified = true
			result.MatchedNames = append(result.MatchedNames, p.Name)
		case ActionWarn:
			result.MatchedNames = append(result.MatchedNames, p.Name)
		}
	}

	return result, nil
}

// ShouldBlock reports whether content matches any pattern whose Action is
// Block, without mutating content or requiring a full scan result. This is
// the single-bit check the WASM host shim uses before letting a guest's
// HTTP response reach the tool's output.
func (d *LeakDetector) ShouldBlock(content string) bool {
	for _, p := range d.patterns {
		if p.Action == ActionBlock && p.Regex.MatchString(content) {
			return true
		}
	}
	return false
}

// HTTPRequestScanResult is the outcome of scanning a structured HTTP
// request's URL, headers, and body.
type HTTPRequestScanResult struct {
	URL          string
	Header       http.Header
	Body         string
	WasModified  bool
	MatchedNames []string
}

// ScanHTTPRequest scans an HTTP request's URL, every header value, and the
// body for secret patterns, applying the same per-pattern action semantics
// as ScanString to each part independently. A Block match in any part
// aborts the whole scan.
func (d *LeakDetector) ScanHTTPRequest(url string, header http.Header, body string) (*HTTPRequestScanResult, error) {
	result := &HTTPRequestScanResult{URL: url, Header: header.Clone(), Body: body}

	scannedURL, err := d.ScanString(result.URL)
	if err != nil {
		return nil, err
	}
	if scannedURL.WasModified {
		result.URL = scannedURL.Content
		result.WasModified = true
	}
	result.MatchedNames = append(result.MatchedNames, scannedURL.MatchedNames...)

	for key, values := range result.Header {
		for i, v := range values {
			scanned, err := d.ScanString(v)
			if err != nil {
				return nil, err
			}
			if scanned.WasModified {
				result.Header[key][i] = scanned.Content
				result.WasModified = true
			}
			result.MatchedNames = append(result.MatchedNames, scanned.MatchedNames...)
		}
	}

	scannedBody, err := d.ScanString(result.Body)
	if err != nil {
		return nil, err
	}
	if scannedBody.WasModified {
		result.Body = scannedBody.Content
		result.WasModified = true
	}
	result.MatchedNames = append(result.MatchedNames, scannedBody.MatchedNames...)

	return result, nil
}
