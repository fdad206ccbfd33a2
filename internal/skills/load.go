package skills

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// fileExists reports whether path exists and is a regular file (not a
// directory, not a symlink).
func fileExists(path string) bool {
	info, err := os.Lstat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}

const (
	// MaxSkillFileBytes is the size cap on a single SKILL.md file. Larger
	// files are rejected at discovery time.
	MaxSkillFileBytes = 256 << 10

	// MaxDiscoveredSkills caps the number of skills a single discovery
	// source will return, bounding the Behavioral Analyzer's worst-case
	// workload and the eligible-skill index size.
	MaxDiscoveredSkills = 100

	// tokensPerChar approximates token count from character count for the
	// purpose of enforcing a skill's declared context budget. It is not a
	// substitute for a real tokenizer; it only needs to be conservative
	// enough to catch pathologically oversized skill prompts.
	tokensPerChar = 0.75
)

// ComputeContentHash returns "sha256:<hex>" of content, matching the format
// LoadedSkill.content_hash is specified to carry.
func ComputeContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return "sha256:" + hex.EncodeToString(sum[:])
}

// VerifyContentHash reports whether entry.ContentHash matches a freshly
// computed hash of entry.Content. An empty ContentHash counts as mismatched
// so callers can distinguish "unhashed" from "verified".
func VerifyContentHash(entry *SkillEntry) bool {
	if entry.ContentHash == "" {
		return false
	}
	return entry.ContentHash == ComputeContentHash(entry.Content)
}

// CheckTokenBudget rejects prompt content whose approximate token count
// exceeds 2x the skill's declared activation.max_context_tokens. A skill
// with no declared budget (or a budget of 0) is never rejected on this
// basis - MaxSkillFileBytes is the only hard cap in that case.
func CheckTokenBudget(entry *SkillEntry) error {
	if entry.Metadata == nil || entry.Metadata.Activation == nil {
		return nil
	}
	declared := entry.Metadata.Activation.MaxContextTokens
	if declared <= 0 {
		return nil
	}
	approx := int(float64(len(entry.Content)) * tokensPerChar)
	if approx > 2*declared {
		return fmt.Errorf("skill %q prompt is ~%d tokens, exceeding 2x its declared budget of %d", entry.Name, approx, declared)
	}
	return nil
}

// CompileActivationPatterns compiles entry.Metadata.Activation.Patterns into
// entry.CompiledPatterns. A pattern that fails to compile is skipped with
// its error returned as part of a joined error; compilation of the
// remaining patterns continues so one bad pattern doesn't sink the skill.
func CompileActivationPatterns(entry *SkillEntry) error {
	if entry.Metadata == nil || entry.Metadata.Activation == nil {
		return nil
	}
	patterns := entry.Metadata.Activation.Patterns
	if len(patterns) == 0 {
		return nil
	}

	compiled := make([]*regexp.Regexp, 0, len(patterns))
	var errs []string
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%q: %v", p, err))
			continue
		}
		compiled = append(compiled, re)
	}
	entry.CompiledPatterns = compiled
	if len(errs) > 0 {
		return fmt.Errorf("invalid activation patterns: %s", strings.Join(errs, "; "))
	}
	return nil
}

// MatchesActivation reports whether prompt matches any of entry's compiled
// activation patterns. A skill with no patterns always matches (it has no
// content-based gating beyond SkillRequires).
func MatchesActivation(entry *SkillEntry, prompt string) bool {
	if len(entry.CompiledPatterns) == 0 {
		return true
	}
	for _, re := range entry.CompiledPatterns {
		if re.MatchString(prompt) {
			return true
		}
	}
	return false
}

// FinalizeLoad performs the load-time checks spec.md §4.7 describes once a
// skill's frontmatter and content are available: normalizes line endings,
// assigns trust, checks the token budget, computes the content hash, and
// compiles activation patterns. It does not perform gating (SkillRequires)
// or behavioral analysis - those are separate steps in the Manager's load
// sequence.
func FinalizeLoad(entry *SkillEntry) error {
	entry.Content = NormalizeLineEndings(entry.Content)
	if entry.Trust == "" {
		entry.Trust = TrustForSource(entry.Source)
	}
	if err := CheckTokenBudget(entry); err != nil {
		return err
	}
	entry.ContentHash = ComputeContentHash(entry.Content)
	if err := CompileActivationPatterns(entry); err != nil {
		return err
	}
	return nil
}

// NormalizeLineEndings converts CRLF and lone CR line endings to LF.
func NormalizeLineEndings(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return s
}
