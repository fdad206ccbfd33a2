package routing

import (
	"regexp"
	"strings"

	"github.com/ironclaw/core/internal/agent"
)

// Tier is a routing decision: which class of model a prompt should be sent
// to, as decided by Score or forced by a `[tier:X]` prefix.
type Tier string

const (
	TierFlash    Tier = "flash"
	TierStandard Tier = "standard"
	TierPro      Tier = "pro"
	TierFrontier Tier = "frontier"
)

// tierOverride matches an explicit "[tier:X]" prefix, case-insensitive,
// that bypasses scoring entirely.
var tierOverride = regexp.MustCompile(`(?i)^\s*\[tier:\s*(flash|standard|pro|frontier)\s*\]`)

// dimension is one of the scorer's 13 weighted regex-driven signals. Weight
// is the dimension's contribution to the raw weighted sum before the
// multi-dimensional boost is applied; trigger reports whether the
// dimension fired for a given prompt (used to count boost-eligible
// dimensions) and its raw 0-100 contribution.
type dimension struct {
	name    string
	weight  float64
	scoreFn func(prompt, lower string, terms []string) float64
}

var (
	reasoningWords    = regexp.MustCompile(`(?i)\b(analyze|reason|think through|derive|prove|why|tradeoff|evaluate|justify|compare)\b`)
	multiStepMarkers  = regexp.MustCompile(`(?i)\b(first|then|next|after that|finally|step \d|steps?:)\b`)
	creativityWords   = regexp.MustCompile(`(?i)\b(write|compose|imagine|invent|story|poem|brainstorm|design)\b`)
	precisionTokens   = regexp.MustCompile(`\b\d+(\.\d+)?\b|[<>]=?|==|!=`)
	codeIndicators    = regexp.MustCompile("(?i)```|\\b(func|class|def|package|import|SELECT|INSERT|UPDATE|DELETE)\\b")
	toolLikelihood    = regexp.MustCompile(`(?i)\b(search|fetch|run|execute|call|invoke|look up|download|upload)\b`)
	safetySensitive   = regexp.MustCompile(`(?i)\b(password|secret|token|credential|exploit|attack|bypass|inject|malware|vulnerability)\b`)
	contextDependency = regexp.MustCompile(`(?i)\b(as (I|we) (said|mentioned)|continuing|earlier|previous(ly)?|recall|like before)\b`)
	vaguePronouns     = regexp.MustCompile(`(?i)\b(it|this|that|these|those|they|them)\b`)
	questionComplexity = regexp.MustCompile(`(?i)\b(how|why|what if|when should|which approach)\b`)
)

// dimensions returns the 13 weighted scoring dimensions, in spec order.
// Weights are tuned so a single strongly-triggering dimension lands near
// the middle of its tier band, while the multi-dimensional boost (applied
// by Score) is what pushes genuinely complex prompts into Pro/Frontier.
func dimensions() []dimension {
	return []dimension{
		{"reasoning_words", 9, func(_, lower string, _ []string) float64 {
			return countScore(reasoningWords.FindAllStringIndex(lower, -1))
		}},
		{"token_estimate", 7, func(prompt, _ string, _ []string) float64 {
			return clamp(float64(approxTokenCount(prompt)) / 3)
		}},
		{"multi_step_markers", 8, func(_, lower string, _ []string) float64 {
			return countScore(multiStepMarkers.FindAllStringIndex(lower, -1))
		}},
		{"creativity", 6, func(_, lower string, _ []string) float64 {
			return countScore(creativityWords.FindAllStringIndex(lower, -1))
		}},
		{"precision_tokens", 5, func(_, lower string, _ []string) float64 {
			return countScore(precisionTokens.FindAllStringIndex(lower, -1))
		}},
		{"code_indicators", 10, func(_, lower string, _ []string) float64 {
			return countScore(codeIndicators.FindAllStringIndex(lower, -1))
		}},
		{"domain_terms", 8, func(_, lower string, terms []string) float64 {
			n := 0
			for _, term := range terms {
				if strings.Contains(lower, strings.ToLower(term)) {
					n++
				}
			}
			return clampCount(n)
		}},
		{"tool_likelihood", 7, func(_, lower string, _ []string) float64 {
			return countScore(toolLikelihood.FindAllStringIndex(lower, -1))
		}},
		{"safety_sensitive", 9, func(_, lower string, _ []string) float64 {
			return countScore(safetySensitive.FindAllStringIndex(lower, -1))
		}},
		{"context_dependency", 6, func(_, lower string, _ []string) float64 {
			return countScore(contextDependency.FindAllStringIndex(lower, -1))
		}},
		{"vague_pronouns", 4, func(_, lower string, _ []string) float64 {
			return countScore(vaguePronouns.FindAllStringIndex(lower, -1))
		}},
		{"question_complexity", 6, func(_, lower string, _ []string) float64 {
			return countScore(questionComplexity.FindAllStringIndex(lower, -1))
		}},
		{"sentence_complexity", 6, func(prompt, _ string, _ []string) float64 {
			return sentenceComplexityScore(prompt)
		}},
	}
}

// countScore converts a count of regex match positions into a 0-100
// dimension contribution: the first match is worth 60, each additional
// match adds 20, capped at 100.
func countScore(matches [][]int) float64 {
	return clampCount(len(matches))
}

func clampCount(n int) float64 {
	if n == 0 {
		return 0
	}
	score := 60 + float64(n-1)*20
	return clamp(score)
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// approxTokenCount estimates a prompt's token count by word count, a
// cheaper proxy than the skill loader's char-count-based estimate since
// this dimension only needs a relative signal, not an absolute budget.
func approxTokenCount(prompt string) int {
	return len(strings.Fields(prompt))
}

// sentenceComplexityScore rewards long sentences and heavy use of
// subordinating punctuation (commas, semicolons) as a proxy for syntactic
// complexity.
func sentenceComplexityScore(prompt string) float64 {
	sentences := splitSentences(prompt)
	if len(sentences) == 0 {
		return 0
	}
	var totalWords int
	var totalClauses int
	for _, s := range sentences {
		totalWords += len(strings.Fields(s))
		totalClauses += strings.Count(s, ",") + strings.Count(s, ";")
	}
	avgWords := float64(totalWords) / float64(len(sentences))
	return clamp(avgWords*2 + float64(totalClauses)*10)
}

func splitSentences(prompt string) []string {
	raw := regexp.MustCompile(`[.!?]+`).Split(prompt, -1)
	var sentences []string
	for _, s := range raw {
		if trimmed := strings.TrimSpace(s); trimmed != "" {
			sentences = append(sentences, trimmed)
		}
	}
	return sentences
}

// ScorerConfig parameterizes Score's tier boundaries and domain vocabulary,
// mirroring internal/config.RouterConfig.
type ScorerConfig struct {
	FlashMax    int
	StandardMax int
	ProMax      int
	DomainTerms []string
}

// DefaultScorerConfig matches internal/config's applyRouterDefaults.
func DefaultScorerConfig() ScorerConfig {
	return ScorerConfig{FlashMax: 15, StandardMax: 40, ProMax: 65, DomainTerms: defaultDomainTerms}
}

// ScoreResult is the outcome of scoring one prompt.
type ScoreResult struct {
	Score      float64
	Tier       Tier
	Overridden bool
	Triggered  int // number of dimensions that scored > 20, pre-boost
}

// Score maps prompt to a 0-100 complexity score and a routing tier.
//
// An explicit "[tier:X]" prefix (case-insensitive, X one of
// flash/standard/pro/frontier) bypasses scoring entirely and is reported
// with Overridden=true.
//
// Otherwise, each of the 13 dimensions contributes weight*dimensionScore/100
// to a weighted sum; if 3 or more dimensions individually scored above 20,
// the sum is multiplied by 1.3; if exactly 2 did, by 1.15. The boosted sum
// is clamped to [0, 100] and mapped to a tier via cfg's boundaries.
func Score(prompt string, cfg ScorerConfig) ScoreResult {
	if cfg.FlashMax <= 0 && cfg.StandardMax <= 0 && cfg.ProMax <= 0 {
		cfg = DefaultScorerConfig()
	}
	terms := cfg.DomainTerms
	if len(terms) == 0 {
		terms = defaultDomainTerms
	}

	if m := tierOverride.FindStringSubmatch(prompt); m != nil {
		tier := Tier(strings.ToLower(m[1]))
		return ScoreResult{Score: tierMidpoint(tier, cfg), Tier: tier, Overridden: true}
	}

	lower := strings.ToLower(prompt)

	var weightedSum, totalWeight float64
	var triggered int
	for _, d := range dimensions() {
		s := d.scoreFn(prompt, lower, terms)
		weightedSum += s * d.weight
		totalWeight += d.weight
		if s > 20 {
			triggered++
		}
	}

	normalized := 0.0
	if totalWeight > 0 {
		normalized = weightedSum / totalWeight
	}

	boost := 1.0
	switch {
	case triggered >= 3:
		boost = 1.3
	case triggered == 2:
		boost = 1.15
	}

	final := clamp(normalized * boost)

	return ScoreResult{Score: final, Tier: tierFor(final, cfg), Overridden: false, Triggered: triggered}
}

func tierFor(score float64, cfg ScorerConfig) Tier {
	switch {
	case score <= float64(cfg.FlashMax):
		return TierFlash
	case score <= float64(cfg.StandardMax):
		return TierStandard
	case score <= float64(cfg.ProMax):
		return TierPro
	default:
		return TierFrontier
	}
}

// ScoreClassifier adapts Score to the Classifier interface so a Router can
// route on tier the same way it routes on HeuristicClassifier's content
// tags: configure a Rule per tier matching Match{Tags: []string{"tier:pro"}}
// and so on.
type ScoreClassifier struct {
	Config ScorerConfig
}

// Classify scores the request's last user message and returns a single
// "tier:<tier>" tag.
func (c *ScoreClassifier) Classify(req *agent.CompletionRequest) []string {
	prompt := lastUserContent(req)
	result := Score(prompt, c.Config)
	return []string{"tier:" + string(result.Tier)}
}

// tierMidpoint reports a representative score for an overridden tier, so
// ScoreResult.Score is always populated even on override.
func tierMidpoint(tier Tier, cfg ScorerConfig) float64 {
	switch tier {
	case TierFlash:
		return float64(cfg.FlashMax) / 2
	case TierStandard:
		return (float64(cfg.FlashMax) + float64(cfg.StandardMax)) / 2
	case TierPro:
		return (float64(cfg.StandardMax) + float64(cfg.ProMax)) / 2
	default:
		return float64(cfg.ProMax) + (100-float64(cfg.ProMax))/2
	}
}
