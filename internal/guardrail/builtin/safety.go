// Package builtin provides the guardrail implementations shipped with
// the engine: safety, relevance, off-topic, PII, profanity, spam, and
// length checks. Pattern lists are deliberately swappable data; the
// defaults here cover the common cases.
package builtin

import (
	"context"
	"regexp"

	"github.com/querygate/querygate/internal/guardrail"
)

// Safety tier pattern sets, evaluated in fixed priority. Self-harm and
// threats block at critical severity; illegal activity blocks at high
// severity and can be toggled off per persona.
var (
	selfHarmPatterns = compileAll([]string{
		`(?i)\b(kill(ing)?\s+myself|end\s+my\s+life|su[i1]cide)\b`,
		`(?i)\b(hurt(ing)?\s+myself|self[\s-]?harm|cut(ting)?\s+myself)\b`,
		`(?i)\bwant\s+to\s+die\b`,
	})
	violencePatterns = compileAll([]string{
		`(?i)\b(kill|murder|hurt|attack)\s+(him|her|them|you|someone|people)\b`,
		`(?i)\bhow\s+to\s+(make|build)\s+(a\s+)?(bomb|weapon|explosive)\b`,
		`(?i)\b(shoot|stab|poison)\s+(up\s+)?(a\s+)?(school|person|someone)\b`,
	})
	illegalPatterns = compileAll([]string{
		`(?i)\bhow\s+to\s+(steal|shoplift|pickpocket)\b`,
		`(?i)\b(launder(ing)?\s+money|money\s+launder)\b`,
		`(?i)\b(buy|sell|make)\s+(illegal\s+)?(drugs|narcotics|meth|cocaine)\b`,
		`(?i)\bhack\s+into\s+(someone|a|an|the)\b`,
		`(?i)\b(counterfeit|forge)\s+(money|currency|documents|id)\b`,
	})
)

// SafetyConfig tunes the safety guardrail construction.
type SafetyConfig struct {
	// ExtraPatterns are appended to every tier's defaults.
	ExtraPatterns []string
}

// Safety blocks self-harm, violent, and illegal-activity queries. It is
// the only guardrail whose runtime failure fails closed.
type Safety struct {
	name     string
	selfHarm []*regexp.Regexp
	violence []*regexp.Regexp
	illegal  []*regexp.Regexp
}

// NewSafety creates the safety guardrail.
func NewSafety(cfg SafetyConfig) (*Safety, error) {
	extra, err := compileChecked(cfg.ExtraPatterns)
	if err != nil {
		return nil, err
	}
	return &Safety{
		name:     "safety",
		selfHarm: selfHarmPatterns,
		violence: violencePatterns,
		illegal:  append(illegalPatterns, extra...),
	}, nil
}

func (s *Safety) Name() string                 { return s.name }
func (s *Safety) Category() guardrail.Category { return guardrail.CategorySafety }

// Check evaluates the three tiers in priority order and returns on the
// first match.
func (s *Safety) Check(ctx context.Context, in guardrail.CheckContext, cfg guardrail.Config) (guardrail.Result, error) {
	if matchAny(s.selfHarm, in.Query) {
		msg := cfg.String("self_harm_message",
			"I'm not able to help with that, but you deserve support. Please reach out to a crisis line or someone you trust.")
		return guardrail.BlockResult(guardrail.CategorySafety, guardrail.SeverityCritical, msg).
			WithMeta("tier", "self_harm"), nil
	}

	if matchAny(s.violence, in.Query) {
		msg := cfg.String("violence_message",
			"I can't help with requests involving violence or threats.")
		return guardrail.BlockResult(guardrail.CategorySafety, guardrail.SeverityCritical, msg).
			WithMeta("tier", "violence"), nil
	}

	if cfg.Bool("block_illegal", true) && matchAny(s.illegal, in.Query) {
		msg := cfg.String("illegal_message",
			"I can't help with requests involving illegal activity.")
		return guardrail.BlockResult(guardrail.CategorySafety, guardrail.SeverityHigh, msg).
			WithMeta("tier", "illegal"), nil
	}

	return guardrail.AllowResult(guardrail.CategorySafety), nil
}
