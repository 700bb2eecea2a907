package builtin

import (
	"context"
	"regexp"
	"strings"

	"github.com/querygate/querygate/internal/guardrail"
)

// defaultContextKeywords mark a query as product-relevant. When any of
// these appear the guardrail allows immediately, so domain phrasing
// always wins over a superficially matching off-topic pattern.
var defaultContextKeywords = []string{
	"account", "order", "subscription", "billing", "invoice",
	"product", "service", "support", "plan", "refund", "shipping",
	"password", "login", "settings",
}

var defaultOffTopicPatterns = compileAll([]string{
	`(?i)\b(weather|forecast|temperature)\s+(today|tomorrow|in)\b`,
	`(?i)\b(sports?\s+scores?|game\s+last\s+night|who\s+won\s+the)\b`,
	`(?i)\b(celebrity|celebrities|gossip|horoscope|lottery\s+numbers)\b`,
	`(?i)\b(write|compose)\s+(me\s+)?(a\s+)?(poem|song|rap|story)\b`,
	`(?i)\bwho\s+should\s+i\s+vote\s+for\b`,
})

// OffTopicConfig tunes construction-time pattern and keyword lists.
type OffTopicConfig struct {
	ContextKeywords []string
	Patterns        []string
}

// OffTopic rejects queries that match known off-topic phrasings unless
// product-context keywords redeem them first.
type OffTopic struct {
	name     string
	keywords []string
	patterns []*regexp.Regexp
}

// NewOffTopic creates the off-topic guardrail with defaults filled in.
func NewOffTopic(cfg OffTopicConfig) (*OffTopic, error) {
	keywords := cfg.ContextKeywords
	if len(keywords) == 0 {
		keywords = defaultContextKeywords
	}
	patterns := defaultOffTopicPatterns
	if len(cfg.Patterns) > 0 {
		compiled, err := compileChecked(cfg.Patterns)
		if err != nil {
			return nil, err
		}
		patterns = compiled
	}
	return &OffTopic{name: "off_topic", keywords: keywords, patterns: patterns}, nil
}

func (o *OffTopic) Name() string                 { return o.name }
func (o *OffTopic) Category() guardrail.Category { return guardrail.CategoryOffTopic }

func (o *OffTopic) Check(ctx context.Context, in guardrail.CheckContext, cfg guardrail.Config) (guardrail.Result, error) {
	lower := strings.ToLower(in.Query)

	keywords := o.keywords
	if override := cfg.Strings("context_keywords"); len(override) > 0 {
		keywords = override
	}
	for _, kw := range keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return guardrail.AllowResult(guardrail.CategoryOffTopic).
				WithMeta("context_keyword", kw), nil
		}
	}

	for _, re := range o.patterns {
		if re.MatchString(in.Query) {
			msg := cfg.String("message",
				"That looks outside what I can help with here. Try asking about our products or services.")
			return guardrail.BlockResult(guardrail.CategoryOffTopic, guardrail.SeverityMedium, msg).
				WithMeta("pattern", re.String()), nil
		}
	}

	return guardrail.AllowResult(guardrail.CategoryOffTopic), nil
}
