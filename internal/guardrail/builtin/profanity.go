package builtin

import (
	"context"
	"regexp"
	"strings"

	"github.com/querygate/querygate/internal/guardrail"
)

// defaultProfanityWords is the shipped deny list. It is data, not
// engineering: deployments replace it wholesale via ProfanityConfig.
var defaultProfanityWords = []string{
	"fuck", "shit", "asshole", "bitch", "bastard", "dickhead", "cunt",
}

// ProfanityConfig overrides the word list at construction time.
type ProfanityConfig struct {
	Words []string
}

// Profanity blocks queries containing deny-listed words, matched on
// word boundaries so substrings inside clean words do not trigger.
type Profanity struct {
	name    string
	matcher *regexp.Regexp
}

// NewProfanity creates the profanity guardrail.
func NewProfanity(cfg ProfanityConfig) *Profanity {
	words := cfg.Words
	if len(words) == 0 {
		words = defaultProfanityWords
	}
	escaped := make([]string, 0, len(words))
	for _, w := range words {
		escaped = append(escaped, regexp.QuoteMeta(w))
	}
	matcher := regexp.MustCompile(`(?i)\b(` + strings.Join(escaped, "|") + `)\b`)
	return &Profanity{name: "profanity", matcher: matcher}
}

func (p *Profanity) Name() string                 { return p.name }
func (p *Profanity) Category() guardrail.Category { return guardrail.CategoryProfanity }

func (p *Profanity) Check(ctx context.Context, in guardrail.CheckContext, cfg guardrail.Config) (guardrail.Result, error) {
	if match := p.matcher.FindString(in.Query); match != "" {
		msg := cfg.String("message", "Please rephrase your question without profanity.")
		return guardrail.BlockResult(guardrail.CategoryProfanity, guardrail.SeverityMedium, msg).
			WithMeta("matched", strings.ToLower(match)), nil
	}
	return guardrail.AllowResult(guardrail.CategoryProfanity), nil
}
