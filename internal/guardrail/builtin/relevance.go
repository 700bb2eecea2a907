package builtin

import (
	"context"
	"regexp"
	"strings"

	"github.com/querygate/querygate/internal/guardrail"
)

const (
	defaultMinScore = 0.2
	defaultMinRatio = 0.2
)

// stopWords are dropped during query tokenization; a query that is
// nothing but stop-words carries no signal to match snippets against.
var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "but": {}, "by": {}, "can": {}, "could": {}, "do": {},
	"does": {}, "for": {}, "from": {}, "has": {}, "have": {}, "how": {},
	"i": {}, "in": {}, "is": {}, "it": {}, "me": {}, "my": {}, "of": {},
	"on": {}, "or": {}, "please": {}, "so": {}, "tell": {}, "that": {},
	"the": {}, "them": {}, "this": {}, "to": {}, "us": {}, "was": {},
	"we": {}, "what": {}, "when": {}, "where": {}, "which": {},
	"who": {}, "why": {}, "will": {}, "with": {}, "would": {}, "you": {},
	"your": {},
}

// fallbackSnippetPatterns recognize generic "nothing found" snippets a
// retriever may emit instead of real matches.
var fallbackSnippetPatterns = compileAll([]string{
	`(?i)^\s*(sorry|apologies)[,.]?\s`,
	`(?i)\bno\s+(relevant\s+)?(information|results?|documents?)\s+(found|available)\b`,
	`(?i)\bi\s+(don'?t|do\s+not)\s+(know|have\s+information)\b`,
	`(?i)\bunable\s+to\s+(find|locate|answer)\b`,
	`(?i)\bplease\s+contact\s+support\b`,
})

var tokenSplit = regexp.MustCompile(`[^a-z0-9]+`)

// Relevance rejects an answer attempt when none of the retrieved
// snippets plausibly relate to the query, so the assistant does not
// answer confidently from irrelevant context. Callers populate
// CheckContext.Snippets after retrieval has run.
type Relevance struct {
	name string
}

// NewRelevance creates the relevance guardrail.
func NewRelevance() *Relevance {
	return &Relevance{name: "relevance"}
}

func (r *Relevance) Name() string                 { return r.name }
func (r *Relevance) Category() guardrail.Category { return guardrail.CategoryRelevance }

func (r *Relevance) Check(ctx context.Context, in guardrail.CheckContext, cfg guardrail.Config) (guardrail.Result, error) {
	minScore := cfg.Float("min_score", defaultMinScore)
	minRatio := cfg.Float("min_ratio", defaultMinRatio)

	tokens := meaningfulTokens(in.Query)
	if len(tokens) == 0 {
		msg := cfg.String("empty_message", "I couldn't find anything specific in your question to look up. Could you rephrase it?")
		return guardrail.BlockResult(guardrail.CategoryRelevance, guardrail.SeverityLow, msg).
			WithMeta("check", "no_meaningful_tokens"), nil
	}

	if len(in.Snippets) == 0 {
		msg := cfg.String("low_relevance_message", "I couldn't find information related to your question.")
		return guardrail.BlockResult(guardrail.CategoryRelevance, guardrail.SeverityLow, msg).
			WithMeta("check", "no_snippets"), nil
	}

	// If the retriever scored everything and every score is poor, the
	// retrieval plainly missed; no need to inspect text.
	if allScoresBelow(in.Snippets, minScore) {
		msg := cfg.String("low_relevance_message", "I couldn't find information related to your question.")
		return guardrail.BlockResult(guardrail.CategoryRelevance, guardrail.SeverityLow, msg).
			WithMeta("check", "all_scores_low"), nil
	}

	ratios := make([]float64, len(in.Snippets))
	allFallback := true
	anyFallbackClears := false
	for i, sn := range in.Snippets {
		ratios[i] = relevanceRatio(tokens, sn.Text)
		if isFallbackSnippet(sn.Text) {
			if ratios[i] >= minRatio {
				anyFallbackClears = true
			}
		} else {
			allFallback = false
		}
	}
	if allFallback && !anyFallbackClears {
		msg := cfg.String("low_relevance_message", "I couldn't find information related to your question.")
		return guardrail.BlockResult(guardrail.CategoryRelevance, guardrail.SeverityLow, msg).
			WithMeta("check", "fallback_snippets_only"), nil
	}

	for i, sn := range in.Snippets {
		if ratios[i] >= minRatio {
			return guardrail.AllowResult(guardrail.CategoryRelevance).
				WithMeta("matched_snippet", i), nil
		}
		if sn.Score != nil && *sn.Score >= minScore {
			return guardrail.AllowResult(guardrail.CategoryRelevance).
				WithMeta("matched_snippet", i), nil
		}
	}

	msg := cfg.String("low_relevance_message", "I couldn't find information related to your question.")
	return guardrail.BlockResult(guardrail.CategoryRelevance, guardrail.SeverityLow, msg).
		WithMeta("check", "low_relevance"), nil
}

// meaningfulTokens lower-cases and splits the query, dropping
// stop-words and one-character fragments.
func meaningfulTokens(query string) []string {
	parts := tokenSplit.Split(strings.ToLower(query), -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if len(p) < 2 {
			continue
		}
		if _, stop := stopWords[p]; stop {
			continue
		}
		out = append(out, p)
	}
	return out
}

// relevanceRatio is the fraction of meaningful query tokens appearing
// as substrings of the snippet text.
func relevanceRatio(tokens []string, snippetText string) float64 {
	if len(tokens) == 0 {
		return 0
	}
	lower := strings.ToLower(snippetText)
	hits := 0
	for _, tok := range tokens {
		if strings.Contains(lower, tok) {
			hits++
		}
	}
	return float64(hits) / float64(len(tokens))
}

func allScoresBelow(snippets []guardrail.Snippet, minScore float64) bool {
	for _, sn := range snippets {
		if sn.Score == nil || *sn.Score >= minScore {
			return false
		}
	}
	return true
}

func isFallbackSnippet(text string) bool {
	return matchAny(fallbackSnippetPatterns, text)
}
