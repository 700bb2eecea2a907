package guardrail

// Snippet is a retrieved document fragment handed to the relevance
// guardrail. Score is optional; nil means the retriever did not score
// this snippet.
type Snippet struct {
	Text     string   `json:"text"`
	Score    *float64 `json:"score,omitempty"`
	SourceID string   `json:"source_id,omitempty"`
}

// CheckContext is the immutable input to every guardrail check.
type CheckContext struct {
	Query     string         `json:"query"`
	Snippets  []Snippet      `json:"snippets,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Persona   string         `json:"persona,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Result is the verdict of a single guardrail or of the whole pipeline.
// A blocked result always carries a reason and a category.
type Result struct {
	Allowed  bool           `json:"allowed"`
	Category Category       `json:"category"`
	Reason   string         `json:"reason,omitempty"`
	Severity Severity       `json:"severity,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// AllowResult builds an allowing verdict for the given category.
func AllowResult(category Category) Result {
	return Result{Allowed: true, Category: category}
}

// BlockResult builds a blocking verdict with the user-facing reason.
func BlockResult(category Category, severity Severity, reason string) Result {
	return Result{
		Allowed:  false,
		Category: category,
		Severity: severity,
		Reason:   reason,
	}
}

// WithMeta attaches a metadata entry, allocating the map on first use.
func (r Result) WithMeta(key string, value any) Result {
	if r.Metadata == nil {
		r.Metadata = make(map[string]any)
	}
	r.Metadata[key] = value
	return r
}

// Degraded reports whether this result was produced by the fail-open
// path rather than by a real pipeline run.
func (r Result) Degraded() bool {
	if r.Metadata == nil {
		return false
	}
	v, ok := r.Metadata["degraded"].(bool)
	return ok && v
}
