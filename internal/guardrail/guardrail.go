// Package guardrail implements the validation pipeline that gates every
// inbound query before retrieval and generation run. Guardrails are
// registered by name, grouped per persona, and evaluated sequentially
// with short-circuiting on the first block.
package guardrail

import "context"

// Category classifies what a guardrail protects against.
type Category string

const (
	CategorySafety    Category = "safety"
	CategoryRelevance Category = "relevance"
	CategoryOffTopic  Category = "off_topic"
	CategoryPII       Category = "pii"
	CategoryProfanity Category = "profanity"
	CategorySpam      Category = "spam"
	CategoryLength    Category = "length"
	CategoryCustom    Category = "custom"
)

// Severity grades how serious a block is. Critical is reserved for
// safety-category blocks.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Guardrail is a single named validation check over a query and its
// retrieved context. Implementations must be safe for concurrent use;
// any internal counters they keep are privately owned.
type Guardrail interface {
	Name() string
	Category() Category
	Check(ctx context.Context, in CheckContext, cfg Config) (Result, error)
}
