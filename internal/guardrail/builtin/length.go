package builtin

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/querygate/querygate/internal/guardrail"
)

const (
	defaultMinLength = 2
	defaultMaxLength = 4000
)

// Length rejects queries outside the configured rune bounds. Bounds are
// overridable per persona via min_length / max_length.
type Length struct {
	name string
}

// NewLength creates the length guardrail.
func NewLength() *Length {
	return &Length{name: "length"}
}

func (l *Length) Name() string                 { return l.name }
func (l *Length) Category() guardrail.Category { return guardrail.CategoryLength }

func (l *Length) Check(ctx context.Context, in guardrail.CheckContext, cfg guardrail.Config) (guardrail.Result, error) {
	minLen := cfg.Int("min_length", defaultMinLength)
	maxLen := cfg.Int("max_length", defaultMaxLength)

	n := utf8.RuneCountInString(strings.TrimSpace(in.Query))
	switch {
	case n < minLen:
		msg := cfg.String("min_message", "Your question is too short. Could you add a little more detail?")
		return guardrail.BlockResult(guardrail.CategoryLength, guardrail.SeverityLow, msg).
			WithMeta("length", n), nil
	case n > maxLen:
		msg := cfg.String("max_message",
			fmt.Sprintf("Your question is too long (limit %d characters). Please shorten it.", maxLen))
		return guardrail.BlockResult(guardrail.CategoryLength, guardrail.SeverityLow, msg).
			WithMeta("length", n), nil
	}
	return guardrail.AllowResult(guardrail.CategoryLength), nil
}
