package builtin

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/querygate/querygate/internal/guardrail"
)

// Built-in PII detectors keyed by the type name reported in result
// metadata.
var piiPatterns = map[string]*regexp.Regexp{
	"ssn":         regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
	"email":       regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
	"phone":       regexp.MustCompile(`(?:\+?1[-.\s]?)?\(?[0-9]{3}\)?[-.\s]?[0-9]{3}[-.\s]?[0-9]{4}\b`),
	"credit_card": regexp.MustCompile(`\b(?:4[0-9]{12}(?:[0-9]{3})?|5[1-5][0-9]{14}|3[47][0-9]{13}|6(?:011|5[0-9]{2})[0-9]{12})\b`),
	"ip_address":  regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\.){3}(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\b`),
}

// PIIConfig selects which detectors run.
type PIIConfig struct {
	// EnabledTypes limits detection to the named types; empty enables
	// all built-in detectors.
	EnabledTypes []string
}

// PII blocks queries containing personally identifiable information so
// it never reaches retrieval or an upstream model.
type PII struct {
	name     string
	patterns map[string]*regexp.Regexp
}

// NewPII creates the PII guardrail.
func NewPII(cfg PIIConfig) *PII {
	patterns := make(map[string]*regexp.Regexp)
	if len(cfg.EnabledTypes) == 0 {
		for name, re := range piiPatterns {
			patterns[name] = re
		}
	} else {
		for _, name := range cfg.EnabledTypes {
			if re, ok := piiPatterns[name]; ok {
				patterns[name] = re
			}
		}
	}
	return &PII{name: "pii", patterns: patterns}
}

func (p *PII) Name() string                 { return p.name }
func (p *PII) Category() guardrail.Category { return guardrail.CategoryPII }

func (p *PII) Check(ctx context.Context, in guardrail.CheckContext, cfg guardrail.Config) (guardrail.Result, error) {
	if in.Query == "" {
		return guardrail.AllowResult(guardrail.CategoryPII), nil
	}

	var detected []string
	for name, re := range p.patterns {
		if re.MatchString(in.Query) {
			detected = append(detected, name)
		}
	}
	if len(detected) == 0 {
		return guardrail.AllowResult(guardrail.CategoryPII), nil
	}
	sort.Strings(detected)

	msg := cfg.String("message",
		"Please remove personal information (like "+strings.Join(detected, ", ")+") from your question and try again.")
	return guardrail.BlockResult(guardrail.CategoryPII, guardrail.SeverityHigh, msg).
		WithMeta("pii_types", detected), nil
}
