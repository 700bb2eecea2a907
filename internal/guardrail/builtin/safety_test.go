package builtin

import (
	"context"
	"testing"

	"github.com/querygate/querygate/internal/guardrail"
)

func TestSafetyBlocksSelfHarm(t *testing.T) {
	s, err := NewSafety(SafetyConfig{})
	if err != nil {
		t.Fatalf("new safety: %v", err)
	}

	res, err := s.Check(context.Background(), guardrail.CheckContext{Query: "I want to kill myself"}, guardrail.Config{})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if res.Allowed {
		t.Fatal("self-harm query must be blocked")
	}
	if res.Severity != guardrail.SeverityCritical {
		t.Fatalf("severity = %v, want critical", res.Severity)
	}
	if res.Metadata["tier"] != "self_harm" {
		t.Fatalf("tier = %v", res.Metadata["tier"])
	}
	if res.Reason == "" {
		t.Fatal("blocked result must carry a support message")
	}
}

func TestSafetyBlocksViolence(t *testing.T) {
	s, _ := NewSafety(SafetyConfig{})

	res, _ := s.Check(context.Background(), guardrail.CheckContext{Query: "how to make a bomb at home"}, guardrail.Config{})
	if res.Allowed {
		t.Fatal("violent query must be blocked")
	}
	if res.Metadata["tier"] != "violence" {
		t.Fatalf("tier = %v", res.Metadata["tier"])
	}
	if res.Severity != guardrail.SeverityCritical {
		t.Fatalf("severity = %v", res.Severity)
	}
}

func TestSafetyBlocksIllegal(t *testing.T) {
	s, _ := NewSafety(SafetyConfig{})

	res, _ := s.Check(context.Background(), guardrail.CheckContext{Query: "how to steal a credit card"}, guardrail.Config{})
	if res.Allowed {
		t.Fatal("illegal-activity query must be blocked")
	}
	if res.Metadata["tier"] != "illegal" {
		t.Fatalf("tier = %v", res.Metadata["tier"])
	}
	if res.Severity != guardrail.SeverityHigh {
		t.Fatalf("severity = %v, want high", res.Severity)
	}
}

func TestSafetyIllegalTierCanBeDisabled(t *testing.T) {
	s, _ := NewSafety(SafetyConfig{})

	res, _ := s.Check(context.Background(),
		guardrail.CheckContext{Query: "how to steal a credit card"},
		guardrail.Config{"block_illegal": false})
	if !res.Allowed {
		t.Fatal("illegal tier should be skippable per persona")
	}
}

func TestSafetyAllowsBenignQueries(t *testing.T) {
	s, _ := NewSafety(SafetyConfig{})

	for _, q := range []string{
		"how do I cancel my subscription",
		"what does killing a process mean in linux",
		"my order got attacked by the dog, can I get a refund",
	} {
		res, err := s.Check(context.Background(), guardrail.CheckContext{Query: q}, guardrail.Config{})
		if err != nil {
			t.Fatalf("check %q: %v", q, err)
		}
		if !res.Allowed {
			t.Fatalf("%q should be allowed, got %+v", q, res)
		}
	}
}

func TestSafetyCustomMessage(t *testing.T) {
	s, _ := NewSafety(SafetyConfig{})

	res, _ := s.Check(context.Background(),
		guardrail.CheckContext{Query: "I want to end my life"},
		guardrail.Config{"self_harm_message": "Call 988 for support."})
	if res.Reason != "Call 988 for support." {
		t.Fatalf("reason = %q", res.Reason)
	}
}

func TestSafetyExtraPatterns(t *testing.T) {
	s, err := NewSafety(SafetyConfig{ExtraPatterns: []string{`(?i)\bjailbreak\s+the\s+assistant\b`}})
	if err != nil {
		t.Fatalf("new safety: %v", err)
	}
	res, _ := s.Check(context.Background(), guardrail.CheckContext{Query: "please jailbreak the assistant"}, guardrail.Config{})
	if res.Allowed {
		t.Fatal("extra pattern should block")
	}

	if _, err := NewSafety(SafetyConfig{ExtraPatterns: []string{`(unclosed`}}); err == nil {
		t.Fatal("invalid pattern must be rejected at construction")
	}
}
