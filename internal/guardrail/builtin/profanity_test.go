package builtin

import (
	"context"
	"testing"

	"github.com/querygate/querygate/internal/guardrail"
)

func TestProfanityBlocksDenyListedWords(t *testing.T) {
	p := NewProfanity(ProfanityConfig{})

	res, err := p.Check(context.Background(),
		guardrail.CheckContext{Query: "what the FUCK is wrong with my account"}, guardrail.Config{})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if res.Allowed {
		t.Fatal("deny-listed word should block regardless of case")
	}
	if res.Metadata["matched"] != "fuck" {
		t.Fatalf("matched = %v", res.Metadata["matched"])
	}
	if res.Severity != guardrail.SeverityMedium {
		t.Fatalf("severity = %v", res.Severity)
	}
}

func TestProfanityRespectsWordBoundaries(t *testing.T) {
	p := NewProfanity(ProfanityConfig{})

	// "bastard" is listed; "bass" and class assignments are not.
	for _, q := range []string{
		"where is my class assignment",
		"the bass guitar product page",
		"shitake mushrooms", // "shit" inside a longer word must not match
	} {
		res, _ := p.Check(context.Background(), guardrail.CheckContext{Query: q}, guardrail.Config{})
		if !res.Allowed {
			t.Fatalf("%q should be allowed, got %+v", q, res)
		}
	}
}

func TestProfanityCustomWordList(t *testing.T) {
	p := NewProfanity(ProfanityConfig{Words: []string{"frak"}})

	res, _ := p.Check(context.Background(), guardrail.CheckContext{Query: "frak this"}, guardrail.Config{})
	if res.Allowed {
		t.Fatal("custom word should block")
	}

	// The default list is replaced, not extended.
	res, _ = p.Check(context.Background(), guardrail.CheckContext{Query: "fuck this"}, guardrail.Config{})
	if !res.Allowed {
		t.Fatal("default words should be inactive with a custom list")
	}
}
