package builtin

import (
	"context"
	"testing"

	"github.com/querygate/querygate/internal/guardrail"
)

func checkPII(t *testing.T, p *PII, query string) guardrail.Result {
	t.Helper()
	res, err := p.Check(context.Background(), guardrail.CheckContext{Query: query}, guardrail.Config{})
	if err != nil {
		t.Fatalf("check %q: %v", query, err)
	}
	return res
}

func detectedTypes(res guardrail.Result) []string {
	types, _ := res.Metadata["pii_types"].([]string)
	return types
}

func TestPIIDetectsEachType(t *testing.T) {
	p := NewPII(PIIConfig{})

	cases := []struct {
		query    string
		wantType string
	}{
		{"my ssn is 123-45-6789", "ssn"},
		{"email me at john.doe@example.com", "email"},
		{"call me at 555-123-4567", "phone"},
		{"card number 4111111111111111", "credit_card"},
		{"my server is at 192.168.1.100", "ip_address"},
	}

	for _, tc := range cases {
		res := checkPII(t, p, tc.query)
		if res.Allowed {
			t.Fatalf("%q should be blocked", tc.query)
		}
		if res.Severity != guardrail.SeverityHigh {
			t.Fatalf("%q severity = %v, want high", tc.query, res.Severity)
		}
		found := false
		for _, typ := range detectedTypes(res) {
			if typ == tc.wantType {
				found = true
			}
		}
		if !found {
			t.Fatalf("%q detected %v, want %s", tc.query, detectedTypes(res), tc.wantType)
		}
	}
}

func TestPIIAllowsCleanQueries(t *testing.T) {
	p := NewPII(PIIConfig{})

	for _, q := range []string{
		"",
		"how do I update my payment method",
		"my order number is ORD-12345",
	} {
		if res := checkPII(t, p, q); !res.Allowed {
			t.Fatalf("%q should be allowed, got %+v", q, res)
		}
	}
}

func TestPIIReportsTypesSorted(t *testing.T) {
	p := NewPII(PIIConfig{})

	res := checkPII(t, p, "ssn 123-45-6789 email a@b.co")
	types := detectedTypes(res)
	for i := 1; i < len(types); i++ {
		if types[i-1] > types[i] {
			t.Fatalf("types not sorted: %v", types)
		}
	}
}

func TestPIIEnabledTypesSubset(t *testing.T) {
	p := NewPII(PIIConfig{EnabledTypes: []string{"ssn"}})

	if res := checkPII(t, p, "email me at a@b.co"); !res.Allowed {
		t.Fatalf("email detector should be off: %+v", res)
	}
	if res := checkPII(t, p, "ssn 123-45-6789"); res.Allowed {
		t.Fatal("ssn detector should still block")
	}
}

func TestPIICustomMessage(t *testing.T) {
	p := NewPII(PIIConfig{})
	res, _ := p.Check(context.Background(),
		guardrail.CheckContext{Query: "ssn 123-45-6789"},
		guardrail.Config{"message": "Remove personal data."})
	if res.Reason != "Remove personal data." {
		t.Fatalf("reason = %q", res.Reason)
	}
}
