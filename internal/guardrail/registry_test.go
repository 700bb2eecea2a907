package guardrail

import (
	"context"
	"sync"
	"testing"
	"time"
)

// stubGuardrail is a scriptable guardrail that records its invocations.
type stubGuardrail struct {
	name     string
	category Category
	result   Result
	err      error
	panics   bool

	mu    sync.Mutex
	calls int
	log   *[]string
}

func (s *stubGuardrail) Name() string       { return s.name }
func (s *stubGuardrail) Category() Category { return s.category }

func (s *stubGuardrail) Check(ctx context.Context, in CheckContext, cfg Config) (Result, error) {
	s.mu.Lock()
	s.calls++
	if s.log != nil {
		*s.log = append(*s.log, s.name)
	}
	s.mu.Unlock()

	if s.panics {
		panic("stub guardrail exploded")
	}
	return s.result, s.err
}

func (s *stubGuardrail) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func allowStub(name string, cat Category) *stubGuardrail {
	return &stubGuardrail{name: name, category: cat, result: AllowResult(cat)}
}

// mapCache is an in-memory guardrail.Cache for tests.
type mapCache struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func newMapCache() *mapCache {
	return &mapCache{entries: make(map[string][]byte)}
}

func (c *mapCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[key], nil
}

func (c *mapCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value
	return nil
}

func (c *mapCache) Clear(ctx context.Context, namespace string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string][]byte)
	return nil
}

func TestCheckRunsInFixedOrder(t *testing.T) {
	var order []string
	r := NewRegistry()

	// Registered deliberately backwards; evaluation order must still be
	// safety, relevance, everything else, off_topic.
	for _, g := range []*stubGuardrail{
		allowStub("off_topic", CategoryOffTopic),
		allowStub("pii", CategoryPII),
		allowStub("relevance", CategoryRelevance),
		allowStub("safety", CategorySafety),
	} {
		g.log = &order
		r.Register(g)
	}

	res := r.Check(context.Background(), CheckContext{Query: "hello"})
	if !res.Allowed {
		t.Fatalf("expected allowed, got %+v", res)
	}

	want := []string{"safety", "relevance", "pii", "off_topic"}
	if len(order) != len(want) {
		t.Fatalf("ran %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("ran %v, want %v", order, want)
		}
	}
}

func TestCheckShortCircuitsOnFirstBlock(t *testing.T) {
	r := NewRegistry()

	blocker := &stubGuardrail{
		name:     "safety",
		category: CategorySafety,
		result:   BlockResult(CategorySafety, SeverityCritical, "not allowed"),
	}
	after := allowStub("length", CategoryLength)
	r.Register(blocker)
	r.Register(after)

	res := r.Check(context.Background(), CheckContext{Query: "bad"})
	if res.Allowed {
		t.Fatal("expected blocked result")
	}
	if res.Category != CategorySafety || res.Severity != SeverityCritical {
		t.Fatalf("unexpected verdict: %+v", res)
	}
	if after.callCount() != 0 {
		t.Fatal("guardrails after a block must not run")
	}
}

func TestSafetyErrorFailsClosed(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubGuardrail{
		name:     "safety",
		category: CategorySafety,
		err:      context.DeadlineExceeded,
	})
	after := allowStub("length", CategoryLength)
	r.Register(after)

	res := r.Check(context.Background(), CheckContext{Query: "anything"})
	if res.Allowed {
		t.Fatal("safety guardrail error must block")
	}
	if res.Severity != SeverityCritical {
		t.Fatalf("severity = %v, want critical", res.Severity)
	}
	if res.Metadata["guardrail_error"] != "safety" {
		t.Fatalf("missing guardrail_error metadata: %+v", res.Metadata)
	}
	if after.callCount() != 0 {
		t.Fatal("fail-closed block must short-circuit")
	}
}

func TestNonSafetyErrorIsSkipped(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubGuardrail{
		name:     "pii",
		category: CategoryPII,
		err:      context.DeadlineExceeded,
	})
	after := allowStub("length", CategoryLength)
	r.Register(after)

	res := r.Check(context.Background(), CheckContext{Query: "anything"})
	if !res.Allowed {
		t.Fatalf("non-safety guardrail error must not block: %+v", res)
	}
	if after.callCount() != 1 {
		t.Fatal("remaining guardrails should still run")
	}
}

func TestPipelinePanicFailsOpen(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubGuardrail{name: "boom", category: CategoryCustom, panics: true})

	res := r.Check(context.Background(), CheckContext{Query: "anything"})
	if !res.Allowed {
		t.Fatalf("pipeline failure must fail open: %+v", res)
	}
	if !res.Degraded() {
		t.Fatalf("fail-open result must be marked degraded: %+v", res.Metadata)
	}
}

func TestOpenBreakerFailsOpenWithoutRunning(t *testing.T) {
	r := NewRegistry().WithBreaker(NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     time.Minute,
	}))
	boom := &stubGuardrail{name: "boom", category: CategoryCustom, panics: true}
	r.Register(boom)

	for i := 0; i < 2; i++ {
		r.Check(context.Background(), CheckContext{Query: "anything"})
	}
	if r.BreakerState() != StateOpen {
		t.Fatalf("breaker state = %v, want open", r.BreakerState())
	}

	before := boom.callCount()
	res := r.Check(context.Background(), CheckContext{Query: "anything"})
	if !res.Allowed || !res.Degraded() {
		t.Fatalf("open breaker must yield degraded allow: %+v", res)
	}
	if boom.callCount() != before {
		t.Fatal("guardrails must not run while the circuit is open")
	}
}

func TestCheckCachesAllowedVerdicts(t *testing.T) {
	cache := newMapCache()
	r := NewRegistry().WithCache(cache)
	g := allowStub("length", CategoryLength)
	r.Register(g)

	in := CheckContext{Query: "is my order shipped", Persona: "support"}
	first := r.Check(context.Background(), in)
	second := r.Check(context.Background(), in)

	if !first.Allowed || !second.Allowed {
		t.Fatalf("expected allowed results: %+v / %+v", first, second)
	}
	if g.callCount() != 1 {
		t.Fatalf("guardrail ran %d times, want 1 (second call served from cache)", g.callCount())
	}

	// A different query misses.
	r.Check(context.Background(), CheckContext{Query: "something else", Persona: "support"})
	if g.callCount() != 2 {
		t.Fatalf("distinct query should miss the cache, calls = %d", g.callCount())
	}
}

func TestBlockedVerdictsAreNeverCached(t *testing.T) {
	cache := newMapCache()
	r := NewRegistry().WithCache(cache)
	g := &stubGuardrail{
		name:     "profanity",
		category: CategoryProfanity,
		result:   BlockResult(CategoryProfanity, SeverityMedium, "no"),
	}
	r.Register(g)

	in := CheckContext{Query: "rude"}
	r.Check(context.Background(), in)
	r.Check(context.Background(), in)

	if g.callCount() != 2 {
		t.Fatalf("blocked verdict was replayed from cache, calls = %d", g.callCount())
	}
	if len(cache.entries) != 0 {
		t.Fatalf("cache should be empty, has %d entries", len(cache.entries))
	}
}

func TestCacheKeyScopedByPersona(t *testing.T) {
	cache := newMapCache()
	r := NewRegistry().WithCache(cache)
	g := allowStub("length", CategoryLength)
	r.Register(g)

	r.Check(context.Background(), CheckContext{Query: "same", Persona: "a"})
	r.Check(context.Background(), CheckContext{Query: "same", Persona: "b"})

	if g.callCount() != 2 {
		t.Fatalf("personas must not share cache entries, calls = %d", g.callCount())
	}
}

func TestConfigurePersonaFiltersUnknownGuardrails(t *testing.T) {
	r := NewRegistry()
	r.Register(allowStub("safety", CategorySafety))

	err := r.ConfigurePersona("Support", map[string]any{
		"enabled": []any{"safety", "nonexistent"},
	})
	if err != nil {
		t.Fatalf("configure: %v", err)
	}

	cfg, ok := r.PersonaConfig("support")
	if !ok {
		t.Fatal("persona lookup must be case-insensitive")
	}
	if len(cfg.Enabled) != 1 || cfg.Enabled[0] != "safety" {
		t.Fatalf("enabled = %v, want [safety]", cfg.Enabled)
	}
}

func TestConfigurePersonaRejectsMalformed(t *testing.T) {
	r := NewRegistry()
	if err := r.ConfigurePersona("support", map[string]any{"enabled": "safety"}); err == nil {
		t.Fatal("expected validation error")
	}
	if err := r.ConfigurePersona("  ", map[string]any{"enabled": []any{}}); err == nil {
		t.Fatal("expected empty persona name to be rejected")
	}
}

func TestPersonaDisablesGuardrail(t *testing.T) {
	r := NewRegistry()
	safety := allowStub("safety", CategorySafety)
	spam := allowStub("spam", CategorySpam)
	r.Register(safety)
	r.Register(spam)

	err := r.ConfigurePersona("internal", map[string]any{
		"enabled": []any{"safety", "spam"},
		"guardrails": map[string]any{
			"spam": map[string]any{"enabled": false},
		},
	})
	if err != nil {
		t.Fatalf("configure: %v", err)
	}

	r.Check(context.Background(), CheckContext{Query: "q", Persona: "internal"})
	if safety.callCount() != 1 {
		t.Fatal("safety should have run")
	}
	if spam.callCount() != 0 {
		t.Fatal("disabled guardrail must be skipped")
	}
}

func TestUnknownPersonaRunsAllGuardrails(t *testing.T) {
	r := NewRegistry()
	a := allowStub("safety", CategorySafety)
	b := allowStub("length", CategoryLength)
	r.Register(a)
	r.Register(b)

	res := r.Check(context.Background(), CheckContext{Query: "q", Persona: "never-configured"})
	if !res.Allowed {
		t.Fatalf("expected allowed: %+v", res)
	}
	if a.callCount() != 1 || b.callCount() != 1 {
		t.Fatalf("all guardrails should run for unknown personas: %d/%d", a.callCount(), b.callCount())
	}
}

func TestUnregister(t *testing.T) {
	r := NewRegistry()
	r.Register(allowStub("safety", CategorySafety))

	if !r.Unregister("safety") {
		t.Fatal("expected removal")
	}
	if r.Unregister("safety") {
		t.Fatal("second removal should report false")
	}
	if len(r.List()) != 0 {
		t.Fatalf("list should be empty, has %d", len(r.List()))
	}
}

func TestListByCategory(t *testing.T) {
	r := NewRegistry()
	r.Register(allowStub("safety", CategorySafety))
	r.Register(allowStub("length", CategoryLength))

	got := r.ListByCategory(CategorySafety)
	if len(got) != 1 || got[0].Name() != "safety" {
		t.Fatalf("ListByCategory = %v", got)
	}
}

func TestCheckRecordsMetrics(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubGuardrail{
		name:     "safety",
		category: CategorySafety,
		result:   BlockResult(CategorySafety, SeverityCritical, "no"),
	})

	r.Check(context.Background(), CheckContext{Query: "bad"})

	snaps := r.Metrics()
	if snaps["check"].Blocked != 1 {
		t.Fatalf("check bucket = %+v", snaps["check"])
	}
	if snaps["guardrail:safety"].Blocked != 1 {
		t.Fatalf("guardrail bucket = %+v", snaps["guardrail:safety"])
	}

	r.ResetMetrics()
	if len(r.Metrics()) != 0 {
		t.Fatal("metrics should be empty after reset")
	}
}
