package guardrail

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultPersona is used when a check carries no persona name.
const DefaultPersona = "default"

// defaultCacheTTL bounds how long an allowed verdict may be replayed
// from the cache.
const defaultCacheTTL = 60 * time.Second

// Cache is the result-cache collaborator. Implementations must
// tolerate being unavailable; the registry treats every error as a
// miss. A nil byte slice with a nil error means "not found".
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Clear(ctx context.Context, namespace string) error
}

// Registry owns guardrail registration, persona configuration, and the
// Check entry point that gates every inbound query. A single registry
// instance is constructed by the hosting service and shared across
// requests; all methods are safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	guardrails map[string]Guardrail
	order      []string
	personas   map[string]PersonaConfig

	breaker  *CircuitBreaker
	metrics  *Metrics
	cache    Cache
	cacheTTL time.Duration
	logger   *slog.Logger
	tracer   trace.Tracer
}

// NewRegistry creates an empty registry with a fresh circuit breaker
// and metrics collector.
func NewRegistry() *Registry {
	return &Registry{
		guardrails: make(map[string]Guardrail),
		personas:   make(map[string]PersonaConfig),
		breaker:    NewCircuitBreaker(DefaultCircuitBreakerConfig()),
		metrics:    NewMetrics(),
		cacheTTL:   defaultCacheTTL,
		logger:     slog.Default(),
	}
}

// WithLogger sets the structured logger used for pipeline events.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	if logger != nil {
		r.logger = logger
	}
	return r
}

// WithCache attaches the advisory result cache.
func (r *Registry) WithCache(cache Cache) *Registry {
	r.cache = cache
	return r
}

// WithCacheTTL overrides how long allowed verdicts stay cached.
func (r *Registry) WithCacheTTL(ttl time.Duration) *Registry {
	if ttl > 0 {
		r.cacheTTL = ttl
	}
	return r
}

// WithBreaker replaces the pipeline circuit breaker.
func (r *Registry) WithBreaker(breaker *CircuitBreaker) *Registry {
	if breaker != nil {
		r.breaker = breaker
	}
	return r
}

// WithTracer sets the OpenTelemetry tracer for per-guardrail spans.
func (r *Registry) WithTracer(tracer trace.Tracer) *Registry {
	r.tracer = tracer
	return r
}

// Register adds a guardrail under its name. Re-registering an existing
// name overwrites the previous implementation with a warning, which
// supports hot-swapping.
func (r *Registry) Register(g Guardrail) {
	if g == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	name := g.Name()
	if _, exists := r.guardrails[name]; exists {
		r.logger.Warn("guardrail re-registered, replacing previous implementation",
			slog.String("guardrail", name))
	} else {
		r.order = append(r.order, name)
		r.logger.Info("guardrail registered",
			slog.String("guardrail", name),
			slog.String("category", string(g.Category())))
	}
	r.guardrails[name] = g
}

// Unregister removes a guardrail by name and reports whether it was
// present.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.guardrails[name]; !exists {
		return false
	}
	delete(r.guardrails, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Get looks up a guardrail by name.
func (r *Registry) Get(name string) (Guardrail, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.guardrails[name]
	return g, ok
}

// List returns all registered guardrails in registration order.
func (r *Registry) List() []Guardrail {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Guardrail, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.guardrails[name])
	}
	return out
}

// ListByCategory returns registered guardrails of the given category in
// registration order.
func (r *Registry) ListByCategory(category Category) []Guardrail {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Guardrail
	for _, name := range r.order {
		if g := r.guardrails[name]; g.Category() == category {
			out = append(out, g)
		}
	}
	return out
}

// ConfigurePersona validates and stores a persona's guardrail set from
// a raw configuration map. Enabled names that are not registered are
// dropped with a warning rather than rejected, so configuration can be
// applied before optional guardrails exist.
func (r *Registry) ConfigurePersona(persona string, raw map[string]any) error {
	cfg, err := ParsePersonaConfig(raw)
	if err != nil {
		return fmt.Errorf("configure persona %q: %w", persona, err)
	}
	return r.SetPersonaConfig(persona, cfg)
}

// SetPersonaConfig stores an already-parsed persona configuration,
// filtering the enabled list down to guardrails present in the
// registry.
func (r *Registry) SetPersonaConfig(persona string, cfg PersonaConfig) error {
	key := personaKey(persona)
	if key == "" {
		return fmt.Errorf("configure persona: %w: empty persona name", ErrInvalidPersonaConfig)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	kept := make([]string, 0, len(cfg.Enabled))
	for _, name := range cfg.Enabled {
		if _, ok := r.guardrails[name]; ok {
			kept = append(kept, name)
			continue
		}
		r.logger.Warn("persona references unknown guardrail, dropping",
			slog.String("persona", key),
			slog.String("guardrail", name))
	}
	cfg.Enabled = kept
	r.personas[key] = cfg
	return nil
}

// PersonaConfig returns the stored configuration for a persona, looked
// up case-insensitively.
func (r *Registry) PersonaConfig(persona string) (PersonaConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cfg, ok := r.personas[personaKey(persona)]
	return cfg, ok
}

// Check is the single entry point used by the answer-generation
// collaborator. It never returns an error: a broken guardrail
// subsystem degrades to an allowed result so a moderation outage can
// not take down all user traffic.
func (r *Registry) Check(ctx context.Context, in CheckContext) Result {
	start := time.Now()
	persona := personaKey(in.Persona)
	if persona == "" {
		persona = DefaultPersona
	}
	key := cacheKey(persona, in.Query)

	if cached, ok := r.cacheRead(ctx, key); ok {
		r.metrics.RecordHit("cache_hit")
		r.metrics.RecordOutcome("check", cached, time.Since(start))
		return cached
	}

	res, err := r.runPipeline(ctx, in, persona)
	if err != nil {
		r.logger.Error("guardrail pipeline unavailable, failing open",
			slog.String("persona", persona),
			slog.String("session_id", in.SessionID),
			slog.String("error", err.Error()))
		r.metrics.RecordError("check")
		return AllowResult(CategoryCustom).WithMeta("degraded", true)
	}

	// Only allowed verdicts are cached: blocking must never be sticky
	// past the configuration or input state that caused it.
	if res.Allowed {
		r.cacheWrite(ctx, key, res)
	}
	r.metrics.RecordOutcome("check", res, time.Since(start))
	return res
}

// Metrics returns a snapshot of all counters and latency percentiles.
func (r *Registry) Metrics() map[string]MetricsSnapshot {
	return r.metrics.Snapshot()
}

// ResetMetrics clears all metric buckets.
func (r *Registry) ResetMetrics() {
	r.metrics.Reset()
}

// BreakerState exposes the pipeline circuit state for health reporting.
func (r *Registry) BreakerState() CircuitState {
	return r.breaker.State()
}

// runPipeline executes the guardrail sequence inside the circuit
// breaker. A recovered panic or an open circuit surfaces as an error;
// guardrail-level failures are handled inside executeGuardrails and do
// not trip the breaker.
func (r *Registry) runPipeline(ctx context.Context, in CheckContext, persona string) (res Result, err error) {
	if allowErr := r.breaker.Allow(); allowErr != nil {
		return Result{}, allowErr
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("guardrail pipeline panic: %v", rec)
		}
		if err != nil {
			r.breaker.RecordFailure()
		} else {
			r.breaker.RecordSuccess()
		}
	}()

	res = r.executeGuardrails(ctx, in, persona)
	return res, nil
}

// executeGuardrails resolves the persona's guardrail set, orders it,
// and evaluates each guardrail sequentially, short-circuiting on the
// first block.
func (r *Registry) executeGuardrails(ctx context.Context, in CheckContext, persona string) Result {
	cfg, rails := r.resolve(persona)

	for _, g := range orderGuardrails(rails) {
		gcfg := cfg.GuardrailConfig(g.Name())
		if !gcfg.Enabled() {
			continue
		}

		gstart := time.Now()
		res, err := r.checkOne(ctx, g, in, gcfg)
		latency := time.Since(gstart)

		if err != nil {
			r.metrics.RecordError("guardrail:" + g.Name())
			r.logger.Error("guardrail check failed",
				slog.String("guardrail", g.Name()),
				slog.String("category", string(g.Category())),
				slog.String("session_id", in.SessionID),
				slog.String("error", err.Error()))
			// Safety is the one place we fail closed: an unverifiable
			// query must not pass just because the checker broke.
			if g.Category() == CategorySafety {
				return BlockResult(CategorySafety, SeverityCritical,
					"Unable to validate this request right now. Please try again.").
					WithMeta("guardrail_error", g.Name())
			}
			continue
		}

		r.metrics.RecordOutcome("guardrail:"+g.Name(), res, latency)
		if !res.Allowed {
			r.logger.Info("guardrail blocked query",
				slog.String("guardrail", g.Name()),
				slog.String("category", string(res.Category)),
				slog.String("severity", string(res.Severity)),
				slog.String("session_id", in.SessionID),
				slog.Duration("latency", latency))
			return res
		}
	}

	return AllowResult(CategoryCustom)
}

// checkOne invokes a single guardrail, wrapping it in a span when a
// tracer is configured.
func (r *Registry) checkOne(ctx context.Context, g Guardrail, in CheckContext, cfg Config) (Result, error) {
	if r.tracer != nil {
		var span trace.Span
		ctx, span = r.tracer.Start(ctx, "guardrail.check",
			trace.WithAttributes(
				attribute.String("guardrail.name", g.Name()),
				attribute.String("guardrail.category", string(g.Category())),
			))
		defer span.End()

		res, err := g.Check(ctx, in, cfg)
		if err == nil {
			span.SetAttributes(attribute.Bool("guardrail.allowed", res.Allowed))
		} else {
			span.RecordError(err)
		}
		return res, err
	}
	return g.Check(ctx, in, cfg)
}

// resolve returns the persona configuration plus the guardrails it
// enables, defaulting to every registered guardrail in registration
// order when the persona is unknown.
func (r *Registry) resolve(persona string) (PersonaConfig, []Guardrail) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cfg, ok := r.personas[persona]
	names := cfg.Enabled
	if !ok {
		names = r.order
	}

	rails := make([]Guardrail, 0, len(names))
	for _, name := range names {
		if g, exists := r.guardrails[name]; exists {
			rails = append(rails, g)
		}
	}
	return cfg, rails
}

// orderGuardrails applies the fixed evaluation order: safety gates
// before anything else runs or caches, and relevance gates before
// topicality because a good retrieval match can redeem an apparently
// off-topic phrasing. Guardrails of equal rank keep their configured
// relative order.
func orderGuardrails(rails []Guardrail) []Guardrail {
	ordered := make([]Guardrail, len(rails))
	copy(ordered, rails)
	sort.SliceStable(ordered, func(i, j int) bool {
		return orderRank(ordered[i].Category()) < orderRank(ordered[j].Category())
	})
	return ordered
}

func orderRank(c Category) int {
	switch c {
	case CategorySafety:
		return 0
	case CategoryRelevance:
		return 1
	case CategoryOffTopic:
		return 3
	default:
		return 2
	}
}

// cacheRead attempts an advisory cache lookup. Failures are logged and
// reported as misses, never surfaced to the caller.
func (r *Registry) cacheRead(ctx context.Context, key string) (Result, bool) {
	if r.cache == nil {
		return Result{}, false
	}
	data, err := r.cache.Get(ctx, key)
	if err != nil {
		r.logger.Warn("guardrail cache read failed", slog.String("error", err.Error()))
		return Result{}, false
	}
	if data == nil {
		return Result{}, false
	}
	var res Result
	if err := json.Unmarshal(data, &res); err != nil {
		r.logger.Warn("guardrail cache payload invalid", slog.String("error", err.Error()))
		return Result{}, false
	}
	return res, true
}

func (r *Registry) cacheWrite(ctx context.Context, key string, res Result) {
	if r.cache == nil {
		return
	}
	data, err := json.Marshal(res)
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, key, data, r.cacheTTL); err != nil {
		r.logger.Warn("guardrail cache write failed", slog.String("error", err.Error()))
	}
}

// cacheKey derives a stable key from the persona and query text.
func cacheKey(persona, query string) string {
	h := fnv.New64a()
	h.Write([]byte(persona))
	h.Write([]byte{0})
	h.Write([]byte(query))
	return fmt.Sprintf("check:%s:%x", persona, h.Sum64())
}

func personaKey(persona string) string {
	return strings.ToLower(strings.TrimSpace(persona))
}
