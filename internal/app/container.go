// Package app assembles the runtime dependencies of the querygate
// service into one explicitly constructed container with clear init and
// teardown, owned by main.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/querygate/querygate/internal/cache"
	"github.com/querygate/querygate/internal/config"
	"github.com/querygate/querygate/internal/events"
	"github.com/querygate/querygate/internal/guardrail"
	"github.com/querygate/querygate/internal/guardrail/builtin"
	"github.com/querygate/querygate/internal/health"
	"github.com/querygate/querygate/internal/observability"
)

// Container aggregates runtime dependencies for handlers and services.
type Container struct {
	Config        *config.Config
	Redis         *redis.Client
	DBPool        *pgxpool.Pool
	Engine        *guardrail.Registry
	Events        *events.Service
	HealthMon     *health.Monitor
	Observability *observability.Provider

	spam *builtin.Spam
}

// NewContainer builds a dependency container from the provided
// primitives. pool may be nil when the event log is disabled.
func NewContainer(ctx context.Context, cfg *config.Config, redisClient *redis.Client, pool *pgxpool.Pool) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if redisClient == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	obs, err := observability.Setup(ctx, cfg.Observability)
	if err != nil {
		return nil, fmt.Errorf("setup observability: %w", err)
	}

	c := &Container{
		Config:        cfg,
		Redis:         redisClient,
		DBPool:        pool,
		Events:        events.NewService(pool),
		HealthMon:     health.NewMonitor(redisClient, pool),
		Observability: obs,
	}

	engine, spam, err := buildEngine(cfg, redisClient)
	if err != nil {
		return nil, err
	}
	c.Engine = engine
	c.spam = spam

	return c, nil
}

// Shutdown releases container-owned resources: the spam guardrail's
// cleanup timer and the telemetry pipelines. Clients passed into
// NewContainer are closed by their owner.
func (c *Container) Shutdown(ctx context.Context) error {
	if c == nil {
		return nil
	}
	if c.spam != nil {
		c.spam.Close()
	}
	if c.Observability != nil {
		return c.Observability.Shutdown(ctx)
	}
	return nil
}

// buildEngine constructs the guardrail registry with every builtin
// registered and persona seeds from the config file applied.
func buildEngine(cfg *config.Config, redisClient *redis.Client) (*guardrail.Registry, *builtin.Spam, error) {
	engine := guardrail.NewRegistry().
		WithCache(cache.NewResultCache(redisClient, cfg.Guardrails.CacheTTL)).
		WithCacheTTL(cfg.Guardrails.CacheTTL).
		WithBreaker(guardrail.NewCircuitBreaker(guardrail.CircuitBreakerConfig{
			FailureThreshold: cfg.Guardrails.Breaker.FailureThreshold,
			ResetTimeout:     cfg.Guardrails.Breaker.ResetTimeout,
		})).
		WithTracer(otel.Tracer("querygate/guardrail"))

	safety, err := builtin.NewSafety(builtin.SafetyConfig{})
	if err != nil {
		return nil, nil, fmt.Errorf("build safety guardrail: %w", err)
	}
	offTopic, err := builtin.NewOffTopic(builtin.OffTopicConfig{})
	if err != nil {
		return nil, nil, fmt.Errorf("build off-topic guardrail: %w", err)
	}
	spam := builtin.NewSpam(builtin.SpamConfig{Client: redisClient})

	engine.Register(safety)
	engine.Register(builtin.NewRelevance())
	engine.Register(offTopic)
	engine.Register(builtin.NewPII(builtin.PIIConfig{}))
	engine.Register(builtin.NewProfanity(builtin.ProfanityConfig{}))
	engine.Register(spam)
	engine.Register(builtin.NewLength())

	if err := seedPersonas(engine, cfg); err != nil {
		spam.Close()
		return nil, nil, err
	}

	return engine, spam, nil
}

// seedPersonas applies the persona entries from the config file, and
// materializes a "default" persona carrying the engine-wide spam and
// relevance tuning unless the file defines its own.
func seedPersonas(engine *guardrail.Registry, cfg *config.Config) error {
	if _, defined := cfg.Guardrails.Personas["default"]; !defined {
		var all []string
		for _, g := range engine.List() {
			all = append(all, g.Name())
		}
		defaults := guardrail.PersonaConfig{
			Enabled: all,
			Guardrails: map[string]guardrail.Config{
				"spam": {
					"max_repeats":    cfg.Guardrails.Spam.MaxRepeats,
					"time_window_ms": int(cfg.Guardrails.Spam.TimeWindow.Milliseconds()),
					"min_length":     cfg.Guardrails.Spam.MinLength,
					"min_words":      cfg.Guardrails.Spam.MinWords,
				},
				"relevance": {
					"min_score": cfg.Guardrails.Relevance.MinScore,
					"min_ratio": cfg.Guardrails.Relevance.MinRatio,
				},
			},
		}
		if err := engine.SetPersonaConfig(guardrail.DefaultPersona, defaults); err != nil {
			return fmt.Errorf("seed default persona: %w", err)
		}
	}

	for name, seed := range cfg.Guardrails.Personas {
		pc := guardrail.PersonaConfig{
			Enabled:    seed.Enabled,
			Guardrails: make(map[string]guardrail.Config, len(seed.Guardrails)),
		}
		for gname, raw := range seed.Guardrails {
			pc.Guardrails[gname] = guardrail.Config(raw)
		}
		if err := engine.SetPersonaConfig(name, pc); err != nil {
			return fmt.Errorf("seed persona %q: %w", name, err)
		}
		slog.Info("persona configured from file",
			slog.String("persona", name),
			slog.Int("guardrails", len(pc.Enabled)))
	}
	return nil
}
