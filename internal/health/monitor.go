// Package health periodically probes the service's collaborators so
// the health endpoint reflects real connectivity rather than process
// liveness alone.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Status is the most recent probe outcome per collaborator. A missing
// collaborator (nil client) reports healthy: the service is designed to
// degrade without it.
type Status struct {
	RedisHealthy    bool      `json:"redis_healthy"`
	DatabaseHealthy bool      `json:"database_healthy"`
	CheckedAt       time.Time `json:"checked_at"`
}

// Monitor owns the probe loop.
type Monitor struct {
	redis    *redis.Client
	pool     *pgxpool.Pool
	interval time.Duration
	timeout  time.Duration

	mu        sync.RWMutex
	status    Status
	startOnce sync.Once
}

// NewMonitor constructs a monitor over the shared clients; either may
// be nil.
func NewMonitor(redisClient *redis.Client, pool *pgxpool.Pool) *Monitor {
	return &Monitor{
		redis:    redisClient,
		pool:     pool,
		interval: 30 * time.Second,
		timeout:  3 * time.Second,
		status: Status{
			RedisHealthy:    true,
			DatabaseHealthy: true,
		},
	}
}

// Start begins the probe loop until ctx is canceled.
func (m *Monitor) Start(ctx context.Context) {
	m.startOnce.Do(func() {
		go m.run(ctx)
	})
}

// Status returns the latest probe results.
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

func (m *Monitor) run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.probe(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probe(ctx)
		}
	}
}

func (m *Monitor) probe(ctx context.Context) {
	status := Status{
		RedisHealthy:    true,
		DatabaseHealthy: true,
		CheckedAt:       time.Now().UTC(),
	}

	if m.redis != nil {
		probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
		status.RedisHealthy = m.redis.Ping(probeCtx).Err() == nil
		cancel()
	}
	if m.pool != nil {
		probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
		status.DatabaseHealthy = m.pool.Ping(probeCtx) == nil
		cancel()
	}

	m.mu.Lock()
	m.status = status
	m.mu.Unlock()
}
