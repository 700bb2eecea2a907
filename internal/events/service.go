// Package events records guardrail decisions to Postgres for audit and
// tuning. Recording is best-effort: the engine's verdict never depends
// on it, and the daemon runs fine with no database configured.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Event is one recorded guardrail decision.
type Event struct {
	ID        uuid.UUID      `json:"id"`
	Persona   string         `json:"persona,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Guardrail string         `json:"guardrail,omitempty"`
	Category  string         `json:"category,omitempty"`
	Severity  string         `json:"severity,omitempty"`
	Allowed   bool           `json:"allowed"`
	Reason    string         `json:"reason,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// ListParams filters List results.
type ListParams struct {
	Persona  string
	Category string
	Allowed  *bool
	Start    time.Time
	End      time.Time
	Limit    int32
	Offset   int32
}

// Service persists and queries guardrail events. All methods tolerate a
// nil receiver or pool, turning into no-ops.
type Service struct {
	pool *pgxpool.Pool
}

// NewService creates the event recorder. pool may be nil.
func NewService(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool}
}

// Record inserts one event row.
func (s *Service) Record(ctx context.Context, ev Event) error {
	if s == nil || s.pool == nil {
		return nil
	}
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	details, err := json.Marshal(ev.Details)
	if err != nil {
		details = []byte("{}")
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO guardrail_events
			(id, persona, session_id, guardrail, category, severity, allowed, reason, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		ev.ID, ev.Persona, ev.SessionID, ev.Guardrail, ev.Category,
		ev.Severity, ev.Allowed, ev.Reason, details, ev.CreatedAt)
	return err
}

// List returns events matching the filters, most recent first.
func (s *Service) List(ctx context.Context, params ListParams) ([]Event, error) {
	if s == nil || s.pool == nil {
		return nil, nil
	}
	limit := params.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	end := params.End
	if end.IsZero() {
		end = time.Now().UTC()
	}
	start := params.Start
	if start.IsZero() {
		start = end.Add(-24 * time.Hour)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, persona, session_id, guardrail, category, severity, allowed, reason, details, created_at
		FROM guardrail_events
		WHERE created_at BETWEEN $1 AND $2
		  AND ($3 = '' OR persona = $3)
		  AND ($4 = '' OR category = $4)
		  AND ($5::boolean IS NULL OR allowed = $5)
		ORDER BY created_at DESC
		LIMIT $6 OFFSET $7`,
		start, end, params.Persona, params.Category, params.Allowed, limit, params.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		var details []byte
		if err := rows.Scan(&ev.ID, &ev.Persona, &ev.SessionID, &ev.Guardrail,
			&ev.Category, &ev.Severity, &ev.Allowed, &ev.Reason, &details, &ev.CreatedAt); err != nil {
			return nil, err
		}
		if len(details) > 0 {
			_ = json.Unmarshal(details, &ev.Details)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Purge deletes events older than the cutoff and reports how many rows
// were removed.
func (s *Service) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	if s == nil || s.pool == nil {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM guardrail_events WHERE created_at < $1`, olderThan)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
