package builtin

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/querygate/querygate/internal/guardrail"
)

const (
	defaultMaxRepeats = 3
	defaultTimeWindow = 60 * time.Second
	defaultMinChars   = 10
	defaultMinWords   = 3

	// A single character repeated this many times in a row marks the
	// query as keyboard mashing.
	repeatedRunLength = 5

	fallbackPruneInterval = 5 * time.Minute
	fallbackMaxAge        = time.Hour
	fallbackMaxSessions   = 10000
	fallbackKeepSessions  = 5000
)

// SpamConfig tunes the spam guardrail at construction time.
type SpamConfig struct {
	// Client is the shared Redis client used for repeat counting. When
	// nil (or when Redis errors) the in-process fallback store is used.
	Client *redis.Client

	Logger *slog.Logger
}

type sessionHistory struct {
	entries    []historyEntry
	lastActive time.Time
}

type historyEntry struct {
	query string
	at    time.Time
}

// Spam blocks low-effort and repetitive queries: too short, a character
// mashed five or more times in a row, or the same normalized query
// repeated beyond the allowed count within the time window for one
// session.
//
// Repeat counting uses Redis as the primary store (counter with TTL);
// when Redis is unavailable it degrades to a bounded in-process map
// pruned by a background ticker. Close must be called on shutdown to
// stop the ticker.
type Spam struct {
	name   string
	client *redis.Client
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*sessionHistory

	done      chan struct{}
	closeOnce sync.Once
}

// NewSpam creates the spam guardrail and starts its fallback-store
// cleanup timer.
func NewSpam(cfg SpamConfig) *Spam {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Spam{
		name:     "spam",
		client:   cfg.Client,
		logger:   logger,
		sessions: make(map[string]*sessionHistory),
		done:     make(chan struct{}),
	}
	go s.pruneLoop()
	return s
}

func (s *Spam) Name() string                 { return s.name }
func (s *Spam) Category() guardrail.Category { return guardrail.CategorySpam }

func (s *Spam) Check(ctx context.Context, in guardrail.CheckContext, cfg guardrail.Config) (guardrail.Result, error) {
	normalized := strings.ToLower(strings.TrimSpace(in.Query))

	minChars := cfg.Int("min_length", defaultMinChars)
	minWords := cfg.Int("min_words", defaultMinWords)
	if len([]rune(normalized)) < minChars && len(strings.Fields(normalized)) < minWords {
		msg := cfg.String("short_message", "Could you ask a more complete question?")
		return guardrail.BlockResult(guardrail.CategorySpam, guardrail.SeverityLow, msg).
			WithMeta("check", "too_short"), nil
	}

	if hasRepeatedRun(normalized, repeatedRunLength) {
		msg := cfg.String("repeat_char_message", "That doesn't look like a real question. Please try again.")
		return guardrail.BlockResult(guardrail.CategorySpam, guardrail.SeverityLow, msg).
			WithMeta("check", "repeated_characters"), nil
	}

	// Repeat tracking needs a session to scope to.
	if in.SessionID == "" {
		return guardrail.AllowResult(guardrail.CategorySpam), nil
	}

	maxRepeats := cfg.Int("max_repeats", defaultMaxRepeats)
	window := cfg.Duration("time_window_ms", defaultTimeWindow)

	repeats, err := s.countRepeat(ctx, in.SessionID, normalized, window)
	if err != nil {
		s.logger.Warn("spam guardrail redis unavailable, using fallback store",
			slog.String("error", err.Error()))
		repeats = s.countRepeatFallback(in.SessionID, normalized, window)
	}
	if repeats > maxRepeats {
		msg := cfg.String("repeat_message", "You've asked that several times just now. Please wait a moment before retrying.")
		return guardrail.BlockResult(guardrail.CategorySpam, guardrail.SeverityMedium, msg).
			WithMeta("check", "repeated_query").
			WithMeta("repeats", repeats), nil
	}

	return guardrail.AllowResult(guardrail.CategorySpam), nil
}

// Close stops the cleanup timer and drops the fallback store. Safe to
// call more than once.
func (s *Spam) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		s.sessions = make(map[string]*sessionHistory)
		s.mu.Unlock()
	})
}

// countRepeat is the primary Redis path: a windowed counter per
// (session, normalized query) pair. Returns the count including the
// current occurrence.
func (s *Spam) countRepeat(ctx context.Context, sessionID, normalized string, window time.Duration) (int, error) {
	if s.client == nil {
		return 0, fmt.Errorf("no redis client configured")
	}

	key := spamKey(sessionID, normalized)
	cnt, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if cnt == 1 {
		s.client.Expire(ctx, key, window)
	}
	return int(cnt), nil
}

// countRepeatFallback counts window-scoped exact repeats in the
// in-process store, recording the current occurrence.
func (s *Spam) countRepeatFallback(sessionID, normalized string, window time.Duration) int {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	hist, ok := s.sessions[sessionID]
	if !ok {
		hist = &sessionHistory{}
		s.sessions[sessionID] = hist
		if len(s.sessions) > fallbackMaxSessions {
			s.evictLocked()
		}
	}
	hist.lastActive = now

	kept := hist.entries[:0]
	count := 0
	for _, e := range hist.entries {
		if now.Sub(e.at) > window {
			continue
		}
		kept = append(kept, e)
		if e.query == normalized {
			count++
		}
	}
	hist.entries = append(kept, historyEntry{query: normalized, at: now})
	return count + 1
}

// evictLocked drops the least-recently-active sessions down to the keep
// target. Caller holds mu.
func (s *Spam) evictLocked() {
	type activity struct {
		id   string
		last time.Time
	}
	all := make([]activity, 0, len(s.sessions))
	for id, hist := range s.sessions {
		all = append(all, activity{id: id, last: hist.lastActive})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].last.Before(all[j].last) })

	drop := len(all) - fallbackKeepSessions
	for i := 0; i < drop; i++ {
		delete(s.sessions, all[i].id)
	}
	s.logger.Warn("spam fallback store over capacity, evicted sessions",
		slog.Int("evicted", drop))
}

func (s *Spam) pruneLoop() {
	ticker := time.NewTicker(fallbackPruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.prune()
		}
	}
}

func (s *Spam) prune() {
	cutoff := time.Now().Add(-fallbackMaxAge)

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, hist := range s.sessions {
		if hist.lastActive.Before(cutoff) {
			delete(s.sessions, id)
		}
	}
}

// hasRepeatedRun reports whether any rune repeats at least n times
// consecutively.
func hasRepeatedRun(text string, n int) bool {
	var prev rune
	run := 0
	for _, r := range text {
		if r == prev {
			run++
			if run >= n {
				return true
			}
		} else {
			prev = r
			run = 1
		}
	}
	return false
}

// spamKey scopes the repeat counter to the session and a lightweight
// rolling hash of the normalized query.
func spamKey(sessionID, normalized string) string {
	h := fnv.New64a()
	h.Write([]byte(normalized))
	return fmt.Sprintf("spam:%s:%x", sessionID, h.Sum64())
}
