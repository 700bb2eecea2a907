// Package requestctx carries per-request caller identity through the
// HTTP layer.
package requestctx

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const fiberLocalsKey = "requestctx"

// Key is the typed context key used for storing the request context.
var Key contextKey = "querygate/requestctx"

// Context captures the caller identity resolved from request headers:
// which session is asking and which persona gates the query.
type Context struct {
	RequestID uuid.UUID
	SessionID string
	Persona   string
}

// WithContext embeds the request context into the parent context.
func WithContext(parent context.Context, rc *Context) context.Context {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithValue(parent, Key, rc)
}

// FromContext retrieves the request context if present.
func FromContext(ctx context.Context) (*Context, bool) {
	if ctx == nil {
		return nil, false
	}
	rc, ok := ctx.Value(Key).(*Context)
	return rc, ok
}

// FiberLocalsKey returns the key used in fiber.Locals for request
// context storage.
func FiberLocalsKey() string {
	return fiberLocalsKey
}
