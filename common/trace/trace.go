// Package trace tags a dispatch round trip with an ID that follows it
// through context into every log line it produces.
package trace

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

type traceKey struct{}

// NewID returns a fresh dispatch trace ID such as "d_3f2a…".
func NewID() string {
	return "d_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// WithID returns a child context carrying id.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

// FromContext returns the trace ID stored in ctx, or "".
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(traceKey{}).(string)
	return id
}
