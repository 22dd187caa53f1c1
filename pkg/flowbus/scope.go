package flowbus

import (
	"context"
	"log/slog"
)

// Scope describes the flow processing an event. Flows attach it to the
// context handed to their processors.
type Scope struct {
	// Flow is the name of the processing flow.
	Flow string

	// EventID is the id of the event as it entered the flow.
	EventID string

	// CorrelationID is the correlation id of the event, if any.
	CorrelationID string

	// Logger is enriched with the flow and correlation id.
	Logger *slog.Logger
}

type scopeKey struct{}

// withScope returns a context carrying s.
func withScope(ctx context.Context, s Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

// ScopeFrom returns the scope of the flow processing ctx.
func ScopeFrom(ctx context.Context) (Scope, bool) {
	s, ok := ctx.Value(scopeKey{}).(Scope)
	return s, ok
}

// LoggerFrom returns the enriched logger of the processing flow.
// Never returns nil - defaults to slog.Default() outside a flow.
func LoggerFrom(ctx context.Context) *slog.Logger {
	if s, ok := ScopeFrom(ctx); ok && s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
