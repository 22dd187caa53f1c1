package routing

import (
	"context"
	"reflect"

	"github.com/randalmurphal/flowbus/pkg/flowbus/expr"
	"github.com/randalmurphal/flowbus/pkg/flowbus/message"
)

// Matcher decides whether a router accepts an event.
type Matcher interface {
	Match(ctx context.Context, evt *message.Event) (bool, error)
}

// MatchFunc adapts a function to the Matcher interface.
type MatchFunc func(ctx context.Context, evt *message.Event) (bool, error)

// Match calls f.
func (f MatchFunc) Match(ctx context.Context, evt *message.Event) (bool, error) {
	return f(ctx, evt)
}

// ExprMatcher matches events against a compiled expression over Event.Env.
type ExprMatcher struct {
	predicate *expr.Predicate
}

// NewExprMatcher compiles src with the default evaluator.
func NewExprMatcher(src string) (*ExprMatcher, error) {
	p, err := expr.Compile(src)
	if err != nil {
		return nil, err
	}
	return &ExprMatcher{predicate: p}, nil
}

// Match evaluates the expression.
func (m *ExprMatcher) Match(_ context.Context, evt *message.Event) (bool, error) {
	return m.predicate.Match(evt.Env())
}

// String returns the expression source.
func (m *ExprMatcher) String() string { return m.predicate.String() }

// PropertyEquals matches events whose property key equals value.
func PropertyEquals(key string, value any) Matcher {
	return MatchFunc(func(_ context.Context, evt *message.Event) (bool, error) {
		v, ok := evt.Property(key)
		return ok && reflect.DeepEqual(v, value), nil
	})
}
