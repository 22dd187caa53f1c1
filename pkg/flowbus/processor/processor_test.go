package processor_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/flowbus/pkg/flowbus/message"
	"github.com/randalmurphal/flowbus/pkg/flowbus/observability"
	"github.com/randalmurphal/flowbus/pkg/flowbus/processor"
)

func appendPayload(suffix string) processor.Processor {
	return processor.Func(func(_ context.Context, evt *message.Event) (*message.Event, error) {
		return evt.WithPayload(evt.Payload().(string) + suffix), nil
	})
}

func TestChain(t *testing.T) {
	ctx := context.Background()

	t.Run("feeds output forward", func(t *testing.T) {
		p := processor.Chain(appendPayload("b"), nil, appendPayload("c"))
		out, err := p.Process(ctx, message.New("a"))
		require.NoError(t, err)
		assert.Equal(t, "abc", out.Payload())
	})

	t.Run("stops on consumed event", func(t *testing.T) {
		called := false
		p := processor.Chain(
			processor.Func(func(context.Context, *message.Event) (*message.Event, error) { return nil, nil }),
			processor.Func(func(_ context.Context, evt *message.Event) (*message.Event, error) {
				called = true
				return evt, nil
			}),
		)
		out, err := p.Process(ctx, message.New("a"))
		require.NoError(t, err)
		assert.Nil(t, out)
		assert.False(t, called)
	})

	t.Run("stops on error", func(t *testing.T) {
		boom := errors.New("boom")
		p := processor.Chain(
			processor.Func(func(context.Context, *message.Event) (*message.Event, error) { return nil, boom }),
			appendPayload("x"),
		)
		_, err := p.Process(ctx, message.New("a"))
		assert.ErrorIs(t, err, boom)
	})

	t.Run("honours cancellation", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := processor.Chain(appendPayload("b")).Process(cctx, message.New("a"))
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestIdentityAndNameOf(t *testing.T) {
	evt := message.New("x")
	out, err := processor.Identity.Process(context.Background(), evt)
	require.NoError(t, err)
	assert.Same(t, evt, out)

	assert.Equal(t, "anonymous", processor.NameOf(processor.Identity))
	assert.Equal(t, "authentication-filter", processor.NameOf(processor.NewAuthenticationFilter(nil, nil)))
}

func TestWrapOrder(t *testing.T) {
	var order []string
	tag := func(name string) processor.Middleware {
		return func(next processor.Processor) processor.Processor {
			return processor.Func(func(ctx context.Context, evt *message.Event) (*message.Event, error) {
				order = append(order, name)
				return next.Process(ctx, evt)
			})
		}
	}

	p := processor.Wrap(processor.Identity, tag("outer"), tag("inner"))
	_, err := p.Process(context.Background(), message.New(1))
	require.NoError(t, err)
	assert.Equal(t, []string{"outer", "inner"}, order)
}

func TestRecovery(t *testing.T) {
	p := processor.Wrap(processor.Func(func(context.Context, *message.Event) (*message.Event, error) {
		panic("kaboom")
	}), processor.Recovery())

	evt := message.New(1)
	out, err := p.Process(context.Background(), evt)
	assert.Nil(t, out)
	var me *message.MessagingError
	require.ErrorAs(t, err, &me)
	assert.Same(t, evt, me.Event)
	assert.Contains(t, err.Error(), "kaboom")
}

func TestLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	ok := processor.Wrap(processor.Identity, processor.Logging(logger, "echo"))
	_, err := ok.Process(context.Background(), message.New(1))
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "event routed")
	assert.Contains(t, buf.String(), "router=echo")

	buf.Reset()
	failing := processor.Wrap(processor.Func(func(context.Context, *message.Event) (*message.Event, error) {
		return nil, errors.New("nope")
	}), processor.Logging(logger, "bad"))
	_, err = failing.Process(context.Background(), message.New(1))
	require.Error(t, err)
	assert.Contains(t, buf.String(), "routing failed")
}

type countingRecorder struct {
	observability.NoopMetrics
	dispatches int
	failures   int
}

func (r *countingRecorder) RecordDispatch(_ context.Context, _ string, _ time.Duration, err error) {
	r.dispatches++
	if err != nil {
		r.failures++
	}
}

func TestMetrics(t *testing.T) {
	rec := &countingRecorder{}
	calls := 0
	p := processor.Wrap(processor.Func(func(_ context.Context, evt *message.Event) (*message.Event, error) {
		calls++
		if calls == 2 {
			return nil, errors.New("second fails")
		}
		return evt, nil
	}), processor.Metrics(rec, "counted"))

	_, _ = p.Process(context.Background(), message.New(1))
	_, _ = p.Process(context.Background(), message.New(2))
	assert.Equal(t, 2, rec.dispatches)
	assert.Equal(t, 1, rec.failures)
}
