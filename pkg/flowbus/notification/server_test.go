package notification_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/flowbus/pkg/flowbus/notification"
)

type recorder struct {
	mu  sync.Mutex
	got []notification.Notification
}

func (r *recorder) OnNotification(_ context.Context, n notification.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, n)
}

func (r *recorder) actions() []notification.Action {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notification.Action, len(r.got))
	for i, n := range r.got {
		out[i] = n.Action
	}
	return out
}

func TestServer_FiresToActionSubscribers(t *testing.T) {
	srv := notification.NewServer(notification.Config{})
	defer srv.Close()

	timeouts := &recorder{}
	all := &recorder{}
	srv.Subscribe([]notification.Action{notification.CorrelationTimeout}, timeouts)
	srv.SubscribeAll(all)

	ctx := context.Background()
	srv.Fire(ctx, notification.New(notification.CorrelationTimeout, "correlator", "g1", nil))
	srv.Fire(ctx, notification.New(notification.MissedAggregationGroup, "correlator", "g2", nil))

	assert.Equal(t, []notification.Action{notification.CorrelationTimeout}, timeouts.actions())
	assert.Equal(t, []notification.Action{
		notification.CorrelationTimeout,
		notification.MissedAggregationGroup,
	}, all.actions())
	assert.Equal(t, "g1", timeouts.got[0].Resource)
	assert.Equal(t, "correlator", timeouts.got[0].Source)
}

func TestServer_UnsubscribeAndPause(t *testing.T) {
	srv := notification.NewServer(notification.Config{})
	rec := &recorder{}
	sub := srv.SubscribeAll(rec)
	require.NotNil(t, sub)
	ctx := context.Background()

	sub.Pause()
	assert.True(t, sub.IsPaused())
	srv.Fire(ctx, notification.New(notification.ContextStarted, "ctx", "", nil))
	assert.Empty(t, rec.actions())

	sub.Resume()
	srv.Fire(ctx, notification.New(notification.ContextStarted, "ctx", "", nil))
	assert.Len(t, rec.actions(), 1)

	sub.Unsubscribe()
	sub.Unsubscribe()
	assert.Equal(t, 0, srv.Len())
	srv.Fire(ctx, notification.New(notification.ContextStopped, "ctx", "", nil))
	assert.Len(t, rec.actions(), 1)
}

func TestServer_ListenerPanicDoesNotStopFanOut(t *testing.T) {
	srv := notification.NewServer(notification.Config{})
	rec := &recorder{}
	srv.SubscribeAll(notification.ListenerFunc(func(context.Context, notification.Notification) {
		panic("listener bug")
	}))
	srv.SubscribeAll(rec)

	assert.NotPanics(t, func() {
		srv.Fire(context.Background(), notification.New(notification.ComponentStarted, "ctx", "flow", nil))
	})
	assert.Len(t, rec.actions(), 1)
}

func TestServer_Async(t *testing.T) {
	srv := notification.NewServer(notification.Config{Async: true, BufferSize: 8})
	defer srv.Close()

	rec := &recorder{}
	srv.Subscribe([]notification.Action{notification.AsyncReplyTimeout}, rec)
	srv.Fire(context.Background(), notification.New(notification.AsyncReplyTimeout, "correlator", "g", nil))

	assert.Eventually(t, func() bool { return len(rec.actions()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestServer_NonBlockingDrops(t *testing.T) {
	var mu sync.Mutex
	dropped := 0
	block := make(chan struct{})
	srv := notification.NewServer(notification.Config{
		Async:       true,
		BufferSize:  1,
		NonBlocking: true,
		OnDrop: func(notification.Notification, string) {
			mu.Lock()
			dropped++
			mu.Unlock()
		},
	})
	defer func() {
		close(block)
		srv.Close()
	}()

	srv.SubscribeAll(notification.ListenerFunc(func(context.Context, notification.Notification) {
		<-block
	}))

	for i := 0; i < 10; i++ {
		srv.Fire(context.Background(), notification.New(notification.ContextStarting, "ctx", "", nil))
	}

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, dropped, 8)
}

func TestServer_Closed(t *testing.T) {
	srv := notification.NewServer(notification.Config{})
	require.NoError(t, srv.Close())
	require.NoError(t, srv.Close())

	assert.Nil(t, srv.SubscribeAll(&recorder{}))
	assert.NotPanics(t, func() {
		srv.Fire(context.Background(), notification.New(notification.ContextStopped, "ctx", "", nil))
	})
	notification.Discard.Fire(context.Background(), notification.Notification{})
}
