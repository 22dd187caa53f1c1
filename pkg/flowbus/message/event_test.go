package message_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/flowbus/pkg/flowbus/message"
)

func TestNew(t *testing.T) {
	evt := message.New("hello")

	assert.NotEmpty(t, evt.ID())
	assert.Equal(t, "hello", evt.Payload())
	assert.Empty(t, evt.CorrelationID())
	assert.Equal(t, message.UnknownGroupSize, evt.GroupSize())
	assert.Equal(t, 0, evt.Sequence())
	assert.False(t, evt.Timestamp().IsZero())
	assert.NotNil(t, evt.Properties())
}

func TestOptions(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	props := map[string]any{"priority": 3}

	evt := message.New(42,
		message.WithID("evt-1"),
		message.WithCorrelationID("order-7"),
		message.WithGroupSize(3),
		message.WithSequence(2),
		message.WithReplyTo("replies"),
		message.WithFlow("orders"),
		message.WithTimestamp(ts),
		message.WithProperties(props),
	)

	assert.Equal(t, "evt-1", evt.ID())
	assert.Equal(t, "order-7", evt.CorrelationID())
	assert.Equal(t, 3, evt.GroupSize())
	assert.Equal(t, 2, evt.Sequence())
	assert.Equal(t, "replies", evt.ReplyTo())
	assert.Equal(t, "orders", evt.Flow())
	assert.Equal(t, ts, evt.Timestamp())

	// Options copy the caller's map.
	props["priority"] = 9
	v, ok := evt.Property("priority")
	require.True(t, ok)
	assert.Equal(t, 3, v)
}

func TestEventIsImmutable(t *testing.T) {
	orig := message.New("a", message.WithProperties(map[string]any{"k": "v"}))

	withPayload := orig.WithPayload("b")
	withProp := orig.WithProperty("k", "changed")
	correlated := orig.WithCorrelation("grp", 2, 1)
	moved := orig.WithFlow("other")

	assert.Equal(t, "a", orig.Payload())
	assert.Equal(t, "b", withPayload.Payload())
	assert.Equal(t, orig.ID(), withPayload.ID())

	v, _ := orig.Property("k")
	assert.Equal(t, "v", v)
	v, _ = withProp.Property("k")
	assert.Equal(t, "changed", v)

	assert.Empty(t, orig.CorrelationID())
	assert.Equal(t, "grp", correlated.CorrelationID())
	assert.Equal(t, 2, correlated.GroupSize())
	assert.Equal(t, 1, correlated.Sequence())

	assert.Empty(t, orig.Flow())
	assert.Equal(t, "other", moved.Flow())

	// Mutating a returned property map does not leak back.
	props := orig.Properties()
	props["k"] = "mutated"
	v, _ = orig.Property("k")
	assert.Equal(t, "v", v)
}

func TestCopy(t *testing.T) {
	orig := message.New("a", message.WithCorrelationID("grp"))
	cp := orig.Copy()

	assert.NotEqual(t, orig.ID(), cp.ID())
	assert.Equal(t, orig.CorrelationID(), cp.CorrelationID())
	assert.Equal(t, orig.Payload(), cp.Payload())
}

func TestEnv(t *testing.T) {
	evt := message.New(map[string]any{"price": 10.5},
		message.WithCorrelationID("c"),
		message.WithProperties(map[string]any{"region": "eu"}),
	)
	env := evt.Env()

	assert.Equal(t, "c", env["correlationId"])
	assert.Equal(t, map[string]any{"price": 10.5}, env["payload"])
	assert.Equal(t, "eu", env["properties"].(map[string]any)["region"])
}

func TestEventJSON(t *testing.T) {
	evt := message.New(map[string]any{"sku": "A-1"},
		message.WithCorrelationID("order-1"),
		message.WithGroupSize(2),
		message.WithSequence(1),
		message.WithProperties(map[string]any{"source": "web"}),
	)

	data, err := json.Marshal(evt)
	require.NoError(t, err)

	var decoded message.Event
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, evt.ID(), decoded.ID())
	assert.Equal(t, "order-1", decoded.CorrelationID())
	assert.Equal(t, 2, decoded.GroupSize())
	assert.Equal(t, 1, decoded.Sequence())
	assert.Equal(t, map[string]any{"sku": "A-1"}, decoded.Payload())
	src, _ := decoded.Property("source")
	assert.Equal(t, "web", src)
	assert.True(t, evt.Timestamp().Equal(decoded.Timestamp()))
}

func TestNewCollection(t *testing.T) {
	e3 := message.New("c", message.WithSequence(3), message.WithProperties(map[string]any{"x": 3}))
	e1 := message.New("a", message.WithSequence(1), message.WithProperties(map[string]any{"x": 1}))
	e2 := message.New("b", message.WithSequence(2))

	agg := message.NewCollection("grp-1", []*message.Event{e3, e1, e2})

	assert.Equal(t, "grp-1", agg.CorrelationID())
	coll, ok := agg.Payload().(message.Collection)
	require.True(t, ok)
	assert.Equal(t, 3, coll.Len())
	assert.Equal(t, []any{"a", "b", "c"}, coll.Payloads())

	// Properties merge with the first event in sequence order winning.
	x, _ := agg.Property("x")
	assert.Equal(t, 1, x)
}

func TestMessagingError(t *testing.T) {
	inner := errors.New("boom")
	evt := message.New("p", message.WithID("evt-9"))

	err := message.NewMessagingError(evt, "dispatch failed", inner)
	assert.Equal(t, "event evt-9: dispatch failed: boom", err.Error())
	assert.ErrorIs(t, err, inner)

	noEvt := &message.MessagingError{Message: "no event"}
	assert.Equal(t, "event <nil>: no event", noEvt.Error())
}
