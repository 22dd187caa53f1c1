package queue

import (
	"encoding/json"
	"fmt"

	"github.com/randalmurphal/flowbus/pkg/flowbus/message"
)

// Codec converts queue items to and from their persisted form.
type Codec interface {
	Encode(item any) ([]byte, error)
	Decode(data []byte) (any, error)
}

// JSONCodec persists items as JSON. Decoded items take their generic JSON
// form (string, float64, map[string]any, ...).
type JSONCodec struct{}

// Encode implements Codec.
func (JSONCodec) Encode(item any) ([]byte, error) {
	return json.Marshal(item)
}

// Decode implements Codec.
func (JSONCodec) Decode(data []byte) (any, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// EventCodec persists *message.Event items.
type EventCodec struct{}

// Encode implements Codec.
func (EventCodec) Encode(item any) ([]byte, error) {
	evt, ok := item.(*message.Event)
	if !ok {
		return nil, fmt.Errorf("event codec: unsupported item %T", item)
	}
	return json.Marshal(evt)
}

// Decode implements Codec.
func (EventCodec) Decode(data []byte) (any, error) {
	evt := &message.Event{}
	if err := json.Unmarshal(data, evt); err != nil {
		return nil, err
	}
	return evt, nil
}
