// Package realtime provides topic-addressed messaging between a device and
// the family relay. The concrete transport is swappable: WSChannel talks to
// a relay server over a websocket, MemHub wires channels together in memory
// for tests and for the relay's own loopback.
package realtime

import (
	"context"
	"encoding/json"
)

// State is the connectivity state surfaced to dependents.
type State int

const (
	Offline State = iota
	Online
)

func (s State) String() string {
	if s == Online {
		return "online"
	}
	return "offline"
}

// Envelope is one message that flows through a channel. Payload stays raw
// until a handler decodes it into the topic's payload struct.
type Envelope struct {
	Topic   string          `json:"topic"`
	From    string          `json:"from"`
	Payload json.RawMessage `json:"payload"`
}

// Decode unmarshals the envelope payload into v.
func (e Envelope) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// Handler receives envelopes for a subscribed topic.
type Handler func(env Envelope)

// Channel is the transport contract every component above it depends on.
// Sends are at-most-once: nothing is buffered or replayed across a
// reconnect, and a send while offline fails immediately.
type Channel interface {
	Connect(ctx context.Context) error
	Send(topic string, payload any) error
	OnMessage(topic string, h Handler) (cancel func())
	OnState(fn func(State)) (cancel func())
	Disconnect() error
}
