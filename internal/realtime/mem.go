package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MemHub routes envelopes between in-process channels. It stands in for the
// relay server in tests and lets the local API surface broadcast without a
// network round trip.
type MemHub struct {
	mu       sync.RWMutex
	channels map[string]*MemChannel // userID → channel
}

func NewMemHub() *MemHub {
	return &MemHub{channels: make(map[string]*MemChannel)}
}

// Channel creates (or returns) the hub channel for userID.
func (h *MemHub) Channel(userID string) *MemChannel {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.channels[userID]; ok {
		return ch
	}
	ch := &MemChannel{
		hub:    h,
		userID: userID,
		subs:   make(map[string]map[int]Handler),
		states: make(map[int]func(State)),
	}
	h.channels[userID] = ch
	return ch
}

// broadcast delivers env to every connected channel except the sender.
func (h *MemHub) broadcast(env Envelope) {
	h.mu.RLock()
	targets := make([]*MemChannel, 0, len(h.channels))
	for _, ch := range h.channels {
		if ch.userID != env.From && ch.connected() {
			targets = append(targets, ch)
		}
	}
	h.mu.RUnlock()

	for _, ch := range targets {
		ch.dispatch(env)
	}
}

// MemChannel is the in-memory Channel implementation.
type MemChannel struct {
	hub    *MemHub
	userID string

	mu      sync.RWMutex
	online  bool
	subs    map[string]map[int]Handler
	states  map[int]func(State)
	nextSub int
}

func (c *MemChannel) Connect(ctx context.Context) error {
	c.setOnline(true)
	return nil
}

func (c *MemChannel) Disconnect() error {
	c.setOnline(false)
	return nil
}

func (c *MemChannel) Send(topic string, payload any) error {
	if !c.connected() {
		return ErrOffline
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("realtime: marshal %s payload: %w", topic, err)
	}
	c.hub.broadcast(Envelope{Topic: topic, From: c.userID, Payload: raw})
	return nil
}

func (c *MemChannel) OnMessage(topic string, h Handler) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	if c.subs[topic] == nil {
		c.subs[topic] = make(map[int]Handler)
	}
	c.subs[topic][id] = h
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subs[topic], id)
		c.mu.Unlock()
	}
}

func (c *MemChannel) OnState(fn func(State)) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.states[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.states, id)
		c.mu.Unlock()
	}
}

func (c *MemChannel) connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.online
}

func (c *MemChannel) setOnline(v bool) {
	c.mu.Lock()
	if c.online == v {
		c.mu.Unlock()
		return
	}
	c.online = v
	fns := make([]func(State), 0, len(c.states))
	for _, fn := range c.states {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	s := Offline
	if v {
		s = Online
	}
	for _, fn := range fns {
		fn(s)
	}
}

func (c *MemChannel) dispatch(env Envelope) {
	c.mu.RLock()
	handlers := make([]Handler, 0, len(c.subs[env.Topic]))
	for _, h := range c.subs[env.Topic] {
		handlers = append(handlers, h)
	}
	c.mu.RUnlock()

	for _, h := range handlers {
		h(env)
	}
}
