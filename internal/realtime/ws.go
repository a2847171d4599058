package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrOffline is returned by Send when the channel has no live connection.
// Callers do not retry: the next natural cadence resends fresher data.
var ErrOffline = errors.New("realtime: channel offline")

// WSChannel is the websocket transport to the family relay.
type WSChannel struct {
	relayURL    string
	userID      string
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration

	mu    sync.Mutex
	conn  *websocket.Conn
	state State

	subMu   sync.RWMutex
	subs    map[string]map[int]Handler
	states  map[int]func(State)
	nextSub int

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

// Options configures the reconnect policy of a WSChannel.
type Options struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// NewWS creates a websocket channel for userID against relayURL.
// Connect must be called before Send.
func NewWS(relayURL, userID string, opt Options) *WSChannel {
	if opt.MaxAttempts <= 0 {
		opt.MaxAttempts = 5
	}
	if opt.BaseDelay <= 0 {
		opt.BaseDelay = time.Second
	}
	if opt.MaxDelay < opt.BaseDelay {
		opt.MaxDelay = 5 * time.Second
	}
	return &WSChannel{
		relayURL:    relayURL,
		userID:      userID,
		maxAttempts: opt.MaxAttempts,
		baseDelay:   opt.BaseDelay,
		maxDelay:    opt.MaxDelay,
		subs:        make(map[string]map[int]Handler),
		states:      make(map[int]func(State)),
	}
}

// Connect dials the relay and starts the read loop. The context governs the
// whole channel lifetime: cancelling it stops reconnect attempts and the
// read loop.
func (c *WSChannel) Connect(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)

	conn, err := c.dial(c.ctx)
	if err != nil {
		return fmt.Errorf("realtime: connect: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.state = Online
	c.mu.Unlock()
	c.notifyState(Online)

	go c.readLoop(conn)
	return nil
}

func (c *WSChannel) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(c.relayURL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("user", c.userID)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	return conn, err
}

// Send marshals payload and writes one envelope. At-most-once: an offline
// channel fails immediately and nothing is queued for later.
func (c *WSChannel) Send(topic string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("realtime: marshal %s payload: %w", topic, err)
	}
	env := Envelope{Topic: topic, From: c.userID, Payload: raw}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Online || c.conn == nil {
		return ErrOffline
	}
	if err := c.conn.WriteJSON(env); err != nil {
		return fmt.Errorf("realtime: send %s: %w", topic, err)
	}
	return nil
}

// OnMessage registers a handler for an exact topic. The returned cancel
// removes it.
func (c *WSChannel) OnMessage(topic string, h Handler) func() {
	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	if c.subs[topic] == nil {
		c.subs[topic] = make(map[int]Handler)
	}
	c.subs[topic][id] = h
	c.subMu.Unlock()

	return func() {
		c.subMu.Lock()
		delete(c.subs[topic], id)
		c.subMu.Unlock()
	}
}

// OnState registers a connectivity listener.
func (c *WSChannel) OnState(fn func(State)) func() {
	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.states[id] = fn
	c.subMu.Unlock()

	return func() {
		c.subMu.Lock()
		delete(c.states, id)
		c.subMu.Unlock()
	}
}

// Disconnect closes the connection and stops reconnecting. Idempotent.
func (c *WSChannel) Disconnect() error {
	c.once.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		c.mu.Lock()
		if c.conn != nil {
			c.conn.Close()
			c.conn = nil
		}
		c.state = Offline
		c.mu.Unlock()
	})
	return nil
}

// readLoop reads envelopes until the connection drops, then hands off to the
// reconnect loop. Handlers run inline so envelopes for one topic arrive in
// wire order.
func (c *WSChannel) readLoop(conn *websocket.Conn) {
	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			select {
			case <-c.ctx.Done():
				return
			default:
			}
			log.Printf("RT: read error: %v", err)
			c.reconnect()
			return
		}
		c.dispatch(env)
	}
}

func (c *WSChannel) dispatch(env Envelope) {
	c.subMu.RLock()
	handlers := make([]Handler, 0, len(c.subs[env.Topic]))
	for _, h := range c.subs[env.Topic] {
		handlers = append(handlers, h)
	}
	c.subMu.RUnlock()

	for _, h := range handlers {
		h(env)
	}
}

// reconnect retries with doubling delay up to the cap, for at most
// maxAttempts attempts. Messages sent by the relay while we were away are
// gone; the contract is at-most-once, not store-and-forward.
func (c *WSChannel) reconnect() {
	c.mu.Lock()
	c.state = Offline
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()
	c.notifyState(Offline)

	delay := c.baseDelay
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		select {
		case <-c.ctx.Done():
			return
		case <-time.After(delay):
		}

		conn, err := c.dial(c.ctx)
		if err == nil {
			c.mu.Lock()
			c.conn = conn
			c.state = Online
			c.mu.Unlock()
			c.notifyState(Online)
			log.Printf("RT: reconnected after %d attempt(s)", attempt)
			go c.readLoop(conn)
			return
		}
		log.Printf("RT: reconnect attempt %d/%d failed: %v", attempt, c.maxAttempts, err)

		delay *= 2
		if delay > c.maxDelay {
			delay = c.maxDelay
		}
	}
	log.Printf("RT: giving up after %d reconnect attempts", c.maxAttempts)
}

func (c *WSChannel) notifyState(s State) {
	c.subMu.RLock()
	fns := make([]func(State), 0, len(c.states))
	for _, fn := range c.states {
		fns = append(fns, fn)
	}
	c.subMu.RUnlock()

	for _, fn := range fns {
		fn(s)
	}
}
