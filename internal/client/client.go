// Package client implements the reconnecting roomcast client: a dial loop
// driven by an explicit state machine, exponential backoff with jitter
// between attempts, and automatic re-join of subscribed rooms after a
// reconnect.
//
// Received envelopes surface on Messages(), failures on Errors(). An
// explicit Close suppresses reconnection and cancels a pending backoff;
// a dropped connection does not.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/pscheid92/roomcast/internal/domain"
)

// Transport is one live client connection. Produced by a Dialer; the
// websocket adapter provides the production implementation.
type Transport interface {
	ReadEnvelope() (domain.Envelope, error)
	Send(env domain.Envelope) error
	Close() error
}

// Dialer opens a transport to the server.
type Dialer interface {
	Dial(ctx context.Context, addr string) (Transport, error)
}

const (
	defaultBaseDelay      = 500 * time.Millisecond
	defaultMaxDelay       = 30 * time.Second
	defaultJitterFraction = 0.1
	messageBufferSize     = 64
)

// Options tune a client beyond its defaults. The zero value works.
type Options struct {
	Backoff BackoffPolicy
	Clock   clockwork.Clock
	Rand    func() float64 // uniform [0,1); defaults to math/rand
}

// Client is a reconnecting connection to one roomcast server. Create with
// New, drive with Run, stop with Close.
type Client struct {
	addr   string
	dialer Dialer
	policy BackoffPolicy
	clock  clockwork.Clock
	rand   func() float64

	msgs chan domain.Envelope
	errs chan error

	mu        sync.Mutex
	state     State
	reconnect ReconnectState
	transport Transport
	rooms     map[string]struct{}

	closed    chan struct{}
	closeOnce sync.Once
}

// New creates a client for the given address. Run must be called to
// connect.
func New(dialer Dialer, addr string, opts Options) *Client {
	policy := opts.Backoff
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = defaultBaseDelay
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = defaultMaxDelay
	}
	if policy.JitterFraction == 0 {
		policy.JitterFraction = defaultJitterFraction
	}

	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	rnd := opts.Rand
	if rnd == nil {
		rnd = rand.Float64
	}

	return &Client{
		addr:   addr,
		dialer: dialer,
		policy: policy,
		clock:  clock,
		rand:   rnd,
		state:  StateIdle,
		msgs:   make(chan domain.Envelope, messageBufferSize),
		errs:   make(chan error, 8),
		rooms:  make(map[string]struct{}),
		closed: make(chan struct{}),
	}
}

// Messages delivers received envelopes. The channel is buffered; if the
// consumer falls far enough behind, envelopes are dropped, matching the
// at-most-once delivery contract.
func (c *Client) Messages() <-chan domain.Envelope {
	return c.msgs
}

// Errors delivers connection failures and the terminal give-up error.
func (c *Client) Errors() <-chan error {
	return c.errs
}

// State returns the current reconnection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Run connects and keeps the client connected until Close is called, ctx
// is cancelled, or the failure budget is exhausted. It blocks for the
// client's lifetime; run it in its own goroutine.
func (c *Client) Run(ctx context.Context) error {
	for {
		if c.isClosed() || ctx.Err() != nil {
			return nil
		}

		c.transition(EventDial)

		transport, err := c.dialer.Dial(ctx, c.addr)
		if err != nil {
			if done, giveUpErr := c.handleFailure(ctx, err); done {
				return giveUpErr
			}
			continue
		}

		c.opened(transport)
		err = c.readLoop(transport)
		c.dropTransport(transport)

		if c.isClosed() || ctx.Err() != nil {
			return nil
		}

		if done, giveUpErr := c.handleFailure(ctx, err); done {
			return giveUpErr
		}
	}
}

// Join subscribes the client to a room. The subscription survives
// reconnects: after every successful open the client re-joins each
// subscribed room.
func (c *Client) Join(roomID string) error {
	c.mu.Lock()
	c.rooms[roomID] = struct{}{}
	transport := c.openTransport()
	c.mu.Unlock()

	if transport == nil {
		return nil // sent when the connection (re)opens
	}
	return c.send(transport, domain.Envelope{Type: domain.MessageJoin, RoomID: roomID})
}

// Leave drops the room subscription.
func (c *Client) Leave(roomID string) error {
	c.mu.Lock()
	delete(c.rooms, roomID)
	transport := c.openTransport()
	c.mu.Unlock()

	if transport == nil {
		return nil
	}
	return c.send(transport, domain.Envelope{Type: domain.MessageLeave, RoomID: roomID})
}

// Publish sends a payload to a room. Fails with ErrConnectionClosed when
// the client is not currently open; callers decide whether to retry.
func (c *Client) Publish(roomID string, payload json.RawMessage) error {
	c.mu.Lock()
	transport := c.openTransport()
	c.mu.Unlock()

	if transport == nil {
		return domain.ErrConnectionClosed
	}
	return c.send(transport, domain.Envelope{Type: domain.MessagePublish, RoomID: roomID, Payload: payload})
}

// Ping sends an application-level ping.
func (c *Client) Ping() error {
	c.mu.Lock()
	transport := c.openTransport()
	c.mu.Unlock()

	if transport == nil {
		return domain.ErrConnectionClosed
	}
	return c.send(transport, domain.Envelope{Type: domain.MessagePing})
}

// Close stops the client for good: no reconnect, pending backoff
// cancelled, the live transport closed. Safe to call more than once and
// concurrently with Run.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = Transition(c.state, EventClosed)
		transport := c.transport
		c.transport = nil
		c.mu.Unlock()

		close(c.closed)
		if transport != nil {
			_ = transport.Close()
		}
	})
}

func (c *Client) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// openTransport must be called with c.mu held.
func (c *Client) openTransport() Transport {
	if c.state != StateOpen {
		return nil
	}
	return c.transport
}

func (c *Client) transition(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = Transition(c.state, ev)
}

func (c *Client) opened(transport Transport) {
	c.mu.Lock()
	c.state = Transition(c.state, EventOpened)
	if c.state != StateOpen {
		// Closed while the dial was in flight; drop the fresh transport.
		c.mu.Unlock()
		_ = transport.Close()
		return
	}
	c.reconnect.Reset()
	c.transport = transport
	rooms := make([]string, 0, len(c.rooms))
	for roomID := range c.rooms {
		rooms = append(rooms, roomID)
	}
	c.mu.Unlock()

	slog.Info("connected", "addr", c.addr, "rejoin_rooms", len(rooms))

	for _, roomID := range rooms {
		if err := c.send(transport, domain.Envelope{Type: domain.MessageJoin, RoomID: roomID}); err != nil {
			slog.Warn("room re-join failed", "room_id", roomID, "error", err)
		}
	}
}

func (c *Client) dropTransport(transport Transport) {
	c.mu.Lock()
	if c.transport == transport {
		c.transport = nil
	}
	c.mu.Unlock()
	_ = transport.Close()
}

// readLoop consumes the transport until it fails. Pings are answered
// inline; everything else is handed to the consumer.
func (c *Client) readLoop(transport Transport) error {
	for {
		env, err := transport.ReadEnvelope()
		if err != nil {
			return err
		}

		if env.Type == domain.MessagePing {
			pong := domain.Envelope{Type: domain.MessagePong, Payload: env.Payload, Timestamp: c.clock.Now().UnixMilli()}
			if err := c.send(transport, pong); err != nil {
				return err
			}
			continue
		}

		select {
		case c.msgs <- env:
		default:
			slog.Warn("message buffer full, dropping envelope", "type", env.Type, "room_id", env.RoomID)
		}
	}
}

// handleFailure books one failed attempt and sleeps out the backoff.
// Returns done=true when Run should exit, with the terminal error if the
// failure budget is spent.
func (c *Client) handleFailure(ctx context.Context, cause error) (done bool, err error) {
	c.mu.Lock()
	c.state = Transition(c.state, EventFailed)
	c.reconnect.Fail(c.policy, cause, c.rand())
	attempt := c.reconnect.Attempt
	delay := c.reconnect.NextDelay
	exhausted := c.policy.Exhausted(attempt)
	if exhausted {
		c.state = Transition(c.state, EventExhausted)
	}
	c.mu.Unlock()

	c.reportError(cause)

	if exhausted {
		giveUp := fmt.Errorf("%w after %d attempts: %w", domain.ErrReconnectGivenUp, attempt, cause)
		c.reportError(giveUp)
		slog.Error("giving up on reconnection", "addr", c.addr, "attempts", attempt, "error", cause)
		return true, giveUp
	}

	slog.Info("reconnecting after backoff", "addr", c.addr, "attempt", attempt, "delay", delay, "error", cause)

	timer := c.clock.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.Chan():
		return false, nil
	case <-ctx.Done():
		return true, nil
	case <-c.closed:
		return true, nil
	}
}

func (c *Client) send(transport Transport, env domain.Envelope) error {
	if env.Timestamp == 0 {
		env.Timestamp = c.clock.Now().UnixMilli()
	}
	if err := transport.Send(env); err != nil {
		return fmt.Errorf("send %s: %w", env.Type, err)
	}
	return nil
}

func (c *Client) reportError(err error) {
	select {
	case c.errs <- err:
	default:
	}
}
