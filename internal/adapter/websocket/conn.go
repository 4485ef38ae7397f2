// Package websocket adapts gorilla/websocket connections to the transport
// interfaces of the core: the server-side Conn with its write pump, the
// accept limits guarding the upgrade endpoint, and the client-side Dialer.
package websocket

import (
	"fmt"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/pscheid92/roomcast/internal/domain"
)

const (
	writeDeadline  = 5 * time.Second
	sendBufferSize = 16
)

// Conn is the server-side transport for one peer. All writes go through a
// buffered send channel drained by a single pump goroutine, so Send is
// safe for concurrent use and never blocks on a slow socket: a full buffer
// marks the peer a slow consumer and fails the send, which feeds the
// broadcast failure path and gets the connection evicted.
//
// Reads are not deadline-bound here; dead-peer detection is the heartbeat
// monitor's job, at envelope level.
type Conn struct {
	ws    *ws.Conn
	clock clockwork.Clock

	send     chan []byte
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewConn wraps an upgraded websocket connection and starts its write pump.
func NewConn(conn *ws.Conn, clock clockwork.Clock) *Conn {
	c := &Conn{
		ws:    conn,
		clock: clock,
		send:  make(chan []byte, sendBufferSize),
		done:  make(chan struct{}),
	}
	c.wg.Add(1)
	go c.writePump()
	return c
}

func (c *Conn) writePump() {
	defer c.wg.Done()

	for {
		select {
		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(c.clock.Now().Add(writeDeadline))
			if err := c.ws.WriteMessage(ws.TextMessage, data); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// Send queues an envelope for delivery. Fails with ErrConnectionClosed
// after Close and with ErrTransportFailure when the send buffer is full.
func (c *Conn) Send(env domain.Envelope) error {
	data, err := domain.EncodeEnvelope(env)
	if err != nil {
		return err
	}

	select {
	case <-c.done:
		return domain.ErrConnectionClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	default:
		return fmt.Errorf("%w: send buffer full", domain.ErrTransportFailure)
	}
}

// ReadMessage blocks for the next raw frame from the peer.
func (c *Conn) ReadMessage() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("read frame: %w", err)
	}
	return data, nil
}

// Close stops the write pump, sends a close frame, and closes the socket.
// Idempotent and safe to call concurrently with in-flight Sends.
func (c *Conn) Close() error {
	c.stopOnce.Do(func() {
		close(c.done)
		// The pump must be gone before the close frame: gorilla allows
		// only one concurrent writer.
		c.wg.Wait()

		msg := ws.FormatCloseMessage(ws.CloseNormalClosure, "")
		_ = c.ws.SetWriteDeadline(c.clock.Now().Add(writeDeadline))
		_ = c.ws.WriteMessage(ws.CloseMessage, msg)
		_ = c.ws.Close()
	})
	return nil
}
