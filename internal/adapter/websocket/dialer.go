package websocket

import (
	"context"
	"fmt"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"

	"github.com/pscheid92/roomcast/internal/client"
	"github.com/pscheid92/roomcast/internal/domain"
)

const handshakeTimeout = 10 * time.Second

// Dialer opens client transports over gorilla/websocket. Implements
// client.Dialer.
type Dialer struct {
	dialer *ws.Dialer
}

// NewDialer creates a dialer with default handshake settings.
func NewDialer() *Dialer {
	return &Dialer{
		dialer: &ws.Dialer{HandshakeTimeout: handshakeTimeout},
	}
}

// Dial connects to addr (a ws:// or wss:// URL).
func (d *Dialer) Dial(ctx context.Context, addr string) (client.Transport, error) {
	socket, resp, err := d.dialer.DialContext(ctx, addr, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", addr, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &clientConn{ws: socket}, nil
}

// clientConn is the client-side transport: one reader (the client's read
// loop), writes serialized by a mutex.
type clientConn struct {
	ws      *ws.Conn
	writeMu sync.Mutex
}

func (c *clientConn) ReadEnvelope() (domain.Envelope, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return domain.Envelope{}, fmt.Errorf("%w: %s", domain.ErrTransportFailure, err)
	}
	return domain.DecodeEnvelope(data)
}

func (c *clientConn) Send(env domain.Envelope) error {
	data, err := domain.EncodeEnvelope(env)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.ws.SetWriteDeadline(time.Now().Add(writeDeadline))
	if err := c.ws.WriteMessage(ws.TextMessage, data); err != nil {
		return fmt.Errorf("%w: %s", domain.ErrTransportFailure, err)
	}
	return nil
}

func (c *clientConn) Close() error {
	c.writeMu.Lock()
	msg := ws.FormatCloseMessage(ws.CloseNormalClosure, "")
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeDeadline))
	_ = c.ws.WriteMessage(ws.CloseMessage, msg)
	c.writeMu.Unlock()

	return c.ws.Close()
}
