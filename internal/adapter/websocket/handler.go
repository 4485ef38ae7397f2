package websocket

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"

	"github.com/pscheid92/roomcast/internal/domain"
	"github.com/pscheid92/roomcast/internal/metrics"
	"github.com/pscheid92/roomcast/internal/platform/correlation"
)

// Frames read from the socket queue here before dispatch, decoupling
// socket I/O from routing. Per-connection order is preserved because one
// dispatch goroutine drains the channel.
const frameBufferSize = 32

// Dispatcher consumes inbound frames; implemented by the message router.
type Dispatcher interface {
	HandleFrame(ctx context.Context, connID uuid.UUID, frame []byte)
}

// Registry is the slice of the connection registry the handler needs.
type Registry interface {
	Register(t domain.Transport) (uuid.UUID, error)
	Remove(id uuid.UUID, reason domain.CloseReason)
}

// Handler upgrades HTTP requests to websocket connections and runs their
// read pumps.
type Handler struct {
	upgrader   ws.Upgrader
	registry   Registry
	dispatcher Dispatcher
	limits     *AcceptLimits
	clock      clockwork.Clock
}

// NewHandler creates the upgrade handler. checkOrigin follows
// NewCheckOrigin; nil allows every origin.
func NewHandler(registry Registry, dispatcher Dispatcher, limits *AcceptLimits, clock clockwork.Clock, checkOrigin func(r *http.Request) bool) *Handler {
	return &Handler{
		upgrader: ws.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		registry:   registry,
		dispatcher: dispatcher,
		limits:     limits,
		clock:      clock,
	}
}

// Handle is the echo handler for the websocket endpoint. It blocks for
// the connection's lifetime and returns once the peer is gone.
func (h *Handler) Handle(c echo.Context) error {
	ip := c.RealIP()

	if ok, reason := h.limits.Acquire(ip); !ok {
		metrics.ConnectionsRejectedTotal.WithLabelValues(string(reason)).Inc()
		slog.Info("connection rejected", "ip", ip, "reason", reason)
		return c.JSON(http.StatusTooManyRequests, map[string]string{"error": string(reason)})
	}

	conn, err := h.upgrade(c)
	if err != nil {
		h.limits.Release()
		// Upgrade already wrote the HTTP error response.
		slog.Debug("websocket upgrade failed", "ip", ip, "error", err)
		return nil
	}
	defer h.limits.Release()

	id, err := h.registry.Register(conn)
	if err != nil {
		metrics.ConnectionsRejectedTotal.WithLabelValues("duplicate").Inc()
		_ = conn.Close()
		return nil
	}

	ctx, correlationID := correlation.Ensure(c.Request().Context())
	slog.InfoContext(ctx, "websocket connected", "connection_id", id, "ip", ip, "correlation_id", correlationID)

	h.serve(ctx, id, conn)
	return nil
}

func (h *Handler) upgrade(c echo.Context) (*Conn, error) {
	socket, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return nil, err
	}
	return NewConn(socket, h.clock), nil
}

// serve runs the read pump until the peer disconnects, then removes the
// connection. Frames flow through a channel to a dedicated dispatch
// goroutine; the removal waits for in-flight frames to finish.
func (h *Handler) serve(ctx context.Context, id uuid.UUID, conn *Conn) {
	frames := make(chan []byte, frameBufferSize)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for frame := range frames {
			h.dispatcher.HandleFrame(ctx, id, frame)
		}
	}()

	reason := domain.ClosePeer
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			if !isExpectedClose(err) {
				reason = domain.CloseTransport
			}
			break
		}
		frames <- data
	}

	close(frames)
	wg.Wait()

	h.registry.Remove(id, reason)
}

// isExpectedClose reports whether the read error is an orderly goodbye
// rather than a broken transport.
func isExpectedClose(err error) bool {
	if ws.IsCloseError(err, ws.CloseNormalClosure, ws.CloseGoingAway, ws.CloseNoStatusReceived) {
		return true
	}
	// Our own Remove closes the socket under the reader.
	if errors.Is(err, net.ErrClosed) || errors.Is(err, ws.ErrCloseSent) {
		return true
	}
	return false
}
