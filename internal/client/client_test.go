package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pscheid92/roomcast/internal/domain"
)

type fakeTransport struct {
	mu        sync.Mutex
	sent      []domain.Envelope
	in        chan domain.Envelope
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		in:     make(chan domain.Envelope, 16),
		closed: make(chan struct{}),
	}
}

func (f *fakeTransport) ReadEnvelope() (domain.Envelope, error) {
	select {
	case env := <-f.in:
		return env, nil
	case <-f.closed:
		return domain.Envelope{}, domain.ErrTransportFailure
	}
}

func (f *fakeTransport) Send(env domain.Envelope) error {
	select {
	case <-f.closed:
		return domain.ErrConnectionClosed
	default:
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, env)
	return nil
}

func (f *fakeTransport) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

// fail simulates the peer dropping the connection.
func (f *fakeTransport) fail() {
	_ = f.Close()
}

func (f *fakeTransport) sentTypes() []domain.MessageType {
	f.mu.Lock()
	defer f.mu.Unlock()
	types := make([]domain.MessageType, 0, len(f.sent))
	for _, env := range f.sent {
		types = append(types, env.Type)
	}
	return types
}

func (f *fakeTransport) hasSent(typ domain.MessageType, roomID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, env := range f.sent {
		if env.Type == typ && env.RoomID == roomID {
			return true
		}
	}
	return false
}

type fakeDialer struct {
	mu         sync.Mutex
	failures   int // dials to fail before succeeding
	dials      int
	transports chan *fakeTransport
}

func newFakeDialer(failures int) *fakeDialer {
	return &fakeDialer{failures: failures, transports: make(chan *fakeTransport, 8)}
}

func (d *fakeDialer) Dial(context.Context, string) (Transport, error) {
	d.mu.Lock()
	d.dials++
	n := d.dials
	d.mu.Unlock()

	if n <= d.failures {
		return nil, errors.New("connection refused")
	}

	t := newFakeTransport()
	d.transports <- t
	return t, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func testOptions(clock clockwork.Clock) Options {
	return Options{
		Clock: clock,
		Rand:  func() float64 { return 0.5 }, // jitter offset of zero
		Backoff: BackoffPolicy{
			BaseDelay:      100 * time.Millisecond,
			MaxDelay:       2 * time.Second,
			JitterFraction: 0.1,
		},
	}
}

func waitTransport(t *testing.T, d *fakeDialer) *fakeTransport {
	t.Helper()
	select {
	case transport := <-d.transports:
		return transport
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a dialed transport")
		return nil
	}
}

func TestClient_ConnectAndJoin(t *testing.T) {
	clock := clockwork.NewFakeClock()
	dialer := newFakeDialer(0)
	c := New(dialer, "ws://server/ws", testOptions(clock))
	defer c.Close()

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()

	transport := waitTransport(t, dialer)
	require.Eventually(t, func() bool { return c.State() == StateOpen }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, c.Join("lobby"))
	assert.True(t, transport.hasSent(domain.MessageJoin, "lobby"))

	require.NoError(t, c.Publish("lobby", json.RawMessage(`{"text":"hi"}`)))
	assert.True(t, transport.hasSent(domain.MessagePublish, "lobby"))

	c.Close()
	require.NoError(t, <-done)
	assert.Equal(t, StateClosed, c.State())
}

func TestClient_PublishBeforeOpenFails(t *testing.T) {
	c := New(newFakeDialer(0), "ws://server/ws", testOptions(clockwork.NewFakeClock()))
	err := c.Publish("lobby", nil)
	assert.ErrorIs(t, err, domain.ErrConnectionClosed)
}

func TestClient_ReceivedEnvelopesSurface(t *testing.T) {
	clock := clockwork.NewFakeClock()
	dialer := newFakeDialer(0)
	c := New(dialer, "ws://server/ws", testOptions(clock))
	defer c.Close()

	go func() { _ = c.Run(context.Background()) }()
	transport := waitTransport(t, dialer)

	want := domain.Envelope{Type: domain.MessagePublish, RoomID: "lobby", Payload: json.RawMessage(`"x"`), Timestamp: 7}
	transport.in <- want

	select {
	case got := <-c.Messages():
		assert.Equal(t, want, got)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for envelope")
	}
}

func TestClient_AnswersPingWithPong(t *testing.T) {
	clock := clockwork.NewFakeClock()
	dialer := newFakeDialer(0)
	c := New(dialer, "ws://server/ws", testOptions(clock))
	defer c.Close()

	go func() { _ = c.Run(context.Background()) }()
	transport := waitTransport(t, dialer)

	transport.in <- domain.Envelope{Type: domain.MessagePing}

	require.Eventually(t, func() bool {
		return transport.hasSent(domain.MessagePong, "")
	}, 2*time.Second, 10*time.Millisecond)

	// The ping is handled inline, not surfaced to the consumer.
	select {
	case env := <-c.Messages():
		t.Fatalf("unexpected envelope surfaced: %v", env.Type)
	default:
	}
}

func TestClient_ReconnectsAndRejoinsRooms(t *testing.T) {
	clock := clockwork.NewFakeClock()
	dialer := newFakeDialer(0)
	c := New(dialer, "ws://server/ws", testOptions(clock))
	defer c.Close()

	go func() { _ = c.Run(context.Background()) }()

	first := waitTransport(t, dialer)
	require.Eventually(t, func() bool { return c.State() == StateOpen }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, c.Join("lobby"))
	require.NoError(t, c.Join("news"))

	first.fail()

	// One failure → backoff of BaseDelay (jitter neutralized by Rand=0.5).
	clock.BlockUntil(1)
	clock.Advance(150 * time.Millisecond)

	second := waitTransport(t, dialer)
	require.Eventually(t, func() bool {
		return second.hasSent(domain.MessageJoin, "lobby") && second.hasSent(domain.MessageJoin, "news")
	}, 2*time.Second, 10*time.Millisecond, "subscribed rooms are re-joined after reconnect")

	require.Eventually(t, func() bool { return c.State() == StateOpen }, 2*time.Second, 10*time.Millisecond)
}

func TestClient_GivesUpAfterMaxAttempts(t *testing.T) {
	clock := clockwork.NewFakeClock()
	dialer := newFakeDialer(100)
	opts := testOptions(clock)
	opts.Backoff.MaxAttempts = 3
	c := New(dialer, "ws://server/ws", opts)
	defer c.Close()

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()

	// Attempts 1 and 2 fail and wait out their backoff; attempt 3 is final.
	for range 2 {
		clock.BlockUntil(1)
		clock.Advance(3 * time.Second)
	}

	select {
	case err := <-done:
		assert.ErrorIs(t, err, domain.ErrReconnectGivenUp)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Run to give up")
	}

	assert.Equal(t, StateGivenUp, c.State())
	assert.Equal(t, 3, dialer.dialCount())
}

func TestClient_CloseDuringBackoffCancelsReconnect(t *testing.T) {
	clock := clockwork.NewFakeClock()
	dialer := newFakeDialer(100)
	c := New(dialer, "ws://server/ws", testOptions(clock))

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()

	// Wait until the first failure parks in its backoff timer, then close.
	clock.BlockUntil(1)
	c.Close()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Close during backoff")
	}

	assert.Equal(t, 1, dialer.dialCount(), "no dial after explicit close")
	assert.Equal(t, StateClosed, c.State())
}

func TestClient_ContextCancelStopsRun(t *testing.T) {
	clock := clockwork.NewFakeClock()
	dialer := newFakeDialer(100)
	c := New(dialer, "ws://server/ws", testOptions(clock))
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	clock.BlockUntil(1)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancel")
	}
}

func TestClient_FailuresSurfaceOnErrors(t *testing.T) {
	clock := clockwork.NewFakeClock()
	dialer := newFakeDialer(100)
	c := New(dialer, "ws://server/ws", testOptions(clock))
	defer c.Close()

	go func() { _ = c.Run(context.Background()) }()

	select {
	case err := <-c.Errors():
		assert.ErrorContains(t, err, "connection refused")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dial error")
	}
}
