package connection

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-livechat/internal/protocol"
)

var errDropped = errors.New("connection dropped")

type fakeTransport struct {
	inbound chan []byte
	closed  chan struct{}
	once    sync.Once

	mu      sync.Mutex
	written []protocol.Frame
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{inbound: make(chan []byte, 16), closed: make(chan struct{})}
}

func (t *fakeTransport) ReadMessage() ([]byte, error) {
	select {
	case b := <-t.inbound:
		return b, nil
	case <-t.closed:
		return nil, errDropped
	}
}

func (t *fakeTransport) WriteMessage(data []byte) error {
	select {
	case <-t.closed:
		return errDropped
	default:
	}
	f, err := protocol.Decode(data)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.written = append(t.written, f)
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) Close() error {
	t.once.Do(func() { close(t.closed) })
	return nil
}

func (t *fakeTransport) frames() []protocol.Frame {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]protocol.Frame(nil), t.written...)
}

// fakeDialer hands out transports and can be told to fail.
type fakeDialer struct {
	mu         sync.Mutex
	fail       int
	dials      []time.Time
	transports []*fakeTransport
}

func (d *fakeDialer) Dial(ctx context.Context) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials = append(d.dials, time.Now())
	if d.fail > 0 {
		d.fail--
		return nil, errors.New("connection refused")
	}
	t := newFakeTransport()
	d.transports = append(d.transports, t)
	return t, nil
}

func (d *fakeDialer) last() *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.transports) == 0 {
		return nil
	}
	return d.transports[len(d.transports)-1]
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.dials)
}

func (d *fakeDialer) dialTimes() []time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]time.Time(nil), d.dials...)
}

type transmitLog struct {
	mu  sync.Mutex
	ids []string
}

func (l *transmitLog) add(f protocol.Frame) {
	l.mu.Lock()
	l.ids = append(l.ids, f.MessageID)
	l.mu.Unlock()
}

func (l *transmitLog) get() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.ids...)
}

const testInterval = 150 * time.Millisecond

func newTestManager(d Dialer, tl *transmitLog) *Manager {
	cfg := Config{
		Dialer:      d,
		Init:        func() protocol.Frame { return protocol.NewInit(protocol.RoleCustomer, "s1") },
		SettleDelay: 10 * time.Millisecond,
		Backoff:     NewBackOff(BackoffConstant, testInterval),
	}
	if tl != nil {
		cfg.OnTransmitted = tl.add
	}
	return NewManager(cfg)
}

func msgFrame(id string) protocol.Frame {
	return protocol.NewMessage("s1", id, protocol.SenderCustomer, "text "+id, protocol.Now())
}

func frameIDs(frames []protocol.Frame) []string {
	var ids []string
	for _, f := range frames {
		if f.Type == protocol.TypeMessage {
			ids = append(ids, f.MessageID)
		}
	}
	return ids
}

func waitPhase(t *testing.T, m *Manager, p Phase) {
	t.Helper()
	require.Eventually(t, func() bool { return m.State().Phase == p }, 2*time.Second, 2*time.Millisecond,
		"phase never became %s (now %s)", p, m.State().Phase)
}

func TestOpenSendsInitThenFlushesQueueInOrder(t *testing.T) {
	d := &fakeDialer{}
	tl := &transmitLog{}
	m := newTestManager(d, tl)
	defer m.Close()

	assert.False(t, m.Send(msgFrame("m1")))
	assert.False(t, m.Send(msgFrame("m2")))
	assert.False(t, m.Send(protocol.NewTyping("s1", protocol.SenderCustomer, true)), "typing is dropped offline")
	require.Len(t, m.Pending(), 2)

	m.Open()
	waitPhase(t, m, PhaseOpen)

	require.Eventually(t, func() bool { return len(tl.get()) == 2 }, time.Second, 2*time.Millisecond)
	frames := d.last().frames()
	require.NotEmpty(t, frames)
	assert.Equal(t, protocol.TypeInit, frames[0].Type, "init goes first")
	assert.Equal(t, protocol.RoleCustomer, frames[0].Role)
	assert.Equal(t, []string{"m1", "m2"}, frameIDs(frames))
	assert.Empty(t, m.Pending())

	// Once settled, sends go straight out.
	require.Eventually(t, func() bool { return m.Send(msgFrame("m3")) }, time.Second, 2*time.Millisecond)
	assert.Equal(t, []string{"m1", "m2", "m3"}, frameIDs(d.last().frames()))
}

func TestNoDataBeforeSettle(t *testing.T) {
	d := &fakeDialer{}
	m := NewManager(Config{
		Dialer:      d,
		Init:        func() protocol.Frame { return protocol.NewInit(protocol.RoleAdmin, "") },
		SettleDelay: 100 * time.Millisecond,
		Backoff:     NewBackOff(BackoffConstant, testInterval),
	})
	defer m.Close()

	m.Open()
	waitPhase(t, m, PhaseOpen)

	assert.False(t, m.Send(msgFrame("early")), "frames during the settle window are queued")
	assert.Empty(t, frameIDs(d.last().frames()))

	require.Eventually(t, func() bool { return len(frameIDs(d.last().frames())) == 1 }, time.Second, 5*time.Millisecond)
}

func TestAbnormalCloseReconnectsWithinInterval(t *testing.T) {
	d := &fakeDialer{}
	tl := &transmitLog{}
	var statesMu sync.Mutex
	var phases []Phase
	m := newTestManager(d, tl)
	m.cfg.OnState = func(s State) {
		statesMu.Lock()
		phases = append(phases, s.Phase)
		statesMu.Unlock()
	}
	defer m.Close()

	m.Open()
	waitPhase(t, m, PhaseOpen)
	first := d.last()

	first.Close() // the server went away
	waitPhase(t, m, PhaseBackingOff)
	assert.Equal(t, 1, m.State().ReconnectAttempt)
	assert.NotEmpty(t, m.State().LastError)
	assert.False(t, m.Connected())

	// Composed while disconnected.
	m.Send(msgFrame("offline-1"))
	m.Send(msgFrame("offline-2"))

	waitPhase(t, m, PhaseOpen)
	times := d.dialTimes()
	require.Len(t, times, 2)
	assert.Less(t, times[1].Sub(times[0]), testInterval+time.Second, "redial happens after the fixed interval, not later")
	assert.Equal(t, 0, m.State().ReconnectAttempt, "attempt counter resets on open")

	second := d.last()
	require.NotSame(t, first, second)
	require.Eventually(t, func() bool { return len(frameIDs(second.frames())) == 2 }, time.Second, 2*time.Millisecond)
	assert.Equal(t, []string{"offline-1", "offline-2"}, frameIDs(second.frames()))
	assert.Equal(t, protocol.TypeInit, second.frames()[0].Type)
	assert.Equal(t, []string{"offline-1", "offline-2"}, tl.get())

	statesMu.Lock()
	defer statesMu.Unlock()
	assert.Contains(t, phases, PhaseBackingOff)
	assert.Contains(t, phases, PhaseConnecting)
}

func TestDialFailuresRetryIndefinitely(t *testing.T) {
	d := &fakeDialer{fail: 3}
	m := newTestManager(d, nil)
	defer m.Close()

	m.Open()
	require.Eventually(t, func() bool { return m.State().ReconnectAttempt >= 2 }, 2*time.Second, 2*time.Millisecond)
	assert.Contains(t, m.State().LastError, "refused")

	waitPhase(t, m, PhaseOpen)
	assert.Equal(t, 4, d.dialCount())
	assert.Equal(t, "", m.State().LastError)
}

func TestCloseCancelsReconnectButKeepsQueue(t *testing.T) {
	d := &fakeDialer{fail: 100}
	m := newTestManager(d, nil)

	m.Open()
	waitPhase(t, m, PhaseBackingOff)
	m.Send(msgFrame("kept"))

	require.NoError(t, m.Close())
	assert.Equal(t, PhaseDisconnected, m.State().Phase)
	dials := d.dialCount()

	time.Sleep(3 * testInterval)
	assert.Equal(t, dials, d.dialCount(), "no reconnect after an explicit close")
	require.Len(t, m.Pending(), 1)
	assert.Equal(t, "kept", m.Pending()[0].MessageID)

	// Reopening flushes what was kept.
	d.mu.Lock()
	d.fail = 0
	d.mu.Unlock()
	m.Open()
	defer m.Close()
	waitPhase(t, m, PhaseOpen)
	require.Eventually(t, func() bool {
		t := d.last()
		return t != nil && len(frameIDs(t.frames())) == 1
	}, time.Second, 2*time.Millisecond)
}

func TestExplicitCloseDoesNotReconnect(t *testing.T) {
	d := &fakeDialer{}
	m := newTestManager(d, nil)

	m.Open()
	waitPhase(t, m, PhaseOpen)
	require.NoError(t, m.Close())

	time.Sleep(3 * testInterval)
	assert.Equal(t, 1, d.dialCount())
	assert.Equal(t, PhaseDisconnected, m.State().Phase)
}

func TestDuplicateQueuedIDsKeepFirstPosition(t *testing.T) {
	m := newTestManager(&fakeDialer{}, nil)
	m.Send(msgFrame("a"))
	m.Send(msgFrame("b"))
	m.Send(msgFrame("a"))

	assert.Equal(t, []string{"a", "b"}, frameIDs(m.Pending()))
}

func TestInboundFramesReachHandler(t *testing.T) {
	d := &fakeDialer{}
	got := make(chan []byte, 1)
	m := newTestManager(d, nil)
	m.cfg.OnFrame = func(b []byte) { got <- b }
	defer m.Close()

	m.Open()
	waitPhase(t, m, PhaseOpen)
	d.last().inbound <- []byte(`{"type":"typing"}`)

	select {
	case b := <-got:
		assert.Equal(t, `{"type":"typing"}`, string(b))
	case <-time.After(time.Second):
		t.Fatal("frame never delivered")
	}
}

func TestWebSocketDialerRoundTrip(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	received := make(chan protocol.Frame, 4)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			f, err := protocol.Decode(data)
			if err != nil {
				continue
			}
			received <- f
			if f.Type == protocol.TypeInit {
				reply := protocol.NewMessage("s1", "admin-msg-1", protocol.SenderAdmin, "welcome", protocol.Now())
				_ = conn.WriteMessage(websocket.TextMessage, protocol.MustEncode(reply))
			}
		}
	}))
	defer srv.Close()

	inbound := make(chan []byte, 1)
	m := NewManager(Config{
		Dialer:      WebSocketDialer{URL: "ws" + strings.TrimPrefix(srv.URL, "http")},
		Init:        func() protocol.Frame { return protocol.NewInit(protocol.RoleCustomer, "s1") },
		SettleDelay: 5 * time.Millisecond,
		Backoff:     NewBackOff(BackoffConstant, testInterval),
		OnFrame:     func(b []byte) { inbound <- b },
	})
	defer m.Close()

	m.Send(msgFrame("queued"))
	m.Open()

	first := <-received
	assert.Equal(t, protocol.TypeInit, first.Type)
	assert.Equal(t, "s1", first.SessionID)

	select {
	case f := <-received:
		assert.Equal(t, "queued", f.MessageID)
	case <-time.After(2 * time.Second):
		t.Fatal("queued message never flushed")
	}

	select {
	case b := <-inbound:
		f, err := protocol.Decode(b)
		require.NoError(t, err)
		assert.Equal(t, "welcome", f.Content)
	case <-time.After(2 * time.Second):
		t.Fatal("reply never read")
	}
}

func TestExponentialBackOffNeverStops(t *testing.T) {
	b := NewBackOff(BackoffExponential, 10*time.Millisecond)
	for i := 0; i < 50; i++ {
		d := b.NextBackOff()
		require.Greater(t, d, time.Duration(0))
		require.LessOrEqual(t, d, 2*maxExponentialInterval)
	}
}
