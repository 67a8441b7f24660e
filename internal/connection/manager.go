// Package connection keeps exactly one logical transport alive for a role and
// drives the reconnect state machine:
//
//	disconnected -> connecting -> open -> (abnormal close) -> backing-off -> connecting ...
//	any -> closing -> disconnected   (explicit Close)
//
// Transport failures are absorbed here. Callers only see State and Connected.
package connection

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"go-livechat/internal/protocol"
)

// ErrClosed is reported as the last error after an explicit Close.
var ErrClosed = errors.New("connection closed")

// Phase of the connection state machine.
type Phase string

const (
	PhaseDisconnected Phase = "disconnected"
	PhaseConnecting   Phase = "connecting"
	PhaseOpen         Phase = "open"
	PhaseClosing      Phase = "closing"
	PhaseBackingOff   Phase = "backing-off"
)

// State is the externally visible connection state.
type State struct {
	Phase            Phase
	LastError        string
	ReconnectAttempt int
}

// Config wires a Manager.
type Config struct {
	Dialer Dialer

	// Init builds the handshake frame sent first on every open.
	Init func() protocol.Frame

	SettleDelay time.Duration
	DialTimeout time.Duration
	Backoff     backoff.BackOff
	Logger      *slog.Logger

	// OnFrame receives every inbound payload, on the read goroutine.
	OnFrame func(data []byte)
	// OnState is told about every phase change.
	OnState func(State)
	// OnTransmitted fires once a frame has been written to an open transport.
	OnTransmitted func(protocol.Frame)
}

// Manager owns the transport for one role.
type Manager struct {
	cfg Config
	log *slog.Logger

	mu          sync.Mutex
	state       State
	transport   Transport
	gen         uint64 // bumped whenever the current transport stops being current
	ready       bool   // open, settled and outbox drained
	running     bool   // between Open and Close
	outbox      *outbox
	retryTimer  *time.Timer
	settleTimer *time.Timer
	ctx         context.Context
	cancel      context.CancelFunc

	writeMu sync.Mutex
}

// NewManager creates a disconnected manager.
func NewManager(cfg Config) *Manager {
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = 0
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.Backoff == nil {
		cfg.Backoff = NewBackOff(BackoffConstant, DefaultReconnectInterval)
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		cfg:    cfg,
		log:    log.With("component", "connection"),
		state:  State{Phase: PhaseDisconnected},
		outbox: newOutbox(),
	}
}

// Open starts connecting. It returns immediately; failures are retried in the
// background until Close. Calling Open on a running manager is a no-op.
func (m *Manager) Open() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.cfg.Backoff.Reset()
	gen := m.gen
	m.mu.Unlock()

	go m.connect(gen)
}

// Close shuts the transport down and cancels any pending reconnect. Frames
// still waiting in the outbox are kept for the next Open.
func (m *Manager) Close() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	m.cancel()
	m.stopTimers()
	m.gen++
	m.ready = false
	t := m.transport
	m.transport = nil
	m.setPhase(PhaseClosing)
	closing := m.state
	m.mu.Unlock()
	m.emitState(closing)

	var err error
	if t != nil {
		err = t.Close()
	}

	m.mu.Lock()
	if !m.running {
		m.setPhase(PhaseDisconnected)
	}
	final := m.state
	m.mu.Unlock()
	m.emitState(final)
	return err
}

// Send transmits f when the transport is open and settled. Otherwise message
// and ack frames wait in the outbox (in submission order) and everything else
// is dropped. It reports whether f was written right away.
func (m *Manager) Send(f protocol.Frame) bool {
	if f.Timestamp == "" {
		f.Timestamp = protocol.Now()
	}

	m.mu.Lock()
	if !m.ready || m.outbox.len() > 0 {
		if queueable(f) {
			m.outbox.push(f)
		}
		m.mu.Unlock()
		return false
	}
	gen, t := m.gen, m.transport
	m.mu.Unlock()

	if err := m.write(gen, t, f); err != nil {
		m.mu.Lock()
		if queueable(f) {
			m.outbox.push(f)
		}
		m.mu.Unlock()
		m.fail(gen, err)
		return false
	}
	return true
}

// State returns a snapshot of the connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connected reports whether the transport is open.
func (m *Manager) Connected() bool {
	return m.State().Phase == PhaseOpen
}

// Pending returns the frames waiting for the next open, oldest first.
func (m *Manager) Pending() []protocol.Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.outbox.snapshot()
}

func (m *Manager) connect(gen uint64) {
	m.mu.Lock()
	if !m.running || gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.retryTimer = nil
	m.setPhase(PhaseConnecting)
	st := m.state
	ctx := m.ctx
	m.mu.Unlock()
	m.emitState(st)

	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.DialTimeout)
	t, err := m.cfg.Dialer.Dial(dialCtx)
	cancel()

	m.mu.Lock()
	if !m.running || gen != m.gen {
		m.mu.Unlock()
		if t != nil {
			_ = t.Close()
		}
		return
	}
	if err != nil {
		m.scheduleRetry(err)
		st := m.state
		m.mu.Unlock()
		m.emitState(st)
		return
	}

	m.gen++
	gen = m.gen
	m.transport = t
	m.ready = false
	m.state = State{Phase: PhaseOpen}
	m.cfg.Backoff.Reset()
	st = m.state
	m.mu.Unlock()

	m.log.Info("connection open")
	m.emitState(st)

	if m.cfg.Init != nil {
		if err := m.write(gen, t, m.cfg.Init()); err != nil {
			m.fail(gen, err)
			return
		}
	}

	go m.readLoop(gen, t)

	m.mu.Lock()
	if gen == m.gen {
		m.settleTimer = time.AfterFunc(m.cfg.SettleDelay, func() { m.flush(gen) })
	}
	m.mu.Unlock()
}

func (m *Manager) readLoop(gen uint64, t Transport) {
	for {
		data, err := t.ReadMessage()
		if err != nil {
			m.fail(gen, err)
			return
		}
		if m.cfg.OnFrame != nil {
			m.cfg.OnFrame(data)
		}
	}
}

// flush drains the outbox after the settle delay, oldest first. Frames sent
// while the flush runs queue up behind and are drained by the same loop.
func (m *Manager) flush(gen uint64) {
	for {
		m.mu.Lock()
		if gen != m.gen || m.transport == nil {
			m.mu.Unlock()
			return
		}
		f, ok := m.outbox.front()
		if !ok {
			m.ready = true
			m.settleTimer = nil
			m.mu.Unlock()
			return
		}
		t := m.transport
		m.mu.Unlock()

		if err := m.write(gen, t, f); err != nil {
			m.fail(gen, err)
			return
		}

		m.mu.Lock()
		m.outbox.pop(f)
		m.mu.Unlock()
	}
}

func (m *Manager) write(gen uint64, t Transport, f protocol.Frame) error {
	data, err := protocol.Encode(f)
	if err != nil {
		// Not a transport problem; nothing to retry.
		m.log.Error("dropping unencodable frame", "type", f.Type, "error", err)
		return nil
	}

	m.writeMu.Lock()
	m.mu.Lock()
	current := gen == m.gen && m.transport == t
	m.mu.Unlock()
	if !current {
		m.writeMu.Unlock()
		return ErrClosed
	}
	err = t.WriteMessage(data)
	m.writeMu.Unlock()
	if err != nil {
		return err
	}

	if m.cfg.OnTransmitted != nil {
		m.cfg.OnTransmitted(f)
	}
	return nil
}

// fail handles an abnormal end of transport gen.
func (m *Manager) fail(gen uint64, cause error) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	t := m.transport
	m.transport = nil
	m.ready = false
	m.gen++
	if m.settleTimer != nil {
		m.settleTimer.Stop()
		m.settleTimer = nil
	}
	if !m.running {
		m.setPhase(PhaseDisconnected)
		st := m.state
		m.mu.Unlock()
		m.emitState(st)
		return
	}
	m.scheduleRetry(cause)
	st := m.state
	m.mu.Unlock()

	if t != nil {
		_ = t.Close()
	}
	m.log.Warn("connection lost", "error", cause, "attempt", st.ReconnectAttempt)
	m.emitState(st)
}

// scheduleRetry must be called with mu held.
func (m *Manager) scheduleRetry(cause error) {
	wait := m.cfg.Backoff.NextBackOff()
	if wait == backoff.Stop {
		wait = DefaultReconnectInterval
	}
	m.state.Phase = PhaseBackingOff
	m.state.LastError = cause.Error()
	m.state.ReconnectAttempt++

	gen := m.gen
	m.retryTimer = time.AfterFunc(wait, func() { m.connect(gen) })
	m.log.Debug("reconnect scheduled", "in", wait, "attempt", m.state.ReconnectAttempt)
}

func (m *Manager) stopTimers() {
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	if m.settleTimer != nil {
		m.settleTimer.Stop()
		m.settleTimer = nil
	}
}

func (m *Manager) setPhase(p Phase) {
	m.state.Phase = p
	if p == PhaseClosing {
		m.state.LastError = ""
	}
}

func (m *Manager) emitState(st State) {
	if m.cfg.OnState != nil {
		m.cfg.OnState(st)
	}
}
