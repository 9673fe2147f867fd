// Package session owns the single messaging connection and drives its
// QR-code pairing handshake.
//
// State machine:
//
//	Idle → Initializing → AwaitingScan → Authenticated → Ready
//	any handshake state → Failed        (auth failure or setup error)
//	Ready → Disconnected → Ready        (transport self-recovery)
//	Failed → Initializing               (fresh InitAuth)
//
// Transitions are compare-and-swap on an atomic state, so concurrent InitAuth
// calls collapse into a single handshake.
package session

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/crystaldolphin/whatscast/internal/bus"
)

// Publisher is the part of the event bus the Manager needs.
type Publisher interface {
	Publish(t bus.Topic, e bus.Event)
}

// Status is a point-in-time snapshot of the session.
type Status struct {
	InstanceID     string `json:"instanceId"`
	IsReady        bool   `json:"isReady"`
	IsInitializing bool   `json:"isInitializing"`
	State          State  `json:"state"`
}

// Manager is the per-process session singleton.
type Manager struct {
	connect    Connector
	events     Publisher
	opts       ConnectOptions
	log        *slog.Logger
	instanceID string

	state atomic.Int32
	gen   atomic.Uint64 // handshake generation; stale handlers are ignored

	mu      sync.Mutex
	conn    Connection
	changed chan struct{}

	shutdown     atomic.Bool
	shutdownOnce sync.Once
}

// NewManager creates an idle Manager. A nil log uses slog.Default().
func NewManager(connect Connector, events Publisher, opts ConnectOptions, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		connect:    connect,
		events:     events,
		opts:       opts,
		log:        log,
		instanceID: uuid.NewString(),
		changed:    make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State { return State(m.state.Load()) }

// Status returns a non-blocking snapshot.
func (m *Manager) Status() Status {
	s := m.State()
	return Status{
		InstanceID:     m.instanceID,
		IsReady:        s == StateReady,
		IsInitializing: s.handshaking(),
		State:          s,
	}
}

// InitAuth starts the pairing handshake. Unless the session is Idle or
// Failed it returns nil without side effects. Handshake progress is published
// on the session topic; only setup errors are returned.
func (m *Manager) InitAuth(ctx context.Context) error {
	if m.shutdown.Load() {
		return ErrShutdown
	}
	if !m.transition(StateInitializing, StateIdle, StateFailed) {
		m.log.Debug("session: init ignored", "state", m.State())
		return nil
	}
	gen := m.gen.Add(1)
	m.log.Info("session: initializing", "instance", m.instanceID, "client", m.opts.ClientID)

	m.mu.Lock()
	old := m.conn
	m.conn = nil
	m.mu.Unlock()
	if old != nil {
		if err := old.Close(); err != nil {
			m.log.Warn("session: close previous connection", "err", err)
		}
	}

	conn, err := m.connect(ctx, m.opts, m.handlers(gen))
	if err != nil {
		m.fail(gen, err)
		return &HandshakeError{Err: err}
	}

	// Shutdown may have run while connect was in flight.
	m.mu.Lock()
	if m.shutdown.Load() {
		m.mu.Unlock()
		if err := conn.Close(); err != nil {
			m.log.Warn("session: close connection", "err", err)
		}
		m.settle(StateIdle)
		return ErrShutdown
	}
	m.conn = conn
	m.mu.Unlock()

	if err := conn.Initialize(ctx); err != nil {
		if m.shutdown.Load() {
			return ErrShutdown
		}
		m.fail(gen, err)
		return &HandshakeError{Err: err}
	}
	return nil
}

// SendMessage delivers text (and optional media) to phone. It fails with a
// *NotReadyError without touching the transport unless the session is Ready.
func (m *Manager) SendMessage(ctx context.Context, phone, text string, media Media) (Receipt, error) {
	if s := m.State(); s != StateReady {
		return Receipt{}, &NotReadyError{State: s}
	}
	to := NormalizePhone(phone)
	if to == "" {
		return Receipt{}, ErrInvalidPhone
	}

	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return Receipt{}, &NotReadyError{State: m.State()}
	}

	r, err := conn.Send(ctx, to, text, media)
	if err != nil {
		return Receipt{}, &TransportError{To: to, Err: err}
	}
	return r, nil
}

// Info returns the logged-in account details. Requires Ready.
func (m *Manager) Info(ctx context.Context) (Info, error) {
	if s := m.State(); s != StateReady {
		return Info{}, &NotReadyError{State: s}
	}
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return Info{}, &NotReadyError{State: m.State()}
	}
	info, err := conn.Info(ctx)
	if err != nil {
		return Info{}, fmt.Errorf("session: info: %w", err)
	}
	return info, nil
}

// WaitReady blocks until the session is Ready or ctx is done.
func (m *Manager) WaitReady(ctx context.Context) error {
	for {
		m.mu.Lock()
		ch := m.changed
		m.mu.Unlock()
		if m.State() == StateReady {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Shutdown closes the connection, leaves the session Idle and completes the
// session topic. Idempotent.
func (m *Manager) Shutdown() {
	m.shutdownOnce.Do(func() {
		m.shutdown.Store(true)
		m.gen.Add(1)

		m.mu.Lock()
		conn := m.conn
		m.conn = nil
		m.mu.Unlock()
		if conn != nil {
			if err := conn.Close(); err != nil {
				m.log.Warn("session: close connection", "err", err)
			}
		}
		m.settle(StateIdle)
		if c, ok := m.events.(interface{ Complete(bus.Topic) }); ok {
			c.Complete(bus.TopicSession)
		}
		m.log.Info("session: shut down", "instance", m.instanceID)
	})
}

// ---- handshake callbacks ---------------------------------------------------

func (m *Manager) handlers(gen uint64) Handlers {
	current := func() bool { return m.gen.Load() == gen }
	return Handlers{
		OnQR: func(code string) {
			if current() {
				m.onChallenge(code)
			}
		},
		OnAuthenticated: func() {
			if current() {
				m.onAuthenticated()
			}
		},
		OnReady: func() {
			if current() {
				m.onReady()
			}
		},
		OnAuthFailure: func(reason string) {
			if current() {
				m.onAuthFailure(reason)
			}
		},
		OnDisconnected: func(reason string) {
			if current() {
				m.onDisconnected(reason)
			}
		},
	}
}

func (m *Manager) onChallenge(code string) {
	m.transition(StateAwaitingScan, StateInitializing, StateAwaitingScan, StateDisconnected)

	data, err := EncodeQR(code)
	if err != nil {
		m.log.Error("session: encode qr", "err", err)
	}
	m.log.Info("session: qr received, waiting for scan")
	m.events.Publish(bus.TopicSession, QREvent{Data: data, Code: code})
}

func (m *Manager) onAuthenticated() {
	m.transition(StateAuthenticated, StateInitializing, StateAwaitingScan, StateDisconnected)
	m.log.Info("session: authenticated")
	m.events.Publish(bus.TopicSession, AuthenticatedEvent{})
}

func (m *Manager) onReady() {
	m.transition(StateReady, StateInitializing, StateAwaitingScan, StateAuthenticated, StateDisconnected)
	m.log.Info("session: ready")
	m.events.Publish(bus.TopicSession, ReadyEvent{})
}

func (m *Manager) onAuthFailure(reason string) {
	m.transition(StateFailed, StateInitializing, StateAwaitingScan, StateAuthenticated, StateDisconnected, StateReady)
	m.log.Error("session: auth failure", "reason", reason)
	m.events.Publish(bus.TopicSession, AuthFailureEvent{Data: reason})
}

func (m *Manager) onDisconnected(reason string) {
	m.transition(StateDisconnected, StateInitializing, StateAwaitingScan, StateAuthenticated, StateReady)
	m.log.Warn("session: disconnected", "reason", reason)
	m.events.Publish(bus.TopicSession, DisconnectedEvent{Data: reason})
}

// fail moves a setup error into Failed and reports it as an auth failure.
func (m *Manager) fail(gen uint64, err error) {
	if m.gen.Load() != gen {
		return
	}
	m.onAuthFailure(err.Error())
}

// transition sets the state to `to` if the current state is one of from.
func (m *Manager) transition(to State, from ...State) bool {
	for {
		cur := State(m.state.Load())
		allowed := false
		for _, f := range from {
			if cur == f {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
		if m.state.CompareAndSwap(int32(cur), int32(to)) {
			if cur != to {
				m.notify()
			}
			return true
		}
	}
}

// settle forces the state to `to` regardless of the current state.
func (m *Manager) settle(to State) {
	if State(m.state.Swap(int32(to))) != to {
		m.notify()
	}
}

func (m *Manager) notify() {
	m.mu.Lock()
	close(m.changed)
	m.changed = make(chan struct{})
	m.mu.Unlock()
}

// EncodeQR renders a pairing challenge as a PNG data URL.
func EncodeQR(code string) (string, error) {
	png, err := qrcode.Encode(code, qrcode.Medium, 256)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
