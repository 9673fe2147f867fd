package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/crystaldolphin/whatscast/internal/bus"
)

type fakeConn struct {
	mu       sync.Mutex
	initErr  error
	sendErr  error
	sent     []string
	closed   bool
	handlers Handlers
}

func (c *fakeConn) Initialize(context.Context) error { return c.initErr }

func (c *fakeConn) Send(_ context.Context, to, text string, _ Media) (Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, to+"|"+text)
	if c.sendErr != nil {
		return Receipt{}, c.sendErr
	}
	return Receipt{ID: "msg-1", Timestamp: time.Now()}, nil
}

func (c *fakeConn) Info(context.Context) (Info, error) {
	return Info{WID: "62811@c.us", PushName: "ops", Platform: "android"}, nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) sends() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

// newTestManager returns a Manager whose connector records every call and
// hands out conn.
func newTestManager(t *testing.T, conn *fakeConn) (*Manager, *bus.Bus, *atomic.Int32) {
	t.Helper()
	b := bus.New(16, nil)
	var calls atomic.Int32
	connect := func(_ context.Context, _ ConnectOptions, h Handlers) (Connection, error) {
		calls.Add(1)
		conn.handlers = h
		return conn, nil
	}
	return NewManager(connect, b, ConnectOptions{ClientID: "test"}, nil), b, &calls
}

func readyManager(t *testing.T, conn *fakeConn) (*Manager, *bus.Bus) {
	t.Helper()
	m, b, _ := newTestManager(t, conn)
	if err := m.InitAuth(context.Background()); err != nil {
		t.Fatalf("InitAuth: %v", err)
	}
	conn.handlers.OnReady()
	return m, b
}

func nextEvent(t *testing.T, ch <-chan bus.Event) bus.Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return nil
}

// ─── InitAuth ─────────────────────────────────────────────────────────────

func TestInitAuth_TwiceCallsConnectorOnce(t *testing.T) {
	conn := &fakeConn{}
	m, _, calls := newTestManager(t, conn)

	if err := m.InitAuth(context.Background()); err != nil {
		t.Fatalf("first InitAuth: %v", err)
	}
	if err := m.InitAuth(context.Background()); err != nil {
		t.Fatalf("second InitAuth: %v", err)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("expected 1 connector call, got %d", n)
	}
	if s := m.State(); s != StateInitializing {
		t.Errorf("expected initializing, got %s", s)
	}
}

func TestInitAuth_ConcurrentCallsCollapse(t *testing.T) {
	conn := &fakeConn{}
	m, _, calls := newTestManager(t, conn)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.InitAuth(context.Background())
		}()
	}
	wg.Wait()
	if n := calls.Load(); n != 1 {
		t.Errorf("expected 1 connector call, got %d", n)
	}
}

func TestInitAuth_SetupErrorFailsAndAllowsRetry(t *testing.T) {
	conn := &fakeConn{initErr: errors.New("bridge unreachable")}
	m, b, calls := newTestManager(t, conn)
	ch, _ := b.Subscribe(context.Background(), bus.TopicSession)

	err := m.InitAuth(context.Background())
	var he *HandshakeError
	if !errors.As(err, &he) {
		t.Fatalf("expected HandshakeError, got %v", err)
	}
	if s := m.State(); s != StateFailed {
		t.Fatalf("expected failed, got %s", s)
	}
	if e, ok := nextEvent(t, ch).(AuthFailureEvent); !ok || !strings.Contains(e.Data, "unreachable") {
		t.Errorf("expected auth_failure event, got %#v", e)
	}

	conn.initErr = nil
	if err := m.InitAuth(context.Background()); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("expected 2 connector calls, got %d", n)
	}
	if !conn.closed {
		t.Error("expected previous connection to be closed before retry")
	}
}

// ─── Handshake ────────────────────────────────────────────────────────────

func TestHandshake_FullSequence(t *testing.T) {
	conn := &fakeConn{}
	m, b, _ := newTestManager(t, conn)
	ch, _ := b.Subscribe(context.Background(), bus.TopicSession)

	if err := m.InitAuth(context.Background()); err != nil {
		t.Fatal(err)
	}

	conn.handlers.OnQR("2@abc,def,ghi")
	qr, ok := nextEvent(t, ch).(QREvent)
	if !ok {
		t.Fatal("expected qr event")
	}
	if !strings.HasPrefix(qr.Data, "data:image/png;base64,") {
		t.Errorf("unexpected qr data prefix: %.40s", qr.Data)
	}
	if qr.Code != "2@abc,def,ghi" {
		t.Errorf("code = %q", qr.Code)
	}
	if s := m.State(); s != StateAwaitingScan {
		t.Errorf("expected awaiting_scan, got %s", s)
	}
	if !m.Status().IsInitializing {
		t.Error("expected isInitializing during handshake")
	}

	conn.handlers.OnAuthenticated()
	if _, ok := nextEvent(t, ch).(AuthenticatedEvent); !ok {
		t.Fatal("expected authenticated event")
	}

	conn.handlers.OnReady()
	if _, ok := nextEvent(t, ch).(ReadyEvent); !ok {
		t.Fatal("expected ready event")
	}
	st := m.Status()
	if !st.IsReady || st.IsInitializing || st.State != StateReady {
		t.Errorf("unexpected status %+v", st)
	}
}

func TestHandshake_LateSubscriberSeesReady(t *testing.T) {
	conn := &fakeConn{}
	_, b := readyManager(t, conn)

	ch, err := b.Subscribe(context.Background(), bus.TopicSession)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := nextEvent(t, ch).(ReadyEvent); !ok {
		t.Error("late subscriber should immediately receive ready")
	}
}

func TestHandshake_DisconnectAndRecover(t *testing.T) {
	conn := &fakeConn{}
	m, _ := readyManager(t, conn)

	conn.handlers.OnDisconnected("socket closed")
	if s := m.State(); s != StateDisconnected {
		t.Fatalf("expected disconnected, got %s", s)
	}

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		done <- m.WaitReady(ctx)
	}()
	time.Sleep(10 * time.Millisecond)
	conn.handlers.OnReady()
	if err := <-done; err != nil {
		t.Fatalf("WaitReady: %v", err)
	}
}

func TestHandshake_StaleHandlersIgnored(t *testing.T) {
	first := &fakeConn{initErr: errors.New("boom")}
	b := bus.New(16, nil)
	conns := []*fakeConn{first, {}}
	var i int
	connect := func(_ context.Context, _ ConnectOptions, h Handlers) (Connection, error) {
		c := conns[i]
		i++
		c.handlers = h
		return c, nil
	}
	m := NewManager(connect, b, ConnectOptions{}, nil)

	_ = m.InitAuth(context.Background())
	if err := m.InitAuth(context.Background()); err != nil {
		t.Fatal(err)
	}
	first.handlers.OnReady()
	if s := m.State(); s == StateReady {
		t.Error("ready from a superseded connection must be ignored")
	}
}

// ─── SendMessage ──────────────────────────────────────────────────────────

func TestSendMessage_NotReadyDoesNotTouchTransport(t *testing.T) {
	conn := &fakeConn{}
	m, _, _ := newTestManager(t, conn)
	_ = m.InitAuth(context.Background())

	_, err := m.SendMessage(context.Background(), "62811", "hi", nil)
	if !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
	if len(conn.sends()) != 0 {
		t.Error("transport must not be called when not ready")
	}
}

func TestSendMessage_NormalizesRoutingID(t *testing.T) {
	conn := &fakeConn{}
	m, _ := readyManager(t, conn)

	if _, err := m.SendMessage(context.Background(), "+62 811-000", "hello", nil); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := m.SendMessage(context.Background(), "12036@g.us", "group", nil); err != nil {
		t.Fatalf("send: %v", err)
	}
	got := conn.sends()
	want := []string{"62811000@c.us|hello", "12036@g.us|group"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("send %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSendMessage_TransportErrorWrapped(t *testing.T) {
	cause := errors.New("number not on whatsapp")
	conn := &fakeConn{sendErr: cause}
	m, _ := readyManager(t, conn)

	_, err := m.SendMessage(context.Background(), "62811", "hi", nil)
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Error("expected cause to be unwrappable")
	}
}

func TestInfo_RequiresReady(t *testing.T) {
	conn := &fakeConn{}
	m, _, _ := newTestManager(t, conn)
	if _, err := m.Info(context.Background()); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}

	m, _ = readyManager(t, conn)
	info, err := m.Info(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if info.PushName != "ops" {
		t.Errorf("pushname = %q", info.PushName)
	}
}

// ─── Shutdown ─────────────────────────────────────────────────────────────

func TestShutdown_ClosesAndCompletes(t *testing.T) {
	conn := &fakeConn{}
	m, b := readyManager(t, conn)
	ch, _ := b.Subscribe(context.Background(), bus.TopicSession)
	nextEvent(t, ch) // replayed ready

	m.Shutdown()
	m.Shutdown()

	if !conn.closed {
		t.Error("expected connection closed")
	}
	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected session stream to complete")
		}
	case <-time.After(time.Second):
		t.Fatal("stream not completed")
	}
	if err := m.InitAuth(context.Background()); !errors.Is(err, ErrShutdown) {
		t.Errorf("expected ErrShutdown after shutdown, got %v", err)
	}
	if st := m.Status(); st.IsReady || st.State != StateIdle {
		t.Errorf("status after shutdown = %+v", st)
	}
	var nr *NotReadyError
	if _, err := m.SendMessage(context.Background(), "6281", "hi", nil); !errors.As(err, &nr) || nr.State != StateIdle {
		t.Errorf("send after shutdown = %v", err)
	}
}

func TestShutdown_DuringConnectClosesLateConnection(t *testing.T) {
	conn := &fakeConn{}
	entered := make(chan struct{})
	release := make(chan struct{})
	connect := func(_ context.Context, _ ConnectOptions, h Handlers) (Connection, error) {
		close(entered)
		<-release
		conn.handlers = h
		return conn, nil
	}
	m := NewManager(connect, bus.New(16, nil), ConnectOptions{}, nil)

	done := make(chan error, 1)
	go func() { done <- m.InitAuth(context.Background()) }()
	<-entered
	m.Shutdown()
	close(release)

	if err := <-done; !errors.Is(err, ErrShutdown) {
		t.Fatalf("InitAuth = %v, want ErrShutdown", err)
	}
	conn.mu.Lock()
	closed := conn.closed
	conn.mu.Unlock()
	if !closed {
		t.Error("connection created during shutdown was left open")
	}
	if s := m.State(); s != StateIdle {
		t.Errorf("state = %s, want idle", s)
	}
}

// ─── NormalizePhone ───────────────────────────────────────────────────────

func TestNormalizePhone(t *testing.T) {
	cases := []struct{ in, want string }{
		{"628111", "628111@c.us"},
		{"+62 811-1", "628111@c.us"},
		{"(021) 555.01", "02155501@c.us"},
		{"628111@c.us", "628111@c.us"},
		{"1203@g.us", "1203@g.us"},
		{"   ", ""},
	}
	for _, c := range cases {
		if got := NormalizePhone(c.in); got != c.want {
			t.Errorf("NormalizePhone(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestState_TextRoundTrip(t *testing.T) {
	for s := StateIdle; s <= StateDisconnected; s++ {
		text, _ := s.MarshalText()
		var got State
		if err := got.UnmarshalText(text); err != nil || got != s {
			t.Errorf("%s: got %v, %v", s, got, err)
		}
	}
	var bad State
	if err := bad.UnmarshalText([]byte("paired")); err == nil {
		t.Error("expected error for unknown state")
	}
}
