package schedule

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/crystaldolphin/whatscast/internal/broadcast"
	"github.com/crystaldolphin/whatscast/internal/session"
)

type fakeDispatcher struct {
	mu    sync.Mutex
	calls []broadcast.Campaign
	who   []*int64
}

func (f *fakeDispatcher) Dispatch(_ context.Context, c broadcast.Campaign, initiator *int64) (broadcast.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	f.who = append(f.who, initiator)
	return broadcast.Summary{ID: int64(len(f.calls)), Message: c.Message}, nil
}

func (f *fakeDispatcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeState struct{ st session.State }

func (f fakeState) State() session.State { return f.st }

func quietLog() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "schedules.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const sample = `
schedules:
  - name: weekly
    cron: "0 9 * * MON"
    tz: UTC
    message: "New arrivals"
    countryId: 4
    eventId: 2
    initiatorId: 7
    media:
      url: https://cdn.example.com/promo.png
  - name: paused
    cron: "@daily"
    message: "off for now"
    disabled: true
`

// ─── Load ─────────────────────────────────────────────────────────────────

func TestLoad(t *testing.T) {
	entries, err := Load(writeFile(t, sample))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	e := entries[0]
	if e.Name != "weekly" || e.Message != "New arrivals" {
		t.Errorf("entry = %+v", e)
	}
	if e.CountryID == nil || *e.CountryID != 4 || e.EventID == nil || *e.EventID != 2 {
		t.Errorf("filters = %+v", e.Filters)
	}
	if e.InitiatorID == nil || *e.InitiatorID != 7 {
		t.Errorf("initiator = %v", e.InitiatorID)
	}
	if e.Media == nil || e.Media.URL != "https://cdn.example.com/promo.png" {
		t.Errorf("media = %+v", e.Media)
	}
	if !entries[1].Disabled {
		t.Error("expected second entry disabled")
	}
}

func TestLoad_Missing(t *testing.T) {
	entries, err := Load(filepath.Join(t.TempDir(), "none.yaml"))
	if err != nil || entries != nil {
		t.Fatalf("got %v, %v", entries, err)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"bad cron":  "schedules:\n  - {name: a, cron: 'every day', message: hi}\n",
		"no name":   "schedules:\n  - {cron: '@daily', message: hi}\n",
		"no body":   "schedules:\n  - {name: a, cron: '@daily'}\n",
		"bad tz":    "schedules:\n  - {name: a, cron: '@daily', tz: Mars/Base, message: hi}\n",
		"duplicate": "schedules:\n  - {name: a, cron: '@daily', message: hi}\n  - {name: a, cron: '@daily', message: hi}\n",
		"not yaml":  "schedules: [",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeFile(t, body)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "schedules.yaml")
	country := int64(3)
	in := []Entry{{
		Name:     "monthly",
		Cron:     "0 10 1 * *",
		Campaign: broadcast.Campaign{Message: "hello", Filters: broadcast.Filters{CountryID: &country}},
	}}
	if err := Save(path, in); err != nil {
		t.Fatalf("Save: %v", err)
	}
	out, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(out) != 1 || out[0].Message != "hello" || out[0].CountryID == nil || *out[0].CountryID != 3 {
		t.Errorf("got %+v", out)
	}
}

func TestEntry_Next(t *testing.T) {
	e := Entry{Name: "x", Cron: "0 9 * * MON", TZ: "Asia/Tokyo"}
	from := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC) // Wednesday
	next, err := e.Next(from)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	want := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC) // 09:00 JST Monday
	if !next.Equal(want) {
		t.Errorf("next = %s, want %s", next.UTC(), want)
	}
	if _, err := (Entry{Cron: "nope"}).Next(from); err == nil {
		t.Error("expected parse error")
	}
}

// ─── Service ──────────────────────────────────────────────────────────────

func TestRunNow(t *testing.T) {
	d := &fakeDispatcher{}
	s := NewService(writeFile(t, sample), d, fakeState{session.StateReady}, quietLog())

	sum, err := s.RunNow(context.Background(), "weekly")
	if err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if sum.Message != "New arrivals" || d.count() != 1 {
		t.Errorf("summary = %+v, calls = %d", sum, d.count())
	}
	if d.who[0] == nil || *d.who[0] != 7 {
		t.Errorf("initiator = %v", d.who[0])
	}
}

func TestRunNow_NotReady(t *testing.T) {
	d := &fakeDispatcher{}
	s := NewService(writeFile(t, sample), d, fakeState{session.StateAwaitingScan}, quietLog())

	_, err := s.RunNow(context.Background(), "weekly")
	if !errors.Is(err, session.ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
	if d.count() != 0 {
		t.Error("dispatcher must not be called")
	}
}

func TestRunNow_Unknown(t *testing.T) {
	s := NewService(writeFile(t, sample), &fakeDispatcher{}, fakeState{session.StateReady}, quietLog())
	if _, err := s.RunNow(context.Background(), "nope"); !errors.Is(err, ErrUnknownEntry) {
		t.Fatalf("expected ErrUnknownEntry, got %v", err)
	}
}

func TestFire_SkipsWhenNotReady(t *testing.T) {
	d := &fakeDispatcher{}
	s := NewService(writeFile(t, sample), d, fakeState{session.StateDisconnected}, quietLog())
	s.fire(context.Background(), "weekly")
	if d.count() != 0 {
		t.Error("expected skipped run")
	}
}

func TestStart_ArmsEnabledEntries(t *testing.T) {
	s := NewService(writeFile(t, sample), &fakeDispatcher{}, fakeState{session.StateReady}, quietLog())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	var next map[string]time.Time
	for time.Now().Before(deadline) {
		if next = s.Next(); len(next) > 0 && !next["weekly"].IsZero() {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(next) != 1 {
		t.Fatalf("expected only the enabled entry armed, got %v", next)
	}
	if wd := next["weekly"].UTC().Weekday(); wd != time.Monday {
		t.Errorf("next run on %s, want Monday", wd)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Start returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

func TestStart_InvalidFile(t *testing.T) {
	s := NewService(writeFile(t, "schedules: ["), &fakeDispatcher{}, fakeState{}, quietLog())
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("expected load error")
	}
}

func TestStart_ReloadsOnEdit(t *testing.T) {
	path := writeFile(t, sample)
	s := NewService(path, &fakeDispatcher{}, fakeState{session.StateReady}, quietLog())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Start(ctx)

	waitFor := func(want func(map[string]time.Time) bool) map[string]time.Time {
		t.Helper()
		deadline := time.Now().Add(3 * time.Second)
		var next map[string]time.Time
		for time.Now().Before(deadline) {
			if next = s.Next(); want(next) {
				return next
			}
			time.Sleep(20 * time.Millisecond)
		}
		t.Fatalf("timed out, next = %v", next)
		return nil
	}
	waitFor(func(n map[string]time.Time) bool { _, ok := n["weekly"]; return ok })

	edited := "schedules:\n  - {name: nightly, cron: '@daily', message: hi}\n"
	if err := os.WriteFile(path, []byte(edited), 0o644); err != nil {
		t.Fatal(err)
	}
	next := waitFor(func(n map[string]time.Time) bool { _, ok := n["nightly"]; return ok })
	if _, ok := next["weekly"]; ok {
		t.Errorf("removed entry still armed: %v", next)
	}

	// A broken edit keeps the previous entries.
	if err := os.WriteFile(path, []byte("schedules: ["), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(4 * reloadDebounce)
	if _, ok := s.Next()["nightly"]; !ok {
		t.Errorf("entries dropped after invalid edit: %v", s.Next())
	}
}
