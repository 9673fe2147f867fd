// Package schedule fires named campaigns on cron expressions.
//
// Entries live in a YAML file:
//
//	schedules:
//	  - name: weekly-promo
//	    cron: "0 9 * * MON"
//	    tz: Europe/Berlin
//	    message: "New arrivals this week"
//	    countryId: 4
//	    initiatorId: 1
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	robfigcron "github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/crystaldolphin/whatscast/internal/broadcast"
	"github.com/crystaldolphin/whatscast/internal/session"
)

const reloadDebounce = 250 * time.Millisecond

// ErrUnknownEntry is returned by RunNow for a name not in the file.
var ErrUnknownEntry = errors.New("schedule: unknown entry")

var parser = robfigcron.NewParser(
	robfigcron.Minute | robfigcron.Hour | robfigcron.Dom | robfigcron.Month | robfigcron.Dow | robfigcron.Descriptor,
)

// Entry is one scheduled campaign.
type Entry struct {
	Name               string `yaml:"name"`
	Cron               string `yaml:"cron"`
	TZ                 string `yaml:"tz,omitempty"`
	Disabled           bool   `yaml:"disabled,omitempty"`
	InitiatorID        *int64 `yaml:"initiatorId,omitempty"`
	broadcast.Campaign `yaml:",inline"`
}

type file struct {
	Schedules []Entry `yaml:"schedules"`
}

// Validate checks the entry can be armed.
func (e Entry) Validate() error {
	if e.Name == "" {
		return errors.New("schedule: entry without name")
	}
	if e.Message == "" && e.Media == nil {
		return fmt.Errorf("schedule: %s: message or media is required", e.Name)
	}
	if _, err := e.schedule(); err != nil {
		return fmt.Errorf("schedule: %s: %w", e.Name, err)
	}
	return nil
}

// Next returns the first fire time after t.
func (e Entry) Next(t time.Time) (time.Time, error) {
	sched, err := e.schedule()
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(t), nil
}

func (e Entry) schedule() (robfigcron.Schedule, error) {
	sched, err := parser.Parse(e.Cron)
	if err != nil {
		return nil, err
	}
	if e.TZ == "" {
		return sched, nil
	}
	loc, err := time.LoadLocation(e.TZ)
	if err != nil {
		return nil, err
	}
	return locSchedule{inner: sched, loc: loc}, nil
}

// Load reads entries from path. A missing file yields no entries.
func Load(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("schedule: parse %s: %w", path, err)
	}
	seen := make(map[string]bool, len(f.Schedules))
	for _, e := range f.Schedules {
		if err := e.Validate(); err != nil {
			return nil, err
		}
		if seen[e.Name] {
			return nil, fmt.Errorf("schedule: duplicate entry %q", e.Name)
		}
		seen[e.Name] = true
	}
	return f.Schedules, nil
}

// Save writes entries to path, creating parent directories.
func Save(path string, entries []Entry) error {
	data, err := yaml.Marshal(file{Schedules: entries})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Dispatcher runs a campaign.
type Dispatcher interface {
	Dispatch(ctx context.Context, c broadcast.Campaign, initiatorID *int64) (broadcast.Summary, error)
}

// Readiness reports the session state.
type Readiness interface {
	State() session.State
}

// Service arms every enabled entry of the schedule file.
type Service struct {
	path       string
	dispatcher Dispatcher
	session    Readiness
	log        *slog.Logger

	mu      sync.Mutex
	entries map[string]Entry
	ids     map[string]robfigcron.EntryID
	cron    *robfigcron.Cron
}

// NewService creates a Service for the file at path.
func NewService(path string, d Dispatcher, sess Readiness, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	cl := cronLogger{log: log}
	return &Service{
		path:       path,
		dispatcher: d,
		session:    sess,
		log:        log,
		entries:    make(map[string]Entry),
		ids:        make(map[string]robfigcron.EntryID),
		cron: robfigcron.New(
			robfigcron.WithParser(parser),
			robfigcron.WithLogger(cl),
			robfigcron.WithChain(robfigcron.Recover(cl), robfigcron.SkipIfStillRunning(cl)),
		),
	}
}

// Start loads and arms the entries, then blocks until ctx is done. Edits to
// the file are picked up while running; an invalid edit keeps the previous
// entries.
func (s *Service) Start(ctx context.Context) error {
	if err := s.reload(ctx); err != nil {
		return err
	}
	s.cron.Start()
	defer func() { <-s.cron.Stop().Done() }()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.log.Warn("schedule: file watch disabled", "err", err)
		<-ctx.Done()
		return ctx.Err()
	}
	defer watcher.Close()
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err == nil {
		err = watcher.Add(dir)
	}
	if err != nil {
		s.log.Warn("schedule: file watch disabled", "dir", dir, "err", err)
	}

	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				<-ctx.Done()
				return ctx.Err()
			}
			if filepath.Clean(ev.Name) == filepath.Clean(s.path) {
				debounce = time.After(reloadDebounce)
			}
		case err, ok := <-watcher.Errors:
			if ok && err != nil {
				s.log.Warn("schedule: watch error", "err", err)
			}
		case <-debounce:
			debounce = nil
			if err := s.reload(ctx); err != nil {
				s.log.Warn("schedule: reload failed, keeping previous entries", "err", err)
			}
		}
	}
}

// reload replaces the armed entries with the file contents.
func (s *Service) reload(ctx context.Context) error {
	entries, err := Load(s.path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for name, id := range s.ids {
		s.cron.Remove(id)
		delete(s.ids, name)
	}
	clear(s.entries)
	for _, e := range entries {
		s.entries[e.Name] = e
		if e.Disabled {
			continue
		}
		sched, _ := e.schedule() // validated by Load
		name := e.Name
		s.ids[name] = s.cron.Schedule(sched, robfigcron.FuncJob(func() { s.fire(ctx, name) }))
	}
	s.log.Info("schedule: loaded", "path", s.path, "entries", len(entries), "armed", len(s.ids))
	return nil
}

// Next returns the next fire time of each armed entry.
func (s *Service) Next() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]time.Time, len(s.ids))
	for name, id := range s.ids {
		out[name] = s.cron.Entry(id).Next
	}
	return out
}

// RunNow fires the named entry immediately. Unlike a scheduled run it reports
// a session that is not Ready as an error.
func (s *Service) RunNow(ctx context.Context, name string) (broadcast.Summary, error) {
	e, err := s.lookup(name)
	if err != nil {
		return broadcast.Summary{}, err
	}
	if st := s.session.State(); st != session.StateReady {
		return broadcast.Summary{}, &session.NotReadyError{State: st}
	}
	return s.run(ctx, e)
}

func (s *Service) fire(ctx context.Context, name string) {
	e, err := s.lookup(name)
	if err != nil {
		s.log.Warn("schedule: entry vanished", "name", name)
		return
	}
	if st := s.session.State(); st != session.StateReady {
		s.log.Warn("schedule: session not ready, skipping", "name", name, "state", st)
		return
	}
	if _, err := s.run(ctx, e); err != nil {
		s.log.Error("schedule: run failed", "name", name, "err", err)
	}
}

func (s *Service) run(ctx context.Context, e Entry) (broadcast.Summary, error) {
	s.log.Info("schedule: running", "name", e.Name)
	sum, err := s.dispatcher.Dispatch(ctx, e.Campaign, e.InitiatorID)
	if err != nil {
		return sum, err
	}
	s.log.Info("schedule: done", "name", e.Name, "id", sum.ID, "sent", sum.Sent, "failed", sum.Failed)
	return sum, nil
}

func (s *Service) lookup(name string) (Entry, error) {
	s.mu.Lock()
	e, ok := s.entries[name]
	s.mu.Unlock()
	if ok {
		return e, nil
	}
	// RunNow may be called before Start (CLI), so fall back to the file.
	entries, err := Load(s.path)
	if err != nil {
		return Entry{}, err
	}
	for _, e := range entries {
		if e.Name == name {
			return e, nil
		}
	}
	return Entry{}, fmt.Errorf("%w: %s", ErrUnknownEntry, name)
}

type locSchedule struct {
	inner robfigcron.Schedule
	loc   *time.Location
}

func (l locSchedule) Next(t time.Time) time.Time {
	return l.inner.Next(t.In(l.loc))
}

// cronLogger routes robfig/cron's logging to slog.
type cronLogger struct {
	log *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.log.Debug("schedule: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.log.Error("schedule: "+msg, append(keysAndValues, "err", err)...)
}
