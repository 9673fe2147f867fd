// Package heartbeat provides a periodic session check that reminds operators
// when the session has been stuck in Failed or Disconnected. Recovery stays
// operator driven: a Failed session waits for the next InitAuth.
package heartbeat

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/crystaldolphin/whatscast/internal/session"
)

// StateSource reports the session state.
type StateSource interface {
	State() session.State
}

// OnStaleFunc is called once per stuck episode.
type OnStaleFunc func(ctx context.Context, text string) error

// Service runs a periodic check of the session state.
type Service struct {
	session  StateSource
	onStale  OnStaleFunc
	interval time.Duration
	after    time.Duration
	now      func() time.Time
	log      *slog.Logger

	since    time.Time // start of the current stuck episode
	reminded bool
}

// NewService creates a heartbeat Service that calls onStale once the session
// has been Failed or Disconnected for at least after.
// interval defaults to one minute if zero.
func NewService(sess StateSource, onStale OnStaleFunc, interval, after time.Duration, log *slog.Logger) *Service {
	if interval <= 0 {
		interval = time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		session:  sess,
		onStale:  onStale,
		interval: interval,
		after:    after,
		now:      time.Now,
		log:      log,
	}
}

// Start runs the heartbeat loop until ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info("heartbeat: started", "interval", s.interval, "after", s.after)

	for {
		select {
		case <-ticker.C:
			s.check(ctx)
		case <-ctx.Done():
			s.log.Info("heartbeat: stopped")
			return ctx.Err()
		}
	}
}

func (s *Service) check(ctx context.Context) {
	st := s.session.State()
	if st != session.StateFailed && st != session.StateDisconnected {
		s.since, s.reminded = time.Time{}, false
		return
	}

	now := s.now()
	if s.since.IsZero() {
		s.since = now
	}
	stuck := now.Sub(s.since)
	if s.reminded || stuck < s.after {
		return
	}
	s.reminded = true

	text := fmt.Sprintf("WhatsApp session has been %s for %s.", st, stuck.Round(time.Second))
	if st == session.StateFailed {
		text += " Run `whatscast login` to pair again."
	}
	s.log.Warn("heartbeat: session stuck", "state", st, "for", stuck)
	if s.onStale == nil {
		return
	}
	if err := s.onStale(ctx, text); err != nil {
		s.log.Error("heartbeat: reminder", "err", err)
	}
}
