// Package broadcast runs bulk campaigns through the messaging session.
//
// A run resolves its recipients, sends to each of them strictly in order with
// a pause after every attempt, publishes progress on the broadcast topic and
// finally stores a summary. One failed recipient never aborts the run.
package broadcast

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"

	"github.com/crystaldolphin/whatscast/internal/bus"
	"github.com/crystaldolphin/whatscast/internal/session"
)

// Config tunes pacing and recovery.
type Config struct {
	SuccessDelay      time.Duration
	FailureDelay      time.Duration
	RatePerMinute     int // 0 disables the global cap
	PauseOnDisconnect bool
	ResumeTimeout     time.Duration
	SaveAttempts      int
	SaveBackoff       time.Duration
}

// DefaultConfig returns the production pacing: 1s after a success, 2s after
// a failure.
func DefaultConfig() Config {
	return Config{
		SuccessDelay:      time.Second,
		FailureDelay:      2 * time.Second,
		PauseOnDisconnect: true,
		ResumeTimeout:     2 * time.Minute,
		SaveAttempts:      3,
		SaveBackoff:       500 * time.Millisecond,
	}
}

// Dispatcher runs one campaign at a time per session.
type Dispatcher struct {
	resolver RecipientResolver
	store    SummaryStore
	sender   Sender
	events   Publisher
	cfg      Config
	log      *slog.Logger
	limiter  *rate.Limiter
	now      func() time.Time

	sem chan struct{}

	mu     sync.Mutex
	cancel context.CancelCauseFunc
}

// NewDispatcher creates a Dispatcher. A nil log uses slog.Default().
func NewDispatcher(resolver RecipientResolver, store SummaryStore, sender Sender, events Publisher, cfg Config, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	if cfg.SaveAttempts <= 0 {
		cfg.SaveAttempts = 1
	}
	d := &Dispatcher{
		resolver: resolver,
		store:    store,
		sender:   sender,
		events:   events,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
		sem:      make(chan struct{}, 1),
	}
	if cfg.RatePerMinute > 0 {
		d.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RatePerMinute)), 1)
	}
	return d
}

// Running reports whether a campaign is in flight.
func (d *Dispatcher) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cancel != nil
}

// Cancel stops the in-flight campaign between recipients. It reports whether
// a campaign was running.
func (d *Dispatcher) Cancel() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel == nil {
		return false
	}
	d.cancel(ErrCancelled)
	return true
}

// Dispatch runs c and returns its stored summary. Resolution failures return
// a *ResolutionError before any event is published; a summary that cannot be
// stored comes back with a *PersistenceError. Cancellation is not an error:
// the summary is marked cancelled.
func (d *Dispatcher) Dispatch(ctx context.Context, c Campaign, initiatorID *int64) (Summary, error) {
	recipients, err := d.resolver.Resolve(ctx, c.Filters)
	if err != nil {
		return Summary{}, &ResolutionError{Err: err}
	}
	recipients = dedupe(recipients)

	select {
	case d.sem <- struct{}{}:
	case <-ctx.Done():
		return Summary{}, ctx.Err()
	}
	defer func() { <-d.sem }()

	runCtx, cancel := context.WithCancelCause(ctx)
	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.cancel = nil
		d.mu.Unlock()
		cancel(nil)
	}()

	counts, skipped := d.run(runCtx, c, recipients)
	cancelled := skipped > 0

	d.events.Publish(bus.TopicBroadcast, FinishEvent{Counts: counts, Cancelled: cancelled})
	d.log.Info("broadcast: finished",
		"total", counts.Total, "sent", counts.Sent, "failed", counts.Failed, "cancelled", cancelled)

	summary := Summary{
		Message:         c.Message,
		Filters:         c.Filters,
		TotalRecipients: counts.Total,
		Sent:            counts.Sent,
		Failed:          counts.Failed,
		Cancelled:       cancelled,
		InitiatorID:     initiatorID,
		SentAt:          d.now().UTC(),
	}
	return d.save(context.WithoutCancel(ctx), summary)
}

// run sends to every recipient and reports how many of them were skipped
// because the run was cancelled.
func (d *Dispatcher) run(ctx context.Context, c Campaign, recipients []Recipient) (counts Counts, skipped int) {
	counts = Counts{Total: len(recipients)}
	media := c.Media.Media()
	var gaveUp bool

	d.log.Info("broadcast: starting", "total", counts.Total, "media", media != nil)
	d.events.Publish(bus.TopicBroadcast, StartEvent{Counts: counts})

	for _, r := range recipients {
		out := Outcome{ID: r.ID, Phone: r.Phone, Status: StatusOK}

		if ctx.Err() != nil {
			skipped++
			counts.Failed++
			out.Status = StatusFailed
			out.Error = context.Cause(ctx).Error()
			d.events.Publish(bus.TopicBroadcast, ProgressEvent{Counts: counts, Current: out})
			continue
		}

		err := d.send(ctx, r, c.Message, media, &gaveUp)
		if err != nil {
			if ctx.Err() != nil {
				skipped++
			}
			counts.Failed++
			out.Status = StatusFailed
			out.Error = err.Error()
			d.log.Warn("broadcast: send failed", "recipient", r.ID, "phone", r.Phone, "err", err)
		} else {
			counts.Sent++
			d.log.Debug("broadcast: sent", "recipient", r.ID, "phone", r.Phone)
		}
		d.events.Publish(bus.TopicBroadcast, ProgressEvent{Counts: counts, Current: out})

		if err != nil {
			d.pause(ctx, d.cfg.FailureDelay)
		} else {
			d.pause(ctx, d.cfg.SuccessDelay)
		}
	}
	return counts, skipped
}

// send delivers to one recipient. While the session is disconnected it waits
// up to ResumeTimeout for a reconnect; once a wait has expired, later
// recipients fail fast until the session is seen Ready again.
func (d *Dispatcher) send(ctx context.Context, r Recipient, text string, media session.Media, gaveUp *bool) error {
	if d.cfg.PauseOnDisconnect {
		switch d.sender.State() {
		case session.StateReady:
			*gaveUp = false
		case session.StateDisconnected:
			if !*gaveUp {
				d.waitReconnect(ctx, gaveUp)
			}
		}
	}
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			if cause := context.Cause(ctx); cause != nil {
				return cause
			}
			return err
		}
	}
	_, err := d.sender.SendMessage(ctx, r.Phone, text, media)
	return err
}

func (d *Dispatcher) waitReconnect(ctx context.Context, gaveUp *bool) {
	d.log.Warn("broadcast: session disconnected, waiting for reconnect", "timeout", d.cfg.ResumeTimeout)
	wctx, cancel := context.WithTimeout(ctx, d.cfg.ResumeTimeout)
	defer cancel()
	err := d.sender.WaitReady(wctx)
	switch {
	case err == nil:
		d.log.Info("broadcast: session recovered, resuming")
	case ctx.Err() == nil:
		*gaveUp = true
		d.log.Warn("broadcast: session still down, continuing without waiting")
	}
}

func (d *Dispatcher) pause(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func (d *Dispatcher) save(ctx context.Context, s Summary) (Summary, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.cfg.SaveBackoff

	attempt := 0
	saved, err := backoff.Retry(ctx, func() (Summary, error) {
		attempt++
		saved, err := d.store.SaveSummary(ctx, s)
		if err != nil {
			d.log.Warn("broadcast: save summary failed", "attempt", attempt, "err", err)
		}
		return saved, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(d.cfg.SaveAttempts)))
	if err != nil {
		return s, &PersistenceError{Summary: s, Err: err}
	}
	return saved, nil
}

// dedupe drops repeated recipients by id and by routing id, keeping the
// first occurrence.
func dedupe(in []Recipient) []Recipient {
	seen := make(map[string]struct{}, len(in)*2)
	out := make([]Recipient, 0, len(in))
	for _, r := range in {
		var keys []string
		if route := session.NormalizePhone(r.Phone); route != "" {
			keys = append(keys, "route:"+route)
		}
		if r.ID != 0 {
			keys = append(keys, "id:"+strconv.FormatInt(r.ID, 10))
		}
		dup := false
		for _, k := range keys {
			if _, ok := seen[k]; ok {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		for _, k := range keys {
			seen[k] = struct{}{}
		}
		out = append(out, r)
	}
	return out
}

// IsCancelled reports whether err is the dispatcher's cancellation cause.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}
