package notify

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/crystaldolphin/whatscast/internal/broadcast"
	"github.com/crystaldolphin/whatscast/internal/bus"
	"github.com/crystaldolphin/whatscast/internal/session"
)

const notifyTimeout = 15 * time.Second

// Subscriber opens event streams.
type Subscriber interface {
	Subscribe(ctx context.Context, t bus.Topic) (<-chan bus.Event, error)
}

// Watcher turns bus events into operator notices.
type Watcher struct {
	events    Subscriber
	notifiers []Notifier
	log       *slog.Logger

	// Only the first challenge of a handshake is forwarded; refreshed codes
	// arrive every few seconds.
	qrSent bool
}

// NewWatcher creates a Watcher fanning out to notifiers.
func NewWatcher(events Subscriber, log *slog.Logger, notifiers ...Notifier) *Watcher {
	if log == nil {
		log = slog.Default()
	}
	return &Watcher{events: events, notifiers: notifiers, log: log}
}

// Run forwards notices until ctx is done or both topics complete.
func (w *Watcher) Run(ctx context.Context) error {
	if len(w.notifiers) == 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	sessionCh, err := w.events.Subscribe(ctx, bus.TopicSession)
	if err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	broadcastCh, err := w.events.Subscribe(ctx, bus.TopicBroadcast)
	if err != nil {
		return fmt.Errorf("notify: %w", err)
	}

	for sessionCh != nil || broadcastCh != nil {
		var e bus.Event
		var ok bool
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok = <-sessionCh:
			if !ok {
				sessionCh = nil
				continue
			}
		case e, ok = <-broadcastCh:
			if !ok {
				broadcastCh = nil
				continue
			}
		}
		if n, ok := w.notice(e); ok {
			_ = w.deliver(ctx, n)
		}
	}
	return nil
}

func (w *Watcher) notice(e bus.Event) (Notice, bool) {
	switch ev := e.(type) {
	case session.QREvent:
		if w.qrSent {
			return Notice{}, false
		}
		img, err := decodeDataURL(ev.Data)
		if err != nil {
			w.log.Warn("notify: bad qr image", "err", err)
		}
		w.qrSent = true
		return Notice{Text: "WhatsApp needs pairing: scan this QR code from the phone.", Image: img}, true
	case session.ReadyEvent:
		w.qrSent = false
		return Notice{Text: "WhatsApp session is ready."}, true
	case session.AuthFailureEvent:
		w.qrSent = false
		return Notice{Text: "WhatsApp authentication failed: " + ev.Data}, true
	case session.DisconnectedEvent:
		w.qrSent = false
		return Notice{Text: "WhatsApp disconnected: " + ev.Data}, true
	case broadcast.FinishEvent:
		text := fmt.Sprintf("Broadcast finished: %d/%d sent, %d failed.", ev.Sent, ev.Total, ev.Failed)
		if ev.Cancelled {
			text = fmt.Sprintf("Broadcast cancelled: %d/%d sent, %d failed.", ev.Sent, ev.Total, ev.Failed)
		}
		return Notice{Text: text}, true
	}
	return Notice{}, false
}

// Send delivers a text notice outside the event stream. It returns the
// joined errors of the notifiers that failed.
func (w *Watcher) Send(ctx context.Context, text string) error {
	return w.deliver(ctx, Notice{Text: text})
}

func (w *Watcher) deliver(ctx context.Context, n Notice) error {
	var errs []error
	for _, nt := range w.notifiers {
		nctx, cancel := context.WithTimeout(ctx, notifyTimeout)
		if err := nt.Notify(nctx, n); err != nil {
			w.log.Warn("notify: delivery failed", "notifier", nt.Name(), "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", nt.Name(), err))
		}
		cancel()
	}
	return errors.Join(errs...)
}

func decodeDataURL(s string) ([]byte, error) {
	_, payload, ok := strings.Cut(s, ",")
	if !ok {
		return nil, fmt.Errorf("not a data URL")
	}
	return base64.StdEncoding.DecodeString(payload)
}
