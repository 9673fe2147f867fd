// Package container wires the whatscast services using go.uber.org/dig.
package container

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.uber.org/dig"

	"github.com/crystaldolphin/whatscast/internal/api"
	"github.com/crystaldolphin/whatscast/internal/broadcast"
	"github.com/crystaldolphin/whatscast/internal/bus"
	"github.com/crystaldolphin/whatscast/internal/config"
	"github.com/crystaldolphin/whatscast/internal/heartbeat"
	"github.com/crystaldolphin/whatscast/internal/notify"
	"github.com/crystaldolphin/whatscast/internal/relay"
	"github.com/crystaldolphin/whatscast/internal/schedule"
	"github.com/crystaldolphin/whatscast/internal/session"
	"github.com/crystaldolphin/whatscast/internal/store"
	"github.com/crystaldolphin/whatscast/internal/transport/whatsapp"
)

const (
	openTimeout       = 30 * time.Second
	heartbeatInterval = time.Minute
)

// Container holds the resolved service singletons.
// Callers use the typed getter methods; they never need to import dig directly.
type Container struct {
	events     *bus.Bus
	store      *store.Store
	session    *session.Manager
	dispatcher *broadcast.Dispatcher
	server     *api.Server
	scheduler  *schedule.Service
	watcher    *notify.Watcher
	relay      *relay.Relay
	heartbeat  *heartbeat.Service
}

func (c *Container) Events() *bus.Bus                  { return c.events }
func (c *Container) Store() *store.Store               { return c.store }
func (c *Container) Session() *session.Manager         { return c.session }
func (c *Container) Dispatcher() *broadcast.Dispatcher { return c.dispatcher }
func (c *Container) Server() *api.Server               { return c.server }
func (c *Container) Watcher() *notify.Watcher          { return c.watcher }

// Scheduler is nil unless scheduling is enabled.
func (c *Container) Scheduler() *schedule.Service { return c.scheduler }

// Relay is nil unless the AMQP relay is enabled.
func (c *Container) Relay() *relay.Relay { return c.relay }

// Heartbeat is nil when channels.whatsapp.staleAfterSec is 0.
func (c *Container) Heartbeat() *heartbeat.Service { return c.heartbeat }

// Close releases the database.
func (c *Container) Close() error { return c.store.Close() }

// New builds and wires all services from cfg. Nothing dials the bridge until
// InitAuth is called.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (*Container, error) {
	d := dig.New()

	provide := []any{
		func() *config.Config { return cfg },
		func() *slog.Logger { return log },
		func() context.Context { return ctx },
		newBus,
		newStore,
		newConnector,
		newSessionManager,
		newDispatcher,
		newServer,
		newScheduler,
		newNotifiers,
		newWatcher,
		newRelay,
		newHeartbeat,
	}
	for _, p := range provide {
		if err := d.Provide(p); err != nil {
			return nil, err
		}
	}

	var result *Container
	err := d.Invoke(func(
		events *bus.Bus,
		st *store.Store,
		sess *session.Manager,
		disp *broadcast.Dispatcher,
		srv *api.Server,
		sched *schedule.Service,
		watcher *notify.Watcher,
		rl *relay.Relay,
		hb *heartbeat.Service,
	) {
		result = &Container{
			events:     events,
			store:      st,
			session:    sess,
			dispatcher: disp,
			server:     srv,
			scheduler:  sched,
			watcher:    watcher,
			relay:      rl,
			heartbeat:  hb,
		}
	})
	if err != nil {
		return nil, dig.RootCause(err)
	}
	return result, nil
}

func newBus(cfg *config.Config, log *slog.Logger) *bus.Bus {
	return bus.New(cfg.Broadcast.EventBuffer, log)
}

func newStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (*store.Store, error) {
	ctx, cancel := context.WithTimeout(ctx, openTimeout)
	defer cancel()
	driver, dsn := cfg.StorageDSN()
	st, err := store.Open(ctx, driver, dsn, log)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", driver, err)
	}
	return st, nil
}

func newConnector(cfg *config.Config, log *slog.Logger) session.Connector {
	wa := cfg.Channels.WhatsApp
	return whatsapp.NewConnector(whatsapp.Config{
		BridgeURL:      wa.BridgeURL,
		BridgeToken:    wa.BridgeToken,
		ReconnectDelay: wa.ReconnectDelay(),
		RequestTimeout: wa.RequestTimeout(),
	}, log)
}

func newSessionManager(connect session.Connector, events *bus.Bus, cfg *config.Config, log *slog.Logger) *session.Manager {
	return session.NewManager(connect, events, session.ConnectOptions{
		ClientID: cfg.Channels.WhatsApp.ClientID,
		DataPath: cfg.SessionDataPath(),
	}, log)
}

func newDispatcher(st *store.Store, sess *session.Manager, events *bus.Bus, cfg *config.Config, log *slog.Logger) *broadcast.Dispatcher {
	bc := cfg.Broadcast
	dc := broadcast.DefaultConfig()
	dc.SuccessDelay = bc.SuccessDelay()
	dc.FailureDelay = bc.FailureDelay()
	dc.RatePerMinute = bc.RatePerMinute
	dc.PauseOnDisconnect = bc.PauseOnDisconnect
	if bc.ResumeTimeoutSec > 0 {
		dc.ResumeTimeout = bc.ResumeTimeout()
	}
	if bc.SaveAttempts > 0 {
		dc.SaveAttempts = bc.SaveAttempts
	}
	return broadcast.NewDispatcher(st, st, sess, events, dc, log)
}

func newServer(
	sess *session.Manager,
	disp *broadcast.Dispatcher,
	st *store.Store,
	events *bus.Bus,
	sched *schedule.Service,
	cfg *config.Config,
	log *slog.Logger,
) *api.Server {
	gw := cfg.Gateway
	srv := api.NewServer(sess, disp, st, events, api.Options{
		Addr:            gw.Addr,
		FrontendURL:     gw.FrontendURL,
		JWTSecret:       gw.JWTSecret,
		Keepalive:       gw.Keepalive(),
		ShutdownTimeout: gw.ShutdownTimeout(),
	}, log)
	if sched != nil {
		srv.SetScheduler(sched)
	}
	return srv
}

func newScheduler(disp *broadcast.Dispatcher, sess *session.Manager, cfg *config.Config, log *slog.Logger) *schedule.Service {
	if !cfg.Schedule.Enabled {
		return nil
	}
	return schedule.NewService(cfg.SchedulePath(), disp, sess, log)
}

func newNotifiers(cfg *config.Config, log *slog.Logger) []notify.Notifier {
	var out []notify.Notifier
	if tg := cfg.Channels.Telegram; tg.Enabled {
		if n, err := notify.NewTelegram(tg.Token, tg.ChatID); err != nil {
			log.Warn("container: telegram notifier disabled", "err", err)
		} else {
			out = append(out, n)
		}
	}
	if sl := cfg.Channels.Slack; sl.Enabled {
		if n, err := notify.NewSlack(sl.BotToken, sl.Channel); err != nil {
			log.Warn("container: slack notifier disabled", "err", err)
		} else {
			out = append(out, n)
		}
	}
	return out
}

func newWatcher(events *bus.Bus, notifiers []notify.Notifier, log *slog.Logger) *notify.Watcher {
	return notify.NewWatcher(events, log, notifiers...)
}

func newRelay(events *bus.Bus, cfg *config.Config, log *slog.Logger) *relay.Relay {
	if !cfg.Relay.Enabled {
		return nil
	}
	return relay.New(cfg.Relay.URL, cfg.Relay.Exchange, events, log)
}

func newHeartbeat(sess *session.Manager, watcher *notify.Watcher, cfg *config.Config, log *slog.Logger) *heartbeat.Service {
	after := cfg.Channels.WhatsApp.StaleAfter()
	if after <= 0 {
		return nil
	}
	return heartbeat.NewService(sess, watcher.Send, heartbeatInterval, after, log)
}
