// Package api is the HTTP surface: session control, campaign submission,
// broadcast history and two server-sent event streams.
//
// Routes:
//
//	GET  /api/whatsapp/auth                   start the pairing handshake
//	GET  /api/whatsapp/check                  session status snapshot
//	GET  /api/whatsapp/qr                     SSE of the session topic
//	GET  /api/whatsapp/info                   logged-in account (409 until ready)
//	POST /api/broadcast/send                  run a campaign, returns its summary
//	GET  /api/broadcast                       list summaries, newest first
//	GET  /api/broadcast/events                SSE of the broadcast topic
//	POST /api/broadcast/cancel                cancel the running campaign
//	GET  /api/broadcast/{id}                  one summary
//	GET  /api/broadcast/schedules             next run of each scheduled campaign
//	POST /api/broadcast/schedules/{name}/run  fire a scheduled campaign now
//
// Broadcast routes require a bearer token when a JWT secret is configured.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/crystaldolphin/whatscast/internal/broadcast"
	"github.com/crystaldolphin/whatscast/internal/bus"
	"github.com/crystaldolphin/whatscast/internal/session"
)

// Session is the session surface the API drives.
type Session interface {
	InitAuth(ctx context.Context) error
	Status() session.Status
	Info(ctx context.Context) (session.Info, error)
}

// Dispatcher runs campaigns.
type Dispatcher interface {
	Dispatch(ctx context.Context, c broadcast.Campaign, initiatorID *int64) (broadcast.Summary, error)
	Cancel() bool
	Running() bool
}

// Summaries reads the broadcast log.
type Summaries interface {
	ListSummaries(ctx context.Context, limit, offset int) ([]broadcast.Summary, error)
	GetSummary(ctx context.Context, id int64) (broadcast.Summary, error)
}

// Scheduler exposes scheduled campaigns.
type Scheduler interface {
	Next() map[string]time.Time
	RunNow(ctx context.Context, name string) (broadcast.Summary, error)
}

// Subscriber opens event streams.
type Subscriber interface {
	Subscribe(ctx context.Context, t bus.Topic) (<-chan bus.Event, error)
}

// Options configure the server.
type Options struct {
	Addr            string
	FrontendURL     string
	JWTSecret       string
	Keepalive       time.Duration
	ShutdownTimeout time.Duration
}

// Server serves the HTTP API.
type Server struct {
	session    Session
	dispatcher Dispatcher
	summaries  Summaries
	events     Subscriber
	scheduler  Scheduler
	opts       Options
	log        *slog.Logger
}

// NewServer creates a Server. A nil log uses slog.Default().
func NewServer(sess Session, d Dispatcher, sums Summaries, events Subscriber, opts Options, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	if opts.Keepalive <= 0 {
		opts.Keepalive = 15 * time.Second
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	return &Server{
		session:    sess,
		dispatcher: d,
		summaries:  sums,
		events:     events,
		opts:       opts,
		log:        log,
	}
}

// SetScheduler enables the schedule routes. Must be called before Handler.
func (s *Server) SetScheduler(sc Scheduler) { s.scheduler = sc }

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	if c := s.corsHandler(); c != nil {
		r.Use(c)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/whatsapp", func(r chi.Router) {
			r.Get("/auth", s.handleAuth)
			r.Get("/check", s.handleCheck)
			r.Get("/qr", s.handleQRStream)
			r.Get("/info", s.handleInfo)
		})
		r.Route("/broadcast", func(r chi.Router) {
			r.Use(s.authenticate)
			r.Post("/send", s.handleSend)
			r.Get("/", s.handleList)
			r.Get("/events", s.handleBroadcastStream)
			r.Post("/cancel", s.handleCancel)
			if s.scheduler != nil {
				r.Get("/schedules", s.handleSchedules)
				r.Post("/schedules/{name}/run", s.handleRunSchedule)
			}
			r.Get("/{id}", s.handleGet)
		})
	})
	return r
}

// Run serves on opts.Addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("api: listening", "addr", s.opts.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	s.log.Info("api: shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return ctx.Err()
}
