// Package server exposes job control, document scanning and the event
// stream over HTTP.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/maplink/internal/events"
	"github.com/sells-group/maplink/internal/metrics"
	"github.com/sells-group/maplink/internal/model"
	"github.com/sells-group/maplink/internal/sheet"
)

// Jobs is the job control surface the server drives. *job.Controller
// implements it.
type Jobs interface {
	Start(ctx context.Context, doc []byte, inputName string, opts model.JobOptions) (string, error)
	Stop(id string) error
	Status() (model.Job, bool)
	Bus() *events.Bus
	OutputDir() string
}

// Config wires a Server.
type Config struct {
	Jobs           Jobs
	Metrics        *metrics.Metrics
	Sheet          sheet.Options
	UploadDir      string // uploaded documents are kept here when set
	MaxUploadBytes int64
	AllowedOrigins []string
	// Heartbeat is the SSE keep-alive interval.
	Heartbeat time.Duration
}

// Server routes HTTP requests to the job controller.
type Server struct {
	cfg    Config
	router chi.Router
	log    *zap.Logger
}

const (
	defaultMaxUpload = 50 << 20
	defaultHeartbeat = 15 * time.Second
)

// New builds the router.
func New(cfg Config) *Server {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUpload
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = defaultHeartbeat
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	s := &Server{cfg: cfg, log: zap.L().With(zap.String("component", "server"))}
	s.router = s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.cfg.Metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.cfg.Metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/scan", s.handleScan)
		r.Post("/start", s.handleStart)
		r.Post("/stop", s.handleStop)
		r.Get("/status", s.handleStatus)
		r.Get("/events", s.handleEvents)
	})
	r.Get("/outputs/{name}", s.handleOutput)
	return r
}

// Run serves on addr until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info("starting server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
