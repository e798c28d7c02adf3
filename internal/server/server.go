package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/prateekraj3711-alt/PwC/internal/config"
	"github.com/prateekraj3711-alt/PwC/internal/jobs"
	"github.com/prateekraj3711-alt/PwC/internal/scheduler"
)

// Server hosts the JSON API.
type Server struct {
	cfg       config.ServerConfig
	logger    *zap.Logger
	svc       *Service
	queue     *jobs.Queue
	sched     *scheduler.Scheduler
	startedAt time.Time

	// baseCtx parents scheduler runs started over HTTP, so they stop
	// with the process, not with the request that toggled them.
	baseCtx context.Context
	httpSrv *http.Server
}

// New assembles the router and the HTTP server.
func New(baseCtx context.Context, cfg config.ServerConfig, logger *zap.Logger, svc *Service, queue *jobs.Queue, sched *scheduler.Scheduler) *Server {
	s := &Server{
		cfg:       cfg,
		logger:    logger.Named("http"),
		svc:       svc,
		queue:     queue,
		sched:     sched,
		startedAt: time.Now(),
		baseCtx:   baseCtx,
	}
	s.httpSrv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.routes(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Post("/start-login", s.handleStartLogin)
	r.Post("/complete-login", s.handleCompleteLogin)
	r.Delete("/sessions/all", s.handleDeleteAll)
	r.Delete("/sessions/{id}", s.handleDeleteSession)
	r.Get("/session/latest", s.handleLatestSession)
	r.Post("/zapier-start-login", s.handleZapierStartLogin)
	r.Post("/zapier-complete-login", s.handleZapierCompleteLogin)
	r.Get("/status/{ticket_id}", s.handleTicketStatus)
	r.Post("/schedule/start", s.handleScheduleStart)
	r.Post("/schedule/stop", s.handleScheduleStop)
	return r
}

// Handler exposes the assembled router, for tests.
func (s *Server) Handler() http.Handler { return s.httpSrv.Handler }

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("Request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

// Start serves until the context is cancelled, then drains with the
// configured shutdown timeout.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Listening", zap.String("addr", s.cfg.Addr))
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	s.logger.Info("Shutting down")
	return s.httpSrv.Shutdown(shutdownCtx)
}
