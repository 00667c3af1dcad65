// Package api serves research runs over HTTP: submitting queries, reading
// stored runs, and streaming live progress as Server-Sent Events.
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sells-group/devtools-research/internal/model"
	"github.com/sells-group/devtools-research/internal/progress"
	"github.com/sells-group/devtools-research/internal/store"
)

// Runner executes one research run. *pipeline.Pipeline satisfies it.
type Runner interface {
	RunWithID(ctx context.Context, runID, query string, emitter progress.Emitter) (*model.Outcome, error)
}

const (
	defaultHeartbeat = 15 * time.Second
	saveTimeout      = 10 * time.Second
	subscribeBuffer  = 64
)

// Server wires the research runner, run store, and progress broker to HTTP.
type Server struct {
	runner    Runner
	store     store.Store
	broker    *progress.Broker
	gatherer  prometheus.Gatherer
	origins   []string
	heartbeat time.Duration
	newID     func() string
	log       *zap.Logger

	runCtx     context.Context
	cancelRuns context.CancelFunc
	wg         sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithGatherer exposes the given registry on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithAllowedOrigins sets the CORS allow-list.
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) { s.origins = origins }
}

// WithHeartbeat sets the SSE keep-alive interval.
func WithHeartbeat(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.heartbeat = d
		}
	}
}

// WithIDGenerator replaces the run ID generator.
func WithIDGenerator(fn func() string) Option {
	return func(s *Server) { s.newID = fn }
}

// WithLogger sets the server's logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// NewServer creates a Server. Runs it starts are bound to the server's own
// lifetime, not to the request that submitted them; Close cancels them.
func NewServer(runner Runner, st store.Store, broker *progress.Broker, opts ...Option) *Server {
	s := &Server{
		runner:    runner,
		store:     st,
		broker:    broker,
		gatherer:  prometheus.DefaultGatherer,
		origins:   []string{"*"},
		heartbeat: defaultHeartbeat,
		newID:     uuid.NewString,
		log:       zap.L(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.runCtx, s.cancelRuns = context.WithCancel(context.Background())
	return s
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "Last-Event-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Post("/research", s.handleResearch)
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{id}", s.handleGetRun)
		r.Get("/runs/{id}/events", s.handleEvents)
	})
	return r
}

// Close cancels in-flight runs and waits for them to record their outcome.
func (s *Server) Close() {
	s.cancelRuns()
	s.wg.Wait()
}

// Wait blocks until every run started so far has finished.
func (s *Server) Wait() {
	s.wg.Wait()
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("api: request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("elapsed", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
