package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/pagesplit/pagesplit/internal/engine"
)

const shutdownTimeout = 10 * time.Second

// Options configure a Server. Zero values are usable.
type Options struct {
	Port  int
	Token string
	// DB is only used to report the database size on /health.
	DB       *sql.DB
	Gatherer prometheus.Gatherer
	Logger   zerolog.Logger
}

type Server struct {
	engine    *engine.Engine
	db        *sql.DB
	port      int
	token     string
	logger    zerolog.Logger
	gatherer  prometheus.Gatherer
	router    *mux.Router
	startTime time.Time
}

func New(eng *engine.Engine, opts Options) *Server {
	srv := &Server{
		engine:    eng,
		db:        opts.DB,
		port:      opts.Port,
		token:     opts.Token,
		logger:    opts.Logger,
		gatherer:  opts.Gatherer,
		router:    mux.NewRouter(),
		startTime: time.Now(),
	}
	if srv.token == "" {
		srv.token = generateToken()
	}
	if srv.gatherer == nil {
		srv.gatherer = prometheus.NewRegistry()
	}

	srv.setupRoutes()
	return srv
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	// Tracker endpoints, called from visitors' browsers.
	public := s.router.PathPrefix("/api").Subrouter()
	public.Use(mux.MiddlewareFunc(handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", "DNT"}),
	)))
	public.HandleFunc("/tests", s.handleRunningTests).Methods(http.MethodGet, http.MethodOptions)
	public.HandleFunc("/tests/{id}/add_participant", s.handleAddParticipant).Methods(http.MethodPost, http.MethodOptions)
	public.HandleFunc("/tests/{id}/log_conversion", s.handleLogConversion).Methods(http.MethodPost, http.MethodOptions)
	public.HandleFunc("/subjects/{subject}/serve", s.handleServe).Methods(http.MethodPost, http.MethodOptions)
	public.HandleFunc("/goals", s.handleGoalReached).Methods(http.MethodPost, http.MethodOptions)
	public.HandleFunc("/goal-types", s.handleGoalTypes).Methods(http.MethodGet, http.MethodOptions)

	// Admin endpoints (protected)
	admin := s.router.PathPrefix("/api/admin").Subrouter()
	admin.Use(s.authMiddleware)
	admin.HandleFunc("/experiments", s.handleListExperiments).Methods(http.MethodGet)
	admin.HandleFunc("/experiments", s.handleCreateExperiment).Methods(http.MethodPost)
	admin.HandleFunc("/experiments/{id}", s.handleGetExperiment).Methods(http.MethodGet)
	admin.HandleFunc("/experiments/{id}", s.handleDeleteExperiment).Methods(http.MethodDelete)
	admin.HandleFunc("/experiments/{id}/{transition:start|pause|cancel|finish}", s.handleTransition).Methods(http.MethodPost)
	admin.HandleFunc("/experiments/{id}/complete", s.handleComplete).Methods(http.MethodPost)
	admin.HandleFunc("/experiments/{id}/report", s.handleReport).Methods(http.MethodGet)
	admin.HandleFunc("/experiments/{id}/series", s.handleSeries).Methods(http.MethodGet)
	admin.HandleFunc("/experiments/{id}/totals", s.handleTotals).Methods(http.MethodGet)
	admin.HandleFunc("/subjects/{subject}/retract", s.handleRetract).Methods(http.MethodPost)
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", httpServer.Addr).Msg("server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}

func (s *Server) Token() string {
	return s.token
}

func (s *Server) StartTime() time.Time {
	return s.startTime
}

// Handler returns the router wrapped in request logging.
func (s *Server) Handler() http.Handler {
	return loggingMiddleware(s.logger)(s.router)
}

func generateToken() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		panic(fmt.Sprintf("failed to generate token: %v", err))
	}
	return hex.EncodeToString(bytes)
}
