package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ludo-technologies/sentinel/app"
	"github.com/ludo-technologies/sentinel/domain"
	"github.com/ludo-technologies/sentinel/internal/config"
	"github.com/ludo-technologies/sentinel/internal/constants"
)

const shutdownTimeout = 10 * time.Second

// Analyzer runs an analysis session over paths
type Analyzer interface {
	Execute(ctx context.Context, paths []string) (*domain.AnalysisSession, error)
}

// Querier runs a textual query over persisted findings
type Querier interface {
	ExecuteRequest(ctx context.Context, req app.QueryRequest) (*domain.QueryResult, error)
}

// SessionReader reads persisted sessions
type SessionReader interface {
	GetSession(ctx context.Context, id string) (*domain.AnalysisSession, error)
	ListSessions(ctx context.Context, limit int) ([]domain.SessionInfo, error)
}

// Server exposes analyze and query over HTTP
type Server struct {
	analyzer Analyzer
	querier  Querier
	sessions SessionReader
	cfg      config.ServerConfig
	logger   *zap.Logger
}

// New creates a server. A nil querier or session reader disables the
// corresponding routes with 503.
func New(cfg config.ServerConfig, analyzer Analyzer, querier Querier, sessions SessionReader, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{analyzer: analyzer, querier: querier, sessions: sessions, cfg: cfg, logger: logger}
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get(constants.RouteHealth, s.health)
	r.Route(constants.RouteAPI, func(r chi.Router) {
		r.Post(constants.RouteAnalyze, s.analyze)
		r.Get(constants.RouteFindings, s.findings)
		r.Route(constants.RouteSessions, func(r chi.Router) {
			r.Get("/", s.listSessions)
			r.Get("/{id}", s.getSession)
		})
	})
	return r
}

// ListenAndServe serves until ctx is done, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Address,
		Handler:      s.Handler(),
		ReadTimeout:  time.Duration(s.cfg.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(s.cfg.WriteTimeoutSeconds) * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", zap.String("address", s.cfg.Address))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		s.logger.Info("server shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}
