// Package server exposes the rule engine, learning loop and conversations
// over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/nvandessel/ruleloop/internal/activation"
	"github.com/nvandessel/ruleloop/internal/conversation"
	"github.com/nvandessel/ruleloop/internal/learning"
	"github.com/nvandessel/ruleloop/internal/metrics"
	"github.com/nvandessel/ruleloop/internal/models"
)

// RuleStore is the slice of the rule store the HTTP API reads and writes directly.
type RuleStore interface {
	CreateRule(ctx context.Context, draft models.RuleDraft) (*models.Rule, error)
	ListRules(ctx context.Context, tenantID, module string) ([]models.Rule, error)
	ListActive(ctx context.Context, tenantID, module string) ([]models.Rule, error)
	ListCorrections(ctx context.Context, tenantID, module string, limit int) ([]models.Correction, error)
}

// Applier runs the rule engine.
type Applier interface {
	Apply(ctx context.Context, req activation.ApplyRequest) (*activation.ApplyResult, error)
	Preview(ctx context.Context, req activation.ApplyRequest) (*activation.ApplyResult, error)
}

// Chat drives conversations.
type Chat interface {
	Open(ctx context.Context, req conversation.OpenRequest) (string, error)
	Send(ctx context.Context, req conversation.SendRequest) (*conversation.Reply, error)
	Append(ctx context.Context, conversationID, text string) (*conversation.Reply, error)
	History(ctx context.Context, conversationID string) ([]models.Message, error)
}

// Deps are the components the server routes to.
type Deps struct {
	Store   RuleStore
	Engine  Applier
	Learner learning.LearningLoop
	Chat    Chat
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Config holds server configuration.
type Config struct {
	Addr string
	// AllowAll allows all CORS origins (dev mode)
	AllowAll bool
	// RequestTimeout bounds each request; it must exceed the oracle timeout
	// because a chat turn may call the oracle twice.
	RequestTimeout time.Duration
}

// Server is the HTTP front end.
type Server struct {
	cfg        Config
	deps       Deps
	logger     *slog.Logger
	router     chi.Router
	httpServer *http.Server
}

// New creates a server and builds its routes.
func New(cfg Config, deps Deps) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 90 * time.Second
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{cfg: cfg, deps: deps, logger: logger}
	s.router = s.buildRouter()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.cfg.RequestTimeout))

	corsOpts := cors.Options{
		AllowedOrigins: []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}
	if s.cfg.AllowAll {
		corsOpts.AllowedOrigins = []string{"*"}
	}
	r.Use(cors.Handler(corsOpts))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.deps.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/tenants/{tenant}", func(r chi.Router) {
			r.Route("/modules/{module}", func(r chi.Router) {
				r.Post("/apply", s.handleApply)
				r.Post("/preview", s.handlePreview)
				r.Get("/rules", s.handleListRules)
				r.Post("/rules", s.handleCreateRule)
				r.Get("/corrections", s.handleListCorrections)
			})
			r.Post("/corrections/{id}/learn", s.handleLearn)
		})
		r.Post("/conversations", s.handleOpenConversation)
		r.Post("/conversations/{id}/messages", s.handleAppendMessage)
		r.Get("/conversations/{id}/messages", s.handleHistory)
	})
	return r
}

// requestLogger logs one line per request through slog.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.cfg.RequestTimeout + 10*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("ruleloop server listening", "addr", s.cfg.Addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}
