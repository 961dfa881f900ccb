// Package mcp exposes the rule engine, learning loop and conversations as
// MCP tools over stdio.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nvandessel/ruleloop/internal/activation"
	"github.com/nvandessel/ruleloop/internal/conversation"
	"github.com/nvandessel/ruleloop/internal/learning"
	"github.com/nvandessel/ruleloop/internal/llm"
	"github.com/nvandessel/ruleloop/internal/metrics"
	"github.com/nvandessel/ruleloop/internal/store"
)

// Config holds MCP server settings.
type Config struct {
	Name    string
	Version string

	// DBPath is the SQLite database the server opens and owns
	DBPath string

	// Oracle drives chat_send; nil disables it
	Oracle       llm.Oracle
	Conversation *conversation.Config
	Learning     *learning.LearningLoopConfig

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Server wraps the MCP server with the ruleloop components behind it.
type Server struct {
	server  *mcp.Server
	store   *store.SQLiteStore
	engine  *activation.Engine
	learner learning.LearningLoop
	chat    *conversation.Orchestrator
	logger  *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// NewServer opens the store, wires the components and registers the tools.
func NewServer(cfg *Config) (*Server, error) {
	if cfg == nil || cfg.DBPath == "" {
		return nil, fmt.Errorf("mcp server: database path is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	learnCfg := learning.DefaultLearningLoopConfig()
	if cfg.Learning != nil {
		learnCfg = *cfg.Learning
	}
	learnCfg.Logger, learnCfg.Metrics = logger, cfg.Metrics

	chatCfg := conversation.DefaultConfig()
	if cfg.Conversation != nil {
		chatCfg = *cfg.Conversation
	}
	chatCfg.Logger, chatCfg.Metrics = logger, cfg.Metrics

	engine := activation.NewEngine(s, activation.WithLogger(logger), activation.WithMetrics(cfg.Metrics))
	learner := learning.NewLearningLoop(s, &learnCfg)

	srv := &Server{
		server: mcp.NewServer(&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		}, nil),
		store:   s,
		engine:  engine,
		learner: learner,
		chat:    conversation.New(s, cfg.Oracle, learner, engine, &chatCfg),
		logger:  logger,
	}
	srv.registerTools()
	return srv, nil
}

// Run serves over stdio until the client disconnects or ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server", "transport", "stdio", "db", s.store.Path())
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// Close releases the store. Safe to call multiple times.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.store.Close()
	})
	return s.closeErr
}
