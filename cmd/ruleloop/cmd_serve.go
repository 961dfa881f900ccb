package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nvandessel/ruleloop/internal/config"
	"github.com/nvandessel/ruleloop/internal/mcp"
	"github.com/nvandessel/ruleloop/internal/metrics"
	"github.com/nvandessel/ruleloop/internal/server"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `Serve the rule engine, learning loop and conversations over HTTP.

Routes:
  POST /api/tenants/{tenant}/modules/{module}/apply
  GET  /api/tenants/{tenant}/modules/{module}/rules
  POST /api/tenants/{tenant}/modules/{module}/rules
  GET  /api/tenants/{tenant}/modules/{module}/corrections
  POST /api/tenants/{tenant}/corrections/{id}/learn
  POST /api/conversations
  POST /api/conversations/{id}/messages
  GET  /api/conversations/{id}/messages
  GET  /healthz
  GET  /metrics`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			addr := a.cfg.HTTP.Addr
			if v, _ := cmd.Flags().GetString("addr"); v != "" {
				addr = v
			}
			allowAll, _ := cmd.Flags().GetBool("cors-allow-all")

			srv := server.New(server.Config{
				Addr:           addr,
				AllowAll:       allowAll,
				RequestTimeout: 2*a.cfg.Oracle.Timeout + 30*time.Second,
			}, server.Deps{
				Store:   a.store,
				Engine:  a.engine,
				Learner: a.learner,
				Chat:    a.chat,
				Metrics: a.metrics,
				Logger:  a.logger,
			})

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := srv.ListenAndServe(ctx); err != nil {
				return fmt.Errorf("http server error: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().String("addr", "", "Listen address (overrides http.addr)")
	cmd.Flags().Bool("cors-allow-all", false, "Allow all CORS origins (dev mode)")
	return cmd
}

func newMCPServerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp-server",
		Short: "Run ruleloop as an MCP (Model Context Protocol) server",
		Long: `Start an MCP server that exposes ruleloop over stdio:

  rules_apply       - Apply active rules to a record
  rules_list        - List rules of a tenant and module
  rules_create      - Create a rule
  chat_send         - Talk to a rules conversation
  correction_learn  - Learn from a stored correction

Example client configuration:

  {
    "mcpServers": {
      "ruleloop": {
        "command": "ruleloop",
        "args": ["mcp-server"]
      }
    }
  }
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			level, _ := config.ParseLevel(cfg.Log.Level)
			// stdout carries the protocol; logs go to stderr and the log file only.
			logger, closeLog := config.SetupLogger(cfg.Log.File, level)
			defer closeLog()

			m := metrics.New()
			srv, err := mcp.NewServer(&mcp.Config{
				Name:         "ruleloop",
				Version:      version,
				DBPath:       cfg.DatabasePath(),
				Oracle:       buildOracle(cfg),
				Conversation: conversationConfig(cfg, logger, m),
				Learning:     learningConfig(cfg, logger, m),
				Logger:       logger,
				Metrics:      m,
			})
			if err != nil {
				return fmt.Errorf("failed to create MCP server: %w", err)
			}
			defer srv.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := srv.Run(ctx); err != nil && ctx.Err() == nil {
				return fmt.Errorf("MCP server error: %w", err)
			}
			return nil
		},
	}
}
