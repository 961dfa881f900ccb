package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/nvandessel/ruleloop/internal/activation"
	"github.com/nvandessel/ruleloop/internal/config"
	"github.com/nvandessel/ruleloop/internal/conversation"
	"github.com/nvandessel/ruleloop/internal/learning"
	"github.com/nvandessel/ruleloop/internal/llm"
	"github.com/nvandessel/ruleloop/internal/metrics"
	"github.com/nvandessel/ruleloop/internal/ranking"
	"github.com/nvandessel/ruleloop/internal/store"
)

// app is the wired component graph a command runs against.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	store   *store.SQLiteStore
	engine  *activation.Engine
	learner learning.LearningLoop
	chat    *conversation.Orchestrator

	closeLog func() error
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath(cmd))
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	level, _ := config.ParseLevel(cfg.Log.Level)
	logger, closeLog := config.SetupLogger(cfg.Log.File, level)

	s, err := store.NewSQLiteStore(cfg.DatabasePath())
	if err != nil {
		closeLog()
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	m := metrics.New()
	engine := activation.NewEngine(s, activation.WithLogger(logger), activation.WithMetrics(m))
	learner := learning.NewLearningLoop(s, learningConfig(cfg, logger, m))

	return &app{
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
		store:    s,
		engine:   engine,
		learner:  learner,
		chat:     conversation.New(s, buildOracle(cfg), learner, engine, conversationConfig(cfg, logger, m)),
		closeLog: closeLog,
	}, nil
}

func (a *app) Close() error {
	err := a.store.Close()
	if cerr := a.closeLog(); err == nil {
		err = cerr
	}
	return err
}

func learningConfig(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *learning.LearningLoopConfig {
	return &learning.LearningLoopConfig{
		Reinforcement: ranking.ConfidenceReinforcementConfig{
			BoostAmount: cfg.Learning.Boost,
			Ceiling:     cfg.Learning.Ceiling,
		},
		Logger:  logger,
		Metrics: m,
	}
}

func conversationConfig(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *conversation.Config {
	return &conversation.Config{
		Timeout:       cfg.Oracle.Timeout,
		PreambleRules: cfg.Oracle.PreambleRules,
		HistoryTokens: cfg.Oracle.HistoryTokens,
		AutoLearn:     cfg.Learning.AutoLearn,
		Logger:        logger,
		Metrics:       m,
	}
}

// buildOracle returns the configured oracle, or llm.Disabled.
func buildOracle(cfg *config.Config) llm.Oracle {
	if cfg.Oracle.Provider != config.ProviderOpenAI || cfg.Oracle.APIKey == "" {
		return llm.Disabled{}
	}
	return llm.NewOpenAIOracle(llm.OpenAIConfig{
		APIKey:  cfg.Oracle.APIKey,
		BaseURL: cfg.Oracle.BaseURL,
		Model:   cfg.Oracle.Model,
		Timeout: cfg.Oracle.Timeout,
	})
}

// scopeFlags adds the --tenant and --module flags most commands share.
func scopeFlags(cmd *cobra.Command) {
	cmd.Flags().String("tenant", "", "Tenant id (required)")
	cmd.Flags().String("module", "", "Business module, e.g. attendance (required)")
}

func scope(cmd *cobra.Command) (tenant, module string, err error) {
	tenant, _ = cmd.Flags().GetString("tenant")
	module, _ = cmd.Flags().GetString("module")
	if tenant == "" || module == "" {
		return "", "", fmt.Errorf("--tenant and --module are required")
	}
	return tenant, module, nil
}
