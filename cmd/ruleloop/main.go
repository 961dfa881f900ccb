package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nvandessel/ruleloop/internal/config"
	"github.com/nvandessel/ruleloop/internal/store"
)

var version = "0.1.0-dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ruleloop",
		Short: "Business rules that learn from corrections",
		Long: `ruleloop applies tenant-scoped business rules to records and learns new
rules from the corrections administrators make in conversation.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON (for agent consumption)")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.ruleloop/config.yaml)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newInitCmd(),
		newServeCmd(),
		newMCPServerCmd(),
		newApplyCmd(),
		newChatCmd(),
		newLearnCmd(),
		newRulesCmd(),
		newCorrectionsCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			if jsonOutput(cmd) {
				return writeJSON(cmd.OutOrStdout(), map[string]string{"version": version})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ruleloop version %s\n", version)
			return nil
		},
	}
}

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the data directory, config file and database",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath(cmd)
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			if dir, _ := cmd.Flags().GetString("data-dir"); dir != "" {
				cfg.DataDir = dir
				if !cmd.Flags().Changed("config") {
					path = filepath.Join(dir, config.FileName)
				}
			}

			if err := store.EnsureDataDir(cfg.DataDir); err != nil {
				return err
			}
			if err := store.EnsureGitignore(cfg.DataDir); err != nil {
				return err
			}

			created := false
			if _, err := os.Stat(path); os.IsNotExist(err) {
				if err := cfg.Save(path); err != nil {
					return err
				}
				created = true
			}

			s, err := store.NewSQLiteStore(cfg.DatabasePath())
			if err != nil {
				return fmt.Errorf("failed to create database: %w", err)
			}
			s.Close()

			if jsonOutput(cmd) {
				return writeJSON(cmd.OutOrStdout(), map[string]interface{}{
					"status":         "initialized",
					"config":         path,
					"config_created": created,
					"database":       cfg.DatabasePath(),
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Initialized ruleloop in %s\n", cfg.DataDir)
			if created {
				fmt.Fprintf(cmd.OutOrStdout(), "  Config:   %s\n", path)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "  Database: %s\n", cfg.DatabasePath())
			return nil
		},
	}
	cmd.Flags().String("data-dir", "", "Data directory (default ~/.ruleloop)")
	return cmd
}

func jsonOutput(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

func configPath(cmd *cobra.Command) string {
	p, _ := cmd.Flags().GetString("config")
	if p == "" {
		p = config.DefaultPath()
	}
	return p
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
