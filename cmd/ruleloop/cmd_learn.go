package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newLearnCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "learn <correction-id>",
		Short: "Learn from a stored correction",
		Long: `Apply a correction to the rule set: reinforce the active rule that
covers the corrected field, or create a new learned rule. A correction is
applied at most once; learning it again changes nothing.

Example:
  ruleloop learn 7c1e... --tenant acme`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")
			if tenant == "" {
				return fmt.Errorf("--tenant is required")
			}

			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.learner.LearnFromCorrection(context.Background(), args[0], tenant)
			if err != nil {
				return fmt.Errorf("failed to learn from correction: %w", err)
			}

			if jsonOutput(cmd) {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			w := cmd.OutOrStdout()
			switch {
			case res.AlreadyApplied:
				fmt.Fprintln(w, "Correction was already applied; nothing changed.")
			case res.RuleReinforced:
				fmt.Fprintf(w, "Reinforced rule %s (confidence %.2f)\n", res.Rule.Name, res.Rule.Confidence)
			case res.RuleCreated:
				fmt.Fprintf(w, "Created rule %s (confidence %.2f)\n", res.Rule.Name, res.Rule.Confidence)
			default:
				fmt.Fprintln(w, "Correction has no generalization; no rule learned.")
			}
			return nil
		},
	}
	cmd.Flags().String("tenant", "", "Tenant owning the correction (required)")
	return cmd
}

func newCorrectionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "corrections",
		Short: "Inspect corrections",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List the newest corrections of a tenant and module",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, module, err := scope(cmd)
			if err != nil {
				return err
			}
			limit, _ := cmd.Flags().GetInt("limit")

			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			corrections, err := a.store.ListCorrections(context.Background(), tenant, module, limit)
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return writeJSON(cmd.OutOrStdout(), corrections)
			}
			w := cmd.OutOrStdout()
			if len(corrections) == 0 {
				fmt.Fprintln(w, "No corrections.")
				return nil
			}
			for _, c := range corrections {
				state := "pending"
				if c.Applied {
					state = "applied"
				}
				fmt.Fprintf(w, "%s  %-8s %s.%s: %v -> %v\n", c.ID, state, c.EntityType, c.FieldPath, c.OriginalValue, c.CorrectedValue)
				if c.RuleExtracted != "" {
					fmt.Fprintf(w, "    rule: %s\n", c.RuleExtracted)
				}
			}
			return nil
		},
	}
	scopeFlags(list)
	list.Flags().Int("limit", 50, "Maximum corrections to list")

	cmd.AddCommand(list)
	return cmd
}
