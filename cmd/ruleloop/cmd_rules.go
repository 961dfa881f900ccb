package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/nvandessel/ruleloop/internal/models"
	"github.com/nvandessel/ruleloop/internal/sanitize"
	"github.com/nvandessel/ruleloop/internal/seed"
	"github.com/nvandessel/ruleloop/internal/store"
)

func newRulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage rules",
	}
	cmd.AddCommand(
		newRulesListCmd(),
		newRulesCreateCmd(),
		newRulesImportCmd(),
		newRulesExportCmd(),
		newRulesToggleCmd("disable", false),
		newRulesToggleCmd("enable", true),
	)
	return cmd
}

func newRulesListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List rules in application order",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, module, err := scope(cmd)
			if err != nil {
				return err
			}
			activeOnly, _ := cmd.Flags().GetBool("active")

			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			list := a.store.ListRules
			if activeOnly {
				list = a.store.ListActive
			}
			rules, err := list(context.Background(), tenant, module)
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				if rules == nil {
					rules = []models.Rule{}
				}
				return writeJSON(cmd.OutOrStdout(), rules)
			}
			printRules(cmd.OutOrStdout(), rules)
			return nil
		},
	}
	scopeFlags(cmd)
	cmd.Flags().Bool("active", false, "Only list active rules")
	return cmd
}

func printRules(w io.Writer, rules []models.Rule) {
	if len(rules) == 0 {
		fmt.Fprintln(w, "No rules.")
		return
	}
	for i, r := range rules {
		state := ""
		if !r.IsActive {
			state = " [disabled]"
		}
		if r.ConditionJSON == "" {
			state += " [text only]"
		}
		fmt.Fprintf(w, "%d. %s%s\n", i+1, r.Name, state)
		fmt.Fprintf(w, "   when %s, then %s\n", r.Condition, r.Action)
		fmt.Fprintf(w, "   priority %d, confidence %.2f, used %d times\n", r.Priority, r.Confidence, r.UsageCount)
	}
}

func newRulesCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a rule",
		Long: `Create a rule. --when and --set make the rule machine-applicable;
without them it is descriptive text only.

Example:
  ruleloop rules create --tenant acme --module attendance \
      --name saturday-overtime --condition "day is Saturday" --action "overtime is 4 hours" \
      --when '{"field":"dayOfWeek","operator":"equals","value":"Saturday"}' \
      --set '{"field":"overtimeHours","value":4}' --priority 10`,
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, module, err := scope(cmd)
			if err != nil {
				return err
			}
			name, _ := cmd.Flags().GetString("name")
			condition, _ := cmd.Flags().GetString("condition")
			action, _ := cmd.Flags().GetString("action")
			whenRaw, _ := cmd.Flags().GetString("when")
			setRaw, _ := cmd.Flags().GetString("set")
			priority, _ := cmd.Flags().GetInt("priority")

			draft := models.RuleDraft{
				TenantID:  tenant,
				Module:    module,
				Name:      sanitize.SanitizeRuleName(name),
				Condition: sanitize.SanitizeRuleText(condition),
				Action:    sanitize.SanitizeRuleText(action),
				Priority:  priority,
				Source:    models.SourceExplicit,
			}
			if whenRaw != "" {
				draft.When = &models.Condition{}
				if err := json.Unmarshal([]byte(whenRaw), draft.When); err != nil {
					return fmt.Errorf("--when is not a condition object: %w", err)
				}
			}
			if setRaw != "" {
				draft.Set = &models.Action{}
				if err := json.Unmarshal([]byte(setRaw), draft.Set); err != nil {
					return fmt.Errorf("--set is not an action object: %w", err)
				}
			}
			if cmd.Flags().Changed("confidence") {
				c, _ := cmd.Flags().GetFloat64("confidence")
				draft.Confidence = &c
			}

			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			rule, err := a.store.CreateRule(context.Background(), draft)
			if err != nil {
				return fmt.Errorf("failed to create rule: %w", err)
			}
			if jsonOutput(cmd) {
				return writeJSON(cmd.OutOrStdout(), rule)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created rule %s (%s)\n", rule.Name, rule.ID)
			return nil
		},
	}
	scopeFlags(cmd)
	cmd.Flags().String("name", "", "Rule name")
	cmd.Flags().String("condition", "", "When the rule applies, in plain language")
	cmd.Flags().String("action", "", "What the rule does, in plain language")
	cmd.Flags().String("when", "", "Structured condition as JSON: {field, operator, value}")
	cmd.Flags().String("set", "", "Structured action as JSON: {field, value}")
	cmd.Flags().Int("priority", 0, "Higher priority rules run first")
	cmd.Flags().Float64("confidence", models.DefaultExplicitConfidence, "Initial confidence in [0,1]")
	return cmd
}

func newRulesImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Import a YAML rule set",
		Long: `Import a YAML rule set. Rules whose names already exist in the target
tenant and module are skipped, so importing twice is harmless.
--tenant and --module override the values in the file.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")
			module, _ := cmd.Flags().GetString("module")

			set, err := seed.ReadFile(args[0])
			if err != nil {
				return err
			}

			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := seed.NewSeeder(a.store).Import(context.Background(), set, tenant, module)
			if err != nil {
				return fmt.Errorf("import failed: %w", err)
			}
			if jsonOutput(cmd) {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d of %d rules (%d already present)\n",
				len(res.Added), res.Total, len(res.Skipped))
			return nil
		},
	}
	cmd.Flags().String("tenant", "", "Override the tenant in the file")
	cmd.Flags().String("module", "", "Override the module in the file")
	return cmd
}

func newRulesExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export rules as a YAML rule set",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, module, err := scope(cmd)
			if err != nil {
				return err
			}
			output, _ := cmd.Flags().GetString("output")

			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			set, err := seed.NewSeeder(a.store).Export(context.Background(), tenant, module)
			if err != nil {
				return fmt.Errorf("export failed: %w", err)
			}
			if output == "" || output == "-" {
				data, err := seed.Marshal(set)
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := seed.WriteFile(output, set); err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return writeJSON(cmd.OutOrStdout(), map[string]interface{}{"path": output, "rules": len(set.Rules)})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d rules to %s\n", len(set.Rules), output)
			return nil
		},
	}
	scopeFlags(cmd)
	cmd.Flags().StringP("output", "o", "", "Output file (default stdout)")
	return cmd
}

func newRulesToggleCmd(use string, active bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use + " <name-or-id>",
		Short: fmt.Sprintf("%s a rule", titleCase(use)),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, module, err := scope(cmd)
			if err != nil {
				return err
			}

			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := context.Background()
			rule, err := resolveRule(ctx, a.store, tenant, module, args[0])
			if err != nil {
				return err
			}
			if err := a.store.SetRuleActive(ctx, rule.ID, active); err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return writeJSON(cmd.OutOrStdout(), map[string]interface{}{"id": rule.ID, "name": rule.Name, "active": active})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Rule %s %sd\n", rule.Name, use)
			return nil
		},
	}
	scopeFlags(cmd)
	return cmd
}

// resolveRule finds a rule by name, then by id, within (tenant, module).
func resolveRule(ctx context.Context, s *store.SQLiteStore, tenant, module, ref string) (*models.Rule, error) {
	rule, err := s.FindRuleByName(ctx, tenant, module, ref)
	if err == nil {
		return rule, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}
	rule, err = s.GetRule(ctx, ref)
	if err != nil {
		return nil, err
	}
	if rule.TenantID != tenant || rule.Module != module {
		return nil, fmt.Errorf("rule %s: %w", ref, models.ErrNotFound)
	}
	return rule, nil
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}
