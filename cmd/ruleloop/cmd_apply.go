package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/nvandessel/ruleloop/internal/activation"
)

func newApplyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply active rules to a record",
		Long: `Apply the active rules of a tenant and module to one JSON record and
print the changed record.

Examples:
  ruleloop apply --tenant acme --module attendance --data '{"dayOfWeek":"Saturday","overtimeHours":0}'
  ruleloop apply --tenant acme --module attendance --file record.json --dry-run
  cat record.json | ruleloop apply --tenant acme --module attendance --file -`,
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, module, err := scope(cmd)
			if err != nil {
				return err
			}
			data, err := readRecord(cmd)
			if err != nil {
				return err
			}
			entityType, _ := cmd.Flags().GetString("entity-type")
			entityID, _ := cmd.Flags().GetString("entity-id")
			dryRun, _ := cmd.Flags().GetBool("dry-run")

			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			req := activation.ApplyRequest{
				TenantID:   tenant,
				Module:     module,
				EntityType: entityType,
				EntityID:   entityID,
				Data:       data,
			}
			run := a.engine.Apply
			if dryRun {
				run = a.engine.Preview
			}
			res, err := run(context.Background(), req)
			if err != nil {
				return fmt.Errorf("apply failed: %w", err)
			}

			if jsonOutput(cmd) {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			printApplyResult(cmd.OutOrStdout(), res, dryRun)
			return nil
		},
	}
	scopeFlags(cmd)
	cmd.Flags().String("data", "", "Record as a JSON object")
	cmd.Flags().String("file", "", "Read the record from a JSON file (- for stdin)")
	cmd.Flags().String("entity-type", "", "Record type for the audit trail")
	cmd.Flags().String("entity-id", "", "Record id for the audit trail")
	cmd.Flags().Bool("dry-run", false, "Show the changes without recording them")
	return cmd
}

func readRecord(cmd *cobra.Command) (map[string]interface{}, error) {
	raw, _ := cmd.Flags().GetString("data")
	file, _ := cmd.Flags().GetString("file")

	var data []byte
	switch {
	case raw != "" && file != "":
		return nil, fmt.Errorf("use either --data or --file, not both")
	case raw != "":
		data = []byte(raw)
	case file == "-":
		b, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		data = b
	case file != "":
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", file, err)
		}
		data = b
	default:
		return nil, fmt.Errorf("--data or --file is required")
	}

	var record map[string]interface{}
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("record is not a JSON object: %w", err)
	}
	return record, nil
}

func printApplyResult(w io.Writer, res *activation.ApplyResult, dryRun bool) {
	verb := "Applied"
	if dryRun {
		verb = "Would apply"
	}
	if !res.Modified {
		fmt.Fprintln(w, "No rules changed the record.")
	} else {
		fmt.Fprintf(w, "%s %d change(s):\n", verb, len(res.Changes))
		for _, c := range res.Changes {
			fmt.Fprintf(w, "  %s: %v -> %v  (%s)\n", c.Field, c.From, c.To, c.Rule)
		}
	}
	for _, sk := range res.Skipped {
		fmt.Fprintf(w, "  skipped %s: %s\n", sk.Name, sk.Reason)
	}

	keys := make([]string, 0, len(res.Data))
	for k := range res.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprintln(w, "\nRecord:")
	for _, k := range keys {
		fmt.Fprintf(w, "  %s: %v\n", k, res.Data[k])
	}
}
