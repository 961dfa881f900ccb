package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nvandessel/ruleloop/internal/conversation"
	"github.com/nvandessel/ruleloop/internal/llm"
)

func newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to a rules conversation",
		Long: `Send messages to a conversation. With --message one turn is sent;
otherwise lines are read from stdin until EOF.

Examples:
  ruleloop chat --tenant acme --module attendance --context-id att-7 \
      --context '{"dayOfWeek":"Saturday","overtimeHours":0}' \
      --message "It's Saturday, overtime should be 4 hours"
  ruleloop chat --conversation 3f2a... --message "and on Sundays 8"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			convID, _ := cmd.Flags().GetString("conversation")
			message, _ := cmd.Flags().GetString("message")
			contextID, _ := cmd.Flags().GetString("context-id")
			contextRaw, _ := cmd.Flags().GetString("context")
			tenant, _ := cmd.Flags().GetString("tenant")
			module, _ := cmd.Flags().GetString("module")

			if convID == "" && (tenant == "" || module == "") {
				return fmt.Errorf("--tenant and --module are required to open a conversation")
			}
			var contextData map[string]interface{}
			if contextRaw != "" {
				if err := json.Unmarshal([]byte(contextRaw), &contextData); err != nil {
					return fmt.Errorf("--context is not a JSON object: %w", err)
				}
			}

			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := context.Background()
			if convID == "" {
				convID, err = a.chat.Open(ctx, conversation.OpenRequest{
					TenantID:    tenant,
					Module:      module,
					ContextID:   contextID,
					ContextData: contextData,
				})
				if err != nil {
					return err
				}
			}

			send := func(text string) error {
				reply, err := a.chat.Append(ctx, convID, text)
				if err != nil {
					if errors.Is(err, llm.ErrOracleTimeout) {
						return fmt.Errorf("%w (your message was saved; send it again to retry)", err)
					}
					return err
				}
				return printReply(cmd, reply)
			}

			if message != "" {
				return send(message)
			}

			if !jsonOutput(cmd) {
				fmt.Fprintf(cmd.ErrOrStderr(), "Conversation %s. Type a message, Ctrl-D to quit.\n", convID)
			}
			scanner := bufio.NewScanner(cmd.InOrStdin())
			for scanner.Scan() {
				line := strings.TrimSpace(scanner.Text())
				if line == "" {
					continue
				}
				if err := send(line); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", err)
				}
			}
			return scanner.Err()
		},
	}
	cmd.Flags().String("tenant", "", "Tenant id (to open a conversation)")
	cmd.Flags().String("module", "", "Business module (to open a conversation)")
	cmd.Flags().String("conversation", "", "Continue an existing conversation")
	cmd.Flags().String("context-id", "", "Id of the record under discussion")
	cmd.Flags().String("context", "", "Record under discussion as a JSON object")
	cmd.Flags().StringP("message", "m", "", "Send one message and exit")
	return cmd
}

func printReply(cmd *cobra.Command, reply *conversation.Reply) error {
	if jsonOutput(cmd) {
		return writeJSON(cmd.OutOrStdout(), reply)
	}
	w := cmd.OutOrStdout()
	fmt.Fprintln(w, reply.Text)
	if reply.CorrectionID != "" {
		fmt.Fprintf(w, "  correction: %s\n", reply.CorrectionID)
	}
	if reply.RuleID != "" {
		fmt.Fprintf(w, "  rule: %s\n", reply.RuleID)
	}
	return nil
}
