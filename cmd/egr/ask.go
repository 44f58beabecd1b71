package main

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ZanzyTHEbar/episode-graphrag/egr"
)

var askSession string

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Answer one question from the command line",
	Long: `Runs one message through the full pipeline and prints the answer.
Reuse --session to ask follow-up questions in the same conversation.

Example:
  egr ask --session demo "What should I watch to learn about container queries?"
  egr ask --session demo "Who was the guest?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		session := askSession
		if session == "" {
			session = uuid.NewString()
		}

		ans, err := a.orchestrator.Answer(ctx, session, strings.Join(args, " "))
		if err != nil {
			return fmt.Errorf("%s: %w", egr.Code(err), err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, ans.Message)
		fmt.Fprintf(out, "\nsession: %s  turn: %d  source: %s\n", session, ans.Turn.Seq, ans.Turn.Source)
		if len(ans.Turn.ContextIDs) > 0 {
			fmt.Fprintf(out, "context: %s\n", strings.Join(ans.Turn.ContextIDs, ", "))
		}
		return nil
	},
}

func init() {
	askCmd.Flags().StringVarP(&askSession, "session", "s", "", "session id (a new one is generated when empty)")
}
