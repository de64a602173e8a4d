package client

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cloo-solutions/kbask/internal/session"
	"github.com/spf13/cobra"
)

// AskCmd creates the ask command.
func AskCmd() *cobra.Command {
	var (
		ids []int64
		all bool
	)

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a question over selected knowledge bases",
		Long: `Answers a question using the given knowledge bases as context.

Examples:
  kbask ask --kb 3 "What is the refund policy?"
  kbask ask --kb 3,5 "Compare the two onboarding guides"
  kbask ask --all "Where is the VPN setup described?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			if len(ids) == 0 && !all {
				return fmt.Errorf("select knowledge bases with --kb or --all")
			}

			s, _, err := newSession(cmd)
			if err != nil {
				return err
			}
			if err := s.Refresh(cmd.Context()); err != nil {
				return fmt.Errorf("failed to load knowledge bases: %w", err)
			}

			if all {
				for _, kb := range s.KnowledgeBases() {
					s.Toggle(kb.ID)
				}
			}
			for _, id := range ids {
				if s.IsSelected(id) {
					continue
				}
				if !s.Toggle(id) {
					return fmt.Errorf("knowledge base %d not found", id)
				}
			}

			turn, err := s.Ask(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			if turn.Status == session.TurnFailed {
				return errors.New(turn.Content)
			}

			if outputJSON {
				return printJSON(cmd.OutOrStdout(), map[string]interface{}{
					"answer":            turn.Content,
					"knowledgeBaseId":   turn.KnowledgeBaseID,
					"knowledgeBaseName": turn.KnowledgeBaseName,
					"scope":             s.Selected(),
				})
			}
			printAnswer(cmd.OutOrStdout(), turn)
			return nil
		},
	}

	cmd.Flags().Int64SliceVar(&ids, "kb", nil, "Knowledge base ids to ask over (comma separated)")
	cmd.Flags().BoolVar(&all, "all", false, "Ask over every knowledge base")

	return cmd
}

func printAnswer(out io.Writer, turn session.Turn) {
	fmt.Fprintln(out, turn.Content)
	if turn.KnowledgeBaseName != "" {
		fmt.Fprintf(out, "\nSource: %s (#%d)\n", turn.KnowledgeBaseName, turn.KnowledgeBaseID)
	}
}
