package client

import (
	"fmt"
	"io"
	"strings"

	"github.com/cloo-solutions/kbask/internal/domain"
	"github.com/spf13/cobra"
)

// ListCmd creates the list command.
func ListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List knowledge bases",
		Long:    "Lists every knowledge base, most recently uploaded first.",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")

			s, _, err := newSession(cmd)
			if err != nil {
				return err
			}
			if err := s.Refresh(cmd.Context()); err != nil {
				return fmt.Errorf("list failed: %w", err)
			}

			entries := s.KnowledgeBases()
			if outputJSON {
				return printJSON(cmd.OutOrStdout(), entries)
			}
			printKnowledgeBases(cmd.OutOrStdout(), entries, nil)
			return nil
		},
	}
}

// printKnowledgeBases renders entries; ids in selected are marked.
func printKnowledgeBases(out io.Writer, entries []domain.KnowledgeBase, selected map[int64]bool) {
	if len(entries) == 0 {
		fmt.Fprintln(out, "No knowledge bases found.")
		return
	}

	fmt.Fprintf(out, "Found %d knowledge bases:\n\n", len(entries))
	for i, kb := range entries {
		mark := ""
		if selected != nil {
			mark = "[ ] "
			if selected[kb.ID] {
				mark = "[x] "
			}
		}
		fmt.Fprintf(out, "%s#%d %s\n", mark, kb.ID, kb.Name)
		fmt.Fprintf(out, "   File: %s (%s)\n", kb.OriginalFilename, domain.FormatFileSize(kb.FileSize))
		if !kb.UploadedAt.IsZero() {
			fmt.Fprintf(out, "   Uploaded: %s\n", kb.UploadedAt.Local().Format("2006-01-02 15:04"))
		}
		fmt.Fprintf(out, "   Questions: %d, Accesses: %d\n", kb.QuestionCount, kb.AccessCount)
		if i < len(entries)-1 {
			fmt.Fprintln(out, strings.Repeat("-", 40))
		}
	}
}
