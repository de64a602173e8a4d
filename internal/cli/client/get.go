package client

import (
	"fmt"
	"io"

	"github.com/cloo-solutions/kbask/internal/domain"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// GetCmd creates the get command.
func GetCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "get <id>",
		Short:   "Show a knowledge base",
		Aliases: []string{"show"},
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			_ = godotenv.Load()
			api, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			api.WithLogger(commandLogger(cmd).Named("api"))

			kb, err := api.GetKnowledgeBase(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("failed to get knowledge base: %w", err)
			}

			if outputJSON {
				return printJSON(cmd.OutOrStdout(), kb)
			}
			printKnowledgeBase(cmd.OutOrStdout(), kb)
			return nil
		},
	}
}

func printKnowledgeBase(out io.Writer, kb *domain.KnowledgeBase) {
	fmt.Fprintf(out, "ID: %d\n", kb.ID)
	fmt.Fprintf(out, "Name: %s\n", kb.Name)
	fmt.Fprintf(out, "File: %s\n", kb.OriginalFilename)
	fmt.Fprintf(out, "Size: %s\n", domain.FormatFileSize(kb.FileSize))
	fmt.Fprintf(out, "Content type: %s\n", kb.ContentType)
	if !kb.UploadedAt.IsZero() {
		fmt.Fprintf(out, "Uploaded: %s\n", kb.UploadedAt.Local().Format("2006-01-02 15:04:05"))
	}
	if !kb.LastAccessedAt.IsZero() {
		fmt.Fprintf(out, "Last accessed: %s\n", kb.LastAccessedAt.Local().Format("2006-01-02 15:04:05"))
	}
	fmt.Fprintf(out, "Accesses: %d\n", kb.AccessCount)
	fmt.Fprintf(out, "Questions: %d\n", kb.QuestionCount)
}
