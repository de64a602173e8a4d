package client

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/cloo-solutions/kbask/internal/domain"
	"github.com/cloo-solutions/kbask/internal/session"
	"github.com/spf13/cobra"
)

// UploadCmd creates the upload command.
func UploadCmd() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a document as a knowledge base",
		Long: `Uploads a PDF, Word, text or Markdown document. The knowledge base is named
after the file unless --name is given.

Examples:
  kbask upload handbook.pdf
  kbask upload notes.md --name "Team notes"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")

			s, _, err := newSession(cmd)
			if err != nil {
				return err
			}
			file, err := session.OpenLocalFile(args[0])
			if err != nil {
				return err
			}

			result, err := uploadFile(cmd.Context(), s, file, name)
			if err != nil {
				return err
			}
			if outputJSON {
				return printJSON(cmd.OutOrStdout(), result)
			}
			printUploadResult(cmd.OutOrStdout(), result)
			return nil
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "Knowledge base name (defaults to the filename)")

	return cmd
}

func uploadFile(ctx context.Context, s *session.Session, file session.File, name string) (*domain.UploadResult, error) {
	if err := s.SelectFile(file); err != nil {
		return nil, err
	}
	if err := s.SetUploadName(name); err != nil {
		return nil, err
	}

	result, err := s.SubmitUpload(ctx)
	if err != nil {
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			return nil, err
		}
		return nil, fmt.Errorf("upload failed: %s", s.UploadStatus().Error)
	}
	return result, nil
}

func printUploadResult(out io.Writer, result *domain.UploadResult) {
	kb := result.KnowledgeBase
	fmt.Fprintf(out, "Uploaded knowledge base #%d: %s\n", kb.ID, kb.Name)
	fmt.Fprintf(out, "   Size: %s, extracted %d characters\n", domain.FormatFileSize(kb.FileSize), kb.ContentLength)
	if result.Storage.FileKey != "" {
		fmt.Fprintf(out, "   Stored as: %s\n", result.Storage.FileKey)
	}
	if result.Duplicate {
		fmt.Fprintln(out, "   Identical content was already stored; the existing file was reused.")
	}
}
