package client

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/cloo-solutions/kbask/internal/domain"
	"github.com/cloo-solutions/kbask/internal/session"
	"github.com/cloo-solutions/kbask/internal/watcher"
	"github.com/spf13/cobra"
)

// WatchCmd creates the watch command.
func WatchCmd() *cobra.Command {
	var (
		existing bool
		settle   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Upload documents as they appear in a directory",
		Long: `Watches a directory and uploads every PDF, Word, text or Markdown document
that is created or changed there. Stop with Ctrl+C.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := args[0]
			info, err := os.Stat(dir)
			if err != nil {
				return err
			}
			if !info.IsDir() {
				return fmt.Errorf("%s is not a directory", dir)
			}

			s, _, err := newSession(cmd)
			if err != nil {
				return err
			}
			log := commandLogger(cmd)

			w, err := watcher.New(settle, log.Named("watcher"))
			if err != nil {
				return fmt.Errorf("failed to start watcher: %w", err)
			}
			defer w.Close()

			out := cmd.OutOrStdout()
			if existing {
				if err := uploadExisting(cmd.Context(), s, dir, out); err != nil {
					return err
				}
			}

			events, err := w.Watch(cmd.Context(), dir)
			if err != nil {
				return fmt.Errorf("failed to watch %s: %w", dir, err)
			}
			fmt.Fprintf(out, "Watching %s for documents...\n", dir)

			for ev := range events {
				uploadPath(cmd.Context(), s, ev.Path, out)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&existing, "existing", false, "Upload documents already in the directory first")
	cmd.Flags().DurationVar(&settle, "settle", watcher.DefaultSettle, "Quiet period before a changed file is uploaded")

	return cmd
}

func uploadExisting(ctx context.Context, s *session.Session, dir string, out io.Writer) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !domain.IsAcceptedFilename(entry.Name()) {
			continue
		}
		uploadPath(ctx, s, filepath.Join(dir, entry.Name()), out)
	}
	return nil
}

// uploadPath uploads one file, reporting the outcome instead of failing the watch.
func uploadPath(ctx context.Context, s *session.Session, path string, out io.Writer) {
	file, err := session.OpenLocalFile(path)
	if err != nil {
		fmt.Fprintf(out, "skipped %s: %v\n", path, err)
		return
	}
	result, err := uploadFile(ctx, s, file, "")
	if err != nil {
		fmt.Fprintf(out, "skipped %s: %v\n", filepath.Base(path), err)
		_ = s.ResetUpload()
		return
	}

	note := ""
	if result.Duplicate {
		note = " (content already stored)"
	}
	fmt.Fprintf(out, "uploaded %s as #%d %s%s\n", filepath.Base(path), result.KnowledgeBase.ID, result.KnowledgeBase.Name, note)
}
