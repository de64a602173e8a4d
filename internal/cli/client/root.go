package client

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/cloo-solutions/kbask/internal/cli"
	"github.com/cloo-solutions/kbask/internal/logger"
	"github.com/cloo-solutions/kbask/internal/session"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// NewRootCmd builds the kbask command tree.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "kbask",
		Short: "kbask - ask questions over your document knowledge bases",
		Long: `kbask uploads documents into named knowledge bases and answers questions
over one or more of them.

Environment variables:
  KBASK_API_URL   Service URL (default: http://localhost:8080)
  KBASK_API_KEY   API key, when the service requires one`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().Bool("output", false, "Output as JSON")
	rootCmd.PersistentFlags().String("api-key", "", "API key (overrides env and config)")
	rootCmd.PersistentFlags().String("api-url", "", "Service URL (overrides env and config)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log requests and state changes to stderr")
	rootCmd.PersistentFlags().String("log-file", "", "Also write JSON logs to this file (rotated)")
	cli.AddHelpJSONFlag(rootCmd)

	rootCmd.AddCommand(AuthCmd())
	rootCmd.AddCommand(ListCmd())
	rootCmd.AddCommand(GetCmd())
	rootCmd.AddCommand(UploadCmd())
	rootCmd.AddCommand(DeleteCmd())
	rootCmd.AddCommand(AskCmd())
	rootCmd.AddCommand(ChatCmd())
	rootCmd.AddCommand(WatchCmd())

	return rootCmd
}

func commandLogger(cmd *cobra.Command) *zap.Logger {
	verbose, _ := cmd.Flags().GetBool("verbose")
	logFile, _ := cmd.Flags().GetString("log-file")

	level := "warn"
	if verbose {
		level = "debug"
	}
	return logger.New(logger.Config{Level: level, FilePath: logFile, Console: cmd.ErrOrStderr()})
}

// newSession creates a session against the configured service.
func newSession(cmd *cobra.Command) (*session.Session, *APIClient, error) {
	_ = godotenv.Load()

	ep, err := endpointFor(cmd)
	if err != nil {
		return nil, nil, err
	}
	api, err := NewAPIClientWithConfig(ep.APIKey, ep.URL)
	if err != nil {
		return nil, nil, err
	}
	log := commandLogger(cmd)
	api.WithLogger(log.Named("api"))

	return session.New(api, session.Config{Logger: log, MaxUploadBytes: ep.MaxUploadBytes}), api, nil
}

func printJSON(out io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	fmt.Fprintln(out, string(data))
	return nil
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid knowledge base id %q", arg)
	}
	return id, nil
}
