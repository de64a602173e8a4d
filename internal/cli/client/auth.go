package client

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/cloo-solutions/kbask/internal/domain"
	"github.com/spf13/cobra"
)

// AuthCmd creates the auth parent command
func AuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage the service location and credentials",
		Long:  "Store, clear and inspect the knowledge base service URL and API key used by kbask",
	}

	cmd.AddCommand(AuthLoginCmd())
	cmd.AddCommand(AuthLogoutCmd())
	cmd.AddCommand(AuthStatusCmd())

	return cmd
}

// AuthLoginCmd creates the auth login command
func AuthLoginCmd() *cobra.Command {
	var apiKey string
	var apiURL string
	var maxUploadMB int64
	var prompt bool

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Save the service URL and API key",
		Long:  "Store the service URL and optional API key in the global config (~/.config/kbask/config.json)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if apiKey == "" && prompt {
				key, err := readAPIKey(cmd.InOrStdin(), cmd.OutOrStdout())
				if err != nil {
					return err
				}
				apiKey = key
			}
			return runAuthLogin(cmd.OutOrStdout(), GlobalConfig{
				APIKey:         apiKey,
				APIURL:         apiURL,
				MaxUploadBytes: maxUploadMB << 20,
			})
		},
	}

	cmd.Flags().StringVar(&apiKey, "api-key", "", "API key (leave empty for an unauthenticated service)")
	cmd.Flags().StringVar(&apiURL, "url", defaultAPIURL, "Service URL")
	cmd.Flags().Int64Var(&maxUploadMB, "max-upload-mb", 0, "Reject larger files before uploading (default 50)")
	cmd.Flags().BoolVar(&prompt, "prompt", false, "Read the API key from stdin")

	return cmd
}

// AuthLogoutCmd creates the auth logout command
func AuthLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear stored settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuthLogout(cmd.OutOrStdout())
		},
	}
}

// AuthStatusCmd creates the auth status command
func AuthStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show where the service settings come from",
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			flagKey, _ := cmd.Flags().GetString("api-key")
			flagURL, _ := cmd.Flags().GetString("api-url")
			return runAuthStatus(cmd.OutOrStdout(), flagKey, flagURL, outputJSON)
		},
	}

	cmd.Flags().Bool("output", false, "Output as JSON")

	return cmd
}

func readAPIKey(in io.Reader, out io.Writer) (string, error) {
	fmt.Fprint(out, "Enter API key: ")
	input, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read API key: %w", err)
	}
	return strings.TrimSpace(input), nil
}

func runAuthLogin(out io.Writer, settings GlobalConfig) error {
	apiURL := strings.TrimSpace(settings.APIURL)
	if apiURL == "" {
		return fmt.Errorf("service URL is required")
	}
	if !strings.HasPrefix(apiURL, "http://") && !strings.HasPrefix(apiURL, "https://") {
		return fmt.Errorf("invalid service URL %q (expected http:// or https://)", apiURL)
	}
	if !IsValidAPIKey(settings.APIKey) {
		return fmt.Errorf("invalid API key format (expected at least 16 characters without spaces)")
	}
	if settings.MaxUploadBytes < 0 {
		return fmt.Errorf("upload limit cannot be negative")
	}

	config := &GlobalConfig{
		APIKey:         settings.APIKey,
		APIURL:         strings.TrimRight(apiURL, "/"),
		MaxUploadBytes: settings.MaxUploadBytes,
	}

	if err := SaveGlobalConfig(config); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}

	fmt.Fprintf(out, "Saved settings for %s\n", config.APIURL)
	return nil
}

func runAuthLogout(out io.Writer) error {
	if err := DeleteGlobalConfig(); err != nil {
		return fmt.Errorf("failed to logout: %w", err)
	}

	fmt.Fprintln(out, "Stored settings removed")
	return nil
}

func runAuthStatus(out io.Writer, flagKey, flagURL string, outputJSON bool) error {
	ep, err := ResolveEndpoint(flagKey, flagURL)
	if err != nil {
		return err
	}
	source, apiKey, apiURL := ep.Source, ep.APIKey, ep.URL

	if outputJSON {
		status := map[string]interface{}{
			"source":        string(source),
			"api_url":       apiURL,
			"authenticated": apiKey != "",
			"max_upload":    domain.FormatFileSize(ep.MaxUploadBytes),
		}
		if apiKey != "" {
			status["api_key"] = maskAPIKey(apiKey)
		}

		data, err := json.MarshalIndent(status, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal status: %w", err)
		}
		fmt.Fprintln(out, string(data))
		return nil
	}

	fmt.Fprintf(out, "Source: %s\n", source)
	fmt.Fprintf(out, "API URL: %s\n", apiURL)
	if apiKey == "" {
		fmt.Fprintln(out, "API Key: (none)")
	} else {
		fmt.Fprintf(out, "API Key: %s\n", maskAPIKey(apiKey))
	}
	fmt.Fprintf(out, "Upload limit: %s\n", domain.FormatFileSize(ep.MaxUploadBytes))
	if path, err := GetConfigPath(); err == nil {
		fmt.Fprintf(out, "Config file: %s\n", path)
	}
	if source == SourceDefault {
		fmt.Fprintln(out, "Run 'kbask auth login --url <service>' to store settings")
	}
	return nil
}

func maskAPIKey(key string) string {
	if len(key) < 12 {
		return "***"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
