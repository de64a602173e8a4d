package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/cloo-solutions/kbask/internal/domain"
)

// GlobalConfig holds the service location, credentials and upload ceiling stored in
// config.json.
type GlobalConfig struct {
	APIKey string `json:"api_key,omitempty"`
	APIURL string `json:"api_url"`
	// MaxUploadBytes is the client-side fast-fail ceiling; zero means the default.
	MaxUploadBytes int64 `json:"max_upload_bytes,omitempty"`
}

// configPath locates config.json; tests point it at a temp dir.
var configPath = func() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user config directory: %w", err)
	}
	return filepath.Join(dir, "kbask", "config.json"), nil
}

// GetConfigPath returns where the global config is stored.
func GetConfigPath() (string, error) {
	return configPath()
}

// LoadGlobalConfig returns the stored config, or nil when none has been saved.
func LoadGlobalConfig() (*GlobalConfig, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config GlobalConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return &config, nil
}

// SaveGlobalConfig replaces config.json atomically. The file is readable by the
// owner only since it holds the API key.
func SaveGlobalConfig(config *GlobalConfig) error {
	if config == nil {
		return errors.New("config cannot be nil")
	}

	path, err := configPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".config-*.json")
	if err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write config file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return fmt.Errorf("failed to secure config file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace config file: %w", err)
	}
	return nil
}

// DeleteGlobalConfig removes config.json. A missing file is not an error.
func DeleteGlobalConfig() error {
	path, err := configPath()
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete config file: %w", err)
	}
	return nil
}

// IsValidAPIKey accepts an empty key (unauthenticated service) or at least 16
// characters without whitespace.
func IsValidAPIKey(key string) bool {
	if key == "" {
		return true
	}
	if len(key) < 16 {
		return false
	}
	return strings.IndexFunc(key, unicode.IsSpace) == -1
}

// CredentialSource represents where the service URL came from
type CredentialSource string

const (
	SourceFlag         CredentialSource = "flag"
	SourceEnv          CredentialSource = "env"
	SourceGlobalConfig CredentialSource = "global_config"
	SourceDefault      CredentialSource = "default"
)

// Endpoint is the resolved service location for one invocation.
type Endpoint struct {
	URL            string
	APIKey         string
	Source         CredentialSource
	MaxUploadBytes int64
}

// ResolveEndpoint applies the cascade flag -> env -> global config -> default to the
// URL and the key independently. Source reports where the URL came from. An unreadable
// global config is an error; a missing one is not.
func ResolveEndpoint(flagAPIKey, flagAPIURL string) (Endpoint, error) {
	global, err := LoadGlobalConfig()
	if err != nil {
		return Endpoint{}, err
	}
	if global == nil {
		global = &GlobalConfig{}
	}

	ep := Endpoint{
		APIKey:         firstNonEmpty(flagAPIKey, os.Getenv(envAPIKey), global.APIKey),
		MaxUploadBytes: global.MaxUploadBytes,
	}
	switch {
	case flagAPIURL != "":
		ep.URL, ep.Source = flagAPIURL, SourceFlag
	case os.Getenv(envAPIURL) != "":
		ep.URL, ep.Source = os.Getenv(envAPIURL), SourceEnv
	case global.APIURL != "":
		ep.URL, ep.Source = global.APIURL, SourceGlobalConfig
	default:
		ep.URL, ep.Source = defaultAPIURL, SourceDefault
	}
	if ep.MaxUploadBytes <= 0 {
		ep.MaxUploadBytes = domain.DefaultMaxUploadBytes
	}
	return ep, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
