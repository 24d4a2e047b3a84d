package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// Settings is the hippocampus store configuration, loaded from an optional
// engram.toml and overridable through HIPPOCAMPUS_* environment variables.
type Settings struct {
	App        AppSettings        `toml:"app"`
	Auth       AuthSettings       `toml:"auth"`
	Summarizer SummarizerSettings `toml:"summarizer"`
	Store      StoreSettings      `toml:"store"`
}

// AppSettings configures the HTTP listener.
type AppSettings struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	LogLevel string `toml:"log_level"`
}

// AuthSettings configures shared-secret auth.
type AuthSettings struct {
	Enabled    bool     `toml:"enabled"`
	HeaderName string   `toml:"header_name"`
	APIKeys    []string `toml:"api_keys"`
}

// SummarizerSettings configures the optional LLM summarizer.
type SummarizerSettings struct {
	BaseURL string `toml:"base_url"`
	APIKey  string `toml:"api_key"`
	Model   string `toml:"model"`
}

// StoreSettings selects and configures the storage backend.
type StoreSettings struct {
	Backend          string `toml:"backend"`
	Enabled          bool   `toml:"enabled"`
	APIKey           string `toml:"api_key"`
	BackendURL       string `toml:"backend_url"`
	SummaryMaxLength int    `toml:"summary_max_length"`
	QueryLimit       int    `toml:"query_limit"`
	PersistencePath  string `toml:"persistence_path"`
}

// DefaultSettings are the values used when no file and no env overrides
// are present.
func DefaultSettings() Settings {
	return Settings{
		App: AppSettings{
			Host:     "127.0.0.1",
			Port:     54321,
			LogLevel: "info",
		},
		Auth: AuthSettings{
			HeaderName: "X-API-Key",
		},
		Store: StoreSettings{
			Backend:          "memory",
			Enabled:          true,
			SummaryMaxLength: 480,
			QueryLimit:       5,
			PersistencePath:  filepath.Join("data", "memories.db"),
		},
	}
}

// LoadSettings reads path when it exists, then applies environment
// overrides. A missing file is not an error; a malformed one is.
func LoadSettings(path string) (Settings, error) {
	settings := DefaultSettings()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &settings); err != nil {
				return settings, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}

	applyEnv(&settings)
	return settings, nil
}

// applyEnv layers HIPPOCAMPUS_* variables over the file values.
func applyEnv(s *Settings) {
	if v := os.Getenv("HIPPOCAMPUS_HOST"); v != "" {
		s.App.Host = v
	}
	if v := os.Getenv("HIPPOCAMPUS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			s.App.Port = port
		}
	}
	if v := os.Getenv("HIPPOCAMPUS_LOG_LEVEL"); v != "" {
		s.App.LogLevel = v
	}
	if v := os.Getenv("HIPPOCAMPUS_API_KEY"); v != "" {
		s.Auth.Enabled = true
		s.Auth.APIKeys = append(s.Auth.APIKeys, v)
	}
	if v := os.Getenv("HIPPOCAMPUS_STORE_BACKEND"); v != "" {
		s.Store.Backend = v
	}
	if v := os.Getenv("HIPPOCAMPUS_STORE_API_KEY"); v != "" {
		s.Store.APIKey = v
	}
	if v := os.Getenv("HIPPOCAMPUS_STORE_BACKEND_URL"); v != "" {
		s.Store.BackendURL = v
	}
	if v := os.Getenv("HIPPOCAMPUS_STORE_PATH"); v != "" {
		s.Store.PersistencePath = v
	}
}

// ValidKey reports whether key matches one of the configured API keys.
func (a AuthSettings) ValidKey(key string) bool {
	for _, k := range a.APIKeys {
		if key != "" && key == strings.TrimSpace(k) {
			return true
		}
	}
	return false
}
