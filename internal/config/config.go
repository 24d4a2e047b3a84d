// Package config loads runtime configuration: the governor reads MG_* and
// HIPPOCAMPUS_* environment variables through viper; the store side reads
// an optional engram.toml with environment overrides on top.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Governor holds the memory governor's runtime configuration.
type Governor struct {
	BindHost string
	Port     int

	IngestURL         string
	HippocampusURL    string
	HippocampusAPIKey string

	LiteLLMBaseURL string
	LiteLLMAPIKey  string

	StreamEnable    bool
	StreamTTLDays   int
	WorkingTTLHours int
	StateDir        string
}

// LoadGovernor reads governor configuration from the environment.
//
// HIPPOCAMPUS_URL and INGEST_URL have no defaults: when unset the governor
// writes to the in-process store directly instead of going over HTTP.
func LoadGovernor() Governor {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("MG_BIND_HOST", "127.0.0.1")
	v.SetDefault("MG_PORT", 54323)
	v.SetDefault("MG_STREAM_ENABLE", false)
	v.SetDefault("MG_STREAM_TTL_DAYS", 14)
	v.SetDefault("MG_WORKING_TTL_HOURS", 24)
	v.SetDefault("MG_STATE_DIR", defaultStateDir())

	return Governor{
		BindHost:          v.GetString("MG_BIND_HOST"),
		Port:              v.GetInt("MG_PORT"),
		IngestURL:         v.GetString("INGEST_URL"),
		HippocampusURL:    strings.TrimRight(v.GetString("HIPPOCAMPUS_URL"), "/"),
		HippocampusAPIKey: v.GetString("HIPPOCAMPUS_API_KEY"),
		LiteLLMBaseURL:    v.GetString("LITELLM_BASE_URL"),
		LiteLLMAPIKey:     v.GetString("LITELLM_API_KEY"),
		StreamEnable:      v.GetBool("MG_STREAM_ENABLE"),
		StreamTTLDays:     v.GetInt("MG_STREAM_TTL_DAYS"),
		WorkingTTLHours:   v.GetInt("MG_WORKING_TTL_HOURS"),
		StateDir:          v.GetString("MG_STATE_DIR"),
	}
}

func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "state"
	}
	return filepath.Join(home, ".engram")
}

// StatePath resolves a file under the state directory.
func (g Governor) StatePath(name string) string {
	return filepath.Join(g.StateDir, name)
}

// WorkingDBPath is the working-store database file.
func (g Governor) WorkingDBPath() string { return g.StatePath("state.db") }

// StreamLogPath is the append-only observation log.
func (g Governor) StreamLogPath() string { return g.StatePath("stream.log") }

// SpoolPath is the durable write-back queue file.
func (g Governor) SpoolPath() string { return g.StatePath("durable.spool") }
