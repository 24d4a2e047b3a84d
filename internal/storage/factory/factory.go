// Package factory selects and constructs the storage adapter from
// configuration.
package factory

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/steveyegge/engram/internal/storage"
	"github.com/steveyegge/engram/internal/storage/mem0"
	"github.com/steveyegge/engram/internal/storage/memory"
	"github.com/steveyegge/engram/internal/storage/sqlite"
)

// Config selects and parameterizes the primary backend.
type Config struct {
	// Backend is the configured backend name: memory/inmemory, sqlite/
	// persistent/fallback, or remote/mem0. Empty or unknown names
	// downgrade to the in-memory backend with a warning.
	Backend string

	// Enabled false forces the in-memory backend regardless of name.
	Enabled bool

	// Path is the sqlite database file.
	Path string

	// BackendURL and APIKey configure the remote service.
	BackendURL string
	APIKey     string
}

// New builds the storage adapter: the configured primary plus an in-memory
// fallback constructed unconditionally. Remote construction failures and
// unknown backend names log and downgrade to the fallback; only the sqlite
// backend can fail construction hard (disk errors have no soft landing).
func New(cfg Config) (*storage.Adapter, error) {
	fallback := memory.New()
	log := logrus.WithField("component", "storage")

	primary, err := buildPrimary(cfg, fallback, log)
	if err != nil {
		return nil, err
	}
	return storage.NewAdapter(primary, fallback), nil
}

func buildPrimary(cfg Config, fallback storage.Backend, log *logrus.Entry) (storage.Backend, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Backend))
	if !cfg.Enabled {
		name = "memory"
	}

	switch name {
	case "", "memory", "inmemory":
		return fallback, nil

	case "sqlite", "persistent", "fallback":
		store, err := sqlite.New(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("sqlite backend: %w", err)
		}
		log.WithField("path", cfg.Path).Info("using sqlite storage backend")
		return store, nil

	case "remote", "mem0":
		client, err := mem0.New(cfg.BackendURL, cfg.APIKey)
		if err != nil {
			log.WithError(err).Warn("remote backend unavailable, using in-memory fallback")
			return fallback, nil
		}
		log.WithField("url", cfg.BackendURL).Info("using remote storage backend")
		return client, nil

	default:
		log.WithField("backend", cfg.Backend).Warnf("%v, using in-memory fallback", storage.ErrUnknownBackend)
		return fallback, nil
	}
}
