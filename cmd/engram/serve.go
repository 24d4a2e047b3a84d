package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/steveyegge/engram/internal/config"
	"github.com/steveyegge/engram/internal/governor"
	"github.com/steveyegge/engram/internal/hippo"
	"github.com/steveyegge/engram/internal/llm"
	"github.com/steveyegge/engram/internal/recall"
	"github.com/steveyegge/engram/internal/reflection"
	"github.com/steveyegge/engram/internal/server"
	"github.com/steveyegge/engram/internal/spool"
	"github.com/steveyegge/engram/internal/storage/factory"
	"github.com/steveyegge/engram/internal/telemetry"
	"github.com/steveyegge/engram/internal/working"
)

var configPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the memory fabric server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVar(&configPath, "config", "engram.toml", "store configuration file")
	rootCmd.AddCommand(serveCmd)
}

func runServe(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gov := config.LoadGovernor()
	settings, err := config.LoadSettings(configPath)
	if err != nil {
		return err
	}
	if level, err := logrus.ParseLevel(settings.App.LogLevel); err == nil && !verbose {
		logrus.SetLevel(level)
	}

	if err := telemetry.Init(ctx, "engram", version); err != nil {
		logrus.WithError(err).Warn("telemetry init failed, metrics disabled")
	}
	defer telemetry.Shutdown(context.Background())

	adapter, err := factory.New(factory.Config{
		Backend:    settings.Store.Backend,
		Enabled:    settings.Store.Enabled,
		Path:       settings.Store.PersistencePath,
		BackendURL: settings.Store.BackendURL,
		APIKey:     settings.Store.APIKey,
	})
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer adapter.Close()

	ws, err := working.Open(gov.WorkingDBPath(), gov.WorkingTTLHours)
	if err != nil {
		return fmt.Errorf("open working store: %w", err)
	}
	defer ws.Close()
	if err := ws.Cleanup(ctx); err != nil {
		logrus.WithError(err).Warn("startup cleanup failed")
	}

	queue, err := spool.Open(gov.SpoolPath())
	if err != nil {
		return fmt.Errorf("open spool: %w", err)
	}

	var stream *governor.StreamLog
	if gov.StreamEnable {
		stream, err = governor.OpenStream(gov.StreamLogPath(), gov.StreamTTLDays)
		if err != nil {
			return fmt.Errorf("open stream log: %w", err)
		}
	}

	// With no store URL configured the governor talks to the in-process
	// adapter directly; both tiers live in this binary by default.
	var client governor.Writer
	if gov.HippocampusURL != "" {
		ingestURL := gov.IngestURL
		if ingestURL == "" {
			ingestURL = gov.HippocampusURL + "/ingest"
		}
		client = hippo.New(ingestURL, gov.HippocampusURL, gov.HippocampusAPIKey)
	} else {
		client = hippo.NewLocal(adapter)
	}

	ranker := &recall.Ranker{RerankMax: 10}
	var summarizer server.Summarizer
	if gov.LiteLLMAPIKey != "" {
		llmClient, err := llm.New(gov.LiteLLMAPIKey, gov.LiteLLMBaseURL, settings.Summarizer.Model)
		if err != nil {
			logrus.WithError(err).Warn("LLM client unavailable, using heuristics")
		} else {
			ranker.Reranker = llmClient
			summarizer = llmClient
		}
	}

	runtime := governor.New(ws, queue, stream, client, ranker)
	reflector := reflection.NewSelector(adapter)

	addr := fmt.Sprintf("%s:%d", gov.BindHost, gov.Port)
	srv := server.New(addr, adapter, runtime, reflector, summarizer, settings)

	logrus.WithFields(logrus.Fields{
		"addr":    addr,
		"backend": adapter.BackendName(),
		"spool":   queue.Depth(),
	}).Info("engram starting")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Start(ctx) })
	g.Go(func() error {
		err := runtime.Start(ctx)
		if err == context.Canceled {
			return nil
		}
		return err
	})

	err = g.Wait()
	if err == context.Canceled {
		err = nil
	}
	logrus.Info("engram stopped")
	return err
}
