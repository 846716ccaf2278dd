package cli

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/speaknet/speakd/internal/api"
	"github.com/speaknet/speakd/internal/app/agents"
	"github.com/speaknet/speakd/internal/app/jobs"
	"github.com/speaknet/speakd/internal/app/ledger"
	"github.com/speaknet/speakd/internal/app/orders"
	"github.com/speaknet/speakd/internal/daemon"
	"github.com/speaknet/speakd/internal/domain"
	"github.com/speaknet/speakd/internal/infra/artifacts"
	"github.com/speaknet/speakd/internal/infra/gateway"
	"github.com/speaknet/speakd/internal/infra/observability"
	"github.com/speaknet/speakd/internal/infra/queue"
	"github.com/speaknet/speakd/internal/infra/sqlite"
	"github.com/speaknet/speakd/internal/infra/tts"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the speakd API server (with embedded workers by default)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := daemon.LoadConfig(configPath)
		if err != nil {
			return err
		}
		return runServe(cmd.Context(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// runtime holds the wired service stack shared by serve and worker.
type runtime struct {
	cfg       daemon.Config
	db        *sqlite.DB
	queue     domain.WorkQueue
	bridge    *gateway.Bridge
	provider  domain.ConversionProvider
	artifacts *artifacts.LocalStore
	ledger    *ledger.Service
	agents    *agents.Service
	orders    *orders.Service
	jobs      *jobs.Service
}

// buildRuntime opens the store and wires every service from config.
func buildRuntime(ctx context.Context, cfg daemon.Config) (*runtime, error) {
	db, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	var wq domain.WorkQueue
	switch cfg.Queue.Backend {
	case "redis":
		wq, err = queue.NewRedisQueue(ctx, queue.RedisQueueConfig{
			Addr:     cfg.Queue.RedisAddr,
			LeaseFor: cfg.QueueLease(),
		})
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("connect redis queue: %w", err)
		}
	default:
		wq = queue.NewSQLiteQueue(db, queue.SQLiteQueueConfig{LeaseFor: cfg.QueueLease()})
	}

	var bridge *gateway.Bridge
	if cfg.Gateway.APIKey != "" {
		bridge = gateway.NewBridge(gateway.NewClient(cfg.Gateway.APIBase, cfg.Gateway.APIKey), "")
	} else {
		bridge = gateway.NewBridge(nil, "gateway.api_key is not configured")
	}

	var provider domain.ConversionProvider
	switch cfg.Provider.Name {
	case "elevenlabs":
		provider = tts.NewElevenLabsProvider(cfg.Provider.ElevenLabsAPIKey)
	default:
		provider = tts.NewMockProvider()
	}

	store, err := artifacts.NewLocalStore(cfg.Artifacts.Dir, cfg.API.PublicBaseURL)
	if err != nil {
		wq.Close()
		db.Close()
		return nil, fmt.Errorf("open artifact store: %w", err)
	}

	ledgerSvc := ledger.New(db)
	rt := &runtime{
		cfg:       cfg,
		db:        db,
		queue:     wq,
		bridge:    bridge,
		provider:  provider,
		artifacts: store,
		ledger:    ledgerSvc,
		agents:    agents.New(db, 0),
		orders:    orders.New(db, ledgerSvc, bridge),
		jobs:      jobs.NewService(db, ledgerSvc, wq),
	}
	return rt, nil
}

func (rt *runtime) close() {
	if err := rt.queue.Close(); err != nil {
		log.Printf("[speakd] queue close: %v", err)
	}
	if err := rt.db.Close(); err != nil {
		log.Printf("[speakd] database close: %v", err)
	}
}

func (rt *runtime) dispatcherConfig() jobs.DispatcherConfig {
	return jobs.DispatcherConfig{
		Concurrency:     rt.cfg.Worker.Concurrency,
		StaleJobTimeout: rt.cfg.StaleJobTimeout(),
		SweepInterval:   rt.cfg.SweepInterval(),
		CleanupInterval: rt.cfg.CleanupInterval(),
		RetentionHours:  rt.cfg.Artifacts.RetentionHours,
	}
}

func runServe(ctx context.Context, cfg daemon.Config) error {
	rt, err := buildRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.close()

	srv := api.NewServer(rt.agents, rt.ledger, rt.orders, rt.jobs, rt.provider, api.ProviderDefaults{
		VoiceID:      cfg.Provider.DefaultVoiceID,
		ModelID:      cfg.Provider.DefaultModelID,
		OutputFormat: cfg.Provider.DefaultOutputFormat,
	}, rt.artifacts.Dir())
	if cfg.API.Metrics {
		srv.EnableMetrics()
	}
	if cfg.Gateway.WebhookSecret != "" {
		srv.SetWebhookSecret(cfg.Gateway.WebhookSecret)
	} else {
		log.Printf("[speakd] gateway.webhook_secret not set, webhook signatures are not verified")
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Worker.Embedded {
		tracer := observability.NewTracer(observability.DefaultTracerConfig())
		d := jobs.NewDispatcher(rt.dispatcherConfig(), rt.db, rt.queue, rt.ledger,
			rt.provider, rt.artifacts, tracer)
		go d.Run(ctx)
		log.Printf("[speakd] embedded workers started (concurrency=%d)", cfg.Worker.Concurrency)
	}

	addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[speakd] listening on %s (provider=%s queue=%s checkout_enabled=%t)",
			addr, cfg.Provider.Name, cfg.Queue.Backend, rt.bridge.Enabled())
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Printf("[speakd] shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}
