package cli

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/speaknet/speakd/internal/app/jobs"
	"github.com/speaknet/speakd/internal/daemon"
	"github.com/speaknet/speakd/internal/infra/observability"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run a standalone job worker (no API server)",
	Long: `Runs the job dispatcher against the configured queue without serving
the HTTP API. Use this with worker.embedded = false to scale processing
separately from the API.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := daemon.LoadConfig(configPath)
		if err != nil {
			return err
		}
		return runWorker(cmd.Context(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(ctx context.Context, cfg daemon.Config) error {
	rt, err := buildRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracer := observability.NewTracer(observability.DefaultTracerConfig())
	d := jobs.NewDispatcher(rt.dispatcherConfig(), rt.db, rt.queue, rt.ledger,
		rt.provider, rt.artifacts, tracer)
	log.Printf("[speakd] worker running (concurrency=%d queue=%s provider=%s)",
		cfg.Worker.Concurrency, cfg.Queue.Backend, cfg.Provider.Name)
	d.Run(ctx)
	return nil
}
