package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fathomhq/fathom/config"
	"github.com/fathomhq/fathom/errors"
	"github.com/fathomhq/fathom/logger"
	"github.com/fathomhq/fathom/press/async"
	"github.com/fathomhq/fathom/press/event"
	"github.com/fathomhq/fathom/press/report"
	"github.com/fathomhq/fathom/press/schedule"
)

// DaemonCmd runs the report job daemon: executor, worker pool, scheduler,
// and the optional websocket event stream.
var DaemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the report job daemon",
	Long: `Run the report job daemon in foreground mode.

The daemon will:
- Start the executor with the report runner set
- Start the worker pool draining the submission queue
- Start the scheduler polling for due report schedules
- Serve live job events over WebSocket (if configured)
- Run until interrupted (Ctrl+C) with graceful shutdown`,
	RunE: func(cmd *cobra.Command, args []string) error {
		workers, _ := cmd.Flags().GetInt("workers")
		outputDir, _ := cmd.Flags().GetString("output-dir")

		// Load configuration
		cfg, err := config.Load()
		if err != nil {
			return errors.Wrap(err, "failed to load config")
		}
		if workers <= 0 {
			workers = cfg.Press.NumWorkers
		}

		// Open and migrate database
		database, err := openDatabase("")
		if err != nil {
			return err
		}
		defer database.Close()

		// Parent context for the whole daemon
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Event publisher: websocket hub when configured, otherwise no-op
		var publisher event.Publisher = event.NopPublisher{}
		var hub *event.Hub
		if addr := cfg.Server.EventsListenAddr; addr != "" {
			hub = event.NewHub(logger.Logger)
			publisher = hub
			go serveEvents(addr, hub)
		}

		// Executor with the built-in report runner set
		execCfg := async.ExecutorConfig{
			MaxWorkers:     cfg.Press.MaxWorkers,
			DefaultTimeout: cfg.Press.DefaultTimeout(),
		}
		jobStore := async.NewStore(database)
		executor := async.NewExecutorWithContext(ctx, execCfg, jobStore, publisher, logger.Logger)

		generator := report.NewLocalGenerator(outputDir, logger.Logger)
		for _, runner := range generator.Runners() {
			executor.Registry().Register(runner)
		}

		// Worker pool in front of the executor
		poolCfg := async.WorkerPoolConfig{
			NumWorkers:        workers,
			QueueSize:         cfg.Press.QueueSize,
			ShutdownTimeout:   cfg.Press.ShutdownTimeout(),
			DispatchPerSecond: cfg.Press.DispatchPerSecond,
		}
		pool := async.NewWorkerPoolWithContext(ctx, executor, poolCfg, logger.Logger)
		pool.Start()

		// Scheduler feeding the pool
		schedStore := schedule.NewStore(database)
		schedCfg := schedule.SchedulerConfig{
			PollInterval:    cfg.Press.PollInterval(),
			DispatchTimeout: cfg.Press.DispatchTimeout(),
		}
		scheduler := schedule.NewSchedulerWithContext(ctx, schedStore, pool, publisher, schedCfg, logger.Logger)
		scheduler.Start()

		fmt.Println("Fathom daemon started")
		fmt.Printf("  Workers: %d\n", workers)
		fmt.Printf("  Queue size: %d\n", poolCfg.QueueSize)
		fmt.Printf("  Poll interval: %v\n", schedCfg.PollInterval)
		fmt.Printf("  Output dir: %s\n", outputDir)
		if cfg.Server.EventsListenAddr != "" {
			fmt.Printf("  Event stream: ws://%s/events\n", cfg.Server.EventsListenAddr)
		}
		fmt.Println("\nPress Ctrl+C for graceful shutdown")

		// Wait for interrupt signal
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		fmt.Println("\nShutting down...")

		// Stop components in reverse order of startup
		scheduler.Stop()
		pool.Stop()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Press.ShutdownTimeout())
		defer shutdownCancel()
		if err := executor.Shutdown(shutdownCtx); err != nil {
			logger.Warnw("Executor shutdown incomplete", "error", err)
		}

		if hub != nil {
			hub.Close()
		}
		cancel()

		fmt.Println("Fathom daemon stopped")
		return nil
	},
}

// serveEvents exposes the hub's websocket upgrade endpoint. Listen failures
// are logged, not fatal - the daemon keeps processing jobs without a stream.
func serveEvents(addr string, hub *event.Hub) {
	mux := http.NewServeMux()
	mux.Handle("/events", hub)

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Errorw("Event stream server failed", "addr", addr, "error", err)
	}
}

func init() {
	DaemonCmd.Flags().Int("workers", 0, "Number of queue workers (0 = use config)")
	DaemonCmd.Flags().String("output-dir", "reports", "Directory for generated report artifacts")
}
