/*
main.go - Application entry point

PURPOSE:
  Starts the refund tracker server and its maintenance commands.
  Handles configuration, dependency injection, and graceful shutdown.

COMMANDS:
  serve                   Run the HTTP API and the alert scheduler (default)
  migrate up              Apply pending schema migrations
  migrate version         Print the schema version
  check-alerts            Run one alert pass and exit
  deadline START [DAYS]   Project START + DAYS business days (default 40)

STARTUP SEQUENCE (serve):
  1. Load configuration (file, then REFUND_* environment)
  2. Build the logger
  3. Open SQLite and migrate
  4. Wire clock, notifier, metrics and the refund service
  5. Start the alert scheduler
  6. Start server with graceful shutdown

FLAGS:
  --config   YAML config file (optional; env-only when empty)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the alert scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Flush the notifier and close the database
  5. Exit

EXAMPLES:
  # Run with file database
  refundd serve --config=./refund.yaml

  # Run with in-memory database
  REFUND_DATABASE_PATH=":memory:" refundd serve

  # When is a requirement answered on 2024-02-01 due?
  refundd deadline 2024-02-01 20

SEE ALSO:
  - config/config.go: Configuration keys and defaults
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/refund-tracker/api"
	"github.com/warp/refund-tracker/config"
	"github.com/warp/refund-tracker/generic"
	"github.com/warp/refund-tracker/logging"
	"github.com/warp/refund-tracker/metrics"
	"github.com/warp/refund-tracker/notify"
	"github.com/warp/refund-tracker/refund"
	"github.com/warp/refund-tracker/store/sqlite"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "refundd",
		Short:        "Tracks statutory deadlines of tax refund requests",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the alert scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	root.RunE = serve.RunE

	migrateCmd := &cobra.Command{
		Use:       "migrate [up|version]",
		Short:     "Manage the database schema",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "version"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(configPath, args[0], cmd.OutOrStdout())
		},
	}

	checkAlerts := &cobra.Command{
		Use:   "check-alerts",
		Short: "Run one alert pass and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCheckAlerts(cmd.Context(), configPath, cmd.OutOrStdout())
		},
	}

	deadline := &cobra.Command{
		Use:   "deadline START [BUDGET_DAYS]",
		Short: "Project START plus a business-day budget using the stored holidays",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeadline(cmd.Context(), configPath, args, cmd.OutOrStdout())
		},
	}

	root.AddCommand(serve, migrateCmd, checkAlerts, deadline)
	return root
}

// =============================================================================
// WIRING
// =============================================================================

// app holds everything a command needs. close releases it in reverse order.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	level    zap.AtomicLevel
	store    *sqlite.Store
	metrics  *metrics.Metrics
	notifier interface {
		refund.Notifier
		io.Closer
	}
	service *refund.Service
	checker *refund.AlertChecker
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newApp(configPath string) (*app, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	logger, level, err := logging.Build(cfg.Log)
	if err != nil {
		return nil, err
	}

	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		logger.Sync()
		return nil, fmt.Errorf("initialize database: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, level: level, store: store, metrics: metrics.New()}

	switch cfg.Notify.Driver {
	case "kafka":
		kn, err := notify.NewKafkaNotifier(notify.KafkaConfig{
			Brokers: cfg.Notify.Kafka.Brokers,
			Topic:   cfg.Notify.Kafka.Topic,
		}, logger)
		if err != nil {
			a.close()
			return nil, err
		}
		a.notifier = kn
	default:
		a.notifier = notify.NewLogNotifier(logger)
	}

	clock, err := generic.NewZoneClock(cfg.Clock.Timezone)
	if err != nil {
		a.close()
		return nil, err
	}

	a.service = &refund.Service{
		Store:    store,
		Holidays: store,
		Clock:    clock,
		Notifier: a.notifier,
		Regime:   cfg.Regime.Regime(),
		Logger:   logger.Named("refund"),
		Metrics:  a.metrics,
	}
	a.checker = &refund.AlertChecker{Service: a.service, ThresholdDays: cfg.Alerts.ThresholdDays}
	return a, nil
}

func (a *app) close() {
	if a.notifier != nil {
		if err := a.notifier.Close(); err != nil {
			a.logger.Warn("notifier close failed", zap.Error(err))
		}
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("database close failed", zap.Error(err))
	}
	a.logger.Sync()
}

// =============================================================================
// COMMANDS
// =============================================================================

func runServe(ctx context.Context, configPath string) error {
	a, err := newApp(configPath)
	if err != nil {
		return err
	}
	defer a.close()
	logger := a.logger

	if configPath != "" {
		config.Watch(configPath, func(cfg *config.Config) {
			if err := logging.SetLevel(a.level, cfg.Log.Level); err != nil {
				logger.Warn("ignoring log level from reloaded config", zap.Error(err))
				return
			}
			logger.Info("log level updated", zap.String("level", cfg.Log.Level))
		}, func(err error) {
			logger.Warn("config reload failed", zap.Error(err))
		})
	}

	scheduler := api.NewAlertScheduler(a.checker, logger)
	scheduler.Enabled = a.cfg.Alerts.Enabled
	scheduler.Interval = a.cfg.Alerts.Interval
	scheduler.Start()
	defer scheduler.Stop()

	handler := api.NewHandler(a.service, a.checker, a.store, logger)
	router := api.NewRouter(handler, api.Options{
		AllowedOrigins: a.cfg.CORS.AllowedOrigins,
		Metrics:        a.metrics,
	})

	server := &http.Server{
		Addr:         a.cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("addr", server.Addr),
			zap.String("database", a.cfg.Database.Path),
			zap.String("timezone", a.cfg.Clock.Timezone),
			zap.String("notifier", a.cfg.Notify.Driver),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func runMigrate(configPath, action string, out io.Writer) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	store, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	if action == "up" {
		if err := store.MigrateUp(); err != nil {
			return err
		}
	}
	version, dirty, err := store.MigrationVersion()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "schema version %d (dirty=%t)\n", version, dirty)
	return nil
}

func runCheckAlerts(ctx context.Context, configPath string, out io.Writer) error {
	a, err := newApp(configPath)
	if err != nil {
		return err
	}
	defer a.close()

	res, err := a.checker.Run(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "checked %d pending cases, raised %d alerts, %d failed, %d skipped\n", res.Checked, len(res.Alerts), res.Failed, len(res.Skipped))
	for _, alert := range res.Alerts {
		fmt.Fprintf(out, "  %-16s %s  %s\n", alert.Kind, alert.CaseID, alert.Message)
	}
	if res.Failed > 0 {
		return fmt.Errorf("%d alerts could not be delivered", res.Failed)
	}
	return nil
}

func runDeadline(ctx context.Context, configPath string, args []string, out io.Writer) error {
	start, err := generic.ParseDate(args[0])
	if err != nil {
		return err
	}

	a, err := newApp(configPath)
	if err != nil {
		return err
	}
	defer a.close()

	budget := a.service.Regime.BudgetDays
	if len(args) == 2 {
		if budget, err = strconv.Atoi(args[1]); err != nil {
			return fmt.Errorf("budget %q: %w", args[1], err)
		}
	}
	deadline, err := a.service.ProjectDeadline(ctx, start, budget)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s + %d business days = %s (%s)\n", start, budget, deadline, deadline.Weekday())
	return nil
}
