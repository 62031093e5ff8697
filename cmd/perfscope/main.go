// Package main is the entry point for the perfscope CLI and server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/perfscope/perfscope/internal/cache"
	"github.com/perfscope/perfscope/internal/ci"
	"github.com/perfscope/perfscope/internal/observability"
	"github.com/perfscope/perfscope/internal/scheduler"
	"github.com/perfscope/perfscope/internal/server"
	"github.com/perfscope/perfscope/internal/store"
)

var (
	logLevel     string
	cacheDir     string
	cacheBackend string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "perfscope",
	Short: "perfscope — browser performance CI tooling",
	Long: "Tools for working with browser performance CI: downloading test artifacts,\n" +
		"detecting metric changes between pushes, summarizing pageload trends,\n" +
		"minimizing alert-covering test sets, scheduling tests into CI lulls and\n" +
		"building side-by-side video comparisons.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the perfscope API server",
	RunE:  runServer,
}

var (
	bindAddr        string
	dataDir         string
	shutdownTimeout time.Duration
	otelEnabled     bool
	otelEndpoint    string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&cacheDir, "cache-dir", ".perfscope-cache", "Directory for the API response cache")
	rootCmd.PersistentFlags().StringVar(&cacheBackend, "cache-backend", "badger", "Cache backend: badger or pebble")

	serverCmd.Flags().StringVar(&bindAddr, "bind", ":8080", "HTTP server bind address")
	serverCmd.Flags().StringVar(&dataDir, "data-dir", "data", "Directory for the SQLite database")
	serverCmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 2*time.Second, "Graceful HTTP shutdown timeout before force-close")
	serverCmd.Flags().BoolVar(&otelEnabled, "otel-enabled", false, "Enable OpenTelemetry tracing")
	serverCmd.Flags().StringVar(&otelEndpoint, "otel-endpoint", "", "OTLP HTTP endpoint (host:port) for traces; if empty uses stdout exporter")

	rootCmd.AddCommand(serverCmd)
}

func setupLogging() {
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

// newCIClient builds the shared Taskcluster/pushlog client backed by
// the on-disk response cache.
func newCIClient() (*ci.Client, func(), error) {
	cacheStore, err := cache.Open(cacheBackend, cacheDir)
	if err != nil {
		return nil, nil, fmt.Errorf("open cache: %w", err)
	}
	client := ci.New(ci.WithCache(cacheStore))
	return client, func() { cacheStore.Close() }, nil
}

func runServer(cmd *cobra.Command, args []string) error {
	slog.Info("starting perfscope server",
		"bind", bindAddr,
		"data_dir", dataDir,
		"otel_enabled", otelEnabled,
		"otel_endpoint", otelEndpoint,
	)

	otelShutdown, err := observability.InitTracer(cmd.Context(), otelEnabled, "perfscope-server", otelEndpoint)
	if err != nil {
		return fmt.Errorf("init otel: %w", err)
	}
	defer func() {
		if err := otelShutdown(context.Background()); err != nil {
			slog.Warn("otel shutdown error", "error", err)
		}
	}()

	db, err := store.Open(dataDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	cacheStore, err := cache.Open(cacheBackend, cacheDir)
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	defer cacheStore.Close()

	sched := scheduler.New(db, cacheStore, scheduler.DefaultConfig())
	schedCtx, schedCancel := context.WithCancel(context.Background())
	defer schedCancel()
	go sched.Run(schedCtx)

	srv := server.New(db, bindAddr)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("perfscope server ready", "bind", bindAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	slog.Info("received shutdown signal", "signal", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown error", "error", err)
	}

	slog.Info("perfscope server stopped")
	return nil
}
