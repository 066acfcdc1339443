package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/epw80/muc-history/pkg/config"
	"github.com/epw80/muc-history/pkg/muc"
	"github.com/epw80/muc-history/pkg/snapshot"
	"github.com/epw80/muc-history/pkg/storage"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig applies, in increasing precedence, environment variables,
// the optional YAML file and command line flags
func loadConfig(args []string) (*config.Config, error) {
	var configPath, port, logLevel string

	flagSet := pflag.NewFlagSet("muc-server", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to a YAML configuration file")
	flagSet.StringVar(&port, "port", "", "HTTP listen port (overrides PORT)")
	flagSet.StringVar(&logLevel, "log-level", "", "debug, info, warn or error (overrides LOG_LEVEL)")
	if err := flagSet.Parse(args); err != nil {
		return nil, err
	}

	cfg := config.Load()
	if configPath != "" {
		var err error
		if cfg, err = config.LoadFile(configPath); err != nil {
			return nil, err
		}
	}
	if port != "" {
		cfg.Port = port
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(level string) *slog.Logger {
	logLevel := slog.LevelInfo
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
}

// openBackend opens the configured property and snapshot store
func openBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Backend, error) {
	switch cfg.PropertyBackend {
	case config.BackendBadger:
		return storage.NewBadgerStore(storage.BadgerConfig{
			Path:       cfg.BadgerPath,
			SyncWrites: true,
			GCInterval: 5 * time.Minute,
		}, logger)
	case config.BackendDynamoDB:
		return storage.NewDynamoDBStore(ctx, cfg, logger)
	case config.BackendMemory:
		return storage.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown property backend %q", cfg.PropertyBackend)
	}
}

func run(args []string) error {
	cfg, err := loadConfig(args)
	if errors.Is(err, pflag.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}

	logger := newLogger(cfg.LogLevel)

	logger.Info("loaded configuration",
		slog.String("port", cfg.Port),
		slog.String("service", cfg.ServiceAddress()),
		slog.String("property_backend", cfg.PropertyBackend),
		slog.String("snapshot_compression", cfg.SnapshotCompression),
		slog.String("log_level", cfg.LogLevel))

	ctx := context.Background()

	backend, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open property store: %w", err)
	}
	defer backend.Close()

	compression, err := snapshot.ParseCompression(cfg.SnapshotCompression)
	if err != nil {
		return err
	}

	service, err := muc.NewService(ctx, muc.Config{
		Subdomain:   cfg.MUCSubdomain,
		Properties:  backend,
		Flags:       storage.NewFlags(backend, logger),
		Snapshots:   backend,
		Compression: compression,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	if _, err := service.RestoreAll(ctx); err != nil {
		logger.Error("failed to restore room history", slog.String("error", err.Error()))
	}

	srv := NewServer(cfg, service, backend, logger)

	// Setup HTTP server
	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv.setupRoutes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start HTTP server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", slog.String("port", cfg.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		logger.Error("server error", slog.String("error", err.Error()))
	}

	logger.Info("shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", slog.String("error", err.Error()))
	}

	// Disconnect occupants, then persist what they left behind
	service.Shutdown()
	if cfg.PersistOnShutdown {
		if _, err := service.PersistAll(shutdownCtx); err != nil {
			logger.Error("failed to persist room history", slog.String("error", err.Error()))
		}
	}

	logger.Info("server exited")
	return nil
}
