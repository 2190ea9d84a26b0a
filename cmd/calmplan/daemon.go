package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fentz26/calmplan/internal/audit"
	"github.com/fentz26/calmplan/internal/automation"
	"github.com/fentz26/calmplan/internal/backup"
	"github.com/fentz26/calmplan/internal/cascade"
	"github.com/fentz26/calmplan/internal/config"
	"github.com/fentz26/calmplan/internal/controlplane"
	"github.com/fentz26/calmplan/internal/kvstate"
	"github.com/fentz26/calmplan/internal/notify"
	"github.com/fentz26/calmplan/internal/store"
	"github.com/fentz26/calmplan/internal/telemetry"
)

var (
	listenAddr string
	dbPath     string
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start the CalmPlan daemon",
	Long:  `Starts the CalmPlan daemon which serves the HTTP API and runs the backup monitor.`,
	RunE:  runDaemon,
}

func init() {
	daemonCmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address for the API server (overrides config)")
	daemonCmd.Flags().StringVar(&dbPath, "db", "", "Path to SQLite database (overrides config)")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	res := config.Load(configPath)
	if res.ParseError != nil {
		slog.Warn("config file invalid, using defaults", "path", res.Path, "error", res.ParseError)
	}
	cfg := res.Config
	if listenAddr != "" {
		cfg.Daemon.Listen = listenAddr
	}
	if dbPath != "" {
		cfg.Daemon.DBPath = dbPath
	}
	if !cmd.Flags().Changed("log-level") && cfg.Log.Level != "" {
		setupLogging(cfg.Log.Level, cfg.Log.Format)
	}
	logger := slog.Default()
	logger.Info("starting calmplan daemon", "version", version, "config", res.Path, "config_found", res.Found)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := os.MkdirAll(cfg.Daemon.DataDir, 0o700); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Daemon.DBPath), 0o700); err != nil {
		return fmt.Errorf("creating database dir: %w", err)
	}

	cfg.Telemetry.ServiceVersion = version
	shutdownTracing, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}
	defer func() {
		tctx, tcancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer tcancel()
		if err := shutdownTracing(tctx); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	// Initialize store
	s, err := store.New(cfg.Daemon.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		logger.Info("closing database connection")
		if err := s.Close(); err != nil {
			logger.Error("database close failed", "error", err)
		}
	}()

	kvCfg := kvstate.DefaultConfig(cfg.StatePath())
	kvCfg.Logger = logger
	kv, err := kvstate.Open(kvCfg)
	if err != nil {
		return err
	}
	defer kv.Close()

	// Initialize components
	bus := notify.NewBus()
	pdr := audit.NewPDRWriter(s)

	coord := cascade.NewCoordinator(s,
		cascade.WithPublisher(bus),
		cascade.WithAudit(pdr),
		cascade.WithLogger(logger),
	)
	if err := coord.Load(ctx); err != nil {
		return err
	}

	rules := automation.NewStore(s, logger)
	loaded, configID := rules.Load(ctx)
	logger.Info("automation rules loaded", "count", len(loaded), "config_id", configID)

	var uploader backup.Uploader
	if cfg.Backup.GCS.Configured() {
		gcs, err := backup.NewGCSUploader(ctx, cfg.Backup.GCS)
		if err != nil {
			logger.Error("cloud backup unavailable", "bucket", cfg.Backup.GCS.Bucket, "error", err)
		} else {
			defer gcs.Close()
			uploader = gcs
		}
	} else {
		logger.Warn("no cloud backup bucket configured, backup monitor disabled")
	}

	monitor := backup.NewMonitor(cfg.Backup.Config, backup.Deps{
		State:     kv,
		Snapshots: s,
		Exporter:  s,
		Uploader:  uploader,
		Publisher: bus,
		Audit:     pdr,
		Logger:    logger,
	})
	if cfg.Backup.AutoBackup != nil {
		if err := monitor.SetAutoBackup(ctx, *cfg.Backup.AutoBackup); err != nil {
			logger.Warn("applying auto backup setting failed", "error", err)
		}
	}
	monitor.Start()
	defer monitor.Stop()

	// Reload the auto-backup switch when the config file changes
	go func() {
		err := config.Watch(ctx, res.Path, func(next config.LoadResult) {
			if next.Config.Backup.AutoBackup == nil {
				return
			}
			if err := monitor.SetAutoBackup(ctx, *next.Config.Backup.AutoBackup); err != nil {
				logger.Warn("applying auto backup setting failed", "error", err)
				return
			}
			monitor.Tick(ctx)
		})
		if err != nil {
			logger.Warn("config watch unavailable", "error", err)
		}
	}()

	// Create service and server
	service := controlplane.NewService(controlplane.Deps{
		Store:       s,
		Coordinator: coord,
		Rules:       rules,
		Monitor:     monitor,
		Bus:         bus,
		Audit:       pdr,
		Logger:      logger,
	})
	server := controlplane.NewServer(service, cfg.Daemon.Listen, version, cfg.Notify.Debounce)

	// Set up signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Channel to receive server errors
	serverErr := make(chan error, 1)

	go func() {
		err := server.Start()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case sig := <-sigCh:
		logger.Info("received signal, initiating graceful shutdown", "signal", sig)
	case err := <-serverErr:
		if err != nil {
			logger.Error("server error", "error", err)
			return err
		}
	}

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	logger.Info("shutting down HTTP server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	cancel()

	logger.Info("shutdown complete")
	return nil
}
