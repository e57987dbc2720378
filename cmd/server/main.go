package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mir00r/region-failover/internal/config"
	"github.com/mir00r/region-failover/internal/container"
	"github.com/mir00r/region-failover/internal/observability"
	"github.com/mir00r/region-failover/internal/server"
	"github.com/mir00r/region-failover/pkg/logger"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

// getConfigSource returns the configuration source for logging
func getConfigSource() string {
	if configFile := os.Getenv("CONFIG_FILE"); configFile != "" {
		if _, err := os.Stat(configFile); err == nil {
			return "file+env"
		}
	}

	envVars := []string{
		"FAILOVER_BACKEND", "FAILOVER_PORT", "HOSTED_ZONE_ID", "RECORD_NAME",
		"FAILOVER_OVERRIDE", "FAILOVER_LOG_LEVEL", "FAILOVER_RECONCILE_ENABLED",
	}
	for _, envVar := range envVars {
		if os.Getenv(envVar) != "" {
			return "environment"
		}
	}

	return "defaults"
}

func newLogger(cfg *config.Config) (*logger.Logger, error) {
	return logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
		File:   cfg.Logging.File,
	})
}

func main() {
	// One-off admin commands share the binary and the configuration
	if checkIfAdminMode() {
		runAdminProcess()
		return
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := newLogger(cfg)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info("Starting region failover controller")

	tracing, err := observability.NewTracingManager(cfg.Tracing, version, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize tracing")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := container.New(ctx, cfg, version, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to build application")
	}

	log.WithFields(map[string]interface{}{
		"version":       version,
		"backend":       cfg.Backend,
		"record":        cfg.DNS.RecordName,
		"primary":       cfg.Regions.Primary.Label,
		"secondary":     cfg.Regions.Secondary.Label,
		"config_source": getConfigSource(),
		"process":       getProcessInfo(),
	}).Info("Failover configuration loaded")

	if err := app.Start(ctx); err != nil {
		log.WithError(err).Fatal("Failed to start controller")
	}

	port := getPort(cfg.Server.Port)
	srv, err := server.New(cfg.Server, port, app.Router(), log)
	if err != nil {
		log.WithError(err).Fatal("Failed to configure HTTP server")
	}

	go func() {
		log.WithFields(map[string]interface{}{
			"port":      port,
			"reconcile": cfg.Reconcile.Enabled,
			"auth":      cfg.Auth.Enabled,
		}).Info("Serving failover API")

		if err := srv.ListenAndServe(); err != nil {
			log.WithError(err).Fatal("HTTP server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	log.Info("Shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// stop accepting notifications first so no cycle starts after the loop stops
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Error shutting down HTTP server")
	}

	if err := app.Stop(shutdownCtx); err != nil {
		log.WithError(err).Error("Error stopping controller")
	}

	if err := tracing.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Error flushing traces")
	}

	log.Info("Region failover controller stopped gracefully")
}
