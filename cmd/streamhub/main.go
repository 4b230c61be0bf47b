package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/datacatalyst/streamhub/internal/builder"
	"github.com/datacatalyst/streamhub/internal/config"
	"github.com/datacatalyst/streamhub/internal/infrastructure/logging"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = logging.LogLevel(cfg.LogLevel)
	logger, err := logging.New(logCfg)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	b, err := builder.NewPlatformBuilder().WithLogger(logger).FromConfig(cfg)
	if err != nil {
		logger.Fatal("Failed to configure platform", logging.Fields{"error": err.Error()})
	}
	platform := b.Build()

	// Relay cluster-wide stop signals into the local hub when the broker
	// can carry them.
	bridgeCtx, cancelBridge := context.WithCancel(context.Background())
	defer cancelBridge()
	if cfg.BrokerDriver != config.DriverMemory {
		go func() {
			if err := platform.Hub.RunBridge(bridgeCtx, platform.Broker, platform.ControlTopic); err != nil && bridgeCtx.Err() == nil {
				logger.Error("control bridge stopped", logging.Fields{"error": err.Error()})
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() { errCh <- platform.Server.Start() }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Info("Shutting down", logging.Fields{"signal": sig.String()})
	case err := <-errCh:
		if err != nil {
			logger.Fatal("Server failed", logging.Fields{"error": err.Error()})
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := platform.Server.Shutdown(ctx); err != nil {
		logger.Error("Graceful shutdown failed", logging.Fields{"error": err.Error()})
	}
	logger.Info("Server stopped")
}
