package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/garyjia/hr-orchestrator/internal/config"
	"github.com/garyjia/hr-orchestrator/internal/container"
	"github.com/garyjia/hr-orchestrator/pkg/utils"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the YAML config file, empty for defaults and environment only")
	flag.Parse()

	if *configPath != "" {
		if _, err := os.Stat(*configPath); os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Config file %s not found, using defaults and environment\n", *configPath)
			*configPath = ""
		}
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting HR process orchestrator",
		zap.String("version", container.Version),
		zap.String("address", cfg.Server.Addr()),
		zap.Bool("lark_enabled", cfg.Lark.Enabled))

	c, err := container.NewContainer(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create container", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := c.Start(ctx); err != nil {
		logger.Fatal("Failed to start container", zap.Error(err))
	}

	<-ctx.Done()
	logger.Info("Shutting down")

	if err := c.Close(); err != nil {
		logger.Error("Shutdown finished with errors", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("Server exited")
}
