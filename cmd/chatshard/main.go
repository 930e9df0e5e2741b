package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/open-chat-labs/open-chat-sub009/internal/app"
	"github.com/open-chat-labs/open-chat-sub009/pkg/config"
	"github.com/open-chat-labs/open-chat-sub009/pkg/logger"
)

// set build metadata
var version = "dev"

func main() {
	// load .env file if present
	_ = godotenv.Load(".env")

	flags := config.ParseFlags()
	cfg, err := config.Load(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	// initialize logger after config is fully loaded
	logger.Init(cfg.Logging.Level)
	defer logger.Sync()
	logger.Info("effective_config_loaded", "addr", cfg.Addr(), "db_path", cfg.Store.Path)

	a, err := app.New(cfg, version)
	if err != nil {
		logger.Error("app_init_failed", "error", err)
		fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := a.Run(ctx); err != nil {
		logger.Error("app_run_failed", "error", err)
		fmt.Fprintf(os.Stderr, "run failed: %v\n", err)
		os.Exit(1)
	}

	// shutdown with a bounded timeout so teardown cannot hang forever
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer shutdownCancel()
	_ = a.Shutdown(shutdownCtx)
}
