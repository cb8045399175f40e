package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatdesk/internal/app"
	"chatdesk/internal/config"
	"chatdesk/internal/logger"
)

const shutdownTimeout = 30 * time.Second

// Main entry point with signal management
// Graceful shutdown on SIGINT/SIGTERM closes the chat connection and flushes the journal
func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}

// ARCHITECTURAL DISCOVERY: Separate run function enables testing and error handling
func run(args []string) error {
	fs := flag.NewFlagSet("chatdesk", flag.ContinueOnError)
	configPath := fs.String("config", os.Getenv("CHATDESK_CONFIG_FILE"), "path to a JSON config file")
	envFile := fs.String("env", ".env", "dotenv file loaded before the environment is read")
	if err := fs.Parse(args); err != nil {
		return err
	}

	// STEP 1: Load configuration with precedence (file > env > .env > defaults)
	cfg, err := config.LoadConfigWithPrecedence(*configPath, *envFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// STEP 2: Logger
	zl, err := logger.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer func() { _ = zl.Sync() }()

	// STEP 3: Create application with configuration
	application, err := app.NewApplication(cfg, zl)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// STEP 4: Start, then wait for a shutdown signal
	if err := application.Start(ctx); err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = application.Stop(shutdownCtx)
		return fmt.Errorf("application error: %w", err)
	}

	<-ctx.Done()
	zl.Info("received shutdown signal, shutting down gracefully")

	// FUNCTIONAL DISCOVERY: Timeout context prevents hanging shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := application.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	return nil
}
