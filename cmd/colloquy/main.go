package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/teilomillet/colloquy/config"
	"github.com/teilomillet/colloquy/errors"
	"github.com/teilomillet/colloquy/server"
	"go.uber.org/zap"
)

var (
	configFile = flag.String("config", "colloquy.yaml", "Path to configuration file")
	validate   = flag.Bool("validate", false, "Validate configuration and exit")
	version    = flag.Bool("version", false, "Print version and exit")
)

const Version = "v0.1.0"

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("colloquy %s\n", Version)
		os.Exit(0)
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Just validate and exit if requested
	if *validate {
		fmt.Println("Configuration is valid")
		os.Exit(0)
	}

	logger, err := cfg.Logging.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Critical error: Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		// Sync on stderr returns EINVAL on some platforms; nothing useful to do with it
		_ = logger.Sync()
	}()
	errors.SetLogger(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Server startup or runtime error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("Server stopped")
}

// loadConfig reads path, falling back to defaults when the file does not
// exist so the server can start from environment variables alone.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.Load(strings.NewReader(""))
	}
	return config.LoadFile(path)
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	app, err := server.NewApp(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize server: %w", err)
	}
	defer app.Close()

	if cfg.Completion.APIKey == "" {
		logger.Warn("no completion API key configured, every dialogue will use the fallback answer")
	}

	logger.Info("Starting colloquy",
		zap.String("version", Version),
		zap.Int("port", cfg.Server.Port),
		zap.String("store", cfg.Store.Driver),
		zap.String("model", cfg.Completion.Model),
	)
	return app.Run(ctx)
}
