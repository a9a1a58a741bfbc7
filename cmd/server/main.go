package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"cell-arena/internal/api"
	"cell-arena/internal/config"
	"cell-arena/internal/game"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfgPath := flag.String("config", "config/server.toml", "path to the TOML config file")
	flag.Parse()

	// Load .env from the parent directory, then the current one.
	envErr := godotenv.Load("../.env")
	if envErr != nil {
		envErr = godotenv.Load(".env")
	}

	if p := os.Getenv("CELL_ARENA_CONFIG"); p != "" {
		*cfgPath = p
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	if envErr != nil {
		log.Info("no .env file found, using environment variables only")
	}
	log.Info("cell arena starting",
		zap.Float64("width", cfg.World.Width),
		zap.Float64("height", cfg.World.Height),
		zap.Duration("tick", cfg.World.TickInterval),
		zap.Int("workers", cfg.Workers.WorkerCount()),
		zap.Int("min_food", cfg.World.MinFood),
		zap.Int("min_viruses", cfg.World.MinViruses),
	)

	world, err := game.NewWorld(cfg, log)
	if err != nil {
		return fmt.Errorf("create world: %w", err)
	}
	engine := game.NewEngine(world, log)
	engine.Start()
	defer engine.Stop()

	debugSrv, err := api.StartDebugServer(api.ObservabilityConfig{
		Enabled:    cfg.Server.DebugEnabled,
		ListenAddr: cfg.Server.DebugAddr,
	}, log)
	if err != nil {
		return fmt.Errorf("debug server: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := api.NewServer(engine, cfg.Server, log)
	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Start(ctx) }()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("api server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		log.Warn("api shutdown", zap.Error(err))
	}
	if debugSrv != nil {
		if err := debugSrv.Shutdown(shutdownCtx); err != nil {
			log.Warn("debug shutdown", zap.Error(err))
		}
	}
	log.Info("shutdown complete")
	return nil
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
