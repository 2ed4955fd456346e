package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kingsgate/stakechess/internal/broker"
	"github.com/kingsgate/stakechess/internal/config"
	"github.com/kingsgate/stakechess/internal/game"
	"github.com/kingsgate/stakechess/internal/server"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

var (
	configPath = flag.String("config", config.DefaultPath, "path to configuration file")
	version    = "dev" // set via ldflags during build
)

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := initLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	_ = logger.Sync()
}

func run(cfg *config.Config, logger *zap.Logger) error {
	logger.Info("starting stakechess server",
		zap.String("version", version),
		zap.String("config", *configPath),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	recorder := game.NewReplayRecorder(logger, cfg.Replay.Dir)
	if cfg.Replay.Dir == "" {
		logger.Info("replay archiving disabled")
	}

	economy := cfg.Economy.ToEconomy()
	b := broker.New(broker.Options{
		Economy:      economy,
		Adjudicators: game.ChessFactory,
		Recorder:     recorder,
	}, logger)
	logger.Info("broker initialized",
		zap.Int("starting_wallet", economy.StartingWallet),
		zap.Float64("fee_fraction", economy.FeeFraction),
		zap.Int("min_stake", economy.MinStake),
		zap.Int("max_stake", economy.MaxStake),
	)

	wsServer := server.New(cfg.Server.WebSocket, b, logger)
	httpServer := &http.Server{
		Addr:              cfg.Server.Address(),
		Handler:           wsServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	healthServer := server.NewHealthServer(logger)
	lis, err := net.Listen("tcp", cfg.Server.HealthAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Server.HealthAddress, err)
	}

	g, gctx := errgroup.WithContext(ctx)

	// Start WebSocket server
	g.Go(func() error {
		logger.Info("starting WebSocket server", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve websocket: %w", err)
		}
		return nil
	})

	// Start gRPC health server
	g.Go(func() error {
		return healthServer.Serve(lis)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down gracefully...")

		healthServer.Shutdown()
		b.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info("stakechess server stopped", zap.Int("platform_bank", b.PlatformBank()))
	return err
}

// initLogger builds a console logger for development and a JSON logger for
// production. Unknown levels fall back to info.
func initLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	zapCfg := zap.NewDevelopmentConfig()
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
		zapCfg.EncoderConfig.TimeKey = "time"
		zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.DisableStacktrace = level > zapcore.DebugLevel
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build(zap.Fields(zap.String("service", "stakechess")))
}
