package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/moxen-gg/vault/service/config"
	"github.com/moxen-gg/vault/service/db"
	"github.com/moxen-gg/vault/service/metrics"
	natspkg "github.com/moxen-gg/vault/service/nats"
	"github.com/moxen-gg/vault/service/server"
	"github.com/moxen-gg/vault/service/solana"
	"github.com/moxen-gg/vault/service/vault"
)

func main() {
	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	// Setup structured logging
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"network", cfg.SolanaNetwork,
		"log_level", cfg.LogLevel,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database connection pool
	dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	if err := dbPool.Ping(ctx); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	store := db.NewStore(dbPool)

	// Initialize Prometheus metrics collector
	registry := prometheus.NewRegistry()
	metricsCollector := metrics.NewMetrics(registry)

	// Initialize Solana layer: reader, builder, verifier
	mint, err := solanago.PublicKeyFromBase58(cfg.TokenMintAddress)
	if err != nil {
		logger.Error("invalid token mint address", "error", err)
		os.Exit(1)
	}
	deadAddress, err := solanago.PublicKeyFromBase58(cfg.DeadAddress)
	if err != nil {
		logger.Error("invalid dead address", "error", err)
		os.Exit(1)
	}
	vaultKey, err := solanago.PrivateKeyFromSolanaKeygenFile(cfg.VaultKeypairPath)
	if err != nil {
		logger.Error("failed to load vault keypair", "path", cfg.VaultKeypairPath, "error", err)
		os.Exit(1)
	}

	rpcClient := solana.NewRPCClient(cfg.SolanaRPCURL)
	chainClient := solana.NewClient(rpcClient, cfg.SolanaRPCURL, metricsCollector, logger)
	builder := solana.NewBuilder(chainClient, mint, deadAddress, vaultKey, logger)
	verifier := solana.NewVerifier(chainClient, metricsCollector, logger)
	logger.Info("initialized solana layer",
		"rpc", cfg.SolanaRPCURL,
		"vault", vaultKey.PublicKey().String(),
		"mint", mint.String(),
	)

	// Initialize NATS settlement publisher
	publisher, err := natspkg.NewPublisher(cfg.NATSURL, metricsCollector, logger)
	if err != nil {
		logger.Error("failed to connect to NATS", "url", cfg.NATSURL, "error", err)
		os.Exit(1)
	}
	defer publisher.Close()
	logger.Info("connected to NATS", "url", cfg.NATSURL)

	// Assemble the purchase service
	svc := vault.NewService(store, builder, verifier, publisher, metricsCollector, logger, cfg.PendingTTL)

	// Initialize HTTP server
	httpServer := server.New(cfg.ServerAddr, svc, server.Options{
		VaultAddress: vaultKey.PublicKey().String(),
		DeadAddress:  cfg.DeadAddress,
		TokenMint:    cfg.TokenMintAddress,
		Metrics:      metricsCollector,
		Registry:     registry,
	}, logger)

	// Start HTTP server in background
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	// Wait for shutdown signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}

		logger.Info("server shutdown complete")
	}
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
