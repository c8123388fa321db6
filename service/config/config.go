package config

import (
	"fmt"
	"os"
	"time"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr string
	LogLevel   string

	// Database configuration
	DatabaseURL string

	// NATS configuration
	NATSURL string

	// Solana configuration
	SolanaRPCURL     string
	SolanaNetwork    string // "mainnet" or "devnet"
	TokenMintAddress string // the game token mint (Token-2022)
	DeadAddress      string // burn destination wallet
	VaultKeypairPath string // JSON keypair file for the vault authority

	// Temporal configuration
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string

	// Payment intent configuration
	PendingTTL    time.Duration // how long an initiated purchase stays confirmable
	SweepInterval time.Duration // how often the expiry sweeper runs
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	// Database configuration
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DATABASE_URL is required"))
	}

	// NATS configuration
	cfg.NATSURL = getEnvOrDefault("NATS_URL", "nats://localhost:4222")

	// Solana configuration
	cfg.SolanaRPCURL = os.Getenv("SOLANA_RPC_URL")
	if cfg.SolanaRPCURL == "" {
		errs = append(errs, fmt.Errorf("SOLANA_RPC_URL is required"))
	}

	cfg.SolanaNetwork = getEnvOrDefault("SOLANA_NETWORK", "devnet")
	if cfg.SolanaNetwork != "mainnet" && cfg.SolanaNetwork != "devnet" {
		errs = append(errs, fmt.Errorf("SOLANA_NETWORK must be 'mainnet' or 'devnet', got %q", cfg.SolanaNetwork))
	}

	cfg.TokenMintAddress = os.Getenv("TOKEN_MINT_ADDRESS")
	if cfg.TokenMintAddress == "" {
		errs = append(errs, fmt.Errorf("TOKEN_MINT_ADDRESS is required"))
	}

	cfg.DeadAddress = os.Getenv("DEAD_ADDRESS")
	if cfg.DeadAddress == "" {
		errs = append(errs, fmt.Errorf("DEAD_ADDRESS is required"))
	}

	cfg.VaultKeypairPath = os.Getenv("VAULT_KEYPAIR_PATH")
	if cfg.VaultKeypairPath == "" {
		errs = append(errs, fmt.Errorf("VAULT_KEYPAIR_PATH is required"))
	}

	// Temporal configuration
	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "vault-pending-sweep")

	// Payment intent configuration
	pendingTTL, err := parseDuration("PENDING_TTL", "5m")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.PendingTTL = pendingTTL
	}

	sweepInterval, err := parseDuration("SWEEP_INTERVAL", "1m")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.SweepInterval = sweepInterval
	}

	// Validate intervals
	if cfg.SweepInterval > cfg.PendingTTL {
		errs = append(errs, fmt.Errorf("SWEEP_INTERVAL (%v) cannot be greater than PENDING_TTL (%v)",
			cfg.SweepInterval, cfg.PendingTTL))
	}

	// Return all validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DatabaseURL is required"))
	}

	if c.SolanaRPCURL == "" {
		errs = append(errs, fmt.Errorf("SolanaRPCURL is required"))
	}

	if c.SolanaNetwork != "mainnet" && c.SolanaNetwork != "devnet" {
		errs = append(errs, fmt.Errorf("SolanaNetwork must be 'mainnet' or 'devnet'"))
	}

	if c.TokenMintAddress == "" {
		errs = append(errs, fmt.Errorf("TokenMintAddress is required"))
	}

	if c.DeadAddress == "" {
		errs = append(errs, fmt.Errorf("DeadAddress is required"))
	}

	if c.VaultKeypairPath == "" {
		errs = append(errs, fmt.Errorf("VaultKeypairPath is required"))
	}

	if c.TemporalHost == "" {
		errs = append(errs, fmt.Errorf("TemporalHost is required"))
	}

	if c.TemporalNamespace == "" {
		errs = append(errs, fmt.Errorf("TemporalNamespace is required"))
	}

	if c.TemporalTaskQueue == "" {
		errs = append(errs, fmt.Errorf("TemporalTaskQueue is required"))
	}

	if c.PendingTTL < time.Minute {
		errs = append(errs, fmt.Errorf("PendingTTL must be at least 1 minute"))
	}

	if c.SweepInterval > c.PendingTTL {
		errs = append(errs, fmt.Errorf("SweepInterval cannot be greater than PendingTTL"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}
