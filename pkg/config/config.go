// Copyright 2025 Trustcompute Protocol

package config

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for a node process (executor, verifier,
// or both): the HTTP surface (component G), the persistence layer
// (component F), the CometBFT ledger adapter, and the economic
// parameters the escrow/verifier/bisection engines are constructed
// with. Grounded on the teacher's flat-struct, env-var Load()/Validate()
// shape in pkg/config/config.go, stripped of the Accumulate/Ethereum-
// anchor/Firestore fields this protocol has no use for.
type Config struct {
	// Server Configuration
	ListenAddr  string
	MetricsAddr string
	HealthAddr  string

	// Database Configuration
	DatabaseURL         string
	DatabaseMaxConns    int
	DatabaseMinConns    int
	DatabaseMaxIdleTime time.Duration
	DatabaseMaxLifetime time.Duration

	// CometBFT ABCI ledger adapter
	CometBFTRPCAddr string // e.g. http://127.0.0.1:26657
	ChainID         string
	P2PPort         int
	RPCPort         int

	// Node identity
	NodeRole   string // "executor", "verifier", or "both"
	BLSKeyPath string // path to this node's BLS12-381 private key file
	DataDir    string // base directory for data files

	// Economic parameters (pkg/escrow, pkg/verifier)
	EscrowAccountHex      string
	ProtocolFeeAccountHex string
	FeeBasisPoints        int64
	MinVerifierStakeWei   *big.Int
	VerifierStakeToken    string
	HeartbeatWindow       time.Duration

	// Security Configuration
	JWTSecret   string
	CORSOrigins []string
	TLSEnabled  bool

	// Rate Limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	LogLevel string
}

// Load reads configuration from environment variables. Required
// variables have no defaults; call Validate() after Load() before
// starting a node in production.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:  getEnv("API_HOST", "0.0.0.0") + ":" + getEnv("API_PORT", "8080"),
		MetricsAddr: getEnv("API_HOST", "0.0.0.0") + ":" + getEnv("METRICS_PORT", "9090"),
		HealthAddr:  getEnv("API_HOST", "0.0.0.0") + ":" + getEnv("HEALTH_CHECK_PORT", "8081"),

		DatabaseURL:         getEnv("DATABASE_URL", ""),
		DatabaseMaxConns:    getEnvInt("DATABASE_MAX_CONNS", 25),
		DatabaseMinConns:    getEnvInt("DATABASE_MIN_CONNS", 5),
		DatabaseMaxIdleTime: getEnvDuration("DATABASE_MAX_IDLE_TIME", 5*time.Minute),
		DatabaseMaxLifetime: getEnvDuration("DATABASE_MAX_LIFETIME", time.Hour),

		CometBFTRPCAddr: getEnv("COMETBFT_RPC_ADDR", "http://127.0.0.1:26657"),
		ChainID:         getEnv("COMETBFT_CHAIN_ID", "trustcompute-devnet"),
		P2PPort:         getEnvInt("COMETBFT_P2P_PORT", 26656),
		RPCPort:         getEnvInt("COMETBFT_RPC_PORT", 26657),

		NodeRole:   getEnv("NODE_ROLE", "verifier"),
		BLSKeyPath: getEnv("BLS_KEY_PATH", ""),
		DataDir:    getEnv("DATA_DIR", "./data"),

		EscrowAccountHex:      getEnv("ESCROW_ACCOUNT", ""),
		ProtocolFeeAccountHex: getEnv("PROTOCOL_FEE_ACCOUNT", ""),
		FeeBasisPoints:        getEnvInt64("FEE_BASIS_POINTS", 100),
		MinVerifierStakeWei:   getEnvBigInt("MIN_VERIFIER_STAKE", big.NewInt(0)),
		VerifierStakeToken:    getEnv("VERIFIER_STAKE_TOKEN", "TCOMP"),
		HeartbeatWindow:       getEnvDuration("HEARTBEAT_WINDOW", 10*time.Minute),

		JWTSecret:   getEnv("JWT_SECRET", ""),
		CORSOrigins: splitNonEmpty(getEnv("CORS_ORIGINS", "http://localhost:3000")),
		TLSEnabled:  getEnvBool("TLS_ENABLED", true),

		RateLimitRequests: getEnvInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow:   getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	return cfg, nil
}

// Validate checks that all required configuration is present and secure.
// Must be called after Load() before starting a node in production.
func (c *Config) Validate() error {
	var errs []string

	if c.DatabaseURL == "" {
		errs = append(errs, "DATABASE_URL is required but not set")
	} else if strings.Contains(c.DatabaseURL, "sslmode=disable") {
		errs = append(errs, "DATABASE_URL must use sslmode=require for production security")
	}

	if c.CometBFTRPCAddr == "" {
		errs = append(errs, "COMETBFT_RPC_ADDR is required but not set")
	}

	if c.EscrowAccountHex == "" {
		errs = append(errs, "ESCROW_ACCOUNT is required but not set")
	}
	if c.ProtocolFeeAccountHex == "" {
		errs = append(errs, "PROTOCOL_FEE_ACCOUNT is required but not set")
	}

	if c.NodeRole != "executor" && c.NodeRole != "verifier" && c.NodeRole != "both" {
		errs = append(errs, fmt.Sprintf("NODE_ROLE must be one of executor|verifier|both, got %q", c.NodeRole))
	}
	if c.BLSKeyPath == "" {
		errs = append(errs, "BLS_KEY_PATH is required but not set")
	}

	if c.JWTSecret == "" {
		errs = append(errs, "JWT_SECRET is required but not set")
	} else {
		weak := []string{"development", "secret", "password", "change-me", "changeme", "default", "test"}
		lower := strings.ToLower(c.JWTSecret)
		for _, w := range weak {
			if strings.Contains(lower, w) {
				errs = append(errs, "JWT_SECRET contains a weak/default value - generate a secure random secret")
				break
			}
		}
		if len(c.JWTSecret) < 32 {
			errs = append(errs, "JWT_SECRET must be at least 32 characters for security")
		}
	}

	if !c.TLSEnabled {
		fmt.Println("WARNING: TLS_ENABLED is false - enable TLS for production security")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ValidateForDevelopment performs relaxed validation suitable for
// running a local devnet node. Do not use this in production; use
// Validate() instead.
func (c *Config) ValidateForDevelopment() error {
	if c.CometBFTRPCAddr == "" {
		return fmt.Errorf("development configuration validation failed:\n  - COMETBFT_RPC_ADDR is required")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvBigInt(key string, defaultValue *big.Int) *big.Int {
	if value := os.Getenv(key); value != "" {
		if n, ok := new(big.Int).SetString(value, 10); ok {
			return n
		}
	}
	return defaultValue
}

// splitNonEmpty splits a comma-separated value, trimming whitespace and
// dropping empty entries, used for CORS origins.
func splitNonEmpty(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
