// Package config loads and validates environment variables at startup.
// Fail-fast: if a required variable is missing or malformed, the process
// exits with an error. A .env file in the working directory is honoured
// when present; real environment variables take precedence over it.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration for the escrow service.
type Config struct {
	HTTPPort          string
	GRPCPort          string
	DatabaseURL       string
	DatabaseMaxConns  int32
	RedisURL          string
	Variant           string // "vetted" or "open"
	PlatformOwner     string
	ApprovalAuthority string
	CustodyAccount    string
	MinDeposit        uint64 // 0 keeps the engine default
	SweepIntervalMin  int    // How often the expiry sweep fires
	JWTSecret         string // empty: trust x-user-id from the Gateway
	RateLimitRPS      float64
	RateLimitBurst    int
}

// Load reads the .env file (if any) and the environment and returns a
// validated Config.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from the given lookup function.
func FromEnv(getenv func(string) string) (*Config, error) {
	cfg := &Config{
		HTTPPort:          orDefault(getenv("ESCROW_HTTP_PORT"), "8083"),
		GRPCPort:          orDefault(getenv("ESCROW_GRPC_PORT"), "9093"),
		DatabaseURL:       getenv("DATABASE_URL"),
		RedisURL:          getenv("REDIS_URL"),
		Variant:           orDefault(getenv("ESCROW_VARIANT"), "vetted"),
		PlatformOwner:     getenv("PLATFORM_OWNER"),
		ApprovalAuthority: getenv("APPROVAL_AUTHORITY"),
		CustodyAccount:    orDefault(getenv("CUSTODY_ACCOUNT"), "escrow-custody"),
		JWTSecret:         getenv("AUTH_JWT_SECRET"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}
	if cfg.PlatformOwner == "" {
		return nil, fmt.Errorf("PLATFORM_OWNER is required")
	}
	if cfg.Variant != "vetted" && cfg.Variant != "open" {
		return nil, fmt.Errorf("ESCROW_VARIANT must be vetted or open, got %q", cfg.Variant)
	}

	cfg.SweepIntervalMin = 5
	if s := getenv("EXPIRY_SWEEP_INTERVAL_MINUTES"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 1 {
			return nil, fmt.Errorf("EXPIRY_SWEEP_INTERVAL_MINUTES must be a positive integer, got %q", s)
		}
		cfg.SweepIntervalMin = v
	}

	if s := getenv("MIN_DEPOSIT"); s != "" {
		v, err := strconv.ParseUint(s, 10, 64)
		if err != nil || v == 0 {
			return nil, fmt.Errorf("MIN_DEPOSIT must be a positive integer, got %q", s)
		}
		cfg.MinDeposit = v
	}

	if s := getenv("DATABASE_MAX_CONNS"); s != "" {
		v, err := strconv.ParseInt(s, 10, 32)
		if err != nil || v < 1 {
			return nil, fmt.Errorf("DATABASE_MAX_CONNS must be a positive integer, got %q", s)
		}
		cfg.DatabaseMaxConns = int32(v)
	}

	cfg.RateLimitRPS = 20
	if s := getenv("RATE_LIMIT_RPS"); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || v < 0 {
			return nil, fmt.Errorf("RATE_LIMIT_RPS must be a non-negative number, got %q", s)
		}
		cfg.RateLimitRPS = v
	}

	cfg.RateLimitBurst = 40
	if s := getenv("RATE_LIMIT_BURST"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 1 {
			return nil, fmt.Errorf("RATE_LIMIT_BURST must be a positive integer, got %q", s)
		}
		cfg.RateLimitBurst = v
	}

	return cfg, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
