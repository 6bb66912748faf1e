package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func base() map[string]string {
	return map[string]string{
		"DATABASE_URL":   "postgres://escrow@localhost/escrow",
		"REDIS_URL":      "redis://localhost:6379/0",
		"PLATFORM_OWNER": "owner",
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv(env(base()))
	require.NoError(t, err)

	assert.Equal(t, "8083", cfg.HTTPPort)
	assert.Equal(t, "9093", cfg.GRPCPort)
	assert.Equal(t, "vetted", cfg.Variant)
	assert.Equal(t, "escrow-custody", cfg.CustodyAccount)
	assert.Equal(t, 5, cfg.SweepIntervalMin)
	assert.Zero(t, cfg.MinDeposit)
	assert.Zero(t, cfg.DatabaseMaxConns)
	assert.Equal(t, 20.0, cfg.RateLimitRPS)
	assert.Equal(t, 40, cfg.RateLimitBurst)
	assert.Empty(t, cfg.JWTSecret)
}

func TestFromEnv_Overrides(t *testing.T) {
	m := base()
	m["ESCROW_VARIANT"] = "open"
	m["MIN_DEPOSIT"] = "5000"
	m["DATABASE_MAX_CONNS"] = "8"
	m["EXPIRY_SWEEP_INTERVAL_MINUTES"] = "1"
	m["RATE_LIMIT_RPS"] = "0"
	m["APPROVAL_AUTHORITY"] = "vetter"

	cfg, err := FromEnv(env(m))
	require.NoError(t, err)
	assert.Equal(t, "open", cfg.Variant)
	assert.Equal(t, uint64(5000), cfg.MinDeposit)
	assert.Equal(t, int32(8), cfg.DatabaseMaxConns)
	assert.Equal(t, 1, cfg.SweepIntervalMin)
	assert.Zero(t, cfg.RateLimitRPS)
	assert.Equal(t, "vetter", cfg.ApprovalAuthority)
}

func TestFromEnv_Errors(t *testing.T) {
	cases := map[string][2]string{
		"missing database": {"DATABASE_URL", ""},
		"missing redis":    {"REDIS_URL", ""},
		"missing owner":    {"PLATFORM_OWNER", ""},
		"bad variant":      {"ESCROW_VARIANT", "closed"},
		"zero min deposit": {"MIN_DEPOSIT", "0"},
		"bad min deposit":  {"MIN_DEPOSIT", "-4"},
		"zero sweep":       {"EXPIRY_SWEEP_INTERVAL_MINUTES", "0"},
		"bad max conns":    {"DATABASE_MAX_CONNS", "many"},
		"negative rps":     {"RATE_LIMIT_RPS", "-1"},
		"zero burst":       {"RATE_LIMIT_BURST", "0"},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			m := base()
			m[kv[0]] = kv[1]
			_, err := FromEnv(env(m))
			assert.Error(t, err)
		})
	}
}
