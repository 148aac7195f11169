package config

import (
	"strings"
	"time"
)

// Hold backends.
const (
	HoldBackendRedis = "redis"
	HoldBackendMySQL = "mysql"
)

// HoldConfig controls the checkout-time seat holds.  TTL is the lifetime of
// a hosted checkout session.  A hold lives for TTL+Grace so that a buyer who
// pays at the last moment keeps the seat until the delayed webhook books it.
// Backend selects where holds live; the server falls back to MySQL when
// Redis is unreachable.  When Enabled is false the capacity check is
// advisory only.
type HoldConfig struct {
	Enabled bool
	Backend string
	TTL     time.Duration
	Grace   time.Duration
	Prefix  string
}

// LoadHoldConfig reads hold settings from the environment.  The provider
// accepts session expiries between 30 minutes and 24 hours, so the TTL
// is clamped to that range.
func LoadHoldConfig() HoldConfig {
	cfg := HoldConfig{
		Enabled: envBool("HOLD_ENABLED", true),
		Backend: strings.ToLower(envStr("HOLD_BACKEND", HoldBackendRedis)),
		TTL:     envDur("HOLD_TTL", 30*time.Minute),
		Grace:   envDur("HOLD_GRACE", 15*time.Minute),
		Prefix:  envStr("HOLD_PREFIX", "hold"),
	}
	if cfg.Backend != HoldBackendMySQL {
		cfg.Backend = HoldBackendRedis
	}
	if cfg.TTL < 30*time.Minute {
		cfg.TTL = 30 * time.Minute
	}
	if cfg.TTL > 24*time.Hour {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.Grace < 0 {
		cfg.Grace = 0
	}
	return cfg
}
