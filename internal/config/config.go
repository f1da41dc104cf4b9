// Package config loads service configuration from TOML, .env and LEDGER_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"solana-swap-ledger/internal/ledger"
	"solana-swap-ledger/internal/reconcile"
)

// Config is the complete service configuration.
type Config struct {
	LogLevel  string `toml:"log_level"`
	UseMemory bool   `toml:"use_memory"` // in-process stores, for local runs and demos

	Server     ServerConfig     `toml:"server"`
	Postgres   PostgresConfig   `toml:"postgres"`
	ClickHouse ClickHouseConfig `toml:"clickhouse"`
	Redis      RedisConfig      `toml:"redis"`
	Solana     SolanaConfig     `toml:"solana"`
	Ledger     LedgerConfig     `toml:"ledger"`
	Reconcile  ReconcileConfig  `toml:"reconcile"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Addr            string   `toml:"addr"`
	ReadTimeout     duration `toml:"read_timeout"`
	WriteTimeout    duration `toml:"write_timeout"`
	ShutdownTimeout duration `toml:"shutdown_timeout"`
}

// PostgresConfig holds the ledger database connection.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	MaxConns      int    `toml:"max_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// ClickHouseConfig holds the journal connection. An empty DSN disables the journal.
type ClickHouseConfig struct {
	DSN           string `toml:"dsn"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds the lock backend. An empty Addr uses an in-process lock.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
}

// SolanaConfig holds RPC endpoints used by reconciliation.
type SolanaConfig struct {
	RPCEndpoint string   `toml:"rpc_endpoint"`
	WSEndpoint  string   `toml:"ws_endpoint"` // optional, enables account-update triggered checks
	Commitment  string   `toml:"commitment"`
	Timeout     duration `toml:"timeout"`
	MaxRetries  int      `toml:"max_retries"`

	RetryDelay    duration `toml:"retry_delay"`     // first backoff step
	MaxRetryDelay duration `toml:"max_retry_delay"` // backoff ceiling
	MaxIdleConns  int      `toml:"max_idle_conns"`
}

// LedgerConfig holds ledger thresholds. Decimals are TOML strings.
type LedgerConfig struct {
	LargePositionThreshold decimal.Decimal `toml:"large_position_threshold"`
	SuspiciousPnLMargin    decimal.Decimal `toml:"suspicious_pnl_margin"`
}

// ReconcileConfig holds the balance reconciliation job.
type ReconcileConfig struct {
	Enabled     bool            `toml:"enabled"`
	Interval    duration        `toml:"interval"`
	Tolerance   decimal.Decimal `toml:"tolerance"`
	LockTTL     duration        `toml:"lock_ttl"`
	SettleDelay duration        `toml:"settle_delay"`
	Targets     []TargetConfig  `toml:"targets"`
}

// TargetConfig is one [[reconcile.targets]] entry.
type TargetConfig struct {
	Wallet   string `toml:"wallet"`
	Token    string `toml:"token"`
	Mint     string `toml:"mint"`
	Decimals int32  `toml:"decimals"`
}

// duration wraps time.Duration so TOML strings like "5m" decode.
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	lc := ledger.DefaultConfig()
	return Config{
		LogLevel: "info",
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     duration{10 * time.Second},
			WriteTimeout:    duration{30 * time.Second},
			ShutdownTimeout: duration{15 * time.Second},
		},
		Postgres: PostgresConfig{
			MaxConns:      10,
			RunMigrations: true,
		},
		ClickHouse: ClickHouseConfig{
			RunMigrations: true,
		},
		Redis: RedisConfig{
			PoolSize:  10,
			KeyPrefix: "swap-ledger:",
		},
		Solana: SolanaConfig{
			Commitment: "confirmed",
			Timeout:       duration{30 * time.Second},
			MaxRetries:    3,
			RetryDelay:    duration{time.Second},
			MaxRetryDelay: duration{10 * time.Second},
			MaxIdleConns:  16,
		},
		Ledger: LedgerConfig{
			LargePositionThreshold: lc.LargePositionThreshold,
			SuspiciousPnLMargin:    lc.SuspiciousPnLMargin,
		},
		Reconcile: ReconcileConfig{
			Interval:    duration{5 * time.Minute},
			Tolerance:   decimal.Zero,
			SettleDelay: duration{30 * time.Second},
		},
	}
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}
	if c.Server.Addr == "" {
		errs = append(errs, "server: addr must not be empty")
	}

	if !c.UseMemory {
		if c.Postgres.DSN == "" {
			errs = append(errs, "postgres: dsn is required unless use_memory is set")
		}
		if c.Postgres.MaxConns <= 0 {
			errs = append(errs, "postgres: max_conns must be positive")
		}
	}

	if !c.Ledger.LargePositionThreshold.IsPositive() {
		errs = append(errs, "ledger: large_position_threshold must be positive")
	}
	if c.Ledger.SuspiciousPnLMargin.IsNegative() {
		errs = append(errs, "ledger: suspicious_pnl_margin must not be negative")
	}

	if c.Reconcile.Enabled {
		if c.Solana.RPCEndpoint == "" {
			errs = append(errs, "solana: rpc_endpoint is required when reconcile is enabled")
		}
		if c.Solana.MaxRetryDelay.Duration < c.Solana.RetryDelay.Duration {
			errs = append(errs, "solana: max_retry_delay must not be below retry_delay")
		}
		if c.Reconcile.Interval.Duration <= 0 {
			errs = append(errs, "reconcile: interval must be positive")
		}
		if c.Reconcile.Tolerance.IsNegative() {
			errs = append(errs, "reconcile: tolerance must not be negative")
		}
		if len(c.Reconcile.Targets) == 0 {
			errs = append(errs, "reconcile: at least one target is required when enabled")
		}
		for i, t := range c.ReconcileTargets() {
			if err := t.Validate(); err != nil {
				errs = append(errs, fmt.Sprintf("reconcile.targets[%d]: %v", i, err))
			}
		}
	}

	if len(errs) > 0 {
		return errors.New("config: " + strings.Join(errs, "; "))
	}
	return nil
}

// LedgerParams converts the [ledger] section.
func (c *Config) LedgerParams() ledger.Config {
	return ledger.Config{
		LargePositionThreshold: c.Ledger.LargePositionThreshold,
		SuspiciousPnLMargin:    c.Ledger.SuspiciousPnLMargin,
	}
}

// ReconcileTargets converts the configured targets.
func (c *Config) ReconcileTargets() []reconcile.Target {
	out := make([]reconcile.Target, len(c.Reconcile.Targets))
	for i, t := range c.Reconcile.Targets {
		out[i] = reconcile.Target{
			WalletID: t.Wallet,
			Token:    t.Token,
			Mint:     t.Mint,
			Decimals: t.Decimals,
		}
	}
	return out
}
