package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Load builds the configuration: defaults, then the TOML file at path (skipped
// when path is empty), then a .env file if present, then LEDGER_* overrides.
// Unknown TOML keys are an error. The result is not validated; call Validate.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}

	// missing .env is normal
	_ = godotenv.Load()

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides overwrites fields whose LEDGER_* variable is set and non-empty.
// Unparsable values are an error rather than silently ignored.
func applyEnvOverrides(cfg *Config) error {
	e := &envReader{}

	e.str(&cfg.LogLevel, "LEDGER_LOG_LEVEL")
	e.boolean(&cfg.UseMemory, "LEDGER_USE_MEMORY")

	e.str(&cfg.Server.Addr, "LEDGER_SERVER_ADDR")

	e.str(&cfg.Postgres.DSN, "LEDGER_POSTGRES_DSN")
	e.integer(&cfg.Postgres.MaxConns, "LEDGER_POSTGRES_MAX_CONNS")
	e.boolean(&cfg.Postgres.RunMigrations, "LEDGER_POSTGRES_RUN_MIGRATIONS")

	e.str(&cfg.ClickHouse.DSN, "LEDGER_CLICKHOUSE_DSN")

	e.str(&cfg.Redis.Addr, "LEDGER_REDIS_ADDR")
	e.str(&cfg.Redis.Password, "LEDGER_REDIS_PASSWORD")
	e.integer(&cfg.Redis.DB, "LEDGER_REDIS_DB")

	e.str(&cfg.Solana.RPCEndpoint, "LEDGER_SOLANA_RPC_ENDPOINT")
	e.str(&cfg.Solana.WSEndpoint, "LEDGER_SOLANA_WS_ENDPOINT")
	e.dur(&cfg.Solana.RetryDelay, "LEDGER_SOLANA_RETRY_DELAY")
	e.dur(&cfg.Solana.MaxRetryDelay, "LEDGER_SOLANA_MAX_RETRY_DELAY")

	e.dec(&cfg.Ledger.LargePositionThreshold, "LEDGER_LARGE_POSITION_THRESHOLD")
	e.dec(&cfg.Ledger.SuspiciousPnLMargin, "LEDGER_SUSPICIOUS_PNL_MARGIN")

	e.boolean(&cfg.Reconcile.Enabled, "LEDGER_RECONCILE_ENABLED")
	e.dur(&cfg.Reconcile.Interval, "LEDGER_RECONCILE_INTERVAL")
	e.dec(&cfg.Reconcile.Tolerance, "LEDGER_RECONCILE_TOLERANCE")

	return e.err
}

// envReader keeps the first parse error.
type envReader struct {
	err error
}

func (e *envReader) lookup(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != "" && e.err == nil
}

func (e *envReader) fail(key, v string, err error) {
	e.err = fmt.Errorf("config: %s=%q: %w", key, v, err)
}

func (e *envReader) str(dst *string, key string) {
	if v, ok := e.lookup(key); ok {
		*dst = v
	}
}

func (e *envReader) integer(dst *int, key string) {
	if v, ok := e.lookup(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) boolean(dst *bool, key string) {
	if v, ok := e.lookup(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = b
	}
}

func (e *envReader) dur(dst *duration, key string) {
	if v, ok := e.lookup(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		dst.Duration = d
	}
}

func (e *envReader) dec(dst *decimal.Decimal, key string) {
	if v, ok := e.lookup(key); ok {
		d, err := decimal.NewFromString(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = d
	}
}
