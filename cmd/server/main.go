// Package main runs the position ledger service:
// - HTTP API for recording verified buys and sells, querying positions and flags
// - Balance reconciliation against on-chain token accounts (optional)
// - Prometheus metrics on /metrics
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"solana-swap-ledger/internal/api"
	rediscache "solana-swap-ledger/internal/cache/redis"
	"solana-swap-ledger/internal/config"
	"solana-swap-ledger/internal/ledger"
	"solana-swap-ledger/internal/observability"
	"solana-swap-ledger/internal/reconcile"
	"solana-swap-ledger/internal/solana"
	"solana-swap-ledger/internal/storage"
	chstore "solana-swap-ledger/internal/storage/clickhouse"
	"solana-swap-ledger/internal/storage/memory"
	"solana-swap-ledger/internal/storage/migrations"
	pgstore "solana-swap-ledger/internal/storage/postgres"
)

// stores holds the storage backends selected by configuration.
type stores struct {
	ledger  storage.LedgerStore
	flags   storage.FlagStore
	journal storage.LedgerEntryStore // nil when the journal is disabled
	locker  storage.Locker
	health  map[string]api.HealthCheck
	cleanup []func()
}

func (s *stores) close() {
	for i := len(s.cleanup) - 1; i >= 0; i-- {
		s.cleanup[i]()
	}
}

func main() {
	configPath := flag.String("config", os.Getenv("LEDGER_CONFIG"), "Path to TOML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	defer close(done)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, initiating graceful shutdown", zap.String("signal", sig.String()))
			cancel()
		case <-done:
			return
		}

		select {
		case sig := <-sigCh:
			logger.Warn("received second signal, forcing immediate shutdown", zap.String("signal", sig.String()))
			os.Exit(1)
		case <-time.After(cfg.Server.ShutdownTimeout.Duration * 2):
			logger.Error("graceful shutdown timed out, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics("swap_ledger", reg)

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.close()

	l := ledger.New(st.ledger, cfg.LedgerParams(),
		ledger.WithIDGenerator(newID),
		ledger.WithJournal(st.journal),
		ledger.WithMetrics(metrics),
		ledger.WithLogger(logger),
	)

	errCh := make(chan error, 2)

	if cfg.Reconcile.Enabled {
		rpc := newRPCClient(cfg, metrics)
		st.health["solana"] = func(ctx context.Context) error {
			_, err := rpc.GetSlot(ctx)
			return err
		}

		rec, closeRec, err := newReconciler(ctx, cfg, l, rpc, st.locker, metrics, logger)
		if err != nil {
			return err
		}
		defer closeRec()

		go func() {
			if err := rec.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("reconcile: %w", err)
			}
		}()
	}

	srv := api.NewServer(api.Options{
		Ledger:    l,
		Positions: st.ledger,
		Flags:     st.flags,
		Journal:   st.journal,
		Gatherer:  reg,
		Health:    st.health,
		Logger:    logger,
	})
	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Handler(),
		ReadTimeout:       cfg.Server.ReadTimeout.Duration,
		ReadHeaderTimeout: cfg.Server.ReadTimeout.Duration,
		WriteTimeout:      cfg.Server.WriteTimeout.Duration,
		IdleTimeout:       2 * time.Minute,
	}

	go func() {
		logger.Info("starting HTTP server", zap.String("addr", cfg.Server.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", zap.Error(err))
	}
	return runErr
}

// openStores connects the configured backends and runs migrations.
func openStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*stores, error) {
	st := &stores{health: make(map[string]api.HealthCheck)}

	if cfg.UseMemory {
		logger.Warn("using in-memory storage, data is lost on restart")
		mem := memory.NewLedgerStore()
		st.ledger = mem
		st.flags = mem
		st.journal = memory.NewLedgerEntryStore()
	} else {
		pool, err := pgstore.NewPool(ctx, cfg.Postgres.DSN, int32(cfg.Postgres.MaxConns))
		if err != nil {
			return nil, err
		}
		st.cleanup = append(st.cleanup, pool.Close)

		if cfg.Postgres.RunMigrations {
			applied, err := migrations.RunPostgresMigrations(ctx, pool)
			if err != nil {
				st.close()
				return nil, fmt.Errorf("postgres migrations: %w", err)
			}
			logger.Info("postgres migrations applied", zap.Strings("files", applied))
		}

		pg := pgstore.NewLedgerStore(pool)
		st.ledger = pg
		st.flags = pg
		st.health["postgres"] = func(ctx context.Context) error { return pool.Ping(ctx) }

		if cfg.ClickHouse.DSN != "" {
			j, err := openJournal(ctx, cfg)
			if err != nil {
				st.close()
				return nil, err
			}
			st.cleanup = append(st.cleanup, func() { _ = j.conn.Close() })
			st.journal = j.store
			st.health["clickhouse"] = func(ctx context.Context) error { return j.conn.Ping(ctx) }
		} else {
			logger.Info("clickhouse dsn not set, ledger journal disabled")
		}
	}

	if cfg.Redis.Addr != "" {
		client, err := rediscache.New(ctx, rediscache.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			st.close()
			return nil, err
		}
		st.cleanup = append(st.cleanup, func() { _ = client.Close() })
		st.locker = rediscache.NewLockManager(client, cfg.Redis.KeyPrefix, logger)
		st.health["redis"] = client.Ping
	} else {
		st.locker = memory.NewLocker()
	}

	return st, nil
}

// newID returns time-ordered UUIDv7 ids for positions and flags.
func newID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// newRPCClient builds the Solana JSON-RPC client from the [solana] section.
func newRPCClient(cfg *config.Config, metrics *observability.Metrics) *solana.HTTPClient {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.Solana.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.Solana.MaxIdleConns,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	return solana.NewHTTPClient(cfg.Solana.RPCEndpoint,
		solana.WithHTTPClient(&http.Client{Transport: transport}),
		solana.WithTimeout(cfg.Solana.Timeout.Duration),
		solana.WithMaxRetries(cfg.Solana.MaxRetries),
		solana.WithRetryDelay(cfg.Solana.RetryDelay.Duration),
		solana.WithMaxDelay(cfg.Solana.MaxRetryDelay.Duration),
		solana.WithCommitment(cfg.Solana.Commitment),
		solana.WithLatencyObserver(metrics.RPCCallLatency),
	)
}

// newReconciler builds the optional account subscriber and the reconciler.
func newReconciler(ctx context.Context, cfg *config.Config, l *ledger.Ledger, rpc solana.RPCClient,
	locker storage.Locker, metrics *observability.Metrics, logger *zap.Logger) (*reconcile.Reconciler, func(), error) {
	closeFn := func() {}
	var subscriber solana.AccountSubscriber
	if cfg.Solana.WSEndpoint != "" {
		wsCfg := solana.DefaultWSConfig()
		wsCfg.Commitment = cfg.Solana.Commitment
		ws, err := solana.NewWSClient(ctx, cfg.Solana.WSEndpoint, &wsCfg, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("connect solana websocket: %w", err)
		}
		subscriber = ws
		closeFn = func() { _ = ws.Close() }
	}

	rec, err := reconcile.New(reconcile.Options{
		Ledger:      l,
		RPC:         rpc,
		Subscriber:  subscriber,
		Locker:      locker,
		Targets:     cfg.ReconcileTargets(),
		Interval:    cfg.Reconcile.Interval.Duration,
		Tolerance:   cfg.Reconcile.Tolerance,
		LockTTL:     cfg.Reconcile.LockTTL.Duration,
		SettleDelay: cfg.Reconcile.SettleDelay.Duration,
		Metrics:     metrics,
		Logger:      logger,
	})
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return rec, closeFn, nil
}

type journal struct {
	conn  *chstore.Conn
	store *chstore.LedgerEntryStore
}

// openJournal connects the ClickHouse ledger_entries journal, migrating it when configured.
func openJournal(ctx context.Context, cfg *config.Config) (*journal, error) {
	var conn *chstore.Conn
	var err error
	if cfg.ClickHouse.RunMigrations {
		conn, err = migrations.RunClickhouseMigrations(ctx, cfg.ClickHouse.DSN)
		if err != nil {
			return nil, fmt.Errorf("clickhouse migrations: %w", err)
		}
	} else {
		conn, err = chstore.NewConn(ctx, cfg.ClickHouse.DSN)
		if err != nil {
			return nil, err
		}
	}
	return &journal{conn: conn, store: chstore.NewLedgerEntryStore(conn)}, nil
}
