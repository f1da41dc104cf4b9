// Package api exposes the ledger over HTTP for the trade-execution pipeline and operators.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"solana-swap-ledger/internal/domain"
	"solana-swap-ledger/internal/ledger"
	"solana-swap-ledger/internal/observability"
	"solana-swap-ledger/internal/storage"
)

const maxBodyBytes = 1 << 20

// Ledger is the ledger contract served by the API. *ledger.Ledger implements it.
type Ledger interface {
	RecordBuy(ctx context.Context, in ledger.BuyInput) (*domain.Position, error)
	RecordSell(ctx context.Context, in ledger.SellInput) (*ledger.SellResult, error)
	ApplySwap(ctx context.Context, s domain.VerifiedSwap) (*ledger.SwapResult, error)
	GetOpenPosition(ctx context.Context, walletID, token string) (*domain.Position, error)
	FlagIssue(ctx context.Context, in ledger.FlagInput) (*domain.Flag, error)
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Options contains configuration for creating a Server.
type Options struct {
	Ledger    Ledger
	Positions storage.LedgerStore
	Flags     storage.FlagStore
	Journal   storage.LedgerEntryStore // optional
	Gatherer  prometheus.Gatherer      // nil serves the default registry
	Health    map[string]HealthCheck
	Logger    *zap.Logger
	Now       func() time.Time
}

// Server holds the HTTP handlers.
type Server struct {
	ledger    Ledger
	positions storage.LedgerStore
	flags     storage.FlagStore
	journal   storage.LedgerEntryStore
	gatherer  prometheus.Gatherer
	health    map[string]HealthCheck
	logger    *zap.Logger
	now       func() time.Time
}

// NewServer creates a Server.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Server{
		ledger:    opts.Ledger,
		positions: opts.Positions,
		flags:     opts.Flags,
		journal:   opts.Journal,
		gatherer:  opts.Gatherer,
		health:    opts.Health,
		logger:    logger.With(zap.String("component", "api")),
		now:       now,
	}
}

// Handler returns the routed handler wrapped with logging and panic recovery.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/buys", s.handleBuy)
	mux.HandleFunc("POST /v1/sells", s.handleSell)
	mux.HandleFunc("POST /v1/swaps", s.handleSwap)

	mux.HandleFunc("GET /v1/positions/open", s.handleOpenPosition)
	mux.HandleFunc("GET /v1/positions/{id}", s.handleGetPosition)
	mux.HandleFunc("GET /v1/positions/{id}/entries", s.handlePositionEntries)
	mux.HandleFunc("GET /v1/positions", s.handleListPositions)
	mux.HandleFunc("GET /v1/entries", s.handleWalletEntries)

	mux.HandleFunc("POST /v1/flags", s.handleCreateFlag)
	mux.HandleFunc("GET /v1/flags", s.handleListFlags)
	mux.HandleFunc("GET /v1/flags/{id}", s.handleGetFlag)
	mux.HandleFunc("POST /v1/flags/{id}/resolve", s.handleResolveFlag)

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", observability.Handler(s.gatherer))

	return s.recoverer(s.requestLogger(mux))
}

// statusRecorder captures the response status for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		if r.URL.Path == "/metrics" || r.URL.Path == "/healthz" {
			return
		}
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				s.logger.Error("handler panic",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Any("panic", v),
					zap.Stack("stack"),
				)
				writeError(w, http.StatusInternalServerError, "internal", "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// decode reads a JSON body, rejecting unknown fields and trailing data.
func decode(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	if dec.More() {
		return errors.New("decode request body: unexpected trailing data")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

// writeLedgerError maps ledger and storage errors onto HTTP statuses.
func (s *Server) writeLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		s.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, status, code, "internal error")
		return
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	writeError(w, status, code, err.Error())
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount):
		return http.StatusBadRequest, "invalid_amount"
	case errors.Is(err, ledger.ErrInvalidInput), errors.Is(err, ledger.ErrInvalidFlag),
		errors.Is(err, storage.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, ledger.ErrNoOpenPosition):
		return http.StatusNotFound, "no_open_position"
	case errors.Is(err, ledger.ErrInsufficientPosition):
		return http.StatusConflict, "insufficient_position"
	case errors.Is(err, storage.ErrConflict):
		return http.StatusServiceUnavailable, "conflict"
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, storage.ErrAlreadyResolved):
		return http.StatusConflict, "already_resolved"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "cancelled"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
