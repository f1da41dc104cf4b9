package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"solana-swap-ledger/internal/domain"
	"solana-swap-ledger/internal/ledger"
	"solana-swap-ledger/internal/storage"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	var req buyRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	pos, err := s.ledger.RecordBuy(r.Context(), ledger.BuyInput{
		WalletID: req.WalletID,
		Token:    req.Token,
		Amount:   req.Amount,
		Cost:     req.Cost,
		TradeRef: req.TradeRef,
	})
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPosition(pos))
}

func (s *Server) handleSell(w http.ResponseWriter, r *http.Request) {
	var req sellRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	res, err := s.ledger.RecordSell(r.Context(), ledger.SellInput{
		WalletID: req.WalletID,
		Token:    req.Token,
		Amount:   req.Amount,
		Proceeds: req.Proceeds,
		TradeRef: req.TradeRef,
	})
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sellResponse{
		Position:    toPosition(res.Position),
		RealizedPnL: res.RealizedPnL,
		CostBasis:   res.CostBasis,
	})
}

func (s *Server) handleSwap(w http.ResponseWriter, r *http.Request) {
	var req swapRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	res, err := s.ledger.ApplySwap(r.Context(), domain.VerifiedSwap{
		WalletID:    req.WalletID,
		Token:       req.Token,
		Side:        req.Side,
		AmountIn:    req.AmountIn,
		AmountOut:   req.AmountOut,
		TxSignature: req.TxSignature,
	})
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	if res.Sell != nil {
		writeJSON(w, http.StatusOK, sellResponse{
			Position:    toPosition(res.Position),
			RealizedPnL: res.Sell.RealizedPnL,
			CostBasis:   res.Sell.CostBasis,
		})
		return
	}
	writeJSON(w, http.StatusOK, toPosition(res.Position))
}

func (s *Server) handleOpenPosition(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	walletID, token := q.Get("wallet_id"), q.Get("token")
	if walletID == "" || token == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "wallet_id and token are required")
		return
	}

	pos, err := s.ledger.GetOpenPosition(r.Context(), walletID, token)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	if pos == nil {
		writeError(w, http.StatusNotFound, "no_open_position",
			fmt.Sprintf("no open position for wallet %s token %s", walletID, token))
		return
	}
	writeJSON(w, http.StatusOK, toPosition(pos))
}

func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	pos, err := s.positions.GetPosition(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPosition(pos))
}

func (s *Server) handleListPositions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	walletID := q.Get("wallet_id")
	if walletID == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "wallet_id is required")
		return
	}

	opts, err := listOpts(q.Get("limit"), q.Get("offset"), q.Get("since"), q.Get("until"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}

	positions, err := s.positions.ListPositions(r.Context(), walletID, opts)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	out := make([]*positionResponse, len(positions))
	for i, p := range positions {
		out[i] = toPosition(p)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePositionEntries(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusNotImplemented, "journal_disabled", "ledger journal is not configured")
		return
	}

	entries, err := s.journal.GetByPosition(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	writeEntries(w, entries)
}

func (s *Server) handleWalletEntries(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusNotImplemented, "journal_disabled", "ledger journal is not configured")
		return
	}
	walletID := r.URL.Query().Get("wallet_id")
	if walletID == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "wallet_id is required")
		return
	}

	entries, err := s.journal.GetByWallet(r.Context(), walletID)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	writeEntries(w, entries)
}

func writeEntries(w http.ResponseWriter, entries []*domain.LedgerEntry) {
	out := make([]entryResponse, len(entries))
	for i, e := range entries {
		out[i] = toEntry(e)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateFlag(w http.ResponseWriter, r *http.Request) {
	var req flagRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	flag, err := s.ledger.FlagIssue(r.Context(), ledger.FlagInput{
		PositionID:  req.PositionID,
		TradeRef:    req.TradeRef,
		WalletID:    req.WalletID,
		Type:        domain.FlagType(req.Type),
		Severity:    domain.Severity(req.Severity),
		Description: req.Description,
	})
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toFlag(flag))
}

func (s *Server) handleListFlags(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := storage.FlagFilter{
		WalletID:   q.Get("wallet_id"),
		PositionID: q.Get("position_id"),
		Type:       domain.FlagType(q.Get("flag_type")),
		Limit:      defaultPageSize,
	}
	if v := q.Get("unresolved"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_input", "unresolved must be a boolean")
			return
		}
		filter.UnresolvedOnly = b
	}
	if v := q.Get("limit"); v != "" {
		n, err := pageSize(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
			return
		}
		filter.Limit = n
	}

	flags, err := s.flags.ListFlags(r.Context(), filter)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	out := make([]*flagResponse, len(flags))
	for i, f := range flags {
		out[i] = toFlag(f)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetFlag(w http.ResponseWriter, r *http.Request) {
	flag, err := s.flags.GetFlag(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toFlag(flag))
}

// handleResolveFlag is the operator action closing a flag. It never touches positions.
func (s *Server) handleResolveFlag(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if req.ResolvedBy == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "resolved_by is required")
		return
	}

	id := r.PathValue("id")
	err := s.flags.ResolveFlag(r.Context(), id, domain.Resolution{
		ResolvedBy: req.ResolvedBy,
		Notes:      req.Notes,
		ResolvedAt: s.now().UTC(),
	})
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}

	flag, err := s.flags.GetFlag(r.Context(), id)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toFlag(flag))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]string, len(s.health))
	healthy := true
	for name, check := range s.health {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			healthy = false
			continue
		}
		checks[name] = "ok"
	}

	status, code := http.StatusOK, "ok"
	if !healthy {
		status, code = http.StatusServiceUnavailable, "degraded"
	}
	writeJSON(w, status, map[string]interface{}{"status": code, "checks": checks})
}

func pageSize(v string) (int, error) {
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	if n > maxPageSize {
		n = maxPageSize
	}
	return n, nil
}

func listOpts(limit, offset, since, until string) (storage.ListOpts, error) {
	opts := storage.ListOpts{Limit: defaultPageSize}
	if limit != "" {
		n, err := pageSize(limit)
		if err != nil {
			return opts, err
		}
		opts.Limit = n
	}
	if offset != "" {
		n, err := strconv.Atoi(offset)
		if err != nil || n < 0 {
			return opts, errors.New("offset must be a non-negative integer")
		}
		opts.Offset = n
	}
	for _, p := range []struct {
		raw string
		dst **time.Time
		key string
	}{{since, &opts.Since, "since"}, {until, &opts.Until, "until"}} {
		if p.raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, p.raw)
		if err != nil {
			return opts, fmt.Errorf("%s must be RFC3339: %w", p.key, err)
		}
		*p.dst = &t
	}
	return opts, nil
}
