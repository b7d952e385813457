// Package server exposes the HTTP/JSON API: operation submission, live
// queries answered by the engine from memory, history queries answered by
// the query service from Postgres, and admin endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"CDPLedger/internal/access"
	"CDPLedger/internal/auction"
	"CDPLedger/internal/core"
	"CDPLedger/internal/ledger"
	"CDPLedger/internal/mint"
	"CDPLedger/internal/observability"
	"CDPLedger/internal/oracle"
	"CDPLedger/internal/query"
	"CDPLedger/internal/registry"
)

// Deps holds everything the HTTP handlers need.
type Deps struct {
	Engine        *core.Engine
	Queries       *query.Service
	Access        *access.Controller
	HealthChecker *observability.HealthChecker
	Metrics       *observability.Metrics
	Logger        zerolog.Logger
}

// Server wraps the chi router and the underlying http.Server.
type Server struct {
	httpServer *http.Server
	deps       *Deps
}

func NewServer(addr string, deps *Deps) *Server {
	s := &Server{deps: deps}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", deps.HealthChecker.LivenessHandler)
	r.Get("/readyz", deps.HealthChecker.ReadinessHandler)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/deposit", s.instrument("deposit", s.handleDeposit))
		r.Post("/withdraw", s.instrument("withdraw", s.handleWithdraw))
		r.Post("/mint", s.instrument("mint", s.handleMint))
		r.Post("/burn", s.instrument("burn", s.handleBurn))
		r.Post("/liquidate", s.instrument("liquidate", s.handleLiquidate))

		r.Post("/auctions/{nonce}/bids", s.instrument("bid", s.handleBid))
		r.Get("/auctions/{nonce}", s.instrument("auction_details", s.handleAuctionDetails))
		r.Get("/auctions/{nonce}/pricing", s.instrument("auction_pricing", s.handleAuctionPricing))
		r.Get("/auctions/{nonce}/history", s.instrument("auction_history", s.handleAuctionHistory))

		r.Get("/accounts/{account}/balances", s.instrument("balances", s.handleBalances))
		r.Get("/accounts/{account}/max-to-mint", s.instrument("max_to_mint", s.handleMaxToMint))
		r.Get("/accounts/{account}/health", s.instrument("position_health", s.handlePositionHealth))
		r.Get("/accounts/{account}/journal", s.instrument("journal_history", s.handleJournalHistory))

		r.Get("/events", s.instrument("event_history", s.handleEventHistory))

		r.Route("/admin", func(r chi.Router) {
			r.Post("/tokens", s.instrument("admit_token", s.handleAdmitToken))
			r.Put("/tokens/{asset_id}/flags", s.instrument("set_token_flags", s.handleSetTokenFlags))
			r.Post("/admins", s.instrument("add_admin", s.handleAddAdmin))
			r.Post("/prices", s.instrument("set_price", s.handleSetPrice))
			r.Put("/auction/bonus", s.instrument("set_initiator_bonus", s.handleSetInitiatorBonus))
			r.Put("/auction/fee-vault", s.instrument("set_fee_vault", s.handleSetFeeVault))
			r.Get("/integrity", s.instrument("verify_integrity", s.handleVerifyIntegrity))
		})
	})

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Start runs the server until ctx is cancelled (blocking).
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.deps.Logger.Info().Msg("http server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.deps.Logger.Info().Str("addr", s.httpServer.Addr).Msg("http server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ============================================================================
// Operation handlers
// ============================================================================

type transferRequest struct {
	Account uuid.UUID `json:"account"`
	Symbol  string    `json:"symbol"`
	Amount  int64     `json:"amount"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.deps.Engine.Deposit(req.Account, req.Symbol, req.Amount); err != nil {
		s.writeError(w, "deposit", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "applied"})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.deps.Engine.Withdraw(req.Account, req.Symbol, req.Amount); err != nil {
		s.writeError(w, "withdraw", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "applied"})
}

type debtRequest struct {
	Account uuid.UUID `json:"account"`
	Amount  int64     `json:"amount"`
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	var req debtRequest
	if !s.decode(w, r, &req) {
		return
	}
	minted, err := s.deps.Engine.Mint(req.Account, req.Amount)
	if err != nil {
		s.writeError(w, "mint", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"minted": minted})
}

func (s *Server) handleBurn(w http.ResponseWriter, r *http.Request) {
	var req debtRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.deps.Engine.Burn(req.Account, req.Amount); err != nil {
		s.writeError(w, "burn", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "applied"})
}

type liquidateRequest struct {
	Borrower  uuid.UUID `json:"borrower"`
	Initiator uuid.UUID `json:"initiator"`
}

func (s *Server) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	var req liquidateRequest
	if !s.decode(w, r, &req) {
		return
	}
	nonce, err := s.deps.Engine.Liquidate(req.Borrower, req.Initiator)
	if err != nil {
		s.writeError(w, "liquidate", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"nonce": nonce})
}

type bidRequest struct {
	Bidder       uuid.UUID `json:"bidder"`
	Percentage   int64     `json:"percentage"`
	BonusPayment int64     `json:"bonus_payment"`
}

type bidResponse struct {
	Percentage    int64               `json:"percentage"`
	OfferedRatio  int64               `json:"offered_ratio"`
	DebtPaid      int64               `json:"debt_paid"`
	CollateralOut []assetAmountView   `json:"collateral_out"`
	Closed        bool                `json:"closed"`
	DebtExhausted bool                `json:"debt_exhausted"`
}

func (s *Server) handleBid(w http.ResponseWriter, r *http.Request) {
	nonce, ok := s.parseNonce(w, r)
	if !ok {
		return
	}
	var req bidRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.deps.Engine.Bid(nonce, req.Bidder, req.Percentage, req.BonusPayment)
	if err != nil {
		s.writeError(w, "bid", err)
		return
	}
	s.writeJSON(w, http.StatusOK, bidResponse{
		Percentage:    res.Bid.Percentage,
		OfferedRatio:  res.Bid.OfferedRatio,
		DebtPaid:      res.Bid.DebtPaid,
		CollateralOut: amountViews(res.Bid.CollateralOut),
		Closed:        res.Closed,
		DebtExhausted: res.DebtExhausted,
	})
}

// ============================================================================
// Live query handlers
// ============================================================================

type assetAmountView struct {
	Symbol string `json:"symbol"`
	Amount int64  `json:"amount"`
}

func amountViews(entries []ledger.AssetAmount) []assetAmountView {
	views := make([]assetAmountView, 0, len(entries))
	for _, entry := range entries {
		symbol, _ := ledger.GetAssetSymbol(entry.AssetID)
		views = append(views, assetAmountView{Symbol: symbol, Amount: entry.Amount})
	}
	return views
}

func (s *Server) handleAuctionDetails(w http.ResponseWriter, r *http.Request) {
	nonce, ok := s.parseNonce(w, r)
	if !ok {
		return
	}
	details, err := s.deps.Engine.LiquidationDetails(nonce)
	if err != nil {
		s.writeError(w, "auction_details", err)
		return
	}

	a := details.Auction
	bids := make([]map[string]any, 0, len(a.Bids))
	for _, b := range a.Bids {
		bids = append(bids, map[string]any{
			"bidder":         b.Bidder,
			"accepted_at":    b.AcceptedAt,
			"percentage":     b.Percentage,
			"offered_ratio":  b.OfferedRatio,
			"debt_paid":      b.DebtPaid,
			"collateral_out": amountViews(b.CollateralOut),
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"nonce":          a.Nonce,
		"borrower":       a.Borrower,
		"initiator":      a.Initiator,
		"start_time":     a.StartTime,
		"status":         a.Status.String(),
		"remaining":      amountViews(a.Remaining),
		"remaining_debt": a.RemainingDebt,
		"offering_ratio": details.OfferingRatio,
		"bonus_paid":     a.BonusPaid,
		"bids":           bids,
	})
}

func (s *Server) handleAuctionPricing(w http.ResponseWriter, r *http.Request) {
	nonce, ok := s.parseNonce(w, r)
	if !ok {
		return
	}
	pricing, err := s.deps.Engine.AuctionPricing(nonce)
	if err != nil {
		s.writeError(w, "auction_pricing", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"offering_ratio": pricing.OfferingRatio,
		"remaining_debt": pricing.RemainingDebt,
		"start_time":     pricing.StartTime,
	})
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	account, ok := s.parseAccount(w, r)
	if !ok {
		return
	}
	collateral, debt := s.deps.Engine.Balances(account)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"account":    account,
		"collateral": amountViews(collateral),
		"debt":       amountViews(debt),
	})
}

func (s *Server) handleMaxToMint(w http.ResponseWriter, r *http.Request) {
	account, ok := s.parseAccount(w, r)
	if !ok {
		return
	}
	max, err := s.deps.Engine.MaxToMint(account)
	if err != nil {
		s.writeError(w, "max_to_mint", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"max_to_mint": max})
}

func (s *Server) handlePositionHealth(w http.ResponseWriter, r *http.Request) {
	account, ok := s.parseAccount(w, r)
	if !ok {
		return
	}
	eligible, err := s.deps.Engine.CollateralIsEligible(account)
	if err != nil {
		s.writeError(w, "position_health", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"liquidatable": eligible})
}

// ============================================================================
// History handlers (Postgres)
// ============================================================================

func (s *Server) handleEventHistory(w http.ResponseWriter, r *http.Request) {
	var eventType *string
	if v := r.URL.Query().Get("type"); v != "" {
		eventType = &v
	}
	limit := parseLimit(r, 100, 500)
	after := parseAfter(r)

	entries, err := s.deps.Queries.GetEventHistory(r.Context(), eventType, limit, after)
	if err != nil {
		s.writeError(w, "event_history", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"events": entries})
}

func (s *Server) handleJournalHistory(w http.ResponseWriter, r *http.Request) {
	account, ok := s.parseAccount(w, r)
	if !ok {
		return
	}
	limit := parseLimit(r, 100, 500)
	after := parseAfter(r)

	entries, err := s.deps.Queries.GetJournalHistory(r.Context(), account, limit, after)
	if err != nil {
		s.writeError(w, "journal_history", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"journals": entries})
}

func (s *Server) handleAuctionHistory(w http.ResponseWriter, r *http.Request) {
	nonce, ok := s.parseNonce(w, r)
	if !ok {
		return
	}
	entries, err := s.deps.Queries.GetAuctionHistory(r.Context(), nonce)
	if err != nil {
		s.writeError(w, "auction_history", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"events": entries})
}

// ============================================================================
// Admin handlers
// ============================================================================

type admitTokenRequest struct {
	Caller          uuid.UUID `json:"caller"`
	Symbol          string    `json:"symbol"`
	OracleRef       string    `json:"oracle_ref"`
	Decimals        uint8     `json:"decimals"`
	Depositable     bool      `json:"depositable"`
	MintableAgainst bool      `json:"mintable_against"`
	Tradable        bool      `json:"tradable"`
}

func (s *Server) handleAdmitToken(w http.ResponseWriter, r *http.Request) {
	var req admitTokenRequest
	if !s.decode(w, r, &req) {
		return
	}
	assetID, err := s.deps.Engine.AdmitToken(req.Caller, req.Symbol, req.OracleRef,
		req.Decimals, req.Depositable, req.MintableAgainst, req.Tradable)
	if err != nil {
		s.writeError(w, "admit_token", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"asset_id": assetID})
}

type setFlagsRequest struct {
	Caller          uuid.UUID `json:"caller"`
	Depositable     bool      `json:"depositable"`
	MintableAgainst bool      `json:"mintable_against"`
	Tradable        bool      `json:"tradable"`
}

func (s *Server) handleSetTokenFlags(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "asset_id")
	id, err := strconv.ParseUint(raw, 10, 16)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody(fmt.Errorf("invalid asset_id %q", raw)))
		return
	}
	var req setFlagsRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.deps.Engine.SetTokenFlags(req.Caller, ledger.AssetID(id),
		req.Depositable, req.MintableAgainst, req.Tradable); err != nil {
		s.writeError(w, "set_token_flags", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "applied"})
}

type addAdminRequest struct {
	Caller    uuid.UUID `json:"caller"`
	Principal uuid.UUID `json:"principal"`
}

func (s *Server) handleAddAdmin(w http.ResponseWriter, r *http.Request) {
	var req addAdminRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.deps.Access.AddAdmin(req.Caller, req.Principal); err != nil {
		s.writeError(w, "add_admin", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "applied"})
}

type setPriceRequest struct {
	Caller uuid.UUID `json:"caller"`
	Symbol string    `json:"symbol"`
	Price  int64     `json:"price"`
}

// handleSetPrice is a manual override next to the NATS price feed. Guarded
// because a bad price moves every valuation in the system.
func (s *Server) handleSetPrice(w http.ResponseWriter, r *http.Request) {
	var req setPriceRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.deps.Access.Require(req.Caller); err != nil {
		s.writeError(w, "set_price", err)
		return
	}
	if err := s.deps.Engine.SetPrice(req.Symbol, req.Price); err != nil {
		s.writeError(w, "set_price", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "applied"})
}

type setBonusRequest struct {
	Caller uuid.UUID `json:"caller"`
	Bonus  int64     `json:"bonus"`
}

func (s *Server) handleSetInitiatorBonus(w http.ResponseWriter, r *http.Request) {
	var req setBonusRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.deps.Access.Require(req.Caller); err != nil {
		s.writeError(w, "set_initiator_bonus", err)
		return
	}
	if err := s.deps.Engine.SetInitiatorBonus(req.Bonus); err != nil {
		s.writeError(w, "set_initiator_bonus", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "applied"})
}

type setFeeVaultRequest struct {
	Caller uuid.UUID `json:"caller"`
	Vault  uuid.UUID `json:"vault"`
}

func (s *Server) handleSetFeeVault(w http.ResponseWriter, r *http.Request) {
	var req setFeeVaultRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.deps.Access.Require(req.Caller); err != nil {
		s.writeError(w, "set_fee_vault", err)
		return
	}
	s.deps.Engine.SetFeeVault(req.Vault)
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "applied"})
}

func (s *Server) handleVerifyIntegrity(w http.ResponseWriter, r *http.Request) {
	report, err := s.deps.Queries.VerifyIntegrity(r.Context())
	if err != nil {
		s.writeError(w, "verify_integrity", err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

// ============================================================================
// Helpers
// ============================================================================

func (s *Server) instrument(endpoint string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		if s.deps.Metrics != nil {
			s.deps.Metrics.QueryRequests.WithLabelValues(endpoint, strconv.Itoa(rec.status)).Inc()
			s.deps.Metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
			if rec.status >= 500 {
				s.deps.Metrics.QueryErrors.WithLabelValues(endpoint, strconv.Itoa(rec.status)).Inc()
			}
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody(fmt.Errorf("invalid request body: %w", err)))
		return false
	}
	return true
}

func (s *Server) parseNonce(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	raw := chi.URLParam(r, "nonce")
	nonce, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody(fmt.Errorf("invalid nonce %q", raw)))
		return 0, false
	}
	return nonce, true
}

func (s *Server) parseAccount(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := chi.URLParam(r, "account")
	account, err := uuid.Parse(raw)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody(fmt.Errorf("invalid account %q", raw)))
		return uuid.Nil, false
	}
	return account, true
}

func parseLimit(r *http.Request, def, max int) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 || n > max {
		return def
	}
	return n
}

func parseAfter(r *http.Request) *int64 {
	v := r.URL.Query().Get("after")
	if v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil
	}
	return &n
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.deps.Logger.Warn().Err(err).Msg("response encode failed")
	}
}

func errorBody(err error) map[string]string {
	return map[string]string{"error": err.Error()}
}

func (s *Server) writeError(w http.ResponseWriter, endpoint string, err error) {
	status := httpStatus(err)
	if status >= 500 {
		s.deps.Logger.Error().Err(err).Str("endpoint", endpoint).Msg("request failed")
	}
	s.writeJSON(w, status, errorBody(err))
}

// httpStatus maps package sentinel errors to response codes. Unknown errors
// are treated as internal.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, registry.ErrUnknownToken),
		errors.Is(err, auction.ErrUnknownAuction):
		return http.StatusNotFound
	case errors.Is(err, access.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, auction.ErrAuctionActive),
		errors.Is(err, auction.ErrAuctionClosed),
		errors.Is(err, mint.ErrCollateralLocked):
		return http.StatusConflict
	case errors.Is(err, mint.ErrInvalidAmount),
		errors.Is(err, auction.ErrInvalidPercentage):
		return http.StatusBadRequest
	case errors.Is(err, mint.ErrInsufficientCollateral),
		errors.Is(err, mint.ErrUndercollateralized),
		errors.Is(err, mint.ErrTokenNotDepositable),
		errors.Is(err, mint.ErrTokenNotMintable),
		errors.Is(err, mint.ErrExceedsDebt),
		errors.Is(err, auction.ErrNotEligible),
		errors.Is(err, auction.ErrNoTradableCollateral),
		errors.Is(err, auction.ErrBidTooSmall),
		errors.Is(err, auction.ErrInsufficientBonus),
		errors.Is(err, auction.ErrInsufficientFunds),
		errors.Is(err, auction.ErrInsufficientAllowance),
		errors.Is(err, oracle.ErrPriceUnavailable):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
