// Package server exposes the public operation surface of the swap
// ledger as an HTTP/JSON API. The host chain's sender field is carried
// in the X-Swap-Sender header; every operation endpoint requires it.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"SwapLedger/internal/engine"
	"SwapLedger/internal/fixed"
	"SwapLedger/internal/ledger"
	"SwapLedger/internal/observability"
	"SwapLedger/internal/persistence"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

const senderHeader = "X-Swap-Sender"

// Server wraps the HTTP API for the engine and the operation journal.
type Server struct {
	eng        *engine.Engine
	oplog      *persistence.OperationLogWriter
	health     *observability.HealthChecker
	metrics    *observability.Metrics
	log        zerolog.Logger
	httpServer *http.Server
}

func New(addr string, eng *engine.Engine, oplog *persistence.OperationLogWriter, health *observability.HealthChecker, metrics *observability.Metrics, log zerolog.Logger) *Server {
	s := &Server{
		eng:     eng,
		oplog:   oplog,
		health:  health,
		metrics: metrics,
		log:     log,
	}

	r := mux.NewRouter()
	r.HandleFunc("/v1/initialize", s.instrument("initialize", s.handleInitialize)).Methods(http.MethodPost)
	r.HandleFunc("/v1/liquidity", s.instrument("liquidity", s.handleProvideLiquidity)).Methods(http.MethodPost)
	r.HandleFunc("/v1/deposit", s.instrument("deposit", s.handleDeposit)).Methods(http.MethodPost)
	r.HandleFunc("/v1/swap", s.instrument("swap", s.handleSwap)).Methods(http.MethodPost)
	r.HandleFunc("/v1/withdraw", s.instrument("withdraw", s.handleWithdraw)).Methods(http.MethodPost)
	r.HandleFunc("/v1/close", s.instrument("close", s.handleClosePools)).Methods(http.MethodPost)
	r.HandleFunc("/v1/pools", s.instrument("pools", s.handlePools)).Methods(http.MethodGet)
	r.HandleFunc("/v1/balances/{address}", s.instrument("balances", s.handleBalances)).Methods(http.MethodGet)
	r.HandleFunc("/v1/operations", s.instrument("operations", s.handleOperations)).Methods(http.MethodGet)
	if health != nil {
		r.HandleFunc("/healthz", health.LivenessHandler).Methods(http.MethodGet)
		r.HandleFunc("/readyz", health.ReadinessHandler).Methods(http.MethodGet)
	}

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the configured HTTP handler. Used by tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.httpServer.Addr).Msg("HTTP API listening")
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// --- request/response formats ---

type tokenAmountRequest struct {
	TokenAddress string `json:"token_address"`
	Amount       uint64 `json:"amount"`
}

type initializeRequest struct {
	TokenAAddress string `json:"token_a_address"`
	TokenBAddress string `json:"token_b_address"`
}

type liquidityRequest struct {
	TokenAddress string `json:"token_address"`
	PoolSize     uint64 `json:"pool_size"`
}

type pendingResponse struct {
	CorrelationID string `json:"correlation_id"`
	Status        string `json:"status"`
}

type swapResponse struct {
	FromToken   string `json:"from_token"`
	ToToken     string `json:"to_token"`
	Paid        uint64 `json:"paid"`
	Received    uint64 `json:"received"`
	NewFromPool uint64 `json:"new_from_pool"`
	NewToPool   uint64 `json:"new_to_pool"`
}

type poolsResponse struct {
	Initialized   bool   `json:"initialized"`
	ContractOwner string `json:"contract_owner,omitempty"`
	TokenAAddress string `json:"token_a_address,omitempty"`
	TokenBAddress string `json:"token_b_address,omitempty"`
	PoolA         uint64 `json:"pool_a"`
	PoolB         uint64 `json:"pool_b"`
	SwapConstant  uint64 `json:"swap_constant"`
	IsClosed      bool   `json:"is_closed"`
}

type balancesResponse struct {
	Address  string `json:"address"`
	BalanceA uint64 `json:"balance_a"`
	BalanceB uint64 `json:"balance_b"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// --- handlers ---

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	sender, ok := s.sender(w, r)
	if !ok {
		return
	}
	var req initializeRequest
	if !s.decode(w, r, &req) {
		return
	}
	tokenA, err := ledger.ParseAddress(req.TokenAAddress)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	tokenB, err := ledger.ParseAddress(req.TokenBAddress)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.eng.Initialize(sender, tokenA, tokenB); err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, s.poolsView())
}

func (s *Server) handleProvideLiquidity(w http.ResponseWriter, r *http.Request) {
	sender, ok := s.sender(w, r)
	if !ok {
		return
	}
	var req liquidityRequest
	if !s.decode(w, r, &req) {
		return
	}
	tokenAddress, err := ledger.ParseAddress(req.TokenAddress)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	correlationID, err := s.eng.ProvideLiquidity(r.Context(), sender, tokenAddress, req.PoolSize)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, pendingResponse{
		CorrelationID: correlationID.String(),
		Status:        "transfer requested",
	})
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	sender, ok := s.sender(w, r)
	if !ok {
		return
	}
	var req tokenAmountRequest
	if !s.decode(w, r, &req) {
		return
	}
	tokenAddress, err := ledger.ParseAddress(req.TokenAddress)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	correlationID, err := s.eng.Deposit(r.Context(), sender, tokenAddress, req.Amount)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, pendingResponse{
		CorrelationID: correlationID.String(),
		Status:        "transfer requested",
	})
}

func (s *Server) handleSwap(w http.ResponseWriter, r *http.Request) {
	sender, ok := s.sender(w, r)
	if !ok {
		return
	}
	var req tokenAmountRequest
	if !s.decode(w, r, &req) {
		return
	}
	tokenAddress, err := ledger.ParseAddress(req.TokenAddress)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := s.eng.Swap(sender, tokenAddress, req.Amount)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, swapResponse{
		FromToken:   result.FromToken.String(),
		ToToken:     result.ToToken.String(),
		Paid:        result.Paid,
		Received:    result.Received,
		NewFromPool: result.NewFromPool,
		NewToPool:   result.NewToPool,
	})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	sender, ok := s.sender(w, r)
	if !ok {
		return
	}
	var req tokenAmountRequest
	if !s.decode(w, r, &req) {
		return
	}
	tokenAddress, err := ledger.ParseAddress(req.TokenAddress)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.eng.Withdraw(r.Context(), sender, tokenAddress, req.Amount); err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "withdrawal requested"})
}

func (s *Server) handleClosePools(w http.ResponseWriter, r *http.Request) {
	sender, ok := s.sender(w, r)
	if !ok {
		return
	}
	if err := s.eng.ClosePools(sender); err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.poolsView())
}

func (s *Server) handlePools(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.poolsView())
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	addr, err := ledger.ParseAddress(mux.Vars(r)["address"])
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	balanceA, balanceB := s.eng.Balances(addr)
	s.writeJSON(w, http.StatusOK, balancesResponse{
		Address:  addr.String(),
		BalanceA: balanceA,
		BalanceB: balanceB,
	})
}

func (s *Server) handleOperations(w http.ResponseWriter, r *http.Request) {
	if s.oplog == nil {
		s.writeError(w, http.StatusNotImplemented, errors.New("operation journal not configured"))
		return
	}

	limit := 50
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 1 || n > 1000 {
			s.writeError(w, http.StatusBadRequest, errors.New("limit must be in [1, 1000]"))
			return
		}
		limit = n
	}

	rows, err := s.oplog.ReadRecent(r.Context(), limit)
	if err != nil {
		s.log.Error().Err(err).Msg("read operation journal")
		s.writeError(w, http.StatusInternalServerError, errors.New("journal unavailable"))
		return
	}
	s.writeJSON(w, http.StatusOK, rows)
}

// --- helpers ---

func (s *Server) poolsView() poolsResponse {
	view := s.eng.Pools()
	resp := poolsResponse{
		Initialized:  view.Initialized,
		PoolA:        view.PoolA,
		PoolB:        view.PoolB,
		SwapConstant: view.SwapConstant,
		IsClosed:     view.IsClosed,
	}
	if view.Initialized {
		resp.ContractOwner = view.ContractOwner.String()
		resp.TokenAAddress = view.TokenAAddress.String()
		resp.TokenBAddress = view.TokenBAddress.String()
	}
	return resp
}

func (s *Server) sender(w http.ResponseWriter, r *http.Request) (ledger.Address, bool) {
	raw := r.Header.Get(senderHeader)
	if raw == "" {
		s.writeError(w, http.StatusBadRequest, errors.New(senderHeader+" header required"))
		return ledger.Address{}, false
	}
	addr, err := ledger.ParseAddress(raw)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return ledger.Address{}, false
	}
	return addr, true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

// writeEngineError maps the failure taxonomy to HTTP status codes.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrPermissionDenied):
		s.writeError(w, http.StatusForbidden, err)
	case errors.Is(err, ledger.ErrUnknownToken):
		s.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, ledger.ErrInvalidState),
		errors.Is(err, ledger.ErrAlreadyClosed),
		errors.Is(err, ledger.ErrInsufficientFunds):
		s.writeError(w, http.StatusConflict, err)
	case errors.Is(err, ledger.ErrDuplicateToken),
		errors.Is(err, ledger.ErrInvalidAddress):
		s.writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, fixed.ErrOverflow):
		s.writeError(w, http.StatusUnprocessableEntity, err)
	default:
		s.log.Error().Err(err).Msg("operation failed")
		s.writeError(w, http.StatusInternalServerError, err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, err error) {
	s.writeJSON(w, code, errorResponse{Error: err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("encode response")
	}
}

// instrument wraps a handler with request counting and latency metrics.
func (s *Server) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.metrics == nil {
			next(w, r)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		s.metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		s.metrics.HTTPDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
