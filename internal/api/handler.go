// Package api provides the HTTP handlers exposing the option engine to
// clients and to the admin back office.
//
// All monetary values use shopspring/decimal — never float64 for money.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/optx/option-engine/internal/engine"
	"github.com/optx/option-engine/internal/model"
	"github.com/optx/option-engine/internal/outcome"
	"github.com/optx/option-engine/internal/risk"
	"github.com/optx/option-engine/internal/store"
)

// Handler holds the HTTP handlers for the engine's public operations.
type Handler struct {
	engine *engine.Engine
	store  store.Store
}

// NewHandler creates the API handler.
func NewHandler(e *engine.Engine, st store.Store) *Handler {
	return &Handler{engine: e, store: st}
}

// OpenContractRequest is the JSON body for POST /contracts.
type OpenContractRequest struct {
	UserID          string          `json:"user_id"`
	Symbol          string          `json:"symbol"`
	Direction       model.Direction `json:"direction"` // "up" or "down"
	Wager           decimal.Decimal `json:"wager"`
	DurationSeconds int             `json:"duration_seconds"`
}

// OpenContract handles POST /api/v1/contracts
func (h *Handler) OpenContract(w http.ResponseWriter, r *http.Request) {
	var req OpenContractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	c, err := h.engine.OpenContract(r.Context(), req.UserID, req.Symbol, req.Direction, req.Wager, req.DurationSeconds)
	if err != nil {
		writeError(w, err.Error(), openStatus(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(c)
}

// openStatus maps OpenContract errors to HTTP status codes.
func openStatus(err error) int {
	switch {
	case errors.Is(err, engine.ErrInvalidUser),
		errors.Is(err, engine.ErrInvalidWager),
		errors.Is(err, engine.ErrInvalidDirection),
		errors.Is(err, engine.ErrInvalidSymbol),
		errors.Is(err, outcome.ErrUnknownTier):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrInsufficientBalance),
		errors.Is(err, risk.ErrPerSymbolLimitExceeded),
		errors.Is(err, risk.ErrTotalLimitExceeded):
		return http.StatusConflict
	case errors.Is(err, engine.ErrPricingUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// GetContract handles GET /api/v1/contracts/{contractID}
func (h *Handler) GetContract(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "contractID")

	c, err := h.engine.GetContract(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "contract not found", http.StatusNotFound)
			return
		}
		writeError(w, "failed to load contract", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(c)
}

// ListContracts handles GET /api/v1/users/{userID}/contracts
func (h *Handler) ListContracts(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	contracts, err := h.store.ListContractsByUser(r.Context(), userID)
	if err != nil {
		writeError(w, "failed to list contracts", http.StatusInternalServerError)
		return
	}
	if contracts == nil {
		contracts = []model.Contract{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(contracts)
}

// GetBalance handles GET /api/v1/users/{userID}/balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	balance, err := h.store.GetBalance(r.Context(), userID)
	if err != nil {
		writeError(w, "failed to load balance", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]decimal.Decimal{"balance": balance})
}

// GetTransactions handles GET /api/v1/users/{userID}/transactions
// Returns the immutable ledger history backing the user's balance.
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	txns, err := h.store.GetTransactionsByUser(r.Context(), userID)
	if err != nil {
		writeError(w, "failed to load transactions", http.StatusInternalServerError)
		return
	}
	if txns == nil {
		txns = []model.Transaction{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(txns)
}

// ManualComplete handles POST /api/v1/admin/contracts/{contractID}/complete
// Forces immediate settlement ahead of natural expiry. Idempotent: a
// contract already settled or voided returns 200 with no side effects.
func (h *Handler) ManualComplete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "contractID")

	if err := h.engine.ManuallyComplete(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "contract not found", http.StatusNotFound)
			return
		}
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	c, err := h.engine.GetContract(r.Context(), id)
	if err != nil {
		writeError(w, "failed to load contract", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(c)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
