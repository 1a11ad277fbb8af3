package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/updownbet/updown/internal/domain"
)

// AccountHandler serves treasury account endpoints: balance lookup and
// deposits (operator top-ups / faucet).
type AccountHandler struct {
	treasury domain.Treasury
	logger   *slog.Logger
}

// NewAccountHandler creates an AccountHandler with the given treasury.
func NewAccountHandler(treasury domain.Treasury, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{treasury: treasury, logger: logger}
}

// GetBalance returns an account's balance; unknown accounts are zero.
// GET /api/accounts/{id}/balance
func (h *AccountHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	balance, err := h.treasury.Balance(r.Context(), id)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: balance lookup failed",
			slog.String("account", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read balance")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account": id,
		"balance": balance,
	})
}

// Deposit credits an account.
// POST /api/accounts/{id}/deposit
func (h *AccountHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req struct {
		Amount uint64 `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Amount == 0 {
		writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	}

	if err := h.treasury.Deposit(r.Context(), id, req.Amount); err != nil {
		h.logger.ErrorContext(r.Context(), "handler: deposit failed",
			slog.String("account", id),
			slog.Uint64("amount", req.Amount),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to deposit")
		return
	}

	balance, err := h.treasury.Balance(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"account": id})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account": id,
		"balance": balance,
	})
}
