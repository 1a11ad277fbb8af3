package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/updownbet/updown/internal/domain"
)

// RoundService defines what the round handler needs from the engine.
type RoundService interface {
	Markets() []string
	CurrentRound(ctx context.Context, market string) (domain.Round, error)
	RoundSnapshot(ctx context.Context, market string, roundID int64) (domain.Round, error)
	ListRounds(ctx context.Context, market string, opts domain.ListOpts) ([]domain.Round, error)
	Lock(ctx context.Context, market string, roundID int64) error
	Close(ctx context.Context, market string, roundID int64) error
	CreateNext(ctx context.Context, market string) (domain.Round, error)
}

// RoundHandler serves round lifecycle and query endpoints.
type RoundHandler struct {
	rounds RoundService
	logger *slog.Logger
}

// NewRoundHandler creates a RoundHandler with the given service and logger.
func NewRoundHandler(rounds RoundService, logger *slog.Logger) *RoundHandler {
	return &RoundHandler{rounds: rounds, logger: logger}
}

// ListMarkets returns the registered market names.
// GET /api/markets
func (h *RoundHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets := h.rounds.Markets()
	if markets == nil {
		markets = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"markets": markets})
}

// ListRounds returns a market's rounds, newest first.
// GET /api/markets/{market}/rounds?limit=50&offset=0
func (h *RoundHandler) ListRounds(w http.ResponseWriter, r *http.Request) {
	market := r.PathValue("market")
	rounds, err := h.rounds.ListRounds(r.Context(), market, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list rounds failed",
			slog.String("market", market),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}
	if rounds == nil {
		rounds = []domain.Round{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"rounds": rounds})
}

// GetCurrentRound returns the market's current (latest) round.
// GET /api/markets/{market}/rounds/current
func (h *RoundHandler) GetCurrentRound(w http.ResponseWriter, r *http.Request) {
	market := r.PathValue("market")
	round, err := h.rounds.CurrentRound(r.Context(), market)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, round)
}

// GetRound returns one round by id.
// GET /api/markets/{market}/rounds/{id}
func (h *RoundHandler) GetRound(w http.ResponseWriter, r *http.Request) {
	market := r.PathValue("market")
	id, err := roundIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid round id")
		return
	}

	round, err := h.rounds.RoundSnapshot(r.Context(), market, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, round)
}

// LockRound forces the Open -> Locked transition. The keeper normally does
// this; the endpoint exists for operators.
// POST /api/markets/{market}/rounds/{id}/lock
func (h *RoundHandler) LockRound(w http.ResponseWriter, r *http.Request) {
	market := r.PathValue("market")
	id, err := roundIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid round id")
		return
	}

	if err := h.rounds.Lock(r.Context(), market, id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "locked",
		"market": market,
		"round":  id,
	})
}

// CloseRound forces the Locked -> Closed transition.
// POST /api/markets/{market}/rounds/{id}/close
func (h *RoundHandler) CloseRound(w http.ResponseWriter, r *http.Request) {
	market := r.PathValue("market")
	id, err := roundIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid round id")
		return
	}

	if err := h.rounds.Close(r.Context(), market, id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "closed",
		"market": market,
		"round":  id,
	})
}

// CreateNextRound creates the successor of a closed current round, un-stalling
// a market after a keeper outage.
// POST /api/markets/{market}/rounds/next
func (h *RoundHandler) CreateNextRound(w http.ResponseWriter, r *http.Request) {
	market := r.PathValue("market")
	round, err := h.rounds.CreateNext(r.Context(), market)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, round)
}
