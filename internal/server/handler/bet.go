package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/updownbet/updown/internal/domain"
)

// BetService defines what the bet handler needs from the engine.
type BetService interface {
	PlaceStake(ctx context.Context, market, bettor string, side domain.Side, amount uint64) (domain.Bet, error)
	Claim(ctx context.Context, market string, roundID int64, bettor string) (domain.Outcome, error)
	BetOf(ctx context.Context, market string, roundID int64, bettor string) (domain.Bet, error)
}

// BetHandler serves stake placement, claims, and bet lookups.
type BetHandler struct {
	bets   BetService
	ledger domain.BetStore // optional, for cross-round bettor history
	logger *slog.Logger
}

// NewBetHandler creates a BetHandler. ledger may be nil; the bettor-history
// endpoint then reports the feature as unavailable.
func NewBetHandler(bets BetService, ledger domain.BetStore, logger *slog.Logger) *BetHandler {
	return &BetHandler{bets: bets, ledger: ledger, logger: logger}
}

// stakeRequest is the JSON body for placing a stake.
type stakeRequest struct {
	Bettor string `json:"bettor"`
	Side   string `json:"side"`
	Amount uint64 `json:"amount"`
}

// PlaceStake records a stake on the market's current round.
// POST /api/markets/{market}/stake
func (h *BetHandler) PlaceStake(w http.ResponseWriter, r *http.Request) {
	market := r.PathValue("market")

	var req stakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Bettor == "" {
		writeError(w, http.StatusBadRequest, "bettor is required")
		return
	}
	side := domain.Side(req.Side)
	if !side.Valid() {
		writeError(w, http.StatusBadRequest, "side must be \"bull\" or \"bear\"")
		return
	}

	bet, err := h.bets.PlaceStake(r.Context(), market, req.Bettor, side, req.Amount)
	if err != nil {
		if statusForError(err) == http.StatusInternalServerError {
			h.logger.ErrorContext(r.Context(), "handler: place stake failed",
				slog.String("market", market),
				slog.String("bettor", req.Bettor),
				slog.String("error", err.Error()),
			)
		}
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, bet)
}

// Claim settles and pays out one bet of a closed round. Replays of an
// already-paid claim are rejected with a conflict.
// POST /api/markets/{market}/rounds/{id}/claim
func (h *BetHandler) Claim(w http.ResponseWriter, r *http.Request) {
	market := r.PathValue("market")
	id, err := roundIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid round id")
		return
	}

	var req struct {
		Bettor string `json:"bettor"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Bettor == "" {
		writeError(w, http.StatusBadRequest, "bettor is required")
		return
	}

	outcome, err := h.bets.Claim(r.Context(), market, id, req.Bettor)
	if err != nil {
		if statusForError(err) == http.StatusInternalServerError {
			h.logger.ErrorContext(r.Context(), "handler: claim failed",
				slog.String("market", market),
				slog.Int64("round", id),
				slog.String("bettor", req.Bettor),
				slog.String("error", err.Error()),
			)
		}
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, outcome)
}

// GetBet returns one bettor's bet in one round.
// GET /api/markets/{market}/rounds/{id}/bets/{bettor}
func (h *BetHandler) GetBet(w http.ResponseWriter, r *http.Request) {
	market := r.PathValue("market")
	id, err := roundIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid round id")
		return
	}

	bet, err := h.bets.BetOf(r.Context(), market, id, r.PathValue("bettor"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bet)
}

// ListBettorBets returns a bettor's stake history across rounds and markets.
// GET /api/bets?bettor=alice&limit=50&offset=0
func (h *BetHandler) ListBettorBets(w http.ResponseWriter, r *http.Request) {
	bettor := r.URL.Query().Get("bettor")
	if bettor == "" {
		writeError(w, http.StatusBadRequest, "bettor query parameter required")
		return
	}
	if h.ledger == nil {
		writeError(w, http.StatusNotImplemented, "bet history requires durable storage")
		return
	}

	bets, err := h.ledger.ListByBettor(r.Context(), bettor, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list bettor bets failed",
			slog.String("bettor", bettor),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list bets")
		return
	}
	if bets == nil {
		bets = []domain.Bet{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"bets": bets})
}
