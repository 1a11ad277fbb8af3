package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/updownbet/updown/internal/domain"
)

// PriceService defines what the price handler needs from the engine.
type PriceService interface {
	CurrentPrice(ctx context.Context, market string) (domain.Quote, error)
}

// PriceHandler serves the current reference price per market.
type PriceHandler struct {
	prices PriceService
	logger *slog.Logger
}

// NewPriceHandler creates a PriceHandler with the given service and logger.
func NewPriceHandler(prices PriceService, logger *slog.Logger) *PriceHandler {
	return &PriceHandler{prices: prices, logger: logger}
}

// GetPrice returns the market's latest accepted price observation.
// GET /api/markets/{market}/price
func (h *PriceHandler) GetPrice(w http.ResponseWriter, r *http.Request) {
	market := r.PathValue("market")
	quote, err := h.prices.CurrentPrice(r.Context(), market)
	if err != nil {
		if statusForError(err) == http.StatusInternalServerError {
			h.logger.ErrorContext(r.Context(), "handler: current price failed",
				slog.String("market", market),
				slog.String("error", err.Error()),
			)
		}
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"market":      market,
		"price":       quote.Price,
		"observed_at": quote.ObservedAt,
	})
}
