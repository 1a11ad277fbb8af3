// Package handler contains the HTTP handlers for the betting API. Each
// handler declares the narrow service interface it needs; the engine
// satisfies all of them.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/updownbet/updown/internal/domain"
)

// writeJSON marshals v as JSON and writes it with the given status code. A
// marshal failure falls back to a plain 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps a domain error to its HTTP status and writes it.
func writeDomainError(w http.ResponseWriter, err error) {
	writeError(w, statusForError(err), err.Error())
}

// statusForError maps the engine's sentinel errors onto HTTP status codes:
// missing resources are 404, rejected inputs are 400, state-machine
// precondition failures are 409, and oracle trouble is a 502 because the
// upstream feed is at fault.
func statusForError(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrStakeTooSmall):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, domain.ErrOraclePriceInvalid):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrRoundNotOpen),
		errors.Is(err, domain.ErrRoundLocked),
		errors.Is(err, domain.ErrAlreadyStaked),
		errors.Is(err, domain.ErrTooEarly),
		errors.Is(err, domain.ErrAlreadyLocked),
		errors.Is(err, domain.ErrAlreadyClosed),
		errors.Is(err, domain.ErrRoundNotLocked),
		errors.Is(err, domain.ErrRoundNotClosed),
		errors.Is(err, domain.ErrRoundExists),
		errors.Is(err, domain.ErrNoWinningPool),
		errors.Is(err, domain.ErrNotAWinner),
		errors.Is(err, domain.ErrAlreadyClaimed):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// parseListOpts extracts standard pagination parameters from the query
// string. Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}
}

// roundIDParam parses the {id} path segment as an int64 round id.
func roundIDParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}
