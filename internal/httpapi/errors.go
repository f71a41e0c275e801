package httpapi

import (
	"context"
	"errors"
	"net/http"

	"carbonmap/core-go/internal/access"
	"carbonmap/core-go/internal/accounts"
	"carbonmap/core-go/internal/catalog"
	"carbonmap/core-go/internal/hierarchy"
)

// writeDomainError maps a domain or store error onto the JSON error envelope.
// op names the failed operation in logs.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error, op string) {
	switch {
	case errors.Is(err, hierarchy.ErrInvariantViolation):
		h.log.Error().Err(err).Str("op", op).Str("path", r.URL.Path).Msg("hierarchy invariant violated")
		h.writeError(w, http.StatusInternalServerError, "invariant_violation", "entity hierarchy is inconsistent", nil)
	case errors.Is(err, hierarchy.ErrNotFound),
		errors.Is(err, accounts.ErrAccountNotFound),
		errors.Is(err, access.ErrGrantNotFound):
		h.log.Debug().Err(err).Str("op", op).Msg("not found")
		h.writeError(w, http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, hierarchy.ErrCycle):
		h.log.Info().Err(err).Str("op", op).Msg("rejected cycle-forming write")
		h.writeError(w, http.StatusConflict, "cycle_detected", err.Error(), nil)
	case errors.Is(err, hierarchy.ErrDuplicate):
		h.log.Info().Err(err).Str("op", op).Msg("rejected duplicate")
		h.writeError(w, http.StatusConflict, "conflict", err.Error(), nil)
	case errors.Is(err, hierarchy.ErrInvalidEntity),
		errors.Is(err, access.ErrInvalidPermission),
		errors.Is(err, access.ErrInvalidGrant):
		h.writeError(w, http.StatusUnprocessableEntity, "validation_failed", err.Error(), nil)
	case errors.Is(err, accounts.ErrInvalidToken),
		errors.Is(err, accounts.ErrTokenConsumed),
		errors.Is(err, accounts.ErrEmailMismatch):
		h.log.Info().Err(err).Str("op", op).Msg("rejected confirmation token")
		h.writeError(w, http.StatusBadRequest, "invalid_token", err.Error(), nil)
	case errors.Is(err, accounts.ErrUnauthenticated):
		h.writeError(w, http.StatusUnauthorized, "unauthenticated", err.Error(), nil)
	case errors.Is(err, accounts.ErrForbidden),
		errors.Is(err, accounts.ErrSelfDemotion):
		h.log.Info().Err(err).Str("op", op).Msg("forbidden")
		h.writeError(w, http.StatusForbidden, "forbidden", err.Error(), nil)
	case errors.Is(err, catalog.ErrUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		h.log.Error().Err(err).Str("op", op).Msg("store unavailable")
		h.writeError(w, http.StatusServiceUnavailable, "store_unavailable", "backing store unavailable", nil)
	default:
		h.log.Error().Err(err).Str("op", op).Msg("store error")
		h.writeError(w, http.StatusInternalServerError, "store_error", "failed to "+op, nil)
	}
}
