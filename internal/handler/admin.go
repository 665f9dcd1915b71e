package handler

import (
	"errors"
	"net/http"

	"github.com/loanguard/loanguard/internal/middleware"
	"github.com/loanguard/loanguard/internal/service"
)

// UnlockIdentity handles POST /admin/identities/{id}/unlock
func (h *Handler) UnlockIdentity(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaims(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}

	targetID := r.PathValue("id")
	if targetID == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "Identity id is required")
		return
	}

	err := h.accountSvc.AdminUnlock(r.Context(), targetID, claims, requestMeta(r))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrIdentityNotFound):
			writeError(w, http.StatusNotFound, "not_found", "Identity not found")
		case errors.Is(err, service.ErrNotLocked):
			writeError(w, http.StatusConflict, "not_locked", "The account is not locked")
		default:
			h.log.Error().Err(err).Msg("manual unlock failed")
			writeError(w, http.StatusInternalServerError, "internal_error", "Failed to unlock account")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Account unlocked."})
}
