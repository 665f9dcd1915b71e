package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/loanguard/loanguard/internal/auth"
	"github.com/loanguard/loanguard/internal/middleware"
	"github.com/loanguard/loanguard/internal/service"
)

// Login handles POST /auth/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req service.LoginRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "Email and password are required")
		return
	}

	resp, err := h.accountSvc.Login(r.Context(), req, requestMeta(r))
	if err != nil {
		var locked *service.AccountLockedError
		switch {
		case errors.As(err, &locked):
			writeErrorWithDetails(w, http.StatusForbidden, "account_locked",
				"The account is temporarily locked.",
				map[string]interface{}{"lockedUntil": locked.Until.UTC().Format(time.RFC3339)})
		case errors.Is(err, service.ErrInvalidCredentials):
			writeError(w, http.StatusUnauthorized, "invalid_credentials", "Invalid email or password")
		default:
			h.log.Error().Err(err).Msg("login failed")
			writeError(w, http.StatusInternalServerError, "internal_error", "Login failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// RefreshRequest carries the token to refresh when it is not supplied as a
// bearer header
type RefreshRequest struct {
	Token string `json:"token"`
}

// Refresh handles POST /auth/refresh. The token to refresh comes from the
// Authorization header; a token body field is accepted as a fallback.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	token := middleware.BearerToken(r)
	if token == "" {
		var req RefreshRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "validation_error", "Invalid request body")
			return
		}
		token = req.Token
	}
	if token == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "Token is required")
		return
	}

	resp, err := h.accountSvc.Refresh(r.Context(), token, requestMeta(r))
	if err != nil {
		var locked *service.AccountLockedError
		switch {
		case errors.Is(err, auth.ErrTokenExpired):
			writeError(w, http.StatusUnauthorized, "token_expired", "The token has expired. Please log in again.")
		case errors.Is(err, auth.ErrTokenInvalid):
			writeError(w, http.StatusUnauthorized, "token_invalid", "The token is invalid")
		case errors.As(err, &locked):
			writeErrorWithDetails(w, http.StatusForbidden, "account_locked",
				"The account is temporarily locked.",
				map[string]interface{}{"lockedUntil": locked.Until.UTC().Format(time.RFC3339)})
		default:
			h.log.Error().Err(err).Msg("token refresh failed")
			writeError(w, http.StatusInternalServerError, "internal_error", "Token refresh failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// ChangePasswordRequest carries a password change
type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// ChangePassword handles POST /auth/change-password
func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaims(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}

	var req ChangePasswordRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "Current and new passwords are required")
		return
	}

	err := h.accountSvc.ChangePassword(r.Context(), claims.Subject, req.CurrentPassword, req.NewPassword, requestMeta(r))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidCredentials):
			writeError(w, http.StatusUnauthorized, "invalid_credentials", "The current password is incorrect")
		case errors.Is(err, service.ErrPasswordTooWeak):
			writeError(w, http.StatusBadRequest, "password_too_weak", err.Error())
		case errors.Is(err, service.ErrSamePassword):
			writeError(w, http.StatusBadRequest, "same_password", "The new password must be different from the current password")
		case errors.Is(err, service.ErrIdentityNotFound):
			writeError(w, http.StatusNotFound, "not_found", "Identity not found")
		default:
			h.log.Error().Err(err).Msg("password change failed")
			writeError(w, http.StatusInternalServerError, "internal_error", "Password change failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Password changed successfully."})
}
