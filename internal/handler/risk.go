package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/loanguard/loanguard/internal/middleware"
	"github.com/loanguard/loanguard/internal/model"
	"github.com/loanguard/loanguard/internal/repository"
	"github.com/loanguard/loanguard/internal/risk"
	"github.com/loanguard/loanguard/internal/service"
)

// Assess handles POST /risk/assessments
func (h *Handler) Assess(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaims(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}

	var req service.EvaluateRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}

	assessment, err := h.riskSvc.Evaluate(r.Context(), req, claims, requestMeta(r))
	if err != nil {
		var missing *risk.MissingFactorError
		switch {
		case errors.Is(err, repository.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, "validation_error", "Application id is required")
		case errors.As(err, &missing):
			writeErrorWithDetails(w, http.StatusBadRequest, "missing_factor",
				"A configured factor is missing from the application data.",
				map[string]interface{}{"factor": missing.Factor})
		case errors.Is(err, risk.ErrNoActiveConfig):
			writeError(w, http.StatusConflict, "no_active_config", "No active risk configuration")
		case errors.Is(err, risk.ErrIncompleteWeights):
			writeError(w, http.StatusConflict, "invalid_config", "The active risk configuration is invalid")
		default:
			h.log.Error().Err(err).Msg("risk evaluation failed")
			writeError(w, http.StatusInternalServerError, "internal_error", "Risk evaluation failed")
		}
		return
	}

	writeJSON(w, http.StatusCreated, assessment)
}

// LatestAssessment handles GET /risk/assessments/{applicationId}
func (h *Handler) LatestAssessment(w http.ResponseWriter, r *http.Request) {
	applicationID := r.PathValue("applicationId")
	if applicationID == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "Application id is required")
		return
	}

	assessment, err := h.riskSvc.LatestAssessment(r.Context(), applicationID)
	if err != nil {
		if errors.Is(err, service.ErrAssessmentNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "No assessment for this application")
			return
		}
		h.log.Error().Err(err).Msg("assessment lookup failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to load assessment")
		return
	}

	writeJSON(w, http.StatusOK, assessment)
}

// ReviewRequest carries a human review decision
type ReviewRequest struct {
	Decision string `json:"decision"`
	Comment  string `json:"comment"`
}

// RecordReview handles POST /risk/assessments/{id}/review
func (h *Handler) RecordReview(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaims(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}

	var req ReviewRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}

	assessment, err := h.riskSvc.RecordReview(r.Context(), r.PathValue("id"), req.Decision, req.Comment, claims, requestMeta(r))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidReviewDecision):
			writeError(w, http.StatusBadRequest, "validation_error", "Decision must be approve or reject")
		case errors.Is(err, service.ErrAssessmentNotFound):
			writeError(w, http.StatusNotFound, "not_found", "Assessment not found")
		case errors.Is(err, service.ErrAlreadyReviewed):
			writeError(w, http.StatusConflict, "already_reviewed", "The assessment already has a review outcome")
		default:
			h.log.Error().Err(err).Msg("review recording failed")
			writeError(w, http.StatusInternalServerError, "internal_error", "Failed to record review")
		}
		return
	}

	writeJSON(w, http.StatusOK, assessment)
}

// ActiveConfig handles GET /risk/configs/active
func (h *Handler) ActiveConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.riskSvc.ActiveConfig(r.Context())
	if err != nil {
		if errors.Is(err, risk.ErrNoActiveConfig) {
			writeError(w, http.StatusNotFound, "no_active_config", "No active risk configuration")
			return
		}
		h.log.Error().Err(err).Msg("active config lookup failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to load configuration")
		return
	}

	writeJSON(w, http.StatusOK, cfg)
}

// CreateConfig handles POST /risk/configs
func (h *Handler) CreateConfig(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaims(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}

	var cfg model.RiskConfiguration
	if err := readJSON(r, &cfg); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}

	created, err := h.riskSvc.CreateConfig(r.Context(), &cfg, claims, requestMeta(r))
	if err != nil {
		if errors.Is(err, risk.ErrIncompleteWeights) || errors.Is(err, risk.ErrNoActiveConfig) {
			writeError(w, http.StatusBadRequest, "invalid_config", err.Error())
			return
		}
		h.log.Error().Err(err).Msg("config creation failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to create configuration")
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

// ActivateConfig handles POST /risk/configs/{version}/activate
func (h *Handler) ActivateConfig(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaims(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}

	version, err := strconv.Atoi(r.PathValue("version"))
	if err != nil || version < 1 {
		writeError(w, http.StatusBadRequest, "validation_error", "Version must be a positive integer")
		return
	}

	cfg, err := h.riskSvc.ActivateConfig(r.Context(), version, claims, requestMeta(r))
	if err != nil {
		if errors.Is(err, service.ErrConfigNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "Risk configuration not found")
			return
		}
		h.log.Error().Err(err).Msg("config activation failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to activate configuration")
		return
	}

	writeJSON(w, http.StatusOK, cfg)
}
