package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/loanguard/loanguard/internal/model"
	"github.com/loanguard/loanguard/internal/repository"
)

// auditFilterFromQuery maps querystring parameters onto an AuditFilter.
func auditFilterFromQuery(r *http.Request) (model.AuditFilter, error) {
	q := r.URL.Query()
	filter := model.AuditFilter{
		ActorID:       q.Get("userId"),
		Action:        q.Get("action"),
		EntityType:    q.Get("entityType"),
		EntityID:      q.Get("entityId"),
		ApplicationID: q.Get("applicationId"),
	}

	if raw := q.Get("startDate"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, fmt.Errorf("invalid startDate: %s", raw)
		}
		filter.Start = &t
	}
	if raw := q.Get("endDate"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, fmt.Errorf("invalid endDate: %s", raw)
		}
		filter.End = &t
	}
	if raw := q.Get("page"); raw != "" {
		filter.Page, _ = strconv.Atoi(raw)
	}
	if raw := q.Get("limit"); raw != "" {
		filter.Limit, _ = strconv.Atoi(raw)
	}
	return filter, nil
}

// AuditLogs handles GET /audit/logs
func (h *Handler) AuditLogs(w http.ResponseWriter, r *http.Request) {
	filter, err := auditFilterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	result, err := h.auditSvc.Query(r.Context(), filter)
	if err != nil {
		h.log.Error().Err(err).Msg("audit query failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to query audit log")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// AuditExport handles GET /audit/export. The format parameter selects csv
// (the default) or json.
func (h *Handler) AuditExport(w http.ResponseWriter, r *http.Request) {
	filter, err := auditFilterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	switch format := r.URL.Query().Get("format"); format {
	case "", "csv":
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition",
			fmt.Sprintf(`attachment; filename="audit-export-%s.csv"`, time.Now().UTC().Format("2006-01-02")))
		if _, err := h.auditSvc.ExportCSV(r.Context(), filter, w); err != nil {
			// Headers are already out; all we can do is log
			h.log.Error().Err(err).Msg("audit export failed")
		}
	case "json":
		entries, err := h.auditSvc.Export(r.Context(), filter)
		if err != nil {
			h.log.Error().Err(err).Msg("audit export failed")
			writeError(w, http.StatusInternalServerError, "internal_error", "Failed to export audit log")
			return
		}
		w.Header().Set("Content-Disposition",
			fmt.Sprintf(`attachment; filename="audit-export-%s.json"`, time.Now().UTC().Format("2006-01-02")))
		writeJSON(w, http.StatusOK, entries)
	default:
		writeError(w, http.StatusBadRequest, "validation_error",
			fmt.Sprintf("unsupported export format %q, expected json or csv", format))
	}
}

// AuditSummary handles GET /audit/stats/summary
func (h *Handler) AuditSummary(w http.ResponseWriter, r *http.Request) {
	days := 0
	if raw := r.URL.Query().Get("days"); raw != "" {
		d, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_error", "days must be an integer")
			return
		}
		days = d
	}

	summary, err := h.auditSvc.Summary(r.Context(), days)
	if err != nil {
		h.log.Error().Err(err).Msg("audit summary failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to build summary")
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// ComplianceReport handles GET /audit/compliance/report
func (h *Handler) ComplianceReport(w http.ResponseWriter, r *http.Request) {
	var start, end time.Time
	if raw := r.URL.Query().Get("startDate"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_error", "invalid startDate")
			return
		}
		start = t
	}
	if raw := r.URL.Query().Get("endDate"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_error", "invalid endDate")
			return
		}
		end = t
	}

	report, err := h.auditSvc.Report(r.Context(), start, end)
	if err != nil {
		if errors.Is(err, repository.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, "validation_error", "startDate must precede endDate")
			return
		}
		h.log.Error().Err(err).Msg("compliance report failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to build compliance report")
		return
	}

	writeJSON(w, http.StatusOK, report)
}
