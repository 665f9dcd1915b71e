package router

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/loanguard/loanguard/internal/auth"
	"github.com/loanguard/loanguard/internal/config"
	"github.com/loanguard/loanguard/internal/handler"
	"github.com/loanguard/loanguard/internal/middleware"
	"github.com/loanguard/loanguard/internal/model"
)

// New creates and configures the HTTP router
func New(h *handler.Handler, mw *middleware.Middleware, cfg *config.Config, issuer *auth.TokenIssuer) http.Handler {
	mux := http.NewServeMux()

	// Health and metrics endpoints (no auth required)
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /ready", h.Ready)
	mux.Handle("GET /metrics", promhttp.Handler())

	// Public authentication routes (rate limited)
	loginRateLimit := mw.RateLimit(middleware.RateLimitConfig{
		Name:   "login",
		Limit:  cfg.Security.RateLimiting.LoginLimit,
		Window: cfg.Security.RateLimiting.LoginWindow,
		KeyFn:  middleware.IPKey,
	})
	refreshRateLimit := mw.RateLimit(middleware.RateLimitConfig{
		Name:   "refresh",
		Limit:  10,
		Window: 1 * time.Minute,
		KeyFn:  middleware.IPKey,
	})

	mux.Handle("POST /auth/login", loginRateLimit(http.HandlerFunc(h.Login)))
	mux.Handle("POST /auth/refresh", refreshRateLimit(http.HandlerFunc(h.Refresh)))

	// Protected routes
	authMw := mw.Auth(issuer)
	officers := mw.RequireRole(model.NewRoleSet(model.RoleLoanOfficer, model.RoleAdmin))
	compliance := mw.RequireRole(model.NewRoleSet(model.RoleComplianceOfficer, model.RoleAdmin))
	admins := mw.RequireRole(model.NewRoleSet(model.RoleAdmin))

	mux.Handle("POST /auth/change-password", authMw(http.HandlerFunc(h.ChangePassword)))

	// Audit ledger (compliance officers and admins)
	mux.Handle("GET /audit/logs", authMw(compliance(http.HandlerFunc(h.AuditLogs))))
	mux.Handle("GET /audit/export", authMw(compliance(http.HandlerFunc(h.AuditExport))))
	mux.Handle("GET /audit/stats/summary", authMw(compliance(http.HandlerFunc(h.AuditSummary))))
	mux.Handle("GET /audit/compliance/report", authMw(compliance(http.HandlerFunc(h.ComplianceReport))))

	// Risk decisioning (loan officers and admins)
	mux.Handle("POST /risk/assessments", authMw(officers(http.HandlerFunc(h.Assess))))
	mux.Handle("GET /risk/assessments/{applicationId}", authMw(officers(http.HandlerFunc(h.LatestAssessment))))
	mux.Handle("POST /risk/assessments/{id}/review", authMw(officers(http.HandlerFunc(h.RecordReview))))

	// Risk configuration (admins only)
	mux.Handle("GET /risk/configs/active", authMw(officers(http.HandlerFunc(h.ActiveConfig))))
	mux.Handle("POST /risk/configs", authMw(admins(http.HandlerFunc(h.CreateConfig))))
	mux.Handle("POST /risk/configs/{version}/activate", authMw(admins(http.HandlerFunc(h.ActivateConfig))))

	// Admin routes
	mux.Handle("POST /admin/identities/{id}/unlock", authMw(admins(http.HandlerFunc(h.UnlockIdentity))))

	// Wrap everything in the common middleware chain (outermost first)
	var root http.Handler = mux
	root = mw.Metrics(root)
	root = mw.Logger(root)
	root = mw.RequestID(root)
	root = mw.Recover(root)

	return root
}
