package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/loanguard/loanguard/internal/auth"
	"github.com/loanguard/loanguard/internal/config"
	"github.com/loanguard/loanguard/internal/logger"
	"github.com/loanguard/loanguard/internal/model"
)

func testMiddleware() *Middleware {
	cfg := &config.Config{}
	cfg.Security.RateLimiting.Enabled = true
	return New(nil, logger.New("disabled", "json"), cfg)
}

func testIssuer(t *testing.T, opts ...auth.IssuerOption) *auth.TokenIssuer {
	t.Helper()
	issuer, err := auth.NewTokenIssuer(config.TokenConfig{
		Secret: "test-secret-0123456789",
		Issuer: "loanguard-test",
		TTL:    time.Hour,
	}, opts...)
	if err != nil {
		t.Fatalf("failed to create issuer: %v", err)
	}
	return issuer
}

func mintToken(t *testing.T, issuer *auth.TokenIssuer, role model.Role) string {
	t.Helper()
	token, _, err := issuer.Mint(&model.Identity{
		ID:    "id-1",
		Email: "officer@example.com",
		Role:  role,
	})
	if err != nil {
		t.Fatalf("failed to mint token: %v", err)
	}
	return token
}

func okHandler(called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		w.WriteHeader(http.StatusOK)
	})
}

type errorBody struct {
	Error struct {
		Code          string       `json:"code"`
		Message       string       `json:"message"`
		RequiredRoles []model.Role `json:"requiredRoles"`
		ActualRole    model.Role   `json:"actualRole"`
	} `json:"error"`
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	return body
}

func TestAuthRejectsMissingToken(t *testing.T) {
	m := testMiddleware()
	issuer := testIssuer(t)

	called := false
	handler := m.Auth(issuer)(okHandler(&called))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit/logs", nil))

	if called {
		t.Fatalf("handler must not run without a token")
	}
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if body := decodeError(t, rec); body.Error.Code != "unauthorized" {
		t.Fatalf("unexpected error code %q", body.Error.Code)
	}
}

func TestAuthRejectsMalformedToken(t *testing.T) {
	m := testMiddleware()
	issuer := testIssuer(t)

	called := false
	handler := m.Auth(issuer)(okHandler(&called))

	req := httptest.NewRequest(http.MethodGet, "/audit/logs", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if called || rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (called=%v)", rec.Code, called)
	}
	if body := decodeError(t, rec); body.Error.Code != "token_invalid" {
		t.Fatalf("unexpected error code %q", body.Error.Code)
	}
}

func TestAuthRejectsExpiredToken(t *testing.T) {
	m := testMiddleware()

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	past := testIssuer(t, auth.WithClock(func() time.Time { return base }))
	token := mintToken(t, past, model.RoleLoanOfficer)

	// Same secret, clock two hours later
	later := testIssuer(t, auth.WithClock(func() time.Time { return base.Add(2 * time.Hour) }))

	called := false
	handler := m.Auth(later)(okHandler(&called))

	req := httptest.NewRequest(http.MethodGet, "/audit/logs", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if called || rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (called=%v)", rec.Code, called)
	}
	if body := decodeError(t, rec); body.Error.Code != "token_expired" {
		t.Fatalf("unexpected error code %q", body.Error.Code)
	}
}

func TestAuthAttachesClaims(t *testing.T) {
	m := testMiddleware()
	issuer := testIssuer(t)
	token := mintToken(t, issuer, model.RoleLoanOfficer)

	var got *auth.TokenClaims
	handler := m.Auth(issuer)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetClaims(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/audit/logs", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if got == nil || got.Subject != "id-1" || got.Role != model.RoleLoanOfficer {
		t.Fatalf("unexpected claims: %+v", got)
	}
}

func TestRequireRoleForbidsWrongRole(t *testing.T) {
	m := testMiddleware()
	issuer := testIssuer(t)
	token := mintToken(t, issuer, model.RoleLoanOfficer)

	compliance := model.NewRoleSet(model.RoleComplianceOfficer, model.RoleAdmin)
	called := false
	handler := m.Auth(issuer)(m.RequireRole(compliance)(okHandler(&called)))

	req := httptest.NewRequest(http.MethodGet, "/audit/logs", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if called || rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d (called=%v)", rec.Code, called)
	}
	body := decodeError(t, rec)
	if body.Error.Code != "forbidden" {
		t.Fatalf("unexpected error code %q", body.Error.Code)
	}
	if body.Error.ActualRole != model.RoleLoanOfficer {
		t.Fatalf("expected actual role in payload, got %q", body.Error.ActualRole)
	}
	want := []model.Role{model.RoleComplianceOfficer, model.RoleAdmin}
	if len(body.Error.RequiredRoles) != len(want) {
		t.Fatalf("unexpected required roles: %v", body.Error.RequiredRoles)
	}
	for i, role := range want {
		if body.Error.RequiredRoles[i] != role {
			t.Fatalf("unexpected required roles: %v", body.Error.RequiredRoles)
		}
	}
}

func TestRequireRoleAllowsMember(t *testing.T) {
	m := testMiddleware()
	issuer := testIssuer(t)
	token := mintToken(t, issuer, model.RoleAdmin)

	admins := model.NewRoleSet(model.RoleAdmin)
	called := false
	handler := m.Auth(issuer)(m.RequireRole(admins)(okHandler(&called)))

	req := httptest.NewRequest(http.MethodPost, "/admin/identities/id-2/unlock", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !called || rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (called=%v)", rec.Code, called)
	}
}

func TestOptionalAuthPassesAnonymous(t *testing.T) {
	m := testMiddleware()
	issuer := testIssuer(t)

	var got *auth.TokenClaims
	handler := m.OptionalAuth(issuer)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetClaims(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if got != nil {
		t.Fatalf("expected anonymous request, got claims %+v", got)
	}
}
