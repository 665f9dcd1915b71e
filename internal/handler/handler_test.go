package handler

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/loanguard/loanguard/internal/auth"
	"github.com/loanguard/loanguard/internal/config"
	"github.com/loanguard/loanguard/internal/logger"
	"github.com/loanguard/loanguard/internal/model"
	"github.com/loanguard/loanguard/internal/repository"
	"github.com/loanguard/loanguard/internal/service"
)

// stubStore is a minimal in-memory Store for handler tests: one identity and
// a flat list of ledger entries. Risk stores are not backed; handler tests
// that need them live with the services.
type stubStore struct {
	identity *model.Identity
	entries  []model.AuditLogEntry
}

func (s *stubStore) Identities() repository.IdentityStore    { return &stubIdentities{s} }
func (s *stubStore) Audit() repository.AuditStore            { return &stubAudit{s} }
func (s *stubStore) RiskConfigs() repository.RiskConfigStore { return nil }
func (s *stubStore) Assessments() repository.AssessmentStore { return nil }

func (s *stubStore) InTx(ctx context.Context, fn func(repository.Store) error) error {
	return fn(s)
}

type stubIdentities struct{ s *stubStore }

func (r *stubIdentities) Create(ctx context.Context, identity *model.Identity) error {
	r.s.identity = identity
	return nil
}

func (r *stubIdentities) GetByID(ctx context.Context, id string) (*model.Identity, error) {
	if r.s.identity == nil || r.s.identity.ID != id {
		return nil, repository.ErrNotFound
	}
	out := *r.s.identity
	return &out, nil
}

func (r *stubIdentities) GetByEmail(ctx context.Context, email string) (*model.Identity, error) {
	if r.s.identity == nil || r.s.identity.Email != email {
		return nil, repository.ErrNotFound
	}
	out := *r.s.identity
	return &out, nil
}

func (r *stubIdentities) RecordFailedAttempt(ctx context.Context, id string, maxAttempts int, lockedUntil time.Time) (int, *time.Time, error) {
	return 0, nil, repository.ErrNotFound
}

func (r *stubIdentities) ClearLock(ctx context.Context, id string) error { return nil }

func (r *stubIdentities) RecordLogin(ctx context.Context, id string, at time.Time) error {
	return nil
}

func (r *stubIdentities) UpdatePasswordHash(ctx context.Context, id string, hash string) error {
	return nil
}

type stubAudit struct{ s *stubStore }

func (r *stubAudit) Append(ctx context.Context, entry *model.AuditLogEntry) error {
	r.s.entries = append(r.s.entries, *entry)
	return nil
}

func (r *stubAudit) Query(ctx context.Context, filter model.AuditFilter) ([]model.AuditLogEntry, int, error) {
	var matched []model.AuditLogEntry
	for _, entry := range r.s.entries {
		if filter.ActorID != "" && entry.ActorID != filter.ActorID {
			continue
		}
		matched = append(matched, entry)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})
	total := len(matched)
	if filter.Page > 1 {
		matched = nil
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, total, nil
}

func (r *stubAudit) Aggregate(ctx context.Context, start, end time.Time) (*model.AuditSummary, error) {
	return &model.AuditSummary{Start: start, End: end}, nil
}

func (r *stubAudit) Flagged(ctx context.Context, start, end time.Time, limit int) ([]model.AuditLogEntry, error) {
	return nil, nil
}

func handlerConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Security.Password.MinLength = 8
	cfg.Security.Password.Argon2Memory = 8 * 1024
	cfg.Security.Password.Argon2Iterations = 1
	cfg.Security.Password.Argon2Parallelism = 1
	cfg.Security.Tokens.Secret = "test-secret-0123456789"
	cfg.Security.Tokens.Issuer = "loanguard-test"
	cfg.Security.Tokens.TTL = time.Hour
	cfg.Security.Lockout.MaxAttempts = 5
	cfg.Security.Lockout.LockDuration = 30 * time.Minute
	return cfg
}

func newHandlerFixture(t *testing.T, store repository.Store) (*Handler, *auth.TokenIssuer) {
	t.Helper()

	cfg := handlerConfig()
	issuer, err := auth.NewTokenIssuer(cfg.Security.Tokens)
	if err != nil {
		t.Fatalf("failed to create issuer: %v", err)
	}

	log := logger.New("disabled", "json")
	accountSvc := service.NewAccountService(store, issuer, cfg, log)
	riskSvc := service.NewRiskService(store, log)
	auditSvc := service.NewAuditService(store, log)
	return New(nil, nil, log, cfg, accountSvc, riskSvc, auditSvc), issuer
}
