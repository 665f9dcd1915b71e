package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/loanguard/loanguard/internal/ids"
	"github.com/loanguard/loanguard/internal/model"
	"github.com/loanguard/loanguard/internal/repository"
)

// fakeStore is an in-memory Store. InTx snapshots the state before running
// fn and restores it on error, mirroring a database rollback.
type fakeStore struct {
	mu          sync.Mutex
	identities  map[string]model.Identity
	byEmail     map[string]string
	entries     []model.AuditLogEntry
	configs     map[int]model.RiskConfiguration
	assessments map[string]model.RiskAssessment

	failAudit error // when set, Append returns this error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		identities:  make(map[string]model.Identity),
		byEmail:     make(map[string]string),
		configs:     make(map[int]model.RiskConfiguration),
		assessments: make(map[string]model.RiskAssessment),
	}
}

func (f *fakeStore) Identities() repository.IdentityStore    { return &fakeIdentities{f} }
func (f *fakeStore) Audit() repository.AuditStore            { return &fakeAudit{f} }
func (f *fakeStore) RiskConfigs() repository.RiskConfigStore { return &fakeConfigs{f} }
func (f *fakeStore) Assessments() repository.AssessmentStore { return &fakeAssessments{f} }

func (f *fakeStore) InTx(ctx context.Context, fn func(repository.Store) error) error {
	f.mu.Lock()
	snapIdentities := make(map[string]model.Identity, len(f.identities))
	for k, v := range f.identities {
		snapIdentities[k] = v
	}
	snapEntries := append([]model.AuditLogEntry(nil), f.entries...)
	snapConfigs := make(map[int]model.RiskConfiguration, len(f.configs))
	for k, v := range f.configs {
		snapConfigs[k] = v
	}
	snapAssessments := make(map[string]model.RiskAssessment, len(f.assessments))
	for k, v := range f.assessments {
		snapAssessments[k] = v
	}
	f.mu.Unlock()

	if err := fn(f); err != nil {
		f.mu.Lock()
		f.identities = snapIdentities
		f.entries = snapEntries
		f.configs = snapConfigs
		f.assessments = snapAssessments
		f.mu.Unlock()
		return err
	}
	return nil
}

type fakeIdentities struct{ f *fakeStore }

func (r *fakeIdentities) Create(ctx context.Context, identity *model.Identity) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if _, exists := r.f.byEmail[identity.Email]; exists {
		return repository.ErrDuplicate
	}
	r.f.identities[identity.ID] = *identity
	r.f.byEmail[identity.Email] = identity.ID
	return nil
}

func (r *fakeIdentities) GetByID(ctx context.Context, id string) (*model.Identity, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	identity, ok := r.f.identities[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := identity
	return &out, nil
}

func (r *fakeIdentities) GetByEmail(ctx context.Context, email string) (*model.Identity, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	id, ok := r.f.byEmail[email]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := r.f.identities[id]
	return &out, nil
}

func (r *fakeIdentities) RecordFailedAttempt(ctx context.Context, id string, maxAttempts int, lockedUntil time.Time) (int, *time.Time, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	identity, ok := r.f.identities[id]
	if !ok {
		return 0, nil, repository.ErrNotFound
	}
	identity.FailedAttempts++
	var until *time.Time
	if identity.FailedAttempts >= maxAttempts {
		identity.Locked = true
		t := lockedUntil
		identity.LockedUntil = &t
		until = &t
	}
	r.f.identities[id] = identity
	return identity.FailedAttempts, until, nil
}

func (r *fakeIdentities) ClearLock(ctx context.Context, id string) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	identity, ok := r.f.identities[id]
	if !ok {
		return repository.ErrNotFound
	}
	identity.FailedAttempts = 0
	identity.Locked = false
	identity.LockedUntil = nil
	r.f.identities[id] = identity
	return nil
}

func (r *fakeIdentities) RecordLogin(ctx context.Context, id string, at time.Time) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	identity, ok := r.f.identities[id]
	if !ok {
		return repository.ErrNotFound
	}
	identity.FailedAttempts = 0
	identity.Locked = false
	identity.LockedUntil = nil
	t := at
	identity.LastLogin = &t
	r.f.identities[id] = identity
	return nil
}

func (r *fakeIdentities) UpdatePasswordHash(ctx context.Context, id string, hash string) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	identity, ok := r.f.identities[id]
	if !ok {
		return repository.ErrNotFound
	}
	identity.PasswordHash = hash
	r.f.identities[id] = identity
	return nil
}

type fakeAudit struct{ f *fakeStore }

func (r *fakeAudit) Append(ctx context.Context, entry *model.AuditLogEntry) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if r.f.failAudit != nil {
		return r.f.failAudit
	}
	if entry.ID == "" {
		entry.ID = ids.New()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	r.f.entries = append(r.f.entries, *entry)
	return nil
}

func matches(entry model.AuditLogEntry, filter model.AuditFilter) bool {
	if filter.ActorID != "" && entry.ActorID != filter.ActorID {
		return false
	}
	if filter.Action != "" && entry.Action != filter.Action {
		return false
	}
	if filter.EntityType != "" && entry.EntityType != filter.EntityType {
		return false
	}
	if filter.EntityID != "" && entry.EntityID != filter.EntityID {
		return false
	}
	if filter.ApplicationID != "" && (entry.ApplicationID == nil || *entry.ApplicationID != filter.ApplicationID) {
		return false
	}
	if filter.Start != nil && entry.Timestamp.Before(*filter.Start) {
		return false
	}
	if filter.End != nil && entry.Timestamp.After(*filter.End) {
		return false
	}
	return true
}

func (r *fakeAudit) Query(ctx context.Context, filter model.AuditFilter) ([]model.AuditLogEntry, int, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()

	var matched []model.AuditLogEntry
	for _, entry := range r.f.entries {
		if matches(entry, filter) {
			matched = append(matched, entry)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})

	total := len(matched)
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * limit
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func (r *fakeAudit) Aggregate(ctx context.Context, start, end time.Time) (*model.AuditSummary, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()

	summary := &model.AuditSummary{
		Start:       start,
		End:         end,
		ByAction:    make(map[string]int),
		ByRiskLevel: make(map[model.RiskLevel]int),
	}
	for _, entry := range r.f.entries {
		if entry.Timestamp.Before(start) || entry.Timestamp.After(end) {
			continue
		}
		summary.TotalEntries++
		summary.ByAction[entry.Action]++
		summary.ByRiskLevel[entry.RiskLevel]++
		if entry.RiskLevel == model.RiskLevelHigh {
			summary.RecentHighRisk = append(summary.RecentHighRisk, entry)
		}
		if len(entry.ComplianceFlags) > 0 {
			summary.ComplianceFlagged++
		}
	}
	return summary, nil
}

func (r *fakeAudit) Flagged(ctx context.Context, start, end time.Time, limit int) ([]model.AuditLogEntry, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()

	var flagged []model.AuditLogEntry
	for _, entry := range r.f.entries {
		if entry.Timestamp.Before(start) || entry.Timestamp.After(end) {
			continue
		}
		if len(entry.ComplianceFlags) > 0 {
			flagged = append(flagged, entry)
		}
	}
	if limit > 0 && len(flagged) > limit {
		flagged = flagged[:limit]
	}
	return flagged, nil
}

type fakeConfigs struct{ f *fakeStore }

func (r *fakeConfigs) Create(ctx context.Context, cfg *model.RiskConfiguration) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	next := 1
	for v := range r.f.configs {
		if v >= next {
			next = v + 1
		}
	}
	cfg.Version = next
	cfg.IsActive = false
	r.f.configs[next] = *cfg
	return nil
}

func (r *fakeConfigs) GetActive(ctx context.Context) (*model.RiskConfiguration, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	for _, cfg := range r.f.configs {
		if cfg.IsActive {
			out := cfg
			return &out, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeConfigs) GetByVersion(ctx context.Context, version int) (*model.RiskConfiguration, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	cfg, ok := r.f.configs[version]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := cfg
	return &out, nil
}

func (r *fakeConfigs) Activate(ctx context.Context, version int) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if _, ok := r.f.configs[version]; !ok {
		return repository.ErrNotFound
	}
	for v, cfg := range r.f.configs {
		cfg.IsActive = v == version
		r.f.configs[v] = cfg
	}
	return nil
}

type fakeAssessments struct{ f *fakeStore }

func (r *fakeAssessments) Create(ctx context.Context, assessment *model.RiskAssessment) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	r.f.assessments[assessment.ID] = *assessment
	return nil
}

func (r *fakeAssessments) GetByID(ctx context.Context, id string) (*model.RiskAssessment, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	assessment, ok := r.f.assessments[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := assessment
	return &out, nil
}

func (r *fakeAssessments) LatestByApplication(ctx context.Context, applicationID string) (*model.RiskAssessment, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	var latest *model.RiskAssessment
	for _, assessment := range r.f.assessments {
		if assessment.ApplicationID != applicationID {
			continue
		}
		if latest == nil || assessment.CreatedAt.After(latest.CreatedAt) {
			out := assessment
			latest = &out
		}
	}
	if latest == nil {
		return nil, repository.ErrNotFound
	}
	return latest, nil
}

func (r *fakeAssessments) RecordReview(ctx context.Context, id string, outcome model.ReviewOutcome) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	assessment, ok := r.f.assessments[id]
	if !ok || assessment.ReviewOutcome != nil {
		return repository.ErrNotFound
	}
	o := outcome
	assessment.ReviewOutcome = &o
	r.f.assessments[id] = assessment
	return nil
}

// auditCount counts ledger entries with the given action.
func (f *fakeStore) auditCount(action string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, entry := range f.entries {
		if entry.Action == action {
			n++
		}
	}
	return n
}

var errAuditDown = errors.New("audit store unavailable")
