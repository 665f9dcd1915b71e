package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/loanguard/loanguard/internal/auth"
	"github.com/loanguard/loanguard/internal/logger"
	"github.com/loanguard/loanguard/internal/model"
	"github.com/loanguard/loanguard/internal/repository"
	"github.com/loanguard/loanguard/internal/risk"
)

// Risk service errors
var (
	ErrAssessmentNotFound    = errors.New("assessment not found")
	ErrConfigNotFound        = errors.New("risk configuration not found")
	ErrAlreadyReviewed       = errors.New("assessment has already been reviewed")
	ErrInvalidReviewDecision = errors.New("review decision must be approve or reject")
)

// RiskService runs evaluations against the active configuration and persists
// the results. The active configuration is cached behind an atomic pointer:
// readers always see exactly one configuration, before or after a swap, never
// a torn state.
type RiskService struct {
	store  repository.Store
	log    *logger.Logger
	now    func() time.Time
	active atomic.Pointer[model.RiskConfiguration]
}

// RiskOption configures a RiskService.
type RiskOption func(*RiskService)

// WithRiskClock overrides the time source (useful for tests).
func WithRiskClock(fn func() time.Time) RiskOption {
	return func(s *RiskService) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewRiskService creates a new RiskService
func NewRiskService(store repository.Store, log *logger.Logger, opts ...RiskOption) *RiskService {
	s := &RiskService{
		store: store,
		log:   log.WithComponent("risk_service"),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ActiveConfig returns the configuration evaluations run against, loading it
// from the store on first use.
func (s *RiskService) ActiveConfig(ctx context.Context) (*model.RiskConfiguration, error) {
	if cfg := s.active.Load(); cfg != nil {
		return cfg, nil
	}
	cfg, err := s.store.RiskConfigs().GetActive(ctx)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, risk.ErrNoActiveConfig
		}
		return nil, fmt.Errorf("failed to load active configuration: %w", err)
	}
	s.active.Store(cfg)
	return cfg, nil
}

// EvaluateRequest carries one application's factor values
type EvaluateRequest struct {
	ApplicationID string             `json:"applicationId"`
	Factors       map[string]float64 `json:"factors"`
}

// Evaluate runs the engine against the active configuration and persists the
// assessment together with its audit entry. A repeated evaluation creates a
// new assessment; history is never rewritten.
func (s *RiskService) Evaluate(ctx context.Context, req EvaluateRequest, actor *auth.TokenClaims, meta RequestMeta) (*model.RiskAssessment, error) {
	if req.ApplicationID == "" {
		return nil, fmt.Errorf("%w: application id is required", repository.ErrInvalidInput)
	}

	cfg, err := s.ActiveConfig(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	assessment, err := risk.Evaluate(req.Factors, cfg, now)
	if err != nil {
		return nil, err
	}
	assessment.ID = uuid.New().String()
	assessment.ApplicationID = req.ApplicationID
	assessment.CreatedBy = actor.Subject

	err = s.store.InTx(ctx, func(tx repository.Store) error {
		if err := tx.Assessments().Create(ctx, assessment); err != nil {
			return fmt.Errorf("failed to persist assessment: %w", err)
		}
		return tx.Audit().Append(ctx, &model.AuditLogEntry{
			ActorID:    actor.Subject,
			ActorEmail: actor.Email,
			Action:     model.AuditActionRiskAssessment,
			EntityType: "risk_assessment",
			EntityID:   assessment.ID,
			Changes: map[string]any{
				"score":         assessment.Score,
				"category":      string(assessment.Category),
				"verdict":       string(assessment.Verdict),
				"configVersion": assessment.ConfigVersion,
			},
			IPAddress:     meta.IPAddress,
			UserAgent:     meta.UserAgent,
			SessionID:     meta.SessionID,
			RiskLevel:     auditLevelFor(assessment.Category),
			ApplicationID: &req.ApplicationID,
			Timestamp:     now,
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("application_id", req.ApplicationID).
		Float64("score", assessment.Score).
		Str("verdict", string(assessment.Verdict)).
		Int("config_version", assessment.ConfigVersion).
		Msg("application assessed")
	return assessment, nil
}

// LatestAssessment returns the most recent assessment for an application.
func (s *RiskService) LatestAssessment(ctx context.Context, applicationID string) (*model.RiskAssessment, error) {
	assessment, err := s.store.Assessments().LatestByApplication(ctx, applicationID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrAssessmentNotFound
		}
		return nil, fmt.Errorf("failed to load assessment: %w", err)
	}
	return assessment, nil
}

// RecordReview attaches a human reviewer's decision to an assessment. The
// assessment itself never changes; a decision that contradicts the engine's
// verdict is compliance-flagged as an override.
func (s *RiskService) RecordReview(ctx context.Context, assessmentID, decision, comment string, actor *auth.TokenClaims, meta RequestMeta) (*model.RiskAssessment, error) {
	if decision != "approve" && decision != "reject" {
		return nil, ErrInvalidReviewDecision
	}

	assessment, err := s.store.Assessments().GetByID(ctx, assessmentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrAssessmentNotFound
		}
		return nil, fmt.Errorf("failed to load assessment: %w", err)
	}
	if assessment.ReviewOutcome != nil {
		return nil, ErrAlreadyReviewed
	}

	now := s.now().UTC()
	outcome := model.ReviewOutcome{
		Decision:   decision,
		ReviewerID: actor.Subject,
		Comment:    comment,
		ReviewedAt: now,
	}

	override := (assessment.Verdict == model.VerdictAutoApprove && decision == "reject") ||
		(assessment.Verdict == model.VerdictAutoReject && decision == "approve")

	err = s.store.InTx(ctx, func(tx repository.Store) error {
		if err := tx.Assessments().RecordReview(ctx, assessmentID, outcome); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrAlreadyReviewed
			}
			return fmt.Errorf("failed to record review: %w", err)
		}

		entry := &model.AuditLogEntry{
			ActorID:    actor.Subject,
			ActorEmail: actor.Email,
			Action:     model.AuditActionRiskReview,
			EntityType: "risk_assessment",
			EntityID:   assessmentID,
			Changes: map[string]any{
				"decision": decision,
				"verdict":  string(assessment.Verdict),
			},
			IPAddress:     meta.IPAddress,
			UserAgent:     meta.UserAgent,
			SessionID:     meta.SessionID,
			RiskLevel:     model.RiskLevelMedium,
			ApplicationID: &assessment.ApplicationID,
			Timestamp:     now,
		}
		if override {
			entry.RiskLevel = model.RiskLevelHigh
			entry.ComplianceFlags = []string{model.ComplianceFlagDecisionOverride}
		}
		return tx.Audit().Append(ctx, entry)
	})
	if err != nil {
		return nil, err
	}

	assessment.ReviewOutcome = &outcome
	return assessment, nil
}

// CreateConfig validates and persists a new configuration version. The new
// version is created inactive; activation is a separate, explicit step.
func (s *RiskService) CreateConfig(ctx context.Context, cfg *model.RiskConfiguration, actor *auth.TokenClaims, meta RequestMeta) (*model.RiskConfiguration, error) {
	if err := risk.ValidateConfig(cfg); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	cfg.CreatedBy = actor.Subject
	cfg.CreatedAt = now
	cfg.IsActive = false

	err := s.store.InTx(ctx, func(tx repository.Store) error {
		if err := tx.RiskConfigs().Create(ctx, cfg); err != nil {
			return fmt.Errorf("failed to create configuration: %w", err)
		}
		return tx.Audit().Append(ctx, &model.AuditLogEntry{
			ActorID:    actor.Subject,
			ActorEmail: actor.Email,
			Action:     model.AuditActionConfigCreated,
			EntityType: "risk_configuration",
			EntityID:   fmt.Sprintf("v%d", cfg.Version),
			Changes:    map[string]any{"version": cfg.Version},
			IPAddress:  meta.IPAddress,
			UserAgent:  meta.UserAgent,
			SessionID:  meta.SessionID,
			RiskLevel:  model.RiskLevelMedium,
			Timestamp:  now,
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Int("version", cfg.Version).Msg("risk configuration created")
	return cfg, nil
}

// ActivateConfig atomically swaps the active configuration to the given
// version. The previous version is deactivated in the same transaction, then
// the in-memory cache is swapped so evaluations pick up the new version.
func (s *RiskService) ActivateConfig(ctx context.Context, version int, actor *auth.TokenClaims, meta RequestMeta) (*model.RiskConfiguration, error) {
	cfg, err := s.store.RiskConfigs().GetByVersion(ctx, version)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrConfigNotFound
		}
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	now := s.now().UTC()
	err = s.store.InTx(ctx, func(tx repository.Store) error {
		if err := tx.RiskConfigs().Activate(ctx, version); err != nil {
			return fmt.Errorf("failed to activate configuration: %w", err)
		}
		return tx.Audit().Append(ctx, &model.AuditLogEntry{
			ActorID:    actor.Subject,
			ActorEmail: actor.Email,
			Action:     model.AuditActionConfigActivated,
			EntityType: "risk_configuration",
			EntityID:   fmt.Sprintf("v%d", version),
			Changes:    map[string]any{"version": version, "isActive": true},
			IPAddress:  meta.IPAddress,
			UserAgent:  meta.UserAgent,
			SessionID:  meta.SessionID,
			RiskLevel:  model.RiskLevelMedium,
			Timestamp:  now,
		})
	})
	if err != nil {
		return nil, err
	}

	cfg.IsActive = true
	s.active.Store(cfg)

	s.log.Info().Int("version", version).Msg("risk configuration activated")
	return cfg, nil
}

// auditLevelFor maps an assessment category onto the ledger's risk grading.
func auditLevelFor(category model.RiskCategory) model.RiskLevel {
	switch category {
	case model.RiskCategoryHigh:
		return model.RiskLevelHigh
	case model.RiskCategoryMedium:
		return model.RiskLevelMedium
	default:
		return model.RiskLevelLow
	}
}
