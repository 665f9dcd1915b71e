package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/loanguard/loanguard/internal/model"
)

// RiskConfigRepository persists versioned risk configurations. Rows are
// immutable after insert except for the is_active flag.
type RiskConfigRepository struct {
	q DBTX
}

// NewRiskConfigRepository creates a new RiskConfigRepository
func NewRiskConfigRepository(q DBTX) *RiskConfigRepository {
	return &RiskConfigRepository{q: q}
}

const riskConfigColumns = `version, weights, threshold_low, threshold_medium, threshold_high,
	auto_approve_threshold, auto_reject_threshold, require_human_review,
	retention_period_months, is_active, created_by, created_at`

// Create inserts a new configuration, assigning the next version number.
// The version counter is monotonic: the insert computes MAX(version)+1 under
// the statement's snapshot, so versions are unique and increasing.
func (r *RiskConfigRepository) Create(ctx context.Context, cfg *model.RiskConfiguration) error {
	weights, err := json.Marshal(cfg.Weights)
	if err != nil {
		return fmt.Errorf("failed to encode weights: %w", err)
	}

	query := `
		INSERT INTO risk_configurations (` + riskConfigColumns + `)
		SELECT COALESCE(MAX(version), 0) + 1, $1, $2, $3, $4, $5, $6, $7, $8, false, $9, $10
		FROM risk_configurations
		RETURNING version
	`
	err = r.q.QueryRowContext(ctx, query,
		weights,
		cfg.ThresholdLowRisk,
		cfg.ThresholdMediumRisk,
		cfg.ThresholdHighRisk,
		cfg.AutoApproveThreshold,
		cfg.AutoRejectThreshold,
		cfg.RequireHumanReview,
		cfg.RetentionPeriodMonths,
		cfg.CreatedBy,
		cfg.CreatedAt,
	).Scan(&cfg.Version)
	if err != nil {
		return fmt.Errorf("failed to create risk configuration: %w", err)
	}
	cfg.IsActive = false
	return nil
}

// GetActive retrieves the single active configuration
func (r *RiskConfigRepository) GetActive(ctx context.Context) (*model.RiskConfiguration, error) {
	query := `SELECT ` + riskConfigColumns + ` FROM risk_configurations WHERE is_active = true`
	return r.scanConfig(r.q.QueryRowContext(ctx, query))
}

// GetByVersion retrieves a configuration by version
func (r *RiskConfigRepository) GetByVersion(ctx context.Context, version int) (*model.RiskConfiguration, error) {
	query := `SELECT ` + riskConfigColumns + ` FROM risk_configurations WHERE version = $1`
	return r.scanConfig(r.q.QueryRowContext(ctx, query, version))
}

// Activate makes the given version the single active configuration. Run
// inside a transaction so readers observe either the old or the new active
// row, never both and never neither.
func (r *RiskConfigRepository) Activate(ctx context.Context, version int) error {
	if _, err := r.q.ExecContext(ctx,
		`UPDATE risk_configurations SET is_active = false WHERE is_active = true AND version <> $1`, version); err != nil {
		return fmt.Errorf("failed to deactivate previous configuration: %w", err)
	}
	result, err := r.q.ExecContext(ctx,
		`UPDATE risk_configurations SET is_active = true WHERE version = $1`, version)
	if err != nil {
		return fmt.Errorf("failed to activate configuration: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *RiskConfigRepository) scanConfig(row *sql.Row) (*model.RiskConfiguration, error) {
	var cfg model.RiskConfiguration
	var weights []byte
	err := row.Scan(
		&cfg.Version,
		&weights,
		&cfg.ThresholdLowRisk,
		&cfg.ThresholdMediumRisk,
		&cfg.ThresholdHighRisk,
		&cfg.AutoApproveThreshold,
		&cfg.AutoRejectThreshold,
		&cfg.RequireHumanReview,
		&cfg.RetentionPeriodMonths,
		&cfg.IsActive,
		&cfg.CreatedBy,
		&cfg.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan risk configuration: %w", err)
	}
	if err := json.Unmarshal(weights, &cfg.Weights); err != nil {
		return nil, fmt.Errorf("failed to decode weights: %w", err)
	}
	return &cfg, nil
}

// AssessmentRepository persists risk assessments. A record is written once
// per evaluation run; re-evaluations create new records. The only mutation
// is attaching a human review outcome.
type AssessmentRepository struct {
	q DBTX
}

// NewAssessmentRepository creates a new AssessmentRepository
func NewAssessmentRepository(q DBTX) *AssessmentRepository {
	return &AssessmentRepository{q: q}
}

const assessmentColumns = `id, application_id, score, category, verdict, factors, notes,
	confidence, config_version, human_review_required, review_outcome, created_by, created_at`

// Create inserts a new assessment
func (r *AssessmentRepository) Create(ctx context.Context, assessment *model.RiskAssessment) error {
	factors, err := json.Marshal(assessment.Factors)
	if err != nil {
		return fmt.Errorf("failed to encode factors: %w", err)
	}
	notes, err := json.Marshal(assessment.Notes)
	if err != nil {
		return fmt.Errorf("failed to encode notes: %w", err)
	}

	query := `
		INSERT INTO risk_assessments (` + assessmentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULL, $11, $12)
	`
	_, err = r.q.ExecContext(ctx, query,
		assessment.ID,
		assessment.ApplicationID,
		assessment.Score,
		assessment.Category,
		assessment.Verdict,
		factors,
		notes,
		assessment.Confidence,
		assessment.ConfigVersion,
		assessment.HumanReviewRequired,
		assessment.CreatedBy,
		assessment.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create assessment: %w", err)
	}
	return nil
}

// GetByID retrieves an assessment by ID
func (r *AssessmentRepository) GetByID(ctx context.Context, id string) (*model.RiskAssessment, error) {
	query := `SELECT ` + assessmentColumns + ` FROM risk_assessments WHERE id = $1`
	return r.scanAssessment(r.q.QueryRowContext(ctx, query, id))
}

// LatestByApplication retrieves the most recent assessment for an application
func (r *AssessmentRepository) LatestByApplication(ctx context.Context, applicationID string) (*model.RiskAssessment, error) {
	query := `
		SELECT ` + assessmentColumns + ` FROM risk_assessments
		WHERE application_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`
	return r.scanAssessment(r.q.QueryRowContext(ctx, query, applicationID))
}

// RecordReview attaches a human review outcome. Only assessments without an
// existing outcome accept one; the assessment itself stays untouched.
func (r *AssessmentRepository) RecordReview(ctx context.Context, id string, outcome model.ReviewOutcome) error {
	encoded, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("failed to encode review outcome: %w", err)
	}
	result, err := r.q.ExecContext(ctx,
		`UPDATE risk_assessments SET review_outcome = $1 WHERE id = $2 AND review_outcome IS NULL`,
		encoded, id)
	if err != nil {
		return fmt.Errorf("failed to record review: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *AssessmentRepository) scanAssessment(row *sql.Row) (*model.RiskAssessment, error) {
	var assessment model.RiskAssessment
	var factors, notes []byte
	var outcome []byte
	err := row.Scan(
		&assessment.ID,
		&assessment.ApplicationID,
		&assessment.Score,
		&assessment.Category,
		&assessment.Verdict,
		&factors,
		&notes,
		&assessment.Confidence,
		&assessment.ConfigVersion,
		&assessment.HumanReviewRequired,
		&outcome,
		&assessment.CreatedBy,
		&assessment.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan assessment: %w", err)
	}
	if len(factors) > 0 {
		_ = json.Unmarshal(factors, &assessment.Factors)
	}
	if len(notes) > 0 {
		_ = json.Unmarshal(notes, &assessment.Notes)
	}
	if len(outcome) > 0 {
		var ro model.ReviewOutcome
		if err := json.Unmarshal(outcome, &ro); err == nil {
			assessment.ReviewOutcome = &ro
		}
	}
	return &assessment, nil
}
