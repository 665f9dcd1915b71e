package model

import "time"

// RiskCategory classifies a score against the configured thresholds.
type RiskCategory string

const (
	RiskCategoryLow    RiskCategory = "low"
	RiskCategoryMedium RiskCategory = "medium"
	RiskCategoryHigh   RiskCategory = "high"
)

// Verdict is the engine's auto/human-review decision.
type Verdict string

const (
	VerdictAutoApprove Verdict = "auto_approve"
	VerdictAutoReject  Verdict = "auto_reject"
	VerdictHumanReview Verdict = "human_review"
)

// FactorWeight binds a named applicant factor to its configured weight.
// Kept as a slice so the configured ordering survives round trips.
type FactorWeight struct {
	Factor string  `json:"factor"`
	Weight float64 `json:"weight"`
}

// RiskConfiguration is an immutable, versioned bundle of weights and
// thresholds. Exactly one version is active at any instant; activation of a
// new version atomically deactivates the previous one. Only IsActive ever
// changes after creation.
type RiskConfiguration struct {
	Version               int            `json:"version"`
	Weights               []FactorWeight `json:"weights"`
	ThresholdLowRisk      float64        `json:"thresholdLowRisk"`
	ThresholdMediumRisk   float64        `json:"thresholdMediumRisk"`
	ThresholdHighRisk     float64        `json:"thresholdHighRisk"`
	AutoApproveThreshold  float64        `json:"autoApproveThreshold"`
	AutoRejectThreshold   float64        `json:"autoRejectThreshold"`
	RequireHumanReview    bool           `json:"requireHumanReview"`
	RetentionPeriodMonths int            `json:"retentionPeriodMonths"`
	IsActive              bool           `json:"isActive"`
	CreatedBy             string         `json:"createdBy"`
	CreatedAt             time.Time      `json:"createdAt"`
}

// FactorContribution is the explainability record for one factor: the raw
// applicant value, its normalized sub-score, and its signed contribution to
// the final score (negative when the factor depressed it).
type FactorContribution struct {
	Factor       string  `json:"factor"`
	RawValue     float64 `json:"rawValue"`
	SubScore     float64 `json:"subScore"`
	Weight       float64 `json:"weight"`
	Contribution float64 `json:"contribution"`
	Note         string  `json:"note"`
}

// ReviewOutcome records a human reviewer's decision on an assessment.
type ReviewOutcome struct {
	Decision   string    `json:"decision"`
	ReviewerID string    `json:"reviewerId"`
	Comment    string    `json:"comment,omitempty"`
	ReviewedAt time.Time `json:"reviewedAt"`
}

// RiskAssessment is one evaluation run. Historical assessments are never
// mutated; a re-evaluation creates a new record. The only post-creation
// addition is the human review outcome.
type RiskAssessment struct {
	ID                  string               `json:"id"`
	ApplicationID       string               `json:"applicationId"`
	Score               float64              `json:"score"`
	Category            RiskCategory         `json:"category"`
	Verdict             Verdict              `json:"verdict"`
	Factors             []FactorContribution `json:"factors"`
	Notes               []string             `json:"notes,omitempty"`
	Confidence          float64              `json:"confidence"`
	ConfigVersion       int                  `json:"configVersion"`
	HumanReviewRequired bool                 `json:"humanReviewRequired"`
	ReviewOutcome       *ReviewOutcome       `json:"reviewOutcome,omitempty"`
	CreatedBy           string               `json:"createdBy"`
	CreatedAt           time.Time            `json:"createdAt"`
}
