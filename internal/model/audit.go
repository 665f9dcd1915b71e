package model

import "time"

// RiskLevel grades how security-sensitive an audited action is.
type RiskLevel string

const (
	RiskLevelLow    RiskLevel = "low"
	RiskLevelMedium RiskLevel = "medium"
	RiskLevelHigh   RiskLevel = "high"
)

// Audit action constants
const (
	AuditActionLogin           = "LOGIN"
	AuditActionFailedLogin     = "FAILED_LOGIN"
	AuditActionTokenRefresh    = "TOKEN_REFRESH"
	AuditActionPasswordChange  = "PASSWORD_CHANGE"
	AuditActionAccountUnlock   = "ACCOUNT_UNLOCK"
	AuditActionRiskAssessment  = "RISK_ASSESSMENT"
	AuditActionRiskReview      = "RISK_REVIEW"
	AuditActionConfigCreated   = "RISK_CONFIG_CREATED"
	AuditActionConfigActivated = "RISK_CONFIG_ACTIVATED"
)

// Compliance flags attached by callers at append time. The ledger stores
// them verbatim and never derives its own.
const (
	ComplianceFlagAccountLocked    = "ACCOUNT_LOCKED"
	ComplianceFlagManualUnlock     = "MANUAL_UNLOCK"
	ComplianceFlagDecisionOverride = "DECISION_OVERRIDE"
)

// AuditLogEntry is one append-only record of a security- or decision-relevant
// action. Entries are never updated or deleted.
type AuditLogEntry struct {
	ID              string         `json:"id"`
	ActorID         string         `json:"actorId"`
	ActorEmail      string         `json:"actorEmail"`
	Action          string         `json:"action"`
	EntityType      string         `json:"entityType"`
	EntityID        string         `json:"entityId"`
	Changes         map[string]any `json:"changes,omitempty"`
	PreviousValues  map[string]any `json:"previousValues,omitempty"`
	IPAddress       string         `json:"ipAddress"`
	UserAgent       string         `json:"userAgent"`
	SessionID       string         `json:"sessionId,omitempty"`
	RiskLevel       RiskLevel      `json:"riskLevel"`
	ComplianceFlags []string       `json:"complianceFlags,omitempty"`
	ApplicationID   *string        `json:"applicationId,omitempty"`
	Timestamp       time.Time      `json:"timestamp"`
}

// AuditFilter narrows an audit query. Zero values mean "no constraint".
type AuditFilter struct {
	ActorID       string
	Action        string
	EntityType    string
	EntityID      string
	ApplicationID string
	Start         *time.Time
	End           *time.Time
	Page          int
	Limit         int
}

// AuditSummary is a read-only rollup over a date range.
type AuditSummary struct {
	Start             time.Time              `json:"startDate"`
	End               time.Time              `json:"endDate"`
	TotalEntries      int                    `json:"totalEntries"`
	ByAction          map[string]int         `json:"byAction"`
	ByRiskLevel       map[RiskLevel]int      `json:"byRiskLevel"`
	RecentHighRisk    []AuditLogEntry        `json:"recentHighRisk"`
	ComplianceFlagged int                    `json:"complianceFlagged"`
}
