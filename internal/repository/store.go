package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/loanguard/loanguard/internal/database"
	"github.com/loanguard/loanguard/internal/model"
)

// DBTX is the subset of database/sql satisfied by both *sql.DB and *sql.Tx,
// so every repository runs unchanged inside or outside a transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// IdentityStore persists identities and their lockout bookkeeping.
type IdentityStore interface {
	Create(ctx context.Context, identity *model.Identity) error
	GetByID(ctx context.Context, id string) (*model.Identity, error)
	GetByEmail(ctx context.Context, email string) (*model.Identity, error)
	// RecordFailedAttempt atomically increments the failure counter and, if
	// the new count reaches maxAttempts, sets the lock in the same statement.
	// Returns the post-increment count and the lock expiry if one was set.
	RecordFailedAttempt(ctx context.Context, id string, maxAttempts int, lockedUntil time.Time) (int, *time.Time, error)
	// ClearLock resets the failure counter and removes any lock.
	ClearLock(ctx context.Context, id string) error
	// RecordLogin resets the failure counter and stamps last_login.
	RecordLogin(ctx context.Context, id string, at time.Time) error
	UpdatePasswordHash(ctx context.Context, id string, hash string) error
}

// AuditStore is the append-only compliance ledger. No update or delete
// operation exists.
type AuditStore interface {
	Append(ctx context.Context, entry *model.AuditLogEntry) error
	Query(ctx context.Context, filter model.AuditFilter) ([]model.AuditLogEntry, int, error)
	Aggregate(ctx context.Context, start, end time.Time) (*model.AuditSummary, error)
	// Flagged returns the compliance-flagged entries of a date range,
	// newest first, capped at limit.
	Flagged(ctx context.Context, start, end time.Time, limit int) ([]model.AuditLogEntry, error)
}

// RiskConfigStore persists versioned risk configurations.
type RiskConfigStore interface {
	Create(ctx context.Context, cfg *model.RiskConfiguration) error
	GetActive(ctx context.Context) (*model.RiskConfiguration, error)
	GetByVersion(ctx context.Context, version int) (*model.RiskConfiguration, error)
	// Activate flips is_active to the given version, deactivating the
	// previous active version in the same operation.
	Activate(ctx context.Context, version int) error
}

// AssessmentStore persists risk assessments. Assessments are immutable after
// creation except for attaching a human review outcome.
type AssessmentStore interface {
	Create(ctx context.Context, assessment *model.RiskAssessment) error
	GetByID(ctx context.Context, id string) (*model.RiskAssessment, error)
	LatestByApplication(ctx context.Context, applicationID string) (*model.RiskAssessment, error)
	RecordReview(ctx context.Context, id string, outcome model.ReviewOutcome) error
}

// Store bundles the persistence operations the services depend on. InTx runs
// fn against a transaction-bound Store: compliance-critical actions commit
// their state change and audit entry as one unit of work, or not at all.
type Store interface {
	Identities() IdentityStore
	Audit() AuditStore
	RiskConfigs() RiskConfigStore
	Assessments() AssessmentStore
	InTx(ctx context.Context, fn func(Store) error) error
}

// PostgresStore implements Store on top of lib/pq.
type PostgresStore struct {
	db *sql.DB // nil when bound to a transaction

	identities  *IdentityRepository
	audit       *AuditRepository
	riskConfigs *RiskConfigRepository
	assessments *AssessmentRepository
}

// NewStore creates a PostgresStore from the shared connection pool.
func NewStore(db *database.Postgres) *PostgresStore {
	return newStore(db.DB, db.DB)
}

func newStore(db *sql.DB, q DBTX) *PostgresStore {
	return &PostgresStore{
		db:          db,
		identities:  NewIdentityRepository(q),
		audit:       NewAuditRepository(q),
		riskConfigs: NewRiskConfigRepository(q),
		assessments: NewAssessmentRepository(q),
	}
}

func (s *PostgresStore) Identities() IdentityStore    { return s.identities }
func (s *PostgresStore) Audit() AuditStore            { return s.audit }
func (s *PostgresStore) RiskConfigs() RiskConfigStore { return s.riskConfigs }
func (s *PostgresStore) Assessments() AssessmentStore { return s.assessments }

// InTx runs fn inside a database transaction. Nested calls reuse the
// enclosing transaction.
func (s *PostgresStore) InTx(ctx context.Context, fn func(Store) error) error {
	if s.db == nil {
		// Already transaction-bound
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(newStore(nil, tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
