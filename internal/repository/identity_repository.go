package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/loanguard/loanguard/internal/model"
)

// IdentityRepository handles identity persistence
type IdentityRepository struct {
	q DBTX
}

// NewIdentityRepository creates a new IdentityRepository
func NewIdentityRepository(q DBTX) *IdentityRepository {
	return &IdentityRepository{q: q}
}

const identityColumns = `id, email, password_hash, role, failed_attempts, locked, locked_until, last_login, created_at, updated_at`

// Create inserts a new identity
func (r *IdentityRepository) Create(ctx context.Context, identity *model.Identity) error {
	query := `
		INSERT INTO identities (id, email, password_hash, role, failed_attempts, locked, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.q.ExecContext(ctx, query,
		identity.ID,
		identity.Email,
		identity.PasswordHash,
		identity.Role,
		identity.FailedAttempts,
		identity.Locked,
		identity.CreatedAt,
		identity.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create identity: %w", err)
	}
	return nil
}

// GetByID retrieves an identity by ID
func (r *IdentityRepository) GetByID(ctx context.Context, id string) (*model.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities WHERE id = $1`
	return r.scanIdentity(r.q.QueryRowContext(ctx, query, id))
}

// GetByEmail retrieves an identity by email
func (r *IdentityRepository) GetByEmail(ctx context.Context, email string) (*model.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities WHERE email = $1`
	return r.scanIdentity(r.q.QueryRowContext(ctx, query, email))
}

// RecordFailedAttempt increments the failure counter and sets the lock in a
// single statement. The row lock taken by UPDATE serializes concurrent
// failures on the same identity, so two racing attempts can never both read
// the pre-increment count and miss the lock threshold.
func (r *IdentityRepository) RecordFailedAttempt(ctx context.Context, id string, maxAttempts int, lockedUntil time.Time) (int, *time.Time, error) {
	query := `
		UPDATE identities
		SET failed_attempts = failed_attempts + 1,
		    locked = (failed_attempts + 1 >= $2),
		    locked_until = CASE WHEN failed_attempts + 1 >= $2 THEN $3 ELSE locked_until END,
		    updated_at = now()
		WHERE id = $1
		RETURNING failed_attempts, locked, locked_until
	`
	var attempts int
	var locked bool
	var until sql.NullTime
	err := r.q.QueryRowContext(ctx, query, id, maxAttempts, lockedUntil).Scan(&attempts, &locked, &until)
	if err == sql.ErrNoRows {
		return 0, nil, ErrNotFound
	}
	if err != nil {
		return 0, nil, fmt.Errorf("failed to record failed attempt: %w", err)
	}
	if locked && until.Valid {
		t := until.Time
		return attempts, &t, nil
	}
	return attempts, nil, nil
}

// ClearLock resets the failure counter and removes any lock
func (r *IdentityRepository) ClearLock(ctx context.Context, id string) error {
	query := `
		UPDATE identities
		SET failed_attempts = 0, locked = false, locked_until = NULL, updated_at = now()
		WHERE id = $1
	`
	result, err := r.q.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to clear lock: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordLogin resets the failure counter and stamps last_login
func (r *IdentityRepository) RecordLogin(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE identities
		SET failed_attempts = 0, locked = false, locked_until = NULL, last_login = $2, updated_at = now()
		WHERE id = $1
	`
	result, err := r.q.ExecContext(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("failed to record login: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdatePasswordHash updates the identity's password hash
func (r *IdentityRepository) UpdatePasswordHash(ctx context.Context, id string, hash string) error {
	query := `UPDATE identities SET password_hash = $1, updated_at = now() WHERE id = $2`
	result, err := r.q.ExecContext(ctx, query, hash, id)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

// scanIdentity scans a single identity row
func (r *IdentityRepository) scanIdentity(row *sql.Row) (*model.Identity, error) {
	var identity model.Identity
	var lockedUntil, lastLogin sql.NullTime
	err := row.Scan(
		&identity.ID,
		&identity.Email,
		&identity.PasswordHash,
		&identity.Role,
		&identity.FailedAttempts,
		&identity.Locked,
		&lockedUntil,
		&lastLogin,
		&identity.CreatedAt,
		&identity.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan identity: %w", err)
	}
	if lockedUntil.Valid {
		t := lockedUntil.Time
		identity.LockedUntil = &t
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		identity.LastLogin = &t
	}
	return &identity, nil
}
