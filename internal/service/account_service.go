package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/loanguard/loanguard/internal/auth"
	"github.com/loanguard/loanguard/internal/config"
	"github.com/loanguard/loanguard/internal/logger"
	"github.com/loanguard/loanguard/internal/model"
	"github.com/loanguard/loanguard/internal/repository"
)

// Common service errors
var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrPasswordTooWeak    = errors.New("password does not meet requirements")
	ErrSamePassword       = errors.New("new password must be different from current password")
	ErrIdentityNotFound   = errors.New("identity not found")
	ErrNotLocked          = errors.New("account is not locked")
)

// AccountLockedError rejects an attempt against a locked account. Until is
// the instant the lock expires, surfaced to the caller so clients can show
// when to retry.
type AccountLockedError struct {
	Until time.Time
}

func (e *AccountLockedError) Error() string {
	return fmt.Sprintf("account is locked until %s", e.Until.UTC().Format(time.RFC3339))
}

// RequestMeta carries per-request context attached to audit entries.
type RequestMeta struct {
	IPAddress string
	UserAgent string
	SessionID string
}

// AccountService owns the account security state machine: credential checks,
// failed-attempt counting, lockout, and the audit entries those produce.
type AccountService struct {
	store       repository.Store
	issuer      *auth.TokenIssuer
	argonParams *auth.Argon2Params
	cfg         *config.Config
	log         *logger.Logger
	now         func() time.Time
}

// AccountOption configures an AccountService.
type AccountOption func(*AccountService)

// WithAccountClock overrides the time source (useful for tests).
func WithAccountClock(fn func() time.Time) AccountOption {
	return func(s *AccountService) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewAccountService creates a new AccountService
func NewAccountService(store repository.Store, issuer *auth.TokenIssuer, cfg *config.Config, log *logger.Logger, opts ...AccountOption) *AccountService {
	s := &AccountService{
		store:  store,
		issuer: issuer,
		argonParams: auth.NewParams(
			cfg.Security.Password.Argon2Memory,
			cfg.Security.Password.Argon2Iterations,
			cfg.Security.Password.Argon2Parallelism,
		),
		cfg: cfg,
		log: log.WithComponent("account_service"),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LoginRequest contains the credentials for a login attempt
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse contains the minted token and the authenticated identity
type LoginResponse struct {
	Token     string          `json:"token"`
	ExpiresAt time.Time       `json:"expiresAt"`
	Identity  *model.Identity `json:"identity"`
}

// Login runs one attempt through the state machine. The lock check happens
// before the credential check, so a locked account rejects even a correct
// password without touching the stored hash. An expired lock is cleared and
// the counter reset before the attempt is evaluated. Failed attempts and
// their audit entries commit together; the attempt that crosses the
// threshold locks the account for the configured window.
func (s *AccountService) Login(ctx context.Context, req LoginRequest, meta RequestMeta) (*LoginResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	now := s.now().UTC()

	identity, err := s.store.Identities().GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to load identity: %w", err)
	}

	if identity.IsLocked(now) {
		return nil, &AccountLockedError{Until: *identity.LockedUntil}
	}

	if identity.Locked {
		// Lock window elapsed: clear row state before evaluating this attempt
		if err := s.store.Identities().ClearLock(ctx, identity.ID); err != nil {
			return nil, fmt.Errorf("failed to clear expired lock: %w", err)
		}
		identity.Locked = false
		identity.LockedUntil = nil
		identity.FailedAttempts = 0
	}

	ok, err := auth.VerifyPassword(req.Password, identity.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("failed to verify password: %w", err)
	}
	if !ok {
		return nil, s.recordFailure(ctx, identity, meta, now)
	}

	err = s.store.InTx(ctx, func(tx repository.Store) error {
		if err := tx.Identities().RecordLogin(ctx, identity.ID, now); err != nil {
			return fmt.Errorf("failed to record login: %w", err)
		}
		return tx.Audit().Append(ctx, &model.AuditLogEntry{
			ActorID:    identity.ID,
			ActorEmail: identity.Email,
			Action:     model.AuditActionLogin,
			EntityType: "identity",
			EntityID:   identity.ID,
			IPAddress:  meta.IPAddress,
			UserAgent:  meta.UserAgent,
			SessionID:  meta.SessionID,
			RiskLevel:  model.RiskLevelLow,
			Timestamp:  now,
		})
	})
	if err != nil {
		return nil, err
	}

	token, expiresAt, err := s.issuer.Mint(identity)
	if err != nil {
		return nil, fmt.Errorf("failed to mint token: %w", err)
	}

	identity.FailedAttempts = 0
	identity.Locked = false
	identity.LockedUntil = nil
	identity.LastLogin = &now

	s.log.Info().Str("identity_id", identity.ID).Msg("login succeeded")
	return &LoginResponse{Token: token, ExpiresAt: expiresAt, Identity: identity}, nil
}

// recordFailure commits the incremented counter and its audit entry as one
// unit; if the audit append fails the counter does not advance. Returns the
// error the caller should surface.
func (s *AccountService) recordFailure(ctx context.Context, identity *model.Identity, meta RequestMeta, now time.Time) error {
	maxAttempts := s.cfg.Security.Lockout.MaxAttempts
	lockUntil := now.Add(s.cfg.Security.Lockout.LockDuration)

	var attempts int
	var lockedUntil *time.Time
	err := s.store.InTx(ctx, func(tx repository.Store) error {
		var err error
		attempts, lockedUntil, err = tx.Identities().RecordFailedAttempt(ctx, identity.ID, maxAttempts, lockUntil)
		if err != nil {
			return fmt.Errorf("failed to record failed attempt: %w", err)
		}

		entry := &model.AuditLogEntry{
			ActorID:    identity.ID,
			ActorEmail: identity.Email,
			Action:     model.AuditActionFailedLogin,
			EntityType: "identity",
			EntityID:   identity.ID,
			Changes:    map[string]any{"failedAttempts": attempts},
			IPAddress:  meta.IPAddress,
			UserAgent:  meta.UserAgent,
			SessionID:  meta.SessionID,
			RiskLevel:  model.RiskLevelMedium,
			Timestamp:  now,
		}
		if lockedUntil != nil {
			entry.RiskLevel = model.RiskLevelHigh
			entry.ComplianceFlags = []string{model.ComplianceFlagAccountLocked}
			entry.Changes["lockedUntil"] = lockedUntil.UTC().Format(time.RFC3339)
		}
		return tx.Audit().Append(ctx, entry)
	})
	if err != nil {
		return err
	}

	if lockedUntil != nil {
		s.log.Warn().
			Str("identity_id", identity.ID).
			Int("failed_attempts", attempts).
			Time("locked_until", *lockedUntil).
			Msg("account locked after repeated failures")
		return &AccountLockedError{Until: *lockedUntil}
	}
	return ErrInvalidCredentials
}

// Refresh mints a fresh token from a still-valid one. No password re-check;
// the identity must still exist and must not be locked. The audit entry is
// best effort because no state changed.
func (s *AccountService) Refresh(ctx context.Context, tokenString string, meta RequestMeta) (*LoginResponse, error) {
	claims, err := s.issuer.Verify(tokenString)
	if err != nil {
		return nil, err
	}

	identity, err := s.store.Identities().GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, auth.ErrTokenInvalid
		}
		return nil, fmt.Errorf("failed to load identity: %w", err)
	}

	now := s.now().UTC()
	if identity.IsLocked(now) {
		return nil, &AccountLockedError{Until: *identity.LockedUntil}
	}

	token, expiresAt, err := s.issuer.Mint(identity)
	if err != nil {
		return nil, fmt.Errorf("failed to mint token: %w", err)
	}

	if err := s.store.Audit().Append(ctx, &model.AuditLogEntry{
		ActorID:    identity.ID,
		ActorEmail: identity.Email,
		Action:     model.AuditActionTokenRefresh,
		EntityType: "identity",
		EntityID:   identity.ID,
		IPAddress:  meta.IPAddress,
		UserAgent:  meta.UserAgent,
		SessionID:  meta.SessionID,
		RiskLevel:  model.RiskLevelLow,
		Timestamp:  now,
	}); err != nil {
		s.log.Warn().Err(err).Str("identity_id", identity.ID).Msg("failed to audit token refresh")
	}

	return &LoginResponse{Token: token, ExpiresAt: expiresAt, Identity: identity}, nil
}

// ChangePassword verifies the current password, applies the policy to the new
// one, and commits the hash swap together with its audit entry.
func (s *AccountService) ChangePassword(ctx context.Context, identityID, currentPassword, newPassword string, meta RequestMeta) error {
	identity, err := s.store.Identities().GetByID(ctx, identityID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrIdentityNotFound
		}
		return fmt.Errorf("failed to load identity: %w", err)
	}

	ok, err := auth.VerifyPassword(currentPassword, identity.PasswordHash)
	if err != nil {
		return fmt.Errorf("failed to verify password: %w", err)
	}
	if !ok {
		return ErrInvalidCredentials
	}

	if err := auth.ValidatePassword(newPassword, s.cfg.Security.Password.MinLength); err != nil {
		return fmt.Errorf("%w: %s", ErrPasswordTooWeak, err.Error())
	}
	if newPassword == currentPassword {
		return ErrSamePassword
	}

	hash, err := auth.HashPassword(newPassword, s.argonParams)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now().UTC()
	return s.store.InTx(ctx, func(tx repository.Store) error {
		if err := tx.Identities().UpdatePasswordHash(ctx, identity.ID, hash); err != nil {
			return fmt.Errorf("failed to update password: %w", err)
		}
		return tx.Audit().Append(ctx, &model.AuditLogEntry{
			ActorID:    identity.ID,
			ActorEmail: identity.Email,
			Action:     model.AuditActionPasswordChange,
			EntityType: "identity",
			EntityID:   identity.ID,
			IPAddress:  meta.IPAddress,
			UserAgent:  meta.UserAgent,
			SessionID:  meta.SessionID,
			RiskLevel:  model.RiskLevelMedium,
			Timestamp:  now,
		})
	})
}

// AdminUnlock clears a lock ahead of its expiry. Manual unlocks are
// compliance-flagged so reviewers can audit who short-circuited the window.
func (s *AccountService) AdminUnlock(ctx context.Context, targetID string, actor *auth.TokenClaims, meta RequestMeta) error {
	target, err := s.store.Identities().GetByID(ctx, targetID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrIdentityNotFound
		}
		return fmt.Errorf("failed to load identity: %w", err)
	}

	now := s.now().UTC()
	if !target.Locked {
		return ErrNotLocked
	}

	previous := map[string]any{
		"failedAttempts": target.FailedAttempts,
		"locked":         true,
	}
	if target.LockedUntil != nil {
		previous["lockedUntil"] = target.LockedUntil.UTC().Format(time.RFC3339)
	}

	return s.store.InTx(ctx, func(tx repository.Store) error {
		if err := tx.Identities().ClearLock(ctx, target.ID); err != nil {
			return fmt.Errorf("failed to clear lock: %w", err)
		}
		return tx.Audit().Append(ctx, &model.AuditLogEntry{
			ActorID:         actor.Subject,
			ActorEmail:      actor.Email,
			Action:          model.AuditActionAccountUnlock,
			EntityType:      "identity",
			EntityID:        target.ID,
			Changes:         map[string]any{"locked": false, "failedAttempts": 0},
			PreviousValues:  previous,
			IPAddress:       meta.IPAddress,
			UserAgent:       meta.UserAgent,
			SessionID:       meta.SessionID,
			RiskLevel:       model.RiskLevelHigh,
			ComplianceFlags: []string{model.ComplianceFlagManualUnlock},
			Timestamp:       now,
		})
	})
}
