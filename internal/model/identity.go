package model

import (
	"time"
)

// Role identifies what an identity is allowed to do.
type Role string

const (
	RoleLoanOfficer       Role = "LOAN_OFFICER"
	RoleComplianceOfficer Role = "COMPLIANCE_OFFICER"
	RoleAdmin             Role = "ADMIN"
)

// Identity represents an authenticated actor (loan officer, compliance
// officer, admin). Lockout bookkeeping lives on the row itself and is only
// ever mutated by the account service.
type Identity struct {
	ID             string     `json:"id"`
	Email          string     `json:"email"`
	PasswordHash   string     `json:"-"` // never expose password hash
	Role           Role       `json:"role"`
	FailedAttempts int        `json:"-"`
	Locked         bool       `json:"-"`
	LockedUntil    *time.Time `json:"-"`
	LastLogin      *time.Time `json:"lastLogin,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// IsLocked reports whether the lock is still in force at the given instant.
// A lock whose window has elapsed is treated as expired; the account service
// clears the row state on the next attempt.
func (i *Identity) IsLocked(now time.Time) bool {
	if !i.Locked || i.LockedUntil == nil {
		return false
	}
	return now.Before(*i.LockedUntil)
}

// RoleSet is an explicit allowed-role set for authorization checks.
type RoleSet map[Role]struct{}

// NewRoleSet builds a RoleSet from the given roles.
func NewRoleSet(roles ...Role) RoleSet {
	set := make(RoleSet, len(roles))
	for _, r := range roles {
		set[r] = struct{}{}
	}
	return set
}

// Contains reports whether role is a member of the set.
func (s RoleSet) Contains(role Role) bool {
	_, ok := s[role]
	return ok
}

// Roles returns the members in a stable, declaration-independent order.
func (s RoleSet) Roles() []Role {
	out := make([]Role, 0, len(s))
	for _, r := range []Role{RoleLoanOfficer, RoleComplianceOfficer, RoleAdmin} {
		if _, ok := s[r]; ok {
			out = append(out, r)
		}
	}
	return out
}
