package domain

import (
	"errors"
	"slices"
	"time"
)

var ErrLastRole = errors.New("account must retain at least one role")

// Account is the aggregate root for a resource owner. Accounts are never
// physically deleted, only marked Deleted. Version is the optimistic
// concurrency counter; every persisted mutation bumps it and a stale writer
// loses with a version conflict.
type Account struct {
	ID            string
	Username      string
	Email         string
	PasswordHash  string // argon2 encoded
	RoleIDs       []string
	EmailVerified bool
	Deleted       bool
	MFA           MFAState
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// AddRole appends a role if not already present.
func (a *Account) AddRole(roleID string) {
	if slices.Contains(a.RoleIDs, roleID) {
		return
	}
	a.RoleIDs = append(a.RoleIDs, roleID)
}

// RemoveRole drops a role. An account must always hold at least one role.
func (a *Account) RemoveRole(roleID string) error {
	idx := slices.Index(a.RoleIDs, roleID)
	if idx < 0 {
		return nil
	}
	if len(a.RoleIDs) == 1 {
		return ErrLastRole
	}
	a.RoleIDs = slices.Delete(a.RoleIDs, idx, idx+1)
	return nil
}
