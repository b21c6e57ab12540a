package service

import (
	"context"
	"time"

	"github.com/quollsec/warden/internal/auth/domain"
	"github.com/quollsec/warden/internal/auth/store"
)

// AccountService exposes the read side of accounts for the userinfo route
// and the gate's collaborators. Account CRUD lives elsewhere; this service
// never creates or deletes.
type AccountService struct {
	Store store.Store
}

// Profile is the userinfo view of an account.
type Profile struct {
	Subject       string     `json:"sub"`
	Username      string     `json:"preferred_username"`
	Email         string     `json:"email"`
	EmailVerified bool       `json:"email_verified"`
	Authorities   []string   `json:"authorities,omitempty"`
	MFAEnabled    bool       `json:"mfa_enabled"`
	MFAValidUntil *time.Time `json:"mfa_valid_until,omitempty"`
}

// GetProfile loads an account and resolves its role names.
func (s *AccountService) GetProfile(ctx context.Context, accountID string) (Profile, error) {
	account, err := s.Store.Accounts().GetAccountByID(ctx, accountID)
	if err != nil {
		return Profile{}, err
	}
	if account.Deleted {
		return Profile{}, store.ErrNotFound
	}

	roles, err := s.Store.Roles().GetRolesByIDs(ctx, account.RoleIDs)
	if err != nil {
		return Profile{}, err
	}

	authorities := make([]string, 0, len(roles))
	for _, r := range roles {
		authorities = append(authorities, r.Name)
	}

	p := Profile{
		Subject:       account.ID,
		Username:      account.Username,
		Email:         account.Email,
		EmailVerified: account.EmailVerified,
		Authorities:   authorities,
		MFAEnabled:    account.MFA.Enabled,
	}
	if account.MFA.Enabled && account.MFA.ValidUntil != nil {
		p.MFAValidUntil = account.MFA.ValidUntil
	}
	return p, nil
}

// GetAccount returns the raw aggregate for internal collaborators.
func (s *AccountService) GetAccount(ctx context.Context, accountID string) (domain.Account, error) {
	return s.Store.Accounts().GetAccountByID(ctx, accountID)
}
