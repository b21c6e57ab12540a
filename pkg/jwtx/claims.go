package jwtx

import (
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Default token TTLs for standard OAuth2/JWT flows. These provide sensible
// security defaults but can be overridden per-service.
const (
	// DefaultAccessTokenTTL is the default lifetime for access tokens.
	DefaultAccessTokenTTL = 15 * time.Minute

	// DefaultRefreshTokenTTL is the default lifetime for refresh tokens.
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour

	// DefaultIdentityTokenTTL is the default lifetime for identity tokens.
	DefaultIdentityTokenTTL = time.Hour
)

// AMR (Authentication Method Reference) values we attach to tokens.
//
//	"pwd": password-based authentication
//	"otp": one-time password (e.g. TOTP)
//	"client": client credentials (machine-to-machine)
const (
	AMRPassword = "pwd"
	AMROTP      = "otp"
	AMRClient   = "client"
)

// Claims are the access-token claims shared across services. Changes must
// stay additive to preserve compatibility with deployed verifiers.
type Claims struct {
	jwt.RegisteredClaims

	// Session ID that persists across token refreshes.
	SID string `json:"sid,omitempty"`

	// Permission scopes, e.g. "profile:read orders:write".
	Scopes []string `json:"scopes,omitempty"`

	// Authorities are the granted authority names derived from the
	// resource owner's roles. Never present on client_credentials tokens.
	Authorities []string `json:"authorities,omitempty"`

	// Authentication Method References, e.g. ["pwd","otp"].
	AMR []string `json:"amr,omitempty"`

	// Username of the authenticated resource owner.
	Username string `json:"username,omitempty"`

	// Email of the authenticated resource owner.
	Email string `json:"email,omitempty"`

	// ServiceAccount marks machine credentials. The MFA gate bypasses
	// callers carrying this claim: service-to-service calls never require
	// a second factor.
	ServiceAccount bool `json:"is_service_account,omitempty"`
}

// NewAccessClaims builds minimally-correct access-token claims.
func NewAccessClaims(
	subject, sid string,
	scopes, authorities, amr []string,
	ttl time.Duration,
	issuer string,
	audience []string,
	username, email string,
	serviceAccount bool,
	now time.Time,
) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings(audience),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        NewJTI(),
		},
		SID:            sid,
		Scopes:         scopes,
		Authorities:    authorities,
		AMR:            amr,
		Username:       username,
		Email:          email,
		ServiceAccount: serviceAccount,
	}
}

// IdentityClaims is the claim set carried by identity tokens, asserting who
// the resource owner is to the client that received the grant.
type IdentityClaims struct {
	jwt.RegisteredClaims

	PreferredUsername string `json:"preferred_username,omitempty"`
	Email             string `json:"email,omitempty"`
	EmailVerified     bool   `json:"email_verified"`
	AuthTime          int64  `json:"auth_time,omitempty"`
}

// NewIdentityClaims builds an identity-token claim set scoped to a single
// client audience.
func NewIdentityClaims(
	subject, username, email string,
	emailVerified bool,
	issuer, clientID string,
	ttl time.Duration,
	now time.Time,
) IdentityClaims {
	return IdentityClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings{clientID},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        NewJTI(),
		},
		PreferredUsername: username,
		Email:             email,
		EmailVerified:     emailVerified,
		AuthTime:          now.Unix(),
	}
}

// NewJTI returns a unique identifier for the "jti" claim.
func NewJTI() string {
	return uuid.NewString()
}

// ValidateIssuer checks if the issuer matches the expected value.
func (c *Claims) ValidateIssuer(expected string) error {
	if expected == "" {
		return nil // nothing to enforce
	}
	if c.Issuer != expected {
		return ErrIssuer
	}
	return nil
}

// ValidateAudience checks if at least one expected audience is present.
func (c *Claims) ValidateAudience(expected []string) error {
	if len(expected) == 0 {
		return nil // nothing to enforce
	}

	for _, want := range expected {
		if slices.Contains(c.Audience, want) {
			return nil
		}
	}

	return ErrAudience
}

// ValidateExpiry ensures the token hasn't expired (exp) and isn't used
// before it is valid (nbf).
func (c *Claims) ValidateExpiry() error {
	now := time.Now().UTC()

	if c.ExpiresAt != nil && now.After(c.ExpiresAt.Time) {
		return ErrExpired
	}
	if c.NotBefore != nil && now.Before(c.NotBefore.Time) {
		return ErrNotYetValid
	}

	return nil
}
