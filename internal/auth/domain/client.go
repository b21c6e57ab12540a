package domain

import (
	"slices"
	"time"
)

// GrantType enumerates the OAuth2 grant types a client may be allowed.
type GrantType string

const (
	GrantPassword          GrantType = "password"
	GrantRefreshToken      GrantType = "refresh_token"
	GrantClientCredentials GrantType = "client_credentials"
)

// Client is a registered OAuth2 consumer. Confidential clients hold a
// secret; public clients do not and may never use the password grant.
type Client struct {
	ID         string
	Name       string
	SecretHash string // empty for public clients
	GrantTypes []GrantType
	Scopes     []string
	Protected  bool // If true, client cannot be deleted (e.g., bootstrap client)
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Confidential reports whether the client authenticates with a secret.
func (c *Client) Confidential() bool {
	return c.SecretHash != ""
}

// SupportsGrant reports whether the client is registered for the grant type.
func (c *Client) SupportsGrant(gt GrantType) bool {
	return slices.Contains(c.GrantTypes, gt)
}
