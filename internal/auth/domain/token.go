package domain

import "time"

// IssuedTokens is what the token endpoint returns: the signed access token,
// the opaque refresh token (when the client supports it) and the identity
// token carried in the additional parameters.
type IssuedTokens struct {
	AccessToken   string        `json:"access_token"`
	TokenType     string        `json:"token_type,omitempty"` // typically "Bearer"
	ExpiresIn     time.Duration `json:"expires_in"`           // seconds until expiry
	RefreshToken  string        `json:"refresh_token,omitempty"`
	IdentityToken string        `json:"id_token,omitempty"`
	Scope         string        `json:"scope,omitempty"` // space-delimited
}
