package domain

import (
	"errors"
	"time"
)

// TokenKind names the child record slots an AuthorizationGrant can own.
type TokenKind string

const (
	KindAuthorizationCode TokenKind = "authorization_code"
	KindAccessToken       TokenKind = "access_token"
	KindRefreshToken      TokenKind = "refresh_token"
	KindIdentityToken     TokenKind = "id_token"
	KindUserCode          TokenKind = "user_code"
	KindDeviceCode        TokenKind = "device_code"
)

// TokenKinds lists every kind in a stable order, used when scanning a
// grant's full token family.
var TokenKinds = []TokenKind{
	KindAuthorizationCode,
	KindAccessToken,
	KindRefreshToken,
	KindIdentityToken,
	KindUserCode,
	KindDeviceCode,
}

var ErrUnknownTokenKind = errors.New("unknown token kind")

// Token is one member of a grant's token family. Value is the bearer string
// itself and is the sole external lookup key; it must be unique across all
// kinds of all grants.
type Token struct {
	Value     string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Scopes    []string          // access/refresh only
	Metadata  map[string]string // opaque, e.g. embedded claim sets
}

// AuthorizationGrant is one authorization transaction: the parent record
// plus at most one token of each kind. The per-kind fields keep the
// "at most one of each" invariant in the type rather than in a collection.
type AuthorizationGrant struct {
	ID            string
	ClientID      string
	PrincipalName string
	GrantType     GrantType
	Scopes        []string
	Attributes    map[string]string
	State         string // optional correlation value

	AuthorizationCode *Token
	AccessToken       *Token
	RefreshToken      *Token
	IdentityToken     *Token
	UserCode          *Token
	DeviceCode        *Token

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Token returns the child of the given kind, or nil.
func (g *AuthorizationGrant) Token(kind TokenKind) *Token {
	switch kind {
	case KindAuthorizationCode:
		return g.AuthorizationCode
	case KindAccessToken:
		return g.AccessToken
	case KindRefreshToken:
		return g.RefreshToken
	case KindIdentityToken:
		return g.IdentityToken
	case KindUserCode:
		return g.UserCode
	case KindDeviceCode:
		return g.DeviceCode
	default:
		return nil
	}
}

// SetToken attaches a child of the given kind, replacing any existing one.
func (g *AuthorizationGrant) SetToken(kind TokenKind, t *Token) error {
	switch kind {
	case KindAuthorizationCode:
		g.AuthorizationCode = t
	case KindAccessToken:
		g.AccessToken = t
	case KindRefreshToken:
		g.RefreshToken = t
	case KindIdentityToken:
		g.IdentityToken = t
	case KindUserCode:
		g.UserCode = t
	case KindDeviceCode:
		g.DeviceCode = t
	default:
		return ErrUnknownTokenKind
	}
	return nil
}

// Issued reports whether the grant carries at least one token. A grant must
// never be persisted as "issued" with an empty family.
func (g *AuthorizationGrant) Issued() bool {
	for _, kind := range TokenKinds {
		if g.Token(kind) != nil {
			return true
		}
	}
	return false
}
