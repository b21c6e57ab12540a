package jwtx

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMalformed   = errors.New("jwtx: malformed token")
	ErrSignature   = errors.New("jwtx: invalid signature")
	ErrIssuer      = errors.New("jwtx: unexpected issuer")
	ErrAudience    = errors.New("jwtx: unexpected audience")
	ErrExpired     = errors.New("jwtx: token expired")
	ErrNotYetValid = errors.New("jwtx: token not yet valid")
)

// Verifier validates access tokens and returns their claims.
type Verifier interface {
	Verify(token string) (Claims, error)
}

// EdDSAVerifier verifies Ed25519-signed tokens against a KeySet, selecting
// the public key by the token's kid header.
type EdDSAVerifier struct {
	keys     *KeySet
	issuer   string
	audience []string
}

// NewVerifierEdDSA builds a verifier bound to a KeySet. Empty issuer or
// audience disables that check.
func NewVerifierEdDSA(keys *KeySet, issuer string, audience []string) *EdDSAVerifier {
	return &EdDSAVerifier{
		keys:     keys,
		issuer:   issuer,
		audience: audience,
	}
}

// Verify parses and validates the token string, returning its claims.
func (v *EdDSAVerifier) Verify(token string) (Claims, error) {
	var claims Claims

	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != jwt.SigningMethodEdDSA.Alg() {
			return nil, fmt.Errorf("jwtx: unexpected alg %q", t.Method.Alg())
		}

		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, ErrMalformed
		}
		return v.keys.Get(kid)
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return Claims{}, ErrExpired
		case errors.Is(err, jwt.ErrTokenNotValidYet):
			return Claims{}, ErrNotYetValid
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return Claims{}, ErrSignature
		case errors.Is(err, ErrNoKey):
			return Claims{}, err
		default:
			return Claims{}, ErrMalformed
		}
	}
	if !parsed.Valid {
		return Claims{}, ErrMalformed
	}

	if err := claims.ValidateIssuer(v.issuer); err != nil {
		return Claims{}, err
	}
	if err := claims.ValidateAudience(v.audience); err != nil {
		return Claims{}, err
	}

	return claims, nil
}
