package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/quollsec/warden/internal/auth/domain"
	"github.com/quollsec/warden/internal/auth/metrics"
	"github.com/quollsec/warden/internal/auth/store"
	"github.com/quollsec/warden/pkg/cryptox"
	"github.com/quollsec/warden/pkg/idx"
	"github.com/quollsec/warden/pkg/jwtx"
	"github.com/quollsec/warden/pkg/slogx"
)

var (
	ErrInvalidCredentials = errors.New("invalid_credentials")
	ErrInvalidClient      = errors.New("invalid_client")
	ErrUnauthorizedClient = errors.New("unauthorized_client")
	ErrInvalidScope       = errors.New("invalid_scope")
	ErrInvalidGrant       = errors.New("invalid_grant")
	ErrServerError        = errors.New("server_error")
)

// PasswordGrantRequest carries the validated form input of a password grant.
// The credentials travel as typed fields end to end; nothing is smuggled
// through attribute maps.
type PasswordGrantRequest struct {
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
	Scopes       []string
	OTPCode      string
}

// TokenService is the resource-owner token issuer: it authenticates the
// client and the resource owner, applies the MFA clearance the gate would
// apply on bearer routes, mints the token family, and persists the grant.
type TokenService struct {
	KeyManager *jwtx.KeyManager
	Store      store.Store
	Verifier   *ChallengeVerifier

	Issuer      string
	Audience    []string
	AccessTTL   time.Duration
	RefreshTTL  time.Duration
	IdentityTTL time.Duration

	// Now allows tests to pin the clock. Defaults to time.Now.
	Now func() time.Time
}

// ExchangePassword implements the resource-owner password grant.
//
// The token endpoint authenticates with client credentials rather than a
// bearer token, so the MFA gate middleware never sees it; the same clearance
// rules are applied inline, with the same rejection reasons.
func (s *TokenService) ExchangePassword(ctx context.Context, req PasswordGrantRequest) (*domain.IssuedTokens, error) {
	now := s.now()
	l := slogx.FromContext(ctx)

	client, err := s.authenticateClient(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, err
	}
	if !client.SupportsGrant(domain.GrantPassword) {
		return nil, ErrUnauthorizedClient
	}

	account, err := s.Store.Accounts().GetAccountByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if account.Deleted {
		return nil, ErrInvalidCredentials
	}
	if err := cryptox.VerifyPassword(req.Password, account.PasswordHash); err != nil {
		l.Info("password verification failed", "username", req.Username)
		return nil, ErrInvalidCredentials
	}

	amr := []string{jwtx.AMRPassword}

	// MFA clearance. A cleared factor within its window passes silently; an
	// enabled-but-uncleared factor demands a code right here.
	if account.MFA.Enabled && !account.MFA.IsValid(now) {
		if !account.MFA.DeviceVerified {
			metrics.GateRejections.WithLabelValues(RejectDeviceNotVerified).Inc()
			return nil, &PolicyRejection{Reason: RejectDeviceNotVerified}
		}
		if strings.TrimSpace(req.OTPCode) == "" {
			metrics.GateRejections.WithLabelValues(RejectNoCode).Inc()
			return nil, &PolicyRejection{Reason: RejectNoCode}
		}

		err := s.Store.WithTx(ctx, func(tx store.Tx) error {
			fresh, err := tx.Accounts().GetAccountByID(ctx, account.ID)
			if err != nil {
				return err
			}
			if fresh.MFA.Secret == nil || fresh.MFA.FactorType == nil ||
				!s.Verifier.Accepts(*fresh.MFA.FactorType, req.OTPCode, *fresh.MFA.Secret) {
				return ErrBadOneTimeCode
			}
			if err := fresh.MFA.VerifyFactor(now); err != nil {
				return err
			}
			return tx.Accounts().UpdateAccount(ctx, fresh)
		})
		if err != nil {
			if errors.Is(err, ErrBadOneTimeCode) {
				// Coarse on purpose: a wrong code reads exactly like a wrong
				// password.
				return nil, ErrInvalidCredentials
			}
			return nil, err
		}
		amr = append(amr, jwtx.AMROTP)
	}

	authorities, roleScopes, err := s.resolveAuthorities(ctx, account.RoleIDs)
	if err != nil {
		return nil, err
	}

	effective := effectiveScopes(req.Scopes, client.Scopes, roleScopes)
	if len(effective) == 0 {
		return nil, ErrInvalidScope
	}

	sessionID := idx.New().String()

	accessValue, err := s.signAccess(account, sessionID, effective, authorities, amr, now)
	if err != nil {
		l.Error("access token generation failed", "err", err)
		return nil, ErrServerError
	}

	identityValue, identityJSON, err := s.signIdentity(account, client, now)
	if err != nil {
		l.Error("identity token generation failed", "err", err)
		return nil, ErrServerError
	}

	grant := domain.AuthorizationGrant{
		ID:            idx.New().String(),
		ClientID:      client.ID,
		PrincipalName: account.Username,
		GrantType:     domain.GrantPassword,
		Scopes:        effective,
		Attributes: map[string]string{
			"principal_id": account.ID,
			"session_id":   sessionID,
		},
		AccessToken: &domain.Token{
			Value:     accessValue,
			IssuedAt:  now,
			ExpiresAt: now.Add(s.AccessTTL),
			Scopes:    effective,
		},
		IdentityToken: &domain.Token{
			Value:     identityValue,
			IssuedAt:  now,
			ExpiresAt: now.Add(s.identityTTL()),
			Metadata:  map[string]string{"claims": identityJSON},
		},
	}

	out := &domain.IssuedTokens{
		AccessToken:   accessValue,
		TokenType:     "Bearer",
		ExpiresIn:     s.AccessTTL,
		IdentityToken: identityValue,
		Scope:         "openid",
	}

	if client.SupportsGrant(domain.GrantRefreshToken) {
		refreshValue, err := cryptox.GenerateToken(cryptox.TokenSize256)
		if err != nil {
			l.Error("refresh token generation failed", "err", err)
			return nil, ErrServerError
		}
		grant.RefreshToken = &domain.Token{
			Value:     refreshValue,
			IssuedAt:  now,
			ExpiresAt: now.Add(s.RefreshTTL),
			Scopes:    effective,
		}
		out.RefreshToken = refreshValue
	}

	if err := s.Store.Grants().SaveGrant(ctx, grant); err != nil {
		l.Error("grant persistence failed", "err", err, "grant_id", grant.ID)
		return nil, ErrServerError
	}

	metrics.TokensIssued.WithLabelValues(string(domain.GrantPassword)).Inc()
	return out, nil
}

// ExchangeClientCredentials implements the client_credentials grant for
// machine callers. No resource owner is involved, so the token carries the
// service-account marker instead of authorities, and no refresh or identity
// token is minted.
func (s *TokenService) ExchangeClientCredentials(ctx context.Context, clientID, clientSecret string, requestedScopes []string) (*domain.IssuedTokens, error) {
	now := s.now()
	l := slogx.FromContext(ctx)

	client, err := s.authenticateClient(ctx, clientID, clientSecret)
	if err != nil {
		return nil, err
	}
	if !client.SupportsGrant(domain.GrantClientCredentials) {
		return nil, ErrUnauthorizedClient
	}

	effective := client.Scopes
	if len(requestedScopes) > 0 {
		effective = intersectScopes(requestedScopes, client.Scopes)
	}
	if len(effective) == 0 {
		return nil, ErrInvalidScope
	}

	sessionID := idx.New().String()
	claims := jwtx.NewAccessClaims(
		client.ID, sessionID,
		effective,
		nil, // authorities are never attached to machine tokens
		[]string{jwtx.AMRClient},
		s.AccessTTL, s.Issuer, s.audience(),
		client.Name, "",
		true, // is_service_account
		now,
	)

	accessValue, err := s.KeyManager.GetSigner().Sign(claims)
	if err != nil {
		l.Error("access token generation failed", "err", err)
		return nil, ErrServerError
	}

	grant := domain.AuthorizationGrant{
		ID:            idx.New().String(),
		ClientID:      client.ID,
		PrincipalName: client.Name,
		GrantType:     domain.GrantClientCredentials,
		Scopes:        effective,
		Attributes:    map[string]string{"session_id": sessionID},
		AccessToken: &domain.Token{
			Value:     accessValue,
			IssuedAt:  now,
			ExpiresAt: now.Add(s.AccessTTL),
			Scopes:    effective,
		},
	}
	if err := s.Store.Grants().SaveGrant(ctx, grant); err != nil {
		l.Error("grant persistence failed", "err", err, "grant_id", grant.ID)
		return nil, ErrServerError
	}

	metrics.TokensIssued.WithLabelValues(string(domain.GrantClientCredentials)).Inc()
	return &domain.IssuedTokens{
		AccessToken: accessValue,
		TokenType:   "Bearer",
		ExpiresIn:   s.AccessTTL,
		Scope:       strings.Join(effective, " "),
	}, nil
}

// ExchangeRefreshToken rotates a grant's access and refresh tokens. The old
// refresh value dies with the rotation; both child rows are replaced on the
// same grant.
func (s *TokenService) ExchangeRefreshToken(ctx context.Context, clientID, clientSecret, refreshValue string, requestedScopes []string) (*domain.IssuedTokens, error) {
	now := s.now()
	l := slogx.FromContext(ctx)

	client, err := s.authenticateClient(ctx, clientID, clientSecret)
	if err != nil {
		return nil, err
	}
	if !client.SupportsGrant(domain.GrantRefreshToken) {
		return nil, ErrUnauthorizedClient
	}

	var out *domain.IssuedTokens

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		grant, err := tx.Grants().GetGrantByToken(ctx, refreshValue, domain.KindRefreshToken)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrInvalidGrant
			}
			return err
		}

		if grant.ClientID != client.ID {
			return ErrInvalidClient
		}
		if grant.RefreshToken == nil || now.After(grant.RefreshToken.ExpiresAt) {
			return ErrInvalidGrant
		}

		account, err := tx.Accounts().GetAccountByUsername(ctx, grant.PrincipalName)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrInvalidGrant
			}
			return err
		}
		if account.Deleted {
			return ErrInvalidGrant
		}

		authorities, roleScopes, err := s.resolveAuthoritiesIn(ctx, tx, account.RoleIDs)
		if err != nil {
			return err
		}

		base := grant.RefreshToken.Scopes
		if len(requestedScopes) > 0 {
			base = requestedScopes
		}
		effective := effectiveScopes(base, client.Scopes, roleScopes)
		if len(effective) == 0 {
			return ErrInvalidScope
		}

		sessionID := grant.Attributes["session_id"]
		if sessionID == "" {
			sessionID = idx.New().String()
		}

		accessValue, err := s.signAccess(account, sessionID, effective, authorities, []string{jwtx.AMRPassword}, now)
		if err != nil {
			l.Error("access token generation failed", "err", err)
			return ErrServerError
		}

		newRefresh, err := cryptox.GenerateToken(cryptox.TokenSize256)
		if err != nil {
			return ErrServerError
		}

		grant.AccessToken = &domain.Token{
			Value:     accessValue,
			IssuedAt:  now,
			ExpiresAt: now.Add(s.AccessTTL),
			Scopes:    effective,
		}
		grant.RefreshToken = &domain.Token{
			Value:     newRefresh,
			IssuedAt:  now,
			ExpiresAt: now.Add(s.RefreshTTL),
			Scopes:    effective,
		}

		if err := tx.Grants().SaveGrant(ctx, grant); err != nil {
			return err
		}

		out = &domain.IssuedTokens{
			AccessToken:  accessValue,
			TokenType:    "Bearer",
			ExpiresIn:    s.AccessTTL,
			RefreshToken: newRefresh,
			Scope:        strings.Join(effective, " "),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.TokensIssued.WithLabelValues(string(domain.GrantRefreshToken)).Inc()
	return out, nil
}

// Introspection is the RFC 7662 response shape.
type Introspection struct {
	Active    bool   `json:"active"`
	Scope     string `json:"scope,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	Username  string `json:"username,omitempty"`
	TokenKind string `json:"token_kind,omitempty"`
	ExpiresAt int64  `json:"exp,omitempty"`
	IssuedAt  int64  `json:"iat,omitempty"`
}

// Introspect resolves a token value of any kind to its grant. Unknown or
// expired tokens report active=false rather than an error.
func (s *TokenService) Introspect(ctx context.Context, clientID, clientSecret, tokenValue string) (Introspection, error) {
	now := s.now()

	if _, err := s.authenticateClient(ctx, clientID, clientSecret); err != nil {
		return Introspection{}, err
	}

	grant, err := s.Store.Grants().GetGrantByToken(ctx, tokenValue, "")
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Introspection{Active: false}, nil
		}
		return Introspection{}, err
	}

	for _, kind := range domain.TokenKinds {
		tok := grant.Token(kind)
		if tok == nil || tok.Value != tokenValue {
			continue
		}
		if now.After(tok.ExpiresAt) {
			return Introspection{Active: false}, nil
		}
		return Introspection{
			Active:    true,
			Scope:     strings.Join(tok.Scopes, " "),
			ClientID:  grant.ClientID,
			Username:  grant.PrincipalName,
			TokenKind: string(kind),
			ExpiresAt: tok.ExpiresAt.Unix(),
			IssuedAt:  tok.IssuedAt.Unix(),
		}, nil
	}

	// Matched via the state correlation column; not a live token.
	return Introspection{Active: false}, nil
}

// Revoke removes the whole grant a token value belongs to. Revoking an
// unknown token succeeds silently, per RFC 7009.
func (s *TokenService) Revoke(ctx context.Context, clientID, clientSecret, tokenValue string) error {
	if _, err := s.authenticateClient(ctx, clientID, clientSecret); err != nil {
		return err
	}

	grant, err := s.Store.Grants().GetGrantByToken(ctx, tokenValue, "")
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	if grant.ClientID != clientID {
		return ErrInvalidClient
	}

	if err := s.Store.Grants().RemoveGrant(ctx, grant.ID); err != nil {
		return err
	}
	metrics.GrantsRemoved.WithLabelValues("revocation").Inc()
	return nil
}

func (s *TokenService) authenticateClient(ctx context.Context, clientID, clientSecret string) (domain.Client, error) {
	l := slogx.FromContext(ctx)

	if clientID == "" {
		return domain.Client{}, ErrInvalidClient
	}

	client, err := s.Store.Clients().GetClientByID(ctx, clientID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Client{}, ErrInvalidClient
		}
		return domain.Client{}, err
	}

	// Only confidential clients may reach the token endpoint's
	// credential-bearing grants.
	if !client.Confidential() {
		return domain.Client{}, ErrInvalidClient
	}
	if clientSecret == "" || cryptox.VerifyPassword(clientSecret, client.SecretHash) != nil {
		l.Info("client authentication failed", "client_id", clientID)
		return domain.Client{}, ErrInvalidClient
	}

	return client, nil
}

func (s *TokenService) signAccess(
	account domain.Account,
	sessionID string,
	scopes, authorities, amr []string,
	now time.Time,
) (string, error) {
	claims := jwtx.NewAccessClaims(
		account.ID, sessionID,
		scopes, authorities, amr,
		s.AccessTTL, s.Issuer, s.audience(),
		account.Username, account.Email,
		false,
		now,
	)
	return s.KeyManager.GetSigner().Sign(claims)
}

func (s *TokenService) signIdentity(account domain.Account, client domain.Client, now time.Time) (value, claimsJSON string, err error) {
	claims := jwtx.NewIdentityClaims(
		account.ID, account.Username, account.Email,
		account.EmailVerified,
		s.Issuer, client.ID,
		s.identityTTL(), now,
	)

	value, err = s.KeyManager.GetSigner().Sign(claims)
	if err != nil {
		return "", "", err
	}

	raw, err := json.Marshal(claims)
	if err != nil {
		return "", "", err
	}
	return value, string(raw), nil
}

// resolveAuthorities maps the account's roles to authority names and the
// union of their scopes.
func (s *TokenService) resolveAuthorities(ctx context.Context, roleIDs []string) (authorities, roleScopes []string, err error) {
	roles, err := s.Store.Roles().GetRolesByIDs(ctx, roleIDs)
	if err != nil {
		return nil, nil, err
	}
	return flattenRoles(roles)
}

func (s *TokenService) resolveAuthoritiesIn(ctx context.Context, tx store.Tx, roleIDs []string) (authorities, roleScopes []string, err error) {
	roles, err := tx.Roles().GetRolesByIDs(ctx, roleIDs)
	if err != nil {
		return nil, nil, err
	}
	return flattenRoles(roles)
}

func flattenRoles(roles []domain.Role) (authorities, roleScopes []string, err error) {
	seen := make(map[string]struct{})
	for _, r := range roles {
		authorities = append(authorities, r.Name)
		for _, sc := range r.Scopes {
			if _, ok := seen[sc]; ok {
				continue
			}
			seen[sc] = struct{}{}
			roleScopes = append(roleScopes, sc)
		}
	}
	return authorities, roleScopes, nil
}

// effectiveScopes intersects requested scopes with what the client and the
// account's roles allow. An empty request means "whatever both sides allow".
func effectiveScopes(requested, clientScopes, roleScopes []string) []string {
	base := requested
	if len(base) == 0 {
		base = clientScopes
	}
	return intersectScopes(intersectScopes(base, clientScopes), roleScopes)
}

func intersectScopes(a, b []string) []string {
	allowed := make(map[string]struct{}, len(b))
	for _, s := range b {
		allowed[s] = struct{}{}
	}

	var out []string
	seen := make(map[string]struct{}, len(a))
	for _, s := range a {
		if _, ok := allowed[s]; !ok {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func (s *TokenService) audience() []string {
	if len(s.Audience) > 0 {
		return s.Audience
	}
	return []string{s.Issuer}
}

func (s *TokenService) identityTTL() time.Duration {
	if s.IdentityTTL > 0 {
		return s.IdentityTTL
	}
	return jwtx.DefaultIdentityTokenTTL
}

func (s *TokenService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}
