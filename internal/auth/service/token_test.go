package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quollsec/warden/internal/auth/domain"
	"github.com/quollsec/warden/internal/auth/store"
	"github.com/quollsec/warden/internal/auth/store/drivers/sqlite"
	"github.com/quollsec/warden/pkg/cryptox"
	"github.com/quollsec/warden/pkg/idx"
	"github.com/quollsec/warden/pkg/jwtx"
)

type tokenFixture struct {
	svc    *TokenService
	store  store.Store
	now    time.Time
	role   domain.Role
	client domain.Client
}

func newTokenFixture(t *testing.T, clientGrants []domain.GrantType) *tokenFixture {
	t.Helper()
	ctx := context.Background()

	cryptox.SetPepperPath(filepath.Join(t.TempDir(), "pepper"))

	s, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.ApplyMigrations())

	role := domain.Role{
		ID:     idx.New().String(),
		Name:   "member",
		Scopes: []string{"openid", "profile:read"},
	}
	require.NoError(t, s.Roles().CreateRole(ctx, role))

	secretHash, err := cryptox.HashPassword("client-secret")
	require.NoError(t, err)

	client := domain.Client{
		ID:         idx.New().String(),
		Name:       "web-app",
		SecretHash: secretHash,
		GrantTypes: clientGrants,
		Scopes:     []string{"openid", "profile:read"},
	}
	require.NoError(t, s.Clients().CreateClient(ctx, client))

	km, err := jwtx.NewEphemeralKeyManager(jwtx.KeyManagerOptions{
		NumKeys: 1,
		Issuer:  "https://auth.test",
	})
	require.NoError(t, err)

	now := time.Now().UTC().Truncate(time.Second)
	svc := &TokenService{
		KeyManager: km,
		Store:      s,
		Verifier:   &ChallengeVerifier{Now: func() time.Time { return now }},
		Issuer:     "https://auth.test",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
		Now:        func() time.Time { return now },
	}

	return &tokenFixture{svc: svc, store: s, now: now, role: role, client: client}
}

func (f *tokenFixture) seedAccount(t *testing.T, password string, mutate func(*domain.Account)) domain.Account {
	t.Helper()

	hash, err := cryptox.HashPassword(password)
	require.NoError(t, err)

	a := domain.Account{
		ID:            idx.New().String(),
		Username:      "alice",
		Email:         "alice@example.com",
		PasswordHash:  hash,
		RoleIDs:       []string{f.role.ID},
		EmailVerified: true,
		MFA:           domain.MFAState{ID: idx.New().String()},
	}
	if mutate != nil {
		mutate(&a)
	}
	require.NoError(t, f.store.Accounts().CreateAccount(context.Background(), a))
	return a
}

func TestExchangePasswordIssuesFullTokenFamily(t *testing.T) {
	ctx := context.Background()
	f := newTokenFixture(t, []domain.GrantType{domain.GrantPassword, domain.GrantRefreshToken})
	f.seedAccount(t, "hunter2!", nil)

	out, err := f.svc.ExchangePassword(ctx, PasswordGrantRequest{
		ClientID:     f.client.ID,
		ClientSecret: "client-secret",
		Username:     "alice",
		Password:     "hunter2!",
	})
	require.NoError(t, err)
	require.NotEmpty(t, out.AccessToken)
	require.NotEmpty(t, out.RefreshToken)
	require.NotEmpty(t, out.IdentityToken)
	require.Equal(t, "Bearer", out.TokenType)
	require.Equal(t, "openid", out.Scope)

	// The signed access token carries the resource owner's authorities.
	claims, err := f.svc.KeyManager.Verifier.Verify(out.AccessToken)
	require.NoError(t, err)
	require.Equal(t, []string{"member"}, claims.Authorities)
	require.Equal(t, []string{jwtx.AMRPassword}, claims.AMR)
	require.False(t, claims.ServiceAccount)

	// Round-trip: the persisted grant is reachable by the access token value
	// and mirrors what was returned.
	grant, err := f.store.Grants().GetGrantByToken(ctx, out.AccessToken, "")
	require.NoError(t, err)
	require.Equal(t, "alice", grant.PrincipalName)
	require.Equal(t, domain.GrantPassword, grant.GrantType)
	require.Equal(t, out.AccessToken, grant.AccessToken.Value)
	require.Equal(t, out.RefreshToken, grant.RefreshToken.Value)
	require.Equal(t, out.IdentityToken, grant.IdentityToken.Value)
	require.Equal(t, f.now.Add(f.svc.AccessTTL), grant.AccessToken.ExpiresAt)
	require.NotEmpty(t, grant.IdentityToken.Metadata["claims"])
}

func TestExchangePasswordUnsupportedGrant(t *testing.T) {
	ctx := context.Background()
	f := newTokenFixture(t, []domain.GrantType{domain.GrantClientCredentials})
	a := f.seedAccount(t, "hunter2!", nil)

	_, err := f.svc.ExchangePassword(ctx, PasswordGrantRequest{
		ClientID:     f.client.ID,
		ClientSecret: "client-secret",
		Username:     "alice",
		Password:     "hunter2!",
	})
	require.ErrorIs(t, err, ErrUnauthorizedClient)

	// No grant may be persisted on the failure path.
	_, err = f.store.Grants().GetGrantByToken(ctx, a.Username, "")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestExchangePasswordRejectsBadCredentials(t *testing.T) {
	ctx := context.Background()
	f := newTokenFixture(t, []domain.GrantType{domain.GrantPassword})
	f.seedAccount(t, "hunter2!", nil)

	t.Run("wrong password", func(t *testing.T) {
		_, err := f.svc.ExchangePassword(ctx, PasswordGrantRequest{
			ClientID:     f.client.ID,
			ClientSecret: "client-secret",
			Username:     "alice",
			Password:     "wrong",
		})
		require.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("unknown username", func(t *testing.T) {
		_, err := f.svc.ExchangePassword(ctx, PasswordGrantRequest{
			ClientID:     f.client.ID,
			ClientSecret: "client-secret",
			Username:     "mallory",
			Password:     "hunter2!",
		})
		require.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("wrong client secret", func(t *testing.T) {
		_, err := f.svc.ExchangePassword(ctx, PasswordGrantRequest{
			ClientID:     f.client.ID,
			ClientSecret: "wrong",
			Username:     "alice",
			Password:     "hunter2!",
		})
		require.ErrorIs(t, err, ErrInvalidClient)
	})
}

func TestExchangePasswordEnforcesMFA(t *testing.T) {
	ctx := context.Background()
	f := newTokenFixture(t, []domain.GrantType{domain.GrantPassword})
	secret := totpSecret(t)

	f.seedAccount(t, "hunter2!", func(a *domain.Account) {
		require.NoError(t, a.MFA.Enroll(secret, "phone", domain.FactorTOTP))
		require.NoError(t, a.MFA.ConfirmDevice(f.now.Add(domain.FactorValidity)))
	})

	base := PasswordGrantRequest{
		ClientID:     f.client.ID,
		ClientSecret: "client-secret",
		Username:     "alice",
		Password:     "hunter2!",
	}

	t.Run("missing code", func(t *testing.T) {
		_, err := f.svc.ExchangePassword(ctx, base)

		var rej *PolicyRejection
		require.ErrorAs(t, err, &rej)
		require.Equal(t, RejectNoCode, rej.Reason)
	})

	t.Run("wrong code reads like a credential failure", func(t *testing.T) {
		req := base
		req.OTPCode = "000000"
		_, err := f.svc.ExchangePassword(ctx, req)
		require.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("valid code issues tokens with otp in amr", func(t *testing.T) {
		req := base
		req.OTPCode = totpCode(t, secret, f.now)

		out, err := f.svc.ExchangePassword(ctx, req)
		require.NoError(t, err)

		claims, err := f.svc.KeyManager.Verifier.Verify(out.AccessToken)
		require.NoError(t, err)
		require.Equal(t, []string{jwtx.AMRPassword, jwtx.AMROTP}, claims.AMR)
	})
}

func TestExchangeClientCredentials(t *testing.T) {
	ctx := context.Background()
	f := newTokenFixture(t, []domain.GrantType{domain.GrantClientCredentials})

	out, err := f.svc.ExchangeClientCredentials(ctx, f.client.ID, "client-secret", nil)
	require.NoError(t, err)
	require.NotEmpty(t, out.AccessToken)
	require.Empty(t, out.RefreshToken, "machine tokens are re-minted, never refreshed")
	require.Empty(t, out.IdentityToken)

	claims, err := f.svc.KeyManager.Verifier.Verify(out.AccessToken)
	require.NoError(t, err)
	require.True(t, claims.ServiceAccount)
	require.Empty(t, claims.Authorities, "authorities never appear on client_credentials tokens")
	require.Equal(t, []string{jwtx.AMRClient}, claims.AMR)
}

func TestExchangeRefreshTokenRotates(t *testing.T) {
	ctx := context.Background()
	f := newTokenFixture(t, []domain.GrantType{domain.GrantPassword, domain.GrantRefreshToken})
	f.seedAccount(t, "hunter2!", nil)

	issued, err := f.svc.ExchangePassword(ctx, PasswordGrantRequest{
		ClientID:     f.client.ID,
		ClientSecret: "client-secret",
		Username:     "alice",
		Password:     "hunter2!",
	})
	require.NoError(t, err)

	rotated, err := f.svc.ExchangeRefreshToken(ctx, f.client.ID, "client-secret", issued.RefreshToken, nil)
	require.NoError(t, err)
	require.NotEqual(t, issued.RefreshToken, rotated.RefreshToken)
	require.NotEqual(t, issued.AccessToken, rotated.AccessToken)

	// The old refresh value died with the rotation.
	_, err = f.svc.ExchangeRefreshToken(ctx, f.client.ID, "client-secret", issued.RefreshToken, nil)
	require.ErrorIs(t, err, ErrInvalidGrant)
}

func TestIntrospectAndRevoke(t *testing.T) {
	ctx := context.Background()
	f := newTokenFixture(t, []domain.GrantType{domain.GrantPassword, domain.GrantRefreshToken})
	f.seedAccount(t, "hunter2!", nil)

	issued, err := f.svc.ExchangePassword(ctx, PasswordGrantRequest{
		ClientID:     f.client.ID,
		ClientSecret: "client-secret",
		Username:     "alice",
		Password:     "hunter2!",
	})
	require.NoError(t, err)

	info, err := f.svc.Introspect(ctx, f.client.ID, "client-secret", issued.AccessToken)
	require.NoError(t, err)
	require.True(t, info.Active)
	require.Equal(t, "alice", info.Username)
	require.Equal(t, string(domain.KindAccessToken), info.TokenKind)

	require.NoError(t, f.svc.Revoke(ctx, f.client.ID, "client-secret", issued.RefreshToken))

	// Revoking the refresh token kills the whole grant, access token included.
	info, err = f.svc.Introspect(ctx, f.client.ID, "client-secret", issued.AccessToken)
	require.NoError(t, err)
	require.False(t, info.Active)

	// Unknown tokens revoke silently.
	require.NoError(t, f.svc.Revoke(ctx, f.client.ID, "client-secret", "no-such-token"))
}
