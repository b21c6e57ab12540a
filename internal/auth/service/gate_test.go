package service

import (
	"context"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"

	"github.com/quollsec/warden/internal/auth/domain"
	"github.com/quollsec/warden/internal/auth/store"
	"github.com/quollsec/warden/internal/auth/store/drivers/sqlite"
	"github.com/quollsec/warden/pkg/idx"
)

func newGateFixture(t *testing.T) (*MFAGateService, store.Store, time.Time) {
	t.Helper()

	s, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.ApplyMigrations())

	now := time.Now().UTC().Truncate(time.Second)
	gate := &MFAGateService{
		Store:    s,
		Verifier: &ChallengeVerifier{Now: func() time.Time { return now }},
		Now:      func() time.Time { return now },
	}
	return gate, s, now
}

func seedGateAccount(t *testing.T, s store.Store, mutate func(*domain.Account)) domain.Account {
	t.Helper()

	a := domain.Account{
		ID:           idx.New().String(),
		Username:     "alice-" + idx.New().String(),
		Email:        "alice@example.com",
		PasswordHash: "argon2:dummy",
		RoleIDs:      []string{"role-member"},
		MFA:          domain.MFAState{ID: idx.New().String()},
	}
	if mutate != nil {
		mutate(&a)
	}
	require.NoError(t, s.Accounts().CreateAccount(context.Background(), a))

	got, err := s.Accounts().GetAccountByID(context.Background(), a.ID)
	require.NoError(t, err)
	return got
}

func totpSecret(t *testing.T) string {
	t.Helper()
	key, err := totp.Generate(totp.GenerateOpts{Issuer: "test", AccountName: "alice"})
	require.NoError(t, err)
	return key.Secret()
}

func totpCode(t *testing.T, secret string, at time.Time) string {
	t.Helper()
	code, err := totp.GenerateCode(secret, at)
	require.NoError(t, err)
	return code
}

func TestGateAllowsWithoutPrincipal(t *testing.T) {
	gate, _, _ := newGateFixture(t)

	err := gate.Evaluate(context.Background(), GateRequest{Path: "/v1/orders"})
	require.NoError(t, err)
}

func TestGateAllowsServiceAccounts(t *testing.T) {
	gate, _, _ := newGateFixture(t)

	err := gate.Evaluate(context.Background(), GateRequest{
		Subject:        "svc-1",
		ServiceAccount: true,
		Path:           "/v1/orders",
	})
	require.NoError(t, err, "machine principals bypass the gate without an account lookup")
}

func TestGateMissingAccount(t *testing.T) {
	gate, _, _ := newGateFixture(t)

	err := gate.Evaluate(context.Background(), GateRequest{
		Subject: "nonexistent",
		Path:    "/v1/orders",
	})
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestGateAllowsWhenMFADisabled(t *testing.T) {
	gate, s, _ := newGateFixture(t)
	a := seedGateAccount(t, s, nil)

	err := gate.Evaluate(context.Background(), GateRequest{
		Subject: a.ID,
		Path:    "/v1/orders",
	})
	require.NoError(t, err)
}

func TestGateDeviceUnverified(t *testing.T) {
	gate, s, now := newGateFixture(t)
	secret := totpSecret(t)

	a := seedGateAccount(t, s, func(a *domain.Account) {
		require.NoError(t, a.MFA.Enroll(secret, "phone", domain.FactorTOTP))
	})

	t.Run("enrollment route stays reachable", func(t *testing.T) {
		err := gate.Evaluate(context.Background(), GateRequest{Subject: a.ID, Path: "/v1/accounts/mfa"})
		require.NoError(t, err)
	})

	t.Run("disable route stays reachable", func(t *testing.T) {
		err := gate.Evaluate(context.Background(), GateRequest{Subject: a.ID, Path: "/v1/accounts/mfa/disable"})
		require.NoError(t, err)
	})

	t.Run("other routes are rejected", func(t *testing.T) {
		err := gate.Evaluate(context.Background(), GateRequest{Subject: a.ID, Path: "/v1/orders"})

		var rej *PolicyRejection
		require.ErrorAs(t, err, &rej)
		require.Equal(t, RejectDeviceNotVerified, rej.Reason)
	})

	t.Run("confirmation route demands a code", func(t *testing.T) {
		err := gate.Evaluate(context.Background(), GateRequest{Subject: a.ID, Path: "/v1/accounts/mfa/device/confirm"})

		var rej *PolicyRejection
		require.ErrorAs(t, err, &rej)
		require.Equal(t, RejectNoCode, rej.Reason)
	})

	t.Run("confirmation route validates without mutating", func(t *testing.T) {
		err := gate.Evaluate(context.Background(), GateRequest{
			Subject: a.ID,
			Path:    "/v1/accounts/mfa/device/confirm",
			OTPCode: totpCode(t, secret, now),
		})
		require.NoError(t, err)

		// The handler owns the transition; the gate must not have confirmed
		// the device itself.
		got, err := s.Accounts().GetAccountByID(context.Background(), a.ID)
		require.NoError(t, err)
		require.False(t, got.MFA.DeviceVerified)
	})
}

func TestGateFactorUnverified(t *testing.T) {
	gate, s, now := newGateFixture(t)
	secret := totpSecret(t)

	a := seedGateAccount(t, s, func(a *domain.Account) {
		require.NoError(t, a.MFA.Enroll(secret, "phone", domain.FactorTOTP))
		require.NoError(t, a.MFA.ConfirmDevice(now.Add(domain.FactorValidity)))
	})

	t.Run("non-verify routes are rejected", func(t *testing.T) {
		err := gate.Evaluate(context.Background(), GateRequest{Subject: a.ID, Path: "/v1/orders"})

		var rej *PolicyRejection
		require.ErrorAs(t, err, &rej)
		require.Equal(t, RejectFactorNotVerified, rej.Reason)
	})

	t.Run("verify route without code", func(t *testing.T) {
		err := gate.Evaluate(context.Background(), GateRequest{Subject: a.ID, Path: "/v1/accounts/mfa/verify"})

		var rej *PolicyRejection
		require.ErrorAs(t, err, &rej)
		require.Equal(t, RejectNoCode, rej.Reason)
	})

	t.Run("wrong code mutates nothing", func(t *testing.T) {
		err := gate.Evaluate(context.Background(), GateRequest{
			Subject: a.ID,
			Path:    "/v1/accounts/mfa/verify",
			OTPCode: "000000",
		})
		require.ErrorIs(t, err, ErrBadOneTimeCode)

		got, err := s.Accounts().GetAccountByID(context.Background(), a.ID)
		require.NoError(t, err)
		require.False(t, got.MFA.FactorVerified)
	})

	t.Run("correct code verifies the factor", func(t *testing.T) {
		err := gate.Evaluate(context.Background(), GateRequest{
			Subject: a.ID,
			Path:    "/v1/accounts/mfa/verify",
			OTPCode: totpCode(t, secret, now),
		})
		require.NoError(t, err)

		got, err := s.Accounts().GetAccountByID(context.Background(), a.ID)
		require.NoError(t, err)
		require.True(t, got.MFA.FactorVerified)
		require.True(t, got.MFA.IsValid(now))
		require.WithinDuration(t, now.Add(domain.FactorValidity), *got.MFA.ValidUntil, time.Second)
	})
}

func TestGateAllowsInsideValidityWindow(t *testing.T) {
	gate, s, now := newGateFixture(t)
	secret := totpSecret(t)

	a := seedGateAccount(t, s, func(a *domain.Account) {
		require.NoError(t, a.MFA.Enroll(secret, "phone", domain.FactorTOTP))
		require.NoError(t, a.MFA.ConfirmDevice(now.Add(domain.FactorValidity)))
		require.NoError(t, a.MFA.VerifyFactor(now))
	})

	err := gate.Evaluate(context.Background(), GateRequest{Subject: a.ID, Path: "/v1/orders"})
	require.NoError(t, err)
}

func TestGateExpiredWindowDemandsReverification(t *testing.T) {
	gate, s, now := newGateFixture(t)
	secret := totpSecret(t)

	// Verified long ago; the window has elapsed.
	a := seedGateAccount(t, s, func(a *domain.Account) {
		require.NoError(t, a.MFA.Enroll(secret, "phone", domain.FactorTOTP))
		require.NoError(t, a.MFA.ConfirmDevice(now.Add(-time.Hour)))
		require.NoError(t, a.MFA.VerifyFactor(now.Add(-time.Hour)))
	})

	err := gate.Evaluate(context.Background(), GateRequest{Subject: a.ID, Path: "/v1/orders"})

	var rej *PolicyRejection
	require.ErrorAs(t, err, &rej)
	require.Equal(t, RejectFactorNotVerified, rej.Reason, "stale factor routes back to verification, not device confirmation")
}
