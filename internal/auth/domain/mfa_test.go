package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quollsec/warden/internal/auth/domain"
)

func TestMFAStateLifecycle(t *testing.T) {
	now := time.Now().UTC()
	var m domain.MFAState

	require.False(t, m.IsValid(now), "disabled state is never valid")

	require.NoError(t, m.Enroll("JBSWY3DPEHPK3PXP", "phone", domain.FactorTOTP))
	require.True(t, m.Enabled)
	require.False(t, m.DeviceVerified)
	require.False(t, m.IsValid(now))

	require.NoError(t, m.ConfirmDevice(now.Add(domain.FactorValidity)))
	require.True(t, m.DeviceVerified)
	require.False(t, m.IsValid(now), "factor still unverified")

	require.NoError(t, m.VerifyFactor(now))
	require.True(t, m.IsValid(now))
	require.WithinDuration(t, now.Add(domain.FactorValidity), *m.ValidUntil, time.Second)
}

func TestMFAStateValidityExpires(t *testing.T) {
	now := time.Now().UTC()
	var m domain.MFAState

	require.NoError(t, m.Enroll("SECRET", "phone", domain.FactorTOTP))
	require.NoError(t, m.ConfirmDevice(now.Add(domain.FactorValidity)))
	require.NoError(t, m.VerifyFactor(now))

	require.True(t, m.IsValid(now))
	require.False(t, m.IsValid(now.Add(domain.FactorValidity)), "window elapsed")

	// Re-verification restores validity without re-confirming the device.
	later := now.Add(time.Hour)
	require.NoError(t, m.VerifyFactor(later))
	require.True(t, m.IsValid(later))
}

func TestMFAStateGuards(t *testing.T) {
	now := time.Now().UTC()

	t.Run("confirm before enroll", func(t *testing.T) {
		var m domain.MFAState
		require.ErrorIs(t, m.ConfirmDevice(now), domain.ErrMFANotEnabled)
	})

	t.Run("verify before enroll", func(t *testing.T) {
		var m domain.MFAState
		require.ErrorIs(t, m.VerifyFactor(now), domain.ErrMFANotEnabled)
	})

	t.Run("verify before device confirm", func(t *testing.T) {
		var m domain.MFAState
		require.NoError(t, m.Enroll("SECRET", "phone", domain.FactorTOTP))
		require.ErrorIs(t, m.VerifyFactor(now), domain.ErrDeviceNotVerified)
	})

	t.Run("double enroll", func(t *testing.T) {
		var m domain.MFAState
		require.NoError(t, m.Enroll("SECRET", "phone", domain.FactorTOTP))
		require.ErrorIs(t, m.Enroll("OTHER", "tablet", domain.FactorTOTP), domain.ErrMFAAlreadyEnabled)
	})
}

func TestMFAStateDisableIdempotent(t *testing.T) {
	now := time.Now().UTC()
	var m domain.MFAState

	require.NoError(t, m.Enroll("SECRET", "phone", domain.FactorTOTP))
	require.NoError(t, m.ConfirmDevice(now))

	m.Disable()
	first := m
	m.Disable()

	require.Equal(t, first, m)
	require.False(t, m.Enabled)
	require.Nil(t, m.Secret)
	require.Nil(t, m.DeviceLabel)
	require.Nil(t, m.FactorType)
	require.Nil(t, m.ValidUntil)
	require.False(t, m.IsValid(now))
}

func TestAccountRoles(t *testing.T) {
	a := domain.Account{RoleIDs: []string{"role-1"}}

	a.AddRole("role-2")
	a.AddRole("role-2") // no duplicate
	require.Equal(t, []string{"role-1", "role-2"}, a.RoleIDs)

	require.NoError(t, a.RemoveRole("role-1"))
	require.ErrorIs(t, a.RemoveRole("role-2"), domain.ErrLastRole)
	require.NoError(t, a.RemoveRole("missing"))
}

func TestGrantTokenFamily(t *testing.T) {
	g := domain.AuthorizationGrant{ID: "grant-1"}
	require.False(t, g.Issued())

	tok := &domain.Token{Value: "abc"}
	require.NoError(t, g.SetToken(domain.KindAccessToken, tok))
	require.True(t, g.Issued())
	require.Equal(t, tok, g.Token(domain.KindAccessToken))
	require.Nil(t, g.Token(domain.KindRefreshToken))

	require.ErrorIs(t, g.SetToken(domain.TokenKind("bogus"), tok), domain.ErrUnknownTokenKind)
}
