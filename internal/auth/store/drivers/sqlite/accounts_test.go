package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quollsec/warden/internal/auth/domain"
	"github.com/quollsec/warden/internal/auth/store"
	"github.com/quollsec/warden/internal/auth/store/drivers/sqlite"
	"github.com/quollsec/warden/pkg/idx"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()

	s, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.ApplyMigrations())
	return s
}

func newTestAccount() domain.Account {
	return domain.Account{
		ID:           idx.New().String(),
		Username:     "alice",
		Email:        "alice@example.com",
		PasswordHash: "argon2:dummy",
		RoleIDs:      []string{"role-member"},
		MFA:          domain.MFAState{ID: idx.New().String()},
	}
}

func TestAccountRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a := newTestAccount()
	require.NoError(t, s.Accounts().CreateAccount(ctx, a))

	got, err := s.Accounts().GetAccountByUsername(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, a.ID, got.ID)
	require.Equal(t, a.Email, got.Email)
	require.Equal(t, a.RoleIDs, got.RoleIDs)
	require.False(t, got.MFA.Enabled)
	require.Nil(t, got.MFA.Secret)
	require.EqualValues(t, 0, got.Version)

	_, err = s.Accounts().GetAccountByID(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestAccountUpdatePersistsMFAState(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a := newTestAccount()
	require.NoError(t, s.Accounts().CreateAccount(ctx, a))

	got, err := s.Accounts().GetAccountByID(ctx, a.ID)
	require.NoError(t, err)

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, got.MFA.Enroll("JBSWY3DPEHPK3PXP", "phone", domain.FactorTOTP))
	require.NoError(t, got.MFA.ConfirmDevice(now.Add(domain.FactorValidity)))
	require.NoError(t, s.Accounts().UpdateAccount(ctx, got))

	reloaded, err := s.Accounts().GetAccountByID(ctx, a.ID)
	require.NoError(t, err)
	require.True(t, reloaded.MFA.Enabled)
	require.True(t, reloaded.MFA.DeviceVerified)
	require.False(t, reloaded.MFA.FactorVerified)
	require.NotNil(t, reloaded.MFA.Secret)
	require.Equal(t, "JBSWY3DPEHPK3PXP", *reloaded.MFA.Secret)
	require.NotNil(t, reloaded.MFA.FactorType)
	require.Equal(t, domain.FactorTOTP, *reloaded.MFA.FactorType)
	require.EqualValues(t, 1, reloaded.Version)
}

func TestAccountUpdateVersionConflict(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a := newTestAccount()
	require.NoError(t, s.Accounts().CreateAccount(ctx, a))

	// Two readers load the same version; only the first write lands.
	first, err := s.Accounts().GetAccountByID(ctx, a.ID)
	require.NoError(t, err)
	second, err := s.Accounts().GetAccountByID(ctx, a.ID)
	require.NoError(t, err)

	first.Email = "first@example.com"
	require.NoError(t, s.Accounts().UpdateAccount(ctx, first))

	second.Email = "second@example.com"
	err = s.Accounts().UpdateAccount(ctx, second)
	require.ErrorIs(t, err, store.ErrVersionConflict)

	got, err := s.Accounts().GetAccountByID(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, "first@example.com", got.Email)
}

func TestAccountSoftDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a := newTestAccount()
	require.NoError(t, s.Accounts().CreateAccount(ctx, a))
	require.NoError(t, s.Accounts().SoftDeleteAccount(ctx, a.ID))

	got, err := s.Accounts().GetAccountByID(ctx, a.ID)
	require.NoError(t, err, "soft-deleted rows remain readable")
	require.True(t, got.Deleted)
}
