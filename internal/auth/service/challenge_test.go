package service

import (
	"testing"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"

	"github.com/quollsec/warden/internal/auth/domain"
)

func TestChallengeVerifierTOTP(t *testing.T) {
	now := time.Now().UTC()
	v := &ChallengeVerifier{Now: func() time.Time { return now }}
	secret := totpSecret(t)

	require.True(t, v.Accepts(domain.FactorTOTP, totpCode(t, secret, now), secret))
	require.False(t, v.Accepts(domain.FactorTOTP, "000000", secret))

	t.Run("one step of skew is tolerated", func(t *testing.T) {
		require.True(t, v.Accepts(domain.FactorTOTP, totpCode(t, secret, now.Add(-30*time.Second)), secret))
	})

	t.Run("stale codes are rejected", func(t *testing.T) {
		require.False(t, v.Accepts(domain.FactorTOTP, totpCode(t, secret, now.Add(-5*time.Minute)), secret))
	})
}

func TestChallengeVerifierEmail(t *testing.T) {
	now := time.Now().UTC()
	v := &ChallengeVerifier{Now: func() time.Time { return now }}
	secret := totpSecret(t)

	emailCode := func(at time.Time) string {
		code, err := totp.GenerateCodeCustom(secret, at, totp.ValidateOpts{
			Period:    uint(emailCodePeriod.Seconds()),
			Digits:    otp.DigitsSix,
			Algorithm: otp.AlgorithmSHA1,
		})
		require.NoError(t, err)
		return code
	}

	require.True(t, v.Accepts(domain.FactorEmail, emailCode(now), secret))
	require.False(t, v.Accepts(domain.FactorEmail, "000000", secret))

	t.Run("codes outlive the TOTP window", func(t *testing.T) {
		// Four minutes old is fine on the five minute email period.
		require.True(t, v.Accepts(domain.FactorEmail, emailCode(now.Add(-4*time.Minute)), secret))
	})
}

func TestChallengeVerifierEdgeInputs(t *testing.T) {
	v := &ChallengeVerifier{}
	secret := totpSecret(t)

	require.False(t, v.Accepts(domain.FactorTOTP, "", secret))
	require.False(t, v.Accepts(domain.FactorTOTP, "123456", ""))
	require.False(t, v.Accepts(domain.FactorType("sms"), "123456", secret))
}
