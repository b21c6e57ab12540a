package service

import (
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/quollsec/warden/internal/auth/domain"
)

// emailCodePeriod is the validity window for emailed one-time codes. Email
// delivery is slow compared to an authenticator app, so the step is wider
// than the TOTP default.
const emailCodePeriod = 5 * time.Minute

// ChallengeVerifier checks a submitted one-time code against a stored
// secret. It holds no state; the underlying HOTP comparison is
// constant-time.
type ChallengeVerifier struct {
	// Now allows tests to pin the clock. Defaults to time.Now.
	Now func() time.Time
}

// Accepts reports whether code is currently valid for the secret under the
// given factor type. Unknown factor types are rejected.
func (v *ChallengeVerifier) Accepts(factor domain.FactorType, code, secret string) bool {
	if code == "" || secret == "" {
		return false
	}

	now := time.Now()
	if v.Now != nil {
		now = v.Now()
	}

	switch factor {
	case domain.FactorTOTP:
		ok, err := totp.ValidateCustom(code, secret, now, totp.ValidateOpts{
			Period:    30,
			Skew:      1,
			Digits:    otp.DigitsSix,
			Algorithm: otp.AlgorithmSHA1,
		})
		return err == nil && ok

	case domain.FactorEmail:
		// Email codes are derived from the same secret but stepped on a
		// five minute period, with one step of skew for delivery delay.
		ok, err := totp.ValidateCustom(code, secret, now, totp.ValidateOpts{
			Period:    uint(emailCodePeriod.Seconds()),
			Skew:      1,
			Digits:    otp.DigitsSix,
			Algorithm: otp.AlgorithmSHA1,
		})
		return err == nil && ok

	default:
		return false
	}
}
