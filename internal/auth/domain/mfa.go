package domain

import (
	"errors"
	"time"
)

// FactorType identifies which one-time-code mechanism an account enrolled.
type FactorType string

const (
	FactorTOTP  FactorType = "totp"
	FactorEmail FactorType = "email"
)

// FactorValidity is how long a successful factor verification clears the
// caller before they must verify again.
const FactorValidity = 30 * time.Minute

var (
	ErrMFANotEnabled     = errors.New("mfa not enabled for this account")
	ErrMFAAlreadyEnabled = errors.New("mfa already enabled for this account")
	ErrDeviceNotVerified = errors.New("mfa device not verified")
)

// MFAState is the second-factor state machine embedded in an Account.
//
// Lifecycle: Disabled -> Enroll -> device unverified -> ConfirmDevice ->
// factor unverified -> VerifyFactor -> active. VerifyFactor can be repeated
// to extend the validity window. Disable returns to Disabled from any state.
//
// Secret, DeviceLabel and FactorType are set only while Enabled is true.
type MFAState struct {
	ID             string
	Enabled        bool
	DeviceVerified bool
	FactorVerified bool
	Secret         *string
	DeviceLabel    *string
	FactorType     *FactorType
	ValidUntil     *time.Time
}

// Enroll activates MFA with a freshly generated secret. The device is not
// yet trusted; the account must confirm it with a first code.
func (m *MFAState) Enroll(secret, deviceLabel string, factor FactorType) error {
	if m.Enabled {
		return ErrMFAAlreadyEnabled
	}

	m.Enabled = true
	m.DeviceVerified = false
	m.FactorVerified = false
	m.Secret = &secret
	m.DeviceLabel = &deviceLabel
	m.FactorType = &factor
	m.ValidUntil = nil
	return nil
}

// ConfirmDevice marks the enrolled device as trusted and opens the first
// validity window. Callers must have already checked the submitted code
// against the secret.
func (m *MFAState) ConfirmDevice(validUntil time.Time) error {
	if !m.Enabled {
		return ErrMFANotEnabled
	}

	m.DeviceVerified = true
	m.ValidUntil = &validUntil
	return nil
}

// VerifyFactor records a successful one-time-code check, refreshing the
// validity window to now + FactorValidity. Safe to call repeatedly; each
// call extends the window.
func (m *MFAState) VerifyFactor(now time.Time) error {
	if !m.Enabled {
		return ErrMFANotEnabled
	}
	if !m.DeviceVerified {
		return ErrDeviceNotVerified
	}

	until := now.Add(FactorValidity)
	m.FactorVerified = true
	m.ValidUntil = &until
	return nil
}

// Disable clears the entire factor state. Idempotent.
func (m *MFAState) Disable() {
	m.Enabled = false
	m.DeviceVerified = false
	m.FactorVerified = false
	m.Secret = nil
	m.DeviceLabel = nil
	m.FactorType = nil
	m.ValidUntil = nil
}

// IsValid reports whether the account has cleared its second factor and the
// validity window has not elapsed. Once ValidUntil passes, IsValid reverts
// to false and the account must call VerifyFactor again; the device stays
// confirmed.
func (m *MFAState) IsValid(now time.Time) bool {
	if !m.Enabled {
		return false
	}
	return m.DeviceVerified &&
		m.FactorVerified &&
		m.ValidUntil != nil &&
		now.Before(*m.ValidUntil)
}
