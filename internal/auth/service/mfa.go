package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/quollsec/warden/internal/auth/domain"
	"github.com/quollsec/warden/internal/auth/store"
)

var (
	ErrInvalidOTPCode    = errors.New("invalid one-time code")
	ErrMFANotEnrolled    = errors.New("MFA not enrolled for this account")
	ErrDeviceUnconfirmed = errors.New("MFA device not yet confirmed")
)

// MFAEnrollment is returned from Enroll; the secret and otpauth URL are shown
// to the user exactly once for authenticator setup.
type MFAEnrollment struct {
	Secret  string // Base32 encoded secret
	QRCode  string // otpauth:// URL for QR code generation
	Issuer  string // Issuer name (e.g., service name)
	Account string // Account name (e.g., username)
}

// MFAService drives the enrollment lifecycle of an account's second factor.
// Request-time enforcement lives in MFAGateService; this service only
// handles the explicit /mfa routes.
type MFAService struct {
	Store    store.Store
	Verifier *ChallengeVerifier
	Issuer   string // Issuer name for TOTP (e.g., "Warden")

	// Now allows tests to pin the clock. Defaults to time.Now.
	Now func() time.Time
}

// Enroll generates a secret for the account and flips its MFA state to
// enabled-but-unconfirmed. The device must be confirmed with a first code
// before the factor counts for anything.
func (s *MFAService) Enroll(ctx context.Context, accountID, deviceLabel string, factor domain.FactorType) (MFAEnrollment, error) {
	var out MFAEnrollment

	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		account, err := tx.Accounts().GetAccountByID(ctx, accountID)
		if err != nil {
			return err
		}

		key, err := totp.Generate(totp.GenerateOpts{
			Issuer:      s.Issuer,
			AccountName: account.Username,
			Period:      30,
			Digits:      otp.DigitsSix,
			Algorithm:   otp.AlgorithmSHA1,
		})
		if err != nil {
			return fmt.Errorf("generate totp key: %w", err)
		}

		if err := account.MFA.Enroll(key.Secret(), deviceLabel, factor); err != nil {
			return err
		}
		if err := tx.Accounts().UpdateAccount(ctx, account); err != nil {
			return err
		}

		out = MFAEnrollment{
			Secret:  key.Secret(),
			QRCode:  key.URL(),
			Issuer:  s.Issuer,
			Account: account.Username,
		}
		return nil
	})
	if err != nil {
		return MFAEnrollment{}, err
	}
	return out, nil
}

// ConfirmDevice proves possession of the enrolled authenticator by checking
// a first code, then trusts the device and opens the initial validity
// window.
func (s *MFAService) ConfirmDevice(ctx context.Context, accountID, code string) error {
	now := s.now()

	return s.Store.WithTx(ctx, func(tx store.Tx) error {
		account, err := tx.Accounts().GetAccountByID(ctx, accountID)
		if err != nil {
			return err
		}

		if !account.MFA.Enabled {
			return domain.ErrMFANotEnabled
		}
		if account.MFA.Secret == nil || account.MFA.FactorType == nil {
			return ErrMFANotEnrolled
		}
		if !s.Verifier.Accepts(*account.MFA.FactorType, code, *account.MFA.Secret) {
			return ErrInvalidOTPCode
		}

		// The factor itself stays unverified: the caller's next stop is the
		// verification route, which opens the first IsValid window.
		if err := account.MFA.ConfirmDevice(now.Add(domain.FactorValidity)); err != nil {
			return err
		}
		return tx.Accounts().UpdateAccount(ctx, account)
	})
}

// VerifyFactor checks a code and refreshes the validity window. This backs
// the explicit /mfa/verify route; the gate performs the same transition when
// it intercepts a code on that route.
func (s *MFAService) VerifyFactor(ctx context.Context, accountID, code string) error {
	now := s.now()

	return s.Store.WithTx(ctx, func(tx store.Tx) error {
		account, err := tx.Accounts().GetAccountByID(ctx, accountID)
		if err != nil {
			return err
		}

		if !account.MFA.Enabled {
			return domain.ErrMFANotEnabled
		}
		if !account.MFA.DeviceVerified {
			return ErrDeviceUnconfirmed
		}
		if account.MFA.Secret == nil || account.MFA.FactorType == nil {
			return ErrMFANotEnrolled
		}
		if !s.Verifier.Accepts(*account.MFA.FactorType, code, *account.MFA.Secret) {
			return ErrInvalidOTPCode
		}

		if err := account.MFA.VerifyFactor(now); err != nil {
			return err
		}
		return tx.Accounts().UpdateAccount(ctx, account)
	})
}

// Disable turns MFA off and clears every factor field. Idempotent.
func (s *MFAService) Disable(ctx context.Context, accountID string) error {
	return s.Store.WithTx(ctx, func(tx store.Tx) error {
		account, err := tx.Accounts().GetAccountByID(ctx, accountID)
		if err != nil {
			return err
		}

		account.MFA.Disable()
		return tx.Accounts().UpdateAccount(ctx, account)
	})
}

func (s *MFAService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}
