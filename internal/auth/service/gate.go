package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/quollsec/warden/internal/auth/metrics"
	"github.com/quollsec/warden/internal/auth/store"
	"github.com/quollsec/warden/pkg/slogx"
)

// Route suffixes the gate special-cases. Matching is on the path suffix so
// the gate works regardless of the mount prefix.
const (
	routeSuffixEnroll        = "/mfa"
	routeSuffixDisable       = "/mfa/disable"
	routeSuffixConfirmDevice = "/mfa/device/confirm"
	routeSuffixVerifyFactor  = "/mfa/verify"
)

// Machine-readable rejection reasons, emitted in the MFA-ERROR-OTP header.
const (
	RejectDeviceNotVerified = "DEVICE-NOT-VERIFIED"
	RejectFactorNotVerified = "MFA-NOT-VERIFIED"
	RejectNoCode            = "NO-OTP-CODE"
)

// ErrBadOneTimeCode is returned when a submitted code fails verification.
// It carries no reason on purpose: a wrong code must be indistinguishable
// from other credential failures.
var ErrBadOneTimeCode = errors.New("one-time code rejected")

// PolicyRejection is a recoverable MFA gate denial. The HTTP layer turns it
// into a 401 with WWW-Authenticate: OTP and the MFA-ERROR-OTP diagnostic.
type PolicyRejection struct {
	Reason string
}

func (e *PolicyRejection) Error() string {
	return "mfa required: " + e.Reason
}

// GateRequest is the slice of an inbound request the gate needs to decide.
type GateRequest struct {
	// Subject is the authenticated principal's account id; empty when the
	// route is unauthenticated.
	Subject string

	// ServiceAccount is the machine-credential claim from the primary
	// token. Service principals bypass the gate entirely.
	ServiceAccount bool

	// Path is the request path, matched by suffix against the MFA routes.
	Path string

	// OTPCode is the otp_code request parameter, possibly blank.
	OTPCode string
}

// MFAGateService evaluates the per-request second-factor policy after
// primary authentication. Every step is a pure read except the final code
// verification, which refreshes the factor's validity window inside a
// transaction.
type MFAGateService struct {
	Store    store.Store
	Verifier *ChallengeVerifier

	// Now allows tests to pin the clock. Defaults to time.Now.
	Now func() time.Time
}

// Evaluate returns nil when the request may proceed. It returns a
// *PolicyRejection when the caller must supply (or fix) a second factor,
// ErrBadOneTimeCode when a code was supplied and failed, store.ErrNotFound
// when the principal has no account, and store.ErrVersionConflict when a
// concurrent verification won the write (the caller retries the whole
// evaluation).
func (s *MFAGateService) Evaluate(ctx context.Context, req GateRequest) error {
	log := slogx.FromContext(ctx)

	// 1. Unauthenticated routes enforce their own access control.
	if req.Subject == "" {
		return nil
	}

	// 2. Service-to-service calls never carry a second factor.
	if req.ServiceAccount {
		return nil
	}

	now := s.now()

	account, err := s.Store.Accounts().GetAccountByID(ctx, req.Subject)
	if err != nil {
		return err
	}

	// 4-5. Nothing to enforce when MFA is off or already cleared.
	if !account.MFA.Enabled {
		return nil
	}
	if account.MFA.IsValid(now) {
		return nil
	}

	if !account.MFA.DeviceVerified {
		// 6-7. An account stuck before device confirmation must still be
		// able to reach enrollment and to back out entirely.
		if hasSuffix(req.Path, routeSuffixEnroll) || hasSuffix(req.Path, routeSuffixDisable) {
			return nil
		}
		// 8. Everything except device confirmation is off limits.
		if !hasSuffix(req.Path, routeSuffixConfirmDevice) {
			return s.reject(RejectDeviceNotVerified)
		}
	} else if !hasSuffix(req.Path, routeSuffixVerifyFactor) {
		// 9. A confirmed device with a stale factor may only go verify it.
		return s.reject(RejectFactorNotVerified)
	}

	// 10. The remaining routes carry a code.
	if strings.TrimSpace(req.OTPCode) == "" {
		return s.reject(RejectNoCode)
	}

	// 11. Check the code. On the device-confirmation route the handler owns
	// the state transition, so the gate only validates; on the verification
	// route the gate itself refreshes the validity window, transactionally.
	if !account.MFA.DeviceVerified {
		if account.MFA.Secret == nil || account.MFA.FactorType == nil ||
			!s.Verifier.Accepts(*account.MFA.FactorType, req.OTPCode, *account.MFA.Secret) {
			return ErrBadOneTimeCode
		}
		return nil
	}

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		// Re-read inside the transaction so the verify-then-write is not a
		// check-then-act race against a concurrent submission.
		fresh, err := tx.Accounts().GetAccountByID(ctx, req.Subject)
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
		if !errors.Is(err, ErrBadOneTimeCode) {
			log.Warn("mfa factor verification write failed", "err", err, "account_id", req.Subject)
		}
		return err
	}

	return nil
}

func (s *MFAGateService) reject(reason string) error {
	metrics.GateRejections.WithLabelValues(reason).Inc()
	return &PolicyRejection{Reason: reason}
}

func (s *MFAGateService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func hasSuffix(path, suffix string) bool {
	path = strings.TrimRight(path, "/")
	return strings.HasSuffix(path, suffix)
}
