package http

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/quollsec/warden/internal/auth/domain"
	"github.com/quollsec/warden/internal/auth/service"
	"github.com/quollsec/warden/pkg/httpx"
	"github.com/quollsec/warden/pkg/slogx"
)

// MFAEnrollResponse is returned once at enrollment; the secret is never
// shown again.
type MFAEnrollResponse struct {
	Secret  string `json:"secret"`
	QRCode  string `json:"qr_code"`
	Issuer  string `json:"issuer"`
	Account string `json:"account"`
}

// MFAHandler serves the MFA management routes under /v1/accounts/mfa. All
// routes are authenticated and form-encoded; the gate middleware has already
// run by the time these handlers execute.
type MFAHandler struct {
	MFAService *service.MFAService
}

// HandleEnroll godoc
//
//	@Summary		Enroll a second factor
//	@Description	Generates a factor secret and enables MFA for the authenticated account. The device must be confirmed with a first code before the factor is trusted.
//	@Tags			MFA
//	@Security		BearerAuth
//	@Accept			application/x-www-form-urlencoded
//	@Produce		json
//	@Param			device_label	formData	string				false	"Human label for the authenticator device"
//	@Param			factor_type		formData	string				false	"Factor type"	Enums(totp, email)	default(totp)
//	@Success		200				{object}	MFAEnrollResponse	"secret, qr_code, issuer, account"
//	@Failure		400				{object}	OAuth2Error			"error, error_description"
//	@Failure		401				{object}	OAuth2Error			"error, error_description"
//	@Failure		409				{object}	OAuth2Error			"error, error_description"
//	@Router			/v1/accounts/mfa [post].
func (h *MFAHandler) HandleEnroll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	accountID, ok := subjectFromContext(r)
	if !ok {
		ErrInvalidToken.WriteError(w)
		return
	}

	if err := r.ParseForm(); err != nil {
		ErrInvalidFormBody.WriteError(w)
		return
	}

	factor := domain.FactorTOTP
	switch strings.TrimSpace(r.PostForm.Get("factor_type")) {
	case "", string(domain.FactorTOTP):
	case string(domain.FactorEmail):
		factor = domain.FactorEmail
	default:
		ErrInvalidRequest.WriteError(w)
		return
	}

	enrollment, err := h.MFAService.Enroll(ctx, accountID, strings.TrimSpace(r.PostForm.Get("device_label")), factor)
	if err != nil {
		if errors.Is(err, domain.ErrMFAAlreadyEnabled) {
			(&OAuth2Error{
				StatusCode:  http.StatusConflict,
				Code:        ErrorCodeInvalidRequest,
				Description: "mfa is already enabled for this account",
			}).WriteError(w)
			return
		}
		log.Error("mfa enrollment failed", "account_id", accountID, "err", err)
		ErrServerError.WriteError(w)
		return
	}

	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, MFAEnrollResponse{
		Secret:  enrollment.Secret,
		QRCode:  enrollment.QRCode,
		Issuer:  enrollment.Issuer,
		Account: enrollment.Account,
	})
}

// HandleConfirmDevice godoc
//
//	@Summary		Confirm the enrolled device
//	@Description	Accepts the first code from the new authenticator, proving the user captured the secret. The factor still needs verification afterwards.
//	@Tags			MFA
//	@Security		BearerAuth
//	@Accept			application/x-www-form-urlencoded
//	@Produce		json
//	@Param			otp_code	formData	string		true	"One-time code from the enrolled device"
//	@Success		204			{string}	string		"device confirmed"
//	@Failure		400			{object}	OAuth2Error	"error, error_description"
//	@Failure		401			{object}	OAuth2Error	"error, error_description"
//	@Router			/v1/accounts/mfa/device/confirm [post].
func (h *MFAHandler) HandleConfirmDevice(w http.ResponseWriter, r *http.Request) {
	h.applyCode(w, r, h.MFAService.ConfirmDevice)
}

// HandleVerify godoc
//
//	@Summary		Verify the second factor
//	@Description	Accepts a one-time code and opens (or refreshes) the verification window that the gate checks on every request.
//	@Tags			MFA
//	@Security		BearerAuth
//	@Accept			application/x-www-form-urlencoded
//	@Produce		json
//	@Param			otp_code	formData	string		true	"One-time code from the confirmed device"
//	@Success		204			{string}	string		"factor verified"
//	@Failure		400			{object}	OAuth2Error	"error, error_description"
//	@Failure		401			{object}	OAuth2Error	"error, error_description"
//	@Router			/v1/accounts/mfa/verify [post].
func (h *MFAHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	h.applyCode(w, r, h.MFAService.VerifyFactor)
}

// HandleDisable godoc
//
//	@Summary		Disable MFA
//	@Description	Turns the second factor off and clears the enrolled secret. Idempotent.
//	@Tags			MFA
//	@Security		BearerAuth
//	@Produce		json
//	@Success		204	{string}	string		"mfa disabled"
//	@Failure		401	{object}	OAuth2Error	"error, error_description"
//	@Router			/v1/accounts/mfa/disable [post].
func (h *MFAHandler) HandleDisable(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	accountID, ok := subjectFromContext(r)
	if !ok {
		ErrInvalidToken.WriteError(w)
		return
	}

	if err := h.MFAService.Disable(ctx, accountID); err != nil {
		log.Error("mfa disable failed", "account_id", accountID, "err", err)
		ErrServerError.WriteError(w)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// applyCode is the shared body of the confirm and verify routes: both take
// an otp_code form field and differ only in the service call.
func (h *MFAHandler) applyCode(
	w http.ResponseWriter,
	r *http.Request,
	apply func(ctx context.Context, accountID, code string) error,
) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	accountID, ok := subjectFromContext(r)
	if !ok {
		ErrInvalidToken.WriteError(w)
		return
	}

	if err := r.ParseForm(); err != nil {
		ErrInvalidFormBody.WriteError(w)
		return
	}

	code := strings.TrimSpace(r.PostForm.Get("otp_code"))
	if code == "" {
		ErrInvalidRequest.WriteError(w)
		return
	}

	if err := apply(ctx, accountID, code); err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidOTPCode):
			ErrInvalidGrant.WriteError(w)
		case errors.Is(err, domain.ErrMFANotEnabled),
			errors.Is(err, service.ErrMFANotEnrolled),
			errors.Is(err, service.ErrDeviceUnconfirmed),
			errors.Is(err, domain.ErrDeviceNotVerified):
			ErrInvalidRequest.WriteError(w)
		default:
			log.Error("mfa code application failed", "account_id", accountID, "err", err)
			ErrServerError.WriteError(w)
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// subjectFromContext returns the authenticated account id placed on the
// context by AuthnMiddleware.
func subjectFromContext(r *http.Request) (string, bool) {
	id, ok := r.Context().Value(httpx.CtxKeyUserID).(string)
	return id, ok && id != ""
}
