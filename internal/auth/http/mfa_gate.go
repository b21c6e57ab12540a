package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/quollsec/warden/internal/auth/service"
	"github.com/quollsec/warden/internal/auth/store"
	"github.com/quollsec/warden/pkg/httpx"
	"github.com/quollsec/warden/pkg/slogx"
)

// MFAGateMiddleware enforces the per-request second-factor policy. It runs
// after AuthnMiddleware: the primary token is already verified and its
// claims sit on the context. Requests from service accounts and from
// accounts without MFA pass straight through; everyone else must be inside
// a live verification window or on one of the MFA management routes.
func MFAGateMiddleware(gate *service.MFAGateService) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			log := slogx.FromContext(ctx)

			claims, ok := httpx.ClaimsFromContext(ctx)
			if !ok {
				// Route misconfiguration: the gate only makes sense behind
				// authentication.
				ErrInvalidToken.WriteError(w)
				return
			}

			req := service.GateRequest{
				Subject:        claims.Subject,
				ServiceAccount: claims.ServiceAccount,
				Path:           r.URL.Path,
				OTPCode:        otpCodeFromRequest(r),
			}

			err := gate.Evaluate(ctx, req)
			if errors.Is(err, store.ErrVersionConflict) {
				// A concurrent verification won the write; the state it
				// produced is exactly what this request wanted, so one
				// re-evaluation settles it.
				err = gate.Evaluate(ctx, req)
			}
			if err != nil {
				var rejection *service.PolicyRejection
				switch {
				case errors.As(err, &rejection):
					writeMFARejection(w, rejection.Reason)
				case errors.Is(err, service.ErrBadOneTimeCode):
					ErrInvalidGrant.WriteError(w)
				case errors.Is(err, store.ErrNotFound):
					// Token subject has no account; treat as a dead token.
					ErrInvalidToken.WriteError(w)
				default:
					log.Error("mfa gate evaluation failed", "err", err)
					ErrServerError.WriteError(w)
				}
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// otpCodeFromRequest pulls the otp_code parameter from the query string
// first, then the form body. ParseForm is idempotent, so the downstream
// handler can still read the same body.
func otpCodeFromRequest(r *http.Request) string {
	if code := strings.TrimSpace(r.URL.Query().Get("otp_code")); code != "" {
		return code
	}
	if err := r.ParseForm(); err != nil {
		return ""
	}
	return strings.TrimSpace(r.PostForm.Get("otp_code"))
}
