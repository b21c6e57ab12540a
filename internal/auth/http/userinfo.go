package http

import (
	"errors"
	"net/http"

	"github.com/quollsec/warden/internal/auth/service"
	"github.com/quollsec/warden/internal/auth/store"
	"github.com/quollsec/warden/pkg/httpx"
	"github.com/quollsec/warden/pkg/slogx"
)

type UserInfoHandler struct {
	AccountService *service.AccountService
}

// ServeHTTP handles the OAuth2 UserInfo endpoint.
//
//	@Summary		Get account profile
//	@Description	Returns the authenticated account's profile. Requires 'profile:read' scope.
//	@Tags			OAuth2
//	@Security		BearerAuth
//	@Produce		json
//	@Success		200	{object}	service.Profile	"sub, preferred_username, email, authorities, mfa_enabled"
//	@Failure		401	{object}	OAuth2Error		"Invalid or missing access token"
//	@Failure		500	{object}	OAuth2Error		"Internal server error"
//	@Router			/v1/userinfo [get].
func (h *UserInfoHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	accountID, ok := subjectFromContext(r)
	if !ok {
		ErrInvalidToken.WriteError(w)
		return
	}

	profile, err := h.AccountService.GetProfile(ctx, accountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Token outlived the account.
			ErrInvalidToken.WriteError(w)
			return
		}
		log.Warn("failed to load profile", "account_id", accountID, "err", err)
		ErrServerError.WriteError(w)
		return
	}

	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, profile)
}
