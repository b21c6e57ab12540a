package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/quollsec/warden/internal/auth/service"
	"github.com/quollsec/warden/pkg/httpx"
	"github.com/quollsec/warden/pkg/slogx"
)

// RevokeHandler serves POST /v1/oauth2/revoke per RFC 7009. Revoking any
// token in a grant's family removes the whole grant, so a leaked refresh
// token takes the live access token down with it.
type RevokeHandler struct {
	TokenService *service.TokenService
}

// ServeHTTP godoc
//
//	@Summary		OAuth2 Token Revocation
//	@Description	Revokes the authorization grant a token value belongs to. Unknown tokens return 200 per RFC 7009.
//	@Tags			OAuth2
//	@Accept			application/x-www-form-urlencoded
//	@Produce		json
//	@Param			token			formData	string		true	"Token value of any kind"
//	@Param			client_id		formData	string		false	"Client identifier (or HTTP Basic auth)"
//	@Param			client_secret	formData	string		false	"Client secret (or HTTP Basic auth)"
//	@Success		200				{string}	string		"empty body"
//	@Failure		400				{object}	OAuth2Error	"error, error_description"
//	@Failure		401				{object}	OAuth2Error	"error, error_description"
//	@Router			/v1/oauth2/revoke [post].
func (h *RevokeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	if err := r.ParseForm(); err != nil {
		ErrInvalidFormBody.WriteError(w)
		return
	}

	token := strings.TrimSpace(r.Form.Get("token"))
	if token == "" {
		ErrInvalidRequest.WriteError(w)
		return
	}

	clientID, clientSecret := clientCredentials(r, r.Form)
	if err := h.TokenService.Revoke(ctx, clientID, clientSecret, token); err != nil {
		if errors.Is(err, service.ErrInvalidClient) {
			ErrInvalidClient.WriteError(w)
			return
		}
		log.Error("revocation failed", "err", err)
		ErrServerError.WriteError(w)
		return
	}

	httpx.NoCache(w)
	w.WriteHeader(http.StatusOK)
}
