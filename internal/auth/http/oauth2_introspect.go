package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/quollsec/warden/internal/auth/service"
	"github.com/quollsec/warden/pkg/httpx"
	"github.com/quollsec/warden/pkg/slogx"
)

// IntrospectHandler serves POST /v1/oauth2/introspect per RFC 7662.
// Callers authenticate with client credentials; any token value minted by
// the service can be introspected, not only access tokens.
type IntrospectHandler struct {
	TokenService *service.TokenService
}

// ServeHTTP godoc
//
//	@Summary		OAuth2 Token Introspection
//	@Description	Reports whether a token value is active and, if so, its scope, owner and expiry.
//	@Tags			OAuth2
//	@Accept			application/x-www-form-urlencoded
//	@Produce		json
//	@Param			token			formData	string					true	"Token value of any kind"
//	@Param			client_id		formData	string					false	"Client identifier (or HTTP Basic auth)"
//	@Param			client_secret	formData	string					false	"Client secret (or HTTP Basic auth)"
//	@Success		200				{object}	service.Introspection	"active plus token metadata when active"
//	@Failure		400				{object}	OAuth2Error				"error, error_description"
//	@Failure		401				{object}	OAuth2Error				"error, error_description"
//	@Router			/v1/oauth2/introspect [post].
func (h *IntrospectHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
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
	info, err := h.TokenService.Introspect(ctx, clientID, clientSecret, token)
	if err != nil {
		if errors.Is(err, service.ErrInvalidClient) {
			ErrInvalidClient.WriteError(w)
			return
		}
		log.Error("introspection failed", "err", err)
		ErrServerError.WriteError(w)
		return
	}

	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, info)
}
