package http

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/quollsec/warden/internal/auth/domain"
	"github.com/quollsec/warden/internal/auth/service"
	"github.com/quollsec/warden/internal/auth/store"
	"github.com/quollsec/warden/pkg/httpx"
	"github.com/quollsec/warden/pkg/slogx"
)

// TokenResponse is the token endpoint's success body per RFC 6749 §5.1,
// extended with the OIDC id_token parameter.
type TokenResponse struct {
	AccessToken   string `json:"access_token"`
	TokenType     string `json:"token_type"`
	ExpiresIn     int    `json:"expires_in"`
	RefreshToken  string `json:"refresh_token,omitempty"`
	IdentityToken string `json:"id_token,omitempty"`
	Scope         string `json:"scope,omitempty"`
}

// TokenHandler serves POST /v1/oauth2/token
// Accepts application/x-www-form-urlencoded per the RFC 6749 framework.
type TokenHandler struct {
	TokenService *service.TokenService
}

// ServeHTTP godoc
//
//	@Summary		OAuth2 Token Endpoint
//	@Description	Issues access, refresh and identity tokens using OAuth2 grant types (password, refresh_token, client_credentials).
//	@Tags			OAuth2
//	@Accept			application/x-www-form-urlencoded
//	@Produce		json
//	@Param			grant_type		formData	string			true	"Grant type"	Enums(password, refresh_token, client_credentials)
//	@Param			client_id		formData	string			false	"Client identifier (or HTTP Basic auth)"
//	@Param			client_secret	formData	string			false	"Client secret (or HTTP Basic auth)"
//	@Param			username		formData	string			false	"Resource owner username (password grant)"
//	@Param			password		formData	string			false	"Resource owner password (password grant)"
//	@Param			otp_code		formData	string			false	"One-time code when the account has MFA enabled"
//	@Param			refresh_token	formData	string			false	"Refresh token (refresh_token grant)"
//	@Param			scope			formData	string			false	"Space-delimited list of scopes"
//	@Success		200				{object}	TokenResponse	"access_token, token_type, expires_in, refresh_token, id_token, scope"
//	@Failure		400				{object}	OAuth2Error		"error, error_description"
//	@Failure		401				{object}	OAuth2Error		"error, error_description"
//	@Failure		500				{object}	OAuth2Error		"error, error_description"
//	@Header			200				{string}	Cache-Control	"no-store"
//	@Router			/v1/oauth2/token [post].
func (h *TokenHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// 1. Ensure the right content-type
	if ct := r.Header.Get("Content-Type"); ct != "" &&
		!strings.HasPrefix(ct, "application/x-www-form-urlencoded") {
		ErrInvalidContentType.WriteError(w)
		return
	}

	// 2. Parse the form body
	if err := r.ParseForm(); err != nil {
		ErrInvalidFormBody.WriteError(w)
		return
	}

	// 3. Handle the grant type
	switch r.Form.Get("grant_type") {
	case "password":
		h.handlePasswordGrant(w, r, r.Form)
	case "refresh_token":
		h.handleRefreshGrant(w, r, r.Form)
	case "client_credentials":
		h.handleClientCredentialsGrant(w, r, r.Form)
	default:
		ErrUnsupportedGrantType.WriteError(w)
	}
}

func (h *TokenHandler) handlePasswordGrant(w http.ResponseWriter, r *http.Request, form url.Values) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	clientID, clientSecret := clientCredentials(r, form)
	username := strings.TrimSpace(form.Get("username"))
	password := form.Get("password")

	if clientID == "" || username == "" || password == "" {
		ErrInvalidRequest.WriteError(w)
		return
	}

	issued, err := h.TokenService.ExchangePassword(ctx, service.PasswordGrantRequest{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Username:     username,
		Password:     password,
		Scopes:       httpx.ParseSpaceDelimitedFields(form.Get("scope")),
		OTPCode:      strings.TrimSpace(form.Get("otp_code")),
	})
	if err != nil {
		var rejection *service.PolicyRejection
		switch {
		case errors.As(err, &rejection):
			writeMFARejection(w, rejection.Reason)
		case errors.Is(err, service.ErrInvalidClient):
			ErrInvalidClient.WriteError(w)
		case errors.Is(err, service.ErrUnauthorizedClient):
			ErrUnauthorizedClient.WriteError(w)
		case errors.Is(err, service.ErrInvalidCredentials):
			// Wrong password, unknown user and rejected one-time codes all
			// collapse into the same answer.
			ErrInvalidGrant.WriteError(w)
		case errors.Is(err, service.ErrInvalidScope):
			ErrInvalidScope.WriteError(w)
		default:
			log.Error("password grant failed", "err", err)
			ErrServerError.WriteError(w)
		}
		return
	}

	writeTokenResponse(w, issued)
}

func (h *TokenHandler) handleRefreshGrant(w http.ResponseWriter, r *http.Request, form url.Values) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	clientID, clientSecret := clientCredentials(r, form)
	refresh := form.Get("refresh_token")

	if clientID == "" || refresh == "" {
		ErrInvalidRequest.WriteError(w)
		return
	}

	issued, err := h.TokenService.ExchangeRefreshToken(ctx, clientID, clientSecret, refresh,
		httpx.ParseSpaceDelimitedFields(form.Get("scope")))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidClient):
			ErrInvalidClient.WriteError(w)
		case errors.Is(err, service.ErrInvalidGrant), errors.Is(err, store.ErrNotFound):
			ErrInvalidGrant.WriteError(w)
		case errors.Is(err, service.ErrInvalidScope):
			ErrInvalidScope.WriteError(w)
		default:
			log.Error("refresh_token grant failed", "err", err)
			ErrServerError.WriteError(w)
		}
		return
	}

	writeTokenResponse(w, issued)
}

func (h *TokenHandler) handleClientCredentialsGrant(w http.ResponseWriter, r *http.Request, form url.Values) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	clientID, clientSecret := clientCredentials(r, form)
	if clientID == "" || clientSecret == "" {
		ErrInvalidRequest.WriteError(w)
		return
	}

	issued, err := h.TokenService.ExchangeClientCredentials(ctx, clientID, clientSecret,
		httpx.ParseSpaceDelimitedFields(form.Get("scope")))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidClient):
			ErrInvalidClient.WriteError(w)
		case errors.Is(err, service.ErrUnauthorizedClient):
			ErrUnauthorizedClient.WriteError(w)
		case errors.Is(err, service.ErrInvalidScope):
			ErrInvalidScope.WriteError(w)
		default:
			log.Error("client_credentials grant failed", "err", err)
			ErrServerError.WriteError(w)
		}
		return
	}

	writeTokenResponse(w, issued)
}

// clientCredentials resolves the client id and secret from HTTP Basic auth,
// falling back to the form body. Basic auth wins when both are present.
func clientCredentials(r *http.Request, form url.Values) (id, secret string) {
	if id, secret, ok := r.BasicAuth(); ok {
		return id, secret
	}
	return strings.TrimSpace(form.Get("client_id")), form.Get("client_secret")
}

func writeTokenResponse(w http.ResponseWriter, issued *domain.IssuedTokens) {
	response := TokenResponse{
		AccessToken:   issued.AccessToken,
		TokenType:     issued.TokenType,
		ExpiresIn:     int(issued.ExpiresIn.Seconds()),
		RefreshToken:  issued.RefreshToken,
		IdentityToken: issued.IdentityToken,
		Scope:         strings.TrimSpace(issued.Scope),
	}

	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, response)
}
