package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/quollsec/warden/internal/auth/service"
	"github.com/quollsec/warden/internal/auth/store"
	"github.com/quollsec/warden/pkg/httpx"
	"github.com/quollsec/warden/pkg/jwtx"
	"github.com/quollsec/warden/pkg/slogx"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	keys         *jwtx.KeySet
	verifier     jwtx.Verifier
	issuer       string
	buildVersion string
	startTime    time.Time
	logger       *slog.Logger

	store          store.Store
	TokenService   *service.TokenService
	MFAService     *service.MFAService
	GateService    *service.MFAGateService
	AccountService *service.AccountService
}

func NewRouter(
	keys *jwtx.KeySet,
	verifier jwtx.Verifier,
	issuer, buildVersion string,
	st store.Store,
	logger *slog.Logger,
) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		keys:         keys,
		verifier:     verifier,
		issuer:       issuer,
		buildVersion: buildVersion,
		startTime:    time.Now(),
		store:        st,
		logger:       logger,
	}

	// Set default middleware chain
	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerOAuth2()
	r.registerAccounts()
	r.registerMFA()
	r.registerSystem()

	r.Mux.Handle("/swagger/", httpSwagger.Handler())
}

// ServeHTTP implements http.Handler for Router and applies the global
// middleware chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) registerOAuth2() {
	// POST /token - strict rate limit by IP + username form field to slow
	// password spraying against the resource owner grant
	tokenHandler := &TokenHandler{TokenService: r.TokenService}
	r.Mux.Handle("POST /v1/oauth2/token",
		httpx.Chain(tokenHandler,
			httpx.RateLimitByIPAndFormField(httpx.StrictLimit, "username"),
		),
	)

	// POST /introspect (RFC 7662) - client-authenticated, moderate limit
	introspectHandler := &IntrospectHandler{TokenService: r.TokenService}
	r.Mux.Handle("POST /v1/oauth2/introspect",
		httpx.Chain(introspectHandler,
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)

	// POST /revoke (RFC 7009) - moderate rate limit
	revokeHandler := &RevokeHandler{TokenService: r.TokenService}
	r.Mux.Handle("POST /v1/oauth2/revoke",
		httpx.Chain(revokeHandler,
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)

	// GET /jwks.json - public endpoint with high limit
	r.Mux.Handle("GET /.well-known/jwks.json",
		httpx.Chain(JWKSHandler(r.keys),
			httpx.RateLimitByIP(httpx.PublicLimit),
		),
	)
}

func (r *Router) registerAccounts() {
	h := &UserInfoHandler{AccountService: r.AccountService}

	// Authenticated endpoint - lenient rate limit by user. The MFA gate sits
	// after authentication so a stale second factor blocks the profile too.
	secured := httpx.Chain(h,
		httpx.AuthnMiddleware(r.verifier),     // verify JWT (iss/aud/exp)
		MFAGateMiddleware(r.GateService),      // enforce second-factor policy
		httpx.RequireAnyScope("profile:read"), // enforce scopes
		httpx.RateLimitByUser(httpx.LenientLimit),
	)

	r.Mux.Handle("GET /v1/userinfo", secured)
}

func (r *Router) registerMFA() {
	h := &MFAHandler{MFAService: r.MFAService}

	// All four routes run behind the gate: the gate recognises them by path
	// suffix and keeps them reachable in the states where they make sense.

	// POST /accounts/mfa - enrollment, moderate rate limit by user
	securedEnroll := httpx.Chain(http.HandlerFunc(h.HandleEnroll),
		httpx.AuthnMiddleware(r.verifier),
		MFAGateMiddleware(r.GateService),
		httpx.RateLimitByUser(httpx.ModerateLimit),
	)

	// POST /accounts/mfa/device/confirm - strict limit (code guessing)
	securedConfirm := httpx.Chain(http.HandlerFunc(h.HandleConfirmDevice),
		httpx.AuthnMiddleware(r.verifier),
		MFAGateMiddleware(r.GateService),
		httpx.RateLimitByUser(httpx.StrictLimit),
	)

	// POST /accounts/mfa/verify - strict limit (code guessing)
	securedVerify := httpx.Chain(http.HandlerFunc(h.HandleVerify),
		httpx.AuthnMiddleware(r.verifier),
		MFAGateMiddleware(r.GateService),
		httpx.RateLimitByUser(httpx.StrictLimit),
	)

	// POST /accounts/mfa/disable - moderate rate limit by user
	securedDisable := httpx.Chain(http.HandlerFunc(h.HandleDisable),
		httpx.AuthnMiddleware(r.verifier),
		MFAGateMiddleware(r.GateService),
		httpx.RateLimitByUser(httpx.ModerateLimit),
	)

	r.Mux.Handle("POST /v1/accounts/mfa", securedEnroll)
	r.Mux.Handle("POST /v1/accounts/mfa/device/confirm", securedConfirm)
	r.Mux.Handle("POST /v1/accounts/mfa/verify", securedVerify)
	r.Mux.Handle("POST /v1/accounts/mfa/disable", securedDisable)
}

func (r *Router) registerSystem() {
	r.Mux.Handle("GET /livez", LivezHandler(r.startTime, r.buildVersion))
	r.Mux.Handle("GET /readyz", ReadyzHandler(r.startTime, r.buildVersion, r.store, r.keys))
	r.Mux.Handle("GET /metrics", promhttp.Handler())
}
