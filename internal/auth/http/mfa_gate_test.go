package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"

	"github.com/quollsec/warden/internal/auth/domain"
	"github.com/quollsec/warden/internal/auth/service"
	"github.com/quollsec/warden/internal/auth/store"
	"github.com/quollsec/warden/internal/auth/store/drivers/sqlite"
	"github.com/quollsec/warden/pkg/httpx"
	"github.com/quollsec/warden/pkg/idx"
	"github.com/quollsec/warden/pkg/jwtx"
)

type gateHarness struct {
	handler http.Handler
	store   store.Store
	km      *jwtx.KeyManager
	now     time.Time
}

// newGateHarness wires AuthnMiddleware and the gate in front of a trivial
// handler, the same order the router uses.
func newGateHarness(t *testing.T) *gateHarness {
	t.Helper()

	s, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.ApplyMigrations())

	km, err := jwtx.NewEphemeralKeyManager(jwtx.KeyManagerOptions{
		NumKeys: 1,
		Issuer:  "https://auth.test",
	})
	require.NoError(t, err)

	now := time.Now().UTC().Truncate(time.Second)
	gate := &service.MFAGateService{
		Store:    s,
		Verifier: &service.ChallengeVerifier{Now: func() time.Time { return now }},
		Now:      func() time.Time { return now },
	}

	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := httpx.Chain(ok,
		httpx.AuthnMiddleware(km.Verifier),
		MFAGateMiddleware(gate),
	)

	return &gateHarness{handler: handler, store: s, km: km, now: now}
}

func (h *gateHarness) seedAccount(t *testing.T, mutate func(*domain.Account)) domain.Account {
	t.Helper()

	a := domain.Account{
		ID:           idx.New().String(),
		Username:     "alice",
		Email:        "alice@example.com",
		PasswordHash: "argon2:dummy",
		MFA:          domain.MFAState{ID: idx.New().String()},
	}
	if mutate != nil {
		mutate(&a)
	}
	require.NoError(t, h.store.Accounts().CreateAccount(context.Background(), a))
	return a
}

func (h *gateHarness) bearer(t *testing.T, subject string, serviceAccount bool) string {
	t.Helper()

	claims := jwtx.NewAccessClaims(
		subject, idx.New().String(),
		[]string{"openid"}, nil, []string{jwtx.AMRPassword},
		time.Hour, "https://auth.test", nil,
		"alice", "alice@example.com", serviceAccount, h.now,
	)
	token, err := h.km.GetSigner().Sign(claims)
	require.NoError(t, err)
	return "Bearer " + token
}

func (h *gateHarness) do(t *testing.T, path, authz string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(http.MethodGet, path, nil)
	}
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}

	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func gateSecret(t *testing.T) string {
	t.Helper()
	key, err := totp.Generate(totp.GenerateOpts{Issuer: "test", AccountName: "alice"})
	require.NoError(t, err)
	return key.Secret()
}

func TestGateMiddlewareRequiresBearer(t *testing.T) {
	h := newGateHarness(t)

	rec := h.do(t, "/v1/orders", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer")
}

func TestGateMiddlewarePassesWhenMFADisabled(t *testing.T) {
	h := newGateHarness(t)
	a := h.seedAccount(t, nil)

	rec := h.do(t, "/v1/orders", h.bearer(t, a.ID, false), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, rec.Header().Get(MFAErrorHeader))
}

func TestGateMiddlewarePassesServiceAccounts(t *testing.T) {
	h := newGateHarness(t)

	// No account row exists for the subject: the bypass must short-circuit
	// before any lookup.
	rec := h.do(t, "/v1/orders", h.bearer(t, "svc-1", true), nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestGateMiddlewareChallengeHeaders(t *testing.T) {
	h := newGateHarness(t)
	secret := gateSecret(t)

	a := h.seedAccount(t, func(a *domain.Account) {
		require.NoError(t, a.MFA.Enroll(secret, "phone", domain.FactorTOTP))
	})
	authz := h.bearer(t, a.ID, false)

	t.Run("device unverified", func(t *testing.T) {
		rec := h.do(t, "/v1/orders", authz, nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Equal(t, "OTP", rec.Header().Get("WWW-Authenticate"))
		require.Equal(t, service.RejectDeviceNotVerified, rec.Header().Get(MFAErrorHeader))
	})

	t.Run("confirmation route demands a code", func(t *testing.T) {
		rec := h.do(t, "/v1/accounts/mfa/device/confirm", authz, url.Values{})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Equal(t, service.RejectNoCode, rec.Header().Get(MFAErrorHeader))
	})

	t.Run("factor unverified after confirmation", func(t *testing.T) {
		require.NoError(t, h.store.WithTx(context.Background(), func(tx store.Tx) error {
			got, err := tx.Accounts().GetAccountByID(context.Background(), a.ID)
			if err != nil {
				return err
			}
			if err := got.MFA.ConfirmDevice(h.now.Add(domain.FactorValidity)); err != nil {
				return err
			}
			return tx.Accounts().UpdateAccount(context.Background(), got)
		}))

		rec := h.do(t, "/v1/orders", authz, nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Equal(t, service.RejectFactorNotVerified, rec.Header().Get(MFAErrorHeader))
	})

	t.Run("wrong code on the verify route", func(t *testing.T) {
		rec := h.do(t, "/v1/accounts/mfa/verify", authz, url.Values{"otp_code": {"000000"}})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		// A failed code is a credential failure, not a policy challenge.
		require.Empty(t, rec.Header().Get(MFAErrorHeader))
	})

	t.Run("valid code on the verify route opens the window", func(t *testing.T) {
		code, err := totp.GenerateCode(secret, h.now)
		require.NoError(t, err)

		rec := h.do(t, "/v1/accounts/mfa/verify", authz, url.Values{"otp_code": {code}})
		require.Equal(t, http.StatusOK, rec.Code)

		// Subsequent requests ride the validity window.
		rec = h.do(t, "/v1/orders", authz, nil)
		require.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestGateMiddlewareCodeFromQuery(t *testing.T) {
	h := newGateHarness(t)
	secret := gateSecret(t)

	a := h.seedAccount(t, func(a *domain.Account) {
		require.NoError(t, a.MFA.Enroll(secret, "phone", domain.FactorTOTP))
		require.NoError(t, a.MFA.ConfirmDevice(h.now.Add(domain.FactorValidity)))
	})

	code, err := totp.GenerateCode(secret, h.now)
	require.NoError(t, err)

	rec := h.do(t, "/v1/accounts/mfa/verify?otp_code="+code, h.bearer(t, a.ID, false), nil)
	require.Equal(t, http.StatusOK, rec.Code)
}
