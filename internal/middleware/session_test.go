package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"storefront/internal/kv"
	"storefront/internal/model"
	"storefront/internal/repository"
	"storefront/internal/service"
	"storefront/internal/transport"
)

const password = "correct-horse-battery"

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	clock    *clock
	accounts *repository.MemoryAccountRepository
	ledger   *repository.RevocationLedger
	sessions *repository.SessionRegistry
	auth     *service.AuthService
	cookies  *transport.Cookies
	mw       *SessionMiddleware
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	c := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := kv.NewMemory(kv.WithClock(c.Now))
	accounts := repository.NewMemoryAccountRepository()
	sessions := repository.NewSessionRegistry(store, time.Second)
	ledger := repository.NewRevocationLedger(store, time.Second)

	tokens, err := service.NewTokenService(service.TokenConfig{
		AccessSecret:  "access-secret-0123456789-0123456789",
		RefreshSecret: "refresh-secret-0123456789-0123456789",
		Issuer:        "storefront",
		Audience:      "storefront-web",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
	}, c.Now)
	require.NoError(t, err)

	hasher, err := service.NewPasswordHasher(bcrypt.MinCost)
	require.NoError(t, err)
	gate := service.NewLoginGate(accounts, hasher, service.LockoutPolicy{MaxFailedAttempts: 5, LockoutDuration: 15 * time.Minute}, nil, c.Now)

	auth := service.NewAuthService(service.AuthDeps{
		Accounts: accounts,
		Sessions: sessions,
		Ledger:   ledger,
		Resets:   repository.NewResetTokenStore(store, time.Second),
		Tokens:   tokens,
		Gate:     gate,
		Limiter:  service.NewRateLimiter(store, time.Second, c.Now),
		Hasher:   hasher,
		Now:      c.Now,
	}, service.AuthConfig{
		SessionTTL: 24 * time.Hour,
		LoginLimit: service.RatePolicy{Max: 100, Window: time.Minute},
		ResetLimit: service.RatePolicy{Max: 100, Window: time.Minute},
		ResetTTL:   time.Minute,
	})

	cookies := transport.NewCookies("access_token", "refresh_token", "", true)
	mw := NewSessionMiddleware(SessionDeps{
		Tokens:        tokens,
		Ledger:        ledger,
		Sessions:      sessions,
		Accounts:      accounts,
		Cookies:       cookies,
		RememberMeTTL: 7 * 24 * time.Hour,
		Now:           c.Now,
	})

	return &harness{
		clock:    c,
		accounts: accounts,
		ledger:   ledger,
		sessions: sessions,
		auth:     auth,
		cookies:  cookies,
		mw:       mw,
	}
}

func (h *harness) signIn(t *testing.T, email string, role model.Role) (model.Account, model.TokenPair) {
	t.Helper()
	account, err := h.auth.CreateAccount(context.Background(), email, password, role)
	require.NoError(t, err)
	pair, err := h.auth.Login(context.Background(), model.LoginRequest{Email: email, Password: password}, model.ClientInfo{IP: "203.0.113.7"})
	require.NoError(t, err)
	return account, pair
}

func (h *harness) protected(chain func(http.Handler) http.Handler) http.Handler {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := IdentityFromContext(r.Context())
		if !ok {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		_ = json.NewEncoder(w).Encode(id)
	})
	return RequestContext(h.cookies, false)(chain(inner))
}

func bearer(token string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body model.APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotNil(t, body.Error)
	return body.Error.Code
}

func clearedCookies(rec *httptest.ResponseRecorder) int {
	n := 0
	for _, c := range rec.Result().Cookies() {
		if c.MaxAge < 0 {
			n++
		}
	}
	return n
}

func TestRequireAuthAttachesIdentity(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	account, pair := h.signIn(t, "shopper@example.com", model.RoleCustomer)
	handler := h.protected(h.mw.RequireAuth)

	t.Run("bearer header", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, bearer(pair.AccessToken))
		require.Equal(t, http.StatusOK, rec.Code)

		var id model.Identity
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &id))
		assert.Equal(t, account.ID, id.AccountID)
		assert.Equal(t, pair.SessionID, id.SessionID)
		assert.Equal(t, model.RoleCustomer, id.Role)
	})

	t.Run("cookie", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
		req.AddCookie(&http.Cookie{Name: "access_token", Value: pair.AccessToken})
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestRequireAuthRejections(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	handler := h.protected(h.mw.RequireAuth)

	t.Run("missing token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, bearer(""))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "UNAUTHENTICATED", errorCode(t, rec))
	})

	t.Run("garbage token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, bearer("abc.def.ghi"))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "TOKEN_INVALID", errorCode(t, rec))
	})

	t.Run("logged out session", func(t *testing.T) {
		account, pair := h.signIn(t, "logout@example.com", model.RoleCustomer)
		require.NoError(t, h.auth.Logout(ctx, pair.SessionID, account.ID))

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, bearer(pair.AccessToken))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "SESSION_REVOKED", errorCode(t, rec))
		assert.Equal(t, 2, clearedCookies(rec))
	})

	t.Run("deactivated mid-session", func(t *testing.T) {
		account, pair := h.signIn(t, "deactivated@example.com", model.RoleCustomer)
		inactive := false
		require.NoError(t, h.accounts.Update(ctx, account.ID, model.AccountUpdate{IsActive: &inactive}))

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, bearer(pair.AccessToken))
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, "ACCOUNT_INACTIVE", errorCode(t, rec))
	})

	t.Run("locked mid-session", func(t *testing.T) {
		account, pair := h.signIn(t, "locked@example.com", model.RoleCustomer)
		_, err := h.accounts.LockUntil(ctx, account.ID, h.clock.Now().Add(time.Minute), h.clock.Now())
		require.NoError(t, err)

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, bearer(pair.AccessToken))
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, "ACCOUNT_LOCKED", errorCode(t, rec))
	})

	t.Run("expired access token keeps cookies", func(t *testing.T) {
		_, pair := h.signIn(t, "expired@example.com", model.RoleCustomer)
		h.clock.Advance(16 * time.Minute)

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, bearer(pair.AccessToken))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "TOKEN_EXPIRED", errorCode(t, rec))
		assert.Zero(t, clearedCookies(rec))
	})
}

type unavailableLedger struct{}

func (unavailableLedger) IsBlacklisted(context.Context, string) (bool, error) {
	return false, model.Unavailable("check revocation", context.DeadlineExceeded)
}

func TestRequireAuthFailsClosedWhenLedgerIsDown(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	_, pair := h.signIn(t, "closed@example.com", model.RoleCustomer)
	h.mw.Ledger = unavailableLedger{}

	for name, chain := range map[string]func(http.Handler) http.Handler{
		"required": h.mw.RequireAuth,
		"optional": h.mw.OptionalAuth,
	} {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.protected(chain).ServeHTTP(rec, bearer(pair.AccessToken))
			assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
			assert.Equal(t, "SERVICE_UNAVAILABLE", errorCode(t, rec))
			assert.NotContains(t, rec.Body.String(), "deadline")
		})
	}
}

func TestOptionalAuth(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	account, pair := h.signIn(t, "optional@example.com", model.RoleCustomer)
	handler := h.protected(h.mw.OptionalAuth)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, bearer(""))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, bearer(pair.AccessToken))
	assert.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, h.auth.Logout(context.Background(), pair.SessionID, account.ID))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, bearer(pair.AccessToken))
	assert.Equal(t, http.StatusNoContent, rec.Code, "stale sessions continue anonymously")
	assert.Equal(t, 2, clearedCookies(rec))
}

func TestRememberMeSessionsSlide(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	_, err := h.auth.CreateAccount(ctx, "remember@example.com", password, model.RoleCustomer)
	require.NoError(t, err)
	pair, err := h.auth.Login(ctx, model.LoginRequest{Email: "remember@example.com", Password: password, RememberMe: true}, model.ClientInfo{IP: "203.0.113.7"})
	require.NoError(t, err)

	h.clock.Advance(6 * 24 * time.Hour)
	access, _, err := h.mw.Tokens.(*service.TokenService).IssueAccessToken(model.Identity{
		AccountID: pair.Account.ID,
		Email:     pair.Account.Email,
		Role:      pair.Account.Role,
		SessionID: pair.SessionID,
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.protected(h.mw.RequireAuth).ServeHTTP(rec, bearer(access))
	require.Equal(t, http.StatusOK, rec.Code)

	h.clock.Advance(2 * 24 * time.Hour)
	_, err = h.sessions.Get(ctx, pair.SessionID)
	assert.NoError(t, err, "use pushed the expiry out")
}

func TestRequireRoles(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	_, customer := h.signIn(t, "customer@example.com", model.RoleCustomer)
	_, manager := h.signIn(t, "manager@example.com", model.RoleManager)

	chain := func(next http.Handler) http.Handler {
		return h.mw.RequireAuth(RequireRoles(model.RoleManager, model.RoleAdmin)(next))
	}
	handler := h.protected(chain)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, bearer(customer.AccessToken))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "FORBIDDEN", errorCode(t, rec))

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, bearer(manager.AccessToken))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	RequireRoles(model.RoleAdmin)(http.NotFoundHandler()).ServeHTTP(rec, bearer(""))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWriteError(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err    error
		status int
		code   string
	}{
		{model.ErrInvalidCredentials, http.StatusUnauthorized, "INVALID_CREDENTIALS"},
		{model.ErrAccountLocked, http.StatusForbidden, "ACCOUNT_LOCKED"},
		{service.ErrTokenBadSignature, http.StatusUnauthorized, "TOKEN_INVALID"},
		{model.Unavailable("get session", errors.New("dial tcp: refused")), http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE"},
		{model.ErrEmailTaken, http.StatusConflict, "CONFLICT"},
		{errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tc := range cases {
		rec := httptest.NewRecorder()
		WriteError(rec, tc.err)
		assert.Equal(t, tc.status, rec.Code, tc.err.Error())
		assert.Equal(t, tc.code, errorCode(t, rec))
		assert.NotContains(t, rec.Body.String(), "refused")
		assert.NotContains(t, rec.Body.String(), "signature")
	}

	rec := httptest.NewRecorder()
	WriteError(rec, &model.RateLimitError{ResetAt: time.Now().Add(90 * time.Second)})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, []string{"90", "89"}, rec.Header().Get("Retry-After"))

	rec = httptest.NewRecorder()
	WriteError(rec, fmt.Errorf("%w: email is required", model.ErrInvalidInput))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var body model.APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "email is required", body.Error.Details)
}

func TestSecurityHeaders(t *testing.T) {
	t.Parallel()

	handler := SecurityHeaders(true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.NotEmpty(t, rec.Header().Get("Strict-Transport-Security"))

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Empty(t, rec.Header().Get("Cache-Control"))
}
