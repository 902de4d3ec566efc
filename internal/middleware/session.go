package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"storefront/internal/model"
	"storefront/internal/transport"
)

type TokenVerifier interface {
	Verify(raw string, kind model.TokenKind) (model.Claims, error)
}

type RevocationChecker interface {
	IsBlacklisted(ctx context.Context, sessionID string) (bool, error)
}

type SessionLookup interface {
	Get(ctx context.Context, id string) (model.Session, error)
	Extend(ctx context.Context, id string, ttl time.Duration) error
}

type AccountLookup interface {
	FindByID(ctx context.Context, id string) (model.Account, error)
}

type SessionDeps struct {
	Tokens   TokenVerifier
	Ledger   RevocationChecker
	Sessions SessionLookup
	Accounts AccountLookup
	Cookies  *transport.Cookies

	// RememberMeTTL is the sliding expiry applied to remember-me sessions on
	// each authenticated request.
	RememberMeTTL time.Duration
	Now           func() time.Time
}

// SessionMiddleware resolves the caller's identity on every request:
// token, revocation ledger, session registry, then the account itself.
type SessionMiddleware struct {
	SessionDeps
}

func NewSessionMiddleware(deps SessionDeps) *SessionMiddleware {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &SessionMiddleware{SessionDeps: deps}
}

// Authenticate runs the per-request checks against an access token. Any
// store failure is returned wrapped in model.ErrServiceUnavailable so the
// caller rejects the request.
func (m *SessionMiddleware) Authenticate(ctx context.Context, accessToken string) (model.Identity, error) {
	if accessToken == "" {
		return model.Identity{}, model.ErrUnauthenticated
	}

	claims, err := m.Tokens.Verify(accessToken, model.TokenAccess)
	if err != nil {
		return model.Identity{}, err
	}

	revoked, err := m.Ledger.IsBlacklisted(ctx, claims.SessionID)
	if err != nil {
		return model.Identity{}, err
	}
	if revoked {
		return model.Identity{}, model.ErrSessionRevoked
	}

	session, err := m.Sessions.Get(ctx, claims.SessionID)
	if errors.Is(err, model.ErrSessionNotFound) {
		return model.Identity{}, model.ErrSessionRevoked
	}
	if err != nil {
		return model.Identity{}, err
	}
	if session.AccountID != claims.AccountID {
		return model.Identity{}, model.ErrTokenInvalid
	}

	account, err := m.Accounts.FindByID(ctx, claims.AccountID)
	if errors.Is(err, model.ErrAccountNotFound) {
		return model.Identity{}, model.ErrUnauthenticated
	}
	if err != nil {
		return model.Identity{}, model.Unavailable("load account", err)
	}
	if !account.IsActive {
		return model.Identity{}, model.ErrAccountInactive
	}
	if account.IsLocked(m.Now()) {
		return model.Identity{}, model.ErrAccountLocked
	}

	if session.RememberMe && m.RememberMeTTL > 0 {
		if err := m.Sessions.Extend(ctx, session.ID, m.RememberMeTTL); err != nil {
			slog.WarnContext(ctx, "failed to extend session", "session_id", session.ID, "error", err)
		}
	}

	return model.Identity{
		AccountID: account.ID,
		Email:     account.Email,
		Role:      account.Role,
		SessionID: session.ID,
	}, nil
}

func (m *SessionMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info := requestInfo(r)

		id, err := m.Authenticate(r.Context(), info.AccessToken)
		if err != nil {
			m.reject(w, r, info, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

// OptionalAuth attaches an identity when the request carries a valid one
// and lets anonymous or stale callers through. Store failures still reject.
func (m *SessionMiddleware) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info := requestInfo(r)
		if info.AccessToken == "" {
			next.ServeHTTP(w, r)
			return
		}

		id, err := m.Authenticate(r.Context(), info.AccessToken)
		switch {
		case err == nil:
			r = r.WithContext(WithIdentity(r.Context(), id))
		case errors.Is(err, model.ErrServiceUnavailable):
			WriteError(w, err)
			return
		default:
			m.clearIfDead(w, err)
		}

		next.ServeHTTP(w, r)
	})
}

func (m *SessionMiddleware) reject(w http.ResponseWriter, r *http.Request, info RequestInfo, err error) {
	if !errors.Is(err, model.ErrUnauthenticated) && !errors.Is(err, model.ErrServiceUnavailable) {
		slog.InfoContext(r.Context(), "request rejected", "reason", err.Error(), "client_ip", info.Client.IP, "path", r.URL.Path)
	}
	m.clearIfDead(w, err)
	WriteError(w, err)
}

// clearIfDead wipes the token cookies when the session can never become
// valid again. Expired access tokens are kept so the client can refresh.
func (m *SessionMiddleware) clearIfDead(w http.ResponseWriter, err error) {
	if m.Cookies == nil {
		return
	}
	if errors.Is(err, model.ErrSessionRevoked) || errors.Is(err, model.ErrAccountInactive) || errors.Is(err, model.ErrTokenInvalid) {
		m.Cookies.Clear(w)
	}
}

// RequireRoles must run after RequireAuth.
func RequireRoles(allowed ...model.Role) func(http.Handler) http.Handler {
	roleSet := make(map[model.Role]struct{}, len(allowed))
	for _, role := range allowed {
		roleSet[role] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFromContext(r.Context())
			if !ok {
				WriteError(w, model.ErrUnauthenticated)
				return
			}
			if _, exists := roleSet[id.Role]; !exists {
				WriteError(w, model.ErrForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
