package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	"storefront/internal/model"
)

type SessionStore interface {
	Create(ctx context.Context, session model.Session) error
	Get(ctx context.Context, id string) (model.Session, error)
	Delete(ctx context.Context, id string) error
	Extend(ctx context.Context, id string, ttl time.Duration) error
	ListForAccount(ctx context.Context, accountID string) ([]model.Session, error)
}

type RevocationStore interface {
	Blacklist(ctx context.Context, sessionID string, ttl time.Duration) (bool, error)
	IsBlacklisted(ctx context.Context, sessionID string) (bool, error)
}

type ResetTokenStore interface {
	Save(ctx context.Context, token string, accountID string, ttl time.Duration) error
	Consume(ctx context.Context, token string) (string, error)
	Discard(ctx context.Context, token string) error
}

type AuthConfig struct {
	SessionTTL       time.Duration
	RememberMeTTL    time.Duration
	LoginLimit       RatePolicy
	ResetLimit       RatePolicy
	ResetTTL         time.Duration
	ResetURL         string
	RevokeAllOnReuse bool
}

type AuthDeps struct {
	Accounts AccountStore
	Sessions SessionStore
	Ledger   RevocationStore
	Resets   ResetTokenStore
	Tokens   *TokenService
	Gate     *LoginGate
	Limiter  *RateLimiter
	Hasher   *PasswordHasher
	Mailer   Mailer
	Audit    Auditor
	Now      func() time.Time
}

// AuthService orchestrates the credential and session lifecycle. All of its
// state lives in the injected stores.
type AuthService struct {
	AuthDeps
	cfg  AuthConfig
	mail sync.WaitGroup
}

func NewAuthService(deps AuthDeps, cfg AuthConfig) *AuthService {
	if deps.Audit == nil {
		deps.Audit = nopAuditor{}
	}
	if deps.Mailer == nil {
		deps.Mailer = LogMailer{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if cfg.RememberMeTTL <= 0 {
		cfg.RememberMeTTL = deps.Tokens.RefreshTTL()
	}
	return &AuthService{AuthDeps: deps, cfg: cfg}
}

// Login throttles per (client IP, email), authenticates and opens a new
// session.
func (s *AuthService) Login(ctx context.Context, req model.LoginRequest, client model.ClientInfo) (model.TokenPair, error) {
	email := normalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		return model.TokenPair{}, model.ErrInvalidCredentials
	}

	if _, err := s.Limiter.Enforce(ctx, LoginKey(client.IP, email), s.cfg.LoginLimit); err != nil {
		if errors.Is(err, model.ErrRateLimited) {
			s.Audit.Record("login.rate_limited", "", map[string]any{"client_ip": client.IP})
		}
		return model.TokenPair{}, err
	}

	account, err := s.Gate.Authenticate(ctx, email, req.Password)
	if err != nil {
		return model.TokenPair{}, err
	}

	pair, err := s.startSession(ctx, account, client, req.RememberMe)
	if err != nil {
		return model.TokenPair{}, err
	}

	s.Audit.Record("login.succeeded", account.ID, map[string]any{
		"session_id": pair.SessionID,
		"client_ip":  client.IP,
	})
	return pair, nil
}

// Refresh rotates a refresh token: the old session is claimed in the ledger
// and deleted, and a new pair is issued on a brand-new session. Presenting
// an already rotated token yields model.ErrSessionRevoked.
func (s *AuthService) Refresh(ctx context.Context, rawRefresh string, client model.ClientInfo) (model.TokenPair, error) {
	if rawRefresh == "" {
		return model.TokenPair{}, model.ErrUnauthenticated
	}

	claims, err := s.Tokens.Verify(rawRefresh, model.TokenRefresh)
	if err != nil {
		return model.TokenPair{}, err
	}

	revoked, err := s.Ledger.IsBlacklisted(ctx, claims.SessionID)
	if err != nil {
		return model.TokenPair{}, err
	}
	if revoked {
		return model.TokenPair{}, s.refreshReused(ctx, claims, client)
	}

	session, err := s.Sessions.Get(ctx, claims.SessionID)
	if errors.Is(err, model.ErrSessionNotFound) {
		return model.TokenPair{}, model.ErrSessionRevoked
	}
	if err != nil {
		return model.TokenPair{}, err
	}
	if session.AccountID != claims.AccountID {
		return model.TokenPair{}, ErrTokenMalformed
	}

	claimed, err := s.Ledger.Blacklist(ctx, claims.SessionID, s.Tokens.RefreshTTL())
	if err != nil {
		return model.TokenPair{}, err
	}
	if !claimed {
		return model.TokenPair{}, s.refreshReused(ctx, claims, client)
	}
	if err := s.Sessions.Delete(ctx, claims.SessionID); err != nil {
		return model.TokenPair{}, err
	}

	account, err := s.activeAccount(ctx, claims.AccountID)
	if err != nil {
		return model.TokenPair{}, err
	}

	pair, err := s.startSession(ctx, account, client, session.RememberMe)
	if err != nil {
		return model.TokenPair{}, err
	}

	s.Audit.Record("session.rotated", account.ID, map[string]any{
		"old_session_id": claims.SessionID,
		"session_id":     pair.SessionID,
	})
	return pair, nil
}

func (s *AuthService) refreshReused(ctx context.Context, claims model.Claims, client model.ClientInfo) error {
	slog.Warn("refresh token reuse detected", "account_id", claims.AccountID, "session_id", claims.SessionID, "client_ip", client.IP)
	s.Audit.Record("refresh.reuse_detected", claims.AccountID, map[string]any{
		"session_id": claims.SessionID,
		"client_ip":  client.IP,
	})

	if s.cfg.RevokeAllOnReuse {
		if _, err := s.RevokeAll(ctx, claims.AccountID, ""); err != nil {
			return err
		}
	}
	return model.ErrSessionRevoked
}

// Logout revokes one session. Calling it again for the same session is a
// no-op.
func (s *AuthService) Logout(ctx context.Context, sessionID string, accountID string) error {
	if sessionID == "" {
		return nil
	}

	first, err := s.revokeSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if first {
		s.Audit.Record("logout", accountID, map[string]any{"session_id": sessionID})
	}
	return nil
}

// SessionFromToken resolves the session a token of the given kind belongs
// to, even after the token expired, so logout can still revoke it.
func (s *AuthService) SessionFromToken(raw string, kind model.TokenKind) (model.Claims, error) {
	return s.Tokens.VerifyIgnoringExpiry(raw, kind)
}

// revokeAllPasses bounds how often RevokeAll re-reads the account's sessions
// to catch ones a concurrent refresh created after the previous read.
const revokeAllPasses = 3

// RevokeAll revokes every live session of the account except keep. It
// returns the number of sessions revoked.
func (s *AuthService) RevokeAll(ctx context.Context, accountID string, keep string) (int, error) {
	seen := map[string]bool{keep: true}
	revoked := 0

	for range revokeAllPasses {
		sessions, err := s.Sessions.ListForAccount(ctx, accountID)
		if err != nil {
			return revoked, err
		}

		fresh := 0
		for _, session := range sessions {
			if seen[session.ID] {
				continue
			}
			seen[session.ID] = true
			if _, err := s.revokeSession(ctx, session.ID); err != nil {
				return revoked, err
			}
			fresh++
		}
		revoked += fresh
		if fresh == 0 {
			break
		}
	}

	if revoked > 0 {
		s.Audit.Record("sessions.revoked_all", accountID, map[string]any{"count": revoked})
	}
	return revoked, nil
}

func (s *AuthService) revokeSession(ctx context.Context, sessionID string) (bool, error) {
	first, err := s.Ledger.Blacklist(ctx, sessionID, s.Tokens.RefreshTTL())
	if err != nil {
		return false, err
	}
	if err := s.Sessions.Delete(ctx, sessionID); err != nil {
		return first, err
	}
	return first, nil
}

func (s *AuthService) Me(ctx context.Context, id model.Identity) (model.AccountProfile, error) {
	account, err := s.Accounts.FindByID(ctx, id.AccountID)
	if err != nil {
		return model.AccountProfile{}, accountErr("load account", err)
	}
	return account.Profile(), nil
}

func (s *AuthService) Register(ctx context.Context, req model.RegisterRequest) (model.AccountProfile, error) {
	account, err := s.CreateAccount(ctx, req.Email, req.Password, model.RoleCustomer)
	if err != nil {
		return model.AccountProfile{}, err
	}
	s.Audit.Record("account.registered", account.ID, nil)
	return account.Profile(), nil
}

// CreateAccount creates an active account with the given role.
func (s *AuthService) CreateAccount(ctx context.Context, email string, password string, role model.Role) (model.Account, error) {
	email = normalizeEmail(email)
	if _, err := mail.ParseAddress(email); err != nil {
		return model.Account{}, fmt.Errorf("%w: invalid email", model.ErrInvalidInput)
	}
	if err := validatePassword(password); err != nil {
		return model.Account{}, err
	}

	hash, err := s.Hasher.Hash(password)
	if err != nil {
		return model.Account{}, fmt.Errorf("hash password: %w", err)
	}

	now := s.Now().UTC()
	account := model.Account{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.Accounts.Create(ctx, account); err != nil {
		return model.Account{}, accountErr("create account", err)
	}
	return account, nil
}

// SeedAdmin creates an admin account when the credential store is empty.
func (s *AuthService) SeedAdmin(ctx context.Context, email string, password string) (bool, error) {
	count, err := s.Accounts.Count(ctx)
	if err != nil {
		return false, accountErr("count accounts", err)
	}
	if count > 0 {
		return false, nil
	}
	if _, err := s.CreateAccount(ctx, email, password, model.RoleAdmin); err != nil {
		return false, err
	}
	return true, nil
}

// ChangePassword replaces the caller's password and revokes every other
// session of the account.
func (s *AuthService) ChangePassword(ctx context.Context, id model.Identity, req model.ChangePasswordRequest) error {
	account, err := s.Accounts.FindByID(ctx, id.AccountID)
	if err != nil {
		return accountErr("load account", err)
	}
	if _, err := s.Limiter.Enforce(ctx, PasswordChangeKey(account.ID), s.cfg.LoginLimit); err != nil {
		if errors.Is(err, model.ErrRateLimited) {
			s.Audit.Record("password_change.rate_limited", account.ID, map[string]any{"session_id": id.SessionID})
		}
		return err
	}
	if !s.Hasher.Compare(account.PasswordHash, req.CurrentPassword) {
		s.Audit.Record("password_change.failed", account.ID, map[string]any{"session_id": id.SessionID})
		return model.ErrInvalidCredentials
	}

	if err := s.setPassword(ctx, account.ID, req.NewPassword); err != nil {
		return err
	}
	if _, err := s.RevokeAll(ctx, account.ID, id.SessionID); err != nil {
		return err
	}

	s.Audit.Record("password.changed", account.ID, nil)
	return nil
}

// RequestPasswordReset always succeeds from the caller's point of view
// unless it is throttled or the store is down. Known and unknown emails
// cost the same store round trip and the mail goes out in the background.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string, client model.ClientInfo) error {
	if _, err := s.Limiter.Enforce(ctx, ResetKey(client.IP), s.cfg.ResetLimit); err != nil {
		return err
	}

	account, err := s.Accounts.FindByEmail(ctx, normalizeEmail(email))
	if err != nil && !errors.Is(err, model.ErrAccountNotFound) {
		return accountErr("find account", err)
	}

	token := rand.Text()
	if err != nil || !account.IsActive {
		return s.Resets.Discard(ctx, token)
	}
	if err := s.Resets.Save(ctx, token, account.ID, s.cfg.ResetTTL); err != nil {
		return err
	}

	link := s.cfg.ResetURL + "?token=" + url.QueryEscape(token)
	mailCtx := context.WithoutCancel(ctx)
	s.mail.Go(func() {
		if err := s.Mailer.SendPasswordReset(mailCtx, account.Email, link); err != nil {
			slog.Error("failed to send password reset", "account_id", account.ID, "error", err)
		}
	})

	s.Audit.Record("password.reset_requested", account.ID, map[string]any{"client_ip": client.IP})
	return nil
}

// WaitForMail blocks until every queued reset mail has been handed to the
// mailer.
func (s *AuthService) WaitForMail() {
	s.mail.Wait()
}

// ResetPassword consumes a reset token, sets the new password, clears any
// lockout and revokes all sessions.
func (s *AuthService) ResetPassword(ctx context.Context, token string, newPassword string) error {
	if token == "" {
		return model.ErrResetTokenInvalid
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}

	accountID, err := s.Resets.Consume(ctx, token)
	if err != nil {
		return err
	}

	if err := s.setPassword(ctx, accountID, newPassword); err != nil {
		if errors.Is(err, model.ErrAccountNotFound) {
			return model.ErrResetTokenInvalid
		}
		return err
	}
	if _, err := s.RevokeAll(ctx, accountID, ""); err != nil {
		return err
	}

	s.Audit.Record("password.reset", accountID, nil)
	return nil
}

func (s *AuthService) setPassword(ctx context.Context, accountID string, password string) error {
	if err := validatePassword(password); err != nil {
		return err
	}
	hash, err := s.Hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.Accounts.Update(ctx, accountID, model.AccountUpdate{PasswordHash: &hash}); err != nil {
		return accountErr("update password", err)
	}
	if err := s.Accounts.ResetFailedAttempts(ctx, accountID); err != nil {
		return accountErr("reset failed attempts", err)
	}
	return nil
}

func (s *AuthService) startSession(ctx context.Context, account model.Account, client model.ClientInfo, rememberMe bool) (model.TokenPair, error) {
	ttl := s.cfg.SessionTTL
	if rememberMe {
		ttl = s.cfg.RememberMeTTL
	}

	session := model.Session{
		ID:         uuid.NewString(),
		AccountID:  account.ID,
		CreatedAt:  s.Now().UTC(),
		ClientIP:   client.IP,
		UserAgent:  client.UserAgent,
		RememberMe: rememberMe,
		TTL:        model.Duration(ttl),
	}
	if err := s.Sessions.Create(ctx, session); err != nil {
		return model.TokenPair{}, err
	}

	identity := model.Identity{
		AccountID: account.ID,
		Email:     account.Email,
		Role:      account.Role,
		SessionID: session.ID,
	}
	access, _, err := s.Tokens.IssueAccessToken(identity)
	if err != nil {
		return model.TokenPair{}, err
	}
	refresh, refreshClaims, err := s.Tokens.IssueRefreshToken(identity)
	if err != nil {
		return model.TokenPair{}, err
	}

	return model.TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		TokenType:        "Bearer",
		ExpiresIn:        int64(s.Tokens.AccessTTL().Seconds()),
		RefreshExpiresAt: refreshClaims.ExpiresAt,
		SessionID:        session.ID,
		RememberMe:       rememberMe,
		Account:          account.Profile(),
	}, nil
}

func (s *AuthService) activeAccount(ctx context.Context, accountID string) (model.Account, error) {
	account, err := s.Accounts.FindByID(ctx, accountID)
	if errors.Is(err, model.ErrAccountNotFound) {
		return model.Account{}, model.ErrUnauthenticated
	}
	if err != nil {
		return model.Account{}, model.Unavailable("load account", err)
	}
	if !account.IsActive {
		return model.Account{}, model.ErrAccountInactive
	}
	if account.IsLocked(s.Now()) {
		return model.Account{}, model.ErrAccountLocked
	}
	return account, nil
}

// accountErr keeps the credential store's domain errors and wraps
// everything else as an availability failure.
func accountErr(op string, err error) error {
	switch {
	case errors.Is(err, model.ErrAccountNotFound),
		errors.Is(err, model.ErrEmailTaken),
		errors.Is(err, model.ErrInvalidInput):
		return err
	default:
		return model.Unavailable(op, err)
	}
}
