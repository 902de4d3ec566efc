package service

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"storefront/internal/model"
)

// Verification failures. All of them except expiry wrap model.ErrTokenInvalid
// so callers can branch on the taxonomy without caring about the cause.
var (
	ErrTokenMalformed        = fmt.Errorf("%w: malformed", model.ErrTokenInvalid)
	ErrTokenBadSignature     = fmt.Errorf("%w: bad signature", model.ErrTokenInvalid)
	ErrTokenIssuerMismatch   = fmt.Errorf("%w: issuer mismatch", model.ErrTokenInvalid)
	ErrTokenAudienceMismatch = fmt.Errorf("%w: audience mismatch", model.ErrTokenInvalid)
	ErrTokenKindMismatch     = fmt.Errorf("%w: kind mismatch", model.ErrTokenInvalid)
)

type TokenConfig struct {
	AccessSecret  string
	RefreshSecret string
	Issuer        string
	Audience      string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

type tokenClaims struct {
	jwt.RegisteredClaims
	Email     string          `json:"email"`
	Role      model.Role      `json:"role"`
	SessionID string          `json:"sid"`
	Kind      model.TokenKind `json:"typ"`
}

// TokenService signs and verifies access and refresh tokens. It holds no
// mutable state and is safe for concurrent use.
type TokenService struct {
	accessSecret  []byte
	refreshSecret []byte
	issuer        string
	audience      string
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

func NewTokenService(cfg TokenConfig, now func() time.Time) (*TokenService, error) {
	if cfg.AccessSecret == "" || cfg.RefreshSecret == "" {
		return nil, errors.New("token secrets are required")
	}
	if cfg.AccessSecret == cfg.RefreshSecret {
		return nil, errors.New("access and refresh secrets must differ")
	}
	if cfg.Issuer == "" || cfg.Audience == "" {
		return nil, errors.New("token issuer and audience are required")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("token TTLs must be positive")
	}
	if now == nil {
		now = time.Now
	}

	return &TokenService{
		accessSecret:  []byte(cfg.AccessSecret),
		refreshSecret: []byte(cfg.RefreshSecret),
		issuer:        cfg.Issuer,
		audience:      cfg.Audience,
		accessTTL:     cfg.AccessTTL,
		refreshTTL:    cfg.RefreshTTL,
		now:           now,
	}, nil
}

func (s *TokenService) AccessTTL() time.Duration  { return s.accessTTL }
func (s *TokenService) RefreshTTL() time.Duration { return s.refreshTTL }

func (s *TokenService) IssueAccessToken(id model.Identity) (string, model.Claims, error) {
	return s.issue(id, model.TokenAccess)
}

func (s *TokenService) IssueRefreshToken(id model.Identity) (string, model.Claims, error) {
	return s.issue(id, model.TokenRefresh)
}

func (s *TokenService) issue(id model.Identity, kind model.TokenKind) (string, model.Claims, error) {
	if id.AccountID == "" || id.SessionID == "" {
		return "", model.Claims{}, errors.New("token subject and session are required")
	}

	secret, ttl := s.keyFor(kind)
	now := s.now().UTC().Truncate(time.Second)
	expiresAt := now.Add(ttl)

	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   id.AccountID,
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Email:     id.Email,
		Role:      id.Role,
		SessionID: id.SessionID,
		Kind:      kind,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", model.Claims{}, fmt.Errorf("sign %s token: %w", kind, err)
	}

	return signed, model.Claims{
		AccountID: id.AccountID,
		Email:     id.Email,
		Role:      id.Role,
		SessionID: id.SessionID,
		Kind:      kind,
		IssuedAt:  now,
		ExpiresAt: expiresAt,
	}, nil
}

// Verify checks signature, issuer, audience and expiry against the secret
// of the requested kind. Expired tokens yield model.ErrTokenExpired; every
// other failure is one of the ErrToken* kinds above.
func (s *TokenService) Verify(raw string, kind model.TokenKind) (model.Claims, error) {
	claims, err := s.parse(raw, kind,
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return model.Claims{}, err
	}
	return toClaims(claims, kind)
}

// VerifyIgnoringExpiry checks signature, issuer, audience and kind but not
// the time claims. Logout uses it to find the session behind a token the
// client kept past its expiry.
func (s *TokenService) VerifyIgnoringExpiry(raw string, kind model.TokenKind) (model.Claims, error) {
	claims, err := s.parse(raw, kind, jwt.WithoutClaimsValidation())
	if err != nil {
		return model.Claims{}, err
	}
	if claims.Issuer != s.issuer {
		return model.Claims{}, ErrTokenIssuerMismatch
	}
	if !slices.Contains(claims.Audience, s.audience) {
		return model.Claims{}, ErrTokenAudienceMismatch
	}
	return toClaims(claims, kind)
}

func (s *TokenService) parse(raw string, kind model.TokenKind, opts ...jwt.ParserOption) (tokenClaims, error) {
	if raw == "" {
		return tokenClaims{}, ErrTokenMalformed
	}

	secret, _ := s.keyFor(kind)
	opts = append([]jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}, opts...)

	var claims tokenClaims
	_, err := jwt.NewParser(opts...).ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return secret, nil
	})
	if err != nil {
		return tokenClaims{}, classifyTokenErr(err)
	}
	return claims, nil
}

func toClaims(claims tokenClaims, kind model.TokenKind) (model.Claims, error) {
	if claims.Kind != kind {
		return model.Claims{}, ErrTokenKindMismatch
	}
	if claims.Subject == "" || claims.SessionID == "" {
		return model.Claims{}, ErrTokenMalformed
	}

	out := model.Claims{
		AccountID: claims.Subject,
		Email:     claims.Email,
		Role:      claims.Role,
		SessionID: claims.SessionID,
		Kind:      claims.Kind,
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	return out, nil
}

func (s *TokenService) keyFor(kind model.TokenKind) ([]byte, time.Duration) {
	if kind == model.TokenRefresh {
		return s.refreshSecret, s.refreshTTL
	}
	return s.accessSecret, s.accessTTL
}

func classifyTokenErr(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrTokenMalformed
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrTokenBadSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		return model.ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return ErrTokenIssuerMismatch
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return ErrTokenAudienceMismatch
	default:
		return ErrTokenMalformed
	}
}
