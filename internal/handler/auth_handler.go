package handler

import (
	"errors"
	"net/http"
	"strings"

	"storefront/internal/middleware"
	"storefront/internal/model"
	"storefront/internal/service"
	"storefront/internal/transport"
)

type AuthHandler struct {
	service *service.AuthService
	cookies *transport.Cookies
}

func NewAuthHandler(service *service.AuthService, cookies *transport.Cookies) *AuthHandler {
	return &AuthHandler{service: service, cookies: cookies}
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var payload model.RegisterRequest
	if err := decodeJSON(w, r, &payload, false); err != nil {
		writeError(w, err)
		return
	}

	profile, err := h.service.Register(r.Context(), payload)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusCreated, profile)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var payload model.LoginRequest
	if err := decodeJSON(w, r, &payload, false); err != nil {
		writeError(w, err)
		return
	}

	info, _ := middleware.RequestInfoFromContext(r.Context())
	pair, err := h.service.Login(r.Context(), payload, info.Client)
	if err != nil {
		writeError(w, err)
		return
	}

	h.cookies.SetTokens(w, pair)
	writeSuccess(w, http.StatusOK, pair)
}

// Refresh takes the refresh token from its cookie, or from the JSON body
// for clients that do not keep cookies.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	info, _ := middleware.RequestInfoFromContext(r.Context())

	raw := info.RefreshToken
	if raw == "" {
		var payload model.RefreshRequest
		if err := decodeJSON(w, r, &payload, true); err != nil {
			writeError(w, err)
			return
		}
		raw = strings.TrimSpace(payload.RefreshToken)
	}

	pair, err := h.service.Refresh(r.Context(), raw, info.Client)
	if err != nil {
		if errors.Is(err, model.ErrSessionRevoked) || errors.Is(err, model.ErrTokenInvalid) || errors.Is(err, model.ErrAccountInactive) {
			h.cookies.Clear(w)
		}
		writeError(w, err)
		return
	}

	h.cookies.SetTokens(w, pair)
	writeSuccess(w, http.StatusOK, pair)
}

// Logout always succeeds for the caller. The session comes from the
// authenticated identity or, once the access token is stale, from the
// refresh token or the expired access token itself.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sessionID, accountID := h.sessionToEnd(w, r)

	if err := h.service.Logout(r.Context(), sessionID, accountID); err != nil {
		writeError(w, err)
		return
	}

	h.cookies.Clear(w)
	writeSuccess(w, http.StatusOK, map[string]any{"logged_out": true})
}

func (h *AuthHandler) sessionToEnd(w http.ResponseWriter, r *http.Request) (string, string) {
	if id, ok := middleware.IdentityFromContext(r.Context()); ok {
		return id.SessionID, id.AccountID
	}

	info, _ := middleware.RequestInfoFromContext(r.Context())
	raw := info.RefreshToken
	if raw == "" {
		var payload model.RefreshRequest
		if err := decodeJSON(w, r, &payload, true); err == nil {
			raw = strings.TrimSpace(payload.RefreshToken)
		}
	}
	if raw != "" {
		if claims, err := h.service.SessionFromToken(raw, model.TokenRefresh); err == nil {
			return claims.SessionID, claims.AccountID
		}
	}

	if info.AccessToken != "" {
		if claims, err := h.service.SessionFromToken(info.AccessToken, model.TokenAccess); err == nil {
			return claims.SessionID, claims.AccountID
		}
	}
	return "", ""
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	id, err := requireIdentity(r)
	if err != nil {
		writeError(w, err)
		return
	}

	profile, err := h.service.Me(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, profile)
}

func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	id, err := requireIdentity(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var payload model.ChangePasswordRequest
	if err := decodeJSON(w, r, &payload, false); err != nil {
		writeError(w, err)
		return
	}

	if err := h.service.ChangePassword(r.Context(), id, payload); err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]any{"password_changed": true})
}

func (h *AuthHandler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var payload model.PasswordResetRequest
	if err := decodeJSON(w, r, &payload, false); err != nil {
		writeError(w, err)
		return
	}

	info, _ := middleware.RequestInfoFromContext(r.Context())
	if err := h.service.RequestPasswordReset(r.Context(), payload.Email, info.Client); err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusAccepted, map[string]any{"accepted": true})
}

func (h *AuthHandler) ConfirmPasswordReset(w http.ResponseWriter, r *http.Request) {
	var payload model.PasswordResetConfirmRequest
	if err := decodeJSON(w, r, &payload, false); err != nil {
		writeError(w, err)
		return
	}

	if err := h.service.ResetPassword(r.Context(), strings.TrimSpace(payload.Token), payload.NewPassword); err != nil {
		writeError(w, err)
		return
	}

	h.cookies.Clear(w)
	writeSuccess(w, http.StatusOK, map[string]any{"password_reset": true})
}
