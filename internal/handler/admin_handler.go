package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"storefront/internal/model"
	"storefront/internal/service"
	"storefront/pkg/apierror"
)

const defaultAuditLimit = 50

type AdminHandler struct {
	service *service.AdminService
}

func NewAdminHandler(service *service.AdminService) *AdminHandler {
	return &AdminHandler{service: service}
}

func (h *AdminHandler) Get(w http.ResponseWriter, r *http.Request) {
	accountID, err := accountParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	account, err := h.service.Account(r.Context(), accountID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, account)
}

func (h *AdminHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	accountID, err := accountParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	sessions, err := h.service.Sessions(r.Context(), accountID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, model.SessionList{Sessions: sessions})
}

func (h *AdminHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

func (h *AdminHandler) Activate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

func (h *AdminHandler) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	actor, accountID, err := actorAndAccount(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.service.SetActive(r.Context(), actor, accountID, active); err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]any{"account_id": accountID, "is_active": active})
}

func (h *AdminHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	actor, accountID, err := actorAndAccount(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.service.Unlock(r.Context(), actor, accountID); err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]any{"account_id": accountID, "unlocked": true})
}

func (h *AdminHandler) RevokeSessions(w http.ResponseWriter, r *http.Request) {
	actor, accountID, err := actorAndAccount(r)
	if err != nil {
		writeError(w, err)
		return
	}

	revoked, err := h.service.RevokeSessions(r.Context(), actor, accountID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]any{"account_id": accountID, "revoked": revoked})
}

func (h *AdminHandler) Audit(w http.ResponseWriter, r *http.Request) {
	accountID, err := accountParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	limit := min(parseIntOrDefault(r.URL.Query().Get("limit"), defaultAuditLimit), 500)
	events, err := h.service.AuditLog(r.Context(), accountID, limit)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]any{"events": events})
}

func accountParam(r *http.Request) (string, error) {
	accountID := chi.URLParam(r, "id")
	if accountID == "" {
		return "", apierror.New("BAD_REQUEST", "account id is required", "id", http.StatusBadRequest)
	}
	return accountID, nil
}

func actorAndAccount(r *http.Request) (model.Identity, string, error) {
	actor, err := requireIdentity(r)
	if err != nil {
		return model.Identity{}, "", err
	}
	accountID, err := accountParam(r)
	if err != nil {
		return model.Identity{}, "", err
	}
	return actor, accountID, nil
}
