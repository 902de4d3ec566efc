package service

import (
	"context"

	"storefront/internal/model"
)

type AuditReader interface {
	ListForAccount(ctx context.Context, accountID string, limit int) ([]model.AuditEvent, error)
}

// AdminService exposes account and session management to operators.
type AdminService struct {
	auth   *AuthService
	audits AuditReader
}

func NewAdminService(auth *AuthService, audits AuditReader) *AdminService {
	return &AdminService{auth: auth, audits: audits}
}

func (s *AdminService) Account(ctx context.Context, accountID string) (model.Account, error) {
	account, err := s.auth.Accounts.FindByID(ctx, accountID)
	if err != nil {
		return model.Account{}, accountErr("load account", err)
	}
	return account, nil
}

func (s *AdminService) Sessions(ctx context.Context, accountID string) ([]model.Session, error) {
	if _, err := s.Account(ctx, accountID); err != nil {
		return nil, err
	}
	return s.auth.Sessions.ListForAccount(ctx, accountID)
}

// SetActive toggles the account's active flag. Deactivation also revokes
// every live session so the account is cut off on its next request.
func (s *AdminService) SetActive(ctx context.Context, actor model.Identity, accountID string, active bool) error {
	update := model.AccountUpdate{IsActive: &active}
	if err := s.auth.Accounts.Update(ctx, accountID, update); err != nil {
		return accountErr("update account", err)
	}

	name := "account.activated"
	if !active {
		name = "account.deactivated"
		if _, err := s.auth.RevokeAll(ctx, accountID, ""); err != nil {
			return err
		}
	}

	s.auth.Audit.Record(name, accountID, map[string]any{"actor_id": actor.AccountID})
	return nil
}

func (s *AdminService) Unlock(ctx context.Context, actor model.Identity, accountID string) error {
	if _, err := s.Account(ctx, accountID); err != nil {
		return err
	}
	return s.auth.Gate.Unlock(ctx, accountID, actor.AccountID)
}

func (s *AdminService) RevokeSessions(ctx context.Context, actor model.Identity, accountID string) (int, error) {
	if _, err := s.Account(ctx, accountID); err != nil {
		return 0, err
	}
	keep := ""
	if actor.AccountID == accountID {
		keep = actor.SessionID
	}
	return s.auth.RevokeAll(ctx, accountID, keep)
}

func (s *AdminService) AuditLog(ctx context.Context, accountID string, limit int) ([]model.AuditEvent, error) {
	if s.audits == nil {
		return []model.AuditEvent{}, nil
	}
	events, err := s.audits.ListForAccount(ctx, accountID, limit)
	if err != nil {
		return nil, accountErr("list audit events", err)
	}
	return events, nil
}
