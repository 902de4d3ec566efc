package service

import (
	"context"
	"log/slog"
)

// Mailer delivers account emails. Delivery is outside this service.
type Mailer interface {
	SendPasswordReset(ctx context.Context, email string, link string) error
}

// LogMailer writes the reset link to the log instead of sending it.
type LogMailer struct{}

func (LogMailer) SendPasswordReset(ctx context.Context, email string, link string) error {
	slog.InfoContext(ctx, "password reset link issued", "email", email, "reset_link", link)
	return nil
}
