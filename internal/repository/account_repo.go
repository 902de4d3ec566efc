package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"storefront/internal/model"
)

const (
	pgUniqueViolation = "23505"
	pgInvalidTextRepr = "22P02"
)

const accountSelectColumns = `id, email, password_hash, role, is_active, failed_attempts,
		        locked_until, last_login_at, created_at, updated_at`

type AccountRepository struct {
	pool *pgxpool.Pool
}

func NewAccountRepository(pool *pgxpool.Pool) *AccountRepository {
	return &AccountRepository{pool: pool}
}

func (r *AccountRepository) FindByID(ctx context.Context, id string) (model.Account, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+accountSelectColumns+` FROM accounts WHERE id = $1`, id)
	a, err := scanAccount(row)
	if err != nil {
		return model.Account{}, classifyLookupErr("find account by id", err)
	}
	return a, nil
}

func (r *AccountRepository) FindByEmail(ctx context.Context, email string) (model.Account, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+accountSelectColumns+` FROM accounts WHERE lower(email) = lower($1)`,
		strings.TrimSpace(email))
	a, err := scanAccount(row)
	if err != nil {
		return model.Account{}, classifyLookupErr("find account by email", err)
	}
	return a, nil
}

func (r *AccountRepository) Create(ctx context.Context, a model.Account) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO accounts (id, email, password_hash, role, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.Email, a.PasswordHash, string(a.Role), a.IsActive, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return model.ErrEmailTaken
		}
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

// Update applies the non-nil fields of u.
func (r *AccountRepository) Update(ctx context.Context, id string, u model.AccountUpdate) error {
	if u.Empty() {
		return nil
	}

	sets := make([]string, 0, 5)
	args := []any{id}
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if u.PasswordHash != nil {
		add("password_hash", *u.PasswordHash)
	}
	if u.Role != nil {
		add("role", string(*u.Role))
	}
	if u.IsActive != nil {
		add("is_active", *u.IsActive)
	}
	if u.LastLoginAt != nil {
		add("last_login_at", *u.LastLoginAt)
	}
	add("updated_at", time.Now().UTC())

	tag, err := r.pool.Exec(ctx,
		`UPDATE accounts SET `+strings.Join(sets, ", ")+` WHERE id = $1`, args...)
	if err != nil {
		return classifyLookupErr("update account", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrAccountNotFound
	}
	return nil
}

// IncrementFailedAttempts bumps the counter in the row itself and returns the
// value this call produced, so concurrent callers each observe a distinct count.
func (r *AccountRepository) IncrementFailedAttempts(ctx context.Context, id string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`UPDATE accounts
		 SET failed_attempts = failed_attempts + 1, updated_at = now()
		 WHERE id = $1
		 RETURNING failed_attempts`, id).Scan(&count)
	if err != nil {
		return 0, classifyLookupErr("increment failed attempts", err)
	}
	return count, nil
}

// LockUntil sets the lockout expiry unless an unexpired lock is already in
// place. It reports whether this call performed the transition.
func (r *AccountRepository) LockUntil(ctx context.Context, id string, until time.Time, now time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE accounts
		 SET locked_until = $2, updated_at = now()
		 WHERE id = $1 AND (locked_until IS NULL OR locked_until <= $3)`,
		id, until, now)
	if err != nil {
		return false, fmt.Errorf("lock account: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ClearExpiredLock resets counter and lock only when the lock has elapsed.
func (r *AccountRepository) ClearExpiredLock(ctx context.Context, id string, now time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE accounts
		 SET failed_attempts = 0, locked_until = NULL, updated_at = now()
		 WHERE id = $1 AND locked_until IS NOT NULL AND locked_until <= $2`,
		id, now)
	if err != nil {
		return false, fmt.Errorf("clear expired lock: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *AccountRepository) ResetFailedAttempts(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE accounts SET failed_attempts = 0, locked_until = NULL, updated_at = now() WHERE id = $1`,
		id)
	if err != nil {
		return fmt.Errorf("reset failed attempts: %w", err)
	}
	return nil
}

func (r *AccountRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count accounts: %w", err)
	}
	return count, nil
}

func scanAccount(row pgx.Row) (model.Account, error) {
	var a model.Account
	var role string
	err := row.Scan(&a.ID, &a.Email, &a.PasswordHash, &role, &a.IsActive, &a.FailedAttempts,
		&a.LockedUntil, &a.LastLoginAt, &a.CreatedAt, &a.UpdatedAt)
	a.Role = model.Role(role)
	return a, err
}

func classifyLookupErr(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ErrAccountNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgInvalidTextRepr {
		return model.ErrAccountNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}
