package service

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"

	"storefront/internal/model"
)

const (
	minPasswordLength = 8
	maxPasswordLength = 72
)

// PasswordHasher wraps bcrypt. It keeps a hash of a throwaway password so
// lookups for unknown accounts can burn the same CPU as a real comparison.
type PasswordHasher struct {
	cost      int
	dummyHash []byte
}

func NewPasswordHasher(cost int) (*PasswordHasher, error) {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	cost = max(bcrypt.MinCost, min(cost, bcrypt.MaxCost))

	dummy, err := bcrypt.GenerateFromPassword([]byte("storefront-dummy-password"), cost)
	if err != nil {
		return nil, fmt.Errorf("prepare dummy hash: %w", err)
	}

	return &PasswordHasher{cost: cost, dummyHash: dummy}, nil
}

func (h *PasswordHasher) Hash(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Compare reports whether password matches hash. A malformed hash counts as
// a mismatch.
func (h *PasswordHasher) Compare(hash string, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// CompareDummy runs a full bcrypt comparison whose result is discarded.
func (h *PasswordHasher) CompareDummy(password string) {
	_ = bcrypt.CompareHashAndPassword(h.dummyHash, []byte(password))
}

var errPasswordLength = errors.New("password must be between 8 and 72 bytes")

func validatePassword(password string) error {
	if len(password) < minPasswordLength || len(password) > maxPasswordLength || !utf8.ValidString(password) {
		return fmt.Errorf("%w: %w", model.ErrInvalidInput, errPasswordLength)
	}
	return nil
}
