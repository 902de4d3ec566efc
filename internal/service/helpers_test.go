package service

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"storefront/internal/kv"
	"storefront/internal/model"
	"storefront/internal/repository"
)

const testPassword = "correct-horse-battery"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingAuditor struct {
	mu     sync.Mutex
	events []string
}

func (a *recordingAuditor) Record(name string, _ string, _ map[string]any) {
	a.mu.Lock()
	a.events = append(a.events, name)
	a.mu.Unlock()
}

func (a *recordingAuditor) Has(name string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Contains(a.events, name)
}

type mockMailer struct {
	mock.Mock
}

func (m *mockMailer) SendPasswordReset(ctx context.Context, email string, link string) error {
	args := m.Called(ctx, email, link)
	return args.Error(0)
}

type fixture struct {
	clock    *testClock
	store    *kv.Memory
	accounts *repository.MemoryAccountRepository
	sessions *repository.SessionRegistry
	ledger   *repository.RevocationLedger
	tokens   *TokenService
	hasher   *PasswordHasher
	gate     *LoginGate
	limiter  *RateLimiter
	audit    *recordingAuditor
	mailer   *mockMailer
	auth     *AuthService
	admin    *AdminService
}

func newFixture(t *testing.T, tweak ...func(*AuthConfig)) *fixture {
	t.Helper()

	clock := newTestClock()
	store := kv.NewMemory(kv.WithClock(clock.Now))
	hasher, err := NewPasswordHasher(bcrypt.MinCost)
	require.NoError(t, err)

	f := &fixture{
		clock:    clock,
		store:    store,
		accounts: repository.NewMemoryAccountRepository(),
		sessions: repository.NewSessionRegistry(store, time.Second),
		ledger:   repository.NewRevocationLedger(store, time.Second),
		tokens:   newTestTokens(t, clock),
		hasher:   hasher,
		limiter:  NewRateLimiter(store, time.Second, clock.Now),
		audit:    &recordingAuditor{},
		mailer:   &mockMailer{},
	}
	f.gate = NewLoginGate(f.accounts, hasher, LockoutPolicy{
		MaxFailedAttempts: 5,
		LockoutDuration:   15 * time.Minute,
	}, f.audit, clock.Now)

	cfg := AuthConfig{
		SessionTTL: 24 * time.Hour,
		LoginLimit: RatePolicy{Max: 5, Window: 15 * time.Minute},
		ResetLimit: RatePolicy{Max: 3, Window: time.Hour},
		ResetTTL:   30 * time.Minute,
		ResetURL:   "https://shop.example.com/reset-password",
	}
	for _, fn := range tweak {
		fn(&cfg)
	}

	f.auth = NewAuthService(AuthDeps{
		Accounts: f.accounts,
		Sessions: f.sessions,
		Ledger:   f.ledger,
		Resets:   repository.NewResetTokenStore(store, time.Second),
		Tokens:   f.tokens,
		Gate:     f.gate,
		Limiter:  f.limiter,
		Hasher:   hasher,
		Mailer:   f.mailer,
		Audit:    f.audit,
		Now:      clock.Now,
	}, cfg)
	f.admin = NewAdminService(f.auth, nil)

	return f
}

func (f *fixture) seedAccount(t *testing.T, email string) model.Account {
	t.Helper()
	account, err := f.auth.CreateAccount(context.Background(), email, testPassword, model.RoleCustomer)
	require.NoError(t, err)
	return account
}

func (f *fixture) account(t *testing.T, id string) model.Account {
	t.Helper()
	account, err := f.accounts.FindByID(context.Background(), id)
	require.NoError(t, err)
	return account
}

func (f *fixture) login(t *testing.T, email string, client model.ClientInfo) model.TokenPair {
	t.Helper()
	pair, err := f.auth.Login(context.Background(), model.LoginRequest{Email: email, Password: testPassword}, client)
	require.NoError(t, err)
	return pair
}

var testClient = model.ClientInfo{IP: "203.0.113.7", UserAgent: "go-test"}
