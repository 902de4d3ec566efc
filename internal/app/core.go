package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"storefront/internal/config"
	"storefront/internal/database"
	"storefront/internal/event"
	"storefront/internal/kv"
	"storefront/internal/repository"
	"storefront/internal/service"
)

const auditWriteTimeout = 2 * time.Second

// Core holds the credential and session services shared by the HTTP
// server and the operator CLI.
type Core struct {
	Config   *config.Config
	DB       *database.DB
	Store    kv.Store
	Accounts *repository.AccountRepository
	Sessions *repository.SessionRegistry
	Ledger   *repository.RevocationLedger
	Tokens   *service.TokenService
	Auth     *service.AuthService
	Admin    *service.AdminService

	bus    *event.InMemoryBus
	audits *repository.AuditRepository
}

func NewCore(ctx context.Context, cfg *config.Config) (*Core, error) {
	slog.Info("connecting to PostgreSQL")
	db, err := database.New(ctx, database.Options{
		URL:              cfg.DatabaseURL,
		MaxConns:         cfg.DBMaxConns,
		MinConns:         cfg.DBMinConns,
		StatementTimeout: cfg.RequestTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure database schema: %w", err)
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		db.Close()
		return nil, err
	}

	tokens, err := service.NewTokenService(service.TokenConfig{
		AccessSecret:  cfg.JWTAccessSecret,
		RefreshSecret: cfg.JWTRefreshSecret,
		Issuer:        cfg.JWTIssuer,
		Audience:      cfg.JWTAudience,
		AccessTTL:     cfg.JWTAccessTTL,
		RefreshTTL:    cfg.JWTRefreshTTL,
	}, time.Now)
	if err != nil {
		_ = store.Close()
		db.Close()
		return nil, fmt.Errorf("failed to initialize token service: %w", err)
	}

	hasher, err := service.NewPasswordHasher(cfg.BcryptCost)
	if err != nil {
		_ = store.Close()
		db.Close()
		return nil, fmt.Errorf("failed to initialize password hasher: %w", err)
	}

	bus := event.NewBus(0)
	audit := event.NewAuditSink(bus)

	accounts := repository.NewAccountRepository(db.Pool)
	audits := repository.NewAuditRepository(db.Pool)
	sessions := repository.NewSessionRegistry(store, cfg.StoreTimeout)
	ledger := repository.NewRevocationLedger(store, cfg.StoreTimeout)

	gate := service.NewLoginGate(accounts, hasher, service.LockoutPolicy{
		MaxFailedAttempts: cfg.LoginMaxFailedAttempts,
		LockoutDuration:   cfg.LoginLockoutDuration,
	}, audit, time.Now)

	auth := service.NewAuthService(service.AuthDeps{
		Accounts: accounts,
		Sessions: sessions,
		Ledger:   ledger,
		Resets:   repository.NewResetTokenStore(store, cfg.StoreTimeout),
		Tokens:   tokens,
		Gate:     gate,
		Limiter:  service.NewRateLimiter(store, cfg.StoreTimeout, time.Now),
		Hasher:   hasher,
		Mailer:   service.LogMailer{},
		Audit:    audit,
		Now:      time.Now,
	}, service.AuthConfig{
		SessionTTL:       cfg.SessionTTL,
		RememberMeTTL:    cfg.JWTRefreshTTL,
		LoginLimit:       service.RatePolicy{Max: cfg.LoginRateLimitMax, Window: cfg.LoginRateLimitWindow},
		ResetLimit:       service.RatePolicy{Max: cfg.ResetRateLimitMax, Window: cfg.ResetRateLimitWindow},
		ResetTTL:         cfg.PasswordResetTTL,
		ResetURL:         cfg.PasswordResetURL,
		RevokeAllOnReuse: cfg.RevokeAllOnRefreshReuse,
	})

	return &Core{
		Config:   cfg,
		DB:       db,
		Store:    store,
		Accounts: accounts,
		Sessions: sessions,
		Ledger:   ledger,
		Tokens:   tokens,
		Auth:     auth,
		Admin:    service.NewAdminService(auth, audits),
		bus:      bus,
		audits:   audits,
	}, nil
}

func openStore(ctx context.Context, cfg *config.Config) (kv.Store, error) {
	if cfg.KVBackend == "memory" {
		slog.Warn("using in-process KV store; sessions and counters are not shared between instances")
		return kv.NewMemory(), nil
	}

	slog.Info("connecting to Redis")
	client, err := kv.Connect(ctx, kv.RedisConfig{
		ConnectionURL:  cfg.RedisURL,
		RetryAttempts:  cfg.RedisRetryAttempts,
		RetryInterval:  cfg.RedisRetryInterval,
		ConnectTimeout: cfg.RedisConnTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return kv.NewRedis(client), nil
}

// StartAudit runs the audit consumer until the returned stop function is
// called. Stop flushes buffered events before returning.
func (c *Core) StartAudit() (stop func()) {
	consumer := event.NewAuditConsumer(c.bus, c.audits, auditWriteTimeout)
	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	wg.Go(func() {
		consumer.Run(ctx)
	})

	return func() {
		cancel()
		wg.Wait()
		if dropped := c.bus.Dropped(); dropped > 0 {
			slog.Warn("audit events dropped", "count", dropped)
		}
	}
}

// SeedAdmin creates the configured admin account on an empty database.
func (c *Core) SeedAdmin(ctx context.Context) error {
	if c.Config.AdminEmail == "" {
		return nil
	}

	created, err := c.Auth.SeedAdmin(ctx, c.Config.AdminEmail, c.Config.AdminPassword)
	if err != nil {
		return fmt.Errorf("failed to seed admin account: %w", err)
	}
	if created {
		slog.Info("admin account seeded", "email", c.Config.AdminEmail)
	}
	return nil
}

func (c *Core) Close() {
	c.Auth.WaitForMail()
	if err := c.Store.Close(); err != nil {
		slog.Warn("failed to close KV store", "error", err)
	}
	c.DB.Close()
}
