package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storefront/internal/config"
	"storefront/internal/handler"
	"storefront/internal/kv"
	"storefront/internal/middleware"
	"storefront/internal/router"
	"storefront/internal/transport"
)

type App struct {
	server       *http.Server
	cleanupFuncs []func()
}

func New(cfg *config.Config) (*App, error) {
	core, err := NewCore(context.Background(), cfg)
	if err != nil {
		return nil, err
	}

	stopAudit := core.StartAudit()

	if err := core.SeedAdmin(context.Background()); err != nil {
		stopAudit()
		core.Close()
		return nil, err
	}

	cookies := transport.NewCookies(cfg.AccessCookieName, cfg.RefreshCookieName, cfg.CookieDomain, cfg.SecureCookies())
	sessionMiddleware := middleware.NewSessionMiddleware(middleware.SessionDeps{
		Tokens:        core.Tokens,
		Ledger:        core.Ledger,
		Sessions:      core.Sessions,
		Accounts:      core.Accounts,
		Cookies:       cookies,
		RememberMeTTL: cfg.JWTRefreshTTL,
		Now:           time.Now,
	})

	appRouter := router.New(cfg, cookies, sessionMiddleware, router.Handlers{
		Auth:  handler.NewAuthHandler(core.Auth, cookies),
		Admin: handler.NewAdminHandler(core.Admin),
		Health: handler.NewHealthHandler(map[string]handler.Check{
			"postgres": core.DB.Health,
			"kv":       kv.Healthcheck(core.Store),
		}, 2*time.Second),
	})

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           appRouter,
		ReadHeaderTimeout: cfg.ServerReadHeaderTimeout,
		WriteTimeout:      cfg.ServerWriteTimeout,
		IdleTimeout:       cfg.ServerIdleTimeout,
	}

	return &App{
		server: server,
		cleanupFuncs: []func(){
			stopAudit,
			core.Close,
		},
	}, nil
}

func (a *App) Run() error {
	serveErr := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case <-stop:
	case err := <-serveErr:
		runErr = fmt.Errorf("server failed: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.server.Shutdown(ctx); err != nil && runErr == nil {
		runErr = fmt.Errorf("graceful shutdown failed: %w", err)
	}

	// In-flight requests are done; flush audit events, then close stores.
	for _, cleanup := range a.cleanupFuncs {
		cleanup()
	}

	slog.Info("server stopped")
	return runErr
}
