package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"storefront/internal/config"
	"storefront/internal/handler"
	"storefront/internal/middleware"
	"storefront/internal/model"
	"storefront/internal/transport"
)

type Handlers struct {
	Auth   *handler.AuthHandler
	Admin  *handler.AdminHandler
	Health *handler.HealthHandler
}

func New(
	cfg *config.Config,
	cookies *transport.Cookies,
	sessionMiddleware *middleware.SessionMiddleware,
	handlers Handlers,
) http.Handler {
	r := chi.NewRouter()
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(cfg.GeneralRateLimitRPM, cfg.AuthRateLimitRPM)

	r.Use(middleware.Recovery)
	r.Use(middleware.Logging(cfg.TrustProxyHeaders))
	r.Use(middleware.SecurityHeaders(cfg.SecureCookies()))
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(middleware.RequestContext(cookies, cfg.TrustProxyHeaders))
	r.Use(rateLimitMiddleware.Handler)

	r.Get("/health", handlers.Health.Health)
	r.Get("/ready", handlers.Health.Ready)

	requireAuth := sessionMiddleware.RequireAuth

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(middleware.Timeout(cfg.RequestTimeout))

		api.Route("/auth", func(auth chi.Router) {
			auth.Post("/register", handlers.Auth.Register)
			auth.Post("/login", handlers.Auth.Login)
			auth.Post("/refresh", handlers.Auth.Refresh)
			auth.With(sessionMiddleware.OptionalAuth).Post("/logout", handlers.Auth.Logout)
			auth.With(requireAuth).Get("/me", handlers.Auth.Me)
			auth.With(requireAuth).Post("/password", handlers.Auth.ChangePassword)
			auth.Post("/password-reset", handlers.Auth.RequestPasswordReset)
			auth.Post("/password-reset/confirm", handlers.Auth.ConfirmPasswordReset)
		})

		api.Route("/admin/accounts/{id}", func(admin chi.Router) {
			admin.Use(requireAuth)

			admin.With(middleware.RequireRoles(model.RoleManager, model.RoleAdmin)).Get("/", handlers.Admin.Get)

			admin.Group(func(g chi.Router) {
				g.Use(middleware.RequireRoles(model.RoleAdmin))
				g.Get("/sessions", handlers.Admin.Sessions)
				g.Post("/deactivate", handlers.Admin.Deactivate)
				g.Post("/activate", handlers.Admin.Activate)
				g.Post("/unlock", handlers.Admin.Unlock)
				g.Post("/sessions/revoke", handlers.Admin.RevokeSessions)
				g.Get("/audit", handlers.Admin.Audit)
			})
		})
	})

	return r
}
