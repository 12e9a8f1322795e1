package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"go-photoshare/internal/config"
	"go-photoshare/internal/handler"
	"go-photoshare/internal/middleware"
)

type Handlers struct {
	Auth      *handler.AuthHandler
	User      *handler.UserHandler
	Audit     *handler.AuditHandler
	Authorize *handler.AuthorizeHandler
	Health    *handler.HealthHandler
}

func New(cfg *config.Config, authMiddleware *middleware.AuthMiddleware, h Handlers) http.Handler {
	r := chi.NewRouter()
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(cfg.RateLimitRPM, cfg.AuthRateLimitRPM)

	r.Use(middleware.Recovery)
	r.Use(middleware.Logging)
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(middleware.SecurityHeaders)
	r.Use(rateLimitMiddleware.Handler)

	r.Get("/health", h.Health.Check)

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(middleware.Timeout(cfg.RequestTimeout))

		api.Route("/auth", func(auth chi.Router) {
			auth.Post("/signup", h.Auth.Signup)
			auth.Post("/login", h.Auth.Login)
			auth.Post("/refresh", h.Auth.Refresh)
			auth.With(authMiddleware.RequireAuth).Post("/logout", h.Auth.Logout)
			auth.Get("/confirm/{token}", h.Auth.Confirm)
			auth.Post("/confirm/request", h.Auth.RequestConfirmation)
			auth.Post("/password/forgot", h.Auth.ForgotPassword)
			auth.Post("/password/reset", h.Auth.ResetPassword)
		})

		api.Route("/users", func(users chi.Router) {
			users.Use(authMiddleware.RequireAuth)

			users.Get("/me", h.User.Me)
			users.Put("/me/password", h.User.ChangePassword)
			users.Get("/", h.User.List)
			users.Get("/{id}", h.User.Get)
			users.Put("/{id}/role", h.User.ChangeRole)
			users.Put("/{id}/ban", h.User.Ban)
			users.Delete("/{id}/ban", h.User.Unban)
			users.Get("/{id}/events", h.Audit.History)
		})

		api.With(authMiddleware.RequireAuth).Post("/authorize", h.Authorize.Authorize)
	})

	return r
}
