package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/CaioWing/Ledger/internal/api/docs"
	"github.com/CaioWing/Ledger/internal/api/management"
	"github.com/CaioWing/Ledger/internal/api/middleware"
	"github.com/CaioWing/Ledger/internal/api/response"
	"github.com/CaioWing/Ledger/internal/auth"
	"github.com/CaioWing/Ledger/internal/service"
)

type RouterDeps struct {
	ActivitySvc   *service.ActivityService
	JWTManager    *auth.JWTManager
	AdminEmail    string
	AdminPassHash string
	CORSOrigins   string
	Logger        *slog.Logger
	// Metrics is shared with the activity service, which reports ledger
	// outcomes to it. A fresh collector is used when nil.
	Metrics *middleware.Metrics
}

func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	metrics := deps.Metrics
	if metrics == nil {
		metrics = middleware.NewMetrics()
	}

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.Logger(deps.Logger))
	r.Use(metrics.Middleware())

	origins := strings.Split(deps.CORSOrigins, ",")
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/metrics", metrics.Handler())

	r.Handle("/docs", http.RedirectHandler("/docs/", http.StatusMovedPermanently))
	r.Handle("/docs/*", http.StripPrefix("/docs", docs.Handler()))

	authHandler := management.NewAuthHandler(deps.JWTManager, deps.AdminEmail, deps.AdminPassHash, deps.ActivitySvc)
	activityHandler := management.NewActivityHandler(deps.ActivitySvc)

	r.Route("/api/v1/management", func(r chi.Router) {
		// 30 req/s with burst of 60
		r.Use(middleware.RateLimit(30, 60))

		r.Post("/auth/login", authHandler.Login)

		r.Group(func(r chi.Router) {
			r.Use(middleware.ManagementAuth(deps.JWTManager))
			r.Post("/auth/refresh", authHandler.Refresh)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.ManagementAuth(deps.JWTManager))
			r.Use(middleware.ActivityLog(deps.ActivitySvc))

			r.Get("/activity", activityHandler.List)
			r.Get("/activity/head", activityHandler.Head)
			r.Get("/activity/verifications/latest", activityHandler.LastVerification)
			r.Get("/activity/{seq}", activityHandler.Get)
			r.Post("/activity/verify", activityHandler.Verify)
		})
	})

	return r
}
