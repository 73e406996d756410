package api

import (
	"net/http"
	"time"

	"github.com/athebyme/catalog-feed-service/internal/api/handlers"
	"github.com/athebyme/catalog-feed-service/internal/api/middleware"
	"github.com/athebyme/catalog-feed-service/internal/domain/services"
	"github.com/athebyme/catalog-feed-service/internal/ports"
	"github.com/athebyme/catalog-feed-service/internal/security"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRouter настраивает маршрутизатор
func SetupRouter(
	feedService services.FeedServiceInterface,
	jobs handlers.JobStatusProvider,
	logger ports.LoggerPort,
	corsAllowedOrigins []string,
	jwtManager *security.JWTManager,
) *chi.Mux {
	r := chi.NewRouter()

	// Глобальные middleware
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(middleware.CORS(corsAllowedOrigins))
	r.Use(middleware.SecurityHeaders)

	r.Method(http.MethodGet, "/health", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}))
	r.Method(http.MethodHead, "/health", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	feedHandler := handlers.NewFeedHandler(feedService, jobs, logger)

	// Публичная выдача фида по токену канала
	r.Get("/product-catalog", feedHandler.GetChannelFeed)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.JWTAuth(jwtManager, logger))

		r.Route("/product-catalog", func(r chi.Router) {
			// Ручной запуск пересборки фида канала
			r.With(middleware.RequirePermission(security.PermissionRebuildFeed)).
				Post("/rebuild", feedHandler.Rebuild)

			// Статус задачи пересборки
			r.Get("/jobs/{id}", feedHandler.JobStatus)
		})
	})

	return r
}
