package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"artshield/internal/http/handlers"
	"artshield/internal/middleware"
)

func NewRouter(app *handlers.App) http.Handler {
	r := chi.NewRouter()

	r.Use(
		chimw.RealIP,
		chimw.Recoverer,
		middleware.RequestID,
		middleware.Geo(app.Geo),
		middleware.Logger(app.Logger),
		middleware.CORS(app.Cfg.AllowedOrigins),
		middleware.RateLimit(app.Cfg.RateLimitPerMin, time.Minute),
	)

	r.Get("/healthz", app.Health)
	r.Post("/internal/scheduler/tick", app.SchedulerTick)

	r.Route("/v1", func(r chi.Router) {
		// Provider callbacks authenticate with a shared secret, not a JWT.
		r.Post("/webhooks/protection", app.ProtectionWebhook)

		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthJWT(app.Cfg.JWTSecret))

			r.Route("/artworks/{id}", func(r chi.Router) {
				r.Post("/protect", app.ArtworkProtect)
				r.Post("/cancel", app.ArtworkCancel)
				r.Post("/resume", app.ArtworkResume)
				r.Get("/protection", app.ArtworkProtectionStatus)
			})
			r.Get("/credits", app.CreditBalance)
		})
	})

	return r
}
