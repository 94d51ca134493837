package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"genflow/internal/http/handlers"
	"genflow/internal/middleware"
)

// RouterConfig carries the secrets and limits of the public API.
type RouterConfig struct {
	JWTSecret       string
	SweepToken      string
	RateLimitPerMin int
	Locales         []string
}

func NewRouter(app *handlers.App, cfg RouterConfig, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		middleware.Logger(logger),
		chimw.Recoverer,
		middleware.I18N(cfg.Locales...),
	)

	r.Get("/v1/healthz", app.Health)

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthJWT(cfg.JWTSecret))
		if cfg.RateLimitPerMin > 0 {
			r.Use(middleware.RateLimit(cfg.RateLimitPerMin, time.Minute))
		}

		r.Route("/v1/workflows", func(r chi.Router) {
			r.Post("/", app.CreateWorkflow)
			r.Get("/{id}", app.GetWorkflow)
			r.Get("/{id}/segments", app.ListSegments)
			r.Post("/{id}/segments/{index}/regenerate", app.RegenerateSegment)
			r.Post("/{id}/segments/{index}/approve", app.ApproveSegmentVideo)
			r.Post("/{id}/download", app.DownloadWorkflow)
		})
		r.Get("/v1/credits", app.CreditsSummary)
	})

	r.With(middleware.SharedSecret(middleware.SweepTokenHeader, cfg.SweepToken)).
		Post("/internal/sweep", app.RunSweep)

	return r
}
