package httpapi

import (
	stdhttp "net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"darkroom/internal/http/handlers"
	"darkroom/internal/infra"
	"darkroom/internal/middleware"
)

// NewRouter wires the mission queue API consumed by the editor UI.
func NewRouter(app *handlers.App, cfg *infra.Config, logger infra.Logger) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, chimw.RealIP, chimw.Recoverer)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	r.Get("/v1/healthz", app.Health)
	r.Method(stdhttp.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1/missions", func(r chi.Router) {
		r.With(middleware.RateLimit(cfg.RateLimitPerMin, time.Minute)).
			Post("/", app.EnqueueMission)
		r.Get("/", app.ListMissions)
		r.Delete("/finished", app.ClearFinished)
		r.Get("/{id}", app.GetMission)
		r.Get("/{id}/result", app.MissionResult)
		r.Get("/{id}/result/archive", app.MissionArchive)
		r.Post("/{id}/regenerate", app.RegenerateMission)
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/edits", app.EditImage)
		r.Post("/prompts/enhance", app.EnhancePrompt)
		r.Post("/frames/analyze", app.AnalyzeFrame)
	})

	return r
}
