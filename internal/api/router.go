package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/prudhvinik1/nebula/internal/httpx"
	"github.com/prudhvinik1/nebula/internal/metrics"
	"github.com/prudhvinik1/nebula/internal/ratelimit"
)

const OpTimelineRead = "timeline.read"

type RouterConfig struct {
	Verifier      httpx.TokenVerifier
	Limiter       *ratelimit.Limiter
	TimelineLimit int
	Timeline      TimelineReader
}

// NewRouter builds the timeline service's HTTP surface.
func NewRouter(cfg RouterConfig) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(httpx.RequestLogger("http"))
	router.Use(middleware.Recoverer)

	router.Get("/health", Health)
	router.Handle("/metrics", metrics.Handler())

	timeline := NewTimelineHandler(cfg.Timeline)
	router.Route("/v1", func(r chi.Router) {
		r.Use(httpx.AuthMiddleware(cfg.Verifier))
		if cfg.Limiter != nil && cfg.TimelineLimit > 0 {
			r.Use(cfg.Limiter.Middleware(OpTimelineRead, cfg.TimelineLimit, time.Minute, httpx.UserKey))
		}
		r.Method(http.MethodGet, "/timeline", httpx.Wrap(timeline.GetTimeline))
	})

	return router
}

func Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
