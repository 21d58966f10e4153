package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/nikhilbhutani/audioscribe/internal/api/handlers"
	"github.com/nikhilbhutani/audioscribe/internal/api/middleware"
	"github.com/nikhilbhutani/audioscribe/internal/auth"
	"github.com/nikhilbhutani/audioscribe/internal/config"
)

type Router struct {
	mux    *chi.Mux
	cfg    *config.Config
	svc    handlers.TranscriptionService
	checks map[string]handlers.Pinger
	rl     *middleware.RateLimiter
}

func NewRouter(cfg *config.Config, svc handlers.TranscriptionService, checks map[string]handlers.Pinger) *Router {
	return &Router{
		mux:    chi.NewRouter(),
		cfg:    cfg,
		svc:    svc,
		checks: checks,
		rl:     middleware.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst),
	}
}

func (rt *Router) Setup() http.Handler {
	r := rt.mux

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(rt.cfg.Server.AllowedOrigins))

	// Health endpoints (no auth, no rate limit)
	health := handlers.NewHealthHandler(rt.checks)
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)

	transcriptions := handlers.NewTranscriptionHandler(rt.svc, rt.cfg.Upload.MaxBytes)
	r.Group(func(r chi.Router) {
		r.Use(rt.rl.Limit)
		if rt.cfg.Auth.JWTSecret != "" {
			r.Use(auth.NewJWTMiddleware(rt.cfg.Auth.JWTSecret).Authenticate)
		}
		r.Post("/transcription", transcriptions.Transcribe)
		r.Get("/user-transcriptions", transcriptions.List)
	})

	return r
}

// Close stops background work started by the router.
func (rt *Router) Close() {
	rt.rl.Stop()
}
