package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"storybook/internal/http/handlers"
	"storybook/internal/infra"
	"storybook/internal/middleware"
)

// Options carries the router settings that come from configuration.
type Options struct {
	JWTSecret       string
	DefaultLocale   string
	Languages       []string
	CORSOrigins     []string
	RateLimitPerMin int
	// StaticDir, when set, is served under /static so filesystem stored
	// photos, pages and documents are reachable at their public URLs.
	StaticDir string
}

// NewRouter mounts the storybook API.
func NewRouter(app *handlers.App, opts Options) http.Handler {
	logger := app.Logger
	if logger == nil {
		logger = infra.NopLogger()
	}

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(*logger),
		middleware.CORS(opts.CORSOrigins),
		middleware.I18N(opts.DefaultLocale, opts.Languages),
	)

	// Health
	r.Get("/v1/healthz", app.Health)

	r.Route("/v1/stories", func(r chi.Router) {
		r.Use(middleware.AuthJWT(opts.JWTSecret))
		r.With(middleware.RateLimit(opts.RateLimitPerMin, time.Minute)).Post("/", app.CreateStory)
		r.Get("/", app.ListStories)
		r.Get("/{id}", app.GetStory)
		r.Get("/{id}/status", app.StoryStatus)
		r.With(middleware.RateLimit(opts.RateLimitPerMin, time.Minute)).Post("/{id}/start", app.StartStory)
	})

	if opts.StaticDir != "" {
		fs := http.StripPrefix("/static/", http.FileServer(http.Dir(opts.StaticDir)))
		r.Get("/static/*", func(w http.ResponseWriter, req *http.Request) {
			w.Header().Set("Cache-Control", "public, max-age=3600")
			fs.ServeHTTP(w, req)
		})
	}

	return r
}
