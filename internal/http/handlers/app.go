package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"storybook/internal/domain"
	"storybook/internal/infra"
	"storybook/internal/intake"
	"storybook/internal/middleware"
)

// App carries the dependencies shared by every handler.
type App struct {
	Jobs   domain.JobRepository
	Intake *intake.Service
	Logger *infra.Logger

	// PollInterval is advertised to clients through Retry-After while a job
	// is not terminal.
	PollInterval time.Duration
	// Ready reports whether backing services are reachable. Nil means always
	// ready.
	Ready func(ctx context.Context) error
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
	JobID   string `json:"job_id,omitempty"`
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, map[string]errorBody{"error": {Code: errCode, Message: message}})
}

func (a *App) errorBody(w http.ResponseWriter, code int, body errorBody) {
	a.json(w, code, map[string]errorBody{"error": body})
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}

func (a *App) logger() *infra.Logger {
	if a.Logger == nil {
		return infra.NopLogger()
	}
	return a.Logger
}
