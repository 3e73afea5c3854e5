package handlers

import (
	"context"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"storybook/internal/domain"
	"storybook/internal/intake"
	"storybook/internal/middleware"
)

// multipartOverhead is the allowance for form fields on top of the photo.
const multipartOverhead = 1 << 20

type jobResponse struct {
	JobID     string `json:"job_id"`
	Status    string `json:"status"`
	StatusURL string `json:"status_url"`
}

type statusResponse struct {
	JobID        string    `json:"job_id"`
	Status       string    `json:"status"`
	ErrorSummary string    `json:"error_summary,omitempty"`
	ArtifactURL  string    `json:"artifact_url,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type inputsResponse struct {
	ChildName   string `json:"child_name"`
	Age         int    `json:"age"`
	Gender      string `json:"gender"`
	Genre       string `json:"genre"`
	Description string `json:"description"`
	PhotoURL    string `json:"photo_url"`
	Language    string `json:"language"`
}

type storyResponse struct {
	JobID        string         `json:"job_id"`
	Status       string         `json:"status"`
	Inputs       inputsResponse `json:"inputs"`
	Pages        []domain.Page  `json:"pages"`
	ArtifactURL  string         `json:"artifact_url,omitempty"`
	ErrorSummary string         `json:"error_summary,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	FinishedAt   *time.Time     `json:"finished_at,omitempty"`
}

type storySummary struct {
	JobID       string    `json:"job_id"`
	Status      string    `json:"status"`
	ChildName   string    `json:"child_name"`
	Genre       string    `json:"genre"`
	ArtifactURL string    `json:"artifact_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func statusURL(jobID string) string {
	return "/v1/stories/" + jobID + "/status"
}

// CreateStory accepts a multipart form with the child profile and a photo
// file, and answers 202 with the new job id.
func (a *App) CreateStory(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	maxPhoto := a.Intake.MaxPhotoBytes()
	r.Body = http.MaxBytesReader(w, r.Body, maxPhoto+multipartOverhead)
	if err := r.ParseMultipartForm(multipartOverhead); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			a.errorBody(w, http.StatusRequestEntityTooLarge, errorBody{Code: "too_large", Message: "upload exceeds size limit", Field: "photo"})
			return
		}
		a.error(w, http.StatusBadRequest, "bad_request", "expected multipart form")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	age, err := parseAge(r.FormValue("age"))
	if err != nil {
		a.errorBody(w, http.StatusBadRequest, errorBody{Code: "validation_error", Message: "must be a whole number", Field: "age"})
		return
	}
	req := intake.Request{
		ChildName:   r.FormValue("child_name"),
		Age:         age,
		Gender:      r.FormValue("gender"),
		Genre:       r.FormValue("genre"),
		Description: r.FormValue("description"),
		Language:    r.FormValue("language"),
	}
	if strings.TrimSpace(req.Language) == "" {
		req.Language = middleware.LocaleFromContext(r.Context())
	}

	var photo intake.Photo
	file, header, err := r.FormFile("photo")
	switch {
	case errors.Is(err, http.ErrMissingFile):
	case err != nil:
		a.error(w, http.StatusBadRequest, "bad_request", "unreadable photo upload")
		return
	default:
		defer file.Close()
		data, readErr := io.ReadAll(io.LimitReader(file, maxPhoto+1))
		if readErr != nil {
			a.error(w, http.StatusBadRequest, "bad_request", "unreadable photo upload")
			return
		}
		photo = intake.Photo{Filename: header.Filename, Data: data}
	}

	job, err := a.Intake.Create(r.Context(), userID, req, photo)
	if err != nil {
		a.intakeError(w, r, job, err)
		return
	}
	a.json(w, http.StatusAccepted, jobResponse{JobID: job.ID, Status: string(job.Status), StatusURL: statusURL(job.ID)})
}

// StartStory dispatches a pending job. Repeating it, or calling it on a job
// that already started, only reports the current status.
func (a *App) StartStory(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	job, err := a.Intake.Start(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		a.intakeError(w, r, job, err)
		return
	}
	a.json(w, http.StatusAccepted, jobResponse{JobID: job.ID, Status: string(job.Status), StatusURL: statusURL(job.ID)})
}

func (a *App) intakeError(w http.ResponseWriter, r *http.Request, job *domain.Job, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		a.errorBody(w, http.StatusBadRequest, errorBody{Code: "validation_error", Message: verr.Message, Field: verr.Field})
	case errors.Is(err, domain.ErrInvalidPhoto):
		a.errorBody(w, http.StatusUnprocessableEntity, errorBody{Code: "invalid_photo", Message: photoMessage(err), Field: "photo"})
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "story not found")
	case errors.Is(err, domain.ErrUnauthorized):
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
	case errors.Is(err, intake.ErrDispatchFailed):
		body := errorBody{Code: "dispatch_failed", Message: "story could not be started"}
		if job != nil {
			body.JobID = job.ID
		}
		a.errorBody(w, http.StatusServiceUnavailable, body)
	default:
		a.logger().Error().Err(err).Str("path", r.URL.Path).Msg("stories: request failed")
		a.error(w, http.StatusInternalServerError, "internal", "request failed")
	}
}

func photoMessage(err error) string {
	msg := err.Error()
	if i := strings.Index(msg, domain.ErrInvalidPhoto.Error()+": "); i >= 0 {
		return msg[i+len(domain.ErrInvalidPhoto.Error())+2:]
	}
	return "photo is not acceptable"
}

// StoryStatus is the poll endpoint. It never changes the record.
func (a *App) StoryStatus(w http.ResponseWriter, r *http.Request) {
	job, ok := a.ownedJob(w, r)
	if !ok {
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	if !job.Status.Terminal() {
		w.Header().Set("Retry-After", strconv.Itoa(a.retryAfterSeconds()))
	}
	resp := statusResponse{
		JobID:     job.ID,
		Status:    string(job.Status),
		UpdatedAt: job.UpdatedAt,
	}
	switch job.Status {
	case domain.JobStatusComplete:
		resp.ArtifactURL = job.ArtifactURL
	case domain.JobStatusFailed:
		resp.ErrorSummary = job.ErrorSummary
	}
	a.json(w, http.StatusOK, resp)
}

// GetStory returns the full story. Pages are empty until the job completes.
func (a *App) GetStory(w http.ResponseWriter, r *http.Request) {
	job, ok := a.ownedJob(w, r)
	if !ok {
		return
	}
	pages := job.Pages
	if pages == nil {
		pages = []domain.Page{}
	}
	a.json(w, http.StatusOK, storyResponse{
		JobID:  job.ID,
		Status: string(job.Status),
		Inputs: inputsResponse{
			ChildName:   job.Inputs.ChildName,
			Age:         job.Inputs.Age,
			Gender:      job.Inputs.Gender,
			Genre:       job.Inputs.Genre,
			Description: job.Inputs.Description,
			PhotoURL:    job.Inputs.PhotoURL,
			Language:    job.Inputs.Language,
		},
		Pages:        pages,
		ArtifactURL:  job.ArtifactURL,
		ErrorSummary: job.ErrorSummary,
		CreatedAt:    job.CreatedAt,
		UpdatedAt:    job.UpdatedAt,
		StartedAt:    job.StartedAt,
		FinishedAt:   job.FinishedAt,
	})
}

// ListStories returns the caller's jobs, newest first.
func (a *App) ListStories(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	limit := queryInt(r, "limit", 20)
	offset := queryInt(r, "offset", 0)
	jobs, err := a.Jobs.ListByOwner(r.Context(), userID, limit, offset)
	if err != nil {
		a.logger().Error().Err(err).Str("owner_id", userID).Msg("stories: list failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to list stories")
		return
	}
	items := make([]storySummary, 0, len(jobs))
	for _, job := range jobs {
		items = append(items, storySummary{
			JobID:       job.ID,
			Status:      string(job.Status),
			ChildName:   job.Inputs.ChildName,
			Genre:       job.Inputs.Genre,
			ArtifactURL: job.ArtifactURL,
			CreatedAt:   job.CreatedAt,
			UpdatedAt:   job.UpdatedAt,
		})
	}
	a.json(w, http.StatusOK, map[string]any{"stories": items, "limit": limit, "offset": offset})
}

// ownedJob loads the job named in the URL. Jobs of other owners are reported
// as missing so ids of other owners stay hidden.
func (a *App) ownedJob(w http.ResponseWriter, r *http.Request) (*domain.Job, bool) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return nil, false
	}
	job, err := a.loadJobForUser(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "story not found")
			return nil, false
		}
		a.logger().Error().Err(err).Msg("stories: load failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load story")
		return nil, false
	}
	return job, true
}

func (a *App) loadJobForUser(ctx context.Context, jobID, userID string) (*domain.Job, error) {
	if !domain.ValidJobID(jobID) {
		return nil, domain.ErrNotFound
	}
	job, err := a.Jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.OwnerID != userID {
		return nil, domain.ErrNotFound
	}
	return job, nil
}

func (a *App) retryAfterSeconds() int {
	if a.PollInterval <= 0 {
		return 2
	}
	return int(math.Ceil(a.PollInterval.Seconds()))
}

func parseAge(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}
