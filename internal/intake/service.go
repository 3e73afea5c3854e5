// Package intake accepts new story requests: it validates the child profile
// and photo, stores the photo, creates the pending job and hands it to the
// dispatcher.
package intake

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/language"

	"storybook/internal/dispatch"
	"storybook/internal/domain"
	"storybook/internal/infra"
	"storybook/internal/storage"
)

// ErrDispatchFailed is returned when the job was created but could not be
// handed off. The job is marked failed before the error is returned.
var ErrDispatchFailed = errors.New("intake: dispatch failed")

const defaultLanguage = "en"

type Deps struct {
	Jobs          domain.JobRepository
	Store         storage.ObjectStore
	Dispatcher    dispatch.Dispatcher
	Logger        *infra.Logger
	MaxPhotoBytes int64
	MaxPhotoSide  int
	NewID         func() string
	Now           func() time.Time
}

type Service struct {
	jobs          domain.JobRepository
	store         storage.ObjectStore
	dispatcher    dispatch.Dispatcher
	logger        *infra.Logger
	validator     *requestValidator
	maxPhotoBytes int64
	maxPhotoSide  int
	newID         func() string
	now           func() time.Time
}

func NewService(deps Deps) (*Service, error) {
	switch {
	case deps.Jobs == nil:
		return nil, errors.New("intake: job repository is required")
	case deps.Store == nil:
		return nil, errors.New("intake: object store is required")
	case deps.Dispatcher == nil:
		return nil, errors.New("intake: dispatcher is required")
	}
	s := &Service{
		jobs:          deps.Jobs,
		store:         deps.Store,
		dispatcher:    deps.Dispatcher,
		logger:        deps.Logger,
		validator:     newRequestValidator(),
		maxPhotoBytes: deps.MaxPhotoBytes,
		maxPhotoSide:  deps.MaxPhotoSide,
		newID:         deps.NewID,
		now:           deps.Now,
	}
	if s.logger == nil {
		s.logger = infra.NopLogger()
	}
	if s.maxPhotoBytes <= 0 {
		s.maxPhotoBytes = DefaultMaxPhotoBytes
	}
	if s.maxPhotoSide <= 0 {
		s.maxPhotoSide = DefaultMaxPhotoSide
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s, nil
}

// MaxPhotoBytes is the upload ceiling enforced by Create.
func (s *Service) MaxPhotoBytes() int64 {
	return s.maxPhotoBytes
}

// Create validates the request and photo, persists both, and dispatches the
// job. Nothing is persisted when validation fails.
func (s *Service) Create(ctx context.Context, ownerID string, req Request, photo Photo) (*domain.Job, error) {
	if ownerID == "" {
		return nil, domain.ErrUnauthorized
	}
	req = req.normalized()
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}
	normalized, err := NormalizePhoto(photo.Data, s.maxPhotoBytes, s.maxPhotoSide)
	if err != nil {
		return nil, err
	}

	jobID := s.newID()
	obj, err := s.store.Put(ctx, storage.PhotoKey(ownerSegment(ownerID), jobID+".jpg"), normalized, "image/jpeg")
	if err != nil {
		return nil, fmt.Errorf("store photo: %w", err)
	}

	job := &domain.Job{
		ID:      jobID,
		OwnerID: ownerID,
		Status:  domain.JobStatusPending,
		Inputs: domain.StoryInputs{
			ChildName:   req.ChildName,
			Age:         req.Age,
			Gender:      req.Gender,
			Genre:       req.Genre,
			Description: req.Description,
			PhotoURL:    obj.URL,
			PhotoKey:    obj.Key,
			Language:    baseLanguage(req.Language),
		},
		CreatedAt: s.now(),
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	log := s.logger.With().Str("job_id", job.ID).Str("owner_id", ownerID).Logger()
	log.Info().Str("genre", job.Inputs.Genre).Str("language", job.Inputs.Language).Msg("intake: job created")

	if err := s.dispatcher.Dispatch(ctx, job.ID); err != nil {
		log.Error().Err(err).Msg("intake: dispatch failed")
		return s.abandon(job, err)
	}
	return job, nil
}

// Start dispatches a pending job owned by ownerID. Jobs in any other state are
// returned unchanged, so repeating the call is harmless.
func (s *Service) Start(ctx context.Context, ownerID, jobID string) (*domain.Job, error) {
	if !domain.ValidJobID(jobID) {
		return nil, domain.ErrNotFound
	}
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.OwnerID != ownerID {
		return nil, domain.ErrNotFound
	}
	if job.Status != domain.JobStatusPending {
		return job, nil
	}
	if err := s.dispatcher.Dispatch(ctx, job.ID); err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("intake: dispatch failed on start")
		return s.abandon(job, err)
	}
	return job, nil
}

// abandon fails a job that could not be dispatched so it never sits in
// pending.
func (s *Service) abandon(job *domain.Job, cause error) (*domain.Job, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.jobs.Fail(ctx, job.ID, "dispatch failed"); err != nil && !errors.Is(err, domain.ErrInvalidTransition) {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("intake: failed to record dispatch failure")
	}
	if current, err := s.jobs.Get(ctx, job.ID); err == nil {
		job = current
	}
	return job, fmt.Errorf("%w: %v", ErrDispatchFailed, cause)
}

var safeSegment = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ownerSegment turns an owner id into a path segment. Ids that are not
// already path safe are hashed.
func ownerSegment(ownerID string) string {
	if safeSegment.MatchString(ownerID) {
		return ownerID
	}
	sum := sha256.Sum256([]byte(ownerID))
	return hex.EncodeToString(sum[:12])
}

func baseLanguage(raw string) string {
	if raw == "" {
		return defaultLanguage
	}
	tag, err := language.Parse(raw)
	if err != nil {
		return defaultLanguage
	}
	base, _ := tag.Base()
	return base.String()
}
