package repo

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"storybook/internal/domain"
)

// MemoryStore is a process-local domain.JobRepository for development and
// tests. All reads return copies, and every transition happens under one lock
// so a reader never sees a half-applied completion.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*domain.Job
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[string]*domain.Job),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *MemoryStore) Create(ctx context.Context, job *domain.Job) error {
	if job.Status != domain.JobStatusPending {
		return fmt.Errorf("create job in %s: %w", job.Status, domain.ErrInvalidTransition)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = m.now()
	}
	job.UpdatedAt = job.CreatedAt
	m.jobs[job.ID] = job.Clone()
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return job.Clone(), nil
}

func (m *MemoryStore) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]domain.Job, error) {
	limit, offset = clampPage(limit, offset)
	m.mu.RLock()
	var owned []domain.Job
	for _, job := range m.jobs {
		if job.OwnerID == ownerID {
			owned = append(owned, *job.Clone())
		}
	}
	m.mu.RUnlock()

	sort.Slice(owned, func(i, j int) bool {
		if owned[i].CreatedAt.Equal(owned[j].CreatedAt) {
			return owned[i].ID > owned[j].ID
		}
		return owned[i].CreatedAt.After(owned[j].CreatedAt)
	})
	if offset >= len(owned) {
		return []domain.Job{}, nil
	}
	end := offset + limit
	if end > len(owned) {
		end = len(owned)
	}
	return owned[offset:end], nil
}

func (m *MemoryStore) MarkProcessing(ctx context.Context, jobID string) error {
	return m.transition(jobID, domain.JobStatusProcessing, func(job *domain.Job, now time.Time) {
		job.StartedAt = &now
	})
}

func (m *MemoryStore) Complete(ctx context.Context, jobID string, pages []domain.Page, artifactURL string) error {
	if err := domain.ValidateCompletion(pages, artifactURL); err != nil {
		return err
	}
	stored := append([]domain.Page(nil), pages...)
	return m.transition(jobID, domain.JobStatusComplete, func(job *domain.Job, now time.Time) {
		job.Pages = stored
		job.ArtifactURL = artifactURL
		job.ErrorSummary = ""
		job.FinishedAt = &now
	})
}

func (m *MemoryStore) Fail(ctx context.Context, jobID string, summary string) error {
	summary = domain.TruncateSummary(summary)
	return m.transition(jobID, domain.JobStatusFailed, func(job *domain.Job, now time.Time) {
		job.ErrorSummary = summary
		job.FinishedAt = &now
	})
}

func (m *MemoryStore) FailStale(ctx context.Context, cutoff time.Time, summary string) ([]string, error) {
	summary = domain.TruncateSummary(summary)
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var ids []string
	for id, job := range m.jobs {
		if job.Status.Terminal() || !job.UpdatedAt.Before(cutoff) {
			continue
		}
		job.ErrorSummary = summary
		if job.Status == domain.JobStatusPending {
			job.ErrorSummary = domain.NeverStartedSummary
		}
		job.Status = domain.JobStatusFailed
		job.UpdatedAt = now
		finished := now
		job.FinishedAt = &finished
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryStore) transition(jobID string, to domain.JobStatus, apply func(job *domain.Job, now time.Time)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	if !domain.CanTransition(job.Status, to) {
		return fmt.Errorf("%s -> %s: %w", job.Status, to, domain.ErrInvalidTransition)
	}
	now := m.now()
	job.Status = to
	job.UpdatedAt = now
	apply(job, now)
	return nil
}

var _ domain.JobRepository = (*MemoryStore)(nil)
