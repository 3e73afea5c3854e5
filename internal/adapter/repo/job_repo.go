package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"storybook/internal/domain"
	"storybook/internal/domain/jsoncfg"
	"storybook/internal/infra"
	"storybook/internal/sqlinline"
)

// JobRepositoryPG implements domain.JobRepository on PostgreSQL.
type JobRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewJobRepository creates a job repository backed by PostgreSQL.
func NewJobRepository(sql infra.SQLExecutor) *JobRepositoryPG {
	return &JobRepositoryPG{sql: sql}
}

// Migrate applies the idempotent schema.
func (r *JobRepositoryPG) Migrate(ctx context.Context) error {
	for _, stmt := range sqlinline.Schema {
		if _, err := r.sql.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// Create inserts a new pending job record.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) error {
	if job.Status != domain.JobStatusPending {
		return fmt.Errorf("create job in %s: %w", job.Status, domain.ErrInvalidTransition)
	}
	inputs, err := jsoncfg.EncodeInputs(job.Inputs)
	if err != nil {
		return err
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	job.UpdatedAt = job.CreatedAt
	_, err = r.sql.Exec(ctx, sqlinline.QInsertStoryJob,
		job.ID,
		job.OwnerID,
		string(job.Status),
		inputs,
		job.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// Get fetches a job by its identifier.
func (r *JobRepositoryPG) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := scanJob(r.sql.QueryRow(ctx, sqlinline.QSelectStoryJob, jobID))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ListByOwner returns the owner's jobs, newest first.
func (r *JobRepositoryPG) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]domain.Job, error) {
	limit, offset = clampPage(limit, offset)
	rows, err := r.sql.Query(ctx, sqlinline.QListStoryJobsByOwner, ownerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []domain.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

func (r *JobRepositoryPG) MarkProcessing(ctx context.Context, jobID string) error {
	tag, err := r.sql.Exec(ctx, sqlinline.QMarkStoryJobProcessing, jobID)
	if err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}
	return r.checkApplied(ctx, jobID, tag.RowsAffected())
}

func (r *JobRepositoryPG) Complete(ctx context.Context, jobID string, pages []domain.Page, artifactURL string) error {
	if err := domain.ValidateCompletion(pages, artifactURL); err != nil {
		return err
	}
	raw, err := jsoncfg.EncodePages(pages)
	if err != nil {
		return err
	}
	tag, err := r.sql.Exec(ctx, sqlinline.QCompleteStoryJob, jobID, raw, artifactURL)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return r.checkApplied(ctx, jobID, tag.RowsAffected())
}

func (r *JobRepositoryPG) Fail(ctx context.Context, jobID string, summary string) error {
	tag, err := r.sql.Exec(ctx, sqlinline.QFailStoryJob, jobID, domain.TruncateSummary(summary))
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	return r.checkApplied(ctx, jobID, tag.RowsAffected())
}

func (r *JobRepositoryPG) FailStale(ctx context.Context, cutoff time.Time, summary string) ([]string, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QFailStaleStoryJobs,
		cutoff, domain.TruncateSummary(summary), domain.NeverStartedSummary)
	if err != nil {
		return nil, fmt.Errorf("fail stale jobs: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// checkApplied turns a guarded update that touched nothing into ErrNotFound or
// ErrInvalidTransition.
func (r *JobRepositoryPG) checkApplied(ctx context.Context, jobID string, affected int64) error {
	if affected > 0 {
		return nil
	}
	var exists bool
	if err := r.sql.QueryRow(ctx, sqlinline.QStoryJobExists, jobID).Scan(&exists); err != nil {
		return fmt.Errorf("check job: %w", err)
	}
	if !exists {
		return domain.ErrNotFound
	}
	return domain.ErrInvalidTransition
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var (
		job       domain.Job
		status    string
		inputsRaw []byte
		pagesRaw  []byte
	)
	if err := row.Scan(
		&job.ID,
		&job.OwnerID,
		&status,
		&inputsRaw,
		&pagesRaw,
		&job.ArtifactURL,
		&job.ErrorSummary,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.StartedAt,
		&job.FinishedAt,
	); err != nil {
		return nil, err
	}
	job.Status = domain.JobStatus(status)
	inputs, err := jsoncfg.DecodeInputs(inputsRaw)
	if err != nil {
		return nil, err
	}
	job.Inputs = inputs
	pages, err := jsoncfg.DecodePages(pagesRaw)
	if err != nil {
		return nil, err
	}
	job.Pages = pages
	return &job, nil
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

var _ domain.JobRepository = (*JobRepositoryPG)(nil)
