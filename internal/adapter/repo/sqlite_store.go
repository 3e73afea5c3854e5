package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"storybook/internal/domain"
	"storybook/internal/domain/jsoncfg"
)

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS story_jobs (
    id            TEXT PRIMARY KEY,
    owner_id      TEXT NOT NULL,
    status        TEXT NOT NULL,
    inputs        TEXT NOT NULL,
    pages         TEXT NOT NULL DEFAULT '[]',
    artifact_url  TEXT,
    error_summary TEXT,
    created_at    TEXT NOT NULL,
    updated_at    TEXT NOT NULL,
    started_at    TEXT,
    finished_at   TEXT
);
CREATE INDEX IF NOT EXISTS story_jobs_owner_created_idx ON story_jobs (owner_id, created_at DESC);
CREATE INDEX IF NOT EXISTS story_jobs_status_updated_idx ON story_jobs (status, updated_at);
`

const sqliteJobColumns = `id, owner_id, status, inputs, pages, COALESCE(artifact_url, ''), COALESCE(error_summary, ''),
    created_at, updated_at, started_at, finished_at`

// SQLiteStore implements domain.JobRepository on a local SQLite file. It is
// meant for single-host deployments and tests; WAL mode lets the API and the
// worker share the file.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (or creates) the database at path and applies the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure sqlite dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Pragmas are per connection, so keep exactly one.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}

	return &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) Create(ctx context.Context, job *domain.Job) error {
	if job.Status != domain.JobStatusPending {
		return fmt.Errorf("create job in %s: %w", job.Status, domain.ErrInvalidTransition)
	}
	inputs, err := jsoncfg.EncodeInputs(job.Inputs)
	if err != nil {
		return err
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = s.now()
	}
	job.UpdatedAt = job.CreatedAt
	ts := formatTime(job.CreatedAt)
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO story_jobs (id, owner_id, status, inputs, pages, created_at, updated_at)
             VALUES (?, ?, ?, ?, '[]', ?, ?)`,
			job.ID, job.OwnerID, string(job.Status), string(inputs), ts, ts,
		)
		if err != nil {
			return fmt.Errorf("insert job: %w", err)
		}
		return nil
	})
}

func (s *SQLiteStore) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteJobColumns+` FROM story_jobs WHERE id = ?`, jobID)
	job, err := scanSQLiteJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

func (s *SQLiteStore) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]domain.Job, error) {
	limit, offset = clampPage(limit, offset)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteJobColumns+` FROM story_jobs WHERE owner_id = ?
         ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		ownerID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []domain.Job{}
	for rows.Next() {
		job, err := scanSQLiteJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func (s *SQLiteStore) MarkProcessing(ctx context.Context, jobID string) error {
	now := formatTime(s.now())
	return s.guardedUpdate(ctx, jobID,
		`UPDATE story_jobs SET status = 'processing', started_at = ?, updated_at = ?
         WHERE id = ? AND status = 'pending'`,
		now, now, jobID,
	)
}

func (s *SQLiteStore) Complete(ctx context.Context, jobID string, pages []domain.Page, artifactURL string) error {
	if err := domain.ValidateCompletion(pages, artifactURL); err != nil {
		return err
	}
	raw, err := jsoncfg.EncodePages(pages)
	if err != nil {
		return err
	}
	now := formatTime(s.now())
	return s.guardedUpdate(ctx, jobID,
		`UPDATE story_jobs SET status = 'complete', pages = ?, artifact_url = ?, error_summary = NULL,
             finished_at = ?, updated_at = ?
         WHERE id = ? AND status = 'processing'`,
		string(raw), artifactURL, now, now, jobID,
	)
}

func (s *SQLiteStore) Fail(ctx context.Context, jobID string, summary string) error {
	now := formatTime(s.now())
	return s.guardedUpdate(ctx, jobID,
		`UPDATE story_jobs SET status = 'failed', error_summary = ?, finished_at = ?, updated_at = ?
         WHERE id = ? AND status IN ('pending', 'processing')`,
		domain.TruncateSummary(summary), now, now, jobID,
	)
}

func (s *SQLiteStore) FailStale(ctx context.Context, cutoff time.Time, summary string) ([]string, error) {
	type staleRow struct {
		id     string
		status string
	}
	summary = domain.TruncateSummary(summary)
	var ids []string
	err := retryOnBusy(ctx, func() error {
		ids = ids[:0]
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		rows, err := tx.QueryContext(ctx,
			`SELECT id, status FROM story_jobs
             WHERE status IN ('pending', 'processing') AND updated_at < ?
             ORDER BY id`,
			formatTime(cutoff.UTC()),
		)
		if err != nil {
			return err
		}
		var stale []staleRow
		for rows.Next() {
			var row staleRow
			if err := rows.Scan(&row.id, &row.status); err != nil {
				rows.Close()
				return err
			}
			stale = append(stale, row)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		now := formatTime(s.now())
		for _, row := range stale {
			reason := summary
			if row.status == string(domain.JobStatusPending) {
				reason = domain.NeverStartedSummary
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE story_jobs SET status = 'failed', error_summary = ?, finished_at = ?, updated_at = ?
                 WHERE id = ? AND status = ?`,
				reason, now, now, row.id, row.status,
			); err != nil {
				return err
			}
			ids = append(ids, row.id)
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, fmt.Errorf("fail stale jobs: %w", err)
	}
	return ids, nil
}

func (s *SQLiteStore) guardedUpdate(ctx context.Context, jobID, query string, args ...any) error {
	var affected int64
	err := retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if affected > 0 {
		return nil
	}
	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM story_jobs WHERE id = ?`, jobID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check job: %w", err)
	}
	if exists == 0 {
		return domain.ErrNotFound
	}
	return domain.ErrInvalidTransition
}

type sqliteScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteJob(row sqliteScanner) (*domain.Job, error) {
	var (
		job                  domain.Job
		status, inputs       string
		pages                string
		createdAt, updatedAt string
		startedAt, finished  sql.NullString
	)
	if err := row.Scan(
		&job.ID, &job.OwnerID, &status, &inputs, &pages,
		&job.ArtifactURL, &job.ErrorSummary,
		&createdAt, &updatedAt, &startedAt, &finished,
	); err != nil {
		return nil, err
	}
	job.Status = domain.JobStatus(status)
	var err error
	if job.Inputs, err = jsoncfg.DecodeInputs([]byte(inputs)); err != nil {
		return nil, err
	}
	if job.Pages, err = jsoncfg.DecodePages([]byte(pages)); err != nil {
		return nil, err
	}
	job.CreatedAt = parseTime(createdAt)
	job.UpdatedAt = parseTime(updatedAt)
	job.StartedAt = parseNullableTime(startedAt)
	job.FinishedAt = parseNullableTime(finished)
	return &job, nil
}

// Timestamps are stored as fixed-width RFC3339 strings so lexical order
// matches chronological order in the stale-job scan.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func parseTime(raw string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseNullableTime(raw sql.NullString) *time.Time {
	if !raw.Valid || strings.TrimSpace(raw.String) == "" {
		return nil
	}
	t := parseTime(raw.String)
	return &t
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

var _ domain.JobRepository = (*SQLiteStore)(nil)
