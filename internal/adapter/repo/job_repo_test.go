package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"storybook/internal/domain"
	"storybook/internal/sqlinline"
)

func TestPGMarkProcessingApplied(t *testing.T) {
	exec := &scriptedExecutor{affected: map[string]int64{markerOf(sqlinline.QMarkStoryJobProcessing): 1}}
	repo := NewJobRepository(exec)
	if err := repo.MarkProcessing(context.Background(), "job-1"); err != nil {
		t.Fatalf("MarkProcessing returned error: %v", err)
	}
	if containsMarker(exec.calls, sqlinline.QStoryJobExists) {
		t.Fatal("existence check should only run when the update lost")
	}
}

func TestPGMarkProcessingLostTransition(t *testing.T) {
	exec := &scriptedExecutor{
		rows: map[string]func([]any) pgx.Row{markerOf(sqlinline.QStoryJobExists): existsRow(true)},
	}
	repo := NewJobRepository(exec)
	err := repo.MarkProcessing(context.Background(), "job-1")
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("MarkProcessing error = %v, want ErrInvalidTransition", err)
	}
}

func TestPGFailUnknownJob(t *testing.T) {
	exec := &scriptedExecutor{
		rows: map[string]func([]any) pgx.Row{markerOf(sqlinline.QStoryJobExists): existsRow(false)},
	}
	repo := NewJobRepository(exec)
	err := repo.Fail(context.Background(), "missing", "boom")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Fail error = %v, want ErrNotFound", err)
	}
}

func TestPGCompleteRejectsPartialStoryWithoutWriting(t *testing.T) {
	exec := &scriptedExecutor{}
	repo := NewJobRepository(exec)
	pages := make([]domain.Page, domain.PageCount-1)
	err := repo.Complete(context.Background(), "job-1", pages, "http://x/book.pdf")
	if !errors.Is(err, domain.ErrIncompleteStory) {
		t.Fatalf("Complete error = %v, want ErrIncompleteStory", err)
	}
	if len(exec.calls) != 0 {
		t.Fatalf("expected no statements, got %d", len(exec.calls))
	}
}

func TestPGCompleteWritesPagesAndArtifactTogether(t *testing.T) {
	exec := &scriptedExecutor{affected: map[string]int64{markerOf(sqlinline.QCompleteStoryJob): 1}}
	repo := NewJobRepository(exec)
	if err := repo.Complete(context.Background(), "job-1", fullPages(), "http://x/book.pdf"); err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
	if len(exec.calls) != 1 {
		t.Fatalf("expected a single statement, got %d", len(exec.calls))
	}
	args := exec.calls[0].args
	if len(args) != 3 || args[2] != "http://x/book.pdf" {
		t.Fatalf("unexpected args: %#v", args)
	}
	if _, ok := args[1].([]byte); !ok {
		t.Fatalf("pages argument should be encoded JSON, got %T", args[1])
	}
}

func TestPGFailTruncatesSummary(t *testing.T) {
	exec := &scriptedExecutor{affected: map[string]int64{markerOf(sqlinline.QFailStoryJob): 1}}
	repo := NewJobRepository(exec)
	long := make([]byte, 5000)
	for i := range long {
		long[i] = 'x'
	}
	if err := repo.Fail(context.Background(), "job-1", string(long)); err != nil {
		t.Fatalf("Fail returned error: %v", err)
	}
	summary := exec.calls[0].args[1].(string)
	if len([]rune(summary)) != domain.MaxErrorSummary {
		t.Fatalf("summary length = %d, want %d", len([]rune(summary)), domain.MaxErrorSummary)
	}
}

func TestPGGetMapsNoRows(t *testing.T) {
	repo := NewJobRepository(&scriptedExecutor{})
	if _, err := repo.Get(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Get error = %v, want ErrNotFound", err)
	}
}

func TestPGGetDecodesRow(t *testing.T) {
	created := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	exec := &scriptedExecutor{rows: map[string]func([]any) pgx.Row{
		markerOf(sqlinline.QSelectStoryJob): func([]any) pgx.Row {
			return simpleRow{scan: func(dest ...any) error {
				*(dest[0].(*string)) = "job-1"
				*(dest[1].(*string)) = "owner-1"
				*(dest[2].(*string)) = "complete"
				*(dest[3].(*[]byte)) = []byte(`{"version":"2025-01","child_name":"Lily","age":5}`)
				*(dest[4].(*[]byte)) = []byte(`[{"narration":"Once","illustration_url":"http://x/1.png"}]`)
				*(dest[5].(*string)) = "http://x/book.pdf"
				*(dest[6].(*string)) = ""
				*(dest[7].(*time.Time)) = created
				*(dest[8].(*time.Time)) = created
				return nil
			}}
		},
	}}
	repo := NewJobRepository(exec)
	job, err := repo.Get(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if job.Status != domain.JobStatusComplete || job.Inputs.ChildName != "Lily" || job.Inputs.Language != "en" {
		t.Fatalf("unexpected job: %+v", job)
	}
	if len(job.Pages) != 1 || job.Pages[0].IllustrationURL != "http://x/1.png" {
		t.Fatalf("unexpected pages: %+v", job.Pages)
	}
}

func TestPGFailStaleReturnsIDs(t *testing.T) {
	exec := &scriptedExecutor{query: map[string][]string{
		markerOf(sqlinline.QFailStaleStoryJobs): {"a", "b"},
	}}
	repo := NewJobRepository(exec)
	ids, err := repo.FailStale(context.Background(), time.Now(), "stuck")
	if err != nil {
		t.Fatalf("FailStale returned error: %v", err)
	}
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Fatalf("ids = %v", ids)
	}
	args := exec.calls[0].args
	if len(args) != 3 || args[1] != "stuck" || args[2] != domain.NeverStartedSummary {
		t.Fatalf("FailStale args = %v, want processing and never-started summaries", args)
	}
}

func TestPGMigrateAppliesSchemaInOrder(t *testing.T) {
	exec := &scriptedExecutor{}
	repo := NewJobRepository(exec)
	if err := repo.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate returned error: %v", err)
	}
	if len(exec.calls) != len(sqlinline.Schema) {
		t.Fatalf("expected %d statements, got %d", len(sqlinline.Schema), len(exec.calls))
	}
	for i, stmt := range sqlinline.Schema {
		if exec.calls[i].marker != markerOf(stmt) {
			t.Fatalf("statement %d out of order", i)
		}
	}
}
