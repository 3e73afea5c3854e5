package repo

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"storybook/internal/domain"
)

func fullPages() []domain.Page {
	pages := make([]domain.Page, domain.PageCount)
	for i := range pages {
		pages[i] = domain.Page{
			Narration:       fmt.Sprintf("page %d", i+1),
			IllustrationURL: fmt.Sprintf("http://x/page-%d.png", i+1),
		}
	}
	return pages
}

func newPendingJob(owner string) *domain.Job {
	return &domain.Job{
		ID:      uuid.NewString(),
		OwnerID: owner,
		Status:  domain.JobStatusPending,
		Inputs: domain.StoryInputs{
			ChildName:   "Lily",
			Age:         5,
			Gender:      "girl",
			Genre:       "Bedtime",
			Description: "a shy firefly learns to shine",
			PhotoURL:    "http://x/photo.jpg",
		},
	}
}

type storeFactory func(t *testing.T) domain.JobRepository

func storeFactories() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T) domain.JobRepository { return NewMemoryStore() },
		"sqlite": func(t *testing.T) domain.JobRepository {
			store, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "jobs.db"))
			if err != nil {
				t.Fatalf("OpenSQLite returned error: %v", err)
			}
			t.Cleanup(func() { _ = store.Close() })
			return store
		},
	}
}

func TestJobRepositoryContract(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			t.Run("create starts pending and empty", func(t *testing.T) { testCreatePending(t, factory(t)) })
			t.Run("happy path", func(t *testing.T) { testHappyPath(t, factory(t)) })
			t.Run("terminal states are final", func(t *testing.T) { testTerminalFinal(t, factory(t)) })
			t.Run("single winner for processing", func(t *testing.T) { testSingleWinner(t, factory(t)) })
			t.Run("list by owner newest first", func(t *testing.T) { testListByOwner(t, factory(t)) })
			t.Run("not found", func(t *testing.T) { testNotFound(t, factory(t)) })
			t.Run("fail stale", func(t *testing.T) { testFailStale(t, factory(t)) })
			t.Run("fail stale keeps recent jobs", func(t *testing.T) { testFailStaleKeepsRecentJobs(t, factory(t)) })
		})
	}
}

func testCreatePending(t *testing.T, store domain.JobRepository) {
	ctx := context.Background()
	job := newPendingJob("owner-1")
	if err := store.Create(ctx, job); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	got, err := store.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got.Status != domain.JobStatusPending {
		t.Fatalf("Status = %s, want pending", got.Status)
	}
	if len(got.Pages) != 0 || got.ArtifactURL != "" || got.ErrorSummary != "" {
		t.Fatalf("new job should have no pages, artifact or summary: %+v", got)
	}
	if got.Inputs.ChildName != "Lily" || got.Inputs.Age != 5 {
		t.Fatalf("inputs not persisted: %+v", got.Inputs)
	}
	if got.CreatedAt.IsZero() {
		t.Fatal("CreatedAt not set")
	}

	bad := newPendingJob("owner-1")
	bad.Status = domain.JobStatusComplete
	if err := store.Create(ctx, bad); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("Create(complete) error = %v, want ErrInvalidTransition", err)
	}
}

func testHappyPath(t *testing.T, store domain.JobRepository) {
	ctx := context.Background()
	job := newPendingJob("owner-1")
	if err := store.Create(ctx, job); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if err := store.Complete(ctx, job.ID, fullPages(), "http://x/book.pdf"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("Complete before processing error = %v, want ErrInvalidTransition", err)
	}
	if err := store.MarkProcessing(ctx, job.ID); err != nil {
		t.Fatalf("MarkProcessing returned error: %v", err)
	}
	mid, _ := store.Get(ctx, job.ID)
	if mid.Status != domain.JobStatusProcessing || mid.StartedAt == nil || len(mid.Pages) != 0 {
		t.Fatalf("unexpected processing job: %+v", mid)
	}
	if err := store.Complete(ctx, job.ID, fullPages()[:3], "http://x/book.pdf"); !errors.Is(err, domain.ErrIncompleteStory) {
		t.Fatalf("partial Complete error = %v, want ErrIncompleteStory", err)
	}
	if err := store.Complete(ctx, job.ID, fullPages(), "http://x/book.pdf"); err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
	done, _ := store.Get(ctx, job.ID)
	if done.Status != domain.JobStatusComplete || done.ArtifactURL != "http://x/book.pdf" {
		t.Fatalf("unexpected complete job: %+v", done)
	}
	if len(done.Pages) != domain.PageCount || done.Pages[0].Narration != "page 1" {
		t.Fatalf("unexpected pages: %+v", done.Pages)
	}
	if done.FinishedAt == nil {
		t.Fatal("FinishedAt not set")
	}
}

func testTerminalFinal(t *testing.T, store domain.JobRepository) {
	ctx := context.Background()
	job := newPendingJob("owner-1")
	_ = store.Create(ctx, job)
	_ = store.MarkProcessing(ctx, job.ID)
	if err := store.Fail(ctx, job.ID, "narrative: malformed"); err != nil {
		t.Fatalf("Fail returned error: %v", err)
	}
	if err := store.MarkProcessing(ctx, job.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("MarkProcessing after fail error = %v, want ErrInvalidTransition", err)
	}
	if err := store.Complete(ctx, job.ID, fullPages(), "http://x/book.pdf"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("Complete after fail error = %v, want ErrInvalidTransition", err)
	}
	if err := store.Fail(ctx, job.ID, "again"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("second Fail error = %v, want ErrInvalidTransition", err)
	}
	got, _ := store.Get(ctx, job.ID)
	if got.Status != domain.JobStatusFailed || got.ErrorSummary != "narrative: malformed" || got.ArtifactURL != "" {
		t.Fatalf("unexpected failed job: %+v", got)
	}
}

func testSingleWinner(t *testing.T, store domain.JobRepository) {
	ctx := context.Background()
	job := newPendingJob("owner-1")
	_ = store.Create(ctx, job)

	const racers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := store.MarkProcessing(ctx, job.ID); err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			} else if !errors.Is(err, domain.ErrInvalidTransition) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if winners != 1 {
		t.Fatalf("winners = %d, want 1", winners)
	}
}

func testListByOwner(t *testing.T, store domain.JobRepository) {
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 3; i++ {
		job := newPendingJob("owner-1")
		job.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := store.Create(ctx, job); err != nil {
			t.Fatalf("Create returned error: %v", err)
		}
		ids = append(ids, job.ID)
	}
	_ = store.Create(ctx, newPendingJob("owner-2"))

	jobs, err := store.ListByOwner(ctx, "owner-1", 10, 0)
	if err != nil {
		t.Fatalf("ListByOwner returned error: %v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("len(jobs) = %d, want 3", len(jobs))
	}
	for i, want := range []string{ids[2], ids[1], ids[0]} {
		if jobs[i].ID != want {
			t.Fatalf("jobs[%d] = %s, want %s", i, jobs[i].ID, want)
		}
	}

	page, err := store.ListByOwner(ctx, "owner-1", 2, 2)
	if err != nil {
		t.Fatalf("ListByOwner page returned error: %v", err)
	}
	if len(page) != 1 || page[0].ID != ids[0] {
		t.Fatalf("unexpected second page: %+v", page)
	}

	none, err := store.ListByOwner(ctx, "nobody", 10, 0)
	if err != nil || len(none) != 0 {
		t.Fatalf("ListByOwner(nobody) = (%v, %v), want empty", none, err)
	}
}

func testNotFound(t *testing.T, store domain.JobRepository) {
	ctx := context.Background()
	missing := uuid.NewString()
	if _, err := store.Get(ctx, missing); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Get error = %v, want ErrNotFound", err)
	}
	if err := store.MarkProcessing(ctx, missing); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("MarkProcessing error = %v, want ErrNotFound", err)
	}
	if err := store.Fail(ctx, missing, "x"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Fail error = %v, want ErrNotFound", err)
	}
}

func testFailStale(t *testing.T, store domain.JobRepository) {
	ctx := context.Background()
	stuck := newPendingJob("owner-1")
	fresh := newPendingJob("owner-1")
	waiting := newPendingJob("owner-1")
	for _, j := range []*domain.Job{stuck, fresh, waiting} {
		_ = store.Create(ctx, j)
	}
	_ = store.MarkProcessing(ctx, stuck.ID)

	cutoff := time.Now().UTC().Add(time.Hour)
	_ = store.MarkProcessing(ctx, fresh.ID)
	_ = store.Complete(ctx, fresh.ID, fullPages(), "http://x/book.pdf")

	ids, err := store.FailStale(ctx, cutoff, "stuck in processing")
	if err != nil {
		t.Fatalf("FailStale returned error: %v", err)
	}
	if len(ids) != 2 || !containsID(ids, stuck.ID) || !containsID(ids, waiting.ID) {
		t.Fatalf("FailStale ids = %v, want %s and %s", ids, stuck.ID, waiting.ID)
	}
	got, _ := store.Get(ctx, stuck.ID)
	if got.Status != domain.JobStatusFailed || got.ErrorSummary != "stuck in processing" {
		t.Fatalf("unexpected stale job: %+v", got)
	}
	if got.FinishedAt == nil {
		t.Fatalf("stale job has no finished_at")
	}
	w, _ := store.Get(ctx, waiting.ID)
	if w.Status != domain.JobStatusFailed || w.ErrorSummary != domain.NeverStartedSummary {
		t.Fatalf("never-started job = %s %q", w.Status, w.ErrorSummary)
	}
	if f, _ := store.Get(ctx, fresh.ID); f.Status != domain.JobStatusComplete {
		t.Fatalf("complete job touched by sweep: %s", f.Status)
	}

	again, err := store.FailStale(ctx, cutoff, "stuck in processing")
	if err != nil || len(again) != 0 {
		t.Fatalf("second FailStale = (%v, %v), want none", again, err)
	}
}

func testFailStaleKeepsRecentJobs(t *testing.T, store domain.JobRepository) {
	ctx := context.Background()
	queued := newPendingJob("owner-1")
	running := newPendingJob("owner-1")
	for _, j := range []*domain.Job{queued, running} {
		if err := store.Create(ctx, j); err != nil {
			t.Fatalf("Create returned error: %v", err)
		}
	}
	if err := store.MarkProcessing(ctx, running.ID); err != nil {
		t.Fatalf("MarkProcessing returned error: %v", err)
	}

	ids, err := store.FailStale(ctx, time.Now().UTC().Add(-time.Hour), "stuck in processing")
	if err != nil {
		t.Fatalf("FailStale returned error: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("FailStale swept recent jobs: %v", ids)
	}
	if q, _ := store.Get(ctx, queued.ID); q.Status != domain.JobStatusPending {
		t.Fatalf("recent pending job = %s", q.Status)
	}
	if r, _ := store.Get(ctx, running.ID); r.Status != domain.JobStatusProcessing {
		t.Fatalf("recent processing job = %s", r.Status)
	}
}

func containsID(ids []string, want string) bool {
	for _, id := range ids {
		if id == want {
			return true
		}
	}
	return false
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	job := newPendingJob("owner-1")
	_ = store.Create(ctx, job)
	_ = store.MarkProcessing(ctx, job.ID)
	pages := fullPages()
	_ = store.Complete(ctx, job.ID, pages, "http://x/book.pdf")

	pages[0].Narration = "mutated by caller"
	got, _ := store.Get(ctx, job.ID)
	got.Pages[1].Narration = "mutated by reader"

	again, _ := store.Get(ctx, job.ID)
	if again.Pages[0].Narration != "page 1" || again.Pages[1].Narration != "page 2" {
		t.Fatalf("store shares memory with callers: %+v", again.Pages)
	}
}
