package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"trackdrop/internal/domain"
)

func testRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := New(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func testJob(url string) *domain.Job {
	return domain.NewJob(domain.NewRequest(url,
		domain.MediaFormat{Kind: domain.KindAudio, Quality: "192"}, 7, "tester"))
}

func TestRepository_CreateAndGet(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()
	job := testJob("https://example.com/watch?v=a")

	if err := repo.Create(ctx, job); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	rec, err := repo.Get(ctx, job.Request.ID)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if rec.URL != job.Request.URL {
		t.Errorf("URL = %q, want %q", rec.URL, job.Request.URL)
	}
	if rec.ChatID != 7 {
		t.Errorf("ChatID = %d, want 7", rec.ChatID)
	}
	if rec.State != domain.StateQueued {
		t.Errorf("State = %s, want queued", rec.State)
	}
	if rec.Format != "audio/192" {
		t.Errorf("Format = %q", rec.Format)
	}
}

func TestRepository_GetUnknownID(t *testing.T) {
	repo := testRepo(t)
	if _, err := repo.Get(context.Background(), "missing"); err == nil {
		t.Fatal("Get() on unknown id succeeded")
	}
}

func TestRepository_SetStateAndFinish(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()
	job := testJob("https://example.com/watch?v=b")
	if err := repo.Create(ctx, job); err != nil {
		t.Fatal(err)
	}

	if err := repo.SetState(ctx, job.Request.ID, domain.StateExtracting); err != nil {
		t.Fatalf("SetState() error: %v", err)
	}
	rec, err := repo.Get(ctx, job.Request.ID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.State != domain.StateExtracting {
		t.Errorf("State = %s, want extracting", rec.State)
	}

	if err := repo.Finish(ctx, job.Request.ID, domain.StateDelivered, "", "https://store/u/abc"); err != nil {
		t.Fatalf("Finish() error: %v", err)
	}
	rec, err = repo.Get(ctx, job.Request.ID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.State != domain.StateDelivered || rec.Link != "https://store/u/abc" {
		t.Errorf("record = %+v, want delivered with link", rec)
	}
}

func TestRepository_MarkInterrupted(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	running := testJob("https://example.com/watch?v=run")
	done := testJob("https://example.com/watch?v=done")
	failed := testJob("https://example.com/watch?v=bad")
	for _, j := range []*domain.Job{running, done, failed} {
		if err := repo.Create(ctx, j); err != nil {
			t.Fatal(err)
		}
	}
	if err := repo.SetState(ctx, running.Request.ID, domain.StateDelivering); err != nil {
		t.Fatal(err)
	}
	if err := repo.Finish(ctx, done.Request.ID, domain.StateDelivered, "", ""); err != nil {
		t.Fatal(err)
	}
	if err := repo.Finish(ctx, failed.Request.ID, domain.StateFailed, "boom", ""); err != nil {
		t.Fatal(err)
	}

	n, err := repo.MarkInterrupted(ctx)
	if err != nil {
		t.Fatalf("MarkInterrupted() error: %v", err)
	}
	if n != 1 {
		t.Errorf("MarkInterrupted() = %d rows, want 1", n)
	}

	rec, err := repo.Get(ctx, running.Request.ID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.State != domain.StateFailed || rec.Error != "interrupted by restart" {
		t.Errorf("interrupted job = %+v", rec)
	}

	// Terminal rows are untouched.
	rec, err = repo.Get(ctx, done.Request.ID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.State != domain.StateDelivered {
		t.Errorf("delivered job rewritten: %+v", rec)
	}
	rec, err = repo.Get(ctx, failed.Request.ID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Error != "boom" {
		t.Errorf("failed job's error rewritten: %+v", rec)
	}
}

func TestRepository_CountByState(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		job := testJob("https://example.com/watch?v=n")
		if err := repo.Create(ctx, job); err != nil {
			t.Fatal(err)
		}
		if i > 0 {
			if err := repo.Finish(ctx, job.Request.ID, domain.StateDelivered, "", ""); err != nil {
				t.Fatal(err)
			}
		}
	}

	delivered, err := repo.CountByState(ctx, domain.StateDelivered)
	if err != nil {
		t.Fatalf("CountByState() error: %v", err)
	}
	if delivered != 2 {
		t.Errorf("delivered count = %d, want 2", delivered)
	}
	queued, err := repo.CountByState(ctx, domain.StateQueued)
	if err != nil {
		t.Fatal(err)
	}
	if queued != 1 {
		t.Errorf("queued count = %d, want 1", queued)
	}
}
