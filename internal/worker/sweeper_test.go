package worker

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"igrfetch/internal/domain"
)

func TestSweeperRemovesExpiredJobs(t *testing.T) {
	store := newMemStore()
	svc := domain.NewJobService(store, nil, t.TempDir())

	oldDir := filepath.Join(t.TempDir(), "old_job")
	if err := os.MkdirAll(oldDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(oldDir, "Document-P1-1.pdf"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	err := store.Create(context.Background(), &domain.Job{
		ID:        "job_old",
		Status:    domain.StatusCompleted,
		OutputDir: oldDir,
		CreatedAt: time.Now().Add(-48 * time.Hour),
	})
	if err != nil {
		t.Fatal(err)
	}
	err = store.Create(context.Background(), &domain.Job{
		ID:        "job_fresh",
		Status:    domain.StatusCompleted,
		CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}

	s := NewSweeper(svc, 24*time.Hour, time.Hour)
	s.sweep(context.Background())

	if _, err := store.Get(context.Background(), "job_old"); err != domain.ErrJobNotFound {
		t.Errorf("expired job still present, Get = %v", err)
	}
	if _, err := store.Get(context.Background(), "job_fresh"); err != nil {
		t.Errorf("fresh job was swept: %v", err)
	}
	if _, err := os.Stat(oldDir); !os.IsNotExist(err) {
		t.Errorf("expired job's output dir still exists")
	}
}
