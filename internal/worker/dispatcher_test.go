package worker

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"igrfetch/internal/domain"
)

// memStore is the minimal JobStore the dispatcher loops need.
type memStore struct {
	mu        sync.Mutex
	jobs      map[string]*domain.Job
	claimFail bool
}

func newMemStore() *memStore {
	return &memStore{jobs: map[string]*domain.Job{}}
}

func (s *memStore) Create(ctx context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *memStore) Get(ctx context.Context, id string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

func (s *memStore) Update(ctx context.Context, id string, upd domain.JobUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return domain.ErrJobNotFound
	}
	if upd.Status != nil {
		j.Status = *upd.Status
	}
	return nil
}

func (s *memStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
	return nil
}

func (s *memStore) List(ctx context.Context, status domain.JobStatus) ([]domain.Job, error) {
	return nil, nil
}

func (s *memStore) FindStarting(ctx context.Context, limit int) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Job
	for _, j := range s.jobs {
		if j.Status == domain.StatusStarting {
			out = append(out, *j)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) Claim(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimFail {
		return domain.ErrJobNotFound
	}
	j, ok := s.jobs[id]
	if !ok || j.Status != domain.StatusStarting {
		return domain.ErrJobNotFound
	}
	j.Status = domain.StatusRunning
	return nil
}

func (s *memStore) RecoverInterrupted(ctx context.Context) (int64, error) { return 0, nil }

func (s *memStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []domain.Job
	for id, j := range s.jobs {
		if j.CreatedAt.Before(cutoff) {
			removed = append(removed, *j)
			delete(s.jobs, id)
		}
	}
	return removed, nil
}

func seedStarting(t *testing.T, store *memStore, ids ...string) {
	t.Helper()
	for _, id := range ids {
		err := store.Create(context.Background(), &domain.Job{
			ID:        id,
			Status:    domain.StatusStarting,
			CreatedAt: time.Now(),
		})
		if err != nil {
			t.Fatal(err)
		}
	}
}

func TestDispatcherRunsQueuedJobs(t *testing.T) {
	store := newMemStore()
	seedStarting(t, store, "job_a", "job_b")
	svc := domain.NewJobService(store, nil, t.TempDir())

	var mu sync.Mutex
	ran := map[string]domain.JobStatus{}
	done := make(chan string, 2)
	run := func(ctx context.Context, job domain.Job) {
		mu.Lock()
		ran[job.ID] = job.Status
		mu.Unlock()
		done <- job.ID
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d := NewDispatcher(svc, run, 5*time.Millisecond, 2)
	go d.Run(ctx)

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("jobs were not dispatched")
		}
	}
	cancel()

	mu.Lock()
	defer mu.Unlock()
	for _, id := range []string{"job_a", "job_b"} {
		status, ok := ran[id]
		if !ok {
			t.Errorf("%s never ran", id)
			continue
		}
		if status != domain.StatusRunning {
			t.Errorf("%s handed to run with status %s, want running", id, status)
		}
	}
}

func TestDispatcherHonorsConcurrencyCap(t *testing.T) {
	store := newMemStore()
	seedStarting(t, store, "job_a", "job_b")
	svc := domain.NewJobService(store, nil, t.TempDir())

	started := make(chan string, 2)
	release := make(chan struct{})
	run := func(ctx context.Context, job domain.Job) {
		started <- job.ID
		<-release
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d := NewDispatcher(svc, run, 5*time.Millisecond, 1)
	go d.Run(ctx)

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("first job never started")
	}

	select {
	case id := <-started:
		t.Fatalf("%s started while the only slot was busy", id)
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("second job never started after the slot freed up")
	}
	cancel()
}

func TestDispatcherSkipsLostClaims(t *testing.T) {
	store := newMemStore()
	seedStarting(t, store, "job_a")
	store.claimFail = true
	svc := domain.NewJobService(store, nil, t.TempDir())

	ran := make(chan string, 1)
	run := func(ctx context.Context, job domain.Job) { ran <- job.ID }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d := NewDispatcher(svc, run, 5*time.Millisecond, 2)
	go d.Run(ctx)

	select {
	case id := <-ran:
		t.Fatalf("%s ran despite a lost claim", id)
	case <-time.After(60 * time.Millisecond):
	}
}
