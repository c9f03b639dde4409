package domain

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidCriteria = errors.New("invalid search criteria")
	ErrJobNotFound     = errors.New("job not found")
	ErrJobNotFinished  = errors.New("job not finished")
)

var unsafePathChars = regexp.MustCompile(`[^\w]+`)

// JobService orchestrates job operations: criteria validation, job identity,
// output directory naming, and store access.
type JobService struct {
	store       JobStore
	locations   LocationProvider
	downloadDir string
}

// NewJobService creates a new JobService rooting job output under downloadDir.
func NewJobService(store JobStore, locations LocationProvider, downloadDir string) *JobService {
	return &JobService{store: store, locations: locations, downloadDir: downloadDir}
}

// Submit validates the criteria and creates a job in status starting.
func (s *JobService) Submit(ctx context.Context, c SearchCriteria) (*Job, error) {
	if err := s.validate(c); err != nil {
		return nil, err
	}

	now := time.Now()
	id := fmt.Sprintf("job_%d_%s", now.Unix(), uuid.NewString()[:8])

	folder := fmt.Sprintf("%s_%s_%s_%s_%s_%s", c.Year, c.District, c.Tahsil, c.Village, c.PropertyNo, id)
	folder = unsafePathChars.ReplaceAllString(folder, "_")

	job := &Job{
		ID:        id,
		Criteria:  c,
		Status:    StatusStarting,
		OutputDir: filepath.Join(s.downloadDir, folder),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	return job, nil
}

func (s *JobService) validate(c SearchCriteria) error {
	if c.Year == "" || c.District == "" || c.Tahsil == "" || c.Village == "" || c.PropertyNo == "" {
		return fmt.Errorf("%w: all fields are required", ErrInvalidCriteria)
	}
	year, err := strconv.Atoi(c.Year)
	if err != nil || year < 1985 || year > time.Now().Year() {
		return fmt.Errorf("%w: year %q out of range", ErrInvalidCriteria, c.Year)
	}
	if !slices.Contains(s.locations.Districts(), c.District) {
		return fmt.Errorf("%w: unknown district %q", ErrInvalidCriteria, c.District)
	}
	if !slices.Contains(s.locations.Tahsils(c.District), c.Tahsil) {
		return fmt.Errorf("%w: unknown tahsil %q in district %q", ErrInvalidCriteria, c.Tahsil, c.District)
	}
	if !slices.Contains(s.locations.Villages(c.District, c.Tahsil), c.Village) {
		return fmt.Errorf("%w: unknown village %q in tahsil %q", ErrInvalidCriteria, c.Village, c.Tahsil)
	}
	return nil
}

// Get retrieves a job by ID.
func (s *JobService) Get(ctx context.Context, id string) (*Job, error) {
	return s.store.Get(ctx, id)
}

// List returns jobs newest first, optionally filtered by status.
func (s *JobService) List(ctx context.Context, status JobStatus) ([]Job, error) {
	return s.store.List(ctx, status)
}

// Delete removes the job record and its output directory.
func (s *JobService) Delete(ctx context.Context, id string) error {
	job, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	// Remove the record first so a concurrent status read never sees a
	// job pointing at storage that is already gone.
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	if job.OutputDir != "" {
		if err := os.RemoveAll(job.OutputDir); err != nil {
			return fmt.Errorf("remove output dir: %w", err)
		}
	}
	return nil
}

// ResultsDir returns the output directory of a completed job.
func (s *JobService) ResultsDir(ctx context.Context, id string) (string, error) {
	job, err := s.store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if job.Status != StatusCompleted {
		return "", ErrJobNotFinished
	}
	return job.OutputDir, nil
}

// Sweep deletes jobs older than the retention window together with their
// output directories. Returns the number of jobs removed.
func (s *JobService) Sweep(ctx context.Context, retention time.Duration) (int, error) {
	removed, err := s.store.DeleteOlderThan(ctx, time.Now().Add(-retention))
	if err != nil {
		return 0, err
	}
	for _, job := range removed {
		if job.OutputDir == "" {
			continue
		}
		if err := os.RemoveAll(job.OutputDir); err != nil {
			return len(removed), fmt.Errorf("remove output dir for %s: %w", job.ID, err)
		}
	}
	return len(removed), nil
}

// RecoverInterrupted marks jobs left running by a crashed process as failed.
func (s *JobService) RecoverInterrupted(ctx context.Context) (int64, error) {
	return s.store.RecoverInterrupted(ctx)
}

// FindStarting returns jobs waiting for a worker.
func (s *JobService) FindStarting(ctx context.Context, limit int) ([]Job, error) {
	return s.store.FindStarting(ctx, limit)
}

// Claim atomically claims a starting job for execution.
func (s *JobService) Claim(ctx context.Context, id string) error {
	return s.store.Claim(ctx, id)
}
