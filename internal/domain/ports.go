package domain

import (
	"context"
	"time"
)

// JobStore is the driven port for job persistence. The store owns its own
// locking; callers rely on each Update being applied atomically so a
// concurrent Get never observes a torn status/counter combination.
type JobStore interface {
	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	Update(ctx context.Context, id string, upd JobUpdate) error
	Delete(ctx context.Context, id string) error
	// List returns jobs newest first, optionally filtered by status
	// (empty status means all).
	List(ctx context.Context, status JobStatus) ([]Job, error)
	// FindStarting returns jobs waiting for a worker, oldest first.
	FindStarting(ctx context.Context, limit int) ([]Job, error)
	// Claim atomically moves a starting job to running. Returns
	// ErrJobNotFound if the job was already claimed or deleted.
	Claim(ctx context.Context, id string) error
	// RecoverInterrupted marks jobs left running by a previous process as
	// failed. A browser traversal cannot be resumed mid-flight.
	RecoverInterrupted(ctx context.Context) (int64, error)
	// DeleteOlderThan removes jobs created before cutoff and returns them
	// so the caller can remove their output directories.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) ([]Job, error)
}

// LocationProvider is the read-only lookup for the cascading form fields.
type LocationProvider interface {
	Districts() []string
	Tahsils(district string) []string
	Villages(district, tahsil string) []string
}
