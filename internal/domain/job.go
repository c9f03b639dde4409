package domain

import "time"

// JobStatus represents the lifecycle state of a retrieval job.
type JobStatus string

const (
	StatusStarting  JobStatus = "starting"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
)

// SearchCriteria identifies one property search. All fields are immutable
// once the job is created.
type SearchCriteria struct {
	Year       string
	District   string
	Tahsil     string
	Village    string
	PropertyNo string
}

// Job represents one document-retrieval request. A job is written only by
// the single run that owns it; the status API reads it concurrently.
type Job struct {
	ID       string
	Criteria SearchCriteria
	Status   JobStatus

	// TotalDocuments is a best-effort estimate. It only ever increases:
	// if more documents are downloaded than predicted, the estimate is
	// revised upward, never the reverse.
	TotalDocuments      int
	ProcessedDocuments  int
	DownloadedDocuments int
	CurrentPage         int

	Message   string
	Error     string
	OutputDir string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// JobUpdate is a partial update applied to a job. Nil fields are left
// untouched, so a progress write cannot clobber fields it does not own.
type JobUpdate struct {
	Status              *JobStatus
	TotalDocuments      *int
	ProcessedDocuments  *int
	DownloadedDocuments *int
	CurrentPage         *int
	Message             *string
	Error               *string
}

// Terminal reports whether the job has finished, successfully or not.
func (j *Job) Terminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

func ptr[T any](v T) *T { return &v }

// WithStatus returns an update that sets only the status.
func WithStatus(s JobStatus) JobUpdate { return JobUpdate{Status: ptr(s)} }

// Completed builds the terminal update for a successful run. The status and
// message land in a single store write so a concurrent reader never sees the
// one without the other.
func Completed(message string) JobUpdate {
	return JobUpdate{Status: ptr(StatusCompleted), Message: ptr(message)}
}

// Failed builds the terminal update for a failed run.
func Failed(reason string) JobUpdate {
	return JobUpdate{Status: ptr(StatusFailed), Error: ptr(reason)}
}

// Progress builds a counter update written while a run is traversing.
func Progress(total, processed, downloaded, currentPage int) JobUpdate {
	return JobUpdate{
		TotalDocuments:      ptr(total),
		ProcessedDocuments:  ptr(processed),
		DownloadedDocuments: ptr(downloaded),
		CurrentPage:         ptr(currentPage),
	}
}

// WithMessage returns an update that sets only the human-readable message.
func WithMessage(msg string) JobUpdate { return JobUpdate{Message: ptr(msg)} }
