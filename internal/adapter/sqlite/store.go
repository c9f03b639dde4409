package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"igrfetch/internal/domain"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
    id                   TEXT PRIMARY KEY,
    year                 TEXT NOT NULL,
    district             TEXT NOT NULL,
    tahsil               TEXT NOT NULL,
    village              TEXT NOT NULL,
    property_no          TEXT NOT NULL,
    status               TEXT NOT NULL DEFAULT 'starting',
    total_documents      INTEGER NOT NULL DEFAULT 0,
    processed_documents  INTEGER NOT NULL DEFAULT 0,
    downloaded_documents INTEGER NOT NULL DEFAULT 0,
    current_page         INTEGER NOT NULL DEFAULT 0,
    message              TEXT,
    error                TEXT,
    output_dir           TEXT NOT NULL,
    created_at           DATETIME NOT NULL,
    updated_at           DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at);
`

const jobColumns = `id, year, district, tahsil, village, property_no, status,
	total_documents, processed_documents, downloaded_documents, current_page,
	COALESCE(message, ''), COALESCE(error, ''), output_dir, created_at, updated_at`

// Store implements domain.JobStore using SQLite.
type Store struct {
	db *sql.DB
}

// New creates a new SQLite store, initializing the schema if needed.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Create inserts a new job.
func (s *Store) Create(ctx context.Context, job *domain.Job) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, year, district, tahsil, village, property_no, status,
		 total_documents, processed_documents, downloaded_documents, current_page,
		 message, error, output_dir, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Criteria.Year, job.Criteria.District, job.Criteria.Tahsil,
		job.Criteria.Village, job.Criteria.PropertyNo, job.Status,
		job.TotalDocuments, job.ProcessedDocuments, job.DownloadedDocuments,
		job.CurrentPage, job.Message, job.Error, job.OutputDir,
		job.CreatedAt, job.UpdatedAt,
	)
	return err
}

// Get retrieves a job by ID.
func (s *Store) Get(ctx context.Context, id string) (*domain.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id,
	)
	return scanJob(row)
}

// Update applies a partial update as a single UPDATE statement, so readers
// never observe part of it. The total-documents column is monotonic: a lower
// value than the stored one is ignored.
func (s *Store) Update(ctx context.Context, id string, upd domain.JobUpdate) error {
	sets := []string{"updated_at = ?"}
	args := []any{time.Now()}

	if upd.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *upd.Status)
	}
	if upd.TotalDocuments != nil {
		sets = append(sets, "total_documents = MAX(total_documents, ?)")
		args = append(args, *upd.TotalDocuments)
	}
	if upd.ProcessedDocuments != nil {
		sets = append(sets, "processed_documents = ?")
		args = append(args, *upd.ProcessedDocuments)
	}
	if upd.DownloadedDocuments != nil {
		sets = append(sets, "downloaded_documents = ?")
		args = append(args, *upd.DownloadedDocuments)
	}
	if upd.CurrentPage != nil {
		sets = append(sets, "current_page = ?")
		args = append(args, *upd.CurrentPage)
	}
	if upd.Message != nil {
		sets = append(sets, "message = ?")
		args = append(args, *upd.Message)
	}
	if upd.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, *upd.Error)
	}

	args = append(args, id)
	result, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE jobs SET %s WHERE id = ?`, strings.Join(sets, ", ")),
		args...,
	)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

// Delete removes a job record.
func (s *Store) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

// List returns jobs newest first, optionally filtered by status.
func (s *Store) List(ctx context.Context, status domain.JobStatus) ([]domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectJobs(rows)
}

// FindStarting returns jobs waiting for a worker, oldest first.
func (s *Store) FindStarting(ctx context.Context, limit int) ([]domain.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status = ? ORDER BY created_at ASC LIMIT ?`,
		domain.StatusStarting, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectJobs(rows)
}

// Claim atomically moves a starting job to running.
func (s *Store) Claim(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		domain.StatusRunning, time.Now(), id, domain.StatusStarting,
	)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

// RecoverInterrupted marks jobs left running by a previous process as failed.
func (s *Store) RecoverInterrupted(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, error = 'interrupted by restart', updated_at = ?
		 WHERE status = ?`,
		domain.StatusFailed, time.Now(), domain.StatusRunning,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// DeleteOlderThan removes jobs created before cutoff and returns them so the
// caller can remove their output directories. Select and delete run in one
// transaction so every deleted row is reported back; a row the caller never
// saw would leak its output directory.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) ([]domain.Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE created_at < ?`, cutoff,
	)
	if err != nil {
		return nil, err
	}
	old, err := collectJobs(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}
	if len(old) == 0 {
		return nil, nil
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE created_at < ?`, cutoff); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return old, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*domain.Job, error) {
	var job domain.Job
	var status string
	err := row.Scan(&job.ID, &job.Criteria.Year, &job.Criteria.District,
		&job.Criteria.Tahsil, &job.Criteria.Village, &job.Criteria.PropertyNo,
		&status, &job.TotalDocuments, &job.ProcessedDocuments,
		&job.DownloadedDocuments, &job.CurrentPage, &job.Message, &job.Error,
		&job.OutputDir, &job.CreatedAt, &job.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	job.Status = domain.JobStatus(status)
	return &job, nil
}

func collectJobs(rows *sql.Rows) ([]domain.Job, error) {
	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}
