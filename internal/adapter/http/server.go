// Package http is the HTTP adapter: job submission, status reads, results
// download, and the location lookups the search form needs.
package http

import (
	"archive/zip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"igrfetch/internal/domain"
)

// Server is the HTTP adapter for the job service.
type Server struct {
	svc       *domain.JobService
	locations domain.LocationProvider
	mux       *http.ServeMux
	server    *http.Server
}

// NewServer creates a new HTTP server.
func NewServer(svc *domain.JobService, locations domain.LocationProvider, addr string) *Server {
	s := &Server{
		svc:       svc,
		locations: locations,
		mux:       http.NewServeMux(),
	}
	s.routes()
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.mux,
	}
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /api/jobs", s.handleSubmitJob)
	s.mux.HandleFunc("GET /api/jobs", s.handleListJobs)
	s.mux.HandleFunc("GET /api/jobs/{id}", s.handleGetJob)
	s.mux.HandleFunc("DELETE /api/jobs/{id}", s.handleDeleteJob)
	s.mux.HandleFunc("GET /api/jobs/{id}/results", s.handleJobResults)
	s.mux.HandleFunc("GET /api/districts", s.handleDistricts)
	s.mux.HandleFunc("GET /api/tahsils", s.handleTahsils)
	s.mux.HandleFunc("GET /api/villages", s.handleVillages)
	s.mux.HandleFunc("GET /health", s.handleHealth)
}

// jobRequest is the request body for POST /api/jobs.
type jobRequest struct {
	Year       string `json:"year"`
	District   string `json:"district"`
	Tahsil     string `json:"tahsil"`
	Village    string `json:"village"`
	PropertyNo string `json:"property_no"`
}

// jobResponse is the JSON representation of a job.
type jobResponse struct {
	ID                  string `json:"id"`
	Status              string `json:"status"`
	Year                string `json:"year"`
	District            string `json:"district"`
	Tahsil              string `json:"tahsil"`
	Village             string `json:"village"`
	PropertyNo          string `json:"property_no"`
	TotalDocuments      int    `json:"total_documents"`
	ProcessedDocuments  int    `json:"processed_documents"`
	DownloadedDocuments int    `json:"downloaded_documents"`
	CurrentPage         int    `json:"current_page"`
	HasFiles            bool   `json:"has_files"`
	Message             string `json:"message,omitempty"`
	Error               string `json:"error,omitempty"`
	CreatedAt           string `json:"created_at"`
	UpdatedAt           string `json:"updated_at"`
}

// errorResponse is the JSON error response.
type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req jobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	job, err := s.svc.Submit(r.Context(), domain.SearchCriteria{
		Year:       req.Year,
		District:   req.District,
		Tahsil:     req.Tahsil,
		Village:    req.Village,
		PropertyNo: req.PropertyNo,
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidCriteria) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Printf("submit error: %v", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.writeJSON(w, http.StatusCreated, jobToResponse(job))
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.svc.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			s.writeError(w, http.StatusNotFound, "job not found")
			return
		}
		log.Printf("get job error: %v", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.writeJSON(w, http.StatusOK, jobToResponse(job))
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	status := domain.JobStatus(r.URL.Query().Get("status"))
	switch status {
	case "", domain.StatusStarting, domain.StatusRunning, domain.StatusCompleted, domain.StatusFailed:
	default:
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", status))
		return
	}

	jobs, err := s.svc.List(r.Context(), status)
	if err != nil {
		log.Printf("list jobs error: %v", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]jobResponse, 0, len(jobs))
	for i := range jobs {
		out = append(out, jobToResponse(&jobs[i]))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	err := s.svc.Delete(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			s.writeError(w, http.StatusNotFound, "job not found")
			return
		}
		log.Printf("delete job error: %v", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleJobResults streams the job's documents as a zip archive.
func (s *Server) handleJobResults(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	dir, err := s.svc.ResultsDir(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrJobNotFound):
			s.writeError(w, http.StatusNotFound, "job not found")
		case errors.Is(err, domain.ErrJobNotFinished):
			s.writeError(w, http.StatusConflict, "job has not completed")
		default:
			log.Printf("results error: %v", err)
			s.writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		log.Printf("results dir read error: %v", err)
		s.writeError(w, http.StatusInternalServerError, "results unavailable")
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", id+".zip"))
	w.WriteHeader(http.StatusOK)

	zw := zip.NewWriter(w)
	defer zw.Close()
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := addToZip(zw, dir, entry.Name()); err != nil {
			// Headers are gone; all we can do is stop the stream.
			log.Printf("results zip error for %s: %v", id, err)
			return
		}
	}
}

func addToZip(zw *zip.Writer, dir, name string) error {
	f, err := os.Open(filepath.Join(dir, name))
	if err != nil {
		return err
	}
	defer f.Close()

	dst, err := zw.Create(name)
	if err != nil {
		return err
	}
	_, err = io.Copy(dst, f)
	return err
}

func (s *Server) handleDistricts(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.locations.Districts())
}

func (s *Server) handleTahsils(w http.ResponseWriter, r *http.Request) {
	district := r.URL.Query().Get("district")
	if district == "" {
		s.writeError(w, http.StatusBadRequest, "district is required")
		return
	}
	s.writeJSON(w, http.StatusOK, s.locations.Tahsils(district))
}

func (s *Server) handleVillages(w http.ResponseWriter, r *http.Request) {
	district := r.URL.Query().Get("district")
	tahsil := r.URL.Query().Get("tahsil")
	if district == "" || tahsil == "" {
		s.writeError(w, http.StatusBadRequest, "district and tahsil are required")
		return
	}
	s.writeJSON(w, http.StatusOK, s.locations.Villages(district, tahsil))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}

func jobToResponse(job *domain.Job) jobResponse {
	return jobResponse{
		ID:                  job.ID,
		Status:              string(job.Status),
		Year:                job.Criteria.Year,
		District:            job.Criteria.District,
		Tahsil:              job.Criteria.Tahsil,
		Village:             job.Criteria.Village,
		PropertyNo:          job.Criteria.PropertyNo,
		TotalDocuments:      job.TotalDocuments,
		ProcessedDocuments:  job.ProcessedDocuments,
		DownloadedDocuments: job.DownloadedDocuments,
		CurrentPage:         job.CurrentPage,
		HasFiles:            job.DownloadedDocuments > 0,
		Message:             job.Message,
		Error:               job.Error,
		CreatedAt:           job.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:           job.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// ServeHTTP implements http.Handler for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}
