package scrape

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"igrfetch/internal/domain"
)

// AcquireFunc leases a portal session. The returned release function must be
// called exactly once, on every exit path, so the session goes back to its
// pool.
type AcquireFunc func(ctx context.Context) (Portal, func(), error)

// RunnerConfig bundles the tunables a single run needs.
type RunnerConfig struct {
	StageRetries int
	StageBackoff time.Duration
	Captcha      CaptchaConfig
	Traversal    TraversalConfig
}

func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		StageRetries: 3,
		StageBackoff: 2 * time.Second,
		Captcha:      DefaultCaptchaConfig(),
		Traversal:    DefaultTraversalConfig(),
	}
}

// Runner executes one claimed job end to end: form fill, CAPTCHA gate,
// document traversal, terminal store write. All portal access goes through a
// leased session that is released whatever happens.
type Runner struct {
	store      domain.JobStore
	acquire    AcquireFunc
	recognizer Recognizer
	cfg        RunnerConfig
}

func NewRunner(store domain.JobStore, acquire AcquireFunc, recognizer Recognizer, cfg RunnerConfig) *Runner {
	return &Runner{store: store, acquire: acquire, recognizer: recognizer, cfg: cfg}
}

// Run drives the job to a terminal status. It never returns an error: every
// failure mode ends in a store write marking the job failed, because the
// caller has nothing useful to do with the error beyond that.
func (r *Runner) Run(ctx context.Context, job domain.Job) {
	// Terminal writes must land even when the run's context is cancelled.
	record := context.WithoutCancel(ctx)
	log.Printf("run %s: starting search year=%s district=%s tahsil=%s village=%s property=%s",
		job.ID, job.Criteria.Year, job.Criteria.District, job.Criteria.Tahsil, job.Criteria.Village, job.Criteria.PropertyNo)

	portal, release, err := r.acquire(ctx)
	if err != nil {
		r.fail(record, job.ID, fmt.Sprintf("acquiring browser session: %v", err))
		return
	}
	defer release()

	r.note(ctx, job.ID, "filling search form")
	seq := NewFormSequencer(portal, r.cfg.StageRetries, r.cfg.StageBackoff)
	if err := seq.Fill(ctx, job.Criteria); err != nil {
		r.fail(record, job.ID, err.Error())
		return
	}

	r.note(ctx, job.ID, "solving captcha")
	proto := NewCaptchaProtocol(portal, r.recognizer, r.cfg.Captcha)
	res, err := proto.Resolve(ctx, job.Criteria.PropertyNo)
	if err != nil {
		r.fail(record, job.ID, fmt.Sprintf("captcha resolution: %v", err))
		return
	}
	log.Printf("run %s: captcha outcome=%s cycles=%d submits=%d", job.ID, res.Outcome, res.Cycles, res.Submits)

	switch res.Outcome {
	case CaptchaNoRecords:
		r.finish(record, job.ID, domain.Completed("No records found for the given criteria"))
		return
	case CaptchaExhausted:
		r.fail(record, job.ID, fmt.Sprintf("captcha attempts exhausted after %d submissions", res.Submits))
		return
	}

	// Results exist; only now does the job earn an output directory.
	if err := os.MkdirAll(job.OutputDir, 0o755); err != nil {
		r.fail(record, job.ID, fmt.Sprintf("creating output directory: %v", err))
		return
	}

	r.note(ctx, job.ID, "downloading documents")
	saver := NewDocumentSaver(job.OutputDir)
	trav := NewTraversal(portal, saver, r.cfg.Traversal, func(s TraversalSummary, page int) {
		if err := r.store.Update(ctx, job.ID, domain.Progress(s.TotalEstimate, s.DocumentsProcessed, s.DocumentsDownloaded, page)); err != nil {
			log.Printf("run %s: progress write: %v", job.ID, err)
		}
	})
	sum, err := trav.Run(ctx)
	if err != nil {
		r.fail(record, job.ID, fmt.Sprintf("traversal interrupted: %v", err))
		return
	}

	msg := fmt.Sprintf("Downloaded %d of %d documents across %d pages",
		sum.DocumentsDownloaded, sum.DocumentsProcessed, sum.PagesProcessed)
	r.finish(record, job.ID, domain.Completed(msg))
	log.Printf("run %s: %s", job.ID, msg)
}

func (r *Runner) note(ctx context.Context, id, msg string) {
	if err := r.store.Update(ctx, id, domain.WithMessage(msg)); err != nil {
		log.Printf("run %s: message write: %v", id, err)
	}
}

func (r *Runner) finish(ctx context.Context, id string, u domain.JobUpdate) {
	if err := r.store.Update(ctx, id, u); err != nil {
		log.Printf("run %s: terminal write: %v", id, err)
	}
}

func (r *Runner) fail(ctx context.Context, id, reason string) {
	log.Printf("run %s: failed: %s", id, reason)
	r.finish(ctx, id, domain.Failed(reason))
}
