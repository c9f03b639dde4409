// Package worker contains the background loops: the dispatcher that hands
// queued jobs to runs, and the sweeper that enforces job retention.
package worker

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"igrfetch/internal/domain"
)

// RunFunc executes one claimed job to a terminal status.
type RunFunc func(ctx context.Context, job domain.Job)

// Dispatcher polls for queued jobs and launches runs, never more than
// maxConcurrent at a time. Claiming goes through the store's atomic
// claim so two dispatchers can share a database without double-running.
type Dispatcher struct {
	svc          *domain.JobService
	run          RunFunc
	pollInterval time.Duration
	sem          *semaphore.Weighted
	wg           sync.WaitGroup
}

func NewDispatcher(svc *domain.JobService, run RunFunc, pollInterval time.Duration, maxConcurrent int) *Dispatcher {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Dispatcher{
		svc:          svc,
		run:          run,
		pollInterval: pollInterval,
		sem:          semaphore.NewWeighted(int64(maxConcurrent)),
	}
}

// Run polls until the context is cancelled, then waits for in-flight runs
// to finish.
func (d *Dispatcher) Run(ctx context.Context) {
	log.Printf("dispatcher started, polling every %s", d.pollInterval)
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("dispatcher shutting down, waiting for running jobs")
			d.wg.Wait()
			return
		case <-ticker.C:
			d.poll(ctx)
		}
	}
}

func (d *Dispatcher) poll(ctx context.Context) {
	jobs, err := d.svc.FindStarting(ctx, 10)
	if err != nil {
		log.Printf("dispatcher poll: %v", err)
		return
	}

	for _, job := range jobs {
		if ctx.Err() != nil {
			return
		}
		if !d.sem.TryAcquire(1) {
			// At capacity; the rest of the batch waits for the next tick.
			return
		}
		if err := d.svc.Claim(ctx, job.ID); err != nil {
			d.sem.Release(1)
			if err != domain.ErrJobNotFound {
				log.Printf("dispatcher: claiming %s: %v", job.ID, err)
			}
			continue
		}
		job.Status = domain.StatusRunning

		d.wg.Add(1)
		go func(job domain.Job) {
			defer d.wg.Done()
			defer d.sem.Release(1)
			d.run(ctx, job)
		}(job)
	}
}
