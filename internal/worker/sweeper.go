package worker

import (
	"context"
	"log"
	"time"

	"igrfetch/internal/domain"
)

// Sweeper periodically deletes jobs past the retention window along with
// their downloaded documents.
type Sweeper struct {
	svc       *domain.JobService
	retention time.Duration
	interval  time.Duration
}

func NewSweeper(svc *domain.JobService, retention, interval time.Duration) *Sweeper {
	return &Sweeper{svc: svc, retention: retention, interval: interval}
}

// Run sweeps once at startup and then on every tick until the context is
// cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	log.Printf("sweeper started, retention %s, sweeping every %s", s.retention, s.interval)
	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Println("sweeper shutting down")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	n, err := s.svc.Sweep(ctx, s.retention)
	if err != nil {
		log.Printf("sweep: %v", err)
		return
	}
	if n > 0 {
		log.Printf("sweep: removed %d expired jobs", n)
	}
}
