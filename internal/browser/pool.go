// Package browser owns everything Chrome: the pooled sessions, their
// lifecycle, and the chromedp-backed portal implementation.
package browser

import (
	"context"
	"errors"
	"log"
	"sync"
)

// ErrPoolClosed is returned by Acquire after Shutdown.
var ErrPoolClosed = errors.New("browser pool is closed")

// Session is the pooled resource. Reset returns it to a clean state between
// jobs; a session that cannot be cleaned is destroyed instead of reused.
type Session interface {
	Reset(ctx context.Context) error
	Close()
}

// Factory constructs a fresh session.
type Factory func(ctx context.Context) (Session, error)

// Pool keeps up to max idle sessions for reuse. Capacity bounds the idle
// list only: Acquire constructs a fresh session whenever none is idle, so it
// never blocks on pool capacity. Bounding job concurrency is the
// dispatcher's business, not the pool's.
type Pool struct {
	max     int
	factory Factory

	mu     sync.Mutex
	idle   []Session
	closed bool
}

func NewPool(max int, factory Factory) *Pool {
	if max < 1 {
		max = 1
	}
	return &Pool{max: max, factory: factory}
}

// Acquire leases a session: an idle one when available, a freshly built one
// otherwise. Every successful Acquire must be paired with exactly one
// Release.
func (p *Pool) Acquire(ctx context.Context) (Session, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	if n := len(p.idle); n > 0 {
		s := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()
		return s, nil
	}
	p.mu.Unlock()

	return p.factory(ctx)
}

// Release returns a session to the pool. The session is reset first; one
// that fails its reset is destroyed, as is any session released while the
// idle list is already full.
func (p *Pool) Release(s Session) {
	if s == nil {
		return
	}
	if err := s.Reset(context.Background()); err != nil {
		log.Printf("pool: session reset failed, destroying it: %v", err)
		s.Close()
		return
	}

	p.mu.Lock()
	if p.closed || len(p.idle) >= p.max {
		p.mu.Unlock()
		s.Close()
		return
	}
	p.idle = append(p.idle, s)
	p.mu.Unlock()
}

// Shutdown closes all idle sessions and refuses further Acquires. Sessions
// currently leased are closed when released.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	for _, s := range idle {
		s.Close()
	}
}
