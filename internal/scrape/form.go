package scrape

import (
	"context"
	"fmt"
	"log"
	"time"

	"igrfetch/internal/domain"
	"igrfetch/internal/retry"
)

// FormFillError reports which cascading form stage could not be completed.
type FormFillError struct {
	Stage string
	Err   error
}

func (e *FormFillError) Error() string {
	return fmt.Sprintf("form stage %q: %v", e.Stage, e.Err)
}

func (e *FormFillError) Unwrap() error { return e.Err }

// FormSequencer walks the portal's cascading search form in order. Each
// selection triggers a server round-trip that repopulates the next dropdown,
// so dependent stages wait for their dropdown to carry real options before
// selecting.
type FormSequencer struct {
	portal       Portal
	retries      int
	retryDelay   time.Duration
	waitTimeout  time.Duration
	pollInterval time.Duration
}

func NewFormSequencer(portal Portal, retries int, retryDelay time.Duration) *FormSequencer {
	if retries < 1 {
		retries = 1
	}
	return &FormSequencer{
		portal:       portal,
		retries:      retries,
		retryDelay:   retryDelay,
		waitTimeout:  20 * time.Second,
		pollInterval: 500 * time.Millisecond,
	}
}

// Fill executes the full sequence up to (but not including) CAPTCHA entry.
// On any stage failing all its retries, the sequence aborts immediately so
// later stages never run against an inconsistent form.
func (f *FormSequencer) Fill(ctx context.Context, c domain.SearchCriteria) error {
	stages := []struct {
		name string
		op   func(context.Context) error
	}{
		{"open portal", f.portal.Open},
		{"choose regional search", f.chooseRegionalSearch},
		{"select year", func(ctx context.Context) error {
			return f.portal.SelectYear(ctx, c.Year)
		}},
		{"select district", func(ctx context.Context) error {
			return f.portal.SelectDistrict(ctx, c.District)
		}},
		{"select tahsil", func(ctx context.Context) error {
			if err := f.waitForOptions(ctx, f.portal.TahsilOptionCount); err != nil {
				return err
			}
			return f.portal.SelectTahsil(ctx, c.Tahsil)
		}},
		{"select village", func(ctx context.Context) error {
			if err := f.waitForOptions(ctx, f.portal.VillageOptionCount); err != nil {
				return err
			}
			return f.portal.SelectVillage(ctx, c.Village)
		}},
		{"enter property number", func(ctx context.Context) error {
			return f.portal.EnterPropertyNo(ctx, c.PropertyNo)
		}},
	}

	for _, stage := range stages {
		err := retry.Do(ctx, f.retries, f.retryDelay, func() error {
			return stage.op(ctx)
		})
		if err != nil {
			return &FormFillError{Stage: stage.name, Err: err}
		}
	}
	return nil
}

func (f *FormSequencer) chooseRegionalSearch(ctx context.Context) error {
	// The interstitial popup does not always appear; a failed dismissal is
	// not an error.
	if err := f.portal.DismissInterstitial(ctx); err != nil {
		log.Printf("form: interstitial dismissal skipped: %v", err)
	}
	return f.portal.ChooseRegionalSearch(ctx)
}

// waitForOptions polls a dropdown's option count until it holds more than
// the placeholder entry.
func (f *FormSequencer) waitForOptions(ctx context.Context, count func(context.Context) (int, error)) error {
	deadline := time.Now().Add(f.waitTimeout)
	for {
		n, err := count(ctx)
		if err == nil && n > 1 {
			return nil
		}
		if time.Now().After(deadline) {
			if err != nil {
				return fmt.Errorf("dropdown never populated: %w", err)
			}
			return fmt.Errorf("dropdown never populated (%d options)", n)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.pollInterval):
		}
	}
}
