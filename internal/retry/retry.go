// Package retry is the single bounded-retry helper used by every retryable
// operation in the scraper: form stages, click strategies, page advances.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff"
)

// Do runs op up to attempts times, waiting delay between failures. It stops
// early when ctx is cancelled or when op returns an error wrapped with
// Permanent.
func Do(ctx context.Context, attempts int, delay time.Duration, op func() error) error {
	if attempts <= 1 {
		// A zero retry budget means unlimited in backoff, so a single
		// attempt runs directly.
		if err := ctx.Err(); err != nil {
			return err
		}
		err := op()
		if perm, ok := err.(*backoff.PermanentError); ok {
			return perm.Err
		}
		return err
	}
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(delay), uint64(attempts-1)),
		ctx,
	)
	return backoff.Retry(op, b)
}

// Permanent marks err as non-retryable; Do returns it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}
