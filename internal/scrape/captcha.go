package scrape

import (
	"context"
	"log"
	"time"
)

// CaptchaOutcome is the terminal state of a resolution run.
type CaptchaOutcome int

const (
	// CaptchaFound means results are displayed.
	CaptchaFound CaptchaOutcome = iota
	// CaptchaNoRecords means the portal reported no matching records.
	CaptchaNoRecords
	// CaptchaExhausted means every attempt was spent without a verdict.
	CaptchaExhausted
)

func (o CaptchaOutcome) String() string {
	switch o {
	case CaptchaFound:
		return "found"
	case CaptchaNoRecords:
		return "no-records"
	case CaptchaExhausted:
		return "exhausted"
	}
	return "unknown"
}

// CaptchaResult carries the outcome plus counters for logging and tests.
// Cycles counts protocol loop iterations, Submits only genuine submissions.
type CaptchaResult struct {
	Outcome CaptchaOutcome
	Cycles  int
	Submits int
}

// CaptchaProtocol resolves the portal's CAPTCHA gate. The server rotates the
// image at will, so every solution is fingerprinted at capture time and the
// live image re-checked before filling and again before submitting; a
// mismatch abandons the cycle without spending an attempt. Rotation observed
// while polling for results after a submit means the portal rejected the
// solution, and that attempt stays spent.
type CaptchaProtocol struct {
	portal     Portal
	recognizer Recognizer
	cfg        CaptchaConfig
}

// CaptchaConfig bounds one resolution run. MaxAttempts counts genuine
// submissions only.
type CaptchaConfig struct {
	MaxAttempts   int
	ResultTimeout time.Duration
	PollInterval  time.Duration
	RetryDelay    time.Duration
}

func DefaultCaptchaConfig() CaptchaConfig {
	return CaptchaConfig{
		MaxAttempts:   5,
		ResultTimeout: 30 * time.Second,
		PollInterval:  time.Second,
		RetryDelay:    2 * time.Second,
	}
}

func NewCaptchaProtocol(portal Portal, recognizer Recognizer, cfg CaptchaConfig) *CaptchaProtocol {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &CaptchaProtocol{portal: portal, recognizer: recognizer, cfg: cfg}
}

// Resolve drives the solve loop until results appear, the portal reports no
// records, or the attempt budget is exhausted. Unusable OCR output and
// rotation races do not spend attempts, but such free re-entries are bounded
// so a pathological portal cannot spin the loop forever.
func (p *CaptchaProtocol) Resolve(ctx context.Context, propertyNo string) (CaptchaResult, error) {
	var res CaptchaResult
	attempts := 0
	freeSkips := 0
	maxFreeSkips := 3 * p.cfg.MaxAttempts

	for attempts < p.cfg.MaxAttempts {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Cycles++

		// Fast paths: a previous cycle (or a cached session) may already
		// show a verdict.
		if n, err := p.portal.ActionElementCount(ctx); err == nil && n > 0 {
			res.Outcome = CaptchaFound
			return res, nil
		}
		if no, err := p.portal.NoRecordsShown(ctx); err == nil && no {
			res.Outcome = CaptchaNoRecords
			return res, nil
		}

		image, err := p.portal.CaptchaImage(ctx)
		if err != nil {
			// No CAPTCHA and no verdict yet; give the page a moment.
			attempts++
			log.Printf("captcha: image unavailable (attempt %d/%d): %v", attempts, p.cfg.MaxAttempts, err)
			p.wait(ctx, p.cfg.RetryDelay)
			continue
		}
		fp := fingerprint(image)

		candidate, err := p.recognizer.Recognize(ctx, image)
		if err != nil || candidate == "" {
			freeSkips++
			if freeSkips > maxFreeSkips {
				attempts++
			}
			log.Printf("captcha: unusable OCR result, refreshing (err=%v)", err)
			p.wait(ctx, p.cfg.RetryDelay)
			continue
		}

		// Rotation check before touching the form.
		if p.rotated(ctx, fp) {
			freeSkips++
			if freeSkips > maxFreeSkips {
				attempts++
			}
			continue
		}

		if err := p.portal.EnterPropertyNo(ctx, propertyNo); err != nil {
			attempts++
			continue
		}
		if err := p.portal.EnterCaptcha(ctx, candidate); err != nil {
			attempts++
			continue
		}

		// Last rotation check before committing the submit.
		if p.rotated(ctx, fp) {
			freeSkips++
			if freeSkips > maxFreeSkips {
				attempts++
			}
			continue
		}

		attempts++
		res.Submits++
		if err := p.portal.SubmitSearch(ctx); err != nil {
			log.Printf("captcha: submit failed (attempt %d/%d): %v", attempts, p.cfg.MaxAttempts, err)
			continue
		}

		outcome, decided := p.awaitVerdict(ctx, fp)
		if decided {
			res.Outcome = outcome
			return res, nil
		}
		log.Printf("captcha: solution rejected (attempt %d/%d)", attempts, p.cfg.MaxAttempts)
	}

	// Final look before giving up; the verdict can land late.
	if n, err := p.portal.ActionElementCount(ctx); err == nil && n > 0 {
		res.Outcome = CaptchaFound
		return res, nil
	}
	if no, err := p.portal.NoRecordsShown(ctx); err == nil && no {
		res.Outcome = CaptchaNoRecords
		return res, nil
	}
	res.Outcome = CaptchaExhausted
	return res, nil
}

// awaitVerdict polls after a submit. A rotated CAPTCHA image during the poll
// means the portal rejected the solution and re-armed the gate, so the poll
// stops early.
func (p *CaptchaProtocol) awaitVerdict(ctx context.Context, submittedFP string) (CaptchaOutcome, bool) {
	deadline := time.Now().Add(p.cfg.ResultTimeout)
	for {
		if n, err := p.portal.ActionElementCount(ctx); err == nil && n > 0 {
			return CaptchaFound, true
		}
		if no, err := p.portal.NoRecordsShown(ctx); err == nil && no {
			return CaptchaNoRecords, true
		}
		if p.rotated(ctx, submittedFP) {
			return CaptchaExhausted, false
		}
		if time.Now().After(deadline) || ctx.Err() != nil {
			return CaptchaExhausted, false
		}
		p.wait(ctx, p.cfg.PollInterval)
	}
}

func (p *CaptchaProtocol) rotated(ctx context.Context, fp string) bool {
	image, err := p.portal.CaptchaImage(ctx)
	if err != nil {
		return false
	}
	return fingerprint(image) != fp
}

func (p *CaptchaProtocol) wait(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
