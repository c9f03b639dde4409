package scrape

import (
	"context"
	"log"
	"strconv"
	"time"
)

// TraversalConfig bounds the pagination engine.
type TraversalConfig struct {
	// MaxIterations caps outer loop cycles regardless of progress.
	MaxIterations int
	// MaxStuckEscapes caps consecutive forced advances out of a revisited
	// page before the run gives up.
	MaxStuckEscapes int
	// SettleDelay is the pause after a click before probing its effect.
	SettleDelay time.Duration
	// RestoreTimeout bounds waiting for the results grid to reappear.
	RestoreTimeout time.Duration
	// PollInterval paces results-grid probes.
	PollInterval time.Duration
}

func DefaultTraversalConfig() TraversalConfig {
	return TraversalConfig{
		MaxIterations:   100,
		MaxStuckEscapes: 2,
		SettleDelay:     2 * time.Second,
		RestoreTimeout:  15 * time.Second,
		PollInterval:    500 * time.Millisecond,
	}
}

// TraversalSummary is the running tally of a traversal. TotalEstimate only
// ever grows; it is revised upward when actual processing exceeds it.
type TraversalSummary struct {
	PagesProcessed      int
	DocumentsProcessed  int
	DocumentsDownloaded int
	TotalEstimate       int
}

// ProgressFunc receives the tally after every document and page transition.
type ProgressFunc func(s TraversalSummary, currentPage int)

// Traversal walks every results page, opening and persisting each document.
// Per-document failures are absorbed; the engine's job is to come back with
// as many documents as the portal will give up.
type Traversal struct {
	portal   Portal
	saver    *DocumentSaver
	cfg      TraversalConfig
	progress ProgressFunc
}

func NewTraversal(portal Portal, saver *DocumentSaver, cfg TraversalConfig, progress ProgressFunc) *Traversal {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 100
	}
	return &Traversal{portal: portal, saver: saver, cfg: cfg, progress: progress}
}

// pageCursor tracks the logical position in the pager. When the pager does
// not expose a readable number the identifier is synthesized from the
// logical counter so the visited set still converges.
type pageCursor struct {
	number  int
	known   bool
	visited map[string]bool
}

func (c pageCursor) id() string {
	if c.known {
		return strconv.Itoa(c.number)
	}
	return "page-" + strconv.Itoa(c.number)
}

// Run traverses from the current results view until no further page can be
// reached, the estimate is met, or a safety bound trips. It is an error only
// when the context is cancelled; portal-level trouble degrades to a shorter
// tally instead.
func (t *Traversal) Run(ctx context.Context) (TraversalSummary, error) {
	var sum TraversalSummary
	cur := pageCursor{number: 1, visited: map[string]bool{}}
	if n, ok := t.portal.CurrentPageNumber(ctx); ok {
		cur.number, cur.known = n, true
	}
	sum.TotalEstimate = t.estimateTotal(ctx)
	t.report(sum, cur.number)

	stuckEscapes := 0
	for iter := 0; iter < t.cfg.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		if !cur.visited[cur.id()] {
			t.processCurrentPage(ctx, cur.number, &sum)
			cur.visited[cur.id()] = true
			sum.PagesProcessed++
			t.report(sum, cur.number)
		}

		if sum.TotalEstimate > 0 && sum.DocumentsProcessed >= sum.TotalEstimate {
			break
		}

		next, ok := t.advance(ctx, cur)
		if !ok {
			break
		}
		if next.visited[next.id()] {
			stuckEscapes++
			if stuckEscapes > t.cfg.MaxStuckEscapes {
				log.Printf("traverse: pager keeps returning to visited pages, stopping at page %d", cur.number)
				break
			}
			forced := cur.number + 1
			log.Printf("traverse: landed on visited page %s, forcing page %d", next.id(), forced)
			if err := t.portal.InvokePagePostback(ctx, forced); err != nil || !t.awaitResults(ctx) {
				break
			}
			cur = t.landed(ctx, cur, forced)
			if !cur.visited[cur.id()] {
				stuckEscapes = 0
			}
			continue
		}
		stuckEscapes = 0
		cur = next
	}
	return sum, ctx.Err()
}

// estimateTotal derives the document count target. A total-records indicator
// wins; otherwise the visible per-page count is multiplied by the highest
// page the pager links to.
func (t *Traversal) estimateTotal(ctx context.Context) int {
	if n, ok := t.portal.TotalRecordsIndicator(ctx); ok && n > 0 {
		return n
	}
	els, err := t.portal.ActionElements(ctx)
	if err != nil {
		return 0
	}
	perPage := len(els)
	maxPage := 1
	if links, err := t.portal.PageLinks(ctx); err == nil {
		for _, l := range links {
			if l.TargetPage > maxPage {
				maxPage = l.TargetPage
			}
		}
	}
	if n, ok := t.portal.CurrentPageNumber(ctx); ok && n > maxPage {
		maxPage = n
	}
	return perPage * maxPage
}

func (t *Traversal) processCurrentPage(ctx context.Context, page int, sum *TraversalSummary) {
	els, err := t.portal.ActionElements(ctx)
	if err != nil {
		log.Printf("traverse: enumerating page %d: %v", page, err)
		return
	}
	total := len(els)
	for i := 0; i < total; i++ {
		if ctx.Err() != nil {
			return
		}
		// Element handles go stale across document round-trips; take a
		// fresh enumeration every time and address by position.
		fresh, err := t.portal.ActionElements(ctx)
		if err != nil {
			log.Printf("traverse: re-enumerating page %d: %v", page, err)
			return
		}
		if i >= len(fresh) {
			log.Printf("traverse: page %d shrank from %d to %d elements", page, total, len(fresh))
			return
		}
		saved := t.processDocument(ctx, page, fresh[i], i+1)
		sum.DocumentsProcessed++
		if saved {
			sum.DocumentsDownloaded++
		}
		if sum.DocumentsProcessed > sum.TotalEstimate {
			sum.TotalEstimate = sum.DocumentsProcessed
		}
		t.report(*sum, page)
	}
}

// processDocument opens one document view, persists it, and restores the
// results grid. Strategies are tried in order until one produces an
// observable effect.
func (t *Traversal) processDocument(ctx context.Context, page int, el ActionElement, seq int) bool {
	tok, err := t.portal.Snapshot(ctx)
	if err != nil {
		log.Printf("traverse: snapshot before document %d on page %d: %v", seq, page, err)
		return false
	}

	effect := EffectNone
	for _, strat := range clickStrategies(el) {
		if err := t.portal.ClickAction(ctx, el, strat); err != nil {
			continue
		}
		t.pause(ctx, t.cfg.SettleDelay)
		if eff, err := t.portal.EffectSince(ctx, tok); err == nil && eff != EffectNone {
			effect = eff
			break
		}
	}
	if effect == EffectNone {
		log.Printf("traverse: document %d on page %d: no strategy opened a view", seq, page)
		return false
	}

	if effect == EffectNewTab {
		if err := t.portal.FocusDocument(ctx); err != nil {
			log.Printf("traverse: focusing document tab: %v", err)
		}
	}

	saved := t.saver.Save(ctx, t.portal, page, seq)

	if effect == EffectNewTab {
		if err := t.portal.CloseDocument(ctx); err != nil {
			log.Printf("traverse: closing document tab: %v", err)
		}
	} else {
		if err := t.portal.NavigateBack(ctx); err != nil {
			log.Printf("traverse: navigating back: %v", err)
		}
	}

	if !t.awaitResults(ctx) {
		if err := t.portal.Refresh(ctx); err == nil {
			t.awaitResults(ctx)
		}
	}
	return saved
}

func clickStrategies(el ActionElement) []ClickStrategy {
	if el.PostbackTarget != "" {
		return []ClickStrategy{StrategyPostback, StrategyClick, StrategyScriptClick, StrategyPointer}
	}
	return []ClickStrategy{StrategyClick, StrategyScriptClick, StrategyPointer}
}

// advance moves to the next unprocessed page. Preference order: the pager
// link labelled with the next number, a forward overflow marker, the lowest
// numbered link beyond the current page, and finally a direct postback.
func (t *Traversal) advance(ctx context.Context, cur pageCursor) (pageCursor, bool) {
	target := cur.number + 1

	links, err := t.portal.PageLinks(ctx)
	if err == nil {
		for _, l := range links {
			if l.Label == strconv.Itoa(target) {
				if t.tryPageLink(ctx, l) {
					return t.landed(ctx, cur, l.TargetPage), true
				}
			}
		}
		for _, l := range links {
			if l.Label == "..." && l.TargetPage > cur.number {
				if t.tryPageLink(ctx, l) {
					return t.landed(ctx, cur, l.TargetPage), true
				}
			}
		}
		var best PageLink
		for _, l := range links {
			if l.Label == "..." || l.TargetPage <= cur.number {
				continue
			}
			if best.TargetPage == 0 || l.TargetPage < best.TargetPage {
				best = l
			}
		}
		if best.TargetPage != 0 && t.tryPageLink(ctx, best) {
			return t.landed(ctx, cur, best.TargetPage), true
		}
	}

	if err := t.portal.InvokePagePostback(ctx, target); err == nil && t.awaitResults(ctx) {
		return t.landed(ctx, cur, target), true
	}
	return cur, false
}

func (t *Traversal) tryPageLink(ctx context.Context, l PageLink) bool {
	if err := t.portal.ClickPageLink(ctx, l); err != nil {
		return false
	}
	return t.awaitResults(ctx)
}

// landed reads the pager after a transition; when unreadable the expected
// target is kept as a synthetic position.
func (t *Traversal) landed(ctx context.Context, cur pageCursor, fallback int) pageCursor {
	next := pageCursor{number: fallback, visited: cur.visited}
	if n, ok := t.portal.CurrentPageNumber(ctx); ok {
		next.number, next.known = n, true
	}
	return next
}

func (t *Traversal) awaitResults(ctx context.Context) bool {
	deadline := time.Now().Add(t.cfg.RestoreTimeout)
	for {
		if n, err := t.portal.ActionElementCount(ctx); err == nil && n > 0 {
			return true
		}
		if time.Now().After(deadline) || ctx.Err() != nil {
			return false
		}
		t.pause(ctx, t.cfg.PollInterval)
	}
}

func (t *Traversal) report(s TraversalSummary, page int) {
	if t.progress != nil {
		t.progress(s, page)
	}
}

func (t *Traversal) pause(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
