package scrape

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"
)

// docSpec scripts one document control: which strategy manages to open it
// and what the opening looks like. A zero opensWith of -1 never opens.
type docSpec struct {
	opensWith ClickStrategy
	effect    Effect
}

// gridPortal models a paged results grid with per-document click behavior
// and a pager whose links can be scripted to misbehave.
type gridPortal struct {
	stubPortal

	pages   map[int][]docSpec
	maxPage int
	current int

	tabs    int
	navOpen bool

	indicator     int
	pagerReadable bool

	clickLinkLandsOn func(target int) int
	postbackLandsOn  func(target int) (int, error)

	clicks []string
}

func newGridPortal(pages map[int][]docSpec) *gridPortal {
	maxPage := 0
	for p := range pages {
		if p > maxPage {
			maxPage = p
		}
	}
	g := &gridPortal{pages: pages, maxPage: maxPage, current: 1, pagerReadable: true}
	g.clickLinkLandsOn = func(target int) int { return target }
	g.postbackLandsOn = func(target int) (int, error) {
		if target > g.maxPage {
			return 0, errors.New("no such page")
		}
		return target, nil
	}
	return g
}

func newTabDocs(n int) []docSpec {
	docs := make([]docSpec, n)
	for i := range docs {
		docs[i] = docSpec{opensWith: StrategyPostback, effect: EffectNewTab}
	}
	return docs
}

func (g *gridPortal) ActionElements(ctx context.Context) ([]ActionElement, error) {
	if g.navOpen {
		return nil, nil
	}
	docs := g.pages[g.current]
	els := make([]ActionElement, len(docs))
	for i := range docs {
		els[i] = ActionElement{Index: i, PostbackTarget: "ResultsGrid", PostbackArg: strconv.Itoa(i)}
	}
	return els, nil
}

func (g *gridPortal) ActionElementCount(ctx context.Context) (int, error) {
	els, _ := g.ActionElements(ctx)
	return len(els), nil
}

func (g *gridPortal) Snapshot(ctx context.Context) (ViewToken, error) {
	return ViewToken{
		Location: fmt.Sprintf("page%d-doc%v", g.current, g.navOpen),
		Targets:  1 + g.tabs,
	}, nil
}

func (g *gridPortal) EffectSince(ctx context.Context, tok ViewToken) (Effect, error) {
	cur, _ := g.Snapshot(ctx)
	if cur.Targets > tok.Targets {
		return EffectNewTab, nil
	}
	if cur.Location != tok.Location {
		return EffectNavigated, nil
	}
	return EffectNone, nil
}

func (g *gridPortal) ClickAction(ctx context.Context, el ActionElement, s ClickStrategy) error {
	g.clicks = append(g.clicks, s.String())
	docs := g.pages[g.current]
	if el.Index >= len(docs) {
		return errors.New("stale element")
	}
	doc := docs[el.Index]
	if s != doc.opensWith {
		return nil
	}
	switch doc.effect {
	case EffectNewTab:
		g.tabs++
	case EffectNavigated:
		g.navOpen = true
	}
	return nil
}

func (g *gridPortal) CloseDocument(ctx context.Context) error {
	if g.tabs > 0 {
		g.tabs--
	}
	return nil
}

func (g *gridPortal) NavigateBack(ctx context.Context) error {
	g.navOpen = false
	return nil
}

func (g *gridPortal) Refresh(ctx context.Context) error {
	g.navOpen = false
	return nil
}

func (g *gridPortal) CurrentPageNumber(ctx context.Context) (int, bool) {
	if !g.pagerReadable {
		return 0, false
	}
	return g.current, true
}

func (g *gridPortal) TotalRecordsIndicator(ctx context.Context) (int, bool) {
	return g.indicator, g.indicator > 0
}

func (g *gridPortal) PageLinks(ctx context.Context) ([]PageLink, error) {
	var links []PageLink
	for p := 1; p <= g.maxPage; p++ {
		if p == g.current {
			continue
		}
		links = append(links, PageLink{Label: strconv.Itoa(p), TargetPage: p})
	}
	return links, nil
}

func (g *gridPortal) ClickPageLink(ctx context.Context, link PageLink) error {
	g.current = g.clickLinkLandsOn(link.TargetPage)
	return nil
}

func (g *gridPortal) InvokePagePostback(ctx context.Context, page int) error {
	landed, err := g.postbackLandsOn(page)
	if err != nil {
		return err
	}
	g.current = landed
	return nil
}

func testTraversalConfig() TraversalConfig {
	return TraversalConfig{
		MaxIterations:   100,
		MaxStuckEscapes: 2,
		SettleDelay:     0,
		RestoreTimeout:  50 * time.Millisecond,
		PollInterval:    time.Millisecond,
	}
}

func runTraversal(t *testing.T, g *gridPortal) (TraversalSummary, string, []TraversalSummary) {
	t.Helper()
	dir := t.TempDir()
	var reports []TraversalSummary
	trav := NewTraversal(g, NewDocumentSaver(dir), testTraversalConfig(), func(s TraversalSummary, page int) {
		reports = append(reports, s)
	})
	sum, err := trav.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() = %v", err)
	}
	return sum, dir, reports
}

func mustExist(t *testing.T, dir, name string) {
	t.Helper()
	if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
		t.Errorf("expected %s to exist: %v", name, err)
	}
}

func TestTraversalMultiPage(t *testing.T) {
	g := newGridPortal(map[int][]docSpec{
		1: newTabDocs(3),
		2: newTabDocs(3),
	})

	sum, dir, reports := runTraversal(t, g)

	if sum.PagesProcessed != 2 || sum.DocumentsProcessed != 6 || sum.DocumentsDownloaded != 6 {
		t.Errorf("summary = %+v, want 2 pages, 6 processed, 6 downloaded", sum)
	}
	if sum.TotalEstimate != 6 {
		t.Errorf("TotalEstimate = %d, want 6", sum.TotalEstimate)
	}
	for page := 1; page <= 2; page++ {
		for seq := 1; seq <= 3; seq++ {
			mustExist(t, dir, fmt.Sprintf("Document-P%d-%d.png", page, seq))
		}
	}

	prev := TraversalSummary{}
	for i, r := range reports {
		if r.DocumentsProcessed < prev.DocumentsProcessed || r.DocumentsDownloaded < prev.DocumentsDownloaded || r.TotalEstimate < prev.TotalEstimate {
			t.Fatalf("report %d went backwards: %+v after %+v", i, r, prev)
		}
		prev = r
	}
	if g.tabs != 0 {
		t.Errorf("%d document tabs left open", g.tabs)
	}
}

func TestTraversalTotalIndicatorWins(t *testing.T) {
	g := newGridPortal(map[int][]docSpec{
		1: newTabDocs(3),
		2: newTabDocs(3),
	})
	g.indicator = 17

	sum, _, _ := runTraversal(t, g)

	if sum.TotalEstimate != 17 {
		t.Errorf("TotalEstimate = %d, want 17 from the records indicator", sum.TotalEstimate)
	}
	if sum.DocumentsProcessed != 6 {
		t.Errorf("DocumentsProcessed = %d, want 6", sum.DocumentsProcessed)
	}
}

func TestTraversalStrategyFallback(t *testing.T) {
	g := newGridPortal(map[int][]docSpec{
		1: {{opensWith: StrategyPointer, effect: EffectNavigated}},
	})

	sum, dir, _ := runTraversal(t, g)

	if sum.DocumentsDownloaded != 1 {
		t.Fatalf("DocumentsDownloaded = %d, want 1", sum.DocumentsDownloaded)
	}
	mustExist(t, dir, "Document-P1-1.png")

	want := []string{"postback", "click", "script-click", "pointer"}
	if len(g.clicks) != len(want) {
		t.Fatalf("clicks = %v, want %v", g.clicks, want)
	}
	for i, w := range want {
		if g.clicks[i] != w {
			t.Errorf("click %d = %q, want %q", i, g.clicks[i], w)
		}
	}
	if g.navOpen {
		t.Error("document view left open after traversal")
	}
}

func TestTraversalSkipsUnopenableDocument(t *testing.T) {
	g := newGridPortal(map[int][]docSpec{
		1: {
			{opensWith: StrategyPostback, effect: EffectNewTab},
			{opensWith: -1},
			{opensWith: StrategyPostback, effect: EffectNewTab},
		},
	})

	sum, dir, _ := runTraversal(t, g)

	if sum.DocumentsProcessed != 3 || sum.DocumentsDownloaded != 2 {
		t.Errorf("summary = %+v, want 3 processed, 2 downloaded", sum)
	}
	mustExist(t, dir, "Document-P1-1.png")
	mustExist(t, dir, "Document-P1-3.png")
	if _, err := os.Stat(filepath.Join(dir, "Document-P1-2.png")); err == nil {
		t.Error("Document-P1-2.png exists for a document that never opened")
	}
}

func TestTraversalForcedAdvanceEscapesStuckPager(t *testing.T) {
	g := newGridPortal(map[int][]docSpec{
		1: newTabDocs(2),
		2: newTabDocs(2),
		3: newTabDocs(2),
	})
	// Pager links always dump the session back to page one; only the
	// direct postback moves forward.
	g.clickLinkLandsOn = func(target int) int { return 1 }

	sum, _, _ := runTraversal(t, g)

	if sum.PagesProcessed != 3 || sum.DocumentsProcessed != 6 {
		t.Errorf("summary = %+v, want all 3 pages processed", sum)
	}
}

func TestTraversalGivesUpWhenPagerLoops(t *testing.T) {
	g := newGridPortal(map[int][]docSpec{
		1: newTabDocs(2),
		2: newTabDocs(2),
		3: newTabDocs(2),
	})
	g.clickLinkLandsOn = func(target int) int { return 1 }
	g.postbackLandsOn = func(target int) (int, error) { return 1, nil }

	sum, _, _ := runTraversal(t, g)

	if sum.PagesProcessed != 1 {
		t.Errorf("PagesProcessed = %d, want 1 (everything beyond page 1 is unreachable)", sum.PagesProcessed)
	}
	if sum.DocumentsProcessed != 2 {
		t.Errorf("DocumentsProcessed = %d, want 2", sum.DocumentsProcessed)
	}
}

func TestTraversalUnreadablePager(t *testing.T) {
	g := newGridPortal(map[int][]docSpec{
		1: newTabDocs(2),
		2: newTabDocs(2),
	})
	g.pagerReadable = false

	sum, _, _ := runTraversal(t, g)

	if sum.PagesProcessed != 2 || sum.DocumentsProcessed != 4 {
		t.Errorf("summary = %+v, want 2 pages and 4 documents via synthetic page identity", sum)
	}
}

func TestEstimateTotal(t *testing.T) {
	tests := []struct {
		name      string
		docs      int
		pages     int
		indicator int
		want      int
	}{
		{name: "indicator wins", docs: 3, pages: 2, indicator: 41, want: 41},
		{name: "pager multiplication", docs: 10, pages: 4, want: 40},
		{name: "single page", docs: 7, pages: 1, want: 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pages := map[int][]docSpec{}
			for p := 1; p <= tt.pages; p++ {
				pages[p] = newTabDocs(tt.docs)
			}
			g := newGridPortal(pages)
			g.indicator = tt.indicator
			trav := NewTraversal(g, nil, testTraversalConfig(), nil)
			if got := trav.estimateTotal(context.Background()); got != tt.want {
				t.Errorf("estimateTotal() = %d, want %d", got, tt.want)
			}
		})
	}
}
