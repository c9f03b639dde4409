package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"igrfetch/internal/scrape"
)

// Selectors on the search portal. The page is a classic ASP.NET WebForms
// app, so most interactions funnel through __doPostBack.
const (
	selInterstitialClose = ".btnclose"
	selRegionalSearch    = "#btnOtherdistrictSearch"
	selYear              = "#ddlFromYear1"
	selDistrict          = "#ddlDistrict1"
	selTahsil            = "#ddltahsil"
	selVillage           = "#ddlvillage"
	selPropertyNo        = "#txtAttributeValue1"
	selCaptchaImage      = "#imgCaptcha_new"
	selCaptchaInput      = "#txtImg1"
	selSubmit            = "#btnSearch_RestMaha"
	selGrid              = "#RegistrationGrid"

	actionElementXPath = `//input[@value="IndexII"]`
	noRecordsMarker    = "No Records Found"
	gridPostbackTarget = "RegistrationGrid"
)

// Portal drives the search portal through one ChromeSession. It implements
// scrape.Portal. Not safe for concurrent use; each job owns its portal.
type Portal struct {
	sess *ChromeSession
	url  string

	docCtx    context.Context
	docCancel context.CancelFunc
	docTarget target.ID
}

var _ scrape.Portal = (*Portal)(nil)

func NewPortal(sess *ChromeSession, url string) *Portal {
	return &Portal{sess: sess, url: url}
}

// active returns the tab currently holding the interesting content: the
// document tab while one is focused, the main tab otherwise.
func (p *Portal) active() context.Context {
	if p.docCtx != nil {
		return p.docCtx
	}
	return p.sess.tabCtx
}

// run executes actions against the active tab, bounded by both the timeout
// and the caller's context.
func (p *Portal) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	runCtx, cancel := context.WithTimeout(p.active(), timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

func (p *Portal) Open(ctx context.Context) error {
	return p.run(ctx, 60*time.Second,
		chromedp.Navigate(p.url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

func (p *Portal) DismissInterstitial(ctx context.Context) error {
	return p.run(ctx, 5*time.Second,
		chromedp.Click(selInterstitialClose, chromedp.ByQuery, chromedp.NodeVisible),
	)
}

func (p *Portal) ChooseRegionalSearch(ctx context.Context) error {
	return p.run(ctx, 20*time.Second,
		chromedp.Click(selRegionalSearch, chromedp.ByQuery, chromedp.NodeVisible),
		chromedp.WaitVisible(selDistrict, chromedp.ByQuery),
	)
}

func (p *Portal) SelectYear(ctx context.Context, year string) error {
	return p.selectByText(ctx, selYear, year)
}

func (p *Portal) SelectDistrict(ctx context.Context, district string) error {
	return p.selectByText(ctx, selDistrict, district)
}

func (p *Portal) SelectTahsil(ctx context.Context, tahsil string) error {
	return p.selectByText(ctx, selTahsil, tahsil)
}

func (p *Portal) SelectVillage(ctx context.Context, village string) error {
	return p.selectByText(ctx, selVillage, village)
}

func (p *Portal) TahsilOptionCount(ctx context.Context) (int, error) {
	return p.optionCount(ctx, selTahsil)
}

func (p *Portal) VillageOptionCount(ctx context.Context) (int, error) {
	return p.optionCount(ctx, selVillage)
}

func (p *Portal) EnterPropertyNo(ctx context.Context, propertyNo string) error {
	return p.run(ctx, 10*time.Second,
		chromedp.SetValue(selPropertyNo, propertyNo, chromedp.ByQuery),
	)
}

func (p *Portal) EnterCaptcha(ctx context.Context, solution string) error {
	return p.run(ctx, 10*time.Second,
		chromedp.SetValue(selCaptchaInput, solution, chromedp.ByQuery),
	)
}

func (p *Portal) SubmitSearch(ctx context.Context) error {
	return p.run(ctx, 15*time.Second,
		chromedp.Click(selSubmit, chromedp.ByQuery, chromedp.NodeVisible),
	)
}

// CaptchaImage screenshots the CAPTCHA element. Absence within the short
// wait maps to ErrNoCaptcha so the protocol can treat it as a state, not a
// failure.
func (p *Portal) CaptchaImage(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := p.run(ctx, 5*time.Second,
		chromedp.Screenshot(selCaptchaImage, &buf, chromedp.ByQuery),
	)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, scrape.ErrNoCaptcha
		}
		return nil, err
	}
	return buf, nil
}

func (p *Portal) NoRecordsShown(ctx context.Context) (bool, error) {
	var found bool
	err := p.run(ctx, 5*time.Second,
		chromedp.Evaluate(fmt.Sprintf(`document.body.innerText.includes(%q)`, noRecordsMarker), &found),
	)
	if err != nil {
		return false, err
	}
	return found, nil
}

func (p *Portal) ActionElements(ctx context.Context) ([]scrape.ActionElement, error) {
	view, err := p.grid(ctx)
	if err != nil {
		return nil, err
	}
	return view.actions, nil
}

func (p *Portal) ActionElementCount(ctx context.Context) (int, error) {
	els, err := p.ActionElements(ctx)
	if err != nil {
		return 0, err
	}
	return len(els), nil
}

func (p *Portal) ClickAction(ctx context.Context, el scrape.ActionElement, s scrape.ClickStrategy) error {
	switch s {
	case scrape.StrategyPostback:
		if el.PostbackTarget == "" {
			return errors.New("element carries no postback metadata")
		}
		return p.run(ctx, 10*time.Second,
			chromedp.Evaluate(fmt.Sprintf(`__doPostBack(%q, %q)`, el.PostbackTarget, el.PostbackArg), nil),
		)
	case scrape.StrategyClick:
		sel := fmt.Sprintf(`(%s)[%d]`, actionElementXPath, el.Index+1)
		return p.run(ctx, 10*time.Second, chromedp.Click(sel, chromedp.BySearch))
	case scrape.StrategyScriptClick:
		js := fmt.Sprintf(`(function(){
			const els = document.querySelectorAll('input[value="IndexII"]');
			if (els.length <= %d) return false;
			els[%d].click();
			return true;
		})()`, el.Index, el.Index)
		var ok bool
		if err := p.run(ctx, 10*time.Second, chromedp.Evaluate(js, &ok)); err != nil {
			return err
		}
		if !ok {
			return errors.New("element no longer present")
		}
		return nil
	case scrape.StrategyPointer:
		sel := fmt.Sprintf(`(%s)[%d]`, actionElementXPath, el.Index+1)
		var nodes []*cdp.Node
		if err := p.run(ctx, 10*time.Second, chromedp.Nodes(sel, &nodes, chromedp.BySearch)); err != nil {
			return err
		}
		if len(nodes) == 0 {
			return errors.New("element no longer present")
		}
		return p.run(ctx, 10*time.Second, chromedp.MouseClickNode(nodes[0]))
	}
	return fmt.Errorf("unknown click strategy %d", s)
}

func (p *Portal) Snapshot(ctx context.Context) (scrape.ViewToken, error) {
	var tok scrape.ViewToken
	if err := p.run(ctx, 5*time.Second, chromedp.Location(&tok.Location)); err != nil {
		return tok, err
	}
	n, err := p.pageTargetCount()
	if err != nil {
		return tok, err
	}
	tok.Targets = n
	return tok, nil
}

func (p *Portal) EffectSince(ctx context.Context, tok scrape.ViewToken) (scrape.Effect, error) {
	cur, err := p.Snapshot(ctx)
	if err != nil {
		return scrape.EffectNone, err
	}
	if cur.Targets > tok.Targets {
		return scrape.EffectNewTab, nil
	}
	if cur.Location != tok.Location {
		return scrape.EffectNavigated, nil
	}
	return scrape.EffectNone, nil
}

// FocusDocument attaches to the newest document tab so PrintPDF and
// Screenshot capture it instead of the results page.
func (p *Portal) FocusDocument(ctx context.Context) error {
	infos, err := chromedp.Targets(p.sess.tabCtx)
	if err != nil {
		return fmt.Errorf("listing targets: %w", err)
	}
	var doc *target.Info
	for _, info := range infos {
		if info.Type != "page" || info.TargetID == p.sess.mainTarget {
			continue
		}
		doc = info
	}
	if doc == nil {
		return errors.New("no document tab found")
	}

	docCtx, docCancel := chromedp.NewContext(p.sess.tabCtx, chromedp.WithTargetID(doc.TargetID))
	p.docCtx, p.docCancel, p.docTarget = docCtx, docCancel, doc.TargetID

	waitCtx, cancel := context.WithTimeout(docCtx, 20*time.Second)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(waitCtx, chromedp.WaitReady("body", chromedp.ByQuery))
}

// PrintPDF renders the active tab to an A4 PDF.
func (p *Portal) PrintPDF(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := p.run(ctx, 30*time.Second, chromedp.ActionFunc(func(runCtx context.Context) error {
		data, _, err := page.PrintToPDF().
			WithPrintBackground(true).
			WithPaperWidth(8.27).
			WithPaperHeight(11.69).
			WithMarginTop(0.4).
			WithMarginBottom(0.4).
			WithMarginLeft(0.4).
			WithMarginRight(0.4).
			WithScale(1.0).
			Do(runCtx)
		if err != nil {
			return err
		}
		buf = data
		return nil
	}))
	if err != nil {
		return nil, err
	}
	return buf, nil
}

func (p *Portal) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := p.run(ctx, 15*time.Second, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, err
	}
	return buf, nil
}

// CloseDocument detaches from and closes the focused document tab.
func (p *Portal) CloseDocument(ctx context.Context) error {
	if p.docCtx == nil {
		return nil
	}
	err := chromedp.Cancel(p.docCtx)
	p.docCancel()
	p.docCtx, p.docCancel, p.docTarget = nil, nil, ""
	return err
}

func (p *Portal) NavigateBack(ctx context.Context) error {
	return p.run(ctx, 20*time.Second, chromedp.NavigateBack())
}

func (p *Portal) Refresh(ctx context.Context) error {
	return p.run(ctx, 30*time.Second, chromedp.Reload())
}

func (p *Portal) CurrentPageNumber(ctx context.Context) (int, bool) {
	view, err := p.grid(ctx)
	if err != nil || !view.currentOK {
		return 0, false
	}
	return view.current, true
}

func (p *Portal) TotalRecordsIndicator(ctx context.Context) (int, bool) {
	view, err := p.grid(ctx)
	if err != nil || !view.totalOK {
		return 0, false
	}
	return view.total, true
}

func (p *Portal) PageLinks(ctx context.Context) ([]scrape.PageLink, error) {
	view, err := p.grid(ctx)
	if err != nil {
		return nil, err
	}
	return view.links, nil
}

func (p *Portal) ClickPageLink(ctx context.Context, link scrape.PageLink) error {
	sel := fmt.Sprintf(`//tr[contains(@class,"GridPager")]//a[normalize-space(text())=%q]`, link.Label)
	return p.run(ctx, 15*time.Second, chromedp.Click(sel, chromedp.BySearch))
}

func (p *Portal) InvokePagePostback(ctx context.Context, pageNo int) error {
	return p.run(ctx, 15*time.Second,
		chromedp.Evaluate(fmt.Sprintf(`__doPostBack(%q, %q)`, gridPostbackTarget, fmt.Sprintf("Page$%d", pageNo)), nil),
	)
}

// grid fetches and parses the results grid. A missing grid is reported as
// an empty view, not an error.
func (p *Portal) grid(ctx context.Context) (gridView, error) {
	var html string
	err := p.run(ctx, 3*time.Second, chromedp.OuterHTML(selGrid, &html, chromedp.ByQuery))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return gridView{}, nil
		}
		return gridView{}, err
	}
	return parseGrid(html)
}

func (p *Portal) pageTargetCount() (int, error) {
	infos, err := chromedp.Targets(p.sess.tabCtx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, info := range infos {
		if info.Type == "page" {
			n++
		}
	}
	return n, nil
}

// selectByText picks a dropdown option by its visible label and fires the
// change event the WebForms cascade listens for.
func (p *Portal) selectByText(ctx context.Context, sel, text string) error {
	js := fmt.Sprintf(`(function(){
		const el = document.querySelector(%q);
		if (!el) return false;
		for (const opt of el.options) {
			if (opt.text.trim() === %q) {
				el.value = opt.value;
				el.dispatchEvent(new Event('change', {bubbles: true}));
				return true;
			}
		}
		return false;
	})()`, sel, text)
	var ok bool
	if err := p.run(ctx, 10*time.Second, chromedp.Evaluate(js, &ok)); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("option %q not found in %s", text, sel)
	}
	return nil
}

func (p *Portal) optionCount(ctx context.Context, sel string) (int, error) {
	var n int
	err := p.run(ctx, 5*time.Second,
		chromedp.Evaluate(fmt.Sprintf(`document.querySelectorAll(%q).length`, sel+" option"), &n),
	)
	if err != nil {
		return 0, err
	}
	return n, nil
}
