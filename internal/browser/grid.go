package browser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"igrfetch/internal/scrape"
)

var (
	postbackRe = regexp.MustCompile(`__doPostBack\('([^']*)'\s*,\s*'([^']*)'\)`)
	pageArgRe  = regexp.MustCompile(`^Page\$(\d+)$`)
	totalRe    = regexp.MustCompile(`(?i)(\d+)\s+records?\s+found`)
)

// gridView is the parsed state of the results grid markup.
type gridView struct {
	actions []scrape.ActionElement
	links   []scrape.PageLink

	current   int
	currentOK bool
	total     int
	totalOK   bool
}

// parseGrid extracts action elements and pager state from the grid's outer
// HTML. The grid is a server-rendered table: document buttons carry an
// IndexII value with a postback in their onclick, and the pager row links
// page numbers through Page$N postback arguments. The current page is the
// one rendered as a bare span instead of a link.
func parseGrid(html string) (gridView, error) {
	var view gridView
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return view, err
	}

	doc.Find(`input[value="IndexII"]`).Each(func(i int, sel *goquery.Selection) {
		el := scrape.ActionElement{Index: i}
		if onclick, ok := sel.Attr("onclick"); ok {
			if m := postbackRe.FindStringSubmatch(onclick); m != nil {
				el.PostbackTarget, el.PostbackArg = m[1], m[2]
			}
		}
		view.actions = append(view.actions, el)
	})

	pager := doc.Find("tr.GridPager")
	pager.Find("td a").Each(func(i int, sel *goquery.Selection) {
		link := scrape.PageLink{Label: strings.TrimSpace(sel.Text())}
		if href, ok := sel.Attr("href"); ok {
			if m := postbackRe.FindStringSubmatch(href); m != nil {
				if pm := pageArgRe.FindStringSubmatch(m[2]); pm != nil {
					link.TargetPage, _ = strconv.Atoi(pm[1])
				}
			}
		}
		if link.Label != "" {
			view.links = append(view.links, link)
		}
	})
	pager.Find("td span").EachWithBreak(func(i int, sel *goquery.Selection) bool {
		n, err := strconv.Atoi(strings.TrimSpace(sel.Text()))
		if err != nil {
			return true
		}
		view.current, view.currentOK = n, true
		return false
	})

	if m := totalRe.FindStringSubmatch(doc.Text()); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			view.total, view.totalOK = n, true
		}
	}
	return view, nil
}
