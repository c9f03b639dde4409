// Package scrape contains the job orchestration core: the form navigation
// sequencer, the CAPTCHA resolution protocol, the pagination and document
// traversal engine, and the runner that ties them to a job record.
//
// The engines drive the remote portal exclusively through the Portal
// interface so they can be exercised against scripted fakes. The production
// implementation lives in internal/browser.
package scrape

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
)

// ErrNoCaptcha is returned by CaptchaImage when no CAPTCHA is displayed.
var ErrNoCaptcha = errors.New("captcha image not present")

// ClickStrategy is one way of activating an action element, in decreasing
// order of reliability. The postback primitive bypasses UI timing races
// entirely when the element carries the metadata for it.
type ClickStrategy int

const (
	StrategyPostback ClickStrategy = iota
	StrategyClick
	StrategyScriptClick
	StrategyPointer
)

func (s ClickStrategy) String() string {
	switch s {
	case StrategyPostback:
		return "postback"
	case StrategyClick:
		return "click"
	case StrategyScriptClick:
		return "script-click"
	case StrategyPointer:
		return "pointer"
	}
	return "unknown"
}

// Effect is the observable result of a click.
type Effect int

const (
	EffectNone Effect = iota
	EffectNewTab
	EffectNavigated
)

// ActionElement is one document-retrieval control on the results page,
// identified only by its position on the currently rendered page. The
// postback fields are empty when the element metadata does not expose them.
type ActionElement struct {
	Index          int
	PostbackTarget string
	PostbackArg    string
}

// PageLink is one pagination control. Label is the visible text ("3" or the
// overflow marker "..."); TargetPage is the page number its postback carries.
type PageLink struct {
	Label      string
	TargetPage int
}

// ViewToken snapshots the browsing state (location, open tab count) so a
// click's effect can be detected afterwards.
type ViewToken struct {
	Location string
	Targets  int
}

// Portal is the scraper's view of one browser tab pointed at the search
// portal. All operations are bounded waits; none block indefinitely.
type Portal interface {
	// Form navigation.
	Open(ctx context.Context) error
	DismissInterstitial(ctx context.Context) error
	ChooseRegionalSearch(ctx context.Context) error
	SelectYear(ctx context.Context, year string) error
	SelectDistrict(ctx context.Context, district string) error
	TahsilOptionCount(ctx context.Context) (int, error)
	SelectTahsil(ctx context.Context, tahsil string) error
	VillageOptionCount(ctx context.Context) (int, error)
	SelectVillage(ctx context.Context, village string) error
	EnterPropertyNo(ctx context.Context, propertyNo string) error

	// Results-page probes.
	ActionElementCount(ctx context.Context) (int, error)
	NoRecordsShown(ctx context.Context) (bool, error)

	// CAPTCHA.
	CaptchaImage(ctx context.Context) ([]byte, error)
	EnterCaptcha(ctx context.Context, solution string) error
	SubmitSearch(ctx context.Context) error

	// Document traversal.
	ActionElements(ctx context.Context) ([]ActionElement, error)
	ClickAction(ctx context.Context, el ActionElement, s ClickStrategy) error
	Snapshot(ctx context.Context) (ViewToken, error)
	EffectSince(ctx context.Context, tok ViewToken) (Effect, error)
	FocusDocument(ctx context.Context) error
	CloseDocument(ctx context.Context) error
	PrintPDF(ctx context.Context) ([]byte, error)
	Screenshot(ctx context.Context) ([]byte, error)
	NavigateBack(ctx context.Context) error
	Refresh(ctx context.Context) error

	// Pagination.
	CurrentPageNumber(ctx context.Context) (int, bool)
	TotalRecordsIndicator(ctx context.Context) (int, bool)
	PageLinks(ctx context.Context) ([]PageLink, error)
	ClickPageLink(ctx context.Context, link PageLink) error
	InvokePagePostback(ctx context.Context, page int) error
}

// Recognizer is the black-box OCR collaborator.
type Recognizer interface {
	Recognize(ctx context.Context, image []byte) (string, error)
}

// fingerprint identifies a CAPTCHA image's content so server-side rotation
// can be detected between solve and submit.
func fingerprint(image []byte) string {
	sum := md5.Sum(image)
	return hex.EncodeToString(sum[:])
}
