package scrape

import (
	"context"
	"errors"
)

// stubPortal supplies inert defaults for the full Portal surface so test
// fakes only override the methods their scenario exercises.
type stubPortal struct{}

func (stubPortal) Open(ctx context.Context) error                 { return nil }
func (stubPortal) DismissInterstitial(ctx context.Context) error  { return nil }
func (stubPortal) ChooseRegionalSearch(ctx context.Context) error { return nil }
func (stubPortal) SelectYear(ctx context.Context, year string) error {
	return nil
}
func (stubPortal) SelectDistrict(ctx context.Context, district string) error {
	return nil
}
func (stubPortal) TahsilOptionCount(ctx context.Context) (int, error) { return 5, nil }
func (stubPortal) SelectTahsil(ctx context.Context, tahsil string) error {
	return nil
}
func (stubPortal) VillageOptionCount(ctx context.Context) (int, error) { return 5, nil }
func (stubPortal) SelectVillage(ctx context.Context, village string) error {
	return nil
}
func (stubPortal) EnterPropertyNo(ctx context.Context, propertyNo string) error {
	return nil
}

func (stubPortal) ActionElementCount(ctx context.Context) (int, error) { return 0, nil }
func (stubPortal) NoRecordsShown(ctx context.Context) (bool, error)    { return false, nil }

func (stubPortal) CaptchaImage(ctx context.Context) ([]byte, error) { return nil, ErrNoCaptcha }
func (stubPortal) EnterCaptcha(ctx context.Context, solution string) error {
	return nil
}
func (stubPortal) SubmitSearch(ctx context.Context) error { return nil }

func (stubPortal) ActionElements(ctx context.Context) ([]ActionElement, error) { return nil, nil }
func (stubPortal) ClickAction(ctx context.Context, el ActionElement, s ClickStrategy) error {
	return nil
}
func (stubPortal) Snapshot(ctx context.Context) (ViewToken, error) { return ViewToken{}, nil }
func (stubPortal) EffectSince(ctx context.Context, tok ViewToken) (Effect, error) {
	return EffectNone, nil
}
func (stubPortal) FocusDocument(ctx context.Context) error      { return nil }
func (stubPortal) CloseDocument(ctx context.Context) error      { return nil }
func (stubPortal) PrintPDF(ctx context.Context) ([]byte, error) { return nil, errors.New("no renderer") }
func (stubPortal) Screenshot(ctx context.Context) ([]byte, error) {
	return []byte("screenshot"), nil
}
func (stubPortal) NavigateBack(ctx context.Context) error { return nil }
func (stubPortal) Refresh(ctx context.Context) error      { return nil }

func (stubPortal) CurrentPageNumber(ctx context.Context) (int, bool)     { return 0, false }
func (stubPortal) TotalRecordsIndicator(ctx context.Context) (int, bool) { return 0, false }
func (stubPortal) PageLinks(ctx context.Context) ([]PageLink, error)     { return nil, nil }
func (stubPortal) ClickPageLink(ctx context.Context, link PageLink) error {
	return nil
}
func (stubPortal) InvokePagePostback(ctx context.Context, page int) error {
	return errors.New("no pager")
}
