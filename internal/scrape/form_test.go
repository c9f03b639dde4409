package scrape

import (
	"context"
	"errors"
	"testing"
	"time"

	"igrfetch/internal/domain"
)

type formPortal struct {
	stubPortal

	calls       []string
	failLeft    map[string]int
	tahsilPolls int
}

func (p *formPortal) step(name string) error {
	p.calls = append(p.calls, name)
	if p.failLeft[name] > 0 {
		p.failLeft[name]--
		return errors.New(name + " failed")
	}
	return nil
}

func (p *formPortal) Open(ctx context.Context) error { return p.step("open") }
func (p *formPortal) ChooseRegionalSearch(ctx context.Context) error {
	return p.step("regional")
}
func (p *formPortal) SelectYear(ctx context.Context, year string) error {
	return p.step("year")
}
func (p *formPortal) SelectDistrict(ctx context.Context, district string) error {
	return p.step("district")
}
func (p *formPortal) SelectTahsil(ctx context.Context, tahsil string) error {
	return p.step("tahsil")
}
func (p *formPortal) SelectVillage(ctx context.Context, village string) error {
	return p.step("village")
}
func (p *formPortal) EnterPropertyNo(ctx context.Context, propertyNo string) error {
	return p.step("property")
}

func (p *formPortal) TahsilOptionCount(ctx context.Context) (int, error) {
	p.tahsilPolls++
	if p.tahsilPolls < 3 {
		return 1, nil
	}
	return 7, nil
}

func testCriteria() domain.SearchCriteria {
	return domain.SearchCriteria{
		Year:       "2023",
		District:   "Pune",
		Tahsil:     "Haveli",
		Village:    "Wagholi",
		PropertyNo: "123",
	}
}

func newTestSequencer(p Portal) *FormSequencer {
	seq := NewFormSequencer(p, 3, time.Millisecond)
	seq.waitTimeout = 100 * time.Millisecond
	seq.pollInterval = time.Millisecond
	return seq
}

func TestFormFillOrder(t *testing.T) {
	portal := &formPortal{failLeft: map[string]int{}}
	seq := newTestSequencer(portal)

	if err := seq.Fill(context.Background(), testCriteria()); err != nil {
		t.Fatalf("Fill() = %v", err)
	}

	want := []string{"open", "regional", "year", "district", "tahsil", "village", "property"}
	if len(portal.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", portal.calls, want)
	}
	for i, w := range want {
		if portal.calls[i] != w {
			t.Errorf("call %d = %q, want %q", i, portal.calls[i], w)
		}
	}
	if portal.tahsilPolls < 3 {
		t.Errorf("tahsil dropdown selected before it populated (%d polls)", portal.tahsilPolls)
	}
}

func TestFormFillRetriesTransientStage(t *testing.T) {
	portal := &formPortal{failLeft: map[string]int{"district": 2}}
	seq := newTestSequencer(portal)

	if err := seq.Fill(context.Background(), testCriteria()); err != nil {
		t.Fatalf("Fill() = %v, want success after retries", err)
	}

	districts := 0
	for _, c := range portal.calls {
		if c == "district" {
			districts++
		}
	}
	if districts != 3 {
		t.Errorf("district attempted %d times, want 3", districts)
	}
}

func TestFormFillAbortsAfterExhaustedRetries(t *testing.T) {
	portal := &formPortal{failLeft: map[string]int{"year": 99}}
	seq := newTestSequencer(portal)

	err := seq.Fill(context.Background(), testCriteria())
	if err == nil {
		t.Fatal("Fill() = nil, want error")
	}
	var ffe *FormFillError
	if !errors.As(err, &ffe) {
		t.Fatalf("Fill() error type = %T, want *FormFillError", err)
	}
	if ffe.Stage != "select year" {
		t.Errorf("Stage = %q, want %q", ffe.Stage, "select year")
	}
	for _, c := range portal.calls {
		if c == "district" || c == "tahsil" || c == "village" || c == "property" {
			t.Fatalf("stage %q ran after the sequence should have aborted", c)
		}
	}
}

func TestFormFillToleratesInterstitialFailure(t *testing.T) {
	portal := &interstitialPortal{}
	seq := newTestSequencer(portal)

	if err := seq.Fill(context.Background(), testCriteria()); err != nil {
		t.Fatalf("Fill() = %v, want success despite interstitial error", err)
	}
	if !portal.regionalChosen {
		t.Error("regional search was never chosen")
	}
}

type interstitialPortal struct {
	stubPortal
	regionalChosen bool
}

func (p *interstitialPortal) DismissInterstitial(ctx context.Context) error {
	return errors.New("no popup present")
}

func (p *interstitialPortal) ChooseRegionalSearch(ctx context.Context) error {
	p.regionalChosen = true
	return nil
}
