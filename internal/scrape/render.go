package scrape

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// DocumentSaver persists one opened document view to disk. The preferred
// format is a rendered PDF; a render that fails validation is discarded and
// a full-page screenshot is written instead.
type DocumentSaver struct {
	dir string
}

func NewDocumentSaver(dir string) *DocumentSaver {
	return &DocumentSaver{dir: dir}
}

// Save writes Document-P<page>-<seq>.pdf or, on fallback, .png. It returns
// true when a file was written.
func (s *DocumentSaver) Save(ctx context.Context, portal Portal, page, seq int) bool {
	base := fmt.Sprintf("Document-P%d-%d", page, seq)

	pdf, err := portal.PrintPDF(ctx)
	switch {
	case err != nil:
		log.Printf("save: PDF render failed for %s: %v", base, err)
	case validatePDF(pdf) != nil:
		log.Printf("save: discarding invalid PDF render for %s", base)
	default:
		werr := s.write(base+".pdf", pdf)
		if werr == nil {
			return true
		}
		log.Printf("save: writing %s.pdf: %v", base, werr)
	}

	shot, err := portal.Screenshot(ctx)
	if err != nil {
		log.Printf("save: screenshot fallback failed for %s: %v", base, err)
		return false
	}
	if err := s.write(base+".png", shot); err != nil {
		log.Printf("save: writing %s.png: %v", base, err)
		return false
	}
	return true
}

func (s *DocumentSaver) write(name string, data []byte) error {
	return os.WriteFile(filepath.Join(s.dir, name), data, 0o644)
}

func validatePDF(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("empty render")
	}
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	return api.Validate(bytes.NewReader(data), cfg)
}
