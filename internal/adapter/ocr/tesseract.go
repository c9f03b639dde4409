// Package ocr adapts the tesseract binary to the scraper's Recognizer port.
package ocr

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
)

var plausible = regexp.MustCompile(`^[A-Z0-9]{4,6}$`)
var nonAlnum = regexp.MustCompile(`[^A-Z0-9]`)

// Tesseract runs the tesseract binary against CAPTCHA images.
type Tesseract struct {
	binary string
}

// New creates a Tesseract recognizer using the given binary path.
func New(binary string) *Tesseract {
	if binary == "" {
		binary = "tesseract"
	}
	return &Tesseract{binary: binary}
}

// Recognize extracts text from a CAPTCHA image. A result that does not look
// like a CAPTCHA solution is returned as an empty string: noisy OCR output is
// a solve failure, not an error. Errors are reserved for the binary itself
// failing.
func (t *Tesseract) Recognize(ctx context.Context, image []byte) (string, error) {
	tempDir, err := os.MkdirTemp("", "igrfetch-captcha-*")
	if err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	imagePath := filepath.Join(tempDir, "captcha.png")
	if err := os.WriteFile(imagePath, image, 0644); err != nil {
		return "", fmt.Errorf("write captcha image: %w", err)
	}

	// psm 8: treat the image as a single word.
	cmd := exec.CommandContext(ctx, t.binary, imagePath, "stdout",
		"--psm", "8", "--oem", "3",
		"-c", "tessedit_char_whitelist=0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ")
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("%s failed: %w", t.binary, err)
	}

	return Normalize(string(output)), nil
}

// Normalize cleans raw OCR output into a candidate solution. The portal's
// CAPTCHAs never contain O, I or L, so the usual confusions are folded to
// digits. Returns "" when the result does not look like a solution.
func Normalize(raw string) string {
	text := strings.ToUpper(strings.TrimSpace(raw))
	text = strings.NewReplacer("O", "0", "I", "1", "L", "1").Replace(text)
	text = nonAlnum.ReplaceAllString(text, "")
	if !plausible.MatchString(text) {
		return ""
	}
	return text
}
