/**
 * Tesseract OCR - Page fallback for scanned PDFs
 *
 * Offline OCR using Tesseract through gosseract. One client is created per
 * call so pages can be recognized concurrently.
 */

package processor

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/otiai10/gosseract/v2"
)

// TesseractOCR handles OCR using Tesseract
type TesseractOCR struct {
	languages      []string
	tessdataPrefix string
}

// TesseractConfig holds Tesseract configuration
type TesseractConfig struct {
	Languages      []string // e.g. spa, eng
	TessdataPrefix string   // empty uses the system tessdata
}

// NewTesseractOCR creates a new Tesseract OCR instance
func NewTesseractOCR(cfg *TesseractConfig) *TesseractOCR {
	langs := cfg.Languages
	if len(langs) == 0 {
		langs = []string{"spa", "eng"}
	}
	return &TesseractOCR{
		languages:      langs,
		tessdataPrefix: cfg.TessdataPrefix,
	}
}

// Recognize implements OCREngine
func (t *TesseractOCR) Recognize(ctx context.Context, image []byte) (*OCRResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	startTime := time.Now()

	client := gosseract.NewClient()
	defer client.Close()

	if t.tessdataPrefix != "" {
		client.TessdataPrefix = t.tessdataPrefix
	}
	if err := client.SetLanguage(t.languages...); err != nil {
		return nil, fmt.Errorf("failed to set languages %v: %w", t.languages, err)
	}
	if err := client.SetImageFromBytes(image); err != nil {
		return nil, fmt.Errorf("failed to set image: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return nil, fmt.Errorf("tesseract OCR failed: %w", err)
	}

	return &OCRResult{
		Text:       text,
		Confidence: estimateConfidence(text),
		Engine:     "tesseract",
		Languages:  t.languages,
		Duration:   time.Since(startTime),
	}, nil
}

// estimateConfidence scores OCR output by length and letter ratio. It is
// capped at 0.85; Tesseract is never treated as certain.
func estimateConfidence(text string) float64 {
	confidence := 0.5

	if len(text) > 1000 {
		confidence += 0.1
	}
	if len(strings.Fields(text)) > 100 {
		confidence += 0.1
	}

	letters, total := 0, 0
	for _, r := range text {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		if unicode.IsLetter(r) {
			letters++
		}
	}
	if total > 0 {
		ratio := float64(letters) / float64(total)
		if ratio > 0.6 {
			confidence += 0.15
		} else if ratio < 0.3 {
			confidence -= 0.2
		}
	}

	if confidence > 0.85 {
		confidence = 0.85
	}
	if confidence < 0 {
		confidence = 0
	}
	return confidence
}
