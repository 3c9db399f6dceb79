/**
 * OCR Types - Shared data structures for OCR operations
 *
 * The PDF extractor rasterizes pages that have no usable native text and
 * hands the image to an OCREngine.
 */

package processor

import (
	"context"
	"time"
)

// OCREngine recognizes the text of one page image
type OCREngine interface {
	Recognize(ctx context.Context, image []byte) (*OCRResult, error)
}

// OCRResult represents the result of OCR on one page image
type OCRResult struct {
	Text       string
	Confidence float64
	Engine     string // "tesseract" or a test double
	Languages  []string
	Duration   time.Duration
}

// Document is an opened PDF. *fitz.Document satisfies it.
type Document interface {
	NumPage() int
	Text(pageNumber int) (string, error)
	ImagePNG(pageNumber int, dpi float64) ([]byte, error)
	Close() error
}

// DocumentOpener opens PDF bytes
type DocumentOpener func(data []byte) (Document, error)
