/**
 * PDF Extractor - Native text per page with OCR fallback
 *
 * Pages are read with MuPDF (go-fitz). A page whose native text is shorter
 * than MinNativeChars is rendered at OCRDPI and recognized by the OCR
 * engine. OCR runs on a bounded number of pages at a time.
 *
 * pdfcpu validates the structure in relaxed mode first. Its findings are
 * reported as warnings; MuPDF decides whether the file is readable.
 */

package processor

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gen2brain/go-fitz"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/adverant/nexus/pdf-intake-worker/internal/errors"
	"github.com/adverant/nexus/pdf-intake-worker/internal/logging"
	"github.com/adverant/nexus/pdf-intake-worker/internal/models"
)

// ExtractorConfig holds PDF extraction settings
type ExtractorConfig struct {
	MinNativeChars int
	OCRDPI         int
	OCRConcurrency int
	MaxPages       int // 0 means all pages
}

// PageExtraction is the per-page text of a document plus what went wrong
// along the way without making it unreadable
type PageExtraction struct {
	Pages     []models.PageText
	PageCount int
	Warnings  []string
}

// PDFExtractor turns PDF bytes into page texts
type PDFExtractor struct {
	cfg    ExtractorConfig
	open   DocumentOpener
	ocr    OCREngine
	logger *logging.Logger
}

// NewPDFExtractor creates an extractor backed by MuPDF. ocr may be nil, in
// which case pages keep whatever native text they have.
func NewPDFExtractor(cfg ExtractorConfig, ocr OCREngine) *PDFExtractor {
	return newPDFExtractor(cfg, openFitz, ocr)
}

func newPDFExtractor(cfg ExtractorConfig, open DocumentOpener, ocr OCREngine) *PDFExtractor {
	if cfg.OCRDPI <= 0 {
		cfg.OCRDPI = 300
	}
	if cfg.OCRConcurrency <= 0 {
		cfg.OCRConcurrency = 2
	}
	return &PDFExtractor{
		cfg:    cfg,
		open:   open,
		ocr:    ocr,
		logger: logging.NewLogger("PDFExtractor"),
	}
}

func openFitz(data []byte) (Document, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// ExtractText returns the text of all pages separated by blank lines. It
// returns nil for empty input.
func (e *PDFExtractor) ExtractText(ctx context.Context, data []byte) (*string, error) {
	pages, err := e.ExtractTextByPages(ctx, data)
	if err != nil || pages == nil {
		return nil, err
	}
	parts := make([]string, len(pages))
	for i, p := range pages {
		parts[i] = p.Text
	}
	joined := strings.Join(parts, "\n\n")
	return &joined, nil
}

// ExtractTextByPages returns one PageText per page in page order. It
// returns nil for empty input and a DOCUMENT_UNREADABLE error for bytes
// that cannot be opened as a PDF.
func (e *PDFExtractor) ExtractTextByPages(ctx context.Context, data []byte) ([]models.PageText, error) {
	res, err := e.Extract(ctx, data)
	if err != nil || res == nil {
		return nil, err
	}
	return res.Pages, nil
}

// Extract is ExtractTextByPages with page count and warnings
func (e *PDFExtractor) Extract(ctx context.Context, data []byte) (*PageExtraction, error) {
	if len(data) == 0 {
		return nil, nil
	}
	if !isPDF(data) {
		return nil, apperrors.NewDocumentUnreadableError("", "missing %PDF header", nil)
	}

	res := &PageExtraction{}
	if warn := validateStructure(data); warn != "" {
		res.Warnings = append(res.Warnings, warn)
	}

	doc, err := e.open(data)
	if err != nil {
		return nil, apperrors.NewDocumentUnreadableError("", "cannot open document", err)
	}
	defer doc.Close()

	res.PageCount = doc.NumPage()
	if res.PageCount <= 0 {
		return nil, apperrors.NewDocumentUnreadableError("", "document has no pages", nil)
	}

	n := res.PageCount
	if e.cfg.MaxPages > 0 && n > e.cfg.MaxPages {
		res.Warnings = append(res.Warnings, fmt.Sprintf("only the first %d of %d pages were processed", e.cfg.MaxPages, n))
		n = e.cfg.MaxPages
	}

	res.Pages = make([]models.PageText, n)
	var pending []int
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text, err := doc.Text(i)
		if err != nil {
			e.logger.Debug("Native text extraction failed", "page", i, "error", err)
			text = ""
		}
		res.Pages[i] = models.PageText{Index: i, Text: text, Method: models.MethodNative}
		if usableChars(text) < e.cfg.MinNativeChars || strings.TrimSpace(text) == "" {
			pending = append(pending, i)
		}
	}

	if len(pending) > 0 {
		warnings, err := e.ocrPages(ctx, doc, res.Pages, pending)
		if err != nil {
			return nil, err
		}
		res.Warnings = append(res.Warnings, warnings...)
	}

	return res, nil
}

// ocrPages renders and recognizes the pending pages. A page whose OCR fails
// keeps its native text and adds a warning.
func (e *PDFExtractor) ocrPages(ctx context.Context, doc Document, pages []models.PageText, pending []int) ([]string, error) {
	if e.ocr == nil {
		return []string{fmt.Sprintf("%d page(s) without native text and OCR disabled", len(pending))}, nil
	}

	var (
		mu       sync.Mutex
		warnings []string
	)
	warn := func(format string, args ...interface{}) {
		mu.Lock()
		warnings = append(warnings, fmt.Sprintf(format, args...))
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.OCRConcurrency)

	for _, idx := range pending {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			start := time.Now()

			img, err := doc.ImagePNG(idx, float64(e.cfg.OCRDPI))
			if err != nil {
				warn("page %d: render failed: %v", idx+1, err)
				return nil
			}

			result, err := e.ocr.Recognize(gctx, img)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				warn("page %d: OCR failed: %v", idx+1, err)
				return nil
			}

			// pages are disjoint so each goroutine owns its slot
			if usableChars(result.Text) > usableChars(pages[idx].Text) {
				pages[idx].Text = result.Text
				pages[idx].Method = models.MethodOCR
			}

			e.logger.Debug("OCR page complete",
				"page", idx+1,
				"chars", utf8.RuneCountInString(result.Text),
				"confidence", result.Confidence,
				"duration", time.Since(start).String())
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return warnings, nil
}

func usableChars(s string) int {
	return utf8.RuneCountInString(strings.TrimSpace(s))
}

// isPDF checks for the %PDF- signature near the start of the file
func isPDF(data []byte) bool {
	head := data
	if len(head) > 1024 {
		head = head[:1024]
	}
	return bytes.Contains(head, []byte("%PDF-"))
}

// validateStructure runs pdfcpu in relaxed mode and returns a warning when
// the file does not validate
func validateStructure(data []byte) (warning string) {
	defer func() {
		if r := recover(); r != nil {
			warning = fmt.Sprintf("pdf structure check aborted: %v", r)
		}
	}()

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	pctx, err := api.ReadContext(bytes.NewReader(data), conf)
	if err != nil {
		return fmt.Sprintf("pdf structure: %v", err)
	}
	if err := api.ValidateContext(pctx); err != nil {
		return fmt.Sprintf("pdf structure: %v", err)
	}
	return ""
}
