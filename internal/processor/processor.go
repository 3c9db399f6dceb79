/**
 * Document Processor for the PDF intake worker
 *
 * Runs one document through the pipeline:
 * - per-page text (native, OCR fallback)
 * - normalization
 * - cédula and name extraction (chains run concurrently)
 * - extractive summary over the whole normalized text
 *
 * The result is a ProcessingRecord. Unreadable documents return an error
 * and the caller records the failure with NewFailedRecord.
 */

package processor

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/adverant/nexus/pdf-intake-worker/internal/errors"
	"github.com/adverant/nexus/pdf-intake-worker/internal/extract"
	"github.com/adverant/nexus/pdf-intake-worker/internal/logging"
	"github.com/adverant/nexus/pdf-intake-worker/internal/models"
	"github.com/adverant/nexus/pdf-intake-worker/internal/text"
)

// DocumentProcessorInterface defines the interface for document processing
type DocumentProcessorInterface interface {
	ProcessDocument(ctx context.Context, req *ProcessRequest) (*models.ProcessingRecord, error)
}

// TextExtractor produces page texts from PDF bytes
type TextExtractor interface {
	Extract(ctx context.Context, data []byte) (*PageExtraction, error)
}

// EntityExtractor resolves every field over the normalized pages
type EntityExtractor interface {
	ExtractAll(ctx context.Context, pages []models.PageText) (extract.Outcome, error)
}

// Summarizer produces the extractive summary
type Summarizer interface {
	SummarizeDetailed(ctx context.Context, t string, n int) models.Summary
}

// ProcessorConfig holds processor dependencies
type ProcessorConfig struct {
	Extractor        TextExtractor
	Entities         EntityExtractor
	Summarizer       Summarizer
	SummarySentences int
	Logger           *logging.Logger
}

// ProcessRequest is one document to process. A message may reference
// several documents; Index is 1-based within Total.
type ProcessRequest struct {
	Message  *models.IntakeMessage
	FileRef  string // empty means Message.FileRef
	FileName string // original file name, for the record
	Index    int
	Total    int
	Data     []byte
}

// DocumentProcessor handles document processing
type DocumentProcessor struct {
	extractor  TextExtractor
	entities   EntityExtractor
	summarizer Summarizer
	sentences  int
	logger     *logging.Logger
}

// NewDocumentProcessor creates a new document processor
func NewDocumentProcessor(cfg *ProcessorConfig) (*DocumentProcessor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.Extractor == nil {
		return nil, fmt.Errorf("text extractor is required")
	}
	if cfg.Entities == nil {
		return nil, fmt.Errorf("entity extractor is required")
	}
	if cfg.Summarizer == nil {
		return nil, fmt.Errorf("summarizer is required")
	}

	sentences := cfg.SummarySentences
	if sentences <= 0 {
		sentences = 5
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewLogger("DocumentProcessor")
	}

	return &DocumentProcessor{
		extractor:  cfg.Extractor,
		entities:   cfg.Entities,
		summarizer: cfg.Summarizer,
		sentences:  sentences,
		logger:     logger,
	}, nil
}

// ProcessDocument processes a document through the complete pipeline
func (p *DocumentProcessor) ProcessDocument(ctx context.Context, req *ProcessRequest) (*models.ProcessingRecord, error) {
	if req == nil || req.Message == nil {
		return nil, apperrors.NewInvalidInputError("process request without message")
	}
	msgID := req.Message.MessageID
	log := p.logger.With("messageId", msgID)
	start := time.Now()

	log.Info("Starting document processing", "fileRef", req.fileRef(), "bytes", len(req.Data))

	// Step 1: page texts
	extraction, err := p.extractor.Extract(ctx, req.Data)
	if err != nil {
		return nil, withMessageID(err, msgID)
	}
	if extraction == nil {
		return nil, apperrors.NewDocumentUnreadableError(msgID, "empty document", nil)
	}

	// Step 2: normalization
	pages := make([]models.PageText, len(extraction.Pages))
	pageTexts := make([]string, len(extraction.Pages))
	for i, page := range extraction.Pages {
		page.Text = text.Normalize(page.Text)
		pages[i] = page
		pageTexts[i] = page.Text
	}
	log.Debug("Pages extracted", "pages", len(pages), "ocrPages", countOCR(pages))

	// Step 3: entities
	outcome, err := p.entities.ExtractAll(ctx, pages)
	if err != nil {
		return nil, withMessageID(err, msgID)
	}

	// Step 4: summary
	summary := p.summarizer.SummarizeDetailed(ctx, text.JoinPages(pageTexts), p.sentences)

	record := newRecord(req)
	record.Pages = pages
	record.Extractions = outcome.Results
	record.Summary = &summary
	record.Warnings = append(record.Warnings, extraction.Warnings...)
	record.Outcome = models.OutcomeSuccess
	for _, f := range outcome.Failures {
		record.Outcome = models.OutcomePartial
		record.Warnings = append(record.Warnings, f.Error())
	}
	record.ProcessedAt = time.Now().UTC()
	record.DurationMs = time.Since(start).Milliseconds()

	log.Info("Document processing complete",
		"outcome", record.Outcome,
		"extractions", len(record.Extractions),
		"summaryEngine", summary.Engine,
		"durationMs", record.DurationMs)

	return record, nil
}

// NewFailedRecord builds the record for a message that could not be
// processed. It carries no extractions or summary.
func NewFailedRecord(req *ProcessRequest, cause error) *models.ProcessingRecord {
	record := newRecord(req)
	record.Outcome = models.OutcomeFailed
	record.Extractions = []*models.ExtractionResult{}
	record.Error = recordError(cause)
	record.ProcessedAt = time.Now().UTC()
	return record
}

func newRecord(req *ProcessRequest) *models.ProcessingRecord {
	id := uuid.New().String()
	record := &models.ProcessingRecord{
		RecordID:    id,
		StoredName:  id + ".pdf",
		PDFIndex:    1,
		TotalPDFs:   1,
		Extractions: []*models.ExtractionResult{},
	}
	if req == nil {
		return record
	}
	record.OriginalName = req.FileName
	if req.Index > 0 {
		record.PDFIndex = req.Index
	}
	if req.Total > 0 {
		record.TotalPDFs = req.Total
	}
	if msg := req.Message; msg != nil {
		record.MessageID = msg.MessageID
		record.GUID = msg.GUID
		record.Classification = msg.Classification
		record.Subject = msg.Subject
		record.Sender = msg.Sender
		record.ReceivedAt = msg.ReceivedAt
	}
	record.FileRef = req.fileRef()
	if record.OriginalName == "" && record.FileRef != "" {
		record.OriginalName = filepath.Base(record.FileRef)
	}
	return record
}

func (req *ProcessRequest) fileRef() string {
	if req.FileRef != "" || req.Message == nil {
		return req.FileRef
	}
	return req.Message.FileRef
}

func recordError(err error) *models.RecordError {
	if err == nil {
		return nil
	}
	var pe *apperrors.ProcessingError
	if errors.As(err, &pe) {
		return &models.RecordError{Code: string(pe.Code), Message: pe.Message, Details: pe.Details}
	}
	code := apperrors.ErrorServiceFailed
	if errors.Is(err, context.DeadlineExceeded) {
		code = apperrors.ErrorProcessingTimeout
	}
	return &models.RecordError{Code: string(code), Message: err.Error()}
}

func withMessageID(err error, msgID string) error {
	var pe *apperrors.ProcessingError
	if errors.As(err, &pe) && pe.MessageID == "" {
		pe.MessageID = msgID
	}
	return err
}

func countOCR(pages []models.PageText) int {
	n := 0
	for _, p := range pages {
		if p.Method == models.MethodOCR {
			n++
		}
	}
	return n
}
