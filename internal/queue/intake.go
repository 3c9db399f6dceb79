/**
 * Intake handling shared by every transport
 *
 * Decodes the message, resolves each referenced PDF, runs the processing
 * pipeline under the per-message timeout, emits one record per document
 * and settles the delivery exactly once after the last document.
 */

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/adverant/nexus/pdf-intake-worker/internal/config"
	apperrors "github.com/adverant/nexus/pdf-intake-worker/internal/errors"
	"github.com/adverant/nexus/pdf-intake-worker/internal/logging"
	"github.com/adverant/nexus/pdf-intake-worker/internal/models"
	"github.com/adverant/nexus/pdf-intake-worker/internal/processor"
	"github.com/adverant/nexus/pdf-intake-worker/internal/storage"
)

// sinkTimeout bounds Emit, which runs even after processing timed out
const sinkTimeout = 30 * time.Second

// Consumer is a broker transport feeding the intake handler. Err delivers
// at most one error, when the broker is lost for good.
type Consumer interface {
	Start(ctx context.Context) error
	Stop() error
	Err() <-chan error
}

// ObjectReader reads gs:// references
type ObjectReader interface {
	ReadObject(ctx context.Context, uri string) ([]byte, error)
}

// FileResolver turns a message's file reference into bytes: inline
// content first, then gs:// objects, then local paths relative to root.
type FileResolver struct {
	root    string
	objects ObjectReader
}

// NewFileResolver creates a resolver. objects may be nil, in which case
// gs:// references resolve as missing.
func NewFileResolver(root string, objects ObjectReader) *FileResolver {
	return &FileResolver{root: root, objects: objects}
}

// Resolve returns the bytes and original file name of the document at ref.
// Inline content answers for the message's first reference.
func (r *FileResolver) Resolve(ctx context.Context, msg *models.IntakeMessage, ref string) ([]byte, string, error) {
	name := ""
	if ref != "" {
		name = filepath.Base(ref)
	}

	if msg.HasInlineContent() && ref == msg.FileRef {
		if name == "" {
			name = msg.MessageID + ".pdf"
		}
		return msg.Content, name, nil
	}

	if ref == "" {
		return nil, "", apperrors.NewInvalidMessageError(msg.MessageID, fmt.Errorf("no file reference and no inline content"))
	}

	if storage.IsGSURI(ref) {
		if r.objects == nil {
			return nil, name, apperrors.NewResourceMissingError(msg.MessageID, ref, fmt.Errorf("object storage is not configured"))
		}
		data, err := r.objects.ReadObject(ctx, ref)
		if err != nil {
			var pe *apperrors.ProcessingError
			if errors.As(err, &pe) && pe.MessageID == "" {
				pe.MessageID = msg.MessageID
			}
			return nil, name, err
		}
		return data, name, nil
	}

	path := r.LocalPath(ref)
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, name, apperrors.NewResourceMissingError(msg.MessageID, path, err)
		}
		return nil, name, apperrors.NewResourceMissingError(msg.MessageID, path, fmt.Errorf("stat failed: %w", err))
	}
	if info.IsDir() {
		return nil, name, apperrors.NewResourceMissingError(msg.MessageID, path, fmt.Errorf("is a directory"))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, name, apperrors.NewResourceMissingError(msg.MessageID, path, err)
	}
	return data, name, nil
}

// LocalPath returns ref as an absolute path, joined to the root when
// relative
func (r *FileResolver) LocalPath(ref string) string {
	if filepath.IsAbs(ref) || r.root == "" {
		return filepath.Clean(ref)
	}
	return filepath.Join(r.root, ref)
}

// HandlerConfig holds handler dependencies
type HandlerConfig struct {
	Processor         processor.DocumentProcessorInterface
	Sink              storage.Sink
	Resolver          *FileResolver
	OnMissingFile     config.MissingFilePolicy
	NackRequeue       bool
	ProcessingTimeout time.Duration
	Logger            *logging.Logger
}

// DocumentResult describes what happened to one document of a message
type DocumentResult struct {
	Index    int // 1-based position in the message
	FileRef  string
	Record   *models.ProcessingRecord
	Emit     *storage.EmitResult
	Decision Decision // what this document alone calls for
	Err      error    // processing failure behind a failed record
}

// HandleResult describes what happened to one message
type HandleResult struct {
	Message   *models.IntakeMessage
	Documents []*DocumentResult
	Decision  Decision
	Err       error // first failure behind a failed record or nack
}

// Records returns the emitted records in document order
func (r *HandleResult) Records() []*models.ProcessingRecord {
	out := make([]*models.ProcessingRecord, 0, len(r.Documents))
	for _, doc := range r.Documents {
		if doc.Record != nil {
			out = append(out, doc.Record)
		}
	}
	return out
}

// Handler runs the per-message pipeline
type Handler struct {
	processor   processor.DocumentProcessorInterface
	sink        storage.Sink
	resolver    *FileResolver
	onMissing   config.MissingFilePolicy
	nackRequeue bool
	timeout     time.Duration
	logger      *logging.Logger
}

// NewHandler creates a new intake handler
func NewHandler(cfg *HandlerConfig) (*Handler, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.Processor == nil {
		return nil, fmt.Errorf("Processor is required")
	}
	if cfg.Sink == nil {
		return nil, fmt.Errorf("Sink is required")
	}

	resolver := cfg.Resolver
	if resolver == nil {
		resolver = NewFileResolver("", nil)
	}
	onMissing := cfg.OnMissingFile
	if onMissing == "" {
		onMissing = config.MissingFileNack
	}
	timeout := cfg.ProcessingTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewLogger("IntakeHandler")
	}

	return &Handler{
		processor:   cfg.Processor,
		sink:        cfg.Sink,
		resolver:    resolver,
		onMissing:   onMissing,
		nackRequeue: cfg.NackRequeue,
		timeout:     timeout,
		logger:      logger,
	}, nil
}

// DecodeMessage parses a message body. Bodies that are not JSON, or that
// carry neither a file reference nor inline content, are INVALID_MESSAGE.
func DecodeMessage(body []byte) (*models.IntakeMessage, error) {
	var msg models.IntakeMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, apperrors.NewInvalidMessageError("", err)
	}
	if len(msg.Refs()) == 0 && !msg.HasInlineContent() {
		return nil, apperrors.NewInvalidMessageError(msg.MessageID, fmt.Errorf("message has no file reference"))
	}
	return &msg, nil
}

// Handle processes one delivery and settles it. The returned error is
// only about settlement; processing failures are reported in the result.
func (h *Handler) Handle(ctx context.Context, d *Delivery) (*HandleResult, error) {
	msg, err := DecodeMessage(d.Body())
	if err != nil {
		h.logger.Warn("Rejecting malformed message", "deliveryId", d.ID(), "bytes", len(d.Body()), "error", err)
		res := &HandleResult{Decision: Decision{Reason: err}, Err: err}
		return res, d.Settle(ctx, res.Decision)
	}
	if msg.MessageID == "" {
		msg.MessageID = d.ID()
	}

	if err := d.Start(); err != nil {
		return nil, err
	}

	res := h.Process(ctx, msg)
	if err := d.Settle(ctx, res.Decision); err != nil {
		h.logger.Error("Failed to settle message", "messageId", msg.MessageID, "decision", res.Decision.String(), "error", err)
		return res, err
	}

	h.logger.Info("Message settled",
		"messageId", msg.MessageID,
		"decision", res.Decision.String(),
		"documents", len(res.Documents))
	return res, nil
}

// Process runs every document of a decoded message through resolve,
// process and emit and returns the decision the message calls for. It never
// settles anything, so the directory replay uses it directly.
func (h *Handler) Process(ctx context.Context, msg *models.IntakeMessage) *HandleResult {
	res := &HandleResult{Message: msg}

	processCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	refs := msg.Refs()
	if len(refs) == 0 {
		// inline content without a reference
		refs = []string{""}
	}
	for i, ref := range refs {
		doc := h.processDocument(ctx, processCtx, msg, ref, i+1, len(refs))
		res.Documents = append(res.Documents, doc)
	}

	res.Decision, res.Err = combineDecisions(res.Documents)
	return res
}

// processDocument handles one referenced document. ctx is the message
// context; processCtx carries the processing deadline.
func (h *Handler) processDocument(ctx, processCtx context.Context, msg *models.IntakeMessage, ref string, index, total int) *DocumentResult {
	doc := &DocumentResult{Index: index, FileRef: ref}
	log := h.logger.With("messageId", msg.MessageID, "pdf", index, "of", total)
	start := time.Now()

	data, name, err := h.resolver.Resolve(processCtx, msg, ref)
	req := &processor.ProcessRequest{Message: msg, FileRef: ref, FileName: name, Index: index, Total: total, Data: data}
	if err != nil {
		doc.Err = err
		doc.Record = processor.NewFailedRecord(req, err)
		h.emit(ctx, doc, log)
		switch {
		case !errors.Is(err, apperrors.ErrResourceMissing):
			doc.Decision = Decision{Requeue: h.requeueOnFailure(err), Reason: err}
		case h.onMissing == config.MissingFileAckSkip:
			log.Warn("Referenced file is missing", "fileRef", ref, "policy", h.onMissing, "error", err)
			doc.Decision = Decision{Ack: true, Reason: err}
		default:
			log.Warn("Referenced file is missing", "fileRef", ref, "policy", h.onMissing, "error", err)
			doc.Decision = Decision{Requeue: h.nackRequeue, Reason: err}
		}
		return doc
	}

	record, err := h.processor.ProcessDocument(processCtx, req)
	if err != nil {
		if errors.Is(processCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, apperrors.ErrDocumentUnreadable) {
			log.Error("Processing timed out", "timeout", h.timeout.String(), "elapsed", time.Since(start).String())
			err = apperrors.NewProcessingTimeoutError(msg.MessageID, h.timeout, err)
		} else {
			log.Error("Processing failed", "error", err, "elapsed", time.Since(start).String())
		}
		doc.Err = err
		doc.Record = processor.NewFailedRecord(req, err)
		doc.Decision = Decision{Requeue: h.requeueOnFailure(err), Reason: err}
		h.emit(ctx, doc, log)
		return doc
	}

	doc.Record = record
	h.emit(ctx, doc, log)
	doc.Decision = Decision{Ack: true}
	return doc
}

// combineDecisions folds the per-document decisions into the message's.
// Any nack wins over acks; the message is requeued only when every nacked
// document asked for it. The first failure is the reason.
func combineDecisions(docs []*DocumentResult) (Decision, error) {
	var (
		firstErr  error
		nackFirst *Decision
		requeue   = true
	)
	for _, doc := range docs {
		if firstErr == nil && doc.Err != nil {
			firstErr = doc.Err
		}
		if doc.Decision.Ack {
			continue
		}
		if nackFirst == nil {
			d := doc.Decision
			nackFirst = &d
		}
		requeue = requeue && doc.Decision.Requeue
	}
	if nackFirst == nil {
		return Decision{Ack: true, Reason: firstErr}, firstErr
	}
	return Decision{Requeue: requeue, Reason: nackFirst.Reason}, firstErr
}

// requeueOnFailure keeps unreadable documents out of the queue; other
// failures follow NACK_REQUEUE
func (h *Handler) requeueOnFailure(err error) bool {
	if errors.Is(err, apperrors.ErrDocumentUnreadable) ||
		errors.Is(err, apperrors.ErrInvalidInput) ||
		errors.Is(err, apperrors.ErrInvalidMessage) {
		return false
	}
	return h.nackRequeue
}

// emit hands the record to the sink. Failures are logged and never change
// the decision.
func (h *Handler) emit(ctx context.Context, doc *DocumentResult, log *logging.Logger) {
	sinkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sinkTimeout)
	defer cancel()

	emitted, err := h.sink.Emit(sinkCtx, doc.Record)
	if err != nil {
		log.Error("Failed to emit record", "recordId", doc.Record.RecordID, "code", apperrors.CodeOf(err), "error", err)
		return
	}
	doc.Emit = emitted
}
