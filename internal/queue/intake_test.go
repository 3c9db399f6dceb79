package queue

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/pdf-intake-worker/internal/config"
	apperrors "github.com/adverant/nexus/pdf-intake-worker/internal/errors"
	"github.com/adverant/nexus/pdf-intake-worker/internal/logging"
	"github.com/adverant/nexus/pdf-intake-worker/internal/models"
	"github.com/adverant/nexus/pdf-intake-worker/internal/processor"
	"github.com/adverant/nexus/pdf-intake-worker/internal/storage"
)

var pdfBytes = []byte("%PDF-1.4\n% fixture\n")

type fakeProcessor struct {
	mu    sync.Mutex
	err   error
	delay time.Duration
	seen  []string
}

func (f *fakeProcessor) ProcessDocument(ctx context.Context, req *processor.ProcessRequest) (*models.ProcessingRecord, error) {
	f.mu.Lock()
	f.seen = append(f.seen, req.FileName)
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	if len(req.Data) == 0 {
		return nil, apperrors.NewDocumentUnreadableError(req.Message.MessageID, "empty document", nil)
	}
	return &models.ProcessingRecord{
		RecordID:     fmt.Sprintf("rec-%s-%d", req.Message.MessageID, req.Index),
		MessageID:    req.Message.MessageID,
		FileRef:      req.FileRef,
		OriginalName: req.FileName,
		PDFIndex:     req.Index,
		TotalPDFs:    req.Total,
		Outcome:      models.OutcomeSuccess,
		Extractions:  []*models.ExtractionResult{},
	}, nil
}

type fakeSink struct {
	mu      sync.Mutex
	err     error
	records []*models.ProcessingRecord
}

func (f *fakeSink) Emit(ctx context.Context, record *models.ProcessingRecord) (*storage.EmitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, record)
	if f.err != nil {
		return nil, f.err
	}
	return &storage.EmitResult{Name: record.RecordID + ".json"}, nil
}

func newTestHandler(t *testing.T, proc *fakeProcessor, sink *fakeSink, root string, policy config.MissingFilePolicy) *Handler {
	t.Helper()
	h, err := NewHandler(&HandlerConfig{
		Processor:         proc,
		Sink:              sink,
		Resolver:          NewFileResolver(root, nil),
		OnMissingFile:     policy,
		ProcessingTimeout: time.Second,
		Logger:            logging.Nop(),
	})
	require.NoError(t, err)
	return h
}

func writePDF(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, pdfBytes, 0o644))
	return path
}

func TestHandle_SuccessAcks(t *testing.T) {
	root := t.TempDir()
	writePDF(t, root, "in/tutela.pdf")
	sink := &fakeSink{}
	h := newTestHandler(t, &fakeProcessor{}, sink, root, config.MissingFileNack)
	acker := &fakeAcker{}

	res, err := h.Handle(context.Background(), NewDelivery("d-1", []byte(`{"messageId":"m-1","fileRef":"in/tutela.pdf"}`), acker))

	require.NoError(t, err)
	assert.True(t, res.Decision.Ack)
	assert.Equal(t, int32(1), acker.acks.Load())
	assert.Equal(t, int32(0), acker.nacks.Load())
	require.Len(t, sink.records, 1)
	assert.Equal(t, "tutela.pdf", sink.records[0].OriginalName)
	require.Len(t, res.Documents, 1)
	assert.NotNil(t, res.Documents[0].Emit)
}

func TestHandle_EveryRouteGetsARecord(t *testing.T) {
	root := t.TempDir()
	writePDF(t, root, "in/a.pdf")
	writePDF(t, root, "in/b.pdf")
	writePDF(t, root, "in/c.pdf")
	sink := &fakeSink{}
	h := newTestHandler(t, &fakeProcessor{}, sink, root, config.MissingFileNack)
	acker := &fakeAcker{}
	body := []byte(`{"guid":"g-1","pdf_rutas":["in/a.pdf","in/b.pdf","in/c.pdf"]}`)

	res, err := h.Handle(context.Background(), NewDelivery("d-11", body, acker))

	require.NoError(t, err)
	assert.True(t, res.Decision.Ack)
	assert.Equal(t, int32(1), acker.acks.Load())
	require.Len(t, sink.records, 3)
	for i, rec := range res.Records() {
		assert.Equal(t, i+1, rec.PDFIndex)
		assert.Equal(t, 3, rec.TotalPDFs)
	}
	assert.Equal(t, "c.pdf", res.Records()[2].OriginalName)
}

func TestHandle_OneMissingRouteNacksOnce(t *testing.T) {
	root := t.TempDir()
	writePDF(t, root, "a.pdf")
	writePDF(t, root, "c.pdf")
	sink := &fakeSink{}
	proc := &fakeProcessor{}
	h := newTestHandler(t, proc, sink, root, config.MissingFileNack)
	acker := &fakeAcker{}

	res, err := h.Handle(context.Background(), NewDelivery("d-12", []byte(`{"messageId":"m-12","pdf_rutas":["a.pdf","b.pdf","c.pdf"]}`), acker))

	require.NoError(t, err)
	assert.Equal(t, int32(1), acker.nacks.Load())
	assert.Equal(t, int32(0), acker.acks.Load())
	assert.ErrorIs(t, acker.reason, apperrors.ErrResourceMissing)
	assert.Equal(t, []string{"a.pdf", "c.pdf"}, proc.seen, "documents after the missing one still run")
	require.Len(t, sink.records, 3)
	assert.Equal(t, models.OutcomeFailed, sink.records[1].Outcome)
	assert.Equal(t, 2, sink.records[1].PDFIndex)
	assert.Equal(t, models.OutcomeSuccess, sink.records[2].Outcome)
	assert.ErrorIs(t, res.Err, apperrors.ErrResourceMissing)
}

func TestHandle_OneMissingRouteAckSkip(t *testing.T) {
	root := t.TempDir()
	writePDF(t, root, "a.pdf")
	sink := &fakeSink{}
	h := newTestHandler(t, &fakeProcessor{}, sink, root, config.MissingFileAckSkip)
	acker := &fakeAcker{}

	res, err := h.Handle(context.Background(), NewDelivery("d-13", []byte(`{"messageId":"m-13","pdf_rutas":["a.pdf","gone.pdf"]}`), acker))

	require.NoError(t, err)
	assert.True(t, res.Decision.Ack)
	assert.Equal(t, int32(1), acker.acks.Load())
	assert.Len(t, sink.records, 2)
}

func TestCombineDecisions(t *testing.T) {
	missing := apperrors.NewResourceMissingError("m", "/x.pdf", nil)
	unreadable := apperrors.NewDocumentUnreadableError("m", "bad", nil)

	dec, err := combineDecisions([]*DocumentResult{{Decision: Decision{Ack: true}}, {Decision: Decision{Ack: true}}})
	assert.True(t, dec.Ack)
	assert.NoError(t, err)

	dec, err = combineDecisions([]*DocumentResult{
		{Decision: Decision{Ack: true}},
		{Decision: Decision{Requeue: true, Reason: missing}, Err: missing},
	})
	assert.False(t, dec.Ack)
	assert.True(t, dec.Requeue)
	assert.ErrorIs(t, err, apperrors.ErrResourceMissing)

	dec, _ = combineDecisions([]*DocumentResult{
		{Decision: Decision{Requeue: true, Reason: missing}, Err: missing},
		{Decision: Decision{Requeue: false, Reason: unreadable}, Err: unreadable},
	})
	assert.False(t, dec.Ack)
	assert.False(t, dec.Requeue, "one document that must not be retried keeps the message out of the queue")
	assert.ErrorIs(t, dec.Reason, apperrors.ErrResourceMissing)
}

func TestHandle_PoisonMessageNackedWithoutRequeue(t *testing.T) {
	sink := &fakeSink{}
	proc := &fakeProcessor{}
	h := newTestHandler(t, proc, sink, t.TempDir(), config.MissingFileNack)
	acker := &fakeAcker{}

	res, err := h.Handle(context.Background(), NewDelivery("d-2", []byte("<<not json>>"), acker))

	require.NoError(t, err)
	assert.False(t, res.Decision.Ack)
	assert.Equal(t, int32(1), acker.nacks.Load())
	assert.False(t, acker.requeue)
	assert.ErrorIs(t, acker.reason, apperrors.ErrInvalidMessage)
	assert.Empty(t, proc.seen)
	assert.Empty(t, sink.records)
}

func TestHandle_MissingFileNackPolicy(t *testing.T) {
	sink := &fakeSink{}
	h := newTestHandler(t, &fakeProcessor{}, sink, t.TempDir(), config.MissingFileNack)
	acker := &fakeAcker{}

	res, err := h.Handle(context.Background(), NewDelivery("d-3", []byte(`{"messageId":"m-3","fileRef":"gone.pdf"}`), acker))

	require.NoError(t, err)
	assert.Equal(t, int32(1), acker.nacks.Load())
	assert.Equal(t, int32(0), acker.acks.Load())
	assert.False(t, acker.requeue)
	require.Len(t, sink.records, 1)
	failed := sink.records[0]
	assert.Equal(t, models.OutcomeFailed, failed.Outcome)
	assert.Empty(t, failed.Extractions)
	assert.Nil(t, failed.Summary)
	assert.Equal(t, string(apperrors.ErrorResourceMissing), failed.Error.Code)
	assert.ErrorIs(t, res.Err, apperrors.ErrResourceMissing)
}

func TestHandle_MissingFileNackRequeue(t *testing.T) {
	sink := &fakeSink{}
	h, err := NewHandler(&HandlerConfig{
		Processor:     &fakeProcessor{},
		Sink:          sink,
		Resolver:      NewFileResolver(t.TempDir(), nil),
		OnMissingFile: config.MissingFileNack,
		NackRequeue:   true,
		Logger:        logging.Nop(),
	})
	require.NoError(t, err)
	acker := &fakeAcker{}

	_, err = h.Handle(context.Background(), NewDelivery("d-4", []byte(`{"messageId":"m-4","fileRef":"later.pdf"}`), acker))

	require.NoError(t, err)
	assert.True(t, acker.requeue)
}

func TestHandle_MissingFileAckSkipPolicy(t *testing.T) {
	sink := &fakeSink{}
	h := newTestHandler(t, &fakeProcessor{}, sink, t.TempDir(), config.MissingFileAckSkip)
	acker := &fakeAcker{}

	res, err := h.Handle(context.Background(), NewDelivery("d-5", []byte(`{"messageId":"m-5","fileRef":"gone.pdf"}`), acker))

	require.NoError(t, err)
	assert.True(t, res.Decision.Ack)
	assert.Equal(t, int32(1), acker.acks.Load())
	assert.Equal(t, int32(0), acker.nacks.Load())
	require.Len(t, sink.records, 1)
	assert.Equal(t, models.OutcomeFailed, sink.records[0].Outcome)
}

func TestHandle_EmptyPDFIsFailedAndNacked(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "empty.pdf"), nil, 0o644))
	sink := &fakeSink{}
	h, err := NewHandler(&HandlerConfig{
		Processor:   &fakeProcessor{},
		Sink:        sink,
		Resolver:    NewFileResolver(root, nil),
		NackRequeue: true,
		Logger:      logging.Nop(),
	})
	require.NoError(t, err)
	acker := &fakeAcker{}

	_, err = h.Handle(context.Background(), NewDelivery("d-6", []byte(`{"messageId":"m-6","fileRef":"empty.pdf"}`), acker))

	require.NoError(t, err)
	assert.Equal(t, int32(1), acker.nacks.Load())
	assert.False(t, acker.requeue, "unreadable documents are never requeued")
	require.Len(t, sink.records, 1)
	assert.Equal(t, models.OutcomeFailed, sink.records[0].Outcome)
	assert.Equal(t, string(apperrors.ErrorDocumentUnreadable), sink.records[0].Error.Code)
}

func TestHandle_TimeoutIsProcessingTimeout(t *testing.T) {
	root := t.TempDir()
	writePDF(t, root, "slow.pdf")
	sink := &fakeSink{}
	h, err := NewHandler(&HandlerConfig{
		Processor:         &fakeProcessor{delay: time.Second},
		Sink:              sink,
		Resolver:          NewFileResolver(root, nil),
		ProcessingTimeout: 20 * time.Millisecond,
		Logger:            logging.Nop(),
	})
	require.NoError(t, err)
	acker := &fakeAcker{}

	res, err := h.Handle(context.Background(), NewDelivery("d-7", []byte(`{"messageId":"m-7","fileRef":"slow.pdf"}`), acker))

	require.NoError(t, err)
	assert.ErrorIs(t, res.Err, apperrors.ErrProcessingTimeout)
	assert.Equal(t, int32(1), acker.nacks.Load())
	require.Len(t, sink.records, 1, "the failed record is emitted after the deadline")
	assert.Equal(t, string(apperrors.ErrorProcessingTimeout), sink.records[0].Error.Code)
}

func TestHandle_SinkErrorDoesNotChangeDecision(t *testing.T) {
	root := t.TempDir()
	writePDF(t, root, "ok.pdf")
	sink := &fakeSink{err: apperrors.NewSinkFailedError("m-8", "local", errors.New("disk full"))}
	h := newTestHandler(t, &fakeProcessor{}, sink, root, config.MissingFileNack)
	acker := &fakeAcker{}

	res, err := h.Handle(context.Background(), NewDelivery("d-8", []byte(`{"messageId":"m-8","fileRef":"ok.pdf"}`), acker))

	require.NoError(t, err)
	assert.True(t, res.Decision.Ack)
	assert.Equal(t, int32(1), acker.acks.Load())
	assert.Nil(t, res.Documents[0].Emit)
}

func TestHandle_InlineContent(t *testing.T) {
	sink := &fakeSink{}
	h := newTestHandler(t, &fakeProcessor{}, sink, t.TempDir(), config.MissingFileNack)
	body := []byte(`{"messageId":"m-9","content":"` + base64.StdEncoding.EncodeToString(pdfBytes) + `"}`)

	res, err := h.Handle(context.Background(), NewDelivery("d-9", body, &fakeAcker{}))

	require.NoError(t, err)
	assert.True(t, res.Decision.Ack)
	assert.Equal(t, "m-9.pdf", sink.records[0].OriginalName)
}

func TestHandle_DeliveryIDFillsMissingMessageID(t *testing.T) {
	root := t.TempDir()
	writePDF(t, root, "a.pdf")
	sink := &fakeSink{}
	h := newTestHandler(t, &fakeProcessor{}, sink, root, config.MissingFileNack)

	res, err := h.Handle(context.Background(), NewDelivery("broker-7", []byte(`{"fileRef":"a.pdf"}`), &fakeAcker{}))

	require.NoError(t, err)
	assert.Equal(t, "broker-7", res.Message.MessageID)
}

func TestHandle_ProcessedOnlyOnce(t *testing.T) {
	root := t.TempDir()
	writePDF(t, root, "a.pdf")
	proc := &fakeProcessor{}
	h := newTestHandler(t, proc, &fakeSink{}, root, config.MissingFileNack)
	d := NewDelivery("d-10", []byte(`{"messageId":"m-10","fileRef":"a.pdf"}`), &fakeAcker{})

	_, err := h.Handle(context.Background(), d)
	require.NoError(t, err)
	_, err = h.Handle(context.Background(), d)

	assert.ErrorIs(t, err, ErrAlreadyDecided)
	assert.Len(t, proc.seen, 1)
}

type fakeObjects struct {
	data map[string][]byte
}

func (f *fakeObjects) ReadObject(ctx context.Context, uri string) ([]byte, error) {
	if d, ok := f.data[uri]; ok {
		return d, nil
	}
	return nil, apperrors.NewResourceMissingError("", uri, errors.New("storage: object doesn't exist"))
}

func TestFileResolver(t *testing.T) {
	root := t.TempDir()
	abs := writePDF(t, root, "x/doc.pdf")
	objects := &fakeObjects{data: map[string][]byte{"gs://b/in/remote.pdf": pdfBytes}}
	r := NewFileResolver(root, objects)
	ctx := context.Background()

	data, name, err := r.Resolve(ctx, &models.IntakeMessage{FileRef: abs}, abs)
	require.NoError(t, err)
	assert.Equal(t, pdfBytes, data)
	assert.Equal(t, "doc.pdf", name)

	_, _, err = r.Resolve(ctx, &models.IntakeMessage{FileRef: "x/doc.pdf"}, "x/doc.pdf")
	assert.NoError(t, err)

	data, name, err = r.Resolve(ctx, &models.IntakeMessage{FileRef: "gs://b/in/remote.pdf"}, "gs://b/in/remote.pdf")
	require.NoError(t, err)
	assert.Equal(t, "remote.pdf", name)
	assert.Equal(t, pdfBytes, data)

	_, _, err = r.Resolve(ctx, &models.IntakeMessage{MessageID: "m", FileRef: "gs://b/in/none.pdf"}, "gs://b/in/none.pdf")
	assert.ErrorIs(t, err, apperrors.ErrResourceMissing)

	_, _, err = r.Resolve(ctx, &models.IntakeMessage{FileRef: "x"}, "x")
	assert.ErrorIs(t, err, apperrors.ErrResourceMissing, "directories are not files")

	_, _, err = NewFileResolver(root, nil).Resolve(ctx, &models.IntakeMessage{FileRef: "gs://b/in/remote.pdf"}, "gs://b/in/remote.pdf")
	assert.ErrorIs(t, err, apperrors.ErrResourceMissing)

	inline := &models.IntakeMessage{FileRef: "mail/a.pdf", FileRefs: []string{"mail/a.pdf", "x/doc.pdf"}, Content: []byte("%PDF-inline")}
	data, name, err = r.Resolve(ctx, inline, "mail/a.pdf")
	require.NoError(t, err)
	assert.Equal(t, "a.pdf", name)
	assert.Equal(t, []byte("%PDF-inline"), data)
	data, _, err = r.Resolve(ctx, inline, "x/doc.pdf")
	require.NoError(t, err)
	assert.Equal(t, pdfBytes, data, "inline content only answers for the first reference")
}

func TestDecodeMessage(t *testing.T) {
	_, err := DecodeMessage([]byte(`{"messageId":"m"}`))
	assert.ErrorIs(t, err, apperrors.ErrInvalidMessage)

	_, err = DecodeMessage([]byte(`[1,2`))
	assert.ErrorIs(t, err, apperrors.ErrInvalidMessage)

	msg, err := DecodeMessage([]byte(`{"messageId":"m","pdf_rutas":["/data/a.pdf"]}`))
	require.NoError(t, err)
	assert.Equal(t, "/data/a.pdf", msg.FileRef)

	msg, err = DecodeMessage([]byte(`{"messageId":"m","pdf_rutas":["/data/a.pdf","/data/b.pdf"]}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"/data/a.pdf", "/data/b.pdf"}, msg.Refs())
}

func TestDeliveryID(t *testing.T) {
	assert.Equal(t, "m-1", deliveryID([]byte(`{"messageId":"m-1","guid":"g"}`)))
	assert.Equal(t, "g", deliveryID([]byte(`{"guid":"g"}`)))
	assert.Equal(t, deliveryID([]byte("raw body")), deliveryID([]byte("raw body")))
	assert.NotEqual(t, deliveryID([]byte("raw body")), deliveryID([]byte("other body")))
}

func TestNewDeadLetter(t *testing.T) {
	dl := newDeadLetter("m-1", "{}", apperrors.NewResourceMissingError("m-1", "/data/a.pdf", nil))
	assert.Equal(t, "m-1", dl.MessageID)
	assert.Equal(t, string(apperrors.ErrorResourceMissing), dl.Error["error_code"])

	dl = newDeadLetter("m-2", "{}", errors.New("plain"))
	assert.Equal(t, "plain", dl.Error["message"])
}

func TestTaskAcknowledgerResult(t *testing.T) {
	ctx := context.Background()

	a := &taskAcknowledger{}
	assert.Error(t, a.result())

	a = &taskAcknowledger{}
	require.NoError(t, a.Ack(ctx))
	assert.NoError(t, a.result())

	a = &taskAcknowledger{}
	require.NoError(t, a.Nack(ctx, true, errors.New("retry me")))
	err := a.result()
	assert.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)

	a = &taskAcknowledger{}
	require.NoError(t, a.Nack(ctx, false, errors.New("dead")))
	assert.ErrorIs(t, a.result(), asynq.SkipRetry)
}

func TestRetryDelay(t *testing.T) {
	assert.Equal(t, 5*time.Second, retryDelay(0, nil, nil))
	assert.Equal(t, 20*time.Second, retryDelay(2, nil, nil))
	assert.Equal(t, 60*time.Second, retryDelay(4, nil, nil))
	assert.Equal(t, 60*time.Second, retryDelay(40, nil, nil))
}
