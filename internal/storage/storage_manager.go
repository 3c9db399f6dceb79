/**
 * Storage Manager for the PDF intake worker
 *
 * Emits each processing record to the result sinks:
 * - local JSON file (required, atomic)
 * - object storage upload (best effort, skipped for failed records)
 * - PostgreSQL record store and dead-letter table (best effort, optional)
 *
 * Only the local write can fail an Emit. Remote sink failures are logged
 * as SINK_FAILED and counted.
 */

package storage

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	apperrors "github.com/adverant/nexus/pdf-intake-worker/internal/errors"
	"github.com/adverant/nexus/pdf-intake-worker/internal/logging"
	"github.com/adverant/nexus/pdf-intake-worker/internal/models"
	"github.com/adverant/nexus/pdf-intake-worker/internal/text"
)

// ObjectUploader uploads a result document and returns its URI
type ObjectUploader interface {
	Upload(ctx context.Context, name string, data []byte) (string, error)
}

// RecordStore persists records and dead letters
type RecordStore interface {
	UpsertRecord(ctx context.Context, record *models.ProcessingRecord, payload []byte) error
	InsertDeadLetter(ctx context.Context, record *models.ProcessingRecord, payload []byte) error
	Close() error
}

// Sink is what the intake consumer emits records to
type Sink interface {
	Emit(ctx context.Context, record *models.ProcessingRecord) (*EmitResult, error)
}

// ManagerConfig holds sink dependencies. Uploader and Records are optional.
type ManagerConfig struct {
	OutputDir string
	// Live prefixes file names with the message ID so redeliveries of
	// different messages for the same file do not collide.
	Live     bool
	Uploader ObjectUploader
	Records  RecordStore
	Logger   *logging.Logger
}

// EmitResult tells where a record ended up
type EmitResult struct {
	Name      string
	LocalPath string
	ObjectURI string
	Stored    bool
	Warnings  []string
}

// StorageManager coordinates the local writer and the remote sinks
type StorageManager struct {
	local    *LocalWriter
	live     bool
	uploader ObjectUploader
	records  RecordStore
	logger   *logging.Logger

	written      atomic.Int64
	uploaded     atomic.Int64
	stored       atomic.Int64
	deadLetters  atomic.Int64
	sinkFailures atomic.Int64
}

// NewStorageManager creates a new storage manager
func NewStorageManager(cfg ManagerConfig) (*StorageManager, error) {
	local, err := NewLocalWriter(cfg.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize local writer: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewLogger("StorageManager")
	}
	return &StorageManager{
		local:    local,
		live:     cfg.Live,
		uploader: cfg.Uploader,
		records:  cfg.Records,
		logger:   logger,
	}, nil
}

// ResultName returns the name a record is stored under, locally and in
// object storage: <stem>.json, or <messageID>_<stem>.json in live mode.
// Documents of a multi-PDF message carry their 1-based index after the
// message ID.
func ResultName(record *models.ProcessingRecord, live bool) string {
	stem := ""
	if record.OriginalName != "" {
		stem = models.StemOf(record.OriginalName)
	} else if record.FileRef != "" {
		stem = models.StemOf(record.FileRef)
	}
	if stem == "" || stem == "." || stem == "/" {
		stem = record.RecordID
	}
	if record.TotalPDFs > 1 {
		stem = strconv.Itoa(record.PDFIndex) + "_" + stem
	}
	if live && record.MessageID != "" {
		stem = record.MessageID + "_" + stem
	}
	return safeFileName(stem) + ".json"
}

// Emit writes the record to every configured sink
func (sm *StorageManager) Emit(ctx context.Context, record *models.ProcessingRecord) (*EmitResult, error) {
	if record == nil {
		return nil, apperrors.NewInvalidInputError("nil record")
	}

	payload, err := EncodeRecord(record)
	if err != nil {
		return nil, apperrors.NewSinkFailedError(record.MessageID, "encode", err)
	}

	res := &EmitResult{Name: ResultName(record, sm.live)}
	log := sm.logger.With("messageId", record.MessageID, "recordId", record.RecordID)

	res.LocalPath, err = sm.local.Write(res.Name, payload)
	if err != nil {
		sm.sinkFailures.Add(1)
		return nil, apperrors.NewSinkFailedError(record.MessageID, "local", err)
	}
	sm.written.Add(1)
	log.Debug("Result written", "path", res.LocalPath, "outcome", record.Outcome)

	if sm.uploader != nil && record.Outcome != models.OutcomeFailed {
		uri, err := sm.uploader.Upload(ctx, res.Name, payload)
		if err != nil {
			sm.remoteFailure(log, res, "object_storage", err)
		} else {
			res.ObjectURI = uri
			sm.uploaded.Add(1)
		}
	}

	if sm.records != nil {
		if err := sm.records.UpsertRecord(ctx, record, payload); err != nil {
			sm.remoteFailure(log, res, "postgres", err)
		} else {
			res.Stored = true
			sm.stored.Add(1)
		}
		if record.Outcome == models.OutcomeFailed {
			if err := sm.records.InsertDeadLetter(ctx, record, payload); err != nil {
				sm.remoteFailure(log, res, "dead_letters", err)
			} else {
				sm.deadLetters.Add(1)
			}
		}
	}

	return res, nil
}

func (sm *StorageManager) remoteFailure(log *logging.Logger, res *EmitResult, target string, err error) {
	sm.sinkFailures.Add(1)
	sinkErr := apperrors.NewSinkFailedError("", target, err)
	res.Warnings = append(res.Warnings, sinkErr.Error())
	log.Warn("Sink write failed", "target", target, "code", sinkErr.Code, "error", err)
}

// GetStats returns sink counters and database pool statistics
func (sm *StorageManager) GetStats(ctx context.Context) (map[string]interface{}, error) {
	stats := map[string]interface{}{
		"output_dir":    sm.local.Dir(),
		"written":       sm.written.Load(),
		"uploaded":      sm.uploaded.Load(),
		"stored":        sm.stored.Load(),
		"dead_letters":  sm.deadLetters.Load(),
		"sink_failures": sm.sinkFailures.Load(),
	}

	pg, ok := sm.records.(*PostgresClient)
	if !ok {
		return stats, nil
	}

	pgStats := pg.GetStats()
	pgMap := map[string]interface{}{
		"max_open_connections": pgStats.MaxOpenConnections,
		"open_connections":     pgStats.OpenConnections,
		"in_use":               pgStats.InUse,
		"idle":                 pgStats.Idle,
		"wait_count":           pgStats.WaitCount,
		"wait_duration":        pgStats.WaitDuration.String(),
	}
	n, err := pg.CountDeadLetters(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("failed to get PostgreSQL stats: %w", err)
	}
	pgMap["dead_letters_24h"] = n
	stats["postgres"] = pgMap

	return stats, nil
}

// Close closes the record store
func (sm *StorageManager) Close() error {
	if sm.records == nil {
		return nil
	}
	if err := sm.records.Close(); err != nil && err != sql.ErrConnDone {
		return fmt.Errorf("failed to close record store: %w", err)
	}
	return nil
}

// EncodeRecord renders the canonical JSON document for a record: indented,
// HTML characters unescaped. Every string value is cleaned before encoding
// so the document holds no NUL and only valid NFC UTF-8.
func EncodeRecord(record *models.ProcessingRecord) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(record.MapStrings(text.SanitizeForJSON)); err != nil {
		return nil, fmt.Errorf("failed to marshal record: %w", err)
	}
	return buf.Bytes(), nil
}

func safeFileName(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', 0:
			return '_'
		}
		return r
	}, name)
}
