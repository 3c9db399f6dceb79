/**
 * PostgreSQL Client for the PDF intake worker
 *
 * Optional record store. Every emitted record is upserted into
 * intake.processing_records; failed records are also kept in
 * intake.dead_letters so they can be inspected and replayed.
 */

package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/adverant/nexus/pdf-intake-worker/internal/models"
)

// PostgresClient handles database operations
type PostgresClient struct {
	db *sql.DB
}

const schemaDDL = `
	CREATE SCHEMA IF NOT EXISTS intake;

	CREATE TABLE IF NOT EXISTS intake.processing_records (
		record_id      UUID PRIMARY KEY,
		message_id     TEXT,
		guid           TEXT,
		file_ref       TEXT NOT NULL,
		original_name  TEXT,
		stored_name    TEXT,
		outcome        TEXT NOT NULL,
		cedulas        TEXT[],
		names          TEXT[],
		pdf_index      INTEGER NOT NULL DEFAULT 1,
		total_pdfs     INTEGER NOT NULL DEFAULT 1,
		summary_engine TEXT,
		page_count     INTEGER,
		error_code     TEXT,
		duration_ms    BIGINT,
		payload        JSONB NOT NULL,
		processed_at   TIMESTAMPTZ NOT NULL,
		updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	ALTER TABLE intake.processing_records ADD COLUMN IF NOT EXISTS pdf_index INTEGER NOT NULL DEFAULT 1;
	ALTER TABLE intake.processing_records ADD COLUMN IF NOT EXISTS total_pdfs INTEGER NOT NULL DEFAULT 1;
	DROP INDEX IF EXISTS intake.processing_records_message_id_idx;

	CREATE UNIQUE INDEX IF NOT EXISTS processing_records_message_doc_idx
		ON intake.processing_records (message_id, pdf_index) WHERE message_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS intake.dead_letters (
		id            BIGSERIAL PRIMARY KEY,
		record_id     UUID NOT NULL,
		message_id    TEXT,
		file_ref      TEXT NOT NULL,
		error_code    TEXT NOT NULL,
		error_message TEXT,
		payload       JSONB NOT NULL,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
`

// NewPostgresClient creates a new PostgreSQL client
func NewPostgresClient(databaseURL string) (*PostgresClient, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresClient{db: db}, nil
}

// EnsureSchema creates the intake schema and tables when missing
func (p *PostgresClient) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("failed to create intake schema: %w", err)
	}
	return nil
}

// recordRow is the flattened form of a record used as query arguments
type recordRow struct {
	cedulas       []string
	names         []string
	summaryEngine string
	errorCode     string
	errorMessage  string
}

func flattenRecord(record *models.ProcessingRecord) recordRow {
	row := recordRow{
		cedulas: record.Extraction(models.FieldCedula).Values(),
		names:   record.Extraction(models.FieldName).Values(),
	}
	if record.Summary != nil {
		row.summaryEngine = string(record.Summary.Engine)
	}
	if record.Error != nil {
		row.errorCode = record.Error.Code
		row.errorMessage = record.Error.Message
	}
	return row
}

// UpsertRecord inserts the record or replaces the row with the same record
// ID or the same message document. payload is the encoded JSON document.
func (p *PostgresClient) UpsertRecord(ctx context.Context, record *models.ProcessingRecord, payload []byte) error {
	if record == nil || record.RecordID == "" {
		return fmt.Errorf("record ID is required")
	}
	row := flattenRecord(record)

	// A redelivered message gets fresh record IDs; keep one row per message
	// document so the table holds its latest outcome only.
	query := `
		INSERT INTO intake.processing_records (
			record_id, message_id, guid, file_ref, original_name, stored_name,
			outcome, cedulas, names, summary_engine, page_count, error_code,
			duration_ms, payload, processed_at, pdf_index, total_pdfs, updated_at
		) VALUES (
			$1::uuid, NULLIF($2, ''), NULLIF($3, ''), $4, NULLIF($5, ''), NULLIF($6, ''),
			$7, $8, $9, NULLIF($10, ''), $11, NULLIF($12, ''),
			$13, $14::jsonb, $15, $16, $17, NOW()
		)
		ON CONFLICT (record_id) DO UPDATE SET
			outcome = EXCLUDED.outcome,
			cedulas = EXCLUDED.cedulas,
			names = EXCLUDED.names,
			summary_engine = EXCLUDED.summary_engine,
			page_count = EXCLUDED.page_count,
			error_code = EXCLUDED.error_code,
			duration_ms = EXCLUDED.duration_ms,
			payload = EXCLUDED.payload,
			processed_at = EXCLUDED.processed_at,
			updated_at = NOW()
	`

	if record.MessageID != "" {
		if _, err := p.db.ExecContext(ctx,
			`DELETE FROM intake.processing_records WHERE message_id = $1 AND pdf_index = $2 AND record_id <> $3::uuid`,
			record.MessageID, docIndex(record), record.RecordID); err != nil {
			return fmt.Errorf("failed to replace previous record (message=%s): %w", record.MessageID, err)
		}
	}

	_, err := p.db.ExecContext(ctx, query,
		record.RecordID,        // $1
		record.MessageID,       // $2
		record.GUID,            // $3
		record.FileRef,         // $4
		record.OriginalName,    // $5
		record.StoredName,      // $6
		string(record.Outcome), // $7
		pq.Array(row.cedulas),  // $8
		pq.Array(row.names),    // $9
		row.summaryEngine,      // $10
		len(record.Pages),      // $11
		row.errorCode,          // $12
		record.DurationMs,      // $13
		string(payload),        // $14
		record.ProcessedAt,     // $15
		docIndex(record),       // $16
		docTotal(record),       // $17
	)
	if err != nil {
		return fmt.Errorf("failed to upsert record (record=%s, outcome=%s): %w",
			record.RecordID, record.Outcome, err)
	}
	return nil
}

func docIndex(record *models.ProcessingRecord) int {
	if record.PDFIndex < 1 {
		return 1
	}
	return record.PDFIndex
}

func docTotal(record *models.ProcessingRecord) int {
	if record.TotalPDFs < 1 {
		return 1
	}
	return record.TotalPDFs
}

// InsertDeadLetter keeps a failed record for later inspection
func (p *PostgresClient) InsertDeadLetter(ctx context.Context, record *models.ProcessingRecord, payload []byte) error {
	if record == nil || record.RecordID == "" {
		return fmt.Errorf("record ID is required")
	}
	row := flattenRecord(record)
	if row.errorCode == "" {
		return fmt.Errorf("dead letter without error code (record=%s)", record.RecordID)
	}

	query := `
		INSERT INTO intake.dead_letters (
			record_id, message_id, file_ref, error_code, error_message, payload, created_at
		) VALUES ($1::uuid, NULLIF($2, ''), $3, $4, NULLIF($5, ''), $6::jsonb, NOW())
	`
	_, err := p.db.ExecContext(ctx, query,
		record.RecordID,
		record.MessageID,
		record.FileRef,
		row.errorCode,
		row.errorMessage,
		string(payload),
	)
	if err != nil {
		return fmt.Errorf("failed to insert dead letter (record=%s, code=%s): %w",
			record.RecordID, row.errorCode, err)
	}
	return nil
}

// CountDeadLetters returns the number of dead letters recorded since t
func (p *PostgresClient) CountDeadLetters(ctx context.Context, since time.Time) (int64, error) {
	var n int64
	err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM intake.dead_letters WHERE created_at >= $1`, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count dead letters: %w", err)
	}
	return n, nil
}

// Ping checks database connectivity
func (p *PostgresClient) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close closes the database connection
func (p *PostgresClient) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

// GetStats returns connection pool statistics
func (p *PostgresClient) GetStats() sql.DBStats {
	return p.db.Stats()
}
