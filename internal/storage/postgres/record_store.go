package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/webextract/webextract/internal/pipeline"
)

// RecordStore implements pipeline.RecordStore using Postgres.
type RecordStore struct {
	db     DB
	logger *zap.Logger
}

// NewRecordStore constructs a RecordStore over an open connection.
func NewRecordStore(db DB, logger *zap.Logger) *RecordStore {
	return &RecordStore{db: db, logger: logger}
}

const recordColumns = `job_id, url, purpose, strategy_used, raw_data,
	normalized_data, success, confidence_score, data_quality_score,
	field_count, extraction_ms, error_message, website_type, blob_uri,
	extracted_at`

// InsertRecords writes a batch's outcomes in one transaction so partial
// batches are never visible.
func (s *RecordStore) InsertRecords(ctx context.Context, records []pipeline.ExtractedRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin record insert: %w", err)
	}
	defer func() {
		if rerr := tx.Rollback(ctx); rerr != nil && !errors.Is(rerr, pgx.ErrTxClosed) {
			s.logger.Warn("rollback record insert", zap.Error(rerr))
		}
	}()

	query := `
		INSERT INTO extracted_records (` + recordColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	for _, rec := range records {
		raw, err := json.Marshal(rec.RawData)
		if err != nil {
			return fmt.Errorf("marshal raw data: %w", err)
		}
		normalized, err := json.Marshal(rec.NormalizedData)
		if err != nil {
			return fmt.Errorf("marshal normalized data: %w", err)
		}
		if _, err := tx.Exec(ctx, query,
			rec.JobID, rec.URL, rec.Purpose, rec.StrategyUsed, raw, normalized,
			rec.Success, rec.ConfidenceScore, rec.DataQualityScore,
			rec.FieldCount, rec.ExtractionMs, nullable(rec.ErrorMessage),
			nullable(string(rec.WebsiteType)), nullable(rec.BlobURI),
			rec.ExtractedAt,
		); err != nil {
			return fmt.Errorf("insert record for %s: %w", rec.URL, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit record insert: %w", err)
	}
	return nil
}

// ListRecords returns all records for a job in insertion order.
func (s *RecordStore) ListRecords(ctx context.Context, jobID string) ([]pipeline.ExtractedRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM extracted_records WHERE job_id = $1 ORDER BY id`
	rows, err := s.db.Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var records []pipeline.ExtractedRecord
	for rows.Next() {
		var (
			rec         pipeline.ExtractedRecord
			raw         []byte
			normalized  []byte
			errMsg      *string
			websiteType *string
			blobURI     *string
		)
		if err := rows.Scan(
			&rec.JobID, &rec.URL, &rec.Purpose, &rec.StrategyUsed, &raw,
			&normalized, &rec.Success, &rec.ConfidenceScore,
			&rec.DataQualityScore, &rec.FieldCount, &rec.ExtractionMs,
			&errMsg, &websiteType, &blobURI, &rec.ExtractedAt,
		); err != nil {
			return nil, fmt.Errorf("scan record row: %w", err)
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &rec.RawData); err != nil {
				return nil, fmt.Errorf("unmarshal raw data: %w", err)
			}
		}
		if len(normalized) > 0 {
			if err := json.Unmarshal(normalized, &rec.NormalizedData); err != nil {
				return nil, fmt.Errorf("unmarshal normalized data: %w", err)
			}
		}
		if errMsg != nil {
			rec.ErrorMessage = *errMsg
		}
		if websiteType != nil {
			rec.WebsiteType = pipeline.WebsiteType(*websiteType)
		}
		if blobURI != nil {
			rec.BlobURI = *blobURI
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate record rows: %w", err)
	}
	return records, nil
}

// AvgExtractionMs returns the historical mean extraction time for a job.
func (s *RecordStore) AvgExtractionMs(ctx context.Context, jobID string) (float64, error) {
	var avg *float64
	query := `SELECT AVG(extraction_ms) FROM extracted_records WHERE job_id = $1`
	if err := s.db.QueryRow(ctx, query, jobID).Scan(&avg); err != nil {
		return 0, fmt.Errorf("avg extraction ms: %w", err)
	}
	if avg == nil {
		return 0, nil
	}
	return *avg, nil
}

// CountSince counts records extracted after the given instant.
func (s *RecordStore) CountSince(ctx context.Context, since time.Time) (int64, error) {
	var n int64
	query := `SELECT COUNT(*) FROM extracted_records WHERE extracted_at > $1`
	if err := s.db.QueryRow(ctx, query, since).Scan(&n); err != nil {
		return 0, fmt.Errorf("count records since: %w", err)
	}
	return n, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
