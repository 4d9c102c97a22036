package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/webextract/webextract/internal/pipeline"
)

func recordRowColumns() []string {
	return []string{
		"job_id", "url", "purpose", "strategy_used", "raw_data",
		"normalized_data", "success", "confidence_score", "data_quality_score",
		"field_count", "extraction_ms", "error_message", "website_type",
		"blob_uri", "extracted_at",
	}
}

func TestInsertRecordsWrapsBatchInTransaction(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Unix(1_700_000_000, 0).UTC()
	records := []pipeline.ExtractedRecord{
		{
			JobID: "job-1", URL: "https://a.example", Purpose: "contacts",
			StrategyUsed: "selector", Success: true,
			ConfidenceScore: 0.8, DataQualityScore: 0.9, FieldCount: 2,
			ExtractionMs: 120,
			RawData:      map[string]any{"name": "Acme"},
			WebsiteType:  pipeline.SiteCorporate,
			BlobURI:      "mem://raw/job-1/abc.html",
			ExtractedAt:  now,
		},
		{
			JobID: "job-1", URL: "https://b.example", Purpose: "contacts",
			StrategyUsed: "selector", Success: false,
			ErrorMessage: "fetch: status 503",
			ExtractionMs: 40,
			ExtractedAt:  now,
		},
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO extracted_records").
		WithArgs(
			"job-1", "https://a.example", "contacts", "selector",
			[]byte(`{"name":"Acme"}`), []byte(`null`),
			true, 0.8, 0.9, 2, int64(120),
			(*string)(nil), strPtr("corporate"), strPtr("mem://raw/job-1/abc.html"),
			now,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO extracted_records").
		WithArgs(
			"job-1", "https://b.example", "contacts", "selector",
			[]byte(`null`), []byte(`null`),
			false, 0.0, 0.0, 0, int64(40),
			strPtr("fetch: status 503"), (*string)(nil), (*string)(nil),
			now,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()
	mock.ExpectRollback()

	store := NewRecordStore(mock, zap.NewNop())
	require.NoError(t, store.InsertRecords(context.Background(), records))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertRecordsEmptyBatchIsNoOp(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewRecordStore(mock, zap.NewNop())
	require.NoError(t, store.InsertRecords(context.Background(), nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListRecordsScansRows(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Unix(1_700_000_000, 0).UTC()
	mock.ExpectQuery("SELECT (.+) FROM extracted_records WHERE job_id").
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows(recordRowColumns()).AddRow(
			"job-1", "https://a.example", "contacts", "structured_data",
			[]byte(`{"name":"Acme"}`), []byte(`{"company_name":"Acme"}`),
			true, 0.8, 0.9, 1, int64(120),
			(*string)(nil), strPtr("e_commerce"), strPtr("gs://b/raw.html"), now,
		))

	store := NewRecordStore(mock, zap.NewNop())
	records, err := store.ListRecords(context.Background(), "job-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "Acme", records[0].RawData["name"])
	require.Equal(t, "Acme", records[0].NormalizedData["company_name"])
	require.Equal(t, pipeline.SiteECommerce, records[0].WebsiteType)
	require.Equal(t, "gs://b/raw.html", records[0].BlobURI)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListRecordsSurfacesMidIterationErrors(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Unix(1_700_000_000, 0).UTC()
	rowErr := errors.New("connection reset")
	mock.ExpectQuery("SELECT (.+) FROM extracted_records WHERE job_id").
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows(recordRowColumns()).
			AddRow(
				"job-1", "https://a.example", "contacts", "selector",
				[]byte(`null`), []byte(`null`),
				true, 0.8, 0.9, 1, int64(120),
				(*string)(nil), (*string)(nil), (*string)(nil), now,
			).
			RowError(0, rowErr))

	store := NewRecordStore(mock, zap.NewNop())
	_, err = store.ListRecords(context.Background(), "job-1")
	require.ErrorIs(t, err, rowErr)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAvgExtractionMsNullMeansZero(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT AVG").
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows([]string{"avg"}).AddRow((*float64)(nil)))

	store := NewRecordStore(mock, zap.NewNop())
	avg, err := store.AvgExtractionMs(context.Background(), "job-1")
	require.NoError(t, err)
	require.Zero(t, avg)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCountSince(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	since := time.Unix(1_700_000_000, 0).UTC()
	mock.ExpectQuery("SELECT COUNT").
		WithArgs(since).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(7)))

	store := NewRecordStore(mock, zap.NewNop())
	n, err := store.CountSince(context.Background(), since)
	require.NoError(t, err)
	require.Equal(t, int64(7), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func strPtr(s string) *string { return &s }
