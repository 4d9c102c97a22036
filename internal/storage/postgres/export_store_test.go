package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/webextract/webextract/internal/pipeline"
)

func TestExportDerivesSchemaOnFirstWrite(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Unix(1_700_000_000, 0).UTC()
	records := []pipeline.ExtractedRecord{
		{
			JobID: "job-1", URL: "https://a.example", Success: true,
			NormalizedData: map[string]any{
				"company_name": "Acme",
				"employees":    float64(42),
			},
			ExtractedAt: now,
		},
		{
			JobID: "job-1", URL: "https://b.example", Success: true,
			NormalizedData: map[string]any{
				"company_name": "Globex",
				"employees":    float64(7),
			},
			ExtractedAt: now,
		},
	}

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS export_contacts").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("ALTER TABLE export_contacts ADD COLUMN IF NOT EXISTS company_name TEXT").
		WillReturnResult(pgxmock.NewResult("ALTER", 0))
	mock.ExpectExec("ALTER TABLE export_contacts ADD COLUMN IF NOT EXISTS employees DOUBLE PRECISION").
		WillReturnResult(pgxmock.NewResult("ALTER", 0))
	mock.ExpectExec("INSERT INTO export_contacts").
		WithArgs("https://a.example", "job-1", now, "Acme", float64(42)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	// Second record reuses the derived schema, no further DDL.
	mock.ExpectExec("INSERT INTO export_contacts").
		WithArgs("https://b.example", "job-1", now, "Globex", float64(7)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	store := NewExportStore(mock, zap.NewNop())
	require.NoError(t, store.Export(context.Background(), "contacts", records))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExportSkipsFailedAndEmptyRecords(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	records := []pipeline.ExtractedRecord{
		{JobID: "job-1", URL: "https://a.example", Success: false,
			NormalizedData: map[string]any{"x": "y"}},
		{JobID: "job-1", URL: "https://b.example", Success: true},
	}

	store := NewExportStore(mock, zap.NewNop())
	require.NoError(t, store.Export(context.Background(), "contacts", records))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSanitizeIdentifier(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"Company Name":   "company_name",
		"phone-number":   "phone_number",
		"24h_support":    "f_24h_support",
		"price ($USD)":   "price_usd",
		"___":            "field",
		"":               "field",
		"already_fine":   "already_fine",
		"Mixed Case-Tag": "mixed_case_tag",
	}
	for in, want := range cases {
		require.Equal(t, want, SanitizeIdentifier(in), "input %q", in)
	}
}

func TestSQLTypeOf(t *testing.T) {
	t.Parallel()

	require.Equal(t, "BOOLEAN", SQLTypeOf(true))
	require.Equal(t, "BIGINT", SQLTypeOf(int64(3)))
	require.Equal(t, "DOUBLE PRECISION", SQLTypeOf(99.99))
	require.Equal(t, "TIMESTAMPTZ", SQLTypeOf(time.Now()))
	require.Equal(t, "JSONB", SQLTypeOf(map[string]any{"a": 1}))
	require.Equal(t, "JSONB", SQLTypeOf([]any{"a"}))
	require.Equal(t, "TEXT", SQLTypeOf("hello"))
	require.Equal(t, "TEXT", SQLTypeOf(nil))
}
