package postgres

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/webextract/webextract/internal/pipeline"
)

// ExportStore lands normalized fields in purpose-specific tables whose
// schemas are derived from the observed field names and value types on first
// write. Unknown fields arriving later are added with ALTER TABLE.
type ExportStore struct {
	db     DB
	logger *zap.Logger

	mu    sync.Mutex
	known map[string]map[string]bool // table -> column set
}

// NewExportStore constructs an ExportStore.
func NewExportStore(db DB, logger *zap.Logger) *ExportStore {
	return &ExportStore{
		db:     db,
		logger: logger,
		known:  make(map[string]map[string]bool),
	}
}

// Export writes each successful record's normalized fields as one row of the
// purpose's export table.
func (s *ExportStore) Export(ctx context.Context, purpose string, records []pipeline.ExtractedRecord) error {
	table := "export_" + SanitizeIdentifier(purpose)
	for _, rec := range records {
		if !rec.Success || len(rec.NormalizedData) == 0 {
			continue
		}
		if err := s.ensureColumns(ctx, table, rec.NormalizedData); err != nil {
			return err
		}
		if err := s.insertRow(ctx, table, rec); err != nil {
			return err
		}
	}
	return nil
}

func (s *ExportStore) ensureColumns(ctx context.Context, table string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cols, ok := s.known[table]
	if !ok {
		stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			source_url TEXT NOT NULL,
			job_id TEXT NOT NULL,
			extracted_at TIMESTAMPTZ NOT NULL
		)`, table)
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create export table %s: %w", table, err)
		}
		cols = map[string]bool{"source_url": true, "job_id": true, "extracted_at": true}
		s.known[table] = cols
	}

	for _, name := range sortedKeys(fields) {
		col := SanitizeIdentifier(name)
		if cols[col] {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s", table, col, SQLTypeOf(fields[name]))
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("add export column %s.%s: %w", table, col, err)
		}
		cols[col] = true
	}
	return nil
}

func (s *ExportStore) insertRow(ctx context.Context, table string, rec pipeline.ExtractedRecord) error {
	columns := []string{"source_url", "job_id", "extracted_at"}
	args := []any{rec.URL, rec.JobID, rec.ExtractedAt}

	for _, name := range sortedKeys(rec.NormalizedData) {
		columns = append(columns, SanitizeIdentifier(name))
		args = append(args, exportValue(rec.NormalizedData[name]))
	}

	placeholders := make([]string, len(columns))
	for i := range columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(columns, ", "), strings.Join(placeholders, ", "))
	if _, err := s.db.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert export row: %w", err)
	}
	return nil
}

var identifierStrip = regexp.MustCompile(`[^a-z0-9_]+`)

// SanitizeIdentifier turns an arbitrary field name into a safe SQL identifier.
func SanitizeIdentifier(name string) string {
	id := strings.ToLower(strings.TrimSpace(name))
	id = strings.ReplaceAll(id, " ", "_")
	id = strings.ReplaceAll(id, "-", "_")
	id = identifierStrip.ReplaceAllString(id, "")
	id = strings.Trim(id, "_")
	if id == "" {
		return "field"
	}
	if id[0] >= '0' && id[0] <= '9' {
		id = "f_" + id
	}
	const maxIdentifier = 63
	if len(id) > maxIdentifier {
		id = id[:maxIdentifier]
	}
	return id
}

// SQLTypeOf guesses a column type from a sample value.
func SQLTypeOf(value any) string {
	switch value.(type) {
	case bool:
		return "BOOLEAN"
	case int, int32, int64:
		return "BIGINT"
	case float32, float64:
		return "DOUBLE PRECISION"
	case time.Time:
		return "TIMESTAMPTZ"
	case map[string]any, []any:
		return "JSONB"
	default:
		return "TEXT"
	}
}

func exportValue(v any) any {
	switch v.(type) {
	case map[string]any, []any:
		// pgx encodes these as JSONB directly.
		return v
	default:
		return v
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
