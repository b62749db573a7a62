package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/journalctl/core/internal/models"
)

// BatchRepo persists ImportBatch rows.
type BatchRepo struct{ db *sql.DB }

// Create inserts a new ImportBatch within the given transaction (ingest
// always creates a batch and its atoms in one transaction, spec §4.B).
func (r *BatchRepo) Create(ctx context.Context, tx *sql.Tx, b models.ImportBatch) error {
	perSource, err := json.Marshal(b.Stats.PerSourceCounts)
	if err != nil {
		return fmt.Errorf("marshal per-source counts: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO import_batches
			(id, created_at, source, original_filename, file_size_bytes, timezone,
			 message_count, day_count, coverage_start, coverage_end, per_source_counts)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		b.ID, b.CreatedAt, string(b.Source), b.OriginalFilename, b.FileSizeBytes, b.Timezone,
		b.Stats.MessageCount, b.Stats.DayCount, b.Stats.CoverageStart, b.Stats.CoverageEnd, perSource,
	)
	if err != nil {
		return fmt.Errorf("insert import_batch: %w", err)
	}
	return nil
}

// Get loads one ImportBatch by id.
func (r *BatchRepo) Get(ctx context.Context, id string) (*models.ImportBatch, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, created_at, source, original_filename, file_size_bytes, timezone,
		       message_count, day_count, coverage_start, coverage_end, per_source_counts
		FROM import_batches WHERE id = $1`, id)
	return scanBatch(row)
}

// GetMany loads several ImportBatches by id, in arbitrary order.
func (r *BatchRepo) GetMany(ctx context.Context, ids []string) ([]*models.ImportBatch, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, created_at, source, original_filename, file_size_bytes, timezone,
		       message_count, day_count, coverage_start, coverage_end, per_source_counts
		FROM import_batches WHERE id = ANY($1::text[])`, toTextArray(ids))
	if err != nil {
		return nil, fmt.Errorf("query import_batches: %w", err)
	}
	defer rows.Close()

	var out []*models.ImportBatch
	for rows.Next() {
		b, err := scanBatchRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBatch(row *sql.Row) (*models.ImportBatch, error) {
	return scanBatchGeneric(row)
}

func scanBatchRows(row *sql.Rows) (*models.ImportBatch, error) {
	return scanBatchGeneric(row)
}

func scanBatchGeneric(row rowScanner) (*models.ImportBatch, error) {
	var b models.ImportBatch
	var source string
	var perSource []byte
	var coverageStart, coverageEnd sql.NullString
	if err := row.Scan(
		&b.ID, &b.CreatedAt, &source, &b.OriginalFilename, &b.FileSizeBytes, &b.Timezone,
		&b.Stats.MessageCount, &b.Stats.DayCount, &coverageStart, &coverageEnd, &perSource,
	); err != nil {
		return nil, err
	}
	b.Source = models.Source(source)
	b.Stats.CoverageStart = coverageStart.String
	b.Stats.CoverageEnd = coverageEnd.String
	if len(perSource) > 0 {
		var raw map[string]int
		if err := json.Unmarshal(perSource, &raw); err != nil {
			return nil, fmt.Errorf("unmarshal per-source counts: %w", err)
		}
		b.Stats.PerSourceCounts = make(map[models.Source]int, len(raw))
		for k, v := range raw {
			b.Stats.PerSourceCounts[models.Source(k)] = v
		}
	}
	return &b, nil
}
