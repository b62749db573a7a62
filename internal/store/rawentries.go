package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/journalctl/core/internal/models"
)

// RawEntryRepo persists RawEntry rows.
type RawEntryRepo struct{ db *sql.DB }

// Upsert inserts a RawEntry within tx, replacing any prior row for the same
// (batch, source, day) — ingest only ever creates raw entries for newly
// inserted atoms, so in practice this never collides with an existing row
// from a different import of the same day (spec §4.B step 3).
func (r *RawEntryRepo) Upsert(ctx context.Context, tx *sql.Tx, e models.RawEntry) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO raw_entries (id, import_batch_id, source, day_date, content_text, content_hash, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (import_batch_id, source, day_date) DO UPDATE
			SET content_text = EXCLUDED.content_text, content_hash = EXCLUDED.content_hash`,
		e.ID, e.ImportBatchID, string(e.Source), e.DayDate, e.ContentText, e.ContentHash, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert raw_entry: %w", err)
	}
	return nil
}
