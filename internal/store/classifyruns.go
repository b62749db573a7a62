package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/journalctl/core/internal/models"
)

// ClassifyRunRepo persists ClassifyRun stats rows.
type ClassifyRunRepo struct{ db *sql.DB }

// Create inserts a ClassifyRun stats row (spec §4.C step 5).
func (r *ClassifyRunRepo) Create(ctx context.Context, c models.ClassifyRun) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO classify_runs (id, import_batch_id, model, prompt_version_id, mode, status,
		                            total_atoms, newly_labeled, skipped_already_labeled, labeled_total,
		                            finished_at, cost_usd)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		c.ID, c.ImportBatchID, c.Model, c.PromptVersionID, string(c.Mode), c.Status,
		c.TotalAtoms, c.NewlyLabeled, c.SkippedAlreadyLabeled, c.LabeledTotal,
		c.FinishedAt, c.CostUsd,
	)
	if err != nil {
		return fmt.Errorf("insert classify_run: %w", err)
	}
	return nil
}
