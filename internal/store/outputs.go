package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/journalctl/core/internal/apperrors"
	"github.com/journalctl/core/internal/models"
)

// OutputRepo persists Output rows.
type OutputRepo struct{ db *sql.DB }

// Create inserts an Output within tx, atomically alongside the job's
// success update so a job failure can never leave a partial Output row
// (spec §9 "Failure isolation").
func (r *OutputRepo) Create(ctx context.Context, tx *sql.Tx, o models.Output) error {
	metaJSON, err := json.Marshal(o.Meta)
	if err != nil {
		return fmt.Errorf("marshal output meta: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO outputs (id, job_run_id, job_day_date, stage, output_text, meta_json,
		                      model, prompt_version_id, bundle_hash, bundle_context_hash, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		o.ID, o.JobRunID, o.JobDayDate, o.Stage, o.OutputText, metaJSON,
		o.Model, o.PromptVersionID, o.BundleHash, o.BundleContextHash, o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert output: %w", err)
	}
	return nil
}

// ForJob loads the single summarize Output for (runID, dayDate), or
// NotFoundError if none exists.
func (r *OutputRepo) ForJob(ctx context.Context, runID, dayDate string) (*models.Output, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, job_run_id, job_day_date, stage, output_text, meta_json,
		       model, prompt_version_id, bundle_hash, bundle_context_hash, created_at
		FROM outputs WHERE job_run_id = $1 AND job_day_date = $2`, runID, dayDate)
	o, err := scanOutput(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFound("Output", runID+"/"+dayDate)
	}
	return o, err
}

// CountForJob counts summarize outputs for (runID, dayDate); used by the
// export orchestrator's "exactly one output" precondition (spec §4.K).
func (r *OutputRepo) CountForJob(ctx context.Context, runID, dayDate string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM outputs WHERE job_run_id = $1 AND job_day_date = $2`, runID, dayDate).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count outputs: %w", err)
	}
	return n, nil
}

func scanOutput(row *sql.Row) (*models.Output, error) {
	var o models.Output
	var metaJSON []byte
	if err := row.Scan(&o.ID, &o.JobRunID, &o.JobDayDate, &o.Stage, &o.OutputText, &metaJSON,
		&o.Model, &o.PromptVersionID, &o.BundleHash, &o.BundleContextHash, &o.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(metaJSON, &o.Meta); err != nil {
		return nil, fmt.Errorf("unmarshal output meta: %w", err)
	}
	return &o, nil
}
