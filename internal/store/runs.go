package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/journalctl/core/internal/apperrors"
	"github.com/journalctl/core/internal/models"
)

// RunRepo persists Run and RunBatch rows.
type RunRepo struct{ db *sql.DB }

// Create inserts a Run and its RunBatch rows within tx (spec §4.G step 7).
func (r *RunRepo) Create(ctx context.Context, tx *sql.Tx, run models.Run) error {
	sourcesJSON, err := json.Marshal(run.Sources)
	if err != nil {
		return fmt.Errorf("marshal sources: %w", err)
	}
	cfgJSON, err := json.Marshal(run.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	var filterProfileID sql.NullString
	if run.FilterProfileID != "" {
		filterProfileID = sql.NullString{String: run.FilterProfileID, Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, status, model, start_date, end_date, sources, filter_profile_id,
		                   output_target, config_json, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		run.ID, string(run.Status), run.Model, run.StartDate, run.EndDate, sourcesJSON,
		filterProfileID, run.OutputTarget, cfgJSON, run.CreatedAt, run.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for _, batchID := range run.Config.ImportBatchIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO run_batches (run_id, import_batch_id) VALUES ($1,$2)`,
			run.ID, batchID); err != nil {
			return fmt.Errorf("insert run_batch: %w", err)
		}
	}
	return nil
}

// Get loads a Run by id.
func (r *RunRepo) Get(ctx context.Context, id string) (*models.Run, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, status, model, start_date, end_date, sources, filter_profile_id,
		       output_target, config_json, created_at, updated_at
		FROM runs WHERE id = $1`, id)
	return scanRun(row, id)
}

// GetForUpdate loads a Run within tx, locking the row (used inside the
// advisory-lock-protected tick, spec §4.H step 4).
func (r *RunRepo) GetForUpdate(ctx context.Context, tx *sql.Tx, id string) (*models.Run, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT id, status, model, start_date, end_date, sources, filter_profile_id,
		       output_target, config_json, created_at, updated_at
		FROM runs WHERE id = $1 FOR UPDATE`, id)
	return scanRun(row, id)
}

func scanRun(row *sql.Row, id string) (*models.Run, error) {
	var run models.Run
	var status, sourcesJSON, cfgJSON string
	var filterProfileID sql.NullString
	if err := row.Scan(&run.ID, &status, &run.Model, &run.StartDate, &run.EndDate, &sourcesJSON,
		&filterProfileID, &run.OutputTarget, &cfgJSON, &run.CreatedAt, &run.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.NewNotFound("Run", id)
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	run.Status = models.RunStatus(status)
	run.FilterProfileID = filterProfileID.String
	if err := json.Unmarshal([]byte(sourcesJSON), &run.Sources); err != nil {
		return nil, fmt.Errorf("unmarshal sources: %w", err)
	}
	if err := json.Unmarshal([]byte(cfgJSON), &run.Config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &run, nil
}

// UpdateStatus persists a new run status (and bumps updatedAt) within tx.
func (r *RunRepo) UpdateStatus(ctx context.Context, tx *sql.Tx, id string, status models.RunStatus) error {
	_, err := tx.ExecContext(ctx, `UPDATE runs SET status = $1, updated_at = now() WHERE id = $2`, string(status), id)
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	return nil
}

// BeginTx starts a transaction on the run repository's pool (convenience
// for callers that only touch run/job tables).
func (r *RunRepo) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return r.db.BeginTx(ctx, nil)
}

// ActiveIDs lists the ids of runs still in queued or running state, oldest
// first. Used by the tick-loop driver to discover work between polls; not
// part of the core operation surface spec §6 names.
func (r *RunRepo) ActiveIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id FROM runs
		WHERE status IN ($1, $2)
		ORDER BY created_at ASC`,
		string(models.RunStatusQueued), string(models.RunStatusRunning))
	if err != nil {
		return nil, fmt.Errorf("list active runs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
