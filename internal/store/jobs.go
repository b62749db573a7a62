package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/journalctl/core/internal/models"
)

// JobRepo persists Job rows.
type JobRepo struct{ db *sql.DB }

// CreateMany inserts one queued Job per dayDate within tx (spec §4.G step 7).
func (r *JobRepo) CreateMany(ctx context.Context, tx *sql.Tx, runID string, dayDates []string) error {
	for _, d := range dayDates {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO jobs (run_id, day_date, status, attempt) VALUES ($1,$2,$3,1)`,
			runID, d, string(models.JobStatusQueued))
		if err != nil {
			return fmt.Errorf("insert job %s/%s: %w", runID, d, err)
		}
	}
	return nil
}

// ByRun loads all jobs for runID ordered by dayDate ASC.
func (r *JobRepo) ByRun(ctx context.Context, runID string) ([]models.Job, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT run_id, day_date, status, attempt, started_at, finished_at,
		       tokens_in, tokens_out, cost_usd, error_json
		FROM jobs WHERE run_id = $1 ORDER BY day_date ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

// QueuedPage loads up to maxJobs queued jobs for runID, ordered by dayDate
// ASC (spec §4.H step 5), within tx.
func (r *JobRepo) QueuedPage(ctx context.Context, tx *sql.Tx, runID string, maxJobs int) ([]models.Job, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT run_id, day_date, status, attempt, started_at, finished_at,
		       tokens_in, tokens_out, cost_usd, error_json
		FROM jobs WHERE run_id = $1 AND status = $2
		ORDER BY day_date ASC LIMIT $3`,
		runID, string(models.JobStatusQueued), maxJobs)
	if err != nil {
		return nil, fmt.Errorf("query queued jobs: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

// MarkRunning sets a job to running with startedAt, within tx.
func (r *JobRepo) MarkRunning(ctx context.Context, tx *sql.Tx, runID, dayDate string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE jobs SET status = $1, started_at = now() WHERE run_id = $2 AND day_date = $3`,
		string(models.JobStatusRunning), runID, dayDate)
	if err != nil {
		return fmt.Errorf("mark job running: %w", err)
	}
	return nil
}

// MarkSucceeded finalises a job as succeeded with token/cost totals, within tx.
func (r *JobRepo) MarkSucceeded(ctx context.Context, tx *sql.Tx, runID, dayDate string, tokensIn, tokensOut int, costUsd float64) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE jobs SET status = $1, finished_at = now(), tokens_in = $2, tokens_out = $3, cost_usd = $4
		WHERE run_id = $5 AND day_date = $6`,
		string(models.JobStatusSucceeded), tokensIn, tokensOut, costUsd, runID, dayDate)
	if err != nil {
		return fmt.Errorf("mark job succeeded: %w", err)
	}
	return nil
}

// MarkFailed finalises a job as failed, preserving any partial token/cost
// totals already accumulated (spec §4.H step 7, §7 propagation policy).
func (r *JobRepo) MarkFailed(ctx context.Context, tx *sql.Tx, runID, dayDate string, tokensIn, tokensOut int, costUsd float64, jobErr models.JobErrorInfo) error {
	errJSON, err := json.Marshal(jobErr)
	if err != nil {
		return fmt.Errorf("marshal job error: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE jobs SET status = $1, finished_at = now(), tokens_in = $2, tokens_out = $3,
		                cost_usd = $4, error_json = $5
		WHERE run_id = $6 AND day_date = $7`,
		string(models.JobStatusFailed), tokensIn, tokensOut, costUsd, errJSON, runID, dayDate)
	if err != nil {
		return fmt.Errorf("mark job failed: %w", err)
	}
	return nil
}

// StatusCounts returns the count of jobs per status for runID, used by the
// run-status recomputation in spec §4.G / §4.H step 8.
func (r *JobRepo) StatusCounts(ctx context.Context, tx *sql.Tx, runID string) (map[models.JobStatus]int, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT status, count(*) FROM jobs WHERE run_id = $1 GROUP BY status`, runID)
	if err != nil {
		return nil, fmt.Errorf("count job statuses: %w", err)
	}
	defer rows.Close()
	out := make(map[models.JobStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[models.JobStatus(status)] = n
	}
	return out, rows.Err()
}

// SumSpentToday returns the total cost_usd across all jobs (any run) that
// finished today (UTC calendar day), for the maxUsdPerDay budget check
// (spec §4.F "Budget guard").
func (r *JobRepo) SumSpentToday(ctx context.Context) (float64, error) {
	var total sql.NullFloat64
	err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(cost_usd), 0) FROM jobs
		WHERE finished_at IS NOT NULL AND (finished_at AT TIME ZONE 'UTC')::date = (now() AT TIME ZONE 'UTC')::date`,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum spent today: %w", err)
	}
	return total.Float64, nil
}

// SumSpentForRun returns the total cost_usd across all terminal jobs for
// runID (spec §4.F "Budget guard" maxUsdPerRun check).
func (r *JobRepo) SumSpentForRun(ctx context.Context, runID string) (float64, error) {
	var total sql.NullFloat64
	err := r.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(cost_usd), 0) FROM jobs WHERE run_id = $1`, runID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum spent for run: %w", err)
	}
	return total.Float64, nil
}

func scanJobs(rows *sql.Rows) ([]models.Job, error) {
	var out []models.Job
	for rows.Next() {
		var j models.Job
		var status string
		var errJSON []byte
		if err := rows.Scan(&j.RunID, &j.DayDate, &status, &j.Attempt, &j.StartedAt, &j.FinishedAt,
			&j.TokensIn, &j.TokensOut, &j.CostUsd, &errJSON); err != nil {
			return nil, err
		}
		j.Status = models.JobStatus(status)
		if len(errJSON) > 0 {
			var info models.JobErrorInfo
			if err := json.Unmarshal(errJSON, &info); err != nil {
				return nil, err
			}
			j.Error = &info
		}
		out = append(out, j)
	}
	return out, rows.Err()
}
