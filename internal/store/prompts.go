package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/journalctl/core/internal/apperrors"
	"github.com/journalctl/core/internal/models"
)

// PromptRepo persists PromptVersion rows.
type PromptRepo struct{ db *sql.DB }

// Get loads one PromptVersion by id.
func (r *PromptRepo) Get(ctx context.Context, id string) (*models.PromptVersion, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, stage, name, version_label, template_text, is_active, created_at
		FROM prompt_versions WHERE id = $1`, id)
	pv, err := scanPromptVersion(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFound("PromptVersion", id)
	}
	return pv, err
}

// ActiveForStage returns the single active PromptVersion for stage, or
// NotFoundError if none is active.
func (r *PromptRepo) ActiveForStage(ctx context.Context, stage models.PromptStage) (*models.PromptVersion, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, stage, name, version_label, template_text, is_active, created_at
		FROM prompt_versions WHERE stage = $1 AND is_active LIMIT 1`, string(stage))
	pv, err := scanPromptVersion(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFound("active PromptVersion for stage", string(stage))
	}
	return pv, err
}

// MostRecentActiveClassify returns the most-recently-created active
// classify-stage prompt version, used to resolve a default labelSpec (spec
// §4.G step 4). The caller uses the version's Name as the model marker.
func (r *PromptRepo) MostRecentActiveClassify(ctx context.Context) (*models.PromptVersion, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, stage, name, version_label, template_text, is_active, created_at
		FROM prompt_versions WHERE stage = 'classify' AND is_active
		ORDER BY created_at DESC LIMIT 1`)
	pv, err := scanPromptVersion(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFound("active classify PromptVersion", "")
	}
	return pv, err
}

func scanPromptVersion(row *sql.Row) (*models.PromptVersion, error) {
	var pv models.PromptVersion
	var stage string
	if err := row.Scan(&pv.ID, &stage, &pv.Name, &pv.VersionLabel, &pv.TemplateText, &pv.IsActive, &pv.CreatedAt); err != nil {
		return nil, err
	}
	pv.Stage = models.PromptStage(stage)
	return &pv, nil
}
