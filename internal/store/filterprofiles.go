package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/journalctl/core/internal/apperrors"
	"github.com/journalctl/core/internal/models"
)

// FilterProfileRepo persists FilterProfile rows.
type FilterProfileRepo struct{ db *sql.DB }

// Get loads one FilterProfile by id.
func (r *FilterProfileRepo) Get(ctx context.Context, id string) (*models.FilterProfile, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, name, mode, categories FROM filter_profiles WHERE id = $1`, id)
	var fp models.FilterProfile
	var mode string
	var catsJSON []byte
	if err := row.Scan(&fp.ID, &fp.Name, &mode, &catsJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.NewNotFound("FilterProfile", id)
		}
		return nil, fmt.Errorf("scan filter_profile: %w", err)
	}
	fp.Mode = models.FilterMode(mode)
	if err := json.Unmarshal(catsJSON, &fp.Categories); err != nil {
		return nil, fmt.Errorf("unmarshal categories: %w", err)
	}
	return &fp, nil
}

// Snapshot converts a stored FilterProfile into the value-object form
// frozen into a Run's configJson (spec §3: "Snapshot-by-value into runs").
func Snapshot(fp models.FilterProfile) models.FilterProfileSnapshot {
	cats := make([]models.Category, len(fp.Categories))
	copy(cats, fp.Categories)
	return models.FilterProfileSnapshot{Mode: fp.Mode, Categories: cats}
}
