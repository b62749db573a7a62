package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/journalctl/core/internal/models"
)

// LabelRepo persists MessageLabel rows.
type LabelRepo struct{ db *sql.DB }

// UnlabeledAtomsPage returns up to pageSize atoms belonging to batchID that
// do not yet have a label for (model, promptVersionID), ordered by id with
// a keyset cursor (spec §4.C step 3: "keyset-paged batches (≤10 000 per
// page, cursor on id)").
func (r *LabelRepo) UnlabeledAtomsPage(ctx context.Context, batchID, model, promptVersionID, afterID string, pageSize int) ([]models.MessageAtom, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT a.id, a.atom_stable_id, a.import_batch_id, a.source, a.source_conversation_id,
		       a.source_message_id, a.timestamp_utc, a.day_date, a.role, a.text, a.text_hash
		FROM message_atoms a
		WHERE a.import_batch_id = $1
		  AND a.id > $2
		  AND NOT EXISTS (
		      SELECT 1 FROM message_labels l
		      WHERE l.message_atom_id = a.id AND l.model = $3 AND l.prompt_version_id = $4
		  )
		ORDER BY a.id ASC
		LIMIT $5`,
		batchID, afterID, model, promptVersionID, pageSize,
	)
	if err != nil {
		return nil, fmt.Errorf("query unlabeled atoms page: %w", err)
	}
	defer rows.Close()
	return scanAtoms(rows)
}

// CountTotalAndLabeled returns the total atom count for batchID and how
// many already carry a label for (model, promptVersionID) — used for the
// classify short-circuit (spec §4.C step 2).
func (r *LabelRepo) CountTotalAndLabeled(ctx context.Context, batchID, model, promptVersionID string) (total, labeled int, err error) {
	if err = r.db.QueryRowContext(ctx, `SELECT count(*) FROM message_atoms WHERE import_batch_id = $1`, batchID).Scan(&total); err != nil {
		return 0, 0, fmt.Errorf("count atoms: %w", err)
	}
	err = r.db.QueryRowContext(ctx, `
		SELECT count(*) FROM message_atoms a
		JOIN message_labels l ON l.message_atom_id = a.id
		WHERE a.import_batch_id = $1 AND l.model = $2 AND l.prompt_version_id = $3`,
		batchID, model, promptVersionID).Scan(&labeled)
	if err != nil {
		return 0, 0, fmt.Errorf("count labeled atoms: %w", err)
	}
	return total, labeled, nil
}

// InsertMany inserts labels, duplicate-safe on (atom, model, promptVersionId)
// (spec §4.C step 5). Returns the number of rows actually inserted.
func (r *LabelRepo) InsertMany(ctx context.Context, labels []models.MessageLabel) (int, error) {
	inserted := 0
	for _, l := range labels {
		res, err := r.db.ExecContext(ctx, `
			INSERT INTO message_labels (id, message_atom_id, model, prompt_version_id, category, confidence, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
			ON CONFLICT (message_atom_id, model, prompt_version_id) DO NOTHING`,
			l.ID, l.MessageAtomID, l.Model, l.PromptVersionID, string(l.Category), l.Confidence, l.CreatedAt,
		)
		if err != nil {
			return inserted, fmt.Errorf("insert message_label: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}
	return inserted, nil
}

// CategoriesForAtoms returns the category each of atomIDs carries under
// labelSpec, keyed by message_atom_id. Used by the v2 export orchestrator
// to assign atoms to topics (spec §4.K "additionally loads each atom's
// category via MessageLabel lookups keyed by the run's labelSpec").
func (r *LabelRepo) CategoriesForAtoms(ctx context.Context, atomIDs []string, labelSpec models.LabelSpec) (map[string]models.Category, error) {
	out := make(map[string]models.Category, len(atomIDs))
	if len(atomIDs) == 0 {
		return out, nil
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT message_atom_id, category FROM message_labels
		WHERE message_atom_id = ANY($1::text[]) AND model = $2 AND prompt_version_id = $3`,
		toTextArray(atomIDs), labelSpec.Model, labelSpec.PromptVersionID)
	if err != nil {
		return nil, fmt.Errorf("query categories for atoms: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id, category string
		if err := rows.Scan(&id, &category); err != nil {
			return nil, err
		}
		out[id] = models.Category(category)
	}
	return out, rows.Err()
}
