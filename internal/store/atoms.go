package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/journalctl/core/internal/models"
)

// AtomRepo persists MessageAtom rows.
type AtomRepo struct{ db *sql.DB }

// ExistingStableIDs returns the subset of stableIDs already present in the
// table (spec §4.B step 2: "pre-transaction probe").
func (r *AtomRepo) ExistingStableIDs(ctx context.Context, stableIDs []string) (map[string]bool, error) {
	out := make(map[string]bool, len(stableIDs))
	if len(stableIDs) == 0 {
		return out, nil
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT atom_stable_id FROM message_atoms WHERE atom_stable_id = ANY($1::text[])`,
		toTextArray(stableIDs))
	if err != nil {
		return nil, fmt.Errorf("query existing atom ids: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}

// InsertMany bulk-inserts new atoms within tx, duplicate-safe on
// atom_stable_id (spec §4.B step 3).
func (r *AtomRepo) InsertMany(ctx context.Context, tx *sql.Tx, atoms []models.MessageAtom) error {
	for _, a := range atoms {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO message_atoms
				(id, atom_stable_id, import_batch_id, source, source_conversation_id,
				 source_message_id, timestamp_utc, day_date, role, text, text_hash)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
			ON CONFLICT (atom_stable_id) DO NOTHING`,
			a.ID, a.AtomStableID, a.ImportBatchID, string(a.Source), a.SourceConversationID,
			a.SourceMessageID, a.TimestampUTC, a.DayDate, string(a.Role), a.Text, a.TextHash,
		)
		if err != nil {
			return fmt.Errorf("insert message_atom %s: %w", a.AtomStableID, err)
		}
	}
	return nil
}

// ByBatchSourceDay loads all atoms for one (batch, source, day), ordered by
// (timestampUtc ASC, role per spec §9 user-before-assistant, atomStableId ASC).
func (r *AtomRepo) ByBatchSourceDay(ctx context.Context, batchID string, source models.Source, dayDate string) ([]models.MessageAtom, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, atom_stable_id, import_batch_id, source, source_conversation_id,
		       source_message_id, timestamp_utc, day_date, role, text, text_hash
		FROM message_atoms
		WHERE import_batch_id = $1 AND source = $2 AND day_date = $3`,
		batchID, string(source), dayDate)
	if err != nil {
		return nil, fmt.Errorf("query atoms: %w", err)
	}
	defer rows.Close()
	atoms, err := scanAtoms(rows)
	if err != nil {
		return nil, err
	}
	models.SortAtomsCanonical(atoms)
	return atoms, nil
}

// ForBundle loads role=user atoms for (batchIds, dayDate, sources) with an
// associated label for labelSpec passing the filter snapshot, per spec
// §4.D. Filtering by category is applied in Go after the join to keep the
// SQL simple and keep the filter semantics identical to the bundle
// builder's pure-function contract.
type LabeledAtom struct {
	Atom     models.MessageAtom
	Category models.Category
}

func (r *AtomRepo) ForBundle(ctx context.Context, batchIDs []string, dayDate string, sources []models.Source, labelSpec models.LabelSpec) ([]LabeledAtom, error) {
	if len(batchIDs) == 0 || len(sources) == 0 {
		return nil, nil
	}
	srcStrings := make([]string, len(sources))
	for i, s := range sources {
		srcStrings[i] = string(s)
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT a.id, a.atom_stable_id, a.import_batch_id, a.source, a.source_conversation_id,
		       a.source_message_id, a.timestamp_utc, a.day_date, a.role, a.text, a.text_hash,
		       l.category
		FROM message_atoms a
		JOIN message_labels l ON l.message_atom_id = a.id
		WHERE a.import_batch_id = ANY($1::text[])
		  AND a.day_date = $2
		  AND a.source = ANY($3::text[])
		  AND a.role = 'user'
		  AND l.model = $4
		  AND l.prompt_version_id = $5`,
		toTextArray(batchIDs), dayDate, toTextArray(srcStrings), labelSpec.Model, labelSpec.PromptVersionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query bundle atoms: %w", err)
	}
	defer rows.Close()

	var out []LabeledAtom
	for rows.Next() {
		var a models.MessageAtom
		var source, role, category string
		if err := rows.Scan(&a.ID, &a.AtomStableID, &a.ImportBatchID, &source, &a.SourceConversationID,
			&a.SourceMessageID, &a.TimestampUTC, &a.DayDate, &role, &a.Text, &a.TextHash, &category); err != nil {
			return nil, err
		}
		a.Source = models.Source(source)
		a.Role = models.Role(role)
		out = append(out, LabeledAtom{Atom: a, Category: models.Category(category)})
	}
	return out, rows.Err()
}

// EligibleDayDates returns the distinct dayDates within [start, end] having
// at least one role=user atom from batchIDs/sources with a label for
// labelSpec passing the filter snapshot (spec §4.G step 6). Category
// filtering happens in Go since it depends on FilterProfileSnapshot.Matches.
func (r *AtomRepo) EligibleDayDates(ctx context.Context, batchIDs []string, sources []models.Source, startDate, endDate string, labelSpec models.LabelSpec) (map[string][]models.Category, error) {
	if len(batchIDs) == 0 || len(sources) == 0 {
		return nil, nil
	}
	srcStrings := make([]string, len(sources))
	for i, s := range sources {
		srcStrings[i] = string(s)
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT a.day_date, l.category
		FROM message_atoms a
		JOIN message_labels l ON l.message_atom_id = a.id
		WHERE a.import_batch_id = ANY($1::text[])
		  AND a.source = ANY($2::text[])
		  AND a.role = 'user'
		  AND a.day_date BETWEEN $3 AND $4
		  AND l.model = $5
		  AND l.prompt_version_id = $6`,
		toTextArray(batchIDs), toTextArray(srcStrings), startDate, endDate, labelSpec.Model, labelSpec.PromptVersionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query eligible days: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]models.Category)
	for rows.Next() {
		var day, category string
		if err := rows.Scan(&day, &category); err != nil {
			return nil, err
		}
		out[day] = append(out[day], models.Category(category))
	}
	return out, rows.Err()
}

// ForExport loads role=user atoms for (batchIDs, sources, dayDate),
// unfiltered by any label/category — the export renderer's atoms/ tier
// shows the raw per-day record, not the summarizer's filtered bundle (spec
// §4.J "atoms/YYYY-MM-DD.md"). Ordered per spec §9.1.
func (r *AtomRepo) ForExport(ctx context.Context, batchIDs []string, sources []models.Source, dayDate string) ([]models.MessageAtom, error) {
	if len(batchIDs) == 0 || len(sources) == 0 {
		return nil, nil
	}
	srcStrings := make([]string, len(sources))
	for i, s := range sources {
		srcStrings[i] = string(s)
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, atom_stable_id, import_batch_id, source, source_conversation_id,
		       source_message_id, timestamp_utc, day_date, role, text, text_hash
		FROM message_atoms
		WHERE import_batch_id = ANY($1::text[]) AND source = ANY($2::text[])
		  AND day_date = $3 AND role = 'user'`,
		toTextArray(batchIDs), toTextArray(srcStrings), dayDate,
	)
	if err != nil {
		return nil, fmt.Errorf("query export atoms: %w", err)
	}
	defer rows.Close()
	atoms, err := scanAtoms(rows)
	if err != nil {
		return nil, err
	}
	models.SortAtomsForBundle(atoms)
	return atoms, nil
}

// ByIDs loads atoms by their primary key ids.
func (r *AtomRepo) ByIDs(ctx context.Context, ids []string) ([]models.MessageAtom, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, atom_stable_id, import_batch_id, source, source_conversation_id,
		       source_message_id, timestamp_utc, day_date, role, text, text_hash
		FROM message_atoms WHERE id = ANY($1::text[])`, toTextArray(ids))
	if err != nil {
		return nil, fmt.Errorf("query atoms by id: %w", err)
	}
	defer rows.Close()
	return scanAtoms(rows)
}

func scanAtoms(rows *sql.Rows) ([]models.MessageAtom, error) {
	var out []models.MessageAtom
	for rows.Next() {
		var a models.MessageAtom
		var source, role string
		if err := rows.Scan(&a.ID, &a.AtomStableID, &a.ImportBatchID, &source, &a.SourceConversationID,
			&a.SourceMessageID, &a.TimestampUTC, &a.DayDate, &role, &a.Text, &a.TextHash); err != nil {
			return nil, err
		}
		a.Source = models.Source(source)
		a.Role = models.Role(role)
		out = append(out, a)
	}
	return out, rows.Err()
}
