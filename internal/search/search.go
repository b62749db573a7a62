// Package search implements full-text search over atoms and outputs,
// with opaque keyset-cursor pagination (spec §4.L).
package search

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/journalctl/core/internal/apperrors"
	"github.com/journalctl/core/internal/models"
	"github.com/journalctl/core/internal/store"
)

// Scope selects which table full-text search runs over.
type Scope string

const (
	ScopeRaw     Scope = "raw"
	ScopeOutputs Scope = "outputs"
)

// Filters narrows a search query; all fields are optional except that
// Categories requires label context (spec §4.L "categories REQUIRES
// label context").
type Filters struct {
	ImportBatchID string
	RunID         string
	StartDate     string // YYYY-MM-DD, inclusive
	EndDate       string // YYYY-MM-DD, inclusive
	Sources       []models.Source
	Categories    []models.Category
	LabelSpec     *models.LabelSpec // explicit label context; resolved from RunID's config if nil
}

// Cursor is the decoded form of the opaque pagination token (spec §4.L
// "Keyset pagination").
type Cursor struct {
	Rank float64 `json:"rank"`
	ID   string  `json:"id"`
}

// EncodeCursor serialises a Cursor to the opaque base64url token clients
// pass back as the next page's cursor parameter.
func EncodeCursor(c Cursor) string {
	b, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(b)
}

// DecodeCursor parses a cursor token, returning InvalidInputError on any
// malformed input (spec §4.L "Invalid cursor → InvalidInputError").
func DecodeCursor(token string) (Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, apperrors.NewInvalidInput("invalid search cursor", nil)
	}
	var c Cursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return Cursor{}, apperrors.NewInvalidInput("invalid search cursor", nil)
	}
	return c, nil
}

// AtomProjection is the raw-scope hit shape (spec §4.L "atom projection",
// source/role lowercased).
type AtomProjection struct {
	ID           string
	Source       string
	Role         string
	DayDate      string
	TimestampUTC time.Time
	Text         string
}

// OutputProjection is the outputs-scope hit shape (stage lowercased).
type OutputProjection struct {
	ID        string
	RunID     string
	DayDate   string
	Stage     string
	Model     string
	CreatedAt time.Time
}

// Item is one search hit: a rank, an ellipsised/highlighted snippet, and
// exactly one of Atom or Output depending on the query's scope.
type Item struct {
	Rank    float64
	Snippet string
	Atom    *AtomProjection
	Output  *OutputProjection
}

// Result is one page of search hits plus the opaque cursor for the next
// page, empty when there are no more results.
type Result struct {
	Items      []Item
	NextCursor string
}

const defaultPageSize = 20

// headlineOptions configures ts_headline's <</>>  highlight markers (spec
// §4.L "highlighted with <</>>").
const headlineOptions = "StartSel=<<,StopSel=>>,MaxFragments=1,MaxWords=35,MinWords=15"

// Service runs full-text search queries against the store's connection
// pool directly; search is read-only and does not need the repository
// layer's transactional guarantees.
type Service struct {
	Store *store.Store
}

// NewService builds a search Service.
func NewService(s *store.Store) *Service {
	return &Service{Store: s}
}

// Search runs spec §4.L end to end: cursor decoding, label-context
// resolution for a categories filter, scope dispatch, and next-cursor
// construction.
func (s *Service) Search(ctx context.Context, scope Scope, query string, filters Filters, cursorToken string, pageSize int) (*Result, error) {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	var after *Cursor
	if cursorToken != "" {
		c, err := DecodeCursor(cursorToken)
		if err != nil {
			return nil, err
		}
		after = &c
	}

	if len(filters.Categories) > 0 && filters.LabelSpec == nil {
		resolved, err := s.resolveLabelSpec(ctx, filters.RunID)
		if err != nil {
			return nil, err
		}
		filters.LabelSpec = resolved
	}

	switch scope {
	case ScopeRaw:
		return s.searchAtoms(ctx, query, filters, after, pageSize)
	case ScopeOutputs:
		return s.searchOutputs(ctx, query, filters, after, pageSize)
	default:
		return nil, apperrors.NewInvalidInput(fmt.Sprintf("unknown search scope %q", scope), nil)
	}
}

func (s *Service) resolveLabelSpec(ctx context.Context, runID string) (*models.LabelSpec, error) {
	if runID == "" {
		return nil, apperrors.NewInvalidInput("categories filter requires label context: pass labelSpec or runId", nil)
	}
	run, err := s.Store.Runs.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	ls := run.Config.LabelSpec
	return &ls, nil
}

// argList accumulates positional query parameters and returns the $N
// placeholder for each, allowing the same bound value to be referenced
// more than once (the cursor predicate needs rank twice).
type argList struct {
	args []any
}

func (a *argList) add(v any) string {
	a.args = append(a.args, v)
	return fmt.Sprintf("$%d", len(a.args))
}

func (s *Service) searchAtoms(ctx context.Context, query string, f Filters, after *Cursor, pageSize int) (*Result, error) {
	args := &argList{}
	queryPh := args.add(query)

	conditions := []string{"a.text_tsv @@ q.tsq"}
	if f.ImportBatchID != "" {
		conditions = append(conditions, fmt.Sprintf("a.import_batch_id = %s", args.add(f.ImportBatchID)))
	}
	if f.RunID != "" {
		conditions = append(conditions, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM run_batches rb WHERE rb.run_id = %s AND rb.import_batch_id = a.import_batch_id)",
			args.add(f.RunID)))
	}
	if f.StartDate != "" && f.EndDate != "" {
		startPh := args.add(f.StartDate)
		endPh := args.add(f.EndDate)
		conditions = append(conditions, fmt.Sprintf("a.day_date BETWEEN %s AND %s", startPh, endPh))
	}
	if len(f.Sources) > 0 {
		conditions = append(conditions, fmt.Sprintf("a.source = ANY(%s::text[])", args.add(toTextArray(sourceStrings(f.Sources)))))
	}
	if len(f.Categories) > 0 {
		modelPh := args.add(f.LabelSpec.Model)
		versionPh := args.add(f.LabelSpec.PromptVersionID)
		catsPh := args.add(toTextArray(categoryStrings(f.Categories)))
		conditions = append(conditions, fmt.Sprintf(
			`EXISTS (SELECT 1 FROM message_labels l WHERE l.message_atom_id = a.id
			         AND l.model = %s AND l.prompt_version_id = %s AND l.category = ANY(%s::text[]))`,
			modelPh, versionPh, catsPh))
	}

	inner := fmt.Sprintf(`
		SELECT a.id, a.source, a.role, a.day_date, a.timestamp_utc, a.text,
		       ts_rank(a.text_tsv, q.tsq) AS rank,
		       ts_headline('english', a.text, q.tsq, '%s') AS snippet
		FROM message_atoms a, (SELECT plainto_tsquery('english', %s) AS tsq) q
		WHERE %s`, headlineOptions, queryPh, strings.Join(conditions, " AND "))

	outerSQL, limitArgsQuery := wrapWithCursorAndLimit(inner, args, after, pageSize)

	rows, err := s.Store.DB().QueryContext(ctx, outerSQL, limitArgsQuery...)
	if err != nil {
		return nil, fmt.Errorf("search atoms: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var id, sourceStr, roleStr, dayDate, text, snippet string
		var ts time.Time
		var rank float64
		if err := rows.Scan(&id, &sourceStr, &roleStr, &dayDate, &ts, &text, &rank, &snippet); err != nil {
			return nil, err
		}
		items = append(items, Item{
			Rank:    rank,
			Snippet: snippet,
			Atom: &AtomProjection{
				ID: id, Source: strings.ToLower(sourceStr), Role: strings.ToLower(roleStr),
				DayDate: dayDate, TimestampUTC: ts, Text: text,
			},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return paginate(items, pageSize, func(it Item) Cursor { return Cursor{Rank: it.Rank, ID: it.Atom.ID} }), nil
}

func (s *Service) searchOutputs(ctx context.Context, query string, f Filters, after *Cursor, pageSize int) (*Result, error) {
	args := &argList{}
	queryPh := args.add(query)

	conditions := []string{"o.output_tsv @@ q.tsq"}
	if f.RunID != "" {
		conditions = append(conditions, fmt.Sprintf("o.job_run_id = %s", args.add(f.RunID)))
	}
	if f.ImportBatchID != "" {
		conditions = append(conditions, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM run_batches rb WHERE rb.run_id = o.job_run_id AND rb.import_batch_id = %s)",
			args.add(f.ImportBatchID)))
	}
	if f.StartDate != "" && f.EndDate != "" {
		startPh := args.add(f.StartDate)
		endPh := args.add(f.EndDate)
		conditions = append(conditions, fmt.Sprintf("o.job_day_date BETWEEN %s AND %s", startPh, endPh))
	}
	if len(f.Sources) > 0 {
		conditions = append(conditions, fmt.Sprintf(
			`EXISTS (SELECT 1 FROM run_batches rb JOIN import_batches ib ON ib.id = rb.import_batch_id
			         WHERE rb.run_id = o.job_run_id AND ib.source = ANY(%s::text[]))`,
			args.add(toTextArray(sourceStrings(f.Sources)))))
	}
	if len(f.Categories) > 0 {
		modelPh := args.add(f.LabelSpec.Model)
		versionPh := args.add(f.LabelSpec.PromptVersionID)
		catsPh := args.add(toTextArray(categoryStrings(f.Categories)))
		conditions = append(conditions, fmt.Sprintf(
			`EXISTS (SELECT 1 FROM message_atoms ma
			         JOIN message_labels l ON l.message_atom_id = ma.id
			         JOIN run_batches rb ON rb.import_batch_id = ma.import_batch_id AND rb.run_id = o.job_run_id
			         WHERE ma.day_date = o.job_day_date
			           AND l.model = %s AND l.prompt_version_id = %s AND l.category = ANY(%s::text[]))`,
			modelPh, versionPh, catsPh))
	}

	inner := fmt.Sprintf(`
		SELECT o.id, o.job_run_id, o.job_day_date, o.stage, o.model, o.created_at,
		       ts_rank(o.output_tsv, q.tsq) AS rank,
		       ts_headline('english', o.output_text, q.tsq, '%s') AS snippet
		FROM outputs o, (SELECT plainto_tsquery('english', %s) AS tsq) q
		WHERE %s`, headlineOptions, queryPh, strings.Join(conditions, " AND "))

	outerSQL, queryArgs := wrapWithCursorAndLimit(inner, args, after, pageSize)

	rows, err := s.Store.DB().QueryContext(ctx, outerSQL, queryArgs...)
	if err != nil {
		return nil, fmt.Errorf("search outputs: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var id, runID, dayDate, stage, model, snippet string
		var createdAt time.Time
		var rank float64
		if err := rows.Scan(&id, &runID, &dayDate, &stage, &model, &createdAt, &rank, &snippet); err != nil {
			return nil, err
		}
		items = append(items, Item{
			Rank:    rank,
			Snippet: snippet,
			Output: &OutputProjection{
				ID: id, RunID: runID, DayDate: dayDate,
				Stage: strings.ToLower(stage), Model: model, CreatedAt: createdAt,
			},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return paginate(items, pageSize, func(it Item) Cursor { return Cursor{Rank: it.Rank, ID: it.Output.ID} }), nil
}

// wrapWithCursorAndLimit wraps inner in an outer SELECT so the rank alias
// is addressable in the keyset predicate (Postgres does not let a WHERE
// clause see a sibling SELECT's aliases), applies the ordering spec §4.L
// fixes (rank DESC, id ASC), and fetches one extra row to detect a next
// page.
func wrapWithCursorAndLimit(inner string, args *argList, after *Cursor, pageSize int) (string, []any) {
	outer := fmt.Sprintf("SELECT * FROM (%s) t", inner)
	if after != nil {
		rankPh := args.add(after.Rank)
		idPh := args.add(after.ID)
		outer += fmt.Sprintf(" WHERE (rank < %s OR (rank = %s AND id > %s))", rankPh, rankPh, idPh)
	}
	limitPh := args.add(pageSize + 1)
	outer += fmt.Sprintf(" ORDER BY rank DESC, id ASC LIMIT %s", limitPh)
	return outer, args.args
}

// paginate trims the fetched page back to pageSize and derives the next
// cursor from the last retained item, if a (pageSize+1)-th row was found.
func paginate(items []Item, pageSize int, cursorOf func(Item) Cursor) *Result {
	if len(items) > pageSize {
		next := EncodeCursor(cursorOf(items[pageSize-1]))
		return &Result{Items: items[:pageSize], NextCursor: next}
	}
	return &Result{Items: items}
}

func sourceStrings(sources []models.Source) []string {
	out := make([]string, len(sources))
	for i, s := range sources {
		out[i] = string(s)
	}
	return out
}

func categoryStrings(categories []models.Category) []string {
	out := make([]string, len(categories))
	for i, c := range categories {
		out[i] = string(c)
	}
	return out
}

// toTextArray renders ss as a Postgres text[] literal, mirroring
// internal/store's array helper since search queries the pool directly
// rather than through a repository.
func toTextArray(ss []string) string {
	quoted := make([]string, len(ss))
	for i, s := range ss {
		quoted[i] = `"` + strings.ReplaceAll(strings.ReplaceAll(s, `\`, `\\`), `"`, `\"`) + `"`
	}
	return "{" + strings.Join(quoted, ",") + "}"
}
