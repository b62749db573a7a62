// Package bundle builds the deterministic per-day, per-filter text blob
// that the summariser consumes (spec §4.D).
package bundle

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/journalctl/core/internal/hashutil"
	"github.com/journalctl/core/internal/models"
	"github.com/journalctl/core/internal/store"
)

// Request identifies one bundle build (spec §4.D input).
type Request struct {
	ImportBatchIDs        []string
	DayDate               string
	Sources               []models.Source
	LabelSpec             models.LabelSpec
	FilterProfileSnapshot models.FilterProfileSnapshot
}

// Result is what the bundle builder hands to the segmenter and, ultimately,
// into the Output record (spec §3 bundleHash/bundleContextHash).
type Result struct {
	BundleText        string
	BundleHash        string
	BundleContextHash string
	Atoms             []models.MessageAtom
}

// Service loads candidate atoms from the store and delegates to Render, the
// pure function invariant #4 requires.
type Service struct {
	Atoms *store.AtomRepo
}

// NewService builds a bundle Service.
func NewService(atoms *store.AtomRepo) *Service {
	return &Service{Atoms: atoms}
}

// Build loads role=user atoms matching req and renders the bundle (spec
// §4.D).
func (s *Service) Build(ctx context.Context, req Request) (Result, error) {
	labeled, err := s.Atoms.ForBundle(ctx, req.ImportBatchIDs, req.DayDate, req.Sources, req.LabelSpec)
	if err != nil {
		return Result{}, err
	}

	atoms := make([]models.MessageAtom, 0, len(labeled))
	for _, la := range labeled {
		if req.FilterProfileSnapshot.Matches(la.Category) {
			atoms = append(atoms, la.Atom)
		}
	}

	return Render(atoms, req), nil
}

// Render is the pure core of the bundle builder: given an already-filtered
// atom set and the request context needed for bundleContextHash, it applies
// cross-batch dedup, orders atoms per spec §9.1, and renders bundleText
// (spec §4.D, invariant #4).
func Render(atoms []models.MessageAtom, req Request) Result {
	deduped := dedupByStableID(atoms)

	ordered := make([]models.MessageAtom, len(deduped))
	copy(ordered, deduped)
	models.SortAtomsForBundle(ordered)

	bundleText := renderText(ordered)
	bundleHash := hashutil.SHA256Hex("bundle_v1|" + bundleText)
	bundleContextHash := computeBundleContextHash(req)

	return Result{
		BundleText:        bundleText,
		BundleHash:        bundleHash,
		BundleContextHash: bundleContextHash,
		Atoms:             ordered,
	}
}

// dedupByStableID keeps the first occurrence of each atomStableId,
// defence-in-depth against cross-batch duplicates the unique constraint
// already prevents (spec §4.D).
func dedupByStableID(atoms []models.MessageAtom) []models.MessageAtom {
	seen := make(map[string]bool, len(atoms))
	out := make([]models.MessageAtom, 0, len(atoms))
	for _, a := range atoms {
		if seen[a.AtomStableID] {
			continue
		}
		seen[a.AtomStableID] = true
		out = append(out, a)
	}
	return out
}

// RenderAtomsText renders an already-ordered atom slice with the same
// grouping rules as Render, without touching bundleHash/bundleContextHash.
// Used by the tick orchestrator to render per-segment text for the
// summariser, where the segment's hash identity is segmentId, not a
// recomputed bundleHash (spec §4.E, §4.H step 7).
func RenderAtomsText(atoms []models.MessageAtom) string {
	return renderText(atoms)
}

// renderText groups ordered atoms by source (already source-major sorted),
// emitting a `# SOURCE: <source>` header per group and one
// `[<canonicalTs>] <role>: <text>` line per atom, blank-line separated
// between source groups, no trailing blank line (spec §4.D "Rendering").
func renderText(ordered []models.MessageAtom) string {
	if len(ordered) == 0 {
		return ""
	}

	var groups [][]models.MessageAtom
	var cur []models.MessageAtom
	var curSource models.Source
	for i, a := range ordered {
		if i == 0 || a.Source != curSource {
			if len(cur) > 0 {
				groups = append(groups, cur)
			}
			cur = nil
			curSource = a.Source
		}
		cur = append(cur, a)
	}
	if len(cur) > 0 {
		groups = append(groups, cur)
	}

	var blocks []string
	for _, g := range groups {
		var b strings.Builder
		fmt.Fprintf(&b, "# SOURCE: %s", g[0].Source)
		for _, a := range g {
			fmt.Fprintf(&b, "\n[%s] %s: %s", hashutil.CanonicalTimestamp(a.TimestampUTC), a.Role, a.Text)
		}
		blocks = append(blocks, b.String())
	}
	return strings.Join(blocks, "\n\n")
}

// computeBundleContextHash implements spec §3's
// bundleContextHash formula exactly.
func computeBundleContextHash(req Request) string {
	sortedBatchIDs := append([]string(nil), req.ImportBatchIDs...)
	sort.Strings(sortedBatchIDs)

	sortedSources := append([]models.Source(nil), req.Sources...)
	sort.Slice(sortedSources, func(i, j int) bool { return sortedSources[i] < sortedSources[j] })
	sourceStrings := make([]string, len(sortedSources))
	for i, s := range sortedSources {
		sourceStrings[i] = string(s)
	}

	filterJSON := mustJSON(req.FilterProfileSnapshot)
	labelSpecJSON := mustJSON(req.LabelSpec)

	input := "bundle_ctx_v1|" + strings.Join(sortedBatchIDs, ",") + "|" + req.DayDate + "|" +
		strings.Join(sourceStrings, ",") + "|" + filterJSON + "|" + labelSpecJSON
	return hashutil.SHA256Hex(input)
}

// mustJSON marshals v with encoding/json. Struct field order is fixed by
// declaration order, so the output is stable across runs for the same type.
func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic("bundle: marshal context hash component: " + err.Error())
	}
	return string(b)
}
