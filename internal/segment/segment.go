// Package segment packs a bundle's atoms into token-bounded segments
// (spec §4.E "segmenter_v1").
package segment

import (
	"math"
	"strconv"

	"github.com/journalctl/core/internal/hashutil"
	"github.com/journalctl/core/internal/models"
)

// SourceHeaderOverhead is the token cost reserved whenever a new source
// header is emitted within a segment (spec §4.E).
const SourceHeaderOverhead = 20

// Segment is one contiguous, ordered slice of atoms that fits within
// maxInputTokens.
type Segment struct {
	ID                   string
	Atoms                []models.MessageAtom
	EstimatedInputTokens int
}

// Result is the segmenter's output for one bundle (spec §4.E).
type Result struct {
	Segments     []Segment
	WasSegmented bool
}

// EstimateTokens implements spec §4.E's `estimateTokens(s) = ceil(len(s)/4)`.
func EstimateTokens(s string) int {
	return int(math.Ceil(float64(len(s)) / 4))
}

// Build greedily packs atoms in order, never splitting an atom, flushing
// whenever the next atom (plus its possible source-header overhead) would
// exceed maxInputTokens and the current segment is non-empty (spec §4.E).
func Build(atoms []models.MessageAtom, bundleHash string, maxInputTokens int) Result {
	if len(atoms) == 0 {
		return Result{Segments: nil, WasSegmented: false}
	}

	type pending struct {
		atoms          []models.MessageAtom
		tokens         int
		lastSource     models.Source
		sourceSeen     bool
	}
	cur := &pending{}
	var segments []*pending

	flush := func() {
		if len(cur.atoms) > 0 {
			segments = append(segments, cur)
			cur = &pending{}
		}
	}

	for _, a := range atoms {
		atomTokens := EstimateTokens(a.Text)
		headerOverhead := 0
		newSource := !cur.sourceSeen || a.Source != cur.lastSource
		if newSource {
			headerOverhead = SourceHeaderOverhead
		}
		addition := atomTokens + headerOverhead

		if len(cur.atoms) > 0 && cur.tokens+addition > maxInputTokens {
			flush()
			newSource = true
			headerOverhead = SourceHeaderOverhead
			addition = atomTokens + headerOverhead
		}

		cur.atoms = append(cur.atoms, a)
		cur.tokens += addition
		cur.lastSource = a.Source
		cur.sourceSeen = true
	}
	flush()

	wasSegmented := len(segments) > 1

	out := make([]Segment, len(segments))
	for i, seg := range segments {
		out[i] = Segment{
			ID:                   hashutil.SHA256Hex("segment_v1|" + bundleHash + "|" + strconv.Itoa(i)),
			Atoms:                seg.atoms,
			EstimatedInputTokens: seg.tokens,
		}
	}

	return Result{Segments: out, WasSegmented: wasSegmented}
}
