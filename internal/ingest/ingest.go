// Package ingest implements content-addressed ingestion: normalising
// parsed vendor messages into deduplicated atoms and per-day raw entries
// (spec §4.B).
package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/journalctl/core/internal/apperrors"
	"github.com/journalctl/core/internal/hashutil"
	"github.com/journalctl/core/internal/models"
	"github.com/journalctl/core/internal/store"
)

// ParsedMessage is the normalised message shape a vendor parser collaborator
// produces (spec §6 "Parsers").
type ParsedMessage struct {
	Source               models.Source
	SourceConversationID string
	SourceMessageID      string
	TimestampUTC         time.Time
	Role                 models.Role
	Text                 string
}

// Request bundles one parsed file's messages and metadata (spec §4.B input).
type Request struct {
	Messages         []ParsedMessage
	OriginalFilename string
	FileSizeBytes    int64
	Timezone         string
	SourceOverride   models.Source // optional; "" means "use each message's own Source"
}

// Result reports what ingest did, including the dedup warning line.
type Result struct {
	Batch    models.ImportBatch
	Warnings []string
}

// Service runs the ingest pipeline against a store.Store.
type Service struct {
	Store *store.Store
}

// NewService builds an ingest Service.
func NewService(s *store.Store) *Service {
	return &Service{Store: s}
}

// Import ingests req, returning the created ImportBatch and any dedup
// warnings (spec §4.B).
func (s *Service) Import(ctx context.Context, req Request) (*Result, error) {
	if len(req.Messages) == 0 {
		return nil, apperrors.NewInvalidInput("no messages", nil)
	}
	if req.Timezone == "" {
		return nil, apperrors.NewInvalidInput("timezone is required", nil)
	}
	if _, err := time.LoadLocation(req.Timezone); err != nil {
		return nil, apperrors.NewInvalidInput("unknown timezone: "+req.Timezone, nil)
	}

	type prepared struct {
		msg          ParsedMessage
		source       models.Source
		dayDate      string
		atomStableID string
		textHash     string
	}

	prep := make([]prepared, 0, len(req.Messages))
	stableIDs := make([]string, 0, len(req.Messages))
	for _, m := range req.Messages {
		source := m.Source
		if req.SourceOverride != "" {
			source = req.SourceOverride
		}
		if source == "" || !source.IsValid() {
			return nil, apperrors.NewInvalidInput("unknown format and no sourceOverride given", nil)
		}
		if !m.Role.IsValid() {
			return nil, apperrors.NewInvalidInput("invalid role: "+string(m.Role), nil)
		}

		dayDate := hashutil.ExtractDayDate(m.TimestampUTC, req.Timezone)
		textHash := hashutil.SHA256Hex(m.Text)
		canonicalTs := hashutil.CanonicalTimestamp(m.TimestampUTC)
		atomStableID := hashutil.SHA256Hex(
			"atom_v1|" + string(source) + "|" + m.SourceConversationID + "|" + m.SourceMessageID +
				"|" + canonicalTs + "|" + string(m.Role) + "|" + textHash,
		)

		prep = append(prep, prepared{msg: m, source: source, dayDate: dayDate, atomStableID: atomStableID, textHash: textHash})
		stableIDs = append(stableIDs, atomStableID)
	}

	existing, err := s.Store.Atoms.ExistingStableIDs(ctx, stableIDs)
	if err != nil {
		return nil, fmt.Errorf("probe existing atoms: %w", err)
	}

	var warnings []string

	batchID := uuid.New().String()
	now := time.Now().UTC()

	newAtoms := make([]models.MessageAtom, 0, len(prep))
	seenInBatch := make(map[string]bool, len(prep))
	duplicateCount := 0
	perSourceCounts := make(map[models.Source]int)
	dayDates := make(map[string]bool)
	var minDay, maxDay string

	for _, p := range prep {
		if existing[p.atomStableID] || seenInBatch[p.atomStableID] {
			duplicateCount++
			continue
		}
		seenInBatch[p.atomStableID] = true

		newAtoms = append(newAtoms, models.MessageAtom{
			ID:                   uuid.New().String(),
			AtomStableID:         p.atomStableID,
			ImportBatchID:        batchID,
			Source:               p.source,
			SourceConversationID: p.msg.SourceConversationID,
			SourceMessageID:      p.msg.SourceMessageID,
			TimestampUTC:         p.msg.TimestampUTC.UTC(),
			DayDate:              p.dayDate,
			Role:                 p.msg.Role,
			Text:                 p.msg.Text,
			TextHash:             p.textHash,
		})
		perSourceCounts[p.source]++
		dayDates[p.dayDate] = true
		if minDay == "" || p.dayDate < minDay {
			minDay = p.dayDate
		}
		if maxDay == "" || p.dayDate > maxDay {
			maxDay = p.dayDate
		}
	}

	if duplicateCount > 0 {
		warnings = append(warnings, fmt.Sprintf("Skipped %d duplicate messages", duplicateCount))
	}

	batch := models.ImportBatch{
		ID:               batchID,
		CreatedAt:        now,
		OriginalFilename: req.OriginalFilename,
		FileSizeBytes:    req.FileSizeBytes,
		Timezone:         req.Timezone,
		Stats: models.BatchStats{
			MessageCount:    len(newAtoms),
			DayCount:        len(dayDates),
			CoverageStart:   minDay,
			CoverageEnd:     maxDay,
			PerSourceCounts: perSourceCounts,
		},
	}
	// Source on the batch is informational; when messages span multiple
	// sources, report the dominant one.
	batch.Source = dominantSource(perSourceCounts)

	tx, err := s.Store.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin ingest tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.Store.Batches.Create(ctx, tx, batch); err != nil {
		return nil, err
	}
	if err := s.Store.Atoms.InsertMany(ctx, tx, newAtoms); err != nil {
		return nil, err
	}
	if err := createRawEntries(ctx, s.Store, tx, batchID, newAtoms); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit ingest tx: %w", err)
	}

	return &Result{Batch: batch, Warnings: warnings}, nil
}

// createRawEntries groups newly-inserted atoms by (source, dayDate) and
// writes one RawEntry per group (spec §4.B step 3, §3 RawEntry.contentHash).
func createRawEntries(ctx context.Context, s *store.Store, tx *sql.Tx, batchID string, atoms []models.MessageAtom) error {
	type key struct {
		source  models.Source
		dayDate string
	}
	groups := make(map[key][]models.MessageAtom)
	for _, a := range atoms {
		k := key{source: a.Source, dayDate: a.DayDate}
		groups[k] = append(groups[k], a)
	}

	keys := make([]key, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].dayDate != keys[j].dayDate {
			return keys[i].dayDate < keys[j].dayDate
		}
		return keys[i].source < keys[j].source
	})

	now := time.Now().UTC()
	for _, k := range keys {
		group := groups[k]
		models.SortAtomsCanonical(group)

		lines := make([]string, len(group))
		for i, a := range group {
			lines[i] = fmt.Sprintf("[%s] %s: %s", hashutil.CanonicalTimestamp(a.TimestampUTC), a.Role, a.Text)
		}
		contentText := strings.Join(lines, "\n")

		entry := models.RawEntry{
			ID:            uuid.New().String(),
			ImportBatchID: batchID,
			Source:        k.source,
			DayDate:       k.dayDate,
			ContentText:   contentText,
			ContentHash:   hashutil.SHA256Hex(contentText),
			CreatedAt:     now,
		}
		if err := s.RawEntries.Upsert(ctx, tx, entry); err != nil {
			return err
		}
	}
	return nil
}

// dominantSource returns the source with the highest message count,
// breaking ties alphabetically for determinism.
func dominantSource(counts map[models.Source]int) models.Source {
	if len(counts) == 0 {
		return ""
	}
	sources := make([]models.Source, 0, len(counts))
	for s := range counts {
		sources = append(sources, s)
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i] < sources[j] })
	best := sources[0]
	for _, s := range sources[1:] {
		if counts[s] > counts[best] {
			best = s
		}
	}
	return best
}
