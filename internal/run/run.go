// Package run implements the Run state machine: creation contract and
// status-transition rules (spec §4.G).
package run

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/journalctl/core/internal/apperrors"
	"github.com/journalctl/core/internal/config"
	"github.com/journalctl/core/internal/models"
	"github.com/journalctl/core/internal/store"
)

// CreateRequest is a run-creation call (spec §4.G, §7.3).
type CreateRequest struct {
	ImportBatchID   string   // back-compat single-batch form
	ImportBatchIDs  []string // many-batch form
	Model           string
	StartDate       string
	EndDate         string
	Sources         []models.Source
	FilterProfileID string
	OutputTarget    string
	LabelSpec       *models.LabelSpec // explicit override; nil resolves the default
	MaxInputTokens  int
}

// Service creates and transitions Runs.
type Service struct {
	Store   *store.Store
	Pricing *config.PricingBook
	Now     func() time.Time
}

// NewService builds a run Service.
func NewService(s *store.Store, pricing *config.PricingBook) *Service {
	return &Service{Store: s, Pricing: pricing, Now: func() time.Time { return time.Now().UTC() }}
}

// Create runs spec §4.G's full creation contract.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*models.Run, error) {
	batchIDs, err := normalizeBatchIDs(req)
	if err != nil {
		return nil, err
	}

	batches := make([]*models.ImportBatch, 0, len(batchIDs))
	timezones := make(map[string][]string)
	for _, id := range batchIDs {
		b, err := s.Store.Batches.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
		timezones[b.Timezone] = append(timezones[b.Timezone], id)
	}
	if len(timezones) > 1 {
		return nil, &apperrors.TimezoneMismatchError{Timezones: timezones}
	}
	timezone := batches[0].Timezone

	summarizeVersion, err := s.Store.Prompts.ActiveForStage(ctx, models.PromptStageSummarize)
	if err != nil {
		return nil, err
	}

	labelSpec, err := s.resolveLabelSpec(ctx, req.LabelSpec)
	if err != nil {
		return nil, err
	}

	filterProfile, err := s.Store.Profiles.Get(ctx, req.FilterProfileID)
	if err != nil {
		return nil, err
	}
	filterSnapshot := store.Snapshot(*filterProfile)

	now := s.Now()
	var pricingSnapshot *models.PricingSnapshot
	if s.Pricing != nil {
		snap, err := s.Pricing.Snapshot(req.Model, now)
		if err != nil {
			return nil, err
		}
		pricingSnapshot = &snap
	}

	maxInputTokens := req.MaxInputTokens
	if maxInputTokens <= 0 {
		maxInputTokens = 8000
	}

	cfg := models.RunConfig{
		SummarizePromptVersionID: summarizeVersion.ID,
		LabelSpec:                labelSpec,
		FilterProfileSnapshot:    filterSnapshot,
		Timezone:                 timezone,
		MaxInputTokens:           maxInputTokens,
		PricingSnapshot:          pricingSnapshot,
		ImportBatchIDs:           batchIDs,
	}

	eligibleDays, err := s.Store.Atoms.EligibleDayDates(ctx, batchIDs, req.Sources, req.StartDate, req.EndDate, labelSpec)
	if err != nil {
		return nil, err
	}

	dayDates := make([]string, 0, len(eligibleDays))
	for day, categories := range eligibleDays {
		for _, c := range categories {
			if filterSnapshot.Matches(c) {
				dayDates = append(dayDates, day)
				break
			}
		}
	}
	sort.Strings(dayDates)

	if len(dayDates) == 0 {
		return nil, &apperrors.NoEligibleDaysError{StartDate: req.StartDate, EndDate: req.EndDate}
	}

	runRecord := models.Run{
		ID:              uuid.New().String(),
		Status:          models.RunStatusQueued,
		Model:           req.Model,
		StartDate:       req.StartDate,
		EndDate:         req.EndDate,
		Sources:         req.Sources,
		FilterProfileID: req.FilterProfileID,
		OutputTarget:    req.OutputTarget,
		Config:          cfg,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	tx, err := s.Store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.Store.Runs.Create(ctx, tx, runRecord); err != nil {
		return nil, err
	}
	if err := s.Store.Jobs.CreateMany(ctx, tx, runRecord.ID, dayDates); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &runRecord, nil
}

// normalizeBatchIDs applies spec §4.G step 1's validation exactly.
func normalizeBatchIDs(req CreateRequest) ([]string, error) {
	if req.ImportBatchID != "" && len(req.ImportBatchIDs) > 0 {
		return nil, apperrors.NewInvalidInput("provide either importBatchId or importBatchIds, not both", nil)
	}
	var ids []string
	if req.ImportBatchID != "" {
		ids = []string{req.ImportBatchID}
	} else {
		ids = append(ids, req.ImportBatchIDs...)
	}
	if len(ids) == 0 {
		return nil, apperrors.NewInvalidInput("at least one import batch is required", nil)
	}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			return nil, apperrors.NewInvalidInput("duplicate import batch id: "+id, nil)
		}
		seen[id] = true
	}
	return ids, nil
}

// resolveLabelSpec implements spec §4.G step 4: explicit override, else the
// most-recently-created active classify prompt version paired with its
// model marker, which is carried as the prompt version's Name.
func (s *Service) resolveLabelSpec(ctx context.Context, override *models.LabelSpec) (models.LabelSpec, error) {
	if override != nil {
		return *override, nil
	}
	pv, err := s.Store.Prompts.MostRecentActiveClassify(ctx)
	if err != nil {
		return models.LabelSpec{}, err
	}
	return models.LabelSpec{Model: pv.Name, PromptVersionID: pv.ID}, nil
}

// RecomputeStatus implements spec §4.G's status-transition rules (§7.4.1,
// §7.6) from job status counts.
func RecomputeStatus(current models.RunStatus, counts map[models.JobStatus]int) models.RunStatus {
	if current == models.RunStatusCancelled {
		return models.RunStatusCancelled
	}

	total := 0
	for _, n := range counts {
		total += n
	}
	queued := counts[models.JobStatusQueued]
	running := counts[models.JobStatusRunning]
	failed := counts[models.JobStatusFailed]
	cancelled := counts[models.JobStatusCancelled]
	succeeded := counts[models.JobStatusSucceeded]
	terminal := failed + cancelled + succeeded

	if total == 0 || queued+cancelled == total {
		// Defensive fallback: all-zero or all-cancelled → queued.
		if total > 0 && cancelled == total {
			return models.RunStatusQueued
		}
		if total == 0 {
			return models.RunStatusQueued
		}
	}

	if running > 0 {
		return models.RunStatusRunning
	}
	if terminal == total {
		if failed > 0 {
			return models.RunStatusFailed
		}
		return models.RunStatusCompleted
	}
	if queued == total {
		return models.RunStatusQueued
	}
	// Some work done (terminal>0) and some jobs remain queued.
	return models.RunStatusRunning
}
