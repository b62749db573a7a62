// Package tick implements the advisory-lock-serialised tick orchestrator:
// pull queued jobs, build bundles, call the summariser, write outputs, and
// recompute run status (spec §4.H).
package tick

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/journalctl/core/internal/apperrors"
	"github.com/journalctl/core/internal/bundle"
	"github.com/journalctl/core/internal/config"
	"github.com/journalctl/core/internal/hashutil"
	"github.com/journalctl/core/internal/llmclient"
	"github.com/journalctl/core/internal/models"
	runpkg "github.com/journalctl/core/internal/run"
	"github.com/journalctl/core/internal/segment"
	"github.com/journalctl/core/internal/store"
	"github.com/journalctl/core/internal/summarize"
)

// Progress is a read-only report of what one ProcessTick call observed or
// did, returned to the caller after the advisory lock is released.
type Progress struct {
	RunID             string
	Status            models.RunStatus
	JobCounts         map[models.JobStatus]int
	ProcessedDayDates []string
}

// Service runs processTick against a store.Store, building a fresh
// rate-limited LLM client for every tick (spec §5: "there is no cross-tick
// sharing" of the rate limiter).
type Service struct {
	Store     *store.Store
	Bundle    *bundle.Service
	Pricing   *config.PricingBook
	OpenAI    llmclient.Provider
	Anthropic llmclient.Provider
	Env       config.LLMEnv
	Now       func() time.Time
}

// NewService builds a tick Service. OpenAI/Anthropic may be nil when their
// credentials are absent (spec §6); summarize calls against those providers
// then fail with MissingApiKeyError rather than panicking.
func NewService(s *store.Store, bundleSvc *bundle.Service, pricing *config.PricingBook, openAI, anthropic llmclient.Provider, env config.LLMEnv) *Service {
	return &Service{
		Store: s, Bundle: bundleSvc, Pricing: pricing,
		OpenAI: openAI, Anthropic: anthropic, Env: env,
		Now: func() time.Time { return time.Now().UTC() },
	}
}

// ProcessTick runs spec §4.H's full sequence for one run, processing up to
// maxJobs queued jobs strictly sequentially under the run's advisory lock.
func (s *Service) ProcessTick(ctx context.Context, runID string, maxJobs int) (*Progress, error) {
	if maxJobs <= 0 {
		maxJobs = 1
	}
	if _, err := s.Store.Runs.Get(ctx, runID); err != nil {
		return nil, err
	}

	key := store.StableHash64(runID)
	unlock, ok, err := s.Store.TryAdvisoryLock(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &apperrors.TickInProgressError{RunID: runID}
	}
	defer func() { _ = unlock(ctx) }()

	tx, err := s.Store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	runRec, err := s.Store.Runs.GetForUpdate(ctx, tx, runID)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}

	if runRec.Status == models.RunStatusCancelled {
		counts, err := s.Store.Jobs.StatusCounts(ctx, tx, runID)
		if err != nil {
			_ = tx.Rollback()
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		return &Progress{RunID: runID, Status: runRec.Status, JobCounts: counts}, nil
	}

	queued, err := s.Store.Jobs.QueuedPage(ctx, tx, runID, maxJobs)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}

	if len(queued) == 0 {
		counts, err := s.Store.Jobs.StatusCounts(ctx, tx, runID)
		if err != nil {
			_ = tx.Rollback()
			return nil, err
		}
		newStatus := runpkg.RecomputeStatus(runRec.Status, counts)
		if newStatus != runRec.Status {
			if err := s.Store.Runs.UpdateStatus(ctx, tx, runID, newStatus); err != nil {
				_ = tx.Rollback()
				return nil, err
			}
		}
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		return &Progress{RunID: runID, Status: newStatus, JobCounts: counts}, nil
	}

	if runRec.Status != models.RunStatusRunning {
		if err := s.Store.Runs.UpdateStatus(ctx, tx, runID, models.RunStatusRunning); err != nil {
			_ = tx.Rollback()
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	promptVersion, err := s.Store.Prompts.Get(ctx, runRec.Config.SummarizePromptVersionID)
	if err != nil {
		return nil, err
	}

	limiter := llmclient.NewRateLimiter(s.Env.MinDelayMs)
	llm := llmclient.NewClient(limiter, s.Pricing, s.OpenAI, s.Anthropic)
	summarizer := summarize.NewService(llm)
	policy := llmclient.BudgetPolicy{MaxUsdPerRun: s.Env.MaxUsdPerRun, MaxUsdPerDay: s.Env.MaxUsdPerDay}

	spentForRun, err := s.Store.Jobs.SumSpentForRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	processed := make([]string, 0, len(queued))
	for _, job := range queued {
		spentForRun, err = s.processJob(ctx, runRec, job, promptVersion.TemplateText, summarizer, policy, spentForRun)
		if err != nil {
			return nil, err
		}
		processed = append(processed, job.DayDate)
	}

	tx2, err := s.Store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	counts, err := s.Store.Jobs.StatusCounts(ctx, tx2, runID)
	if err != nil {
		_ = tx2.Rollback()
		return nil, err
	}
	finalStatus := runpkg.RecomputeStatus(models.RunStatusRunning, counts)
	if finalStatus != models.RunStatusRunning {
		if err := s.Store.Runs.UpdateStatus(ctx, tx2, runID, finalStatus); err != nil {
			_ = tx2.Rollback()
			return nil, err
		}
	}
	if err := tx2.Commit(); err != nil {
		return nil, err
	}

	return &Progress{RunID: runID, Status: finalStatus, JobCounts: counts, ProcessedDayDates: processed}, nil
}

// processJob runs spec §4.H step 7 for one job: mark running, build the
// bundle, segment it, summarise each segment, then mark the job terminal.
// It returns the running total spent for the run (for the next job's
// budget check) and only returns a non-nil error for infrastructure
// failures — LLM/budget failures are caught and stored on the job row, per
// §7's "the tick itself does not fail".
func (s *Service) processJob(ctx context.Context, runRec *models.Run, job models.Job, promptTemplateText string, summarizer *summarize.Service, policy llmclient.BudgetPolicy, spentForRun float64) (float64, error) {
	if err := s.markRunning(ctx, runRec.ID, job.DayDate); err != nil {
		return spentForRun, err
	}

	bundleResult, err := s.Bundle.Build(ctx, bundle.Request{
		ImportBatchIDs:        runRec.Config.ImportBatchIDs,
		DayDate:               job.DayDate,
		Sources:               runRec.Sources,
		LabelSpec:             runRec.Config.LabelSpec,
		FilterProfileSnapshot: runRec.Config.FilterProfileSnapshot,
	})
	if err != nil {
		return spentForRun, err
	}

	if len(bundleResult.Atoms) == 0 {
		if err := s.markSucceeded(ctx, runRec.ID, job.DayDate, 0, 0, 0); err != nil {
			return spentForRun, err
		}
		return spentForRun, nil
	}

	segResult := segment.Build(bundleResult.Atoms, bundleResult.BundleHash, runRec.Config.MaxInputTokens)

	snapshot := models.PricingSnapshot{}
	if runRec.Config.PricingSnapshot != nil {
		snapshot = *runRec.Config.PricingSnapshot
	}

	var tokensIn, tokensOut int
	var costUsd float64
	var parts []string
	var segmentIDs []string
	var jobErr error

	for i, seg := range segResult.Segments {
		segText := bundle.RenderAtomsText(seg.Atoms)
		result, callErr := summarizer.Summarize(ctx, summarize.Request{
			BundleText:           segText,
			Model:                runRec.Model,
			PromptVersionID:      runRec.Config.SummarizePromptVersionID,
			PromptTemplateText:   promptTemplateText,
			EstimatedInputTokens: seg.EstimatedInputTokens,
		}, snapshot, policy, spentForRun+costUsd, s.Store.Jobs)
		if callErr != nil {
			jobErr = callErr
			break
		}

		tokensIn += result.TokensIn
		tokensOut += result.TokensOut
		costUsd += result.CostUsd
		segmentIDs = append(segmentIDs, seg.ID)

		text := result.Text
		if segResult.WasSegmented {
			text = fmt.Sprintf("## Segment %d\n\n%s", i+1, text)
		}
		parts = append(parts, text)
	}

	spentForRun += costUsd

	if jobErr != nil {
		info := models.JobErrorInfo{
			Code:      apperrors.Code(jobErr),
			Message:   jobErr.Error(),
			Retriable: apperrors.Retriable(jobErr),
			At:        hashutil.CanonicalTimestamp(s.Now()),
		}
		if err := s.markFailed(ctx, runRec.ID, job.DayDate, tokensIn, tokensOut, costUsd, info); err != nil {
			return spentForRun, err
		}
		return spentForRun, nil
	}

	estimatedInputTokens := 0
	for _, seg := range segResult.Segments {
		estimatedInputTokens += seg.EstimatedInputTokens
	}

	meta := models.OutputMeta{
		Segmented:            segResult.WasSegmented,
		AtomCount:            len(bundleResult.Atoms),
		EstimatedInputTokens: estimatedInputTokens,
	}
	if segResult.WasSegmented {
		count := len(segResult.Segments)
		meta.SegmentCount = &count
		meta.SegmentIDs = segmentIDs
	}

	output := models.Output{
		ID:                uuid.New().String(),
		JobRunID:          runRec.ID,
		JobDayDate:        job.DayDate,
		Stage:             "summarize",
		OutputText:        strings.Join(parts, "\n\n"),
		Meta:              meta,
		Model:             runRec.Model,
		PromptVersionID:   runRec.Config.SummarizePromptVersionID,
		BundleHash:        bundleResult.BundleHash,
		BundleContextHash: bundleResult.BundleContextHash,
		CreatedAt:         s.Now(),
	}

	if err := s.writeOutputAndSucceed(ctx, output, tokensIn, tokensOut, costUsd); err != nil {
		return spentForRun, err
	}
	return spentForRun, nil
}

func (s *Service) markRunning(ctx context.Context, runID, dayDate string) error {
	tx, err := s.Store.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := s.Store.Jobs.MarkRunning(ctx, tx, runID, dayDate); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Service) markSucceeded(ctx context.Context, runID, dayDate string, tokensIn, tokensOut int, costUsd float64) error {
	tx, err := s.Store.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := s.Store.Jobs.MarkSucceeded(ctx, tx, runID, dayDate, tokensIn, tokensOut, costUsd); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Service) markFailed(ctx context.Context, runID, dayDate string, tokensIn, tokensOut int, costUsd float64, info models.JobErrorInfo) error {
	tx, err := s.Store.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := s.Store.Jobs.MarkFailed(ctx, tx, runID, dayDate, tokensIn, tokensOut, costUsd, info); err != nil {
		return err
	}
	return tx.Commit()
}

// writeOutputAndSucceed inserts the Output and marks the job succeeded in
// one transaction, so a mid-write crash can never leave a partial Output
// row orphaned from its job's status (spec §9 "Failure isolation").
func (s *Service) writeOutputAndSucceed(ctx context.Context, output models.Output, tokensIn, tokensOut int, costUsd float64) error {
	tx, err := s.Store.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := s.Store.Outputs.Create(ctx, tx, output); err != nil {
		return err
	}
	if err := s.Store.Jobs.MarkSucceeded(ctx, tx, output.JobRunID, output.JobDayDate, tokensIn, tokensOut, costUsd); err != nil {
		return err
	}
	return tx.Commit()
}
