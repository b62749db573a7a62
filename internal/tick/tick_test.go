package tick

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/journalctl/core/internal/apperrors"
	"github.com/journalctl/core/internal/bundle"
	"github.com/journalctl/core/internal/classify"
	"github.com/journalctl/core/internal/config"
	"github.com/journalctl/core/internal/ingest"
	"github.com/journalctl/core/internal/models"
	runpkg "github.com/journalctl/core/internal/run"
	"github.com/journalctl/core/internal/store"
	"github.com/journalctl/core/internal/store/storetest"
)

// seedPromptVersion inserts a prompt_versions row directly: neither
// PromptRepo nor FilterProfileRepo expose a write path (prompt/profile
// authoring lives outside the core operation surface this module covers),
// so fixture setup goes straight through the pool.
func seedPromptVersion(t *testing.T, s *store.Store, stage models.PromptStage, isActive bool) *models.PromptVersion {
	t.Helper()
	pv := &models.PromptVersion{
		ID:           uuid.New().String(),
		Stage:        stage,
		Name:         string(stage) + "-v1",
		VersionLabel: "v1",
		TemplateText: "category and confidence go here",
		IsActive:     isActive,
		CreatedAt:    time.Now().UTC(),
	}
	_, err := s.DB().ExecContext(context.Background(), `
		INSERT INTO prompt_versions (id, stage, name, version_label, template_text, is_active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		pv.ID, string(pv.Stage), pv.Name, pv.VersionLabel, pv.TemplateText, pv.IsActive, pv.CreatedAt)
	require.NoError(t, err)
	return pv
}

// seedFilterProfile inserts an exclude-mode, empty-categories profile,
// which FilterProfileSnapshot.Matches treats as "matches everything".
func seedFilterProfile(t *testing.T, s *store.Store) string {
	t.Helper()
	id := uuid.New().String()
	_, err := s.DB().ExecContext(context.Background(), `
		INSERT INTO filter_profiles (id, name, mode, categories) VALUES ($1,$2,$3,'[]'::jsonb)`,
		id, "exclude-none-"+id, string(models.FilterModeExclude))
	require.NoError(t, err)
	return id
}

func newFixtureRun(t *testing.T, s *store.Store, dayDate string) *models.Run {
	t.Helper()
	ctx := context.Background()

	seedPromptVersion(t, s, models.PromptStageSummarize, true)
	classifyPV := seedPromptVersion(t, s, models.PromptStageClassify, false)
	filterProfileID := seedFilterProfile(t, s)

	importer := ingest.NewService(s)
	day, err := time.Parse("2006-01-02", dayDate)
	require.NoError(t, err)
	base := day.Add(9 * time.Hour)
	result, err := importer.Import(ctx, ingest.Request{
		Messages: []ingest.ParsedMessage{
			{Source: models.SourceChatGPT, SourceConversationID: "c1", SourceMessageID: "m1", TimestampUTC: base, Role: models.RoleUser, Text: "plan the week"},
			{Source: models.SourceChatGPT, SourceConversationID: "c1", SourceMessageID: "m2", TimestampUTC: base.Add(time.Minute), Role: models.RoleAssistant, Text: "sure, here is a plan"},
		},
		OriginalFilename: "export.json",
		Timezone:         "UTC",
	})
	require.NoError(t, err)

	classifySvc := classify.NewService(s, nil)
	_, err = classifySvc.ClassifyBatch(ctx, classify.Request{
		ImportBatchID:   result.Batch.ID,
		Model:           classifyPV.Name,
		PromptVersionID: classifyPV.ID,
		Mode:            models.ClassifyModeStub,
	})
	require.NoError(t, err)

	runSvc := runpkg.NewService(s, config.NewPricingBook(nil))
	run, err := runSvc.Create(ctx, runpkg.CreateRequest{
		ImportBatchID:   result.Batch.ID,
		Model:           models.StubModel,
		StartDate:       dayDate,
		EndDate:         dayDate,
		Sources:         []models.Source{models.SourceChatGPT},
		FilterProfileID: filterProfileID,
		OutputTarget:    "export",
		LabelSpec:       &models.LabelSpec{Model: classifyPV.Name, PromptVersionID: classifyPV.ID},
	})
	require.NoError(t, err)
	return run
}

func newTickService(s *store.Store) *Service {
	return NewService(s, bundle.NewService(s.Atoms), config.NewPricingBook(nil), nil, nil, config.LLMEnv{Mode: config.ModeDryRun, MinDelayMs: 0})
}

func TestProcessTick_RunsQueuedJobToCompletion(t *testing.T) {
	if testing.Short() {
		t.Skip("requires a database")
	}
	s := storetest.NewTestStore(t)
	ctx := context.Background()
	run := newFixtureRun(t, s, "2026-03-02")
	tickSvc := newTickService(s)

	progress, err := tickSvc.ProcessTick(ctx, run.ID, 5)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, progress.Status)
	assert.Equal(t, []string{"2026-03-02"}, progress.ProcessedDayDates)
	assert.Equal(t, 1, progress.JobCounts[models.JobStatusSucceeded])

	output, err := s.Outputs.ForJob(ctx, run.ID, "2026-03-02")
	require.NoError(t, err)
	assert.Contains(t, output.OutputText, "Summary (stub)")
}

func TestProcessTick_IsIdempotentOnceDrained(t *testing.T) {
	if testing.Short() {
		t.Skip("requires a database")
	}
	s := storetest.NewTestStore(t)
	ctx := context.Background()
	run := newFixtureRun(t, s, "2026-03-03")
	tickSvc := newTickService(s)

	first, err := tickSvc.ProcessTick(ctx, run.ID, 5)
	require.NoError(t, err)
	require.Equal(t, models.RunStatusCompleted, first.Status)

	second, err := tickSvc.ProcessTick(ctx, run.ID, 5)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, second.Status)
	assert.Empty(t, second.ProcessedDayDates)
}

func TestProcessTick_CancelledRunShortCircuitsWithoutProcessing(t *testing.T) {
	if testing.Short() {
		t.Skip("requires a database")
	}
	s := storetest.NewTestStore(t)
	ctx := context.Background()
	run := newFixtureRun(t, s, "2026-03-04")

	tx, err := s.Runs.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Runs.UpdateStatus(ctx, tx, run.ID, models.RunStatusCancelled))
	require.NoError(t, tx.Commit())

	tickSvc := newTickService(s)
	progress, err := tickSvc.ProcessTick(ctx, run.ID, 5)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCancelled, progress.Status)
	assert.Empty(t, progress.ProcessedDayDates)

	_, err = s.Outputs.ForJob(ctx, run.ID, "2026-03-04")
	var notFound *apperrors.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestProcessTick_UnknownRunIsNotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("requires a database")
	}
	s := storetest.NewTestStore(t)
	tickSvc := newTickService(s)

	_, err := tickSvc.ProcessTick(context.Background(), uuid.New().String(), 5)
	require.Error(t, err)
	var notFound *apperrors.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}
