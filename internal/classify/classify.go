// Package classify assigns a category and confidence to each message atom
// of an import batch, whatever its role, either via the deterministic stub classifier or a real
// LLM-backed one (spec §4.C).
package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/journalctl/core/internal/apperrors"
	"github.com/journalctl/core/internal/config"
	"github.com/journalctl/core/internal/hashutil"
	"github.com/journalctl/core/internal/llmclient"
	"github.com/journalctl/core/internal/models"
	"github.com/journalctl/core/internal/segment"
	"github.com/journalctl/core/internal/store"
)

// noOpSpendQuery satisfies llmclient.SpendQuery for classify calls, which
// never set a MaxUsdPerDay policy (classification isn't charged against any
// run's daily budget) so the method is never actually invoked.
type noOpSpendQuery struct{}

func (noOpSpendQuery) SumSpentToday(ctx context.Context) (float64, error) { return 0, nil }

// pageSize is the keyset page size for iterating unlabeled atoms (spec
// §4.C step 3: "keyset-paged batches (≤10 000 per page, cursor on id)").
const pageSize = 10_000

// Request identifies one classifyBatch invocation.
type Request struct {
	ImportBatchID   string
	Model           string
	PromptVersionID string
	Mode            models.ClassifyMode
}

// Stats summarises what a classify run did (spec §3 ClassifyRun).
type Stats struct {
	TotalAtoms            int
	NewlyLabeled          int
	SkippedAlreadyLabeled int
	LabeledTotal          int
}

// Service runs the classify pipeline against a store.Store, optionally
// backed by an llmclient.Client for real mode.
type Service struct {
	Store *store.Store
	LLM   *llmclient.Client
	Now   func() time.Time
}

// NewService builds a classify Service. llm may be nil if only stub mode
// will be used.
func NewService(s *store.Store, llm *llmclient.Client) *Service {
	return &Service{Store: s, LLM: llm, Now: func() time.Time { return time.Now().UTC() }}
}

// ClassifyBatch runs spec §4.C's algorithm end to end.
func (s *Service) ClassifyBatch(ctx context.Context, req Request) (Stats, error) {
	if req.ImportBatchID == "" {
		return Stats{}, apperrors.NewInvalidInput("importBatchId is required", nil)
	}
	if !req.Mode.IsValid() {
		return Stats{}, apperrors.NewInvalidInput("mode must be stub or real", nil)
	}

	if _, err := s.Store.Batches.Get(ctx, req.ImportBatchID); err != nil {
		return Stats{}, err
	}
	promptVersion, err := s.Store.Prompts.Get(ctx, req.PromptVersionID)
	if err != nil {
		return Stats{}, err
	}

	if req.Mode == models.ClassifyModeReal {
		if err := validateRealPrompt(promptVersion); err != nil {
			return Stats{}, err
		}
	}

	total, labeled, err := s.Store.Labels.CountTotalAndLabeled(ctx, req.ImportBatchID, req.Model, req.PromptVersionID)
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{TotalAtoms: total, SkippedAlreadyLabeled: labeled, LabeledTotal: labeled}

	if labeled >= total {
		if err := s.persistClassifyRun(ctx, req, stats); err != nil {
			return Stats{}, err
		}
		return stats, nil
	}

	afterID := ""
	for {
		atoms, err := s.Store.Labels.UnlabeledAtomsPage(ctx, req.ImportBatchID, req.Model, req.PromptVersionID, afterID, pageSize)
		if err != nil {
			return Stats{}, err
		}
		if len(atoms) == 0 {
			break
		}

		labels := make([]models.MessageLabel, 0, len(atoms))
		for _, atom := range atoms {
			var category models.Category
			var confidence float64
			if req.Mode == models.ClassifyModeStub {
				category, confidence = classifyStub(atom.AtomStableID)
			} else {
				category, confidence, err = s.classifyReal(ctx, atom, promptVersion.TemplateText, req.Model)
				if err != nil {
					return Stats{}, err
				}
			}
			labels = append(labels, models.MessageLabel{
				ID:              uuid.New().String(),
				MessageAtomID:   atom.ID,
				Model:           req.Model,
				PromptVersionID: req.PromptVersionID,
				Category:        category,
				Confidence:      confidence,
				CreatedAt:       s.Now(),
			})
		}

		inserted, err := s.Store.Labels.InsertMany(ctx, labels)
		if err != nil {
			return Stats{}, err
		}
		stats.NewlyLabeled += inserted
		stats.LabeledTotal += inserted

		afterID = atoms[len(atoms)-1].ID
		if len(atoms) < pageSize {
			break
		}
	}

	if err := s.persistClassifyRun(ctx, req, stats); err != nil {
		return Stats{}, err
	}
	slog.Info("classify batch complete", "importBatchId", req.ImportBatchID, "model", req.Model,
		"newlyLabeled", stats.NewlyLabeled, "skippedAlreadyLabeled", stats.SkippedAlreadyLabeled)
	return stats, nil
}

func (s *Service) persistClassifyRun(ctx context.Context, req Request, stats Stats) error {
	now := s.Now()
	return s.Store.ClassifyRuns.Create(ctx, models.ClassifyRun{
		ID:                    uuid.New().String(),
		ImportBatchID:         req.ImportBatchID,
		Model:                 req.Model,
		PromptVersionID:       req.PromptVersionID,
		Mode:                  req.Mode,
		Status:                "completed",
		TotalAtoms:            stats.TotalAtoms,
		NewlyLabeled:          stats.NewlyLabeled,
		SkippedAlreadyLabeled: stats.SkippedAlreadyLabeled,
		LabeledTotal:          stats.LabeledTotal,
		FinishedAt:            &now,
	})
}

// classifyStub implements the deterministic stub classifier (spec §4.C
// step 4 "Stub").
func classifyStub(atomStableID string) (models.Category, float64) {
	digest := hashutil.SHA256Hex(atomStableID)
	idx := hashutil.HashToUint32(digest) % uint32(len(models.StubCategories))
	return models.StubCategories[idx], 0.5
}

// classifyResponse is the strict JSON shape a real classifier call must
// produce (spec §4.C step 4 "Real").
type classifyResponse struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
}

func (s *Service) classifyReal(ctx context.Context, atom models.MessageAtom, templateText, model string) (models.Category, float64, error) {
	userContent := fmt.Sprintf("source: %s\nrole: %s\ntext: %s", atom.Source, atom.Role, atom.Text)
	estimatedInputTokens := segment.EstimateTokens(templateText) + segment.EstimateTokens(userContent)

	outcome, err := s.LLM.CallLlm(ctx, templateText, userContent, modelOnlySnapshot(model), llmclient.BudgetPolicy{}, 0, noOpSpendQuery{}, estimatedInputTokens)
	if err != nil {
		return "", 0, err
	}

	var parsed classifyResponse
	if err := json.Unmarshal([]byte(outcome.Text), &parsed); err != nil {
		return "", 0, &apperrors.LlmBadOutputError{Reason: "not valid JSON: " + err.Error(), Raw: outcome.Text}
	}

	category := models.Category(strings.ToUpper(strings.TrimSpace(parsed.Category)))
	if !models.IsValidCategory(category) {
		return "", 0, &apperrors.LlmBadOutputError{Reason: "category not in the 13-category set: " + parsed.Category, Raw: outcome.Text}
	}
	if parsed.Confidence < 0 || parsed.Confidence > 1 {
		return "", 0, &apperrors.LlmBadOutputError{Reason: "confidence out of [0,1]", Raw: outcome.Text}
	}

	return category, parsed.Confidence, nil
}

// validateRealPrompt checks spec §4.C step 1's real-mode preconditions.
func validateRealPrompt(pv *models.PromptVersion) error {
	if pv.Stage != models.PromptStageClassify {
		return apperrors.NewInvalidInput("promptVersion stage must be classify", nil)
	}
	if pv.ID == models.StubPromptVersionID {
		return apperrors.NewInvalidInput("real mode cannot use the stub seed prompt version", nil)
	}
	lower := strings.ToLower(pv.TemplateText)
	if !strings.Contains(lower, "category") || !strings.Contains(lower, "confidence") {
		return apperrors.NewInvalidInput("real-mode templateText must reference both category and confidence", nil)
	}
	return nil
}

// modelOnlySnapshot builds a pricing-free snapshot for classify calls,
// whose cost is not charged against any run's budget (classification has
// no pricingSnapshot of its own in spec §3; classify cost accounting is
// out of scope for run budgets, which only govern summarize calls).
func modelOnlySnapshot(model string) models.PricingSnapshot {
	provider, _ := config.InferProvider(model)
	return models.PricingSnapshot{Model: model, Provider: provider}
}
