package export

import (
	"context"
	"fmt"
	"time"

	"github.com/journalctl/core/internal/apperrors"
	"github.com/journalctl/core/internal/models"
	"github.com/journalctl/core/internal/store"
)

// Service loads a completed run's jobs/outputs/atoms and renders its
// export tree (spec §4.K).
type Service struct {
	Store *store.Store
}

// NewService builds an export Service.
func NewService(s *store.Store) *Service {
	return &Service{Store: s}
}

// Request identifies one export call.
type Request struct {
	RunID            string
	PrivacyTier      models.PrivacyTier
	TopicVersion     string // "" or "topic_v1"
	PreviousManifest *Manifest
	ExportedAt       time.Time
}

// Export validates run's exportability, builds its Input, and renders
// the export tree.
func (s *Service) Export(ctx context.Context, req Request) (map[string]string, error) {
	input, err := s.BuildExportInput(ctx, req)
	if err != nil {
		return nil, err
	}
	return RenderExportTree(*input)
}

// BuildExportInput implements spec §4.K: precondition checks, then
// loading the run's jobs/outputs/atoms/categories into an Input.
func (s *Service) BuildExportInput(ctx context.Context, req Request) (*Input, error) {
	run, err := s.Store.Runs.Get(ctx, req.RunID)
	if err != nil {
		return nil, &apperrors.ExportPreconditionError{
			Code:    apperrors.ExportCodeNotFound,
			Message: fmt.Sprintf("run %q not found", req.RunID),
		}
	}

	if run.Status != models.RunStatusCompleted {
		return nil, &apperrors.ExportPreconditionError{
			Code:    apperrors.ExportCodePrecondition,
			Message: fmt.Sprintf("run %q is %q, not completed", req.RunID, run.Status),
		}
	}

	jobs, err := s.Store.Jobs.ByRun(ctx, req.RunID)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, &apperrors.ExportPreconditionError{
			Code:    apperrors.ExportCodePrecondition,
			Message: fmt.Sprintf("run %q has no jobs", req.RunID),
		}
	}

	days := make([]DayOutput, 0, len(jobs))
	atomsByDay := make(map[string][]models.MessageAtom, len(jobs))
	var allAtomIDs []string

	for _, job := range jobs {
		if job.Status != models.JobStatusSucceeded {
			return nil, &apperrors.ExportPreconditionError{
				Code:    apperrors.ExportCodePrecondition,
				Message: fmt.Sprintf("job %s/%s is %q, not succeeded", req.RunID, job.DayDate, job.Status),
				Details: map[string]any{"dayDate": job.DayDate, "status": string(job.Status)},
			}
		}

		count, err := s.Store.Outputs.CountForJob(ctx, req.RunID, job.DayDate)
		if err != nil {
			return nil, err
		}
		if count != 1 {
			return nil, &apperrors.ExportPreconditionError{
				Code:    apperrors.ExportCodePrecondition,
				Message: fmt.Sprintf("job %s/%s has %d summarize outputs, expected 1", req.RunID, job.DayDate, count),
				Details: map[string]any{"dayDate": job.DayDate, "outputCount": count},
			}
		}

		output, err := s.Store.Outputs.ForJob(ctx, req.RunID, job.DayDate)
		if err != nil {
			return nil, err
		}

		days = append(days, DayOutput{
			DayDate:           job.DayDate,
			Model:             output.Model,
			CreatedAt:         output.CreatedAt,
			BundleHash:        output.BundleHash,
			BundleContextHash: output.BundleContextHash,
			Segmented:         output.Meta.Segmented,
			SegmentCount:      output.Meta.SegmentCount,
			OutputText:        output.OutputText,
		})

		needsAtoms := req.PrivacyTier == models.PrivacyTierPrivate || req.TopicVersion == topicVersionV1
		if needsAtoms {
			atoms, err := s.Store.Atoms.ForExport(ctx, run.Config.ImportBatchIDs, run.Sources, job.DayDate)
			if err != nil {
				return nil, err
			}
			atomsByDay[job.DayDate] = atoms
			for _, a := range atoms {
				allAtomIDs = append(allAtomIDs, a.ID)
			}
		}
	}

	var categories map[string]models.Category
	if req.TopicVersion == topicVersionV1 {
		categories, err = s.Store.Labels.CategoriesForAtoms(ctx, allAtomIDs, run.Config.LabelSpec)
		if err != nil {
			return nil, err
		}
	}

	batchRows, err := s.Store.Batches.GetMany(ctx, run.Config.ImportBatchIDs)
	if err != nil {
		return nil, err
	}
	batches := make([]BatchInfo, len(batchRows))
	for i, b := range batchRows {
		batches[i] = BatchInfo{
			ID:               b.ID,
			Source:           b.Source,
			OriginalFilename: b.OriginalFilename,
			Timezone:         b.Timezone,
			MessageCount:     b.Stats.MessageCount,
			DayCount:         b.Stats.DayCount,
			CoverageStart:    b.Stats.CoverageStart,
			CoverageEnd:      b.Stats.CoverageEnd,
		}
	}

	return &Input{
		RunID:              run.ID,
		Model:              run.Model,
		StartDate:          run.StartDate,
		EndDate:            run.EndDate,
		ExportedAt:         req.ExportedAt,
		PrivacyTier:        req.PrivacyTier,
		TopicVersion:       req.TopicVersion,
		Days:               days,
		AtomsByDay:         atomsByDay,
		CategoriesByAtomID: categories,
		Batches:            batches,
		PreviousManifest:   req.PreviousManifest,
	}, nil
}
