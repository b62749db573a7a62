package run

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/journalctl/core/internal/apperrors"
	"github.com/journalctl/core/internal/models"
)

func TestNormalizeBatchIDs(t *testing.T) {
	tests := []struct {
		name    string
		req     CreateRequest
		want    []string
		wantErr bool
	}{
		{"single form", CreateRequest{ImportBatchID: "b1"}, []string{"b1"}, false},
		{"many form", CreateRequest{ImportBatchIDs: []string{"b1", "b2"}}, []string{"b1", "b2"}, false},
		{"both forms rejected", CreateRequest{ImportBatchID: "b1", ImportBatchIDs: []string{"b2"}}, nil, true},
		{"neither form rejected", CreateRequest{}, nil, true},
		{"duplicate rejected", CreateRequest{ImportBatchIDs: []string{"b1", "b1"}}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := normalizeBatchIDs(tt.req)
			if tt.wantErr {
				require.Error(t, err)
				var invalid *apperrors.InvalidInputError
				assert.ErrorAs(t, err, &invalid)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRecomputeStatus_CancelledIsSticky(t *testing.T) {
	got := RecomputeStatus(models.RunStatusCancelled, map[models.JobStatus]int{models.JobStatusQueued: 3})
	assert.Equal(t, models.RunStatusCancelled, got)
}

func TestRecomputeStatus_PartialCompletionStaysRunning(t *testing.T) {
	// Two jobs total, one succeeded, one still queued: run status must stay
	// "running", not fall back to "queued" (spec scenario: a completed job
	// does not let the run regress to its pre-run state).
	got := RecomputeStatus(models.RunStatusRunning, map[models.JobStatus]int{
		models.JobStatusSucceeded: 1,
		models.JobStatusQueued:    1,
	})
	assert.Equal(t, models.RunStatusRunning, got)
}

func TestRecomputeStatus_AllSucceededCompletes(t *testing.T) {
	got := RecomputeStatus(models.RunStatusRunning, map[models.JobStatus]int{
		models.JobStatusSucceeded: 3,
	})
	assert.Equal(t, models.RunStatusCompleted, got)
}

func TestRecomputeStatus_AnyFailedFailsTheRun(t *testing.T) {
	got := RecomputeStatus(models.RunStatusRunning, map[models.JobStatus]int{
		models.JobStatusSucceeded: 2,
		models.JobStatusFailed:    1,
	})
	assert.Equal(t, models.RunStatusFailed, got)
}

func TestRecomputeStatus_StillRunningWhileAnyJobRunning(t *testing.T) {
	got := RecomputeStatus(models.RunStatusRunning, map[models.JobStatus]int{
		models.JobStatusRunning:   1,
		models.JobStatusSucceeded: 1,
	})
	assert.Equal(t, models.RunStatusRunning, got)
}

func TestRecomputeStatus_AllQueuedStaysQueued(t *testing.T) {
	got := RecomputeStatus(models.RunStatusQueued, map[models.JobStatus]int{
		models.JobStatusQueued: 4,
	})
	assert.Equal(t, models.RunStatusQueued, got)
}

func TestRecomputeStatus_NoJobsStaysQueued(t *testing.T) {
	got := RecomputeStatus(models.RunStatusQueued, map[models.JobStatus]int{})
	assert.Equal(t, models.RunStatusQueued, got)
}
