package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/journalctl/core/internal/hashutil"
	"github.com/journalctl/core/internal/models"
)

func TestClassifyStub_Deterministic(t *testing.T) {
	cat1, conf1 := classifyStub("atom-stable-id-123")
	cat2, conf2 := classifyStub("atom-stable-id-123")
	assert.Equal(t, cat1, cat2)
	assert.Equal(t, conf1, conf2)
	assert.Equal(t, 0.5, conf1)
	assert.Contains(t, models.StubCategories, cat1)
}

func TestClassifyStub_MatchesHashFormula(t *testing.T) {
	stableID := "some-stable-id"
	digest := hashutil.SHA256Hex(stableID)
	want := models.StubCategories[hashutil.HashToUint32(digest)%uint32(len(models.StubCategories))]
	got, _ := classifyStub(stableID)
	assert.Equal(t, want, got)
}

func TestValidateRealPrompt(t *testing.T) {
	tests := []struct {
		name    string
		pv      *models.PromptVersion
		wantErr bool
	}{
		{
			name: "valid classify template",
			pv:   &models.PromptVersion{ID: "pv-1", Stage: models.PromptStageClassify, TemplateText: "Return category and confidence as JSON."},
		},
		{
			name:    "wrong stage",
			pv:      &models.PromptVersion{ID: "pv-2", Stage: models.PromptStageSummarize, TemplateText: "category confidence"},
			wantErr: true,
		},
		{
			name:    "stub seed version rejected",
			pv:      &models.PromptVersion{ID: models.StubPromptVersionID, Stage: models.PromptStageClassify, TemplateText: "category confidence"},
			wantErr: true,
		},
		{
			name:    "missing confidence marker",
			pv:      &models.PromptVersion{ID: "pv-3", Stage: models.PromptStageClassify, TemplateText: "just the category please"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateRealPrompt(tt.pv)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}
