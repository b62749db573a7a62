package segment

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/journalctl/core/internal/models"
)

func atom(source models.Source, text string) models.MessageAtom {
	return models.MessageAtom{
		AtomStableID: text, Source: source, Role: models.RoleUser,
		TimestampUTC: time.Now(), Text: text,
	}
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abc"))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 2, EstimateTokens("abcde"))
}

func TestBuild_SingleSegmentWhenUnderCap(t *testing.T) {
	atoms := []models.MessageAtom{atom(models.SourceChatGPT, "short"), atom(models.SourceChatGPT, "also short")}
	result := Build(atoms, "hash", 10_000)
	require.Len(t, result.Segments, 1)
	assert.False(t, result.WasSegmented)
	assert.Len(t, result.Segments[0].Atoms, 2)
}

func TestBuild_NeverSplitsAnAtomAndPreservesOrder(t *testing.T) {
	long := strings.Repeat("x", 400) // ~100 tokens
	atoms := []models.MessageAtom{atom(models.SourceChatGPT, long), atom(models.SourceChatGPT, long), atom(models.SourceChatGPT, long)}
	result := Build(atoms, "hash", 110)

	require.True(t, result.WasSegmented)
	total := 0
	for _, seg := range result.Segments {
		total += len(seg.Atoms)
		for _, a := range seg.Atoms {
			assert.Equal(t, long, a.Text)
		}
	}
	assert.Equal(t, 3, total)
}

func TestBuild_SegmentIDsAreDeterministic(t *testing.T) {
	atoms := []models.MessageAtom{atom(models.SourceChatGPT, strings.Repeat("x", 400)), atom(models.SourceChatGPT, strings.Repeat("y", 400))}
	r1 := Build(atoms, "bundle-hash", 100)
	r2 := Build(atoms, "bundle-hash", 100)
	require.Equal(t, len(r1.Segments), len(r2.Segments))
	for i := range r1.Segments {
		assert.Equal(t, r1.Segments[i].ID, r2.Segments[i].ID)
	}
}

func TestBuild_EmptyAtomsYieldsNoSegments(t *testing.T) {
	result := Build(nil, "hash", 1000)
	assert.Empty(t, result.Segments)
	assert.False(t, result.WasSegmented)
}
