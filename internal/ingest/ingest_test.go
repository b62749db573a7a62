package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/journalctl/core/internal/apperrors"
	"github.com/journalctl/core/internal/models"
	"github.com/journalctl/core/internal/store/storetest"
)

func msg(source models.Source, convoID, msgID string, ts time.Time, role models.Role, text string) ParsedMessage {
	return ParsedMessage{
		Source:               source,
		SourceConversationID: convoID,
		SourceMessageID:      msgID,
		TimestampUTC:         ts,
		Role:                 role,
		Text:                 text,
	}
}

func TestImport_RejectsEmptyMessages(t *testing.T) {
	svc := NewService(nil)
	_, err := svc.Import(context.Background(), Request{Timezone: "UTC"})
	require.Error(t, err)
	var invalid *apperrors.InvalidInputError
	assert.ErrorAs(t, err, &invalid)
}

func TestImport_RejectsUnknownTimezone(t *testing.T) {
	svc := NewService(nil)
	req := Request{
		Messages: []ParsedMessage{msg(models.SourceChatGPT, "c1", "m1", time.Now(), models.RoleUser, "hi")},
		Timezone: "Not/AZone",
	}
	_, err := svc.Import(context.Background(), req)
	require.Error(t, err)
	var invalid *apperrors.InvalidInputError
	assert.ErrorAs(t, err, &invalid)
}

func TestImport_RejectsUnknownSourceWithoutOverride(t *testing.T) {
	svc := NewService(nil)
	req := Request{
		Messages: []ParsedMessage{msg("", "c1", "m1", time.Now(), models.RoleUser, "hi")},
		Timezone: "UTC",
	}
	_, err := svc.Import(context.Background(), req)
	require.Error(t, err)
	var invalid *apperrors.InvalidInputError
	assert.ErrorAs(t, err, &invalid)
}

func TestDominantSource(t *testing.T) {
	tests := []struct {
		name   string
		counts map[models.Source]int
		want   models.Source
	}{
		{"empty", map[models.Source]int{}, ""},
		{"single", map[models.Source]int{models.SourceClaude: 3}, models.SourceClaude},
		{"picks max", map[models.Source]int{models.SourceClaude: 2, models.SourceChatGPT: 5}, models.SourceChatGPT},
		{"ties break alphabetically", map[models.Source]int{models.SourceGrok: 2, models.SourceClaude: 2}, models.SourceClaude},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, dominantSource(tt.counts))
		})
	}
}

func TestImport_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("requires a database")
	}
	s := storetest.NewTestStore(t)
	svc := NewService(s)
	ctx := context.Background()

	base := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
	req := Request{
		Messages: []ParsedMessage{
			msg(models.SourceChatGPT, "convo-1", "m1", base, models.RoleUser, "hello there"),
			msg(models.SourceChatGPT, "convo-1", "m2", base.Add(time.Minute), models.RoleAssistant, "hi, how can I help?"),
		},
		OriginalFilename: "export.json",
		FileSizeBytes:    1024,
		Timezone:         "UTC",
	}

	result, err := svc.Import(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Batch.Stats.MessageCount)
	assert.Equal(t, 1, result.Batch.Stats.DayCount)
	assert.Equal(t, "2026-01-15", result.Batch.Stats.CoverageStart)
	assert.Equal(t, "2026-01-15", result.Batch.Stats.CoverageEnd)
	assert.Empty(t, result.Warnings)

	// Re-importing the exact same messages dedups entirely.
	result2, err := svc.Import(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 0, result2.Batch.Stats.MessageCount)
	require.Len(t, result2.Warnings, 1)
	assert.Contains(t, result2.Warnings[0], "Skipped 2 duplicate messages")

	atoms, err := s.Atoms.ByBatchSourceDay(ctx, result.Batch.ID, models.SourceChatGPT, "2026-01-15")
	require.NoError(t, err)
	require.Len(t, atoms, 2)
	assert.Equal(t, models.RoleUser, atoms[0].Role)
	assert.Equal(t, models.RoleAssistant, atoms[1].Role)
}
