package search

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/journalctl/core/internal/apperrors"
	"github.com/journalctl/core/internal/ingest"
	"github.com/journalctl/core/internal/models"
	"github.com/journalctl/core/internal/store/storetest"
)

func TestDecodeCursor_RejectsMalformedToken(t *testing.T) {
	_, err := DecodeCursor("not-valid-base64url!!!")
	require.Error(t, err)
	var invalid *apperrors.InvalidInputError
	assert.ErrorAs(t, err, &invalid)
}

func TestEncodeDecodeCursor_RoundTrips(t *testing.T) {
	c := Cursor{Rank: 0.125, ID: "atom-1"}
	token := EncodeCursor(c)
	got, err := DecodeCursor(token)
	require.NoError(t, err)
	assert.Equal(t, c, got)
}

func TestSearch_CategoriesWithoutLabelContextIsRejected(t *testing.T) {
	svc := NewService(nil)
	_, err := svc.Search(context.Background(), ScopeRaw, "hello", Filters{
		Categories: []models.Category{models.CategoryWork},
	}, "", 0)
	require.Error(t, err)
	var invalid *apperrors.InvalidInputError
	assert.ErrorAs(t, err, &invalid)
}

func msg(source models.Source, convoID, msgID string, ts time.Time, role models.Role, text string) ingest.ParsedMessage {
	return ingest.ParsedMessage{
		Source:               source,
		SourceConversationID: convoID,
		SourceMessageID:      msgID,
		TimestampUTC:         ts,
		Role:                 role,
		Text:                 text,
	}
}

func TestSearchAtoms_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("requires a database")
	}
	s := storetest.NewTestStore(t)
	ctx := context.Background()

	importer := ingest.NewService(s)
	base := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
	_, err := importer.Import(ctx, ingest.Request{
		Messages: []ingest.ParsedMessage{
			msg(models.SourceChatGPT, "c1", "m1", base, models.RoleUser, "let's talk about elephants and safaris"),
			msg(models.SourceChatGPT, "c1", "m2", base.Add(time.Minute), models.RoleAssistant, "elephants are the largest land mammals"),
			msg(models.SourceChatGPT, "c1", "m3", base.Add(2*time.Minute), models.RoleUser, "completely unrelated conversation about taxes"),
		},
		OriginalFilename: "export.json",
		Timezone:         "UTC",
	})
	require.NoError(t, err)

	svc := NewService(s)

	result, err := svc.Search(ctx, ScopeRaw, "elephants", Filters{}, "", 10)
	require.NoError(t, err)
	require.Len(t, result.Items, 2)
	assert.Empty(t, result.NextCursor)
	for _, item := range result.Items {
		require.NotNil(t, item.Atom)
		assert.Contains(t, item.Snippet, "<<")
		assert.Contains(t, item.Snippet, ">>")
		assert.Equal(t, "chatgpt", item.Atom.Source)
		assert.Contains(t, []string{"user", "assistant"}, item.Atom.Role)
	}
	assert.GreaterOrEqual(t, result.Items[0].Rank, result.Items[1].Rank)

	none, err := svc.Search(ctx, ScopeRaw, "giraffes", Filters{}, "", 10)
	require.NoError(t, err)
	assert.Empty(t, none.Items)
}

func TestSearchAtoms_PaginatesWithCursor(t *testing.T) {
	if testing.Short() {
		t.Skip("requires a database")
	}
	s := storetest.NewTestStore(t)
	ctx := context.Background()

	importer := ingest.NewService(s)
	base := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	msgs := make([]ingest.ParsedMessage, 0, 5)
	for i := 0; i < 5; i++ {
		msgs = append(msgs, msg(models.SourceChatGPT, "c1", "m"+string(rune('a'+i)), base.Add(time.Duration(i)*time.Minute), models.RoleUser, "recurring keyword appears here"))
	}
	_, err := importer.Import(ctx, ingest.Request{Messages: msgs, OriginalFilename: "export.json", Timezone: "UTC"})
	require.NoError(t, err)

	svc := NewService(s)

	page1, err := svc.Search(ctx, ScopeRaw, "recurring", Filters{}, "", 2)
	require.NoError(t, err)
	require.Len(t, page1.Items, 2)
	require.NotEmpty(t, page1.NextCursor)

	page2, err := svc.Search(ctx, ScopeRaw, "recurring", Filters{}, page1.NextCursor, 2)
	require.NoError(t, err)
	require.Len(t, page2.Items, 2)

	seen := map[string]bool{}
	for _, it := range append(page1.Items, page2.Items...) {
		assert.False(t, seen[it.Atom.ID], "item %s returned on more than one page", it.Atom.ID)
		seen[it.Atom.ID] = true
	}
}
