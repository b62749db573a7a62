package bundle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/journalctl/core/internal/models"
)

func atom(id, stableID string, source models.Source, role models.Role, ts time.Time, text string) models.MessageAtom {
	return models.MessageAtom{ID: id, AtomStableID: stableID, Source: source, Role: role, TimestampUTC: ts, Text: text}
}

func TestRender_OrdersBySourceThenTimeThenRole(t *testing.T) {
	base := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
	atoms := []models.MessageAtom{
		atom("2", "stable-2", models.SourceClaude, models.RoleUser, base, "claude msg"),
		atom("1", "stable-1", models.SourceChatGPT, models.RoleAssistant, base.Add(time.Minute), "assistant reply"),
		atom("0", "stable-0", models.SourceChatGPT, models.RoleUser, base.Add(time.Minute), "user question"),
	}
	req := Request{ImportBatchIDs: []string{"b1"}, DayDate: "2026-01-15", Sources: []models.Source{models.SourceChatGPT, models.SourceClaude}}

	result := Render(atoms, req)

	assert.Equal(t, []string{"stable-0", "stable-1", "stable-2"}, stableIDs(result.Atoms))
	assert.Contains(t, result.BundleText, "# SOURCE: chatgpt")
	assert.Contains(t, result.BundleText, "# SOURCE: claude")
	assert.True(t, indexOf(result.BundleText, "# SOURCE: chatgpt") < indexOf(result.BundleText, "# SOURCE: claude"))
	assert.NotEmpty(t, result.BundleHash)
	assert.NotEmpty(t, result.BundleContextHash)
}

func TestRender_EmptyAtomsYieldsEmptyBundle(t *testing.T) {
	result := Render(nil, Request{DayDate: "2026-01-15"})
	assert.Equal(t, "", result.BundleText)
	assert.Empty(t, result.Atoms)
}

func TestRender_DedupsByStableID(t *testing.T) {
	base := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
	atoms := []models.MessageAtom{
		atom("1", "same-stable", models.SourceChatGPT, models.RoleUser, base, "hi"),
		atom("2", "same-stable", models.SourceChatGPT, models.RoleUser, base, "hi"),
	}
	result := Render(atoms, Request{DayDate: "2026-01-15"})
	assert.Len(t, result.Atoms, 1)
}

func TestRender_IsPureFunctionOfInputs(t *testing.T) {
	base := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
	atoms := []models.MessageAtom{
		atom("1", "stable-1", models.SourceChatGPT, models.RoleUser, base, "hi"),
	}
	req := Request{ImportBatchIDs: []string{"b1"}, DayDate: "2026-01-15", Sources: []models.Source{models.SourceChatGPT}}

	r1 := Render(atoms, req)
	r2 := Render(atoms, req)
	assert.Equal(t, r1.BundleHash, r2.BundleHash)
	assert.Equal(t, r1.BundleContextHash, r2.BundleContextHash)
}

func stableIDs(atoms []models.MessageAtom) []string {
	out := make([]string, len(atoms))
	for i, a := range atoms {
		out[i] = a.AtomStableID
	}
	return out
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
