package export

import (
	"encoding/json"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/journalctl/core/internal/hashutil"
	"github.com/journalctl/core/internal/models"
)

func TestRenderTimeline_FlatWhenShort(t *testing.T) {
	got := renderTimeline([]string{"2024-01-15", "2024-01-16"})
	assert.Equal(t, "# Timeline\n\n- [2024-01-16](2024-01-16.md)\n- [2024-01-15](2024-01-15.md)\n", got)
}

func TestRenderTimeline_SplitsRecentWhenLong(t *testing.T) {
	days := make([]string, 20)
	for i := range days {
		days[i] = time.Date(2024, 1, i+1, 0, 0, 0, 0, time.UTC).Format("2006-01-02")
	}
	got := renderTimeline(days)
	assert.Contains(t, got, "## Recent")
	assert.Contains(t, got, "## All entries")
	assert.True(t, strings.Index(got, "## Recent") < strings.Index(got, "## All entries"))
}

func dayOutput(date string) DayOutput {
	return DayOutput{
		DayDate:           date,
		Model:             "stub",
		CreatedAt:         time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		BundleHash:        "hash-" + date,
		BundleContextHash: "ctxhash-" + date,
		OutputText:        "Summary for " + date,
	}
}

func baseInput() Input {
	return Input{
		RunID:       "run-1",
		Model:       "stub",
		StartDate:   "2024-01-15",
		EndDate:     "2024-01-16",
		ExportedAt:  time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
		PrivacyTier: models.PrivacyTierPublic,
		Days:        []DayOutput{dayOutput("2024-01-15"), dayOutput("2024-01-16")},
	}
}

func TestRenderExportTree_IsDeterministic(t *testing.T) {
	input := baseInput()

	r1, err1 := RenderExportTree(input)
	r2, err2 := RenderExportTree(input)
	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, r1, r2)
}

func TestRenderExportTree_ChangingExportedAtOnlyChangesManifest(t *testing.T) {
	input1 := baseInput()
	input2 := baseInput()
	input2.ExportedAt = input1.ExportedAt.Add(time.Hour)

	r1, err := RenderExportTree(input1)
	require.NoError(t, err)
	r2, err := RenderExportTree(input2)
	require.NoError(t, err)

	require.Equal(t, len(r1), len(r2))
	for path, content := range r1 {
		if path == ".journal-meta/manifest.json" {
			assert.NotEqual(t, content, r2[path])
			continue
		}
		assert.Equal(t, content, r2[path], "file %s should be byte-identical", path)
	}
}

func TestRenderExportTree_NoCRNoTrailingWhitespaceSingleTrailingNewline(t *testing.T) {
	input := baseInput()
	files, err := RenderExportTree(input)
	require.NoError(t, err)

	for path, content := range files {
		assert.NotContains(t, content, "\r", "file %s contains CR", path)
		assert.True(t, strings.HasSuffix(content, "\n"), "file %s must end with a newline", path)
		assert.False(t, strings.HasSuffix(content, "\n\n"), "file %s must end with exactly one newline", path)
		for _, line := range strings.Split(strings.TrimSuffix(content, "\n"), "\n") {
			assert.Equal(t, line, strings.TrimRight(line, " \t"), "file %s has trailing whitespace on a line", path)
		}
	}
}

func TestRenderExportTree_PrivateIncludesAtomsAndSourcesPublicDoesNot(t *testing.T) {
	input := baseInput()
	input.Batches = []BatchInfo{{ID: "b1", Source: models.SourceChatGPT, OriginalFilename: "export.json"}}
	input.AtomsByDay = map[string][]models.MessageAtom{
		"2024-01-15": {{ID: "a1", Source: models.SourceChatGPT, Role: models.RoleUser, Text: "hi", TimestampUTC: time.Now()}},
	}

	input.PrivacyTier = models.PrivacyTierPublic
	publicFiles, err := RenderExportTree(input)
	require.NoError(t, err)
	assert.NotContains(t, publicFiles, "atoms/2024-01-15.md")

	input.PrivacyTier = models.PrivacyTierPrivate
	privateFiles, err := RenderExportTree(input)
	require.NoError(t, err)
	assert.Contains(t, privateFiles, "atoms/2024-01-15.md")
	assert.Contains(t, privateFiles, "sources/chatgpt-export.md")
}

func TestRenderSourceFiles_CollisionSuffixing(t *testing.T) {
	batches := []BatchInfo{
		{ID: "b1", Source: models.SourceChatGPT, OriginalFilename: "conversations.json"},
		{ID: "b2", Source: models.SourceChatGPT, OriginalFilename: "conversations.json"},
	}
	files := renderSourceFiles(batches)
	require.Len(t, files, 2)
	assert.Equal(t, "chatgpt-conversations", files[0].slug)
	assert.Equal(t, "chatgpt-conversations-2", files[1].slug)
}

func TestManifestFileHashesMatchContent(t *testing.T) {
	input := baseInput()
	files, err := RenderExportTree(input)
	require.NoError(t, err)

	var manifest Manifest
	require.NoError(t, json.Unmarshal([]byte(files[".journal-meta/manifest.json"]), &manifest))

	for path, content := range files {
		if path == ".journal-meta/manifest.json" {
			continue
		}
		fh, ok := manifest.Files[path]
		require.True(t, ok, "manifest missing entry for %s", path)
		assert.Equal(t, hashutil.SHA256Hex(content), fh.SHA256)
	}
}

// assertObjectKeysSorted walks every JSON object in dec, recursively, and
// fails if any object's keys aren't in alphabetical order (spec §4.J "keys
// alphabetically sorted at every depth").
func assertObjectKeysSorted(t *testing.T, dec *json.Decoder) {
	t.Helper()
	tok, err := dec.Token()
	require.NoError(t, err)

	delim, ok := tok.(json.Delim)
	if !ok {
		return
	}

	switch delim {
	case json.Delim('{'):
		var keys []string
		for dec.More() {
			keyTok, err := dec.Token()
			require.NoError(t, err)
			keys = append(keys, keyTok.(string))
			assertObjectKeysSorted(t, dec)
		}
		_, err := dec.Token()
		require.NoError(t, err)
		sorted := append([]string(nil), keys...)
		sort.Strings(sorted)
		assert.Equal(t, sorted, keys, "object keys not sorted alphabetically: %v", keys)
	case json.Delim('['):
		for dec.More() {
			assertObjectKeysSorted(t, dec)
		}
		_, err := dec.Token()
		require.NoError(t, err)
	}
}

func TestManifestJSON_KeysSortedAtEveryDepth(t *testing.T) {
	input := baseInput()
	input.TopicVersion = topicVersionV1
	input.Batches = []BatchInfo{{ID: "b1", Source: models.SourceChatGPT, OriginalFilename: "export.json"}}
	input.AtomsByDay = map[string][]models.MessageAtom{
		"2024-01-15": {{ID: "a1", Source: models.SourceChatGPT, Role: models.RoleUser, TimestampUTC: time.Now()}},
		"2024-01-16": {{ID: "a2", Source: models.SourceChatGPT, Role: models.RoleUser, TimestampUTC: time.Now()}},
	}
	input.CategoriesByAtomID = map[string]models.Category{"a1": models.CategoryWork, "a2": models.CategoryLearning}
	input.PreviousManifest = &Manifest{
		Topics: map[string]TopicSummary{
			"work": {
				TopicID: "work", Category: models.CategoryWork, DisplayName: "Work",
				AtomCount: 5, DayCount: 2, Days: []string{"2024-01-01", "2024-01-02"},
				DateRange: DateRange{Start: "2024-01-01", End: "2024-01-02"},
			},
		},
	}

	files, err := RenderExportTree(input)
	require.NoError(t, err)

	dec := json.NewDecoder(strings.NewReader(files[".journal-meta/manifest.json"]))
	assertObjectKeysSorted(t, dec)
}

func TestComputeTopicsAndChangelog_MatchesScenarioShape(t *testing.T) {
	input := baseInput()
	input.TopicVersion = topicVersionV1
	input.AtomsByDay = map[string][]models.MessageAtom{
		"2024-01-15": {
			{ID: "a1", Source: models.SourceChatGPT, Role: models.RoleUser, TimestampUTC: time.Now()},
			{ID: "a2", Source: models.SourceChatGPT, Role: models.RoleUser, TimestampUTC: time.Now()},
		},
		"2024-01-16": {
			{ID: "a3", Source: models.SourceChatGPT, Role: models.RoleUser, TimestampUTC: time.Now()},
			{ID: "a4", Source: models.SourceChatGPT, Role: models.RoleUser, TimestampUTC: time.Now()},
		},
	}
	input.CategoriesByAtomID = map[string]models.Category{
		"a1": models.CategoryWork, "a2": models.CategoryWork,
		"a3": models.CategoryWork, "a4": models.CategoryLearning,
	}

	previousWork := TopicSummary{
		TopicID: "work", Category: models.CategoryWork, DisplayName: "Work",
		AtomCount: 3, DayCount: 2, Days: []string{"2024-01-05", "2024-01-06"},
		DateRange: DateRange{Start: "2024-01-05", End: "2024-01-06"},
	}
	input.PreviousManifest = &Manifest{
		Topics: map[string]TopicSummary{"work": previousWork},
	}

	files, err := RenderExportTree(input)
	require.NoError(t, err)
	assert.Contains(t, files, "topics/INDEX.md")
	assert.Contains(t, files, "topics/work.md")
	assert.Contains(t, files, "topics/learning.md")
	assert.Contains(t, files, "changelog.md")
	assert.Contains(t, files["changelog.md"], "New topics")
	assert.Contains(t, files["changelog.md"], "Learning")
	assert.Contains(t, files["changelog.md"], "Changed topics")
	assert.Contains(t, files["changelog.md"], "Work")
}
