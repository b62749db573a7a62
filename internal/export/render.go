// Package export implements the byte-stable export tree renderer (pure)
// and the orchestrator that assembles its input from a completed run
// (spec §4.J, §4.K).
package export

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/journalctl/core/internal/bundle"
	"github.com/journalctl/core/internal/hashutil"
	"github.com/journalctl/core/internal/models"
)

const topicVersionV1 = "topic_v1"

// DayOutput is one rendered day, already joined from a Job and its
// single summarize Output.
type DayOutput struct {
	DayDate           string
	Model             string
	CreatedAt         time.Time
	BundleHash        string
	BundleContextHash string
	Segmented         bool
	SegmentCount      *int
	OutputText        string
}

// BatchInfo is the subset of ImportBatch fields the sources/ tier renders.
type BatchInfo struct {
	ID               string
	Source           models.Source
	OriginalFilename string
	Timezone         string
	MessageCount     int
	DayCount         int
	CoverageStart    string
	CoverageEnd      string
}

// DateRange is an inclusive [Start, End] YYYY-MM-DD pair.
type DateRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// FileHash is one manifest.files entry.
type FileHash struct {
	SHA256 string `json:"sha256"`
}

// ManifestRun is the manifest's "run" section.
type ManifestRun struct {
	ID        string `json:"id"`
	Model     string `json:"model"`
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

// TopicSummary is one topic's manifest entry; Days carries the full
// ascending day list so a later export can diff against it (spec §4.J
// changelog).
type TopicSummary struct {
	TopicID     string          `json:"topicId"`
	Category    models.Category `json:"category"`
	DisplayName string          `json:"displayName"`
	AtomCount   int             `json:"atomCount"`
	DayCount    int             `json:"dayCount"`
	Days        []string        `json:"days"`
	DateRange   DateRange       `json:"dateRange"`
}

// ChangedTopic is one topic present in both the previous and current
// manifest whose day set or atom count differs.
type ChangedTopic struct {
	TopicID         string   `json:"topicId"`
	DaysAdded       []string `json:"daysAdded"`
	DaysRemoved     []string `json:"daysRemoved"`
	AtomCountBefore int      `json:"atomCountBefore"`
	AtomCountAfter  int      `json:"atomCountAfter"`
}

// ChangelogSummary is the manifest's "changelog" value (spec §4.J).
type ChangelogSummary struct {
	NewTopics     []string       `json:"newTopics"`
	RemovedTopics []string       `json:"removedTopics"`
	ChangedTopics []ChangedTopic `json:"changedTopics"`
	ChangeCount   int            `json:"changeCount"`
}

// Manifest is the parsed form of a previously rendered manifest.json,
// supplied back in as Input.PreviousManifest for changelog diffing.
type Manifest struct {
	FormatVersion string                  `json:"formatVersion"`
	ExportedAt    string                  `json:"exportedAt"`
	DateRange     DateRange               `json:"dateRange"`
	Batches       []string                `json:"batches"`
	Run           ManifestRun             `json:"run"`
	Files         map[string]FileHash     `json:"files"`
	TopicVersion  string                  `json:"topicVersion,omitempty"`
	Topics        map[string]TopicSummary `json:"topics,omitempty"`
	Changelog     *ChangelogSummary       `json:"changelog,omitempty"`
}

// Input is the complete, already-loaded data the renderer needs. It is
// never mutated and the renderer never performs I/O (spec §4.J "Pure
// function").
type Input struct {
	RunID              string
	Model              string
	StartDate          string
	EndDate            string
	ExportedAt         time.Time
	PrivacyTier        models.PrivacyTier
	TopicVersion       string // "" for V1, "topic_v1" for V2
	Days               []DayOutput
	AtomsByDay         map[string][]models.MessageAtom
	CategoriesByAtomID map[string]models.Category
	Batches            []BatchInfo
	PreviousManifest   *Manifest
}

// RenderExportTree implements spec §4.J end to end: `ExportInput →
// Map<relativePath, utf8Content>`. Deterministic and side-effect free;
// calling it twice on the same Input yields byte-identical output
// (invariant #6).
func RenderExportTree(input Input) (map[string]string, error) {
	files := map[string]string{}
	isV2 := input.TopicVersion == topicVersionV1

	files["README.md"] = normalize(readmeContent(isV2))
	files["views/timeline.md"] = normalize(renderTimeline(dayDatesOf(input.Days)))

	for _, d := range input.Days {
		files[fmt.Sprintf("views/%s.md", d.DayDate)] = normalize(renderDayView(d, input.RunID))
	}

	if input.PrivacyTier == models.PrivacyTierPrivate {
		for _, d := range input.Days {
			files[fmt.Sprintf("atoms/%s.md", d.DayDate)] = normalize(bundle.RenderAtomsText(input.AtomsByDay[d.DayDate]))
		}
		for _, sf := range renderSourceFiles(input.Batches) {
			files["sources/"+sf.slug+".md"] = normalize(sf.content)
		}
	}

	var topics map[string]TopicSummary
	var changelog *ChangelogSummary
	if isV2 {
		topics = computeTopics(input)
		files["topics/INDEX.md"] = normalize(renderTopicsIndex(topics))
		for id, t := range topics {
			files["topics/"+id+".md"] = normalize(renderTopicPage(t))
		}
		if input.PreviousManifest != nil {
			changelog = computeChangelog(topics, input.PreviousManifest.Topics)
			files["changelog.md"] = normalize(renderChangelog(topics, input.PreviousManifest.Topics))
		}
	}

	fileHashes := computeFileHashes(files)
	manifestJSON, err := renderManifestJSON(buildManifestMap(input, fileHashes, topics, changelog))
	if err != nil {
		return nil, err
	}
	files[".journal-meta/manifest.json"] = manifestJSON

	return files, nil
}

// normalize enforces spec §4.J's byte-stability rules: LF only (we never
// emit CR), no trailing whitespace on any line, exactly one trailing
// newline.
func normalize(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t")
	}
	out := strings.TrimRight(strings.Join(lines, "\n"), "\n")
	return out + "\n"
}

func dayDatesOf(days []DayOutput) []string {
	out := make([]string, len(days))
	for i, d := range days {
		out[i] = d.DayDate
	}
	return out
}

const readmeV1Body = `# Journal export (export_v1)

This export contains a day-by-day journal derived from your imported conversations.

- ` + "`views/`" + ` — one Markdown file per day, plus a timeline index.
- ` + "`atoms/`" + ` — the raw per-day conversation record (private exports only).
- ` + "`sources/`" + ` — metadata about each imported batch (private exports only).
- ` + "`.journal-meta/manifest.json`" + ` — a file manifest with content hashes.
`

const readmeV2Suffix = `
This export additionally groups days by topic:

- ` + "`topics/`" + ` — one page per topic, plus an index.
- ` + "`changelog.md`" + ` — differences from the previous export, when available.
`

func readmeContent(isV2 bool) string {
	if !isV2 {
		return readmeV1Body
	}
	return strings.Replace(readmeV1Body, "export_v1", "export_v2", 1) + readmeV2Suffix
}

// renderTimeline implements spec §4.J's views/timeline.md: newest-first,
// flat when ≤14 days, otherwise a Recent(14) section plus the full list
// (scenario S4).
func renderTimeline(dayDates []string) string {
	days := append([]string(nil), dayDates...)
	sort.Sort(sort.Reverse(sort.StringSlice(days)))

	var b strings.Builder
	b.WriteString("# Timeline\n\n")
	if len(days) <= 14 {
		writeDayLinks(&b, days)
		return b.String()
	}

	b.WriteString("## Recent\n\n")
	writeDayLinks(&b, days[:14])
	b.WriteString("\n## All entries\n\n")
	writeDayLinks(&b, days)
	return b.String()
}

func writeDayLinks(b *strings.Builder, days []string) {
	for _, d := range days {
		fmt.Fprintf(b, "- [%s](%s.md)\n", d, d)
	}
}

// renderDayView implements spec §4.J's views/YYYY-MM-DD.md: a fixed-order
// frontmatter followed by outputText verbatim.
func renderDayView(d DayOutput, runID string) string {
	pairs := [][2]string{
		{"date", quoted(d.DayDate)},
		{"model", quoted(d.Model)},
		{"runId", quoted(runID)},
		{"createdAt", quoted(hashutil.CanonicalTimestamp(d.CreatedAt))},
		{"bundleHash", quoted(d.BundleHash)},
		{"bundleContextHash", quoted(d.BundleContextHash)},
		{"segmented", bareBool(d.Segmented)},
	}
	if d.Segmented && d.SegmentCount != nil {
		pairs = append(pairs, [2]string{"segmentCount", bareInt(*d.SegmentCount)})
	}

	var b strings.Builder
	b.WriteString(renderFrontmatter(pairs))
	b.WriteString("\n")
	b.WriteString(d.OutputText)
	return b.String()
}

// renderFrontmatter hand-renders YAML frontmatter with an explicit field
// order, since yaml.v3 does not guarantee either (spec §4.J).
func renderFrontmatter(pairs [][2]string) string {
	var b strings.Builder
	b.WriteString("---\n")
	for _, p := range pairs {
		fmt.Fprintf(&b, "%s: %s\n", p[0], p[1])
	}
	b.WriteString("---\n")
	return b.String()
}

func quoted(s string) string { return strconv.Quote(s) }
func bareBool(v bool) string { return strconv.FormatBool(v) }
func bareInt(v int) string   { return strconv.Itoa(v) }

type sourceFile struct {
	slug    string
	content string
}

// renderSourceFiles implements spec §4.J's sources/<slug>.md slug
// computation, including collision suffixing in batch-id order.
func renderSourceFiles(batches []BatchInfo) []sourceFile {
	ordered := append([]BatchInfo(nil), batches...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	used := map[string]int{}
	out := make([]sourceFile, 0, len(ordered))
	for _, b := range ordered {
		base := string(b.Source) + "-" + sanitizeFilename(b.OriginalFilename)
		used[base]++
		slug := base
		if n := used[base]; n > 1 {
			slug = fmt.Sprintf("%s-%d", base, n)
		}
		out = append(out, sourceFile{slug: slug, content: renderSourcePage(b)})
	}
	return out
}

func sanitizeFilename(name string) string {
	base := name
	if i := strings.LastIndex(base, "."); i > 0 {
		base = base[:i]
	}
	base = strings.ToLower(base)

	var b strings.Builder
	prevDash := false
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			prevDash = false
		case !prevDash:
			b.WriteByte('-')
			prevDash = true
		}
	}
	return strings.Trim(b.String(), "-")
}

func renderSourcePage(b BatchInfo) string {
	fm := renderFrontmatter([][2]string{
		{"batchId", quoted(b.ID)},
		{"source", quoted(string(b.Source))},
		{"originalFilename", quoted(b.OriginalFilename)},
		{"timezone", quoted(b.Timezone)},
		{"messageCount", bareInt(b.MessageCount)},
		{"dayCount", bareInt(b.DayCount)},
		{"coverageStart", quoted(b.CoverageStart)},
		{"coverageEnd", quoted(b.CoverageEnd)},
	})
	return fmt.Sprintf("%s\nImported from `%s`.\n", fm, b.OriginalFilename)
}

// computeTopics implements spec §4.J "Topic computation (topic_v1)":
// atoms are grouped by category (missing category maps to OTHER), and
// per-topic atomCount/dayCount/dateRange/days are derived.
func computeTopics(input Input) map[string]TopicSummary {
	type agg struct {
		category models.Category
		days     map[string]int
	}
	aggs := map[string]*agg{}

	for _, d := range input.Days {
		for _, a := range input.AtomsByDay[d.DayDate] {
			cat, ok := input.CategoriesByAtomID[a.ID]
			if !ok {
				cat = models.CategoryOther
			}
			id := cat.TopicID()
			ag := aggs[id]
			if ag == nil {
				ag = &agg{category: cat, days: map[string]int{}}
				aggs[id] = ag
			}
			ag.days[d.DayDate]++
		}
	}

	out := make(map[string]TopicSummary, len(aggs))
	for id, ag := range aggs {
		days := make([]string, 0, len(ag.days))
		atomCount := 0
		for day, n := range ag.days {
			days = append(days, day)
			atomCount += n
		}
		sort.Strings(days)
		out[id] = TopicSummary{
			TopicID:     id,
			Category:    ag.category,
			DisplayName: ag.category.DisplayName(),
			AtomCount:   atomCount,
			DayCount:    len(days),
			Days:        days,
			DateRange:   DateRange{Start: days[0], End: days[len(days)-1]},
		}
	}
	return out
}

// renderTopicsIndex implements spec §4.J topics/INDEX.md: sorted
// atomCount DESC, category ASC.
func renderTopicsIndex(topics map[string]TopicSummary) string {
	ids := sortedTopicIDs(topics, func(a, b TopicSummary) bool {
		if a.AtomCount != b.AtomCount {
			return a.AtomCount > b.AtomCount
		}
		return a.Category < b.Category
	})

	var b strings.Builder
	b.WriteString("# Topics\n\n")
	b.WriteString("| Topic | Atoms | Days | Date range |\n")
	b.WriteString("|---|---|---|---|\n")
	for _, id := range ids {
		t := topics[id]
		fmt.Fprintf(&b, "| [%s](%s.md) | %d | %d | %s to %s |\n",
			t.DisplayName, t.TopicID, t.AtomCount, t.DayCount, t.DateRange.Start, t.DateRange.End)
	}
	return b.String()
}

func sortedTopicIDs(topics map[string]TopicSummary, less func(a, b TopicSummary) bool) []string {
	ids := make([]string, 0, len(topics))
	for id := range topics {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return less(topics[ids[i]], topics[ids[j]]) })
	return ids
}

// renderTopicPage implements spec §4.J topics/<topicId>.md: frontmatter
// plus a newest-first day list linking back into views/.
func renderTopicPage(t TopicSummary) string {
	fm := renderFrontmatter([][2]string{
		{"topicId", quoted(t.TopicID)},
		{"topicVersion", quoted(topicVersionV1)},
		{"category", quoted(string(t.Category))},
		{"displayName", quoted(t.DisplayName)},
		{"atomCount", bareInt(t.AtomCount)},
		{"dayCount", bareInt(t.DayCount)},
		{"dateRange", quoted(t.DateRange.Start + ".." + t.DateRange.End)},
	})

	atomWord := "atoms"
	if t.AtomCount == 1 {
		atomWord = "atom"
	}

	var b strings.Builder
	b.WriteString(fm)
	fmt.Fprintf(&b, "\n%d %s across %d day(s).\n\n", t.AtomCount, atomWord, t.DayCount)

	days := append([]string(nil), t.Days...)
	sort.Sort(sort.Reverse(sort.StringSlice(days)))
	for _, d := range days {
		fmt.Fprintf(&b, "- [%s](../views/%s.md)\n", d, d)
	}
	return b.String()
}

// computeChangelog implements spec §4.J "Changelog diff": new/removed
// topics by set difference, changed topics where either the day set or
// atomCount differs (scenario S5).
func computeChangelog(current, previous map[string]TopicSummary) *ChangelogSummary {
	var newIDs, removedIDs []string
	for id := range current {
		if _, ok := previous[id]; !ok {
			newIDs = append(newIDs, id)
		}
	}
	for id := range previous {
		if _, ok := current[id]; !ok {
			removedIDs = append(removedIDs, id)
		}
	}

	var changed []ChangedTopic
	for id, cur := range current {
		prev, ok := previous[id]
		if !ok {
			continue
		}
		added, removed := diffDays(prev.Days, cur.Days)
		if len(added) > 0 || len(removed) > 0 || prev.AtomCount != cur.AtomCount {
			changed = append(changed, ChangedTopic{
				TopicID: id, DaysAdded: added, DaysRemoved: removed,
				AtomCountBefore: prev.AtomCount, AtomCountAfter: cur.AtomCount,
			})
		}
	}

	newIDs = sortByDisplayName(newIDs, current)
	removedIDs = sortByDisplayName(removedIDs, previous)
	sort.Slice(changed, func(i, j int) bool {
		return current[changed[i].TopicID].DisplayName < current[changed[j].TopicID].DisplayName
	})

	return &ChangelogSummary{
		NewTopics:     newIDs,
		RemovedTopics: removedIDs,
		ChangedTopics: changed,
		ChangeCount:   len(newIDs) + len(removedIDs) + len(changed),
	}
}

func diffDays(prev, cur []string) (added, removed []string) {
	prevSet := make(map[string]bool, len(prev))
	for _, d := range prev {
		prevSet[d] = true
	}
	curSet := make(map[string]bool, len(cur))
	for _, d := range cur {
		curSet[d] = true
	}
	for _, d := range cur {
		if !prevSet[d] {
			added = append(added, d)
		}
	}
	for _, d := range prev {
		if !curSet[d] {
			removed = append(removed, d)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	return added, removed
}

func sortByDisplayName(ids []string, lookup map[string]TopicSummary) []string {
	out := append([]string(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return lookup[out[i]].DisplayName < lookup[out[j]].DisplayName })
	return out
}

// renderChangelog implements spec §4.J changelog.md: three sections,
// empty ones omitted, entries sorted by displayName ASC.
func renderChangelog(current, previous map[string]TopicSummary) string {
	cl := computeChangelog(current, previous)

	var b strings.Builder
	b.WriteString("# Changelog\n")

	if len(cl.NewTopics) > 0 {
		b.WriteString("\n## New topics\n\n")
		for _, id := range cl.NewTopics {
			fmt.Fprintf(&b, "- %s\n", current[id].DisplayName)
		}
	}

	if len(cl.RemovedTopics) > 0 {
		b.WriteString("\n## Removed topics\n\n")
		for _, id := range cl.RemovedTopics {
			fmt.Fprintf(&b, "- %s\n", previous[id].DisplayName)
		}
	}

	if len(cl.ChangedTopics) > 0 {
		b.WriteString("\n## Changed topics\n\n")
		for _, c := range cl.ChangedTopics {
			delta := c.AtomCountAfter - c.AtomCountBefore
			sign := ""
			if delta >= 0 {
				sign = "+"
			}
			fmt.Fprintf(&b, "- %s: atoms %d -> %d (%s%d)", current[c.TopicID].DisplayName, c.AtomCountBefore, c.AtomCountAfter, sign, delta)
			if len(c.DaysAdded) > 0 {
				fmt.Fprintf(&b, ", days added %s", strings.Join(c.DaysAdded, ", "))
			}
			if len(c.DaysRemoved) > 0 {
				fmt.Fprintf(&b, ", days removed %s", strings.Join(c.DaysRemoved, ", "))
			}
			b.WriteString("\n")
		}
	}

	return b.String()
}

func computeFileHashes(files map[string]string) map[string]FileHash {
	out := make(map[string]FileHash, len(files))
	for path, content := range files {
		out[path] = FileHash{SHA256: hashutil.SHA256Hex(content)}
	}
	return out
}

// buildManifestMap assembles the manifest payload as a map so field
// presence (e.g. topicVersion/topics/changelog only in V2) can be
// controlled precisely. encoding/json sorts map keys alphabetically, but
// only for map values, never for struct fields, which always serialize
// in declared-field order; every nested value is therefore built as a
// map too via the dateRangeMap/runMap/topicsMap/changelogMap helpers
// below, so "keys alphabetically sorted at every depth" (spec §4.J)
// holds all the way down.
func buildManifestMap(input Input, fileHashes map[string]FileHash, topics map[string]TopicSummary, changelog *ChangelogSummary) map[string]any {
	batchIDs := make([]string, len(input.Batches))
	for i, b := range input.Batches {
		batchIDs[i] = b.ID
	}
	sort.Strings(batchIDs)

	m := map[string]any{
		"formatVersion": formatVersionString(input.TopicVersion),
		"exportedAt":    hashutil.CanonicalTimestamp(input.ExportedAt),
		"dateRange":     dateRangeMap(DateRange{Start: input.StartDate, End: input.EndDate}),
		"batches":       batchIDs,
		"run": runMap(ManifestRun{
			ID: input.RunID, Model: input.Model,
			StartDate: input.StartDate, EndDate: input.EndDate,
		}),
		"files": fileHashes,
	}

	if input.TopicVersion == topicVersionV1 {
		m["topicVersion"] = input.TopicVersion
		m["topics"] = topicsMap(topics)
		if changelog != nil {
			m["changelog"] = changelogMap(changelog)
		} else {
			m["changelog"] = nil
		}
	}
	return m
}

func dateRangeMap(dr DateRange) map[string]any {
	return map[string]any{"end": dr.End, "start": dr.Start}
}

func runMap(r ManifestRun) map[string]any {
	return map[string]any{"endDate": r.EndDate, "id": r.ID, "model": r.Model, "startDate": r.StartDate}
}

func topicsMap(topics map[string]TopicSummary) map[string]any {
	out := make(map[string]any, len(topics))
	for id, t := range topics {
		out[id] = map[string]any{
			"atomCount":   t.AtomCount,
			"category":    t.Category,
			"dateRange":   dateRangeMap(t.DateRange),
			"dayCount":    t.DayCount,
			"days":        t.Days,
			"displayName": t.DisplayName,
			"topicId":     t.TopicID,
		}
	}
	return out
}

func changedTopicMap(c ChangedTopic) map[string]any {
	return map[string]any{
		"atomCountAfter":  c.AtomCountAfter,
		"atomCountBefore": c.AtomCountBefore,
		"daysAdded":       c.DaysAdded,
		"daysRemoved":     c.DaysRemoved,
		"topicId":         c.TopicID,
	}
}

func changelogMap(cl *ChangelogSummary) map[string]any {
	changed := make([]map[string]any, len(cl.ChangedTopics))
	for i, c := range cl.ChangedTopics {
		changed[i] = changedTopicMap(c)
	}
	return map[string]any{
		"changeCount":   cl.ChangeCount,
		"changedTopics": changed,
		"newTopics":     cl.NewTopics,
		"removedTopics": cl.RemovedTopics,
	}
}

func formatVersionString(topicVersion string) string {
	if topicVersion == topicVersionV1 {
		return "export_v2"
	}
	return "export_v1"
}

func renderManifestJSON(m map[string]any) (string, error) {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal manifest: %w", err)
	}
	return normalize(string(b)), nil
}
