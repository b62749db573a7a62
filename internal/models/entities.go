package models

import "time"

// ImportBatch is a single parsed vendor export file (spec §3). Immutable
// after creation.
type ImportBatch struct {
	ID               string
	CreatedAt        time.Time
	Source           Source
	OriginalFilename string
	FileSizeBytes    int64
	Timezone         string
	Stats            BatchStats
}

// BatchStats summarises an ImportBatch's contents at creation time.
type BatchStats struct {
	MessageCount    int
	DayCount        int
	CoverageStart   string // YYYY-MM-DD
	CoverageEnd     string // YYYY-MM-DD
	PerSourceCounts map[Source]int
}

// MessageAtom is one normalised message (spec §3). Never mutated or
// deleted while any label references it.
type MessageAtom struct {
	ID                   string
	AtomStableID         string
	ImportBatchID        string
	Source               Source
	SourceConversationID string // optional, may be ""
	SourceMessageID      string // optional, may be ""
	TimestampUTC         time.Time
	DayDate              string // YYYY-MM-DD, computed in the batch's timezone
	Role                 Role
	Text                 string
	TextHash             string
}

// RawEntry is the verbatim per-(batch, source, day) concatenation of that
// day's atoms, unfiltered (spec §3).
type RawEntry struct {
	ID            string
	ImportBatchID string
	Source        Source
	DayDate       string
	ContentText   string
	ContentHash   string
	CreatedAt     time.Time
}

// PromptVersion is one immutable version of a Prompt template (spec §3).
type PromptVersion struct {
	ID           string
	Stage        PromptStage
	Name         string
	VersionLabel string
	TemplateText string
	IsActive     bool
	CreatedAt    time.Time
}

// MessageLabel is the classification result for one
// (atom, model, promptVersion) triple. Immutable once written.
type MessageLabel struct {
	ID              string
	MessageAtomID   string
	Model           string
	PromptVersionID string
	Category        Category
	Confidence      float64
	CreatedAt       time.Time
}

// LabelSpec identifies the (model, promptVersionId) pair a MessageLabel was
// produced under (spec GLOSSARY).
type LabelSpec struct {
	Model           string `json:"model"`
	PromptVersionID string `json:"promptVersionId"`
}

// FilterProfile is a named include/exclude category policy. Snapshotted by
// value into runs; never referenced live after that.
type FilterProfile struct {
	ID         string
	Name       string
	Mode       FilterMode
	Categories []Category
}

// FilterProfileSnapshot is the value-object form of a FilterProfile frozen
// into a Run's configJson.
type FilterProfileSnapshot struct {
	Mode       FilterMode `json:"mode"`
	Categories []Category `json:"categories"`
}

// Matches reports whether category passes this snapshot's include/exclude
// policy.
func (s FilterProfileSnapshot) Matches(category Category) bool {
	in := false
	for _, c := range s.Categories {
		if c == category {
			in = true
			break
		}
	}
	if s.Mode == FilterModeExclude {
		return !in
	}
	return in
}

// RunConfig is the frozen configuration captured at run creation (spec §3
// "configJson"). Immutable after creation; all downstream work reads from
// this value, never from the live FilterProfile/PromptVersion rows.
type RunConfig struct {
	SummarizePromptVersionID string                `json:"promptVersionIds.summarize"`
	LabelSpec                LabelSpec             `json:"labelSpec"`
	FilterProfileSnapshot    FilterProfileSnapshot `json:"filterProfileSnapshot"`
	Timezone                 string                `json:"timezone"`
	MaxInputTokens           int                   `json:"maxInputTokens"`
	PricingSnapshot          *PricingSnapshot      `json:"pricingSnapshot,omitempty"`
	ImportBatchIDs           []string              `json:"importBatchIds"`
}

// PricingSnapshot freezes the pricing-book rates used for a run at the
// moment of its creation (spec GLOSSARY).
type PricingSnapshot struct {
	Model                string    `json:"model"`
	Provider              string    `json:"provider"`
	InputPer1MUsd         float64   `json:"inputPer1MUsd"`
	OutputPer1MUsd        float64   `json:"outputPer1MUsd"`
	CachedInputPer1MUsd   *float64  `json:"cachedInputPer1MUsd,omitempty"`
	CapturedAt            time.Time `json:"capturedAt"`
}

// Run is one pipeline execution (spec §3).
type Run struct {
	ID               string
	Status           RunStatus
	Model            string
	StartDate        string // YYYY-MM-DD
	EndDate          string // YYYY-MM-DD
	Sources          []Source
	FilterProfileID  string // UI reference only; Config.FilterProfileSnapshot governs
	OutputTarget     string
	Config           RunConfig
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// RunBatch is the (run, importBatch) junction (spec §3).
type RunBatch struct {
	RunID         string
	ImportBatchID string
}

// JobErrorInfo is the exact error shape persisted on a failed job (spec §7).
type JobErrorInfo struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retriable bool   `json:"retriable"`
	At        string `json:"at"`
}

// Job is work for one (run, dayDate) (spec §3).
type Job struct {
	RunID      string
	DayDate    string
	Status     JobStatus
	Attempt    int
	StartedAt  *time.Time
	FinishedAt *time.Time
	TokensIn   *int
	TokensOut  *int
	CostUsd    *float64
	Error      *JobErrorInfo
}

// OutputMeta is the outputJson.meta payload persisted alongside an Output
// (spec §3).
type OutputMeta struct {
	Segmented             bool     `json:"segmented"`
	SegmentCount          *int     `json:"segmentCount,omitempty"`
	SegmentIDs            []string `json:"segmentIds,omitempty"`
	AtomCount             int      `json:"atomCount"`
	EstimatedInputTokens  int      `json:"estimatedInputTokens"`
}

// Output is a job's summarize-stage artefact (spec §3). Immutable once
// written.
type Output struct {
	ID                string
	JobRunID          string
	JobDayDate        string
	Stage             string // always "summarize" for now
	OutputText        string
	Meta              OutputMeta
	Model             string
	PromptVersionID   string
	BundleHash        string
	BundleContextHash string
	CreatedAt         time.Time
}

// ClassifyRun is a stats record for one classifyBatch invocation (spec §3).
type ClassifyRun struct {
	ID                   string
	ImportBatchID        string
	Model                string
	PromptVersionID      string
	Mode                 ClassifyMode
	Status               string
	TotalAtoms           int
	NewlyLabeled         int
	SkippedAlreadyLabeled int
	LabeledTotal         int
	FinishedAt           *time.Time
	CostUsd              *float64
}
