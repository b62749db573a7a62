package models

// Source identifies which vendor export an atom or batch came from.
type Source string

const (
	SourceChatGPT Source = "chatgpt"
	SourceClaude  Source = "claude"
	SourceGrok    Source = "grok"
)

// IsValid reports whether s is one of the three supported vendor sources.
func (s Source) IsValid() bool {
	switch s {
	case SourceChatGPT, SourceClaude, SourceGrok:
		return true
	default:
		return false
	}
}

// Role is the speaker of a message atom.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// IsValid reports whether r is "user" or "assistant".
func (r Role) IsValid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Before implements the spec §9 open-question resolution: user sorts
// before assistant everywhere role ordering is observable, which is the
// opposite of plain lexical string comparison ("assistant" < "user").
func (r Role) Before(other Role) bool {
	if r == other {
		return false
	}
	return r == RoleUser
}

// Category is one of the 13 closed-set journal categories (spec §3).
type Category string

const (
	CategoryWork               Category = "WORK"
	CategoryLearning           Category = "LEARNING"
	CategoryCreative           Category = "CREATIVE"
	CategoryMundane            Category = "MUNDANE"
	CategoryPersonal           Category = "PERSONAL"
	CategoryOther              Category = "OTHER"
	CategoryMedical            Category = "MEDICAL"
	CategoryMentalHealth       Category = "MENTAL_HEALTH"
	CategoryAddictionRecovery  Category = "ADDICTION_RECOVERY"
	CategoryIntimacy           Category = "INTIMACY"
	CategoryFinancial          Category = "FINANCIAL"
	CategoryLegal              Category = "LEGAL"
	CategoryEmbarrassing       Category = "EMBARRASSING"
)

// AllCategories is the closed set of 13 categories in the spec's listed
// order, used for validation and for the stub classifier's index-into-slice
// (restricted to the first 6, see StubCategories).
var AllCategories = []Category{
	CategoryWork, CategoryLearning, CategoryCreative, CategoryMundane,
	CategoryPersonal, CategoryOther, CategoryMedical, CategoryMentalHealth,
	CategoryAddictionRecovery, CategoryIntimacy, CategoryFinancial,
	CategoryLegal, CategoryEmbarrassing,
}

// StubCategories is the 6-category rotation the deterministic stub
// classifier picks from (spec §4.C step 4, scenario S2).
var StubCategories = []Category{
	CategoryWork, CategoryLearning, CategoryCreative,
	CategoryMundane, CategoryPersonal, CategoryOther,
}

// IsValidCategory reports whether c is one of the 13 closed-set categories.
func IsValidCategory(c Category) bool {
	for _, v := range AllCategories {
		if v == c {
			return true
		}
	}
	return false
}

// categoryDisplayNames is the fixed Title-Case mapping used by the v2
// export topic renderer (spec §4.J "Topic computation").
var categoryDisplayNames = map[Category]string{
	CategoryWork:              "Work",
	CategoryLearning:          "Learning",
	CategoryCreative:          "Creative",
	CategoryMundane:           "Mundane",
	CategoryPersonal:          "Personal",
	CategoryOther:             "Other",
	CategoryMedical:           "Medical",
	CategoryMentalHealth:      "Mental Health",
	CategoryAddictionRecovery: "Addiction Recovery",
	CategoryIntimacy:          "Intimacy",
	CategoryFinancial:         "Financial",
	CategoryLegal:             "Legal",
	CategoryEmbarrassing:      "Embarrassing",
}

// DisplayName returns the Title-Case display name for a category, falling
// back to the raw string for an (invalid) unknown category.
func (c Category) DisplayName() string {
	if name, ok := categoryDisplayNames[c]; ok {
		return name
	}
	return string(c)
}

// TopicID returns the export topic id for a category: its lowercase form.
func (c Category) TopicID() string {
	return toLower(string(c))
}

func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// FilterMode determines whether a FilterProfile includes or excludes its
// listed categories.
type FilterMode string

const (
	FilterModeInclude FilterMode = "include"
	FilterModeExclude FilterMode = "exclude"
)

func (m FilterMode) IsValid() bool {
	return m == FilterModeInclude || m == FilterModeExclude
}

// RunStatus is the lifecycle state of a Run (spec §4.G).
type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// JobStatus is the lifecycle state of a Job (spec §3, §4.H).
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// PromptStage identifies which pipeline stage a Prompt template belongs to.
type PromptStage string

const (
	PromptStageClassify  PromptStage = "classify"
	PromptStageSummarize PromptStage = "summarize"
	PromptStageRedact    PromptStage = "redact"
)

func (s PromptStage) IsValid() bool {
	switch s {
	case PromptStageClassify, PromptStageSummarize, PromptStageRedact:
		return true
	default:
		return false
	}
}

// ClassifyMode selects between the deterministic stub classifier and a
// real LLM-backed one.
type ClassifyMode string

const (
	ClassifyModeStub ClassifyMode = "stub"
	ClassifyModeReal ClassifyMode = "real"
)

func (m ClassifyMode) IsValid() bool {
	return m == ClassifyModeStub || m == ClassifyModeReal
}

// StubModel is the reserved model name used by the deterministic classifier
// and summariser paths; it carries zero pricing rates.
const StubModel = "stub"

// StubPromptVersionID is the id of the migration-seeded PromptVersion row
// that exists solely to satisfy prompt_versions foreign keys for stub-mode
// classify calls. Real-mode classify must never be pointed at it.
const StubPromptVersionID = "stub-seed"

// PrivacyTier controls whether an export includes raw atom text.
type PrivacyTier string

const (
	PrivacyTierPrivate PrivacyTier = "private"
	PrivacyTierPublic  PrivacyTier = "public"
)

func (t PrivacyTier) IsValid() bool {
	return t == PrivacyTierPrivate || t == PrivacyTierPublic
}
