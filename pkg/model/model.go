// Package model defines the relational entities persisted by GuardLoop: one
// row per request (Session) plus the child rows produced by each pipeline
// stage, and the entities that drive the adaptive-learning loop.
package model

import "time"

// Mode is the enforcement posture for a request.
type Mode string

const (
	ModeStandard Mode = "standard"
	ModeStrict   Mode = "strict"
)

// NormalizeMode maps an unrecognised mode string to ModeStandard.
func NormalizeMode(s string) Mode {
	if Mode(s) == ModeStrict {
		return ModeStrict
	}
	return ModeStandard
}

// Severity is a closed enum shared by FailureMode, Violation and DynamicGuardrail.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ValidSeverity reports whether s is one of the closed severity values.
func ValidSeverity(s Severity) bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// severityRank gives the relative ordering used for "max of examples" and
// for confidence computation (avg_severity_rank/4 in the pattern analyser).
var severityRank = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// SeverityRank returns the 1..4 ordinal of a severity, 0 for unknown values.
func SeverityRank(s Severity) int { return severityRank[s] }

// MaxSeverity returns the highest-ranked severity among those given. Returns
// SeverityLow for an empty slice.
func MaxSeverity(ss ...Severity) Severity {
	best := SeverityLow
	for _, s := range ss {
		if severityRank[s] > severityRank[best] {
			best = s
		}
	}
	return best
}

// GuardrailType is the closed set of Violation sources.
type GuardrailType string

const (
	GuardrailBPSBS GuardrailType = "bpsbs"
	GuardrailAI    GuardrailType = "ai"
	GuardrailUXUI  GuardrailType = "ux_ui"
	GuardrailAgent GuardrailType = "agent"
)

// TaskType is the classifier's closed label set.
type TaskType string

const (
	TaskCode     TaskType = "code"
	TaskContent  TaskType = "content"
	TaskCreative TaskType = "creative"
	TaskMixed    TaskType = "mixed"
	TaskUnknown  TaskType = "unknown"
)

// Complexity is the discrete label used for budgeting and chain selection.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityMedium   Complexity = "medium"
	ComplexityComplex  Complexity = "complex"
	ComplexityCritical Complexity = "critical"
)

// GuardrailStatus is the DynamicGuardrail lifecycle state.
type GuardrailStatus string

const (
	StatusTrial      GuardrailStatus = "trial"
	StatusValidated  GuardrailStatus = "validated"
	StatusEnforced   GuardrailStatus = "enforced"
	StatusDeprecated GuardrailStatus = "deprecated"
)

// EnforcementMode is how a DynamicGuardrail should be applied once selected.
type EnforcementMode string

const (
	EnforcementWarn    EnforcementMode = "warn"
	EnforcementAutoFix EnforcementMode = "auto_fix"
	EnforcementBlock   EnforcementMode = "block"
)

// ContextType is the closed set of ContextTracking payload kinds.
type ContextType string

const (
	ContextFile      ContextType = "file"
	ContextDirectory ContextType = "directory"
	ContextProject   ContextType = "project"
	ContextCustom    ContextType = "custom"
)

// ConversationRole is the closed role set of a ConversationHistory row.
type ConversationRole string

const (
	RoleUser      ConversationRole = "user"
	RoleAssistant ConversationRole = "assistant"
	RoleSystem    ConversationRole = "system"
)

// Session is one row per request.
type Session struct {
	ID             string
	CreatedAt      time.Time
	Tool           string
	Agent          string
	Mode           Mode
	Prompt         string
	AugmentedPrompt string
	RawOutput      string
	ParsedOutput   string // JSON-encoded ParsedResponse
	ViolationCount int
	Approved       bool
	ExecutionMS    int64
}

// FailureMode is a detected failure pattern, one row per occurrence.
type FailureMode struct {
	ID         int64
	SessionID  string
	Tool       string
	Category   string
	Pattern    string
	Severity   Severity
	Context    string
	Resolution string
	Resolved   bool
}

// Violation is one detected policy violation.
type Violation struct {
	ID            int64
	SessionID     string
	GuardrailType GuardrailType
	RuleID        string
	Severity      Severity
	Description   string
	Suggestion    string
	FilePath      string
	Line          int
}

// AgentActivity is a per-reviewer invocation record.
type AgentActivity struct {
	ID          int64
	SessionID   string
	Agent       string
	Action      string
	Success     bool
	ExecutionMS int64
	Error       string
	Metadata    string // JSON
}

// ContextTracking is a context-injection record.
type ContextTracking struct {
	ID          int64
	SessionID   string
	ContextType ContextType
	Payload     string // JSON
	TokensUsed  int
}

// LearnedPattern is a statistically significant failure/violation signature.
type LearnedPattern struct {
	ID          int64
	Hash        string // hex-encoded 256-bit hash of (category, pattern)
	Category    string
	Signature   string
	Description string
	Frequency   int
	Severity    Severity
	FirstSeen   time.Time
	LastSeen    time.Time
	Confidence  float64
	Examples    []string // Session ids, capped at 5
	Metadata    string   // JSON
}

// DynamicGuardrail is a rule synthesised from a LearnedPattern.
type DynamicGuardrail struct {
	ID              int64
	PatternID       int64
	RuleText        string
	Category        string
	Confidence      float64
	Status          GuardrailStatus
	EnforcementMode EnforcementMode
	TaskTypes       []TaskType
	CreatedAt       time.Time
	ActivatedAt     *time.Time
	DeactivatedAt   *time.Time
	Creator         string
	Metadata        string // JSON
}

// RuleEffectiveness is a daily rollup per dynamic guardrail.
type RuleEffectiveness struct {
	ID               int64
	RuleID           int64
	Date             string // YYYY-MM-DD
	TimesTriggered   int
	PreventedFailures int
	TruePositives    int
	FalsePositives   int
	AvgConfidence    float64
}

// ConversationHistory is one turn of a multi-turn conversation.
type ConversationHistory struct {
	ID             int64
	ConversationID string
	TurnNumber     int
	Role           ConversationRole
	Content        string
	CreatedAt      time.Time
	TokensUsed     int
	Metadata       string // JSON
}

// TaskClassification is the classifier's verdict for a session.
type TaskClassification struct {
	ID                int64
	SessionID         string
	TaskType          TaskType
	Confidence        float64
	RequiresGuardrails bool
	Features          string // JSON feature breakdown
}
