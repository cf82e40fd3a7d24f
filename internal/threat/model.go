package threat

import (
	"fmt"
	"strings"
	"time"
)

// Kind classifies the artifact being analyzed.
type Kind string

const (
	KindEmail Kind = "email"
	KindURL   Kind = "url"
	KindText  Kind = "text"
	KindLink  Kind = "link"
)

// Status tracks an artifact through its analysis lifecycle.
// Transitions only move forward (pending → analyzing → executing → completed),
// except "error", which a reanalyze resets back to "analyzing".
type Status string

const (
	StatusPending   Status = "pending"
	StatusAnalyzing Status = "analyzing"
	StatusExecuting Status = "executing"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Severity is the analyst-facing severity level.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ValidSeverity reports whether s is one of the four known levels.
func ValidSeverity(s Severity) bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Artifact is a suspicious input unit (URL, email body, free text) undergoing
// analysis. It exclusively owns its timeline events and its result snapshots;
// re-runs replace the snapshots wholesale.
type Artifact struct {
	ID        string  `json:"id"`
	Kind      Kind    `json:"kind"`
	Content   string  `json:"content"`
	Source    string  `json:"source,omitempty"`
	Status    Status  `json:"status"`
	Severity  Severity `json:"severity,omitempty"`
	RiskScore *float64 `json:"risk_score,omitempty"`

	Analysis        *AnalysisResult `json:"analysis,omitempty"`
	SandboxExecuted bool            `json:"sandbox_executed"`
	SandboxResult   *SandboxResult  `json:"sandbox_result,omitempty"`

	Timeline []TimelineEvent `json:"timeline,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	AnalyzedAt *time.Time `json:"analyzed_at,omitempty"`
}

// TimelineEvent is an immutable, insertion-ordered audit record of a
// lifecycle transition. Events are append-only and never mutated.
type TimelineEvent struct {
	EventType   string            `json:"event_type"`
	Description string            `json:"description"`
	Timestamp   time.Time         `json:"timestamp"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Timeline event types emitted by the lifecycle.
const (
	EventReceived         = "threat_received"
	EventAnalysisStarted  = "analysis_started"
	EventAnalysisDone     = "analysis_completed"
	EventAnalysisError    = "analysis_error"
	EventSandboxStarted   = "sandbox_execution_started"
	EventSandboxDone      = "sandbox_execution_completed"
	EventSandboxError     = "sandbox_execution_error"
	EventReanalyzeStarted = "reanalysis_requested"
)

// AnalysisResult is the structured outcome of one analysis attempt.
// Immutable once constructed; copied onto the artifact as a snapshot.
type AnalysisResult struct {
	RiskScore       float64  `json:"risk_score"`
	Severity        Severity `json:"severity"`
	Explanation     string   `json:"explanation"`
	Indicators      []string `json:"indicators,omitempty"`
	Recommendations string   `json:"recommendations"`
	RawAnalysis     string   `json:"raw_analysis,omitempty"`
}

// SandboxResult captures everything observed during a sandbox probe.
type SandboxResult struct {
	Success      bool             `json:"success"`
	ActionsTaken []string         `json:"actions_taken"`
	Observations []string         `json:"observations"`
	Redirects    []Redirect       `json:"redirects"`
	FormsFound   []FormDescriptor `json:"forms_found"`
	URLsFound    []string         `json:"urls_found,omitempty"`
	Errors       []string         `json:"errors"`
}

// Redirect records a single hop in a redirect chain.
type Redirect struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Status int    `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// FormDescriptor describes one HTML form discovered on a probed page.
type FormDescriptor struct {
	Action string      `json:"action"`
	Method string      `json:"method"` // GET or POST
	Fields []FormField `json:"fields"`
}

// FormField describes one input within a discovered form.
type FormField struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
}

// ClampScore bounds a risk score to [0,100]. Every code path that surfaces a
// score goes through this.
func ClampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// SetRiskScore clamps and stores the score on the artifact.
func (a *Artifact) SetRiskScore(score float64) {
	clamped := ClampScore(score)
	a.RiskScore = &clamped
}

// SandboxApplicable reports whether the artifact kind warrants a sandbox probe.
func (a *Artifact) SandboxApplicable() bool {
	switch a.Kind {
	case KindURL, KindLink, KindEmail:
		return true
	}
	return false
}

// Validate checks that a submitted artifact is well-formed before any state
// is created for it.
func Validate(kind Kind, content string) error {
	switch kind {
	case KindEmail, KindURL, KindText, KindLink:
	default:
		return &ValidationError{Field: "kind", Message: fmt.Sprintf("unknown artifact kind %q", kind)}
	}
	if strings.TrimSpace(content) == "" {
		return &ValidationError{Field: "content", Message: "content is required"}
	}
	return nil
}
