package contract

import (
	"fmt"
	"strings"
	"time"
)

type Role string

const (
	RoleArchitect    Role = "architect"
	RolePlanReviewer Role = "plan_reviewer"
	RoleScopeAnalyst Role = "scope_analyst"
	RoleCodeReviewer Role = "code_reviewer"
	RoleSecurity     Role = "security"
)

// AllRoles returns every role in enumeration order. Review tie-breaks and
// auto-selection padding depend on this order staying stable.
func AllRoles() []Role {
	return []Role{
		RoleArchitect,
		RolePlanReviewer,
		RoleScopeAnalyst,
		RoleCodeReviewer,
		RoleSecurity,
	}
}

func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleArchitect:
		return RoleArchitect, nil
	case RolePlanReviewer:
		return RolePlanReviewer, nil
	case RoleScopeAnalyst:
		return RoleScopeAnalyst, nil
	case RoleCodeReviewer:
		return RoleCodeReviewer, nil
	case RoleSecurity:
		return RoleSecurity, nil
	default:
		return "", fmt.Errorf("%w: %q (valid: architect, plan_reviewer, scope_analyst, code_reviewer, security)", ErrUnknownRole, s)
	}
}

// Order returns the role's position in enumeration order. Unknown roles sort last.
func (r Role) Order() int {
	for i, known := range AllRoles() {
		if known == r {
			return i
		}
	}
	return len(AllRoles())
}

func (r Role) Display() string {
	switch r {
	case RoleArchitect:
		return "Architect"
	case RolePlanReviewer:
		return "Plan Reviewer"
	case RoleScopeAnalyst:
		return "Scope Analyst"
	case RoleCodeReviewer:
		return "Code Reviewer"
	case RoleSecurity:
		return "Security"
	default:
		return string(r)
	}
}

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ParseSeverity is forgiving: anything unrecognized becomes medium, the same
// default the findings archive uses.
func ParseSeverity(s string) Severity {
	switch Severity(strings.ToLower(strings.TrimSpace(s))) {
	case SeverityInfo:
		return SeverityInfo
	case SeverityLow:
		return SeverityLow
	case SeverityMedium:
		return SeverityMedium
	case SeverityHigh:
		return SeverityHigh
	case SeverityCritical:
		return SeverityCritical
	default:
		return SeverityMedium
	}
}

// Actionable reports whether the severity demands action (medium and above).
// Review treats agreement within one actionability partition as consensus.
func (s Severity) Actionable() bool {
	switch s {
	case SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	default:
		return false
	}
}

type ExpertStatus string

const (
	StatusIdle               ExpertStatus = "idle"
	StatusRunning            ExpertStatus = "running"
	StatusAwaitingToolResult ExpertStatus = "awaiting_tool_result"
	StatusCompleted          ExpertStatus = "completed"
	StatusFailed             ExpertStatus = "failed"
	StatusTimedOut           ExpertStatus = "timed_out"
	StatusCancelled          ExpertStatus = "cancelled"
)

func (s ExpertStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimedOut, StatusCancelled:
		return true
	default:
		return false
	}
}

type Mode string

const (
	ModeSingle  Mode = "single"
	ModeCouncil Mode = "council"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeSingle, "":
		return ModeSingle, nil
	case ModeCouncil:
		return ModeCouncil, nil
	default:
		return "", fmt.Errorf("%w: mode=%q (valid: single, council)", ErrValidation, s)
	}
}

// Bounds carries the numeric limits for one consultation. Zero fields fall
// back to configured defaults at dispatch time.
type Bounds struct {
	MaxIterations      int           `json:"max_iterations,omitempty"`
	ExpertTimeout      time.Duration `json:"expert_timeout,omitempty"`
	LLMCallTimeout     time.Duration `json:"llm_call_timeout,omitempty"`
	CouncilTimeout     time.Duration `json:"council_timeout,omitempty"`
	MaxConcurrent      int           `json:"max_concurrent,omitempty"`
	MaxToolResultChars int           `json:"max_tool_result_chars,omitempty"`
	MaxTotalToolCalls  int           `json:"max_total_tool_calls,omitempty"`
	MaxParallelTools   int           `json:"max_parallel_tools,omitempty"`
	ContextBudgetChars int           `json:"context_budget_chars,omitempty"`
}

// Merge overlays non-zero override fields onto b.
func (b Bounds) Merge(o Bounds) Bounds {
	if o.MaxIterations > 0 {
		b.MaxIterations = o.MaxIterations
	}
	if o.ExpertTimeout > 0 {
		b.ExpertTimeout = o.ExpertTimeout
	}
	if o.LLMCallTimeout > 0 {
		b.LLMCallTimeout = o.LLMCallTimeout
	}
	if o.CouncilTimeout > 0 {
		b.CouncilTimeout = o.CouncilTimeout
	}
	if o.MaxConcurrent > 0 {
		b.MaxConcurrent = o.MaxConcurrent
	}
	if o.MaxToolResultChars > 0 {
		b.MaxToolResultChars = o.MaxToolResultChars
	}
	if o.MaxTotalToolCalls > 0 {
		b.MaxTotalToolCalls = o.MaxTotalToolCalls
	}
	if o.MaxParallelTools > 0 {
		b.MaxParallelTools = o.MaxParallelTools
	}
	if o.ContextBudgetChars > 0 {
		b.ContextBudgetChars = o.ContextBudgetChars
	}
	return b
}

type ConsultRequest struct {
	SessionID string   `json:"session_id"`
	Problem   string   `json:"problem"`
	Context   string   `json:"context,omitempty"`
	Roles     []Role   `json:"roles,omitempty"`
	AutoRoles bool     `json:"auto_roles,omitempty"`
	Mode      Mode     `json:"mode"`
	Overrides Bounds   `json:"timeout_overrides,omitempty"`
}

type ConsultResponse struct {
	ConsultationID string           `json:"consultation_id"`
	Summary        string           `json:"summary"`
	Findings       []Finding        `json:"findings"`
	Conflicts      []ConflictGroup  `json:"conflicts,omitempty"`
	Gaps           []string         `json:"gaps,omitempty"`
	Degraded       bool             `json:"degraded"`
	Transcripts    []RoleTranscript `json:"per_role_transcripts,omitempty"`
}

// Finding is an evidence-backed claim. Immutable once appended to a board;
// delta-round findings carry the conflict tag they respond to.
type Finding struct {
	ID             string   `json:"id,omitempty"`
	SessionID      string   `json:"session_id,omitempty"`
	Role           Role     `json:"role"`
	Round          int      `json:"round"`
	Topic          string   `json:"topic"`
	Claim          string   `json:"claim"`
	Severity       Severity `json:"severity"`
	Confidence     float64  `json:"confidence,omitempty"`
	Evidence       []string `json:"evidence,omitempty"`
	Recommendation string   `json:"recommendation,omitempty"`
	ConflictTag    string   `json:"conflict_tag,omitempty"`
}

type TaskAssignment struct {
	Role           Role      `json:"role"`
	Task           string    `json:"task"`
	FocusAreas     []string  `json:"focus_areas,omitempty"`
	ConflictTopic  string    `json:"conflict_topic,omitempty"`
	ConflictClaims []Finding `json:"conflict_claims,omitempty"`
}

type ConsultationPlan struct {
	Goal        string           `json:"goal,omitempty"`
	Assignments []TaskAssignment `json:"assignments"`
}

type ConsensusGroup struct {
	Topic    string    `json:"topic"`
	Roles    []Role    `json:"roles"`
	Findings []Finding `json:"findings"`
}

type ConflictGroup struct {
	Topic    string    `json:"topic"`
	Roles    []Role    `json:"roles"`
	Findings []Finding `json:"findings"`
}

type ReviewVerdict struct {
	Round     int              `json:"round"`
	Consensus []ConsensusGroup `json:"consensus"`
	Conflicts []ConflictGroup  `json:"conflicts"`
	Gaps      []string         `json:"gaps"`
}

// ExpertTask is the unit of work handed to one single-expert loop.
type ExpertTask struct {
	SessionID      string    `json:"session_id"`
	Role           Role      `json:"role"`
	Task           string    `json:"task"`
	Context        string    `json:"context,omitempty"`
	Round          int       `json:"round"`
	FocusAreas     []string  `json:"focus_areas,omitempty"`
	ConflictTopic  string    `json:"conflict_topic,omitempty"`
	ConflictClaims []Finding `json:"conflict_claims,omitempty"`
	Bounds         Bounds    `json:"bounds,omitempty"`
}

// ExpertResult is the terminal outcome of one loop. Findings are whatever was
// parseable at the terminal transition, on failure paths included.
type ExpertResult struct {
	Role       Role          `json:"role"`
	Status     ExpertStatus  `json:"status"`
	Answer     string        `json:"answer,omitempty"`
	Findings   []Finding     `json:"findings,omitempty"`
	Iterations int           `json:"iterations"`
	ToolCalls  int           `json:"tool_calls"`
	Duration   time.Duration `json:"duration"`
	Failure    string        `json:"failure,omitempty"`
	Usage      TokenUsage    `json:"usage,omitempty"`
}

type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
	TotalTokens      int `json:"total_tokens,omitempty"`
}

func (u TokenUsage) Add(o TokenUsage) TokenUsage {
	return TokenUsage{
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
		TotalTokens:      u.TotalTokens + o.TotalTokens,
	}
}

type RoleTranscript struct {
	Role       Role          `json:"role"`
	Status     ExpertStatus  `json:"status"`
	Iterations int           `json:"iterations"`
	ToolCalls  int           `json:"tool_calls"`
	Duration   time.Duration `json:"duration"`
	Answer     string        `json:"answer,omitempty"`
	Failure    string        `json:"failure,omitempty"`
}

// ToolInvocation is one entry of an expert's tool history. Append-only.
type ToolInvocation struct {
	Tool    string         `json:"tool"`
	Args    map[string]any `json:"args,omitempty"`
	Result  string         `json:"result,omitempty"`
	OK      bool           `json:"ok"`
	Latency time.Duration  `json:"latency"`
}

type ToolRequest struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args,omitempty"`
}

// ToolResult is what an executor hands back to the loop. Error carries
// recoverable failures as text; the loop serializes it into the transcript so
// the model can adjust instead of aborting.
type ToolResult struct {
	Tool    string `json:"tool"`
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

type CodeHit struct {
	Path    string `json:"path"`
	Symbol  string `json:"symbol,omitempty"`
	Kind    string `json:"kind,omitempty"`
	Line    int    `json:"line,omitempty"`
	Snippet string `json:"snippet,omitempty"`
}

type CallEdge struct {
	Caller string `json:"caller"`
	Callee string `json:"callee"`
	Path   string `json:"path,omitempty"`
	Line   int    `json:"line,omitempty"`
}

type MemoryHit struct {
	ID      int64   `json:"id"`
	Kind    string  `json:"kind,omitempty"`
	Content string  `json:"content"`
	Score   float64 `json:"score,omitempty"`
}

// ConsultationRecord is the learning row appended once per finalized expert run.
type ConsultationRecord struct {
	ConsultationID string        `json:"consultation_id"`
	SessionID      string        `json:"session_id"`
	Role           Role          `json:"role"`
	Mode           Mode          `json:"mode"`
	ProblemHash    string        `json:"problem_hash"`
	Category       string        `json:"category,omitempty"`
	Status         ExpertStatus  `json:"status"`
	Iterations     int           `json:"iterations"`
	ToolCalls      int           `json:"tool_calls"`
	Duration       time.Duration `json:"duration"`
	Degraded       bool          `json:"degraded"`
}

// OutcomeRecord is the record_outcome sink payload.
type OutcomeRecord struct {
	ConsultationID string        `json:"consultation_id"`
	Role           Role          `json:"role"`
	Duration       time.Duration `json:"duration"`
	Accepted       bool          `json:"accepted"`
	Note           string        `json:"note,omitempty"`
}

// RoleConfig is a stored per-role provider override (configure action).
type RoleConfig struct {
	Role        Role    `json:"role"`
	Model       string  `json:"model,omitempty"`
	Temperature float32 `json:"temperature,omitempty"`
	// TemperatureSet distinguishes an explicit 0 from "not configured".
	TemperatureSet bool `json:"temperature_set,omitempty"`
}

type EventType string

const (
	EventConsultStarted  EventType = "consult_started"
	EventConsultFinished EventType = "consult_finished"
	EventPhaseChanged    EventType = "phase_changed"
	EventExpertTerminal  EventType = "expert_terminal"
	EventFindingAdded    EventType = "finding_added"
	EventFallbackEngaged EventType = "fallback_engaged"
)

type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
	Role      Role      `json:"role,omitempty"`
	Round     int       `json:"round,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	At        time.Time `json:"at"`
}
