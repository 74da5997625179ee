package prompt

import (
	_ "embed"
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/Counsel-Expert-Council-Engine/expert/contract"
)

var (
	//go:embed template/architect.txt
	architectRaw string

	//go:embed template/plan_reviewer.txt
	planReviewerRaw string

	//go:embed template/scope_analyst.txt
	scopeAnalystRaw string

	//go:embed template/code_reviewer.txt
	codeReviewerRaw string

	//go:embed template/security.txt
	securityRaw string

	//go:embed template/tool_usage.txt
	toolUsageRaw string

	//go:embed template/council_plan.txt
	councilPlanRaw string

	//go:embed template/council_task.txt
	councilTaskRaw string

	//go:embed template/delta_round.txt
	deltaRoundRaw string

	//go:embed template/synthesis.txt
	synthesisRaw string
)

// PromptSet holds loaded prompt content.
type PromptSet struct {
	Architect    string
	PlanReviewer string
	ScopeAnalyst string
	CodeReviewer string
	Security     string
	ToolUsage    string
	CouncilPlan  string
	CouncilTask  string
	DeltaRound   string
	Synthesis    string
}

// LoadPromptSet returns a PromptSet with trimmed prompt strings.
// This is safe to call concurrently; the embed is compile-time, and trimming is cheap.
func LoadPromptSet() PromptSet {
	return PromptSet{
		Architect:    strings.TrimSpace(architectRaw),
		PlanReviewer: strings.TrimSpace(planReviewerRaw),
		ScopeAnalyst: strings.TrimSpace(scopeAnalystRaw),
		CodeReviewer: strings.TrimSpace(codeReviewerRaw),
		Security:     strings.TrimSpace(securityRaw),
		ToolUsage:    strings.TrimSpace(toolUsageRaw),
		CouncilPlan:  strings.TrimSpace(councilPlanRaw),
		CouncilTask:  strings.TrimSpace(councilTaskRaw),
		DeltaRound:   strings.TrimSpace(deltaRoundRaw),
		Synthesis:    strings.TrimSpace(synthesisRaw),
	}
}

// ForRole returns the base persona prompt for one expert role.
func (p PromptSet) ForRole(role contractx.Role) (string, error) {
	switch role {
	case contractx.RoleArchitect:
		return p.Architect, nil
	case contractx.RolePlanReviewer:
		return p.PlanReviewer, nil
	case contractx.RoleScopeAnalyst:
		return p.ScopeAnalyst, nil
	case contractx.RoleCodeReviewer:
		return p.CodeReviewer, nil
	case contractx.RoleSecurity:
		return p.Security, nil
	default:
		return "", fmt.Errorf("%w: no template for role %q", contractx.ErrPromptMissing, role)
	}
}

// ExpertSystem assembles the full system prompt for a tool-using expert:
// the role persona followed by the tool usage contract.
func (p PromptSet) ExpertSystem(role contractx.Role) (string, error) {
	base, err := p.ForRole(role)
	if err != nil {
		return "", err
	}
	return base + "\n\n" + p.ToolUsage, nil
}

// TaskPrompt renders the council assignment block appended to an expert's
// request during council rounds.
func (p PromptSet) TaskPrompt(task string, focusAreas []string) string {
	focus := "none specified"
	if len(focusAreas) > 0 {
		focus = strings.Join(focusAreas, ", ")
	}
	return strings.NewReplacer(
		"{task}", task,
		"{focus_areas}", focus,
	).Replace(p.CouncilTask)
}

// DeltaPrompt renders the conflict follow-up block for a delta round.
func (p PromptSet) DeltaPrompt(topic, question string, claims []string) string {
	body := "- none recorded"
	if len(claims) > 0 {
		lines := make([]string, 0, len(claims))
		for _, c := range claims {
			lines = append(lines, "- "+c)
		}
		body = strings.Join(lines, "\n")
	}
	return strings.NewReplacer(
		"{topic}", topic,
		"{question}", question,
		"{claims}", body,
	).Replace(p.DeltaRound)
}
