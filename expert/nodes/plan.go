package councilnode

import (
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/Counsel-Expert-Council-Engine/expert/contract"
)

// PlanUserPrompt renders the user message for the planner model call.
func PlanUserPrompt(problem, context string, roles []contractx.Role) string {
	var b strings.Builder
	b.WriteString("## Consultation Request\n\n")
	b.WriteString("**Question:** " + strings.TrimSpace(problem))
	if ctx := strings.TrimSpace(context); ctx != "" {
		b.WriteString("\n\n" + ctx)
	}
	b.WriteString("\n\n## Available Experts\n\n")
	for _, role := range roles {
		fmt.Fprintf(&b, "- %s: %s\n", string(role), role.Display())
	}
	b.WriteString("\nCreate a research plan assigning focused tasks to the most relevant experts.")
	return b.String()
}

// DefaultPlan is the deterministic plan used when the planner call fails or
// returns nothing usable: one generic task per requested role.
func DefaultPlan(roles []contractx.Role, problem string) contractx.ConsultationPlan {
	plan := contractx.ConsultationPlan{
		Goal:        strings.TrimSpace(problem),
		Assignments: make([]contractx.TaskAssignment, 0, len(roles)),
	}
	for _, role := range roles {
		plan.Assignments = append(plan.Assignments, contractx.TaskAssignment{
			Role: role,
			Task: defaultTask(role, plan.Goal),
		})
	}
	return plan
}

// NormalizePlan forces a model-produced plan into shape: exactly one
// assignment per requested role, in request order. Assignments for roles that
// were never requested are dropped, duplicates keep the first occurrence, and
// a missing or empty task falls back to the generic one.
func NormalizePlan(plan contractx.ConsultationPlan, roles []contractx.Role, problem string) contractx.ConsultationPlan {
	goal := strings.TrimSpace(plan.Goal)
	if goal == "" {
		goal = strings.TrimSpace(problem)
	}

	byRole := make(map[contractx.Role]contractx.TaskAssignment, len(plan.Assignments))
	for _, a := range plan.Assignments {
		role, err := contractx.ParseRole(string(a.Role))
		if err != nil {
			continue
		}
		if _, taken := byRole[role]; taken {
			continue
		}
		a.Role = role
		a.Task = strings.TrimSpace(a.Task)
		byRole[role] = a
	}

	out := contractx.ConsultationPlan{
		Goal:        goal,
		Assignments: make([]contractx.TaskAssignment, 0, len(roles)),
	}
	for _, role := range roles {
		a, ok := byRole[role]
		if !ok || a.Task == "" {
			a = contractx.TaskAssignment{Role: role, Task: defaultTask(role, goal)}
		}
		out.Assignments = append(out.Assignments, a)
	}
	return out
}

// ApplyPlan installs the normalized plan as the round-zero task assignments.
func ApplyPlan(state *CouncilState, plan contractx.ConsultationPlan) {
	state.Plan = NormalizePlan(plan, state.Roles, state.Request.Problem)
	state.Assignments = state.Plan.Assignments
}

func defaultTask(role contractx.Role, goal string) string {
	return fmt.Sprintf("Analyze from the perspective of a %s: %s", role.Display(), goal)
}
