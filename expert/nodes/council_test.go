package councilnode

import (
	"errors"
	"strings"
	"testing"

	contractx "github.com/tanpawarit/Counsel-Expert-Council-Engine/expert/contract"
	statex "github.com/tanpawarit/Counsel-Expert-Council-Engine/expert/state"
)

func councilState(problem string, roles ...contractx.Role) *CouncilState {
	return &CouncilState{
		SessionID: "s-1",
		Request:   contractx.ConsultRequest{SessionID: "s-1", Problem: problem, Roles: roles},
		Board:     statex.NewBoard("s-1"),
	}
}

func TestValidateRequestResolvesRoles(t *testing.T) {
	t.Parallel()

	state := councilState("shard the session store",
		contractx.RoleSecurity, contractx.RoleArchitect, contractx.RoleSecurity)
	if err := ValidateRequest(state); err != nil {
		t.Fatalf("ValidateRequest() = %v", err)
	}
	want := []contractx.Role{contractx.RoleSecurity, contractx.RoleArchitect}
	if len(state.Roles) != len(want) {
		t.Fatalf("roles = %v, want %v", state.Roles, want)
	}
	for i, r := range want {
		if state.Roles[i] != r {
			t.Fatalf("roles[%d] = %s, want %s", i, state.Roles[i], r)
		}
	}
}

func TestValidateRequestRejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*CouncilState)
		wantErr error
	}{
		{
			name:    "empty problem",
			mutate:  func(s *CouncilState) { s.Request.Problem = "  " },
			wantErr: contractx.ErrValidation,
		},
		{
			name:    "single role",
			mutate:  func(s *CouncilState) { s.Request.Roles = []contractx.Role{contractx.RoleArchitect} },
			wantErr: contractx.ErrValidation,
		},
		{
			name: "duplicates collapse below two",
			mutate: func(s *CouncilState) {
				s.Request.Roles = []contractx.Role{contractx.RoleSecurity, contractx.RoleSecurity}
			},
			wantErr: contractx.ErrValidation,
		},
		{
			name:    "unknown role",
			mutate:  func(s *CouncilState) { s.Request.Roles = []contractx.Role{contractx.RoleArchitect, "wizard"} },
			wantErr: contractx.ErrUnknownRole,
		},
		{
			name:    "missing board",
			mutate:  func(s *CouncilState) { s.Board = nil },
			wantErr: contractx.ErrValidation,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			state := councilState("problem", contractx.RoleArchitect, contractx.RoleSecurity)
			tt.mutate(state)
			if err := ValidateRequest(state); !errors.Is(err, tt.wantErr) {
				t.Fatalf("ValidateRequest() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestPlanUserPrompt(t *testing.T) {
	t.Parallel()

	got := PlanUserPrompt(
		"How should we shard the session store?",
		"Service handles 40k RPS.",
		[]contractx.Role{contractx.RoleArchitect, contractx.RoleSecurity},
	)
	want := "## Consultation Request\n\n" +
		"**Question:** How should we shard the session store?\n\n" +
		"Service handles 40k RPS.\n\n" +
		"## Available Experts\n\n" +
		"- architect: Architect\n" +
		"- security: Security\n" +
		"\nCreate a research plan assigning focused tasks to the most relevant experts."
	if got != want {
		t.Fatalf("PlanUserPrompt() =\n%q\nwant\n%q", got, want)
	}
}

func TestPlanUserPromptWithoutContext(t *testing.T) {
	t.Parallel()

	got := PlanUserPrompt("Question?", "  ", []contractx.Role{contractx.RoleArchitect})
	if strings.Contains(got, "Question?\n\n\n\n") {
		t.Fatalf("empty context left a blank block:\n%q", got)
	}
	if !strings.Contains(got, "**Question:** Question?\n\n## Available Experts") {
		t.Fatalf("question should flow straight into the expert list:\n%q", got)
	}
}

func TestDefaultPlanCoversEveryRole(t *testing.T) {
	t.Parallel()

	roles := []contractx.Role{contractx.RoleScopeAnalyst, contractx.RoleArchitect}
	plan := DefaultPlan(roles, "  estimate the migration  ")

	if plan.Goal != "estimate the migration" {
		t.Fatalf("goal = %q", plan.Goal)
	}
	if len(plan.Assignments) != 2 {
		t.Fatalf("assignments = %d, want 2", len(plan.Assignments))
	}
	if plan.Assignments[0].Role != contractx.RoleScopeAnalyst {
		t.Fatalf("first assignment role = %s", plan.Assignments[0].Role)
	}
	want := "Analyze from the perspective of a Scope Analyst: estimate the migration"
	if plan.Assignments[0].Task != want {
		t.Fatalf("task = %q, want %q", plan.Assignments[0].Task, want)
	}
}

func TestNormalizePlanForcesOneAssignmentPerRole(t *testing.T) {
	t.Parallel()

	roles := []contractx.Role{contractx.RoleArchitect, contractx.RoleSecurity}
	raw := contractx.ConsultationPlan{
		Goal: "harden the API",
		Assignments: []contractx.TaskAssignment{
			{Role: "security", Task: "  audit token handling  "},
			{Role: "security", Task: "duplicate, must be dropped"},
			{Role: "code_reviewer", Task: "never requested"},
			{Role: "wizard", Task: "not a role"},
		},
	}

	plan := NormalizePlan(raw, roles, "harden the API")
	if len(plan.Assignments) != 2 {
		t.Fatalf("assignments = %d, want 2", len(plan.Assignments))
	}
	if plan.Assignments[0].Role != contractx.RoleArchitect {
		t.Fatalf("first role = %s, want architect", plan.Assignments[0].Role)
	}
	if want := "Analyze from the perspective of a Architect: harden the API"; plan.Assignments[0].Task != want {
		t.Fatalf("architect got no default task: %q", plan.Assignments[0].Task)
	}
	if plan.Assignments[1].Role != contractx.RoleSecurity {
		t.Fatalf("second role = %s, want security", plan.Assignments[1].Role)
	}
	if plan.Assignments[1].Task != "audit token handling" {
		t.Fatalf("security task = %q", plan.Assignments[1].Task)
	}
}

func TestNormalizePlanEmptyGoalFallsBackToProblem(t *testing.T) {
	t.Parallel()

	roles := []contractx.Role{contractx.RoleArchitect, contractx.RoleSecurity}
	plan := NormalizePlan(contractx.ConsultationPlan{}, roles, "split the monolith")
	if plan.Goal != "split the monolith" {
		t.Fatalf("goal = %q", plan.Goal)
	}
	for _, a := range plan.Assignments {
		if !strings.HasSuffix(a.Task, ": split the monolith") {
			t.Fatalf("task %q does not carry the goal", a.Task)
		}
	}
}

func TestApplyPlanInstallsAssignments(t *testing.T) {
	t.Parallel()

	state := councilState("problem", contractx.RoleArchitect, contractx.RoleSecurity)
	if err := ValidateRequest(state); err != nil {
		t.Fatalf("ValidateRequest() = %v", err)
	}
	ApplyPlan(state, contractx.ConsultationPlan{
		Assignments: []contractx.TaskAssignment{{Role: "architect", Task: "map the seams"}},
	})
	if len(state.Assignments) != 2 {
		t.Fatalf("assignments = %d, want 2", len(state.Assignments))
	}
	if state.Assignments[0].Task != "map the seams" {
		t.Fatalf("architect task = %q", state.Assignments[0].Task)
	}
	if state.Assignments[1].Role != contractx.RoleSecurity {
		t.Fatalf("second role = %s", state.Assignments[1].Role)
	}
}
