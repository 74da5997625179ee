package councilnode

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	contractx "github.com/tanpawarit/Counsel-Expert-Council-Engine/expert/contract"
	gatex "github.com/tanpawarit/Counsel-Expert-Council-Engine/expert/gate"
	promptx "github.com/tanpawarit/Counsel-Expert-Council-Engine/expert/prompt"
	statex "github.com/tanpawarit/Counsel-Expert-Council-Engine/expert/state"
)

type expertFunc func(ctx context.Context, task contractx.ExpertTask) (contractx.ExpertResult, error)

func (f expertFunc) Consult(ctx context.Context, task contractx.ExpertTask) (contractx.ExpertResult, error) {
	return f(ctx, task)
}

// fakeSource hands out scripted experts and records every task they receive.
type fakeSource struct {
	mu         sync.Mutex
	tasks      []contractx.ExpertTask
	consult    map[contractx.Role]func(board *statex.Board, task contractx.ExpertTask) (contractx.ExpertResult, error)
	resolveErr map[contractx.Role]error
}

func (s *fakeSource) ExpertFor(_ context.Context, role contractx.Role, board *statex.Board) (contractx.Expert, error) {
	if err := s.resolveErr[role]; err != nil {
		return nil, err
	}
	return expertFunc(func(_ context.Context, task contractx.ExpertTask) (contractx.ExpertResult, error) {
		s.mu.Lock()
		s.tasks = append(s.tasks, task)
		s.mu.Unlock()
		if fn := s.consult[task.Role]; fn != nil {
			return fn(board, task)
		}
		return contractx.ExpertResult{Role: task.Role, Status: contractx.StatusCompleted, Answer: "ok"}, nil
	}), nil
}

func (s *fakeSource) taskFor(t *testing.T, role contractx.Role) contractx.ExpertTask {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, task := range s.tasks {
		if task.Role == role {
			return task
		}
	}
	t.Fatalf("no task recorded for role %s", role)
	return contractx.ExpertTask{}
}

func executeDeps(source *fakeSource, gate *gatex.Gate) ExecuteDeps {
	return ExecuteDeps{
		Source:  source,
		Gate:    gate,
		Prompts: promptx.LoadPromptSet(),
		Bounds:  contractx.Bounds{},
		Logger:  zerolog.Nop(),
	}
}

func TestExecuteRoundRunsEveryAssignment(t *testing.T) {
	t.Parallel()

	source := &fakeSource{
		consult: map[contractx.Role]func(*statex.Board, contractx.ExpertTask) (contractx.ExpertResult, error){
			contractx.RoleArchitect: func(board *statex.Board, task contractx.ExpertTask) (contractx.ExpertResult, error) {
				f, _ := board.Add(contractx.Finding{
					Role: task.Role, Round: task.Round,
					Topic: "boundaries", Claim: "billing is the seam", Severity: contractx.SeverityHigh,
				})
				return contractx.ExpertResult{
					Role: task.Role, Status: contractx.StatusCompleted,
					Answer: "split billing", Findings: []contractx.Finding{f},
					Usage: contractx.TokenUsage{PromptTokens: 100, CompletionTokens: 20, TotalTokens: 120},
				}, nil
			},
			contractx.RoleSecurity: func(board *statex.Board, task contractx.ExpertTask) (contractx.ExpertResult, error) {
				return contractx.ExpertResult{
					Role: task.Role, Status: contractx.StatusCompleted, Answer: "no exposure",
					Usage: contractx.TokenUsage{PromptTokens: 50, CompletionTokens: 10, TotalTokens: 60},
				}, nil
			},
		},
	}

	state := councilState("split the monolith", contractx.RoleArchitect, contractx.RoleSecurity)
	state.Request.Context = "40k RPS"
	if err := ValidateRequest(state); err != nil {
		t.Fatalf("ValidateRequest() = %v", err)
	}
	ApplyPlan(state, contractx.ConsultationPlan{Assignments: []contractx.TaskAssignment{
		{Role: "architect", Task: "map the seams", FocusAreas: []string{"billing", "auth"}},
		{Role: "security", Task: "audit the edges"},
	}})

	if err := ExecuteRound(t.Context(), state, executeDeps(source, gatex.New(3))); err != nil {
		t.Fatalf("ExecuteRound() = %v", err)
	}

	if len(state.Transcripts) != 2 {
		t.Fatalf("transcripts = %d, want 2", len(state.Transcripts))
	}
	// Transcript order follows assignment order, not completion order.
	if state.Transcripts[0].Role != contractx.RoleArchitect || state.Transcripts[1].Role != contractx.RoleSecurity {
		t.Fatalf("transcript roles = %s, %s", state.Transcripts[0].Role, state.Transcripts[1].Role)
	}
	if state.Usage.TotalTokens != 180 {
		t.Fatalf("usage total = %d, want 180", state.Usage.TotalTokens)
	}
	if state.Board.Count() != 1 {
		t.Fatalf("board count = %d, want 1", state.Board.Count())
	}

	task := source.taskFor(t, contractx.RoleArchitect)
	if task.SessionID != "s-1" || task.Round != 0 || task.Context != "40k RPS" {
		t.Fatalf("task metadata = %+v", task)
	}
	if !strings.Contains(task.Task, "Your assigned task: map the seams") {
		t.Fatalf("task text misses the assignment:\n%s", task.Task)
	}
	if !strings.Contains(task.Task, "Focus areas: billing, auth") {
		t.Fatalf("task text misses focus areas:\n%s", task.Task)
	}
}

func TestExecuteRoundSurvivesPartialFailure(t *testing.T) {
	t.Parallel()

	source := &fakeSource{
		consult: map[contractx.Role]func(*statex.Board, contractx.ExpertTask) (contractx.ExpertResult, error){
			contractx.RoleSecurity: func(_ *statex.Board, task contractx.ExpertTask) (contractx.ExpertResult, error) {
				return contractx.ExpertResult{
					Role: task.Role, Status: contractx.StatusFailed,
					Failure: "Expert exceeded maximum iterations (100). Partial analysis may be available.",
				}, errors.New("iteration cap")
			},
		},
	}

	state := councilState("p", contractx.RoleArchitect, contractx.RoleSecurity)
	if err := ValidateRequest(state); err != nil {
		t.Fatalf("ValidateRequest() = %v", err)
	}
	ApplyPlan(state, contractx.ConsultationPlan{})

	if err := ExecuteRound(t.Context(), state, executeDeps(source, gatex.New(3))); err != nil {
		t.Fatalf("one completed expert should carry the round, got %v", err)
	}
	var failed *contractx.RoleTranscript
	for i := range state.Transcripts {
		if state.Transcripts[i].Status == contractx.StatusFailed {
			failed = &state.Transcripts[i]
		}
	}
	if failed == nil || failed.Role != contractx.RoleSecurity {
		t.Fatalf("failed transcript missing: %+v", state.Transcripts)
	}
}

func TestExecuteRoundAllFailedIsCoordinatorInternal(t *testing.T) {
	t.Parallel()

	fail := func(_ *statex.Board, task contractx.ExpertTask) (contractx.ExpertResult, error) {
		return contractx.ExpertResult{Role: task.Role, Status: contractx.StatusFailed, Failure: "model down"}, errors.New("model down")
	}
	source := &fakeSource{
		consult: map[contractx.Role]func(*statex.Board, contractx.ExpertTask) (contractx.ExpertResult, error){
			contractx.RoleArchitect: fail,
			contractx.RoleSecurity:  fail,
		},
	}

	state := councilState("p", contractx.RoleArchitect, contractx.RoleSecurity)
	if err := ValidateRequest(state); err != nil {
		t.Fatalf("ValidateRequest() = %v", err)
	}
	ApplyPlan(state, contractx.ConsultationPlan{})

	err := ExecuteRound(t.Context(), state, executeDeps(source, gatex.New(3)))
	if !errors.Is(err, contractx.ErrCoordinatorInternal) {
		t.Fatalf("ExecuteRound() = %v, want ErrCoordinatorInternal", err)
	}
	if len(state.Transcripts) != 2 {
		t.Fatalf("transcripts survive the failure, got %d", len(state.Transcripts))
	}
}

func TestExecuteRoundResolveFailureIsRoleFailure(t *testing.T) {
	t.Parallel()

	source := &fakeSource{
		resolveErr: map[contractx.Role]error{
			contractx.RoleSecurity: errors.New("no provider for role"),
		},
	}

	state := councilState("p", contractx.RoleArchitect, contractx.RoleSecurity)
	if err := ValidateRequest(state); err != nil {
		t.Fatalf("ValidateRequest() = %v", err)
	}
	ApplyPlan(state, contractx.ConsultationPlan{})

	if err := ExecuteRound(t.Context(), state, executeDeps(source, gatex.New(3))); err != nil {
		t.Fatalf("ExecuteRound() = %v", err)
	}
	sec := state.Transcripts[1]
	if sec.Status != contractx.StatusFailed || !strings.Contains(sec.Failure, "no provider for role") {
		t.Fatalf("security transcript = %+v", sec)
	}
}

func TestExecuteRoundCancelledWhileQueued(t *testing.T) {
	t.Parallel()

	gate := gatex.New(1)
	release, ok := gate.TryAcquire()
	if !ok {
		t.Fatal("could not hold the only slot")
	}
	defer release()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	state := councilState("p", contractx.RoleArchitect, contractx.RoleSecurity)
	if err := ValidateRequest(state); err != nil {
		t.Fatalf("ValidateRequest() = %v", err)
	}
	ApplyPlan(state, contractx.ConsultationPlan{})

	err := ExecuteRound(ctx, state, executeDeps(&fakeSource{}, gate))
	if !errors.Is(err, contractx.ErrCoordinatorInternal) {
		t.Fatalf("ExecuteRound() = %v, want ErrCoordinatorInternal", err)
	}
	for _, tr := range state.Transcripts {
		if tr.Status != contractx.StatusCancelled {
			t.Fatalf("transcript status = %s, want cancelled", tr.Status)
		}
		if tr.Failure != "cancelled while waiting for an expert slot" {
			t.Fatalf("failure = %q", tr.Failure)
		}
	}
}

func TestExecuteRoundWithoutAssignments(t *testing.T) {
	t.Parallel()

	state := councilState("p", contractx.RoleArchitect, contractx.RoleSecurity)
	err := ExecuteRound(t.Context(), state, executeDeps(&fakeSource{}, gatex.New(1)))
	if !errors.Is(err, contractx.ErrCoordinatorInternal) {
		t.Fatalf("ExecuteRound() = %v, want ErrCoordinatorInternal", err)
	}
}

func TestRenderTaskDeltaCarriesOpposingClaims(t *testing.T) {
	t.Parallel()

	prompts := promptx.LoadPromptSet()
	rendered := renderTask(prompts, contractx.TaskAssignment{
		Role:          contractx.RoleArchitect,
		Task:          "should we adopt mTLS?",
		ConflictTopic: "auth",
		ConflictClaims: []contractx.Finding{
			{Role: contractx.RoleSecurity, Claim: "Never adopt mutual TLS"},
		},
	})

	if !strings.Contains(rendered, "Topic: auth") {
		t.Fatalf("rendered task misses topic:\n%s", rendered)
	}
	if !strings.Contains(rendered, "Follow-up: should we adopt mTLS?") {
		t.Fatalf("rendered task misses follow-up question:\n%s", rendered)
	}
	if !strings.Contains(rendered, "- Security: Never adopt mutual TLS") {
		t.Fatalf("rendered task misses opposing claim:\n%s", rendered)
	}
}

func TestRenderTaskRoundZeroUsesCouncilTemplate(t *testing.T) {
	t.Parallel()

	prompts := promptx.LoadPromptSet()
	rendered := renderTask(prompts, contractx.TaskAssignment{
		Role: contractx.RoleSecurity,
		Task: "audit the edges",
	})
	if !strings.Contains(rendered, "Your assigned task: audit the edges") {
		t.Fatalf("rendered task misses assignment:\n%s", rendered)
	}
	if !strings.Contains(rendered, "Focus areas: none specified") {
		t.Fatalf("rendered task misses focus default:\n%s", rendered)
	}
}
