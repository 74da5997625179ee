package councilnode

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	contractx "github.com/tanpawarit/Counsel-Expert-Council-Engine/expert/contract"
	gatex "github.com/tanpawarit/Counsel-Expert-Council-Engine/expert/gate"
	promptx "github.com/tanpawarit/Counsel-Expert-Council-Engine/expert/prompt"
	statex "github.com/tanpawarit/Counsel-Expert-Council-Engine/expert/state"
)

// ExpertSource resolves a runnable expert for one role, bound to the shared
// council board so its findings land where review can see them.
type ExpertSource interface {
	ExpertFor(ctx context.Context, role contractx.Role, board *statex.Board) (contractx.Expert, error)
}

// ExecuteDeps carries the collaborators an execute round needs.
type ExecuteDeps struct {
	Source  ExpertSource
	Gate    *gatex.Gate
	Prompts promptx.PromptSet
	Bounds  contractx.Bounds
	Logger  zerolog.Logger
}

// ExecuteRound fans the current assignments out as one expert loop each,
// admitted through the gate, and blocks until every loop reaches a terminal
// state. Results append to the session transcripts in assignment order
// regardless of completion order. The round fails only when no expert
// completed; individual failures keep whatever partial findings they earned.
func ExecuteRound(ctx context.Context, state *CouncilState, deps ExecuteDeps) error {
	if len(state.Assignments) == 0 {
		return fmt.Errorf("%w: round %d has no task assignments", contractx.ErrCoordinatorInternal, state.Round)
	}

	// Slot-indexed writes; each goroutine owns exactly one slot.
	results := make([]contractx.ExpertResult, len(state.Assignments))
	var wg sync.WaitGroup
	for i, assignment := range state.Assignments {
		wg.Add(1)
		go func(slot int, a contractx.TaskAssignment) {
			defer wg.Done()
			results[slot] = runAssignment(ctx, state, deps, a)
		}(i, assignment)
	}
	wg.Wait()

	completed := 0
	for _, res := range results {
		state.Transcripts = append(state.Transcripts, contractx.RoleTranscript{
			Role:       res.Role,
			Status:     res.Status,
			Iterations: res.Iterations,
			ToolCalls:  res.ToolCalls,
			Duration:   res.Duration,
			Answer:     res.Answer,
			Failure:    res.Failure,
		})
		state.Usage = state.Usage.Add(res.Usage)
		if res.Status == contractx.StatusCompleted {
			completed++
		}
	}

	deps.Logger.Info().
		Int("round", state.Round).
		Int("experts", len(results)).
		Int("completed", completed).
		Int("findings", state.Board.Count()).
		Msg("council round finished")

	if completed == 0 {
		return fmt.Errorf("%w: every expert failed in round %d", contractx.ErrCoordinatorInternal, state.Round)
	}
	return nil
}

func runAssignment(ctx context.Context, state *CouncilState, deps ExecuteDeps, a contractx.TaskAssignment) contractx.ExpertResult {
	release, err := deps.Gate.Acquire(ctx)
	if err != nil {
		return contractx.ExpertResult{
			Role:    a.Role,
			Status:  contractx.StatusCancelled,
			Failure: "cancelled while waiting for an expert slot",
		}
	}
	defer release()

	expert, err := deps.Source.ExpertFor(ctx, a.Role, state.Board)
	if err != nil {
		deps.Logger.Warn().Err(err).Str("role", string(a.Role)).Msg("expert resolution failed")
		return contractx.ExpertResult{Role: a.Role, Status: contractx.StatusFailed, Failure: err.Error()}
	}

	task := contractx.ExpertTask{
		SessionID:      state.SessionID,
		Role:           a.Role,
		Task:           renderTask(deps.Prompts, a),
		Context:        state.Request.Context,
		Round:          state.Round,
		FocusAreas:     a.FocusAreas,
		ConflictTopic:  a.ConflictTopic,
		ConflictClaims: a.ConflictClaims,
		Bounds:         deps.Bounds.Merge(state.Request.Overrides),
	}

	// The result carries partial findings and the failure reason even when
	// err is non-nil, so the error itself is only worth a log line here.
	res, err := expert.Consult(ctx, task)
	if err != nil {
		deps.Logger.Debug().Err(err).Str("role", string(a.Role)).Int("round", state.Round).Msg("expert finished abnormally")
	}
	return res
}

// renderTask turns an assignment into the expert's task text. Delta
// assignments carry a conflict topic and render as a follow-up block with the
// opposing claims inlined; round-zero assignments render as a council task.
func renderTask(prompts promptx.PromptSet, a contractx.TaskAssignment) string {
	if a.ConflictTopic == "" {
		return prompts.TaskPrompt(a.Task, a.FocusAreas)
	}
	claims := make([]string, 0, len(a.ConflictClaims))
	for _, f := range a.ConflictClaims {
		claims = append(claims, fmt.Sprintf("%s: %s", f.Role.Display(), f.Claim))
	}
	return prompts.DeltaPrompt(a.ConflictTopic, a.Task, claims)
}
