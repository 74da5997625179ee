// Package council implements the multi-round coordinator. One planner call
// splits a request into per-role tasks, the experts run concurrently under
// the shared gate, a deterministic review reconciles their findings, bounded
// delta rounds chase the conflicts that remain, and a synthesis call writes
// the final decision document.
package council

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	contractx "github.com/tanpawarit/Counsel-Expert-Council-Engine/expert/contract"
	eventsx "github.com/tanpawarit/Counsel-Expert-Council-Engine/expert/events"
	gatex "github.com/tanpawarit/Counsel-Expert-Council-Engine/expert/gate"
	nodex "github.com/tanpawarit/Counsel-Expert-Council-Engine/expert/nodes"
	promptx "github.com/tanpawarit/Counsel-Expert-Council-Engine/expert/prompt"
	statex "github.com/tanpawarit/Counsel-Expert-Council-Engine/expert/state"
)

const (
	maxDeltaRounds       = 2
	deltaRoundTimeout    = 5 * time.Minute
	defaultMaxConcurrent = 3

	defaultCouncilTimeout = 15 * time.Minute
	defaultLLMCallTimeout = 6 * time.Minute

	synthesisAttempts = 2
)

// Config carries the council's collaborators. Planner and Synthesizer are
// plain chat models; neither needs tools.
type Config struct {
	Source      nodex.ExpertSource
	Planner     einomodel.BaseChatModel
	Synthesizer einomodel.BaseChatModel
	Prompts     promptx.PromptSet
	Gate        *gatex.Gate
	Bounds      contractx.Bounds
	Publisher   contractx.Publisher
	Logger      zerolog.Logger
	Now         func() time.Time
}

// Service runs the council protocol for one request at a time per call. The
// graphs are compiled once at construction; per-request state flows through
// them as a CouncilState.
type Service struct {
	source    nodex.ExpertSource
	prompts   promptx.PromptSet
	gate      *gatex.Gate
	bounds    contractx.Bounds
	publisher contractx.Publisher
	logger    zerolog.Logger

	planRunner      compose.Runnable[map[string]any, contractx.ConsultationPlan]
	synthesisRunner compose.Runnable[map[string]any, *schema.Message]
	runtime         compose.Runnable[*nodex.CouncilState, *nodex.CouncilState]

	now func() time.Time
}

func New(cfg Config) (*Service, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("%w: expert source is required", contractx.ErrValidation)
	}
	if cfg.Planner == nil {
		return nil, fmt.Errorf("%w: planner model is required", contractx.ErrValidation)
	}
	if cfg.Synthesizer == nil {
		return nil, fmt.Errorf("%w: synthesizer model is required", contractx.ErrValidation)
	}

	prompts := cfg.Prompts
	if prompts.CouncilPlan == "" {
		prompts = promptx.LoadPromptSet()
	}
	gate := cfg.Gate
	if gate == nil {
		capacity := cfg.Bounds.MaxConcurrent
		if capacity <= 0 {
			capacity = defaultMaxConcurrent
		}
		gate = gatex.New(capacity)
	}
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = eventsx.Noop{}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	s := &Service{
		source:    cfg.Source,
		prompts:   prompts,
		gate:      gate,
		bounds:    cfg.Bounds,
		publisher: publisher,
		logger:    cfg.Logger.With().Str("component", "council").Logger(),
		now:       now,
	}

	ctx := context.Background()
	planRunner, err := compilePlanGraph(ctx, cfg.Planner, prompts.CouncilPlan)
	if err != nil {
		return nil, err
	}
	synthesisRunner, err := compileSynthesisGraph(ctx, cfg.Synthesizer, prompts.Synthesis)
	if err != nil {
		return nil, err
	}
	s.planRunner = planRunner
	s.synthesisRunner = synthesisRunner

	runtime, err := s.compileRuntimeGraph(ctx)
	if err != nil {
		return nil, err
	}
	s.runtime = runtime

	return s, nil
}

// Run executes the full council protocol under the council timeout. The
// returned response carries whatever the board holds even when err is
// non-nil, so the fallback path never starts from nothing.
func (s *Service) Run(ctx context.Context, req contractx.ConsultRequest) (contractx.ConsultResponse, error) {
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	req.SessionID = sessionID

	timeout := s.bounds.Merge(req.Overrides).CouncilTimeout
	if timeout <= 0 {
		timeout = defaultCouncilTimeout
	}

	state := &nodex.CouncilState{
		SessionID: sessionID,
		Request:   req,
		Board:     statex.NewBoard(sessionID),
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := s.now()
	// Node lambdas mutate state in place, so the invoke return value is the
	// same pointer and partial state survives an error return.
	_, err := s.runtime.Invoke(runCtx, state)
	if err != nil {
		return s.failed(ctx, runCtx, state, timeout, err)
	}

	resp := contractx.ConsultResponse{
		ConsultationID: uuid.NewString(),
		Summary:        state.Summary,
		Findings:       statex.SortStable(state.Board.Snapshot()),
		Conflicts:      state.Verdict.Conflicts,
		Gaps:           nodex.FinalGaps(state),
		Transcripts:    state.Transcripts,
	}
	s.logger.Info().
		Str("session_id", sessionID).
		Int("rounds", state.Round+1).
		Int("findings", len(resp.Findings)).
		Int("conflicts", len(resp.Conflicts)).
		Int("gaps", len(resp.Gaps)).
		Dur("duration", s.now().Sub(started)).
		Msg("council finished")
	return resp, nil
}

// failed classifies a run error and still hands back the partial state.
func (s *Service) failed(ctx, runCtx context.Context, state *nodex.CouncilState, timeout time.Duration, err error) (contractx.ConsultResponse, error) {
	switch {
	case errors.Is(err, contractx.ErrValidation) || errors.Is(err, contractx.ErrUnknownRole):
		return contractx.ConsultResponse{}, err
	case ctx.Err() != nil:
		// The caller went away; nothing to reclassify.
	case runCtx.Err() != nil:
		err = fmt.Errorf("%w: council timed out after %ds", contractx.ErrCouncilTimeout, int(timeout.Seconds()))
	case errors.Is(err, contractx.ErrCoordinatorInternal):
	default:
		err = fmt.Errorf("%w: %v", contractx.ErrCoordinatorInternal, err)
	}

	s.logger.Warn().
		Err(err).
		Str("session_id", state.SessionID).
		Int("round", state.Round).
		Int("findings", state.Board.Count()).
		Msg("council run failed")

	return contractx.ConsultResponse{
		Findings:    statex.SortStable(state.Board.Snapshot()),
		Conflicts:   state.Verdict.Conflicts,
		Gaps:        state.Verdict.Gaps,
		Transcripts: state.Transcripts,
	}, err
}

func (s *Service) validateNode(_ context.Context, state *nodex.CouncilState) (*nodex.CouncilState, error) {
	if err := nodex.ValidateRequest(state); err != nil {
		return nil, err
	}
	return state, nil
}

// planNode asks the planner model for a research plan and falls back to the
// deterministic default when the call fails or parses invalid.
func (s *Service) planNode(ctx context.Context, state *nodex.CouncilState) (*nodex.CouncilState, error) {
	s.phase(ctx, state, "plan")

	input := nodex.PlanUserPrompt(state.Request.Problem, state.Request.Context, state.Roles)
	callCtx, cancel := context.WithTimeout(ctx, s.llmTimeout(state))
	defer cancel()

	plan, err := s.planRunner.Invoke(callCtx, map[string]any{"input": input})
	if err != nil {
		s.logger.Warn().Err(err).Str("session_id", state.SessionID).Msg("planner failed, using default plan")
		plan = nodex.DefaultPlan(state.Roles, state.Request.Problem)
	}
	nodex.ApplyPlan(state, plan)
	return state, nil
}

func (s *Service) executeNode(ctx context.Context, state *nodex.CouncilState) (*nodex.CouncilState, error) {
	s.phase(ctx, state, "execute")

	deps := nodex.ExecuteDeps{
		Source:  s.source,
		Gate:    s.gate,
		Prompts: s.prompts,
		Bounds:  s.bounds,
		Logger:  s.logger,
	}

	if state.Round == 0 {
		if err := nodex.ExecuteRound(ctx, state, deps); err != nil {
			return nil, err
		}
		return state, nil
	}

	// Delta rounds get a tighter window, and a failed follow-up keeps the
	// conflict on the board for the final verdict instead of sinking the
	// council; round zero failing wholesale is what the fallback is for.
	deltaCtx, cancel := context.WithTimeout(ctx, deltaRoundTimeout)
	defer cancel()
	if err := nodex.ExecuteRound(deltaCtx, state, deps); err != nil {
		s.logger.Warn().Err(err).Str("session_id", state.SessionID).Int("round", state.Round).Msg("delta round failed")
	}
	return state, nil
}

func (s *Service) reviewNode(ctx context.Context, state *nodex.CouncilState) (*nodex.CouncilState, error) {
	s.phase(ctx, state, "review")
	nodex.Review(state)
	return state, nil
}

func (s *Service) deltaNode(ctx context.Context, state *nodex.CouncilState) (*nodex.CouncilState, error) {
	if err := nodex.PrepareDelta(state); err != nil {
		return nil, err
	}
	s.phase(ctx, state, "delta")
	return state, nil
}

// synthesizeNode makes the final model call, retrying once before giving up.
func (s *Service) synthesizeNode(ctx context.Context, state *nodex.CouncilState) (*nodex.CouncilState, error) {
	s.phase(ctx, state, "synthesize")

	input := nodex.SynthesisUserPrompt(state.Board)

	var msg *schema.Message
	var err error
	for attempt := 0; attempt < synthesisAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, s.llmTimeout(state))
		msg, err = s.synthesisRunner.Invoke(callCtx, map[string]any{"input": input})
		cancel()
		if err == nil && (msg == nil || strings.TrimSpace(msg.Content) == "") {
			err = fmt.Errorf("%w: synthesis returned an empty message", contractx.ErrSchemaViolation)
		}
		if err == nil || ctx.Err() != nil {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: synthesis failed: %v", contractx.ErrCoordinatorInternal, err)
	}

	state.Summary = msg.Content
	if msg.ResponseMeta != nil && msg.ResponseMeta.Usage != nil {
		u := msg.ResponseMeta.Usage
		state.Usage = state.Usage.Add(contractx.TokenUsage{
			PromptTokens:     u.PromptTokens,
			CompletionTokens: u.CompletionTokens,
			TotalTokens:      u.TotalTokens,
		})
	}
	return state, nil
}

func (s *Service) phase(ctx context.Context, state *nodex.CouncilState, name string) {
	ev := eventsx.New(contractx.EventPhaseChanged, state.SessionID, s.now())
	ev.Round = state.Round
	ev.Detail = name
	s.publisher.Publish(ctx, ev)
}

func (s *Service) llmTimeout(state *nodex.CouncilState) time.Duration {
	if d := s.bounds.Merge(state.Request.Overrides).LLMCallTimeout; d > 0 {
		return d
	}
	return defaultLLMCallTimeout
}

var _ contractx.Coordinator = (*Service)(nil)
