// Package single runs one role-bound expert to a terminal state: an agentic
// tool loop under hard iteration, budget, and timeout guardrails.
package single

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	contractx "github.com/tanpawarit/Counsel-Expert-Council-Engine/expert/contract"
	eventsx "github.com/tanpawarit/Counsel-Expert-Council-Engine/expert/events"
	llmx "github.com/tanpawarit/Counsel-Expert-Council-Engine/expert/llm"
	statex "github.com/tanpawarit/Counsel-Expert-Council-Engine/expert/state"
	toolx "github.com/tanpawarit/Counsel-Expert-Council-Engine/expert/tool"
)

const (
	maxLLMRetries     = 2
	llmRetryBaseDelay = 500 * time.Millisecond

	// synthesisHandoff closes a decoupled run: the actor gathered evidence,
	// the reasoner writes the final analysis in one turn.
	synthesisHandoff = "Based on the tool results above, provide your final expert analysis. Synthesize the findings into a clear, actionable response."

	skippedToolNote = "[GUARDRAIL: tool call skipped: budget exhausted]"

	fallbackFindingTopic  = "analysis"
	minFallbackClaimChars = 20
	maxFallbackFindings   = 10
)

// fallbackBounds guards against a task dispatched with holes in its limits.
var fallbackBounds = contractx.Bounds{
	MaxIterations:      100,
	ExpertTimeout:      10 * time.Minute,
	LLMCallTimeout:     6 * time.Minute,
	CouncilTimeout:     15 * time.Minute,
	MaxConcurrent:      3,
	MaxToolResultChars: 20000,
	MaxTotalToolCalls:  50,
	MaxParallelTools:   4,
	ContextBudgetChars: 480000,
}

type llmCallTimeoutError struct {
	timeout time.Duration
}

func (e llmCallTimeoutError) Error() string {
	return fmt.Sprintf("LLM call timed out after %ds", int(e.timeout.Seconds()))
}

func (e llmCallTimeoutError) Unwrap() error {
	return contractx.ErrModelInvoke
}

// ExecutorFactory builds the tool executor for one consultation. The board
// and task change per call, the backends behind them do not.
type ExecutorFactory func(board *statex.Board, task contractx.ExpertTask) toolx.Executor

// RunnerConfig wires one expert loop.
type RunnerConfig struct {
	Role     contractx.Role
	Strategy llmx.Strategy
	System   string

	// ToolModel drives tool-loop turns, BareModel the no-tool turns of the
	// same underlying model, Thinker the final turn of a decoupled run.
	ToolModel einomodel.ToolCallingChatModel
	BareModel einomodel.ToolCallingChatModel
	Thinker   einomodel.ToolCallingChatModel

	NewExecutor ExecutorFactory

	// Board shares council-wide findings. Nil means the consult runs with a
	// private board.
	Board *statex.Board

	Publisher contractx.Publisher
	Logger    zerolog.Logger
	Now       func() time.Time
	Sleep     func(time.Duration)
}

// Runner is the single-expert loop. It implements the expert contract and
// always hands back a populated result, partial work included.
type Runner struct {
	role        contractx.Role
	strategy    llmx.Strategy
	system      string
	toolModel   einomodel.ToolCallingChatModel
	bareModel   einomodel.ToolCallingChatModel
	thinker     einomodel.ToolCallingChatModel
	newExecutor ExecutorFactory
	board       *statex.Board
	publisher   contractx.Publisher
	logger      zerolog.Logger
	now         func() time.Time
	sleep       func(time.Duration)
}

func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if _, err := contractx.ParseRole(string(cfg.Role)); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.System) == "" {
		return nil, fmt.Errorf("%w: system prompt is required", contractx.ErrValidation)
	}
	if cfg.ToolModel == nil || cfg.BareModel == nil {
		return nil, fmt.Errorf("%w: chat models are required", contractx.ErrValidation)
	}
	if cfg.Strategy == llmx.StrategyDecoupled && cfg.Thinker == nil {
		return nil, fmt.Errorf("%w: decoupled strategy requires a thinker model", contractx.ErrValidation)
	}
	if cfg.NewExecutor == nil {
		return nil, fmt.Errorf("%w: executor factory is required", contractx.ErrValidation)
	}

	if cfg.Publisher == nil {
		cfg.Publisher = eventsx.Noop{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Sleep == nil {
		cfg.Sleep = time.Sleep
	}
	if cfg.Strategy == "" {
		cfg.Strategy = llmx.StrategySingle
	}

	return &Runner{
		role:        cfg.Role,
		strategy:    cfg.Strategy,
		system:      cfg.System,
		toolModel:   cfg.ToolModel,
		bareModel:   cfg.BareModel,
		thinker:     cfg.Thinker,
		newExecutor: cfg.NewExecutor,
		board:       cfg.Board,
		publisher:   cfg.Publisher,
		logger:      cfg.Logger,
		now:         cfg.Now,
		sleep:       cfg.Sleep,
	}, nil
}

// Consult runs the loop for one task. The returned result is valid on every
// path; err reports why a non-completed terminal state was reached.
func (r *Runner) Consult(ctx context.Context, task contractx.ExpertTask) (contractx.ExpertResult, error) {
	bounds := fallbackBounds.Merge(task.Bounds)

	board := r.board
	if board == nil {
		board = statex.NewBoard(task.SessionID)
	}
	exec := r.newExecutor(board, task)

	cons := statex.NewConsultation(newConsultationID(), task.SessionID, task.Role, task.Round, r.now())
	if err := cons.Start(r.now()); err != nil {
		return cons.Result(), fmt.Errorf("%w: %v", contractx.ErrCoordinatorInternal, err)
	}

	ctx, cancel := context.WithTimeout(ctx, bounds.ExpertTimeout)
	defer cancel()

	messages := initialMessages(r.system, task)
	var usage contractx.TokenUsage

	for {
		if err := cons.BeginIteration(bounds.MaxIterations); err != nil {
			failure := fmt.Sprintf("Expert exceeded maximum iterations (%d). Partial analysis may be available.", bounds.MaxIterations)
			_ = cons.Fail(failure, r.now())
			return r.finalize(ctx, cons, board, task, usage), err
		}

		useTools := cons.ToolCalls < bounds.MaxTotalToolCalls
		var chatModel einomodel.BaseChatModel = r.toolModel
		if !useTools {
			chatModel = r.bareModel
		}

		messages = trimToBudget(messages, bounds.ContextBudgetChars)

		resp, err := r.generate(ctx, chatModel, messages, bounds.LLMCallTimeout)
		if err != nil {
			return r.terminate(ctx, cons, board, task, usage, bounds, err)
		}
		usage = usage.Add(responseUsage(resp))

		if !useTools || len(resp.ToolCalls) == 0 {
			answer, thinkUsage, err := r.finalTurn(ctx, messages, resp, bounds)
			usage = usage.Add(thinkUsage)
			if err != nil {
				return r.terminate(ctx, cons, board, task, usage, bounds, err)
			}
			if err := cons.Complete(answer, r.now()); err != nil {
				return cons.Result(), fmt.Errorf("%w: %v", contractx.ErrCoordinatorInternal, err)
			}
			r.backfillFindings(board, task, answer)
			return r.finalize(ctx, cons, board, task, usage), nil
		}

		if err := cons.AwaitTools(r.now()); err != nil {
			return cons.Result(), fmt.Errorf("%w: %v", contractx.ErrCoordinatorInternal, err)
		}
		messages = append(messages, resp)

		toolMsgs, err := r.runToolCalls(ctx, exec, cons, resp.ToolCalls, bounds)
		if err != nil {
			return r.terminate(ctx, cons, board, task, usage, bounds, err)
		}
		messages = append(messages, toolMsgs...)

		if err := cons.Resume(r.now()); err != nil {
			return cons.Result(), fmt.Errorf("%w: %v", contractx.ErrCoordinatorInternal, err)
		}
	}
}

// finalTurn resolves the answer for the closing iteration. Decoupled runs
// hand the transcript to the thinker for one synthesis turn.
func (r *Runner) finalTurn(ctx context.Context, messages []*schema.Message, resp *schema.Message, bounds contractx.Bounds) (string, contractx.TokenUsage, error) {
	if r.strategy != llmx.StrategyDecoupled {
		return resp.Content, contractx.TokenUsage{}, nil
	}

	handoff := append(append([]*schema.Message{}, messages...), resp, schema.UserMessage(synthesisHandoff))
	handoff = trimToBudget(handoff, bounds.ContextBudgetChars)

	final, err := r.generate(ctx, r.thinker, handoff, bounds.LLMCallTimeout)
	if err != nil {
		return "", contractx.TokenUsage{}, err
	}
	return final.Content, responseUsage(final), nil
}

// terminate maps a loop error onto the matching terminal transition.
func (r *Runner) terminate(ctx context.Context, cons *statex.Consultation, board *statex.Board, task contractx.ExpertTask, usage contractx.TokenUsage, bounds contractx.Bounds, err error) (contractx.ExpertResult, error) {
	var callTimeout llmCallTimeoutError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		failure := fmt.Sprintf("Expert consultation timed out after %ds", int(bounds.ExpertTimeout.Seconds()))
		_ = cons.TimeOut(failure, r.now())
	case errors.Is(err, context.Canceled):
		_ = cons.Cancel("consultation cancelled", r.now())
	case errors.As(err, &callTimeout):
		_ = cons.Fail(callTimeout.Error(), r.now())
	default:
		_ = cons.Fail(err.Error(), r.now())
	}
	return r.finalize(ctx, cons, board, task, usage), err
}

// finalize gathers this round's findings, stamps usage, and emits events.
func (r *Runner) finalize(ctx context.Context, cons *statex.Consultation, board *statex.Board, task contractx.ExpertTask, usage contractx.TokenUsage) contractx.ExpertResult {
	findings := roundFindings(board, task.Role, task.Round)
	cons.RecordFindings(findings...)

	res := cons.Result()
	res.Usage = usage

	evCtx := context.WithoutCancel(ctx)
	for _, f := range findings {
		ev := eventsx.New(contractx.EventFindingAdded, task.SessionID, r.now())
		ev.Role = task.Role
		ev.Round = task.Round
		ev.Detail = f.Topic
		r.publisher.Publish(evCtx, ev)
	}
	ev := eventsx.New(contractx.EventExpertTerminal, task.SessionID, r.now())
	ev.Role = task.Role
	ev.Round = task.Round
	ev.Detail = string(res.Status)
	r.publisher.Publish(evCtx, ev)

	log := r.logger.Info()
	if res.Status != contractx.StatusCompleted {
		log = r.logger.Warn()
	}
	log.
		Str("role", string(task.Role)).
		Str("status", string(res.Status)).
		Int("iterations", res.Iterations).
		Int("tool_calls", res.ToolCalls).
		Int("findings", len(findings)).
		Dur("duration", res.Duration).
		Msg("expert consultation finished")

	return res
}

// backfillFindings parses findings out of the final answer when the expert
// never called store_finding, so review always has material to group.
func (r *Runner) backfillFindings(board *statex.Board, task contractx.ExpertTask, answer string) {
	if len(roundFindings(board, task.Role, task.Round)) > 0 {
		return
	}
	for _, claim := range bulletClaims(answer) {
		f := contractx.Finding{
			Role:  task.Role,
			Round: task.Round,
			Topic: fallbackFindingTopic,
			Claim: claim,
		}
		if _, outcome := board.Add(f); outcome != statex.AddAccepted {
			return
		}
	}
}

// ─── Model calls ─────────────────────────────────────────────────────────────

// generate runs one model call under the per-call timeout. Transport and API
// errors retry with a short backoff; a call that burns its whole timeout does
// not, it already consumed the slot.
func (r *Runner) generate(ctx context.Context, chatModel einomodel.BaseChatModel, messages []*schema.Message, callTimeout time.Duration) (*schema.Message, error) {
	var lastErr error
	for attempt := 0; attempt <= maxLLMRetries; attempt++ {
		if attempt > 0 {
			r.sleep(llmRetryBaseDelay * time.Duration(attempt))
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, callTimeout)
		resp, err := chatModel.Generate(callCtx, messages)
		cancel()

		if err == nil {
			if resp == nil {
				lastErr = fmt.Errorf("%w: model returned an empty response", contractx.ErrSchemaViolation)
				continue
			}
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, llmCallTimeoutError{timeout: callTimeout}
		}
		lastErr = fmt.Errorf("%w: %v", contractx.ErrModelInvoke, err)
	}
	return nil, lastErr
}

func responseUsage(resp *schema.Message) contractx.TokenUsage {
	if resp == nil || resp.ResponseMeta == nil || resp.ResponseMeta.Usage == nil {
		return contractx.TokenUsage{}
	}
	u := resp.ResponseMeta.Usage
	return contractx.TokenUsage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}

// ─── Tool execution ──────────────────────────────────────────────────────────

type toolOutcome struct {
	call    schema.ToolCall
	args    map[string]any
	content string
	ok      bool
	skipped bool
	latency time.Duration
}

// runToolCalls executes the requested calls in order-preserving chunks.
// Calls past the remaining budget receive a guardrail note instead of
// running, and every call gets a transcript message either way.
func (r *Runner) runToolCalls(ctx context.Context, exec toolx.Executor, cons *statex.Consultation, calls []schema.ToolCall, bounds contractx.Bounds) ([]*schema.Message, error) {
	remaining := bounds.MaxTotalToolCalls - cons.ToolCalls
	if remaining < 0 {
		remaining = 0
	}

	outcomes := make([]toolOutcome, len(calls))
	runnable := len(calls)
	if runnable > remaining {
		runnable = remaining
		for i := runnable; i < len(calls); i++ {
			outcomes[i] = toolOutcome{call: calls[i], content: skippedToolNote, skipped: true}
		}
	}

	parallel := bounds.MaxParallelTools
	if parallel <= 0 {
		parallel = 1
	}
	for start := 0; start < runnable; start += parallel {
		end := start + parallel
		if end > runnable {
			end = runnable
		}
		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				outcomes[i] = r.invokeTool(ctx, exec, calls[i], bounds.MaxToolResultChars)
			}(i)
		}
		wg.Wait()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	msgs := make([]*schema.Message, 0, len(calls))
	for _, out := range outcomes {
		if !out.skipped {
			cons.RecordInvocation(contractx.ToolInvocation{
				Tool:    out.call.Function.Name,
				Args:    out.args,
				Result:  out.content,
				OK:      out.ok,
				Latency: out.latency,
			})
		}
		msgs = append(msgs, schema.ToolMessage(out.content, out.call.ID))
	}
	return msgs, nil
}

func (r *Runner) invokeTool(ctx context.Context, exec toolx.Executor, call schema.ToolCall, maxResultChars int) toolOutcome {
	name := strings.TrimSpace(call.Function.Name)

	args := map[string]any{}
	if raw := strings.TrimSpace(call.Function.Arguments); raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return toolOutcome{
				call:    call,
				content: fmt.Sprintf("ERROR: invalid arguments for tool %s: %v", name, err),
			}
		}
	}

	started := r.now()
	res, err := exec(ctx, name, args)
	latency := r.now().Sub(started)
	if err != nil {
		return toolOutcome{call: call, args: args, content: fmt.Sprintf("ERROR: %v", err), latency: latency}
	}

	content := res.Content
	ok := true
	if res.Error != "" {
		content = "ERROR: " + res.Error
		ok = false
	}
	content = truncateResult(content, maxResultChars)

	return toolOutcome{call: call, args: args, content: content, ok: ok, latency: latency}
}

func truncateResult(content string, maxChars int) string {
	if maxChars <= 0 || len(content) <= maxChars {
		return content
	}
	return content[:maxChars] + fmt.Sprintf("\n[GUARDRAIL: tool result truncated from %d to %d chars]", len(content), maxChars)
}

// ─── Transcript ──────────────────────────────────────────────────────────────

func initialMessages(system string, task contractx.ExpertTask) []*schema.Message {
	var b strings.Builder
	b.WriteString(task.Task)
	if strings.TrimSpace(task.Context) != "" {
		b.WriteString("\n\n## Context\n\n")
		b.WriteString(task.Context)
	}
	return []*schema.Message{
		schema.SystemMessage(system),
		schema.UserMessage(b.String()),
	}
}

// trimToBudget drops the oldest tool exchanges once the transcript exceeds
// the character budget. The system prompt, the original task, and the newest
// exchanges always survive. An assistant message and its tool responses drop
// as one unit so the provider never sees an orphaned tool result.
func trimToBudget(messages []*schema.Message, budget int) []*schema.Message {
	if budget <= 0 || len(messages) <= 2 {
		return messages
	}
	total := 0
	for _, m := range messages {
		total += messageChars(m)
	}
	if total <= budget {
		return messages
	}

	tail := messages[2:]
	for total > budget && len(tail) > 2 {
		n := 1
		if tail[0].Role == schema.Assistant {
			for n < len(tail) && tail[n].Role == schema.Tool {
				n++
			}
		}
		if n >= len(tail) {
			break
		}
		for _, m := range tail[:n] {
			total -= messageChars(m)
		}
		tail = tail[n:]
	}

	out := make([]*schema.Message, 0, 2+len(tail))
	out = append(out, messages[0], messages[1])
	return append(out, tail...)
}

func messageChars(m *schema.Message) int {
	if m == nil {
		return 0
	}
	n := len(m.Content)
	for _, call := range m.ToolCalls {
		n += len(call.Function.Name) + len(call.Function.Arguments)
	}
	return n
}

// bulletClaims pulls claim-sized bullet lines out of prose. Short fragments
// and headings are noise, not findings.
func bulletClaims(answer string) []string {
	var claims []string
	for _, line := range strings.Split(answer, "\n") {
		line = strings.TrimSpace(line)

		var claim string
		if rest, ok := strings.CutPrefix(line, "- "); ok {
			claim = rest
		} else if rest, ok := strings.CutPrefix(line, "* "); ok {
			claim = rest
		} else if rest, ok := cutOrderedPrefix(line); ok {
			claim = rest
		} else {
			continue
		}

		claim = strings.Trim(claim, "*_` ")
		if len(claim) < minFallbackClaimChars {
			continue
		}
		claims = append(claims, claim)
		if len(claims) >= maxFallbackFindings {
			break
		}
	}
	return claims
}

func cutOrderedPrefix(line string) (string, bool) {
	idx := strings.Index(line, ". ")
	if idx <= 0 || idx > 3 {
		return "", false
	}
	for _, r := range line[:idx] {
		if r < '0' || r > '9' {
			return "", false
		}
	}
	return line[idx+2:], true
}

func roundFindings(board *statex.Board, role contractx.Role, round int) []contractx.Finding {
	var out []contractx.Finding
	for _, f := range board.ByRole(role) {
		if f.Round == round {
			out = append(out, f)
		}
	}
	return out
}

func newConsultationID() string {
	return uuid.NewString()
}

var _ contractx.Expert = (*Runner)(nil)
