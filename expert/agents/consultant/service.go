// Package consultant dispatches consultation requests to the right
// execution shape: a lone expert for single mode, the council coordinator
// for multi-role requests, and a degraded parallel fan-out when the council
// itself breaks down.
package consultant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	contractx "github.com/tanpawarit/Counsel-Expert-Council-Engine/expert/contract"
	eventsx "github.com/tanpawarit/Counsel-Expert-Council-Engine/expert/events"
	gatex "github.com/tanpawarit/Counsel-Expert-Council-Engine/expert/gate"
	memoryx "github.com/tanpawarit/Counsel-Expert-Council-Engine/expert/memory"
)

const defaultMaxConcurrent = 3

// Config carries the dependencies for the consultation dispatcher.
type Config struct {
	Registry  contractx.ExpertRegistry
	Council   contractx.Coordinator
	Gate      *gatex.Gate
	Learning  contractx.LearningStore
	Publisher contractx.Publisher
	Bounds    contractx.Bounds
	Logger    zerolog.Logger
	Now       func() time.Time
}

// Service is the outer consultation surface. It resolves roles, picks the
// execution mode, and owns the learning records and lifecycle events for
// every finalized consultation.
type Service struct {
	registry  contractx.ExpertRegistry
	council   contractx.Coordinator
	gate      *gatex.Gate
	learning  contractx.LearningStore
	publisher contractx.Publisher
	bounds    contractx.Bounds
	logger    zerolog.Logger
	now       func() time.Time
}

func New(cfg Config) (*Service, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("%w: expert registry is required", contractx.ErrValidation)
	}
	if cfg.Council == nil {
		return nil, fmt.Errorf("%w: council coordinator is required", contractx.ErrValidation)
	}
	if cfg.Gate == nil {
		max := cfg.Bounds.MaxConcurrent
		if max <= 0 {
			max = defaultMaxConcurrent
		}
		cfg.Gate = gatex.New(max)
	}
	if cfg.Publisher == nil {
		cfg.Publisher = eventsx.Noop{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		registry:  cfg.Registry,
		council:   cfg.Council,
		gate:      cfg.Gate,
		learning:  cfg.Learning,
		publisher: cfg.Publisher,
		bounds:    cfg.Bounds,
		logger:    cfg.Logger.With().Str("component", "consultant").Logger(),
		now:       cfg.Now,
	}, nil
}

// Consult runs one consultation end to end. Validation and cancellation
// errors pass through to the caller; a council breakdown degrades to
// independent per-expert consults instead of failing the request.
func (s *Service) Consult(ctx context.Context, req contractx.ConsultRequest) (contractx.ConsultResponse, error) {
	if strings.TrimSpace(req.Problem) == "" {
		return contractx.ConsultResponse{}, fmt.Errorf("%w: problem statement is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(req.SessionID) == "" {
		req.SessionID = uuid.NewString()
	}

	mode, roles, category, err := s.resolve(req)
	if err != nil {
		return contractx.ConsultResponse{}, err
	}
	// A one-role council is just a single consult.
	if len(roles) == 1 {
		mode = contractx.ModeSingle
	}
	req.Mode = mode
	req.Roles = roles

	started := s.now()
	ev := eventsx.New(contractx.EventConsultStarted, req.SessionID, started)
	ev.Detail = fmt.Sprintf("mode=%s experts=%d", mode, len(roles))
	s.publisher.Publish(ctx, ev)

	var resp contractx.ConsultResponse
	var consultErr error
	if mode == contractx.ModeSingle {
		resp, consultErr = s.runSingle(ctx, roles[0], req)
	} else {
		resp, consultErr = s.council.Run(ctx, req)
		switch {
		case consultErr == nil:
			resp.Summary = renderCouncil(resp, roles)
		case s.shouldFallBack(ctx, consultErr):
			resp = s.runFallback(ctx, roles, req, consultErr)
			consultErr = nil
		}
	}

	if resp.ConsultationID == "" && len(resp.Transcripts) > 0 {
		resp.ConsultationID = uuid.NewString()
	}
	s.record(ctx, req, category, resp)

	done := eventsx.New(contractx.EventConsultFinished, req.SessionID, s.now())
	switch {
	case consultErr != nil:
		done.Detail = "failed"
	case resp.Degraded:
		done.Detail = "degraded"
	default:
		done.Detail = string(mode)
	}
	s.publisher.Publish(ctx, done)

	if consultErr != nil {
		return resp, consultErr
	}
	s.logger.Info().
		Str("session_id", req.SessionID).
		Str("mode", string(mode)).
		Int("experts", len(roles)).
		Int("findings", len(resp.Findings)).
		Bool("degraded", resp.Degraded).
		Dur("elapsed", s.now().Sub(started)).
		Msg("consultation finished")
	return resp, nil
}

// resolve settles the execution mode and role set before any expert runs.
// Explicit roles win unless the request asks for automatic selection.
func (s *Service) resolve(req contractx.ConsultRequest) (contractx.Mode, []contractx.Role, string, error) {
	mode, err := contractx.ParseMode(string(req.Mode))
	if err != nil {
		return "", nil, "", err
	}

	category, matched := classify(req.Problem)

	roles := req.Roles
	if req.AutoRoles || len(roles) == 0 {
		roles = autoRoles(matched, mode)
	} else {
		roles, err = dedupeRoles(roles)
		if err != nil {
			return "", nil, "", err
		}
	}
	if mode == contractx.ModeSingle && len(roles) > 1 {
		roles = roles[:1]
	}
	return mode, roles, category, nil
}

// shouldFallBack limits degradation to coordinator breakdowns and council
// timeouts. Validation errors and caller cancellation surface as-is.
func (s *Service) shouldFallBack(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	return errors.Is(err, contractx.ErrCoordinatorInternal) || errors.Is(err, contractx.ErrCouncilTimeout)
}

func (s *Service) runSingle(ctx context.Context, role contractx.Role, req contractx.ConsultRequest) (contractx.ConsultResponse, error) {
	release, err := s.gate.Acquire(ctx)
	if err != nil {
		return contractx.ConsultResponse{}, err
	}
	defer release()

	expert, err := s.registry.Expert(ctx, role)
	if err != nil {
		return contractx.ConsultResponse{}, err
	}

	res, consultErr := expert.Consult(ctx, contractx.ExpertTask{
		SessionID: req.SessionID,
		Role:      role,
		Task:      req.Problem,
		Context:   req.Context,
		Bounds:    s.bounds.Merge(req.Overrides),
	})

	resp := contractx.ConsultResponse{
		ConsultationID: uuid.NewString(),
		Summary:        renderSingle(role, res),
		Findings:       res.Findings,
		Transcripts:    []contractx.RoleTranscript{transcriptOf(role, res)},
	}
	return resp, consultErr
}

// runFallback consults every council role independently through the shared
// gate. The response is always usable; the council's failure is absorbed
// and reported through the degraded flag.
func (s *Service) runFallback(ctx context.Context, roles []contractx.Role, req contractx.ConsultRequest, cause error) contractx.ConsultResponse {
	ev := eventsx.New(contractx.EventFallbackEngaged, req.SessionID, s.now())
	ev.Detail = cause.Error()
	s.publisher.Publish(ctx, ev)
	s.logger.Warn().
		Str("session_id", req.SessionID).
		Int("experts", len(roles)).
		Err(cause).
		Msg("council degraded to parallel consultation")

	outcomes := make([]fallbackOutcome, len(roles))
	var wg sync.WaitGroup
	for i, role := range roles {
		wg.Add(1)
		go func(slot int, role contractx.Role) {
			defer wg.Done()
			outcomes[slot] = s.fallbackOne(ctx, role, req)
		}(i, role)
	}
	wg.Wait()

	resp := contractx.ConsultResponse{
		ConsultationID: uuid.NewString(),
		Degraded:       true,
	}
	for _, o := range outcomes {
		resp.Findings = append(resp.Findings, o.res.Findings...)
		resp.Transcripts = append(resp.Transcripts, transcriptOf(o.role, o.res))
	}
	resp.Summary = renderFallback(outcomes)
	return resp
}

func (s *Service) fallbackOne(ctx context.Context, role contractx.Role, req contractx.ConsultRequest) fallbackOutcome {
	release, err := s.gate.Acquire(ctx)
	if err != nil {
		return fallbackOutcome{role: role, err: err, res: contractx.ExpertResult{
			Role:    role,
			Status:  contractx.StatusCancelled,
			Failure: "cancelled while waiting for an expert slot",
		}}
	}
	defer release()

	expert, err := s.registry.Expert(ctx, role)
	if err != nil {
		return fallbackOutcome{role: role, err: err, res: contractx.ExpertResult{
			Role:    role,
			Status:  contractx.StatusFailed,
			Failure: err.Error(),
		}}
	}

	res, err := expert.Consult(ctx, contractx.ExpertTask{
		SessionID: req.SessionID,
		Role:      role,
		Task:      req.Problem,
		Context:   req.Context,
		Bounds:    s.bounds.Merge(req.Overrides),
	})
	return fallbackOutcome{role: role, res: res, err: err}
}

// record persists one consultation row per finalized expert run plus the
// archived findings. Learning is best-effort; failures are logged, never
// surfaced.
func (s *Service) record(ctx context.Context, req contractx.ConsultRequest, category string, resp contractx.ConsultResponse) {
	if s.learning == nil || len(resp.Transcripts) == 0 {
		return
	}

	hash := memoryx.HashProblem(req.Problem)
	for _, tr := range resp.Transcripts {
		rec := contractx.ConsultationRecord{
			ConsultationID: uuid.NewString(),
			SessionID:      req.SessionID,
			Role:           tr.Role,
			Mode:           req.Mode,
			ProblemHash:    hash,
			Category:       category,
			Status:         tr.Status,
			Iterations:     tr.Iterations,
			ToolCalls:      tr.ToolCalls,
			Duration:       tr.Duration,
			Degraded:       resp.Degraded,
		}
		if err := s.learning.RecordConsultation(ctx, rec); err != nil {
			s.logger.Warn().Err(err).Str("role", string(tr.Role)).Msg("record consultation failed")
		}
	}

	if len(resp.Findings) > 0 {
		if err := s.learning.ArchiveFindings(ctx, resp.Findings); err != nil {
			s.logger.Warn().Err(err).Int("findings", len(resp.Findings)).Msg("archive findings failed")
		}
	}
}

func transcriptOf(role contractx.Role, res contractx.ExpertResult) contractx.RoleTranscript {
	return contractx.RoleTranscript{
		Role:       role,
		Status:     res.Status,
		Iterations: res.Iterations,
		ToolCalls:  res.ToolCalls,
		Duration:   res.Duration,
		Answer:     res.Answer,
		Failure:    res.Failure,
	}
}
