package state

import (
	"errors"
	"fmt"
	"time"

	contractx "github.com/tanpawarit/Counsel-Expert-Council-Engine/expert/contract"
)

var (
	ErrInvalidTransition = errors.New("invalid consultation transition")
	ErrNilConsultation   = errors.New("nil consultation")
)

// Consultation tracks one expert run from dispatch to terminal transition.
//   - Idle -> Running on Start
//   - Running <-> AwaitingToolResult while the tool loop turns
//   - exactly one terminal transition: Completed, Failed, TimedOut, or Cancelled
//
// Whatever findings were recorded before the terminal transition stay on the
// struct; failure paths carry partials the same way success does.
type Consultation struct {
	ConsultationID string                     `json:"consultation_id"`
	SessionID      string                     `json:"session_id"`
	Role           contractx.Role             `json:"role"`
	Round          int                        `json:"round"`
	Status         contractx.ExpertStatus     `json:"status"`
	Iterations     int                        `json:"iterations"`
	ToolCalls      int                        `json:"tool_calls"`
	History        []contractx.ToolInvocation `json:"history,omitempty"`
	Findings       []contractx.Finding        `json:"findings,omitempty"`
	Answer         string                     `json:"answer,omitempty"`
	Failure        string                     `json:"failure,omitempty"`
	StartedAt      time.Time                  `json:"started_at,omitempty"`
	UpdatedAt      time.Time                  `json:"updated_at"`
}

func NewConsultation(consultationID, sessionID string, role contractx.Role, round int, now time.Time) *Consultation {
	return &Consultation{
		ConsultationID: consultationID,
		SessionID:      sessionID,
		Role:           role,
		Round:          round,
		Status:         contractx.StatusIdle,
		UpdatedAt:      now.UTC(),
	}
}

func (c *Consultation) Touch(now time.Time) {
	c.UpdatedAt = now.UTC()
}

// Start moves Idle to Running and stamps the run start.
func (c *Consultation) Start(now time.Time) error {
	if c == nil {
		return ErrNilConsultation
	}
	if c.Status != contractx.StatusIdle {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.Status, contractx.StatusRunning)
	}
	c.Status = contractx.StatusRunning
	c.StartedAt = now.UTC()
	c.Touch(now)
	return nil
}

// AwaitTools marks the run as blocked on tool execution.
func (c *Consultation) AwaitTools(now time.Time) error {
	if c == nil {
		return ErrNilConsultation
	}
	if c.Status != contractx.StatusRunning {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.Status, contractx.StatusAwaitingToolResult)
	}
	c.Status = contractx.StatusAwaitingToolResult
	c.Touch(now)
	return nil
}

// Resume returns to Running once tool results are serialized into the
// transcript.
func (c *Consultation) Resume(now time.Time) error {
	if c == nil {
		return ErrNilConsultation
	}
	if c.Status != contractx.StatusAwaitingToolResult {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.Status, contractx.StatusRunning)
	}
	c.Status = contractx.StatusRunning
	c.Touch(now)
	return nil
}

// BeginIteration counts one loop turn against the cap. The increment happens
// before the check so Iterations always reflects attempts, not completions.
func (c *Consultation) BeginIteration(maxIterations int) error {
	if c == nil {
		return ErrNilConsultation
	}
	c.Iterations++
	if maxIterations > 0 && c.Iterations > maxIterations {
		return fmt.Errorf("%w: expert exceeded maximum iterations (%d)", contractx.ErrIterationCap, maxIterations)
	}
	return nil
}

// RecordInvocation appends one tool call to the history. Failed calls are
// recorded the same as successful ones; the transcript carries both.
func (c *Consultation) RecordInvocation(inv contractx.ToolInvocation) {
	if c == nil {
		return
	}
	c.History = append(c.History, inv)
	c.ToolCalls++
}

// RecordFindings appends findings surfaced during the run.
func (c *Consultation) RecordFindings(findings ...contractx.Finding) {
	if c == nil || len(findings) == 0 {
		return
	}
	c.Findings = append(c.Findings, findings...)
}

// Complete finishes the run with a final answer. Only a Running consultation
// can complete; a run blocked on tools has no final model turn to report.
func (c *Consultation) Complete(answer string, now time.Time) error {
	if c == nil {
		return ErrNilConsultation
	}
	if c.Status != contractx.StatusRunning {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.Status, contractx.StatusCompleted)
	}
	c.Status = contractx.StatusCompleted
	c.Answer = answer
	c.Failure = ""
	c.Touch(now)
	return nil
}

// Fail finishes the run as Failed.
func (c *Consultation) Fail(reason string, now time.Time) error {
	return c.finishAs(contractx.StatusFailed, reason, now)
}

// TimeOut finishes the run as TimedOut.
func (c *Consultation) TimeOut(reason string, now time.Time) error {
	return c.finishAs(contractx.StatusTimedOut, reason, now)
}

// Cancel finishes the run as Cancelled. Cancellation before Start is legal;
// a dispatched task may be withdrawn while still queued on the gate.
func (c *Consultation) Cancel(reason string, now time.Time) error {
	return c.finishAs(contractx.StatusCancelled, reason, now)
}

func (c *Consultation) finishAs(status contractx.ExpertStatus, reason string, now time.Time) error {
	if c == nil {
		return ErrNilConsultation
	}
	if c.Status.Terminal() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.Status, status)
	}
	c.Status = status
	c.Failure = reason
	c.Touch(now)
	return nil
}

// Result maps the terminal state into the wire shape. Duration is measured
// from Start to the last transition; a run that never started reports zero.
func (c *Consultation) Result() contractx.ExpertResult {
	if c == nil {
		return contractx.ExpertResult{}
	}
	var dur time.Duration
	if !c.StartedAt.IsZero() {
		dur = c.UpdatedAt.Sub(c.StartedAt)
	}
	return contractx.ExpertResult{
		Role:       c.Role,
		Status:     c.Status,
		Answer:     c.Answer,
		Findings:   append([]contractx.Finding(nil), c.Findings...),
		Iterations: c.Iterations,
		ToolCalls:  c.ToolCalls,
		Duration:   dur,
		Failure:    c.Failure,
	}
}

func (c *Consultation) Validate() error {
	if c == nil {
		return ErrNilConsultation
	}
	switch c.Status {
	case contractx.StatusIdle, contractx.StatusRunning, contractx.StatusAwaitingToolResult,
		contractx.StatusCompleted, contractx.StatusFailed, contractx.StatusTimedOut, contractx.StatusCancelled:
	default:
		return fmt.Errorf("unknown consultation status %q", c.Status)
	}
	if c.Status == contractx.StatusCompleted && c.Failure != "" {
		return fmt.Errorf("completed consultation %s carries failure %q", c.ConsultationID, c.Failure)
	}
	if (c.Status == contractx.StatusFailed || c.Status == contractx.StatusTimedOut) && c.Failure == "" {
		return fmt.Errorf("consultation %s is %s without a failure reason", c.ConsultationID, c.Status)
	}
	if c.Status != contractx.StatusIdle && c.StartedAt.IsZero() && c.Status != contractx.StatusCancelled {
		return fmt.Errorf("consultation %s is %s but never started", c.ConsultationID, c.Status)
	}
	return nil
}
