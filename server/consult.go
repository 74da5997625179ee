package server

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog"

	contractx "github.com/tanpawarit/Counsel-Expert-Council-Engine/expert/contract"
)

// ConsultTool handles the consult_experts MCP tool.
type ConsultTool struct {
	consultant Consulter
	logger     zerolog.Logger
}

func NewConsultTool(consultant Consulter, logger zerolog.Logger) *ConsultTool {
	return &ConsultTool{consultant: consultant, logger: logger.With().Str("tool", "consult_experts").Logger()}
}

func (t *ConsultTool) Definition() mcp.Tool {
	return mcp.NewTool("consult_experts",
		mcp.WithDescription(
			"Consult one or more experts about a codebase problem. Experts explore the code index and "+
				"persistent memory before answering. Use mode \"council\" with two or more roles for a "+
				"deliberated, cross-checked answer; use \"single\" for one focused analysis.",
		),
		mcp.WithString("problem",
			mcp.Required(),
			mcp.Description("The question or problem statement to analyze"),
		),
		mcp.WithString("context",
			mcp.Description("Extra context: code snippets, constraints, prior decisions"),
		),
		mcp.WithString("roles",
			mcp.Description(`Comma-separated roles (architect, plan_reviewer, scope_analyst, code_reviewer, security) or "auto" to pick from the problem (default: auto)`),
		),
		mcp.WithString("mode",
			mcp.Description(`"single" or "council" (default: single)`),
		),
		mcp.WithString("session_id",
			mcp.Description("Session to attribute findings to (default: a fresh id)"),
		),
		mcp.WithNumber("max_iterations",
			mcp.Description("Override the per-expert iteration cap"),
		),
		mcp.WithNumber("expert_timeout_seconds",
			mcp.Description("Override the per-expert wall clock"),
		),
		mcp.WithNumber("council_timeout_seconds",
			mcp.Description("Override the council wall clock"),
		),
	)
}

func (t *ConsultTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	problem := strings.TrimSpace(req.GetString("problem", ""))
	if problem == "" {
		return mcp.NewToolResultError("'problem' is required"), nil
	}

	creq := contractx.ConsultRequest{
		SessionID: req.GetString("session_id", ""),
		Problem:   problem,
		Context:   req.GetString("context", ""),
		Mode:      contractx.Mode(req.GetString("mode", "")),
	}

	rolesArg := strings.ToLower(strings.TrimSpace(req.GetString("roles", "")))
	if rolesArg == "" || rolesArg == "auto" {
		creq.AutoRoles = true
	} else {
		for _, part := range strings.Split(rolesArg, ",") {
			role, err := contractx.ParseRole(part)
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			creq.Roles = append(creq.Roles, role)
		}
	}

	if n := intArg(req, "max_iterations", 0); n > 0 {
		creq.Overrides.MaxIterations = n
	}
	if secs := intArg(req, "expert_timeout_seconds", 0); secs > 0 {
		creq.Overrides.ExpertTimeout = time.Duration(secs) * time.Second
	}
	if secs := intArg(req, "council_timeout_seconds", 0); secs > 0 {
		creq.Overrides.CouncilTimeout = time.Duration(secs) * time.Second
	}

	resp, err := t.consultant.Consult(ctx, creq)
	if err != nil {
		t.logger.Warn().Err(err).Msg("consultation failed")
		return mcp.NewToolResultError(fmt.Sprintf("consultation failed: %v", err)), nil
	}

	var b strings.Builder
	b.WriteString(resp.Summary)
	b.WriteString("\n\n---\n")
	fmt.Fprintf(&b, "consultation_id: %s", resp.ConsultationID)
	if resp.Degraded {
		b.WriteString("\ndegraded: true")
	}
	return mcp.NewToolResultText(b.String()), nil
}
