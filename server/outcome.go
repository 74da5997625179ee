package server

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	contractx "github.com/tanpawarit/Counsel-Expert-Council-Engine/expert/contract"
)

// OutcomeTool handles the record_outcome MCP tool.
type OutcomeTool struct {
	learning contractx.LearningStore
}

func NewOutcomeTool(learning contractx.LearningStore) *OutcomeTool {
	return &OutcomeTool{learning: learning}
}

func (t *OutcomeTool) Definition() mcp.Tool {
	return mcp.NewTool("record_outcome",
		mcp.WithDescription(
			"Record whether an expert's advice held up. Feeds the learning tables so future "+
				"consultations can weigh each role's track record.",
		),
		mcp.WithString("consultation_id",
			mcp.Required(),
			mcp.Description("The id returned by consult_experts"),
		),
		mcp.WithString("role",
			mcp.Required(),
			mcp.Description("The expert role the outcome applies to"),
		),
		mcp.WithBoolean("accepted",
			mcp.Required(),
			mcp.Description("Whether the advice was accepted and worked"),
		),
		mcp.WithString("note",
			mcp.Description("What happened after the advice was applied"),
		),
		mcp.WithNumber("duration_seconds",
			mcp.Description("How long the follow-through took"),
		),
	)
}

func (t *OutcomeTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := strings.TrimSpace(req.GetString("consultation_id", ""))
	if id == "" {
		return mcp.NewToolResultError("'consultation_id' is required"), nil
	}
	role, err := contractx.ParseRole(req.GetString("role", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	accepted, ok := boolArg(req, "accepted")
	if !ok {
		return mcp.NewToolResultError("'accepted' is required"), nil
	}

	rec := contractx.OutcomeRecord{
		ConsultationID: id,
		Role:           role,
		Accepted:       accepted,
		Note:           req.GetString("note", ""),
		Duration:       time.Duration(intArg(req, "duration_seconds", 0)) * time.Second,
	}
	if err := t.learning.RecordOutcome(ctx, rec); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("record outcome: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Outcome recorded for %s on %s (accepted=%v)", role, id, accepted)), nil
}
