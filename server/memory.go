package server

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// RememberTool handles the remember MCP tool.
type RememberTool struct {
	memory Memory
}

func NewRememberTool(memory Memory) *RememberTool {
	return &RememberTool{memory: memory}
}

func (t *RememberTool) Definition() mcp.Tool {
	return mcp.NewTool("remember",
		mcp.WithDescription(
			"Persist a fact to long-term memory. Experts recall these during consultations, "+
				"so save decisions, conventions, and gotchas worth keeping.",
		),
		mcp.WithString("content",
			mcp.Required(),
			mcp.Description("The fact to remember"),
		),
		mcp.WithString("kind",
			mcp.Description("Category: fact, decision, preference, or note (default: note)"),
		),
		mcp.WithString("source",
			mcp.Description("Where the fact came from, e.g. a file path or discussion"),
		),
	)
}

func (t *RememberTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	content := strings.TrimSpace(req.GetString("content", ""))
	if content == "" {
		return mcp.NewToolResultError("'content' is required"), nil
	}

	kind := req.GetString("kind", "note")
	id, err := t.memory.Remember(ctx, kind, content, req.GetString("source", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("remember: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Remembered #%d (%s)", id, kind)), nil
}

// RecallTool handles the recall MCP tool.
type RecallTool struct {
	memory Memory
}

func NewRecallTool(memory Memory) *RecallTool {
	return &RecallTool{memory: memory}
}

func (t *RecallTool) Definition() mcp.Tool {
	return mcp.NewTool("recall",
		mcp.WithDescription("Search long-term memory. An empty query returns the most recent facts."),
		mcp.WithString("query",
			mcp.Description("Full-text search over stored facts"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum facts to return (default: 5)"),
		),
	)
}

func (t *RecallTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := strings.TrimSpace(req.GetString("query", ""))
	limit := intArg(req, "limit", 5)

	hits, err := t.memory.Recall(ctx, query, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("recall: %v", err)), nil
	}
	if len(hits) == 0 {
		return mcp.NewToolResultText("No memories matched."), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d memories:\n", len(hits))
	for _, hit := range hits {
		fmt.Fprintf(&b, "\n- [#%d %s] %s", hit.ID, hit.Kind, hit.Content)
	}
	return mcp.NewToolResultText(b.String()), nil
}
