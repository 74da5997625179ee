package tool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	contractx "github.com/tanpawarit/Counsel-Expert-Council-Engine/expert/contract"
	statex "github.com/tanpawarit/Counsel-Expert-Council-Engine/expert/state"
)

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 50
	defaultRecallLimit = 5
	maxRecallLimit     = 20
	maxReadLines       = 2000
	recallPreviewChars = 150
)

// Executor runs one tool call on behalf of an expert. Recoverable failures
// come back inside the result, never as the error return; the loop feeds them
// to the model as tool output.
type Executor func(ctx context.Context, tool string, args map[string]any) (contractx.ToolResult, error)

// Deps binds an executor to one expert run.
type Deps struct {
	Intelligence contractx.Intelligence
	Board        *statex.Board
	Host         contractx.HostBridge
	Root         string
	Role         contractx.Role
	Round        int
}

// NewExecutor builds the dispatch for one run. Unknown tools fall through to
// an unavailable message so the model can pick another tool.
func NewExecutor(deps Deps) Executor {
	return func(ctx context.Context, tool string, args map[string]any) (contractx.ToolResult, error) {
		if err := ctx.Err(); err != nil {
			return contractx.ToolResult{Tool: tool}, err
		}

		switch tool {
		case ToolSearchCode:
			return executeSearchCode(ctx, deps, args), nil
		case ToolFindCallers:
			return executeFindCallers(ctx, deps, args), nil
		case ToolFindCallees:
			return executeFindCallees(ctx, deps, args), nil
		case ToolReadFile:
			return executeReadFile(deps, args), nil
		case ToolRecallMemory:
			return executeRecallMemory(ctx, deps, args), nil
		case ToolStoreFinding:
			return executeStoreFinding(deps, args), nil
		case ToolCallHostTool:
			server := stringArg(args, "server")
			name := stringArg(args, "tool")
			if server == "" || name == "" {
				return errResult(tool, "'server' and 'tool' are required"), nil
			}
			return executeHostCall(ctx, deps, tool, server, name, mapArg(args, "args")), nil
		default:
			if server, name, ok := ParseHostToolName(tool); ok {
				return executeHostCall(ctx, deps, tool, server, name, args), nil
			}
			return errResult(tool, fmt.Sprintf("tool=%s is unavailable for role=%s", tool, deps.Role)), nil
		}
	}
}

func executeSearchCode(ctx context.Context, deps Deps, args map[string]any) contractx.ToolResult {
	query := stringArg(args, "query")
	if query == "" {
		return errResult(ToolSearchCode, "'query' is required")
	}
	if deps.Intelligence == nil {
		return errResult(ToolSearchCode, "code intelligence is not available")
	}

	limit := clampLimit(intArg(args, "limit"), defaultSearchLimit, maxSearchLimit)
	hits, err := deps.Intelligence.SearchCode(ctx, query, limit)
	if err != nil {
		return errResult(ToolSearchCode, fmt.Sprintf("search failed: %v", err))
	}
	if len(hits) == 0 {
		return okResult(ToolSearchCode, fmt.Sprintf("No matches found for %q.", query))
	}

	var sb strings.Builder
	for i, hit := range hits {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		header := hit.Path
		if hit.Line > 0 {
			header = fmt.Sprintf("%s:%d", hit.Path, hit.Line)
		}
		if hit.Symbol != "" {
			header += " (" + hit.Symbol + ")"
		}
		fmt.Fprintf(&sb, "### %s\n```\n%s\n```", header, hit.Snippet)
	}
	return okResult(ToolSearchCode, sb.String())
}

func executeFindCallers(ctx context.Context, deps Deps, args map[string]any) contractx.ToolResult {
	symbol := stringArg(args, "symbol")
	if symbol == "" {
		return errResult(ToolFindCallers, "'symbol' is required")
	}
	if deps.Intelligence == nil {
		return errResult(ToolFindCallers, "code intelligence is not available")
	}
	edges, err := deps.Intelligence.FindCallers(ctx, symbol)
	if err != nil {
		return errResult(ToolFindCallers, fmt.Sprintf("caller lookup failed: %v", err))
	}
	if len(edges) == 0 {
		return okResult(ToolFindCallers, fmt.Sprintf("No callers found for %q.", symbol))
	}
	return okResult(ToolFindCallers, formatEdges(edges))
}

func executeFindCallees(ctx context.Context, deps Deps, args map[string]any) contractx.ToolResult {
	symbol := stringArg(args, "symbol")
	if symbol == "" {
		return errResult(ToolFindCallees, "'symbol' is required")
	}
	if deps.Intelligence == nil {
		return errResult(ToolFindCallees, "code intelligence is not available")
	}
	edges, err := deps.Intelligence.FindCallees(ctx, symbol)
	if err != nil {
		return errResult(ToolFindCallees, fmt.Sprintf("callee lookup failed: %v", err))
	}
	if len(edges) == 0 {
		return okResult(ToolFindCallees, fmt.Sprintf("No callees found for %q.", symbol))
	}
	return okResult(ToolFindCallees, formatEdges(edges))
}

func formatEdges(edges []contractx.CallEdge) string {
	lines := make([]string, 0, len(edges))
	for _, e := range edges {
		line := fmt.Sprintf("%s -> %s", e.Caller, e.Callee)
		if e.Path != "" {
			line += fmt.Sprintf(" (%s:%d)", e.Path, e.Line)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func executeReadFile(deps Deps, args map[string]any) contractx.ToolResult {
	rel := stringArg(args, "path")
	if rel == "" {
		return errResult(ToolReadFile, "'path' is required")
	}

	path, err := resolveWorkspacePath(deps.Root, rel)
	if err != nil {
		return errResult(ToolReadFile, err.Error())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return errResult(ToolReadFile, fmt.Sprintf("read failed: %v", err))
	}

	lines := strings.Split(string(data), "\n")
	start := intArg(args, "start_line")
	end := intArg(args, "end_line")
	if start < 1 {
		start = 1
	}
	if start > len(lines) {
		return errResult(ToolReadFile, fmt.Sprintf("start_line %d is past the end of the file (%d lines)", start, len(lines)))
	}
	if end < start || end > len(lines) {
		end = len(lines)
	}

	selected := lines[start-1 : end]
	truncated := false
	if len(selected) > maxReadLines {
		selected = selected[:maxReadLines]
		truncated = true
	}

	content := strings.Join(selected, "\n")
	if truncated {
		content += "\n... (truncated, use start_line/end_line to read more)"
	}
	return okResult(ToolReadFile, content)
}

// resolveWorkspacePath confines reads to the workspace root. Absolute paths
// and parent escapes are rejected before touching the filesystem.
func resolveWorkspacePath(root, rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("path must be workspace-relative: %s", rel)
	}
	clean := filepath.Clean(rel)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes the workspace: %s", rel)
	}
	if root == "" {
		root = "."
	}
	return filepath.Join(root, clean), nil
}

func executeRecallMemory(ctx context.Context, deps Deps, args map[string]any) contractx.ToolResult {
	query := stringArg(args, "query")
	if query == "" {
		return errResult(ToolRecallMemory, "'query' is required")
	}
	if deps.Intelligence == nil {
		return errResult(ToolRecallMemory, "memory is not available")
	}

	limit := clampLimit(intArg(args, "limit"), defaultRecallLimit, maxRecallLimit)
	hits, err := deps.Intelligence.RecallMemory(ctx, query, limit)
	if err != nil {
		return errResult(ToolRecallMemory, fmt.Sprintf("recall failed: %v", err))
	}
	if len(hits) == 0 {
		return okResult(ToolRecallMemory, fmt.Sprintf("No memories matched %q.", query))
	}

	lines := make([]string, 0, len(hits))
	for _, hit := range hits {
		preview := strings.ReplaceAll(hit.Content, "\n", " ")
		if len(preview) > recallPreviewChars {
			preview = preview[:recallPreviewChars] + "..."
		}
		lines = append(lines, fmt.Sprintf("[%d] (score: %.2f) %s", hit.ID, hit.Score, preview))
	}
	return okResult(ToolRecallMemory, strings.Join(lines, "\n"))
}

func executeStoreFinding(deps Deps, args map[string]any) contractx.ToolResult {
	topic := stringArg(args, "topic")
	content := stringArg(args, "content")
	if topic == "" || content == "" {
		return errResult(ToolStoreFinding, "'topic' and 'content' are required")
	}
	if deps.Board == nil {
		return errResult(ToolStoreFinding, "no findings board is attached to this consultation")
	}

	finding := contractx.Finding{
		Role:           deps.Role,
		Round:          deps.Round,
		Topic:          topic,
		Claim:          content,
		Severity:       contractx.ParseSeverity(stringArg(args, "severity")),
		Recommendation: stringArg(args, "recommendation"),
		Confidence:     floatArg(args, "confidence"),
	}
	if ev := stringArg(args, "evidence"); ev != "" {
		for _, part := range strings.Split(ev, ";") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				finding.Evidence = append(finding.Evidence, trimmed)
			}
		}
	}

	_, outcome := deps.Board.Add(finding)
	switch outcome {
	case statex.AddAccepted:
		return okResult(ToolStoreFinding, fmt.Sprintf("Finding recorded (%d total)", deps.Board.Count()))
	case statex.AddRoleLimited:
		return errResult(ToolStoreFinding, "finding limit reached for this role; consolidate instead of adding more")
	case statex.AddBoardLimited:
		return errResult(ToolStoreFinding, "the findings board is full")
	default:
		return errResult(ToolStoreFinding, "'topic' and 'content' are required")
	}
}

func executeHostCall(ctx context.Context, deps Deps, tool, server, name string, args map[string]any) contractx.ToolResult {
	if deps.Host == nil {
		return errResult(tool, "no host bridge is configured")
	}
	content, err := deps.Host.CallTool(ctx, server, name, args)
	if err != nil {
		return errResult(tool, fmt.Sprintf("host tool %s on %s failed: %v", name, server, err))
	}
	return okResult(tool, content)
}

/* ------------------------------ arg helpers ------------------------------ */

func okResult(tool, content string) contractx.ToolResult {
	return contractx.ToolResult{Tool: tool, Content: content}
}

func errResult(tool, msg string) contractx.ToolResult {
	return contractx.ToolResult{Tool: tool, Error: msg}
}

func stringArg(args map[string]any, key string) string {
	if args == nil {
		return ""
	}
	if v, ok := args[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// intArg tolerates the numeric shapes JSON decoding produces.
func intArg(args map[string]any, key string) int {
	if args == nil {
		return 0
	}
	switch v := args[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func floatArg(args map[string]any, key string) float64 {
	if args == nil {
		return 0
	}
	switch v := args[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return 0
	}
}

func mapArg(args map[string]any, key string) map[string]any {
	if args == nil {
		return nil
	}
	if v, ok := args[key].(map[string]any); ok {
		return v
	}
	return nil
}

func clampLimit(n, def, max int) int {
	if n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
