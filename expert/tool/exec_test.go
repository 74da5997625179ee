package tool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	contractx "github.com/tanpawarit/Counsel-Expert-Council-Engine/expert/contract"
	statex "github.com/tanpawarit/Counsel-Expert-Council-Engine/expert/state"
)

type fakeIntelligence struct {
	hits     []contractx.CodeHit
	edges    []contractx.CallEdge
	memories []contractx.MemoryHit
	err      error

	lastQuery string
	lastLimit int
}

func (f *fakeIntelligence) SearchCode(_ context.Context, query string, limit int) ([]contractx.CodeHit, error) {
	f.lastQuery, f.lastLimit = query, limit
	return f.hits, f.err
}

func (f *fakeIntelligence) FindCallers(_ context.Context, symbol string) ([]contractx.CallEdge, error) {
	f.lastQuery = symbol
	return f.edges, f.err
}

func (f *fakeIntelligence) FindCallees(_ context.Context, symbol string) ([]contractx.CallEdge, error) {
	f.lastQuery = symbol
	return f.edges, f.err
}

func (f *fakeIntelligence) RecallMemory(_ context.Context, query string, limit int) ([]contractx.MemoryHit, error) {
	f.lastQuery, f.lastLimit = query, limit
	return f.memories, f.err
}

type fakeHost struct {
	content    string
	err        error
	lastServer string
	lastTool   string
	lastArgs   map[string]any
}

func (f *fakeHost) CallTool(_ context.Context, server, tool string, args map[string]any) (string, error) {
	f.lastServer, f.lastTool, f.lastArgs = server, tool, args
	return f.content, f.err
}

func newTestExecutor(t *testing.T, deps Deps) Executor {
	t.Helper()
	if deps.Role == "" {
		deps.Role = contractx.RoleArchitect
	}
	return NewExecutor(deps)
}

func TestSearchCodeRequiresQuery(t *testing.T) {
	t.Parallel()

	exec := newTestExecutor(t, Deps{Intelligence: &fakeIntelligence{}})
	res, err := exec(context.Background(), ToolSearchCode, nil)
	if err != nil {
		t.Fatalf("executor error: %v", err)
	}
	if res.Error != "'query' is required" {
		t.Fatalf("error = %q", res.Error)
	}
}

func TestSearchCodeFormatsHits(t *testing.T) {
	t.Parallel()

	intel := &fakeIntelligence{hits: []contractx.CodeHit{
		{Path: "internal/auth/token.go", Line: 42, Symbol: "Verify", Snippet: "func Verify() {}"},
		{Path: "internal/auth/mint.go", Snippet: "func Mint() {}"},
	}}
	exec := newTestExecutor(t, Deps{Intelligence: intel})

	res, err := exec(context.Background(), ToolSearchCode, map[string]any{"query": "token", "limit": float64(2)})
	if err != nil {
		t.Fatalf("executor error: %v", err)
	}
	if res.Error != "" {
		t.Fatalf("unexpected tool error: %s", res.Error)
	}
	if !strings.Contains(res.Content, "### internal/auth/token.go:42 (Verify)") {
		t.Fatalf("hit header missing:\n%s", res.Content)
	}
	if !strings.Contains(res.Content, "```\nfunc Verify() {}\n```") {
		t.Fatalf("snippet fencing missing:\n%s", res.Content)
	}
	if intel.lastLimit != 2 {
		t.Fatalf("limit not forwarded, got %d", intel.lastLimit)
	}
}

func TestSearchCodeDefaultsAndClampsLimit(t *testing.T) {
	t.Parallel()

	intel := &fakeIntelligence{}
	exec := newTestExecutor(t, Deps{Intelligence: intel})

	if _, err := exec(context.Background(), ToolSearchCode, map[string]any{"query": "x"}); err != nil {
		t.Fatalf("executor error: %v", err)
	}
	if intel.lastLimit != defaultSearchLimit {
		t.Fatalf("default limit = %d", intel.lastLimit)
	}

	if _, err := exec(context.Background(), ToolSearchCode, map[string]any{"query": "x", "limit": float64(500)}); err != nil {
		t.Fatalf("executor error: %v", err)
	}
	if intel.lastLimit != maxSearchLimit {
		t.Fatalf("clamped limit = %d", intel.lastLimit)
	}
}

func TestSearchCodeNoMatches(t *testing.T) {
	t.Parallel()

	exec := newTestExecutor(t, Deps{Intelligence: &fakeIntelligence{}})
	res, _ := exec(context.Background(), ToolSearchCode, map[string]any{"query": "ghost"})
	if res.Content != `No matches found for "ghost".` {
		t.Fatalf("empty result message = %q", res.Content)
	}
}

func TestSearchCodeBackendFailureStaysInResult(t *testing.T) {
	t.Parallel()

	exec := newTestExecutor(t, Deps{Intelligence: &fakeIntelligence{err: fmt.Errorf("index locked")}})
	res, err := exec(context.Background(), ToolSearchCode, map[string]any{"query": "x"})
	if err != nil {
		t.Fatalf("backend failures must not abort the loop: %v", err)
	}
	if !strings.Contains(res.Error, "index locked") {
		t.Fatalf("backend error missing from result: %q", res.Error)
	}
}

func TestFindCallersFormatsEdges(t *testing.T) {
	t.Parallel()

	intel := &fakeIntelligence{edges: []contractx.CallEdge{
		{Caller: "HandleLogin", Callee: "Verify", Path: "internal/auth/http.go", Line: 88},
		{Caller: "Refresh", Callee: "Verify"},
	}}
	exec := newTestExecutor(t, Deps{Intelligence: intel})

	res, _ := exec(context.Background(), ToolFindCallers, map[string]any{"symbol": "Verify"})
	want := "HandleLogin -> Verify (internal/auth/http.go:88)\nRefresh -> Verify"
	if res.Content != want {
		t.Fatalf("edges = %q", res.Content)
	}
}

func TestFindCalleesEmpty(t *testing.T) {
	t.Parallel()

	exec := newTestExecutor(t, Deps{Intelligence: &fakeIntelligence{}})
	res, _ := exec(context.Background(), ToolFindCallees, map[string]any{"symbol": "Main"})
	if res.Content != `No callees found for "Main".` {
		t.Fatalf("empty message = %q", res.Content)
	}
}

func TestReadFileFullAndRange(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	content := "alpha\nbeta\ngamma\ndelta"
	if err := os.WriteFile(filepath.Join(root, "notes.txt"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	exec := newTestExecutor(t, Deps{Root: root})

	res, _ := exec(context.Background(), ToolReadFile, map[string]any{"path": "notes.txt"})
	if res.Content != content {
		t.Fatalf("full read = %q", res.Content)
	}

	res, _ = exec(context.Background(), ToolReadFile, map[string]any{
		"path":       "notes.txt",
		"start_line": float64(2),
		"end_line":   float64(3),
	})
	if res.Content != "beta\ngamma" {
		t.Fatalf("range read = %q", res.Content)
	}
}

func TestReadFileTruncatesLongFiles(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	var sb strings.Builder
	for i := 0; i < maxReadLines+100; i++ {
		fmt.Fprintf(&sb, "line %d\n", i)
	}
	if err := os.WriteFile(filepath.Join(root, "big.txt"), []byte(sb.String()), 0o644); err != nil {
		t.Fatal(err)
	}

	exec := newTestExecutor(t, Deps{Root: root})
	res, _ := exec(context.Background(), ToolReadFile, map[string]any{"path": "big.txt"})

	if !strings.HasSuffix(res.Content, "... (truncated, use start_line/end_line to read more)") {
		t.Fatalf("missing truncation notice:\n...%s", res.Content[len(res.Content)-80:])
	}
	if lines := strings.Split(res.Content, "\n"); len(lines) != maxReadLines+1 {
		t.Fatalf("truncated read returned %d lines", len(lines))
	}
}

func TestReadFileRejectsEscapes(t *testing.T) {
	t.Parallel()

	exec := newTestExecutor(t, Deps{Root: t.TempDir()})

	res, _ := exec(context.Background(), ToolReadFile, map[string]any{"path": "../secrets.txt"})
	if !strings.Contains(res.Error, "escapes the workspace") {
		t.Fatalf("parent escape not rejected: %q", res.Error)
	}

	res, _ = exec(context.Background(), ToolReadFile, map[string]any{"path": "/etc/passwd"})
	if !strings.Contains(res.Error, "workspace-relative") {
		t.Fatalf("absolute path not rejected: %q", res.Error)
	}
}

func TestReadFileStartPastEnd(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "short.txt"), []byte("only\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	exec := newTestExecutor(t, Deps{Root: root})
	res, _ := exec(context.Background(), ToolReadFile, map[string]any{"path": "short.txt", "start_line": float64(99)})
	if !strings.Contains(res.Error, "past the end of the file") {
		t.Fatalf("error = %q", res.Error)
	}
}

func TestRecallMemoryFormatsAndTruncatesPreview(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("m", recallPreviewChars+40)
	intel := &fakeIntelligence{memories: []contractx.MemoryHit{
		{ID: 7, Content: "team prefers table tests", Score: 0.91},
		{ID: 12, Content: long, Score: 0.4},
	}}
	exec := newTestExecutor(t, Deps{Intelligence: intel})

	res, _ := exec(context.Background(), ToolRecallMemory, map[string]any{"query": "tests"})
	lines := strings.Split(res.Content, "\n")
	if lines[0] != "[7] (score: 0.91) team prefers table tests" {
		t.Fatalf("memory line = %q", lines[0])
	}
	if !strings.HasSuffix(lines[1], "...") {
		t.Fatalf("long memory should be previewed: %q", lines[1])
	}
	if len(lines[1]) > recallPreviewChars+40 {
		t.Fatalf("preview too long: %d chars", len(lines[1]))
	}
}

func TestStoreFindingRecordsOnBoard(t *testing.T) {
	t.Parallel()

	board := statex.NewBoard("sess-1")
	exec := newTestExecutor(t, Deps{Board: board, Role: contractx.RoleSecurity, Round: 1})

	res, _ := exec(context.Background(), ToolStoreFinding, map[string]any{
		"topic":          "auth",
		"content":        "login endpoint has no rate limit",
		"severity":       "high",
		"evidence":       "internal/auth/http.go:10; internal/auth/http.go:55",
		"recommendation": "add a limiter",
		"confidence":     0.8,
	})
	if res.Error != "" {
		t.Fatalf("store failed: %s", res.Error)
	}
	if res.Content != "Finding recorded (1 total)" {
		t.Fatalf("reply = %q", res.Content)
	}

	stored := board.Snapshot()[0]
	if stored.Role != contractx.RoleSecurity || stored.Round != 1 {
		t.Fatalf("identity not stamped: %+v", stored)
	}
	if stored.Severity != contractx.SeverityHigh || len(stored.Evidence) != 2 {
		t.Fatalf("fields not mapped: %+v", stored)
	}
}

func TestStoreFindingRequiresTopicAndContent(t *testing.T) {
	t.Parallel()

	exec := newTestExecutor(t, Deps{Board: statex.NewBoard("sess-1")})
	res, _ := exec(context.Background(), ToolStoreFinding, map[string]any{"topic": "auth"})
	if res.Error != "'topic' and 'content' are required" {
		t.Fatalf("error = %q", res.Error)
	}
}

func TestStoreFindingRoleLimit(t *testing.T) {
	t.Parallel()

	board := statex.NewBoard("sess-1", statex.WithRoleLimit(1))
	exec := newTestExecutor(t, Deps{Board: board, Role: contractx.RoleArchitect})

	exec(context.Background(), ToolStoreFinding, map[string]any{"topic": "t", "content": "first"})
	res, _ := exec(context.Background(), ToolStoreFinding, map[string]any{"topic": "t", "content": "second"})
	if !strings.Contains(res.Error, "finding limit reached") {
		t.Fatalf("error = %q", res.Error)
	}
}

func TestCallHostToolRoutesToBridge(t *testing.T) {
	t.Parallel()

	host := &fakeHost{content: "issue #42 created"}
	exec := newTestExecutor(t, Deps{Host: host})

	res, _ := exec(context.Background(), ToolCallHostTool, map[string]any{
		"server": "github",
		"tool":   "create_issue",
		"args":   map[string]any{"title": "bug"},
	})
	if res.Content != "issue #42 created" {
		t.Fatalf("content = %q", res.Content)
	}
	if host.lastServer != "github" || host.lastTool != "create_issue" {
		t.Fatalf("routing wrong: %s %s", host.lastServer, host.lastTool)
	}
	if host.lastArgs["title"] != "bug" {
		t.Fatalf("args not forwarded: %v", host.lastArgs)
	}
}

func TestCallHostToolWithoutBridge(t *testing.T) {
	t.Parallel()

	exec := newTestExecutor(t, Deps{})
	res, _ := exec(context.Background(), ToolCallHostTool, map[string]any{"server": "s", "tool": "t"})
	if !strings.Contains(res.Error, "no host bridge is configured") {
		t.Fatalf("error = %q", res.Error)
	}
}

func TestHostPassthroughName(t *testing.T) {
	t.Parallel()

	host := &fakeHost{content: "ok"}
	exec := newTestExecutor(t, Deps{Host: host})

	res, _ := exec(context.Background(), "mcp__fs__read", map[string]any{"path": "a.txt"})
	if res.Content != "ok" {
		t.Fatalf("content = %q", res.Content)
	}
	if host.lastServer != "fs" || host.lastTool != "read" {
		t.Fatalf("passthrough routing wrong: %s %s", host.lastServer, host.lastTool)
	}
	if host.lastArgs["path"] != "a.txt" {
		t.Fatalf("passthrough args lost: %v", host.lastArgs)
	}
}

func TestUnknownToolIsRecoverable(t *testing.T) {
	t.Parallel()

	exec := newTestExecutor(t, Deps{Role: contractx.RoleSecurity})
	res, err := exec(context.Background(), "teleport", nil)
	if err != nil {
		t.Fatalf("unknown tool must not abort the loop: %v", err)
	}
	if res.Error != "tool=teleport is unavailable for role=security" {
		t.Fatalf("error = %q", res.Error)
	}
}

func TestExecutorHonorsCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	exec := newTestExecutor(t, Deps{Intelligence: &fakeIntelligence{}})
	if _, err := exec(ctx, ToolSearchCode, map[string]any{"query": "x"}); err == nil {
		t.Fatal("cancelled context should surface as an error")
	}
}
