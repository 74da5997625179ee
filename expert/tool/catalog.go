package tool

import (
	"strings"

	"github.com/cloudwego/eino/schema"
)

const (
	ToolSearchCode   = "search_code"
	ToolFindCallers  = "find_callers"
	ToolFindCallees  = "find_callees"
	ToolReadFile     = "read_file"
	ToolRecallMemory = "recall_memory"
	ToolStoreFinding = "store_finding"
	ToolCallHostTool = "call_host_tool"

	// HostToolPrefix marks passthrough tools named mcp__{server}__{tool}.
	HostToolPrefix = "mcp__"
)

// Infos returns the expert tool surface. Every role sees the same core set;
// host passthrough tools advertised by the bridge are appended verbatim.
func Infos(hostTools ...*schema.ToolInfo) []*schema.ToolInfo {
	infos := []*schema.ToolInfo{
		{
			Name: ToolSearchCode,
			Desc: "Search the indexed codebase for symbols, identifiers, and text. Returns matching snippets with file paths.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"query": {Type: schema.String, Desc: "Search query (symbol name, identifier, or free text)", Required: true},
				"limit": {Type: schema.Integer, Desc: "Maximum number of results (default 10)"},
			}),
		},
		{
			Name: ToolFindCallers,
			Desc: "List call sites that invoke the given function or method.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"symbol": {Type: schema.String, Desc: "Function or method name to find callers of", Required: true},
			}),
		},
		{
			Name: ToolFindCallees,
			Desc: "List functions and methods invoked by the given function.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"symbol": {Type: schema.String, Desc: "Function or method name to find callees of", Required: true},
			}),
		},
		{
			Name: ToolReadFile,
			Desc: "Read a file from the workspace. Large files are truncated; use start_line and end_line to page.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"path":       {Type: schema.String, Desc: "Workspace-relative file path", Required: true},
				"start_line": {Type: schema.Integer, Desc: "First line to read (1-based)"},
				"end_line":   {Type: schema.Integer, Desc: "Last line to read (inclusive)"},
			}),
		},
		{
			Name: ToolRecallMemory,
			Desc: "Search the project's persistent memory for relevant facts, decisions, and conventions.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"query": {Type: schema.String, Desc: "What to recall", Required: true},
				"limit": {Type: schema.Integer, Desc: "Maximum number of memories (default 5)"},
			}),
		},
		{
			Name: ToolStoreFinding,
			Desc: "Record one discrete finding on the consultation board. Use one call per claim.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"topic":          {Type: schema.String, Desc: "Short topic the finding belongs to", Required: true},
				"content":        {Type: schema.String, Desc: "The claim, stated as one verifiable sentence or paragraph", Required: true},
				"severity":       {Type: schema.String, Desc: "info, low, medium, high, or critical (default medium)"},
				"evidence":       {Type: schema.String, Desc: "Supporting file references, semicolon separated"},
				"recommendation": {Type: schema.String, Desc: "What to do about it"},
				"confidence":     {Type: schema.Number, Desc: "Confidence from 0 to 1"},
			}),
		},
		{
			Name: ToolCallHostTool,
			Desc: "Invoke a tool on a connected host MCP server.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"server": {Type: schema.String, Desc: "Host server name", Required: true},
				"tool":   {Type: schema.String, Desc: "Tool name on that server", Required: true},
				"args":   {Type: schema.Object, Desc: "Arguments forwarded to the host tool"},
			}),
		},
	}
	return append(infos, hostTools...)
}

// ParseHostToolName splits a passthrough name of the form mcp__server__tool.
func ParseHostToolName(name string) (server, tool string, ok bool) {
	if !strings.HasPrefix(name, HostToolPrefix) {
		return "", "", false
	}
	parts := strings.SplitN(name, "__", 3)
	if len(parts) != 3 || parts[1] == "" || parts[2] == "" {
		return "", "", false
	}
	return parts[1], parts[2], true
}

// HostToolName builds the passthrough name for a host server tool.
func HostToolName(server, tool string) string {
	return HostToolPrefix + server + "__" + tool
}
