package server

import "github.com/mark3labs/mcp-go/mcp"

// intArg extracts an integer argument, returning defaultVal when the key is
// missing or not a number. JSON numbers arrive as float64.
func intArg(req mcp.CallToolRequest, key string, defaultVal int) int {
	v, ok := req.GetArguments()[key].(float64)
	if !ok {
		return defaultVal
	}
	return int(v)
}

// boolArg extracts a boolean argument. The second return reports whether the
// key was present at all.
func boolArg(req mcp.CallToolRequest, key string) (bool, bool) {
	v, ok := req.GetArguments()[key].(bool)
	return v, ok
}

// floatArg extracts a float argument. The second return reports presence, so
// an explicit zero is distinguishable from an omitted key.
func floatArg(req mcp.CallToolRequest, key string) (float64, bool) {
	v, ok := req.GetArguments()[key].(float64)
	return v, ok
}
