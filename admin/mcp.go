package admin

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/blockreasons/kit"
)

// RegisterMCP registers the read-only admin tools on srv.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	kit.RegisterMCPTool[lookupRequest](srv, &mcp.Tool{
		Name:        "blockreasons_lookup",
		Description: "Return the saved block annotation for a username (case-insensitive).",
		InputSchema: inputSchema(map[string]any{
			"username": map[string]any{"type": "string", "description": "Account handle, with or without @"},
		}, []string{"username"}),
	}, s.lookup)

	kit.RegisterMCPTool[searchRequest](srv, &mcp.Tool{
		Name:        "blockreasons_search",
		Description: "Search block annotations by username, reason or category label. Most recent first.",
		InputSchema: inputSchema(map[string]any{
			"query": map[string]any{"type": "string", "description": "Case-insensitive substring; empty lists everything"},
			"limit": map[string]any{"type": "integer", "description": "Max results (0 for all)"},
		}, nil),
	}, s.search)

	kit.RegisterMCPTool[emptyRequest](srv, &mcp.Tool{
		Name:        "blockreasons_stats",
		Description: "Count block annotations: total, per category, uncategorized, with post, archived.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}, s.stats)

	kit.RegisterMCPTool[emptyRequest](srv, &mcp.Tool{
		Name:        "blockreasons_categories",
		Description: "List the block categories in display order.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}, s.categories)
}

// inputSchema builds a JSON Schema object with type "object".
func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}
