package server

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/pagewatch/kit"
)

// RegisterMCP registers the pagewatch tools on an MCP server.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	eps := s.endpoints()

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "pagewatch_list_jobs",
		Description: "List monitored jobs with their history state, invalid declarations and orphaned histories.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}, eps.listJobs, decodeArgs[struct{}])

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "pagewatch_history",
		Description: "Show the stored snapshots of a job, newest first.",
		InputSchema: inputSchema(map[string]any{
			"job":     jobProperty,
			"limit":   map[string]any{"type": "integer", "description": "Max snapshots (default all)"},
			"content": map[string]any{"type": "boolean", "description": "Include snapshot content"},
		}, []string{"job"}),
	}, eps.history, decodeArgs[historyRequest])

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "pagewatch_fetches",
		Description: "Show the recent fetch attempts of a job, newest first.",
		InputSchema: inputSchema(map[string]any{
			"job":   jobProperty,
			"limit": map[string]any{"type": "integer", "description": "Max entries (default 50)"},
		}, []string{"job"}),
	}, eps.fetches, decodeArgs[fetchesRequest])

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "pagewatch_run",
		Description: "Run all jobs now. With wait, returns the outcomes; otherwise the run is queued.",
		InputSchema: inputSchema(map[string]any{
			"wait": map[string]any{"type": "boolean", "description": "Wait for the run and return its outcomes"},
		}, nil),
	}, eps.run, decodeArgs[runRequest])

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "pagewatch_reset",
		Description: "Delete the stored history of a job. Its next run is a first observation.",
		InputSchema: inputSchema(map[string]any{"job": jobProperty}, []string{"job"}),
	}, eps.reset, decodeArgs[resetRequest])
}

var jobProperty = map[string]any{
	"type":        "string",
	"description": "Job id, id prefix (6+ characters) or name",
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

// decodeArgs unmarshals the tool arguments into a *T. Missing arguments
// decode to the zero value.
func decodeArgs[T any](req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
	var r T
	if len(req.Params.Arguments) > 0 {
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
	}
	return &kit.MCPDecodeResult{
		Request:   &r,
		EnrichCtx: func(ctx context.Context) context.Context { return kit.WithTransport(ctx, "mcp") },
	}, nil
}

// NewMCPServer creates an MCP server carrying the pagewatch tools.
func (s *Service) NewMCPServer(version string) *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{Name: "pagewatch", Version: version}, nil)
	s.RegisterMCP(srv)
	return srv
}
