// Package mcptools exposes profiling and suggestion as MCP tools.
package mcptools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"data-cleaning-service/internal/models"
	"data-cleaning-service/internal/profiler"
	"data-cleaning-service/internal/suggest"
	"data-cleaning-service/internal/table"
	"data-cleaning-service/internal/transform"
)

// Deps holds what the tools need. A nil Engine selects the rule-based one.
type Deps struct {
	Registry *transform.Registry
	Engine   suggest.Engine
	Version  string
}

// NewServer creates an MCP server with the profiling, suggestions and
// transformations tools registered.
func NewServer(deps Deps) *server.MCPServer {
	if deps.Registry == nil {
		deps.Registry = transform.NewRegistry()
	}
	if deps.Engine == nil {
		deps.Engine = suggest.NewRuleBased()
	}
	if deps.Version == "" {
		deps.Version = "dev"
	}
	s := server.NewMCPServer(
		"data-cleaning",
		deps.Version,
		server.WithToolCapabilities(false),
		server.WithInstructions("Profile CSV datasets and propose ordered cleaning operations."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("profiling",
			mcp.WithDescription("Profile a CSV dataset: row and column counts, column types and null counts."),
			mcp.WithString("csv", mcp.Description("Dataset as CSV text with a header row"), mcp.Required()),
		),
		profilingTool(),
	)

	s.AddTool(
		mcp.NewTool("suggestions",
			mcp.WithDescription("Propose an ordered list of cleaning operations for a dataset or its profiling result."),
			mcp.WithString("csv", mcp.Description("Dataset as CSV text; gives the most complete suggestions")),
			mcp.WithString("profiling", mcp.Description("Profiling result JSON, used when no CSV is given")),
		),
		suggestionsTool(deps),
	)

	s.AddTool(
		mcp.NewTool("transformations",
			mcp.WithDescription("List the names of the supported cleaning operations."),
		),
		transformationsTool(deps),
	)

	return s
}

func profilingTool() server.ToolHandlerFunc {
	return func(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		csv, err := req.RequireString("csv")
		if err != nil {
			return mcpError("csv is required"), nil
		}
		res, _, err := profiler.ProfileCSV(strings.NewReader(csv))
		if err != nil {
			return mcpError(fmt.Sprintf("profiling failed: %v", err)), nil
		}
		return mcpJSON(res)
	}
}

func suggestionsTool(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		csv := req.GetString("csv", "")
		raw := req.GetString("profiling", "")

		var (
			prof models.ProfilingResult
			t    *table.Table
			err  error
		)
		switch {
		case csv != "":
			prof, t, err = profiler.ProfileCSV(strings.NewReader(csv))
			if err != nil {
				return mcpError(fmt.Sprintf("profiling failed: %v", err)), nil
			}
		case raw != "":
			if err := json.Unmarshal([]byte(raw), &prof); err != nil {
				return mcpError(fmt.Sprintf("invalid profiling JSON: %v", err)), nil
			}
		default:
			return mcpError("csv or profiling is required"), nil
		}

		suggestions, err := deps.Engine.Suggest(ctx, prof, t)
		if err != nil {
			return mcpError(fmt.Sprintf("suggestion failed: %v", err)), nil
		}
		if suggestions == nil {
			suggestions = []models.Suggestion{}
		}
		return mcpJSON(map[string]any{"suggestions": suggestions})
	}
}

func transformationsTool(deps Deps) server.ToolHandlerFunc {
	return func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcpJSON(map[string]any{"transformations": deps.Registry.Names()})
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to encode result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
