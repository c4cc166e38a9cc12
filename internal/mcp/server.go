// Package mcp exposes the SLA report and case drill-down as MCP tools.
package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"relosla/internal/engine"
)

// NewMCPServer registers the report tools without starting the server.
func NewMCPServer(e engine.Engine, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"Relocation SLA Server",
		version,
		server.WithLogging(),
	)
	h := &toolHandler{engine: e}

	s.AddTool(mcp.NewTool("sla_report",
		mcp.WithDescription("Compute the relocation SLA report: per-sector means, rejections and per-case timelines."),
		mcp.WithNumber("days", mcp.Description("Lookback window in days (1..3650). Defaults to 30.")),
		mcp.WithString("start", mcp.Description("Window start, YYYY-MM-DD or RFC3339.")),
		mcp.WithString("end", mcp.Description("Window end, YYYY-MM-DD (inclusive) or RFC3339.")),
		mcp.WithBoolean("only_completed", mcp.Description("Only cases completed inside the window.")),
		mcp.WithBoolean("summary", mcp.Description("Omit per-case details and return sector totals only.")),
	), h.handleReport)

	s.AddTool(mcp.NewTool("case_timeline",
		mcp.WithDescription("Reconstruct the responsibility timeline of one relocation case."),
		mcp.WithString("case_id", mcp.Description("Case identifier."), mcp.Required()),
		mcp.WithString("now", mcp.Description("Evaluate open cycles at this RFC3339 instant.")),
	), h.handleCaseTimeline)

	return s
}

// Serve runs the MCP server over stdio until the client disconnects.
func Serve(_ context.Context, e engine.Engine, version string) error {
	return server.ServeStdio(NewMCPServer(e, version))
}
