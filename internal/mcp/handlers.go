package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"relosla/internal/engine"
	"relosla/internal/repo"
)

type toolHandler struct {
	engine engine.Engine
}

func (h *toolHandler) handleReport(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	f := engine.ReportFilter{
		Days:          request.GetInt("days", 0),
		Start:         request.GetString("start", ""),
		End:           request.GetString("end", ""),
		OnlyCompleted: request.GetBool("only_completed", false),
	}
	res, err := h.engine.ComputeReport(ctx, f)
	if err != nil {
		if errors.Is(err, engine.ErrInvalidFilter) {
			return mcp.NewToolResultError(fmt.Sprintf("invalid filter: %v", err)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("report failed: %v", err)), nil
	}
	report := res.Report
	if request.GetBool("summary", false) {
		report.ByCase = nil
	}
	jsonData, _ := json.MarshalIndent(report, "", "  ")
	return mcp.NewToolResultText(string(jsonData)), nil
}

func (h *toolHandler) handleCaseTimeline(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	caseID := request.GetString("case_id", "")
	if caseID == "" {
		return mcp.NewToolResultError("case_id is required"), nil
	}
	var now time.Time
	if raw := request.GetString("now", ""); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid now %q: want RFC3339", raw)), nil
		}
		now = t
	}
	detail, err := h.engine.CaseTimeline(ctx, caseID, now)
	if errors.Is(err, repo.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("case %s not found", caseID)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("timeline failed: %v", err)), nil
	}
	jsonData, _ := json.MarshalIndent(detail, "", "  ")
	return mcp.NewToolResultText(string(jsonData)), nil
}
