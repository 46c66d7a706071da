// Package mcp implements the Model Context Protocol server for the
// healing service.
//
// The MCP server exposes the healing workflow as tools so that
// MCP-compatible agents can trigger runs, inspect traces, approve
// patches and request rollbacks without the HTTP API.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Priyanshiguptaaa/SelfHealingAgents/internal/incident"
	"github.com/Priyanshiguptaaa/SelfHealingAgents/internal/model"
	"github.com/Priyanshiguptaaa/SelfHealingAgents/internal/orchestrator"
)

// Server wraps the MCP server with the healing service layer.
type Server struct {
	mcpServer *mcpserver.MCPServer
	orch      *orchestrator.Orchestrator
	manager   *incident.Manager
	logger    *slog.Logger
}

// New creates and configures an MCP server with all resources and tools.
func New(orch *orchestrator.Orchestrator, manager *incident.Manager, logger *slog.Logger, version string) *Server {
	s := &Server{
		orch:    orch,
		manager: manager,
		logger:  logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"selfheal",
		version,
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
	)

	s.registerResources()
	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func (s *Server) registerResources() {
	// selfheal://traces/recent: recent healing traces, newest first.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"selfheal://traces/recent",
			"Recent Healing Traces",
			mcplib.WithResourceDescription("Recent healing traces ordered newest first"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleTracesRecent,
	)
}

func (s *Server) registerTools() {
	// selfheal_trigger: probe the target and start a healing run.
	s.mcpServer.AddTool(
		mcplib.NewTool("selfheal_trigger",
			mcplib.WithDescription(`Probe the target service and start a healing run if the probe fails.

Returns the trace_id of the new run, or status "healthy" if the probe
found nothing to heal. Poll selfheal_trace with the trace_id to follow
the run to completion.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(true),
			mcplib.WithString("endpoint",
				mcplib.Description("Target endpoint to probe (default CheckReturnEligibility)"),
			),
			mcplib.WithString("sku",
				mcplib.Description("Product SKU to probe with (default SKU-123)"),
			),
		),
		s.handleTrigger,
	)

	// selfheal_trace: inspect a single healing trace.
	s.mcpServer.AddTool(
		mcplib.NewTool("selfheal_trace",
			mcplib.WithDescription(`Get the full state of a healing trace: status, diagnosis, patch,
guardrail results, verification outcome, audit fields and per-step timeline.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("trace_id",
				mcplib.Description("Trace identifier returned by selfheal_trigger"),
				mcplib.Required(),
			),
		),
		s.handleTrace,
	)

	// selfheal_traces: list healing traces.
	s.mcpServer.AddTool(
		mcplib.NewTool("selfheal_traces",
			mcplib.WithDescription(`List healing traces, newest first. Use to review what the healer
has been doing and find trace IDs for inspection.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithNumber("limit",
				mcplib.Description("Maximum traces to return"),
				mcplib.Min(1),
				mcplib.Max(100),
				mcplib.DefaultNumber(20),
			),
		),
		s.handleTraces,
	)

	// selfheal_approve: approve a pending patch.
	s.mcpServer.AddTool(
		mcplib.NewTool("selfheal_approve",
			mcplib.WithDescription(`Approve a healing run waiting at the approval gate. Only meaningful
when the service runs with auto-heal disabled; the run stays in
rca_ready until approved or the approval window expires.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(true),
			mcplib.WithString("trace_id",
				mcplib.Description("Trace identifier of the run to approve"),
				mcplib.Required(),
			),
		),
		s.handleApprove,
	)

	// selfheal_rollback: request a manual rollback.
	s.mcpServer.AddTool(
		mcplib.NewTool("selfheal_rollback",
			mcplib.WithDescription(`Request a manual rollback of an in-flight healing run. The run is
cancelled, any applied patch is reverted byte for byte, and the trace
finishes as rolled_back. Has no effect on traces that already finished.`),
			mcplib.WithDestructiveHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(true),
			mcplib.WithString("trace_id",
				mcplib.Description("Trace identifier of the run to roll back"),
				mcplib.Required(),
			),
			mcplib.WithString("reason",
				mcplib.Description("Why the rollback was requested; recorded on the trace"),
			),
		),
		s.handleRollback,
	)
}

func (s *Server) handleTracesRecent(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	traces := s.manager.List()
	if len(traces) > 20 {
		traces = traces[:20]
	}

	data, err := json.MarshalIndent(traces, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal traces: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      "selfheal://traces/recent",
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleTrigger(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	req := model.TriggerRequest{
		Endpoint: request.GetString("endpoint", ""),
	}
	if sku := request.GetString("sku", ""); sku != "" {
		req.Input = map[string]string{"sku": sku}
	}

	traceID, err := s.orch.Trigger(ctx, req)
	if err != nil {
		if errors.Is(err, orchestrator.ErrTargetHealthy) {
			return textResult(map[string]any{"status": "healthy"})
		}
		return errorResult(fmt.Sprintf("trigger failed: %v", err)), nil
	}

	return textResult(map[string]any{
		"trace_id": traceID,
		"status":   string(model.StatusFailing),
	})
}

func (s *Server) handleTrace(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	traceID := request.GetString("trace_id", "")
	if traceID == "" {
		return errorResult("trace_id is required"), nil
	}

	trace, ok := s.manager.Snapshot(traceID)
	if !ok {
		return errorResult(fmt.Sprintf("trace %s not found", traceID)), nil
	}
	return textResult(trace)
}

func (s *Server) handleTraces(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	limit := request.GetInt("limit", 20)

	traces := s.manager.List()
	if limit > 0 && len(traces) > limit {
		traces = traces[:limit]
	}
	return textResult(map[string]any{
		"traces": traces,
		"total":  len(traces),
	})
}

func (s *Server) handleApprove(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	traceID := request.GetString("trace_id", "")
	if traceID == "" {
		return errorResult("trace_id is required"), nil
	}

	if err := s.orch.Approve(traceID); err != nil {
		return errorResult(fmt.Sprintf("approve failed: %v", err)), nil
	}
	return textResult(map[string]any{"trace_id": traceID, "status": "approved"})
}

func (s *Server) handleRollback(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	traceID := request.GetString("trace_id", "")
	if traceID == "" {
		return errorResult("trace_id is required"), nil
	}
	reason := request.GetString("reason", "")

	if err := s.orch.RequestRollback(traceID, reason); err != nil {
		return errorResult(fmt.Sprintf("rollback failed: %v", err)), nil
	}
	return textResult(map[string]any{"trace_id": traceID, "status": "rollback_requested"})
}

// textResult marshals data as indented JSON into a text tool result.
func textResult(data any) (*mcplib.CallToolResult, error) {
	encoded, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("marshal result: %v", err)), nil
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(encoded)},
		},
	}, nil
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
