package mcp

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"ledgerwork-backend/core/marketplace"
	storage "ledgerwork-backend/storage/marketplace"
)

// VerificationSink consumes verdicts delivered by the verifier agent.
type VerificationSink interface {
	HandleVerification(ctx context.Context, submissionID string, res marketplace.VerificationResult) error
}

// MCPServer exposes the marketplace to AI verifier agents over MCP.
type MCPServer struct {
	mcpServer *server.MCPServer
	store     storage.Store
	sink      VerificationSink
}

// NewMCPServer creates a new MCP server using the mcp-go library
func NewMCPServer(store storage.Store, sink VerificationSink) *MCPServer {
	mcpServer := server.NewMCPServer(
		"LedgerWork MCP Server",
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	s := &MCPServer{
		mcpServer: mcpServer,
		store:     store,
		sink:      sink,
	}

	s.registerTools()

	return s
}

// GetMCPServer returns the underlying MCP server for transport setup
func (s *MCPServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

// registerTools registers all MCP tools with the server
func (s *MCPServer) registerTools() {
	// Tasks tools
	s.registerListTasksTool()
	s.registerGetTaskTool()

	// Submissions tools
	s.registerListPendingSubmissionsTool()
	s.registerGetSubmissionTool()
	s.registerSubmitVerificationTool()

	// Payments tool
	s.registerGetPaymentStatusTool()

	// Events tool
	s.registerListEventsTool()
}

func (s *MCPServer) registerListTasksTool() {
	tool := mcp.NewTool("list_tasks",
		mcp.WithDescription("List marketplace tasks with optional filtering"),
		mcp.WithString("status", mcp.Description("Filter by task status (OPEN, IN_PROGRESS, COMPLETED, EXPIRED)")),
		mcp.WithString("type", mcp.Description("Filter by task type")),
	)

	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()

		filter := marketplace.TaskFilter{Limit: 100}
		if v, ok := args["status"].(string); ok {
			filter.Status = v
		}
		if v, ok := args["type"].(string); ok {
			filter.Type = marketplace.TaskType(v)
		}

		tasks, err := s.store.ListTasks(ctx, filter)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to list tasks: %v", err)), nil
		}

		return jsonResult(map[string]interface{}{
			"tasks":       tasks,
			"total_count": len(tasks),
		})
	})
}

func (s *MCPServer) registerGetTaskTool() {
	tool := mcp.NewTool("get_task",
		mcp.WithDescription("Get one task by id, including its verification criteria"),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("Task identifier")),
	)

	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		taskID, ok := request.GetArguments()["task_id"].(string)
		if !ok || taskID == "" {
			return mcp.NewToolResultError("task_id is required"), nil
		}

		task, err := s.store.GetTask(ctx, taskID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to get task: %v", err)), nil
		}
		return jsonResult(task)
	})
}

func (s *MCPServer) registerListPendingSubmissionsTool() {
	tool := mcp.NewTool("list_pending_submissions",
		mcp.WithDescription("List submissions awaiting verification, oldest first"),
		mcp.WithString("task_id", mcp.Description("Restrict to one task")),
	)

	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		taskID := ""
		if v, ok := request.GetArguments()["task_id"].(string); ok {
			taskID = v
		}

		subs, err := s.store.ListSubmissions(ctx, taskID, marketplace.SubmissionPending)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to list submissions: %v", err)), nil
		}
		return jsonResult(map[string]interface{}{
			"submissions": subs,
			"total_count": len(subs),
		})
	})
}

func (s *MCPServer) registerGetSubmissionTool() {
	tool := mcp.NewTool("get_submission",
		mcp.WithDescription("Get one submission with its work payload"),
		mcp.WithString("submission_id", mcp.Required(), mcp.Description("Submission identifier")),
	)

	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, ok := request.GetArguments()["submission_id"].(string)
		if !ok || id == "" {
			return mcp.NewToolResultError("submission_id is required"), nil
		}

		sub, err := s.store.GetSubmission(ctx, id)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to get submission: %v", err)), nil
		}
		return jsonResult(sub)
	})
}

func (s *MCPServer) registerSubmitVerificationTool() {
	tool := mcp.NewTool("submit_verification",
		mcp.WithDescription("Deliver a verification verdict for one submission. An approved verdict triggers the escrow payment release. Delivering a second verdict for the same submission is a no-op."),
		mcp.WithString("submission_id", mcp.Required(), mcp.Description("Submission identifier")),
		mcp.WithBoolean("approved", mcp.Required(), mcp.Description("Whether the work meets the task criteria")),
		mcp.WithNumber("score", mcp.Required(), mcp.Description("Quality score 0-100")),
		mcp.WithString("reasoning", mcp.Required(), mcp.Description("Why the verdict was reached")),
	)

	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()

		id, _ := args["submission_id"].(string)
		approved, _ := args["approved"].(bool)
		reasoning, _ := args["reasoning"].(string)
		score := 0
		if v, ok := args["score"].(float64); ok {
			score = int(v)
		}

		res := marketplace.VerificationResult{Approved: approved, Score: score, Reasoning: reasoning}
		if err := marketplace.ValidateVerification(id, res); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if err := s.sink.HandleVerification(ctx, id, res); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to apply verdict: %v", err)), nil
		}

		return jsonResult(map[string]interface{}{
			"submission_id": id,
			"accepted":      true,
		})
	})
}

func (s *MCPServer) registerGetPaymentStatusTool() {
	tool := mcp.NewTool("get_payment_status",
		mcp.WithDescription("Get the payment record for a (task, worker) pair"),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("Task identifier")),
		mcp.WithString("worker_wallet", mcp.Required(), mcp.Description("Worker wallet address")),
	)

	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()
		taskID, _ := args["task_id"].(string)
		worker, _ := args["worker_wallet"].(string)
		if taskID == "" || worker == "" {
			return mcp.NewToolResultError("task_id and worker_wallet are required"), nil
		}

		p, err := s.store.GetPaymentByPair(ctx, taskID, worker)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to get payment: %v", err)), nil
		}
		return jsonResult(p)
	})
}

func (s *MCPServer) registerListEventsTool() {
	tool := mcp.NewTool("list_events",
		mcp.WithDescription("List recent marketplace activity events"),
		mcp.WithNumber("limit", mcp.Description("Max events to return (default 50)")),
	)

	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := 50
		if v, ok := request.GetArguments()["limit"].(float64); ok && v > 0 {
			limit = int(v)
		}

		events, err := s.store.ListEvents(ctx, limit)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to list events: %v", err)), nil
		}
		return jsonResult(map[string]interface{}{
			"events":      events,
			"total_count": len(events),
		})
	})
}
