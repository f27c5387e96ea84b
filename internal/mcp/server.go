package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"flowdeck/backend/internal/schedule"
	"flowdeck/backend/internal/services"
	"flowdeck/backend/internal/session"
	"flowdeck/backend/pkg/models"
)

// Workflows is the dashboard behavior exposed as tools.
type Workflows interface {
	List(ctx context.Context, sess *session.Session, f services.Filter) ([]*services.WorkflowSummary, error)
	Schedule(ctx context.Context, sess *session.Session, id string) ([]schedule.Entry, error)
	UpdateSchedule(ctx context.Context, sess *session.Session, id string, entries []schedule.Entry) ([]schedule.Entry, error)
	SetActive(ctx context.Context, sess *session.Session, id string, active bool) error
	Execute(ctx context.Context, sess *session.Session, id string) (*models.Execution, error)
	RecentAudit(ctx context.Context) ([]*models.AuditEntry, error)
}

type Server struct {
	mcpServer *server.MCPServer
	workflows Workflows
}

// NewServer exposes workflows as MCP tools. Every tool acts with the session
// the HTTP middleware put in the request context.
func NewServer(workflows Workflows) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"Flowdeck",
			"1.0.0",
			server.WithToolCapabilities(true),
		),
		workflows: workflows,
	}

	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

// caller returns the session of the request, or an error result when the
// request was not authenticated.
func caller(ctx context.Context) (*session.Session, *mcp.CallToolResult) {
	sess, ok := session.FromContext(ctx)
	if !ok || !sess.Authenticated() {
		return nil, mcp.NewToolResultError("Not authenticated: send X-N8N-API-KEY or a session cookie")
	}
	return sess, nil
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"list_workflows",
			mcp.WithDescription("List dashboard workflows with their schedules and next run"),
			mcp.WithString("tag", mcp.Description("Exact tag name to filter by")),
			mcp.WithString("category", mcp.Description("Category to filter by (tag substring)")),
		),
		s.handleListWorkflows,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"get_schedule",
			mcp.WithDescription("Get the schedule entries of a workflow"),
			mcp.WithString("id", mcp.Required(), mcp.Description("The workflow ID")),
		),
		s.handleGetSchedule,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"update_schedule",
			mcp.WithDescription("Replace the schedule of a workflow"),
			mcp.WithString("id", mcp.Required(), mcp.Description("The workflow ID")),
			mcp.WithArray("entries",
				mcp.Required(),
				mcp.Description("Schedule entries: {mode, dayOfWeek (0-6, 0 is Sunday), hour, minute}"),
				mcp.Items(map[string]any{"type": "object"}),
			),
		),
		s.handleUpdateSchedule,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"set_active",
			mcp.WithDescription("Activate or deactivate a workflow"),
			mcp.WithString("id", mcp.Required(), mcp.Description("The workflow ID")),
			mcp.WithBoolean("active", mcp.Required(), mcp.Description("The desired state")),
		),
		s.handleSetActive,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"execute_workflow",
			mcp.WithDescription("Start a manual run of a workflow"),
			mcp.WithString("id", mcp.Required(), mcp.Description("The workflow ID")),
		),
		s.handleExecute,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"recent_audit",
			mcp.WithDescription("List recent dashboard actions, newest first"),
		),
		s.handleRecentAudit,
	)
}

func (s *Server) handleListWorkflows(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, denied := caller(ctx)
	if denied != nil {
		return denied, nil
	}

	f := services.Filter{
		Tag:      request.GetString("tag", ""),
		Category: request.GetString("category", ""),
	}
	workflows, err := s.workflows.List(ctx, sess, f)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list workflows: %v", err)), nil
	}
	return jsonResult(workflows)
}

func (s *Server) handleGetSchedule(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, denied := caller(ctx)
	if denied != nil {
		return denied, nil
	}

	id, err := request.RequireString("id")
	if err != nil || id == "" {
		return mcp.NewToolResultError("Missing required parameter: id"), nil
	}

	entries, err := s.workflows.Schedule(ctx, sess, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get schedule: %v", err)), nil
	}
	return jsonResult(entries)
}

func (s *Server) handleUpdateSchedule(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, denied := caller(ctx)
	if denied != nil {
		return denied, nil
	}

	id, err := request.RequireString("id")
	if err != nil || id == "" {
		return mcp.NewToolResultError("Missing required parameter: id"), nil
	}

	raw, ok := request.GetArguments()["entries"]
	if !ok {
		return mcp.NewToolResultError("Missing required parameter: entries"), nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return mcp.NewToolResultError("Invalid parameter: entries"), nil
	}
	var entries []schedule.Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Invalid parameter: entries: %v", err)), nil
	}

	updated, err := s.workflows.UpdateSchedule(ctx, sess, id, entries)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(updated)
}

func (s *Server) handleSetActive(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, denied := caller(ctx)
	if denied != nil {
		return denied, nil
	}

	id, err := request.RequireString("id")
	if err != nil || id == "" {
		return mcp.NewToolResultError("Missing required parameter: id"), nil
	}
	active, err := request.RequireBool("active")
	if err != nil {
		return mcp.NewToolResultError("Missing required parameter: active"), nil
	}

	if err := s.workflows.SetActive(ctx, sess, id, active); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to change workflow state: %v", err)), nil
	}
	if active {
		return mcp.NewToolResultText("Workflow activated"), nil
	}
	return mcp.NewToolResultText("Workflow deactivated"), nil
}

func (s *Server) handleExecute(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, denied := caller(ctx)
	if denied != nil {
		return denied, nil
	}

	id, err := request.RequireString("id")
	if err != nil || id == "" {
		return mcp.NewToolResultError("Missing required parameter: id"), nil
	}

	exec, err := s.workflows.Execute(ctx, sess, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to execute workflow: %v", err)), nil
	}
	return jsonResult(exec)
}

func (s *Server) handleRecentAudit(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if _, denied := caller(ctx); denied != nil {
		return denied, nil
	}

	entries, err := s.workflows.RecentAudit(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to load audit log: %v", err)), nil
	}
	return jsonResult(entries)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

// MountHTTPHandlers serves MCP over streamable HTTP at /mcp and over SSE at
// /mcp/sse with messages posted to /mcp/message. The middleware m must put a
// session in the request context; tool calls without one are refused.
func MountHTTPHandlers(e *echo.Echo, mcpServer *server.MCPServer, m ...echo.MiddlewareFunc) {
	sseServer := server.NewSSEServer(mcpServer,
		server.WithStaticBasePath("/mcp"),
		server.WithSSEContextFunc(requestSession),
	)
	streamable := server.NewStreamableHTTPServer(mcpServer, server.WithHTTPContextFunc(requestSession))

	e.Any("/mcp", echo.WrapHandler(streamable), m...)
	e.GET("/mcp/sse", echo.WrapHandler(sseServer), m...)
	e.POST("/mcp/message", echo.WrapHandler(sseServer), m...)
}

// requestSession carries the middleware's session into the tool call context.
func requestSession(ctx context.Context, r *http.Request) context.Context {
	if sess, ok := session.FromContext(r.Context()); ok {
		return session.WithSession(ctx, sess)
	}
	return ctx
}
