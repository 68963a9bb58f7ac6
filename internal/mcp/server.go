package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/joescharf/audit/internal/health"
	"github.com/joescharf/audit/internal/models"
	"github.com/joescharf/audit/internal/reminder"
	"github.com/joescharf/audit/internal/store"
)

// Server exposes the audit issue tracker as MCP tools.
type Server struct {
	svc     *reminder.Service
	scorer  *health.Scorer
	version string
}

// NewServer creates the MCP server wrapper.
func NewServer(svc *reminder.Service, version string) *Server {
	if version == "" {
		version = "dev"
	}
	return &Server{
		svc:     svc,
		scorer:  health.NewScorer(),
		version: version,
	}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("audit", s.version, server.WithToolCapabilities(true))

	srv.AddTool(s.listIssuesTool())
	srv.AddTool(s.createIssueTool())
	srv.AddTool(s.updateIssueTool())
	srv.AddTool(s.dueRemindersTool())
	srv.AddTool(s.sendReminderTool())
	srv.AddTool(s.sendOverdueTool())
	srv.AddTool(s.sendDueSoonTool())
	srv.AddTool(s.getPolicyTool())
	srv.AddTool(s.statusTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// audit_list_issues
func (s *Server) listIssuesTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("audit_list_issues",
		mcp.WithDescription("List audit issues, optionally filtered by status, priority and team. Returns a JSON array with id, description, team, team_email, priority, status, created_date, resolution_date, last_reminder, reminder_count and days_remaining."),
		mcp.WithString("status", mcp.Description("Status filter: open, in_progress, resolved, closed")),
		mcp.WithString("priority", mcp.Description("Priority filter: low, medium, high")),
		mcp.WithString("team", mcp.Description("Team name (case-insensitive)")),
	)
	return tool, s.handleListIssues
}

func (s *Server) handleListIssues(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := store.IssueListFilter{Team: request.GetString("team", "")}

	if status := request.GetString("status", ""); status != "" {
		st, err := models.ParseStatus(status)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		filter.Status = st
	}
	if priority := request.GetString("priority", ""); priority != "" {
		p, err := models.ParsePriority(priority)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		filter.Priority = p
	}

	issues, err := s.svc.ListIssues(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list issues: %v", err)), nil
	}

	today := s.svc.Today()
	out := make([]issueOut, len(issues))
	for i, issue := range issues {
		out[i] = toIssueOut(issue, today)
	}
	return jsonResult(out, "issues")
}

// audit_create_issue
func (s *Server) createIssueTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("audit_create_issue",
		mcp.WithDescription("Record a new audit finding. The issue starts Open with a sequential ID. Returns the created issue as JSON."),
		mcp.WithString("description", mcp.Required(), mcp.Description("What was found")),
		mcp.WithString("team", mcp.Required(), mcp.Description("Team responsible for remediation")),
		mcp.WithString("team_email", mcp.Required(), mcp.Description("Address reminders are sent to")),
		mcp.WithString("resolution_date", mcp.Required(), mcp.Description("Deadline, YYYY-MM-DD")),
		mcp.WithString("priority", mcp.Description("Priority: low, medium, high (default: medium)")),
	)
	return tool, s.handleCreateIssue
}

func (s *Server) handleCreateIssue(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	in := models.IssueInput{
		Description:    request.GetString("description", ""),
		Team:           request.GetString("team", ""),
		TeamEmail:      request.GetString("team_email", ""),
		Priority:       request.GetString("priority", ""),
		ResolutionDate: request.GetString("resolution_date", ""),
	}

	issue, err := s.svc.CreateIssue(ctx, in)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to create issue: %v", err)), nil
	}
	return jsonResult(toIssueOut(issue, s.svc.Today()), "issue")
}

// audit_update_issue
func (s *Server) updateIssueTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("audit_update_issue",
		mcp.WithDescription("Update an audit issue. Provide the issue ID and at least one field. Reminder state is never changed by this tool. Returns the updated issue as JSON."),
		mcp.WithString("issue_id", mcp.Required(), mcp.Description("Issue ID, e.g. AUDIT-0004")),
		mcp.WithString("status", mcp.Description("New status: open, in_progress, resolved, closed")),
		mcp.WithString("description", mcp.Description("New description")),
		mcp.WithString("team", mcp.Description("New team")),
		mcp.WithString("team_email", mcp.Description("New reminder address")),
		mcp.WithString("priority", mcp.Description("New priority: low, medium, high")),
		mcp.WithString("resolution_date", mcp.Description("New deadline, YYYY-MM-DD, or \"none\" to clear it")),
	)
	return tool, s.handleUpdateIssue
}

func (s *Server) handleUpdateIssue(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	issueID, err := request.RequireString("issue_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: issue_id"), nil
	}

	fields := []string{"status", "description", "team", "team_email", "priority", "resolution_date"}
	provided := false
	for _, f := range fields {
		if request.GetString(f, "") != "" {
			provided = true
		}
	}
	if !provided {
		return mcp.NewToolResultError("no fields provided to update; specify at least one of: status, description, team, team_email, priority, resolution_date"), nil
	}

	issue, err := s.svc.UpdateIssue(ctx, issueID, func(issue *models.Issue) error {
		in := models.InputFromIssue(issue)
		patch(&in.Status, request.GetString("status", ""))
		patch(&in.Description, request.GetString("description", ""))
		patch(&in.Team, request.GetString("team", ""))
		patch(&in.TeamEmail, request.GetString("team_email", ""))
		patch(&in.Priority, request.GetString("priority", ""))
		switch due := request.GetString("resolution_date", ""); due {
		case "":
		case "none":
			in.ResolutionDate = ""
		default:
			in.ResolutionDate = due
		}
		return in.ApplyTo(issue)
	})
	if errors.Is(err, store.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("issue not found: %s", issueID)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to update issue: %v", err)), nil
	}
	return jsonResult(toIssueOut(issue, s.svc.Today()), "issue")
}

// audit_due_reminders
func (s *Server) dueRemindersTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("audit_due_reminders",
		mcp.WithDescription("Preview which issues the scheduler will remind about today under the current policy. Sends nothing."),
	)
	return tool, s.handleDueReminders
}

func (s *Server) handleDueReminders(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	due, err := s.svc.DuePreview(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to evaluate policy: %v", err)), nil
	}
	today := s.svc.Today()
	out := make([]issueOut, len(due))
	for i, issue := range due {
		out[i] = toIssueOut(issue, today)
	}
	return jsonResult(out, "issues")
}

// audit_send_reminder
func (s *Server) sendReminderTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("audit_send_reminder",
		mcp.WithDescription("Send a reminder for one issue now, regardless of policy. On success the issue's reminder count and last reminder date are updated."),
		mcp.WithString("issue_id", mcp.Required(), mcp.Description("Issue ID, e.g. AUDIT-0004")),
	)
	return tool, s.handleSendReminder
}

func (s *Server) handleSendReminder(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	issueID, err := request.RequireString("issue_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: issue_id"), nil
	}
	issue, err := s.svc.SendOne(ctx, issueID)
	if errors.Is(err, store.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("issue not found: %s", issueID)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("reminder not sent: %v", err)), nil
	}
	return jsonResult(toIssueOut(issue, s.svc.Today()), "issue")
}

// audit_send_overdue
func (s *Server) sendOverdueTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("audit_send_overdue",
		mcp.WithDescription("Send reminders for every open issue past its resolution date. Returns the sent IDs and any failures."),
	)
	return tool, s.handleSendOverdue
}

func (s *Server) handleSendOverdue(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := s.svc.SendOverdue(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("overdue sweep failed: %v", err)), nil
	}
	return jsonResult(res, "result")
}

// audit_send_due_soon
func (s *Server) sendDueSoonTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("audit_send_due_soon",
		mcp.WithDescription("Send reminders for every open issue due within the next N days (default 7)."),
		mcp.WithNumber("days", mcp.Description("Horizon in days (default 7)")),
	)
	return tool, s.handleSendDueSoon
}

func (s *Server) handleSendDueSoon(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	days := request.GetInt("days", health.DueSoonDays)
	if days < 0 {
		return mcp.NewToolResultError("days must be >= 0"), nil
	}
	res, err := s.svc.SendDueWithin(ctx, days)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("due-soon sweep failed: %v", err)), nil
	}
	return jsonResult(res, "result")
}

// audit_get_policy
func (s *Server) getPolicyTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("audit_get_policy",
		mcp.WithDescription("Return the reminder policy: the day offsets before a resolution date at which reminders fire, and whether each is enabled."),
	)
	return tool, s.handleGetPolicy
}

func (s *Server) handleGetPolicy(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cfg, err := s.svc.Policy()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load policy: %v", err)), nil
	}
	return jsonResult(cfg, "policy")
}

// audit_status
func (s *Server) statusTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("audit_status",
		mcp.WithDescription("Dashboard counts (open, overdue, due this week, ...) and a remediation score per team, worst first."),
	)
	return tool, s.handleStatus
}

func (s *Server) handleStatus(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	issues, err := s.svc.ListIssues(ctx, store.IssueListFilter{})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list issues: %v", err)), nil
	}
	today := s.svc.Today()
	return jsonResult(map[string]any{
		"date":    today.String(),
		"summary": health.Summarize(issues, today),
		"teams":   s.scorer.Teams(issues, today),
	}, "status")
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type issueOut struct {
	ID             string `json:"id"`
	Description    string `json:"description"`
	Team           string `json:"team"`
	TeamEmail      string `json:"team_email"`
	Priority       string `json:"priority"`
	Status         string `json:"status"`
	CreatedDate    string `json:"created_date"`
	ResolutionDate string `json:"resolution_date,omitempty"`
	DaysRemaining  *int   `json:"days_remaining,omitempty"`
	LastReminder   string `json:"last_reminder,omitempty"`
	ReminderCount  int    `json:"reminder_count"`
}

func toIssueOut(issue *models.Issue, today models.Date) issueOut {
	out := issueOut{
		ID:             issue.ID,
		Description:    issue.Description,
		Team:           issue.Team,
		TeamEmail:      issue.TeamEmail,
		Priority:       string(issue.Priority),
		Status:         string(issue.Status),
		CreatedDate:    issue.CreatedDate.String(),
		ResolutionDate: models.FormatDatePtr(issue.ResolutionDate, ""),
		LastReminder:   models.FormatDatePtr(issue.LastReminder, ""),
		ReminderCount:  issue.ReminderCount,
	}
	if issue.ResolutionDate != nil {
		d := today.DaysUntil(*issue.ResolutionDate)
		out.DaysRemaining = &d
	}
	return out
}

func patch(target *string, value string) {
	if value != "" {
		*target = value
	}
}

func jsonResult(v any, what string) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal %s: %v", what, err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
