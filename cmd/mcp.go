package cmd

import (
	"github.com/spf13/cobra"

	"github.com/joescharf/audit/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server for Claude Code integration",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This lets an assistant query and update the issue register and send
reminders. Configure it with:

  {
    "mcpServers": {
      "audit": { "command": "audit", "args": ["mcp"] }
    }
  }

Available tools: audit_list_issues, audit_create_issue, audit_update_issue,
audit_due_reminders, audit_send_reminder, audit_send_overdue,
audit_send_due_soon, audit_get_policy, audit_status`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := getService()
		if err != nil {
			return err
		}
		return mcp.NewServer(svc, buildVersion).ServeStdio(cmdContext())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
