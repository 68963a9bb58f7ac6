package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/audit/internal/models"
	"github.com/joescharf/audit/internal/output"
	"github.com/joescharf/audit/internal/policy"
	"github.com/joescharf/audit/internal/reminder"
	"github.com/joescharf/audit/internal/store"
)

var (
	issueDesc     string
	issueTeam     string
	issueEmail    string
	issuePriority string
	issueStatus   string
	issueDue      string
	issueClearDue bool
	issueOverdue  bool
	issueTeamF    string
)

var issueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Manage audit issues",
	Long:  "Track audit findings, the team responsible and the agreed resolution date.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueListRun()
	},
}

var issueAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a new issue",
	Long: `Add a new audit issue. The issue starts Open with the next sequential ID.

Description, team, team email and resolution date (YYYY-MM-DD) are required.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueAddRun()
	},
}

var issueListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List issues",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueListRun()
	},
}

var issueShowCmd = &cobra.Command{
	Use:   "show <issue-id>",
	Short: "Show issue details and reminder history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueShowRun(args[0])
	},
}

var issueUpdateCmd = &cobra.Command{
	Use:   "update <issue-id>",
	Short: "Update an issue",
	Long: `Update the editable fields of an issue. Flags not given keep their value.
Reminder count and last reminder date are never changed by an edit.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueUpdateRun(cmd, args[0])
	},
}

var issueDeleteCmd = &cobra.Command{
	Use:     "delete <issue-id>",
	Aliases: []string{"rm"},
	Short:   "Delete an issue",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueDeleteRun(args[0])
	},
}

var issueResolveCmd = &cobra.Command{
	Use:   "resolve <issue-id>",
	Short: "Mark an issue resolved",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueSetStatusRun(args[0], models.IssueStatusResolved)
	},
}

var issueCloseCmd = &cobra.Command{
	Use:   "close <issue-id>",
	Short: "Close an issue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueSetStatusRun(args[0], models.IssueStatusClosed)
	},
}

func init() {
	issueAddCmd.Flags().StringVar(&issueDesc, "desc", "", "Issue description (required)")
	issueAddCmd.Flags().StringVar(&issueTeam, "team", "", "Responsible team (required)")
	issueAddCmd.Flags().StringVar(&issueEmail, "email", "", "Team email address (required)")
	issueAddCmd.Flags().StringVar(&issuePriority, "priority", "medium", "Priority: low, medium, high")
	issueAddCmd.Flags().StringVar(&issueDue, "due", "", "Resolution date YYYY-MM-DD (required)")

	issueListCmd.Flags().StringVar(&issueStatus, "status", "", "Filter by status: open, in_progress, resolved, closed")
	issueListCmd.Flags().StringVar(&issuePriority, "priority", "", "Filter by priority")
	issueListCmd.Flags().StringVar(&issueTeamF, "team", "", "Filter by team")
	issueListCmd.Flags().BoolVar(&issueOverdue, "overdue", false, "Only open issues past their resolution date")

	issueDeleteCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Skip confirmation")

	issueUpdateCmd.Flags().StringVar(&issueDesc, "desc", "", "New description")
	issueUpdateCmd.Flags().StringVar(&issueTeam, "team", "", "New team")
	issueUpdateCmd.Flags().StringVar(&issueEmail, "email", "", "New team email")
	issueUpdateCmd.Flags().StringVar(&issuePriority, "priority", "", "New priority")
	issueUpdateCmd.Flags().StringVar(&issueStatus, "status", "", "New status")
	issueUpdateCmd.Flags().StringVar(&issueDue, "due", "", "New resolution date YYYY-MM-DD")
	issueUpdateCmd.Flags().BoolVar(&issueClearDue, "clear-due", false, "Remove the resolution date")

	issueCmd.AddCommand(issueAddCmd)
	issueCmd.AddCommand(issueListCmd)
	issueCmd.AddCommand(issueShowCmd)
	issueCmd.AddCommand(issueUpdateCmd)
	issueCmd.AddCommand(issueDeleteCmd)
	issueCmd.AddCommand(issueResolveCmd)
	issueCmd.AddCommand(issueCloseCmd)
	rootCmd.AddCommand(issueCmd)
}

func issueAddRun() error {
	svc, err := getService()
	if err != nil {
		return err
	}
	ctx := cmdContext()

	in := models.IssueInput{
		Description:    issueDesc,
		Team:           issueTeam,
		TeamEmail:      issueEmail,
		Priority:       issuePriority,
		ResolutionDate: issueDue,
	}

	if dryRun {
		if err := in.ValidateNew(); err != nil {
			return err
		}
		ui.DryRunMsg("Would add issue for %s due %s: %s", issueTeam, issueDue, issueDesc)
		return nil
	}

	issue, err := svc.CreateIssue(ctx, in)
	if err != nil {
		return fmt.Errorf("create issue: %w", err)
	}

	ui.Success("Created issue %s for %s (due %s)", output.Cyan(issue.ID), issue.Team,
		models.FormatDatePtr(issue.ResolutionDate, "-"))
	return nil
}

func issueListRun() error {
	svc, err := getService()
	if err != nil {
		return err
	}
	ctx := cmdContext()

	filter, err := issueListFilter()
	if err != nil {
		return err
	}

	issues, err := svc.ListIssues(ctx, filter)
	if err != nil {
		return err
	}

	today := svc.Today()
	if issueOverdue {
		issues = policy.SelectOverdue(issues, today)
	}

	if len(issues) == 0 {
		ui.Info("No issues found.")
		return nil
	}

	renderIssueTable(issues, today)
	return nil
}

func issueListFilter() (store.IssueListFilter, error) {
	filter := store.IssueListFilter{Team: issueTeamF}
	if issueStatus != "" {
		s, err := models.ParseStatus(issueStatus)
		if err != nil {
			return filter, err
		}
		filter.Status = s
	}
	if issuePriority != "" {
		p, err := models.ParsePriority(issuePriority)
		if err != nil {
			return filter, err
		}
		filter.Priority = p
	}
	return filter, nil
}

// renderIssueTable prints the standard issue listing.
func renderIssueTable(issues []*models.Issue, today models.Date) {
	table := ui.Table([]string{"ID", "Team", "Description", "Priority", "Status", "Due", "Days", "Reminders"})
	for _, issue := range issues {
		days, ok := policy.DaysRemaining(issue, today)
		_ = table.Append([]string{
			output.Cyan(issue.ID),
			issue.Team,
			truncate(issue.Description, 48),
			output.PriorityColor(string(issue.Priority)),
			output.StatusColor(string(issue.Status)),
			models.FormatDatePtr(issue.ResolutionDate, "-"),
			output.DaysColor(days, ok),
			strconv.Itoa(issue.ReminderCount),
		})
	}
	_ = table.Render()
}

func issueShowRun(id string) error {
	svc, err := getService()
	if err != nil {
		return err
	}
	ctx := cmdContext()

	issue, err := findIssue(ctx, svc, id)
	if err != nil {
		return err
	}
	days, ok := policy.DaysRemaining(issue, svc.Today())

	fmt.Fprintf(ui.Out, "%s  %s\n", output.Cyan(issue.ID), issue.Description)
	fmt.Fprintf(ui.Out, "  Team:       %s <%s>\n", issue.Team, issue.TeamEmail)
	fmt.Fprintf(ui.Out, "  Status:     %s\n", output.StatusColor(string(issue.Status)))
	fmt.Fprintf(ui.Out, "  Priority:   %s\n", output.PriorityColor(string(issue.Priority)))
	fmt.Fprintf(ui.Out, "  Created:    %s\n", issue.CreatedDate)
	fmt.Fprintf(ui.Out, "  Due:        %s (%s)\n", models.FormatDatePtr(issue.ResolutionDate, "-"), output.DaysColor(days, ok))
	fmt.Fprintf(ui.Out, "  Reminders:  %d (last %s)\n", issue.ReminderCount, models.FormatDatePtr(issue.LastReminder, "never"))

	entries, err := svc.ReminderHistory(ctx, issue.ID, 5)
	if err != nil {
		ui.Warning("Could not read reminder log: %v", err)
		return nil
	}
	if len(entries) > 0 {
		fmt.Fprintln(ui.Out)
		fmt.Fprintln(ui.Out, "  Recent reminders:")
		for _, e := range entries {
			fmt.Fprintf(ui.Out, "    %s  %-9s  %s\n", e.SentOn, e.Trigger, logOutcome(e))
		}
	}
	return nil
}

func issueUpdateRun(cmd *cobra.Command, id string) error {
	svc, err := getService()
	if err != nil {
		return err
	}
	ctx := cmdContext()

	issue, err := findIssue(ctx, svc, id)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if !flags.Changed("desc") && !flags.Changed("team") && !flags.Changed("email") &&
		!flags.Changed("priority") && !flags.Changed("status") && !flags.Changed("due") && !issueClearDue {
		return fmt.Errorf("no updates specified (use --desc, --team, --email, --priority, --status, --due or --clear-due)")
	}
	if issueClearDue && flags.Changed("due") {
		return fmt.Errorf("--due and --clear-due are mutually exclusive")
	}

	apply := func(target *models.Issue) error {
		in := models.InputFromIssue(target)
		if flags.Changed("desc") {
			in.Description = issueDesc
		}
		if flags.Changed("team") {
			in.Team = issueTeam
		}
		if flags.Changed("email") {
			in.TeamEmail = issueEmail
		}
		if flags.Changed("priority") {
			in.Priority = issuePriority
		}
		if flags.Changed("status") {
			in.Status = issueStatus
		}
		if flags.Changed("due") {
			in.ResolutionDate = issueDue
		}
		if issueClearDue {
			in.ResolutionDate = ""
		}
		return in.ApplyTo(target)
	}

	if dryRun {
		if err := apply(issue.Clone()); err != nil {
			return err
		}
		ui.DryRunMsg("Would update issue %s", issue.ID)
		return nil
	}

	if _, err := svc.UpdateIssue(ctx, issue.ID, apply); err != nil {
		return fmt.Errorf("update issue: %w", err)
	}

	ui.Success("Updated issue %s", output.Cyan(issue.ID))
	return nil
}

func issueDeleteRun(id string) error {
	svc, err := getService()
	if err != nil {
		return err
	}
	ctx := cmdContext()

	issue, err := findIssue(ctx, svc, id)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would delete issue %s: %s", issue.ID, issue.Description)
		return nil
	}
	if !confirm(fmt.Sprintf("Delete issue %s?", issue.ID)) {
		ui.Info("Aborted.")
		return nil
	}

	if err := svc.DeleteIssue(ctx, issue.ID); err != nil {
		return fmt.Errorf("delete issue: %w", err)
	}
	ui.Success("Deleted issue %s", output.Cyan(issue.ID))
	return nil
}

func issueSetStatusRun(id string, status models.IssueStatus) error {
	svc, err := getService()
	if err != nil {
		return err
	}
	ctx := cmdContext()

	issue, err := findIssue(ctx, svc, id)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would mark issue %s %s", issue.ID, status)
		return nil
	}

	if _, err := svc.SetStatus(ctx, issue.ID, status); err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	ui.Success("Issue %s is now %s", output.Cyan(issue.ID), output.StatusColor(string(status)))
	return nil
}

// findIssue finds an issue by full ID or by its sequence number, so "7"
// and "audit-7" both resolve to AUDIT-0007.
func findIssue(ctx context.Context, svc *reminder.Service, id string) (*models.Issue, error) {
	ref := strings.TrimSpace(id)
	issue, err := svc.GetIssue(ctx, ref)
	if err == nil {
		return issue, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	prefix := viper.GetString("id_prefix")
	num := ref
	if len(ref) > len(prefix) && strings.EqualFold(ref[:len(prefix)+1], prefix+"-") {
		num = ref[len(prefix)+1:]
	}
	if n, convErr := strconv.Atoi(num); convErr == nil && n > 0 {
		if issue, err := svc.GetIssue(ctx, store.FormatIssueID(prefix, n)); err == nil {
			return issue, nil
		}
	}
	return nil, fmt.Errorf("issue not found: %s", id)
}

// truncate shortens s to n runes for table display.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
