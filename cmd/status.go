package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/joescharf/audit/internal/health"
	"github.com/joescharf/audit/internal/models"
	"github.com/joescharf/audit/internal/output"
	"github.com/joescharf/audit/internal/store"
)

const recentIssues = 8

var statusTeams bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the issue dashboard",
	Long: `Show issue counts by status, overdue and due-this-week totals, and the
most recently added issues. With --teams, also score each team's
remediation record.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return statusRun()
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusTeams, "teams", false, "Show per-team scores")
	rootCmd.AddCommand(statusCmd)
}

func statusRun() error {
	svc, err := getService()
	if err != nil {
		return err
	}
	ctx := cmdContext()

	issues, err := svc.ListIssues(ctx, store.IssueListFilter{})
	if err != nil {
		return err
	}

	if len(issues) == 0 {
		ui.Info("No issues tracked. Use 'audit issue add' or 'audit issue import' to get started.")
		return nil
	}

	today := svc.Today()
	sum := health.Summarize(issues, today)

	fmt.Fprintf(ui.Out, "Audit issues as of %s\n\n", today)
	fmt.Fprintf(ui.Out, "  Total:          %d\n", sum.Total)
	fmt.Fprintf(ui.Out, "  Open:           %s\n", output.Yellow(strconv.Itoa(sum.Open)))
	fmt.Fprintf(ui.Out, "  In progress:    %s\n", output.Cyan(strconv.Itoa(sum.InProgress)))
	fmt.Fprintf(ui.Out, "  Resolved:       %s\n", output.Green(strconv.Itoa(sum.Resolved)))
	fmt.Fprintf(ui.Out, "  Closed:         %d\n", sum.Closed)
	fmt.Fprintf(ui.Out, "  Overdue:        %s\n", countColor(sum.Overdue, output.Red))
	fmt.Fprintf(ui.Out, "  Due this week:  %s\n", countColor(sum.DueThisWeek, output.Yellow))
	if sum.NoDeadline > 0 {
		fmt.Fprintf(ui.Out, "  No deadline:    %d\n", sum.NoDeadline)
	}
	fmt.Fprintln(ui.Out)

	if due, err := svc.DuePreview(ctx); err != nil {
		ui.Warning("Could not evaluate reminder policy: %v", err)
	} else if len(due) > 0 {
		ui.Info("%d reminders due today (run 'audit remind run')", len(due))
		fmt.Fprintln(ui.Out)
	}

	fmt.Fprintln(ui.Out, "Recent issues:")
	renderIssueTable(health.Recent(issues, recentIssues), today)

	if statusTeams {
		fmt.Fprintln(ui.Out)
		renderTeamScores(issues, today)
	}
	return nil
}

func renderTeamScores(issues []*models.Issue, today models.Date) {
	scores := health.NewScorer().Teams(issues, today)

	table := ui.Table([]string{"Team", "Issues", "Unresolved", "Overdue", "Open High", "Score"})
	for _, ts := range scores {
		_ = table.Append([]string{
			ts.Team,
			strconv.Itoa(ts.Total),
			strconv.Itoa(ts.Unresolved),
			countColor(ts.Overdue, output.Red),
			strconv.Itoa(ts.OpenHigh),
			output.ScoreColor(ts.Score),
		})
	}
	_ = table.Render()
}

// countColor highlights non-zero counts.
func countColor(n int, color func(string) string) string {
	s := strconv.Itoa(n)
	if n == 0 {
		return s
	}
	return color(s)
}
