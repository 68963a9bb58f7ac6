package cmd

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joescharf/audit/internal/health"
	"github.com/joescharf/audit/internal/models"
	"github.com/joescharf/audit/internal/policy"
	"github.com/joescharf/audit/internal/store"
)

var reportFormat string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export issues as JSON, CSV, or Markdown",
	Long: `Export every issue in the chosen format.

The CSV layout uses the same columns 'audit issue import' reads, so an
export can be edited in a spreadsheet and imported into another store.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return exportRun()
	},
}

func init() {
	exportCmd.Flags().StringVar(&reportFormat, "format", "json", "Output format: json, csv, markdown")
	exportCmd.Flags().StringVar(&issueStatus, "status", "", "Only issues with this status")
	rootCmd.AddCommand(exportCmd)
}

func exportRun() error {
	svc, err := getService()
	if err != nil {
		return err
	}

	filter := store.IssueListFilter{}
	if issueStatus != "" {
		s, err := models.ParseStatus(issueStatus)
		if err != nil {
			return err
		}
		filter.Status = s
	}

	issues, err := svc.ListIssues(cmdContext(), filter)
	if err != nil {
		return err
	}

	switch reportFormat {
	case "json":
		enc := json.NewEncoder(ui.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(issues)
	case "csv":
		return writeIssuesCSV(ui.Out, issues)
	case "markdown", "md":
		writeIssuesMarkdown(ui.Out, issues, svc.Today())
		return nil
	default:
		return fmt.Errorf("unknown format: %s (use: json, csv, markdown)", reportFormat)
	}
}

// writeIssuesCSV writes issues using the import column layout.
func writeIssuesCSV(out io.Writer, issues []*models.Issue) error {
	w := csv.NewWriter(out)
	if err := w.Write(csvHeader); err != nil {
		return err
	}
	for _, i := range issues {
		_ = w.Write([]string{
			i.ID,
			i.Description,
			i.Team,
			i.TeamEmail,
			spreadsheetLabel(string(i.Priority)),
			spreadsheetLabel(string(i.Status)),
			i.CreatedDate.String(),
			models.FormatDatePtr(i.ResolutionDate, ""),
			models.FormatDatePtr(i.LastReminder, ""),
			fmt.Sprintf("%d", i.ReminderCount),
		})
	}
	w.Flush()
	return w.Error()
}

func writeIssuesMarkdown(out io.Writer, issues []*models.Issue, today models.Date) {
	sum := health.Summarize(issues, today)

	fmt.Fprintln(out, "# Audit Issues")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "As of %s: %d issues, %d open, %d in progress, %d overdue.\n",
		today, sum.Total, sum.Open, sum.InProgress, sum.Overdue)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "| ID | Team | Description | Priority | Status | Due | Days | Reminders |")
	fmt.Fprintln(out, "|----|------|-------------|----------|--------|-----|------|-----------|")
	for _, i := range issues {
		days := "-"
		if d, ok := policy.DaysRemaining(i, today); ok {
			days = fmt.Sprintf("%d", d)
		}
		fmt.Fprintf(out, "| %s | %s | %s | %s | %s | %s | %s | %d |\n",
			i.ID, mdEscape(i.Team), mdEscape(i.Description), i.Priority, i.Status,
			models.FormatDatePtr(i.ResolutionDate, "-"), days, i.ReminderCount)
	}
}

// spreadsheetLabel renders "in_progress" as "In Progress".
func spreadsheetLabel(s string) string {
	words := strings.Split(s, "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

func mdEscape(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}
