package cmd

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/audit/internal/llm"
	"github.com/joescharf/audit/internal/models"
	"github.com/joescharf/audit/internal/output"
	"github.com/joescharf/audit/internal/reminder"
	"github.com/joescharf/audit/internal/store"
)

// csvHeader is the spreadsheet layout shared by import and export.
var csvHeader = []string{
	"ID", "Description", "Team", "Team_Email", "Priority", "Status",
	"Created_Date", "Resolution_Date", "Last_Reminder", "Reminder_Count",
}

var (
	importLLM          bool
	importDefaultEmail string
)

var issueImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import issues from a CSV sheet or an audit report",
	Long: `Import issues from a CSV file with the spreadsheet columns

  ID, Description, Team, Team_Email, Priority, Status, Created_Date,
  Resolution_Date, Last_Reminder, Reminder_Count

Only Description, Team and Team_Email are required; other columns may be
missing. Rows that fail validation are skipped with a warning. Rows with an
ID keep it; rows without one get the next sequential ID.

With --llm, the file is a free-text audit report and findings are extracted
with Claude. Requires ANTHROPIC_API_KEY or anthropic.api_key in config.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueImportRun(args[0])
	},
}

func init() {
	issueImportCmd.Flags().BoolVar(&importLLM, "llm", false, "Extract findings from a free-text report with an LLM")
	issueImportCmd.Flags().StringVar(&importDefaultEmail, "default-email", "", "Team email for extracted findings that name none")
	issueCmd.AddCommand(issueImportCmd)
}

// rowError records a CSV row that was skipped.
type rowError struct {
	Line int
	Err  error
}

func issueImportRun(file string) error {
	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return fmt.Errorf("file is empty: %s", file)
	}

	svc, err := getService()
	if err != nil {
		return err
	}
	ctx := cmdContext()

	if importLLM {
		return importWithLLM(ctx, svc, string(data))
	}

	issues, rowErrs, err := parseIssueCSV(strings.NewReader(string(data)), svc.Today())
	if err != nil {
		return err
	}
	for _, re := range rowErrs {
		ui.Warning("Skipping line %d: %v", re.Line, re.Err)
	}
	if len(issues) == 0 {
		ui.Info("No importable rows found.")
		return nil
	}

	renderIssueTable(issues, svc.Today())
	if dryRun {
		ui.DryRunMsg("Would import %d issues", len(issues))
		return nil
	}
	return storeImported(ctx, svc, issues, len(rowErrs))
}

// parseIssueCSV reads the spreadsheet layout. Columns are matched by name,
// case-insensitively, and may appear in any order or be missing.
func parseIssueCSV(r io.Reader, today models.Date) ([]*models.Issue, []rowError, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[normalizeColumn(h)] = i
	}
	for _, required := range []string{"description", "team", "team_email"} {
		if _, ok := cols[required]; !ok {
			return nil, nil, fmt.Errorf("missing required column %q", required)
		}
	}

	var (
		issues  []*models.Issue
		rowErrs []rowError
	)
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				rowErrs = append(rowErrs, rowError{Line: pe.Line, Err: pe.Err})
				continue
			}
			return nil, nil, fmt.Errorf("read csv: %w", err)
		}
		line, _ := cr.FieldPos(0)
		get := func(col string) string {
			if i, ok := cols[col]; ok && i < len(rec) {
				return strings.TrimSpace(rec[i])
			}
			return ""
		}
		if strings.Join(rec, "") == "" {
			continue
		}

		issue, err := issueFromRow(get, today)
		if err != nil {
			rowErrs = append(rowErrs, rowError{Line: line, Err: err})
			continue
		}
		issues = append(issues, issue)
	}
	return issues, rowErrs, nil
}

func normalizeColumn(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.TrimPrefix(h, "\ufeff")
	return strings.NewReplacer(" ", "_", "-", "_").Replace(h)
}

func issueFromRow(get func(string) string, today models.Date) (*models.Issue, error) {
	in := models.IssueInput{
		Description:    get("description"),
		Team:           get("team"),
		TeamEmail:      get("team_email"),
		Priority:       strings.ToLower(get("priority")),
		Status:         get("status"),
		ResolutionDate: get("resolution_date"),
	}
	if in.Priority == "" {
		in.Priority = classifyFindingPriority(in.Description)
	}

	issue := &models.Issue{
		ID:          get("id"),
		Status:      models.IssueStatusOpen,
		Priority:    models.IssuePriorityMedium,
		CreatedDate: today,
	}
	if err := in.ApplyTo(issue); err != nil {
		return nil, err
	}

	if v := get("created_date"); v != "" {
		d, err := models.ParseDate(v)
		if err != nil {
			return nil, fmt.Errorf("created_date: %w", err)
		}
		issue.CreatedDate = d
	}
	if v := get("last_reminder"); v != "" {
		d, err := models.ParseDate(v)
		if err != nil {
			return nil, fmt.Errorf("last_reminder: %w", err)
		}
		issue.LastReminder = &d
	}
	if v := get("reminder_count"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("reminder_count: invalid value %q", v)
		}
		issue.ReminderCount = n
	}
	return issue, nil
}

// storeImported writes parsed issues one by one; a rejected row (for
// example a duplicate ID) is reported and skipped.
func storeImported(ctx context.Context, svc *reminder.Service, issues []*models.Issue, skipped int) error {
	created := 0
	for _, issue := range issues {
		label := issue.ID
		if label == "" {
			label = truncate(issue.Description, 40)
		}
		if err := svc.ImportIssue(ctx, issue); err != nil {
			ui.Warning("Failed to import %s: %v", label, err)
			skipped++
			continue
		}
		created++
	}

	ui.Success("Imported %d issues", created)
	if skipped > 0 {
		ui.Warning("Skipped %d rows", skipped)
	}
	return nil
}

// importWithLLM extracts findings from a free-text report.
func importWithLLM(ctx context.Context, svc *reminder.Service, content string) error {
	extractor := newExtractor()
	if extractor == nil {
		return fmt.Errorf("ANTHROPIC_API_KEY not set (set env var or anthropic.api_key in config)")
	}

	teams, err := knownTeams(ctx, svc)
	if err != nil {
		return err
	}

	ui.Info("Extracting findings with LLM (%s)...", viper.GetString("anthropic.model"))
	findings, err := extractor.ExtractFindings(ctx, content, teams, svc.Today().String())
	if err != nil {
		return fmt.Errorf("extract findings: %w", err)
	}
	if len(findings) == 0 {
		ui.Info("No findings extracted from file.")
		return nil
	}

	table := ui.Table([]string{"#", "Team", "Description", "Priority", "Due", "Email"})
	var issues []*models.Issue
	skipped := 0
	for i, f := range findings {
		issue, err := issueFromFinding(f, svc.Today())
		if err != nil {
			ui.Warning("Skipping finding %d (%s): %v", i+1, truncate(f.Description, 40), err)
			skipped++
			continue
		}
		issues = append(issues, issue)
		_ = table.Append([]string{
			strconv.Itoa(i + 1),
			issue.Team,
			truncate(issue.Description, 48),
			output.PriorityColor(string(issue.Priority)),
			models.FormatDatePtr(issue.ResolutionDate, "-"),
			issue.TeamEmail,
		})
	}
	_ = table.Render()

	if dryRun {
		ui.DryRunMsg("Would create %d issues", len(issues))
		return nil
	}
	return storeImported(ctx, svc, issues, skipped)
}

func issueFromFinding(f llm.ExtractedFinding, today models.Date) (*models.Issue, error) {
	in := models.IssueInput{
		Description:    f.Description,
		Team:           f.Team,
		TeamEmail:      f.TeamEmail,
		Priority:       f.Priority,
		ResolutionDate: f.ResolutionDate,
	}
	if in.TeamEmail == "" {
		in.TeamEmail = importDefaultEmail
	}
	if _, err := models.ParsePriority(in.Priority); err != nil {
		in.Priority = classifyFindingPriority(f.Description)
	}
	// A deadline the model could not read is dropped rather than failing the finding.
	if _, err := models.ParseDate(in.ResolutionDate); err != nil {
		in.ResolutionDate = ""
	}

	issue := &models.Issue{
		Status:      models.IssueStatusOpen,
		Priority:    models.IssuePriorityMedium,
		CreatedDate: today,
	}
	if err := in.ApplyTo(issue); err != nil {
		return nil, err
	}
	return issue, nil
}

// knownTeams lists distinct team names already in the store.
func knownTeams(ctx context.Context, svc *reminder.Service) ([]string, error) {
	issues, err := svc.ListIssues(ctx, store.IssueListFilter{})
	if err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}
	seen := make(map[string]bool)
	var teams []string
	for _, i := range issues {
		if i.Team != "" && !seen[i.Team] {
			seen[i.Team] = true
			teams = append(teams, i.Team)
		}
	}
	sort.Strings(teams)
	return teams, nil
}
