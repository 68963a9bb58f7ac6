package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joescharf/audit/internal/models"
	"github.com/joescharf/audit/internal/output"
	"github.com/joescharf/audit/internal/policy"
	"github.com/joescharf/audit/internal/reminder"
	"github.com/joescharf/audit/internal/store"
)

var (
	assumeYes  bool
	remindDays int
	remindTo   string
	logLimit   int
)

var remindCmd = &cobra.Command{
	Use:   "remind",
	Short: "Send reminders and inspect reminder history",
	Long: `Send reminders to issue owners.

'remind run' performs one scheduled cycle: it reads the policy and sends to
every open issue whose days remaining match an enabled offset and that has
not been reminded today. The other send commands ignore the policy and the
once-per-day rule.`,
}

var remindSendCmd = &cobra.Command{
	Use:   "send <issue-id>",
	Short: "Send a reminder for one issue now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return remindSendRun(args[0])
	},
}

var remindOverdueCmd = &cobra.Command{
	Use:   "overdue",
	Short: "Remind every open issue past its resolution date",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return remindSweepRun(models.TriggerOverdue)
	},
}

var remindWeekCmd = &cobra.Command{
	Use:   "week",
	Short: "Remind every open issue due within the next days",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return remindSweepRun(models.TriggerDueSoon)
	},
}

var remindDueCmd = &cobra.Command{
	Use:   "due",
	Short: "Preview the issues the scheduler would remind today",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return remindDueRun()
	},
}

var remindRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one scheduler cycle in the foreground",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return remindRunRun()
	},
}

var remindTestCmd = &cobra.Command{
	Use:   "test",
	Short: "Send a test message to check the mail handler",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return remindTestRun()
	},
}

var remindLogCmd = &cobra.Command{
	Use:   "log [issue-id]",
	Short: "Show reminder history",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var id string
		if len(args) == 1 {
			id = args[0]
		}
		return remindLogRun(id)
	},
}

func init() {
	remindOverdueCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Skip confirmation")
	remindWeekCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Skip confirmation")
	remindWeekCmd.Flags().IntVar(&remindDays, "days", 7, "Horizon in days")
	remindTestCmd.Flags().StringVar(&remindTo, "to", "", "Recipient address (required)")
	_ = remindTestCmd.MarkFlagRequired("to")
	remindLogCmd.Flags().IntVar(&logLimit, "limit", 20, "Maximum entries to show")

	remindCmd.AddCommand(remindSendCmd)
	remindCmd.AddCommand(remindOverdueCmd)
	remindCmd.AddCommand(remindWeekCmd)
	remindCmd.AddCommand(remindDueCmd)
	remindCmd.AddCommand(remindRunCmd)
	remindCmd.AddCommand(remindTestCmd)
	remindCmd.AddCommand(remindLogCmd)
	rootCmd.AddCommand(remindCmd)
}

func remindSendRun(id string) error {
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
		ui.DryRunMsg("Would remind %s <%s> about %s", issue.Team, issue.TeamEmail, issue.ID)
		return nil
	}

	sent, err := svc.SendOne(ctx, issue.ID)
	if err != nil {
		return fmt.Errorf("send reminder for %s: %w", issue.ID, err)
	}
	ui.Success("Reminder #%d for %s handed to %s", sent.ReminderCount, output.Cyan(sent.ID), sent.TeamEmail)
	return nil
}

// remindSweepRun handles the ungated bulk sends: overdue and due-within.
func remindSweepRun(trigger models.ReminderTrigger) error {
	svc, err := getService()
	if err != nil {
		return err
	}
	ctx := cmdContext()

	if trigger == models.TriggerDueSoon && remindDays < 0 {
		return fmt.Errorf("--days must not be negative")
	}

	issues, err := svc.ListIssues(ctx, store.IssueListFilter{Status: models.IssueStatusOpen})
	if err != nil {
		return err
	}
	today := svc.Today()

	var selected []*models.Issue
	var label string
	if trigger == models.TriggerOverdue {
		selected = policy.SelectOverdue(issues, today)
		label = "overdue"
	} else {
		selected = policy.SelectDueWithin(issues, today, remindDays)
		label = fmt.Sprintf("due within %d days", remindDays)
	}

	if len(selected) == 0 {
		ui.Info("No open issues %s.", label)
		return nil
	}
	renderIssueTable(selected, today)

	if dryRun {
		ui.DryRunMsg("Would send %d reminders", len(selected))
		return nil
	}
	if !confirm(fmt.Sprintf("Send reminders for %d issues %s?", len(selected), label)) {
		ui.Info("Aborted.")
		return nil
	}

	var res reminder.BatchResult
	if trigger == models.TriggerOverdue {
		res, err = svc.SendOverdue(ctx)
	} else {
		res, err = svc.SendDueWithin(ctx, remindDays)
	}
	if err != nil {
		return err
	}
	printBatch(res)
	return nil
}

func remindDueRun() error {
	svc, err := getService()
	if err != nil {
		return err
	}

	due, err := svc.DuePreview(cmdContext())
	if err != nil {
		return err
	}
	if len(due) == 0 {
		ui.Info("No reminders due today.")
		return nil
	}
	renderIssueTable(due, svc.Today())
	return nil
}

func remindRunRun() error {
	svc, err := getService()
	if err != nil {
		return err
	}

	if dryRun {
		due, err := svc.DuePreview(cmdContext())
		if err != nil {
			return err
		}
		ui.DryRunMsg("Would send %d scheduled reminders", len(due))
		return nil
	}

	res, err := svc.RunCycle(cmdContext())
	if err != nil {
		return err
	}
	printBatch(res)
	return nil
}

func remindTestRun() error {
	svc, err := getService()
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would send a test message to %s", remindTo)
		return nil
	}
	if err := svc.SendTest(cmdContext(), remindTo); err != nil {
		return err
	}
	ui.Success("Test message handed to the mail handler for %s", remindTo)
	return nil
}

func remindLogRun(id string) error {
	svc, err := getService()
	if err != nil {
		return err
	}
	ctx := cmdContext()

	if id != "" {
		issue, err := findIssue(ctx, svc, id)
		if err != nil {
			return err
		}
		id = issue.ID
	}

	entries, err := svc.ReminderHistory(ctx, id, logLimit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		ui.Info("No reminders logged.")
		return nil
	}

	table := ui.Table([]string{"Date", "Issue", "Trigger", "Recipient", "Outcome"})
	for _, e := range entries {
		_ = table.Append([]string{
			e.SentOn.String(),
			output.Cyan(e.IssueID),
			string(e.Trigger),
			e.Recipient,
			logOutcome(e),
		})
	}
	_ = table.Render()
	return nil
}

// printBatch reports a batch as "Sent N of M" plus one line per failure.
func printBatch(res reminder.BatchResult) {
	if res.Selected == 0 {
		ui.Info("No reminders due.")
		return
	}
	if len(res.Failures) == 0 {
		ui.Success("%s", res.Summary())
		return
	}
	ui.Warning("%s", res.Summary())
	for _, f := range res.Failures {
		ui.Error("%s: %s", f.IssueID, f.Error)
	}
}

func logOutcome(e *models.ReminderLog) string {
	if e.Success {
		return output.Green("sent")
	}
	return output.Red("failed: " + e.Error)
}

// confirm asks a yes/no question on stdin unless --yes was given.
func confirm(question string) bool {
	if assumeYes {
		return true
	}
	fmt.Fprintf(ui.Out, "%s [y/N] ", question)
	line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}
