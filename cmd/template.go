package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joescharf/audit/internal/notify"
	"github.com/joescharf/audit/internal/output"
)

var templateCmd = &cobra.Command{
	Use:   "template",
	Short: "Show or edit the reminder message template",
	Long: `The reminder template is plain text with {{PLACEHOLDER}} fields.

Available placeholders: ` + "{{" + strings.Join(notify.Placeholders, "}}, {{") + "}}",
	RunE: func(cmd *cobra.Command, args []string) error {
		return templateShowRun()
	},
}

var templateShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current template",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return templateShowRun()
	},
}

var templatePathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the template file path",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintln(ui.Out, templateFile().Path)
		return nil
	},
}

var templateResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Restore the default template",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return templateResetRun()
	},
}

var templateEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open the template in $EDITOR",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return templateEditRun()
	},
}

var templatePreviewCmd = &cobra.Command{
	Use:   "preview <issue-id>",
	Short: "Render the reminder an issue would receive today",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return templatePreviewRun(args[0])
	},
}

func init() {
	templateCmd.AddCommand(templateShowCmd)
	templateCmd.AddCommand(templatePathCmd)
	templateCmd.AddCommand(templateResetCmd)
	templateCmd.AddCommand(templateEditCmd)
	templateCmd.AddCommand(templatePreviewCmd)
	rootCmd.AddCommand(templateCmd)
}

func templateShowRun() error {
	text, err := templateFile().Template()
	if err != nil {
		return err
	}
	fmt.Fprint(ui.Out, text)
	return nil
}

func templateResetRun() error {
	tf := templateFile()
	if dryRun {
		ui.DryRunMsg("Would restore the default template at %s", tf.Path)
		return nil
	}
	if !confirm("Replace the current template with the default?") {
		ui.Info("Aborted.")
		return nil
	}
	if err := tf.Reset(); err != nil {
		return err
	}
	ui.Success("Template reset: %s", tf.Path)
	return nil
}

func templateEditRun() error {
	editor, err := editorCommand()
	if err != nil {
		return err
	}

	tf := templateFile()
	// Materialize the default so the editor opens something useful.
	if _, err := tf.Template(); err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would open %s in %s", tf.Path, editor)
		return nil
	}
	return openEditor(editor, tf.Path)
}

func templatePreviewRun(id string) error {
	svc, err := getService()
	if err != nil {
		return err
	}

	issue, err := findIssue(cmdContext(), svc, id)
	if err != nil {
		return err
	}

	msg, err := notify.NewFormatter(templateFile()).Format(issue, svc.Today())
	if err != nil {
		return err
	}

	fmt.Fprintf(ui.Out, "%s %s\n", output.Cyan("To:"), msg.To)
	fmt.Fprintf(ui.Out, "%s %s\n\n", output.Cyan("Subject:"), msg.Subject)
	fmt.Fprint(ui.Out, msg.Body)
	return nil
}
