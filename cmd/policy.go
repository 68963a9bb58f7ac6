package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/joescharf/audit/internal/output"
	"github.com/joescharf/audit/internal/policy"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Show or change the reminder policy",
	Long: `The reminder policy lists day offsets before a resolution date on which a
reminder is sent. Changes are written to the policy file and picked up by a
running scheduler on its next cycle.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return policyShowRun()
	},
}

var policyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the reminder offsets",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return policyShowRun()
	},
}

var policyEnableCmd = &cobra.Command{
	Use:   "enable <days>",
	Short: "Enable (or add) a reminder offset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return policySetRun(args[0], true)
	},
}

var policyDisableCmd = &cobra.Command{
	Use:   "disable <days>",
	Short: "Disable a reminder offset without removing it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return policySetRun(args[0], false)
	},
}

var policyAddCmd = &cobra.Command{
	Use:   "add <days>",
	Short: "Add an enabled reminder offset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return policySetRun(args[0], true)
	},
}

var policyRemoveCmd = &cobra.Command{
	Use:     "remove <days>",
	Aliases: []string{"rm"},
	Short:   "Remove a reminder offset",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return policyRemoveRun(args[0])
	},
}

var policyResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Restore the default offsets (30, 14, 7, 3, 1, 0)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return policyResetRun()
	},
}

func init() {
	policyCmd.AddCommand(policyShowCmd)
	policyCmd.AddCommand(policyEnableCmd)
	policyCmd.AddCommand(policyDisableCmd)
	policyCmd.AddCommand(policyAddCmd)
	policyCmd.AddCommand(policyRemoveCmd)
	policyCmd.AddCommand(policyResetCmd)
	rootCmd.AddCommand(policyCmd)
}

func policyShowRun() error {
	path := policyPath()
	cfg, err := policy.LoadOrInit(path)
	if err != nil {
		return err
	}

	ui.Info("Policy file: %s", path)
	if len(cfg.Intervals) == 0 {
		ui.Warning("No reminder offsets configured; the scheduler will send nothing.")
		return nil
	}

	table := ui.Table([]string{"Days Before", "Enabled"})
	for _, o := range cfg.Normalize().Intervals {
		enabled := output.Red("no")
		if o.Enabled {
			enabled = output.Green("yes")
		}
		_ = table.Append([]string{strconv.Itoa(o.DayOffset), enabled})
	}
	_ = table.Render()
	return nil
}

func parseOffset(arg string) (int, error) {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return 0, fmt.Errorf("invalid offset %q: must be a whole number of days", arg)
	}
	if n < 0 {
		return 0, fmt.Errorf("invalid offset %d: must not be negative", n)
	}
	return n, nil
}

func policySetRun(arg string, enabled bool) error {
	offset, err := parseOffset(arg)
	if err != nil {
		return err
	}

	verb := "Enabled"
	if !enabled {
		verb = "Disabled"
	}
	if dryRun {
		ui.DryRunMsg("Would set offset %d enabled=%t", offset, enabled)
		return nil
	}

	if _, err := policy.Update(policyPath(), func(cfg *policy.Config) error {
		return cfg.Set(offset, enabled)
	}); err != nil {
		return err
	}
	ui.Success("%s reminder %d days before the resolution date", verb, offset)
	return nil
}

func policyRemoveRun(arg string) error {
	offset, err := parseOffset(arg)
	if err != nil {
		return err
	}
	if dryRun {
		ui.DryRunMsg("Would remove offset %d", offset)
		return nil
	}

	removed := false
	if _, err := policy.Update(policyPath(), func(cfg *policy.Config) error {
		removed = cfg.Remove(offset)
		return nil
	}); err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("offset %d is not in the policy", offset)
	}
	ui.Success("Removed reminder offset %d", offset)
	return nil
}

func policyResetRun() error {
	path := policyPath()
	if dryRun {
		ui.DryRunMsg("Would reset %s to the default offsets", path)
		return nil
	}
	if _, err := os.Stat(path); err == nil && !confirm("Replace the current policy with the defaults?") {
		ui.Info("Aborted.")
		return nil
	}
	if err := policy.Save(path, policy.Default()); err != nil {
		return err
	}
	ui.Success("Reminder policy reset to defaults")
	return nil
}
