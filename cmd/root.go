package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/audit/internal/notify"
	"github.com/joescharf/audit/internal/output"
	"github.com/joescharf/audit/internal/policy"
	"github.com/joescharf/audit/internal/reminder"
	"github.com/joescharf/audit/internal/store"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	dataStore store.Store
	service   *reminder.Service

	verbose bool
	dryRun  bool

	buildVersion = "dev"
	buildCommit  = "none"
	buildDate    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit issue tracker - deadlines, reminders and team follow-up",
	Long: `audit tracks audit findings assigned to teams and reminds each team
as its resolution date approaches.

Reminders fire on the configured day offsets before a deadline, at most
once per issue per day. Run 'audit serve' to keep the scheduler running.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date
	rootCmd.Version = fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return rootRun(cmd)
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would happen without making changes")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/audit/config.yaml)")
}

func initConfig() {
	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		dir, err := configDirFunc()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}
		viper.AddConfigPath(dir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("AUDIT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	defaultDir, _ := configDirFunc()
	setDefaults(defaultDir)

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

// setDefaults registers every config key's default relative to stateDir.
func setDefaults(stateDir string) {
	viper.SetDefault("state_dir", stateDir)
	viper.SetDefault("db_path", filepath.Join(stateDir, "audit.db"))
	viper.SetDefault("policy_file", filepath.Join(stateDir, "policy.yaml"))
	viper.SetDefault("template_file", filepath.Join(stateDir, "email_template.txt"))
	viper.SetDefault("id_prefix", store.DefaultIDPrefix)
	viper.SetDefault("scheduler.interval", reminder.DefaultInterval.String())
	viper.SetDefault("notify.sender", "mailto")
	viper.SetDefault("notify.opener", "")
	viper.SetDefault("port", 8080)
	viper.SetDefault("anthropic.api_key", "")
	viper.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun

	// Store and service are opened lazily so config/version commands run
	// without a database.
}

// rootRun handles `audit` with no subcommand: show the dashboard.
func rootRun(cmd *cobra.Command) error {
	if _, err := getService(); err != nil {
		return cmd.Help()
	}
	return statusRun()
}

// getStore returns the shared store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	s = s.WithIDPrefix(viper.GetString("id_prefix"))

	if err := s.Migrate(cmdContext()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}

// getService returns the shared reminder service, opening the store on
// first use.
func getService() (*reminder.Service, error) {
	if service != nil {
		return service, nil
	}
	svc, err := newService(slog.Default())
	if err != nil {
		return nil, err
	}
	service = svc
	return service, nil
}

func newService(logger *slog.Logger) (*reminder.Service, error) {
	s, err := getStore()
	if err != nil {
		return nil, err
	}

	sender, err := notify.NewSender(viper.GetString("notify.sender"), viper.GetString("notify.opener"), logger)
	if err != nil {
		return nil, err
	}

	formatter := notify.NewFormatter(templateFile())
	return reminder.NewService(s, policy.FileSource{Path: policyPath()}, formatter, sender,
		reminder.WithLogger(logger),
	), nil
}

func policyPath() string {
	return viper.GetString("policy_file")
}

func templateFile() notify.TemplateFile {
	return notify.TemplateFile{Path: viper.GetString("template_file")}
}

func cmdContext() context.Context {
	if ctx := rootCmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
