package cmd

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/audit/internal/models"
	"github.com/joescharf/audit/internal/output"
)

// testEnv sets up isolated config dir, viper, output and a fresh store for testing.
func testEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	// Override configDirFunc for tests
	origFunc := configDirFunc
	configDirFunc = func() (string, error) { return dir, nil }
	t.Cleanup(func() { configDirFunc = origFunc })

	// Reset viper
	viper.Reset()
	setDefaults(dir)
	viper.Set("notify.sender", "log")

	// Drop shared deps from a previous test
	resetDeps()
	t.Cleanup(resetDeps)

	// Initialize output, discarding writes
	ui = output.New()
	ui.Out = io.Discard
	ui.ErrOut = io.Discard

	dryRun = false
	assumeYes = true

	return dir
}

func resetDeps() {
	if dataStore != nil {
		_ = dataStore.Close()
	}
	dataStore = nil
	service = nil
}

// seedIssue creates an open issue due dueIn days from today.
func seedIssue(t *testing.T, team string, dueIn int) *models.Issue {
	t.Helper()
	svc, err := getService()
	require.NoError(t, err)

	issue, err := svc.CreateIssue(cmdContext(), models.IssueInput{
		Description:    "Finding for " + team,
		Team:           team,
		TeamEmail:      "team@example.com",
		Priority:       "medium",
		ResolutionDate: svc.Today().AddDays(dueIn).String(),
	})
	require.NoError(t, err)
	return issue
}

func TestConfigInit_CreatesFile(t *testing.T) {
	dir := testEnv(t)

	err := configInitRun()
	require.NoError(t, err)

	cfgPath := filepath.Join(dir, "config.yaml")
	_, err = os.Stat(cfgPath)
	assert.NoError(t, err, "config file should exist")

	data, err := os.ReadFile(cfgPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "audit configuration")
	assert.Contains(t, string(data), "interval: \"1h0m0s\"")
	assert.Contains(t, string(data), "id_prefix: \"AUDIT\"")
}

func TestConfigInit_RefusesOverwrite(t *testing.T) {
	dir := testEnv(t)

	// Create existing file
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("existing"), 0644))

	configForce = false
	err := configInitRun()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestConfigInit_ForceOverwrite(t *testing.T) {
	dir := testEnv(t)

	// Create existing file
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("existing"), 0644))

	configForce = true
	t.Cleanup(func() { configForce = false })
	err := configInitRun()
	require.NoError(t, err)

	data, err := os.ReadFile(cfgPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "audit configuration")
}

func TestConfigInit_OutputParsesAsYAML(t *testing.T) {
	dir := testEnv(t)
	require.NoError(t, configInitRun())

	values := readConfigFileValues(filepath.Join(dir, "config.yaml"))
	assert.True(t, values["scheduler.interval"])
	assert.True(t, values["notify.sender"])
	assert.True(t, values["port"])
	assert.False(t, values["db_path"], "commented keys stay out of the file")
}

func TestConfigShow_NoFile(t *testing.T) {
	testEnv(t)

	err := configShowRun()
	assert.NoError(t, err)
}

func TestConfigShow_WithFile(t *testing.T) {
	testEnv(t)

	// Create config first
	require.NoError(t, configInitRun())

	err := configShowRun()
	assert.NoError(t, err)
}

func TestConfigEdit_NoEditor(t *testing.T) {
	testEnv(t)

	t.Setenv("EDITOR", "")
	t.Setenv("VISUAL", "")

	err := configEditRun()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "$EDITOR is not set")
}

func TestConfigEdit_NoConfigFile(t *testing.T) {
	testEnv(t)

	t.Setenv("EDITOR", "echo") // harmless command

	err := configEditRun()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestDetectSource(t *testing.T) {
	fileValues := map[string]bool{"key_a": true}

	// From env
	t.Setenv("AUDIT_TEST_KEY", "val")
	assert.Contains(t, detectSource("test_key", "AUDIT_TEST_KEY", fileValues), "env")

	// From file
	assert.Contains(t, detectSource("key_a", "AUDIT_KEY_A_NONEXISTENT", fileValues), "file")

	// Default
	assert.Contains(t, detectSource("key_b", "AUDIT_KEY_B_NONEXISTENT", fileValues), "default")
}

func TestFlattenKeys(t *testing.T) {
	input := map[string]any{
		"top": "val",
		"nested": map[string]any{
			"a": "1",
			"b": "2",
		},
	}

	result := make(map[string]bool)
	flattenKeys("", input, result)

	assert.True(t, result["top"])
	assert.True(t, result["nested.a"])
	assert.True(t, result["nested.b"])
	assert.False(t, result["nested"])
}

func TestConfigInit_DryRun(t *testing.T) {
	dir := testEnv(t)
	dryRun = true
	ui.DryRun = true
	defer func() { dryRun = false }()

	err := configInitRun()
	require.NoError(t, err)

	// File should NOT have been created
	cfgPath := filepath.Join(dir, "config.yaml")
	_, err = os.Stat(cfgPath)
	assert.True(t, os.IsNotExist(err), "config file should not exist in dry-run mode")
}

func TestEnvOverridesNestedKey(t *testing.T) {
	testEnv(t)
	t.Setenv("AUDIT_SCHEDULER_INTERVAL", "15m")

	initConfig()
	assert.Equal(t, "15m", viper.GetString("scheduler.interval"))
}
