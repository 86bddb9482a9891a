package cli

import (
	"bytes"
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/GradeSim/pkg/errors"
)

// writeConfig writes a config file with quiet logging and returns its path.
func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gradesim.yaml")
	body := "log:\n  level: error\n" + extra
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

// execute runs the command tree with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestNewRootCommand_Structure(t *testing.T) {
	cmd := NewRootCommand()
	assert.Equal(t, "gradesim", cmd.Use)

	var names []string
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	for _, want := range []string{"run", "predict", "sample", "serve", "collect", "runs", "cache", "migrate", "version"} {
		assert.Contains(t, names, want)
	}

	pf := cmd.PersistentFlags()
	for _, name := range []string{"config", "log-level", "output", "verbose"} {
		assert.NotNil(t, pf.Lookup(name), name)
	}
	assert.Equal(t, []string{"output.format"}, pf.Lookup("output").Annotations[configKeyAnnotation])
}

func TestFlagOverrides_OnlyChangedAnnotatedFlags(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.Int("outer-trials", 0, "")
	fs.Int("inner-trials", 0, "")
	fs.StringSlice("species", nil, "")
	fs.Bool("plain", false, "")
	bindConfigKey(fs, "outer-trials", "experiment.outer_trials")
	bindConfigKey(fs, "inner-trials", "experiment.inner_trials")
	bindConfigKey(fs, "species", "population.species")

	require.NoError(t, fs.Parse([]string{"--outer-trials", "7", "--species", "sugar_maple,yellow_birch", "--plain"}))

	assert.Equal(t, map[string]any{
		"experiment.outer_trials": "7",
		"population.species":      []string{"sugar_maple", "yellow_birch"},
	}, flagOverrides(fs))
}

func TestGetCLIContext_Missing(t *testing.T) {
	cmd := &cobra.Command{}
	_, err := GetCLIContext(cmd)
	assert.Error(t, err)

	cmd.SetContext(context.Background())
	_, err = GetCLIContext(cmd)
	assert.Error(t, err)
}

func TestInitConfig_FlagsOverrideFile(t *testing.T) {
	path := writeConfig(t, "experiment:\n  outer_trials: 5\n  inner_trials: 6\n")
	out, err := execute(t, "--config", path, "-o", "json", "sample", "--population-size", "12", "--sample-size", "4")
	require.NoError(t, err)
	assert.Contains(t, out, `"samples"`)

	_, err = execute(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "version")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config initialization failed")
}

func TestPrintError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"coded", errors.Configuration("n exceeds N"), "Error [SIM_001]: "},
		{"wrapped", errors.Wrap(errors.Exhaustion("gave up"), errors.CodeInternal, "run failed"), "Error [SIM_003]: "},
		{"plain", stderrors.New("boom"), "Error: boom"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cmd := &cobra.Command{}
			var buf bytes.Buffer
			cmd.SetErr(&buf)
			PrintError(cmd, tc.err)
			assert.True(t, strings.HasPrefix(buf.String(), tc.want), buf.String())
		})
	}

	cmd := &cobra.Command{}
	var buf bytes.Buffer
	cmd.SetErr(&buf)
	PrintError(cmd, nil)
	assert.Empty(t, buf.String())
}

func TestFormatTable(t *testing.T) {
	got := FormatTable([]string{"id", "value"}, [][]string{{"1", "long value"}, {"22"}})
	want := "" +
		"id  value     \n" +
		"--  ----------\n" +
		"1   long value\n" +
		"22            \n"
	assert.Equal(t, want, got)
	assert.Empty(t, FormatTable(nil, nil))
}

func TestPrintResult_Formats(t *testing.T) {
	info := buildInfo{Version: "1.0.0", Commit: "abc", BuildDate: "today"}

	out, err := execute(t, "--config", writeConfig(t, ""), "version")
	require.NoError(t, err)
	assert.Equal(t, "gradesim dev (commit: unknown, built: unknown)\n", out)

	cmd := &cobra.Command{}
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	require.NoError(t, PrintResult(cmd, info))
	assert.JSONEq(t, `{"version":"1.0.0","commit":"abc","build_date":"today"}`, buf.String())
}
