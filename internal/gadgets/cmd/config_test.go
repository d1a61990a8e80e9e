package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

// newTestCommand mirrors the root command flags on a fresh command so each
// test parses its own arguments.
func newTestCommand(run func(*cobra.Command, []string) error) *cobra.Command {
	c := &cobra.Command{
		Use:           "gadgets-test",
		RunE:          run,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	c.Flags().String("config", "", "")
	c.Flags().BoolP("debug", "d", false, "")
	addScanFlags(c)
	addReportFlags(c)
	return c
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"GADGETS_DECODER", "GADGETS_ORACLE", "GADGETS_JOBS"} {
		t.Setenv(k, "")
	}
}

func resolveArgs(t *testing.T, args ...string) (Config, error) {
	t.Helper()
	c := newTestCommand(nil)
	require.NoError(t, c.ParseFlags(args))
	return Resolve(c)
}

func TestResolveDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := resolveArgs(t)
	require.NoError(t, err)
	if diff := cmp.Diff(DefaultConfig(), cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestResolvePrecedence(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "gadgets.json")
	data := `{"decoder": "exec", "oracle": ["udcli", "-32"], "jobs": 3, "syntax": "intel", "maxWindow": 6}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := resolveArgs(t, "--config", path)
	require.NoError(t, err)
	require.Equal(t, "exec", cfg.Decoder)
	require.Equal(t, []string{"udcli", "-32"}, cfg.Oracle)
	require.Equal(t, 3, cfg.Jobs)
	require.Equal(t, "intel", cfg.Syntax)
	require.Equal(t, 6, cfg.MaxWindow)

	t.Setenv("GADGETS_JOBS", "5")
	cfg, err = resolveArgs(t, "--config", path)
	require.NoError(t, err)
	require.Equal(t, 5, cfg.Jobs)

	cfg, err = resolveArgs(t, "--config", path, "-j", "7", "--decoder", "builtin", "--max-window", "2")
	require.NoError(t, err)
	require.Equal(t, 7, cfg.Jobs)
	require.Equal(t, "builtin", cfg.Decoder)
	require.Equal(t, 2, cfg.MaxWindow)
}

func TestResolveOracleImpliesExec(t *testing.T) {
	clearEnv(t)
	cfg, err := resolveArgs(t, "--oracle", "objdump-oracle -x", "--invalid-marker", "bad", "--invalid-marker", "(bad)", "--timeout", "250ms")
	require.NoError(t, err)
	require.Equal(t, "exec", cfg.Decoder)
	require.Equal(t, []string{"objdump-oracle", "-x"}, cfg.Oracle)
	require.Equal(t, []string{"bad", "(bad)"}, cfg.InvalidMarkers)
	require.Equal(t, "250ms", cfg.Timeout)

	t.Setenv("GADGETS_ORACLE", "udcli -16 -x")
	cfg, err = resolveArgs(t, "--decoder", "exec")
	require.NoError(t, err)
	require.Equal(t, []string{"udcli", "-16", "-x"}, cfg.Oracle)
}

func TestResolveInvalid(t *testing.T) {
	clearEnv(t)
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"decoder", []string{"--decoder", "bogus"}, "unknown decoder"},
		{"mode", []string{"--mode", "48"}, "unsupported cpu mode"},
		{"jobs", []string{"--jobs", "-1"}, "jobs must not be negative"},
		{"max window", []string{"--max-window", "-3"}, "max-window"},
		{"syntax", []string{"--syntax", "masm"}, "masm"},
		{"format", []string{"--format", "xml"}, "xml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := resolveArgs(t, tt.args...)
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestResolveEnvJobsInvalid(t *testing.T) {
	clearEnv(t)
	t.Setenv("GADGETS_JOBS", "many")
	_, err := resolveArgs(t)
	require.ErrorContains(t, err, "GADGETS_JOBS")
}

func TestLoadConfigErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadConfig(filepath.Join(dir, "missing.json"))
	require.ErrorContains(t, err, "failed to read config")

	unknown := filepath.Join(dir, "unknown.json")
	require.NoError(t, os.WriteFile(unknown, []byte(`{"decoders": "exec"}`), 0o644))
	_, err = LoadConfig(unknown)
	require.ErrorContains(t, err, "failed to parse config")

	timeout := filepath.Join(dir, "timeout.json")
	require.NoError(t, os.WriteFile(timeout, []byte(`{"timeout": "soon"}`), 0o644))
	cfg, err := LoadConfig(timeout)
	require.NoError(t, err)
	require.ErrorContains(t, cfg.Validate(), "invalid timeout")
}

func TestConfigSchema(t *testing.T) {
	bts, err := configSchema()
	require.NoError(t, err)
	schema := string(bts)
	for _, field := range []string{`"decoder"`, `"oracle"`, `"invalidMarkers"`, `"maxWindow"`} {
		if !strings.Contains(schema, field) {
			t.Errorf("schema missing %s", field)
		}
	}
}
