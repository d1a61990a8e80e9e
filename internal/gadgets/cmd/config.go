package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"gadgets/internal/disasm"
	"gadgets/internal/oracle"
	"gadgets/internal/report"
)

const (
	decoderBuiltin = "builtin"
	decoderExec    = "exec"
)

// Config is the gadgets configuration. Values come from defaults, then the
// --config file, then GADGETS_* environment variables, then explicit flags.
type Config struct {
	Decoder        string   `json:"decoder,omitempty" jsonschema:"title=Decoder,description=Window decoder: builtin (in-process x86) or exec (external oracle),enum=builtin,enum=exec,default=builtin"`
	Oracle         []string `json:"oracle,omitempty" jsonschema:"title=Oracle Command,description=External oracle program and arguments used by the exec decoder"`
	InvalidMarkers []string `json:"invalidMarkers,omitempty" jsonschema:"title=Invalid Markers,description=Substrings of oracle output that reject a window"`
	Syntax         string   `json:"syntax,omitempty" jsonschema:"title=Syntax,description=Assembly syntax of the builtin decoder,enum=att,enum=intel,enum=go,default=att"`
	Mode           int      `json:"mode,omitempty" jsonschema:"title=CPU Mode,description=x86 decoding mode of the builtin decoder,enum=16,enum=32,enum=64,default=64"`
	Jobs           int      `json:"jobs,omitempty" jsonschema:"title=Jobs,description=Concurrent decode workers (0 = number of CPUs)"`
	Timeout        string   `json:"timeout,omitempty" jsonschema:"title=Timeout,description=Per-window oracle timeout as a Go duration,default=5s"`
	MaxWindow      int      `json:"maxWindow,omitempty" jsonschema:"title=Max Window,description=Maximum bytes taken before the return opcode (0 = unlimited)"`
	Format         string   `json:"format,omitempty" jsonschema:"title=Format,description=Report format,enum=text,enum=json,enum=markdown,default=text"`
	Debug          bool     `json:"debug,omitempty" jsonschema:"title=Debug,description=Enable debug logging"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Decoder:        decoderBuiltin,
		Oracle:         append([]string(nil), oracle.DefaultCommand...),
		InvalidMarkers: append([]string(nil), oracle.DefaultMarkers...),
		Syntax:         string(disasm.SyntaxATT),
		Mode:           64,
		Jobs:           runtime.NumCPU(),
		Timeout:        "5s",
		Format:         string(report.FormatText),
	}
}

// LoadConfig reads a JSON config file on top of the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// applyEnv overrides the config from GADGETS_* variables.
func (c *Config) applyEnv() error {
	if v := os.Getenv("GADGETS_DECODER"); v != "" {
		c.Decoder = v
	}
	if v := os.Getenv("GADGETS_ORACLE"); v != "" {
		c.Oracle = strings.Fields(v)
	}
	if v := os.Getenv("GADGETS_JOBS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid GADGETS_JOBS %q: %w", v, err)
		}
		c.Jobs = n
	}
	return nil
}

// applyFlags copies the flags the user set explicitly.
func (c *Config) applyFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("decoder") {
		c.Decoder, _ = flags.GetString("decoder")
	}
	if flags.Changed("oracle") {
		v, _ := flags.GetString("oracle")
		c.Oracle = strings.Fields(v)
		// Naming an oracle implies using it.
		if !flags.Changed("decoder") {
			c.Decoder = decoderExec
		}
	}
	if flags.Changed("invalid-marker") {
		c.InvalidMarkers, _ = flags.GetStringSlice("invalid-marker")
	}
	if flags.Changed("syntax") {
		c.Syntax, _ = flags.GetString("syntax")
	}
	if flags.Changed("mode") {
		c.Mode, _ = flags.GetInt("mode")
	}
	if flags.Changed("jobs") {
		c.Jobs, _ = flags.GetInt("jobs")
	}
	if flags.Changed("timeout") {
		d, _ := flags.GetDuration("timeout")
		c.Timeout = d.String()
	}
	if flags.Changed("max-window") {
		c.MaxWindow, _ = flags.GetInt("max-window")
	}
	if flags.Changed("format") {
		c.Format, _ = flags.GetString("format")
	}
	if flags.Changed("debug") {
		c.Debug, _ = flags.GetBool("debug")
	}
}

// Resolve builds the effective config for a command invocation.
func Resolve(cmd *cobra.Command) (Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := LoadConfig(path)
	if err != nil {
		return cfg, err
	}
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	cfg.applyFlags(cmd)
	return cfg, cfg.Validate()
}

// Validate checks the values that cannot be checked by their types.
func (c Config) Validate() error {
	switch c.Decoder {
	case decoderBuiltin, decoderExec:
	default:
		return fmt.Errorf("unknown decoder %q (want %s or %s)", c.Decoder, decoderBuiltin, decoderExec)
	}
	if c.Decoder == decoderExec && len(c.Oracle) == 0 {
		return fmt.Errorf("exec decoder needs an oracle command")
	}
	if _, err := disasm.ParseSyntax(c.Syntax); err != nil {
		return err
	}
	switch c.Mode {
	case 16, 32, 64:
	default:
		return fmt.Errorf("unsupported cpu mode %d (want 16, 32 or 64)", c.Mode)
	}
	if c.Jobs < 0 {
		return fmt.Errorf("jobs must not be negative")
	}
	if c.MaxWindow < 0 {
		return fmt.Errorf("max-window must not be negative")
	}
	if _, err := c.timeout(); err != nil {
		return err
	}
	if _, err := report.ParseFormat(c.Format); err != nil {
		return err
	}
	return nil
}

func (c Config) timeout() (time.Duration, error) {
	if c.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout %q: %w", c.Timeout, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("timeout must not be negative")
	}
	return d, nil
}

// NewDecoder builds the configured oracle. For the exec decoder a missing
// binary is reported here, once, as oracle.ErrUnavailable.
func (c Config) NewDecoder(logger *log.Logger) (oracle.Decoder, error) {
	if c.Decoder == decoderExec {
		timeout, err := c.timeout()
		if err != nil {
			return nil, err
		}
		return oracle.NewExec(oracle.ExecOptions{
			Command: c.Oracle,
			Markers: c.InvalidMarkers,
			Timeout: timeout,
			Logger:  logger,
		})
	}
	syntax, err := disasm.ParseSyntax(c.Syntax)
	if err != nil {
		return nil, err
	}
	return oracle.NewBuiltin(c.Mode, syntax)
}
