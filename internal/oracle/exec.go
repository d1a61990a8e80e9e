package oracle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/log"

	"gadgets/internal/gadget"
	"gadgets/internal/logging"
)

// DefaultCommand is the udis86 invocation used for x86-64 AT&T output.
var DefaultCommand = []string{"udcli", "-64", "-x", "-att"}

// DefaultMarkers are the substrings udcli prints for undecodable bytes.
var DefaultMarkers = []string{"invalid"}

// ExecOptions configures an external oracle.
type ExecOptions struct {
	Command []string      // program and arguments; DefaultCommand when empty
	Markers []string      // invalid-opcode markers; DefaultMarkers when empty
	Timeout time.Duration // per window; zero disables the bound
	Logger  *log.Logger
}

// Exec runs an external disassembler once per window, feeding the window as
// a hex string on stdin and scanning stdout for invalid markers.
type Exec struct {
	path    string
	args    []string
	markers []string
	timeout time.Duration
	logger  *log.Logger
}

// NewExec resolves the oracle binary. A binary that cannot be found yields
// ErrUnavailable before any window is decoded.
func NewExec(opts ExecOptions) (*Exec, error) {
	command := opts.Command
	if len(command) == 0 {
		command = DefaultCommand
	}
	path, err := exec.LookPath(command[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	markers := opts.Markers
	if len(markers) == 0 {
		markers = DefaultMarkers
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	return &Exec{
		path:    path,
		args:    command[1:],
		markers: markers,
		timeout: opts.Timeout,
		logger:  logger,
	}, nil
}

func (e *Exec) Name() string {
	return "exec/" + strings.Join(append([]string{e.path}, e.args...), " ")
}

func (e *Exec) Decode(ctx context.Context, w gadget.Window) (Result, error) {
	cctx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(cctx, e.path, e.args...)
	cmd.Stdin = strings.NewReader(w.Hex() + "\n")
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	if err := cmd.Start(); err != nil {
		return rejected, fmt.Errorf("%w: failed to start %v: %v", ErrUnavailable, cmd.Args, err)
	}
	err := cmd.Wait()

	if ctx.Err() != nil {
		return rejected, ctx.Err()
	}
	if errors.Is(cctx.Err(), context.DeadlineExceeded) {
		e.logger.Debug("oracle timed out", "seq", w.Seq, "bytes", w.Hex(), "timeout", e.timeout)
		return rejected, nil
	}
	if err != nil {
		// The exit status is not part of the verdict; only the output is.
		e.logger.Debug("oracle exited with error", "seq", w.Seq, "bytes", w.Hex(), "error", err, "stderr", strings.TrimSpace(stderr.String()))
	}

	out := stdout.String()
	if out == "" || !utf8.ValidString(out) || e.invalid(out) {
		return rejected, nil
	}
	return accept(out), nil
}

func (e *Exec) invalid(out string) bool {
	for _, m := range e.markers {
		if m != "" && strings.Contains(out, m) {
			return true
		}
	}
	return false
}
