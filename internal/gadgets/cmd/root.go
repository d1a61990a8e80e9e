package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	pathpkg "path/filepath"
	"runtime/pprof"

	tea "github.com/charmbracelet/bubbletea/v2"
	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"gadgets/internal/elfx"
	"gadgets/internal/gadget"
	glog "gadgets/internal/gadgets/log"
	"gadgets/internal/listing"
	"gadgets/internal/logging"
	"gadgets/internal/report"
	"gadgets/internal/scan"
	"gadgets/internal/ui/colorize"
)

var rootCmd = &cobra.Command{
	Use:   "gadgets [listing]",
	Short: "Find ROP gadgets in a disassembly listing",
	Long: `Gadgets finds return-oriented-programming gadgets. It reads an objdump
style listing (or an x86 ELF binary), splits the byte stream at every ret
opcode and prints every suffix window that decodes to a valid instruction
sequence.`,
	Example: `
# Scan an objdump listing with the builtin decoder
objdump -d ./prog > prog.asm && gadgets prog.asm

# Use udis86 as the oracle, as the original attack lab script does
gadgets --oracle "udcli -64 -x -att" prog.asm

# Browse gadgets interactively
gadgets --tui ./prog
  `,
	Args: cobra.ExactArgs(1),
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		debug, _ := cmd.Flags().GetBool("debug")
		glog.Setup(debug || logging.IsDebug())
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		// Arguments are valid by now; later failures are not usage errors.
		cmd.SilenceUsage = true

		cpuprofile, _ := cmd.Flags().GetString("cpuprofile")
		if cpuprofile != "" {
			f, err := os.Create(cpuprofile)
			if err != nil {
				return fmt.Errorf("could not create CPU profile: %v", err)
			}
			defer f.Close()
			if err := pprof.StartCPUProfile(f); err != nil {
				return fmt.Errorf("could not start CPU profile: %v", err)
			}
			defer pprof.StopCPUProfile()
		}

		memprofile, _ := cmd.Flags().GetString("memprofile")
		if memprofile != "" {
			defer func() {
				f, err := os.Create(memprofile)
				if err != nil {
					fmt.Fprintf(os.Stderr, "could not create memory profile: %v\n", err)
					return
				}
				defer f.Close()
				if err := pprof.WriteHeapProfile(f); err != nil {
					fmt.Fprintf(os.Stderr, "could not write memory profile: %v\n", err)
				}
			}()
		}

		cfg, err := Resolve(cmd)
		if err != nil {
			return err
		}
		if cfg.Debug {
			os.Setenv("GADGETS_LOG_LEVEL", "debug")
		}

		lg := logging.NewLogger()
		defer lg.Close()

		in, err := openInput(args[0], cfg, cmd.Flags().Changed("mode"))
		if err != nil {
			return err
		}
		dec, err := in.cfg.NewDecoder(lg.Logger)
		if err != nil {
			return err
		}
		scanner := &scan.Scanner{
			Decoder:   dec,
			Jobs:      in.cfg.Jobs,
			MaxWindow: in.cfg.MaxWindow,
			Strict:    in.strict(),
			Logger:    lg.Logger,
		}

		useTUI, _ := cmd.Flags().GetBool("tui")
		if useTUI {
			program := tea.NewProgram(
				newModel(cmd.Context(), in, scanner, dec.Name()),
				tea.WithAltScreen(),
				tea.WithContext(cmd.Context()),
			)
			final, err := program.Run()
			if err != nil {
				slog.Error("TUI run error", "error", err)
				return fmt.Errorf("TUI error: %v", err)
			}
			if m, ok := final.(model); ok && m.err != nil {
				return m.err
			}
			return nil
		}

		quiet, _ := cmd.Flags().GetBool("quiet")
		return runScan(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), in, scanner, dec.Name(), quiet)
	},
}

// input is the loaded byte streams plus the config adjusted for it. A
// listing is one stream; an ELF image has one per contiguous code range.
type input struct {
	path    string
	streams [][]gadget.Token
	cfg     Config
	kind    string // "listing", "elf" or "stdin"
}

// strict reports whether trailing bytes without a real terminator are
// dropped. Only listings get the synthesised terminator.
func (in *input) strict() bool {
	return in.kind == "elf"
}

// openInput reads the listing, stdin ("-") or an ELF binary. For ELF input
// the decoding mode follows the ELF class unless --mode was given.
func openInput(path string, cfg Config, modeSet bool) (*input, error) {
	if path == "-" {
		tokens, err := listing.Read(os.Stdin)
		if err != nil {
			return nil, err
		}
		return &input{path: path, streams: [][]gadget.Token{tokens}, cfg: cfg, kind: "stdin"}, nil
	}

	absPath, err := pathpkg.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %v", err)
	}
	fi, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("file not found: %s", path)
		}
		return nil, fmt.Errorf("cannot access file: %v", err)
	}
	if fi.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}

	if elfx.IsELF(absPath) {
		img, err := elfx.Open(absPath)
		if err != nil {
			return nil, err
		}
		defer img.Close()
		if !modeSet {
			cfg.Mode = img.Mode()
		}
		return &input{path: path, streams: img.Streams(), cfg: cfg, kind: "elf"}, nil
	}

	tokens, err := listing.ReadFile(absPath)
	if err != nil {
		return nil, err
	}
	return &input{path: path, streams: [][]gadget.Token{tokens}, cfg: cfg, kind: "listing"}, nil
}

// runScan scans the input and writes the report to stdout. The summary goes
// to stderr when stderr is a terminal.
func runScan(ctx context.Context, stdout, stderr io.Writer, in *input, scanner *scan.Scanner, decoder string, quiet bool) error {
	res, err := scanner.ScanStreams(ctx, in.streams)
	if err != nil {
		return err
	}

	format, err := report.ParseFormat(in.cfg.Format)
	if err != nil {
		return err
	}
	tty := isTerminal(stdout)
	width := 80
	if tty {
		if w, _, err := term.GetSize(os.Stdout.Fd()); err == nil && w > 0 {
			width = w
		}
	}
	opts := report.Options{
		Format:  format,
		Color:   tty && !colorize.Disabled(),
		Syntax:  in.cfg.Syntax,
		Width:   width,
		Input:   in.path,
		Decoder: decoder,
	}
	if err := report.Write(stdout, res, opts); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	if !quiet && isTerminal(stderr) {
		fmt.Fprintln(stderr, report.Summary(res.Stats))
	}
	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(f.Fd())
}

// addScanFlags registers the decoder flags shared by the root and decode
// commands.
func addScanFlags(cmd *cobra.Command) {
	def := DefaultConfig()
	cmd.Flags().String("decoder", def.Decoder, "Window decoder: builtin or exec")
	cmd.Flags().String("oracle", "", "External oracle command line (implies --decoder exec)")
	cmd.Flags().StringSlice("invalid-marker", def.InvalidMarkers, "Oracle output substring that rejects a window (repeatable)")
	cmd.Flags().String("syntax", def.Syntax, "Builtin decoder syntax: att, intel or go")
	cmd.Flags().Int("mode", def.Mode, "Builtin decoder CPU mode: 16, 32 or 64")
	cmd.Flags().Duration("timeout", 0, "Per-window oracle timeout (default 5s)")
}

// addReportFlags registers the flags that only apply to a full scan.
func addReportFlags(cmd *cobra.Command) {
	cmd.Flags().IntP("jobs", "j", 0, "Concurrent decode workers (default: number of CPUs)")
	cmd.Flags().Int("max-window", 0, "Maximum bytes before the ret opcode (0 = unlimited)")
	cmd.Flags().StringP("format", "f", string(report.FormatText), "Report format: text, json or markdown")
	cmd.Flags().BoolP("tui", "t", false, "Browse gadgets in an interactive terminal UI")
	cmd.Flags().BoolP("quiet", "q", false, "Do not print the summary line")
	cmd.Flags().String("cpuprofile", "", "Write CPU profile to file")
	cmd.Flags().String("memprofile", "", "Write memory profile to file")
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "JSON config file")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Debug")

	rootCmd.Flags().BoolP("help", "h", false, "Help")
	addScanFlags(rootCmd)
	addReportFlags(rootCmd)
}

func Execute() {
	// fang renders help and errors with styling; keep plain cobra when
	// output is piped.
	if !term.IsTerminal(os.Stdout.Fd()) {
		if err := rootCmd.Execute(); err != nil {
			os.Exit(1)
		}
		return
	}
	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		os.Exit(1)
	}
}
