// Package report renders scan results as plain text, JSON or markdown.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ianlancetaylor/demangle"

	"gadgets/internal/gadget"
	"gadgets/internal/gadgets/styles"
	"gadgets/internal/scan"
	"gadgets/internal/ui/colorize"
)

type Format string

const (
	FormatText     Format = "text"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case FormatText, "":
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	case FormatMarkdown, "md":
		return FormatMarkdown, nil
	}
	return "", fmt.Errorf("unknown format %q (want text, json or markdown)", s)
}

// Options controls rendering.
type Options struct {
	Format  Format
	Color   bool   // terminal output: highlight text, render markdown
	Syntax  string // assembly flavour, picks the highlighting lexer
	Width   int    // wrap width for rendered markdown
	Input   string // reported input path
	Decoder string // reported decoder name
}

// JSONOutput is the machine readable report.
type JSONOutput struct {
	Input    string       `json:"input"`
	Decoder  string       `json:"decoder"`
	Runs     int          `json:"runs"`
	Windows  int          `json:"windows"`
	Accepted int          `json:"accepted"`
	Rejected int          `json:"rejected"`
	Gadgets  []GadgetJSON `json:"gadgets"`
}

type GadgetJSON struct {
	Seq     int    `json:"seq"`
	Address string `json:"address,omitempty"`
	Symbol  string `json:"symbol,omitempty"`
	Bytes   string `json:"bytes"`
	Text    string `json:"text"`
}

// Write renders res to w.
func Write(w io.Writer, res *scan.Result, opts Options) error {
	switch opts.Format {
	case FormatJSON:
		return writeJSON(w, res, opts)
	case FormatMarkdown:
		return writeMarkdown(w, res, opts)
	default:
		return writeText(w, res, opts)
	}
}

// writeText emits every gadget block followed by a blank line, the layout
// the udcli pipeline printed.
func writeText(w io.Writer, res *scan.Result, opts Options) error {
	var sb strings.Builder
	for _, g := range res.Gadgets {
		text := g.Text
		if opts.Color {
			text = colorize.ColorizeGadget(text, opts.Syntax)
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

func writeJSON(w io.Writer, res *scan.Result, opts Options) error {
	out := JSONOutput{
		Input:    opts.Input,
		Decoder:  opts.Decoder,
		Runs:     res.Stats.Runs,
		Windows:  res.Stats.Windows,
		Accepted: res.Stats.Accepted,
		Rejected: res.Stats.Rejected,
		Gadgets:  make([]GadgetJSON, 0, len(res.Gadgets)),
	}
	for _, g := range res.Gadgets {
		out.Gadgets = append(out.Gadgets, GadgetJSON{
			Seq:     g.Seq,
			Address: Address(g),
			Symbol:  Symbol(g.Symbol),
			Bytes:   g.Bytes,
			Text:    sanitizeForJSON(g.Text),
		})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// Markdown builds the markdown document for res.
func Markdown(res *scan.Result, opts Options) string {
	var sb strings.Builder
	sb.WriteString("# Gadgets\n\n")
	if opts.Input != "" {
		fmt.Fprintf(&sb, "Input `%s`, decoder `%s`.\n\n", opts.Input, opts.Decoder)
	}
	fmt.Fprintf(&sb, "**%d** gadgets from %d windows in %d runs.\n\n",
		res.Stats.Accepted, res.Stats.Windows, res.Stats.Runs)
	for _, g := range res.Gadgets {
		sb.WriteString(GadgetMarkdown(g))
		sb.WriteString("\n")
	}
	return sb.String()
}

// GadgetMarkdown renders one gadget as a heading plus a code block.
func GadgetMarkdown(g gadget.Gadget) string {
	var sb strings.Builder
	title := g.Bytes
	if addr := Address(g); addr != "" {
		title = addr + "  " + title
	}
	fmt.Fprintf(&sb, "### %s\n\n", title)
	if sym := Symbol(g.Symbol); sym != "" {
		fmt.Fprintf(&sb, "in `%s`\n\n", sym)
	}
	fmt.Fprintf(&sb, "```\n%s\n```\n", strings.TrimRight(g.Text, "\n"))
	return sb.String()
}

func writeMarkdown(w io.Writer, res *scan.Result, opts Options) error {
	md := Markdown(res, opts)
	if opts.Color {
		width := opts.Width
		if width <= 0 {
			width = 80
		}
		if r := styles.GetMarkdownRenderer(width); r != nil {
			if rendered, err := r.Render(md); err == nil {
				md = rendered
			}
		}
	}
	_, err := io.WriteString(w, md)
	return err
}

// Address formats the gadget address, or "" when the input had none.
func Address(g gadget.Gadget) string {
	if g.Addr == 0 {
		return ""
	}
	return fmt.Sprintf("%#x", g.Addr)
}

// Symbol demangles a C++ or Rust symbol; other names come back unchanged.
func Symbol(raw string) string {
	if raw == "" {
		return ""
	}
	return demangle.Filter(raw)
}

// Summary is the one-line scan summary shown on stderr.
func Summary(st scan.Stats) string {
	return fmt.Sprintf("%s gadgets %s %s windows in %s runs (%s)",
		styles.Count.Render(fmt.Sprint(st.Accepted)),
		styles.Muted.Render("from"),
		styles.Count.Render(fmt.Sprint(st.Windows)),
		styles.Count.Render(fmt.Sprint(st.Runs)),
		styles.Muted.Render(st.Elapsed.Round(time.Millisecond).String()))
}

// sanitizeForJSON cleans a string to be valid UTF-8 and safe for JSON encoding
func sanitizeForJSON(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	return strings.ToValidUTF8(s, "�")
}
