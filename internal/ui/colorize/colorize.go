// Package colorize highlights decoder output for terminals with chroma.
package colorize

import (
	"fmt"
	"os"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
)

// Disabled reports whether colour output was turned off with GADGETS_NO_COLOR.
func Disabled() bool {
	return os.Getenv("GADGETS_NO_COLOR") != ""
}

// getAssemblyLexer returns a lexer for the syntax flavour, with fallbacks.
func getAssemblyLexer(syntax string) chroma.Lexer {
	candidates := []string{"gas", "nasm"}
	if syntax == "intel" {
		candidates = []string{"nasm", "gas"}
	}
	for _, name := range candidates {
		if lexer := lexers.Get(name); lexer != nil {
			return lexer
		}
	}
	return nil
}

func getDisasmStyle() *chroma.Style {
	candidates := []string{"gadget-dark", "dracula", "monokai"}
	for _, name := range candidates {
		if style := styles.Get(name); style != nil {
			return style
		}
	}
	return styles.Fallback
}

func getTerminalFormatter() chroma.Formatter {
	candidates := []string{"terminal16m", "terminal256"}
	for _, name := range candidates {
		if formatter := formatters.Get(name); formatter != nil {
			return formatter
		}
	}
	return formatters.Fallback
}

// ColorizeAssembly highlights a block of assembly text. On any lexer or
// formatter failure the input is returned unchanged along with the error.
func ColorizeAssembly(code, syntax string) (string, error) {
	if Disabled() {
		return code, nil
	}
	lexer := getAssemblyLexer(syntax)
	if lexer == nil {
		return code, nil
	}

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return code, err
	}
	var buf strings.Builder
	if err := getTerminalFormatter().Format(&buf, getDisasmStyle(), iterator); err != nil {
		return code, err
	}
	return buf.String(), nil
}

// ColorizeGadget highlights one decoder block line by line. Lines in the
// udcli layout ("offset hexbytes instruction") get a grey offset, dim bytes
// and a highlighted instruction; other lines are highlighted as a whole.
func ColorizeGadget(block, syntax string) string {
	if Disabled() {
		return block
	}

	lines := strings.SplitAfter(block, "\n")
	var sb strings.Builder
	for _, line := range lines {
		if line == "" {
			continue
		}
		body := strings.TrimSuffix(line, "\n")
		sb.WriteString(colorizeLine(body, syntax))
		if len(body) != len(line) {
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

func colorizeLine(line, syntax string) string {
	fields := strings.Fields(line)
	if len(fields) < 3 || !isHex(fields[0]) || !isHex(fields[1]) {
		out, _ := ColorizeAssembly(line, syntax)
		return oneLine(out)
	}

	// Keep the original spacing between the columns.
	rest := strings.TrimPrefix(strings.TrimLeft(line, " "), fields[0])
	rest = strings.TrimLeft(rest, " ")
	rest = strings.TrimPrefix(rest, fields[1])
	pad := len(rest) - len(strings.TrimLeft(rest, " "))
	insn := strings.TrimLeft(rest, " ")

	asm, _ := ColorizeAssembly(insn, syntax)
	return fmt.Sprintf("\033[38;2;79;79;79m%s\033[0m \033[38;2;133;133;133m%s\033[0m%s%s",
		fields[0], fields[1], strings.Repeat(" ", pad), oneLine(asm))
}

// oneLine drops the newline some lexers append to their input.
func oneLine(s string) string {
	return strings.ReplaceAll(s, "\n", "")
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if !((ch >= '0' && ch <= '9') || (ch >= 'a' && ch <= 'f') || (ch >= 'A' && ch <= 'F')) {
			return false
		}
	}
	return true
}
