// Package disasm decodes x86 machine code into a simple instruction stream
// using golang.org/x/arch/x86/x86asm.
package disasm

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/arch/x86/x86asm"
)

// Syntax selects the assembly flavour of Inst.Text.
type Syntax string

const (
	SyntaxATT   Syntax = "att"
	SyntaxIntel Syntax = "intel"
	SyntaxGo    Syntax = "go"
)

// ParseSyntax validates a syntax name.
func ParseSyntax(s string) (Syntax, error) {
	switch Syntax(strings.ToLower(s)) {
	case SyntaxATT, "gnu":
		return SyntaxATT, nil
	case SyntaxIntel:
		return SyntaxIntel, nil
	case SyntaxGo, "plan9":
		return SyntaxGo, nil
	}
	return "", fmt.Errorf("unknown syntax %q (want att, intel or go)", s)
}

// ErrIncomplete is returned when an instruction runs past the input or
// consists of prefixes only.
var ErrIncomplete = errors.New("instruction truncated")

// Inst is a simplified decoded instruction.
type Inst struct {
	Off  uint64 // offset from the start of the decoded buffer
	Raw  []byte // encoding
	Op   string // mnemonic in lowercase
	Text string // formatted disassembly
}

// Stream is a linear sequence of instructions.
type Stream []Inst

// String renders the stream one instruction per line, in the layout of
// udcli -x: offset, hex bytes, then the instruction text.
func (s Stream) String() string {
	var sb strings.Builder
	for _, in := range s {
		fmt.Fprintf(&sb, "%016x %-16s %s\n", in.Off, hex.EncodeToString(in.Raw), in.Text)
	}
	return sb.String()
}

// Decode sweeps code linearly in the given CPU mode (16, 32 or 64). Every byte
// must belong to a decodable instruction: an unknown opcode or a trailing
// partial instruction fails the whole buffer.
func Decode(code []byte, mode int, syntax Syntax) (Stream, error) {
	var out Stream
	for off := 0; off < len(code); {
		inst, err := x86asm.Decode(code[off:], mode)
		if err != nil {
			if errors.Is(err, x86asm.ErrTruncated) {
				return nil, fmt.Errorf("offset %d: %w", off, ErrIncomplete)
			}
			return nil, fmt.Errorf("offset %d: %w", off, err)
		}
		// x86asm reports a truncated instruction as a lone prefix byte
		// with no opcode.
		if inst.Op == 0 || inst.Len == 0 || off+inst.Len > len(code) {
			return nil, fmt.Errorf("offset %d: %w", off, ErrIncomplete)
		}
		out = append(out, Inst{
			Off:  uint64(off),
			Raw:  code[off : off+inst.Len],
			Op:   strings.ToLower(inst.Op.String()),
			Text: format(inst, uint64(off), syntax),
		})
		off += inst.Len
	}
	return out, nil
}

func format(inst x86asm.Inst, pc uint64, syntax Syntax) string {
	switch syntax {
	case SyntaxIntel:
		return x86asm.IntelSyntax(inst, pc, nil)
	case SyntaxGo:
		return x86asm.GoSyntax(inst, pc, nil)
	default:
		return x86asm.GNUSyntax(inst, pc, nil)
	}
}
