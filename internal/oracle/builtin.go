package oracle

import (
	"context"
	"fmt"

	"gadgets/internal/disasm"
	"gadgets/internal/gadget"
)

// Builtin decodes windows in-process, avoiding one process spawn per window.
type Builtin struct {
	mode   int
	syntax disasm.Syntax
}

// NewBuiltin returns a decoder for the given CPU mode (16, 32 or 64).
func NewBuiltin(mode int, syntax disasm.Syntax) (*Builtin, error) {
	switch mode {
	case 16, 32, 64:
	default:
		return nil, fmt.Errorf("unsupported cpu mode %d", mode)
	}
	if syntax == "" {
		syntax = disasm.SyntaxATT
	}
	return &Builtin{mode: mode, syntax: syntax}, nil
}

func (b *Builtin) Name() string {
	return fmt.Sprintf("builtin/x86-%d/%s", b.mode, b.syntax)
}

// Decode accepts the window iff every byte belongs to a decodable
// instruction.
func (b *Builtin) Decode(ctx context.Context, w gadget.Window) (Result, error) {
	if err := ctx.Err(); err != nil {
		return rejected, err
	}
	code, err := w.Bytes()
	if err != nil {
		return rejected, nil
	}
	s, err := disasm.Decode(code, b.mode, b.syntax)
	if err != nil {
		return rejected, nil
	}
	return accept(s.String()), nil
}
