// Package gadget holds the core ROP gadget model: the token stream taken from a
// listing, the runs delimited by return opcodes and the suffix windows that are
// handed to a decoder.
package gadget

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Terminator is the return opcode that ends every gadget.
const Terminator = "c3"

// Token is one machine-code byte as it appeared in the input.
type Token struct {
	Hex    string // two lowercase hex digits
	Addr   uint64 // virtual address, 0 when unknown
	Symbol string // enclosing symbol as written in the input
}

// IsTerminator reports whether the token is the return opcode.
func (t Token) IsTerminator() bool {
	return t.Hex == Terminator
}

// Run is a non-empty span of bytes that precedes a terminator.
type Run struct {
	Tokens []Token
	Ret    Token
	// Terminated is false for a trailing run that hit the end of the stream;
	// its Ret is synthesised.
	Terminated bool
}

// Window is a candidate gadget: the last N bytes of a run plus the terminator.
type Window struct {
	Seq    int // global evaluation order
	Run    int // index of the originating run
	Tokens []Token
}

// Len returns the number of bytes in the window, terminator included.
func (w Window) Len() int { return len(w.Tokens) }

// Hex formats the window as a space separated hex string, e.g. "5d c3".
func (w Window) Hex() string {
	parts := make([]string, len(w.Tokens))
	for i, t := range w.Tokens {
		parts[i] = t.Hex
	}
	return strings.Join(parts, " ")
}

// Bytes decodes the window tokens into raw machine code.
func (w Window) Bytes() ([]byte, error) {
	out := make([]byte, len(w.Tokens))
	for i, t := range w.Tokens {
		b, err := hex.DecodeString(t.Hex)
		if err != nil || len(b) != 1 {
			return nil, fmt.Errorf("bad byte token %q at window offset %d", t.Hex, i)
		}
		out[i] = b[0]
	}
	return out, nil
}

// Addr returns the address of the first byte in the window.
func (w Window) Addr() uint64 {
	if len(w.Tokens) == 0 {
		return 0
	}
	return w.Tokens[0].Addr
}

// Symbol returns the symbol the first byte of the window belongs to.
func (w Window) Symbol() string {
	if len(w.Tokens) == 0 {
		return ""
	}
	return w.Tokens[0].Symbol
}

// Gadget is a window accepted by a decoder.
type Gadget struct {
	Seq    int
	Addr   uint64
	Symbol string
	Bytes  string
	Text   string
}

// NewGadget records an accepted window together with the decoder text.
func NewGadget(w Window, text string) Gadget {
	return Gadget{
		Seq:    w.Seq,
		Addr:   w.Addr(),
		Symbol: w.Symbol(),
		Bytes:  w.Hex(),
		Text:   text,
	}
}
