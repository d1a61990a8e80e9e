// Package listing turns a textual disassembly listing (objdump -d style) into
// the byte token stream the gadget finder works on.
package listing

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/nxadm/tail"

	"gadgets/internal/gadget"
)

var (
	// "  401000:\t55 48 89 e5\tpush %rbp": the byte dump directly follows the
	// address colon and ends at whitespace or end of line.
	reInsn = regexp.MustCompile(`^\s*([0-9a-fA-F]+):\s+((?:[0-9a-fA-F]{2} )*[0-9a-fA-F]{2})(?:\s|$)`)
	// "0000000000401000 <main>:"
	reLabel = regexp.MustCompile(`^([0-9a-fA-F]+)\s+<([^>]+)>:\s*$`)
)

// ExtractBytes returns the byte tokens of a single listing line, lowercased.
// Lines without a byte dump yield an empty slice.
func ExtractBytes(line string) []string {
	_, bytes, ok := matchInsn(line)
	if !ok {
		return []string{}
	}
	return bytes
}

func matchInsn(line string) (uint64, []string, bool) {
	m := reInsn.FindStringSubmatch(line)
	if m == nil {
		return 0, nil, false
	}
	addr, err := strconv.ParseUint(m[1], 16, 64)
	if err != nil {
		addr = 0
	}
	return addr, strings.Fields(strings.ToLower(m[2])), true
}

// Parser accumulates tokens across the lines of one listing and keeps track
// of the symbol label each byte falls under.
type Parser struct {
	symbol string
	tokens []gadget.Token
}

// Feed parses one line.
func (p *Parser) Feed(line string) {
	line = strings.TrimRight(line, "\r\n")

	if m := reLabel.FindStringSubmatch(line); m != nil {
		p.symbol = m[2]
		return
	}

	addr, bytes, ok := matchInsn(line)
	if !ok {
		return
	}
	for i, b := range bytes {
		tok := gadget.Token{Hex: b, Symbol: p.symbol}
		if addr != 0 {
			tok.Addr = addr + uint64(i)
		}
		p.tokens = append(p.tokens, tok)
	}
}

// Tokens returns the stream parsed so far, in listing order.
func (p *Parser) Tokens() []gadget.Token {
	return p.tokens
}

// Read parses a complete listing from r.
func Read(r io.Reader) ([]gadget.Token, error) {
	var p Parser
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		p.Feed(sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read listing: %w", err)
	}
	return p.Tokens(), nil
}

// ReadFile parses the listing stored at path. The file is read once to the
// end; it is not followed for later writes.
func ReadFile(path string) ([]gadget.Token, error) {
	t, err := tail.TailFile(path, tail.Config{
		MustExist: true,
		Follow:    false,
		ReOpen:    false,
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("open listing: %w", err)
	}
	defer t.Cleanup()

	var p Parser
	for line := range t.Lines {
		if line.Err != nil {
			t.Stop()
			return nil, fmt.Errorf("read listing %s: %w", path, line.Err)
		}
		p.Feed(line.Text)
	}
	if err := t.Wait(); err != nil {
		return nil, fmt.Errorf("read listing %s: %w", path, err)
	}
	return p.Tokens(), nil
}
