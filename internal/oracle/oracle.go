// Package oracle decides whether a candidate window decodes to a legal
// instruction sequence. Two decoders are provided: an in-process x86 decoder
// and an adapter for external length disassemblers such as udcli.
package oracle

import (
	"context"
	"errors"

	"gadgets/internal/gadget"
)

// ErrUnavailable means the oracle cannot be run at all. It aborts a scan;
// an individual window failing to decode never does.
var ErrUnavailable = errors.New("decoder oracle unavailable")

// Result is the outcome of one decode attempt.
type Result struct {
	Accepted bool
	Text     string // decoder output, set only when Accepted
}

// Decoder validates candidate windows. A non-nil error is fatal for the
// whole scan; rejection is reported through Result.
type Decoder interface {
	Decode(ctx context.Context, w gadget.Window) (Result, error)
	Name() string
}

func accept(text string) Result {
	return Result{Accepted: true, Text: text}
}

var rejected = Result{}
