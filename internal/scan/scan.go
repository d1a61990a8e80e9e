// Package scan runs a decoder over every candidate window of a token stream
// with a bounded pool of workers and merges the results back into evaluation
// order.
package scan

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"gadgets/internal/gadget"
	"gadgets/internal/logging"
	"gadgets/internal/oracle"
)

// Stats summarises one scan.
type Stats struct {
	Tokens   int
	Runs     int
	Windows  int
	Accepted int
	Rejected int
	Elapsed  time.Duration
}

// Result is the ordered outcome of a scan.
type Result struct {
	Gadgets []gadget.Gadget
	Stats   Stats
}

// Scanner owns the scan configuration. The zero value is not usable; a
// Decoder is required.
type Scanner struct {
	Decoder oracle.Decoder
	// Jobs bounds concurrent decode calls; runtime.NumCPU() when <= 0.
	Jobs int
	// MaxWindow caps the number of bytes taken before the terminator; 0
	// enumerates every suffix.
	MaxWindow int
	// Progress, when set, is called after each window with the number of
	// windows finished so far. It may be called from several goroutines.
	Progress func(done, total int)
	// Strict drops runs that reach the end of a stream without a real
	// terminator instead of closing them with a synthesised one.
	Strict bool
	Logger *log.Logger
}

func (s *Scanner) jobs() int {
	if s.Jobs > 0 {
		return s.Jobs
	}
	return runtime.NumCPU()
}

func (s *Scanner) logger() *log.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return logging.Discard()
}

// Scan segments tokens, enumerates the windows of every run and decodes them.
// The first fatal decoder error stops the scan and is returned.
func (s *Scanner) Scan(ctx context.Context, tokens []gadget.Token) (*Result, error) {
	return s.ScanStreams(ctx, [][]gadget.Token{tokens})
}

// ScanStreams scans several independent byte streams, such as the
// non-adjacent executable sections of a binary. Runs never span two streams;
// windows are numbered across all of them in stream order.
func (s *Scanner) ScanStreams(ctx context.Context, streams [][]gadget.Token) (*Result, error) {
	if s.Decoder == nil {
		return nil, fmt.Errorf("scan: no decoder configured")
	}
	start := time.Now()
	lg := s.logger()

	var runs []gadget.Run
	ntokens := 0
	for _, st := range streams {
		ntokens += len(st)
		for _, r := range gadget.Segment(st) {
			if s.Strict && !r.Terminated {
				continue
			}
			runs = append(runs, r)
		}
	}
	windows := gadget.Enumerate(runs, s.MaxWindow)
	lg.Debug("enumerated windows", "streams", len(streams), "tokens", ntokens, "runs", len(runs), "windows", len(windows), "jobs", s.jobs(), "decoder", s.Decoder.Name())

	results, err := s.decodeAll(ctx, windows)
	if err != nil {
		return nil, err
	}

	res := &Result{Stats: Stats{
		Tokens:  ntokens,
		Runs:    len(runs),
		Windows: len(windows),
	}}
	for i, r := range results {
		if !r.Accepted {
			res.Stats.Rejected++
			continue
		}
		res.Stats.Accepted++
		res.Gadgets = append(res.Gadgets, gadget.NewGadget(windows[i], r.Text))
	}
	res.Stats.Elapsed = time.Since(start)

	lg.Debug("scan finished", "accepted", res.Stats.Accepted, "rejected", res.Stats.Rejected, "elapsed", res.Stats.Elapsed)
	return res, nil
}

// decodeAll fans the windows out to the workers. Each result lands in the
// slot of its window's sequence number, so no further ordering is needed.
func (s *Scanner) decodeAll(ctx context.Context, windows []gadget.Window) ([]oracle.Result, error) {
	results := make([]oracle.Result, len(windows))
	if len(windows) == 0 {
		return results, nil
	}

	g, ctx := errgroup.WithContext(ctx)
	todo := make(chan int)

	g.Go(func() error {
		defer close(todo)
		for i := range windows {
			select {
			case todo <- i:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	var done atomic.Int64
	total := len(windows)
	workers := min(s.jobs(), total)
	for range workers {
		g.Go(func() error {
			for i := range todo {
				r, err := s.Decoder.Decode(ctx, windows[i])
				if err != nil {
					return fmt.Errorf("decode window %d (%s): %w", windows[i].Seq, windows[i].Hex(), err)
				}
				results[i] = r
				n := done.Add(1)
				if s.Progress != nil {
					s.Progress(int(n), total)
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
