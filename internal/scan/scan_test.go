package scan

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"

	"gadgets/internal/disasm"
	"gadgets/internal/gadget"
	"gadgets/internal/oracle"
)

// fakeDecoder accepts windows whose length is odd, sleeping a random amount
// to shuffle completion order across workers.
type fakeDecoder struct {
	calls  atomic.Int64
	jitter bool
	failAt int // Seq that triggers a fatal error, -1 for none
}

func (f *fakeDecoder) Name() string { return "fake" }

func (f *fakeDecoder) Decode(ctx context.Context, w gadget.Window) (oracle.Result, error) {
	f.calls.Add(1)
	if f.jitter {
		time.Sleep(time.Duration(rand.Intn(200)) * time.Microsecond)
	}
	if w.Seq == f.failAt {
		return oracle.Result{}, fmt.Errorf("%w: spawn failed", oracle.ErrUnavailable)
	}
	if err := ctx.Err(); err != nil {
		return oracle.Result{}, err
	}
	if w.Len()%2 == 1 {
		return oracle.Result{Accepted: true, Text: w.Hex() + "\n"}, nil
	}
	return oracle.Result{}, nil
}

func tokens(hexes ...string) []gadget.Token {
	out := make([]gadget.Token, len(hexes))
	for i, h := range hexes {
		out[i] = gadget.Token{Hex: h, Addr: 0x1000 + uint64(i), Symbol: "f"}
	}
	return out
}

var stream = tokens(
	"55", "48", "89", "e5", "5d", "c3",
	"c3",
	"41", "5c", "41", "5d", "41", "5e", "41", "5f", "c3",
	"90", "90", "90", "c3",
)

func TestScanDeterministicAcrossWorkers(t *testing.T) {
	var want []gadget.Gadget
	for _, jobs := range []int{1, 2, 4, 16, 64} {
		t.Run(fmt.Sprintf("jobs=%d", jobs), func(t *testing.T) {
			s := &Scanner{Decoder: &fakeDecoder{jitter: true, failAt: -1}, Jobs: jobs}
			res, err := s.Scan(context.Background(), stream)
			require.NoError(t, err)
			if want == nil {
				want = res.Gadgets
				return
			}
			if diff := cmp.Diff(want, res.Gadgets); diff != "" {
				t.Errorf("gadgets differ from jobs=1 run (-want +got):\n%s", diff)
			}
		})
	}
}

func TestScanOrderAndStats(t *testing.T) {
	dec := &fakeDecoder{failAt: -1}
	s := &Scanner{Decoder: dec, Jobs: 3}
	res, err := s.Scan(context.Background(), stream)
	require.NoError(t, err)

	// runs of length 5, 8 and 3
	wantStats := Stats{Tokens: 20, Runs: 3, Windows: 16, Accepted: 7, Rejected: 9}
	if diff := cmp.Diff(wantStats, res.Stats, cmpopts.IgnoreFields(Stats{}, "Elapsed")); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}
	require.EqualValues(t, 16, dec.calls.Load())

	var got []string
	for _, g := range res.Gadgets {
		got = append(got, g.Bytes)
		require.Equal(t, g.Bytes+"\n", g.Text)
	}
	want := []string{
		"e5 5d c3",
		"48 89 e5 5d c3",
		"41 5f c3",
		"41 5e 41 5f c3",
		"41 5d 41 5e 41 5f c3",
		"41 5c 41 5d 41 5e 41 5f c3",
		"90 90 c3",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("gadget order mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, uint64(0x1003), res.Gadgets[0].Addr)
	require.Equal(t, "f", res.Gadgets[0].Symbol)
}

func TestScanFatalDecoderError(t *testing.T) {
	dec := &fakeDecoder{failAt: 4}
	s := &Scanner{Decoder: dec, Jobs: 4}
	res, err := s.Scan(context.Background(), stream)
	require.Nil(t, res)
	require.ErrorIs(t, err, oracle.ErrUnavailable)
}

func TestScanMaxWindow(t *testing.T) {
	s := &Scanner{Decoder: &fakeDecoder{failAt: -1}, MaxWindow: 2}
	res, err := s.Scan(context.Background(), stream)
	require.NoError(t, err)
	require.Equal(t, 6, res.Stats.Windows)
	require.Equal(t, 3, res.Stats.Accepted)
	for _, g := range res.Gadgets {
		require.Len(t, strings.Fields(g.Bytes), 3)
	}
}

func TestScanProgress(t *testing.T) {
	var calls, maxDone, lastTotal atomic.Int64
	s := &Scanner{
		Decoder: &fakeDecoder{failAt: -1},
		Jobs:    4,
		Progress: func(done, total int) {
			calls.Add(1)
			lastTotal.Store(int64(total))
			for {
				cur := maxDone.Load()
				if int64(done) <= cur || maxDone.CompareAndSwap(cur, int64(done)) {
					break
				}
			}
		},
	}
	_, err := s.Scan(context.Background(), stream)
	require.NoError(t, err)
	require.EqualValues(t, 16, calls.Load())
	require.EqualValues(t, 16, maxDone.Load())
	require.EqualValues(t, 16, lastTotal.Load())
}

func TestScanEmpty(t *testing.T) {
	s := &Scanner{Decoder: &fakeDecoder{failAt: -1}}
	res, err := s.Scan(context.Background(), tokens("c3", "c3"))
	require.NoError(t, err)
	require.Empty(t, res.Gadgets)
	require.Zero(t, res.Stats.Windows)
}

func TestScanWithoutDecoder(t *testing.T) {
	_, err := (&Scanner{}).Scan(context.Background(), stream)
	require.Error(t, err)
}

func TestScanBuiltinEndToEnd(t *testing.T) {
	dec, err := oracle.NewBuiltin(64, disasm.SyntaxATT)
	require.NoError(t, err)
	s := &Scanner{Decoder: dec}

	res, err := s.Scan(context.Background(), tokens("5d", "c3"))
	require.NoError(t, err)
	require.Len(t, res.Gadgets, 1)
	g := res.Gadgets[0]
	require.Equal(t, "5d c3", g.Bytes)
	require.Contains(t, g.Text, "%rbp")
	require.Contains(t, g.Text, "ret")
}

type acceptAll struct{}

func (acceptAll) Name() string { return "all" }

func (acceptAll) Decode(ctx context.Context, w gadget.Window) (oracle.Result, error) {
	return oracle.Result{Accepted: true, Text: w.Hex() + "\n"}, nil
}

func tokensAt(addr uint64, hexes ...string) []gadget.Token {
	out := make([]gadget.Token, len(hexes))
	for i, h := range hexes {
		out[i] = gadget.Token{Hex: h, Addr: addr + uint64(i)}
	}
	return out
}

func TestScanStreamsKeepsRunsApart(t *testing.T) {
	// The tail of the first stream must not borrow the c3 that opens the
	// second one.
	streams := [][]gadget.Token{
		tokensAt(0x1000, "41", "5f", "c3", "90", "5d"),
		tokensAt(0x2000, "c3", "5e", "c3"),
	}

	tests := []struct {
		name   string
		strict bool
		want   []string
		addrs  []uint64
	}{
		{
			name:   "strict",
			strict: true,
			want:   []string{"5f c3", "41 5f c3", "5e c3"},
			addrs:  []uint64{0x1001, 0x1000, 0x2001},
		},
		{
			name:   "synthesised tail",
			strict: false,
			want:   []string{"5f c3", "41 5f c3", "5d c3", "90 5d c3", "5e c3"},
			addrs:  []uint64{0x1001, 0x1000, 0x1004, 0x1003, 0x2001},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Scanner{Decoder: acceptAll{}, Jobs: 2, Strict: tt.strict}
			res, err := s.ScanStreams(context.Background(), streams)
			require.NoError(t, err)

			var got []string
			var addrs []uint64
			for _, g := range res.Gadgets {
				got = append(got, g.Bytes)
				addrs = append(addrs, g.Addr)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("gadgets mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.addrs, addrs); diff != "" {
				t.Errorf("addresses mismatch (-want +got):\n%s", diff)
			}
			require.Equal(t, 8, res.Stats.Tokens)
		})
	}
}
