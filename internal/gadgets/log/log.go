// Package log configures the process-wide slog logger and recovers panics at
// goroutine boundaries.
package log

import (
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

var (
	setupOnce sync.Once
	ready     atomic.Bool
)

// Setup installs a text handler on stderr. Debug enables debug records with
// source locations. Only the first call has an effect.
func Setup(debug bool) {
	setupOnce.Do(func() {
		opts := &slog.HandlerOptions{Level: slog.LevelInfo}
		if debug {
			opts.Level = slog.LevelDebug
			opts.AddSource = true
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, opts)))
		ready.Store(true)
	})
}

// RecoverPanic is deferred at the top of main and of long-lived goroutines.
// The panic and its stack are logged once Setup has run; cleanup runs either
// way.
func RecoverPanic(name string, cleanup func()) {
	r := recover()
	if r == nil {
		return
	}
	if ready.Load() {
		slog.Error(fmt.Sprintf("panic in %s", name), "panic", r, "stack", string(debug.Stack()))
	}
	if cleanup != nil {
		cleanup()
	}
}
