package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestLoggerLevelFromEnv(t *testing.T) {
	tests := []struct {
		name      string
		level     string
		wantDebug bool
		wantInfo  bool
	}{
		{name: "default", level: "", wantDebug: false, wantInfo: true},
		{name: "debug", level: "debug", wantDebug: true, wantInfo: true},
		{name: "error", level: "error", wantDebug: false, wantInfo: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("GADGETS_LOG_LEVEL", tt.level)
			var buf bytes.Buffer
			lg := NewLoggerWithWriter(&buf)

			lg.Debug("debug line")
			lg.Info("info line")

			out := buf.String()
			if got := strings.Contains(out, "debug line"); got != tt.wantDebug {
				t.Errorf("debug logged = %v, want %v\n%s", got, tt.wantDebug, out)
			}
			if got := strings.Contains(out, "info line"); got != tt.wantInfo {
				t.Errorf("info logged = %v, want %v\n%s", got, tt.wantInfo, out)
			}
			if IsDebug() != (tt.level == "debug") {
				t.Errorf("IsDebug() = %v", IsDebug())
			}
		})
	}
}

func TestLoggerPrefix(t *testing.T) {
	t.Setenv("GADGETS_LOG_PREFIX", "scan")
	var buf bytes.Buffer
	lg := NewLoggerWithWriter(&buf)
	lg.Info("hello")
	if !strings.Contains(buf.String(), "scan") {
		t.Errorf("prefix missing from %q", buf.String())
	}
	if err := lg.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
}
