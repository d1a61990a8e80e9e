package colorize

import (
	"strings"
	"testing"

	"github.com/charmbracelet/x/ansi"
)

const block = "0000000000000000 5d               popq %rbp\n0000000000000001 c3               retq\n"

func TestColorizeGadgetKeepsText(t *testing.T) {
	t.Setenv("GADGETS_NO_COLOR", "")
	out := ColorizeGadget(block, "att")
	if !strings.Contains(out, "\x1b[") {
		t.Fatalf("expected ANSI escapes in %q", out)
	}
	if got := ansi.Strip(out); got != block {
		t.Errorf("stripped output = %q, want %q", got, block)
	}
}

func TestColorizeGadgetDisabled(t *testing.T) {
	t.Setenv("GADGETS_NO_COLOR", "1")
	if out := ColorizeGadget(block, "att"); out != block {
		t.Errorf("ColorizeGadget() with colour disabled = %q", out)
	}
	if out, err := ColorizeAssembly("ret", "intel"); err != nil || out != "ret" {
		t.Errorf("ColorizeAssembly() = %q, %v", out, err)
	}
}

func TestIsHex(t *testing.T) {
	for s, want := range map[string]bool{
		"0000000000000000": true,
		"5dc3":             true,
		"popq":             false,
		"":                 false,
	} {
		if got := isHex(s); got != want {
			t.Errorf("isHex(%q) = %v, want %v", s, got, want)
		}
	}
}
