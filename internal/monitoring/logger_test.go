package monitoring

import (
	"fmt"
	"strings"
	"testing"
)

func captureLogs(t *testing.T) *[]string {
	t.Helper()
	original := Logf
	t.Cleanup(func() { Logf = original })
	var lines []string
	SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})
	return &lines
}

func TestSetLogger(t *testing.T) {
	lines := captureLogs(t)
	Logf("test message")
	if len(*lines) != 1 {
		t.Fatalf("custom logger called %d times, want 1", len(*lines))
	}

	// nil installs a no-op logger
	SetLogger(nil)
	Logf("dropped")
	if len(*lines) != 1 {
		t.Errorf("no-op logger should not reach the previous logger")
	}
}

func TestComponentLogger(t *testing.T) {
	tests := []struct {
		name      string
		id        string
		debug     bool
		wantLines int
		wantPfx   string
	}{
		{"plain", "", false, 1, "[Learner] "},
		{"with id", "0123456789abcdef", true, 2, "[Learner 01234567] "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lines := captureLogs(t)
			l := Component("Learner", tt.id, tt.debug)
			l.Printf("learned %d models", 3)
			l.Debugf("debug detail")
			if len(*lines) != tt.wantLines {
				t.Fatalf("got %d lines, want %d: %v", len(*lines), tt.wantLines, *lines)
			}
			if !strings.HasPrefix((*lines)[0], tt.wantPfx) {
				t.Errorf("line %q does not start with %q", (*lines)[0], tt.wantPfx)
			}
		})
	}
}

func TestTimedOnlyWhenDebug(t *testing.T) {
	lines := captureLogs(t)
	Component("Evaluator", "", false).Timed("run")()
	if len(*lines) != 0 {
		t.Errorf("Timed logged without debug: %v", *lines)
	}
	Component("Evaluator", "", true).Timed("run")()
	if len(*lines) != 1 || !strings.Contains((*lines)[0], "run took") {
		t.Errorf("unexpected timing output: %v", *lines)
	}
}
