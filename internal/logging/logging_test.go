package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]int{
		"trace":   LevelTrace,
		"DEBUG":   LevelDebug,
		"warn":    LevelWarn,
		"warning": LevelWarn,
		"error":   LevelError,
		"":        LevelInfo,
		"bogus":   LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestHasFmtVerb(t *testing.T) {
	if !hasFmtVerb("value is %d") {
		t.Error("expected %d to be detected")
	}
	if hasFmtVerb("100%% done") {
		t.Error("escaped percent should not count as a verb")
	}
	if hasFmtVerb("plain message") {
		t.Error("plain message has no verbs")
	}
}

func TestStructuredOutput(t *testing.T) {
	var buf bytes.Buffer
	Init(&Config{Level: LevelDebug, TimeFormat: "15:04:05", Output: &buf})
	defer Init(nil)

	L_info("web: delivered reply", "to", "+15550001111", "bytes", 42)
	L_debug("attempt %d of %d", 2, 3)

	out := buf.String()
	if !strings.Contains(out, "web: delivered reply") || !strings.Contains(out, "bytes=42") {
		t.Errorf("structured line missing fields: %q", out)
	}
	if !strings.Contains(out, "attempt 2 of 3") {
		t.Errorf("printf line not formatted: %q", out)
	}
}

func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	Init(&Config{Level: LevelInfo, JSON: true, Output: &buf})
	defer Init(nil)

	L_warn("web: watchdog fired", "minutes", 30)
	if !strings.Contains(buf.String(), `"msg":"web: watchdog fired"`) {
		t.Errorf("expected JSON output, got %q", buf.String())
	}
}
