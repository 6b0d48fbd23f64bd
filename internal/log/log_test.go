package log

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   LevelDebug,
		" WARN ":  LevelWarn,
		"warning": LevelWarn,
		"Error":   LevelError,
		"":        LevelInfo,
		"verbose": LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(LevelWarn)
	t.Cleanup(func() {
		SetOutput(nil)
		SetLevel(LevelInfo)
	})

	Debug("hidden debug")
	Info("hidden info")
	Warn("shown warn", "owner", "group:12")
	Error("shown error", errors.New("boom"), "status", 502)

	got := buf.String()
	if strings.Contains(got, "hidden") {
		t.Fatalf("filtered lines leaked: %q", got)
	}
	if !strings.Contains(got, "[WARN] shown warn owner=group:12") {
		t.Errorf("missing warn line: %q", got)
	}
	if !strings.Contains(got, "[ERROR] shown error err=boom status=502") {
		t.Errorf("missing error line: %q", got)
	}
}

func TestValuesWithSpacesAreQuoted(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(nil) })

	Info("lesson", "name", "Linear Algebra", 42, "dropped", "empty", "")

	got := buf.String()
	if !strings.Contains(got, `name="Linear Algebra"`) {
		t.Errorf("value not quoted: %q", got)
	}
	if strings.Contains(got, "dropped") {
		t.Errorf("non-string key should be skipped: %q", got)
	}
	if !strings.Contains(got, `empty=""`) {
		t.Errorf("empty value not quoted: %q", got)
	}
}
