// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Output: &buf, Level: LevelWarn})

	l.Debug("should not appear")
	l.Info("should not appear either")
	l.Warn("this warning shows")

	out := buf.String()
	if strings.Contains(out, "should not appear") {
		t.Errorf("debug/info lines leaked through WARN filter: %q", out)
	}
	if !strings.Contains(out, "this warning shows") {
		t.Errorf("expected warning line, got %q", out)
	}
}

func TestLoggerWithComponentAndError(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Output: &buf, Level: LevelDebug})

	l.WithComponent("query").WithError(errBoom).Error("send failed", "group", "239.1.1.1")

	out := buf.String()
	for _, want := range []string{"query:", "send failed", `error="boom"`, "group=239.1.1.1"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected log line to contain %q, got %q", want, out)
		}
	}
}

var errBoom = boomError{}

type boomError struct{}

func (boomError) Error() string { return "boom" }
