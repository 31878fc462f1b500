package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestDefaultLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, LevelWarn)

	l.Debugf("debug %d", 1)
	l.Infof("info %d", 2)
	l.Warnf("warn %d", 3)
	l.Errorf("error %d", 4)

	out := buf.String()
	for _, want := range []string{"WARN warn 3", "ERROR error 4"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q: %s", want, out)
		}
	}
	for _, notWant := range []string{"debug 1", "info 2"} {
		if strings.Contains(out, notWant) {
			t.Errorf("output should not contain %q: %s", notWant, out)
		}
	}
}

func TestFatalHandler(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, LevelError)

	var captured string
	l.SetFatalHandler(func(msg string) { captured = msg })

	l.Fatalf("disk full: %s", "/data")

	if captured != "disk full: /data" {
		t.Errorf("fatal handler got %q", captured)
	}
	if !strings.Contains(buf.String(), "FATAL disk full") {
		t.Errorf("fatal message not logged: %s", buf.String())
	}
}

func TestOrDefault(t *testing.T) {
	var nilLogger *DefaultLogger
	got := OrDefault(nilLogger)
	if got == nil {
		t.Fatal("OrDefault(typed-nil) returned nil")
	}
	got.Infof("should not panic")

	got2 := OrDefault(nil)
	if got2 == nil {
		t.Fatal("OrDefault(nil) returned nil")
	}
}
