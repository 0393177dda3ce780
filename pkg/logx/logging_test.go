package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestZeroLoggerIsNoop(t *testing.T) {
	var l Logger
	if !l.IsZero() {
		t.Fatalf("zero logger should report IsZero")
	}
	// Must not panic.
	l.Info("hello", String("k", "v"))
	if l.With(String("a", "b")).IsZero() {
		t.Fatalf("derived logger with fields should not be zero")
	}
}

func TestWriterLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, "debug").With(String("comp", "work"))
	l.Error("job failed", Int("worker", 3), Err(errors.New("boom")), Stack(""))

	var m map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &m); err != nil {
		t.Fatalf("decode log line: %v (%q)", err, buf.String())
	}
	if m["comp"] != "work" || m["message"] != "job failed" {
		t.Fatalf("unexpected fields: %v", m)
	}
	if m["worker"] != float64(3) {
		t.Fatalf("worker = %v", m["worker"])
	}
	if _, ok := m["stack"]; ok {
		t.Fatalf("empty stack should be omitted")
	}
	if !strings.Contains(buf.String(), "boom") {
		t.Fatalf("error not logged: %s", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{" WARNING ", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"nonsense", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in, zerolog.InfoLevel); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewLeavesZerologGlobalsAlone(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, "debug")

	// Constructing services while another logger is writing must not race on
	// zerolog's package settings.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			NewWriter(io.Discard, "debug").Error("tick", Err(errors.New("x")))
		}
	}()
	for i := 0; i < 20; i++ {
		svc, _ := New(Config{Level: "error"})
		_ = svc.Close()
	}
	<-done

	l.Error("failed", Err(errors.New("boom")))
	var m map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &m); err != nil {
		t.Fatalf("decode log line: %v (%q)", err, buf.String())
	}
	if m["err"] != "boom" {
		t.Fatalf("error field = %v, want err=boom", m)
	}
}
