package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", DEBUG},
		{"INFO", INFO},
		{"warning", WARN},
		{"Error", ERROR},
		{"fatal", FATAL},
		{"nonsense", INFO},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q): expected %s, got %s", tt.in, tt.want, got)
		}
	}
}

func TestJSONOutputCarriesComponentAndFields(t *testing.T) {
	var buf bytes.Buffer
	l := newWithWriter(&buf, &Config{Level: "DEBUG", JSONFormat: true, Component: "main"})

	l.WithField("pair", "BTCUSDT").Info("candle dropped", "close_time", int64(42), "err", errors.New("boom"))

	var entry map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("Expected valid JSON, got %q: %v", buf.String(), err)
	}
	if entry["component"] != "main" {
		t.Errorf("Expected component main, got %v", entry["component"])
	}
	if entry["pair"] != "BTCUSDT" {
		t.Errorf("Expected pair field, got %v", entry["pair"])
	}
	if entry["err"] != "boom" {
		t.Errorf("Expected err field boom, got %v", entry["err"])
	}
	if entry["message"] != "candle dropped" {
		t.Errorf("Expected message, got %v", entry["message"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := newWithWriter(&buf, &Config{Level: "WARN", JSONFormat: true})

	l.Info("hidden")
	l.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("Expected info line to be filtered, got %q", out)
	}
	if !strings.Contains(out, "shown") {
		t.Errorf("Expected warn line, got %q", out)
	}
}

func TestPrintfStyleArgs(t *testing.T) {
	var buf bytes.Buffer
	l := newWithWriter(&buf, &Config{Level: "INFO", JSONFormat: true})

	l.Info("opened %d positions", 1)

	if !strings.Contains(buf.String(), "opened 1 positions") {
		t.Errorf("Expected formatted message, got %q", buf.String())
	}
}

func TestWithFieldDoesNotMutateParent(t *testing.T) {
	parent := Nop().WithField("a", 1)
	child := parent.WithField("b", 2)

	if _, ok := parent.fields["b"]; ok {
		t.Error("Expected parent fields to be untouched")
	}
	if len(child.fields) != 2 {
		t.Errorf("Expected 2 child fields, got %d", len(child.fields))
	}
}

func TestChildLoggerReplacesComponent(t *testing.T) {
	var buf bytes.Buffer
	l := newWithWriter(&buf, &Config{Level: "INFO", JSONFormat: true, Component: "app"})

	l.WithField("pair", "BTCUSDT").WithComponent("session").WithTraceID("t1").WithTraceID("t2").Info("started")

	out := buf.String()
	if n := strings.Count(out, `"component"`); n != 1 {
		t.Fatalf("Expected one component key, got %d in %q", n, out)
	}
	if n := strings.Count(out, `"trace_id"`); n != 1 {
		t.Errorf("Expected one trace_id key, got %d in %q", n, out)
	}
	var entry map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("Expected valid JSON, got %q: %v", out, err)
	}
	if entry["component"] != "session" || entry["trace_id"] != "t2" || entry["pair"] != "BTCUSDT" {
		t.Errorf("Expected session/t2/BTCUSDT, got %v", entry)
	}
}

func TestSessionContextHasSingleComponent(t *testing.T) {
	var buf bytes.Buffer
	SetDefault(newWithWriter(&buf, &Config{Level: "INFO", JSONFormat: true, Component: "app"}))
	defer SetDefault(Nop())

	SessionContext("main", "BTCUSDT", "5m").Info("ready")
	if n := strings.Count(buf.String(), `"component"`); n != 1 {
		t.Errorf("Expected one component key, got %d in %q", n, buf.String())
	}
}
