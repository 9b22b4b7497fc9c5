package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"strings"
	"testing"
)

// capture redirects the process-wide sink into a buffer for one test.
func capture(t *testing.T, format string, l slog.Level) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := level.Level()
	Setup(&buf, format)
	SetLevel(l)
	t.Cleanup(func() {
		Setup(os.Stderr, "json")
		SetLevel(prev)
	})
	return &buf
}

func lines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("bad record %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestModuleFollowsSetup(t *testing.T) {
	// Taken before the sink changes, like the package-level loggers.
	l := Module("witness")
	buf := capture(t, "json", slog.LevelDebug)

	l.With("tx", 3).Debug("tx traced", "steps", 41)

	recs := lines(t, buf)
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}
	r := recs[0]
	if r["module"] != "witness" || r["msg"] != "tx traced" {
		t.Fatalf("record = %v", r)
	}
	if r["tx"] != float64(3) || r["steps"] != float64(41) {
		t.Fatalf("attrs = %v", r)
	}
}

func TestSetLevelGatesModules(t *testing.T) {
	l := Module("rw")
	buf := capture(t, "json", slog.LevelWarn)

	l.Debug("dropped")
	l.Info("dropped")
	l.Warn("kept")
	SetLevel(slog.LevelDebug)
	l.Debug("kept")

	recs := lines(t, buf)
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2: %s", len(recs), buf)
	}
	for _, r := range recs {
		if r["msg"] != "kept" {
			t.Fatalf("unexpected record %v", r)
		}
	}
}

func TestTextFormat(t *testing.T) {
	buf := capture(t, "TEXT", slog.LevelInfo)
	Module("evm").Info("step verified", "state", "ADD_SUB")

	out := buf.String()
	for _, want := range []string{"module=evm", `msg="step verified"`, "state=ADD_SUB"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %s in %q", want, out)
		}
	}
}

func TestNewWithHandler(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithHandler(slog.NewJSONHandler(&buf, nil)).Module("tables")
	l.Error("lookup failed", "table", "fixed")
	if !strings.Contains(buf.String(), `"module":"tables"`) {
		t.Fatalf("output = %s", buf.String())
	}
	Discard().Error("nothing")
}

func TestLevelFromString(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" TRACE ": slog.LevelDebug,
		"info":    slog.LevelInfo,
		"Warning": slog.LevelWarn,
		"crit":    slog.LevelError,
		"bogus":   slog.LevelInfo,
		"":        slog.LevelInfo,
	} {
		if got := LevelFromString(in); got != want {
			t.Errorf("LevelFromString(%q) = %v, want %v", in, got, want)
		}
	}
}
