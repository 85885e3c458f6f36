package logger

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// helper to close non-nil closers and ignore errors
func closeIf(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}

func TestProcessWriters_WithDirOnly(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{File: FileConfig{Dir: dir}}
	outW, errW, err := cfg.ProcessWriters("ray/demo.monitor")
	if err != nil {
		t.Fatalf("ProcessWriters error: %v", err)
	}
	if outW == nil || errW == nil {
		t.Fatalf("expected both writers non-nil when Dir is set")
	}
	_, _ = outW.Write([]byte("hello-out\n"))
	_, _ = errW.Write([]byte("hello-err\n"))
	closeIf(outW)
	closeIf(errW)
	for _, p := range []string{"ray/demo.monitor.stdout.log", "ray/demo.monitor.stderr.log"} {
		if _, err := os.Stat(filepath.Join(dir, p)); err != nil {
			t.Fatalf("log not created at %s: %v", p, err)
		}
	}
}

func TestProcessWriters_Defaults(t *testing.T) {
	outW, errW, _ := Config{}.ProcessWriters("n")
	if outW != nil || errW != nil {
		t.Fatalf("expected nil writers when no Dir/stdout/stderr set")
	}
	cfg := Config{File: FileConfig{StdoutPath: "x", StderrPath: "y", MaxBackups: 9}}
	outW, errW, _ = cfg.ProcessWriters("n")
	ol, ok1 := outW.(*lj.Logger)
	el, ok2 := errW.(*lj.Logger)
	if !ok1 || !ok2 {
		t.Fatalf("writers are not lumberjack.Logger")
	}
	if ol.MaxSize != DefaultMaxSizeMB || ol.MaxBackups != 9 || ol.MaxAge != DefaultMaxAgeDays {
		t.Fatalf("unexpected rotation: size=%d backups=%d age=%d", ol.MaxSize, ol.MaxBackups, ol.MaxAge)
	}
	if el.Filename != "y" {
		t.Fatalf("stderr path = %q", el.Filename)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{"": slog.LevelInfo, "debug": slog.LevelDebug, "WARN": slog.LevelWarn, "error": slog.LevelError}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Fatalf("ParseLevel(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestNewJSONAndLevelVar(t *testing.T) {
	var buf bytes.Buffer
	lv := new(slog.LevelVar)
	l, closer, err := New(Config{Level: "warn", Format: "json"}, lv, &buf)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer closeIf(closer)

	l.Info("hidden")
	l.Warn("shown", "cluster", "c,ns")
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %q", buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("not json: %v", err)
	}
	if rec["msg"] != "shown" || rec["cluster"] != "c,ns" {
		t.Fatalf("unexpected record %v", rec)
	}

	lv.Set(slog.LevelDebug)
	l.Debug("now visible")
	if !strings.Contains(buf.String(), "now visible") {
		t.Fatal("level change not applied")
	}
}

func TestNewWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "operator.log")
	l, closer, err := New(Config{Path: path}, nil, io.Discard)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.Info("to file")
	closeIf(closer)
	b, err := os.ReadFile(path)
	if err != nil || !strings.Contains(string(b), "to file") {
		t.Fatalf("log file missing content: %v %q", err, b)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, _, err := New(Config{Format: "xml"}, nil, io.Discard); err == nil {
		t.Fatal("expected error")
	}
}

func TestColorTextHandlerKeepsColorOnDerivedLoggers(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(NewColorTextHandler(&buf, nil, false)).With("cluster", "c,ns")
	l.Error("boom")
	out := buf.String()
	if !strings.Contains(out, "\033[31m") {
		t.Fatalf("expected red level, got %q", out)
	}
	if strings.Contains(out, "time=") {
		t.Fatalf("time should be omitted: %q", out)
	}
	if !strings.Contains(out, "cluster=c,ns") {
		t.Fatalf("attribute lost: %q", out)
	}
}

func TestLogrBridge(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(slog.NewTextHandler(&buf, nil))
	Logr(l).Info("from logr", "k", "v")
	if !strings.Contains(buf.String(), "from logr") || !strings.Contains(buf.String(), "k=v") {
		t.Fatalf("unexpected output %q", buf.String())
	}
}
