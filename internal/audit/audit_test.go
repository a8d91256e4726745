package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/boshu2/agentops-guard/internal/guard"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zapcore.Level{
		"debug": zapcore.DebugLevel,
		"WARN":  zapcore.WarnLevel,
		"error": zapcore.ErrorLevel,
		"info":  zapcore.InfoLevel,
		"loud":  zapcore.InfoLevel,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNew_Off(t *testing.T) {
	for _, file := range []string{"", Off} {
		logger, err := New(file, "info")
		if err != nil {
			t.Fatalf("New(%q): %v", file, err)
		}
		if logger.Core().Enabled(zapcore.ErrorLevel) {
			t.Errorf("New(%q) returned an enabled logger", file)
		}
	}
}

func TestNew_WritesJSONFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "logs", "guard.log")
	logger, err := New(file, "info")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("hello", zap.String("k", "v"))
	logger.Debug("hidden")
	_ = logger.Sync()

	f, err := os.Open(file)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var lines []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var m map[string]any
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			t.Fatalf("log line is not JSON: %q", sc.Text())
		}
		lines = append(lines, m)
	}
	if len(lines) != 1 {
		t.Fatalf("got %d log lines, want 1", len(lines))
	}
	if lines[0]["msg"] != "hello" || lines[0]["k"] != "v" {
		t.Errorf("log line = %v", lines[0])
	}
}

func TestInvocation_Record(t *testing.T) {
	start := time.Unix(100, 0)
	tests := []struct {
		name     string
		decision guard.Decision
		level    zapcore.Level
	}{
		{"allow", guard.Allowed(), zapcore.InfoLevel},
		{"rewrite", guard.Rewritten(guard.CheckCWDRecovery, "cd /w && ls", "gone"), zapcore.InfoLevel},
		{"deny", guard.Denied(guard.CheckNuclear, "no"), zapcore.WarnLevel},
		{"internal", guard.Denied(guard.CheckDispatch, guard.InternalErrorPrefix+" in dispatch check: x"), zapcore.ErrorLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zapcore.DebugLevel)
			inv := Begin(zap.New(core), start)
			req := guard.NewBashRequest("ls", "/w", "s1", "/w")
			inv.Record(req, guard.Outcome{Decision: tt.decision}, start.Add(3*time.Millisecond))

			entries := logs.All()
			if len(entries) != 1 {
				t.Fatalf("got %d entries", len(entries))
			}
			e := entries[0]
			if e.Level != tt.level {
				t.Errorf("level = %v, want %v", e.Level, tt.level)
			}
			ctx := e.ContextMap()
			if ctx["invocation_id"] != inv.ID || inv.ID == "" {
				t.Errorf("invocation_id = %v, want %q", ctx["invocation_id"], inv.ID)
			}
			if ctx["decision"] != tt.decision.Kind.String() || ctx["tool"] != "Bash" {
				t.Errorf("fields = %v", ctx)
			}
			if ctx["latency"] != 3*time.Millisecond {
				t.Errorf("latency = %v", ctx["latency"])
			}
			if _, ok := ctx["project_hash"]; !ok {
				t.Error("project_hash missing")
			}
		})
	}
}
