package clog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func newBufferLogger(t *testing.T, level string, opts ...Option) (Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger, err := New(&Config{Level: level, Format: "json"}, append(opts, WithWriter(&buf))...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return logger, &buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("日志行不是合法 JSON: %q: %v", line, err)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{name: "valid config", config: &Config{Level: "info", Format: "console", Output: "stdout"}},
		{name: "nil config", config: nil},
		{name: "invalid level", config: &Config{Level: "verbose"}, wantErr: true},
		{name: "invalid format", config: &Config{Level: "info", Format: "xml"}, wantErr: true},
		{name: "defaults filled", config: &Config{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.config)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && logger == nil {
				t.Fatal("New() returned nil logger on success")
			}
		})
	}
}

func TestLoggerLevels(t *testing.T) {
	logger, buf := newBufferLogger(t, "debug")

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	entries := decodeLines(t, buf)
	want := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	if len(entries) != len(want) {
		t.Fatalf("期望 %d 行日志，得到 %d", len(want), len(entries))
	}
	for i, e := range entries {
		if e["level"] != want[i] {
			t.Errorf("第 %d 行 level = %v，期望 %s", i, e["level"], want[i])
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	logger, buf := newBufferLogger(t, "warn")

	logger.Debug("hidden")
	logger.Info("hidden")
	logger.Warn("shown")

	if entries := decodeLines(t, buf); len(entries) != 1 {
		t.Fatalf("warn 级别下期望 1 行日志，得到 %d", len(entries))
	}
}

func TestSetLevel(t *testing.T) {
	logger, buf := newBufferLogger(t, "info")
	child := logger.WithNamespace("child")

	child.Debug("before")
	if err := logger.SetLevel(DebugLevel); err != nil {
		t.Fatalf("SetLevel() error = %v", err)
	}
	child.Debug("after")

	entries := decodeLines(t, buf)
	if len(entries) != 1 || entries[0]["msg"] != "after" {
		t.Fatalf("SetLevel 应对子 Logger 生效，得到 %v", entries)
	}
}

func TestNamespaceAndWith(t *testing.T) {
	logger, buf := newBufferLogger(t, "info", WithNamespace("mesh"))

	gw := logger.WithNamespace("gateway").With(String("route", "/api/users/*"))
	gw.Info("forward", Int("status", 200))
	logger.Info("root")

	entries := decodeLines(t, buf)
	if len(entries) != 2 {
		t.Fatalf("期望 2 行日志，得到 %d", len(entries))
	}
	if entries[0][NamespaceKey] != "mesh.gateway" {
		t.Errorf("namespace = %v，期望 mesh.gateway", entries[0][NamespaceKey])
	}
	if entries[0]["route"] != "/api/users/*" || entries[0]["status"] != float64(200) {
		t.Errorf("字段缺失: %v", entries[0])
	}
	if entries[1][NamespaceKey] != "mesh" {
		t.Errorf("父 Logger namespace 被修改: %v", entries[1][NamespaceKey])
	}
	if _, ok := entries[1]["route"]; ok {
		t.Error("With 不应影响父 Logger")
	}
}

func TestTraceContextExtraction(t *testing.T) {
	logger, buf := newBufferLogger(t, "info", WithTraceContext())

	ctx := ContextWithTrace(context.Background(), "4bf92f3577b34da6a3ce929d0e0e4736", "00f067aa0ba902b7")
	logger.InfoContext(ctx, "traced")
	logger.InfoContext(context.Background(), "untraced")

	entries := decodeLines(t, buf)
	if entries[0]["trace_id"] != "4bf92f3577b34da6a3ce929d0e0e4736" || entries[0]["span_id"] != "00f067aa0ba902b7" {
		t.Errorf("trace 字段缺失: %v", entries[0])
	}
	if _, ok := entries[1]["trace_id"]; ok {
		t.Error("无 trace 的 Context 不应输出 trace_id")
	}
}

func TestContextField(t *testing.T) {
	type requestIDKey struct{}
	logger, buf := newBufferLogger(t, "info", WithContextField(requestIDKey{}, "request_id"))

	ctx := context.WithValue(context.Background(), requestIDKey{}, "req-1")
	logger.InfoContext(ctx, "with request id")

	if entries := decodeLines(t, buf); entries[0]["request_id"] != "req-1" {
		t.Errorf("request_id = %v，期望 req-1", entries[0]["request_id"])
	}
}

func TestErrorFields(t *testing.T) {
	logger, buf := newBufferLogger(t, "info")

	logger.Error("failed", Error(errors.New("dial tcp: refused")), Error(nil))
	logger.Error("coded", ErrorWithCode(errors.New("no route"), "ROUTE_MISS"))

	entries := decodeLines(t, buf)
	if entries[0]["err_msg"] != "dial tcp: refused" {
		t.Errorf("err_msg = %v", entries[0]["err_msg"])
	}
	group, ok := entries[1]["error"].(map[string]any)
	if !ok || group["code"] != "ROUTE_MISS" || group["msg"] != "no route" {
		t.Errorf("error group = %v", entries[1]["error"])
	}
}

func TestParseLevel(t *testing.T) {
	for _, s := range []string{"debug", "INFO", "Warn", "error", "fatal"} {
		level, err := ParseLevel(s)
		if err != nil {
			t.Errorf("ParseLevel(%q) error = %v", s, err)
		}
		if !strings.EqualFold(level.String(), s) {
			t.Errorf("ParseLevel(%q).String() = %q", s, level.String())
		}
	}
	if _, err := ParseLevel("trace"); err == nil {
		t.Error("ParseLevel(trace) 应返回错误")
	}
}

func TestTrimSourcePath(t *testing.T) {
	if got := trimSourcePath("/home/dev/mesh/gateway/gateway.go", ""); got != "mesh/gateway/gateway.go" {
		t.Errorf("trimSourcePath = %q", got)
	}
	if got := trimSourcePath("/src/app/registry/registry.go", "/src/app"); got != "registry/registry.go" {
		t.Errorf("trimSourcePath with root = %q", got)
	}
}

func TestDiscard(t *testing.T) {
	logger := Discard()
	logger.Info("nothing")
	logger.WithNamespace("x").With(String("k", "v")).ErrorContext(context.Background(), "nothing")
	if err := logger.SetLevel(DebugLevel); err != nil {
		t.Errorf("Discard().SetLevel() error = %v", err)
	}
}
