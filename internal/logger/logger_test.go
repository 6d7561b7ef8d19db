package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("log line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestBuildFieldNames(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "info", RunID: "abc12345", Component: "quadtiler"}, &buf)
	zl.Info().Str("stage", "index").Msg("hello")

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("got %d lines", len(lines))
	}
	m := lines[0]
	if m["msg"] != "hello" {
		t.Fatalf("msg = %v", m["msg"])
	}
	if m["level"] != "info" {
		t.Fatalf("level = %v", m["level"])
	}
	if m["run_id"] != "abc12345" || m["component"] != "quadtiler" {
		t.Fatalf("run_id/component = %v/%v", m["run_id"], m["component"])
	}
	ts, ok := m["timestamp"].(string)
	if !ok {
		t.Fatalf("timestamp missing: %v", m)
	}
	if _, err := time.Parse(time.RFC3339Nano, ts); err != nil {
		t.Fatalf("timestamp %q: %v", ts, err)
	}
	if m["stage"] != "index" {
		t.Fatalf("stage = %v", m["stage"])
	}
}

func TestBuildLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "warn"}, &buf)
	zl.Info().Msg("dropped")
	zl.Warn().Msg("kept")

	lines := decodeLines(t, &buf)
	if len(lines) != 1 || lines[0]["msg"] != "kept" {
		t.Fatalf("lines = %v", lines)
	}
}

func TestSlogBridge(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "debug"}, &buf)
	log := NewSlog(&zl)

	ctx := WithTileID(context.Background(), "2-1-3")
	log.InfoContext(ctx, "tile done",
		"count", int64(42),
		"ratio", 0.5,
		"ok", true,
		"elapsed", 1500*time.Millisecond)

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("got %d lines", len(lines))
	}
	m := lines[0]
	if m["msg"] != "tile done" {
		t.Fatalf("msg = %v", m["msg"])
	}
	if m["tile_id"] != "2-1-3" {
		t.Fatalf("tile_id = %v", m["tile_id"])
	}
	if m["count"] != float64(42) {
		t.Fatalf("count = %v", m["count"])
	}
	if m["ratio"] != 0.5 {
		t.Fatalf("ratio = %v", m["ratio"])
	}
	if m["ok"] != true {
		t.Fatalf("ok = %v", m["ok"])
	}
	if _, present := m["elapsed"]; !present {
		t.Fatalf("elapsed missing: %v", m)
	}
}

func TestSlogBridgeLevels(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "debug"}, &buf)
	log := NewSlog(&zl)

	log.Debug("d")
	log.Info("i")
	log.Warn("w")
	log.Error("e")

	lines := decodeLines(t, &buf)
	if len(lines) != 4 {
		t.Fatalf("got %d lines", len(lines))
	}
	for i, want := range []string{"debug", "info", "warn", "error"} {
		if lines[i]["level"] != want {
			t.Fatalf("line %d level = %v, want %s", i, lines[i]["level"], want)
		}
	}
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "info"}, &buf)

	ctx := WithRunID(context.Background(), "run-1")
	ctx = WithTileID(ctx, "1-0-0")
	ctx = WithComponent(ctx, "export")
	FromContext(ctx, &zl).Info().Msg("ctx fields")

	lines := decodeLines(t, &buf)
	m := lines[0]
	if m["run_id"] != "run-1" || m["tile_id"] != "1-0-0" || m["component"] != "export" {
		t.Fatalf("context fields missing: %v", m)
	}
}
