package logger

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"sync/atomic"
	"testing"
)

func TestWithComponent(t *testing.T) {
	log := Logger()
	entry := log.WithComponent("engine")
	if v, ok := entry.Entry.Data["component"]; !ok || v != "engine" {
		t.Fatalf("component field missing: %v", entry.Entry.Data)
	}
}

func TestConfigureInvalidLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	if err := log.Configure("invalid", "json", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid level")
	}
}

func TestConfigureInvalidFormat(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	if err := log.Configure("info", "xml", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid format")
	}
}

func TestConfigureReportLevelAndFileOutput(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	path := filepath.Join(t.TempDir(), "scalpflow.log")
	if err := log.Configure("report", "text", path, 1); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if log.GetLevel().String() != "info" {
		t.Fatalf("report level should map to info, got %s", log.GetLevel())
	}
}

func TestWithEnv(t *testing.T) {
	t.Setenv("SCALP_ENV_SAMPLE", "bar")
	log := Logger()
	entry := log.WithEnv("SCALP_ENV_SAMPLE")
	if v, ok := entry.Entry.Data["SCALP_ENV_SAMPLE"]; !ok || v != "bar" {
		t.Fatalf("env field not set: %v", entry.Entry.Data)
	}
}

func TestWarnCountsPerComponent(t *testing.T) {
	log := Logger()
	log.SetOutput(&bytes.Buffer{})

	before := int64(0)
	if v, ok := warnCounts.Load("warn_counter"); ok {
		before = atomic.LoadInt64(v.(*int64))
	}
	log.WithComponent("warn_counter").Warn("counted")

	v, ok := warnCounts.Load("warn_counter")
	if !ok || atomic.LoadInt64(v.(*int64)) != before+1 {
		t.Fatalf("warn counter not incremented")
	}
}

func TestLogMetricWritesFields(t *testing.T) {
	var buf bytes.Buffer
	log := Logger()
	log.SetOutput(&buf)

	log.LogMetric("engine", "evaluations", int64(3), "", nil)

	var line map[string]interface{}
	if err := json.Unmarshal(bytes.Split(buf.Bytes(), []byte("\n"))[0], &line); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if line["metric"] != "evaluations" || line["metric_type"] != "counter" {
		t.Fatalf("unexpected metric line: %v", line)
	}
}
