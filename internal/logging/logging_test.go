package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestJSONLoggerCarriesApp(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(&buf, "debug", "json", false)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger.Debug().Str("task", "t1").Msg("moved")
	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	if line["app"] != "taskboard" || line["task"] != "t1" || line["message"] != "moved" {
		t.Fatalf("unexpected log line: %v", line)
	}
}

func TestLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(&buf, "warn", "json", false)
	if err != nil {
		t.Fatal(err)
	}
	logger.Info().Msg("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn, got %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	if lvl, err := ParseLevel(""); err != nil || lvl != zerolog.InfoLevel {
		t.Fatalf("expected info default, got %v %v", lvl, err)
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
	if _, err := newLogger(&bytes.Buffer{}, "info", "xml", false); err == nil {
		t.Fatalf("expected error for unknown format")
	}
}
