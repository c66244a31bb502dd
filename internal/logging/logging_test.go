package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/54b3r/brandrag/internal/apperr"
)

func TestNewWithWriter_JSONIncludesComponentAndCode(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := Component(NewWithWriter(&buf, "debug", "json"), "engine")

	err := apperr.Wrap(errors.New("boom"), apperr.CodeStoreFailure, "scan")
	log.Error("retrieve failed", Err(err))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if entry["component"] != "engine" {
		t.Errorf("component = %v, want engine", entry["component"])
	}
	errGroup, ok := entry["error"].(map[string]any)
	if !ok {
		t.Fatalf("error attr = %T, want group", entry["error"])
	}
	if errGroup["code"] != string(apperr.CodeStoreFailure) {
		t.Errorf("code = %v, want %s", errGroup["code"], apperr.CodeStoreFailure)
	}
}

func TestNewWithWriter_LevelFilters(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewWithWriter(&buf, "warn", "text")
	log.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info logged at warn level: %q", buf.String())
	}
	log.Warn("shown")
	if buf.Len() == 0 {
		t.Fatal("warn not logged")
	}
}

func TestFromContext_DefaultsWhenMissing(t *testing.T) {
	t.Parallel()

	if FromContext(context.Background()) == nil {
		t.Fatal("FromContext returned nil")
	}
	l := Discard()
	if got := FromContext(WithLogger(context.Background(), l)); got != l {
		t.Fatal("FromContext did not return stored logger")
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"debug":   "DEBUG",
		"WARNING": "WARN",
		"error":   "ERROR",
		"":        "INFO",
		"bogus":   "INFO",
	}
	for in, want := range tests {
		if got := parseLevel(in).String(); got != want {
			t.Errorf("parseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}
