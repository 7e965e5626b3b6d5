package logging

import (
	"os"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNewWritesJSONToProjectLog(t *testing.T) {
	projectDir := t.TempDir()
	logger, err := New(projectDir, "debug")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Debug("step finished")
	_ = logger.Sync()

	data, err := os.ReadFile(Path(projectDir))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	text := string(data)
	if !strings.Contains(text, `"msg":"step finished"`) {
		t.Fatalf("expected debug entry in log, got %q", text)
	}
	if !strings.Contains(text, `"logger":"director"`) {
		t.Fatalf("expected named logger, got %q", text)
	}
}

func TestParseLevel(t *testing.T) {
	if lvl, err := ParseLevel(""); err != nil || lvl != zapcore.InfoLevel {
		t.Fatalf("expected empty level to mean info, got %v %v", lvl, err)
	}
	if lvl, err := ParseLevel(" WARN "); err != nil || lvl != zapcore.WarnLevel {
		t.Fatalf("expected warn, got %v %v", lvl, err)
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatalf("expected unknown level to fail")
	}
}

func TestOrNop(t *testing.T) {
	if OrNop(nil) == nil {
		t.Fatalf("expected a no-op logger")
	}
}
