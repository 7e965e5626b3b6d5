package logbook

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestTailReturnsRecentLinesAndTotal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	book, err := New(path)
	if err != nil {
		t.Fatalf("new logbook: %v", err)
	}
	for i := 0; i < 5; i++ {
		book.Info("entry-%d", i)
	}
	lines, total := book.Tail(3)
	if total != 5 {
		t.Fatalf("total lines = %d, want 5", total)
	}
	if len(lines) != 3 {
		t.Fatalf("len(lines) = %d, want 3", len(lines))
	}
	for idx, want := range []string{"entry-2", "entry-3", "entry-4"} {
		if !strings.Contains(lines[idx], want) {
			t.Fatalf("line %d = %q, missing %s", idx, lines[idx], want)
		}
	}
}

func TestTailOnMissingFile(t *testing.T) {
	book, err := New(filepath.Join(t.TempDir(), "logs", FileName))
	if err != nil {
		t.Fatalf("new logbook: %v", err)
	}
	lines, total := book.Tail(10)
	if lines != nil || total != 0 {
		t.Fatalf("expected empty tail, got %v %d", lines, total)
	}
}

func TestRecentParsesEntries(t *testing.T) {
	book, err := New(filepath.Join(t.TempDir(), FileName))
	if err != nil {
		t.Fatalf("new logbook: %v", err)
	}
	fixed := time.Date(2026, 5, 2, 9, 30, 0, 0, time.UTC)
	book.clock = func() time.Time { return fixed }
	book.Warn("step %s failed:\n  status 502", "outline")
	book.Error("delete failed")

	entries := book.Recent(5)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	first := entries[0]
	if first.Level != LevelWarn || !first.Time.Equal(fixed) {
		t.Fatalf("unexpected first entry: %+v", first)
	}
	if first.Message != "step outline failed: status 502" {
		t.Fatalf("expected folded message, got %q", first.Message)
	}
	if entries[1].Level != LevelError {
		t.Fatalf("expected error level, got %s", entries[1].Level)
	}
}

func TestParseLineKeepsForeignText(t *testing.T) {
	entry := ParseLine("not a journal line")
	if entry.Level != LevelInfo || entry.Message != "not a journal line" {
		t.Fatalf("unexpected entry: %+v", entry)
	}
}

func TestNilLogbookIsSafe(t *testing.T) {
	var book *Logbook
	book.Info("ignored")
	if lines, total := book.Tail(3); lines != nil || total != 0 {
		t.Fatalf("expected nil logbook to return nothing")
	}
}
