package export

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWriterWritesAndReplaces(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "exports")
	w := NewWriter(dir)
	name := TranscriptName("Bio 101: Plants", time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))

	if name != "transcript-Bio-101-Plants-2026-03-01.txt" {
		t.Fatalf("unexpected name %q", name)
	}

	path, err := w.Write(name, "first")
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if _, err := w.Write(name, "second"); err != nil {
		t.Fatalf("second Write failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "second" {
		t.Fatalf("expected replaced content, got %q", string(data))
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("expected temp file removed, got %v", err)
	}
}

func TestWriterRejectsPathTraversal(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)

	path, err := w.Write("../escape.txt", "x")
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if filepath.Dir(path) != dir {
		t.Fatalf("expected file inside %s, got %s", dir, path)
	}
}

func TestExportNames(t *testing.T) {
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if got := ResultsName(at); got != "all-poll-results-2026-03-01.txt" {
		t.Fatalf("unexpected results name %q", got)
	}
	if got := PollResultName("p/1"); got != "poll-results-p-1.txt" {
		t.Fatalf("unexpected poll result name %q", got)
	}
	if got := TranscriptName("   ", at); got != "transcript-session-2026-03-01.txt" {
		t.Fatalf("unexpected fallback name %q", got)
	}
}
