package export

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

var unsafeName = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// Writer saves exports as text files under one directory. Writing a name
// that already exists replaces the file.
type Writer struct {
	dir string
	mu  sync.Mutex
}

func NewWriter(dir string) *Writer {
	if strings.TrimSpace(dir) == "" {
		dir = filepath.Join("data", "exports")
	}
	return &Writer{dir: dir}
}

func (w *Writer) Dir() string {
	return w.dir
}

// TranscriptName is "transcript-<title>-<date>.txt".
func TranscriptName(title string, at time.Time) string {
	return fmt.Sprintf("transcript-%s-%s.txt", slug(title), at.Format("2006-01-02"))
}

// ResultsName is "all-poll-results-<date>.txt".
func ResultsName(at time.Time) string {
	return fmt.Sprintf("all-poll-results-%s.txt", at.Format("2006-01-02"))
}

// PollResultName is "poll-results-<poll id>.txt".
func PollResultName(pollID string) string {
	return fmt.Sprintf("poll-results-%s.txt", slug(pollID))
}

// Write stores content as name and returns the full path.
func (w *Writer) Write(name, content string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", w.dir, err)
	}

	path := filepath.Join(w.dir, filepath.Base(name))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("rename %s: %w", path, err)
	}
	return path, nil
}

func slug(s string) string {
	s = strings.Trim(unsafeName.ReplaceAllString(strings.TrimSpace(s), "-"), "-")
	if s == "" {
		return "session"
	}
	return s
}
