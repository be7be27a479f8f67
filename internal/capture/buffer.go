package capture

import (
	"strings"
	"sync"
)

// utteranceBuffer accumulates final transcript pieces until the recognizer
// signals the end of the utterance.
type utteranceBuffer struct {
	mu    sync.Mutex
	parts []string
}

func (b *utteranceBuffer) Add(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	b.mu.Lock()
	b.parts = append(b.parts, text)
	b.mu.Unlock()
}

// Flush returns the buffered utterance and resets the buffer. It returns ""
// when nothing is buffered.
func (b *utteranceBuffer) Flush() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.parts) == 0 {
		return ""
	}
	out := strings.Join(b.parts, " ")
	b.parts = nil
	return out
}

func (b *utteranceBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.parts)
}
