package process

import (
	"sync"
	"time"
)

// LogEntry is one line of captured process output.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Stream    string    `json:"stream"` // "stdout" or "stderr"
	Line      string    `json:"line"`
}

// logBuffer is a fixed-capacity ring of the most recent output lines.
// Safe for concurrent use.
type logBuffer struct {
	mu      sync.Mutex
	entries []LogEntry
	next    int // index the next entry is written to
	full    bool
}

func newLogBuffer(capacity int) *logBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &logBuffer{entries: make([]LogEntry, capacity)}
}

func (b *logBuffer) add(e LogEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries[b.next] = e
	b.next++
	if b.next == len(b.entries) {
		b.next = 0
		b.full = true
	}
}

func (b *logBuffer) len() int {
	if b.full {
		return len(b.entries)
	}
	return b.next
}

// lastN returns up to n of the most recent entries, oldest first.
func (b *logBuffer) lastN(n int) []LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()

	size := b.len()
	if n > size {
		n = size
	}
	if n <= 0 {
		return []LogEntry{}
	}

	out := make([]LogEntry, n)
	start := b.next - n
	if start < 0 {
		start += len(b.entries)
	}
	for i := 0; i < n; i++ {
		out[i] = b.entries[(start+i)%len(b.entries)]
	}
	return out
}
