package processing

import (
	"strings"
	"sync"
)

// stderrTail keeps the most recent whole lines of stderr output, at most
// limit bytes in total (counting one newline per line), for attachment to
// a ProcessingFailed error. Lines are evicted whole, oldest first, so a
// single line longer than limit is not kept.
type stderrTail struct {
	mu    sync.Mutex
	limit int
	lines []string
	size  int
}

func newStderrTail(limit int) *stderrTail {
	return &stderrTail{limit: limit}
}

func (t *stderrTail) append(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
	t.size += len(line) + 1
	for t.size > t.limit && len(t.lines) > 0 {
		t.size -= len(t.lines[0]) + 1
		t.lines = t.lines[1:]
	}
}

// String returns the buffered tail, or an empty string if nothing was
// captured.
func (t *stderrTail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.lines) == 0 {
		return ""
	}
	return strings.Join(t.lines, "\n")
}
