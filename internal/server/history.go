package server

import "sync"

// RingBuffer keeps the most recent console lines.
type RingBuffer struct {
	lines    []string
	maxLines int
	current  int
	full     bool
	mu       sync.RWMutex
}

// NewRingBuffer creates a buffer holding maxLines lines.
func NewRingBuffer(maxLines int) *RingBuffer {
	if maxLines <= 0 {
		maxLines = DefaultHistoryLines
	}
	return &RingBuffer{
		lines:    make([]string, maxLines),
		maxLines: maxLines,
	}
}

// Add appends a line, overwriting the oldest when full.
func (rb *RingBuffer) Add(line string) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.lines[rb.current] = line
	rb.current = (rb.current + 1) % rb.maxLines
	if rb.current == 0 {
		rb.full = true
	}
}

// Lines returns a copy of all lines, oldest first.
func (rb *RingBuffer) Lines() []string {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if !rb.full {
		result := make([]string, rb.current)
		copy(result, rb.lines[:rb.current])
		return result
	}

	result := make([]string, rb.maxLines)
	for i := 0; i < rb.maxLines; i++ {
		result[i] = rb.lines[(rb.current+i)%rb.maxLines]
	}
	return result
}

// Last returns up to n of the newest lines, oldest first.
func (rb *RingBuffer) Last(n int) []string {
	lines := rb.Lines()
	if n < 0 || len(lines) <= n {
		return lines
	}
	return lines[len(lines)-n:]
}
