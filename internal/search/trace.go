package search

import (
	"sync"

	"github.com/iammorganparry/cmem/internal/models"
)

// Tracer keeps the most recent search traces in a fixed-size ring.
type Tracer struct {
	mu     sync.Mutex
	buf    []models.SearchTrace
	next   int
	filled bool
}

func NewTracer(size int) *Tracer {
	if size <= 0 {
		size = 100
	}
	return &Tracer{buf: make([]models.SearchTrace, size)}
}

func (t *Tracer) Record(tr models.SearchTrace) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf[t.next] = tr
	t.next = (t.next + 1) % len(t.buf)
	if t.next == 0 {
		t.filled = true
	}
}

// Recent returns up to n traces, newest first.
func (t *Tracer) Recent(n int) []models.SearchTrace {
	t.mu.Lock()
	defer t.mu.Unlock()

	count := t.next
	if t.filled {
		count = len(t.buf)
	}
	if n <= 0 || n > count {
		n = count
	}
	out := make([]models.SearchTrace, 0, n)
	for i := 1; i <= n; i++ {
		idx := (t.next - i + len(t.buf)) % len(t.buf)
		out = append(out, t.buf[idx])
	}
	return out
}
