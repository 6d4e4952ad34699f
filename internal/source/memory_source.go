package source

import (
	"context"
	"fmt"
	"io"
	"sync"

	"ringstream/internal/ringbuf"
)

// MemorySource is an in-memory ringbuf.Source backed by a byte slice. It
// exists for tests and for exercising the scenario suite (S1-S6) without
// standing up a network fixture.
type MemorySource struct {
	mu   sync.Mutex
	data []byte
	pos  int64
}

var _ ringbuf.Source = (*MemorySource)(nil)

// NewMemorySource wraps data for read-only, seekable access.
func NewMemorySource(data []byte) *MemorySource {
	return &MemorySource{data: data}
}

func (m *MemorySource) Read(_ context.Context, p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pos >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[m.pos:])
	m.pos += int64(n)
	return n, nil
}

func (m *MemorySource) Seek(_ context.Context, offset int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if offset < 0 || offset > int64(len(m.data)) {
		return fmt.Errorf("source: seek offset %d out of range [0,%d]", offset, len(m.data))
	}
	m.pos = offset
	return nil
}

func (m *MemorySource) Tell() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pos
}

func (m *MemorySource) Size() int64       { return int64(len(m.data)) }
func (m *MemorySource) CanSeek() bool     { return true }
func (m *MemorySource) CanFastSeek() bool { return true }
