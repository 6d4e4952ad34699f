package ringbuf

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// memSource is a minimal in-memory ringbuf.Source test double. The
// user-facing scenario tests (S1-S6) run through stream.Filter instead,
// against source.MemorySource and sources local to that package; this one
// stays local to avoid an import cycle (source imports ringbuf to satisfy
// this interface).
type memSource struct {
	mu      sync.Mutex
	data    []byte
	pos     int64
	canSeek bool
	seekErr error
	readErr error
	onRead  func()
}

func newMemSource(data []byte) *memSource {
	return &memSource{data: data, canSeek: true}
}

func (m *memSource) Read(_ context.Context, p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.onRead != nil {
		m.onRead()
	}
	if m.readErr != nil {
		return 0, m.readErr
	}
	if m.pos >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[m.pos:])
	m.pos += int64(n)
	return n, nil
}

func (m *memSource) Seek(_ context.Context, offset int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seekErr != nil {
		return m.seekErr
	}
	m.pos = offset
	return nil
}

func (m *memSource) Tell() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pos
}

func (m *memSource) Size() int64       { return int64(len(m.data)) }
func (m *memSource) CanSeek() bool     { return m.canSeek }
func (m *memSource) CanFastSeek() bool { return false }

func newTestFixture(t *testing.T, data []byte) (*Coordinator, *memSource, func()) {
	t.Helper()
	cfg := fastPollConfig()
	cfg.BlockSize = 8
	cfg.BlockCount = 4
	cfg.RWGuard = 1
	cfg.SeekGuard = 1
	cfg.StepRead = 4
	cfg.LongSeekThreshold = 16

	src := newMemSource(data)
	coord := NewCoordinator(cfg, src.Size(), src.CanSeek(), "testSource")
	ctx, cancel := context.WithCancel(context.Background())
	_, done := StartPrefetcher(ctx, coord, src, cfg, nil)

	stop := func() {
		coord.Abort()
		cancel()
		<-done
	}
	return coord, src, stop
}

func TestPrefetcherFillsAndConsumerReadsSequentially(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")
	coord, _, stop := newTestFixture(t, data)
	defer stop()

	out := make([]byte, len(data))
	total := 0
	for total < len(data) {
		n, err := coord.Read(out[total:])
		require.NoError(t, err)
		total += n
	}
	require.Equal(t, string(data), string(out))
}

func TestPrefetcherReachesEOSAndShortRead(t *testing.T) {
	data := []byte("short")
	coord, _, stop := newTestFixture(t, data)
	defer stop()

	out := make([]byte, 100)
	got := 0
	deadline := time.Now().Add(2 * time.Second)
	for got < len(data) && time.Now().Before(deadline) {
		n, err := coord.Read(out[got:])
		require.NoError(t, err)
		got += n
	}
	require.Equal(t, string(data), string(out[:got]))

	n, err := coord.Read(out)
	require.Equal(t, 0, n)
	require.ErrorIs(t, err, io.EOF)
}

func TestPrefetcherShortSeekServesFromCache(t *testing.T) {
	data := []byte("0123456789abcdefghijklmnopqrstuvwxyz")
	coord, src, stop := newTestFixture(t, data)
	defer stop()

	out := make([]byte, 5)
	_, err := coord.Read(out)
	require.NoError(t, err)
	require.Equal(t, "01234", string(out))

	require.NoError(t, coord.Seek(0))
	require.Eventually(t, func() bool {
		return coord.Position() == 0
	}, time.Second, 5*time.Millisecond)

	out2 := make([]byte, 5)
	n, err := coord.Read(out2)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, "01234", string(out2))

	// A short seek never touches the source's own position a second time
	// beyond what sequential prefetching already did.
	require.LessOrEqual(t, src.Tell(), int64(len(data)))
}

func TestPrefetcherLongSeekRepositionsSource(t *testing.T) {
	data := make([]byte, 100)
	for i := range data {
		data[i] = byte('A' + i%26)
	}
	coord, _, stop := newTestFixture(t, data)
	defer stop()

	// Beyond cache_end (~30, the normal write limit for this fixture's
	// small capacity) plus LongSeekThreshold (16), so this classifies as a
	// long seek rather than a middle-seek catch-up.
	target := int64(60)
	require.NoError(t, coord.Seek(target))

	out := make([]byte, 5)
	require.Eventually(t, func() bool {
		n, err := coord.Read(out)
		return err == nil && n == 5
	}, 2*time.Second, 5*time.Millisecond)

	require.Equal(t, string(data[target:target+5]), string(out))
}

func TestPrefetcherSourceErrorLatches(t *testing.T) {
	data := []byte("0123456789")
	coord, src, stop := newTestFixture(t, data)
	defer stop()

	boom := errors.New("disk fell over")
	src.mu.Lock()
	src.readErr = boom
	src.mu.Unlock()

	out := make([]byte, 5)
	require.Eventually(t, func() bool {
		_, err := coord.Read(out)
		return errors.Is(err, ErrSource)
	}, 2*time.Second, 5*time.Millisecond)
}
