package stream

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ringstream/internal/ringbuf"
	"ringstream/internal/source"
)

// counterSource serves byte[i] = i mod 256 over size bytes, and records how
// many times Seek is called so scenario tests can assert that a short seek
// never touches the source.
type counterSource struct {
	mu        sync.Mutex
	size      int64
	pos       int64
	seekCalls int64
}

func newCounterSource(size int64) *counterSource {
	return &counterSource{size: size}
}

func (c *counterSource) Read(_ context.Context, p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pos >= c.size {
		return 0, io.EOF
	}
	n := 0
	for n < len(p) && c.pos < c.size {
		p[n] = byte(c.pos % 256)
		n++
		c.pos++
	}
	return n, nil
}

func (c *counterSource) Seek(_ context.Context, offset int64) error {
	atomic.AddInt64(&c.seekCalls, 1)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pos = offset
	return nil
}

func (c *counterSource) Tell() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pos
}

func (c *counterSource) Size() int64       { return c.size }
func (c *counterSource) CanSeek() bool     { return true }
func (c *counterSource) CanFastSeek() bool { return false }
func (c *counterSource) SeekCallCount() int64 {
	return atomic.LoadInt64(&c.seekCalls)
}

func scenarioConfig() ringbuf.Config {
	cfg := ringbuf.DefaultConfig()
	cfg.PollInterval = 5 * time.Millisecond
	return cfg
}

func readFull(t *testing.T, f *Filter, n int) []byte {
	t.Helper()
	buf := make([]byte, n)
	total := 0
	deadline := time.Now().Add(10 * time.Second)
	for total < n {
		got, err := f.Read(buf[total:])
		require.NoError(t, err)
		total += got
		if got == 0 {
			require.True(t, time.Now().Before(deadline), "read stalled")
		}
	}
	return buf
}

func counterExpected(start, n int64) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte((start + int64(i)) % 256)
	}
	return out
}

// S1: sequential read of 160 x 32 KiB from a 5 MiB source, then EOS.
func TestScenarioSequentialRead(t *testing.T) {
	const chunk = 32 * 1024
	const total = 160 * chunk
	data := make([]byte, total)
	for i := range data {
		data[i] = 'b'
	}
	src := source.NewMemorySource(data)
	f, err := Open(src, scenarioConfig(), nil)
	require.NoError(t, err)
	defer f.Close()

	for i := 0; i < 160; i++ {
		buf := readFull(t, f, chunk)
		for _, b := range buf {
			require.Equal(t, byte('b'), b)
		}
	}

	buf := make([]byte, 1)
	n, err := f.Read(buf)
	require.Equal(t, 0, n)
	require.ErrorIs(t, err, io.EOF)
}

// S2: short backward seek serves from cache, no source seek issued.
func TestScenarioShortBackwardSeek(t *testing.T) {
	const size = 4 << 20
	src := newCounterSource(size)
	cfg := scenarioConfig()
	f, err := Open(src, cfg, nil)
	require.NoError(t, err)
	defer f.Close()

	_ = readFull(t, f, 2<<20)

	_, err = f.Seek(1<<20, io.SeekStart)
	require.NoError(t, err)

	got := readFull(t, f, 1024)
	require.Equal(t, counterExpected(1<<20, 1024), got)
	require.EqualValues(t, 0, src.SeekCallCount(), "short seek must not touch the source")
}

// S3: long forward seek issues a real source seek.
func TestScenarioLongForwardSeek(t *testing.T) {
	const size = 100 << 20
	src := newCounterSource(size)
	cfg := scenarioConfig()
	f, err := Open(src, cfg, nil)
	require.NoError(t, err)
	defer f.Close()

	_ = readFull(t, f, 1<<20)

	_, err = f.Seek(50<<20, io.SeekStart)
	require.NoError(t, err)

	got := readFull(t, f, 1024)
	require.Equal(t, counterExpected(50<<20, 1024), got)
	require.Greater(t, src.SeekCallCount(), int64(0), "long seek must reposition the source")
}

// S4: middle seek (inside [cache_end, cache_end+LongSeekThreshold)) drains
// the gap sequentially instead of repositioning the source. The seek is
// issued immediately after Open, while the cache window is normally still
// below the target, so it classifies as middle; if the Prefetcher's fill
// has already passed the target it classifies as short instead. A target
// inside the default 1 MiB threshold can never classify as long.
func TestScenarioMiddleSeek(t *testing.T) {
	const size = 100 << 20
	const target = 500 * 1024
	src := newCounterSource(size)
	cfg := scenarioConfig()
	f, err := Open(src, cfg, nil)
	require.NoError(t, err)
	defer f.Close()

	_, err = f.Seek(target, io.SeekStart)
	require.NoError(t, err)
	require.Equal(t, int64(target), f.Position())

	got := readFull(t, f, 1024)
	require.Equal(t, counterExpected(target, 1024), got)
	require.EqualValues(t, 0, src.SeekCallCount(), "middle seek must drain sequentially, not reposition the source")
}

// S5: reading through to EOS, then seeking to 0, clears buffered EOS and
// succeeds.
func TestScenarioEOSThenSeek(t *testing.T) {
	data := []byte("abcdefghijklmnopqrstuvwxyz")
	src := source.NewMemorySource(data)
	cfg := scenarioConfig()
	f, err := Open(src, cfg, nil)
	require.NoError(t, err)
	defer f.Close()

	_ = readFull(t, f, len(data))

	buf := make([]byte, 1)
	require.Eventually(t, func() bool {
		n, err := f.Read(buf)
		return n == 0 && err == io.EOF
	}, 2*time.Second, 5*time.Millisecond)

	_, err = f.Seek(0, io.SeekStart)
	require.NoError(t, err)

	got := readFull(t, f, 4)
	require.Equal(t, "abcd", string(got))
}

// S6: cancellation unblocks a stalled read promptly and Close returns.
func TestScenarioCancellation(t *testing.T) {
	src := &stallingSource{size: 10 << 20}
	cfg := scenarioConfig()
	f, err := Open(src, cfg, nil)
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		buf := make([]byte, 1024)
		_, err := f.Read(buf)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	closeStart := time.Now()
	require.NoError(t, f.Close())

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ringbuf.ErrCancelled)
		require.Less(t, time.Since(closeStart), 2*time.Second)
	case <-time.After(2 * time.Second):
		t.Fatal("read did not unblock on Close")
	}
}

// stallingSource never returns any bytes from Read until its context is
// cancelled, modeling a source wedged on the network.
type stallingSource struct {
	size int64
}

func (s *stallingSource) Read(ctx context.Context, _ []byte) (int, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}
func (s *stallingSource) Seek(_ context.Context, _ int64) error { return nil }
func (s *stallingSource) Tell() int64                           { return 0 }
func (s *stallingSource) Size() int64                           { return s.size }
func (s *stallingSource) CanSeek() bool                         { return true }
func (s *stallingSource) CanFastSeek() bool                     { return false }
