package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"ringstream/internal/ringbuf"
)

// Errors returned by Open when the activation preconditions of the source
// contract are not met.
var (
	ErrSourceSizeUnknown  = errors.New("stream: source reports a non-positive size, filter cannot activate")
	ErrAlreadySelfLayered = errors.New("stream: source is already a ringstream Filter")
)

// Filter is the consumer-facing seekable stream: it reads ahead from a
// ringbuf.Source into a ring buffer on a background goroutine and serves
// Read/Seek calls from that buffer, smoothing over a slow or high-latency
// source without blocking the caller on every byte.
//
// Filter implements io.ReadSeekCloser. CanFastSeek always reports false at
// this boundary, even if the underlying source itself can fast-seek: every
// seek through a Filter costs at least one Prefetcher round trip to
// reclassify and, for a long seek, re-home the cache.
type Filter struct {
	coord  *ringbuf.Coordinator
	cancel context.CancelFunc
	done   <-chan struct{}

	closeOnce sync.Once
}

var _ io.ReadSeekCloser = (*Filter)(nil)

// IsRingFilter marks Filter as a ringbuf.Source that must not be layered
// under another Filter. Open rejects a source that answers true here.
func (f *Filter) IsRingFilter() bool { return true }

type ringFilterMarker interface {
	IsRingFilter() bool
}

// Open validates the activation preconditions (spec.md §6: the source must
// report a positive size, and a Filter must not be layered on top of
// itself) and, if they hold, spawns the Prefetcher goroutine and returns a
// ready-to-use Filter.
func Open(src ringbuf.Source, cfg ringbuf.Config, log *slog.Logger) (*Filter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if src.Size() <= 0 {
		return nil, ErrSourceSizeUnknown
	}
	if marker, ok := src.(ringFilterMarker); ok && marker.IsRingFilter() {
		return nil, ErrAlreadySelfLayered
	}

	coord := ringbuf.NewCoordinator(cfg, src.Size(), src.CanSeek(), fmt.Sprintf("%T", src))
	ctx, cancel := context.WithCancel(context.Background())
	_, done := ringbuf.StartPrefetcher(ctx, coord, src, cfg, log)

	return &Filter{coord: coord, cancel: cancel, done: done}, nil
}

// Read implements io.Reader. A short, non-zero return signals end of
// stream has been reached mid-delivery; a zero return is reported as
// io.EOF per Go's io.Reader convention.
func (f *Filter) Read(p []byte) (int, error) {
	return f.coord.Read(p)
}

// Peek returns up to n bytes starting at the current read position without
// advancing it. It has the same blocking/terminal-condition semantics as
// Read.
func (f *Filter) Peek(n int) ([]byte, int, error) {
	return f.coord.Peek(int64(n))
}

// Seek implements io.Seeker. The seek is scheduled asynchronously; Position
// reflects the new target immediately even before the Prefetcher has
// caught up.
func (f *Filter) Seek(offset int64, whence int) (int64, error) {
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = f.coord.Position() + offset
	case io.SeekEnd:
		target = f.coord.Size() + offset
	default:
		return 0, errors.New("stream: invalid whence")
	}
	if target < 0 {
		return 0, errors.New("stream: negative seek position")
	}
	if err := f.coord.Seek(target); err != nil {
		return 0, err
	}
	return target, nil
}

// Position returns the absolute offset of the next byte Read will return
// (or the pending seek target, if a seek hasn't been serviced yet).
func (f *Filter) Position() int64 { return f.coord.Position() }

// CachedSize returns the absolute offset of the furthest byte currently
// available without further source I/O.
func (f *Filter) CachedSize() int64 { return f.coord.CachedSize() }

// Size returns the total stream length.
func (f *Filter) Size() int64 { return f.coord.Size() }

// CanSeek reports whether the underlying source supports seeking.
func (f *Filter) CanSeek() bool { return f.coord.CanSeek() }

// CanFastSeek always reports false: see the Filter doc comment.
func (f *Filter) CanFastSeek() bool { return false }

// DrainEvents returns every seek-classification/error/EOS transition
// observed since the last call, without blocking. Callers that want an
// audit trail are expected to poll this the same way they poll Position,
// since ringbuf has no notion of where (or whether) those events are
// logged.
func (f *Filter) DrainEvents() []ringbuf.Event { return f.coord.DrainEvents() }

// Close stops the Prefetcher, cancels any in-flight source I/O, and waits
// for the background goroutine to exit. It is idempotent.
func (f *Filter) Close() error {
	f.closeOnce.Do(func() {
		f.coord.Abort()
		f.cancel()
		<-f.done
	})
	return nil
}
