package ringbuf

import (
	"fmt"
	"io"
	"sync"
	"time"

	"ringstream/internal/metrics"
)

// seekClass is the short/middle/long classification of a pending seek,
// computed fresh against the current cache window every time the Prefetcher
// looks at it.
type seekClass int

const (
	seekNone seekClass = iota
	seekShort
	seekMiddle
	seekLong
)

// Coordinator holds all mutable stream and control state and the single
// mutex guarding it, plus the two condition variables the Prefetcher and any
// number of Read/Peek/Seek callers rendezvous on. One Coordinator serves
// exactly one Filter; it is not meant to be shared across sources.
type Coordinator struct {
	cfg   Config
	store *RingStore

	mu        sync.Mutex
	readWake  *sync.Cond
	writeWake *sync.Cond

	// cursors, logical indices into store, always in [0, capacity)
	readIdx  int64
	writeIdx int64

	bufferSize int64 // writeIdx - readIdx, mod capacity

	cacheBaseIdx    int64
	cacheBaseOffset int64
	cacheSize       int64

	streamOffset int64 // absolute offset of next byte Read will return
	streamSize   int64 // immutable after construction
	canSeek      bool

	seekRequested bool
	seekTarget    int64

	bufferedEOS bool
	errFlag     bool
	err         error
	abort       bool

	scratch []byte // Peek's growable scratch buffer

	sourceLabel        string // for the source_errors_total metric, e.g. "*source.HTTPRangeSource"
	seekStartedAt      time.Time
	lastSeekEventClass seekClass
	events             chan Event
}

// Event is a lifecycle/seek-classification transition observed by the
// Coordinator, for a caller (stream.Filter and above) to forward into an
// audit log without ringbuf itself depending on one. Kind mirrors the
// audit package's EventKind strings so callers can pass it straight
// through without a lookup table.
type Event struct {
	Kind   string
	Offset int64
}

// emitEventLocked drops the event if the buffer is full rather than
// blocking the Coordinator on a slow or absent drain. Callers hold c.mu.
func (c *Coordinator) emitEventLocked(kind string, offset int64) {
	select {
	case c.events <- Event{Kind: kind, Offset: offset}:
	default:
	}
}

// DrainEvents returns every Event recorded since the last call, without
// blocking. A Filter's owner is expected to poll this periodically (the
// same way it polls Position for a UI) and forward the results to an
// audit log.
func (c *Coordinator) DrainEvents() []Event {
	var out []Event
	for {
		select {
		case ev := <-c.events:
			out = append(out, ev)
		default:
			return out
		}
	}
}

// NewCoordinator builds a Coordinator positioned at the start of the stream.
// sourceLabel identifies the concrete Source type for the source_errors_total
// metric; it carries no other behavior.
func NewCoordinator(cfg Config, streamSize int64, canSeek bool, sourceLabel string) *Coordinator {
	c := &Coordinator{
		cfg:          cfg,
		store:        newRingStore(cfg),
		streamSize:   streamSize,
		canSeek:      canSeek,
		cacheBaseIdx: 0,
		sourceLabel:  sourceLabel,
		events:       make(chan Event, 32),
	}
	c.readWake = sync.NewCond(&c.mu)
	c.writeWake = sync.NewCond(&c.mu)
	return c
}

// condWaitTimeout waits on cond, capped at d: a timer broadcasts the cond
// once if nothing else wakes it first. sync.Cond has no native timed wait,
// so this is the standard way to bound it. Callers must hold cond.L.
func condWaitTimeout(cond *sync.Cond, d time.Duration) {
	timer := time.AfterFunc(d, cond.Broadcast)
	cond.Wait()
	timer.Stop()
}

// sourceErrLocked builds the wrapped, user-facing source error. Callers hold
// c.mu.
func (c *Coordinator) sourceErrLocked() error {
	return fmt.Errorf("%w: %v", ErrSource, c.err)
}

// Read blocks until len(p) bytes are available, EOS is reached, or a
// terminal condition fires, per the read-wait predicate of spec.md §4.2.1.
// A short, non-error return of n < len(p) signals EOS, matching io.Reader's
// own EOF convention: n == 0 is reported as (0, io.EOF).
func (c *Coordinator) Read(p []byte) (int, error) {
	n := int64(len(p))
	if n == 0 {
		return 0, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for {
		if c.abort {
			return 0, ErrCancelled
		}
		if c.errFlag {
			return 0, c.sourceErrLocked()
		}
		if !c.seekRequested {
			if c.bufferSize >= n {
				break
			}
			if c.bufferedEOS {
				break
			}
		}
		// Nudge the Prefetcher in case it is blocked on a full buffer, then
		// wait for it to make progress.
		if !c.seekRequested {
			c.writeWake.Broadcast()
		}
		condWaitTimeout(c.readWake, c.cfg.PollInterval)
	}

	deliver := n
	if deliver > c.bufferSize {
		deliver = c.bufferSize
	}
	if deliver == 0 {
		return 0, io.EOF
	}
	if deliver < n {
		metrics.ShortReadsTotal.Inc()
	}

	c.store.copyOut(p[:deliver], deliver, c.readIdx)
	cap := c.store.Capacity()
	c.readIdx = modCap(c.readIdx+deliver, cap)
	c.bufferSize -= deliver
	c.streamOffset += deliver
	metrics.BufferOccupancyBytes.Add(-float64(deliver))

	c.writeWake.Broadcast()
	return int(deliver), nil
}

// Peek has identical wait semantics to Read but does not advance the read
// cursor, so a later Read or Peek sees the same bytes again.
func (c *Coordinator) Peek(n int64) ([]byte, int, error) {
	if n <= 0 {
		return nil, 0, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for {
		if c.abort {
			return nil, 0, ErrCancelled
		}
		if c.errFlag {
			return nil, 0, c.sourceErrLocked()
		}
		if !c.seekRequested {
			if c.bufferSize >= n {
				break
			}
			if c.bufferedEOS {
				break
			}
		}
		if !c.seekRequested {
			c.writeWake.Broadcast()
		}
		condWaitTimeout(c.readWake, c.cfg.PollInterval)
	}

	avail := n
	if avail > c.bufferSize {
		avail = c.bufferSize
	}
	if avail == 0 {
		return nil, 0, io.EOF
	}

	if grown, err := c.growScratchLocked(avail); err != nil {
		return nil, 0, err
	} else if grown {
		// scratch reallocated, fallthrough to copy below
	}
	c.store.copyOut(c.scratch[:avail], avail, c.readIdx)
	return c.scratch[:avail], int(avail), nil
}

// growScratchLocked ensures c.scratch can hold n bytes. It recovers from an
// allocation panic (pathologically large n against a constrained runtime)
// and reports it as ErrOutOfMemory instead, since this path does not latch
// an error flag the way a source error does.
func (c *Coordinator) growScratchLocked(n int64) (grew bool, err error) {
	if int64(cap(c.scratch)) >= n {
		c.scratch = c.scratch[:n]
		return false, nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrOutOfMemory, r)
		}
	}()
	c.scratch = make([]byte, n)
	return true, nil
}

// Seek schedules a seek to the given absolute offset. It never blocks: the
// Prefetcher classifies and services the request on its own loop, per
// spec.md §4.3.2.
func (c *Coordinator) Seek(target int64) error {
	if !c.canSeek {
		return ErrUnsupported
	}
	c.mu.Lock()
	c.seekTarget = target
	c.seekRequested = true
	c.seekStartedAt = time.Now()
	c.lastSeekEventClass = seekNone
	c.mu.Unlock()
	c.writeWake.Broadcast()
	return nil
}

// Position returns the seek target while a seek is pending (the consumer's
// logical position has already moved even though the Prefetcher hasn't
// caught up), else the absolute offset of the next byte Read will return.
func (c *Coordinator) Position() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seekRequested {
		return c.seekTarget
	}
	return c.streamOffset
}

// CachedSize returns the absolute offset of the furthest byte currently
// available without further source I/O.
func (c *Coordinator) CachedSize() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streamOffset + c.bufferSize
}

// Size returns the total source byte length, fixed for the life of the
// Coordinator.
func (c *Coordinator) Size() int64 {
	return c.streamSize
}

// CanSeek reports whether the underlying source supports seeking at all.
func (c *Coordinator) CanSeek() bool {
	return c.canSeek
}

// Abort latches the cancelled state and wakes every waiter. It is
// idempotent and safe to call more than once from Close.
func (c *Coordinator) Abort() {
	c.mu.Lock()
	c.abort = true
	c.mu.Unlock()
	c.readWake.Broadcast()
	c.writeWake.Broadcast()
}

// setError latches the first source error seen. Later calls are no-ops:
// the flag is sticky for the life of the Coordinator.
func (c *Coordinator) setError(err error) {
	c.mu.Lock()
	if !c.errFlag {
		c.errFlag = true
		c.err = err
		metrics.SourceErrorsTotal.WithLabelValues(c.sourceLabel).Inc()
		c.emitEventLocked("source_error", c.streamOffset)
	}
	c.mu.Unlock()
	c.readWake.Broadcast()
	c.writeWake.Broadcast()
}

func (c *Coordinator) isAbort() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.abort
}

func (c *Coordinator) isError() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errFlag
}

func (c *Coordinator) setBufferedEOS() {
	c.mu.Lock()
	if !c.bufferedEOS {
		c.bufferedEOS = true
		c.emitEventLocked("eos_reached", c.cacheBaseOffset+c.cacheSize)
	}
	c.mu.Unlock()
	c.readWake.Broadcast()
}

func (c *Coordinator) clearBufferedEOS() {
	c.mu.Lock()
	c.bufferedEOS = false
	c.mu.Unlock()
}

func (c *Coordinator) isBufferedEOS() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bufferedEOS
}

// classifySeek reports the current classification of a pending seek against
// the present cache window. It is re-evaluated every Prefetcher iteration,
// so a seek requested while an earlier middle-seek catch-up is still
// draining is reclassified fresh rather than queued.
func (c *Coordinator) classifySeek() (seekClass, int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.seekRequested {
		return seekNone, 0
	}
	target := c.seekTarget
	cacheStart := c.cacheBaseOffset
	cacheEnd := c.cacheBaseOffset + c.cacheSize

	var class seekClass
	var label string
	switch {
	case target >= cacheStart && target < cacheEnd:
		class = seekShort
		label = "short"
	case target >= cacheEnd && target < cacheEnd+c.cfg.LongSeekThreshold:
		class = seekMiddle
		label = "middle"
	default:
		class = seekLong
		label = "long"
	}
	// Only count and emit an audit event the first time this pending seek is
	// seen at this classification, since a middle-seek catch-up is
	// reclassified on every Prefetcher iteration until it resolves.
	if class != c.lastSeekEventClass {
		c.lastSeekEventClass = class
		metrics.SeekClassificationTotal.WithLabelValues(label).Inc()
		c.emitEventLocked(seekEventKind(class), target)
	}
	return class, target
}

func seekEventKind(class seekClass) string {
	switch class {
	case seekShort:
		return "seek_short"
	case seekMiddle:
		return "seek_middle"
	case seekLong:
		return "seek_long"
	default:
		return ""
	}
}

// resolveShortSeek rewinds/advances the read cursor within the existing
// cache window; no source I/O, no buffer discard.
func (c *Coordinator) resolveShortSeek(target int64) {
	c.mu.Lock()
	cap := c.store.Capacity()
	rel := target - c.cacheBaseOffset
	prevBuffer := c.bufferSize
	c.readIdx = modCap(c.cacheBaseIdx+rel, cap)
	c.bufferSize = modCap(c.writeIdx-c.readIdx, cap)
	bufferDelta := c.bufferSize - prevBuffer
	c.streamOffset = target
	c.seekRequested = false
	c.observeSeekLatencyLocked()
	c.mu.Unlock()
	metrics.BufferOccupancyBytes.Add(float64(bufferDelta))
	c.readWake.Broadcast()
}

// observeSeekLatencyLocked records the time since the pending seek was
// requested, if any. Callers hold c.mu.
func (c *Coordinator) observeSeekLatencyLocked() {
	if c.seekStartedAt.IsZero() {
		return
	}
	metrics.SeekLatency.Observe(time.Since(c.seekStartedAt).Seconds())
	c.seekStartedAt = time.Time{}
}

// resolveMiddleSeekDrain discards the unread buffer and fast-forwards the
// read cursor to the current prefetch frontier, without touching the
// source: the Prefetcher will sequentially read through the gap on
// subsequent iterations. seek_requested is left set so classifySeek keeps
// re-evaluating it as the cache window grows.
func (c *Coordinator) resolveMiddleSeekDrain() {
	c.mu.Lock()
	discarded := c.bufferSize
	c.readIdx = c.writeIdx
	c.bufferSize = 0
	c.streamOffset = c.cacheBaseOffset + c.cacheSize
	c.mu.Unlock()
	if discarded > 0 {
		metrics.BufferOccupancyBytes.Add(-float64(discarded))
	}
}

// resetForLongSeek re-bases the entire cache window at target after the
// Prefetcher has already repositioned the source. Called with no lock held.
func (c *Coordinator) resetForLongSeek(target int64) {
	c.mu.Lock()
	discardedBuffer, discardedCache := c.bufferSize, c.cacheSize
	cap := c.store.Capacity()
	idx := modCap(target, cap)
	c.cacheBaseIdx = idx
	c.cacheBaseOffset = target
	c.cacheSize = 0
	c.readIdx = idx
	c.writeIdx = idx
	c.bufferSize = 0
	c.streamOffset = target
	c.seekRequested = false
	c.observeSeekLatencyLocked()
	c.mu.Unlock()
	if discardedBuffer > 0 {
		metrics.BufferOccupancyBytes.Add(-float64(discardedBuffer))
	}
	if discardedCache > 0 {
		metrics.CacheWindowSizeBytes.Add(-float64(discardedCache))
	}
	c.readWake.Broadcast()
}

// write appends src into the ring, blocking for backpressure per the
// write-wait predicate of spec.md §4.3.1: it waits until there's room for
// len(src) bytes while keeping RW_GUARD+SEEK_GUARD free, except that a
// pending seek only needs RW_GUARD free (the seek escape) so the Prefetcher
// never deadlocks waiting for room it will discard anyway on a seek.
func (c *Coordinator) write(src []byte) error {
	n := int64(len(src))
	if n == 0 {
		return nil
	}
	cap := c.store.Capacity()
	normalLimit := cap - c.cfg.RWGuard - c.cfg.SeekGuard
	seekLimit := cap - c.cfg.RWGuard

	c.mu.Lock()
	defer c.mu.Unlock()

	for {
		if c.abort {
			return ErrCancelled
		}
		if c.errFlag {
			return c.sourceErrLocked()
		}
		if c.bufferSize+n <= normalLimit {
			break
		}
		if c.seekRequested && c.bufferSize+n <= seekLimit {
			break
		}
		metrics.PrefetchStallsTotal.Inc()
		c.readWake.Broadcast()
		condWaitTimeout(c.writeWake, c.cfg.PollInterval)
	}

	c.store.copyIn(src, n, c.writeIdx)
	c.writeIdx = modCap(c.writeIdx+n, cap)
	c.bufferSize += n
	c.cacheSize += n
	metrics.BufferOccupancyBytes.Add(float64(n))
	metrics.CacheWindowSizeBytes.Add(float64(n))

	if c.cacheSize > cap {
		overshoot := c.cacheSize - cap
		slide := overshoot + c.cfg.RWGuard + c.cfg.SeekGuard
		if slide > c.cacheSize {
			slide = c.cacheSize
		}
		c.cacheBaseIdx = modCap(c.cacheBaseIdx+slide, cap)
		c.cacheBaseOffset += slide
		c.cacheSize -= slide
		metrics.CacheWindowSizeBytes.Add(-float64(slide))
	}

	if !c.seekRequested {
		c.readWake.Broadcast()
	}
	return nil
}
