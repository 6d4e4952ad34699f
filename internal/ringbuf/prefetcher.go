package ringbuf

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"ringstream/internal/metrics"
)

// Prefetcher drives the background fetch loop of spec.md §4.3: on every
// iteration it checks for end-of-stream, services at most one pending seek
// (classified short/middle/long against the current cache window), then
// reads one STEP_READ chunk from the source and writes it into the
// Coordinator. It runs on its own goroutine for the life of a Filter.
type Prefetcher struct {
	coord *Coordinator
	src   Source
	cfg   Config
	log   *slog.Logger

	ctx     context.Context
	stepBuf []byte
	done    chan struct{}
}

// StartPrefetcher builds a Prefetcher and launches its loop on a new
// goroutine. ctx cancellation and coord.Abort() are both honored; callers
// should cancel ctx and call coord.Abort() together on Close, then wait on
// the returned channel to confirm the goroutine has exited.
func StartPrefetcher(ctx context.Context, coord *Coordinator, src Source, cfg Config, log *slog.Logger) (*Prefetcher, <-chan struct{}) {
	if log == nil {
		log = slog.Default()
	}
	p := &Prefetcher{
		coord:   coord,
		src:     src,
		cfg:     cfg,
		log:     log,
		ctx:     ctx,
		stepBuf: make([]byte, cfg.StepRead),
		done:    make(chan struct{}),
	}
	go p.run()
	return p, p.done
}

func (p *Prefetcher) run() {
	defer close(p.done)
	// Wake anyone blocked in Read/Peek so a terminal transition (abort or
	// source error) is observed promptly rather than after a full poll tick.
	defer p.coord.readWake.Broadcast()

	for {
		if p.coord.isAbort() {
			return
		}
		if p.coord.isError() {
			return
		}

		// Step 1: end-of-stream check and wait. streamSize is immutable
		// after construction so reading it without the mutex is safe.
		if p.coord.streamSize > 0 && p.src.Tell() >= p.coord.streamSize {
			p.coord.setBufferedEOS()
		}
		if p.coord.isBufferedEOS() {
			if stop := p.waitEOSOrSeekOrAbort(); stop {
				return
			}
			// A seek arrived: serve it below in this same iteration. The
			// source is still at EOS, so going back to step 1 first would
			// re-latch EOS and never reach the seek.
			p.coord.clearBufferedEOS()
		}

		// Step 2: seek service.
		switch class, target := p.coord.classifySeek(); class {
		case seekShort:
			p.coord.resolveShortSeek(target)
		case seekMiddle:
			p.coord.resolveMiddleSeekDrain()
		case seekLong:
			if !p.doLongSeek(target) {
				return
			}
			continue // reclassify fresh before fetching
		}
		if p.coord.isAbort() || p.coord.isError() {
			return
		}

		// Step 3: fetch one STEP_READ chunk and append it.
		readStart := time.Now()
		n, err := p.src.Read(p.ctx, p.stepBuf)
		metrics.PrefetchReadDuration.Observe(time.Since(readStart).Seconds())
		if n > 0 {
			if werr := p.coord.write(p.stepBuf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				p.coord.setBufferedEOS()
				continue
			}
			p.log.Error("prefetcher: source read failed", "error", err)
			p.coord.setError(err)
			return
		}
	}
}

// waitEOSOrSeekOrAbort blocks until a seek is requested or a terminal
// condition fires, polling write_wake at POLL_INTERVAL so an abort set
// between broadcasts is still noticed promptly. It returns true when the
// caller should stop the whole loop (abort or error), false when a seek
// has arrived and buffered_eos should be cleared.
func (p *Prefetcher) waitEOSOrSeekOrAbort() bool {
	c := p.coord
	c.mu.Lock()
	defer c.mu.Unlock()
	for !c.seekRequested && !c.abort && !c.errFlag {
		condWaitTimeout(c.writeWake, c.cfg.PollInterval)
	}
	return c.abort || c.errFlag
}

// doLongSeek issues a real seek on the source (outside the Coordinator's
// mutex, since it may block on network I/O) and, on success, re-bases the
// cache window at the target. It reports false if the loop should stop.
func (p *Prefetcher) doLongSeek(target int64) bool {
	if err := p.src.Seek(p.ctx, target); err != nil {
		if errors.Is(err, context.Canceled) {
			return false
		}
		p.log.Error("prefetcher: source seek failed", "error", err, "target", target)
		p.coord.setError(err)
		return false
	}
	p.coord.resetForLongSeek(target)
	return true
}
