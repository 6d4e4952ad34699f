package ringbuf

import "errors"

// Sentinel errors from spec.md §7. SourceError is sticky once latched: once
// set, the Coordinator and Prefetcher never clear it, and every subsequent
// Read/Peek returns it (wrapped with the underlying cause) until Close.
var (
	// ErrCancelled is returned by any blocked or later Read/Peek once the
	// Filter is closed (Coordinator.Abort).
	ErrCancelled = errors.New("ringbuf: operation cancelled")

	// ErrSource wraps a terminal error surfaced by the source stream. It is
	// sticky: the first one latches and every later call returns it.
	ErrSource = errors.New("ringbuf: source error")

	// ErrUnsupported is returned by Seek when the source cannot seek at all.
	ErrUnsupported = errors.New("ringbuf: seek unsupported by source")

	// ErrInvalidConfig is returned by Config.Validate for a constant set
	// that violates the RW_GUARD+SEEK_GUARD < BLOCK_SIZE invariant.
	ErrInvalidConfig = errors.New("ringbuf: invalid configuration")

	// ErrOutOfMemory is returned by Peek only, when growing its scratch
	// buffer fails. It does not latch — a later Peek with a smaller n can
	// still succeed.
	ErrOutOfMemory = errors.New("ringbuf: peek scratch allocation failed")
)
