package ringbuf

import "context"

// Source is the contract a source stream must satisfy to sit behind a
// Filter, the Go shape of spec.md §6's source-stream contract. Read and
// Seek take a context so a blocking network or disk call can be abandoned
// when the Prefetcher is told to stop; Tell and Size are cheap, local
// queries that never block.
type Source interface {
	// Read behaves like io.Reader: it may return n < len(p) with a nil
	// error, and returns io.EOF once the source is exhausted.
	Read(ctx context.Context, p []byte) (int, error)

	// Seek repositions the source at an absolute offset. Implementations
	// that cannot seek at all should make CanSeek report false; Seek itself
	// is never called in that case.
	Seek(ctx context.Context, offset int64) error

	// Tell returns the source's current absolute read position.
	Tell() int64

	// Size returns the total byte length of the stream, or a non-positive
	// value if unknown.
	Size() int64

	// CanSeek reports whether Seek is supported at all.
	CanSeek() bool

	// CanFastSeek reports whether the source can seek without a costly
	// round trip (e.g. a local file vs. a fresh HTTP range request). The
	// Filter never surfaces this to its own consumer as true — spec.md §6
	// says CanFastSeek() is always false at that boundary — but the
	// Prefetcher may use it later to bias seek classification.
	CanFastSeek() bool
}
