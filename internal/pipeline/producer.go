// Package pipeline couples one frame producer to N frame consumers: the
// runtime loop, the shared producer/consumer capability contracts, and
// latency profiling.
package pipeline

import "context"

// Producer yields frames as (timestamp_us, bytes) pairs. Next blocks
// until a frame is available, the stream ends, or ctx is cancelled.
// A Receiver-backed producer returns a borrowed range valid only until
// the next Next call; a capture-backed producer requires ReleaseIfNeeded
// to be called before the following Next (ownership returns to the
// device's buffer ring).
type Producer interface {
	Next(ctx context.Context) (timestampUs uint64, frame []byte, ok bool, err error)
	ReleaseIfNeeded()
	Close() error
}
