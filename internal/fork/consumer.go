package fork

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Adapter is the downstream sink a Consumer forwards frames to (e.g. an ASP
// client connection to C4, or the transcription/indexing sink). Adapters
// may block or await network I/O; that latency shows up as buffer fill
// ratio and consumer lag, never as producer-side jitter (§4.2).
type Adapter interface {
	Forward(ctx context.Context, frames []Frame) error
}

// Consumer runs a dedicated worker loop draining a RingBuffer into one
// Adapter. Consumers never block the producer — they only ever read. Each
// consumer exposes a latched Available flag set by its adapter (e.g.
// websocket connected + handshake complete), published by the Manager as
// primary_available (§4.2).
type Consumer struct {
	Name    string
	buffer  *RingBuffer
	adapter Adapter
	logger  *slog.Logger

	available atomic.Bool
	cursor    atomic.Uint64
	lastSeen  atomic.Int64 // unix nanos of the last successful forward

	lagMs atomic.Int64
}

// NewConsumer attaches a consumer to buffer with its cursor at sequence 0:
// its first read returns every frame the buffer still holds and counts any
// earlier frames already overwritten as missed.
func NewConsumer(name string, buffer *RingBuffer, adapter Adapter, logger *slog.Logger) *Consumer {
	c := &Consumer{
		Name:    name,
		buffer:  buffer,
		adapter: adapter,
		logger:  logger.With("subsystem", "fork-consumer", "consumer", name),
	}
	c.lastSeen.Store(time.Now().UnixNano())
	return c
}

// SetAvailable latches the consumer's availability flag. Called by the
// adapter when its transport connects/disconnects.
func (c *Consumer) SetAvailable(v bool) {
	c.available.Store(v)
}

// Available reports the consumer's last-latched availability.
func (c *Consumer) Available() bool {
	return c.available.Load()
}

// LagMs returns the most recently observed consumer_lag_ms: the age of the
// oldest frame in the most recent batch forwarded.
func (c *Consumer) LagMs() int64 {
	return c.lagMs.Load()
}

// Run drains the ring buffer and forwards batches to the adapter until ctx
// is cancelled or the buffer is closed. This is the consumer's suspension
// point (§5 (d)); the forward call is the adapter's own suspension point.
func (c *Consumer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		frames, newCursor, missed, closed := c.buffer.WaitFrom(c.cursor.Load())
		if missed > 0 {
			c.logger.Warn("consumer fell behind, frames were dropped before being read",
				"missed", missed,
			)
		}
		c.cursor.Store(newCursor)

		if len(frames) > 0 {
			oldest := frames[0].Arrived
			c.lagMs.Store(time.Since(oldest).Milliseconds())

			if err := c.adapter.Forward(ctx, frames); err != nil {
				c.logger.Debug("adapter forward failed", "error", err)
				c.SetAvailable(false)
			} else {
				c.lastSeen.Store(time.Now().UnixNano())
				c.SetAvailable(true)
			}
		}

		if closed {
			return
		}
	}
}
