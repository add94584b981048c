// Package keyevent defines the KeyEvent DTO shared between the matrix
// scanner, the split driver, and the keyboard state machine, and the
// bounded channel that carries it with the at-most-once drop policy spec
// §4.1 requires (a dropped edge is never re-queued, since a missed
// transition would produce a stuck key).
package keyevent

import (
	"log/slog"
	"time"
)

// Event is one debounced edge on the matrix: {row, col, pressed, timestamp}.
// Row/col are absolute matrix coordinates after split-offset translation.
type Event struct {
	Row       uint8
	Col       uint8
	Pressed   bool
	Timestamp time.Time
}

// DefaultCapacity matches spec §5's keyevent=32 bounded channel.
const DefaultCapacity = 32

// Channel is a bounded, at-most-once KeyEvent queue. Producers (the matrix
// scanner, the split central's PeripheralMatrixMonitor) call TrySend and
// accept that it may drop under backpressure; there is no retry path,
// because replaying a stale edge later would be worse than losing it.
type Channel struct {
	ch     chan Event
	logger *slog.Logger
}

// NewChannel returns a Channel with the given buffer capacity.
func NewChannel(capacity int, logger *slog.Logger) *Channel {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Channel{ch: make(chan Event, capacity), logger: logger}
}

// TrySend enqueues ev without blocking. Returns false if the channel was
// full; the caller must not retry, per spec §4.1's at-most-once contract.
func (c *Channel) TrySend(ev Event) bool {
	select {
	case c.ch <- ev:
		return true
	default:
		if c.logger != nil {
			c.logger.Warn("key event channel full, dropping edge",
				"row", ev.Row, "col", ev.Col, "pressed", ev.Pressed)
		}
		return false
	}
}

// Recv returns the receive-only side for the Keyboard task to consume.
func (c *Channel) Recv() <-chan Event { return c.ch }
