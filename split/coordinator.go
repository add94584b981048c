package split

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ReconnectBackoff is the fixed retry delay after any link error,
// including disconnect, per spec §4.5.
const ReconnectBackoff = time.Second

// connecting is a process-wide flag enforcing "only one peripheral
// connect attempt is in flight at a time" (spec §4.5) across every
// SyncCoordinator in the process.
var connecting atomic.Bool

// Peripheral is the subset of BLETransport plus connection setup a
// SyncCoordinator needs; Dial performs the GATT connect-and-subscribe
// sequence and returns a ready BLETransport, so Connecting/Discovering/
// Subscribed collapse into one call from the coordinator's point of view.
type Peripheral interface {
	Dial(ctx context.Context) (BLETransport, error)
}

// SyncCoordinator drives one peripheral link's state machine:
// Disconnected -> Connecting -> Discovering -> Subscribed -> Running ->
// Disconnected, retrying after ReconnectBackoff on any error. Running
// applies the original's KeySyncSignal::Start / KeySyncMessage::StartSend
// two-phase handoff: Key notifications arriving off the wire are queued,
// not forwarded immediately, and only handed to the monitor as a batch
// when something on the central side calls Start — so an entire
// peripheral burst lands between two local scan ticks instead of
// interleaving with whichever tick happens to be in flight when a
// notification arrives.
type SyncCoordinator struct {
	peripheral Peripheral
	monitor    *PeripheralMatrixMonitor
	logger     *slog.Logger

	state atomic.Int32

	mu      sync.Mutex
	pending []Message
}

func NewSyncCoordinator(p Peripheral, monitor *PeripheralMatrixMonitor, logger *slog.Logger) *SyncCoordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &SyncCoordinator{peripheral: p, monitor: monitor, logger: logger}
}

// Start flushes every Key message queued since the last Start call,
// forwarding each to the monitor in arrival order, and returns how many
// were sent — the Go shape of the original's SYNC_SIGNALS/
// CENTRAL_SYNC_CHANNELS pair: a central-side Start plays the role of
// signaling SYNC_SIGNALS[i], and the returned count plays the role of
// the StartSend(count) message the peripheral monitor task replies with
// before the individual Key messages.
func (c *SyncCoordinator) Start() int {
	c.mu.Lock()
	batch := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, msg := range batch {
		if err := c.monitor.Forward(msg); err != nil {
			c.logger.Warn("split: rejected peripheral coordinate", "err", err)
		}
	}
	return len(batch)
}

// State returns the coordinator's current LinkState.
func (c *SyncCoordinator) State() LinkState { return LinkState(c.state.Load()) }

func (c *SyncCoordinator) setState(s LinkState) { c.state.Store(int32(s)) }

// Run drives the state machine until ctx is canceled, reconnecting
// indefinitely after any failure.
func (c *SyncCoordinator) Run(ctx context.Context, outbound <-chan Message) error {
	for {
		if ctx.Err() != nil {
			c.setState(LinkDisconnected)
			return ctx.Err()
		}

		if err := c.runOnce(ctx, outbound); err != nil && ctx.Err() == nil {
			c.logger.Warn("split: peripheral link failed, retrying", "err", err, "backoff", ReconnectBackoff)
		}
		c.setState(LinkDisconnected)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(ReconnectBackoff):
		}
	}
}

func (c *SyncCoordinator) runOnce(ctx context.Context, outbound <-chan Message) error {
	if !connecting.CompareAndSwap(false, true) {
		// Another coordinator is mid-connect; back off and let Run retry.
		return errBusy
	}

	c.setState(LinkConnecting)
	transport, err := c.peripheral.Dial(ctx)
	if err != nil {
		connecting.Store(false)
		return err
	}
	defer transport.Close()

	c.setState(LinkDiscovering)
	notifications, err := transport.Notifications(ctx)
	// The connect attempt ends here, so other coordinators may connect
	// while this link runs.
	connecting.Store(false)
	if err != nil {
		return err
	}

	c.setState(LinkSubscribed)
	c.setState(LinkRunning)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case msg, ok := <-notifications:
			if !ok {
				return errLinkClosed
			}
			if msg.Tag == TagKey {
				c.mu.Lock()
				c.pending = append(c.pending, msg)
				c.mu.Unlock()
			}

		case msg, ok := <-outbound:
			if !ok {
				outbound = nil
				continue
			}
			if err := transport.Send(ctx, msg); err != nil {
				return err
			}
		}
	}
}

var errBusy = linkError("split: another peripheral connect attempt is already in flight")
var errLinkClosed = linkError("split: peripheral notification stream closed")

type linkError string

func (e linkError) Error() string { return string(e) }
