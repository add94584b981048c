package split

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/B83C/rmk/keyevent"
)

// timeNow is swappable so tests can assert on a stable KeyEvent.Timestamp.
var timeNow = time.Now

// Geometry describes one peripheral's declared matrix shape and its
// offset into the global matrix.
type Geometry struct {
	Rows      uint8
	Cols      uint8
	RowOffset uint8
	ColOffset uint8
}

// PeripheralMatrixMonitor translates one peripheral's local Key messages
// into global KeyEvents and forwards them to the central's keyevent
// channel. Coordinates outside the declared peripheral geometry are
// rejected with an error instead of forwarded, using a >= bound on both
// axes: the reference implementation used a bare > check, which let a
// coordinate exactly at the geometry's row/col count through as an
// off-matrix event (REDESIGN FLAG, fixed here).
type PeripheralMatrixMonitor struct {
	geom   Geometry
	out    *keyevent.Channel
	logger *slog.Logger
}

func NewPeripheralMatrixMonitor(geom Geometry, out *keyevent.Channel, logger *slog.Logger) *PeripheralMatrixMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &PeripheralMatrixMonitor{geom: geom, out: out, logger: logger}
}

// Forward validates and translates one Key message, pushing the
// resulting KeyEvent onto the central's keyevent channel. Non-Key
// messages (LedState, ConnectionState) are the caller's concern, not
// this monitor's; Forward only accepts TagKey.
func (m *PeripheralMatrixMonitor) Forward(msg Message) error {
	if msg.Tag != TagKey {
		return fmt.Errorf("split: monitor.Forward called with non-Key message tag %d", msg.Tag)
	}
	if msg.Row >= m.geom.Rows || msg.Col >= m.geom.Cols {
		return fmt.Errorf("split: peripheral coordinate (%d,%d) outside declared geometry %dx%d",
			msg.Row, msg.Col, m.geom.Rows, m.geom.Cols)
	}

	globalRow := msg.Row + m.geom.RowOffset
	globalCol := msg.Col + m.geom.ColOffset
	ev := keyevent.Event{Row: globalRow, Col: globalCol, Pressed: msg.Pressed, Timestamp: timeNow()}
	if !m.out.TrySend(ev) {
		m.logger.Warn("split: keyevent channel full, dropping forwarded peripheral edge",
			"row", globalRow, "col", globalCol)
	}
	return nil
}
