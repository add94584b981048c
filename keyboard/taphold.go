package keyboard

import "time"

// tapHoldOutcome is the decision a pending tap-hold eventually reaches.
type tapHoldOutcome int

const (
	outcomePending tapHoldOutcome = iota
	outcomeTap
	outcomeHold
)

// pendingTapHold tracks one in-flight LayerTapHold/ModifierTapHold press,
// per spec §4.2's tap-hold resolution: tap if released before the timer
// fires, hold if the timer fires first or another key is tapped while
// this one is pending ("permissive hold").
type pendingTapHold struct {
	row, col  int
	isLayer   bool // true: LayerTapHold, false: ModifierTapHold
	tapCode   uint16
	holdLayer int
	holdMods  uint8
	pressedAt time.Time
	deadline  time.Time
	outcome   tapHoldOutcome
}

// DefaultHoldTimeout is the spec's named default (§4.2: "default 200 ms").
const DefaultHoldTimeout = 200 * time.Millisecond

// earliest returns the pending tap-hold with the smallest pressedAt, the
// tie-break rule spec §4.2 names for resolving multiple in-flight
// tap-holds: "the earliest-pressed commits first."
func earliest(pending map[cellKey]*pendingTapHold) *pendingTapHold {
	var best *pendingTapHold
	for _, p := range pending {
		if p.outcome != outcomePending {
			continue
		}
		if best == nil || p.pressedAt.Before(best.pressedAt) {
			best = p
		}
	}
	return best
}
