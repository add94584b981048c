// Package led consumes the host's keyboard LED output report (caps/num/
// scroll/compose/kana) and republishes the decoded state to whatever
// indicator the board has, grounded on VIIPER's
// device/keyboard/handler.go SetLEDCallback pattern: the host-facing
// layer decodes one LED byte and invokes a callback, rather than the
// callback's consumer reaching into transport internals itself.
package led

import "github.com/B83C/rmk/keycode"

// State is the decoded form of one HID keyboard output report byte.
type State struct {
	NumLock    bool
	CapsLock   bool
	ScrollLock bool
	Compose    bool
	Kana       bool
}

// Decode unpacks a raw output-report LED byte using the bitmasks
// keycode.go already defines for this purpose.
func Decode(b byte) State {
	return State{
		NumLock:    b&keycode.LEDNumLock != 0,
		CapsLock:   b&keycode.LEDCapsLock != 0,
		ScrollLock: b&keycode.LEDScrollLock != 0,
		Compose:    b&keycode.LEDCompose != 0,
		Kana:       b&keycode.LEDKana != 0,
	}
}

// Encode packs State back into a raw output-report byte, the inverse of
// Decode.
func (s State) Encode() byte {
	var b byte
	if s.NumLock {
		b |= keycode.LEDNumLock
	}
	if s.CapsLock {
		b |= keycode.LEDCapsLock
	}
	if s.ScrollLock {
		b |= keycode.LEDScrollLock
	}
	if s.Compose {
		b |= keycode.LEDCompose
	}
	if s.Kana {
		b |= keycode.LEDKana
	}
	return b
}

// Indicator is a single on/off indicator output — an LED, a GPIO pin
// driving one — that the Controller drives per LED bit.
type Indicator interface {
	Set(on bool) error
}

// Controller owns the board's physical indicators and republishes
// decoded host LED state to each whenever it changes, mirroring
// SetLEDCallback's role as the seam between "host wrote an output
// report" and "board-specific indicator logic" — only the indicator
// wiring varies per board, not the decode.
type Controller struct {
	numLock    Indicator
	capsLock   Indicator
	scrollLock Indicator
	last       State
}

// NewController builds a Controller over whichever indicators the
// board has; any of them may be nil, in which case that bit's state is
// tracked but never written anywhere.
func NewController(numLock, capsLock, scrollLock Indicator) *Controller {
	return &Controller{numLock: numLock, capsLock: capsLock, scrollLock: scrollLock}
}

// HandleOutputReport decodes b and drives every changed indicator. This
// is the callback a USB/BLE transport invokes on receipt of a keyboard
// output report, the same role SetLEDCallback's closure plays in the
// teacher.
func (c *Controller) HandleOutputReport(b byte) error {
	state := Decode(b)
	return c.Apply(state)
}

// Apply drives indicators to match state, skipping any bit that hasn't
// changed since the last call.
func (c *Controller) Apply(state State) error {
	var firstErr error
	note := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if state.NumLock != c.last.NumLock && c.numLock != nil {
		note(c.numLock.Set(state.NumLock))
	}
	if state.CapsLock != c.last.CapsLock && c.capsLock != nil {
		note(c.capsLock.Set(state.CapsLock))
	}
	if state.ScrollLock != c.last.ScrollLock && c.scrollLock != nil {
		note(c.scrollLock.Set(state.ScrollLock))
	}

	c.last = state
	return firstErr
}

// Last returns the most recently applied State.
func (c *Controller) Last() State { return c.last }
