// Package keymap holds the core data model driven by the Keyboard state
// machine: the KeyAction variant type, the fixed KeyMap array, the layer
// stack, and the modifier bitfield composition.
package keymap

import "github.com/B83C/rmk/keycode"

// ActionKind discriminates the KeyAction union (spec §3).
type ActionKind uint8

const (
	ActionNo ActionKind = iota
	ActionTransparent
	ActionSingle
	ActionWithModifier
	ActionTap
	ActionLayerTapHold
	ActionModifierTapHold
	ActionOneShotModifier
	ActionOneShotLayer
	ActionMacro
)

// Action is the effect bound to one (layer, row, col) cell.
//
// Only the fields relevant to Kind are meaningful; this mirrors the
// teacher's fixed-layout report structs (e.g. dualshock4.InputState) more
// than a Go interface-per-variant design, because Action values live in a
// large fixed 3-D array and must stay a plain comparable value, not a
// boxed interface, to keep KeyMap a flat array of fixed-size cells.
type Action struct {
	Kind ActionKind
	// Code is the base HID keycode for Single, WithModifier, Tap,
	// LayerTapHold and ModifierTapHold.
	Code uint16
	// Mods holds the modifier bitmask for WithModifier, ModifierTapHold and
	// OneShotModifier.
	Mods uint8
	// Layer holds the target layer for LayerTapHold and OneShotLayer.
	Layer uint8
	// MacroIndex selects a sequence from the macro cache for ActionMacro.
	MacroIndex uint8
}

// No is the zero value: no key bound to this cell.
var No = Action{Kind: ActionNo}

// Transparent falls through to the next lower active layer.
var Transparent = Action{Kind: ActionTransparent}

// Single emits keycode k while held, nothing more.
func Single(k uint16) Action { return Action{Kind: ActionSingle, Code: k} }

// WithModifier holds mods for the duration of keycode k.
func WithModifier(k uint16, mods uint8) Action {
	return Action{Kind: ActionWithModifier, Code: k, Mods: mods}
}

// Tap auto-releases keycode k after a minimum interval.
func Tap(k uint16) Action { return Action{Kind: ActionTap, Code: k} }

// LayerTapHold taps keycode k or activates layer l on hold.
func LayerTapHold(k uint16, l uint8) Action {
	return Action{Kind: ActionLayerTapHold, Code: k, Layer: l}
}

// ModifierTapHold taps keycode k or holds mods on hold.
func ModifierTapHold(k uint16, mods uint8) Action {
	return Action{Kind: ActionModifierTapHold, Code: k, Mods: mods}
}

// OneShotModifier arms mods until the next non-one-shot key press.
func OneShotModifier(mods uint8) Action {
	return Action{Kind: ActionOneShotModifier, Mods: mods}
}

// OneShotLayer arms layer l until the next non-one-shot key press.
func OneShotLayer(l uint8) Action {
	return Action{Kind: ActionOneShotLayer, Layer: l}
}

// Macro plays back recorded sequence index i from the macro cache.
func Macro(i uint8) Action { return Action{Kind: ActionMacro, MacroIndex: i} }

// IsTapHold reports whether the action has a tap/hold distinction.
func (a Action) IsTapHold() bool {
	return a.Kind == ActionLayerTapHold || a.Kind == ActionModifierTapHold
}

// IsOneShot reports whether the action arms a one-shot modifier or layer.
func (a Action) IsOneShot() bool {
	return a.Kind == ActionOneShotModifier || a.Kind == ActionOneShotLayer
}

// TapCode returns the keycode emitted by the tap half of a tap-hold or Tap
// action, or keycode.KeyNone if the action has no tap keycode.
func (a Action) TapCode() uint16 {
	switch a.Kind {
	case ActionSingle, ActionWithModifier, ActionTap, ActionLayerTapHold, ActionModifierTapHold:
		return a.Code
	default:
		return keycode.KeyNone
	}
}
