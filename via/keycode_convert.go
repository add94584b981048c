package via

import (
	"github.com/B83C/rmk/keycode"
	"github.com/B83C/rmk/keymap"
)

// toViaKeycode and fromViaKeycode convert between a keymap.Action and
// the 16-bit "via keycode" a VIA-compatible host UI understands,
// following the QMK quantum-keycode bit layout keycode.go documents:
// 3-bit tag, 5-bit param (mods or layer), 8-bit HID code.
func toViaKeycode(a keymap.Action) uint16 {
	switch a.Kind {
	case keymap.ActionNo:
		return uint16(keycode.RangeNo)
	case keymap.ActionTransparent:
		return uint16(keycode.RangeTransparent)
	case keymap.ActionSingle:
		return a.Code & keycode.CodeMask
	case keymap.ActionWithModifier:
		return pack(keycode.RangeWithModifier, a.Mods, a.Code)
	case keymap.ActionTap:
		return pack(keycode.RangeTap, 0, a.Code)
	case keymap.ActionLayerTapHold:
		return pack(keycode.RangeLayerTapHold, a.Layer, a.Code)
	case keymap.ActionModifierTapHold:
		return pack(keycode.RangeModifierTapHold, a.Mods, a.Code)
	case keymap.ActionOneShotModifier:
		return pack(keycode.RangeOneShotModifier, a.Mods, 0)
	case keymap.ActionOneShotLayer:
		return pack(keycode.RangeOneShotLayer, a.Layer, 0)
	case keymap.ActionMacro:
		return pack(keycode.RangeMacro, 0, uint16(a.MacroIndex))
	default:
		return uint16(keycode.RangeNo)
	}
}

// pack folds a 5-bit param (truncated) and 8-bit code into a tagged
// quantum keycode. Callers pass the full-width mods/layer/code value;
// bits beyond the field width are silently dropped, the same lossy
// truncation a real VIA UI accepts from its single-wrapper quantum
// keycodes.
func pack(tag keycode.Code, param uint8, code uint16) uint16 {
	return uint16(tag) | uint16(param&keycode.ParamMask)<<keycode.ParamShift | (code & keycode.CodeMask)
}

func fromViaKeycode(v uint16) keymap.Action {
	switch {
	case v == uint16(keycode.RangeNo):
		return keymap.No
	case v == uint16(keycode.RangeTransparent):
		return keymap.Transparent
	case keycode.Tag(v) == 0:
		return keymap.Single(v & keycode.CodeMask)
	}

	param := uint8(v >> keycode.ParamShift & keycode.ParamMask)
	code := v & keycode.CodeMask

	switch keycode.Tag(v) {
	case keycode.Tag(uint16(keycode.RangeWithModifier)):
		return keymap.WithModifier(code, param)
	case keycode.Tag(uint16(keycode.RangeTap)):
		return keymap.Tap(code)
	case keycode.Tag(uint16(keycode.RangeLayerTapHold)):
		return keymap.LayerTapHold(code, param)
	case keycode.Tag(uint16(keycode.RangeModifierTapHold)):
		return keymap.ModifierTapHold(code, param)
	case keycode.Tag(uint16(keycode.RangeOneShotModifier)):
		return keymap.OneShotModifier(param)
	case keycode.Tag(uint16(keycode.RangeOneShotLayer)):
		return keymap.OneShotLayer(param)
	case keycode.Tag(uint16(keycode.RangeMacro)):
		return keymap.Macro(uint8(code))
	default:
		return keymap.No
	}
}
