package keyboard

import (
	"time"

	"github.com/B83C/rmk/keycode"
)

// Macro record tags. The spec names the record kinds (Tap/Down/Up/Delay/
// Text) without fixing a byte encoding; this is the encoding this engine
// uses for macro_cache segments, chosen to stay a simple self-describing
// TLV stream cheap to interpret a few bytes at a time on each Tick (spec
// §4.2.1's "cooperative, yields control" requirement).
const (
	macroOpEnd   = 0x00 // segment terminator (also the NUM_MACRO separator)
	macroOpTap   = 0x01 // + keycode u16 LE
	macroOpDown  = 0x02 // + keycode u16 LE
	macroOpUp    = 0x03 // + keycode u16 LE
	macroOpDelay = 0x04 // + ms u16 LE
	macroOpText  = 0x05 // + len u8 + utf8 bytes
)

type macroRecord struct {
	op    byte
	code  uint16
	delay time.Duration
	text  string
}

// splitMacroSegments decodes the full macro_cache buffer into its ordered
// list of segments, each a decoded record list. A macroOpEnd byte is only
// ever a terminator when it appears at a record boundary — never inside a
// multi-byte field (a code's high byte, a delay's high byte, or text
// content can legitimately be 0x00) — so this walks the buffer once,
// opcode by opcode, rather than pre-splitting on raw zero bytes.
func splitMacroSegments(cache []byte) [][]macroRecord {
	var segments [][]macroRecord
	var cur []macroRecord
	i := 0
	for i < len(cache) {
		switch cache[i] {
		case macroOpEnd:
			segments = append(segments, cur)
			cur = nil
			i++
		case macroOpTap, macroOpDown, macroOpUp:
			if i+3 > len(cache) {
				segments = append(segments, cur)
				return segments
			}
			code := uint16(cache[i+1]) | uint16(cache[i+2])<<8
			cur = append(cur, macroRecord{op: cache[i], code: code})
			i += 3
		case macroOpDelay:
			if i+3 > len(cache) {
				segments = append(segments, cur)
				return segments
			}
			ms := uint16(cache[i+1]) | uint16(cache[i+2])<<8
			cur = append(cur, macroRecord{op: macroOpDelay, delay: time.Duration(ms) * time.Millisecond})
			i += 3
		case macroOpText:
			if i+2 > len(cache) {
				segments = append(segments, cur)
				return segments
			}
			n := int(cache[i+1])
			if i+2+n > len(cache) {
				segments = append(segments, cur)
				return segments
			}
			cur = append(cur, macroRecord{op: macroOpText, text: string(cache[i+2 : i+2+n])})
			i += 2 + n
		default:
			// Unknown opcode: stop rather than risk misinterpreting the
			// remainder of the buffer as record data.
			segments = append(segments, cur)
			return segments
		}
	}
	segments = append(segments, cur)
	return segments
}

// macroPlayer advances one macro's records incrementally: each call to
// step(now) fires at most one record, and fires nothing while a Delay
// record has not yet elapsed. This is the
// "yields control every record" cooperative shape spec §4.2.1 requires,
// expressed as state advanced from Keyboard.Tick rather than a blocking
// goroutine.
type macroPlayer struct {
	index   int
	recs    []macroRecord
	pos     int
	dueAt   time.Time
	waiting bool
}

func newMacroPlayer(index int, recs []macroRecord, now time.Time) *macroPlayer {
	return &macroPlayer{index: index, recs: recs, dueAt: now}
}

// done reports whether playback has fully finished. A macro ending on a
// Delay record must stay "playing" (and so keep blocking re-triggers)
// until that delay actually elapses, even though there is no record left
// to advance to — otherwise the non-reentrancy guard in
// Keyboard.triggerMacro would lapse early.
func (p *macroPlayer) done() bool { return p.pos >= len(p.recs) && !p.waiting }

// step fires the next due record, calling emit for a Tap/Down/Up record,
// and returns; a Delay record instead starts a wait that later calls to
// step honor before moving on.
func (p *macroPlayer) step(now time.Time, emit func(rec macroRecord)) {
	if p.waiting {
		if now.Before(p.dueAt) {
			return
		}
		p.waiting = false
	}
	for p.pos < len(p.recs) {
		rec := p.recs[p.pos]
		p.pos++
		if rec.op == macroOpDelay {
			p.dueAt = now.Add(rec.delay)
			p.waiting = true
			return
		}
		emit(rec)
		return
	}
}

// textToTaps expands a Text record into a sequence of Tap records over
// HID usage codes for the handful of directly-typable ASCII keys; this is
// intentionally minimal (letters, digits, space, newline) rather than a full
// layout-aware shift table, since the engine has no notion of the host's
// active keyboard layout.
func textToTaps(s string) []macroRecord {
	recs := make([]macroRecord, 0, len(s))
	for _, r := range s {
		code, ok := asciiKeycode(r)
		if !ok {
			continue
		}
		recs = append(recs, macroRecord{op: macroOpTap, code: code})
	}
	return recs
}

func asciiKeycode(r rune) (uint16, bool) {
	switch {
	case r >= 'a' && r <= 'z':
		return uint16(keycode.KeyA) + uint16(r-'a'), true
	case r >= 'A' && r <= 'Z':
		return uint16(keycode.KeyA) + uint16(r-'A'), true
	case r >= '1' && r <= '9':
		return uint16(keycode.Key1) + uint16(r-'1'), true
	case r == '0':
		return uint16(keycode.Key0), true
	case r == ' ':
		return uint16(keycode.KeySpace), true
	case r == '\n':
		return uint16(keycode.KeyEnter), true
	default:
		return 0, false
	}
}
