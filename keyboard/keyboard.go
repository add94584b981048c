// Package keyboard implements the keymap interpreter and HID report
// state machine described in spec §4.2: it consumes debounced KeyEvents,
// walks the layer stack, resolves tap-hold/one-shot/macro actions, and
// submits deduplicated HID reports to a Reporter.
package keyboard

import (
	"context"
	"log/slog"
	"time"

	"github.com/B83C/rmk/hidreport"
	"github.com/B83C/rmk/keycode"
	"github.com/B83C/rmk/keyevent"
	"github.com/B83C/rmk/keymap"
)

type cellKey struct{ row, col int }

// oneShotLayerTag is the sentinel (row, col) used to tag a one-shot
// layer's LayerStack entry; no real matrix cell has negative coordinates.
var oneShotLayerTag = cellKey{row: -1, col: -1}

// Config controls the tap-hold timeout and report encoding.
type Config struct {
	HoldTimeout time.Duration // default DefaultHoldTimeout
	NKRO        bool          // false: 6KRO reports, true: NKRO bitmap reports
}

func (c Config) withDefaults() Config {
	if c.HoldTimeout <= 0 {
		c.HoldTimeout = DefaultHoldTimeout
	}
	return c
}

// pressedCell records what a resolved, currently-held cell is contributing
// to the live report, so release can reverse exactly that contribution.
type pressedCell struct {
	kind        keymap.ActionKind
	keycode     uint16
	withModMods uint8
	macroIndex  int
}

// Keyboard is the per-device keymap interpreter. One Keyboard owns one
// KeyMap, one LayerStack, one ModifierState, and the HID report state
// derived from them — the generalization of VIIPER's
// device/keyboard.Keyboard from "one fixed input state behind stateMu"
// to "derive the input state by resolving a layered keymap."
type Keyboard struct {
	cfg      Config
	km       *keymap.KeyMap
	layers   *keymap.LayerStack
	mods     *keymap.ModifierState
	reporter Reporter
	logger   *slog.Logger

	pressed        map[cellKey]pressedCell
	tapHolds       map[cellKey]*pendingTapHold
	deferred       []cellKey
	deferredAction map[cellKey]keymap.Action

	oneShotLayerArmed bool
	oneShotLayer      int

	macros map[int]*macroPlayer

	// live* holds the currently-pressed key set, mutated directly by
	// setKey as presses/releases are resolved. sent* holds the last
	// report actually submitted to the Reporter, compared against live*
	// in flushReport to implement the dedup rule (spec §4.2).
	live6KRO hidreport.Keyboard6KRO
	sent6KRO hidreport.Keyboard6KRO
	liveNKRO hidreport.KeyboardNKRO
	sentNKRO hidreport.KeyboardNKRO
}

// New builds a Keyboard bound to km, using reporter as its HID sink.
func New(cfg Config, km *keymap.KeyMap, reporter Reporter, logger *slog.Logger) *Keyboard {
	return &Keyboard{
		cfg:            cfg.withDefaults(),
		km:             km,
		layers:         keymap.NewLayerStack(),
		mods:           keymap.NewModifierState(),
		reporter:       reporter,
		logger:         logger,
		pressed:        make(map[cellKey]pressedCell),
		tapHolds:       make(map[cellKey]*pendingTapHold),
		deferredAction: make(map[cellKey]keymap.Action),
		macros:         make(map[int]*macroPlayer),
	}
}

// Run consumes events from in until ctx is cancelled, driving both
// event-triggered resolution and the periodic tick that expires tap-hold
// timers and advances macro playback.
func (k *Keyboard) Run(ctx context.Context, in <-chan keyevent.Event) error {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-in:
			k.HandleEvent(ev)
		case t := <-ticker.C:
			k.Tick(t)
		}
	}
}

// HandleEvent processes one debounced matrix edge.
func (k *Keyboard) HandleEvent(ev keyevent.Event) {
	cell := cellKey{row: int(ev.Row), col: int(ev.Col)}
	if ev.Pressed {
		k.handlePress(cell, ev.Timestamp)
	} else {
		k.handleRelease(cell, ev.Timestamp)
	}
}

// Tick advances timers: expired tap-holds commit to Hold, and in-flight
// macros advance their next due record.
func (k *Keyboard) Tick(now time.Time) {
	for cell, p := range k.tapHolds {
		if p.outcome != outcomePending {
			continue
		}
		if !now.Before(p.deadline) {
			k.commitHold(cell, p)
		}
	}
	for idx, mp := range k.macros {
		mp.step(now, k.emitMacroRecord)
		if mp.done() {
			delete(k.macros, idx)
		}
	}
}

func (k *Keyboard) handlePress(cell cellKey, now time.Time) {
	activeLayers := k.layers.ActiveLayers()
	action, err := k.km.Resolve(cell.row, cell.col, activeLayers)
	if err != nil {
		if k.logger != nil {
			k.logger.Warn("resolve failed", "row", cell.row, "col", cell.col, "err", err)
		}
		return
	}

	// Permissive hold: a plain key's full press+release cycle while a
	// tap-hold is still undecided commits the earliest pending tap-hold
	// to Hold before the plain key itself is resolved (spec §4.2).
	// Tap-holds already committed (Tap or Hold) no longer gate this —
	// only ones still awaiting their timer or release do.
	if !action.IsTapHold() && action.Kind != keymap.ActionNo && k.hasPendingTapHold() {
		k.deferred = append(k.deferred, cell)
		k.deferredAction[cell] = action
		return
	}

	k.dispatchPress(cell, action, now)
}

// dispatchPress applies action's effect and, where the action changes the
// live report state, flushes the report for it (a Tap flushes one for its
// press and one for its release). Arming a one-shot
// produces no report of its own (per common firmware behavior, pressing
// an OSM key is not itself host-visible); the modifier surfaces combined
// with whichever key's report consumes it, and consuming never triggers a
// second, flicker-inducing correction report afterward.
func (k *Keyboard) dispatchPress(cell cellKey, action keymap.Action, now time.Time) {
	switch action.Kind {
	case keymap.ActionNo, keymap.ActionTransparent:
		return

	case keymap.ActionSingle:
		k.pressed[cell] = pressedCell{kind: action.Kind, keycode: action.Code}
		k.setKeyAndReport(action.Code, true)
		k.consumeOneShotSilently()

	case keymap.ActionWithModifier:
		k.mods.PushWithModifier(cell.row, cell.col, action.Mods)
		k.pressed[cell] = pressedCell{kind: action.Kind, keycode: action.Code, withModMods: action.Mods}
		k.setKeyAndReport(action.Code, true)
		k.consumeOneShotSilently()

	case keymap.ActionTap:
		k.setKeyAndReport(action.Code, true)
		k.setKeyAndReport(action.Code, false)
		k.consumeOneShotSilently()

	case keymap.ActionLayerTapHold:
		k.tapHolds[cell] = &pendingTapHold{
			row: cell.row, col: cell.col, isLayer: true,
			tapCode: action.Code, holdLayer: int(action.Layer),
			pressedAt: now, deadline: now.Add(k.cfg.HoldTimeout),
		}

	case keymap.ActionModifierTapHold:
		k.tapHolds[cell] = &pendingTapHold{
			row: cell.row, col: cell.col, isLayer: false,
			tapCode: action.Code, holdMods: action.Mods,
			pressedAt: now, deadline: now.Add(k.cfg.HoldTimeout),
		}

	case keymap.ActionOneShotModifier:
		k.mods.ArmOneShot(action.Mods)

	case keymap.ActionOneShotLayer:
		k.oneShotLayerArmed = true
		k.oneShotLayer = int(action.Layer)
		k.layers.Push(oneShotLayerTag.row, oneShotLayerTag.col, int(action.Layer))

	case keymap.ActionMacro:
		k.triggerMacro(int(action.MacroIndex), now)
		k.consumeOneShotSilently()
	}
}

func (k *Keyboard) handleRelease(cell cellKey, now time.Time) {
	if _, wasDeferred := k.deferredAction[cell]; wasDeferred {
		k.resolveDeferredOnRelease(cell, now)
		return
	}

	if p, ok := k.tapHolds[cell]; ok {
		switch p.outcome {
		case outcomePending:
			// Released before the timer fired: tap decision, a brief
			// press-then-release of the tap keycode.
			k.setKeyAndReport(p.tapCode, true)
			k.setKeyAndReport(p.tapCode, false)
			k.consumeOneShotSilently()
		case outcomeHold:
			k.reverseHold(p)
		}
		delete(k.tapHolds, cell)
		return
	}

	pc, ok := k.pressed[cell]
	if !ok {
		// Nothing is live for this cell (e.g. it resolved to an
		// OneShot arm, which never occupies a pressed slot): there is
		// no report to correct, so releasing it stays silent.
		return
	}
	delete(k.pressed, cell)
	switch pc.kind {
	case keymap.ActionSingle:
		k.setKeyAndReport(pc.keycode, false)
	case keymap.ActionWithModifier:
		k.setKeyAndReport(pc.keycode, false)
	}

	// Always clear any WithModifier contribution tagged by this cell,
	// regardless of which branch above fired (spec §4.2 release rules).
	k.mods.PopWithModifier(cell.row, cell.col)
	k.flushReport()
}

// resolveDeferredOnRelease completes a plain key's deferred press+release:
// first force the earliest pending tap-hold to its Hold outcome, then
// resolve and emit the deferred key on the now-updated layer/mod state.
func (k *Keyboard) resolveDeferredOnRelease(cell cellKey, now time.Time) {
	if p := earliest(k.tapHolds); p != nil {
		k.commitHold(cellKey{row: p.row, col: p.col}, p)
	}
	action := k.deferredAction[cell]
	delete(k.deferredAction, cell)
	k.removeDeferred(cell)
	k.dispatchPress(cell, action, now)
	if action.Kind == keymap.ActionSingle || action.Kind == keymap.ActionWithModifier {
		// The real key-up already happened before we could resolve the
		// press; emit the matching release immediately.
		k.dispatchRelease(cell, action)
	}
}

func (k *Keyboard) dispatchRelease(cell cellKey, action keymap.Action) {
	delete(k.pressed, cell)
	switch action.Kind {
	case keymap.ActionSingle:
		k.setKeyAndReport(action.Code, false)
	case keymap.ActionWithModifier:
		k.setKeyAndReport(action.Code, false)
		k.mods.PopWithModifier(cell.row, cell.col)
	}
	k.flushReport()
}

func (k *Keyboard) hasPendingTapHold() bool {
	for _, p := range k.tapHolds {
		if p.outcome == outcomePending {
			return true
		}
	}
	return false
}

func (k *Keyboard) removeDeferred(cell cellKey) {
	for i, c := range k.deferred {
		if c == cell {
			k.deferred = append(k.deferred[:i], k.deferred[i+1:]...)
			return
		}
	}
}

func (k *Keyboard) commitHold(cell cellKey, p *pendingTapHold) {
	p.outcome = outcomeHold
	if p.isLayer {
		k.layers.Push(cell.row, cell.col, p.holdLayer)
	} else {
		k.mods.PushHold(cell.row, cell.col, p.holdMods)
	}
	k.flushReport()
}

func (k *Keyboard) reverseHold(p *pendingTapHold) {
	if p.isLayer {
		k.layers.Pop(p.row, p.col)
	} else {
		k.mods.PopHold(p.row, p.col)
	}
	k.flushReport()
}

// consumeOneShotSilently clears the one-shot modifier/layer register after
// a non-one-shot key press has been processed, per spec §4.2. It does not
// flush a report itself: the triggering press already flushed one report
// with the one-shot contribution included, and clearing the register must
// not produce a second, immediately-contradicting report for a key that
// is still physically held.
func (k *Keyboard) consumeOneShotSilently() {
	k.mods.ConsumeOneShot()
	if k.oneShotLayerArmed {
		k.layers.Pop(oneShotLayerTag.row, oneShotLayerTag.col)
		k.oneShotLayerArmed = false
	}
}

func (k *Keyboard) triggerMacro(index int, now time.Time) {
	if _, playing := k.macros[index]; playing {
		// Non-reentrant per index: a second trigger while playing is
		// dropped (spec §4.2.1).
		return
	}
	segment, err := k.km.ReadMacroCacheRange(0, keymap.MacroSpaceSize)
	if err != nil {
		return
	}
	recs := macroSegmentForIndex(segment, index)
	if recs == nil {
		return
	}
	k.macros[index] = newMacroPlayer(index, recs, now)
}

// macroSegmentForIndex returns the decoded, text-expanded records for the
// nth null-separated segment in the macro cache, or nil if index is out
// of range or the segment is empty.
func macroSegmentForIndex(cache []byte, index int) []macroRecord {
	segments := splitMacroSegments(cache)
	if index < 0 || index >= len(segments) || len(segments[index]) == 0 {
		return nil
	}
	return expandText(segments[index])
}

func expandText(recs []macroRecord) []macroRecord {
	out := make([]macroRecord, 0, len(recs))
	for _, r := range recs {
		if r.op == macroOpText {
			out = append(out, textToTaps(r.text)...)
			continue
		}
		out = append(out, r)
	}
	return out
}

func (k *Keyboard) emitMacroRecord(rec macroRecord) {
	switch rec.op {
	case macroOpTap:
		k.setKeyAndReport(rec.code, true)
		k.setKeyAndReport(rec.code, false)
	case macroOpDown:
		k.setKeyAndReport(rec.code, true)
	case macroOpUp:
		k.setKeyAndReport(rec.code, false)
	}
}

// setKeyAndReport sets code's pressed state in the live report buffer and
// immediately flushes a (deduplicated) report — macro playback and
// quick-tap emission both need a report between the down and up half.
func (k *Keyboard) setKeyAndReport(code uint16, pressed bool) {
	k.setKey(code, pressed)
	k.flushReport()
}

func (k *Keyboard) setKey(code uint16, pressed bool) {
	if code == keycode.KeyNone {
		return
	}
	if k.cfg.NKRO {
		k.liveNKRO.Set(uint8(code), pressed)
		return
	}
	if pressed {
		for i, c := range k.live6KRO.Keys {
			if c == 0 {
				k.live6KRO.Keys[i] = uint8(code)
				return
			}
		}
		// 6KRO is full: the key is left out of the report; no
		// ErrorRollOver report is sent.
	} else {
		for i, c := range k.live6KRO.Keys {
			if c == uint8(code) {
				k.live6KRO.Keys[i] = 0
				return
			}
		}
	}
}

// flushReport rebuilds the modifier byte from ModifierState and submits a
// keyboard report to the Reporter, deduplicated against the last report
// sent (spec §4.2: "identical consecutive reports are not sent").
func (k *Keyboard) flushReport() {
	mods := k.mods.Composed()
	if k.cfg.NKRO {
		k.liveNKRO.Modifiers = mods
		if k.liveNKRO.Equal(k.sentNKRO) {
			return
		}
		k.sentNKRO = k.liveNKRO
		if k.reporter != nil {
			_ = k.reporter.SendKeyboardReport(k.liveNKRO.BuildReport())
		}
		return
	}

	k.live6KRO.Modifiers = mods
	if k.live6KRO == k.sent6KRO {
		return
	}
	k.sent6KRO = k.live6KRO
	if k.reporter != nil {
		_ = k.reporter.SendKeyboardReport(k.live6KRO.BuildReport())
	}
}
