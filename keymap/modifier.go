package keymap

// ModifierState composes the eight-bit HID modifier byte from four
// independent sources (spec §3): physical modifier keys currently held,
// tap-hold holds, one-shot arms, and WithModifier annotations tagged by
// the cell that produced them (so release of that cell, and only that
// cell, removes its contribution).
type ModifierState struct {
	physical  uint8
	holds     map[cellTag]uint8
	oneShot   uint8
	oneShotOn bool
	withMods  map[cellTag]uint8
}

// NewModifierState returns a zeroed modifier state.
func NewModifierState() *ModifierState {
	return &ModifierState{
		holds:    make(map[cellTag]uint8),
		withMods: make(map[cellTag]uint8),
	}
}

// PressPhysical ORs mods into the physical modifier bitfield (a plain
// modifier key, e.g. Single(KeyLeftShift), held directly).
func (m *ModifierState) PressPhysical(mods uint8) { m.physical |= mods }

// ReleasePhysical clears mods from the physical modifier bitfield.
func (m *ModifierState) ReleasePhysical(mods uint8) { m.physical &^= mods }

// PushHold activates mods for the duration cell (row, col) is held, used by
// ModifierTapHold's hold decision.
func (m *ModifierState) PushHold(row, col int, mods uint8) {
	m.holds[cellTag{row, col}] = mods
}

// PopHold deactivates the hold-modifier contribution from cell (row, col).
func (m *ModifierState) PopHold(row, col int) {
	delete(m.holds, cellTag{row, col})
}

// PushWithModifier records a WithModifier contribution tagged by the
// pressing cell, cleared on that cell's release regardless of tap-hold
// outcome (spec §4.2 "Always clear any WithModifier contribution tagged by
// this cell").
func (m *ModifierState) PushWithModifier(row, col int, mods uint8) {
	m.withMods[cellTag{row, col}] = mods
}

// PopWithModifier clears the WithModifier contribution from cell (row, col).
func (m *ModifierState) PopWithModifier(row, col int) {
	delete(m.withMods, cellTag{row, col})
}

// ArmOneShot arms a one-shot modifier until the next non-one-shot key press.
func (m *ModifierState) ArmOneShot(mods uint8) {
	m.oneShot = mods
	m.oneShotOn = true
}

// ConsumeOneShot clears and returns whatever one-shot modifier was armed.
// Called after a non-one-shot key press has been resolved (spec §4.2: "clear
// on next non-OSM press, after that press is processed").
func (m *ModifierState) ConsumeOneShot() (mods uint8, wasArmed bool) {
	if !m.oneShotOn {
		return 0, false
	}
	mods = m.oneShot
	m.oneShot = 0
	m.oneShotOn = false
	return mods, true
}

// OneShotArmed reports whether a one-shot modifier is currently armed,
// without consuming it.
func (m *ModifierState) OneShotArmed() bool { return m.oneShotOn }

// Composed returns the full 8-bit HID modifier byte: physical | all holds |
// all WithModifier contributions | one-shot (if armed, without consuming
// it — consumption happens explicitly once the triggering key is known).
func (m *ModifierState) Composed() uint8 {
	out := m.physical
	for _, v := range m.holds {
		out |= v
	}
	for _, v := range m.withMods {
		out |= v
	}
	if m.oneShotOn {
		out |= m.oneShot
	}
	return out
}
