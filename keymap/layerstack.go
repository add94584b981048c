package keymap

// cellTag identifies the (row, col) that activated a layer, so release can
// find and remove the matching entry even if other layers were pushed
// after it (nested tap-holds).
type cellTag struct {
	row, col int
}

type layerEntry struct {
	layer int
	tag   cellTag
}

// LayerStack is the ordered list of activated layers described in spec §3.
// Layer 0 is implicit and always active at the bottom; it is never stored
// as an entry. Resolution order is top-of-stack (most recently pushed)
// downward, which KeyMap.Resolve consumes via ActiveLayers.
type LayerStack struct {
	entries []layerEntry
}

// NewLayerStack returns an empty stack (only the implicit base layer active).
func NewLayerStack() *LayerStack { return &LayerStack{} }

// Push activates layer, tagged by the (row, col) that caused the
// activation, so a later Pop for the same cell removes exactly this entry.
func (s *LayerStack) Push(row, col, layer int) {
	s.entries = append(s.entries, layerEntry{layer: layer, tag: cellTag{row, col}})
}

// Pop deactivates the layer that was pushed by (row, col), if any. Returns
// false if no matching entry was found (e.g. double release).
func (s *LayerStack) Pop(row, col int) bool {
	tag := cellTag{row, col}
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].tag == tag {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return true
		}
	}
	return false
}

// ActiveLayers returns the stack of active layers from top (most recently
// pushed) to bottom, not including the implicit layer 0 — callers that walk
// this for KeyMap.Resolve should append 0 themselves if desired, but
// KeyMap.Resolve already falls back to layer 0 once the stack is exhausted.
func (s *LayerStack) ActiveLayers() []int {
	out := make([]int, len(s.entries))
	for i, e := range s.entries {
		out[len(s.entries)-1-i] = e.layer
	}
	return out
}

// Contains reports whether layer is anywhere on the stack.
func (s *LayerStack) Contains(layer int) bool {
	for _, e := range s.entries {
		if e.layer == layer {
			return true
		}
	}
	return false
}

// Len returns the number of non-base active layers.
func (s *LayerStack) Len() int { return len(s.entries) }
