package keymap

import (
	"fmt"
	"sync"
)

// MacroSpaceSize is the default fixed size of the macro_cache byte buffer.
const MacroSpaceSize = 1024

// NumMacro is the default maximum number of null-terminated macro
// sequences the macro cache can hold.
const NumMacro = 16

// KeyMap is the fixed [NUM_LAYER][ROW][COL] array of Actions plus the
// macro cache, as described in spec §3. Go has no const-generic array
// dimensions, so layers/rows/cols are slices sized once at construction
// from the board configuration and never resized afterward — the same
// "fixed at build time" invariant the spec requires, expressed with
// slices instead of arrays (idiomatic Go; an [N][R][C]Action array would
// force NUM_LAYER/ROW/COL to be Go compile-time constants shared by every
// board the engine ever runs, which defeats the point of a board config).
//
// Ownership: KeyMap is owned by the supervisor and lent by reference to
// the Keyboard and the VIA processor. There is no internal locking beyond
// mu: per spec §3 this assumes single-writer (VIA) and single-reader
// (Keyboard) at any instant, enforced by the caller's scheduling
// discipline. mu exists only to make concurrent misuse fail safely rather
// than corrupt memory, mirroring the stateMu pattern VIIPER's device
// package uses around its InputState.
type KeyMap struct {
	mu         sync.RWMutex
	layers     [][][]Action
	numLayer   int
	rows       int
	cols       int
	macroCache [MacroSpaceSize]byte
}

// New builds a KeyMap for a board with the given layer/row/col counts.
// Every cell starts Transparent on layers above 0 and No on layer 0.
func New(numLayer, rows, cols int) *KeyMap {
	layers := make([][][]Action, numLayer)
	for l := range layers {
		layers[l] = make([][]Action, rows)
		for r := range layers[l] {
			layers[l][r] = make([]Action, cols)
			if l > 0 {
				for c := range layers[l][r] {
					layers[l][r][c] = Transparent
				}
			}
		}
	}
	return &KeyMap{layers: layers, numLayer: numLayer, rows: rows, cols: cols}
}

func (k *KeyMap) NumLayer() int { return k.numLayer }
func (k *KeyMap) Rows() int     { return k.rows }
func (k *KeyMap) Cols() int     { return k.cols }

func (k *KeyMap) inBounds(layer, row, col int) bool {
	return layer >= 0 && layer < k.numLayer && row >= 0 && row < k.rows && col >= 0 && col < k.cols
}

// GetAction returns the action bound to (layer, row, col).
func (k *KeyMap) GetAction(layer, row, col int) (Action, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if !k.inBounds(layer, row, col) {
		return No, fmt.Errorf("keymap: out of bounds (layer=%d row=%d col=%d)", layer, row, col)
	}
	return k.layers[layer][row][col], nil
}

// SetAction writes the action bound to (layer, row, col). This is the only
// single-cell mutation path; its callers are the VIA processor and
// rmkctl's startup restore of persisted cells.
func (k *KeyMap) SetAction(layer, row, col int, a Action) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if !k.inBounds(layer, row, col) {
		return fmt.Errorf("keymap: out of bounds (layer=%d row=%d col=%d)", layer, row, col)
	}
	k.layers[layer][row][col] = a
	return nil
}

// Resolve walks the layer stack from top to bottom, returning the first
// non-Transparent action at (row, col); once the active layers are
// exhausted it returns the layer-0 action at (row, col), whatever it is.
// activeLayers must be ordered top-of-stack first.
func (k *KeyMap) Resolve(row, col int, activeLayers []int) (Action, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	for _, layer := range activeLayers {
		if !k.inBounds(layer, row, col) {
			continue
		}
		a := k.layers[layer][row][col]
		if a.Kind != ActionTransparent {
			return a, nil
		}
	}
	if !k.inBounds(0, row, col) {
		return No, fmt.Errorf("keymap: out of bounds (row=%d col=%d)", row, col)
	}
	return k.layers[0][row][col], nil
}

// FlatIndex returns the offset of (layer, row, col) in a flattened
// layer-major, then row-major, then col-major iteration order, matching
// original_source's `layers.iter().flatten().flatten()` traversal used by
// DynamicKeymapGetBuffer/SetBuffer.
func (k *KeyMap) FlatIndex(layer, row, col int) int {
	return layer*k.rows*k.cols + row*k.cols + col
}

// PositionFromOffset inverts FlatIndex, used by DynamicKeymapSetBuffer to
// recover (layer, row, col) from a flat cell offset so the corresponding
// storage write can be enqueued. Ported from
// original_source/rmk/src/via/mod.rs get_position_from_offset.
func (k *KeyMap) PositionFromOffset(offset int) (layer, row, col int) {
	perLayer := k.rows * k.cols
	layer = offset / perLayer
	rem := offset % perLayer
	row = rem / k.cols
	col = rem % k.cols
	return
}

// GetActionAtOffset/SetActionAtOffset address cells by flat offset, used by
// the VIA bulk-buffer commands.
func (k *KeyMap) GetActionAtOffset(offset int) (Action, error) {
	layer, row, col := k.PositionFromOffset(offset)
	return k.GetAction(layer, row, col)
}

func (k *KeyMap) SetActionAtOffset(offset int, a Action) error {
	layer, row, col := k.PositionFromOffset(offset)
	return k.SetAction(layer, row, col, a)
}

// TotalCells returns numLayer*rows*cols, the size of the flat keymap space.
func (k *KeyMap) TotalCells() int {
	return k.numLayer * k.rows * k.cols
}

// MacroCache returns a copy of the macro_cache buffer.
func (k *KeyMap) MacroCache() [MacroSpaceSize]byte {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.macroCache
}

// SetMacroCache overwrites the entire macro_cache buffer.
func (k *KeyMap) SetMacroCache(buf [MacroSpaceSize]byte) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.macroCache = buf
}

// WriteMacroCacheRange writes data into macro_cache[offset:offset+len(data)].
// Returns an error if the range is out of bounds.
func (k *KeyMap) WriteMacroCacheRange(offset int, data []byte) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if offset < 0 || offset+len(data) > len(k.macroCache) {
		return fmt.Errorf("keymap: macro cache write out of range (offset=%d len=%d)", offset, len(data))
	}
	copy(k.macroCache[offset:], data)
	return nil
}

// ReadMacroCacheRange reads macro_cache[offset:offset+n].
func (k *KeyMap) ReadMacroCacheRange(offset, n int) ([]byte, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if offset < 0 || offset+n > len(k.macroCache) {
		return nil, fmt.Errorf("keymap: macro cache read out of range (offset=%d len=%d)", offset, n)
	}
	out := make([]byte, n)
	copy(out, k.macroCache[offset:offset+n])
	return out, nil
}

// ResetMacroCache zeroes the entire macro_cache buffer (EepromReset path).
func (k *KeyMap) ResetMacroCache() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.macroCache = [MacroSpaceSize]byte{}
}

// CountMacroZerosUpTo counts null separators in macro_cache[0:end], used to
// decide when a macro-buffer write has completed the final sequence.
func (k *KeyMap) CountMacroZerosUpTo(end int) int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	n := 0
	for i := 0; i < end && i < len(k.macroCache); i++ {
		if k.macroCache[i] == 0 {
			n++
		}
	}
	return n
}
