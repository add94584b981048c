package storage

import "encoding/binary"

// The helpers below encode/decode the fixed StorageData payload shapes
// the spec names (ActiveBleProfile, ConnectionType, LayoutOptions,
// BondInfo, KeymapCell; the MacroBuffer is written as raw bytes and has
// no helper) as plain byte slices suitable for
// Engine.Put/Get, the same "small fixed struct <-> []byte" discipline
// usbip.go's Write methods use for wire structures, just without the
// io.Writer indirection since these are single in-memory values rather
// than streamed packets.

// PutUint8 and GetUint8 cover ActiveBleProfile and ConnectionType.
func PutUint8(e *Engine, key Key, v uint8) error {
	return e.Put(key, []byte{v})
}

func GetUint8(e *Engine, key Key) (uint8, bool) {
	v, ok := e.Get(key)
	if !ok || len(v) != 1 {
		return 0, false
	}
	return v[0], true
}

// PutUint32 and GetUint32 cover LayoutOptions.
func PutUint32(e *Engine, key Key, v uint32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	return e.Put(key, buf[:])
}

func GetUint32(e *Engine, key Key) (uint32, bool) {
	v, ok := e.Get(key)
	if !ok || len(v) != 4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(v), true
}

// KeymapCellPayload encodes one KeyAction's wire form for the
// KeymapKey range: kind, code (u16), and an extra mods/layer
// byte, matching the fields keymap.Action actually carries.
type KeymapCellPayload struct {
	Kind uint8
	Code uint16
	Extra uint8 // mods for WithModifier/ModifierTapHold, layer for LayerTapHold, macro index for Macro
}

func (p KeymapCellPayload) Bytes() []byte {
	buf := make([]byte, 4)
	buf[0] = p.Kind
	binary.BigEndian.PutUint16(buf[1:3], p.Code)
	buf[3] = p.Extra
	return buf
}

func DecodeKeymapCellPayload(b []byte) (KeymapCellPayload, bool) {
	if len(b) != 4 {
		return KeymapCellPayload{}, false
	}
	return KeymapCellPayload{
		Kind:  b[0],
		Code:  binary.BigEndian.Uint16(b[1:3]),
		Extra: b[3],
	}, true
}

// BondInfoPayload is the fixed-size record mirrored to one of the 8
// reserved bond slots (0x0010..0x0017).
type BondInfoPayload struct {
	Valid   bool
	Address [6]byte
	LTK     [16]byte
}

func (p BondInfoPayload) Bytes() []byte {
	buf := make([]byte, 1+6+16)
	if p.Valid {
		buf[0] = 1
	}
	copy(buf[1:7], p.Address[:])
	copy(buf[7:23], p.LTK[:])
	return buf
}

func DecodeBondInfoPayload(b []byte) (BondInfoPayload, bool) {
	if len(b) != 23 {
		return BondInfoPayload{}, false
	}
	var p BondInfoPayload
	p.Valid = b[0] != 0
	copy(p.Address[:], b[1:7])
	copy(p.LTK[:], b[7:23])
	return p, true
}
