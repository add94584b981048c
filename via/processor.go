package via

import (
	"context"
	"encoding/binary"
	"log/slog"
	"time"

	"github.com/B83C/rmk/internal/log"
	"github.com/B83C/rmk/keymap"
	"github.com/B83C/rmk/storage"
)

// Reader is the synchronous read side of the storage engine;
// GetKeyboardValue{LayoutOptions} is the only command that needs it,
// since every other command either mutates the in-RAM KeyMap directly
// or only enqueues a write.
type Reader interface {
	Get(key storage.Key) ([]byte, bool)
}

// Writer is the FLASH_CHANNEL producer side, the slice of storage.Task
// the processor needs, kept as an interface so tests can swap in a
// fake without a real flash-file backing.
type Writer interface {
	Put(key storage.Key, payload []byte) bool
	PutWait(ctx context.Context, key storage.Key, payload []byte) error
	Wipe(ctx context.Context) error
}

// Processor dispatches 32-byte VIA/Vial request frames against a
// running KeyMap, ported from original_source/rmk/src/via/mod.rs's
// process_via_packet match arms (VialService there holds the same
// keymap-plus-storage-channel pair this holds as fields instead of
// async task handles).
type Processor struct {
	km      *keymap.KeyMap
	reader  Reader
	writer  Writer
	logger  *slog.Logger
	started time.Time

	vial Vial
	raw  log.RawLogger
}

// SetRawLogger attaches a hex-dump sink for every frame Process handles;
// a nil logger (the default) disables tracing entirely, so boards that
// never enable trace logging pay nothing beyond the nil check.
func (p *Processor) SetRawLogger(raw log.RawLogger) {
	p.raw = raw
}

// Vial handles the 0xFE sub-dispatch. A nil Vial responds Unhandled to
// every Vial subcommand, matching §4.4's "defers to a Vial-specific
// sub-parser" contract without requiring every board to implement it.
type Vial interface {
	Process(frame *[FrameSize]byte)
}

// NewProcessor builds a Processor over km, reading current values from
// reader and enqueuing writes through writer.
func NewProcessor(km *keymap.KeyMap, reader Reader, writer Writer, vial Vial, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{km: km, reader: reader, writer: writer, logger: logger, started: startTime(), vial: vial}
}

// startTime exists only so tests can see a stable, non-"now()" value
// isn't required: Instant.now() in the original is wall-clock uptime,
// which this engine approximates with time.Since(started).
func startTime() time.Time { return timeNow() }

var timeNow = time.Now

// Process handles one request frame in place and returns the response
// frame (VIA always echoes the command byte and overwrites only the
// bytes it understands, so request and response share a layout).
func (p *Processor) Process(req [FrameSize]byte) [FrameSize]byte {
	if p.raw != nil {
		p.raw.Log(false, req[:])
	}

	resp := req
	cmd := Command(req[0])

	switch cmd {
	case CmdGetProtocolVersion:
		binary.BigEndian.PutUint16(resp[1:3], ProtocolVersion)

	case CmdGetKeyboardValue:
		p.getKeyboardValue(req, &resp)

	case CmdSetKeyboardValue:
		p.setKeyboardValue(req, &resp)

	case CmdDynamicKeymapGetKeyCode:
		layer, row, col := int(req[1]), int(req[2]), int(req[3])
		action, err := p.km.GetAction(layer, row, col)
		if err != nil {
			p.logger.Warn("via: get keycode out of range", "layer", layer, "row", row, "col", col)
			action = keymap.No
		}
		binary.BigEndian.PutUint16(resp[4:6], toViaKeycode(action))

	case CmdDynamicKeymapSetKeyCode:
		layer, row, col := int(req[1]), int(req[2]), int(req[3])
		kc := binary.BigEndian.Uint16(req[4:6])
		action := fromViaKeycode(kc)
		if err := p.km.SetAction(layer, row, col, action); err != nil {
			p.logger.Warn("via: set keycode out of range", "layer", layer, "row", row, "col", col)
			break
		}
		p.enqueueKeymapWrite(layer, row, col, action)

	case CmdDynamicKeymapReset:
		p.logger.Warn("via: dynamic keymap reset not supported")

	case CmdCustomSetValue, CmdCustomGetValue, CmdCustomSave:
		p.logger.Warn("via: lighting/audio custom commands not supported")

	case CmdEepromReset:
		p.km.ResetMacroCache()
		_ = p.writer.Wipe(context.Background())

	case CmdBootloaderJump:
		p.logger.Warn("via: bootloader jump not supported")

	case CmdDynamicKeymapMacroGetCount:
		resp[1] = keymap.NumMacro

	case CmdDynamicKeymapMacroGetBufferSize:
		resp[1] = byte(keymap.MacroSpaceSize >> 8)
		resp[2] = byte(keymap.MacroSpaceSize & 0xFF)

	case CmdDynamicKeymapMacroGetBuffer:
		p.getMacroBuffer(req, &resp)

	case CmdDynamicKeymapMacroSetBuffer:
		p.setMacroBuffer(req, &resp)

	case CmdDynamicKeymapMacroReset:
		p.km.ResetMacroCache()
		cleared := p.km.MacroCache()
		p.writer.Put(storage.KeyMacroBuffer, cleared[:])

	case CmdDynamicKeymapGetLayerCount:
		resp[1] = byte(p.km.NumLayer())

	case CmdDynamicKeymapGetBuffer:
		p.getKeymapBuffer(req, &resp)

	case CmdDynamicKeymapSetBuffer:
		p.setKeymapBuffer(req, &resp)

	case CmdDynamicKeymapGetEncoder, CmdDynamicKeymapSetEncoder:
		p.logger.Warn("via: rotary encoder commands not supported")

	case CmdVial:
		if p.vial != nil {
			p.vial.Process(&resp)
		} else {
			resp[0] = byte(CmdUnhandled)
		}

	default:
		p.logger.Info("via: unhandled command", "command", req[0])
		resp[0] = byte(CmdUnhandled)
	}

	if p.raw != nil {
		p.raw.Log(true, resp[:])
	}

	return resp
}

func (p *Processor) getKeyboardValue(req [FrameSize]byte, resp *[FrameSize]byte) {
	switch ViaKeyboardInfo(req[1]) {
	case InfoUptime:
		binary.BigEndian.PutUint32(resp[2:6], uint32(time.Since(p.started).Milliseconds()))
	case InfoLayoutOptions:
		v, _ := getUint32(p.reader, storage.KeyLayoutOptions)
		binary.BigEndian.PutUint32(resp[2:6], v)
	case InfoSwitchMatrixState:
		p.logger.Warn("via: GetKeyboardValue SwitchMatrixState not supported")
	case InfoFirmwareVersion:
		binary.BigEndian.PutUint32(resp[2:6], FirmwareVersion)
	default:
		p.logger.Error("via: invalid GetKeyboardValue subcommand", "sub", req[1])
	}
}

func (p *Processor) setKeyboardValue(req [FrameSize]byte, resp *[FrameSize]byte) {
	switch ViaKeyboardInfo(req[1]) {
	case InfoLayoutOptions:
		v := binary.BigEndian.Uint32(req[2:6])
		p.writer.Put(storage.KeyLayoutOptions, u32Bytes(v))
	case InfoDeviceIndication:
		p.logger.Warn("via: SetKeyboardValue DeviceIndication not supported")
	default:
		p.logger.Error("via: invalid SetKeyboardValue subcommand", "sub", req[1])
	}
	_ = resp
}

func (p *Processor) getMacroBuffer(req [FrameSize]byte, resp *[FrameSize]byte) {
	offset := int(binary.BigEndian.Uint16(req[1:3]))
	size := int(req[3])
	if size > MaxBulkBufferSize {
		resp[0] = 0xFF
		return
	}
	data, err := p.km.ReadMacroCacheRange(offset, size)
	if err != nil {
		p.logger.Warn("via: macro buffer read out of range", "offset", offset, "size", size)
		resp[0] = 0xFF
		return
	}
	copy(resp[4:4+size], data)
}

func (p *Processor) setMacroBuffer(req [FrameSize]byte, resp *[FrameSize]byte) {
	offset := int(binary.BigEndian.Uint16(req[1:3]))
	size := int(req[3])
	if size > MaxBulkBufferSize {
		resp[0] = 0xFF
		return
	}
	end := offset + size

	if offset == 0 {
		p.km.ResetMacroCache()
	}
	if err := p.km.WriteMacroCacheRange(offset, req[4:4+size]); err != nil {
		p.logger.Warn("via: macro buffer write out of range", "offset", offset, "size", size)
		resp[0] = 0xFF
		return
	}

	numZero := p.km.CountMacroZerosUpTo(end)
	if size < MaxBulkBufferSize || numZero >= keymap.NumMacro {
		buf := p.km.MacroCache()
		p.writer.Put(storage.KeyMacroBuffer, buf[:])
		p.logger.Info("via: flushed macro cache to storage")
	}
}

func (p *Processor) getKeymapBuffer(req [FrameSize]byte, resp *[FrameSize]byte) {
	offset := int(binary.BigEndian.Uint16(req[1:3]))
	size := int(req[3])
	idx := 4
	for i := 0; i*2 < size && idx+2 <= FrameSize; i++ {
		cellOffset := offset/2 + i
		if cellOffset >= p.km.TotalCells() {
			break
		}
		action, err := p.km.GetActionAtOffset(cellOffset)
		if err != nil {
			break
		}
		binary.BigEndian.PutUint16(resp[idx:idx+2], toViaKeycode(action))
		idx += 2
	}
}

// setKeymapBuffer mirrors get_position_from_offset's usage: offsets here
// address individual cells directly (not /2), and the bulk payload's
// keycodes are little-endian, the documented asymmetry against every
// other VIA header field (spec §4.4/§6).
func (p *Processor) setKeymapBuffer(req [FrameSize]byte, resp *[FrameSize]byte) {
	offset := int(binary.BigEndian.Uint16(req[1:3]))
	size := int(req[3])
	idx := 4
	for i := 0; i < size && idx+2 <= FrameSize; i++ {
		cellOffset := offset + i
		if cellOffset >= p.km.TotalCells() {
			break
		}
		kc := binary.LittleEndian.Uint16(req[idx : idx+2])
		idx += 2
		action := fromViaKeycode(kc)
		if err := p.km.SetActionAtOffset(cellOffset, action); err != nil {
			continue
		}
		layer, row, col := p.km.PositionFromOffset(cellOffset)
		p.enqueueKeymapWrite(layer, row, col, action)
	}
	_ = resp
}

func (p *Processor) enqueueKeymapWrite(layer, row, col int, action keymap.Action) {
	var extra uint8
	switch action.Kind {
	case keymap.ActionLayerTapHold, keymap.ActionOneShotLayer:
		extra = action.Layer
	case keymap.ActionWithModifier, keymap.ActionModifierTapHold, keymap.ActionOneShotModifier:
		extra = action.Mods
	case keymap.ActionMacro:
		extra = action.MacroIndex
	}
	payload := storage.KeymapCellPayload{
		Kind:  uint8(action.Kind),
		Code:  action.Code,
		Extra: extra,
	}
	if !p.writer.Put(storage.KeymapKey(layer, row, col), payload.Bytes()) {
		p.logger.Error("via: storage channel full, keymap write dropped", "layer", layer, "row", row, "col", col)
	}
}

func u32Bytes(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

// getUint32 reads a big-endian u32 value through the Reader interface;
// a nil or missing entry reads as 0, matching the original's
// "layout_option: u32 = 0" placeholder before any value is ever stored.
func getUint32(r Reader, key storage.Key) (uint32, bool) {
	if r == nil {
		return 0, false
	}
	v, ok := r.Get(key)
	if !ok || len(v) != 4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(v), true
}
