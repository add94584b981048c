// Package via implements the VIA/Vial live-reconfiguration protocol: a
// 32-byte fixed-frame request/response dispatcher that reads and mutates
// the running KeyMap and enqueues the corresponding storage writes.
package via

// FrameSize is the fixed VIA report length: no length prefix, raw HID
// report or GATT notification payload (spec §6).
const FrameSize = 32

// Command is the VIA command byte (report[0]). Numbering follows the
// VIA protocol ids original_source/rmk/src/via/mod.rs dispatches on, in
// the same declaration order as that file's match arms.
type Command uint8

const (
	CmdGetProtocolVersion Command = 0x01
	CmdGetKeyboardValue   Command = 0x02
	CmdSetKeyboardValue   Command = 0x03

	CmdDynamicKeymapGetKeyCode Command = 0x04
	CmdDynamicKeymapSetKeyCode Command = 0x05
	CmdDynamicKeymapReset      Command = 0x06

	CmdCustomSetValue Command = 0x07
	CmdCustomGetValue Command = 0x08
	CmdCustomSave     Command = 0x09

	CmdEepromReset    Command = 0x0A
	CmdBootloaderJump Command = 0x0B

	CmdDynamicKeymapMacroGetCount      Command = 0x0C
	CmdDynamicKeymapMacroGetBufferSize Command = 0x0D
	CmdDynamicKeymapMacroGetBuffer     Command = 0x0E
	CmdDynamicKeymapMacroSetBuffer     Command = 0x0F
	CmdDynamicKeymapMacroReset         Command = 0x10

	CmdDynamicKeymapGetLayerCount Command = 0x11
	CmdDynamicKeymapGetBuffer     Command = 0x12
	CmdDynamicKeymapSetBuffer     Command = 0x13
	CmdDynamicKeymapGetEncoder    Command = 0x14
	CmdDynamicKeymapSetEncoder    Command = 0x15

	CmdVial      Command = 0xFE
	CmdUnhandled Command = 0xFF
)

// ViaKeyboardInfo is the sub-id carried in report[1] for
// GetKeyboardValue/SetKeyboardValue.
type ViaKeyboardInfo uint8

const (
	InfoUptime           ViaKeyboardInfo = 0x01
	InfoLayoutOptions    ViaKeyboardInfo = 0x02
	InfoSwitchMatrixState ViaKeyboardInfo = 0x03
	InfoFirmwareVersion  ViaKeyboardInfo = 0x04
	InfoDeviceIndication ViaKeyboardInfo = 0x05
)

// ProtocolVersion and FirmwareVersion are the fixed values this engine
// reports to a VIA host.
const (
	ProtocolVersion uint16 = 0x0009
	FirmwareVersion uint32 = 0x00000001
)

// MaxBulkBufferSize is the largest size a DynamicKeymap*Buffer /
// DynamicKeymapMacro*Buffer request may carry per spec §4.4.
const MaxBulkBufferSize = 28
