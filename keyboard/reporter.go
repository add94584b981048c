package keyboard

// Reporter is the HID sink the keyboard state machine submits built
// reports to — a USB or BLE transport, or cmd/rmkctl's loopback reporter
// for local development. Mirrors the role VIIPER's usbip.HandleTransfer
// plays as the boundary between device state and the wire, inverted into
// a push interface since the engine drives reports rather than answering
// host polls.
type Reporter interface {
	SendKeyboardReport(report []byte) error
	SendMediaReport(report []byte) error
	SendSystemReport(report []byte) error
	SendMouseReport(report []byte) error
}
