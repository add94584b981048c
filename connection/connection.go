// Package connection supervises which transport — USB or BLE — currently
// owns HID report delivery, arbitrating between them, driving BLE
// advertising parameters and profile switches, and retrying a dropped
// BLE link after a bounded backoff. It is the keyboard-domain analogue
// of internal/cmd/server.go's StartServer: a supervisor goroutine that
// selects over several independent state-change channels and tears
// everything down cleanly when its context is canceled.
package connection

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/B83C/rmk/bonder"
	"github.com/B83C/rmk/keyboard"
	"github.com/B83C/rmk/storage"
)

// Transport is either USB or BLE; at most one owns HID report delivery at
// a time (Run documents the arbitration rules).
type Transport int

const (
	TransportNone Transport = iota
	TransportUSB
	TransportBLE
)

func (t Transport) String() string {
	switch t {
	case TransportUSB:
		return "usb"
	case TransportBLE:
		return "ble"
	default:
		return "none"
	}
}

// AdvertisingConfig is the BLE advertising and connection-parameter set
// spec §4.6 names: a scannable, pairable advertisement at 500 ms
// intervals, connection parameters updated twice after connect (an
// Apple-friendly 15 ms/15 ms/99/5 s set, then a peak-throughput
// 7.5 ms/7.5 ms set 5 seconds later on platforms that allow it).
type AdvertisingConfig struct {
	Interval         time.Duration
	TXPowerDBm       int
	InitialConnMin   time.Duration
	InitialConnMax   time.Duration
	InitialSlaveLat  int
	InitialSupervise time.Duration
	BoostDelay       time.Duration
	BoostedConnMin   time.Duration
	BoostedConnMax   time.Duration
}

// DefaultAdvertisingParams is the fixed parameter set spec §4.6
// specifies; boards have no reason to vary it.
var DefaultAdvertisingParams = AdvertisingConfig{
	Interval:         500 * time.Millisecond,
	TXPowerDBm:       4,
	InitialConnMin:   15 * time.Millisecond,
	InitialConnMax:   15 * time.Millisecond,
	InitialSlaveLat:  99,
	InitialSupervise: 5 * time.Second,
	BoostDelay:       5 * time.Second,
	BoostedConnMin:   7500 * time.Microsecond,
	BoostedConnMax:   7500 * time.Microsecond,
}

// ReconnectBackoff is the fixed delay before retrying a dropped BLE link.
const ReconnectBackoff = time.Second

// connectionTypeUSB/connectionTypeBLE mirror the persisted
// StorageData.ConnectionType(u8) values spec §4.6 names: USB(0), BLE(1).
const (
	connectionTypeUSB uint8 = 0
	connectionTypeBLE uint8 = 1
)

// Reader is the synchronous read side of the storage engine the
// supervisor needs to learn the persisted CONNECTION_TYPE preference —
// the same narrow slice via.Reader takes of the storage engine.
type Reader interface {
	Get(key storage.Key) ([]byte, bool)
}

// USBLink reports whether a USB transport is currently attached and
// usable for HID report delivery.
type USBLink interface {
	Present() bool
	Reporter() keyboard.Reporter
}

// BLELink is the BLE side of the supervisor: advertise, accept a
// connection from a bonded peer, and report link loss.
type BLELink interface {
	// Advertise starts pairable/scannable advertising for the given
	// profile and blocks until a peer connects or ctx is canceled.
	Advertise(ctx context.Context, profile int, params AdvertisingConfig) (peerAddress [6]byte, reporter keyboard.Reporter, err error)
	// Disconnect tears down the current BLE connection, if any.
	Disconnect() error
}

// ProfileSwitchRequest asks the supervisor to move to a different bond
// profile, triggered by a host-key action or a VIA command (spec §4.6).
type ProfileSwitchRequest struct {
	Profile int
}

// Supervisor arbitrates USB vs BLE and owns the active Reporter handed
// to keyboard.Keyboard, swapping it out across reconnects and profile
// switches. Transport handles are owned here, across reconnects, as
// spec §3's ownership section requires.
type Supervisor struct {
	usb    USBLink
	ble    BLELink
	bonder *bonder.Bonder
	reader Reader
	logger *slog.Logger

	switchCh chan ProfileSwitchRequest
	active   Transport
	reporter keyboard.Reporter
}

// NewSupervisor builds a Supervisor. reader may be nil, in which case
// CONNECTION_TYPE is treated as USB (its zero-value default) and rule 2
// never applies — only a board with persisted storage can prefer BLE
// while USB stays enumerated.
func NewSupervisor(usb USBLink, ble BLELink, bnd *bonder.Bonder, reader Reader, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		usb:      usb,
		ble:      ble,
		bonder:   bnd,
		reader:   reader,
		logger:   logger,
		switchCh: make(chan ProfileSwitchRequest, 1),
	}
}

// connectionType reads the persisted CONNECTION_TYPE preference,
// defaulting to USB when unset or unreadable (storage.GetUint8's own
// zero-value convention for an unwritten key).
func (s *Supervisor) connectionType() uint8 {
	if s.reader == nil {
		return connectionTypeUSB
	}
	raw, ok := s.reader.Get(storage.KeyConnectionType)
	if !ok || len(raw) != 1 {
		return connectionTypeUSB
	}
	return raw[0]
}

// RequestProfileSwitch enqueues a profile switch, non-blocking; a full
// queue (a switch already pending) coalesces by replacing the pending
// request, since only the most recent request matters.
func (s *Supervisor) RequestProfileSwitch(profile int) {
	req := ProfileSwitchRequest{Profile: profile}
	for {
		select {
		case s.switchCh <- req:
			return
		default:
		}
		select {
		case <-s.switchCh:
		default:
		}
	}
}

// ActiveTransport returns which transport currently owns report
// delivery, and the Reporter currently in use (nil if none).
func (s *Supervisor) ActiveTransport() (Transport, keyboard.Reporter) {
	return s.active, s.reporter
}

// Run drives the supervisor loop until ctx is canceled, applying spec
// §4.6's two USB/BLE arbitration rules every iteration:
//
//  1. CONNECTION_TYPE=USB and USB enumerated: USB owns report delivery.
//  2. CONNECTION_TYPE=BLE and USB enumerated: USB stays physically
//     enumerated (so it can still charge the board) but idle — reports
//     keep going out over BLE instead, so the existing host BLE
//     association is never disturbed by plugging in a cable.
//
// When USB is absent, BLE is the only option regardless of
// CONNECTION_TYPE.
func (s *Supervisor) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		usbPresent := s.usb != nil && s.usb.Present()

		if usbPresent && s.connectionType() == connectionTypeUSB {
			s.setTransport(TransportUSB, s.usb.Reporter())
			if err := s.waitWhileUSBShouldStayActive(ctx); err != nil {
				return err
			}
			continue
		}

		if err := s.runBLECycle(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn("connection: ble cycle failed, retrying", "err", err, "backoff", ReconnectBackoff)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(ReconnectBackoff):
			}
		}
	}
}

// waitWhileUSBShouldStayActive blocks while USB stays both attached and
// preferred, still servicing profile-switch requests (which only affect
// the eventual BLE side) and returning as soon as either condition
// flips so Run can re-evaluate (fall back to BLE on unplug, or hand
// reports to BLE on a CONNECTION_TYPE change per rule 2).
func (s *Supervisor) waitWhileUSBShouldStayActive(ctx context.Context) error {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-s.switchCh:
			if s.bonder != nil {
				_ = s.bonder.SwitchProfile(ctx, req.Profile)
			}
		case <-ticker.C:
			if s.usb == nil || !s.usb.Present() {
				return nil
			}
			if s.connectionType() != connectionTypeUSB {
				return nil
			}
		}
	}
}

func (s *Supervisor) runBLECycle(ctx context.Context) error {
	if s.ble == nil || s.bonder == nil {
		<-ctx.Done()
		return ctx.Err()
	}

	profile := s.bonder.ActiveProfile()
	peerAddr, reporter, err := s.ble.Advertise(ctx, profile, DefaultAdvertisingParams)
	if err != nil {
		return err
	}

	ok, err := s.bonder.CheckConnection(peerAddr)
	if err != nil || !ok {
		s.logger.Warn("connection: ble peer failed bond check, disconnecting", "profile", profile)
		_ = s.ble.Disconnect()
		return fmt.Errorf("connection: peer address did not match bonded profile %d", profile)
	}

	s.setTransport(TransportBLE, reporter)
	defer s.setTransport(TransportNone, nil)

	select {
	case <-ctx.Done():
		_ = s.ble.Disconnect()
		return ctx.Err()
	case req := <-s.switchCh:
		_ = s.ble.Disconnect()
		if s.bonder != nil {
			_ = s.bonder.SwitchProfile(ctx, req.Profile)
		}
		return nil
	}
}

func (s *Supervisor) setTransport(t Transport, r keyboard.Reporter) {
	if s.active != t {
		s.logger.Info("connection: transport changed", "from", s.active, "to", t)
	}
	s.active = t
	s.reporter = r
}
