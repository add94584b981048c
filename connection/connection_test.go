package connection_test

import (
	"context"
	"testing"
	"time"

	"github.com/B83C/rmk/bonder"
	"github.com/B83C/rmk/connection"
	"github.com/B83C/rmk/keyboard"
	"github.com/B83C/rmk/storage"
	"github.com/stretchr/testify/assert"
)

type fakeReporter struct{}

func (fakeReporter) SendKeyboardReport([]byte) error { return nil }
func (fakeReporter) SendMediaReport([]byte) error    { return nil }
func (fakeReporter) SendSystemReport([]byte) error   { return nil }
func (fakeReporter) SendMouseReport([]byte) error    { return nil }

type fakeUSB struct {
	present bool
}

func (f *fakeUSB) Present() bool              { return f.present }
func (f *fakeUSB) Reporter() keyboard.Reporter { return fakeReporter{} }

type fakeBLE struct {
	addr       [6]byte
	advertised chan int
}

func (f *fakeBLE) Advertise(ctx context.Context, profile int, params connection.AdvertisingConfig) ([6]byte, keyboard.Reporter, error) {
	select {
	case f.advertised <- profile:
	default:
	}
	<-ctx.Done()
	return [6]byte{}, nil, ctx.Err()
}
func (f *fakeBLE) Disconnect() error { return nil }

func TestSupervisorPrefersUSBWhenPresent(t *testing.T) {
	usb := &fakeUSB{present: true}
	ble := &fakeBLE{advertised: make(chan int, 1)}
	sup := connection.NewSupervisor(usb, ble, nil, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	transport, reporter := sup.ActiveTransport()
	assert.Equal(t, connection.TransportUSB, transport)
	assert.NotNil(t, reporter)

	select {
	case <-ble.advertised:
		t.Fatal("should not advertise BLE while USB is present")
	default:
	}

	<-done
}

func TestSupervisorFallsBackToBLEWhenUSBAbsent(t *testing.T) {
	usb := &fakeUSB{present: false}
	ble := &fakeBLE{advertised: make(chan int, 1)}

	st := newFakeBondStorage()
	bnd := bonder.New(st, st, nil)
	sup := connection.NewSupervisor(usb, ble, bnd, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	select {
	case profile := <-ble.advertised:
		assert.Equal(t, 0, profile)
	case <-time.After(time.Second):
		t.Fatal("expected BLE advertising to start")
	}

	<-done
}

func TestSupervisorRoutesReportsToBLEWhenConnectionTypeIsBLE(t *testing.T) {
	usb := &fakeUSB{present: true}
	ble := &fakeBLE{advertised: make(chan int, 1)}

	st := newFakeBondStorage()
	st.Put(storage.KeyConnectionType, []byte{1}) // BLE
	bnd := bonder.New(st, st, nil)
	sup := connection.NewSupervisor(usb, ble, bnd, st, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	select {
	case profile := <-ble.advertised:
		assert.Equal(t, 0, profile)
	case <-time.After(time.Second):
		t.Fatal("expected BLE advertising to start even though USB is present")
	}

	assert.True(t, usb.present, "USB should stay enumerated, not be torn down")
	transport, _ := sup.ActiveTransport()
	assert.NotEqual(t, connection.TransportUSB, transport, "reports must not be routed to USB under CONNECTION_TYPE=BLE")

	<-done
}

func TestRequestProfileSwitchCoalesces(t *testing.T) {
	usb := &fakeUSB{present: true}
	ble := &fakeBLE{advertised: make(chan int, 1)}
	sup := connection.NewSupervisor(usb, ble, nil, nil, nil)

	sup.RequestProfileSwitch(1)
	sup.RequestProfileSwitch(2) // should not block or panic even though queue is full
}

type fakeBondStorage struct {
	values map[storage.Key][]byte
}

func newFakeBondStorage() *fakeBondStorage { return &fakeBondStorage{values: map[storage.Key][]byte{}} }

func (f *fakeBondStorage) Get(key storage.Key) ([]byte, bool) {
	v, ok := f.values[key]
	return v, ok
}
func (f *fakeBondStorage) Put(key storage.Key, payload []byte) bool {
	f.values[key] = payload
	return true
}
func (f *fakeBondStorage) PutWait(_ context.Context, key storage.Key, payload []byte) error {
	f.Put(key, payload)
	return nil
}
