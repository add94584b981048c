package led_test

import (
	"errors"
	"testing"

	"github.com/B83C/rmk/led"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeAllBits(t *testing.T) {
	s := led.Decode(0x01 | 0x02 | 0x04 | 0x08 | 0x10)
	assert.True(t, s.NumLock)
	assert.True(t, s.CapsLock)
	assert.True(t, s.ScrollLock)
	assert.True(t, s.Compose)
	assert.True(t, s.Kana)
}

func TestDecodeNoBits(t *testing.T) {
	s := led.Decode(0x00)
	assert.Equal(t, led.State{}, s)
}

func TestEncodeIsDecodeInverse(t *testing.T) {
	for _, b := range []byte{0x00, 0x01, 0x02, 0x04, 0x1F, 0x05} {
		s := led.Decode(b)
		// Encode only covers the 5 bits Decode understands, which is all
		// of them, so re-encoding must reproduce exactly b.
		assert.Equal(t, b, s.Encode(), "byte %#x", b)
	}
}

type fakeIndicator struct {
	calls []bool
	err   error
}

func (f *fakeIndicator) Set(on bool) error {
	f.calls = append(f.calls, on)
	return f.err
}

func TestControllerDrivesChangedIndicatorsOnly(t *testing.T) {
	num := &fakeIndicator{}
	caps := &fakeIndicator{}
	scroll := &fakeIndicator{}
	c := led.NewController(num, caps, scroll)

	require.NoError(t, c.HandleOutputReport(0x02)) // caps on
	assert.Equal(t, []bool{true}, caps.calls)
	assert.Empty(t, num.calls)
	assert.Empty(t, scroll.calls)

	require.NoError(t, c.HandleOutputReport(0x02)) // unchanged
	assert.Len(t, caps.calls, 1, "no redundant write for unchanged state")

	require.NoError(t, c.HandleOutputReport(0x03)) // caps+num on
	assert.Equal(t, []bool{true}, num.calls)
	assert.Equal(t, []bool{true}, caps.calls)
}

func TestControllerToleratesNilIndicators(t *testing.T) {
	c := led.NewController(nil, nil, nil)
	require.NoError(t, c.HandleOutputReport(0xFF))
	assert.True(t, c.Last().CapsLock)
}

func TestControllerSurfacesIndicatorError(t *testing.T) {
	caps := &fakeIndicator{err: errors.New("gpio fault")}
	c := led.NewController(nil, caps, nil)
	err := c.HandleOutputReport(0x02)
	assert.Error(t, err)
}
