package keymap_test

import (
	"testing"

	"github.com/B83C/rmk/keycode"
	"github.com/B83C/rmk/keymap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyMapGetSetRoundTrip(t *testing.T) {
	km := keymap.New(4, 5, 14)
	require.NoError(t, km.SetAction(0, 2, 3, keymap.Single(keycode.KeyA)))

	got, err := km.GetAction(0, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, keymap.Single(keycode.KeyA), got)
}

func TestKeyMapOutOfBounds(t *testing.T) {
	km := keymap.New(2, 3, 3)
	_, err := km.GetAction(5, 0, 0)
	assert.Error(t, err)
	assert.Error(t, km.SetAction(0, 10, 0, keymap.No))
}

func TestResolveFallsThroughTransparent(t *testing.T) {
	km := keymap.New(3, 2, 2)
	require.NoError(t, km.SetAction(0, 0, 0, keymap.Single(keycode.KeyA)))
	// Layer 1 and 2 default to Transparent at (0,0).
	a, err := km.Resolve(0, 0, []int{2, 1})
	require.NoError(t, err)
	assert.Equal(t, keymap.Single(keycode.KeyA), a)
}

func TestResolveStopsAtFirstNonTransparent(t *testing.T) {
	km := keymap.New(3, 2, 2)
	require.NoError(t, km.SetAction(0, 0, 0, keymap.Single(keycode.KeyA)))
	require.NoError(t, km.SetAction(1, 0, 0, keymap.Single(keycode.KeyB)))
	a, err := km.Resolve(0, 0, []int{2, 1})
	require.NoError(t, err)
	assert.Equal(t, keymap.Single(keycode.KeyB), a)
}

func TestFlatIndexRoundTrip(t *testing.T) {
	km := keymap.New(4, 5, 14)
	for layer := 0; layer < 4; layer++ {
		for row := 0; row < 5; row++ {
			for col := 0; col < 14; col++ {
				idx := km.FlatIndex(layer, row, col)
				gotLayer, gotRow, gotCol := km.PositionFromOffset(idx)
				require.Equal(t, layer, gotLayer)
				require.Equal(t, row, gotRow)
				require.Equal(t, col, gotCol)
			}
		}
	}
}

func TestMacroCacheRangeBounds(t *testing.T) {
	km := keymap.New(1, 1, 1)
	require.NoError(t, km.WriteMacroCacheRange(0, []byte{1, 2, 3}))
	got, err := km.ReadMacroCacheRange(0, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, got)

	assert.Error(t, km.WriteMacroCacheRange(keymap.MacroSpaceSize-1, []byte{1, 2}))
}

func TestLayerStackPushPopOrder(t *testing.T) {
	s := keymap.NewLayerStack()
	s.Push(0, 0, 2)
	s.Push(1, 1, 3)
	assert.Equal(t, []int{3, 2}, s.ActiveLayers())
	assert.True(t, s.Pop(0, 0))
	assert.Equal(t, []int{3}, s.ActiveLayers())
	assert.False(t, s.Pop(0, 0))
}

func TestModifierStateComposed(t *testing.T) {
	m := keymap.NewModifierState()
	m.PressPhysical(keycode.ModLeftShift)
	m.PushHold(1, 1, keycode.ModLeftCtrl)
	m.PushWithModifier(2, 2, keycode.ModLeftAlt)
	assert.Equal(t, uint8(keycode.ModLeftShift|keycode.ModLeftCtrl|keycode.ModLeftAlt), m.Composed())

	m.PopHold(1, 1)
	m.PopWithModifier(2, 2)
	assert.Equal(t, uint8(keycode.ModLeftShift), m.Composed())
}

func TestOneShotArmAndConsume(t *testing.T) {
	m := keymap.NewModifierState()
	assert.False(t, m.OneShotArmed())
	m.ArmOneShot(keycode.ModLeftShift)
	assert.True(t, m.OneShotArmed())
	assert.Equal(t, uint8(keycode.ModLeftShift), m.Composed())

	mods, wasArmed := m.ConsumeOneShot()
	assert.True(t, wasArmed)
	assert.Equal(t, uint8(keycode.ModLeftShift), mods)
	assert.False(t, m.OneShotArmed())
	assert.Equal(t, uint8(0), m.Composed())
}
