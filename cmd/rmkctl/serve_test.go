package main

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/B83C/rmk/keymap"
	"github.com/B83C/rmk/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseKeyLine(t *testing.T) {
	ev, err := parseKeyLine("press 2 3")
	assert.NoError(t, err)
	assert.Equal(t, uint8(2), ev.Row)
	assert.Equal(t, uint8(3), ev.Col)
	assert.True(t, ev.Pressed)

	ev, err = parseKeyLine("release 0 0")
	assert.NoError(t, err)
	assert.False(t, ev.Pressed)
}

func TestParseKeyLineRejectsMalformed(t *testing.T) {
	_, err := parseKeyLine("press 1")
	assert.Error(t, err)

	_, err = parseKeyLine("wiggle 1 2")
	assert.Error(t, err)

	_, err = parseKeyLine("press x 2")
	assert.Error(t, err)
}

func TestActionFromPayloadRoutesExtraByKind(t *testing.T) {
	layerTapHold := actionFromPayload(storage.KeymapCellPayload{Kind: uint8(keymap.ActionLayerTapHold), Code: 4, Extra: 2})
	assert.Equal(t, uint8(2), layerTapHold.Layer)

	withMod := actionFromPayload(storage.KeymapCellPayload{Kind: uint8(keymap.ActionWithModifier), Code: 4, Extra: 0x11})
	assert.Equal(t, uint8(0x11), withMod.Mods)

	macro := actionFromPayload(storage.KeymapCellPayload{Kind: uint8(keymap.ActionMacro), Extra: 5})
	assert.Equal(t, uint8(5), macro.MacroIndex)

	single := actionFromPayload(storage.KeymapCellPayload{Kind: uint8(keymap.ActionSingle), Code: 7})
	assert.Equal(t, uint16(7), single.Code)
}

func TestLoadKeymapFromStorageRestoresPersistedCells(t *testing.T) {
	logger := testLogger()
	dir := t.TempDir()
	engine, err := storage.Open(dir+"/flash.bin", 65536, logger)
	assert.NoError(t, err)
	defer engine.Close()

	payload := storage.KeymapCellPayload{Kind: uint8(keymap.ActionSingle), Code: 9}
	assert.NoError(t, engine.Put(storage.KeymapKey(0, 1, 1), payload.Bytes()))

	km := keymap.New(1, 4, 4)
	loadKeymapFromStorage(engine, km, logger)

	a, err := km.GetAction(0, 1, 1)
	assert.NoError(t, err)
	assert.Equal(t, keymap.ActionSingle, a.Kind)
	assert.Equal(t, uint16(9), a.Code)
}
