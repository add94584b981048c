package storage_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/B83C/rmk/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestEngine(t *testing.T) *storage.Engine {
	t.Helper()
	path := filepath.Join(t.TempDir(), "flash.bin")
	e, err := storage.Open(path, 4096, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestPutGetRoundTrip(t *testing.T) {
	e := openTestEngine(t)

	require.NoError(t, storage.PutUint8(e, storage.KeyActiveBleProfile, 3))
	v, ok := storage.GetUint8(e, storage.KeyActiveBleProfile)
	require.True(t, ok)
	assert.Equal(t, uint8(3), v)
}

func TestNewestWins(t *testing.T) {
	e := openTestEngine(t)

	require.NoError(t, storage.PutUint32(e, storage.KeyLayoutOptions, 1))
	require.NoError(t, storage.PutUint32(e, storage.KeyLayoutOptions, 2))
	require.NoError(t, storage.PutUint32(e, storage.KeyLayoutOptions, 42))

	v, ok := storage.GetUint32(e, storage.KeyLayoutOptions)
	require.True(t, ok)
	assert.Equal(t, uint32(42), v)
}

func TestSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flash.bin")
	e, err := storage.Open(path, 4096, nil)
	require.NoError(t, err)
	require.NoError(t, storage.PutUint8(e, storage.KeyConnectionType, 1))
	key := storage.KeymapKey(0, 2, 3)
	require.NoError(t, e.Put(key, storage.KeymapCellPayload{Kind: 1, Code: 4}.Bytes()))
	require.NoError(t, e.Close())

	e2, err := storage.Open(path, 4096, nil)
	require.NoError(t, err)
	defer e2.Close()

	v, ok := storage.GetUint8(e2, storage.KeyConnectionType)
	require.True(t, ok)
	assert.Equal(t, uint8(1), v)

	raw, ok := e2.Get(key)
	require.True(t, ok)
	cell, ok := storage.DecodeKeymapCellPayload(raw)
	require.True(t, ok)
	assert.Equal(t, uint16(4), cell.Code)
}

func TestCompactionReclaimsSpace(t *testing.T) {
	e := openTestEngine(t)
	// Repeated overwrites of the same key should eventually force a
	// compaction (old records become dead), without running out of room.
	for i := 0; i < 500; i++ {
		require.NoError(t, storage.PutUint32(e, storage.KeyLayoutOptions, uint32(i)))
	}
	v, ok := storage.GetUint32(e, storage.KeyLayoutOptions)
	require.True(t, ok)
	assert.Equal(t, uint32(499), v)
}

func TestBondInfoSlots(t *testing.T) {
	e := openTestEngine(t)
	for slot := 0; slot < storage.MaxBondSlots; slot++ {
		key, err := storage.BondInfoKey(slot)
		require.NoError(t, err)
		payload := storage.BondInfoPayload{Valid: true, Address: [6]byte{byte(slot)}}
		require.NoError(t, e.Put(key, payload.Bytes()))
	}
	key, err := storage.BondInfoKey(3)
	require.NoError(t, err)
	raw, ok := e.Get(key)
	require.True(t, ok)
	decoded, ok := storage.DecodeBondInfoPayload(raw)
	require.True(t, ok)
	assert.True(t, decoded.Valid)
	assert.Equal(t, byte(3), decoded.Address[0])

	_, err = storage.BondInfoKey(8)
	assert.Error(t, err)
}

func TestWipeClearsEverything(t *testing.T) {
	e := openTestEngine(t)
	require.NoError(t, storage.PutUint8(e, storage.KeyActiveBleProfile, 1))
	require.NoError(t, e.Wipe())
	_, ok := storage.GetUint8(e, storage.KeyActiveBleProfile)
	assert.False(t, ok)
}

func TestTaskAppliesWritesInOrder(t *testing.T) {
	e := openTestEngine(t)
	task := storage.NewTask(e, 8, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go task.Run(ctx)

	for i := uint8(0); i < 5; i++ {
		require.NoError(t, task.PutWait(context.Background(), storage.KeyActiveBleProfile, []byte{i}))
	}

	v, ok := storage.GetUint8(e, storage.KeyActiveBleProfile)
	require.True(t, ok)
	assert.Equal(t, uint8(4), v)
}

func TestTaskWipe(t *testing.T) {
	e := openTestEngine(t)
	task := storage.NewTask(e, 8, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go task.Run(ctx)

	require.NoError(t, task.PutWait(context.Background(), storage.KeyConnectionType, []byte{1}))
	require.NoError(t, task.Wipe(context.Background()))

	_, ok := storage.GetUint8(e, storage.KeyConnectionType)
	assert.False(t, ok)
}

func TestTaskPutDropsWhenChannelFull(t *testing.T) {
	e := openTestEngine(t)
	task := storage.NewTask(e, 1, nil)
	// No Run goroutine consuming: the channel fills after its one slot.
	ok1 := task.Put(storage.KeyActiveBleProfile, []byte{1})
	assert.True(t, ok1)
	ok2 := task.Put(storage.KeyActiveBleProfile, []byte{2})
	assert.False(t, ok2, "second enqueue should be dropped since nothing drains the channel")
}

func TestPutWaitRespectsContextCancellation(t *testing.T) {
	e := openTestEngine(t)
	task := storage.NewTask(e, 8, nil)
	// No Run goroutine: PutWait must give up once its context is done
	// rather than blocking forever on the unconsumed channel.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := task.PutWait(ctx, storage.KeyActiveBleProfile, []byte{1})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
