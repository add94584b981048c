package bonder_test

import (
	"context"
	"testing"

	"github.com/B83C/rmk/bonder"
	"github.com/B83C/rmk/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStorage struct {
	values map[storage.Key][]byte
}

func newFakeStorage() *fakeStorage { return &fakeStorage{values: map[storage.Key][]byte{}} }

func (f *fakeStorage) Get(key storage.Key) ([]byte, bool) {
	v, ok := f.values[key]
	return v, ok
}
func (f *fakeStorage) Put(key storage.Key, payload []byte) bool {
	cp := make([]byte, len(payload))
	copy(cp, payload)
	f.values[key] = cp
	return true
}
func (f *fakeStorage) PutWait(_ context.Context, key storage.Key, payload []byte) error {
	f.Put(key, payload)
	return nil
}

func TestStoreBondAndCheckConnection(t *testing.T) {
	st := newFakeStorage()
	b := bonder.New(st, st, nil)

	addr := [6]byte{1, 2, 3, 4, 5, 6}
	require.NoError(t, b.StoreBond(0, bonder.BondInfo{Address: addr, LTK: [16]byte{9}}))

	ok, err := b.CheckConnection(addr)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.CheckConnection([6]byte{9, 9, 9, 9, 9, 9})
	require.NoError(t, err)
	assert.False(t, ok)

	key, ok := st.Get(storage.KeyBondInfoBase)
	require.True(t, ok)
	payload, ok := storage.DecodeBondInfoPayload(key)
	require.True(t, ok)
	assert.True(t, payload.Valid)
	assert.Equal(t, addr, payload.Address)
}

func TestCheckConnectionWithoutBondErrors(t *testing.T) {
	b := bonder.New(nil, nil, nil)
	_, err := b.CheckConnection([6]byte{1})
	assert.ErrorIs(t, err, bonder.ErrNoActiveBond)
}

func TestSwitchProfilePersistsAndValidates(t *testing.T) {
	st := newFakeStorage()
	b := bonder.New(st, st, nil)

	require.NoError(t, b.SwitchProfile(context.Background(), 3))
	assert.Equal(t, 3, b.ActiveProfile())

	v, ok := st.Get(storage.KeyActiveBleProfile)
	require.True(t, ok)
	assert.Equal(t, byte(3), v[0])

	assert.ErrorIs(t, b.SwitchProfile(context.Background(), 8), bonder.ErrProfileOutOfRange)
}

func TestNewReloadsBondsAndActiveProfile(t *testing.T) {
	st := newFakeStorage()
	addr := [6]byte{5, 5, 5, 5, 5, 5}
	payload := storage.BondInfoPayload{Valid: true, Address: addr, LTK: [16]byte{1}}
	key, _ := storage.BondInfoKey(2)
	st.Put(key, payload.Bytes())
	st.Put(storage.KeyActiveBleProfile, []byte{2})

	b := bonder.New(st, st, nil)
	assert.Equal(t, 2, b.ActiveProfile())

	ok, err := b.CheckConnection(addr)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSysAttrsRoundTrip(t *testing.T) {
	b := bonder.New(nil, nil, nil)
	require.NoError(t, b.SaveSysAttrs(1, []byte{1, 2, 3}))
	got, err := b.LoadSysAttrs(1)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, got)
}

func TestGenerateKeyLength(t *testing.T) {
	key, err := bonder.GenerateKey()
	require.NoError(t, err)
	assert.Len(t, key, 16)
}

func TestHandshakeAuthRoundTrip(t *testing.T) {
	ltk := []byte("0123456789abcdef")
	nonce := []byte("a-client-nonce")

	mac := bonder.ComputeHandshakeAuth(ltk, nonce)
	assert.True(t, bonder.VerifyHandshakeAuth(ltk, nonce, mac))
	assert.False(t, bonder.VerifyHandshakeAuth(ltk, nonce, []byte("wrong")))
}

func TestDeriveSessionKeyIsDeterministicAndKeyed(t *testing.T) {
	ltk := []byte("ltk-bytes")
	server := []byte("server-nonce")
	client := []byte("client-nonce")

	k1 := bonder.DeriveSessionKey(ltk, server, client)
	k2 := bonder.DeriveSessionKey(ltk, server, client)
	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 32)

	k3 := bonder.DeriveSessionKey(ltk, server, []byte("different"))
	assert.NotEqual(t, k1, k3)
}
