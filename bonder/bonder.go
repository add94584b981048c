// Package bonder manages the up to eight BLE bond records a keyboard
// remembers as "profiles": which profile is active, per-profile long
// term keys, and the connection-address check that keeps a profile from
// accepting a peer it wasn't bonded to. It also provides session-key
// derivation and handshake MACs for split-link encryption, since both
// halves of one physical keyboard already share a bond's LTK.
package bonder

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/B83C/rmk/storage"
)

const MaxProfiles = storage.MaxBondSlots

var ErrProfileOutOfRange = errors.New("bonder: profile index out of range")
var ErrNoActiveBond = errors.New("bonder: active profile has no stored bond")

// BondInfo is the in-RAM bond record for one profile. Address and LTK
// are the fields actually persisted (storage.BondInfoPayload); PeerIdentity
// and SysAttrs exist only in RAM for the lifetime of one session, the
// same bracketing load_sys_attrs/save_sys_attrs spec §4.7 describes —
// CCCD subscription state is only useful to a live BLE stack and has no
// software-simulation counterpart worth persisting, so it is dropped
// from the flash payload entirely rather than wired to a dummy sink.
type BondInfo struct {
	Valid        bool
	PeerIdentity string
	Address      [6]byte
	LTK          [16]byte
	SysAttrs     []byte
}

// Reader is the synchronous storage read side the Bonder needs at
// startup to repopulate its 8 slots.
type Reader interface {
	Get(key storage.Key) ([]byte, bool)
}

// Writer is the storage write side used to mirror bond and
// active-profile changes to flash.
type Writer interface {
	Put(key storage.Key, payload []byte) bool
	PutWait(ctx context.Context, key storage.Key, payload []byte) error
}

// Bonder holds up to MaxProfiles BondInfo entries and tracks which one
// is active, mirroring both to storage.
type Bonder struct {
	mu            sync.Mutex
	slots         [MaxProfiles]BondInfo
	activeProfile int
	writer        Writer
	logger        *slog.Logger
}

// New loads existing bond slots and the active profile index from
// reader (a no-op if reader is nil or the keys were never written), and
// returns a Bonder that mirrors subsequent changes through writer.
func New(reader Reader, writer Writer, logger *slog.Logger) *Bonder {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bonder{writer: writer, logger: logger}

	if reader != nil {
		for slot := 0; slot < MaxProfiles; slot++ {
			key, err := storage.BondInfoKey(slot)
			if err != nil {
				continue
			}
			raw, ok := reader.Get(key)
			if !ok {
				continue
			}
			payload, ok := storage.DecodeBondInfoPayload(raw)
			if !ok {
				continue
			}
			b.slots[slot] = BondInfo{Valid: payload.Valid, Address: payload.Address, LTK: payload.LTK}
		}
		if v, ok := reader.Get(storage.KeyActiveBleProfile); ok && len(v) == 1 && int(v[0]) < MaxProfiles {
			b.activeProfile = int(v[0])
		}
	}
	return b
}

// ActiveProfile returns the currently active profile index (0..7).
func (b *Bonder) ActiveProfile() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.activeProfile
}

// SwitchProfile sets the active profile and mirrors the change to
// storage, per §4.6's "stores the new profile index to flash" step of a
// profile switch. The caller is responsible for disconnecting any
// active link and re-advertising; Bonder only owns bond state.
func (b *Bonder) SwitchProfile(ctx context.Context, profile int) error {
	if profile < 0 || profile >= MaxProfiles {
		return ErrProfileOutOfRange
	}
	b.mu.Lock()
	b.activeProfile = profile
	b.mu.Unlock()

	if b.writer == nil {
		return nil
	}
	return b.writer.PutWait(ctx, storage.KeyActiveBleProfile, []byte{byte(profile)})
}

// Bond returns a copy of the BondInfo at slot.
func (b *Bonder) Bond(slot int) (BondInfo, error) {
	if slot < 0 || slot >= MaxProfiles {
		return BondInfo{}, ErrProfileOutOfRange
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.slots[slot], nil
}

// StoreBond records a new bond at slot and mirrors it to flash.
func (b *Bonder) StoreBond(slot int, info BondInfo) error {
	if slot < 0 || slot >= MaxProfiles {
		return ErrProfileOutOfRange
	}
	info.Valid = true

	b.mu.Lock()
	b.slots[slot] = info
	b.mu.Unlock()

	key, err := storage.BondInfoKey(slot)
	if err != nil {
		return err
	}
	payload := storage.BondInfoPayload{Valid: true, Address: info.Address, LTK: info.LTK}
	if b.writer != nil && !b.writer.Put(key, payload.Bytes()) {
		b.logger.Error("bonder: storage channel full, bond write dropped", "slot", slot)
	}
	return nil
}

// CheckConnection returns true iff peerAddress matches the bond stored
// at the active profile; a connection that fails this check must be
// dropped immediately by the caller (spec §4.7).
func (b *Bonder) CheckConnection(peerAddress [6]byte) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	bond := b.slots[b.activeProfile]
	if !bond.Valid {
		return false, ErrNoActiveBond
	}
	return bond.Address == peerAddress, nil
}

// LoadSysAttrs and SaveSysAttrs bracket one connection session so CCCD
// subscription state survives a reconnect to the same peer, per §4.7.
// Both operate purely in RAM: system attributes are a detail of a real
// SoftDevice/BLE stack's GATT cache with no meaning to the simulated
// transports this engine targets, so nothing is mirrored to storage.
func (b *Bonder) LoadSysAttrs(slot int) ([]byte, error) {
	if slot < 0 || slot >= MaxProfiles {
		return nil, ErrProfileOutOfRange
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.slots[slot].SysAttrs...), nil
}

func (b *Bonder) SaveSysAttrs(slot int, attrs []byte) error {
	if slot < 0 || slot >= MaxProfiles {
		return ErrProfileOutOfRange
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.slots[slot].SysAttrs = append([]byte(nil), attrs...)
	return nil
}

// GenerateKey creates a random 16-character base62 passphrase, ported
// from auth.GenerateKey.
func GenerateKey() (string, error) {
	const (
		length = 16
		chars  = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
	)
	raw := make([]byte, length)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("bonder: generate key: %w", err)
	}
	key := make([]byte, length)
	for i, b := range raw {
		key[i] = chars[int(b)%len(chars)]
	}
	return string(key), nil
}

// DeriveSessionKey mixes a bond's LTK with a server and client nonce
// into a 32-byte chacha20poly1305 key for the split link, ported from
// auth.DeriveSessionKey's SHA-256 mixing (mods the session to the split
// wire rather than an HTTP API connection).
func DeriveSessionKey(ltk, serverNonce, clientNonce []byte) []byte {
	h := sha256.New()
	h.Write(ltk)
	h.Write(serverNonce)
	h.Write(clientNonce)
	h.Write([]byte("rmk-split-session-v1"))
	return h.Sum(nil)
}

// HandshakeContext is the HMAC domain separator for split-link peer
// authentication, mirroring auth.authContext.
const HandshakeContext = "rmk-split-auth-v1"

// ComputeHandshakeAuth returns the HMAC-SHA256 a peripheral sends to
// prove it holds the same LTK as the central, keyed over its nonce.
func ComputeHandshakeAuth(ltk, nonce []byte) []byte {
	mac := hmac.New(sha256.New, ltk)
	mac.Write([]byte(HandshakeContext))
	mac.Write(nonce)
	return mac.Sum(nil)
}

// VerifyHandshakeAuth checks a peripheral's handshake MAC against the
// expected value for nonce, ported from HandleAuthHandshake's server-side
// branch (hmac.Equal, constant-time).
func VerifyHandshakeAuth(ltk, nonce, mac []byte) bool {
	return hmac.Equal(mac, ComputeHandshakeAuth(ltk, nonce))
}
