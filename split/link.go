package split

import (
	"crypto/cipher"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
)

// EncryptedLink wraps a raw split transport (UART byte stream or BLE
// characteristic payloads) with chacha20poly1305 AEAD framing, modeled
// on internal/server/api/auth/conn.go's Conn: a monotonic send counter
// folded into the nonce, length-prefixed ciphertext frames. The session
// key comes from the bonder's per-profile LTK rather than a PBKDF2'd
// password, since both halves of one physical keyboard already share
// that secret via the bond record.
type EncryptedLink struct {
	rw      io.ReadWriter
	aead    cipher.AEAD
	sendCtr uint64
	mu      sync.Mutex
}

// NewEncryptedLink derives an AEAD from key (expected to be the active
// bond's 16-byte LTK, padded/hashed by the caller to chacha20poly1305's
// 32-byte key size) and wraps rw.
func NewEncryptedLink(rw io.ReadWriter, key []byte) (*EncryptedLink, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("split: encrypted link: %w", err)
	}
	return &EncryptedLink{rw: rw, aead: aead}, nil
}

// WriteMessage encrypts and frames one SplitMessage.
func (l *EncryptedLink) WriteMessage(m Message) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	plaintext := m.Marshal()
	nonce := make([]byte, chacha20poly1305.NonceSize)
	binary.BigEndian.PutUint64(nonce[4:], l.sendCtr)
	l.sendCtr++

	ct := l.aead.Seal(nil, nonce, plaintext, nil)
	frame := make([]byte, 2+len(nonce)+len(ct))
	binary.LittleEndian.PutUint16(frame[0:2], uint16(len(nonce)+len(ct)))
	copy(frame[2:], nonce)
	copy(frame[2+len(nonce):], ct)

	_, err := l.rw.Write(frame)
	return err
}

// ReadMessage blocks for the next encrypted frame and decrypts it.
func (l *EncryptedLink) ReadMessage() (Message, error) {
	var lenBuf [2]byte
	if err := readExactly(l.rw, lenBuf[:]); err != nil {
		return Message{}, err
	}
	n := int(binary.LittleEndian.Uint16(lenBuf[:]))
	if n < chacha20poly1305.NonceSize {
		return Message{}, fmt.Errorf("split: encrypted frame too short (%d bytes)", n)
	}

	body := make([]byte, n)
	if err := readExactly(l.rw, body); err != nil {
		return Message{}, err
	}

	nonce := body[:chacha20poly1305.NonceSize]
	ct := body[chacha20poly1305.NonceSize:]
	pt, err := l.aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return Message{}, fmt.Errorf("split: decrypt: %w", err)
	}
	return Unmarshal(pt)
}
