package crypt

import (
	"crypto/cipher"
	"encoding/binary"
	"errors"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// ReceiveMTU is the largest datagram the transport will accept.
	ReceiveMTU = 1500

	// NonceSize is the length of the cleartext nonce prefix on the wire.
	NonceSize = 8

	// Overhead is the total expansion of a sealed message: the nonce
	// prefix plus the AEAD authentication tag.
	Overhead = NonceSize + chacha20poly1305.Overhead
)

// Session errors.
var (
	// ErrBadAuth indicates the authentication tag did not verify.
	ErrBadAuth = errors.New("crypt: message authentication failed")

	// ErrTooShort indicates a ciphertext smaller than the minimum
	// sealed message.
	ErrTooShort = errors.New("crypt: ciphertext too short")
)

// Session seals and opens datagram payloads under a shared key.
//
// Nonces are supplied by the caller and travel in the clear as an 8-byte
// big-endian prefix of every sealed message. A Session imposes no nonce
// discipline of its own; uniqueness per (key, direction) is the caller's
// contract.
type Session struct {
	aead cipher.AEAD
}

// NewSession creates a session from a shared key.
func NewSession(key Key) (*Session, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, err
	}
	return &Session{aead: aead}, nil
}

// Encrypt seals plaintext under the given 64-bit nonce.
// The result is nonce(8, big-endian) || aead ciphertext.
func (s *Session) Encrypt(nonce uint64, plaintext []byte) []byte {
	out := make([]byte, NonceSize, NonceSize+len(plaintext)+chacha20poly1305.Overhead)
	binary.BigEndian.PutUint64(out, nonce)
	return s.aead.Seal(out, nonceBytes(nonce), plaintext, nil)
}

// Decrypt opens a sealed message and returns the nonce it was sealed
// under together with the plaintext. It fails closed with ErrBadAuth on
// any tag mismatch.
func (s *Session) Decrypt(ciphertext []byte) (uint64, []byte, error) {
	if len(ciphertext) < Overhead {
		return 0, nil, ErrTooShort
	}
	nonce := binary.BigEndian.Uint64(ciphertext[:NonceSize])
	plaintext, err := s.aead.Open(nil, nonceBytes(nonce), ciphertext[NonceSize:], nil)
	if err != nil {
		return 0, nil, ErrBadAuth
	}
	return nonce, plaintext, nil
}

// nonceBytes expands the 64-bit nonce into the 12-byte AEAD nonce,
// little-endian in the low 8 bytes.
func nonceBytes(nonce uint64) []byte {
	var nb [chacha20poly1305.NonceSize]byte
	binary.LittleEndian.PutUint64(nb[:], nonce)
	return nb[:]
}
