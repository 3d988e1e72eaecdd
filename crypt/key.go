// Package crypt provides the authenticated encryption layer for the
// driftlink transport.
//
// A Session seals datagram payloads with ChaCha20-Poly1305 under a shared
// 256-bit key. The caller supplies a 64-bit nonce for every message and is
// responsible for never reusing one; the transport layer derives nonces
// from a direction bit and a connection-wide sequence counter.
package crypt

import (
	"crypto/rand"
	"encoding/base64"
	"errors"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize is the size of a session key in bytes.
const KeySize = chacha20poly1305.KeySize

// Key is a shared session key.
type Key [KeySize]byte

// Key errors.
var (
	// ErrBadKey indicates the textual key form could not be decoded.
	ErrBadKey = errors.New("crypt: malformed key")
)

// GenerateKey returns a fresh random key.
func GenerateKey() (Key, error) {
	var k Key
	if _, err := rand.Read(k[:]); err != nil {
		return Key{}, err
	}
	return k, nil
}

// ParseKey decodes the textual form produced by Key.String.
func ParseKey(s string) (Key, error) {
	raw, err := base64.RawStdEncoding.DecodeString(s)
	if err != nil || len(raw) != KeySize {
		return Key{}, ErrBadKey
	}
	var k Key
	copy(k[:], raw)
	return k, nil
}

// String returns the unpadded base64 form of the key, suitable for
// transport between processes (e.g. over an SSH channel).
func (k Key) String() string {
	return base64.RawStdEncoding.EncodeToString(k[:])
}
