package transport

import (
	"bytes"
	"errors"
	"testing"

	"github.com/vibing/driftlink/crypt"
)

func newTestSession(t *testing.T) *crypt.Session {
	t.Helper()

	key, err := crypt.GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	session, err := crypt.NewSession(key)
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	return session
}

func TestPacket_SealParseRoundTrip(t *testing.T) {
	session := newTestSession(t)

	packets := []*packet{
		{seq: 0, dir: toServer, timestamp: 0, timestampReply: tsNone, sockID: 0, flags: 0, payload: []byte("hello")},
		{seq: 1, dir: toClient, timestamp: 12345, timestampReply: 54321, sockID: 7, flags: flagProbe, payload: nil},
		{seq: sequenceMask, dir: toClient, timestamp: tsNone - 1, timestampReply: 0, sockID: 65535, flags: 0xBEEF, payload: bytes.Repeat([]byte{0xAA}, 1200)},
	}

	for i, want := range packets {
		got, err := parsePacket(session, want.seal(session))
		if err != nil {
			t.Fatalf("packet %d: parse failed: %v", i, err)
		}
		if got.seq != want.seq {
			t.Errorf("packet %d: seq %d, want %d", i, got.seq, want.seq)
		}
		if got.dir != want.dir {
			t.Errorf("packet %d: direction %v, want %v", i, got.dir, want.dir)
		}
		if got.timestamp != want.timestamp || got.timestampReply != want.timestampReply {
			t.Errorf("packet %d: timestamps (%d, %d), want (%d, %d)",
				i, got.timestamp, got.timestampReply, want.timestamp, want.timestampReply)
		}
		if got.sockID != want.sockID || got.flags != want.flags {
			t.Errorf("packet %d: sockID/flags (%d, %#x), want (%d, %#x)",
				i, got.sockID, got.flags, want.sockID, want.flags)
		}
		if !bytes.Equal(got.payload, want.payload) {
			t.Errorf("packet %d: payload mismatch", i)
		}
	}
}

func TestPacket_NonceEncodesDirection(t *testing.T) {
	toServerPkt := &packet{seq: 99, dir: toServer}
	toClientPkt := &packet{seq: 99, dir: toClient}

	if toServerPkt.nonce()&directionMask != 0 {
		t.Error("to-server nonce has the direction bit set")
	}
	if toClientPkt.nonce()&directionMask == 0 {
		t.Error("to-client nonce is missing the direction bit")
	}
	if toServerPkt.nonce()&sequenceMask != 99 || toClientPkt.nonce()&sequenceMask != 99 {
		t.Error("nonce sequence bits corrupted")
	}
}

func TestPacket_NonceUniqueAcrossSockets(t *testing.T) {
	// Sequences come off one connection-wide allocator: packets from
	// different sockets must still map to distinct nonces, or the AEAD
	// nonce discipline breaks the moment a port hop opens a second
	// socket.
	c := &Connection{dir: toServer}
	socks := []*socket{
		{sockID: 0, savedTimestamp: tsNone},
		{sockID: 1, savedTimestamp: tsNone},
	}

	seen := make(map[uint64]bool)
	for i := 0; i < 1000; i++ {
		n := c.newPacket(socks[i%2], 0, nil).nonce()
		if seen[n] {
			t.Fatalf("nonce %#x reused at packet %d", n, i)
		}
		seen[n] = true
	}
}

func TestParsePacket_TooShortPlaintext(t *testing.T) {
	session := newTestSession(t)

	// A plaintext shorter than the packet header is malformed even when
	// it authenticates.
	ciphertext := session.Encrypt(5, []byte{1, 2, 3})
	if _, err := parsePacket(session, ciphertext); !errors.Is(err, ErrMalformed) {
		t.Errorf("got %v, want ErrMalformed", err)
	}
}

func TestParsePacket_BadAuth(t *testing.T) {
	session := newTestSession(t)

	ciphertext := (&packet{seq: 1, dir: toServer, payload: []byte("x")}).seal(session)
	ciphertext[len(ciphertext)-1] ^= 0x01
	if _, err := parsePacket(session, ciphertext); !errors.Is(err, crypt.ErrBadAuth) {
		t.Errorf("got %v, want crypt.ErrBadAuth", err)
	}
}

func TestPacket_ProbeFlag(t *testing.T) {
	if (&packet{flags: flagProbe}).isProbe() == false {
		t.Error("probe flag not detected")
	}
	if (&packet{flags: 0xFFFE}).isProbe() {
		t.Error("probe detected without the flag")
	}
}
