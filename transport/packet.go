package transport

import (
	"encoding/binary"

	"github.com/vibing/driftlink/crypt"
)

// direction tags which way a packet flows. A connection sends in exactly
// one direction and accepts only the other, which defeats reflected
// replays: a datagram we produced can never decode as peer traffic.
type direction int

const (
	toServer direction = iota
	toClient
)

func (d direction) String() string {
	switch d {
	case toServer:
		return "to-server"
	case toClient:
		return "to-client"
	default:
		return "unknown"
	}
}

const (
	// The AEAD nonce encodes the direction in the top bit and the
	// connection-wide sequence in the low 63 bits.
	directionMask uint64 = 1 << 63
	sequenceMask  uint64 = ^directionMask

	// flagProbe marks a heartbeat packet whose payload is empty or
	// ignored.
	flagProbe uint16 = 1 << 0

	// headerLen is the fixed cleartext header preceding the payload:
	// timestamp(2) timestampReply(2) sockID(2) flags(2), network byte
	// order.
	headerLen = 8
)

// packet is one in-memory transport message.
type packet struct {
	seq            uint64
	dir            direction
	timestamp      uint16
	timestampReply uint16
	sockID         uint16
	flags          uint16
	payload        []byte
}

func (p *packet) isProbe() bool {
	return p.flags&flagProbe != 0
}

// nonce combines direction and sequence into the AEAD nonce.
func (p *packet) nonce() uint64 {
	n := p.seq & sequenceMask
	if p.dir == toClient {
		n |= directionMask
	}
	return n
}

// seal encodes the cleartext header and payload and encrypts them.
func (p *packet) seal(session *crypt.Session) []byte {
	buf := make([]byte, headerLen+len(p.payload))
	binary.BigEndian.PutUint16(buf[0:2], p.timestamp)
	binary.BigEndian.PutUint16(buf[2:4], p.timestampReply)
	binary.BigEndian.PutUint16(buf[4:6], p.sockID)
	binary.BigEndian.PutUint16(buf[6:8], p.flags)
	copy(buf[headerLen:], p.payload)
	return session.Encrypt(p.nonce(), buf)
}

// parsePacket decrypts a datagram and decodes its fields. It fails
// closed on authentication errors and rejects plaintexts too short to
// carry a header.
func parsePacket(session *crypt.Session, ciphertext []byte) (*packet, error) {
	nonce, plaintext, err := session.Decrypt(ciphertext)
	if err != nil {
		return nil, err
	}
	if len(plaintext) < headerLen {
		return nil, ErrMalformed
	}

	p := &packet{
		seq:            nonce & sequenceMask,
		dir:            toServer,
		timestamp:      binary.BigEndian.Uint16(plaintext[0:2]),
		timestampReply: binary.BigEndian.Uint16(plaintext[2:4]),
		sockID:         binary.BigEndian.Uint16(plaintext[4:6]),
		flags:          binary.BigEndian.Uint16(plaintext[6:8]),
		payload:        plaintext[headerLen:],
	}
	if nonce&directionMask != 0 {
		p.dir = toClient
	}
	return p, nil
}
