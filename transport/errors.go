package transport

import "errors"

// Transport errors.
var (
	// ErrBindFailed indicates no port in the requested range could be
	// bound.
	ErrBindFailed = errors.New("transport: bind failed")

	// ErrInvalidPortRange indicates a port spec that does not parse as
	// "port" or "low:high" within [0, 65535].
	ErrInvalidPortRange = errors.New("transport: invalid port range")

	// ErrInvalidAddress indicates an address that is not a numeric IPv4
	// or IPv6 address. Name resolution is out of scope here.
	ErrInvalidAddress = errors.New("transport: invalid address")

	// ErrOversize indicates a datagram larger than the receive buffer.
	ErrOversize = errors.New("transport: datagram exceeds receive buffer")

	// ErrMalformed indicates a decrypted datagram too short to carry a
	// packet header.
	ErrMalformed = errors.New("transport: malformed packet")

	// ErrDirectionViolation indicates a datagram carrying our own
	// direction bit: either a reflected replay or a misrouted loopback.
	// Callers should drop the datagram and continue.
	ErrDirectionViolation = errors.New("transport: datagram carries our own direction")

	// ErrNoSockets indicates a receive on a connection with no bound
	// sockets.
	ErrNoSockets = errors.New("transport: connection has no sockets")

	// errWouldBlock marks a non-blocking read that found nothing. It
	// stays internal: Recv treats it as "try the next socket", never as
	// a failure.
	errWouldBlock = errors.New("transport: would block")
)
