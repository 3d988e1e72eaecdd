package transport

import (
	"encoding/binary"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// udpSocketControl returns the ListenConfig control hook applying the
// transport socket options before bind. Every option is best-effort: a
// kernel that refuses one costs a feature, not the socket.
//
//   - Path-MTU discovery is disabled so full-size datagrams are
//     fragmented instead of dropped with no usable signal.
//   - IP_RECVTOS / IPV6_RECVTCLASS expose the ECN bits of received
//     datagrams through ancillary data.
func udpSocketControl(_ string, logger *zap.Logger) func(network, address string, c syscall.RawConn) error {
	return func(network, address string, c syscall.RawConn) error {
		return c.Control(func(fd uintptr) {
			if network == "udp6" {
				trySockopt(logger, "IPV6_MTU_DISCOVER",
					unix.SetsockoptInt(int(fd), unix.IPPROTO_IPV6, unix.IPV6_MTU_DISCOVER, unix.IPV6_PMTUDISC_DONT))
				trySockopt(logger, "IPV6_RECVTCLASS",
					unix.SetsockoptInt(int(fd), unix.IPPROTO_IPV6, unix.IPV6_RECVTCLASS, 1))
				return
			}
			trySockopt(logger, "IP_MTU_DISCOVER",
				unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_MTU_DISCOVER, unix.IP_PMTUDISC_DONT))
			trySockopt(logger, "IP_RECVTOS",
				unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_RECVTOS, 1))
		})
	}
}

func trySockopt(logger *zap.Logger, name string, err error) {
	if err != nil {
		logger.Debug("socket option refused", zap.String("option", name), zap.Error(err))
	}
}

// congestionExperienced reports whether the ancillary data of a received
// datagram carries the CE codepoint (low two TOS bits 0b11).
func congestionExperienced(oob []byte) bool {
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return false
	}
	for _, msg := range msgs {
		var tos byte
		switch {
		case msg.Header.Level == unix.IPPROTO_IP && msg.Header.Type == unix.IP_TOS:
			if len(msg.Data) < 1 {
				continue
			}
			tos = msg.Data[0]
		case msg.Header.Level == unix.IPPROTO_IPV6 && msg.Header.Type == unix.IPV6_TCLASS:
			if len(msg.Data) < 4 {
				continue
			}
			tos = byte(binary.NativeEndian.Uint32(msg.Data))
		default:
			continue
		}
		if tos&0x03 == 0x03 {
			return true
		}
	}
	return false
}

// datagramTruncated reports whether the kernel truncated the datagram to
// fit the receive buffer.
func datagramTruncated(flags int) bool {
	return flags&unix.MSG_TRUNC != 0
}
