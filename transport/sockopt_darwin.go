package transport

import (
	"encoding/binary"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// udpSocketControl returns the ListenConfig control hook applying the
// transport socket options before bind. Darwin has no per-socket PMTUD
// switch, so only the ECN receive options are requested; failures are
// best-effort.
func udpSocketControl(_ string, logger *zap.Logger) func(network, address string, c syscall.RawConn) error {
	return func(network, address string, c syscall.RawConn) error {
		return c.Control(func(fd uintptr) {
			if network == "udp6" {
				trySockopt(logger, "IPV6_RECVTCLASS",
					unix.SetsockoptInt(int(fd), unix.IPPROTO_IPV6, unix.IPV6_RECVTCLASS, 1))
				return
			}
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
// datagram carries the CE codepoint (low two TOS bits 0b11). The BSD
// stack labels the TOS control message IP_RECVTOS rather than IP_TOS.
func congestionExperienced(oob []byte) bool {
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return false
	}
	for _, msg := range msgs {
		var tos byte
		switch {
		case msg.Header.Level == unix.IPPROTO_IP &&
			(msg.Header.Type == unix.IP_TOS || msg.Header.Type == unix.IP_RECVTOS):
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
