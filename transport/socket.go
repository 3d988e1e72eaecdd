package transport

import (
	"context"
	"fmt"
	"net"
	"net/netip"

	"go.uber.org/zap"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
	"golang.org/x/sys/unix"
)

// socket is one bound UDP endpoint together with the per-path state the
// transport keeps for it. Sockets are owned exclusively by their
// Connection and are never copied; the fd lives and dies with the
// struct.
type socket struct {
	conn   *net.UDPConn
	sockID uint16

	// mtu is the last-known send budget for this path. It drops to
	// FallbackSendMTU when the kernel rejects a datagram with EMSGSIZE.
	mtu int

	// savedTimestamp is the most recent peer timestamp awaiting echo,
	// tsNone when empty, and savedTimestampAt is when it was stamped.
	// A sample older than savedTimestampWindow is never echoed.
	savedTimestamp   uint16
	savedTimestampAt uint64

	// Jacobson/Karels RTT estimator. The defaults stand in until the
	// first sample arrives.
	rttHit bool
	srtt   float64
	rttvar float64
}

// newSocket binds a UDP socket of the given network ("udp", "udp4" or
// "udp6") on laddr and applies the transport socket options. Option
// failures are best-effort: logged and ignored, since ECN marking and
// PMTUD control are advisory.
func newSocket(network, laddr string, sockID uint16, logger *zap.Logger) (*socket, error) {
	lc := net.ListenConfig{Control: udpSocketControl(network, logger)}
	pc, err := lc.ListenPacket(context.Background(), network, laddr)
	if err != nil {
		return nil, err
	}

	conn := pc.(*net.UDPConn)
	applyECT(conn, network, logger)

	return &socket{
		conn:           conn,
		sockID:         sockID,
		mtu:            DefaultSendMTU,
		savedTimestamp: tsNone,
		srtt:           1000,
		rttvar:         500,
	}, nil
}

// applyECT marks outgoing datagrams as ECN-capable (ECT(0), TOS 0x02).
// A plain "udp" bind may carry either family, so both levels are tried.
func applyECT(conn *net.UDPConn, network string, logger *zap.Logger) {
	const ect0 = 0x02
	if network != "udp6" {
		if err := ipv4.NewPacketConn(conn).SetTOS(ect0); err != nil {
			logger.Debug("failed to set ECT(0) codepoint", zap.String("level", "ip"), zap.Error(err))
		}
	}
	if network != "udp4" {
		if err := ipv6.NewPacketConn(conn).SetTrafficClass(ect0); err != nil {
			logger.Debug("failed to set ECT(0) codepoint", zap.String("level", "ipv6"), zap.Error(err))
		}
	}
}

// recvNonblock reads one queued datagram without waiting for readiness.
// An empty queue surfaces as EAGAIN, which the caller treats as "try the
// next socket".
func (s *socket) recvNonblock(buf, oob []byte) (n, oobn, flags int, from netip.AddrPort, err error) {
	raw, err := s.conn.SyscallConn()
	if err != nil {
		return 0, 0, 0, netip.AddrPort{}, err
	}

	var (
		sa   unix.Sockaddr
		rerr error
	)
	// The closure returns true unconditionally: never park on the
	// poller, let EAGAIN through instead.
	err = raw.Read(func(fd uintptr) bool {
		n, oobn, flags, sa, rerr = unix.Recvmsg(int(fd), buf, oob, unix.MSG_DONTWAIT)
		return true
	})
	if err == nil {
		err = rerr
	}
	if err != nil {
		return 0, 0, 0, netip.AddrPort{}, err
	}
	return n, oobn, flags, sockaddrToAddrPort(sa), nil
}

func sockaddrToAddrPort(sa unix.Sockaddr) netip.AddrPort {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(sa.Addr), uint16(sa.Port))
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(sa.Addr), uint16(sa.Port))
	default:
		return netip.AddrPort{}
	}
}

// localPort returns the bound local port.
func (s *socket) localPort() uint16 {
	return uint16(s.conn.LocalAddr().(*net.UDPAddr).Port)
}

// fd returns the underlying descriptor for external polling.
func (s *socket) fd() (int, error) {
	raw, err := s.conn.SyscallConn()
	if err != nil {
		return -1, err
	}
	var fd int
	if err := raw.Control(func(f uintptr) { fd = int(f) }); err != nil {
		return -1, err
	}
	return fd, nil
}

// close releases the descriptor.
func (s *socket) close() error {
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("transport: close socket %d: %w", s.sockID, err)
	}
	return nil
}
