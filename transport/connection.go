// Package transport implements the roaming datagram transport that
// carries authenticated, encrypted application messages over UDP between
// one client and one server.
//
// The transport survives client address changes, NAT rebinding and short
// outages: the server re-learns the peer address from every valid
// datagram, and the client periodically hops to a fresh source port to
// defeat stateful middleboxes. It provides replay protection for
// state-mutating effects, RTT estimation from echoed timestamps, an ECN
// congestion hint, and in-band liveness probes. Delivery is neither
// ordered nor reliable; the layer above is expected to be idempotent.
package transport

import (
	"errors"
	"fmt"
	"math"
	"net"
	"net/netip"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/vibing/driftlink/crypt"
)

// Connection is one end of the transport: a FIFO of bound sockets, the
// current peer address, and the send/receive state machine.
//
// A Connection is owned by a single goroutine. Only the terminal read on
// the newest socket blocks; everything else is syscall-bounded.
type Connection struct {
	// socks holds the bound endpoints, oldest first. sendSock points at
	// the endpoint used for outbound traffic; nil when a server has
	// lost its client.
	socks      []*socket
	nextSockID uint16
	sendSock   *socket

	remoteAddr    netip.AddrPort
	hasRemoteAddr bool

	server bool
	dir    direction

	key     crypt.Key
	session *crypt.Session

	// nextSeq allocates outgoing sequences for every socket. One
	// counter for the whole connection: sequences double as AEAD
	// nonces, and a per-socket counter restarting at zero would reuse a
	// nonce the moment a second socket opens.
	nextSeq uint64

	// expectedReceiverSeq maps a peer socket id to the next sequence
	// accepted for state updates. Anything below it is delivered but
	// changes nothing: a replayed datagram must not perturb the
	// timestamp echo or the learned peer address.
	expectedReceiverSeq map[uint16]uint64

	lastHeard            uint64
	lastPortChoice       uint64
	lastRoundtripSuccess uint64

	// sendErr records the most recent send failure for the frontend;
	// sends themselves never fail loudly.
	sendErr error

	logger *zap.Logger
}

// Server creates the server end of a connection: it generates a fresh
// session key and binds one socket on desiredIP within the requested
// port spec ("port" or "low:high"; empty means the default search range).
// If binding on desiredIP fails the bind is retried on the unspecified
// address; a second failure is fatal.
func Server(desiredIP, desiredPortSpec string, logger *zap.Logger) (*Connection, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	key, err := crypt.GenerateKey()
	if err != nil {
		return nil, err
	}
	session, err := crypt.NewSession(key)
	if err != nil {
		return nil, err
	}

	low, high := PortRangeLow, PortRangeHigh
	if desiredPortSpec != "" {
		if low, high, err = ParsePortRange(desiredPortSpec); err != nil {
			return nil, err
		}
	}

	c := &Connection{
		server:              true,
		dir:                 toClient,
		key:                 key,
		session:             session,
		expectedReceiverSeq: make(map[uint16]uint64),
		lastPortChoice:      NowMS(),
		logger:              logger,
	}

	if err := c.tryBind(desiredIP, low, high); err != nil {
		logger.Warn("bind on requested address failed, retrying on any",
			zap.String("addr", desiredIP), zap.Error(err))
		if err := c.tryBind("", low, high); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Client creates the client end of a connection from the server's
// textual key and numeric address. The socket is bound but never
// connected: datagrams carry the destination explicitly so the same
// socket can keep servicing the peer after either side's address
// changes.
func Client(keyStr, ip, portStr string, logger *zap.Logger) (*Connection, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	key, err := crypt.ParseKey(keyStr)
	if err != nil {
		return nil, err
	}
	session, err := crypt.NewSession(key)
	if err != nil {
		return nil, err
	}

	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, ip)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil, fmt.Errorf("%w: port %q", ErrInvalidAddress, portStr)
	}
	remote := netip.AddrPortFrom(addr.Unmap(), uint16(port))

	c := &Connection{
		server:              false,
		dir:                 toServer,
		key:                 key,
		session:             session,
		expectedReceiverSeq: make(map[uint16]uint64),
		remoteAddr:          remote,
		hasRemoteAddr:       true,
		lastPortChoice:      NowMS(),
		logger:              logger,
	}

	sock, err := newSocket(c.remoteNetwork(), "", c.nextSockID, logger)
	if err != nil {
		return nil, err
	}
	c.nextSockID++
	c.socks = append(c.socks, sock)
	c.sendSock = sock
	return c, nil
}

// tryBind binds one socket on the first free port in [low, high]. The
// last bind error is surfaced when the whole range is exhausted.
func (c *Connection) tryBind(ip string, low, high uint16) error {
	network := "udp"
	if ip != "" {
		addr, err := netip.ParseAddr(ip)
		if err != nil {
			return fmt.Errorf("%w: %q", ErrInvalidAddress, ip)
		}
		if addr.Unmap().Is4() {
			network = "udp4"
		} else {
			network = "udp6"
		}
	}

	var lastErr error
	for port := int(low); port <= int(high); port++ {
		laddr := net.JoinHostPort(ip, strconv.Itoa(port))
		sock, err := newSocket(network, laddr, c.nextSockID, c.logger)
		if err != nil {
			lastErr = err
			continue
		}
		c.nextSockID++
		c.socks = append(c.socks, sock)
		return nil
	}
	return fmt.Errorf("%w: %v", ErrBindFailed, lastErr)
}

// remoteNetwork returns the UDP network matching the peer's family.
func (c *Connection) remoteNetwork() string {
	if c.remoteAddr.Addr().Unmap().Is4() {
		return "udp4"
	}
	return "udp6"
}

// newPacket builds an outgoing packet on the given socket, assigning the
// next sequence and computing the timestamp echo. A saved peer timestamp
// is echoed advanced by the dwell time we held it, and the slot is
// cleared so the same sample is never echoed twice.
func (c *Connection) newPacket(sock *socket, flags uint16, payload []byte) *packet {
	now := NowMS()

	reply := tsNone
	if sock.savedTimestamp != tsNone && now-sock.savedTimestampAt < savedTimestampWindow {
		reply = sock.savedTimestamp + uint16(now-sock.savedTimestampAt)
		sock.savedTimestamp = tsNone
		sock.savedTimestampAt = 0
	}

	p := &packet{
		seq:            c.nextSeq,
		dir:            c.dir,
		timestamp:      timestamp16(),
		timestampReply: reply,
		sockID:         sock.sockID,
		flags:          flags,
		payload:        payload,
	}
	c.nextSeq++
	return p
}

// Send transmits one payload to the peer on the active socket. It is a
// no-op when the connection is detached. Failures are recorded for
// SendError rather than returned; EMSGSIZE additionally lowers the
// sending socket's MTU. After the send the association and port-hop
// timers run.
func (c *Connection) Send(payload []byte) {
	if c.sendSock == nil || !c.hasRemoteAddr {
		return
	}

	sock := c.sendSock
	ciphertext := c.newPacket(sock, 0, payload).seal(c.session)

	n, err := sock.conn.WriteToUDPAddrPort(ciphertext, c.remoteAddr)
	if err != nil {
		c.sendErr = fmt.Errorf("transport: send: %w", err)
		if errors.Is(err, unix.EMSGSIZE) {
			sock.mtu = FallbackSendMTU
		}
	} else if n != len(ciphertext) {
		c.sendErr = fmt.Errorf("transport: send: short write (%d of %d bytes)", n, len(ciphertext))
	}

	now := NowMS()
	if c.server {
		if now-c.lastHeard > ServerAssociationTimeout {
			c.logger.Warn("server detached from silent client",
				zap.Stringer("client", c.remoteAddr))
			c.sendSock = nil
			c.hasRemoteAddr = false
		}
	} else if now-c.lastPortChoice > PortHopInterval &&
		now-c.lastRoundtripSuccess > PortHopInterval {
		c.hopPort()
	}
}

// Recv returns the next payload from the peer. Sockets are polled oldest
// to newest; only the read on the newest socket blocks. Out-of-order and
// duplicate payloads are still delivered: replay protection guards
// state updates, not delivery, because the layer above is idempotent.
//
// Datagrams that fail authentication, parsing or the direction check
// surface as errors; callers should drop them and call Recv again.
func (c *Connection) Recv() ([]byte, error) {
	if len(c.socks) == 0 {
		return nil, ErrNoSockets
	}

	for i, sock := range c.socks {
		last := i == len(c.socks)-1
		payload, err := c.recvOne(sock, !last)
		if err != nil {
			if errors.Is(err, errWouldBlock) && !last {
				continue
			}
			return nil, err
		}
		c.pruneSockets()
		return payload, nil
	}
	return nil, errWouldBlock
}

// recvOne reads one datagram from the socket. A non-blocking read that
// finds nothing returns errWouldBlock.
func (c *Connection) recvOne(sock *socket, nonblocking bool) ([]byte, error) {
	buf := make([]byte, crypt.ReceiveMTU)
	oob := make([]byte, 128)

	var (
		n, oobn, flags int
		raddr          netip.AddrPort
		err            error
	)
	if nonblocking {
		n, oobn, flags, raddr, err = sock.recvNonblock(buf, oob)
	} else {
		sock.conn.SetReadDeadline(time.Time{})
		n, oobn, flags, raddr, err = sock.conn.ReadMsgUDPAddrPort(buf, oob)
	}
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
			return nil, errWouldBlock
		}
		return nil, fmt.Errorf("transport: receive: %w", err)
	}
	if datagramTruncated(flags) {
		return nil, ErrOversize
	}

	congestion := congestionExperienced(oob[:oobn])

	p, err := parsePacket(c.session, buf[:n])
	if err != nil {
		return nil, err
	}

	// A packet carrying our own direction bit is a replay of our own
	// traffic, possibly malicious.
	if p.dir == c.dir {
		return nil, ErrDirectionViolation
	}

	from := netip.AddrPortFrom(raddr.Addr().Unmap(), raddr.Port())
	return c.processPacket(sock, p, from, congestion), nil
}

// processPacket applies a decoded packet to the connection state and
// returns its payload.
//
// The replay gate comes first: a sequence below the per-socket watermark
// is delivered untouched, because letting it update state would allow a
// captured datagram to reset the timestamp echo or redirect the server's
// replies.
func (c *Connection) processPacket(sock *socket, p *packet, from netip.AddrPort, congestion bool) []byte {
	if p.seq < c.expectedReceiverSeq[p.sockID] {
		return p.payload
	}
	c.expectedReceiverSeq[p.sockID] = p.seq + 1

	now := NowMS()

	if p.timestamp != tsNone {
		sock.savedTimestamp = p.timestamp
		sock.savedTimestampAt = now
		if congestion {
			// Make the eventual echo look stale: the peer's next RTT
			// sample comes back inflated by the penalty, which pushes
			// it down to its minimum frame rate.
			sock.savedTimestamp -= CongestionTimestampPenalty
			c.logger.Debug("congestion experienced", zap.Stringer("from", from))
		}
	}

	if p.timestampReply != tsNone {
		r := float64(timestampDiff(timestamp16(), p.timestampReply))
		if r < rttSampleCeiling {
			if !sock.rttHit {
				sock.srtt = r
				sock.rttvar = r / 2
				sock.rttHit = true
			} else {
				const alpha = 1.0 / 8.0
				const beta = 1.0 / 4.0
				sock.rttvar = (1-beta)*sock.rttvar + beta*math.Abs(sock.srtt-r)
				sock.srtt = (1-alpha)*sock.srtt + alpha*r
			}
		}
	}

	c.lastHeard = now

	if p.isProbe() {
		// Answer the heartbeat on the socket it arrived on, straight to
		// the observed source, so the client can measure the path. A
		// probe stops here: it may come from a non-active path kept
		// warm for NAT purposes, and must never re-target the reply
		// path the way real data does.
		if c.server {
			reply := c.newPacket(sock, flagProbe, nil).seal(c.session)
			if _, err := sock.conn.WriteToUDPAddrPort(reply, from); err != nil {
				c.logger.Debug("probe reply failed", zap.Stringer("to", from), zap.Error(err))
			}
		}
		return p.payload
	}

	if c.server {
		// The socket this datagram arrived on becomes the reply path,
		// and the observed source becomes the peer: this is how the
		// server follows a roaming client.
		c.sendSock = sock
		if !c.hasRemoteAddr || from != c.remoteAddr {
			old := c.remoteAddr
			c.remoteAddr = from
			c.hasRemoteAddr = true
			c.logger.Info("server attached to client",
				zap.Stringer("client", from), zap.Stringer("previous", old))
		}
	}

	return p.payload
}

// hopPort opens a fresh socket toward the peer and makes it the active
// send path. The old sockets stay in the FIFO until pruned so datagrams
// in flight to them still arrive.
func (c *Connection) hopPort() {
	c.lastPortChoice = NowMS()

	sock, err := newSocket(c.remoteNetwork(), "", c.nextSockID, c.logger)
	if err != nil {
		c.logger.Warn("port hop failed", zap.Error(err))
		return
	}
	c.nextSockID++
	c.socks = append(c.socks, sock)
	c.sendSock = sock
	c.logger.Debug("hopped to new port", zap.Uint16("port", sock.localPort()))

	c.pruneSockets()
}

// pruneSockets drops superseded sockets: everything but the newest once
// the newest has been the choice for MaxOldSocketAge, and the oldest
// beyond the MaxPortsOpen cap.
func (c *Connection) pruneSockets() {
	if len(c.socks) > 1 && NowMS()-c.lastPortChoice > MaxOldSocketAge {
		c.dropOldest(len(c.socks) - 1)
	}
	if len(c.socks) > MaxPortsOpen {
		c.dropOldest(len(c.socks) - MaxPortsOpen)
	}
}

func (c *Connection) dropOldest(n int) {
	for _, sock := range c.socks[:n] {
		if sock == c.sendSock {
			c.sendSock = nil
		}
		if err := sock.close(); err != nil {
			c.logger.Warn("failed to close pruned socket", zap.Error(err))
		}
	}
	c.socks = append(c.socks[:0], c.socks[n:]...)
}

// SendProbes emits a heartbeat from every socket that is not the active
// send path. Probes keep NAT bindings on alternate paths fresh and give
// their RTT estimators samples. Transmission is best-effort with no
// aggregate status.
func (c *Connection) SendProbes() {
	if !c.hasRemoteAddr {
		return
	}
	for _, sock := range c.socks {
		if sock == c.sendSock {
			continue
		}
		probe := c.newPacket(sock, flagProbe, nil).seal(c.session)
		if _, err := sock.conn.WriteToUDPAddrPort(probe, c.remoteAddr); err != nil {
			c.logger.Debug("probe failed", zap.Uint16("sock", sock.sockID), zap.Error(err))
		}
	}
}

// activeSocket is the endpoint whose path state answers the RTT and MTU
// queries: the send socket, or the newest one while detached.
func (c *Connection) activeSocket() *socket {
	if c.sendSock != nil {
		return c.sendSock
	}
	return c.socks[len(c.socks)-1]
}

// Timeout returns the retransmission timeout in milliseconds that the
// layer above should wait before resending: ceil(srtt + 4·rttvar),
// clamped to [MinRTO, MaxRTO].
func (c *Connection) Timeout() uint64 {
	sock := c.activeSocket()
	rto := uint64(math.Ceil(sock.srtt + 4*sock.rttvar))
	if rto < MinRTO {
		rto = MinRTO
	}
	if rto > MaxRTO {
		rto = MaxRTO
	}
	return rto
}

// GetSRTT returns the smoothed round-trip time estimate in milliseconds.
func (c *Connection) GetSRTT() float64 {
	return c.activeSocket().srtt
}

// GetMTU returns the current send payload budget.
func (c *Connection) GetMTU() int {
	return c.activeSocket().mtu
}

// Port returns the local port of the newest socket as a string.
func (c *Connection) Port() string {
	return strconv.Itoa(int(c.socks[len(c.socks)-1].localPort()))
}

// Key returns the session key in its textual form.
func (c *Connection) Key() string {
	return c.key.String()
}

// RemoteAddr returns the current peer address.
func (c *Connection) RemoteAddr() netip.AddrPort {
	return c.remoteAddr
}

// HasRemoteAddr reports whether the connection currently has a peer.
func (c *Connection) HasRemoteAddr() bool {
	return c.hasRemoteAddr
}

// SendError returns the most recent recorded send failure, nil if sends
// have been clean.
func (c *Connection) SendError() error {
	return c.sendErr
}

// SetLastRoundtripSuccess records, on the transport clock, the last time
// the layer above saw its own data acknowledged. It gates port hopping:
// a client that is hearing from the server has no reason to move.
func (c *Connection) SetLastRoundtripSuccess(ms uint64) {
	c.lastRoundtripSuccess = ms
}

// Fds returns the raw descriptors of all sockets, oldest first, for
// external poll loops.
func (c *Connection) Fds() []int {
	fds := make([]int, 0, len(c.socks))
	for _, sock := range c.socks {
		fd, err := sock.fd()
		if err != nil {
			c.logger.Warn("failed to read socket descriptor", zap.Error(err))
			continue
		}
		fds = append(fds, fd)
	}
	return fds
}

// Conns returns the underlying UDP sockets, oldest first, for callers
// that multiplex with Go-native readiness instead of raw descriptors.
func (c *Connection) Conns() []*net.UDPConn {
	conns := make([]*net.UDPConn, len(c.socks))
	for i, sock := range c.socks {
		conns[i] = sock.conn
	}
	return conns
}

// Close releases every socket. The first close failure is returned after
// all sockets have been attempted.
func (c *Connection) Close() error {
	var firstErr error
	for _, sock := range c.socks {
		if err := sock.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.socks = nil
	c.sendSock = nil
	return firstErr
}
