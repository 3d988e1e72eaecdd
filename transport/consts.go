package transport

// Timing constants, in milliseconds on the transport clock.
const (
	// MinRTO and MaxRTO bound the retransmission timeout reported to
	// the upper layer, whatever the RTT estimator says.
	MinRTO uint64 = 50
	MaxRTO uint64 = 1000

	// ServerAssociationTimeout is how long a server keeps sending to a
	// silent client before detaching from it.
	ServerAssociationTimeout uint64 = 40000

	// PortHopInterval is the minimum quiet period (no port choice, no
	// round-trip success) before a client opens a new source port.
	PortHopInterval uint64 = 10000

	// MaxOldSocketAge is how long superseded sockets are kept after a
	// port hop, so that datagrams in flight to the old ports still
	// arrive.
	MaxOldSocketAge uint64 = 60000

	// CongestionTimestampPenalty is subtracted from the echoed
	// timestamp when a datagram arrives with the CE codepoint, which
	// inflates the peer's next RTT sample and slows it down.
	CongestionTimestampPenalty uint16 = 500

	// savedTimestampWindow is how long a received timestamp stays
	// eligible for echoing. Older samples would corrupt the peer's RTT
	// estimate and are discarded.
	savedTimestampWindow uint64 = 1000

	// rttSampleCeiling discards implausible RTT samples, e.g. after the
	// process was suspended with a timestamp in flight.
	rttSampleCeiling = 5000
)

const (
	// MaxPortsOpen caps the number of simultaneously open sockets.
	MaxPortsOpen = 10

	// PortRangeLow and PortRangeHigh are the default server bind search
	// range when no port was requested.
	PortRangeLow  uint16 = 60001
	PortRangeHigh uint16 = 60999

	// DefaultSendMTU is the initial payload budget for outgoing
	// datagrams. Mobile networks have high tunneling overhead, so this
	// stays well under the Ethernet-derived MTU.
	DefaultSendMTU = 1300

	// FallbackSendMTU is the payload budget after the kernel rejects a
	// datagram with EMSGSIZE.
	FallbackSendMTU = 500
)

// Family-derived datagram budgets. DefaultSendMTU supersedes these for
// the send path; they record the per-family arithmetic for anyone
// revisiting the budget.
const (
	// IPv4HeaderLen is the typical minimum IPv4 header plus UDP;
	// fragmentation on IPv4 is inefficient but not dangerous.
	IPv4HeaderLen = 20 + 8

	// IPv6HeaderLen is the base IPv6 header, two minimum-sized
	// extension headers and UDP, a conservative guess since IPv6 must
	// never fragment.
	IPv6HeaderLen = 40 + 16 + 8

	// DefaultIPv4MTU and DefaultIPv6MTU are the path MTU guesses the
	// budgets derive from: the guaranteed IPv6 minimum, also used for
	// IPv4 because tunneled mobile links drop larger datagrams.
	DefaultIPv4MTU = 1280
	DefaultIPv6MTU = 1280

	// IPv4SendMTU and IPv6SendMTU are the resulting payload budgets.
	IPv4SendMTU = DefaultIPv4MTU - IPv4HeaderLen
	IPv6SendMTU = DefaultIPv6MTU - IPv6HeaderLen
)

// tsNone is the reserved "no timestamp" sentinel for the 16-bit
// timestamp fields.
const tsNone uint16 = 0xFFFF
