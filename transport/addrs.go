package transport

import (
	"net"
	"net/netip"
)

// HostAddresses returns the current set of local unicast IPv4 and IPv6
// addresses. It is a read-only observation for diagnostics; the
// connection never uses it to refill sockets.
func HostAddresses() ([]netip.Addr, error) {
	ifaddrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, err
	}

	addrs := make([]netip.Addr, 0, len(ifaddrs))
	for _, ifaddr := range ifaddrs {
		ipnet, ok := ifaddr.(*net.IPNet)
		if !ok {
			continue
		}
		addr, ok := netip.AddrFromSlice(ipnet.IP)
		if !ok {
			continue
		}
		addrs = append(addrs, addr.Unmap())
	}
	return addrs, nil
}
