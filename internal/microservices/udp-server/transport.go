package udp

import (
	"net"
	"net/netip"
	"time"
)

// Transport is the datagram socket the server runs on. *net.UDPConn satisfies it and is
// safe for concurrent reads and writes.
type Transport interface {
	ReadFromUDPAddrPort(b []byte) (int, netip.AddrPort, error)
	WriteToUDPAddrPort(b []byte, addr netip.AddrPort) (int, error)
	SetReadDeadline(t time.Time) error
	LocalAddr() net.Addr
	Close() error
}

var _ Transport = (*net.UDPConn)(nil)

// normalizeAddr unmaps IPv4-mapped IPv6 addresses so a client reaching a dual-stack socket
// has one identity.
func normalizeAddr(addr netip.AddrPort) netip.AddrPort {
	return netip.AddrPortFrom(addr.Addr().Unmap(), addr.Port())
}
