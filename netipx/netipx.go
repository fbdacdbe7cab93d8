// SPDX-License-Identifier: GPL-3.0-or-later

// Package netipx contains [net/netip] extensions used to identify
// remote routers and links.
package netipx

import (
	"net"
	"net/netip"
)

// AddrToAddrPort converts a [net.Addr] to a [netip.AddrPort].
//
// If the input is nil or neither a [*net.TCPAddr] nor [*net.UDPAddr],
// returns an unspecified IPv6 address with port 0.
//
// IPv4-mapped IPv6 addresses are unmapped, such that a router
// connecting over IPv4 always has the same identity.
func AddrToAddrPort(addr net.Addr) netip.AddrPort {
	var ap netip.AddrPort
	switch v := addr.(type) {
	case *net.TCPAddr:
		ap = v.AddrPort()
	case *net.UDPAddr:
		ap = v.AddrPort()
	default:
		return netip.AddrPortFrom(netip.IPv6Unspecified(), 0)
	}
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}

// RemoteAddr returns the remote IP address of conn, which is the
// identity we use to group the links of a router.
func RemoteAddr(conn net.Conn) netip.Addr {
	if conn == nil {
		return netip.IPv6Unspecified()
	}
	return AddrToAddrPort(conn.RemoteAddr()).Addr()
}
