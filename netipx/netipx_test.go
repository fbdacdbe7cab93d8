// SPDX-License-Identifier: GPL-3.0-or-later

package netipx_test

import (
	"net"
	"net/netip"
	"testing"

	"github.com/rbmk-project/common/mocks"
	"github.com/rbmk-project/ranisim/netipx"
	"github.com/stretchr/testify/assert"
)

func TestAddrToAddrPort(t *testing.T) {
	tests := []struct {
		name string
		addr net.Addr
		want netip.AddrPort
	}{
		{
			name: "nil address",
			addr: nil,
			want: netip.AddrPortFrom(netip.IPv6Unspecified(), 0),
		},

		{
			name: "TCP address",
			addr: &net.TCPAddr{
				IP:   net.ParseIP("2001:db8::1"),
				Port: 1234,
			},
			want: netip.MustParseAddrPort("[2001:db8::1]:1234"),
		},

		{
			name: "IPv4 TCP address in 16-byte form",
			addr: &net.TCPAddr{
				IP:   net.ParseIP("10.0.0.1"),
				Port: 10002,
			},
			want: netip.MustParseAddrPort("10.0.0.1:10002"),
		},

		{
			name: "UDP address",
			addr: &net.UDPAddr{
				IP:   net.ParseIP("2001:db8::2"),
				Port: 5678,
			},
			want: netip.MustParseAddrPort("[2001:db8::2]:5678"),
		},

		{
			name: "other address type",
			addr: &net.UnixAddr{},
			want: netip.AddrPortFrom(netip.IPv6Unspecified(), 0),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := netipx.AddrToAddrPort(tt.addr)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRemoteAddr(t *testing.T) {
	t.Run("nil conn", func(t *testing.T) {
		assert.Equal(t, netip.IPv6Unspecified(), netipx.RemoteAddr(nil))
	})

	t.Run("links from the same router share the identity", func(t *testing.T) {
		newConn := func(port int) net.Conn {
			return &mocks.Conn{
				MockRemoteAddr: func() net.Addr {
					return &net.TCPAddr{IP: net.ParseIP("192.168.1.7"), Port: port}
				},
			}
		}
		first := netipx.RemoteAddr(newConn(40001))
		second := netipx.RemoteAddr(newConn(40002))
		assert.Equal(t, netip.MustParseAddr("192.168.1.7"), first)
		assert.Equal(t, first, second)
	})
}
