//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: https://github.com/ooni/probe-cli/blob/v3.20.1/internal/netxlite/dialer.go
//
// Link conn dialer.
//

package netcore

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
)

// DialContext establishes a new TCP connection with an IP literal endpoint.
//
// Links are addressed by IP and port, hence we refuse to resolve
// domain names and fail when the host is not an IP address.
func (nx *Network) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if _, err := netip.ParseAddrPort(address); err != nil {
		return nil, fmt.Errorf("netcore: expected IP literal endpoint: %w", err)
	}

	t0 := nx.timeNow()
	nx.emit(ctx, "connectStart",
		slog.String("protocol", network),
		slog.String("remoteAddr", address),
		slog.Time("t", t0),
	)

	conn, err := nx.dialNet(ctx, network, address)

	nx.emit(ctx, "connectDone",
		slog.Any("err", err),
		slog.String("localAddr", connLocalAddr(conn).String()),
		slog.String("protocol", network),
		slog.String("remoteAddr", address),
		slog.Time("t0", t0),
		slog.Time("t", nx.timeNow()),
	)
	if err != nil {
		return nil, err
	}
	return nx.maybeWrapConn(ctx, conn), nil
}

func (nx *Network) dialNet(ctx context.Context, network, address string) (net.Conn, error) {
	// if there's an user provided dialer func, use it
	if nx.DialContextFunc != nil {
		return nx.DialContextFunc(ctx, network, address)
	}

	// otherwise use the net package
	child := &net.Dialer{}
	child.SetMultipathTCP(false)
	return child.DialContext(ctx, network, address)
}
