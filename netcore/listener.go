//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Link port listener.
//

package netcore

import (
	"context"
	"log/slog"
	"net"
)

// Listen creates a listener for the given network and address.
//
// Every accepted conn is wrapped to emit structured logs using
// the [*Network] configuration. The context is only used for
// creating the listener and for logging.
func (nx *Network) Listen(ctx context.Context, network, address string) (net.Listener, error) {
	listener, err := nx.listenNet(ctx, network, address)
	nx.emit(ctx, "listenDone",
		slog.Any("err", err),
		slog.String("localAddr", address),
		slog.String("protocol", network),
		slog.Time("t", nx.timeNow()),
	)
	if err != nil {
		return nil, err
	}
	return &listenerWrapper{ctx: ctx, listener: listener, netx: nx}, nil
}

func (nx *Network) listenNet(ctx context.Context, network, address string) (net.Listener, error) {
	if nx.ListenFunc != nil {
		return nx.ListenFunc(ctx, network, address)
	}
	lc := &net.ListenConfig{}
	lc.SetMultipathTCP(false)
	return lc.Listen(ctx, network, address)
}

// listenerWrapper wraps a [net.Listener].
type listenerWrapper struct {
	ctx      context.Context // only used for logging
	listener net.Listener
	netx     *Network
}

// Accept implements [net.Listener].
func (lw *listenerWrapper) Accept() (net.Conn, error) {
	conn, err := lw.listener.Accept()
	if err != nil {
		return nil, err
	}
	lw.netx.emit(lw.ctx, "acceptDone",
		slog.String("localAddr", connLocalAddr(conn).String()),
		slog.String("protocol", connLocalAddr(conn).Network()),
		slog.String("remoteAddr", connRemoteAddr(conn).String()),
		slog.Time("t", lw.netx.timeNow()),
	)
	return lw.netx.maybeWrapConn(lw.ctx, conn), nil
}

// Addr implements [net.Listener].
func (lw *listenerWrapper) Addr() net.Addr {
	return lw.listener.Addr()
}

// Close implements [net.Listener].
func (lw *listenerWrapper) Close() error {
	return lw.listener.Close()
}
