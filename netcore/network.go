//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Definition of Network.
//

package netcore

import (
	"context"
	"log/slog"
	"net"
	"time"
)

// Network allows listening for and dialing link connections.
//
// The zero value is ready to use.
//
// A [*Network] is safe for concurrent use by multiple goroutines as long as
// you don't modify its fields after construction and the underlying fields you
// may set (e.g., DialContextFunc) are also safe.
type Network struct {
	// DialContextFunc is the optional dialer for creating new
	// TCP connections. If this field is nil, we use a [*net.Dialer]
	// with Multipath TCP disabled.
	DialContextFunc func(ctx context.Context, network, address string) (net.Conn, error)

	// ListenFunc is the optional function for creating listeners. If
	// this field is nil, we use a zero-initialized [*net.ListenConfig].
	ListenFunc func(ctx context.Context, network, address string) (net.Listener, error)

	// Logger is the optional structured logger for emitting
	// structured diagnostic events. If this field is nil, we
	// will not be emitting structured logs.
	Logger *slog.Logger

	// TimeNow is an optional function that returns the current time.
	// If this field is nil, the [time.Now] function will be used.
	TimeNow func() time.Time

	// WrapConn is an optional function to wrap a connection to emit
	// structured logs. [WrapConn] is the default wrapper to use.
	WrapConn func(ctx context.Context, netx *Network, conn net.Conn) net.Conn
}

// NewNetwork creates a [*Network] that logs using the given
// logger and wraps connections using [WrapConn].
func NewNetwork(logger *slog.Logger) *Network {
	return &Network{Logger: logger, WrapConn: WrapConn}
}

// timeNow is a function that returns the current time.
func (nx *Network) timeNow() time.Time {
	if nx.TimeNow != nil {
		return nx.TimeNow()
	}
	return time.Now()
}

// emit emits a debug event if we have a logger.
func (nx *Network) emit(ctx context.Context, msg string, attrs ...slog.Attr) {
	if nx.Logger != nil {
		nx.Logger.LogAttrs(ctx, slog.LevelDebug, msg, attrs...)
	}
}
