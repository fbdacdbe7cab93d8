//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: https://github.com/ooni/probe-cli/blob/v3.20.1/internal/measurexlite/conn.go
//
// Conn wrapper.
//

package netcore

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/rbmk-project/ranisim/errclass"
	"github.com/rbmk-project/ranisim/rani"
)

// connLocalAddr is a safe way to get the local address of a connection.
func connLocalAddr(conn net.Conn) net.Addr {
	if conn != nil && conn.LocalAddr() != nil {
		return conn.LocalAddr()
	}
	return emptyAddr{}
}

// connRemoteAddr is a safe way to get the remote address of a connection.
func connRemoteAddr(conn net.Conn) net.Addr {
	if conn != nil && conn.RemoteAddr() != nil {
		return conn.RemoteAddr()
	}
	return emptyAddr{}
}

// emptyAddr is an empty [net.Addr].
type emptyAddr struct{}

// Network implements [net.Addr].
func (emptyAddr) Network() string { return "" }

// String implements [net.Addr].
func (emptyAddr) String() string { return "" }

// maybeWrapConn wraps a connection when it makes sense to do so.
func (nx *Network) maybeWrapConn(ctx context.Context, conn net.Conn) net.Conn {
	if conn != nil && nx.Logger != nil && nx.WrapConn != nil {
		conn = nx.WrapConn(ctx, nx, conn)
	}
	return conn
}

// WrapConn wraps a given [net.Conn] to emit structured logs.
//
// Each read and write emits an event carrying the I/O counters and,
// when the buffer starts with a well-formed RaNi header, its summary
// as the raniHeader attribute.
func WrapConn(ctx context.Context, netx *Network, conn net.Conn) net.Conn {
	laddr := connLocalAddr(conn)
	return &connWrapper{
		Conn:     conn,
		ctx:      ctx,
		endpoint: []slog.Attr{
			slog.String("localAddr", laddr.String()),
			slog.String("protocol", laddr.Network()),
			slog.String("remoteAddr", connRemoteAddr(conn).String()),
		},
		netx: netx,
	}
}

// connWrapper wraps a [net.Conn] and logs its I/O.
type connWrapper struct {
	net.Conn

	// ctx is only used for logging.
	ctx context.Context

	// closeonce ensures we log a single closeDone event.
	closeonce sync.Once

	// endpoint contains the attributes identifying the conn.
	endpoint []slog.Attr

	// netx may contain a nil logger.
	netx *Network
}

// emitDone emits the event concluding an operation started at t0.
func (c *connWrapper) emitDone(msg string, t0 time.Time, err error, extra ...slog.Attr) {
	attrs := make([]slog.Attr, 0, len(extra)+len(c.endpoint)+4)
	attrs = append(attrs, extra...)
	attrs = append(attrs,
		slog.Any("err", err),
		slog.String("errClass", errclass.New(err)),
	)
	attrs = append(attrs, c.endpoint...)
	attrs = append(attrs, slog.Time("t0", t0), slog.Time("t", c.netx.timeNow()))
	c.netx.emit(c.ctx, msg, attrs...)
}

// ioAttrs returns the attributes describing a read or write of count
// bytes using the given buffer.
func ioAttrs(buf []byte, count int) []slog.Attr {
	attrs := []slog.Attr{
		slog.Int("ioBufferSize", len(buf)),
		slog.Int("ioBytesCount", count),
	}
	if count >= rani.HeaderSize {
		if header, _, err := rani.DecodeHeader(buf[:count]); err == nil {
			attrs = append(attrs, slog.String("raniHeader", header.String()))
		}
	}
	return attrs
}

// Close implements [net.Conn].
func (c *connWrapper) Close() (err error) {
	c.closeonce.Do(func() {
		t0 := c.netx.timeNow()
		err = c.Conn.Close()
		c.emitDone("closeDone", t0, err)
	})
	return
}

// Read implements [net.Conn].
func (c *connWrapper) Read(buf []byte) (int, error) {
	t0 := c.netx.timeNow()
	count, err := c.Conn.Read(buf)
	c.emitDone("readDone", t0, err, ioAttrs(buf, count)...)
	return count, err
}

// Write implements [net.Conn].
func (c *connWrapper) Write(data []byte) (int, error) {
	t0 := c.netx.timeNow()
	count, err := c.Conn.Write(data)
	c.emitDone("writeDone", t0, err, ioAttrs(data, count)...)
	return count, err
}
