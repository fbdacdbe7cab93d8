// SPDX-License-Identifier: GPL-3.0-or-later

package netcore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/rbmk-project/common/mocks"
	"github.com/rbmk-project/ranisim/rani"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestLogger returns a JSON logger writing into buf at debug level
// with the wall clock time removed from the records.
func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelDebug,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.Attr{}
			}
			return a
		},
	}))
}

// parseLogs parses the JSON records written into buf.
func parseLogs(t *testing.T, buf *bytes.Buffer) []map[string]any {
	var records []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var record map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &record))
		records = append(records, record)
	}
	return records
}

func TestConnLocalAddr(t *testing.T) {
	t.Run("nil connection", func(t *testing.T) {
		addr := connLocalAddr(nil)
		assert.Equal(t, "", addr.Network())
		assert.Equal(t, "", addr.String())
	})

	t.Run("nil local address", func(t *testing.T) {
		conn := &mocks.Conn{
			MockLocalAddr: func() net.Addr { return nil },
		}
		addr := connLocalAddr(conn)
		assert.Equal(t, "", addr.String())
	})

	t.Run("valid address", func(t *testing.T) {
		expectedAddr := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 10001}
		conn := &mocks.Conn{
			MockLocalAddr: func() net.Addr { return expectedAddr },
		}
		assert.Equal(t, expectedAddr, connLocalAddr(conn))
	})
}

func TestConnRemoteAddr(t *testing.T) {
	t.Run("nil connection", func(t *testing.T) {
		addr := connRemoteAddr(nil)
		assert.Equal(t, "", addr.Network())
		assert.Equal(t, "", addr.String())
	})

	t.Run("valid address", func(t *testing.T) {
		expectedAddr := &net.TCPAddr{IP: net.ParseIP("10.0.0.7"), Port: 40000}
		conn := &mocks.Conn{
			MockRemoteAddr: func() net.Addr { return expectedAddr },
		}
		assert.Equal(t, expectedAddr, connRemoteAddr(conn))
	})
}

func TestMaybeWrapConn(t *testing.T) {
	t.Run("nil connection", func(t *testing.T) {
		nx := &Network{}
		assert.Nil(t, nx.maybeWrapConn(context.Background(), nil))
	})

	t.Run("no logger configured", func(t *testing.T) {
		nx := &Network{WrapConn: WrapConn}
		conn := &mocks.Conn{}
		assert.Equal(t, conn, nx.maybeWrapConn(context.Background(), conn))
	})

	t.Run("no wrapper configured", func(t *testing.T) {
		nx := &Network{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
		conn := &mocks.Conn{}
		assert.Equal(t, conn, nx.maybeWrapConn(context.Background(), conn))
	})

	t.Run("full wrapping", func(t *testing.T) {
		nx := NewNetwork(slog.New(slog.NewTextHandler(io.Discard, nil)))
		conn := &mocks.Conn{
			MockLocalAddr: func() net.Addr {
				return &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 10002}
			},
			MockRemoteAddr: func() net.Addr {
				return &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 50000}
			},
		}
		wrapped := nx.maybeWrapConn(context.Background(), conn)
		assert.IsType(t, &connWrapper{}, wrapped)
	})
}

func TestConnWrapper(t *testing.T) {
	fixedTime := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	// setup wraps one end of a pipe and returns it along with the other end.
	setup := func(t *testing.T) (*bytes.Buffer, net.Conn, net.Conn) {
		var buf bytes.Buffer
		nx := &Network{
			Logger:  newTestLogger(&buf),
			TimeNow: func() time.Time { return fixedTime },
		}
		left, right := net.Pipe()
		t.Cleanup(func() { right.Close() })
		return &buf, WrapConn(context.Background(), nx, left), right
	}

	t.Run("Read and Write", func(t *testing.T) {
		buf, conn, peer := setup(t)
		defer conn.Close()

		go func() {
			rbuf := make([]byte, 4)
			count, _ := io.ReadFull(peer, rbuf)
			peer.Write(rbuf[:count])
		}()

		count, err := conn.Write([]byte("PING"))
		require.NoError(t, err)
		assert.Equal(t, 4, count)

		rbuf := make([]byte, 256)
		count, err = conn.Read(rbuf)
		require.NoError(t, err)
		assert.Equal(t, "PING", string(rbuf[:count]))

		logs := parseLogs(t, buf)
		require.Len(t, logs, 2)
		assert.Equal(t, map[string]any{
			"level":        "DEBUG",
			"msg":          "writeDone",
			"err":          nil,
			"errClass":     "",
			"ioBufferSize": float64(4),
			"ioBytesCount": float64(4),
			"localAddr":    "pipe",
			"protocol":     "pipe",
			"remoteAddr":   "pipe",
			"t0":           fixedTime.Format(time.RFC3339Nano),
			"t":            fixedTime.Format(time.RFC3339Nano),
		}, logs[0])
		assert.Equal(t, "readDone", logs[1]["msg"])
		assert.Equal(t, float64(256), logs[1]["ioBufferSize"])
		assert.Equal(t, float64(4), logs[1]["ioBytesCount"])
	})

	t.Run("RaNi frame", func(t *testing.T) {
		buf, conn, peer := setup(t)
		defer conn.Close()

		pkt, err := rani.NewPacket(rani.Fields{Src: 1, Dest: 2, TTL: 15}, rani.NewDataPayload([]byte("PING")))
		require.NoError(t, err)
		go io.Copy(io.Discard, peer)

		_, err = conn.Write(pkt.Marshal())
		require.NoError(t, err)

		logs := parseLogs(t, buf)
		require.Len(t, logs, 1)
		assert.Equal(t, pkt.Header().String(), logs[0]["raniHeader"])
	})

	t.Run("read deadline", func(t *testing.T) {
		buf, conn, _ := setup(t)
		defer conn.Close()

		require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Millisecond)))
		_, err := conn.Read(make([]byte, 8))
		assert.True(t, errors.Is(err, os.ErrDeadlineExceeded))

		logs := parseLogs(t, buf)
		require.Len(t, logs, 1)
		assert.Equal(t, "readDone", logs[0]["msg"])
		assert.Equal(t, "ETIMEDOUT", logs[0]["errClass"])
	})

	t.Run("idempotent close", func(t *testing.T) {
		buf, conn, _ := setup(t)

		assert.NoError(t, conn.Close())
		assert.NoError(t, conn.Close())

		logs := parseLogs(t, buf)
		require.Len(t, logs, 1)
		assert.Equal(t, "closeDone", logs[0]["msg"])
	})

	t.Run("close error", func(t *testing.T) {
		var buf bytes.Buffer
		expectedErr := errors.New("mocked close error")
		nx := &Network{Logger: newTestLogger(&buf)}
		conn := WrapConn(context.Background(), nx, &mocks.Conn{
			MockClose:      func() error { return expectedErr },
			MockLocalAddr:  func() net.Addr { return nil },
			MockRemoteAddr: func() net.Addr { return nil },
		})

		assert.ErrorIs(t, conn.Close(), expectedErr)
		logs := parseLogs(t, &buf)
		require.Len(t, logs, 1)
		assert.Equal(t, expectedErr.Error(), logs[0]["err"])
		assert.Equal(t, "EGENERIC", logs[0]["errClass"])
	})
}
